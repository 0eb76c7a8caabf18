package runtime

import (
	"errors"
	"strings"
)

// ErrConflict reports an optimistic-concurrency conflict on a write.
var ErrConflict = errors.New("runtime: version conflict")

// IsConflict classifies err as a retryable concurrency conflict. Remote
// runtimes that only report text are matched on their wording.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConflict) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "version") || strings.Contains(msg, "conflict")
}
