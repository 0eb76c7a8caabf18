package trace

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// VerifyResult is the outcome of verifying a trace's hash chain.
type VerifyResult struct {
	EventCount int
	Valid      bool
	BrokenAt   int // 1-based event number, -1 if no break
	Error      string
}

// VerifyFile verifies the hash chain of a trace file.
func VerifyFile(path string) (*VerifyResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	defer f.Close()
	return Verify(f)
}

// Verify checks that every event's prev_hash matches the line before it.
func Verify(r io.Reader) (*VerifyResult, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	expected := genesisHash
	count := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		count++

		var evt Event
		if err := json.Unmarshal(line, &evt); err != nil {
			return broken(count, "event %d: invalid JSON: %v", count, err), nil
		}
		if evt.PrevHash != expected {
			return broken(count, "event %d: prev_hash mismatch (expected %s, got %s)", count, short(expected), short(evt.PrevHash)), nil
		}
		expected = hashLine(line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}
	return &VerifyResult{EventCount: count, Valid: true, BrokenAt: -1}, nil
}

func broken(at int, format string, args ...any) *VerifyResult {
	return &VerifyResult{EventCount: at, BrokenAt: at, Error: fmt.Sprintf(format, args...)}
}

func short(h string) string {
	if len(h) > 16 {
		return h[:16] + "..."
	}
	return h
}
