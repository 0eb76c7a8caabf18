package schema

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile reads and structurally decodes a quest/v1 YAML document.
// Returns a structural error if the YAML contains unknown fields.
func LoadFile(path string) (*Quest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open quest: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load reads a quest/v1 document from a reader.
func Load(r io.Reader) (*Quest, error) {
	var q Quest
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true) // strict: reject unknown fields
	if err := dec.Decode(&q); err != nil {
		return nil, fmt.Errorf("structural decode: %w", err)
	}
	return &q, nil
}
