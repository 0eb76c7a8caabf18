package schema

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// GenerateQuestJSONSchema produces a JSON Schema Draft 2020-12 document
// from the quest/v1 Go types.
func GenerateQuestJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	s := r.Reflect(&Quest{})
	s.ID = "https://github.com/ormasoftchile/questline/schemas/quest-v1.json"
	s.Title = "Quest document, quest/v1"
	s.Description = "Schema for quest/v1 YAML documents (Draft 2020-12)"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal quest schema: %w", err)
	}
	return data, nil
}
