package schema

import (
	"encoding/json"
	"sort"
)

// JSONSchema exports the schema as a JSON schema object.
func (s Schema) JSONSchema() map[string]any {
	properties := make(map[string]any, len(s))
	required := make([]string, 0, len(s))

	for _, p := range s {
		properties[p.Name] = property(p.Type, p.Description)
		if !p.Optional {
			required = append(required, p.Name)
		}
	}

	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

// MarshalJSON serializes the schema as its JSON schema object.
func (s Schema) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.JSONSchema())
}

func property(t Type, description string) map[string]any {
	prop := map[string]any{"type": t.JSONType()}
	if description != "" {
		prop["description"] = description
	}
	return prop
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
