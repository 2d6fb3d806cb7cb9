package database

import (
	"encoding/json"
	"fmt"
)

// jsonMarshalMap marshals a metadata/detail map for a jsonb column. A nil
// map becomes SQL NULL rather than the string "null".
func jsonMarshalMap(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal json map: %w", err)
	}
	return b, nil
}
