package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/roach88/graphir/internal/ir"
)

// marshalObject converts a map to canonical JSON TEXT for storage.
func marshalObject(obj map[string]any) (string, error) {
	if obj == nil {
		obj = map[string]any{}
	}
	data, err := ir.MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("marshal object: %w", err)
	}
	return string(data), nil
}

// unmarshalObject parses JSON TEXT. Numbers decode as json.Number so large
// integers keep their precision.
func unmarshalObject(data string) (map[string]any, error) {
	if data == "" || data == "{}" {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("unmarshal object: %w", err)
	}
	return obj, nil
}
