package store

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/optisync/internal/ir"
)

// marshalObject converts a record to canonical JSON TEXT for storage.
func marshalObject(what string, obj map[string]any) (string, error) {
	if obj == nil {
		obj = map[string]any{}
	}
	data, err := ir.MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", what, err)
	}
	return string(data), nil
}

// unmarshalObject parses canonical JSON TEXT back into a normalized record.
// Numbers are decoded via json.Number so integers beyond 2^53 keep their
// precision.
func unmarshalObject(what, data string) (map[string]any, error) {
	if data == "" || data == "{}" {
		return map[string]any{}, nil
	}
	dec := json.NewDecoder(strings.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", what, err)
	}
	obj, err := ir.NormalizeMap(raw)
	if err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", what, err)
	}
	return obj, nil
}
