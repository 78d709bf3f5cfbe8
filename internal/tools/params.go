package tools

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidParams is returned for parameters that are not a JSON object or
// do not fit the tool's arguments.
var ErrInvalidParams = errors.New("invalid tool parameters")

// ParseParams normalises tool parameters into a map. It accepts a map, a
// JSON object as a string or bytes, or any value that marshals to a JSON
// object. nil and empty input give an empty map.
func ParseParams(v any) (map[string]any, error) {
	switch p := v.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return p, nil
	case string:
		return parseJSONObject([]byte(p))
	case []byte:
		return parseJSONObject(p)
	case json.RawMessage:
		return parseJSONObject(p)
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return parseJSONObject(raw)
}

func parseJSONObject(raw []byte) (map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return map[string]any{}, nil
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	m, ok := decoded.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected a JSON object, got %s", ErrInvalidParams, jsonKind(decoded))
	}
	return m, nil
}

func jsonKind(v any) string {
	switch v.(type) {
	case []any:
		return "an array"
	case string:
		return "a string"
	case float64:
		return "a number"
	case bool:
		return "a boolean"
	}
	return "null"
}

// decodeArgs converts a parameter map into a typed argument struct.
func decodeArgs(params map[string]any, dst any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

// toMap converts a tool result into the generic form returned to callers.
func toMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}
