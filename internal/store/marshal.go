package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/roach88/scriptfuzz/internal/ir"
)

// marshalJSON encodes v without HTML escaping so script text stays
// readable in the database.
func marshalJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

func marshalCalls(calls []ir.CallInstance) (string, error) {
	if calls == nil {
		calls = []ir.CallInstance{}
	}
	s, err := marshalJSON(calls)
	if err != nil {
		return "", fmt.Errorf("marshal calls: %w", err)
	}
	return s, nil
}

func unmarshalCalls(data string) ([]ir.CallInstance, error) {
	var calls []ir.CallInstance
	if err := json.Unmarshal([]byte(data), &calls); err != nil {
		return nil, fmt.Errorf("unmarshal calls: %w", err)
	}
	if calls == nil {
		calls = []ir.CallInstance{}
	}
	return calls, nil
}
