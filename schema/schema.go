// Package schema validates message content against declared shapes.
//
// Every Schema is a JSON Schema document compiled by
// santhosh-tekuri/jsonschema. Protocols declared in Go use the builders
// (Object, String, Number, ...), which emit a document; protocols published
// as JSON Schema use FromJSONSchema directly. Content is first normalised
// through encoding/json so a struct and its JSON form validate the same.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Schema validates a content value.
type Schema interface {
	Validate(content any) error
}

// ValidationError describes the first violation found.
type ValidationError struct {
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

// Normalize round-trips v through JSON. Objects become map[string]any,
// arrays []any and numbers json.Number.
func Normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("not serialisable: %v", err)}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, &ValidationError{Reason: fmt.Sprintf("not serialisable: %v", err)}
	}
	return out, nil
}
