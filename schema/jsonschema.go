package schema

import (
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const (
	rootResource = "message.json"
	partBase     = "mem://securenet/schema/"
)

// JSONSchema validates content against a compiled JSON Schema document.
type JSONSchema struct {
	doc      string
	compiled *jsonschema.Schema
}

// FromJSONSchema compiles doc. The draft is taken from doc's "$schema"
// keyword and defaults to 2020-12.
func FromJSONSchema(doc string) (*JSONSchema, error) {
	return compile(doc, nil)
}

// MustJSONSchema is like FromJSONSchema but panics on error.
func MustJSONSchema(doc string) *JSONSchema {
	s, err := FromJSONSchema(doc)
	if err != nil {
		panic(err)
	}
	return s
}

// compile registers parts under their absolute URLs so doc can $ref them.
func compile(doc string, parts map[string]string) (*JSONSchema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	for url, part := range parts {
		if err := c.AddResource(url, strings.NewReader(part)); err != nil {
			return nil, fmt.Errorf("invalid JSON schema %s: %w", url, err)
		}
	}
	if err := c.AddResource(rootResource, strings.NewReader(doc)); err != nil {
		return nil, fmt.Errorf("invalid JSON schema: %w", err)
	}
	compiled, err := c.Compile(rootResource)
	if err != nil {
		return nil, fmt.Errorf("invalid JSON schema: %w", err)
	}
	return &JSONSchema{doc: doc, compiled: compiled}, nil
}

// Document returns the source document.
func (s *JSONSchema) Document() string { return s.doc }

func (s *JSONSchema) Validate(content any) error {
	v, err := Normalize(content)
	if err != nil {
		return err
	}
	err = s.compiled.Validate(v)
	if err == nil {
		return nil
	}

	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return &ValidationError{Reason: err.Error()}
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	return &ValidationError{Path: pointerPath(ve.InstanceLocation), Reason: ve.Message}
}

// pointerPath turns a JSON pointer such as /items/0/n into items.0.n.
func pointerPath(ptr string) string {
	ptr = strings.TrimPrefix(ptr, "/")
	if ptr == "" {
		return ""
	}
	parts := strings.Split(ptr, "/")
	for i, p := range parts {
		p = strings.ReplaceAll(p, "~1", "/")
		parts[i] = strings.ReplaceAll(p, "~0", "~")
	}
	return strings.Join(parts, ".")
}
