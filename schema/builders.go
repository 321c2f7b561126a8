package schema

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sync"
)

// documenter is implemented by the builders. Nested *JSONSchema values are
// registered in parts and referenced by URL.
type documenter interface {
	document(parts resources) (any, error)
}

type resources map[string]string

func (r resources) add(doc string) string {
	url := fmt.Sprintf("%spart-%d.json", partBase, len(r)+1)
	r[url] = doc
	return url
}

func embed(s Schema, parts resources) (any, error) {
	switch s := s.(type) {
	case nil:
		return true, nil
	case *JSONSchema:
		return map[string]any{"$ref": parts.add(s.doc)}, nil
	case documenter:
		return s.document(parts)
	}
	return nil, fmt.Errorf("schema: %T cannot be embedded in a JSON Schema document", s)
}

// Build renders s as a JSON Schema document and compiles it.
func Build(s Schema) (*JSONSchema, error) {
	parts := resources{}
	doc, err := embed(s, parts)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("schema: render document: %w", err)
	}
	return compile(string(raw), parts)
}

// compiled holds a builder's document once it has been validated against.
// Builders must not be modified after their first Validate.
type compiled struct {
	once   sync.Once
	schema *JSONSchema
	err    error
}

func (c *compiled) validate(s Schema, content any) error {
	c.once.Do(func() { c.schema, c.err = Build(s) })
	if c.err != nil {
		return c.err
	}
	return c.schema.Validate(content)
}

// AnySchema accepts every value, including null.
type AnySchema struct{ compiled }

// Any returns a schema that accepts everything.
func Any() *AnySchema { return &AnySchema{} }

func (s *AnySchema) Validate(content any) error      { return s.validate(s, content) }
func (s *AnySchema) document(resources) (any, error) { return true, nil }

// StringSchema accepts strings.
type StringSchema struct {
	compiled
	min, max int
	pattern  *regexp.Regexp
	enum     []string
}

// String returns a schema accepting any string.
func String() *StringSchema { return &StringSchema{max: -1} }

// Min sets the minimum length in runes.
func (s *StringSchema) Min(n int) *StringSchema { s.min = n; return s }

// Max sets the maximum length in runes.
func (s *StringSchema) Max(n int) *StringSchema { s.max = n; return s }

// Pattern requires the string to match re.
func (s *StringSchema) Pattern(re *regexp.Regexp) *StringSchema { s.pattern = re; return s }

// OneOf restricts the string to the given values.
func (s *StringSchema) OneOf(values ...string) *StringSchema { s.enum = values; return s }

func (s *StringSchema) Validate(content any) error { return s.validate(s, content) }

func (s *StringSchema) document(resources) (any, error) {
	doc := map[string]any{"type": "string"}
	if s.min > 0 {
		doc["minLength"] = s.min
	}
	if s.max >= 0 {
		doc["maxLength"] = s.max
	}
	if s.pattern != nil {
		doc["pattern"] = s.pattern.String()
	}
	if len(s.enum) > 0 {
		doc["enum"] = s.enum
	}
	return doc, nil
}

// NumberSchema accepts JSON numbers.
type NumberSchema struct {
	compiled
	integer  bool
	min, max *float64
}

// Number returns a schema accepting any number.
func Number() *NumberSchema { return &NumberSchema{} }

// Integer rejects numbers with a fractional part.
func (s *NumberSchema) Integer() *NumberSchema { s.integer = true; return s }

// Min sets an inclusive lower bound.
func (s *NumberSchema) Min(v float64) *NumberSchema { s.min = &v; return s }

// Max sets an inclusive upper bound.
func (s *NumberSchema) Max(v float64) *NumberSchema { s.max = &v; return s }

func (s *NumberSchema) Validate(content any) error { return s.validate(s, content) }

func (s *NumberSchema) document(resources) (any, error) {
	doc := map[string]any{"type": "number"}
	if s.integer {
		doc["type"] = "integer"
	}
	if s.min != nil {
		doc["minimum"] = *s.min
	}
	if s.max != nil {
		doc["maximum"] = *s.max
	}
	return doc, nil
}

// BoolSchema accepts true and false.
type BoolSchema struct{ compiled }

// Bool returns a boolean schema.
func Bool() *BoolSchema { return &BoolSchema{} }

func (s *BoolSchema) Validate(content any) error { return s.validate(s, content) }

func (s *BoolSchema) document(resources) (any, error) {
	return map[string]any{"type": "boolean"}, nil
}

// ArraySchema accepts arrays whose items all match one schema.
type ArraySchema struct {
	compiled
	items    Schema
	min, max int
}

// Array returns a schema for arrays of items. A nil items schema accepts
// any element.
func Array(items Schema) *ArraySchema {
	return &ArraySchema{items: items, max: -1}
}

// Min sets the minimum number of items.
func (s *ArraySchema) Min(n int) *ArraySchema { s.min = n; return s }

// Max sets the maximum number of items.
func (s *ArraySchema) Max(n int) *ArraySchema { s.max = n; return s }

func (s *ArraySchema) Validate(content any) error { return s.validate(s, content) }

func (s *ArraySchema) document(parts resources) (any, error) {
	items, err := embed(s.items, parts)
	if err != nil {
		return nil, err
	}
	doc := map[string]any{"type": "array", "items": items}
	if s.min > 0 {
		doc["minItems"] = s.min
	}
	if s.max >= 0 {
		doc["maxItems"] = s.max
	}
	return doc, nil
}

// FieldSpec declares one object key.
type FieldSpec struct {
	name     string
	schema   Schema
	optional bool
}

// Field declares a required key.
func Field(name string, s Schema) FieldSpec {
	return FieldSpec{name: name, schema: s}
}

// Optional declares a key that may be absent. When present it must match.
func Optional(name string, s Schema) FieldSpec {
	return FieldSpec{name: name, schema: s, optional: true}
}

// ObjectSchema accepts objects with declared keys. Undeclared keys are
// rejected unless Unknown is called.
type ObjectSchema struct {
	compiled
	fields       []FieldSpec
	allowUnknown bool
}

// Object returns a schema for objects with the given fields.
func Object(fields ...FieldSpec) *ObjectSchema {
	return &ObjectSchema{fields: fields}
}

// Unknown allows keys that were not declared.
func (s *ObjectSchema) Unknown() *ObjectSchema { s.allowUnknown = true; return s }

func (s *ObjectSchema) Validate(content any) error { return s.validate(s, content) }

func (s *ObjectSchema) document(parts resources) (any, error) {
	props := make(map[string]any, len(s.fields))
	var required []string
	for _, f := range s.fields {
		if _, dup := props[f.name]; dup {
			return nil, fmt.Errorf("schema: field %q declared twice", f.name)
		}
		sub, err := embed(f.schema, parts)
		if err != nil {
			return nil, fmt.Errorf("schema: field %q: %w", f.name, err)
		}
		props[f.name] = sub
		if !f.optional {
			required = append(required, f.name)
		}
	}

	doc := map[string]any{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": s.allowUnknown,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	return doc, nil
}
