// Package identity defines the identifiers that name messaging parties.
//
// An ID is an opaque, globally unique name with a canonical string form of
// "name@namespace". The namespace part is optional so that bare names used in
// tests and local deployments remain valid.
//
// Example:
//
//	id, err := identity.Parse("alice@example.crux")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(id) // alice@example.crux
package identity

import (
	"errors"
	"fmt"
	"strings"
)

// MaxLength bounds the canonical string form of an ID.
const MaxLength = 255

var (
	// ErrEmptyID is returned when parsing an empty identifier.
	ErrEmptyID = errors.New("identity: empty identifier")
	// ErrInvalidID is returned when an identifier contains illegal characters
	// or has a malformed namespace.
	ErrInvalidID = errors.New("identity: invalid identifier")
)

// ID names a messaging party. The zero value is not a valid ID.
type ID struct {
	name      string
	namespace string
}

// New builds an ID from its parts. namespace may be empty.
func New(name, namespace string) (ID, error) {
	id := ID{
		name:      strings.ToLower(strings.TrimSpace(name)),
		namespace: strings.ToLower(strings.TrimSpace(namespace)),
	}
	if err := id.validate(); err != nil {
		return ID{}, err
	}
	return id, nil
}

// Parse parses the canonical string form of an ID. Input is case-folded.
func Parse(s string) (ID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ID{}, ErrEmptyID
	}
	if len(s) > MaxLength {
		return ID{}, fmt.Errorf("%w: longer than %d characters", ErrInvalidID, MaxLength)
	}

	name, namespace, found := strings.Cut(s, "@")
	if found && namespace == "" {
		return ID{}, fmt.Errorf("%w: %q has an empty namespace", ErrInvalidID, s)
	}
	return New(name, namespace)
}

// MustParse is like Parse but panics on error. Intended for tests and
// package-level fixtures.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// Name returns the local part of the identifier.
func (id ID) Name() string { return id.name }

// Namespace returns the namespace part, or "" for bare names.
func (id ID) Namespace() string { return id.namespace }

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool { return id.name == "" }

// Equal reports whether two IDs name the same party.
func (id ID) Equal(other ID) bool {
	return id.name == other.name && id.namespace == other.namespace
}

// String returns the canonical string form.
func (id ID) String() string {
	if id.namespace == "" {
		return id.name
	}
	return id.name + "@" + id.namespace
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	if id.IsZero() {
		return nil, ErrEmptyID
	}
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id ID) validate() error {
	if id.name == "" {
		return ErrEmptyID
	}
	if !validPart(id.name) {
		return fmt.Errorf("%w: bad name %q", ErrInvalidID, id.name)
	}
	if id.namespace == "" {
		return nil
	}
	for _, label := range strings.Split(id.namespace, ".") {
		if label == "" || !validPart(label) {
			return fmt.Errorf("%w: bad namespace %q", ErrInvalidID, id.namespace)
		}
	}
	return nil
}

// validPart accepts lower-case letters, digits, '-' and '_'.
func validPart(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}
