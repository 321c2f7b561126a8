// Package directory resolves identifiers to the public keys published for
// them. securenet only ever reads from a Directory; registration is an
// administrative concern exposed by the concrete implementations.
package directory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/opd-ai/securenet/crypto"
	"github.com/opd-ai/securenet/identity"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNotFound is returned when no entry exists for an identifier.
	ErrNotFound = errors.New("directory: no such identity")
	// ErrExists is returned when registering an identifier twice without update.
	ErrExists = errors.New("directory: identity already registered")
	// ErrInvalidEntry is returned for entries with a zero ID or key.
	ErrInvalidEntry = errors.New("directory: invalid entry")
)

// Entry is what a directory publishes for one identity.
type Entry struct {
	ID        identity.ID
	PublicKey crypto.PublicKey
}

// Directory looks up identities. Implementations must be safe for
// concurrent Lookup calls.
type Directory interface {
	Lookup(ctx context.Context, id identity.ID) (*Entry, error)
}

// Registry is a Directory that can also be written to.
type Registry interface {
	Directory
	Register(ctx context.Context, entry Entry, update bool) error
}

func (e Entry) validate() error {
	if e.ID.IsZero() {
		return fmt.Errorf("%w: empty identifier", ErrInvalidEntry)
	}
	if e.PublicKey.IsZero() {
		return fmt.Errorf("%w: empty public key for %s", ErrInvalidEntry, e.ID)
	}
	return nil
}

// Memory is an in-memory Registry.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemory creates a Memory directory seeded with entries.
func NewMemory(entries ...Entry) (*Memory, error) {
	m := &Memory{entries: make(map[string]Entry)}
	for _, e := range entries {
		if err := m.Register(context.Background(), e, false); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Lookup implements Directory.
func (m *Memory) Lookup(ctx context.Context, id identity.ID) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	e, ok := m.entries[id.String()]
	m.mu.RUnlock()

	if !ok {
		logrus.WithFields(logrus.Fields{
			"function": "Memory.Lookup",
			"id":       id.String(),
		}).Debug("Identity not found")
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &e, nil
}

// Register implements Registry.
func (m *Memory) Register(_ context.Context, entry Entry, update bool) error {
	if err := entry.validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := entry.ID.String()
	_, exists := m.entries[key]
	switch {
	case exists && !update:
		return fmt.Errorf("%w: %s", ErrExists, key)
	case !exists && update:
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	m.entries[key] = entry
	return nil
}

// Remove deletes an entry. Removing an unknown ID is not an error.
func (m *Memory) Remove(id identity.ID) {
	m.mu.Lock()
	delete(m.entries, id.String())
	m.mu.Unlock()
}
