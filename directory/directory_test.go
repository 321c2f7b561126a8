package directory

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/opd-ai/securenet/crypto"
	"github.com/opd-ai/securenet/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEntry(t *testing.T, name string) Entry {
	t.Helper()
	bundle, err := crypto.GenerateKeyBundle()
	require.NoError(t, err)
	return Entry{ID: identity.MustParse(name), PublicKey: bundle.PublicKey()}
}

// registries runs fn against every Registry implementation.
func registries(t *testing.T, fn func(t *testing.T, r Registry)) {
	t.Run("memory", func(t *testing.T) {
		m, err := NewMemory()
		require.NoError(t, err)
		fn(t, m)
	})
	t.Run("bolt", func(t *testing.T) {
		b, err := OpenBolt(filepath.Join(t.TempDir(), "directory.db"))
		require.NoError(t, err)
		defer b.Close()
		fn(t, b)
	})
}

func TestRegisterAndLookup(t *testing.T) {
	registries(t, func(t *testing.T, r Registry) {
		ctx := context.Background()
		alice := newEntry(t, "alice@example")

		require.NoError(t, r.Register(ctx, alice, false))

		got, err := r.Lookup(ctx, alice.ID)
		require.NoError(t, err)
		assert.Equal(t, alice.PublicKey, got.PublicKey)
		assert.True(t, alice.ID.Equal(got.ID))
	})
}

func TestLookupMissing(t *testing.T) {
	registries(t, func(t *testing.T, r Registry) {
		_, err := r.Lookup(context.Background(), identity.MustParse("ghost@example"))
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRegisterConflicts(t *testing.T) {
	registries(t, func(t *testing.T, r Registry) {
		ctx := context.Background()
		alice := newEntry(t, "alice@example")

		assert.ErrorIs(t, r.Register(ctx, alice, true), ErrNotFound, "update of unknown identity")
		require.NoError(t, r.Register(ctx, alice, false))
		assert.ErrorIs(t, r.Register(ctx, alice, false), ErrExists)

		rotated := newEntry(t, "alice@example")
		require.NoError(t, r.Register(ctx, rotated, true))

		got, err := r.Lookup(ctx, alice.ID)
		require.NoError(t, err)
		assert.Equal(t, rotated.PublicKey, got.PublicKey)
	})
}

func TestRegisterInvalid(t *testing.T) {
	registries(t, func(t *testing.T, r Registry) {
		ctx := context.Background()
		assert.ErrorIs(t, r.Register(ctx, Entry{}, false), ErrInvalidEntry)
		assert.ErrorIs(t, r.Register(ctx, Entry{ID: identity.MustParse("x")}, false), ErrInvalidEntry)
	})
}

func TestLookupHonoursCancelledContext(t *testing.T) {
	registries(t, func(t *testing.T, r Registry) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := r.Lookup(ctx, identity.MustParse("alice@example"))
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestConcurrentLookups(t *testing.T) {
	registries(t, func(t *testing.T, r Registry) {
		ctx := context.Background()
		alice := newEntry(t, "alice@example")
		require.NoError(t, r.Register(ctx, alice, false))

		var wg sync.WaitGroup
		errs := make(chan error, 32)
		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := r.Lookup(ctx, alice.ID)
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			assert.NoError(t, err)
		}
	})
}

func TestNewMemorySeeded(t *testing.T) {
	alice := newEntry(t, "alice@example")
	m, err := NewMemory(alice)
	require.NoError(t, err)

	_, err = m.Lookup(context.Background(), alice.ID)
	require.NoError(t, err)

	m.Remove(alice.ID)
	_, err = m.Lookup(context.Background(), alice.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = NewMemory(alice, alice)
	assert.ErrorIs(t, err, ErrExists)
}

func TestBoltPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.db")
	ctx := context.Background()
	alice := newEntry(t, "alice@example")
	bob := newEntry(t, "bob@example")

	db, err := OpenBolt(path)
	require.NoError(t, err)
	require.NoError(t, db.Register(ctx, alice, false))
	require.NoError(t, db.Register(ctx, bob, false))
	require.NoError(t, db.Close())

	db, err = OpenBolt(path)
	require.NoError(t, err)
	defer db.Close()

	got, err := db.Lookup(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, bob.PublicKey, got.PublicKey)

	entries, err := db.List()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "alice@example", entries[0].ID.String())
	assert.Equal(t, "bob@example", entries[1].ID.String())
}
