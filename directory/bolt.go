package directory

import (
	"context"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/opd-ai/securenet/crypto"
	"github.com/opd-ai/securenet/identity"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const (
	identitiesBucket = "identities"
	recordVersion    = 1
)

// record is the CBOR value stored per identity.
type record struct {
	Version    int    `cbor:"1,keyasint"`
	SignKey    []byte `cbor:"2,keyasint"`
	BoxKey     []byte `cbor:"3,keyasint"`
	Registered int64  `cbor:"4,keyasint"`
}

// Bolt is a Registry persisted in a bbolt database file.
type Bolt struct {
	db *bolt.DB
}

// OpenBolt opens (creating if needed) the directory database at path.
func OpenBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open directory db: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(identitiesBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("init directory db: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "OpenBolt",
		"path":     path,
	}).Debug("Opened directory database")

	return &Bolt{db: db}, nil
}

// Close closes the database.
func (d *Bolt) Close() error {
	return d.db.Close()
}

// Lookup implements Directory.
func (d *Bolt) Lookup(ctx context.Context, id identity.ID) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var rec record
	err := d.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(identitiesBucket)).Get([]byte(id.String()))
		if raw == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return cbor.Unmarshal(raw, &rec)
	})
	if err != nil {
		return nil, err
	}

	if len(rec.SignKey) != 32 || len(rec.BoxKey) != 32 {
		return nil, fmt.Errorf("%w: corrupt record for %s", ErrInvalidEntry, id)
	}

	entry := &Entry{ID: id}
	copy(entry.PublicKey.Sign[:], rec.SignKey)
	copy(entry.PublicKey.Box[:], rec.BoxKey)
	return entry, nil
}

// Register implements Registry.
func (d *Bolt) Register(_ context.Context, entry Entry, update bool) error {
	if err := entry.validate(); err != nil {
		return err
	}

	raw, err := cbor.Marshal(record{
		Version:    recordVersion,
		SignKey:    entry.PublicKey.Sign[:],
		BoxKey:     entry.PublicKey.Box[:],
		Registered: time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("encode directory record: %w", err)
	}

	key := []byte(entry.ID.String())
	return d.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(identitiesBucket))
		exists := bkt.Get(key) != nil
		switch {
		case exists && !update:
			return fmt.Errorf("%w: %s", ErrExists, entry.ID)
		case !exists && update:
			return fmt.Errorf("%w: %s", ErrNotFound, entry.ID)
		}
		return bkt.Put(key, raw)
	})
}

// List returns every registered entry, ordered by identifier.
func (d *Bolt) List() ([]Entry, error) {
	var entries []Entry
	err := d.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(identitiesBucket)).ForEach(func(k, v []byte) error {
			id, err := identity.Parse(string(k))
			if err != nil {
				return err
			}
			var rec record
			if err := cbor.Unmarshal(v, &rec); err != nil {
				return err
			}
			var pk crypto.PublicKey
			copy(pk.Sign[:], rec.SignKey)
			copy(pk.Box[:], rec.BoxKey)
			entries = append(entries, Entry{ID: id, PublicKey: pk})
			return nil
		})
	})
	return entries, err
}
