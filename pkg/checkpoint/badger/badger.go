// Package badger implements a durable checkpoint store on BadgerDB.
package badger

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/meshcloud/tap-prometheus/pkg/checkpoint"
)

// Store implements checkpoint.Store using BadgerDB.
type Store struct {
	db *badger.DB
}

// Config holds BadgerDB configuration.
type Config struct {
	// Path to store database files.
	Path string

	// InMemory mode (for testing).
	InMemory bool
}

// New opens a checkpoint store. Writes are synced to disk on commit: a
// checkpoint that Advance reported as stored survives a crash.
func New(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path).
		WithSyncWrites(true).
		WithNumVersionsToKeep(1).
		// A handful of tiny keys; keep Badger's memory footprint minimal.
		WithMemTableSize(1 << 20).
		WithNumMemtables(2).
		WithValueLogFileSize(1 << 20).
		WithLogger(nil)

	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}

	return &Store{db: db}, nil
}

// Load reads the stream's checkpoint.
func (s *Store) Load(stream string) (time.Time, bool, error) {
	var stored time.Time
	found := false

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(makeKey(stream))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			t, err := decodeBoundary(val)
			if err != nil {
				return err
			}
			stored = t
			found = true
			return nil
		})
	})
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to load checkpoint for %q: %w", stream, err)
	}

	return stored, found, nil
}

// Advance moves the stream's checkpoint forward. The read-compare-write
// runs in a single transaction.
func (s *Store) Advance(stream string, boundary time.Time) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		key := makeKey(stream)

		item, err := txn.Get(key)
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err == nil {
			var stored time.Time
			err = item.Value(func(val []byte) error {
				stored, err = decodeBoundary(val)
				return err
			})
			if err != nil {
				return err
			}
			if boundary.Before(stored) {
				return &checkpoint.RegressionError{Stream: stream, Stored: stored, Asked: boundary}
			}
		}

		return txn.Set(key, encodeBoundary(boundary))
	})

	var regression *checkpoint.RegressionError
	if errors.As(err, &regression) {
		return regression
	}
	if err != nil {
		return fmt.Errorf("failed to advance checkpoint for %q: %w", stream, err)
	}
	return nil
}

// Close shuts down the store.
func (s *Store) Close() error {
	return s.db.Close()
}

func makeKey(stream string) []byte {
	return []byte("checkpoint/" + stream)
}

func encodeBoundary(t time.Time) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(t.Unix()))
	return buf
}

func decodeBoundary(val []byte) (time.Time, error) {
	if len(val) != 8 {
		return time.Time{}, fmt.Errorf("malformed checkpoint value (%d bytes)", len(val))
	}
	return time.Unix(int64(binary.BigEndian.Uint64(val)), 0).UTC(), nil
}
