// Package checkpoint persists batch progress markers for crash recovery.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/harbinger-io/harbinger/internal/domain/model"
)

// Store is the durable side of checkpointing, backed by an embedded
// BadgerDB. Keys are per job: a latest-wins snapshot plus an append-only
// sequence of progress markers.
type Store struct {
	db *badger.DB
}

// marker is a compact append-only progress entry kept alongside the full
// snapshot for audit and debugging.
type marker struct {
	Processed int       `json:"processed"`
	Cursor    int       `json:"cursor"`
	Timestamp time.Time `json:"timestamp"`
}

// Open opens (or creates) the checkpoint database at path. An empty path
// opens an in-memory database, used by tests.
func Open(path string) (*Store, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(path)
	}
	// Badger's own logger is too chatty for a support store.
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint db: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func snapshotKey(jobID string) []byte {
	return []byte("checkpoint/" + jobID)
}

func markerKey(jobID string, seq int) []byte {
	return []byte(fmt.Sprintf("progress/%s/%012d", jobID, seq))
}

// Save persists cp as the job's latest checkpoint and appends a progress
// marker. seq must increase across saves within one job.
func (s *Store) Save(cp model.Checkpoint, seq int) error {
	full, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	mk, err := json.Marshal(marker{Processed: cp.Processed, Cursor: cp.UnitCursor, Timestamp: cp.Timestamp})
	if err != nil {
		return fmt.Errorf("marshal marker: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(snapshotKey(cp.JobID), full); err != nil {
			return err
		}
		return txn.Set(markerKey(cp.JobID, seq), mk)
	})
	if err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

// Load returns the latest checkpoint for jobID, or ErrNotFound.
func (s *Store) Load(jobID string) (model.Checkpoint, error) {
	var cp model.Checkpoint
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey(jobID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &cp)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return model.Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return model.Checkpoint{}, fmt.Errorf("read checkpoint: %w", err)
	}
	return cp, nil
}

// Purge removes all checkpoint state for a completed job.
func (s *Store) Purge(jobID string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(snapshotKey(jobID)); err != nil {
			return err
		}
		it := txn.NewIterator(badger.IteratorOptions{Prefix: []byte("progress/" + jobID + "/")})
		defer it.Close()
		var keys [][]byte
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}
