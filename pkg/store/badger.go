package store

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/orneryd/kvasir/pkg/dataset"
	"github.com/orneryd/kvasir/pkg/recommend"
)

// Key prefixes for BadgerDB storage organization
// Using single-byte prefixes for efficiency
const (
	prefixRun        = byte(0x01) // run:runID -> Run
	prefixPrediction = byte(0x02) // prediction:runID:userID -> []Prediction
)

// BadgerStore persists runs with BadgerDB.
//
// Key Structure:
//   - Runs: 0x01 + runID -> JSON(Run)
//   - Predictions: 0x02 + runID + 0x00 + userID -> JSON([]Prediction)
//
// Predictions are keyed per user so that serving one user's
// recommendations is a single point read, never a scan.
//
// Thread-safe for concurrent use.
type BadgerStore struct {
	db     *badger.DB
	mu     sync.RWMutex
	closed bool
}

// BadgerOptions configures the BadgerDB store.
type BadgerOptions struct {
	// DataDir is the directory for storing data files.
	// Required unless InMemory is set.
	DataDir string

	// InMemory runs BadgerDB in memory-only mode.
	// Useful for testing. Data is not persisted.
	InMemory bool

	// SyncWrites forces fsync after each write.
	// Slower but more durable.
	SyncWrites bool

	// Logger for BadgerDB internal logging.
	// If nil, BadgerDB is silenced.
	Logger badger.Logger
}

// NewBadgerStore creates a persistent store with default settings.
//
// The directory is created if it doesn't exist and holds all data across
// restarts.
//
// Example:
//
//	st, err := store.NewBadgerStore("./data/kvasir")
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer st.Close()
//
// ELI12:
//
// Think of the store like a binder of finished homework. Every time the
// recommender finishes a run, you file the whole thing under its run id.
// Later you can pull out one page (one user's recommendations) without
// redoing any of the homework.
func NewBadgerStore(dataDir string) (*BadgerStore, error) {
	return NewBadgerStoreWithOptions(BadgerOptions{
		DataDir: dataDir,
	})
}

// NewBadgerStoreWithOptions creates a BadgerStore with custom configuration.
func NewBadgerStoreWithOptions(opts BadgerOptions) (*BadgerStore, error) {
	badgerOpts := badger.DefaultOptions(opts.DataDir)

	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true)
	}

	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}

	if opts.Logger != nil {
		badgerOpts = badgerOpts.WithLogger(opts.Logger)
	} else {
		// Use a quiet logger by default
		badgerOpts = badgerOpts.WithLogger(nil)
	}

	// Reduce RAM usage; run stores are small compared to Badger's defaults
	badgerOpts = badgerOpts.
		WithMemTableSize(16 << 20).     // 16MB instead of 64MB
		WithValueLogFileSize(64 << 20). // 64MB instead of 1GB
		WithNumMemtables(2).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024). // Store values > 1KB in value log
		WithBlockCacheSize(32 << 20).
		WithIndexCacheSize(16 << 20)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	return &BadgerStore{db: db}, nil
}

// NewBadgerStoreInMemory creates an in-memory BadgerDB for testing.
//
// Data is not persisted and is lost when the store is closed. Useful for
// tests that need persistent storage semantics without disk I/O.
func NewBadgerStoreInMemory() (*BadgerStore, error) {
	return NewBadgerStoreWithOptions(BadgerOptions{
		InMemory: true,
	})
}

// ============================================================================
// Key encoding helpers
// ============================================================================

// runKey creates a key for storing a run.
func runKey(id string) []byte {
	return append([]byte{prefixRun}, []byte(id)...)
}

// predictionKey creates a key for one user's predictions in a run.
// Format: prefix + runID + 0x00 + userID
func predictionKey(runID string, user dataset.UserID) []byte {
	key := make([]byte, 0, 1+len(runID)+1+len(user))
	key = append(key, prefixPrediction)
	key = append(key, []byte(runID)...)
	key = append(key, 0x00) // Separator
	key = append(key, []byte(user)...)
	return key
}

// predictionPrefix returns the prefix for scanning all predictions of a run.
func predictionPrefix(runID string) []byte {
	key := make([]byte, 0, 1+len(runID)+1)
	key = append(key, prefixPrediction)
	key = append(key, []byte(runID)...)
	key = append(key, 0x00)
	return key
}

// ============================================================================
// Serialization helpers
// ============================================================================

// serializableRun is the JSON-serializable form of a Run.
type serializableRun struct {
	ID        string            `json:"id"`
	CreatedAt int64             `json:"createdAt"`
	Options   recommend.Options `json:"options"`
	Stats     recommend.Stats   `json:"stats"`
}

// encodeRun serializes a Run to JSON.
func encodeRun(r *Run) ([]byte, error) {
	sr := serializableRun{
		ID:        r.ID,
		CreatedAt: r.CreatedAt.Unix(),
		Options:   r.Options,
		Stats:     r.Stats,
	}
	return json.Marshal(sr)
}

// decodeRun deserializes a Run from JSON.
func decodeRun(data []byte) (*Run, error) {
	var sr serializableRun
	if err := json.Unmarshal(data, &sr); err != nil {
		return nil, err
	}

	return &Run{
		ID:        sr.ID,
		CreatedAt: time.Unix(sr.CreatedAt, 0).UTC(),
		Options:   sr.Options,
		Stats:     sr.Stats,
	}, nil
}

// ============================================================================
// Store implementation
// ============================================================================

// SaveRun stores a run and its predictions in one transaction.
func (b *BadgerStore) SaveRun(run *Run, predictions []recommend.Prediction) error {
	if run == nil {
		return ErrInvalidData
	}
	if run.ID == "" {
		return ErrInvalidID
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrStoreClosed
	}
	b.mu.RUnlock()

	byUser, order := groupByUser(predictions)

	return b.db.Update(func(txn *badger.Txn) error {
		key := runKey(run.ID)
		_, err := txn.Get(key)
		if err == nil {
			return ErrAlreadyExists
		}
		if err != badger.ErrKeyNotFound {
			return err
		}

		data, err := encodeRun(run)
		if err != nil {
			return fmt.Errorf("failed to encode run: %w", err)
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}

		for _, user := range order {
			data, err := json.Marshal(byUser[user])
			if err != nil {
				return fmt.Errorf("failed to encode predictions for %q: %w", user, err)
			}
			if err := txn.Set(predictionKey(run.ID, user), data); err != nil {
				return err
			}
		}

		return nil
	})
}

// GetRun retrieves a run by id.
func (b *BadgerStore) GetRun(id string) (*Run, error) {
	if id == "" {
		return nil, ErrInvalidID
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	b.mu.RUnlock()

	var run *Run
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(runKey(id))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			var decodeErr error
			run, decodeErr = decodeRun(val)
			return decodeErr
		})
	})

	return run, err
}

// ListRuns returns all stored runs, oldest first. Runs created in the same
// second order by id.
func (b *BadgerStore) ListRuns() ([]*Run, error) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	b.mu.RUnlock()

	var runs []*Run
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := []byte{prefixRun}
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var run *Run
			if err := it.Item().Value(func(val []byte) error {
				var decodeErr error
				run, decodeErr = decodeRun(val)
				return decodeErr
			}); err != nil {
				continue
			}

			runs = append(runs, run)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	sortRuns(runs)
	return runs, nil
}

// DeleteRun removes a run and all of its predictions.
func (b *BadgerStore) DeleteRun(id string) error {
	if id == "" {
		return ErrInvalidID
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrStoreClosed
	}
	b.mu.RUnlock()

	return b.db.Update(func(txn *badger.Txn) error {
		key := runKey(id)
		_, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if err := txn.Delete(key); err != nil {
			return err
		}

		// Collect prediction keys first; deleting while iterating is unsafe
		prefix := predictionPrefix(id)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)

		var keys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}

		return nil
	})
}

// Predictions returns every prediction of a run, users in lexicographic
// order, each user's predictions in the order given to SaveRun.
func (b *BadgerStore) Predictions(runID string) ([]recommend.Prediction, error) {
	if runID == "" {
		return nil, ErrInvalidID
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	b.mu.RUnlock()

	var out []recommend.Prediction
	err := b.db.View(func(txn *badger.Txn) error {
		if _, err := txn.Get(runKey(runID)); err == badger.ErrKeyNotFound {
			return ErrNotFound
		} else if err != nil {
			return err
		}

		// Keys iterate in byte order, so users come back sorted
		prefix := predictionPrefix(runID)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var preds []recommend.Prediction
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &preds)
			}); err != nil {
				continue
			}

			out = append(out, preds...)
		}

		return nil
	})

	return out, err
}

// TopFor returns one user's predictions for a run with a single point
// read. A run with no predictions for the user yields an empty result,
// not an error.
func (b *BadgerStore) TopFor(runID string, user dataset.UserID) ([]recommend.Prediction, error) {
	if runID == "" || user == "" {
		return nil, ErrInvalidID
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	b.mu.RUnlock()

	var out []recommend.Prediction
	err := b.db.View(func(txn *badger.Txn) error {
		if _, err := txn.Get(runKey(runID)); err == badger.ErrKeyNotFound {
			return ErrNotFound
		} else if err != nil {
			return err
		}

		item, err := txn.Get(predictionKey(runID, user))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		})
	})

	return out, err
}

// RunCount returns the number of stored runs.
func (b *BadgerStore) RunCount() (int64, error) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return 0, ErrStoreClosed
	}
	b.mu.RUnlock()

	var count int64
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := []byte{prefixRun}
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}

		return nil
	})

	return count, err
}

// Close flushes and closes the underlying database.
func (b *BadgerStore) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.db.Close()
}
