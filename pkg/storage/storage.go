package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/vjranagit/bouncedash/pkg/types"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrNotFound is returned when no snapshot has been stored for a session
var ErrNotFound = errors.New("snapshot not found")

// SnapshotStore holds the latest published snapshot per dashboard session
type SnapshotStore interface {
	// Put replaces the session's snapshot in full
	Put(ctx context.Context, session string, snap *types.Snapshot) error

	// Get returns the session's latest snapshot
	Get(ctx context.Context, session string) (*types.Snapshot, error)

	// Delete drops the session's snapshot; a missing one is not an error
	Delete(ctx context.Context, session string) error

	// Close closes the store
	Close() error
}

// Config holds snapshot store configuration.
// Snapshots live until their session deletes them.
type Config struct {
	CompressionLevel int
}

// DefaultConfig returns default storage configuration
func DefaultConfig() *Config {
	return &Config{
		CompressionLevel: 2,
	}
}

// badgerStore implements SnapshotStore on an in-memory BadgerDB
type badgerStore struct {
	cfg        *Config
	db         *badger.DB
	compressor *Compressor
	mu         sync.RWMutex
}

// NewSnapshotStore creates a new in-memory snapshot store.
// Nothing is written to disk, so snapshots never outlive the process.
func NewSnapshotStore(cfg *Config) (SnapshotStore, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil // Disable BadgerDB logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	compressor, err := NewCompressor(cfg.CompressionLevel)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create compressor: %w", err)
	}

	return &badgerStore{
		cfg:        cfg,
		db:         db,
		compressor: compressor,
	}, nil
}

// snapshotEnvelope is the stored form of a snapshot
type snapshotEnvelope struct {
	UpdatedAt        int64         `msgpack:"updated_at"`
	Metrics          types.Metrics `msgpack:"metrics"`
	HasChart         bool          `msgpack:"has_chart"`
	Count            int           `msgpack:"count"`
	CompressedLabels []byte        `msgpack:"labels"`
	CompressedTrue   []byte        `msgpack:"true"`
	CompressedPred   []byte        `msgpack:"predicted"`
}

// Put implements SnapshotStore.Put
func (s *badgerStore) Put(ctx context.Context, session string, snap *types.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("nil snapshot")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := s.encode(snap)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(snapshotKey(session), payload)
	})
}

// Get implements SnapshotStore.Get
func (s *badgerStore) Get(ctx context.Context, session string) (*types.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var payload []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey(session))
		if err != nil {
			return err
		}

		payload, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	return s.decode(payload)
}

// Delete implements SnapshotStore.Delete
func (s *badgerStore) Delete(ctx context.Context, session string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(snapshotKey(session))
	}); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

// encode compresses the chart series and packs the envelope
func (s *badgerStore) encode(snap *types.Snapshot) ([]byte, error) {
	env := snapshotEnvelope{
		Metrics:  snap.Metrics,
		HasChart: snap.Chart != nil,
	}
	if !snap.UpdatedAt.IsZero() {
		env.UpdatedAt = snap.UpdatedAt.UnixNano()
	}

	if snap.Chart != nil {
		var err error
		env.Count = len(snap.Chart.Categories)

		env.CompressedLabels, err = s.compressor.CompressLabels(snap.Chart.Categories)
		if err != nil {
			return nil, fmt.Errorf("failed to compress labels: %w", err)
		}

		env.CompressedTrue, err = s.compressor.CompressValues(snap.Chart.Series.True)
		if err != nil {
			return nil, fmt.Errorf("failed to compress true values: %w", err)
		}

		env.CompressedPred, err = s.compressor.CompressValues(snap.Chart.Series.Predicted)
		if err != nil {
			return nil, fmt.Errorf("failed to compress predicted values: %w", err)
		}
	}

	data, err := msgpack.Marshal(&env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return data, nil
}

// decode reverses encode
func (s *badgerStore) decode(payload []byte) (*types.Snapshot, error) {
	var env snapshotEnvelope
	if err := msgpack.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	snap := &types.Snapshot{Metrics: env.Metrics}
	if env.UpdatedAt != 0 {
		snap.UpdatedAt = time.Unix(0, env.UpdatedAt)
	}
	if !env.HasChart {
		return snap, nil
	}

	labels, err := s.compressor.DecompressLabels(env.CompressedLabels, env.Count)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress labels: %w", err)
	}

	trueValues, err := s.compressor.DecompressValues(env.CompressedTrue, env.Count)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress true values: %w", err)
	}

	predicted, err := s.compressor.DecompressValues(env.CompressedPred, env.Count)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress predicted values: %w", err)
	}

	snap.Chart = &types.ChartDescription{
		Categories: labels,
		Series: types.ChartSeries{
			True:      trueValues,
			Predicted: predicted,
		},
	}
	return snap, nil
}

// Close implements SnapshotStore.Close
func (s *badgerStore) Close() error {
	s.compressor.Close()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// snapshotKey generates the storage key for a session
func snapshotKey(session string) []byte {
	return []byte("snapshot/" + session)
}
