// Package badgerstore persists snapshots in an embedded Badger database.
// This is the default backend: no external service, survives restarts,
// and a background value-log GC keeps the on-disk footprint bounded.
package badgerstore

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/semibank/smartfarm/component"
	"github.com/semibank/smartfarm/errors"
	"github.com/semibank/smartfarm/storage"
)

// Store is a SnapshotStore backed by a local Badger database.
type Store struct {
	db         *badger.DB
	gcInterval time.Duration
	stop       chan struct{}
	wg         sync.WaitGroup
	closeOnce  sync.Once
	logger     *component.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithGCInterval overrides the value-log GC cadence.
func WithGCInterval(d time.Duration) Option {
	return func(s *Store) { s.gcInterval = d }
}

// Open opens (or creates) the database at path and starts the GC loop.
func Open(path string, opts ...Option) (*Store, error) {
	dbOpts := badger.DefaultOptions(path).
		WithLogger(nil)

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, errors.WrapFatal(err, "badgerstore", "Open", fmt.Sprintf("open database at %s", path))
	}

	s := &Store{
		db:         db,
		gcInterval: 10 * time.Minute,
		stop:       make(chan struct{}),
		logger:     component.NewLogger("badgerstore", nil),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wg.Add(1)
	go s.gcLoop()

	return s, nil
}

func (s *Store) gcLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			// ErrNoRewrite just means there was nothing to reclaim.
			if err := s.db.RunValueLogGC(0.5); err != nil && !stderrors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("value log GC failed", "error", err)
			}
		}
	}
}

// Save writes the blob under key.
func (s *Store) Save(_ context.Context, key string, data []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return errors.WrapTransient(err, "badgerstore", "Save", fmt.Sprintf("save key %s", key))
	}
	return nil
}

// Load returns the blob stored under key.
func (s *Store) Load(_ context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return nil, storage.NotFound(key)
	}
	if err != nil {
		return nil, errors.WrapTransient(err, "badgerstore", "Load", fmt.Sprintf("load key %s", key))
	}
	return data, nil
}

// Delete removes the key. Absent keys are ignored.
func (s *Store) Delete(_ context.Context, key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return errors.WrapTransient(err, "badgerstore", "Delete", fmt.Sprintf("delete key %s", key))
	}
	return nil
}

// Close stops the GC loop and closes the database.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		s.wg.Wait()
		err = s.db.Close()
	})
	if err != nil {
		return errors.WrapFatal(err, "badgerstore", "Close", "close database")
	}
	return nil
}
