package bstore

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ValentinKolb/dStudy/lib/common"
	"github.com/ValentinKolb/dStudy/lib/kv"
	"github.com/dgraph-io/badger/v4"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	retries = 5
	log     = logger.GetLogger(common.LoggerKV)
)

// Config holds configuration for a BadgerDB backed store.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Required unless InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// GCInterval is how often to run value log garbage collection.
	// Set to 0 to disable.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum ratio of discardable data before GC.
	GCDiscardRatio float64

	// Quiet disables BadgerDB's internal logging.
	Quiet bool
}

// DefaultConfig returns the configuration for a durable store at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns configuration optimized for testing.
func InMemoryConfig() Config {
	return Config{
		InMemory: true,
		Quiet:    true,
	}
}

type storeImpl struct {
	db     *badger.DB
	stop   chan struct{}
	closed sync.Once
	wg     sync.WaitGroup
}

// NewBadgerStore opens (or creates) a BadgerDB database and returns it as a kv.IStore.
// The caller must Close the store to release the database.
func NewBadgerStore(conf Config) (kv.IStore, error) {
	if !conf.InMemory && conf.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if conf.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(conf.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", conf.Path, err)
		}
		opts = badger.DefaultOptions(conf.Path)
	}
	opts = opts.WithSyncWrites(conf.SyncWrites).WithNumVersionsToKeep(1)

	// dragonboat's ILogger has the same method set as badger's Logger
	if conf.Quiet {
		opts = opts.WithLogger(nil)
	} else {
		opts = opts.WithLogger(log)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	s := &storeImpl{
		db:   db,
		stop: make(chan struct{}),
	}
	if conf.GCInterval > 0 && !conf.InMemory {
		s.wg.Add(1)
		go s.runGC(conf.GCInterval, conf.GCDiscardRatio)
	}
	return s, nil
}

// runGC periodically reclaims value log space until the store is closed.
func (s *storeImpl) runGC(interval time.Duration, ratio float64) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			// RunValueLogGC reclaims one file per call
			for s.db.RunValueLogGC(ratio) == nil {
			}
		}
	}
}

// update runs fn in a read-write transaction and retries on transaction conflicts.
func (s *storeImpl) update(fn func(txn *badger.Txn) error) error {
	for i := 0; i < retries; i++ {
		err := s.db.Update(fn)
		if errors.Is(err, badger.ErrConflict) {
			log.Debugf("badger: transaction conflict, retrying (%d/%d)...", i+1, retries)
			continue
		}
		if err != nil {
			return kv.NewError(kv.RetCInternalError, err.Error())
		}
		return nil
	}
	return kv.NewError(kv.RetCInternalError, "too many transaction conflicts")
}

// --------------------------------------------------------------------------
// Interface Methods (docu see kv/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Set(key string, value []byte) error {
	return s.update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
}

func (s *storeImpl) SetIfUnset(key string, value []byte, ttl time.Duration) error {
	return s.update(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		e := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
}

func (s *storeImpl) Get(key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, kv.NewError(kv.RetCInternalError, err.Error())
	}
	return value, true, nil
}

func (s *storeImpl) Delete(key string) error {
	return s.update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

func (s *storeImpl) DeleteIfEqual(key string, value []byte) (bool, error) {
	ok := true
	err := s.update(func(txn *badger.Txn) error {
		ok = true
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		current, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if !bytes.Equal(current, value) {
			ok = false
			return nil
		}
		return txn.Delete([]byte(key))
	})
	return ok && err == nil, err
}

func (s *storeImpl) Close() error {
	var err error
	s.closed.Do(func() {
		close(s.stop)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}
