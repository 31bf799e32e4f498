package lstore

import (
	"bytes"
	"time"

	"github.com/ValentinKolb/dStudy/lib/kv"
	"github.com/puzpuzpuz/xsync/v3"
)

// entry is a stored value with an optional deletion deadline
type entry struct {
	value    []byte
	deleteAt time.Time // zero means no deletion
}

func (e entry) deleted(now time.Time) bool {
	return !e.deleteAt.IsZero() && !now.Before(e.deleteAt)
}

type storeImpl struct {
	data *xsync.MapOf[string, entry]
	now  func() time.Time
}

// NewLocalStore creates a new local store instance.
// This store implementation is not distributed and only works in a single process.
func NewLocalStore() kv.IStore {
	return &storeImpl{
		data: xsync.NewMapOf[string, entry](),
		now:  time.Now,
	}
}

// clone copies a value so callers never share the stored slice
func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return bytes.Clone(b)
}

// --------------------------------------------------------------------------
// Interface Methods (docu see kv/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Set(key string, value []byte) error {
	s.data.Store(key, entry{value: clone(value)})
	return nil
}

func (s *storeImpl) SetIfUnset(key string, value []byte, ttl time.Duration) error {
	now := s.now()
	s.data.Compute(key, func(old entry, loaded bool) (entry, bool) {
		if loaded && !old.deleted(now) {
			return old, false
		}
		e := entry{value: clone(value)}
		if ttl > 0 {
			e.deleteAt = now.Add(ttl)
		}
		return e, false
	})
	return nil
}

func (s *storeImpl) Get(key string) ([]byte, bool, error) {
	e, ok := s.data.Load(key)
	if !ok {
		return nil, false, nil
	}
	if e.deleted(s.now()) {
		// lazily drop the expired entry (unless it was replaced in the meantime)
		s.data.Compute(key, func(old entry, loaded bool) (entry, bool) {
			return old, loaded && old.deleted(s.now())
		})
		return nil, false, nil
	}
	return clone(e.value), true, nil
}

func (s *storeImpl) Delete(key string) error {
	s.data.Delete(key)
	return nil
}

func (s *storeImpl) DeleteIfEqual(key string, value []byte) (bool, error) {
	ok := true
	now := s.now()
	s.data.Compute(key, func(old entry, loaded bool) (entry, bool) {
		if !loaded || old.deleted(now) {
			return old, true
		}
		if !bytes.Equal(old.value, value) {
			ok = false
			return old, false
		}
		return old, true
	})
	return ok, nil
}

func (s *storeImpl) Close() error {
	s.data.Clear()
	return nil
}
