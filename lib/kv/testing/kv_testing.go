// Package testing provides a conformance suite for kv.IStore implementations.
package testing

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/dStudy/lib/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreFactory is a function that creates a new instance of a kv.IStore implementation
type StoreFactory func(t *testing.T) kv.IStore

// RunIStoreTests runs the conformance suite against a kv.IStore implementation.
func RunIStoreTests(t *testing.T, name string, factory StoreFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Set&Get", func(t *testing.T) {
			testSetGet(t, factory(t))
		})

		t.Run("Delete", func(t *testing.T) {
			testDelete(t, factory(t))
		})

		t.Run("DeleteIfEqual", func(t *testing.T) {
			testDeleteIfEqual(t, factory(t))
		})

		t.Run("SetIfUnset", func(t *testing.T) {
			testSetIfUnset(t, factory(t))
		})

		t.Run("TTL", func(t *testing.T) {
			testTTL(t, factory(t))
		})

		t.Run("ConcurrentSetIfUnset", func(t *testing.T) {
			testConcurrentSetIfUnset(t, factory(t))
		})
	})
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testSetGet(t *testing.T, s kv.IStore) {
	defer s.Close()

	require.NoError(t, s.Set("k", []byte("v1")))
	v, ok, err := s.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v1"), v)

	require.NoError(t, s.Set("k", []byte("v2")))
	v, ok, err = s.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), v)

	// Get should return a copy, not a reference to the stored value
	v[0] = 'X'
	v, _, err = s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), v)

	_, ok, err = s.Get("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testDelete(t *testing.T, s kv.IStore) {
	defer s.Close()

	require.NoError(t, s.Set("k", []byte("v")))
	require.NoError(t, s.Delete("k"))
	_, ok, err := s.Get("k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Delete("never-set"))
}

func testDeleteIfEqual(t *testing.T, s kv.IStore) {
	defer s.Close()

	require.NoError(t, s.Set("k", []byte("owner-1")))

	ok, err := s.DeleteIfEqual("k", []byte("owner-2"))
	require.NoError(t, err)
	assert.False(t, ok)
	v, found, err := s.Get("k")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("owner-1"), v)

	ok, err = s.DeleteIfEqual("k", []byte("owner-1"))
	require.NoError(t, err)
	assert.True(t, ok)
	_, found, err = s.Get("k")
	require.NoError(t, err)
	assert.False(t, found)

	// a missing key counts as deleted
	ok, err = s.DeleteIfEqual("k", []byte("owner-1"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func testSetIfUnset(t *testing.T, s kv.IStore) {
	defer s.Close()

	require.NoError(t, s.SetIfUnset("k", []byte("first"), 0))
	require.NoError(t, s.SetIfUnset("k", []byte("second"), 0))
	v, ok, err := s.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("first"), v)

	require.NoError(t, s.Delete("k"))
	require.NoError(t, s.SetIfUnset("k", []byte("third"), 0))
	v, _, err = s.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("third"), v)
}

func testTTL(t *testing.T, s kv.IStore) {
	defer s.Close()

	require.NoError(t, s.SetIfUnset("ttl", []byte("v"), time.Second))
	_, ok, err := s.Get("ttl")
	require.NoError(t, err)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		_, ok, err := s.Get("ttl")
		return err == nil && !ok
	}, 5*time.Second, 50*time.Millisecond)

	// an expired key can be set again
	require.NoError(t, s.SetIfUnset("ttl", []byte("again"), 0))
	v, ok, err := s.Get("ttl")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("again"), v)
}

func testConcurrentSetIfUnset(t *testing.T, s kv.IStore) {
	defer s.Close()

	const writers = 8
	var wg sync.WaitGroup
	var failed atomic.Int32
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.SetIfUnset("contended", []byte(fmt.Sprintf("writer-%d", i)), 0); err != nil {
				failed.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Zero(t, failed.Load())

	v, ok, err := s.Get("contended")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Regexp(t, `^writer-\d$`, string(v))
}
