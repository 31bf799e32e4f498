package bstore

import (
	"testing"

	"github.com/ValentinKolb/dStudy/lib/kv"
	kvtesting "github.com/ValentinKolb/dStudy/lib/kv/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadgerStoreInMemory(t *testing.T) {
	kvtesting.RunIStoreTests(t, "bstore(memory)", func(t *testing.T) kv.IStore {
		s, err := NewBadgerStore(InMemoryConfig())
		require.NoError(t, err)
		return s
	})
}

func TestBadgerStoreOnDisk(t *testing.T) {
	kvtesting.RunIStoreTests(t, "bstore(disk)", func(t *testing.T) kv.IStore {
		conf := DefaultConfig(t.TempDir())
		conf.SyncWrites = false
		conf.Quiet = true
		s, err := NewBadgerStore(conf)
		require.NoError(t, err)
		return s
	})
}

// TestPersistence checks that values survive closing and reopening the database.
func TestPersistence(t *testing.T) {
	conf := DefaultConfig(t.TempDir())
	conf.Quiet = true

	s, err := NewBadgerStore(conf)
	require.NoError(t, err)
	require.NoError(t, s.Set("durable", []byte("value")))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "closing twice is a no-op")

	s, err = NewBadgerStore(conf)
	require.NoError(t, err)
	defer s.Close()

	v, ok, err := s.Get("durable")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("value"), v)
}

func TestConfigRequiresPath(t *testing.T) {
	_, err := NewBadgerStore(Config{})
	assert.Error(t, err)
}
