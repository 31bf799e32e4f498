package kvstorage

import (
	"testing"

	"github.com/ValentinKolb/dStudy/lib/kv/bstore"
	"github.com/ValentinKolb/dStudy/lib/kv/lstore"
	"github.com/ValentinKolb/dStudy/lib/record"
	"github.com/ValentinKolb/dStudy/lib/serializer"
	"github.com/ValentinKolb/dStudy/lib/storage"
	storagetesting "github.com/ValentinKolb/dStudy/lib/storage/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKVStorageOnLocalStore(t *testing.T) {
	for _, name := range []string{"json", "gob"} {
		ser, err := serializer.NewSerializer(name)
		require.NoError(t, err)
		storagetesting.RunStorageTests(t, "lstore/"+name, func() storage.IStorage {
			return NewStorage(lstore.NewLocalStore(), ser)
		})
	}
}

func TestKVStorageOnBadger(t *testing.T) {
	storagetesting.RunStorageTests(t, "bstore/gob", func() storage.IStorage {
		s, err := bstore.NewBadgerStore(bstore.InMemoryConfig())
		require.NoError(t, err)
		return NewStorage(s, serializer.NewGOBSerializer())
	})
}

// TestReopen checks that ids and numbers continue after reopening a durable backend.
func TestReopen(t *testing.T) {
	conf := bstore.DefaultConfig(t.TempDir())
	conf.Quiet = true

	open := func() storage.IStorage {
		s, err := bstore.NewBadgerStore(conf)
		require.NoError(t, err)
		return NewStorage(s, serializer.NewGOBSerializer())
	}

	st := open()
	studyID, err := st.CreateStudy("persisted")
	require.NoError(t, err)
	tmpl := storagetesting.CompleteTemplate(0, 2.5)
	firstTrial, err := st.CreateTrial(studyID, &tmpl)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st = open()
	defer st.Close()

	found, err := st.GetStudyIDByName("persisted")
	require.NoError(t, err)
	assert.Equal(t, studyID, found)

	secondTrial, err := st.CreateTrial(studyID, nil)
	require.NoError(t, err)
	assert.Greater(t, secondTrial, firstTrial)

	n, err := st.GetTrialNumberFromID(secondTrial)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	trials, err := st.GetAllTrials(studyID)
	require.NoError(t, err)
	require.Len(t, trials, 2)
	assert.Equal(t, record.TrialStateComplete, trials[0].State)
	assert.Equal(t, 2.5, *trials[0].Value)
	assert.Equal(t, record.TrialStateRunning, trials[1].State)
}

// TestRejectedTemplateConsumesNoNumber checks that an invalid template leaves the numbering untouched.
func TestRejectedTemplateConsumesNoNumber(t *testing.T) {
	st := NewStorage(lstore.NewLocalStore(), serializer.NewJSONSerializer())
	defer st.Close()

	studyID, err := st.CreateStudy("s")
	require.NoError(t, err)

	bad := storagetesting.CompleteTemplate(0, 1)
	bad.DatetimeStart = nil
	_, err = st.CreateTrial(studyID, &bad)
	assert.True(t, storage.IsCode(err, storage.RetCInvalidOperation))

	id, err := st.CreateTrial(studyID, nil)
	require.NoError(t, err)
	n, err := st.GetTrialNumberFromID(id)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
