package memstorage

import (
	"testing"

	"github.com/ValentinKolb/dStudy/lib/record"
	"github.com/ValentinKolb/dStudy/lib/storage"
	storagetesting "github.com/ValentinKolb/dStudy/lib/storage/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemStorage(t *testing.T) {
	storagetesting.RunStorageTests(t, "memstorage", NewStorage)
}

// TestSnapshotsAreIsolated checks that a snapshot does not change when the
// live trial is mutated afterwards.
func TestSnapshotsAreIsolated(t *testing.T) {
	s := NewStorage()
	sid, err := s.CreateStudy("isolated")
	require.NoError(t, err)
	tid, err := s.CreateTrial(sid, nil)
	require.NoError(t, err)
	require.NoError(t, s.SetTrialIntermediateValue(tid, 0, 1))

	snapshot, err := s.GetAllTrials(sid)
	require.NoError(t, err)

	require.NoError(t, s.SetTrialIntermediateValue(tid, 1, 2))
	require.NoError(t, s.SetTrialState(tid, record.TrialStatePruned))

	require.Len(t, snapshot, 1)
	assert.Len(t, snapshot[0].IntermediateValues, 1)
	assert.Equal(t, record.TrialStateRunning, snapshot[0].State)

	_, err = s.CreateTrial(sid, nil)
	require.NoError(t, err)
	assert.Len(t, snapshot, 1)
	assert.True(t, storage.IsCode(s.SetTrialValue(tid, 1), storage.RetCTrialFinished))
}
