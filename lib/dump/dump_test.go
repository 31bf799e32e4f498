package dump

import (
	"errors"
	"math"
	"testing"

	"github.com/ValentinKolb/dStudy/lib/record"
	"github.com/ValentinKolb/dStudy/lib/storage"
	"github.com/ValentinKolb/dStudy/lib/storage/memstorage"
	storagetesting "github.com/ValentinKolb/dStudy/lib/storage/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeKeyed(t *testing.T) {
	var written []string
	write := func(k string, v int) error {
		written = append(written, k)
		return nil
	}
	eq := func(a, b int) bool { return a == b }

	n, err := mergeKeyed(map[string]int{"c": 3, "a": 1, "b": 2}, map[string]int{"a": 1, "b": 5, "z": 9}, eq, write)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"b", "c"}, written, "only missing or changed keys, in key order")

	failing := func(k string, v int) error {
		if k == "b" {
			return errors.New("write failed")
		}
		return nil
	}
	n, err = mergeKeyed(map[string]int{"a": 1, "b": 2, "c": 3}, nil, eq, failing)
	assert.Error(t, err)
	assert.Equal(t, 1, n, "writes stop at the first failure")
}

func TestMergeScalar(t *testing.T) {
	calls := 0
	write := func(int) error { calls++; return nil }
	eq := func(a, b int) bool { return a == b }

	n, err := mergeScalar(1, 1, eq, write)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = mergeScalar(2, 1, eq, write)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, calls)
}

// TestInitialDump: source has #0 Complete(1.0), #1 Running with one intermediate value, no #2.
func TestInitialDump(t *testing.T) {
	src := newSource(t, "initial")
	tmpl := storagetesting.CompleteTemplate(0, 1.0)
	_, err := src.store.CreateTrial(src.study.ID, &tmpl)
	require.NoError(t, err)
	src.running(0.5)

	dst := memstorage.NewStorage()
	dstID, err := Bootstrap(src.refresh(), dst)
	require.NoError(t, err)
	stats, err := Dump(src.store, src.study.ID, dst, dstID)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Created)

	trials := allTrials(t, dst, dstID)
	require.Len(t, trials, 2)

	first := trials[0]
	assert.Equal(t, 0, first.Number)
	assert.Equal(t, record.TrialStateComplete, first.State)
	require.NotNil(t, first.Value)
	assert.Equal(t, 1.0, *first.Value)
	assert.Equal(t, tmpl.IntermediateValues, first.IntermediateValues)
	assert.True(t, record.AttrsEqual(tmpl.UserAttrs, first.UserAttrs))
	assert.Len(t, first.Params, 3)
	assert.True(t, tmpl.DatetimeStart.Equal(*first.DatetimeStart), "finished trials keep their timestamps")

	second := trials[1]
	assert.Equal(t, 1, second.Number)
	assert.Equal(t, record.TrialStateRunning, second.State)
	assert.Equal(t, map[int]float64{0: 0.5}, second.IntermediateValues)
	assert.Nil(t, second.Value)

	st, err := dst.GetStudy(dstID)
	require.NoError(t, err)
	assert.Equal(t, record.DirectionMinimize, st.Direction)
}

// TestTerminalTrialsAreFrozen: a finished destination trial is never touched, even if the source disagrees.
func TestTerminalTrialsAreFrozen(t *testing.T) {
	for _, d := range destinations() {
		t.Run(d.name, func(t *testing.T) {
			dst := d.open(t)
			dstID, err := dst.CreateStudy("frozen")
			require.NoError(t, err)
			frozen := storagetesting.CompleteTemplate(0, 1.0)
			_, err = dst.CreateTrial(dstID, &frozen)
			require.NoError(t, err)

			src := newSource(t, "frozen")
			src.complete(42)

			counting := &countingStorage{IStorage: dst}
			stats, err := Dump(src.store, src.study.ID, counting, dstID)
			require.NoError(t, err)
			assert.Equal(t, PassStats{Skipped: 1}, stats)
			assert.Zero(t, counting.writes.Load())

			trials := allTrials(t, dst, dstID)
			require.Len(t, trials, 1)
			assert.Equal(t, 1.0, *trials[0].Value)
		})
	}
}

func TestIdempotence(t *testing.T) {
	for _, d := range destinations() {
		t.Run(d.name, func(t *testing.T) {
			src := newSource(t, "idempotent")
			src.complete(3)
			src.running(1, 2, 3)
			id := src.running()
			require.NoError(t, src.store.SetTrialParam(id, "opt", 1, record.CategoricalDistribution{Choices: []any{"sgd", "adam"}}))
			require.NoError(t, src.store.SetTrialSystemAttr(id, "worker", map[string]any{"host": "a", "pid": 12}))

			dst := &countingStorage{IStorage: d.open(t)}
			dstID, stats, err := DumpStudy(src.store, src.study.ID, dst)
			require.NoError(t, err)
			assert.Positive(t, stats.Writes)

			before := dst.writes.Load()
			stats, err = Dump(src.store, src.study.ID, dst, dstID)
			require.NoError(t, err)
			assert.Equal(t, before, dst.writes.Load(), "second pass must not write")
			assert.Zero(t, stats.Writes)
			assert.Equal(t, 2, stats.Merged)
			assert.Equal(t, 1, stats.Skipped)

			_, err = SyncStudyAttrs(src.refresh(), dst, dstID)
			require.NoError(t, err)
			assert.Equal(t, before, dst.writes.Load())
		})
	}
}

func TestConvergence(t *testing.T) {
	for _, d := range destinations() {
		t.Run(d.name, func(t *testing.T) {
			src := newSource(t, "converge")
			dst := d.open(t)
			dstID, err := Bootstrap(src.refresh(), dst)
			require.NoError(t, err)

			pass := func() {
				t.Helper()
				_, err := Dump(src.store, src.study.ID, dst, dstID)
				require.NoError(t, err)
			}

			a := src.running(10)
			pass()
			b := src.running()
			require.NoError(t, src.store.SetTrialIntermediateValue(a, 1, 9))
			require.NoError(t, src.store.SetTrialUserAttr(a, "epoch", 1))
			pass()
			require.NoError(t, src.store.SetTrialUserAttr(a, "epoch", 2))
			require.NoError(t, src.store.SetTrialParam(b, "n", 4, record.IntDistribution{Low: 1, High: 8, Step: 1}))
			src.finish(a, 8)
			src.complete(5)
			pass()
			require.NoError(t, src.store.SetTrialState(b, record.TrialStatePruned))
			src.running(1)
			pass()

			requireReplicated(t, src.trials(), allTrials(t, dst, dstID))
		})
	}
}

// TestNonFiniteValues replicates NaN and ±Inf objective values into every
// backend and checks that a second pass finds nothing to write.
func TestNonFiniteValues(t *testing.T) {
	for _, d := range destinations() {
		t.Run(d.name, func(t *testing.T) {
			src := newSource(t, "non-finite")
			src.running(math.NaN(), math.Inf(1))
			src.complete(1)
			inf := src.running(0)
			require.NoError(t, src.store.SetTrialValue(inf, math.Inf(-1)))
			require.NoError(t, src.store.SetTrialState(inf, record.TrialStateComplete))
			nan := src.running(math.Inf(-1))
			require.NoError(t, src.store.SetTrialValue(nan, math.NaN()))
			require.NoError(t, src.store.SetTrialState(nan, record.TrialStateFailed))

			dst := &countingStorage{IStorage: d.open(t)}
			dstID, stats, err := DumpStudy(src.store, src.study.ID, dst)
			require.NoError(t, err)
			assert.Equal(t, 4, stats.Created)
			requireReplicated(t, src.trials(), allTrials(t, dst, dstID))

			before := dst.writes.Load()
			stats, err = Dump(src.store, src.study.ID, dst, dstID)
			require.NoError(t, err)
			assert.Zero(t, stats.Writes)
			assert.Equal(t, before, dst.writes.Load(), "second pass must not write")
		})
	}
}

func TestMonotonicNumbering(t *testing.T) {
	src := newSource(t, "numbers")
	dst := memstorage.NewStorage()
	dstID, err := Bootstrap(src.refresh(), dst)
	require.NoError(t, err)

	for round := 0; round < 5; round++ {
		for i := 0; i <= round; i++ {
			if i%2 == 0 {
				src.complete(float64(i))
			} else {
				src.running(float64(i))
			}
		}
		_, err := Dump(src.store, src.study.ID, dst, dstID)
		require.NoError(t, err)

		trials := allTrials(t, dst, dstID)
		require.Len(t, trials, len(src.trials()))
		for i, tr := range trials {
			assert.Equal(t, i, tr.Number)
		}
	}
}

func TestNumberMismatchIsIntegrityError(t *testing.T) {
	src := newSource(t, "mismatch")
	src.complete(1)
	src.running()

	dst := &hookStorage{IStorage: memstorage.NewStorage(), numberOffset: 1}
	dstID, err := Bootstrap(src.refresh(), dst)
	require.NoError(t, err)

	_, err = Dump(src.store, src.study.ID, dst, dstID)
	require.Error(t, err)
	assert.True(t, IsIntegrityError(err))

	var ie *IntegrityError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, 0, ie.Number)
	assert.True(t, ie.Fatal())
}

func TestRejectedIntermediateValueIsIntegrityError(t *testing.T) {
	src := newSource(t, "append-only")
	src.running(1, 2)

	inner := memstorage.NewStorage()
	dst := &hookStorage{IStorage: inner}
	dstID, err := Bootstrap(src.refresh(), dst)
	require.NoError(t, err)
	_, err = Dump(src.store, src.study.ID, dst, dstID)
	require.NoError(t, err)

	// the pass believes step 0 is missing although the destination has it
	dst.transformTrials = func(ts []record.Trial) []record.Trial {
		for i := range ts {
			delete(ts[i].IntermediateValues, 0)
		}
		return ts
	}
	_, err = Dump(src.store, src.study.ID, dst, dstID)
	require.Error(t, err)
	assert.True(t, IsIntegrityError(err))
	assert.True(t, storage.IsCode(err, storage.RetCInvalidOperation), "the destination error is wrapped")
}

func TestStorageErrorsArePropagated(t *testing.T) {
	src := newSource(t, "io")
	src.complete(1)

	boom := errors.New("destination unreachable")
	dst := &hookStorage{IStorage: memstorage.NewStorage(), beforeGetAllTrials: func() error { return boom }}
	dstID, err := Bootstrap(src.refresh(), dst)
	require.NoError(t, err)

	_, err = Dump(src.store, src.study.ID, dst, dstID)
	require.ErrorIs(t, err, boom)
	assert.False(t, IsIntegrityError(err))
}

// TestPassStopsAtFirstFailure checks that a failing trial leaves all earlier trials replicated and no later one touched.
func TestPassStopsAtFirstFailure(t *testing.T) {
	src := newSource(t, "prefix")
	src.complete(0)
	bad := src.running()
	src.complete(2)

	dst := memstorage.NewStorage()
	dstID, err := Bootstrap(src.refresh(), dst)
	require.NoError(t, err)

	// an attr value the destination can not take
	require.NoError(t, src.store.SetTrialUserAttr(bad, "x", 1))
	failing := &failingAttrStorage{IStorage: dst, key: "x"}
	_, err = Dump(src.store, src.study.ID, failing, dstID)
	require.Error(t, err)

	trials := allTrials(t, dst, dstID)
	require.Len(t, trials, 2, "trial 2 must not be created")
	assert.Equal(t, record.TrialStateComplete, trials[0].State)
	assert.Equal(t, record.TrialStateRunning, trials[1].State)

	// the next pass resumes once the destination accepts the write
	_, err = Dump(src.store, src.study.ID, dst, dstID)
	require.NoError(t, err)
	requireReplicated(t, src.trials(), allTrials(t, dst, dstID))
}

type failingAttrStorage struct {
	storage.IStorage
	key string
}

func (f *failingAttrStorage) SetTrialUserAttr(id record.TrialID, key string, value any) error {
	if key == f.key {
		return storage.NewError(storage.RetCInternalError, "disk full")
	}
	return f.IStorage.SetTrialUserAttr(id, key, value)
}

func TestBootstrapAttaches(t *testing.T) {
	dst := memstorage.NewStorage()
	existing, err := dst.CreateStudy("shared")
	require.NoError(t, err)

	src := record.Study{Name: "shared", Direction: record.DirectionMaximize}
	id, err := Bootstrap(src, dst)
	require.NoError(t, err)
	assert.Equal(t, existing, id)

	id, err = Bootstrap(src, dst)
	require.NoError(t, err)
	assert.Equal(t, existing, id)

	st, err := dst.GetStudy(id)
	require.NoError(t, err)
	assert.Equal(t, record.DirectionMaximize, st.Direction)

	// a destination study with another direction is not attached silently
	_, err = Bootstrap(record.Study{Name: "shared", Direction: record.DirectionMinimize}, dst)
	assert.True(t, storage.IsCode(err, storage.RetCInvalidOperation))
}

func TestSyncStudyAttrsUpserts(t *testing.T) {
	dst := memstorage.NewStorage()
	id, err := dst.CreateStudy("attrs")
	require.NoError(t, err)
	require.NoError(t, dst.SetStudyUserAttr(id, "only-dst", 1))
	require.NoError(t, dst.SetStudyUserAttr(id, "same", "v"))
	require.NoError(t, dst.SetStudyUserAttr(id, "changed", "old"))

	src := record.Study{
		Name:        "attrs",
		UserAttrs:   record.Attrs{"same": "v", "changed": "new", "added": []any{1, 2}},
		SystemAttrs: record.Attrs{"sys": true},
	}
	writes, err := SyncStudyAttrs(src, dst, id)
	require.NoError(t, err)
	assert.Equal(t, 3, writes)

	st, err := dst.GetStudy(id)
	require.NoError(t, err)
	assert.True(t, record.AttrsEqual(record.Attrs{
		"only-dst": 1, "same": "v", "changed": "new", "added": []any{1, 2},
	}, st.UserAttrs))
	assert.True(t, record.AttrsEqual(record.Attrs{"sys": true}, st.SystemAttrs))
}
