package testing

import (
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/dStudy/lib/record"
	"github.com/ValentinKolb/dStudy/lib/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunStorageTests runs the conformance suite against a storage implementation.
func RunStorageTests(t *testing.T, name string, factory storage.Factory) {
	t.Run(name, func(t *testing.T) {
		t.Run("StudyLifecycle", func(t *testing.T) {
			testStudyLifecycle(t, factory())
		})

		t.Run("StudyDirection", func(t *testing.T) {
			testStudyDirection(t, factory())
		})

		t.Run("StudyAttrs", func(t *testing.T) {
			testStudyAttrs(t, factory())
		})

		t.Run("PlaceholderTrials", func(t *testing.T) {
			testPlaceholderTrials(t, factory())
		})

		t.Run("TemplateTrials", func(t *testing.T) {
			testTemplateTrials(t, factory())
		})

		t.Run("TrialSetters", func(t *testing.T) {
			testTrialSetters(t, factory())
		})

		t.Run("FinishedTrialsAreImmutable", func(t *testing.T) {
			testFinishedTrialsAreImmutable(t, factory())
		})

		t.Run("IntermediateValuesAppendOnly", func(t *testing.T) {
			testIntermediateValuesAppendOnly(t, factory())
		})

		t.Run("NonFiniteValues", func(t *testing.T) {
			testNonFiniteValues(t, factory())
		})

		t.Run("Params", func(t *testing.T) {
			testParams(t, factory())
		})

		t.Run("TrialsPerStudy", func(t *testing.T) {
			testTrialsPerStudy(t, factory())
		})

		t.Run("NotFound", func(t *testing.T) {
			testNotFound(t, factory())
		})

		t.Run("ConcurrentWriters", func(t *testing.T) {
			testConcurrentWriters(t, factory())
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// requireCode fails the test unless err carries the given storage code.
func requireCode(t testing.TB, err error, code storage.RetCode) {
	t.Helper()
	require.Error(t, err)
	require.Truef(t, storage.IsCode(err, code), "expected code %s, got %v", code, err)
}

// CompleteTemplate returns a valid, finished trial snapshot with every field
// family populated.
func CompleteTemplate(number int, value float64) record.Trial {
	start := time.Now().Add(-time.Second).UTC().Truncate(time.Millisecond)
	end := start.Add(500 * time.Millisecond)
	return record.Trial{
		Number:             number,
		State:              record.TrialStateComplete,
		Value:              &value,
		IntermediateValues: map[int]float64{0: value + 2, 1: value + 1},
		Params:             map[string]any{"x": 0.25, "n": int64(3), "opt": "adam"},
		Distributions: map[string]record.Distribution{
			"x":   record.FloatDistribution{Low: 0, High: 1},
			"n":   record.IntDistribution{Low: 1, High: 5, Step: 1},
			"opt": record.CategoricalDistribution{Choices: []any{"sgd", "adam"}},
		},
		UserAttrs:        record.Attrs{"note": "template"},
		SystemAttrs:      record.Attrs{"origin": map[string]any{"n": 1}},
		DatetimeStart:    &start,
		DatetimeComplete: &end,
	}
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testStudyLifecycle(t *testing.T, s storage.IStorage) {
	defer s.Close()

	id, err := s.CreateStudy("alpha")
	require.NoError(t, err)

	_, err = s.CreateStudy("alpha")
	requireCode(t, err, storage.RetCAlreadyExists)

	found, err := s.GetStudyIDByName("alpha")
	require.NoError(t, err)
	assert.Equal(t, id, found)

	st, err := s.GetStudy(id)
	require.NoError(t, err)
	assert.Equal(t, "alpha", st.Name)
	assert.Equal(t, record.DirectionNotSet, st.Direction)
	assert.Empty(t, st.UserAttrs)

	id2, err := s.CreateStudy("beta")
	require.NoError(t, err)
	assert.NotEqual(t, id, id2)

	all, err := s.GetAllStudies()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "alpha", all[0].Name)
	assert.Equal(t, "beta", all[1].Name)
}

func testStudyDirection(t *testing.T, s storage.IStorage) {
	defer s.Close()

	id, err := s.CreateStudy("direction")
	require.NoError(t, err)

	require.NoError(t, s.SetStudyDirection(id, record.DirectionMaximize))
	require.NoError(t, s.SetStudyDirection(id, record.DirectionMaximize))
	requireCode(t, s.SetStudyDirection(id, record.DirectionMinimize), storage.RetCInvalidOperation)

	st, err := s.GetStudy(id)
	require.NoError(t, err)
	assert.Equal(t, record.DirectionMaximize, st.Direction)
}

func testStudyAttrs(t *testing.T, s storage.IStorage) {
	defer s.Close()

	id, err := s.CreateStudy("attrs")
	require.NoError(t, err)

	require.NoError(t, s.SetStudyUserAttr(id, "a", 1))
	require.NoError(t, s.SetStudyUserAttr(id, "a", 2))
	require.NoError(t, s.SetStudySystemAttr(id, "nested", map[string]any{"k": []any{"v", 1}}))

	st, err := s.GetStudy(id)
	require.NoError(t, err)
	assert.True(t, record.AttrsEqual(record.Attrs{"a": 2}, st.UserAttrs), "got %v", st.UserAttrs)
	assert.True(t, record.AttrsEqual(record.Attrs{"nested": map[string]any{"k": []any{"v", 1}}}, st.SystemAttrs),
		"got %v", st.SystemAttrs)

	// returned records are copies
	st.UserAttrs["a"] = 100
	st, err = s.GetStudy(id)
	require.NoError(t, err)
	assert.True(t, record.ValueEqual(2, st.UserAttrs["a"]))
}

func testPlaceholderTrials(t *testing.T, s storage.IStorage) {
	defer s.Close()

	sid, err := s.CreateStudy("placeholder")
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		tid, err := s.CreateTrial(sid, nil)
		require.NoError(t, err)

		n, err := s.GetTrialNumberFromID(tid)
		require.NoError(t, err)
		assert.Equal(t, i, n)

		tr, err := s.GetTrial(tid)
		require.NoError(t, err)
		assert.Equal(t, tid, tr.ID)
		assert.Equal(t, record.TrialStateRunning, tr.State)
		assert.Nil(t, tr.Value)
		assert.NotNil(t, tr.DatetimeStart)
		assert.Nil(t, tr.DatetimeComplete)
		assert.Empty(t, tr.Params)
	}
}

func testTemplateTrials(t *testing.T, s storage.IStorage) {
	defer s.Close()

	sid, err := s.CreateStudy("template")
	require.NoError(t, err)

	tmpl := CompleteTemplate(42, 1.5)
	tid, err := s.CreateTrial(sid, &tmpl)
	require.NoError(t, err)

	tr, err := s.GetTrial(tid)
	require.NoError(t, err)
	assert.Equal(t, 0, tr.Number, "the store assigns numbers, not the template")
	assert.Equal(t, record.TrialStateComplete, tr.State)
	require.NotNil(t, tr.Value)
	assert.Equal(t, 1.5, *tr.Value)
	assert.Equal(t, tmpl.IntermediateValues, tr.IntermediateValues)
	require.Len(t, tr.Params, 3)
	for name, v := range tmpl.Params {
		assert.Truef(t, record.ValueEqual(v, tr.Params[name]), "param %s: %v != %v", name, v, tr.Params[name])
		assert.True(t, record.DistributionsEqual(tmpl.Distributions[name], tr.Distributions[name]))
	}
	assert.True(t, record.AttrsEqual(tmpl.UserAttrs, tr.UserAttrs))
	assert.True(t, record.AttrsEqual(tmpl.SystemAttrs, tr.SystemAttrs))
	require.NotNil(t, tr.DatetimeComplete)
	assert.True(t, tmpl.DatetimeComplete.Equal(*tr.DatetimeComplete))

	// invalid templates are rejected
	bad := CompleteTemplate(0, 1)
	bad.Value = nil
	_, err = s.CreateTrial(sid, &bad)
	requireCode(t, err, storage.RetCInvalidOperation)
}

func testTrialSetters(t *testing.T, s storage.IStorage) {
	defer s.Close()

	sid, err := s.CreateStudy("setters")
	require.NoError(t, err)
	tid, err := s.CreateTrial(sid, nil)
	require.NoError(t, err)

	require.NoError(t, s.SetTrialUserAttr(tid, "u", "x"))
	require.NoError(t, s.SetTrialUserAttr(tid, "u", "y"))
	require.NoError(t, s.SetTrialSystemAttr(tid, "s", 3))
	require.NoError(t, s.SetTrialIntermediateValue(tid, 0, 0.5))
	require.NoError(t, s.SetTrialValue(tid, 7))
	require.NoError(t, s.SetTrialValue(tid, 8))

	tr, err := s.GetTrial(tid)
	require.NoError(t, err)
	assert.True(t, record.AttrsEqual(record.Attrs{"u": "y"}, tr.UserAttrs))
	assert.True(t, record.AttrsEqual(record.Attrs{"s": 3}, tr.SystemAttrs))
	assert.Equal(t, map[int]float64{0: 0.5}, tr.IntermediateValues)
	require.NotNil(t, tr.Value)
	assert.Equal(t, 8.0, *tr.Value)
	assert.Equal(t, record.TrialStateRunning, tr.State)

	require.NoError(t, s.SetTrialState(tid, record.TrialStateComplete))
	tr, err = s.GetTrial(tid)
	require.NoError(t, err)
	assert.Equal(t, record.TrialStateComplete, tr.State)
	assert.NotNil(t, tr.DatetimeComplete)
}

func testFinishedTrialsAreImmutable(t *testing.T, s storage.IStorage) {
	defer s.Close()

	sid, err := s.CreateStudy("immutable")
	require.NoError(t, err)

	for _, state := range []record.TrialState{record.TrialStateComplete, record.TrialStatePruned, record.TrialStateFailed} {
		t.Run(state.String(), func(t *testing.T) {
			tid, err := s.CreateTrial(sid, nil)
			require.NoError(t, err)
			if state == record.TrialStateComplete {
				require.NoError(t, s.SetTrialValue(tid, 1))
			}
			require.NoError(t, s.SetTrialState(tid, state))

			requireCode(t, s.SetTrialValue(tid, 2), storage.RetCTrialFinished)
			requireCode(t, s.SetTrialState(tid, record.TrialStateRunning), storage.RetCTrialFinished)
			requireCode(t, s.SetTrialIntermediateValue(tid, 1, 1), storage.RetCTrialFinished)
			requireCode(t, s.SetTrialParam(tid, "x", 0.5, record.FloatDistribution{Low: 0, High: 1}), storage.RetCTrialFinished)
			requireCode(t, s.SetTrialUserAttr(tid, "k", 1), storage.RetCTrialFinished)
			requireCode(t, s.SetTrialSystemAttr(tid, "k", 1), storage.RetCTrialFinished)

			tr, err := s.GetTrial(tid)
			require.NoError(t, err)
			assert.Equal(t, state, tr.State)
			assert.Empty(t, tr.UserAttrs)
		})
	}
}

func testIntermediateValuesAppendOnly(t *testing.T, s storage.IStorage) {
	defer s.Close()

	sid, err := s.CreateStudy("append-only")
	require.NoError(t, err)
	tid, err := s.CreateTrial(sid, nil)
	require.NoError(t, err)

	require.NoError(t, s.SetTrialIntermediateValue(tid, 3, 1.0))
	requireCode(t, s.SetTrialIntermediateValue(tid, 3, 1.0), storage.RetCInvalidOperation)
	requireCode(t, s.SetTrialIntermediateValue(tid, 3, 2.0), storage.RetCInvalidOperation)
	require.NoError(t, s.SetTrialIntermediateValue(tid, 0, 5.0))

	tr, err := s.GetTrial(tid)
	require.NoError(t, err)
	assert.Equal(t, map[int]float64{0: 5.0, 3: 1.0}, tr.IntermediateValues)
}

// requireFloat compares objective values, treating NaN as equal to itself.
func requireFloat(t testing.TB, expected, actual float64) {
	t.Helper()
	if math.IsNaN(expected) {
		require.Truef(t, math.IsNaN(actual), "expected NaN, got %v", actual)
		return
	}
	require.Equal(t, expected, actual)
}

func testNonFiniteValues(t *testing.T, s storage.IStorage) {
	defer s.Close()

	sid, err := s.CreateStudy("non-finite")
	require.NoError(t, err)

	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		t.Run(fmt.Sprint(v), func(t *testing.T) {
			// setters
			tid, err := s.CreateTrial(sid, nil)
			require.NoError(t, err)
			require.NoError(t, s.SetTrialIntermediateValue(tid, 0, v))
			require.NoError(t, s.SetTrialIntermediateValue(tid, 1, 2.5))
			require.NoError(t, s.SetTrialValue(tid, v))
			require.NoError(t, s.SetTrialState(tid, record.TrialStateComplete))

			tr, err := s.GetTrial(tid)
			require.NoError(t, err)
			require.NotNil(t, tr.Value)
			requireFloat(t, v, *tr.Value)
			require.Len(t, tr.IntermediateValues, 2)
			requireFloat(t, v, tr.IntermediateValues[0])
			requireFloat(t, 2.5, tr.IntermediateValues[1])

			// templates
			tmpl := CompleteTemplate(0, v)
			tmpl.IntermediateValues = map[int]float64{0: v, 1: -v, 2: 1}
			tid, err = s.CreateTrial(sid, &tmpl)
			require.NoError(t, err)

			tr, err = s.GetTrial(tid)
			require.NoError(t, err)
			require.NotNil(t, tr.Value)
			requireFloat(t, v, *tr.Value)
			require.Len(t, tr.IntermediateValues, 3)
			for step, want := range tmpl.IntermediateValues {
				requireFloat(t, want, tr.IntermediateValues[step])
			}
		})
	}
}

func testParams(t *testing.T, s storage.IStorage) {
	defer s.Close()

	sid, err := s.CreateStudy("params")
	require.NoError(t, err)
	tid, err := s.CreateTrial(sid, nil)
	require.NoError(t, err)

	cat := record.CategoricalDistribution{Choices: []any{"a", "b", "c"}}
	ints := record.IntDistribution{Low: 0, High: 10, Step: 2}

	require.NoError(t, s.SetTrialParam(tid, "c", 2, cat))
	require.NoError(t, s.SetTrialParam(tid, "i", 4, ints))
	// writing the same value again is accepted
	require.NoError(t, s.SetTrialParam(tid, "c", 2, cat))

	requireCode(t, s.SetTrialParam(tid, "c", 1, cat), storage.RetCInvalidOperation)
	requireCode(t, s.SetTrialParam(tid, "bad", 3, ints), storage.RetCInvalidOperation)
	requireCode(t, s.SetTrialParam(tid, "bad", 7, cat), storage.RetCInvalidOperation)

	tr, err := s.GetTrial(tid)
	require.NoError(t, err)
	assert.Equal(t, "c", tr.Params["c"])
	assert.True(t, record.ValueEqual(int64(4), tr.Params["i"]))
	assert.True(t, record.DistributionsEqual(cat, tr.Distributions["c"]))
	assert.True(t, record.DistributionsEqual(ints, tr.Distributions["i"]))
	assert.NotContains(t, tr.Params, "bad")
}

func testTrialsPerStudy(t *testing.T, s storage.IStorage) {
	defer s.Close()

	a, err := s.CreateStudy("a")
	require.NoError(t, err)
	b, err := s.CreateStudy("b")
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err := s.CreateTrial(a, nil)
		require.NoError(t, err)
		if i%2 == 0 {
			_, err := s.CreateTrial(b, nil)
			require.NoError(t, err)
		}
	}

	ta, err := s.GetAllTrials(a)
	require.NoError(t, err)
	tb, err := s.GetAllTrials(b)
	require.NoError(t, err)
	require.Len(t, ta, 4)
	require.Len(t, tb, 2)
	for i, tr := range ta {
		assert.Equal(t, i, tr.Number)
	}
	for i, tr := range tb {
		assert.Equal(t, i, tr.Number)
	}

	empty, err := s.CreateStudy("empty")
	require.NoError(t, err)
	none, err := s.GetAllTrials(empty)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testNotFound(t *testing.T, s storage.IStorage) {
	defer s.Close()

	_, err := s.GetStudyIDByName("missing")
	requireCode(t, err, storage.RetCNotFound)
	_, err = s.GetStudy(12345)
	requireCode(t, err, storage.RetCNotFound)
	_, err = s.GetTrial(12345)
	requireCode(t, err, storage.RetCNotFound)
	_, err = s.CreateTrial(12345, nil)
	requireCode(t, err, storage.RetCNotFound)
	requireCode(t, s.SetTrialValue(12345, 1), storage.RetCNotFound)
	_, err = s.GetAllTrials(12345)
	requireCode(t, err, storage.RetCNotFound)
}

func testConcurrentWriters(t *testing.T, s storage.IStorage) {
	defer s.Close()

	sid, err := s.CreateStudy("concurrent")
	require.NoError(t, err)

	const workers, perWorker = 4, 10
	var wg sync.WaitGroup
	errs := make(chan error, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				tid, err := s.CreateTrial(sid, nil)
				if err != nil {
					errs <- err
					return
				}
				if err := s.SetTrialIntermediateValue(tid, 0, float64(i)); err != nil {
					errs <- err
				}
				if err := s.SetTrialValue(tid, float64(i)); err != nil {
					errs <- err
				}
				if err := s.SetTrialState(tid, record.TrialStateComplete); err != nil {
					errs <- err
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	trials, err := s.GetAllTrials(sid)
	require.NoError(t, err)
	require.Len(t, trials, workers*perWorker)
	for i, tr := range trials {
		assert.Equal(t, i, tr.Number, fmt.Sprintf("trial at index %d", i))
		assert.Equal(t, record.TrialStateComplete, tr.State)
	}
}
