package study

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ValentinKolb/dStudy/lib/record"
	"github.com/ValentinKolb/dStudy/lib/storage/memstorage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fatalErr struct{}

func (fatalErr) Error() string { return "fatal" }
func (fatalErr) Fatal() bool   { return true }

func quadratic(_ context.Context, t *Trial) (float64, error) {
	x, err := t.SuggestFloat("x", -10, 10, false)
	if err != nil {
		return 0, err
	}
	if err := t.Report(0, x); err != nil {
		return 0, err
	}
	return (x - 2) * (x - 2), nil
}

func TestOptimizeRunsAllTrials(t *testing.T) {
	s, err := CreateStudy(memstorage.NewStorage(), "quad", record.DirectionMinimize)
	require.NoError(t, err)

	var mu sync.Mutex
	seen := map[int]bool{}
	cb := func(_ *Study, tr record.Trial) error {
		mu.Lock()
		defer mu.Unlock()
		assert.True(t, tr.State.IsFinished())
		seen[tr.Number] = true
		return nil
	}

	require.NoError(t, s.Optimize(context.Background(), quadratic, OptimizeConfig{
		NTrials: 40, NJobs: 4, Seed: 7, Callbacks: []CallbackFunc{cb},
	}))

	trials, err := s.Trials()
	require.NoError(t, err)
	require.Len(t, trials, 40)
	for i, tr := range trials {
		assert.Equal(t, i, tr.Number)
		assert.Equal(t, record.TrialStateComplete, tr.State)
		require.NotNil(t, tr.Value)
		assert.Len(t, tr.IntermediateValues, 1)
		x := tr.Params["x"].(float64)
		assert.InDelta(t, (x-2)*(x-2), *tr.Value, 1e-9)
	}
	assert.Len(t, seen, 40)

	best, err := s.BestTrial()
	require.NoError(t, err)
	for _, tr := range trials {
		assert.LessOrEqual(t, *best.Value, *tr.Value)
	}
}

func TestObjectiveErrorsSetState(t *testing.T) {
	s, err := CreateStudy(memstorage.NewStorage(), "states", record.DirectionMaximize)
	require.NoError(t, err)

	objective := func(_ context.Context, t *Trial) (float64, error) {
		switch t.Number() % 3 {
		case 1:
			return 0, ErrPruned
		case 2:
			return 0, errors.New("boom")
		}
		return float64(t.Number()), nil
	}
	require.NoError(t, s.Optimize(context.Background(), objective, OptimizeConfig{NTrials: 6, NJobs: 1}))

	trials, err := s.Trials()
	require.NoError(t, err)
	want := []record.TrialState{
		record.TrialStateComplete, record.TrialStatePruned, record.TrialStateFailed,
		record.TrialStateComplete, record.TrialStatePruned, record.TrialStateFailed,
	}
	for i, tr := range trials {
		assert.Equal(t, want[i], tr.State, "trial %d", i)
	}

	best, err := s.BestTrial()
	require.NoError(t, err)
	assert.Equal(t, 3, best.Number)
}

func TestCallbackErrors(t *testing.T) {
	t.Run("ordinary errors are ignored", func(t *testing.T) {
		s, err := CreateStudy(memstorage.NewStorage(), "ignored", record.DirectionMinimize)
		require.NoError(t, err)
		err = s.Optimize(context.Background(), quadratic, OptimizeConfig{
			NTrials: 5, NJobs: 2,
			Callbacks: []CallbackFunc{func(*Study, record.Trial) error { return errors.New("destination down") }},
		})
		require.NoError(t, err)
		trials, err := s.Trials()
		require.NoError(t, err)
		assert.Len(t, trials, 5)
	})

	t.Run("fatal errors abort the run", func(t *testing.T) {
		s, err := CreateStudy(memstorage.NewStorage(), "fatal", record.DirectionMinimize)
		require.NoError(t, err)
		err = s.Optimize(context.Background(), quadratic, OptimizeConfig{
			NTrials: 100, NJobs: 1,
			Callbacks: []CallbackFunc{func(_ *Study, tr record.Trial) error {
				if tr.Number == 2 {
					return fatalErr{}
				}
				return nil
			}},
		})
		require.ErrorAs(t, err, &fatalErr{})
		trials, err := s.Trials()
		require.NoError(t, err)
		assert.Len(t, trials, 3)
	})
}

func TestSuggest(t *testing.T) {
	s, err := CreateStudy(memstorage.NewStorage(), "suggest", record.DirectionNotSet)
	require.NoError(t, err)

	objective := func(_ context.Context, t *Trial) (float64, error) {
		lr, err := t.SuggestFloat("lr", 1e-5, 1e-1, true)
		if err != nil {
			return 0, err
		}
		again, err := t.SuggestFloat("lr", 1e-5, 1e-1, true)
		if err != nil {
			return 0, err
		}
		if lr != again {
			return 0, errors.New("repeated suggest returned a new value")
		}
		n, err := t.SuggestInt("layers", 1, 4)
		if err != nil {
			return 0, err
		}
		opt, err := t.SuggestCategorical("opt", "sgd", "adam")
		if err != nil {
			return 0, err
		}
		if err := t.SetUserAttr("opt", opt); err != nil {
			return 0, err
		}
		return lr * float64(n), nil
	}
	require.NoError(t, s.Optimize(context.Background(), objective, OptimizeConfig{NTrials: 20, NJobs: 2, Seed: 1}))

	trials, err := s.Trials()
	require.NoError(t, err)
	for _, tr := range trials {
		require.Equal(t, record.TrialStateComplete, tr.State)
		lr := tr.Params["lr"].(float64)
		assert.GreaterOrEqual(t, lr, 1e-5)
		assert.LessOrEqual(t, lr, 1e-1)
		n := tr.Params["layers"].(int64)
		assert.GreaterOrEqual(t, n, int64(1))
		assert.LessOrEqual(t, n, int64(4))
		assert.Contains(t, []any{"sgd", "adam"}, tr.Params["opt"])
		assert.Equal(t, tr.Params["opt"], tr.UserAttrs["opt"])
	}
}

func TestLoadStudyAndAttrs(t *testing.T) {
	store := memstorage.NewStorage()
	_, err := CreateStudy(store, "attrs", record.DirectionMinimize)
	require.NoError(t, err)

	s, err := LoadStudy(store, "attrs")
	require.NoError(t, err)
	require.NoError(t, s.SetUserAttr("owner", "team-a"))
	require.NoError(t, s.SetSystemAttr("version", 2))

	st, err := s.Record()
	require.NoError(t, err)
	assert.Equal(t, "attrs", st.Name)
	assert.Equal(t, "team-a", st.UserAttrs["owner"])

	_, err = s.BestTrial()
	assert.ErrorIs(t, err, ErrNoCompleteTrials)

	_, err = LoadStudy(store, "missing")
	assert.Error(t, err)
}
