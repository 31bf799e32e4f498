package study

import (
	"math"
	"math/rand/v2"
	"sync"

	"github.com/ValentinKolb/dStudy/lib/record"
)

// Trial is the handle an objective function uses to sample parameters and
// report progress. A Trial is used by a single worker.
type Trial struct {
	study  *Study
	id     record.TrialID
	number int
	rng    *rand.Rand

	mu     sync.Mutex
	params map[string]any
}

func newTrial(s *Study, id record.TrialID, number int, seed uint64) *Trial {
	return &Trial{
		study:  s,
		id:     id,
		number: number,
		rng:    rand.New(rand.NewPCG(seed, uint64(number))),
		params: map[string]any{},
	}
}

func (t *Trial) ID() record.TrialID { return t.id }
func (t *Trial) Number() int { return t.number }

// suggest samples the internal value of dist unless the parameter was
// suggested before, stores it and returns the external value.
func (t *Trial) suggest(name string, dist record.Distribution, sample func() float64) (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if v, ok := t.params[name]; ok {
		return v, nil
	}
	internal := sample()
	if err := t.study.storage.SetTrialParam(t.id, name, internal, dist); err != nil {
		return nil, err
	}
	external, err := dist.ToExternal(internal)
	if err != nil {
		return nil, err
	}
	t.params[name] = external
	return external, nil
}

// SuggestFloat samples a float in [low, high], uniformly or in log domain.
func (t *Trial) SuggestFloat(name string, low, high float64, log bool) (float64, error) {
	dist, err := record.NewFloatDistribution(low, high, log, nil)
	if err != nil {
		return 0, err
	}
	v, err := t.suggest(name, dist, func() float64 {
		if log {
			v := math.Exp(math.Log(low) + t.rng.Float64()*(math.Log(high)-math.Log(low)))
			return min(max(v, low), high)
		}
		return low + t.rng.Float64()*(high-low)
	})
	if err != nil {
		return 0, err
	}
	return v.(float64), nil
}

// SuggestInt samples an integer in [low, high].
func (t *Trial) SuggestInt(name string, low, high int64) (int64, error) {
	dist, err := record.NewIntDistribution(low, high, false, 1)
	if err != nil {
		return 0, err
	}
	v, err := t.suggest(name, dist, func() float64 {
		return float64(low + t.rng.Int64N(high-low+1))
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// SuggestCategorical picks one of the choices.
func (t *Trial) SuggestCategorical(name string, choices ...any) (any, error) {
	dist, err := record.NewCategoricalDistribution(choices...)
	if err != nil {
		return nil, err
	}
	return t.suggest(name, dist, func() float64 {
		return float64(t.rng.IntN(len(choices)))
	})
}

// Report records an intermediate objective value at the given step.
func (t *Trial) Report(step int, value float64) error {
	return t.study.storage.SetTrialIntermediateValue(t.id, step, value)
}

// SetUserAttr sets a user attribute of the trial.
func (t *Trial) SetUserAttr(key string, value any) error {
	return t.study.storage.SetTrialUserAttr(t.id, key, value)
}

// SetSystemAttr sets a system attribute of the trial.
func (t *Trial) SetSystemAttr(key string, value any) error {
	return t.study.storage.SetTrialSystemAttr(t.id, key, value)
}
