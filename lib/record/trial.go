package record

import (
	"fmt"
	"maps"
	"strings"
	"time"
)

// TrialID is the store-local identifier of a trial.
type TrialID int64

// TrialState is the lifecycle state of a trial.
type TrialState uint8

const (
	TrialStateRunning  TrialState = iota // The trial is being evaluated.
	TrialStateComplete                   // The trial finished with a value.
	TrialStatePruned                     // The trial was stopped early.
	TrialStateFailed                     // The objective returned an error.
)

func (s TrialState) String() string {
	switch s {
	case TrialStateRunning:
		return "RUNNING"
	case TrialStateComplete:
		return "COMPLETE"
	case TrialStatePruned:
		return "PRUNED"
	case TrialStateFailed:
		return "FAIL"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// IsFinished reports whether the state is terminal.
// Once a trial is in a terminal state none of its fields may change again.
func (s TrialState) IsFinished() bool {
	return s == TrialStateComplete || s == TrialStatePruned || s == TrialStateFailed
}

// ParseTrialState converts the string representation of a state (as returned
// by String) back to a TrialState.
func ParseTrialState(s string) (TrialState, error) {
	switch strings.ToUpper(s) {
	case "RUNNING":
		return TrialStateRunning, nil
	case "COMPLETE":
		return TrialStateComplete, nil
	case "PRUNED":
		return TrialStatePruned, nil
	case "FAIL", "FAILED":
		return TrialStateFailed, nil
	default:
		return TrialStateRunning, fmt.Errorf("invalid trial state %q", s)
	}
}

// Trial is a snapshot of one evaluation attempt within a study.
//
// Params holds the external (user facing) parameter values and Distributions
// the descriptors they were sampled from. Both maps have the same key set for
// a valid trial.
type Trial struct {
	ID                 TrialID
	Number             int
	State              TrialState
	Value              *float64
	IntermediateValues map[int]float64
	Params             map[string]any
	Distributions      map[string]Distribution
	UserAttrs          Attrs
	SystemAttrs        Attrs
	DatetimeStart      *time.Time
	DatetimeComplete   *time.Time
}

// Clone returns a deep copy of the trial. Distributions are immutable values
// and are shared.
func (t Trial) Clone() Trial {
	if t.Value != nil {
		v := *t.Value
		t.Value = &v
	}
	if t.DatetimeStart != nil {
		ts := *t.DatetimeStart
		t.DatetimeStart = &ts
	}
	if t.DatetimeComplete != nil {
		tc := *t.DatetimeComplete
		t.DatetimeComplete = &tc
	}
	t.IntermediateValues = maps.Clone(t.IntermediateValues)
	if t.IntermediateValues == nil {
		t.IntermediateValues = map[int]float64{}
	}
	params := make(map[string]any, len(t.Params))
	for k, v := range t.Params {
		params[k] = CloneValue(v)
	}
	t.Params = params
	t.Distributions = maps.Clone(t.Distributions)
	if t.Distributions == nil {
		t.Distributions = map[string]Distribution{}
	}
	t.UserAttrs = t.UserAttrs.Clone()
	t.SystemAttrs = t.SystemAttrs.Clone()
	return t
}

// Validate checks the consistency of a trial snapshot before it is used as a
// template for a new trial in another store.
func (t Trial) Validate() error {
	if t.DatetimeStart == nil {
		return fmt.Errorf("trial %d: datetime_start is not set", t.Number)
	}
	if t.State.IsFinished() && t.DatetimeComplete == nil {
		return fmt.Errorf("trial %d: datetime_complete is not set for a %s trial", t.Number, t.State)
	}
	if !t.State.IsFinished() && t.DatetimeComplete != nil {
		return fmt.Errorf("trial %d: datetime_complete is set for a %s trial", t.Number, t.State)
	}
	if t.State == TrialStateComplete && t.Value == nil {
		return fmt.Errorf("trial %d: a %s trial has no value", t.Number, t.State)
	}
	if len(t.Params) != len(t.Distributions) {
		return fmt.Errorf("trial %d: params and distributions have different keys", t.Number)
	}
	for name, external := range t.Params {
		dist, ok := t.Distributions[name]
		if !ok {
			return fmt.Errorf("trial %d: param %q has no distribution", t.Number, name)
		}
		internal, err := dist.ToInternal(external)
		if err != nil {
			return fmt.Errorf("trial %d: param %q: %w", t.Number, name, err)
		}
		if !dist.Contains(internal) {
			return fmt.Errorf("trial %d: value %v of param %q is out of its distribution", t.Number, external, name)
		}
	}
	return nil
}
