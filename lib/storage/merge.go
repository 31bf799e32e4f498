package storage

import (
	"time"

	"github.com/ValentinKolb/dStudy/lib/record"
)

// Helpers shared by the storage implementations. They apply a single setter
// to an in-memory trial record after validating it, so every implementation
// enforces the same write rules.

// ApplyTrialState applies SetTrialState to t.
func ApplyTrialState(t *record.Trial, state record.TrialState, now time.Time) error {
	if err := CheckTrialWritable(*t); err != nil {
		return err
	}
	t.State = state
	if state.IsFinished() {
		t.DatetimeComplete = &now
	}
	return nil
}

// ApplyTrialValue applies SetTrialValue to t.
func ApplyTrialValue(t *record.Trial, value float64) error {
	if err := CheckTrialWritable(*t); err != nil {
		return err
	}
	t.Value = &value
	return nil
}

// ApplyTrialIntermediateValue applies SetTrialIntermediateValue to t.
func ApplyTrialIntermediateValue(t *record.Trial, step int, value float64) error {
	if err := CheckTrialWritable(*t); err != nil {
		return err
	}
	if _, ok := t.IntermediateValues[step]; ok {
		return Errorf(RetCInvalidOperation, "intermediate value of trial %d at step %d is already set", t.Number, step)
	}
	if t.IntermediateValues == nil {
		t.IntermediateValues = map[int]float64{}
	}
	t.IntermediateValues[step] = value
	return nil
}

// ApplyTrialParam applies SetTrialParam to t.
func ApplyTrialParam(t *record.Trial, name string, internal float64, dist record.Distribution) error {
	if err := CheckTrialWritable(*t); err != nil {
		return err
	}
	if err := CheckParam(name, internal, dist); err != nil {
		return err
	}
	external, _ := dist.ToExternal(internal)
	if prev, ok := t.Params[name]; ok {
		if record.DistributionsEqual(t.Distributions[name], dist) && record.ValueEqual(prev, external) {
			return nil
		}
		return Errorf(RetCInvalidOperation, "param %q of trial %d is already set to %v", name, t.Number, prev)
	}
	if t.Params == nil {
		t.Params = map[string]any{}
	}
	if t.Distributions == nil {
		t.Distributions = map[string]record.Distribution{}
	}
	t.Params[name] = external
	t.Distributions[name] = dist
	return nil
}

// CheckParam validates an internal parameter value against its distribution.
func CheckParam(name string, internal float64, dist record.Distribution) error {
	if dist == nil {
		return Errorf(RetCInvalidOperation, "param %q has no distribution", name)
	}
	if !dist.Contains(internal) {
		return Errorf(RetCInvalidOperation, "internal value %v of param %q is out of its distribution", internal, name)
	}
	if _, err := dist.ToExternal(internal); err != nil {
		return Errorf(RetCInvalidOperation, "param %q: %v", name, err)
	}
	return nil
}

// ApplyTrialAttr applies SetTrialUserAttr (system=false) or
// SetTrialSystemAttr (system=true) to t.
func ApplyTrialAttr(t *record.Trial, system bool, key string, value any) error {
	if err := CheckTrialWritable(*t); err != nil {
		return err
	}
	if system {
		if t.SystemAttrs == nil {
			t.SystemAttrs = record.Attrs{}
		}
		t.SystemAttrs[key] = record.CloneValue(value)
		return nil
	}
	if t.UserAttrs == nil {
		t.UserAttrs = record.Attrs{}
	}
	t.UserAttrs[key] = record.CloneValue(value)
	return nil
}

// NewTrialFromTemplate builds the record of a new trial. A nil template
// yields a running placeholder started at now.
func NewTrialFromTemplate(id record.TrialID, number int, template *record.Trial, now time.Time) (record.Trial, error) {
	if template == nil {
		return record.Trial{
			ID:                 id,
			Number:             number,
			State:              record.TrialStateRunning,
			IntermediateValues: map[int]float64{},
			Params:             map[string]any{},
			Distributions:      map[string]record.Distribution{},
			UserAttrs:          record.Attrs{},
			SystemAttrs:        record.Attrs{},
			DatetimeStart:      &now,
		}, nil
	}
	if err := template.Validate(); err != nil {
		return record.Trial{}, NewError(RetCInvalidOperation, err.Error())
	}
	t := template.Clone()
	t.ID = id
	t.Number = number
	return t, nil
}
