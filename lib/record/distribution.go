package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// Distribution describes how a parameter was sampled. It converts between the
// external representation handed to the objective and the internal float64
// representation stores persist.
//
// Implementations are immutable values.
type Distribution interface {
	// Name returns the descriptor name used in the JSON envelope.
	Name() string
	// ToInternal converts an external value to its internal representation.
	ToInternal(external any) (float64, error)
	// ToExternal converts an internal representation back to the external value.
	ToExternal(internal float64) (any, error)
	// Contains reports whether an internal value lies in the distribution.
	Contains(internal float64) bool
	// Single reports whether the distribution can only produce one value.
	Single() bool
}

// --------------------------------------------------------------------------
// Float distribution
// --------------------------------------------------------------------------

// FloatDistribution samples floats in [Low, High], optionally in log domain or
// discretized with Step. Log and Step are mutually exclusive.
type FloatDistribution struct {
	Low  float64
	High float64
	Log  bool
	Step *float64
}

// NewFloatDistribution validates and returns a FloatDistribution.
func NewFloatDistribution(low, high float64, log bool, step *float64) (FloatDistribution, error) {
	d := FloatDistribution{Low: low, High: high, Log: log, Step: step}
	return d, d.validate()
}

func (d FloatDistribution) validate() error {
	if d.Log && d.Step != nil {
		return errors.New("float distribution: log and step cannot be used together")
	}
	if d.Low > d.High {
		return fmt.Errorf("float distribution: low %v is greater than high %v", d.Low, d.High)
	}
	if d.Log && d.Low <= 0 {
		return fmt.Errorf("float distribution: low %v must be positive in log domain", d.Low)
	}
	if d.Step != nil && *d.Step <= 0 {
		return fmt.Errorf("float distribution: step %v must be positive", *d.Step)
	}
	return nil
}

func (d FloatDistribution) Name() string { return "FloatDistribution" }

func (d FloatDistribution) ToInternal(external any) (float64, error) {
	return toFloat(external)
}

func (d FloatDistribution) ToExternal(internal float64) (any, error) {
	return internal, nil
}

func (d FloatDistribution) Contains(internal float64) bool {
	if d.Single() {
		return internal == d.Low
	}
	if d.Step != nil {
		k := (internal - d.Low) / *d.Step
		return d.Low <= internal && internal <= d.High && math.Abs(k-math.Round(k)) < 1e-8
	}
	return d.Low <= internal && internal <= d.High
}

func (d FloatDistribution) Single() bool {
	if d.Step == nil {
		return d.Low == d.High
	}
	return d.High-d.Low < *d.Step
}

// --------------------------------------------------------------------------
// Int distribution
// --------------------------------------------------------------------------

// IntDistribution samples integers in [Low, High] with the given Step
// (default 1), optionally in log domain.
type IntDistribution struct {
	Low  int64
	High int64
	Log  bool
	Step int64
}

// NewIntDistribution validates and returns an IntDistribution.
func NewIntDistribution(low, high int64, log bool, step int64) (IntDistribution, error) {
	d := IntDistribution{Low: low, High: high, Log: log, Step: step}
	return d, d.validate()
}

func (d IntDistribution) validate() error {
	if d.Step <= 0 {
		return fmt.Errorf("int distribution: step %d must be positive", d.Step)
	}
	if d.Log && d.Step != 1 {
		return errors.New("int distribution: log domain requires step 1")
	}
	if d.Low > d.High {
		return fmt.Errorf("int distribution: low %d is greater than high %d", d.Low, d.High)
	}
	if d.Log && d.Low < 1 {
		return fmt.Errorf("int distribution: low %d must be at least 1 in log domain", d.Low)
	}
	return nil
}

func (d IntDistribution) Name() string { return "IntDistribution" }

func (d IntDistribution) ToInternal(external any) (float64, error) {
	f, err := toFloat(external)
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("int distribution: %v is not an integer", external)
	}
	return f, nil
}

func (d IntDistribution) ToExternal(internal float64) (any, error) {
	if internal != math.Trunc(internal) {
		return nil, fmt.Errorf("int distribution: internal value %v is not an integer", internal)
	}
	return int64(internal), nil
}

func (d IntDistribution) Contains(internal float64) bool {
	if internal != math.Trunc(internal) {
		return false
	}
	v := int64(internal)
	step := max(d.Step, 1)
	return d.Low <= v && v <= d.High && (v-d.Low)%step == 0
}

func (d IntDistribution) Single() bool {
	return d.High-d.Low < max(d.Step, 1)
}

// --------------------------------------------------------------------------
// Categorical distribution
// --------------------------------------------------------------------------

// CategoricalDistribution picks one of Choices. The internal representation
// is the index of the choice.
type CategoricalDistribution struct {
	Choices []any
}

// NewCategoricalDistribution validates and returns a CategoricalDistribution.
func NewCategoricalDistribution(choices ...any) (CategoricalDistribution, error) {
	d := CategoricalDistribution{Choices: choices}
	return d, d.validate()
}

func (d CategoricalDistribution) validate() error {
	if len(d.Choices) == 0 {
		return errors.New("categorical distribution: choices must not be empty")
	}
	for _, c := range d.Choices {
		switch c.(type) {
		case nil, bool, string, float64, float32, int, int32, int64:
		default:
			return fmt.Errorf("categorical distribution: choice %v has unsupported type %T", c, c)
		}
	}
	return nil
}

func (d CategoricalDistribution) Name() string { return "CategoricalDistribution" }

func (d CategoricalDistribution) ToInternal(external any) (float64, error) {
	for i, c := range d.Choices {
		if ValueEqual(c, external) {
			return float64(i), nil
		}
	}
	return 0, fmt.Errorf("categorical distribution: %v is not one of the choices", external)
}

func (d CategoricalDistribution) ToExternal(internal float64) (any, error) {
	if !d.Contains(internal) {
		return nil, fmt.Errorf("categorical distribution: index %v is out of range", internal)
	}
	return d.Choices[int(internal)], nil
}

func (d CategoricalDistribution) Contains(internal float64) bool {
	return internal == math.Trunc(internal) && 0 <= internal && int(internal) < len(d.Choices)
}

func (d CategoricalDistribution) Single() bool {
	return len(d.Choices) == 1
}

// --------------------------------------------------------------------------
// JSON envelope
// --------------------------------------------------------------------------

type distributionEnvelope struct {
	Name       string          `json:"name"`
	Attributes json.RawMessage `json:"attributes"`
}

type floatAttributes struct {
	Low  float64  `json:"low"`
	High float64  `json:"high"`
	Log  bool     `json:"log"`
	Step *float64 `json:"step"`
}

type intAttributes struct {
	Low  int64 `json:"low"`
	High int64 `json:"high"`
	Log  bool  `json:"log"`
	Step int64 `json:"step"`
}

type categoricalAttributes struct {
	Choices []any `json:"choices"`
}

// MarshalDistribution encodes a distribution into its JSON envelope
// {"name": ..., "attributes": {...}}.
func MarshalDistribution(d Distribution) ([]byte, error) {
	var attrs any
	switch v := d.(type) {
	case FloatDistribution:
		attrs = floatAttributes{Low: v.Low, High: v.High, Log: v.Log, Step: v.Step}
	case IntDistribution:
		attrs = intAttributes{Low: v.Low, High: v.High, Log: v.Log, Step: v.Step}
	case CategoricalDistribution:
		attrs = categoricalAttributes{Choices: v.Choices}
	default:
		return nil, fmt.Errorf("unknown distribution type %T", d)
	}
	raw, err := json.Marshal(attrs)
	if err != nil {
		return nil, err
	}
	return json.Marshal(distributionEnvelope{Name: d.Name(), Attributes: raw})
}

// UnmarshalDistribution decodes a distribution from its JSON envelope and
// validates it.
func UnmarshalDistribution(b []byte) (Distribution, error) {
	var env distributionEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		return nil, fmt.Errorf("decode distribution: %w", err)
	}
	switch env.Name {
	case "FloatDistribution":
		var a floatAttributes
		if err := json.Unmarshal(env.Attributes, &a); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Name, err)
		}
		return NewFloatDistribution(a.Low, a.High, a.Log, a.Step)
	case "IntDistribution":
		var a intAttributes
		if err := json.Unmarshal(env.Attributes, &a); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Name, err)
		}
		return NewIntDistribution(a.Low, a.High, a.Log, a.Step)
	case "CategoricalDistribution":
		var a categoricalAttributes
		if err := json.Unmarshal(env.Attributes, &a); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Name, err)
		}
		return NewCategoricalDistribution(a.Choices...)
	default:
		return nil, fmt.Errorf("unknown distribution %q", env.Name)
	}
}

// DistributionsEqual reports whether two descriptors are the same.
func DistributionsEqual(a, b Distribution) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ab, errA := MarshalDistribution(a)
	bb, errB := MarshalDistribution(b)
	return errA == nil && errB == nil && bytes.Equal(ab, bb)
}

// toFloat converts the numeric types an objective may hand out to float64.
func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	default:
		return 0, fmt.Errorf("value %v of type %T is not numeric", v, v)
	}
}
