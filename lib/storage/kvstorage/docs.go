package kvstorage

import (
	"fmt"
	"strconv"
	"time"

	"github.com/ValentinKolb/dStudy/lib/record"
)

// --------------------------------------------------------------------------
// Key layout
// --------------------------------------------------------------------------

const (
	keyNextStudyID = "meta/next_study_id"
	keyNextTrialID = "meta/next_trial_id"
)

func keyStudyName(name string) string { return "study/name/" + name }
func keyStudy(id record.StudyID) string { return fmt.Sprintf("study/%d", id) }
func keyStudyTrialCount(id record.StudyID) string { return fmt.Sprintf("study/%d/trials", id) }
func keyStudyTrial(id record.StudyID, number int) string {
	return fmt.Sprintf("study/%d/trial/%d", id, number)
}
func keyTrial(id record.TrialID) string { return fmt.Sprintf("trial/%d", id) }

func encodeInt(v int64) []byte { return []byte(strconv.FormatInt(v, 10)) }

func decodeInt(b []byte) (int64, error) {
	return strconv.ParseInt(string(b), 10, 64)
}

// --------------------------------------------------------------------------
// Persisted documents
// --------------------------------------------------------------------------

// The documents only contain concrete types so that every serializer (json,
// gob) can encode them. Attribute values are stored as their JSON encoding
// and parameters as internal representation plus distribution envelope.

type studyDoc struct {
	ID          int64
	Name        string
	Direction   uint8
	UserAttrs   map[string][]byte
	SystemAttrs map[string][]byte
}

type paramDoc struct {
	Internal     float64
	Distribution []byte
}

type trialDoc struct {
	ID                 int64
	StudyID            int64
	Number             int
	State              uint8
	Value              *string
	IntermediateValues map[int]string
	Params             map[string]paramDoc
	UserAttrs          map[string][]byte
	SystemAttrs        map[string][]byte
	DatetimeStart      *time.Time
	DatetimeComplete   *time.Time
}

// encodeFloat keeps objective values as strings: NaN and ±Inf are valid
// values but have no JSON number representation.
func encodeFloat(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

func decodeFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

func encodeFloats(m map[int]float64) map[int]string {
	out := make(map[int]string, len(m))
	for step, v := range m {
		out[step] = encodeFloat(v)
	}
	return out
}

func decodeFloats(m map[int]string) (map[int]float64, error) {
	out := make(map[int]float64, len(m))
	for step, s := range m {
		v, err := decodeFloat(s)
		if err != nil {
			return nil, fmt.Errorf("intermediate value at step %d: %w", step, err)
		}
		out[step] = v
	}
	return out, nil
}

func encodeAttrs(a record.Attrs) (map[string][]byte, error) {
	out := make(map[string][]byte, len(a))
	for k, v := range a {
		b, err := record.EncodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("attr %q: %w", k, err)
		}
		out[k] = b
	}
	return out, nil
}

func decodeAttrs(m map[string][]byte) (record.Attrs, error) {
	out := make(record.Attrs, len(m))
	for k, b := range m {
		v, err := record.DecodeValue(b)
		if err != nil {
			return nil, fmt.Errorf("attr %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

func fromStudy(s record.Study) (studyDoc, error) {
	user, err := encodeAttrs(s.UserAttrs)
	if err != nil {
		return studyDoc{}, err
	}
	system, err := encodeAttrs(s.SystemAttrs)
	if err != nil {
		return studyDoc{}, err
	}
	return studyDoc{
		ID:          int64(s.ID),
		Name:        s.Name,
		Direction:   uint8(s.Direction),
		UserAttrs:   user,
		SystemAttrs: system,
	}, nil
}

func (d studyDoc) toStudy() (record.Study, error) {
	user, err := decodeAttrs(d.UserAttrs)
	if err != nil {
		return record.Study{}, err
	}
	system, err := decodeAttrs(d.SystemAttrs)
	if err != nil {
		return record.Study{}, err
	}
	return record.Study{
		ID:          record.StudyID(d.ID),
		Name:        d.Name,
		Direction:   record.StudyDirection(d.Direction),
		UserAttrs:   user,
		SystemAttrs: system,
	}, nil
}

func fromTrial(studyID record.StudyID, t record.Trial) (trialDoc, error) {
	user, err := encodeAttrs(t.UserAttrs)
	if err != nil {
		return trialDoc{}, err
	}
	system, err := encodeAttrs(t.SystemAttrs)
	if err != nil {
		return trialDoc{}, err
	}
	params := make(map[string]paramDoc, len(t.Params))
	for name, external := range t.Params {
		dist := t.Distributions[name]
		if dist == nil {
			return trialDoc{}, fmt.Errorf("param %q has no distribution", name)
		}
		internal, err := dist.ToInternal(external)
		if err != nil {
			return trialDoc{}, fmt.Errorf("param %q: %w", name, err)
		}
		b, err := record.MarshalDistribution(dist)
		if err != nil {
			return trialDoc{}, fmt.Errorf("param %q: %w", name, err)
		}
		params[name] = paramDoc{Internal: internal, Distribution: b}
	}
	var value *string
	if t.Value != nil {
		v := encodeFloat(*t.Value)
		value = &v
	}
	return trialDoc{
		ID:                 int64(t.ID),
		StudyID:            int64(studyID),
		Number:             t.Number,
		State:              uint8(t.State),
		Value:              value,
		IntermediateValues: encodeFloats(t.IntermediateValues),
		Params:             params,
		UserAttrs:          user,
		SystemAttrs:        system,
		DatetimeStart:      t.DatetimeStart,
		DatetimeComplete:   t.DatetimeComplete,
	}, nil
}

func (d trialDoc) toTrial() (record.Trial, error) {
	user, err := decodeAttrs(d.UserAttrs)
	if err != nil {
		return record.Trial{}, err
	}
	system, err := decodeAttrs(d.SystemAttrs)
	if err != nil {
		return record.Trial{}, err
	}
	params := make(map[string]any, len(d.Params))
	dists := make(map[string]record.Distribution, len(d.Params))
	for name, p := range d.Params {
		dist, err := record.UnmarshalDistribution(p.Distribution)
		if err != nil {
			return record.Trial{}, fmt.Errorf("param %q: %w", name, err)
		}
		external, err := dist.ToExternal(p.Internal)
		if err != nil {
			return record.Trial{}, fmt.Errorf("param %q: %w", name, err)
		}
		params[name] = external
		dists[name] = dist
	}
	var value *float64
	if d.Value != nil {
		v, err := decodeFloat(*d.Value)
		if err != nil {
			return record.Trial{}, fmt.Errorf("value: %w", err)
		}
		value = &v
	}
	ivs, err := decodeFloats(d.IntermediateValues)
	if err != nil {
		return record.Trial{}, err
	}
	t := record.Trial{
		ID:                 record.TrialID(d.ID),
		Number:             d.Number,
		State:              record.TrialState(d.State),
		Value:              value,
		IntermediateValues: ivs,
		Params:             params,
		Distributions:      dists,
		UserAttrs:          user,
		SystemAttrs:        system,
		DatetimeStart:      d.DatetimeStart,
		DatetimeComplete:   d.DatetimeComplete,
	}
	if t.IntermediateValues == nil {
		t.IntermediateValues = map[int]float64{}
	}
	return t, nil
}
