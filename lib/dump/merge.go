package dump

import (
	"cmp"
	"maps"
	"math"
	"slices"

	"github.com/ValentinKolb/dStudy/lib/record"
	"github.com/ValentinKolb/dStudy/lib/storage"
)

// --------------------------------------------------------------------------
// Generic merge primitives
// --------------------------------------------------------------------------

// mergeKeyed writes every entry of src that is missing in dst or whose
// value differs according to equal. Keys are visited in ascending order and
// keys only present in dst are left alone. It returns the number of writes.
func mergeKeyed[K cmp.Ordered, V any](src, dst map[K]V, equal func(a, b V) bool, write func(key K, value V) error) (int, error) {
	writes := 0
	for _, key := range slices.Sorted(maps.Keys(src)) {
		if cur, ok := dst[key]; ok && equal(src[key], cur) {
			continue
		}
		if err := write(key, src[key]); err != nil {
			return writes, err
		}
		writes++
	}
	return writes, nil
}

// mergeScalar writes src unless it equals dst. It returns the number of writes.
func mergeScalar[V any](src, dst V, equal func(a, b V) bool, write func(value V) error) (int, error) {
	if equal(src, dst) {
		return 0, nil
	}
	if err := write(src); err != nil {
		return 0, err
	}
	return 1, nil
}

// --------------------------------------------------------------------------
// Equality helpers
// --------------------------------------------------------------------------

// present treats every existing entry as up to date (append-only fields)
func present[V any](_, _ V) bool { return true }

func floatEqual(a, b float64) bool {
	return a == b || (math.IsNaN(a) && math.IsNaN(b))
}

// param is a parameter as seen by the merge: its external value and the
// distribution it was sampled from.
type param struct {
	external any
	dist     record.Distribution
}

func paramEqual(a, b param) bool {
	return record.DistributionsEqual(a.dist, b.dist) && record.ValueEqual(a.external, b.external)
}

// params pairs every parameter name of t that has both a value and a distribution.
func params(t record.Trial) map[string]param {
	out := make(map[string]param, len(t.Params))
	for name, external := range t.Params {
		if dist, ok := t.Distributions[name]; ok {
			out[name] = param{external: external, dist: dist}
		}
	}
	return out
}

// rejected reports whether the destination refused a write because it
// violates a write rule (as opposed to an I/O failure).
func rejected(err error) bool {
	return storage.IsCode(err, storage.RetCInvalidOperation) || storage.IsCode(err, storage.RetCTrialFinished)
}

// --------------------------------------------------------------------------
// Study and trial merge
// --------------------------------------------------------------------------

// SyncStudyAttrs upserts the user and system attributes of src into the
// destination study. Attributes only present at the destination are kept.
// It returns the number of writes.
func SyncStudyAttrs(src record.Study, dst storage.IStorage, dstID record.StudyID) (int, error) {
	cur, err := dst.GetStudy(dstID)
	if err != nil {
		return 0, err
	}

	writes, err := mergeKeyed(src.SystemAttrs, cur.SystemAttrs, record.ValueEqual, func(key string, value any) error {
		return dst.SetStudySystemAttr(dstID, key, value)
	})
	if err != nil {
		return writes, err
	}
	n, err := mergeKeyed(src.UserAttrs, cur.UserAttrs, record.ValueEqual, func(key string, value any) error {
		return dst.SetStudyUserAttr(dstID, key, value)
	})
	return writes + n, err
}

// SyncTrialFields brings the destination trial dst up to date with the
// source trial src. Both must carry the same number. Every field family is
// compared first and only written when it differs; the state is written
// last, after all other fields landed. A write the destination rejects as
// invalid is returned as *IntegrityError. It returns the number of writes.
func SyncTrialFields(src, dst record.Trial, dstStore storage.IStorage) (int, error) {
	id := dst.ID
	integrity := func(msg string, err error) error {
		if rejected(err) {
			return &IntegrityError{Number: src.Number, Msg: msg, Err: err}
		}
		return err
	}

	total := 0
	steps := []func() (int, error){
		func() (int, error) {
			return mergeKeyed(src.SystemAttrs, dst.SystemAttrs, record.ValueEqual, func(key string, value any) error {
				return dstStore.SetTrialSystemAttr(id, key, value)
			})
		},
		func() (int, error) {
			return mergeKeyed(src.UserAttrs, dst.UserAttrs, record.ValueEqual, func(key string, value any) error {
				return dstStore.SetTrialUserAttr(id, key, value)
			})
		},
		func() (int, error) {
			return mergeKeyed(src.IntermediateValues, dst.IntermediateValues, present[float64], func(step int, value float64) error {
				return integrity("intermediate value rejected", dstStore.SetTrialIntermediateValue(id, step, value))
			})
		},
		func() (int, error) {
			return mergeKeyed(params(src), params(dst), paramEqual, func(name string, p param) error {
				internal, err := p.dist.ToInternal(p.external)
				if err != nil {
					return &IntegrityError{Number: src.Number, Msg: "param " + name + " does not fit its distribution", Err: err}
				}
				return integrity("param "+name+" rejected", dstStore.SetTrialParam(id, name, internal, p.dist))
			})
		},
		func() (int, error) {
			if src.Value == nil {
				return 0, nil
			}
			return mergeScalar(src.Value, dst.Value, func(a, b *float64) bool {
				return b != nil && floatEqual(*a, *b)
			}, func(v *float64) error {
				return dstStore.SetTrialValue(id, *v)
			})
		},
		func() (int, error) {
			return mergeScalar(src.State, dst.State, func(a, b record.TrialState) bool { return a == b }, func(s record.TrialState) error {
				return dstStore.SetTrialState(id, s)
			})
		},
	}

	for _, step := range steps {
		n, err := step()
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
