package dump

import (
	"sync/atomic"
	"testing"

	"github.com/ValentinKolb/dStudy/lib/kv/bstore"
	"github.com/ValentinKolb/dStudy/lib/kv/lstore"
	"github.com/ValentinKolb/dStudy/lib/record"
	"github.com/ValentinKolb/dStudy/lib/serializer"
	"github.com/ValentinKolb/dStudy/lib/storage"
	"github.com/ValentinKolb/dStudy/lib/storage/kvstorage"
	"github.com/ValentinKolb/dStudy/lib/storage/memstorage"
	"github.com/ValentinKolb/dStudy/lib/storage/sqlstorage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --------------------------------------------------------------------------
// Destinations
// --------------------------------------------------------------------------

// destination opens an empty storage that is closed when the test ends
type destination struct {
	name string
	open func(t *testing.T) storage.IStorage
}

func closeOnCleanup(t *testing.T, s storage.IStorage) storage.IStorage {
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// destinations lists every storage backend a study can be dumped into.
func destinations() []destination {
	onLocalStore := func(ser serializer.IRecordSerializer) func(t *testing.T) storage.IStorage {
		return func(t *testing.T) storage.IStorage {
			return closeOnCleanup(t, kvstorage.NewStorage(lstore.NewLocalStore(), ser))
		}
	}
	return []destination{
		{"memstorage", func(t *testing.T) storage.IStorage {
			return closeOnCleanup(t, memstorage.NewStorage())
		}},
		{"sqlite", func(t *testing.T) storage.IStorage {
			s, err := sqlstorage.NewStorage(":memory:")
			require.NoError(t, err)
			return closeOnCleanup(t, s)
		}},
		{"lstore/json", onLocalStore(serializer.NewJSONSerializer())},
		{"lstore/gob", onLocalStore(serializer.NewGOBSerializer())},
		{"bstore/gob", func(t *testing.T) storage.IStorage {
			kvs, err := bstore.NewBadgerStore(bstore.InMemoryConfig())
			require.NoError(t, err)
			return closeOnCleanup(t, kvstorage.NewStorage(kvs, serializer.NewGOBSerializer()))
		}},
	}
}

// --------------------------------------------------------------------------
// Storage wrappers
// --------------------------------------------------------------------------

// countingStorage counts every write that reaches the wrapped storage.
type countingStorage struct {
	storage.IStorage
	writes atomic.Int64
}

func (c *countingStorage) count() { c.writes.Add(1) }

func (c *countingStorage) CreateStudy(name string) (record.StudyID, error) {
	c.count()
	return c.IStorage.CreateStudy(name)
}

func (c *countingStorage) SetStudyDirection(id record.StudyID, d record.StudyDirection) error {
	c.count()
	return c.IStorage.SetStudyDirection(id, d)
}

func (c *countingStorage) SetStudyUserAttr(id record.StudyID, key string, value any) error {
	c.count()
	return c.IStorage.SetStudyUserAttr(id, key, value)
}

func (c *countingStorage) SetStudySystemAttr(id record.StudyID, key string, value any) error {
	c.count()
	return c.IStorage.SetStudySystemAttr(id, key, value)
}

func (c *countingStorage) CreateTrial(id record.StudyID, template *record.Trial) (record.TrialID, error) {
	c.count()
	return c.IStorage.CreateTrial(id, template)
}

func (c *countingStorage) SetTrialState(id record.TrialID, s record.TrialState) error {
	c.count()
	return c.IStorage.SetTrialState(id, s)
}

func (c *countingStorage) SetTrialValue(id record.TrialID, v float64) error {
	c.count()
	return c.IStorage.SetTrialValue(id, v)
}

func (c *countingStorage) SetTrialIntermediateValue(id record.TrialID, step int, v float64) error {
	c.count()
	return c.IStorage.SetTrialIntermediateValue(id, step, v)
}

func (c *countingStorage) SetTrialParam(id record.TrialID, name string, internal float64, dist record.Distribution) error {
	c.count()
	return c.IStorage.SetTrialParam(id, name, internal, dist)
}

func (c *countingStorage) SetTrialUserAttr(id record.TrialID, key string, value any) error {
	c.count()
	return c.IStorage.SetTrialUserAttr(id, key, value)
}

func (c *countingStorage) SetTrialSystemAttr(id record.TrialID, key string, value any) error {
	c.count()
	return c.IStorage.SetTrialSystemAttr(id, key, value)
}

// hookStorage lets a test interfere with the reads of a pass.
type hookStorage struct {
	storage.IStorage
	beforeGetAllTrials func() error                           // may block or fail the read
	transformTrials    func(ts []record.Trial) []record.Trial // rewrites what the pass sees
	numberOffset       int                                    // added to GetTrialNumberFromID
}

func (h *hookStorage) GetAllTrials(id record.StudyID) ([]record.Trial, error) {
	if h.beforeGetAllTrials != nil {
		if err := h.beforeGetAllTrials(); err != nil {
			return nil, err
		}
	}
	ts, err := h.IStorage.GetAllTrials(id)
	if err != nil || h.transformTrials == nil {
		return ts, err
	}
	return h.transformTrials(ts), nil
}

func (h *hookStorage) GetTrialNumberFromID(id record.TrialID) (int, error) {
	n, err := h.IStorage.GetTrialNumberFromID(id)
	return n + h.numberOffset, err
}

// --------------------------------------------------------------------------
// Fixtures
// --------------------------------------------------------------------------

// source is a live study in an in-memory storage
type source struct {
	t     *testing.T
	store storage.IStorage
	study record.Study
}

func newSource(t *testing.T, name string) *source {
	store := memstorage.NewStorage()
	id, err := store.CreateStudy(name)
	require.NoError(t, err)
	require.NoError(t, store.SetStudyDirection(id, record.DirectionMinimize))
	s := &source{t: t, store: store, study: record.Study{ID: id}}
	s.refresh()
	return s
}

// refresh re-reads the study record (attributes may have changed)
func (s *source) refresh() record.Study {
	st, err := s.store.GetStudy(s.study.ID)
	require.NoError(s.t, err)
	s.study = st
	return st
}

// running creates a running trial with one intermediate value per given value
func (s *source) running(values ...float64) record.TrialID {
	id, err := s.store.CreateTrial(s.study.ID, nil)
	require.NoError(s.t, err)
	for step, v := range values {
		require.NoError(s.t, s.store.SetTrialIntermediateValue(id, step, v))
	}
	return id
}

// complete creates a finished trial with value v and one float param
func (s *source) complete(v float64) record.TrialID {
	id := s.running(v + 1)
	s.finish(id, v)
	return id
}

func (s *source) finish(id record.TrialID, v float64) {
	require.NoError(s.t, s.store.SetTrialParam(id, "x", v/10, record.FloatDistribution{Low: -100, High: 100}))
	require.NoError(s.t, s.store.SetTrialUserAttr(id, "done", true))
	require.NoError(s.t, s.store.SetTrialValue(id, v))
	require.NoError(s.t, s.store.SetTrialState(id, record.TrialStateComplete))
}

func (s *source) trials() []record.Trial {
	ts, err := s.store.GetAllTrials(s.study.ID)
	require.NoError(s.t, err)
	return ts
}

// requireReplicated checks that every trial of src has an equal counterpart in dst.
func requireReplicated(t *testing.T, src []record.Trial, dst []record.Trial) {
	t.Helper()
	require.Len(t, dst, len(src))
	for i := range src {
		s, d := src[i], dst[i]
		assert.Equal(t, s.Number, d.Number)
		assert.Equal(t, s.State, d.State, "state of trial %d", s.Number)
		if s.Value == nil {
			assert.Nil(t, d.Value)
		} else if assert.NotNil(t, d.Value, "value of trial %d", s.Number) {
			assert.Truef(t, floatEqual(*s.Value, *d.Value), "value of trial %d: %v != %v", s.Number, *s.Value, *d.Value)
		}
		if assert.Len(t, d.IntermediateValues, len(s.IntermediateValues), "intermediate values of trial %d", s.Number) {
			for step, v := range s.IntermediateValues {
				got, ok := d.IntermediateValues[step]
				assert.Truef(t, ok && floatEqual(v, got), "step %d of trial %d: %v != %v", step, s.Number, v, got)
			}
		}
		assert.Len(t, d.Params, len(s.Params))
		for name, v := range s.Params {
			assert.True(t, record.ValueEqual(v, d.Params[name]), "param %s of trial %d", name, s.Number)
			assert.True(t, record.DistributionsEqual(s.Distributions[name], d.Distributions[name]))
		}
		assert.True(t, record.AttrsEqual(s.UserAttrs, d.UserAttrs), "user attrs of trial %d", s.Number)
		assert.True(t, record.AttrsEqual(s.SystemAttrs, d.SystemAttrs), "system attrs of trial %d", s.Number)
	}
}

func allTrials(t *testing.T, s storage.IStorage, id record.StudyID) []record.Trial {
	ts, err := s.GetAllTrials(id)
	require.NoError(t, err)
	return ts
}
