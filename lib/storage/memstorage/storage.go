package memstorage

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dStudy/lib/record"
	"github.com/ValentinKolb/dStudy/lib/storage"
	"github.com/puzpuzpuz/xsync/v3"
)

type studyEntry struct {
	mu       sync.RWMutex
	study    record.Study
	trialIDs []record.TrialID
}

type trialEntry struct {
	mu    sync.RWMutex
	trial record.Trial
}

type storageImpl struct {
	names   *xsync.MapOf[string, record.StudyID]
	studies *xsync.MapOf[record.StudyID, *studyEntry]
	trials  *xsync.MapOf[record.TrialID, *trialEntry]

	nextStudyID atomic.Int64
	nextTrialID atomic.Int64
}

// NewStorage creates a new, empty in-memory storage.
func NewStorage() storage.IStorage {
	return &storageImpl{
		names:   xsync.NewMapOf[string, record.StudyID](),
		studies: xsync.NewMapOf[record.StudyID, *studyEntry](),
		trials:  xsync.NewMapOf[record.TrialID, *trialEntry](),
	}
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (s *storageImpl) study(id record.StudyID) (*studyEntry, error) {
	e, ok := s.studies.Load(id)
	if !ok {
		return nil, storage.Errorf(storage.RetCNotFound, "study %d not found", id)
	}
	return e, nil
}

func (s *storageImpl) trial(id record.TrialID) (*trialEntry, error) {
	e, ok := s.trials.Load(id)
	if !ok {
		return nil, storage.Errorf(storage.RetCNotFound, "trial %d not found", id)
	}
	return e, nil
}

// updateTrial runs fn on the trial while holding its write lock.
func (s *storageImpl) updateTrial(id record.TrialID, fn func(t *record.Trial) error) error {
	e, err := s.trial(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(&e.trial)
}

// updateStudy runs fn on the study while holding its write lock.
func (s *storageImpl) updateStudy(id record.StudyID, fn func(st *record.Study) error) error {
	e, err := s.study(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(&e.study)
}

// --------------------------------------------------------------------------
// Interface Methods (docs see storage/interface.go)
// --------------------------------------------------------------------------

func (s *storageImpl) CreateStudy(name string) (record.StudyID, error) {
	id := record.StudyID(s.nextStudyID.Add(1))
	entry := &studyEntry{study: record.Study{
		ID:          id,
		Name:        name,
		UserAttrs:   record.Attrs{},
		SystemAttrs: record.Attrs{},
	}}

	// the study is visible by id before it is visible by name
	s.studies.Store(id, entry)
	if _, loaded := s.names.LoadOrStore(name, id); loaded {
		s.studies.Delete(id)
		return 0, storage.Errorf(storage.RetCAlreadyExists, "study %q already exists", name)
	}
	return id, nil
}

func (s *storageImpl) GetStudyIDByName(name string) (record.StudyID, error) {
	id, ok := s.names.Load(name)
	if !ok {
		return 0, storage.Errorf(storage.RetCNotFound, "study %q not found", name)
	}
	return id, nil
}

func (s *storageImpl) GetStudy(id record.StudyID) (record.Study, error) {
	e, err := s.study(id)
	if err != nil {
		return record.Study{}, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.study.Clone(), nil
}

func (s *storageImpl) GetAllStudies() ([]record.Study, error) {
	var studies []record.Study
	s.names.Range(func(_ string, id record.StudyID) bool {
		if st, err := s.GetStudy(id); err == nil {
			studies = append(studies, st)
		}
		return true
	})
	sort.Slice(studies, func(i, j int) bool { return studies[i].ID < studies[j].ID })
	return studies, nil
}

func (s *storageImpl) SetStudyDirection(id record.StudyID, direction record.StudyDirection) error {
	return s.updateStudy(id, func(st *record.Study) error {
		if st.Direction != record.DirectionNotSet && st.Direction != direction {
			return storage.Errorf(storage.RetCInvalidOperation,
				"direction of study %q is already %s", st.Name, st.Direction)
		}
		st.Direction = direction
		return nil
	})
}

func (s *storageImpl) SetStudyUserAttr(id record.StudyID, key string, value any) error {
	return s.updateStudy(id, func(st *record.Study) error {
		st.UserAttrs[key] = record.CloneValue(value)
		return nil
	})
}

func (s *storageImpl) SetStudySystemAttr(id record.StudyID, key string, value any) error {
	return s.updateStudy(id, func(st *record.Study) error {
		st.SystemAttrs[key] = record.CloneValue(value)
		return nil
	})
}

func (s *storageImpl) CreateTrial(studyID record.StudyID, template *record.Trial) (record.TrialID, error) {
	e, err := s.study(studyID)
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	id := record.TrialID(s.nextTrialID.Add(1))
	t, err := storage.NewTrialFromTemplate(id, len(e.trialIDs), template, time.Now())
	if err != nil {
		return 0, err
	}
	s.trials.Store(id, &trialEntry{trial: t})
	e.trialIDs = append(e.trialIDs, id)
	return id, nil
}

func (s *storageImpl) GetTrialNumberFromID(id record.TrialID) (int, error) {
	e, err := s.trial(id)
	if err != nil {
		return 0, err
	}
	// the number never changes after creation
	return e.trial.Number, nil
}

func (s *storageImpl) GetTrial(id record.TrialID) (record.Trial, error) {
	e, err := s.trial(id)
	if err != nil {
		return record.Trial{}, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.trial.Clone(), nil
}

func (s *storageImpl) GetAllTrials(studyID record.StudyID) ([]record.Trial, error) {
	e, err := s.study(studyID)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	ids := make([]record.TrialID, len(e.trialIDs))
	copy(ids, e.trialIDs)
	e.mu.RUnlock()

	trials := make([]record.Trial, 0, len(ids))
	for _, id := range ids {
		t, err := s.GetTrial(id)
		if err != nil {
			return nil, err
		}
		trials = append(trials, t)
	}
	return trials, nil
}

func (s *storageImpl) SetTrialState(id record.TrialID, state record.TrialState) error {
	return s.updateTrial(id, func(t *record.Trial) error {
		return storage.ApplyTrialState(t, state, time.Now())
	})
}

func (s *storageImpl) SetTrialValue(id record.TrialID, value float64) error {
	return s.updateTrial(id, func(t *record.Trial) error {
		return storage.ApplyTrialValue(t, value)
	})
}

func (s *storageImpl) SetTrialIntermediateValue(id record.TrialID, step int, value float64) error {
	return s.updateTrial(id, func(t *record.Trial) error {
		return storage.ApplyTrialIntermediateValue(t, step, value)
	})
}

func (s *storageImpl) SetTrialParam(id record.TrialID, name string, internal float64, dist record.Distribution) error {
	return s.updateTrial(id, func(t *record.Trial) error {
		return storage.ApplyTrialParam(t, name, internal, dist)
	})
}

func (s *storageImpl) SetTrialUserAttr(id record.TrialID, key string, value any) error {
	return s.updateTrial(id, func(t *record.Trial) error {
		return storage.ApplyTrialAttr(t, false, key, value)
	})
}

func (s *storageImpl) SetTrialSystemAttr(id record.TrialID, key string, value any) error {
	return s.updateTrial(id, func(t *record.Trial) error {
		return storage.ApplyTrialAttr(t, true, key, value)
	})
}

func (s *storageImpl) Close() error {
	return nil
}
