package kvstorage

import (
	"sort"
	"sync"
	"time"

	"github.com/ValentinKolb/dStudy/lib/common"
	"github.com/ValentinKolb/dStudy/lib/kv"
	"github.com/ValentinKolb/dStudy/lib/record"
	"github.com/ValentinKolb/dStudy/lib/serializer"
	"github.com/ValentinKolb/dStudy/lib/storage"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger(common.LoggerStorage)

type storageImpl struct {
	store      kv.IStore
	serializer serializer.IRecordSerializer
	// mu serializes all writes of this process. Reads go to the store directly.
	mu sync.Mutex
}

// NewStorage creates a storage on top of a key-value store. Records are
// encoded with the given serializer. The storage takes ownership of the
// store and closes it on Close.
func NewStorage(store kv.IStore, ser serializer.IRecordSerializer) storage.IStorage {
	return &storageImpl{
		store:      store,
		serializer: ser,
	}
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// wrap converts errors of the key-value layer into storage errors
func wrap(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*storage.Error); ok {
		return err
	}
	return storage.Errorf(storage.RetCInternalError, "kv: %v", err)
}

func (s *storageImpl) load(key string, v any) (bool, error) {
	b, ok, err := s.store.Get(key)
	if err != nil || !ok {
		return false, wrap(err)
	}
	if err := s.serializer.Deserialize(b, v); err != nil {
		return false, storage.Errorf(storage.RetCInternalError, "decode %s: %v", key, err)
	}
	return true, nil
}

func (s *storageImpl) save(key string, v any) error {
	b, err := s.serializer.Serialize(v)
	if err != nil {
		return storage.Errorf(storage.RetCInternalError, "encode %s: %v", key, err)
	}
	return wrap(s.store.Set(key, b))
}

func (s *storageImpl) loadInt(key string) (int64, error) {
	b, ok, err := s.store.Get(key)
	if err != nil {
		return 0, wrap(err)
	}
	if !ok {
		return 0, nil
	}
	v, err := decodeInt(b)
	if err != nil {
		return 0, storage.Errorf(storage.RetCInternalError, "decode %s: %v", key, err)
	}
	return v, nil
}

// nextID increments the counter stored under key. Must be called with mu held.
func (s *storageImpl) nextID(key string) (int64, error) {
	v, err := s.loadInt(key)
	if err != nil {
		return 0, err
	}
	v++
	return v, wrap(s.store.Set(key, encodeInt(v)))
}

func (s *storageImpl) studyDoc(id record.StudyID) (studyDoc, error) {
	var doc studyDoc
	ok, err := s.load(keyStudy(id), &doc)
	if err != nil {
		return studyDoc{}, err
	}
	if !ok {
		return studyDoc{}, storage.Errorf(storage.RetCNotFound, "study %d not found", id)
	}
	return doc, nil
}

func (s *storageImpl) trialDoc(id record.TrialID) (trialDoc, error) {
	var doc trialDoc
	ok, err := s.load(keyTrial(id), &doc)
	if err != nil {
		return trialDoc{}, err
	}
	if !ok {
		return trialDoc{}, storage.Errorf(storage.RetCNotFound, "trial %d not found", id)
	}
	return doc, nil
}

// updateStudy runs fn on a decoded study and writes the result back.
func (s *storageImpl) updateStudy(id record.StudyID, fn func(st *record.Study) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.studyDoc(id)
	if err != nil {
		return err
	}
	st, err := doc.toStudy()
	if err != nil {
		return storage.NewError(storage.RetCInternalError, err.Error())
	}
	if err := fn(&st); err != nil {
		return err
	}
	if doc, err = fromStudy(st); err != nil {
		return storage.NewError(storage.RetCInvalidOperation, err.Error())
	}
	return s.save(keyStudy(id), doc)
}

// updateTrial runs fn on a decoded trial and writes the result back.
func (s *storageImpl) updateTrial(id record.TrialID, fn func(t *record.Trial) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.trialDoc(id)
	if err != nil {
		return err
	}
	t, err := doc.toTrial()
	if err != nil {
		return storage.NewError(storage.RetCInternalError, err.Error())
	}
	if err := fn(&t); err != nil {
		return err
	}
	updated, err := fromTrial(record.StudyID(doc.StudyID), t)
	if err != nil {
		return storage.NewError(storage.RetCInvalidOperation, err.Error())
	}
	return s.save(keyTrial(id), updated)
}

// --------------------------------------------------------------------------
// Interface Methods (docs see storage/interface.go)
// --------------------------------------------------------------------------

func (s *storageImpl) CreateStudy(name string) (record.StudyID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok, err := s.store.Get(keyStudyName(name)); err != nil {
		return 0, wrap(err)
	} else if ok {
		return 0, storage.Errorf(storage.RetCAlreadyExists, "study %q already exists", name)
	}

	v, err := s.nextID(keyNextStudyID)
	if err != nil {
		return 0, err
	}
	id := record.StudyID(v)

	// the study document is written before the name index
	doc := studyDoc{ID: v, Name: name, UserAttrs: map[string][]byte{}, SystemAttrs: map[string][]byte{}}
	if err := s.save(keyStudy(id), doc); err != nil {
		return 0, err
	}
	if err := wrap(s.store.Set(keyStudyName(name), encodeInt(v))); err != nil {
		return 0, err
	}
	log.Debugf("kvstorage: created study %q with id %d", name, id)
	return id, nil
}

func (s *storageImpl) GetStudyIDByName(name string) (record.StudyID, error) {
	b, ok, err := s.store.Get(keyStudyName(name))
	if err != nil {
		return 0, wrap(err)
	}
	if !ok {
		return 0, storage.Errorf(storage.RetCNotFound, "study %q not found", name)
	}
	v, err := decodeInt(b)
	if err != nil {
		return 0, storage.Errorf(storage.RetCInternalError, "decode study id of %q: %v", name, err)
	}
	return record.StudyID(v), nil
}

func (s *storageImpl) GetStudy(id record.StudyID) (record.Study, error) {
	doc, err := s.studyDoc(id)
	if err != nil {
		return record.Study{}, err
	}
	st, err := doc.toStudy()
	if err != nil {
		return record.Study{}, storage.NewError(storage.RetCInternalError, err.Error())
	}
	return st, nil
}

func (s *storageImpl) GetAllStudies() ([]record.Study, error) {
	last, err := s.loadInt(keyNextStudyID)
	if err != nil {
		return nil, err
	}
	var studies []record.Study
	for id := record.StudyID(1); id <= record.StudyID(last); id++ {
		st, err := s.GetStudy(id)
		if storage.IsCode(err, storage.RetCNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		studies = append(studies, st)
	}
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
		st.UserAttrs[key] = value
		return nil
	})
}

func (s *storageImpl) SetStudySystemAttr(id record.StudyID, key string, value any) error {
	return s.updateStudy(id, func(st *record.Study) error {
		st.SystemAttrs[key] = value
		return nil
	})
}

func (s *storageImpl) CreateTrial(studyID record.StudyID, template *record.Trial) (record.TrialID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.studyDoc(studyID); err != nil {
		return 0, err
	}
	count, err := s.loadInt(keyStudyTrialCount(studyID))
	if err != nil {
		return 0, err
	}

	// build the record before any id is consumed
	t, err := storage.NewTrialFromTemplate(0, int(count), template, time.Now())
	if err != nil {
		return 0, err
	}

	v, err := s.nextID(keyNextTrialID)
	if err != nil {
		return 0, err
	}
	t.ID = record.TrialID(v)

	doc, err := fromTrial(studyID, t)
	if err != nil {
		return 0, storage.NewError(storage.RetCInvalidOperation, err.Error())
	}
	if err := s.save(keyTrial(t.ID), doc); err != nil {
		return 0, err
	}
	if err := wrap(s.store.Set(keyStudyTrial(studyID, t.Number), encodeInt(v))); err != nil {
		return 0, err
	}
	if err := wrap(s.store.Set(keyStudyTrialCount(studyID), encodeInt(count+1))); err != nil {
		return 0, err
	}
	return t.ID, nil
}

func (s *storageImpl) GetTrialNumberFromID(id record.TrialID) (int, error) {
	doc, err := s.trialDoc(id)
	if err != nil {
		return 0, err
	}
	return doc.Number, nil
}

func (s *storageImpl) GetTrial(id record.TrialID) (record.Trial, error) {
	doc, err := s.trialDoc(id)
	if err != nil {
		return record.Trial{}, err
	}
	t, err := doc.toTrial()
	if err != nil {
		return record.Trial{}, storage.NewError(storage.RetCInternalError, err.Error())
	}
	return t, nil
}

func (s *storageImpl) GetAllTrials(studyID record.StudyID) ([]record.Trial, error) {
	if _, err := s.studyDoc(studyID); err != nil {
		return nil, err
	}
	count, err := s.loadInt(keyStudyTrialCount(studyID))
	if err != nil {
		return nil, err
	}

	trials := make([]record.Trial, 0, count)
	for number := 0; number < int(count); number++ {
		b, ok, err := s.store.Get(keyStudyTrial(studyID, number))
		if err != nil {
			return nil, wrap(err)
		}
		if !ok {
			return nil, storage.Errorf(storage.RetCInternalError, "study %d has no trial with number %d", studyID, number)
		}
		id, err := decodeInt(b)
		if err != nil {
			return nil, storage.Errorf(storage.RetCInternalError, "decode trial id: %v", err)
		}
		t, err := s.GetTrial(record.TrialID(id))
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
	return wrap(s.store.Close())
}
