package study

import (
	"errors"
	"fmt"
	"math"

	"github.com/ValentinKolb/dStudy/lib/common"
	"github.com/ValentinKolb/dStudy/lib/record"
	"github.com/ValentinKolb/dStudy/lib/storage"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger(common.LoggerStudy)

// ErrNoCompleteTrials is returned by BestTrial if no trial has completed yet.
var ErrNoCompleteTrials = errors.New("study has no complete trials")

// Study is a handle on one study in a storage.
type Study struct {
	storage storage.IStorage
	id      record.StudyID
	name    string
}

// CreateStudy creates a new study in s and sets its direction.
func CreateStudy(s storage.IStorage, name string, direction record.StudyDirection) (*Study, error) {
	id, err := s.CreateStudy(name)
	if err != nil {
		return nil, err
	}
	if direction != record.DirectionNotSet {
		if err := s.SetStudyDirection(id, direction); err != nil {
			return nil, err
		}
	}
	return &Study{storage: s, id: id, name: name}, nil
}

// LoadStudy opens an existing study by name.
func LoadStudy(s storage.IStorage, name string) (*Study, error) {
	id, err := s.GetStudyIDByName(name)
	if err != nil {
		return nil, err
	}
	return &Study{storage: s, id: id, name: name}, nil
}

func (s *Study) ID() record.StudyID { return s.id }
func (s *Study) Name() string { return s.name }
func (s *Study) Storage() storage.IStorage { return s.storage }

// Record returns the current state of the study.
func (s *Study) Record() (record.Study, error) {
	return s.storage.GetStudy(s.id)
}

// SetUserAttr sets a user attribute of the study.
func (s *Study) SetUserAttr(key string, value any) error {
	return s.storage.SetStudyUserAttr(s.id, key, value)
}

// SetSystemAttr sets a system attribute of the study.
func (s *Study) SetSystemAttr(key string, value any) error {
	return s.storage.SetStudySystemAttr(s.id, key, value)
}

// Trials returns all trials of the study ordered by number.
func (s *Study) Trials() ([]record.Trial, error) {
	return s.storage.GetAllTrials(s.id)
}

// BestTrial returns the complete trial with the best value according to the
// study direction (minimize if none is set).
func (s *Study) BestTrial() (record.Trial, error) {
	st, err := s.Record()
	if err != nil {
		return record.Trial{}, err
	}
	trials, err := s.Trials()
	if err != nil {
		return record.Trial{}, err
	}

	better := func(a, b float64) bool { return a < b }
	if st.Direction == record.DirectionMaximize {
		better = func(a, b float64) bool { return a > b }
	}

	var best *record.Trial
	for i := range trials {
		t := &trials[i]
		if t.State != record.TrialStateComplete || t.Value == nil || math.IsNaN(*t.Value) {
			continue
		}
		if best == nil || better(*t.Value, *best.Value) {
			best = t
		}
	}
	if best == nil {
		return record.Trial{}, fmt.Errorf("study %q: %w", s.name, ErrNoCompleteTrials)
	}
	return *best, nil
}
