package dump

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/dStudy/lib/common"
	"github.com/ValentinKolb/dStudy/lib/record"
	"github.com/ValentinKolb/dStudy/lib/storage"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger(common.LoggerDump)

// PassStats summarizes one replication pass.
type PassStats struct {
	Created int // trials created at the destination
	Merged  int // existing destination trials that were compared field by field
	Skipped int // destination trials already finished
	Writes  int // destination writes (creates and field setters)
}

func (s PassStats) String() string {
	return fmt.Sprintf("created=%d merged=%d skipped=%d writes=%d", s.Created, s.Merged, s.Skipped, s.Writes)
}

// Bootstrap creates the destination study with the name of src, or attaches
// to an existing one, and copies the optimization direction. Calling it again
// for the same destination is a no-op.
func Bootstrap(src record.Study, dst storage.IStorage) (record.StudyID, error) {
	id, err := dst.GetStudyIDByName(src.Name)
	if storage.IsCode(err, storage.RetCNotFound) {
		id, err = dst.CreateStudy(src.Name)
		if storage.IsCode(err, storage.RetCAlreadyExists) {
			// created by someone else in the meantime
			id, err = dst.GetStudyIDByName(src.Name)
		}
		if err == nil {
			log.Infof("created study %q at destination (id %d)", src.Name, id)
		}
	}
	if err != nil {
		return 0, fmt.Errorf("bootstrap study %q: %w", src.Name, err)
	}

	if src.Direction != record.DirectionNotSet {
		if err := dst.SetStudyDirection(id, src.Direction); err != nil {
			return 0, fmt.Errorf("bootstrap study %q: %w", src.Name, err)
		}
	}
	return id, nil
}

// Dump runs one replication pass: every trial of the source study is
// created at the destination or merged into its destination counterpart.
//
// The destination trials are read once at the start of the pass. Source
// trials are visited in ascending number order and the pass stops at the
// first error, so all trials before the failing one are fully replicated.
// Trials that are finished at the destination are never touched again.
func Dump(src storage.IStorage, srcStudyID record.StudyID, dst storage.IStorage, dstStudyID record.StudyID) (PassStats, error) {
	var stats PassStats

	existing, err := dst.GetAllTrials(dstStudyID)
	if err != nil {
		return stats, fmt.Errorf("read destination trials: %w", err)
	}
	byNumber := make(map[int]record.Trial, len(existing))
	for _, t := range existing {
		byNumber[t.Number] = t
	}

	trials, err := src.GetAllTrials(srcStudyID)
	if err != nil {
		return stats, fmt.Errorf("read source trials: %w", err)
	}

	for _, t := range trials {
		cur, ok := byNumber[t.Number]
		switch {
		case !ok:
			writes, err := createTrial(t, dst, dstStudyID)
			stats.Writes += writes
			if err != nil {
				return stats, err
			}
			stats.Created++
		case cur.State.IsFinished():
			stats.Skipped++
		default:
			writes, err := SyncTrialFields(t, cur, dst)
			stats.Writes += writes
			if err != nil {
				return stats, fmt.Errorf("merge trial %d: %w", t.Number, err)
			}
			stats.Merged++
		}
	}
	return stats, nil
}

// createTrial creates the destination counterpart of t. A finished trial is
// copied in one step; a running trial starts as a placeholder that is merged
// right away.
func createTrial(t record.Trial, dst storage.IStorage, dstStudyID record.StudyID) (int, error) {
	var template *record.Trial
	if t.State.IsFinished() {
		template = &t
	}

	id, err := dst.CreateTrial(dstStudyID, template)
	if err != nil {
		if template != nil && storage.IsCode(err, storage.RetCInvalidOperation) {
			return 0, &IntegrityError{Number: t.Number, Msg: "destination rejected finished trial", Err: err}
		}
		return 0, fmt.Errorf("create trial %d: %w", t.Number, err)
	}

	number, err := dst.GetTrialNumberFromID(id)
	if err != nil {
		return 1, fmt.Errorf("read number of trial %d: %w", t.Number, err)
	}
	if number != t.Number {
		return 1, &IntegrityError{
			Number: t.Number,
			Msg:    fmt.Sprintf("destination assigned number %d", number),
		}
	}
	if template != nil {
		return 1, nil
	}

	placeholder, err := dst.GetTrial(id)
	if err != nil {
		return 1, fmt.Errorf("read trial %d: %w", t.Number, err)
	}
	writes, err := SyncTrialFields(t, placeholder, dst)
	if err != nil {
		return 1 + writes, fmt.Errorf("merge trial %d: %w", t.Number, err)
	}
	return 1 + writes, nil
}

// DumpStudy replicates a whole study in one call: it bootstraps the
// destination study, synchronizes the study attributes and runs one pass.
// It returns the id of the destination study.
func DumpStudy(src storage.IStorage, srcStudyID record.StudyID, dst storage.IStorage) (record.StudyID, PassStats, error) {
	study, err := src.GetStudy(srcStudyID)
	if err != nil {
		return 0, PassStats{}, fmt.Errorf("read source study: %w", err)
	}
	dstStudyID, err := Bootstrap(study, dst)
	if err != nil {
		return 0, PassStats{}, err
	}
	writes, err := SyncStudyAttrs(study, dst, dstStudyID)
	if err != nil {
		return dstStudyID, PassStats{Writes: writes}, fmt.Errorf("sync study attrs: %w", err)
	}
	stats, err := Dump(src, srcStudyID, dst, dstStudyID)
	stats.Writes += writes
	return dstStudyID, stats, withStudy(err, study.Name)
}

// withStudy fills in the study name of an integrity error
func withStudy(err error, name string) error {
	var ie *IntegrityError
	if errors.As(err, &ie) && ie.Study == "" {
		ie.Study = name
	}
	return err
}
