package storage

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/dStudy/lib/record"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IStorage is the interface for stores holding studies and their trials.
// The live study of the host loop and every replication destination are
// accessed through it.
//
// All methods are safe for concurrent use. Read methods return deep copies.
// All errors returned by implementations are *Error values (possibly wrapped).
type IStorage interface {
	// CreateStudy creates a new study with the given name.
	// Returns an error with RetCAlreadyExists if the name is taken.
	CreateStudy(name string) (id record.StudyID, err error)
	// GetStudyIDByName returns the id of the study with the given name.
	// Returns an error with RetCNotFound if no such study exists.
	GetStudyIDByName(name string) (id record.StudyID, err error)
	// GetStudy returns the study with the given id.
	GetStudy(id record.StudyID) (study record.Study, err error)
	// GetAllStudies returns all studies ordered by id.
	GetAllStudies() (studies []record.Study, err error)
	// SetStudyDirection sets the optimization direction of a study. The
	// direction can be set once; setting a different direction afterwards
	// fails with RetCInvalidOperation. Setting the same direction again is a no-op.
	SetStudyDirection(id record.StudyID, direction record.StudyDirection) (err error)
	// SetStudyUserAttr inserts or updates a user attribute of a study.
	SetStudyUserAttr(id record.StudyID, key string, value any) (err error)
	// SetStudySystemAttr inserts or updates a system attribute of a study.
	SetStudySystemAttr(id record.StudyID, key string, value any) (err error)

	// CreateTrial creates a new trial in the study and assigns it the next
	// trial number. A nil template creates a running placeholder; otherwise
	// the trial is created with every field of the template (the template's
	// ID and Number are ignored).
	CreateTrial(studyID record.StudyID, template *record.Trial) (id record.TrialID, err error)
	// GetTrialNumberFromID returns the number assigned to the trial.
	GetTrialNumberFromID(id record.TrialID) (number int, err error)
	// GetTrial returns a snapshot of the trial.
	GetTrial(id record.TrialID) (trial record.Trial, err error)
	// GetAllTrials returns snapshots of all trials of a study in ascending
	// number order. Each trial is a consistent point-in-time view of that
	// trial; the list as a whole may miss trials created concurrently.
	GetAllTrials(studyID record.StudyID) (trials []record.Trial, err error)

	// SetTrialState sets the state of a trial. Moving to a terminal state also
	// records the completion time.
	SetTrialState(id record.TrialID, state record.TrialState) (err error)
	// SetTrialValue sets the objective value of a trial.
	SetTrialValue(id record.TrialID, value float64) (err error)
	// SetTrialIntermediateValue records the value reported at a step.
	// Steps are append-only: writing an existing step fails with RetCInvalidOperation.
	SetTrialIntermediateValue(id record.TrialID, step int, value float64) (err error)
	// SetTrialParam records a parameter as its internal representation
	// together with its distribution. Re-writing an existing parameter with a
	// different value or distribution fails with RetCInvalidOperation.
	SetTrialParam(id record.TrialID, name string, internal float64, dist record.Distribution) (err error)
	// SetTrialUserAttr inserts or updates a user attribute of a trial.
	SetTrialUserAttr(id record.TrialID, key string, value any) (err error)
	// SetTrialSystemAttr inserts or updates a system attribute of a trial.
	SetTrialSystemAttr(id record.TrialID, key string, value any) (err error)

	// Close releases the resources of the storage.
	Close() (err error)
}

// Factory creates a fresh, empty storage. It is used by the conformance tests.
type Factory func() IStorage

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("StorageError (code %s): %s", e.Code, e.Msg)
}

// NewError creates a new Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// Errorf creates a new Error with the given code and a formatted message.
func Errorf(code RetCode, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

// IsCode reports whether err (or any error it wraps) is an *Error with the given code.
func IsCode(err error, code RetCode) bool {
	var se *Error
	return errors.As(err, &se) && se.Code == code
}

// CheckTrialWritable returns an error with RetCTrialFinished if the trial is
// in a terminal state. Every trial setter calls it before writing.
func CheckTrialWritable(t record.Trial) error {
	if t.State.IsFinished() {
		return Errorf(RetCTrialFinished, "trial %d (id %d) is already finished with state %s", t.Number, t.ID, t.State)
	}
	return nil
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Operation executed successfully.
	RetCInternalError                       // 1: Operation failed due to an internal error.
	RetCUnsupportedOperation                // 2: Operation is not supported by the storage.
	RetCInvalidOperation                    // 3: Invalid operation.
	RetCNotFound                            // 4: Study or trial does not exist.
	RetCAlreadyExists                       // 5: Study name is already taken.
	RetCTrialFinished                       // 6: Trial is in a terminal state and can not be updated.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCNotFound:
		return "NotFound"
	case RetCAlreadyExists:
		return "AlreadyExists"
	case RetCTrialFinished:
		return "TrialFinished"
	default:
		return "Unknown"
	}
}
