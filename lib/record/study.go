package record

import (
	"fmt"
	"strings"
)

// StudyID is the store-local identifier of a study.
type StudyID int64

// StudyDirection is the optimization direction of a study.
type StudyDirection uint8

const (
	DirectionNotSet   StudyDirection = iota // Direction was not set yet.
	DirectionMinimize                       // Smaller objective values are better.
	DirectionMaximize                       // Larger objective values are better.
)

func (d StudyDirection) String() string {
	switch d {
	case DirectionNotSet:
		return "not_set"
	case DirectionMinimize:
		return "minimize"
	case DirectionMaximize:
		return "maximize"
	default:
		return fmt.Sprintf("Unknown(%d)", d)
	}
}

// ParseStudyDirection converts the string representation of a direction
// (as returned by String) back to a StudyDirection.
func ParseStudyDirection(s string) (StudyDirection, error) {
	switch strings.ToLower(s) {
	case "not_set", "":
		return DirectionNotSet, nil
	case "minimize", "min":
		return DirectionMinimize, nil
	case "maximize", "max":
		return DirectionMaximize, nil
	default:
		return DirectionNotSet, fmt.Errorf("invalid study direction %q", s)
	}
}

// Study describes one optimization experiment.
type Study struct {
	ID          StudyID
	Name        string
	Direction   StudyDirection
	UserAttrs   Attrs
	SystemAttrs Attrs
}

// Clone returns a deep copy of the study.
func (s Study) Clone() Study {
	s.UserAttrs = s.UserAttrs.Clone()
	s.SystemAttrs = s.SystemAttrs.Clone()
	return s
}
