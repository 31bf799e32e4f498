package dump

import (
	"errors"
	"fmt"
)

// IntegrityError reports a broken replication invariant: the destination
// assigned a different trial number than the source, or it rejected a write
// of a field that the merge considered new. It is never retried; the pass
// that detected it is aborted.
type IntegrityError struct {
	Study  string // name of the replicated study
	Number int    // number of the source trial being replicated
	Msg    string
	Err    error // the rejected destination write, if any
}

// Error implements the error interface.
func (e *IntegrityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("integrity violation (study %q, trial %d): %s: %v", e.Study, e.Number, e.Msg, e.Err)
	}
	return fmt.Sprintf("integrity violation (study %q, trial %d): %s", e.Study, e.Number, e.Msg)
}

// Unwrap returns the underlying destination error.
func (e *IntegrityError) Unwrap() error {
	return e.Err
}

// Fatal marks the error as one that must abort the optimization run.
func (e *IntegrityError) Fatal() bool {
	return true
}

// IsIntegrityError reports whether err (or any error it wraps) is an *IntegrityError.
func IsIntegrityError(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}
