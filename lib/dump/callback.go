package dump

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ValentinKolb/dStudy/lib/lockmgr"
	"github.com/ValentinKolb/dStudy/lib/record"
	"github.com/ValentinKolb/dStudy/lib/storage"
	"github.com/ValentinKolb/dStudy/lib/study"
)

// Outcome tells what a single trigger did.
type Outcome int

const (
	OutcomeIgnored Outcome = iota // the trial is not an interval boundary
	OutcomeSkipped                // another pass holds the lock
	OutcomeDumped                 // a pass ran (successfully or not, see the returned error)
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIgnored:
		return "Ignored"
	case OutcomeSkipped:
		return "Skipped"
	case OutcomeDumped:
		return "Dumped"
	default:
		return fmt.Sprintf("Unknown(%d)", int(o))
	}
}

type callbackState uint8

const (
	stateUninitialized callbackState = iota
	stateBootstrapped
)

// CallbackConfig configures a Callback.
type CallbackConfig struct {
	// Interval is the number of completed trials between two passes. Required, > 0.
	Interval int
	// SyncStudyAttrsEveryTime synchronizes the study attributes on every
	// pass instead of only on the first one.
	SyncStudyAttrsEveryTime bool
	// LockManager serializes the passes. Defaults to a lock manager local to the callback.
	LockManager lockmgr.ILockManager
	// LockKey is the key of the dump lock. Defaults to "dump:<study name>".
	LockKey string
	// LockTimeout releases a lock whose holder died (store locks only). 0 disables it.
	LockTimeout time.Duration
}

// Callback replicates a study into one destination every Interval completed
// trials. It is meant to be registered as trial completion callback of the
// optimization loop and may be called from many workers at once: at most
// one pass runs at a time, and a call that finds a pass running returns
// immediately without waiting.
type Callback struct {
	dest storage.IStorage
	conf CallbackConfig

	// mu protects state and dstStudyID. It is only taken while holding the
	// dump lock and is therefore never contended.
	mu         sync.Mutex
	state      callbackState
	dstStudyID record.StudyID
}

// NewCallback creates a callback replicating into dest.
func NewCallback(dest storage.IStorage, conf CallbackConfig) (*Callback, error) {
	if dest == nil {
		return nil, errors.New("destination storage is required")
	}
	if conf.Interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %d", conf.Interval)
	}
	if conf.LockManager == nil {
		conf.LockManager = lockmgr.NewLocalLockManager()
	}
	return &Callback{
		dest: dest,
		conf: conf,
	}, nil
}

// Trigger is called with the source storage, the source study and a trial
// that just completed. It runs a pass if the trial number is a positive
// multiple of the interval and no other pass is running.
//
// Lock contention is not an error (OutcomeSkipped, nil). Storage failures are
// returned unchanged and are retried implicitly by the next pass. A broken
// invariant is returned as *IntegrityError. The lock is released on every path.
func (c *Callback) Trigger(src storage.IStorage, srcStudy record.Study, trial record.Trial) (Outcome, error) {
	if trial.Number <= 0 || trial.Number%c.conf.Interval != 0 {
		return OutcomeIgnored, nil
	}

	key := c.conf.LockKey
	if key == "" {
		key = "dump:" + srcStudy.Name
	}

	ok, owner, err := c.conf.LockManager.AcquireLock(key, c.conf.LockTimeout)
	if err != nil {
		errorsTotal.Inc()
		return OutcomeSkipped, fmt.Errorf("acquire dump lock %s: %w", key, err)
	}
	if !ok {
		skippedTotal.Inc()
		log.Infof("dump of study %q at trial %d skipped: another pass is running", srcStudy.Name, trial.Number)
		return OutcomeSkipped, nil
	}
	defer func() {
		if released, err := c.conf.LockManager.ReleaseLock(key, owner); err != nil || !released {
			log.Warningf("failed to release dump lock %s (released=%t): %v", key, released, err)
		}
	}()

	start := time.Now()
	stats, err := c.pass(src, srcStudy)
	passDuration.UpdateDuration(start)
	passesTotal.Inc()
	trialsCreatedTotal.Add(stats.Created)
	writesTotal.Add(stats.Writes)

	if err != nil {
		errorsTotal.Inc()
		err = withStudy(err, srcStudy.Name)
		if IsIntegrityError(err) {
			log.Errorf("dump of study %q aborted: %v", srcStudy.Name, err)
		} else {
			log.Warningf("dump of study %q at trial %d failed: %v", srcStudy.Name, trial.Number, err)
		}
		return OutcomeDumped, err
	}
	log.Debugf("dump of study %q at trial %d done in %s (%s)", srcStudy.Name, trial.Number, time.Since(start), stats)
	return OutcomeDumped, nil
}

// pass bootstraps the destination on first use and runs one dump. Must be
// called with the dump lock held.
func (c *Callback) pass(src storage.IStorage, srcStudy record.Study) (PassStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var stats PassStats
	switch {
	case c.state == stateUninitialized:
		id, err := Bootstrap(srcStudy, c.dest)
		if err != nil {
			return stats, err
		}
		writes, err := SyncStudyAttrs(srcStudy, c.dest, id)
		stats.Writes += writes
		if err != nil {
			return stats, fmt.Errorf("sync study attrs: %w", err)
		}
		c.dstStudyID = id
		c.state = stateBootstrapped
	case c.conf.SyncStudyAttrsEveryTime:
		writes, err := SyncStudyAttrs(srcStudy, c.dest, c.dstStudyID)
		stats.Writes += writes
		if err != nil {
			return stats, fmt.Errorf("sync study attrs: %w", err)
		}
	}

	passStats, err := Dump(src, srcStudy.ID, c.dest, c.dstStudyID)
	passStats.Writes += stats.Writes
	return passStats, err
}

// OnTrialComplete adapts Trigger to the trial completion hook of study.Optimize.
func (c *Callback) OnTrialComplete(s *study.Study, t record.Trial) error {
	srcStudy, err := s.Record()
	if err != nil {
		return err
	}
	_, err = c.Trigger(s.Storage(), srcStudy, t)
	return err
}
