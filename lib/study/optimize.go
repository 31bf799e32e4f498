package study

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/ValentinKolb/dStudy/lib/record"
	"golang.org/x/sync/errgroup"
)

// ErrPruned is returned by an objective to mark its trial as pruned.
var ErrPruned = errors.New("trial pruned")

// Objective evaluates one trial and returns its objective value.
// Returning ErrPruned marks the trial pruned, any other error marks it failed.
type Objective func(ctx context.Context, t *Trial) (float64, error)

// CallbackFunc is called on the worker that finished a trial, with a
// snapshot of the finished trial.
type CallbackFunc func(s *Study, t record.Trial) error

// OptimizeConfig configures Optimize.
type OptimizeConfig struct {
	NTrials   int            // number of trials to run
	NJobs     int            // number of concurrent workers (default 1)
	Seed      uint64         // seed of the random sampler
	Callbacks []CallbackFunc // run after every finished trial, in order
}

// fatal is implemented by callback errors that must stop the optimization.
type fatal interface {
	Fatal() bool
}

func isFatal(err error) bool {
	var f fatal
	return errors.As(err, &f) && f.Fatal()
}

// Optimize runs NTrials trials of the objective on NJobs workers.
//
// Callback errors are logged and do not change the outcome of the trial,
// except for errors implementing interface{ Fatal() bool } that report
// true: these stop the run. Optimize returns once all workers have
// finished their current trial, with the first fatal or storage error.
func (s *Study) Optimize(ctx context.Context, objective Objective, conf OptimizeConfig) error {
	jobs := max(conf.NJobs, 1)

	g, ctx := errgroup.WithContext(ctx)
	var started atomic.Int64
	for w := 0; w < jobs; w++ {
		g.Go(func() error {
			for ctx.Err() == nil && started.Add(1) <= int64(conf.NTrials) {
				if err := s.runTrial(ctx, objective, conf); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// runTrial creates, evaluates and finishes one trial and runs the callbacks.
func (s *Study) runTrial(ctx context.Context, objective Objective, conf OptimizeConfig) error {
	id, err := s.storage.CreateTrial(s.id, nil)
	if err != nil {
		return fmt.Errorf("create trial: %w", err)
	}
	number, err := s.storage.GetTrialNumberFromID(id)
	if err != nil {
		return fmt.Errorf("read trial number: %w", err)
	}

	value, objErr := objective(ctx, newTrial(s, id, number, conf.Seed))
	state := record.TrialStateComplete
	switch {
	case errors.Is(objErr, ErrPruned):
		state = record.TrialStatePruned
	case objErr != nil:
		state = record.TrialStateFailed
		log.Warningf("trial %d failed: %v", number, objErr)
	default:
		if err := s.storage.SetTrialValue(id, value); err != nil {
			return fmt.Errorf("set value of trial %d: %w", number, err)
		}
	}
	if err := s.storage.SetTrialState(id, state); err != nil {
		return fmt.Errorf("set state of trial %d: %w", number, err)
	}

	finished, err := s.storage.GetTrial(id)
	if err != nil {
		return fmt.Errorf("read trial %d: %w", number, err)
	}
	log.Debugf("trial %d finished with state %s", number, state)

	for _, cb := range conf.Callbacks {
		if err := cb(s, finished); err != nil {
			if isFatal(err) {
				return err
			}
			log.Warningf("callback after trial %d failed: %v", number, err)
		}
	}
	return nil
}
