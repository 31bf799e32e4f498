/*
Package dump replicates a study from a source storage into a destination
storage, incrementally and without blocking the optimization loop.

A replication pass (Dump) reads the destination trials once and walks the
source trials in ascending number order. Missing trials are created at the
destination, trials that are still running at the destination are merged
field by field, and trials that are finished at the destination are left
alone. Merging only ever adds or updates; nothing is deleted at the
destination. A pass that runs twice over an unchanged source performs no
writes the second time.

The Callback wraps a pass for the optimization loop. It fires every
Interval completed trials, guards the pass with a non-blocking lock so
concurrent workers never wait on each other, and bootstraps the destination
study on first use:

	cb, err := dump.NewCallback(dest, dump.CallbackConfig{Interval: 10})
	if err != nil {
		return err
	}
	err = s.Optimize(ctx, objective, study.OptimizeConfig{
		NTrials:   100,
		Callbacks: []study.CallbackFunc{cb.OnTrialComplete},
	})

Storage failures are returned from the pass and retried by the next one.
A broken replication invariant, such as the destination assigning a trial
number that differs from the source, is returned as *IntegrityError and
stops the optimization.
*/
package dump
