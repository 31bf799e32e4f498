// Package study is a small optimization loop: it runs an objective function
// on several workers, samples parameters at random and stores every trial in
// a storage.IStorage.
//
// It is the live side of a replication. Trials are written to a fast
// (usually in-memory) storage while they run, and callbacks registered in
// OptimizeConfig are called on the worker that finished a trial. The dump
// package provides such a callback.
//
// Usage Example:
//
//	s, _ := study.CreateStudy(memstorage.NewStorage(), "demo", record.DirectionMinimize)
//	err := s.Optimize(ctx, func(ctx context.Context, t *study.Trial) (float64, error) {
//	    x, err := t.SuggestFloat("x", -10, 10, false)
//	    if err != nil {
//	        return 0, err
//	    }
//	    return x * x, nil
//	}, study.OptimizeConfig{NTrials: 100, NJobs: 4})
package study
