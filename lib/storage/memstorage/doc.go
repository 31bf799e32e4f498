// Package memstorage implements storage.IStorage entirely in memory.
//
// It is the live store of the optimization loop: many workers create and
// update trials concurrently while a replication pass reads them. Locking is
// scoped per record, so a reader never blocks the whole store:
//
//   - Trials live in a concurrent map keyed by id; every trial has its own
//     RWMutex. GetTrial and GetAllTrials take a consistent point-in-time
//     copy of each trial under its read lock only.
//   - Each study keeps the ordered list of its trial ids under a study
//     mutex, which is only held while a trial number is assigned or while
//     the id list is copied.
//
// Data is not persisted.
package memstorage
