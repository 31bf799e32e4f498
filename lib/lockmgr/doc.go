// Package lockmgr provides non-blocking, owner-checked locks.
//
// A dump pass must never run twice at the same time against one
// destination, and a worker that finds the lock taken must not wait for it.
// AcquireLock therefore either takes the lock or returns ok=false at once.
//
// Two implementations are available:
//
//   - NewLocalLockManager: locks shared by the goroutines of one process.
//     Owner IDs are kept in a concurrent map; acquiring is a LoadOrStore,
//     releasing deletes the entry only if the owner ID matches.
//
//   - NewLockManager: locks kept in a kv.IStore, shared by every process
//     using the same store. Acquisition is a SetIfUnset of a random owner
//     ID followed by a Get that verifies the stored owner. The optional
//     timeout becomes the TTL of the key, so the lock of a crashed holder
//     disappears on its own. With the raft backend (dstore) the lock is
//     linearizable across nodes.
//
// Owner IDs are random UUIDs. ReleaseLock is a single DeleteIfEqual on the
// stored owner, so a holder whose lock expired can not release the lock of
// the next holder.
//
// Usage Example:
//
//	locks := lockmgr.NewLockManager(store)
//	ok, owner, err := locks.AcquireLock("dump:my-study", 30*time.Second)
//	if err != nil || !ok {
//	    return
//	}
//	defer locks.ReleaseLock("dump:my-study", owner)
package lockmgr
