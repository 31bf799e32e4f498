// Package lstore implements a local, in-memory, single-process key-value
// store based on the kv.IStore interface. Data is stored in a concurrent hash
// map and is not persisted between process restarts.
//
// Key Features:
//   - Pure in-memory storage without persistence
//   - Atomic SetIfUnset and DeleteIfEqual through the map's per-key Compute
//   - Time to live for SetIfUnset entries, enforced lazily on read
//   - Thread-safe operations for concurrent access
//
// Usage Example:
//
//	store := lstore.NewLocalStore()
//	err := store.SetIfUnset("lock:study", ownerID, 30*time.Second)
//	value, exists, err := store.Get("lock:study")
//
// Suitable Use Cases:
//
//	The local store is ideal for tests, for an in-process replication
//	destination, and as the backend of a lock manager shared by the goroutines
//	of one process.
package lstore
