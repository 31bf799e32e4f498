// Package bstore implements kv.IStore on an embedded BadgerDB database.
//
// It is the durable single-node backend of kvstorage: a replication
// destination that survives process restarts without running a separate
// database server.
//
// Implementation Details:
//
//   - SetIfUnset and DeleteIfEqual read and write the key in one read-write
//     transaction.
//     Badger's optimistic concurrency turns racing writers into transaction
//     conflicts, which are retried.
//   - Time to live is handled natively by Badger (Entry.WithTTL); expired
//     keys are not returned by Get.
//   - A background goroutine runs value log garbage collection every
//     GCInterval until the store is closed.
//
// Usage Example:
//
//	store, err := bstore.NewBadgerStore(bstore.DefaultConfig("data/dump"))
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
package bstore
