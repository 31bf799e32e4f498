// Package kv provides a minimal key-value abstraction (IStore) used as the
// byte level backend of kvstorage and of the store-wide lock manager.
//
// Key Components:
//
//   - IStore Interface: Set, SetIfUnset (with an optional time to live),
//     Get, Delete, DeleteIfEqual and Close. The two conditional writes are
//     what the lock manager builds on: only one writer can create a key, and
//     only the writer of a value can delete it.
//
//   - Error System: A structured error reporting mechanism using typed error
//     codes (RetCode) and descriptive messages.
//
// Implementations:
//
//	- Local Store (lstore): in-memory, single process. Available in
//	  "github.com/ValentinKolb/dStudy/lib/kv/lstore".
//
//	- Badger Store (bstore): durable, embedded BadgerDB database. Available in
//	  "github.com/ValentinKolb/dStudy/lib/kv/bstore".
//
//	- Distributed Store (dstore): replicated through the Dragonboat RAFT
//	  library, linearizable across nodes. Available in
//	  "github.com/ValentinKolb/dStudy/lib/kv/dstore".
//
// The testing subpackage holds the conformance tests all backends run.
package kv
