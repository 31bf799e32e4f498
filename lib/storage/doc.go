// Package storage defines the contract of stores holding studies and trials
// (IStorage), the storage error type with its return codes, and the write
// rules shared by all implementations.
//
// The same interface is used on both sides of a replication: the live store
// of the host loop is read through it, and every destination is written
// through it. Implementations:
//
//   - memstorage: in-memory, safe for many concurrent writers. Used as the
//     live store of the optimization loop.
//   - kvstorage: layered on any kv.IStore backend (lstore, bstore, dstore).
//   - sqlstorage: durable SQLite database.
//
// Write rules (enforced through the Apply* helpers in this package):
//
//   - A trial in a terminal state can not be updated (RetCTrialFinished).
//   - Intermediate values are append-only per step (RetCInvalidOperation).
//   - A parameter can not be changed once set (RetCInvalidOperation).
//   - The study direction can be set once (RetCInvalidOperation).
//
// The testing subpackage contains a conformance suite every implementation
// runs from its own tests.
package storage
