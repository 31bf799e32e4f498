// Package serializer provides the encoders used to persist records in
// key-value backends and to snapshot replicated state machines.
//
// Key Components:
//
//   - IRecordSerializer: Core interface that all serializer implementations must satisfy.
//
//   - jsonSerializerImpl: JSON encoding. Human readable, useful for inspecting
//     a destination with external tools.
//
//   - gobSerializerImpl: Go's gob encoding. More compact for the flat record
//     documents stored by kvstorage; values must not hold unregistered
//     interface types.
//
// Thread Safety:
//
//	All serializer implementations are stateless and safe for concurrent use
//	across multiple goroutines without additional synchronization.
package serializer
