// Package internal defines the wire format between the dstore client and its
// raft state machine.
//
// Commands (Set, SetIfUnset, Delete, DeleteIfEqual) are appended to the raft log and use a
// compact binary encoding:
//
//   - 1 byte: Command type
//   - 8 bytes: IssuedAt (unix milliseconds, big endian)
//   - 8 bytes: DeleteAt (unix milliseconds, big endian, 0 = never)
//   - 4 bytes: Key length (uint32, big endian)
//   - N bytes: Key data
//   - M bytes: Value data (optional)
//
// Queries never leave the process that issues them and are passed to the
// state machine as plain structs.
package internal
