// Package record holds the plain data model shared by every store and by the
// replication engine: studies, trials, trial states, study directions,
// attribute maps and parameter distributions.
//
// The package performs no I/O. Records returned by stores are always deep
// copies, so a record may be freely inspected and compared without holding
// any lock of the store it came from.
//
// Identity:
//
//   - A Study is identified by its unique Name. Its ID is store-local.
//   - A Trial is identified inside its study by Number, which is dense and
//     assigned in creation order. Its ID is store-local and differs between
//     stores; Number is the only identity that is portable across stores.
//
// Equality:
//
//	Attribute values and external parameter values are arbitrary JSON
//	representable values. Two values are considered equal if their canonical
//	JSON encodings are equal (see ValueEqual). This keeps comparisons stable
//	for values that were round-tripped through a JSON based store, where for
//	example an int becomes a float64.
package record
