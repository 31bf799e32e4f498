// Package testing provides a conformance suite every kv.IStore
// implementation runs from its own tests (RunIStoreTests).
package testing
