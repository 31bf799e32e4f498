// Package testing provides a conformance suite for storage.IStorage
// implementations. Every implementation runs RunStorageTests from its own
// package tests, so all stores enforce the same write rules.
package testing
