// Package sqlstorage implements storage.IStorage on a SQLite database
// (github.com/mattn/go-sqlite3).
//
// It is the durable destination for replicated studies that should be
// inspectable with standard SQL tooling. The schema (see schema.go) keeps one
// table per field family of a trial: params, intermediate values and
// attributes live in child tables keyed by trial id.
//
// Every operation runs in its own transaction. Creating a trial from a
// template inserts the trial row and all child rows in one transaction, so a
// partially copied trial is never visible. File databases run in WAL mode.
package sqlstorage
