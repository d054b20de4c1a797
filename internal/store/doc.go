// Package store is the SQLite backing store for one member graph.
//
// Records are appended to a single table and read back through scan
// sessions in row-key byte order. Visibility labels are checked against
// the session's authorizations as rows stream out.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//
// A session holds one pooled connection until it is closed, so the pool
// allows a few connections: readers in WAL mode do not block each other
// or the writer.
package store
