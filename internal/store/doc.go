// Package store provides the SQLite-backed event store.
//
// Every operation is addressed by a logical identifier (see package address):
//   - Insert: collection address only; returns the new row id and item address
//   - Query: collection or item address, structured filter and ordering
//   - Update, Delete: item addresses are always scoped to their row
//   - ApplyBatch: ordered operations in one transaction, all or nothing
//
// # Guarantees
//
// Row ids are assigned by SQLite AUTOINCREMENT: strictly increasing and never
// reused, even after deletes.
//
// Collection queries without an explicit order return newest first
// (timestamp DESC). Every query carries an _id tiebreaker, so results are
// deterministic.
//
// An item address ANDs "_id = key" with the caller's predicate. A predicate
// can narrow an item operation but never widen it to other rows.
//
// Change notifications are published strictly after commit and never for a
// rolled-back call. Update and Delete notify even when no row matched.
//
// # Concurrency
//
// One Store may be shared by any number of goroutines. Writers hold the write
// lock for the whole transaction; queries hold the read lock while the
// statement runs. The database handle uses a single connection, so SQLite
// sees one writer at a time.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON
//
// Read-only stores open the file with mode=ro, never run DDL, and reject
// writes with ErrReadOnly.
package store
