// Package metadata persists per-identity metadata, most importantly the
// existsRemotely flag that stops a provisioned identity from being
// provisioned again.
//
// Backends:
//
//   - MemoryStore, for a single process and for tests
//   - gormstore, the user_metadata table in PostgreSQL
//   - redisstore, one Redis hash per identity
package metadata
