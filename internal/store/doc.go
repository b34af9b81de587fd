// Package store provides principal persistence for the users service.
//
// # Implementations
//
//   - SQLiteStore: the production store, backed by modernc.org/sqlite with
//     WAL mode. Compare-and-set rotation maps to a guarded UPDATE, so the
//     atomicity of renewal rotation is the database's.
//   - MemoryStore: a mutex-guarded in-memory store for tests and as the
//     reference for stores without native compare-and-set, which must fall
//     back to mutual exclusion around read-compare-write.
//
// # Conventions
//
// Emails are stored case-folded; lookups by email are case-insensitive.
// The renewal reference column holds a token hash, never a raw token, and
// is NULL when the principal has no active session.
package store
