// Package store defines the transactional document-store collaborator the
// auth core runs against, the auth schema (tables and indexes), the entity
// shapes, and a trigger decorator for lifecycle hooks.
//
// # Architecture boundaries
//
// The core only issues the operations on [Tx] and only queries the indexes
// declared in [Schema]. Backends live in sub-packages:
//
//   - store/memory: in-process, mutex-serialized; tests and embedding
//   - store/redisstore: go-redis, optimistic WATCH/MULTI transactions
//   - store/postgres: JSONB documents over pgx, serializable isolation
//
// Delete is idempotent on every backend: deleting a missing document is not
// an error.
//
// # What this package must NOT do
//
//   - Import the root authcore package or any auth component.
//   - Interpret document contents beyond index extraction.
package store
