// Package storage provides instance store implementations.
//
// Implementations:
//   - redis: Redis with JSON serialization, TTL and optimistic updates
//   - memory: In-memory for tests and single-process runs
package storage
