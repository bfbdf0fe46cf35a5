// Package events provides event bus implementations.
//
// Implementations:
//   - redis: Redis Streams with one consumer group per subscriber group
//   - memory: In-memory fan-out for tests and single-process runs
package events
