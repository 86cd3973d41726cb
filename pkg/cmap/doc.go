// Package cmap provides a concurrent-safe sharded map keyed by string.
//
// It uses sharding to reduce lock contention, providing better
// performance than a single mutex-guarded map for high-concurrency
// workloads. Shard selection uses murmur3 so the same key always lands
// on the same shard regardless of process.
package cmap
