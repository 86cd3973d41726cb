// Package metric provides Prometheus metrics for kvmesh.
//
// It exposes metrics in Prometheus format for monitoring object counts,
// storage utilization, operation latencies, replication outcomes, and
// peer health.
package metric
