package handler

import (
	"time"

	"github.com/kvmesh/kvmesh-go/internal/core/domain"
	"github.com/kvmesh/kvmesh-go/internal/storage/snapshot"
)

// Response is the standard API response envelope. All JSON responses
// use this format except /metrics, which uses the Prometheus format.
type Response struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
	Details   any    `json:"details,omitempty"`
}

// NewResponse creates a success response.
func NewResponse(requestID string, data any) *Response {
	return &Response{
		Code:      "OK",
		Message:   "Success",
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(requestID, code, message string, details any) *Response {
	return &Response{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Details:   details,
	}
}

// PutObjectRequest is the request body for PUT /v1/objects/{key}.
// Value travels base64-encoded, as Go's encoding/json renders []byte.
type PutObjectRequest struct {
	Value []byte   `json:"value"`
	Tags  []string `json:"tags,omitempty"`
	TTLMs int64    `json:"ttl_ms,omitempty"`
}

// PutObjectResponse is the response body for PUT /v1/objects/{key}.
type PutObjectResponse struct {
	Key     string `json:"key"`
	Version uint64 `json:"version"`
}

// GetObjectResponse is the response body for GET /v1/objects/{key}.
type GetObjectResponse struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

// DeleteObjectResponse is the response body for DELETE /v1/objects/{key}.
type DeleteObjectResponse struct {
	Key     string `json:"key"`
	Deleted bool   `json:"deleted"`
}

// TagQueryResponse is the response body for GET /v1/objects?tag=.
type TagQueryResponse struct {
	Tag    string   `json:"tag"`
	Values [][]byte `json:"values"`
	Count  int      `json:"count"`
}

// StatsResponse is the response body for GET /v1/stats.
type StatsResponse struct {
	NodeID            string  `json:"node_id"`
	TotalObjects      int     `json:"total_objects"`
	UsedBytes         int64   `json:"used_bytes"`
	MaxBytes          int64   `json:"max_bytes"`
	UtilizationPct    float64 `json:"utilization_percent"`
	PeerCount         int     `json:"peer_count"`
	ReplicationFactor int     `json:"replication_factor"`
}

// PeersResponse is the response body for GET /v1/peers.
type PeersResponse struct {
	Peers []domain.Peer `json:"peers"`
}

// BackupResponse is the response body for POST /v1/backups.
type BackupResponse struct {
	Snapshot *snapshot.Info `json:"snapshot"`
}

// BackupListResponse is the response body for GET /v1/backups.
type BackupListResponse struct {
	Snapshots []*snapshot.Info `json:"snapshots"`
}

// ApplyMutationResponse is the response body for the replication
// mutation and push endpoints.
type ApplyMutationResponse struct {
	Applied int `json:"applied"`
}

// PullRequest is the request body for POST /v1/replication/pull.
type PullRequest struct {
	Keys []string `json:"keys"`
}

// MutationBatch carries mutations for the replication push and pull
// endpoints.
type MutationBatch struct {
	Mutations []domain.Mutation `json:"mutations"`
}

// DigestResponse is the response body for GET /v1/replication/digest.
type DigestResponse struct {
	NodeID    string                         `json:"node_id"`
	Digest    map[string]domain.VersionStamp `json:"digest"`
	UsedBytes int64                          `json:"used_bytes"`
}

// HealthResponse is the response body for GET /healthz.
type HealthResponse struct {
	Status string `json:"status"`
	NodeID string `json:"node_id"`
}
