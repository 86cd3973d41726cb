package replication

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kvmesh/kvmesh-go/internal/core/domain"
)

// DigestView is a peer's anti-entropy digest: its per-key version
// stamps plus self-reported usage.
type DigestView struct {
	NodeID    string                         `json:"node_id"`
	Digest    map[string]domain.VersionStamp `json:"digest"`
	UsedBytes int64                          `json:"used_bytes"`
}

// Transport sends replication traffic to a peer address.
type Transport interface {
	// SendMutation delivers one mutation.
	SendMutation(ctx context.Context, addr string, m domain.Mutation) error

	// Digest fetches the peer's key/version digest.
	Digest(ctx context.Context, addr string) (*DigestView, error)

	// PullEntries fetches the peer's current mutations for the given keys.
	PullEntries(ctx context.Context, addr string, keys []string) ([]domain.Mutation, error)

	// PushEntries delivers a batch of mutations.
	PushEntries(ctx context.Context, addr string, ms []domain.Mutation) error
}

// HTTPTransport speaks JSON over HTTP to peer replication endpoints.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport creates an HTTP transport. timeout bounds each
// request unless the caller's context is tighter.
func NewHTTPTransport(timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		client: &http.Client{Timeout: timeout},
	}
}

type pullRequest struct {
	Keys []string `json:"keys"`
}

type mutationBatch struct {
	Mutations []domain.Mutation `json:"mutations"`
}

func (t *HTTPTransport) SendMutation(ctx context.Context, addr string, m domain.Mutation) error {
	return t.post(ctx, addr, "/v1/replication/mutations", m, nil)
}

func (t *HTTPTransport) Digest(ctx context.Context, addr string) (*DigestView, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+"/v1/replication/digest", nil)
	if err != nil {
		return nil, domain.ErrInternal.WithCause(err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, classifyTransportErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, domain.ErrPeerUnreachable.WithDetails(
			fmt.Sprintf("GET %s /v1/replication/digest: status %d", addr, resp.StatusCode))
	}

	var view DigestView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		return nil, domain.ErrInternal.WithCause(err)
	}
	return &view, nil
}

func (t *HTTPTransport) PullEntries(ctx context.Context, addr string, keys []string) ([]domain.Mutation, error) {
	var batch mutationBatch
	if err := t.post(ctx, addr, "/v1/replication/pull", pullRequest{Keys: keys}, &batch); err != nil {
		return nil, err
	}
	return batch.Mutations, nil
}

func (t *HTTPTransport) PushEntries(ctx context.Context, addr string, ms []domain.Mutation) error {
	return t.post(ctx, addr, "/v1/replication/push", mutationBatch{Mutations: ms}, nil)
}

func (t *HTTPTransport) post(ctx context.Context, addr, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return domain.ErrInternal.WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+addr+path, bytes.NewReader(payload))
	if err != nil {
		return domain.ErrInternal.WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return classifyTransportErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.ErrPeerUnreachable.WithDetails(
			fmt.Sprintf("POST %s%s: status %d", addr, path, resp.StatusCode))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return domain.ErrInternal.WithCause(err)
		}
	} else {
		io.Copy(io.Discard, resp.Body)
	}
	return nil
}

func classifyTransportErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.ErrReplicationTimeout.WithCause(err)
	}
	// http.Client wraps timeouts in a url.Error that reports Timeout().
	var timeout interface{ Timeout() bool }
	if errors.As(err, &timeout) && timeout.Timeout() {
		return domain.ErrReplicationTimeout.WithCause(err)
	}
	return domain.ErrPeerUnreachable.WithCause(err)
}
