package replication

import (
	"sort"
	"sync"

	"github.com/kvmesh/kvmesh-go/internal/core/domain"
	"github.com/kvmesh/kvmesh-go/internal/telemetry/metric"
)

// DefaultFailureThreshold is the number of consecutive failed contacts
// after which a peer is marked offline.
const DefaultFailureThreshold = 3

// HealthTracker tracks per-peer replication health. A peer goes
// offline after FailureThreshold consecutive failures and returns
// online on the next successful contact.
type HealthTracker struct {
	threshold int
	metrics   *metric.Set

	mu    sync.Mutex
	peers map[string]*peerState
}

type peerState struct {
	address      string
	status       domain.PeerStatus
	failures     int
	lastSyncAt   int64
	storageBytes int64
}

// NewHealthTracker creates a tracker with the given failure threshold.
func NewHealthTracker(threshold int, metrics *metric.Set) *HealthTracker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	return &HealthTracker{
		threshold: threshold,
		metrics:   metrics,
		peers:     make(map[string]*peerState),
	}
}

// Observe ensures a peer is tracked under its current address. New
// peers start online.
func (h *HealthTracker) Observe(id, address string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if st, ok := h.peers[id]; ok {
		st.address = address
		return
	}
	h.peers[id] = &peerState{address: address, status: domain.PeerOnline}
	h.publishLocked()
}

// ReportSuccess records a successful contact.
func (h *HealthTracker) ReportSuccess(id string, at int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.peers[id]
	if !ok {
		return
	}
	st.failures = 0
	st.status = domain.PeerOnline
	st.lastSyncAt = at
	h.publishLocked()
}

// ReportFailure records a failed contact, transitioning the peer to
// offline at the threshold. Below the threshold a peer that was
// mid-reconciliation falls back to online: syncing is not a resting
// state.
func (h *HealthTracker) ReportFailure(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.peers[id]
	if !ok {
		return
	}
	st.failures++
	switch {
	case st.failures >= h.threshold:
		st.status = domain.PeerOffline
	case st.status == domain.PeerSyncing:
		st.status = domain.PeerOnline
	}
	h.publishLocked()
}

// MarkSyncing flags a peer as mid-reconciliation. Offline peers stay
// offline until a contact actually succeeds.
func (h *HealthTracker) MarkSyncing(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	st, ok := h.peers[id]
	if !ok || st.status == domain.PeerOffline {
		return
	}
	st.status = domain.PeerSyncing
	h.publishLocked()
}

// SetStorageUsed records a peer's self-reported usage.
func (h *HealthTracker) SetStorageUsed(id string, bytes int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if st, ok := h.peers[id]; ok {
		st.storageBytes = bytes
	}
}

// Status returns the current status of a peer, defaulting to offline
// for unknown peers.
func (h *HealthTracker) Status(id string) domain.PeerStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	if st, ok := h.peers[id]; ok {
		return st.status
	}
	return domain.PeerOffline
}

// Snapshot returns the tracked peers sorted by ID.
func (h *HealthTracker) Snapshot() []domain.Peer {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]domain.Peer, 0, len(h.peers))
	for id, st := range h.peers {
		out = append(out, domain.Peer{
			ID:                   id,
			Address:              st.address,
			Status:               st.status,
			LastSyncAt:           st.lastSyncAt,
			EstimatedStorageUsed: st.storageBytes,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Prune drops peers no longer reported by membership.
func (h *HealthTracker) Prune(current map[string]bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id := range h.peers {
		if !current[id] {
			delete(h.peers, id)
		}
	}
	h.publishLocked()
}

// publishLocked refreshes the per-status peer gauges. Caller holds h.mu.
func (h *HealthTracker) publishLocked() {
	if h.metrics == nil {
		return
	}
	counts := map[domain.PeerStatus]int{
		domain.PeerOnline:  0,
		domain.PeerSyncing: 0,
		domain.PeerOffline: 0,
	}
	for _, st := range h.peers {
		counts[st.status]++
	}
	for status, n := range counts {
		h.metrics.SetPeers(string(status), n)
	}
}
