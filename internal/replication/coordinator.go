package replication

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kvmesh/kvmesh-go/internal/cluster/membership"
	"github.com/kvmesh/kvmesh-go/internal/core/domain"
	"github.com/kvmesh/kvmesh-go/internal/telemetry/metric"
)

// Default coordinator settings.
const (
	DefaultReplicationFactor = 3
	DefaultPeerTimeout       = 2 * time.Second
)

// CoordinatorConfig configures the replication coordinator.
type CoordinatorConfig struct {
	// ReplicationFactor is the number of peers each mutation is sent to.
	ReplicationFactor int

	// PeerTimeout bounds each peer call.
	PeerTimeout time.Duration

	Logger  *slog.Logger
	Metrics *metric.Set
}

// Coordinator fans out local mutations to peers. Delivery is
// best-effort: the caller's write has already succeeded, failures are
// journaled for redelivery, and nothing ever blocks on a peer.
type Coordinator struct {
	cfg        CoordinatorConfig
	membership membership.Membership
	transport  Transport
	health     *HealthTracker
	journal    *Journal

	logger  *slog.Logger
	metrics *metric.Set

	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewCoordinator creates a coordinator. journal may be nil, in which
// case failed deliveries are only logged.
func NewCoordinator(cfg CoordinatorConfig, ms membership.Membership, tr Transport, health *HealthTracker, journal *Journal) *Coordinator {
	if cfg.ReplicationFactor <= 0 {
		cfg.ReplicationFactor = DefaultReplicationFactor
	}
	if cfg.PeerTimeout <= 0 {
		cfg.PeerTimeout = DefaultPeerTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Coordinator{
		cfg:        cfg,
		membership: ms,
		transport:  tr,
		health:     health,
		journal:    journal,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}
}

// Enqueue schedules a mutation for delivery to peers and returns
// immediately. Safe to use as the storage engine's mutation sink.
func (c *Coordinator) Enqueue(m domain.Mutation) {
	if c.closed.Load() {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.fanOut(m)
	}()
}

func (c *Coordinator) fanOut(m domain.Mutation) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*c.cfg.PeerTimeout)
	defer cancel()

	peers, err := c.membership.ListPeers(ctx)
	if err != nil {
		c.logger.Error("replication fan-out: list peers", "error", err, "mutation_id", m.ID)
		return
	}
	for _, p := range peers {
		c.health.Observe(p.ID, p.Address)
	}

	targets := c.selectTargets(peers)
	if len(targets) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, peer := range targets {
		wg.Add(1)
		go func(peer membership.PeerInfo) {
			defer wg.Done()
			c.deliver(peer, m)
		}(peer)
	}
	wg.Wait()
}

// selectTargets picks up to ReplicationFactor peers, reachable ones
// first. Offline peers are still selected when nothing better exists;
// their deliveries go straight to the journal.
func (c *Coordinator) selectTargets(peers []membership.PeerInfo) []membership.PeerInfo {
	var reachable, offline []membership.PeerInfo
	for _, p := range peers {
		if c.health.Status(p.ID) == domain.PeerOffline {
			offline = append(offline, p)
		} else {
			reachable = append(reachable, p)
		}
	}

	targets := reachable
	if len(targets) < c.cfg.ReplicationFactor {
		targets = append(targets, offline...)
	}
	if len(targets) > c.cfg.ReplicationFactor {
		targets = targets[:c.cfg.ReplicationFactor]
	}
	return targets
}

func (c *Coordinator) deliver(peer membership.PeerInfo, m domain.Mutation) {
	if c.health.Status(peer.ID) == domain.PeerOffline {
		c.deferDelivery(peer, m, domain.ErrPeerUnreachable)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.PeerTimeout)
	defer cancel()

	err := c.transport.SendMutation(ctx, peer.Address, m)
	if err == nil {
		c.health.ReportSuccess(peer.ID, domain.NowMillis())
		c.metrics.IncReplicationSend("ok")
		return
	}

	c.health.ReportFailure(peer.ID)
	if errors.Is(err, domain.ErrReplicationTimeout) {
		c.metrics.IncReplicationSend("timeout")
	} else {
		c.metrics.IncReplicationSend("unreachable")
	}
	c.deferDelivery(peer, m, err)
}

// deferDelivery journals a mutation that could not be delivered.
func (c *Coordinator) deferDelivery(peer membership.PeerInfo, m domain.Mutation, cause error) {
	if c.journal == nil {
		c.logger.Warn("dropping undeliverable mutation",
			"peer_id", peer.ID, "mutation_id", m.ID, "error", cause)
		return
	}
	if err := c.journal.Append(peer.ID, m); err != nil {
		c.logger.Error("journal undeliverable mutation",
			"peer_id", peer.ID, "mutation_id", m.ID, "error", err)
		return
	}
	c.logger.Debug("journaled mutation for redelivery",
		"peer_id", peer.ID, "mutation_id", m.ID, "error", cause)
}

// PeerCount returns the current membership size, excluding this node.
func (c *Coordinator) PeerCount(ctx context.Context) int {
	peers, err := c.membership.ListPeers(ctx)
	if err != nil {
		return 0
	}
	return len(peers)
}

// ReplicationFactor returns the configured fan-out width.
func (c *Coordinator) ReplicationFactor() int {
	return c.cfg.ReplicationFactor
}

// Shutdown stops accepting mutations and waits for in-flight
// deliveries, bounded by ctx.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.closed.Store(true)

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
