package replication

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/kvmesh/kvmesh-go/internal/cluster/membership"
	"github.com/kvmesh/kvmesh-go/internal/core/domain"
	"github.com/kvmesh/kvmesh-go/internal/storage/snapshot"
	"github.com/kvmesh/kvmesh-go/internal/telemetry/metric"
)

// Default scheduler settings.
const (
	DefaultSyncInterval   = 30 * time.Second
	DefaultBackupInterval = time.Hour

	// pushBatchSize bounds how many mutations travel in one push call.
	pushBatchSize = 64
)

// Store is the storage engine surface the scheduler needs.
type Store interface {
	RunMaintenance()
	Digest() map[string]domain.VersionStamp
	MutationFor(key string) (domain.Mutation, bool)
	ApplyRemote(ctx context.Context, m domain.Mutation) (bool, error)
	Export() []*domain.Object
	UsedBytes() int64
}

// Backuper writes and prunes backup snapshots.
type Backuper interface {
	Create(objects []*domain.Object) (*snapshot.Info, error)
	Prune() error
}

// SchedulerConfig configures the sync scheduler.
type SchedulerConfig struct {
	SyncInterval   time.Duration
	BackupInterval time.Duration

	// PeerTimeout bounds each individual peer call.
	PeerTimeout time.Duration

	// PushMaxBytesPerSec caps anti-entropy push bandwidth per cycle.
	// Zero disables the cap.
	PushMaxBytesPerSec int64

	Logger  *slog.Logger
	Metrics *metric.Set
}

// SyncScheduler runs the periodic anti-entropy and backup loops.
type SyncScheduler struct {
	cfg SchedulerConfig

	store      Store
	membership membership.Membership
	transport  Transport
	health     *HealthTracker
	journal    *Journal
	backup     Backuper

	limiter *rate.Limiter
	logger  *slog.Logger
	metrics *metric.Set

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewSyncScheduler creates a scheduler. journal and backup may be nil
// to disable redelivery draining and backups respectively.
func NewSyncScheduler(cfg SchedulerConfig, store Store, ms membership.Membership, tr Transport, health *HealthTracker, journal *Journal, backup Backuper) *SyncScheduler {
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = DefaultSyncInterval
	}
	if cfg.BackupInterval <= 0 {
		cfg.BackupInterval = DefaultBackupInterval
	}
	if cfg.PeerTimeout <= 0 {
		cfg.PeerTimeout = DefaultPeerTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var limiter *rate.Limiter
	if cfg.PushMaxBytesPerSec > 0 {
		burst := int(cfg.PushMaxBytesPerSec)
		if burst < 1<<20 {
			burst = 1 << 20
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.PushMaxBytesPerSec), burst)
	}

	return &SyncScheduler{
		cfg:        cfg,
		store:      store,
		membership: ms,
		transport:  tr,
		health:     health,
		journal:    journal,
		backup:     backup,
		limiter:    limiter,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}
}

// Start launches the background loops.
func (s *SyncScheduler) Start() {
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.run()
}

// Stop stops the loops and waits for the current cycle to finish.
func (s *SyncScheduler) Stop() {
	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	<-s.doneCh
}

func (s *SyncScheduler) run() {
	defer close(s.doneCh)

	syncTicker := time.NewTicker(s.cfg.SyncInterval)
	defer syncTicker.Stop()
	backupTicker := time.NewTicker(s.cfg.BackupInterval)
	defer backupTicker.Stop()

	for {
		select {
		case <-syncTicker.C:
			s.RunSyncCycle(context.Background())
		case <-backupTicker.C:
			s.RunBackup()
		case <-s.stopCh:
			return
		}
	}
}

// RunSyncCycle performs one maintenance and anti-entropy pass.
func (s *SyncScheduler) RunSyncCycle(ctx context.Context) {
	start := time.Now()
	s.store.RunMaintenance()

	peers, err := s.membership.ListPeers(ctx)
	if err != nil {
		s.logger.Error("sync cycle: list peers", "error", err)
		return
	}

	current := make(map[string]bool, len(peers))
	for _, p := range peers {
		current[p.ID] = true
		s.health.Observe(p.ID, p.Address)
	}
	s.health.Prune(current)

	for _, peer := range peers {
		if err := s.reconcile(ctx, peer); err != nil {
			s.logger.Warn("reconcile failed",
				"peer_id", peer.ID, "address", peer.Address, "error", err)
		}
	}

	s.metrics.IncSyncCycle()
	s.publishJournalPending()
	s.logger.Debug("sync cycle complete",
		"peers", len(peers), "elapsed", time.Since(start))
}

// reconcile brings one peer and the local store into agreement.
//
// Order matters: journaled mutations are redelivered first so the
// digest comparison that follows sees the peer's post-redelivery
// state.
func (s *SyncScheduler) reconcile(ctx context.Context, peer membership.PeerInfo) error {
	s.health.MarkSyncing(peer.ID)

	if s.journal != nil {
		delivered, err := s.journal.Drain(ctx, peer.ID, func(m domain.Mutation) error {
			callCtx, cancel := context.WithTimeout(ctx, s.cfg.PeerTimeout)
			defer cancel()
			return s.transport.SendMutation(callCtx, peer.Address, m)
		})
		if delivered > 0 {
			s.logger.Info("redelivered journaled mutations",
				"peer_id", peer.ID, "count", delivered)
		}
		if err != nil {
			s.health.ReportFailure(peer.ID)
			return err
		}
	}

	digestCtx, cancel := context.WithTimeout(ctx, s.cfg.PeerTimeout)
	view, err := s.transport.Digest(digestCtx, peer.Address)
	cancel()
	if err != nil {
		s.health.ReportFailure(peer.ID)
		return err
	}
	s.health.SetStorageUsed(peer.ID, view.UsedBytes)

	local := s.store.Digest()

	// Supersedes ranks equal versions by UpdatedAt, so a divergent
	// same-version write on both sides still resolves to one winner.
	var pullKeys, pushKeys []string
	for key, remote := range view.Digest {
		if stamp, ok := local[key]; !ok || remote.Supersedes(stamp) {
			pullKeys = append(pullKeys, key)
		}
	}
	for key, stamp := range local {
		if remote, ok := view.Digest[key]; !ok || stamp.Supersedes(remote) {
			pushKeys = append(pushKeys, key)
		}
	}

	if err := s.pull(ctx, peer, pullKeys); err != nil {
		s.health.ReportFailure(peer.ID)
		return err
	}
	if err := s.push(ctx, peer, pushKeys); err != nil {
		s.health.ReportFailure(peer.ID)
		return err
	}

	s.health.ReportSuccess(peer.ID, domain.NowMillis())
	return nil
}

func (s *SyncScheduler) pull(ctx context.Context, peer membership.PeerInfo, keys []string) error {
	for batch := range chunked(keys, pushBatchSize) {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.PeerTimeout)
		mutations, err := s.transport.PullEntries(callCtx, peer.Address, batch)
		cancel()
		if err != nil {
			return err
		}
		for _, m := range mutations {
			if _, err := s.store.ApplyRemote(ctx, m); err != nil {
				s.logger.Warn("apply pulled mutation",
					"peer_id", peer.ID, "key", m.Key, "error", err)
			}
		}
	}
	return nil
}

func (s *SyncScheduler) push(ctx context.Context, peer membership.PeerInfo, keys []string) error {
	for batch := range chunked(keys, pushBatchSize) {
		mutations := make([]domain.Mutation, 0, len(batch))
		var batchBytes int
		for _, key := range batch {
			m, ok := s.store.MutationFor(key)
			if !ok {
				continue
			}
			mutations = append(mutations, m)
			batchBytes += len(m.Key) + len(m.Value)
		}
		if len(mutations) == 0 {
			continue
		}

		if s.limiter != nil {
			if err := s.limiter.WaitN(ctx, batchBytes); err != nil {
				return err
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, s.cfg.PeerTimeout)
		err := s.transport.PushEntries(callCtx, peer.Address, mutations)
		cancel()
		if err != nil {
			return err
		}
	}
	return nil
}

// RunBackup writes one backup snapshot and applies retention.
func (s *SyncScheduler) RunBackup() {
	if s.backup == nil {
		return
	}

	info, err := s.backup.Create(s.store.Export())
	if err != nil {
		s.metrics.IncBackup("error")
		s.logger.Error("backup failed", "error", err)
		return
	}
	s.metrics.IncBackup("ok")
	s.logger.Info("backup written",
		"id", info.ID, "objects", info.ObjectCount, "size", info.Size)

	if err := s.backup.Prune(); err != nil {
		s.logger.Warn("backup retention prune failed", "error", err)
	}
}

func (s *SyncScheduler) publishJournalPending() {
	if s.journal == nil || s.metrics == nil {
		return
	}
	counts, err := s.journal.Pending()
	if err != nil {
		return
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	s.metrics.SetJournalPending(total)
}

// chunked yields slices of at most size elements.
func chunked(items []string, size int) func(func([]string) bool) {
	return func(yield func([]string) bool) {
		for start := 0; start < len(items); start += size {
			end := start + size
			if end > len(items) {
				end = len(items)
			}
			if !yield(items[start:end]) {
				return
			}
		}
	}
}
