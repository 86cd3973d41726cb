// Package storage provides the key-value storage engine for kvmesh.
package storage

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kvmesh/kvmesh-go/internal/core/domain"
	"github.com/kvmesh/kvmesh-go/internal/telemetry/metric"
	"github.com/kvmesh/kvmesh-go/pkg/cmap"
	"github.com/kvmesh/kvmesh-go/pkg/crypto/aead"
)

// Default configuration values.
const (
	// DefaultEvictionLowWater is the usage fraction eviction drives
	// the store down to once the budget is exceeded.
	DefaultEvictionLowWater = 0.90

	DefaultTombstoneRetention = 24 * time.Hour
)

// MutationSink receives every successful local mutation.
// The engine never waits on the sink; delivery to peers is the
// replication layer's problem.
type MutationSink func(domain.Mutation)

// Config configures the storage engine. It is immutable after New.
type Config struct {
	// MaxStorageBytes is the budget for stored value bytes.
	MaxStorageBytes int64

	// EvictionLowWater is the post-eviction usage target as a fraction
	// of MaxStorageBytes. Defaults to DefaultEvictionLowWater.
	EvictionLowWater float64

	// TombstoneRetention is how long delete markers survive before the
	// periodic sweep purges them.
	TombstoneRetention time.Duration

	// Codec seals and opens values. Defaults to the passthrough codec.
	Codec aead.Codec

	// NodeID identifies this node as the origin of local mutations.
	NodeID string

	// Logger is the structured logger.
	Logger *slog.Logger

	// Metrics is optional.
	Metrics *metric.Set
}

// PutOptions carries the optional parts of a put.
type PutOptions struct {
	Tags []string

	// TTL is the time-to-live. Zero means the object never expires.
	TTL time.Duration
}

// Stats is a point-in-time view of store usage.
type Stats struct {
	TotalObjects       int     `json:"total_objects"`
	UsedBytes          int64   `json:"used_bytes"`
	UtilizationPercent float64 `json:"utilization_percent"`
}

// Engine is the local key-value store.
type Engine struct {
	cfg   Config
	codec aead.Codec

	objects *cmap.Map[*domain.Object]

	// mu serializes mutations: object state, version bumps, and the
	// byte counter change together or not at all. Reads go straight
	// to the sharded map.
	mu        sync.Mutex
	usedBytes atomic.Int64

	sink   atomic.Pointer[MutationSink]
	closed atomic.Bool

	logger  *slog.Logger
	metrics *metric.Set
}

// New creates a storage engine.
func New(cfg Config) (*Engine, error) {
	if cfg.MaxStorageBytes <= 0 {
		return nil, fmt.Errorf("storage: max storage bytes must be positive")
	}
	if cfg.EvictionLowWater <= 0 || cfg.EvictionLowWater > 1 {
		cfg.EvictionLowWater = DefaultEvictionLowWater
	}
	if cfg.TombstoneRetention <= 0 {
		cfg.TombstoneRetention = DefaultTombstoneRetention
	}
	if cfg.Codec == nil {
		cfg.Codec = aead.Passthrough{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Engine{
		cfg:     cfg,
		codec:   cfg.Codec,
		objects: cmap.New[*domain.Object](),
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}, nil
}

// SetMutationSink registers the replication sink.
func (e *Engine) SetMutationSink(sink MutationSink) {
	e.sink.Store(&sink)
}

// Put creates or updates an object and returns its new version.
//
// The value is sealed before storage. If the write would exceed the
// budget, eviction runs first; a write that still cannot fit fails with
// ErrCapacityExceeded and the key is left untouched. Replication is
// enqueued after the local write succeeds and is never awaited.
func (e *Engine) Put(ctx context.Context, key string, value []byte, opts PutOptions) (uint64, error) {
	start := time.Now()
	defer func() { e.metrics.ObserveOp("put", time.Since(start)) }()

	if e.closed.Load() {
		return 0, domain.ErrEngineClosed
	}
	probe := &domain.Object{Key: key, Tags: opts.Tags}
	if err := probe.Validate(); err != nil {
		return 0, err
	}

	sealed, err := e.codec.Seal(value, []byte(key))
	if err != nil {
		return 0, domain.ErrInternal.WithCause(err)
	}

	now := domain.NowMillis()

	e.mu.Lock()
	prev, _ := e.objects.Get(key)
	delta := int64(len(sealed)) - storedBytes(prev)

	if delta > 0 && e.usedBytes.Load()+delta > e.cfg.MaxStorageBytes {
		e.evictLocked(now, delta)
		// Eviction may have removed the previous copy of this key.
		prev, _ = e.objects.Get(key)
		delta = int64(len(sealed)) - storedBytes(prev)
		if e.usedBytes.Load()+delta > e.cfg.MaxStorageBytes {
			e.mu.Unlock()
			return 0, domain.ErrCapacityExceeded.WithDetails(
				fmt.Sprintf("need %d bytes, budget %d", len(sealed), e.cfg.MaxStorageBytes))
		}
	}

	obj := &domain.Object{
		Key:       key,
		Value:     sealed,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
		Tags:      opts.Tags,
		TTL:       opts.TTL.Milliseconds(),
	}
	if prev != nil {
		obj.Version = prev.Version + 1
		if !prev.Tombstone && !prev.IsExpired(now) {
			obj.CreatedAt = prev.CreatedAt
		}
	}

	e.objects.Set(key, obj)
	e.usedBytes.Add(delta)
	e.mu.Unlock()

	e.publishStorageMetrics()
	e.emit(obj)
	return obj.Version, nil
}

// Get returns the decrypted value for a key.
//
// An absent or expired key yields ErrNotFound; an expired object is
// deleted as a side effect of being observed. Authentication failures
// yield ErrDecryption and leave the object in place.
func (e *Engine) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	defer func() { e.metrics.ObserveOp("get", time.Since(start)) }()

	obj, ok := e.objects.Get(key)
	if !ok || obj.Tombstone {
		return nil, domain.ErrNotFound
	}

	if obj.IsExpired(domain.NowMillis()) {
		e.mu.Lock()
		if cur, ok := e.objects.Get(key); ok && cur.IsExpired(domain.NowMillis()) {
			e.removeLocked(cur)
			e.metrics.AddExpirations(1)
		}
		e.mu.Unlock()
		e.publishStorageMetrics()
		return nil, domain.ErrNotFound
	}

	plain, err := e.codec.Open(obj.Value, []byte(key))
	if err != nil {
		return nil, domain.ErrDecryption.WithCause(err)
	}
	return plain, nil
}

// Delete removes an object and returns whether it existed.
//
// The object is replaced by a tombstone carrying a bumped version so
// the deletion outranks stale remote copies.
func (e *Engine) Delete(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	defer func() { e.metrics.ObserveOp("delete", time.Since(start)) }()

	if e.closed.Load() {
		return false, domain.ErrEngineClosed
	}

	now := domain.NowMillis()

	e.mu.Lock()
	obj, ok := e.objects.Get(key)
	if !ok || obj.Tombstone {
		e.mu.Unlock()
		return false, nil
	}
	if obj.IsExpired(now) {
		e.removeLocked(obj)
		e.metrics.AddExpirations(1)
		e.mu.Unlock()
		e.publishStorageMetrics()
		return false, nil
	}

	tomb := &domain.Object{
		Key:       key,
		Version:   obj.Version + 1,
		CreatedAt: obj.CreatedAt,
		UpdatedAt: now,
		Tombstone: true,
	}
	e.objects.Set(key, tomb)
	e.usedBytes.Add(-obj.StoredBytes())
	e.mu.Unlock()

	e.publishStorageMetrics()
	e.emit(tomb)
	return true, nil
}

// FindByTag returns a restartable sequence of decrypted values whose
// objects carry the given tag. Expired objects and tombstones are
// skipped; undecryptable objects are logged and skipped.
func (e *Engine) FindByTag(tag string) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		now := domain.NowMillis()
		e.objects.Range(func(_ string, obj *domain.Object) bool {
			if obj.Tombstone || obj.IsExpired(now) || !obj.HasTag(tag) {
				return true
			}
			plain, err := e.codec.Open(obj.Value, []byte(obj.Key))
			if err != nil {
				e.logger.Warn("skipping undecryptable object", "key", obj.Key, "error", err)
				return true
			}
			return yield(plain)
		})
	}
}

// Stats returns current usage.
func (e *Engine) Stats() Stats {
	now := domain.NowMillis()
	live := 0
	e.objects.Range(func(_ string, obj *domain.Object) bool {
		if !obj.Tombstone && !obj.IsExpired(now) {
			live++
		}
		return true
	})

	used := e.usedBytes.Load()
	return Stats{
		TotalObjects:       live,
		UsedBytes:          used,
		UtilizationPercent: 100 * float64(used) / float64(e.cfg.MaxStorageBytes),
	}
}

// UsedBytes returns the current byte usage.
func (e *Engine) UsedBytes() int64 {
	return e.usedBytes.Load()
}

// ApplyRemote applies a mutation received from a peer.
//
// The mutation is applied only if it supersedes the local copy under
// last-writer-wins: a strictly greater version, or an equal version
// with a later UpdatedAt. Anything else is discarded, so replaying a
// mutation is a no-op. Reports whether the mutation was applied.
func (e *Engine) ApplyRemote(ctx context.Context, m domain.Mutation) (bool, error) {
	if e.closed.Load() {
		return false, domain.ErrEngineClosed
	}

	incoming := m.Object()

	e.mu.Lock()
	local, _ := e.objects.Get(m.Key)
	if !incoming.Supersedes(local) {
		e.mu.Unlock()
		e.metrics.IncRemoteApply("discarded")
		return false, nil
	}

	delta := incoming.StoredBytes() - storedBytes(local)
	if delta > 0 && e.usedBytes.Load()+delta > e.cfg.MaxStorageBytes {
		e.evictLocked(domain.NowMillis(), delta)
		local, _ = e.objects.Get(m.Key)
		if !incoming.Supersedes(local) {
			e.mu.Unlock()
			e.metrics.IncRemoteApply("discarded")
			return false, nil
		}
		delta = incoming.StoredBytes() - storedBytes(local)
		if e.usedBytes.Load()+delta > e.cfg.MaxStorageBytes {
			e.mu.Unlock()
			e.metrics.IncRemoteApply("discarded")
			return false, domain.ErrCapacityExceeded
		}
	}

	e.objects.Set(m.Key, incoming)
	e.usedBytes.Add(delta)
	e.mu.Unlock()

	e.publishStorageMetrics()
	e.metrics.IncRemoteApply("applied")
	return true, nil
}

// Digest returns the per-key version stamps used by anti-entropy,
// including tombstones so deletions propagate. Stamps carry UpdatedAt
// alongside the version so reconciliation can rank equal-version
// copies the same way ApplyRemote does.
func (e *Engine) Digest() map[string]domain.VersionStamp {
	now := domain.NowMillis()
	digest := make(map[string]domain.VersionStamp, e.objects.Count())
	e.objects.Range(func(key string, obj *domain.Object) bool {
		if obj.IsExpired(now) {
			return true
		}
		digest[key] = obj.Stamp()
		return true
	})
	return digest
}

// MutationFor builds a replication mutation from the current state of a
// key. Reports false if the key is absent or expired.
func (e *Engine) MutationFor(key string) (domain.Mutation, bool) {
	obj, ok := e.objects.Get(key)
	if !ok || obj.IsExpired(domain.NowMillis()) {
		return domain.Mutation{}, false
	}
	return domain.NewMutation(obj.Clone(), e.cfg.NodeID), true
}

// Export returns a point-in-time copy of all non-expired objects,
// tombstones included, for backup snapshotting.
func (e *Engine) Export() []*domain.Object {
	now := domain.NowMillis()
	out := make([]*domain.Object, 0, e.objects.Count())
	e.objects.Range(func(_ string, obj *domain.Object) bool {
		if !obj.IsExpired(now) {
			out = append(out, obj.Clone())
		}
		return true
	})
	return out
}

// LoadSnapshot replaces the store contents from a backup snapshot.
func (e *Engine) LoadSnapshot(objects []*domain.Object) error {
	now := domain.NowMillis()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.objects.Clear()
	var used int64
	loaded := 0
	for _, obj := range objects {
		if obj.IsExpired(now) {
			continue
		}
		clone := obj.Clone()
		e.objects.Set(clone.Key, clone)
		used += clone.StoredBytes()
		loaded++
	}
	e.usedBytes.Store(used)

	e.logger.Info("snapshot loaded into store", "objects", loaded, "used_bytes", used)
	e.publishStorageMetrics()
	return nil
}

// Close marks the engine closed. In-flight reads finish; new mutations
// are rejected.
func (e *Engine) Close() error {
	e.closed.Store(true)
	return nil
}

func (e *Engine) emit(obj *domain.Object) {
	sink := e.sink.Load()
	if sink == nil || *sink == nil {
		return
	}
	(*sink)(domain.NewMutation(obj.Clone(), e.cfg.NodeID))
}

func (e *Engine) publishStorageMetrics() {
	if e.metrics == nil {
		return
	}
	s := e.Stats()
	e.metrics.SetStorage(s.TotalObjects, s.UsedBytes)
}

// removeLocked deletes an object and settles the byte counter.
// Caller holds e.mu.
func (e *Engine) removeLocked(obj *domain.Object) {
	e.objects.Delete(obj.Key)
	e.usedBytes.Add(-obj.StoredBytes())
}

func storedBytes(obj *domain.Object) int64 {
	if obj == nil {
		return 0
	}
	return obj.StoredBytes()
}
