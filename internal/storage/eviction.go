// Package storage provides the key-value storage engine for kvmesh.
package storage

import (
	"sort"

	"github.com/kvmesh/kvmesh-go/internal/core/domain"
)

// RunMaintenance performs one eviction pass: expired entries and stale
// tombstones are swept, then usage is driven back under the budget if
// needed. Called periodically by the sync scheduler and synchronously
// under write pressure.
func (e *Engine) RunMaintenance() {
	e.mu.Lock()
	e.evictLocked(domain.NowMillis(), 0)
	e.mu.Unlock()
	e.publishStorageMetrics()
}

// evictLocked enforces the storage budget. Caller holds e.mu.
//
// Policy, in order:
//  1. Remove all expired entries and tombstones past retention.
//  2. If usage (plus the pending write of `need` bytes) still exceeds
//     the budget, remove live entries strictly oldest-CreatedAt-first
//     until usage drops to the low-water mark, or none remain.
func (e *Engine) evictLocked(now int64, need int64) {
	expired := e.sweepLocked(now)
	if expired > 0 {
		e.metrics.AddExpirations(expired)
	}

	max := e.cfg.MaxStorageBytes
	if e.usedBytes.Load()+need <= max {
		return
	}

	target := int64(float64(max) * e.cfg.EvictionLowWater)

	var victims []*domain.Object
	e.objects.Range(func(_ string, obj *domain.Object) bool {
		if !obj.Tombstone {
			victims = append(victims, obj)
		}
		return true
	})
	sort.Slice(victims, func(i, j int) bool {
		return victims[i].CreatedAt < victims[j].CreatedAt
	})

	evicted := 0
	for _, obj := range victims {
		if e.usedBytes.Load() <= target && e.usedBytes.Load()+need <= max {
			break
		}
		e.removeLocked(obj)
		evicted++
	}

	if evicted > 0 {
		e.metrics.AddEvictions(evicted)
		e.logger.Info("evicted objects to stay within budget",
			"evicted", evicted,
			"expired", expired,
			"used_bytes", e.usedBytes.Load(),
			"max_bytes", max)
	}
}

// sweepLocked removes expired entries and tombstones past retention.
// Caller holds e.mu. Returns the number of TTL expirations.
func (e *Engine) sweepLocked(now int64) int {
	retention := e.cfg.TombstoneRetention.Milliseconds()

	var expired, purgedTombs []*domain.Object
	e.objects.Range(func(_ string, obj *domain.Object) bool {
		switch {
		case obj.IsExpired(now):
			expired = append(expired, obj)
		case obj.Tombstone && now-obj.UpdatedAt >= retention:
			purgedTombs = append(purgedTombs, obj)
		}
		return true
	})

	for _, obj := range expired {
		e.removeLocked(obj)
	}
	for _, obj := range purgedTombs {
		e.removeLocked(obj)
	}
	return len(expired)
}
