package storage

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kvmesh/kvmesh-go/internal/core/domain"
	"github.com/kvmesh/kvmesh-go/pkg/crypto/aead"
)

// newPlainEngine builds an engine with the passthrough codec so stored
// sizes equal value sizes.
func newPlainEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	cfg.Codec = aead.Passthrough{}
	if cfg.NodeID == "" {
		cfg.NodeID = "kvn-test"
	}
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestEviction_OldestFirstToLowWater(t *testing.T) {
	e := newPlainEngine(t, Config{MaxStorageBytes: 1000})
	ctx := context.Background()
	val := bytes.Repeat([]byte("x"), 300)

	// Distinct CreatedAt millis so eviction order is deterministic.
	for _, key := range []string{"a", "b", "c"} {
		if _, err := e.Put(ctx, key, val, PutOptions{}); err != nil {
			t.Fatalf("Put(%s): %v", key, err)
		}
		time.Sleep(3 * time.Millisecond)
	}
	if e.UsedBytes() != 900 {
		t.Fatalf("UsedBytes = %d, want 900", e.UsedBytes())
	}

	// The fourth write does not fit; the oldest entry must go.
	if _, err := e.Put(ctx, "d", val, PutOptions{}); err != nil {
		t.Fatalf("Put(d): %v", err)
	}

	if e.objects.Has("a") {
		t.Fatalf("oldest key survived eviction")
	}
	for _, key := range []string{"b", "c", "d"} {
		if !e.objects.Has(key) {
			t.Fatalf("key %q evicted, want retained", key)
		}
	}
	if used := e.UsedBytes(); used > 1000 {
		t.Fatalf("UsedBytes = %d, over budget", used)
	}
}

func TestEviction_ExpiredRemovedBeforeLive(t *testing.T) {
	e := newPlainEngine(t, Config{MaxStorageBytes: 1000})
	ctx := context.Background()
	val := bytes.Repeat([]byte("x"), 300)

	// Oldest entry is live, second oldest expires quickly.
	if _, err := e.Put(ctx, "live-old", val, PutOptions{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	time.Sleep(3 * time.Millisecond)
	if _, err := e.Put(ctx, "short", val, PutOptions{TTL: 10 * time.Millisecond}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	time.Sleep(3 * time.Millisecond)
	if _, err := e.Put(ctx, "live-new", val, PutOptions{}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	time.Sleep(15 * time.Millisecond)

	// Sweeping the expired entry alone frees enough room; no live
	// entry may be evicted.
	if _, err := e.Put(ctx, "incoming", val, PutOptions{}); err != nil {
		t.Fatalf("Put(incoming): %v", err)
	}

	if e.objects.Has("short") {
		t.Fatalf("expired entry survived eviction pass")
	}
	for _, key := range []string{"live-old", "live-new", "incoming"} {
		if !e.objects.Has(key) {
			t.Fatalf("live key %q evicted while expired entry could be swept", key)
		}
	}
}

func TestEviction_OversizedWriteRejected(t *testing.T) {
	e := newPlainEngine(t, Config{MaxStorageBytes: 1000})
	ctx := context.Background()

	if _, err := e.Put(ctx, "keep", bytes.Repeat([]byte("x"), 100), PutOptions{}); err != nil {
		t.Fatalf("Put(keep): %v", err)
	}

	_, err := e.Put(ctx, "huge", bytes.Repeat([]byte("x"), 2000), PutOptions{})
	if !errors.Is(err, domain.ErrCapacityExceeded) {
		t.Fatalf("Put(huge) err = %v, want ErrCapacityExceeded", err)
	}
	if e.objects.Has("huge") {
		t.Fatalf("rejected write left an object behind")
	}
}

func TestEviction_TombstonesPurgedAfterRetention(t *testing.T) {
	e := newPlainEngine(t, Config{
		MaxStorageBytes:    1000,
		TombstoneRetention: 10 * time.Millisecond,
	})
	ctx := context.Background()

	e.Put(ctx, "k1", []byte("v"), PutOptions{})
	e.Delete(ctx, "k1")

	e.RunMaintenance()
	if !e.objects.Has("k1") {
		t.Fatalf("tombstone purged before retention elapsed")
	}

	time.Sleep(20 * time.Millisecond)
	e.RunMaintenance()
	if e.objects.Has("k1") {
		t.Fatalf("tombstone survived past retention")
	}
}

func TestEviction_MaintenanceSweepsExpired(t *testing.T) {
	e := newPlainEngine(t, Config{MaxStorageBytes: 1000})
	ctx := context.Background()

	e.Put(ctx, "short", []byte("v"), PutOptions{TTL: 5 * time.Millisecond})
	e.Put(ctx, "forever", []byte("v"), PutOptions{})

	time.Sleep(15 * time.Millisecond)
	e.RunMaintenance()

	if e.objects.Has("short") {
		t.Fatalf("expired entry survived maintenance sweep")
	}
	if !e.objects.Has("forever") {
		t.Fatalf("non-expiring entry removed by maintenance sweep")
	}
	if got := e.UsedBytes(); got != 1 {
		t.Fatalf("UsedBytes = %d, want 1", got)
	}
}

func TestEviction_RemoteApplyEvictsUnderPressure(t *testing.T) {
	e := newPlainEngine(t, Config{MaxStorageBytes: 1000})
	ctx := context.Background()
	val := bytes.Repeat([]byte("x"), 400)

	e.Put(ctx, "a", val, PutOptions{})
	time.Sleep(3 * time.Millisecond)
	e.Put(ctx, "b", val, PutOptions{})

	m := domain.Mutation{
		Key:       "c",
		Version:   1,
		Value:     bytes.Repeat([]byte("y"), 400),
		UpdatedAt: domain.NowMillis(),
	}
	applied, err := e.ApplyRemote(ctx, m)
	if err != nil || !applied {
		t.Fatalf("ApplyRemote = %v, %v; want true, nil", applied, err)
	}

	if e.objects.Has("a") {
		t.Fatalf("oldest key survived remote-apply eviction")
	}
	if !e.objects.Has("b") || !e.objects.Has("c") {
		t.Fatalf("wrong keys evicted for remote apply")
	}
}
