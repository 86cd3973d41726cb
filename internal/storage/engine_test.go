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

func newTestEngine(t *testing.T, maxBytes int64) *Engine {
	t.Helper()
	codec, err := aead.New(aead.SuiteChaCha20, bytes.Repeat([]byte{0x42}, 32))
	if err != nil {
		t.Fatalf("aead.New: %v", err)
	}
	e, err := New(Config{
		MaxStorageBytes: maxBytes,
		NodeID:          "kvn-test",
		Codec:           codec,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func TestEngine_PutGetRoundTrip(t *testing.T) {
	e := newTestEngine(t, 1<<20)
	ctx := context.Background()

	version, err := e.Put(ctx, "k1", []byte("hello"), PutOptions{})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if version != 1 {
		t.Fatalf("version = %d, want 1", version)
	}

	got, err := e.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("Get = %q, want hello", got)
	}
}

func TestEngine_ValuesEncryptedAtRest(t *testing.T) {
	e := newTestEngine(t, 1<<20)
	ctx := context.Background()

	if _, err := e.Put(ctx, "k1", []byte("plaintext-value"), PutOptions{}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	obj, ok := e.objects.Get("k1")
	if !ok {
		t.Fatalf("object missing from map")
	}
	if bytes.Contains(obj.Value, []byte("plaintext-value")) {
		t.Fatalf("stored value contains plaintext")
	}
}

func TestEngine_VersionStrictlyIncreases(t *testing.T) {
	e := newTestEngine(t, 1<<20)
	ctx := context.Background()

	var last uint64
	for i := 0; i < 5; i++ {
		v, err := e.Put(ctx, "k1", []byte("v"), PutOptions{})
		if err != nil {
			t.Fatalf("Put %d: %v", i, err)
		}
		if v <= last {
			t.Fatalf("version %d not greater than previous %d", v, last)
		}
		last = v
	}
}

func TestEngine_GetMissing(t *testing.T) {
	e := newTestEngine(t, 1<<20)
	if _, err := e.Get(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get(missing) err = %v, want ErrNotFound", err)
	}
}

func TestEngine_TTLExpiry(t *testing.T) {
	e := newTestEngine(t, 1<<20)
	ctx := context.Background()

	if _, err := e.Put(ctx, "k1", []byte("v"), PutOptions{TTL: 40 * time.Millisecond}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if _, err := e.Get(ctx, "k1"); err != nil {
		t.Fatalf("Get before expiry: %v", err)
	}

	time.Sleep(60 * time.Millisecond)

	if _, err := e.Get(ctx, "k1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get after expiry err = %v, want ErrNotFound", err)
	}

	// The expired object was deleted on observation.
	if e.objects.Has("k1") {
		t.Fatalf("expired object still present after read")
	}
	if s := e.Stats(); s.TotalObjects != 0 || s.UsedBytes != 0 {
		t.Fatalf("Stats after expiry = %+v, want empty", s)
	}
}

func TestEngine_DeleteLeavesTombstone(t *testing.T) {
	e := newTestEngine(t, 1<<20)
	ctx := context.Background()

	v, _ := e.Put(ctx, "k1", []byte("v"), PutOptions{})

	deleted, err := e.Delete(ctx, "k1")
	if err != nil || !deleted {
		t.Fatalf("Delete = %v, %v; want true, nil", deleted, err)
	}

	if _, err := e.Get(ctx, "k1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get after delete err = %v, want ErrNotFound", err)
	}

	tomb, ok := e.objects.Get("k1")
	if !ok || !tomb.Tombstone {
		t.Fatalf("tombstone missing after delete")
	}
	if tomb.Version != v+1 {
		t.Fatalf("tombstone version = %d, want %d", tomb.Version, v+1)
	}
	if e.UsedBytes() != 0 {
		t.Fatalf("UsedBytes = %d after delete, want 0", e.UsedBytes())
	}

	deleted, err = e.Delete(ctx, "k1")
	if err != nil || deleted {
		t.Fatalf("second Delete = %v, %v; want false, nil", deleted, err)
	}
}

func TestEngine_DeleteMissing(t *testing.T) {
	e := newTestEngine(t, 1<<20)
	deleted, err := e.Delete(context.Background(), "nope")
	if err != nil || deleted {
		t.Fatalf("Delete(missing) = %v, %v; want false, nil", deleted, err)
	}
}

func TestEngine_TamperedCiphertextFailsDecryption(t *testing.T) {
	e := newTestEngine(t, 1<<20)
	ctx := context.Background()

	if _, err := e.Put(ctx, "k1", []byte("payload"), PutOptions{}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	obj, _ := e.objects.Get("k1")
	obj.Value[len(obj.Value)/2] ^= 0x01

	if _, err := e.Get(ctx, "k1"); !errors.Is(err, domain.ErrDecryption) {
		t.Fatalf("Get(tampered) err = %v, want ErrDecryption", err)
	}

	// The object stays in place: the failure may be a key problem.
	if !e.objects.Has("k1") {
		t.Fatalf("object removed after decryption failure")
	}
}

func TestEngine_FindByTag(t *testing.T) {
	e := newTestEngine(t, 1<<20)
	ctx := context.Background()

	e.Put(ctx, "a", []byte("va"), PutOptions{Tags: []string{"red"}})
	e.Put(ctx, "b", []byte("vb"), PutOptions{Tags: []string{"red", "blue"}})
	e.Put(ctx, "c", []byte("vc"), PutOptions{Tags: []string{"blue"}})
	e.Put(ctx, "d", []byte("vd"), PutOptions{Tags: []string{"red"}, TTL: time.Millisecond})
	e.Delete(ctx, "a")
	time.Sleep(10 * time.Millisecond)

	var got []string
	for v := range e.FindByTag("red") {
		got = append(got, string(v))
	}
	if len(got) != 1 || got[0] != "vb" {
		t.Fatalf("FindByTag(red) = %v, want [vb]", got)
	}

	// The sequence is restartable.
	count := 0
	for range e.FindByTag("red") {
		count++
	}
	if count != 1 {
		t.Fatalf("second FindByTag pass = %d values, want 1", count)
	}

	// Early break is allowed.
	for range e.FindByTag("blue") {
		break
	}
}

func TestEngine_ApplyRemote_LWW(t *testing.T) {
	e := newTestEngine(t, 1<<20)
	ctx := context.Background()

	e.Put(ctx, "k1", []byte("local"), PutOptions{})

	stale := domain.Mutation{Key: "k1", Version: 1, Value: []byte("stale"), UpdatedAt: domain.NowMillis() - 60_000}
	applied, err := e.ApplyRemote(ctx, stale)
	if err != nil {
		t.Fatalf("ApplyRemote(stale): %v", err)
	}
	if applied {
		t.Fatalf("stale mutation applied")
	}

	newer := domain.Mutation{Key: "k1", Version: 5, Value: []byte("remote"), UpdatedAt: domain.NowMillis()}
	applied, err = e.ApplyRemote(ctx, newer)
	if err != nil || !applied {
		t.Fatalf("ApplyRemote(newer) = %v, %v; want true, nil", applied, err)
	}

	obj, _ := e.objects.Get("k1")
	if obj.Version != 5 || string(obj.Value) != "remote" {
		t.Fatalf("object after remote apply = v%d %q", obj.Version, obj.Value)
	}
}

func TestEngine_ApplyRemote_VersionTieLaterWriterWins(t *testing.T) {
	e := newTestEngine(t, 1<<20)
	ctx := context.Background()

	e.Put(ctx, "k1", []byte("local"), PutOptions{})
	obj, _ := e.objects.Get("k1")

	// Same version, earlier write: discarded.
	earlier := domain.Mutation{
		Key: "k1", Version: obj.Version, Value: []byte("remote-early"),
		UpdatedAt: obj.UpdatedAt - 5000,
	}
	if applied, err := e.ApplyRemote(ctx, earlier); err != nil || applied {
		t.Fatalf("ApplyRemote(earlier tie) = %v, %v; want false, nil", applied, err)
	}

	// Same version, later write: the tie breaks to the later writer.
	later := domain.Mutation{
		Key: "k1", Version: obj.Version, Value: []byte("remote-late"),
		UpdatedAt: obj.UpdatedAt + 5000,
	}
	if applied, err := e.ApplyRemote(ctx, later); err != nil || !applied {
		t.Fatalf("ApplyRemote(later tie) = %v, %v; want true, nil", applied, err)
	}
	got, _ := e.objects.Get("k1")
	if string(got.Value) != "remote-late" || got.UpdatedAt != later.UpdatedAt {
		t.Fatalf("object after tie = %q at %d, want remote-late at %d", got.Value, got.UpdatedAt, later.UpdatedAt)
	}
}

func TestEngine_ApplyRemote_Idempotent(t *testing.T) {
	e := newTestEngine(t, 1<<20)
	ctx := context.Background()

	m := domain.Mutation{Key: "k1", Version: 3, Value: []byte("v"), UpdatedAt: domain.NowMillis()}

	if applied, _ := e.ApplyRemote(ctx, m); !applied {
		t.Fatalf("first apply not applied")
	}
	before := e.UsedBytes()

	if applied, _ := e.ApplyRemote(ctx, m); applied {
		t.Fatalf("replayed mutation applied twice")
	}
	if e.UsedBytes() != before {
		t.Fatalf("UsedBytes changed on replay: %d -> %d", before, e.UsedBytes())
	}
}

func TestEngine_ApplyRemote_TombstoneWins(t *testing.T) {
	e := newTestEngine(t, 1<<20)
	ctx := context.Background()

	e.Put(ctx, "k1", []byte("v"), PutOptions{})

	tomb := domain.Mutation{Key: "k1", Version: 9, Tombstone: true, UpdatedAt: domain.NowMillis()}
	if applied, _ := e.ApplyRemote(ctx, tomb); !applied {
		t.Fatalf("tombstone not applied")
	}
	if _, err := e.Get(ctx, "k1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get after remote tombstone err = %v, want ErrNotFound", err)
	}
	if e.UsedBytes() != 0 {
		t.Fatalf("UsedBytes = %d after tombstone, want 0", e.UsedBytes())
	}
}

func TestEngine_MutationSinkReceivesWrites(t *testing.T) {
	e := newTestEngine(t, 1<<20)
	ctx := context.Background()

	var got []domain.Mutation
	e.SetMutationSink(func(m domain.Mutation) { got = append(got, m) })

	e.Put(ctx, "k1", []byte("v"), PutOptions{})
	e.Delete(ctx, "k1")

	if len(got) != 2 {
		t.Fatalf("sink received %d mutations, want 2", len(got))
	}
	if got[0].Version != 1 || got[0].Tombstone {
		t.Fatalf("first mutation = %+v, want put v1", got[0])
	}
	if got[1].Version != 2 || !got[1].Tombstone {
		t.Fatalf("second mutation = %+v, want tombstone v2", got[1])
	}
	if got[0].Origin != "kvn-test" {
		t.Fatalf("Origin = %q, want kvn-test", got[0].Origin)
	}
}

func TestEngine_DigestSkipsExpiredKeepsTombstones(t *testing.T) {
	e := newTestEngine(t, 1<<20)
	ctx := context.Background()

	e.Put(ctx, "live", []byte("v"), PutOptions{})
	e.Put(ctx, "gone", []byte("v"), PutOptions{TTL: time.Millisecond})
	e.Put(ctx, "dead", []byte("v"), PutOptions{})
	e.Delete(ctx, "dead")
	time.Sleep(10 * time.Millisecond)

	d := e.Digest()
	if _, ok := d["gone"]; ok {
		t.Fatalf("digest contains expired key")
	}
	if d["live"].Version != 1 {
		t.Fatalf("digest[live] = %d, want 1", d["live"].Version)
	}
	if d["dead"].Version != 2 {
		t.Fatalf("digest[dead] = %d, want tombstone version 2", d["dead"].Version)
	}
	if obj, _ := e.objects.Get("live"); d["live"].UpdatedAt != obj.UpdatedAt {
		t.Fatalf("digest[live].UpdatedAt = %d, want %d", d["live"].UpdatedAt, obj.UpdatedAt)
	}
}

func TestEngine_ExportAndLoadSnapshot(t *testing.T) {
	e := newTestEngine(t, 1<<20)
	ctx := context.Background()

	e.Put(ctx, "a", []byte("va"), PutOptions{Tags: []string{"t"}})
	e.Put(ctx, "b", []byte("vb"), PutOptions{})
	e.Delete(ctx, "b")

	exported := e.Export()
	if len(exported) != 2 {
		t.Fatalf("Export = %d objects, want 2 (live + tombstone)", len(exported))
	}

	restored := newTestEngine(t, 1<<20)
	if err := restored.LoadSnapshot(exported); err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}

	got, err := restored.Get(ctx, "a")
	if err != nil || string(got) != "va" {
		t.Fatalf("Get(a) after restore = %q, %v", got, err)
	}
	if _, err := restored.Get(ctx, "b"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("deleted key resurrected by restore")
	}
	if restored.UsedBytes() != e.UsedBytes() {
		t.Fatalf("UsedBytes after restore = %d, want %d", restored.UsedBytes(), e.UsedBytes())
	}
}

func TestEngine_ClosedRejectsMutations(t *testing.T) {
	e := newTestEngine(t, 1<<20)
	e.Close()

	if _, err := e.Put(context.Background(), "k", []byte("v"), PutOptions{}); !errors.Is(err, domain.ErrEngineClosed) {
		t.Fatalf("Put after Close err = %v, want ErrEngineClosed", err)
	}
	if _, err := e.Delete(context.Background(), "k"); !errors.Is(err, domain.ErrEngineClosed) {
		t.Fatalf("Delete after Close err = %v, want ErrEngineClosed", err)
	}
}

func TestEngine_InvalidKeyRejected(t *testing.T) {
	e := newTestEngine(t, 1<<20)
	if _, err := e.Put(context.Background(), "", []byte("v"), PutOptions{}); !errors.Is(err, domain.ErrInvalidKey) {
		t.Fatalf("Put(empty key) err = %v, want ErrInvalidKey", err)
	}
}
