package snapshot

import (
	"bytes"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/kvmesh/kvmesh-go/internal/core/domain"
	"github.com/kvmesh/kvmesh-go/pkg/crypto/aead"
)

func testObjects() []*domain.Object {
	now := domain.NowMillis()
	return []*domain.Object{
		{Key: "a", Value: []byte("va"), Version: 1, CreatedAt: now, UpdatedAt: now, Tags: []string{"t1"}},
		{Key: "b", Value: []byte("vb"), Version: 3, CreatedAt: now, UpdatedAt: now, TTL: 60_000},
		{Key: "c", Version: 2, CreatedAt: now, UpdatedAt: now, Tombstone: true},
	}
}

func TestManager_CreateAndLoad(t *testing.T) {
	m, err := NewManager(DefaultConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	objects := testObjects()
	info, err := m.Create(objects)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if info.ObjectCount != 3 {
		t.Fatalf("ObjectCount = %d, want 3", info.ObjectCount)
	}
	if info.Checksum == "" {
		t.Fatalf("Checksum is empty")
	}

	loaded, loadedInfo, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loadedInfo.ID != info.ID {
		t.Fatalf("loaded ID = %q, want %q", loadedInfo.ID, info.ID)
	}
	if len(loaded) != 3 {
		t.Fatalf("loaded %d objects, want 3", len(loaded))
	}

	byKey := make(map[string]*domain.Object, len(loaded))
	for _, o := range loaded {
		byKey[o.Key] = o
	}
	if !bytes.Equal(byKey["a"].Value, []byte("va")) || byKey["a"].Version != 1 {
		t.Fatalf("object a = %+v", byKey["a"])
	}
	if byKey["b"].TTL != 60_000 {
		t.Fatalf("object b TTL = %d, want 60000", byKey["b"].TTL)
	}
	if !byKey["c"].Tombstone {
		t.Fatalf("tombstone not preserved")
	}
}

func TestManager_EncryptedRoundTrip(t *testing.T) {
	codec, err := aead.New(aead.SuiteAESGCM, bytes.Repeat([]byte{0x11}, 32))
	if err != nil {
		t.Fatalf("aead.New: %v", err)
	}

	cfg := DefaultConfig(t.TempDir())
	cfg.Codec = codec
	cfg.NodeID = "kvn-snaptest"
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	info, err := m.Create(testObjects())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// The payload must not leak keys in the clear.
	raw, err := os.ReadFile(info.Path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if bytes.Contains(raw, []byte(`"key":"a"`)) {
		t.Fatalf("encrypted snapshot contains plaintext object data")
	}

	loaded, loadedInfo, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 3 {
		t.Fatalf("loaded %d objects, want 3", len(loaded))
	}
	if loadedInfo.NodeID != "kvn-snaptest" {
		t.Fatalf("NodeID = %q, want kvn-snaptest", loadedInfo.NodeID)
	}
}

func TestManager_LoadNoSnapshots(t *testing.T) {
	m, err := NewManager(DefaultConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if _, _, err := m.Load(); !errors.Is(err, ErrNoSnapshots) {
		t.Fatalf("Load err = %v, want ErrNoSnapshots", err)
	}
}

func TestManager_LoadFallsBackPastCorruption(t *testing.T) {
	m, err := NewManager(DefaultConfig(t.TempDir()))
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	good, err := m.Create(testObjects())
	if err != nil {
		t.Fatalf("Create(good): %v", err)
	}
	time.Sleep(2 * time.Millisecond)
	bad, err := m.Create(testObjects())
	if err != nil {
		t.Fatalf("Create(bad): %v", err)
	}

	// Flip one byte in the newer file.
	raw, err := os.ReadFile(bad.Path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	raw[len(raw)/2] ^= 0x01
	if err := os.WriteFile(bad.Path, raw, 0640); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	_, info, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if info.ID != good.ID {
		t.Fatalf("Load picked %q, want fallback to %q", info.ID, good.ID)
	}
}

func TestManager_Prune(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	cfg.RetentionCount = 2
	cfg.RetentionDays = -1 // age-based retention disabled
	m, err := NewManager(cfg)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	for i := 0; i < 5; i++ {
		if _, err := m.Create(testObjects()); err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	if err := m.Prune(); err != nil {
		t.Fatalf("Prune: %v", err)
	}

	infos, err := m.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("after prune %d snapshots remain, want 2", len(infos))
	}
}
