package replication

import (
	"context"
	"sync"
	"testing"

	"github.com/kvmesh/kvmesh-go/internal/cluster/membership"
	"github.com/kvmesh/kvmesh-go/internal/core/domain"
	"github.com/kvmesh/kvmesh-go/internal/storage"
	"github.com/kvmesh/kvmesh-go/pkg/crypto/aead"
)

// fakeTransport routes replication calls to in-memory peer engines and
// can inject failures per address.
type fakeTransport struct {
	mu    sync.Mutex
	peers map[string]*storage.Engine // by address
	fail  map[string]error           // by address
	sent  map[string]int             // SendMutation calls by address
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		peers: make(map[string]*storage.Engine),
		fail:  make(map[string]error),
		sent:  make(map[string]int),
	}
}

func (f *fakeTransport) addPeer(t *testing.T, addr string) *storage.Engine {
	t.Helper()
	e, err := storage.New(storage.Config{
		MaxStorageBytes: 1 << 20,
		NodeID:          "kvn-" + addr,
		Codec:           aead.Passthrough{},
	})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	f.mu.Lock()
	f.peers[addr] = e
	f.mu.Unlock()
	return e
}

func (f *fakeTransport) setFailure(addr string, err error) {
	f.mu.Lock()
	f.fail[addr] = err
	f.mu.Unlock()
}

func (f *fakeTransport) clearFailure(addr string) {
	f.mu.Lock()
	delete(f.fail, addr)
	f.mu.Unlock()
}

func (f *fakeTransport) sentCount(addr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[addr]
}

func (f *fakeTransport) peer(addr string) (*storage.Engine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail[addr]; err != nil {
		return nil, err
	}
	e, ok := f.peers[addr]
	if !ok {
		return nil, domain.ErrPeerUnreachable
	}
	return e, nil
}

func (f *fakeTransport) SendMutation(ctx context.Context, addr string, m domain.Mutation) error {
	e, err := f.peer(addr)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.sent[addr]++
	f.mu.Unlock()
	_, err = e.ApplyRemote(ctx, m)
	return err
}

func (f *fakeTransport) Digest(ctx context.Context, addr string) (*DigestView, error) {
	e, err := f.peer(addr)
	if err != nil {
		return nil, err
	}
	return &DigestView{
		NodeID:    "kvn-" + addr,
		Digest:    e.Digest(),
		UsedBytes: e.UsedBytes(),
	}, nil
}

func (f *fakeTransport) PullEntries(ctx context.Context, addr string, keys []string) ([]domain.Mutation, error) {
	e, err := f.peer(addr)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Mutation, 0, len(keys))
	for _, key := range keys {
		if m, ok := e.MutationFor(key); ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeTransport) PushEntries(ctx context.Context, addr string, ms []domain.Mutation) error {
	e, err := f.peer(addr)
	if err != nil {
		return err
	}
	for _, m := range ms {
		if _, err := e.ApplyRemote(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func staticMembers(t *testing.T, entries ...string) *membership.Static {
	t.Helper()
	m, err := membership.NewStatic(entries, "kvn-self")
	if err != nil {
		t.Fatalf("static membership: %v", err)
	}
	return m
}
