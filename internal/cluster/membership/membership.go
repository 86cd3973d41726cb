package membership

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// PeerInfo identifies a replication peer.
type PeerInfo struct {
	// ID is the peer's node identifier.
	ID string

	// Address is the peer's replication HTTP address (host:port).
	Address string
}

// Membership enumerates the current replication peers, excluding the
// local node.
type Membership interface {
	ListPeers(ctx context.Context) ([]PeerInfo, error)
	Close() error
}

// Static is a fixed peer list taken from configuration.
type Static struct {
	peers []PeerInfo
}

// NewStatic parses peer entries of the form "id=host:port".
func NewStatic(entries []string, selfID string) (*Static, error) {
	peers := make([]PeerInfo, 0, len(entries))
	for _, entry := range entries {
		id, addr, ok := strings.Cut(entry, "=")
		if !ok || id == "" || addr == "" {
			return nil, fmt.Errorf("membership: invalid peer entry %q, want id=host:port", entry)
		}
		if id == selfID {
			continue
		}
		peers = append(peers, PeerInfo{ID: id, Address: addr})
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].ID < peers[j].ID })
	return &Static{peers: peers}, nil
}

// ListPeers returns the configured peers.
func (s *Static) ListPeers(ctx context.Context) ([]PeerInfo, error) {
	out := make([]PeerInfo, len(s.peers))
	copy(out, s.peers)
	return out, nil
}

// Close is a no-op for static membership.
func (s *Static) Close() error { return nil }
