package membership

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"sync"

	"github.com/hashicorp/memberlist"
)

// GossipConfig configures gossip-based membership.
type GossipConfig struct {
	// NodeID is the unique node identifier, used as the memberlist
	// node name.
	NodeID string

	// BindAddr and BindPort are where gossip traffic binds.
	BindAddr string
	BindPort int

	// ReplicationAddr is this node's replication HTTP address. It is
	// shared with other nodes through gossip metadata.
	ReplicationAddr string

	// Seeds are the initial nodes to join (gossip addresses).
	Seeds []string

	Logger *slog.Logger
}

// Gossip discovers peers through the memberlist protocol.
type Gossip struct {
	ml     *memberlist.Memberlist
	selfID string
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewGossip starts gossip membership and joins the seed nodes.
func NewGossip(cfg GossipConfig) (*Gossip, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	mlConfig := memberlist.DefaultLANConfig()
	mlConfig.Name = cfg.NodeID
	mlConfig.BindAddr = cfg.BindAddr
	mlConfig.BindPort = cfg.BindPort
	mlConfig.Delegate = &metadataDelegate{replicationAddr: []byte(cfg.ReplicationAddr)}
	mlConfig.Events = &eventLogger{logger: cfg.Logger}
	mlConfig.LogOutput = &slogWriter{logger: cfg.Logger}

	ml, err := memberlist.Create(mlConfig)
	if err != nil {
		return nil, fmt.Errorf("membership: create memberlist: %w", err)
	}

	if len(cfg.Seeds) > 0 {
		n, err := ml.Join(cfg.Seeds)
		if err != nil {
			ml.Shutdown()
			return nil, fmt.Errorf("membership: join seeds: %w", err)
		}
		cfg.Logger.Info("joined gossip cluster",
			"node_id", cfg.NodeID,
			"seeds", cfg.Seeds,
			"joined_count", n)
	} else {
		cfg.Logger.Info("started gossip membership (bootstrap mode)",
			"node_id", cfg.NodeID)
	}

	return &Gossip{
		ml:     ml,
		selfID: cfg.NodeID,
		logger: cfg.Logger,
	}, nil
}

// ListPeers returns the live members, excluding the local node. Each
// peer's replication address comes from its gossip metadata, falling
// back to the gossip address when a node published none.
func (g *Gossip) ListPeers(ctx context.Context) ([]PeerInfo, error) {
	members := g.ml.Members()
	peers := make([]PeerInfo, 0, len(members))
	for _, node := range members {
		if node.Name == g.selfID {
			continue
		}
		addr := string(node.Meta)
		if addr == "" {
			addr = net.JoinHostPort(node.Addr.String(), fmt.Sprintf("%d", node.Port))
			g.logger.Warn("peer published no replication address, using gossip address",
				"node_id", node.Name,
				"addr", addr)
		}
		peers = append(peers, PeerInfo{ID: node.Name, Address: addr})
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].ID < peers[j].ID })
	return peers, nil
}

// Close leaves the cluster and shuts down the gossip transport.
func (g *Gossip) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return nil
	}
	g.closed = true

	if err := g.ml.Leave(0); err != nil {
		g.logger.Error("failed to leave gossip cluster", "error", err)
	}
	if err := g.ml.Shutdown(); err != nil {
		return fmt.Errorf("membership: shutdown memberlist: %w", err)
	}
	g.logger.Info("gossip membership shut down")
	return nil
}

// eventLogger implements memberlist.EventDelegate.
type eventLogger struct {
	logger *slog.Logger
}

func (e *eventLogger) NotifyJoin(node *memberlist.Node) {
	e.logger.Info("node joined",
		"node_id", node.Name,
		"gossip_addr", node.Addr.String(),
		"replication_addr", string(node.Meta))
}

func (e *eventLogger) NotifyLeave(node *memberlist.Node) {
	e.logger.Info("node left",
		"node_id", node.Name,
		"gossip_addr", node.Addr.String())
}

func (e *eventLogger) NotifyUpdate(node *memberlist.Node) {
	e.logger.Debug("node updated",
		"node_id", node.Name,
		"gossip_addr", node.Addr.String())
}

// slogWriter adapts slog.Logger to io.Writer for memberlist's
// internal logging.
type slogWriter struct {
	logger *slog.Logger
}

func (w *slogWriter) Write(p []byte) (n int, err error) {
	w.logger.Debug(string(p))
	return len(p), nil
}

// metadataDelegate publishes this node's replication address as
// gossip metadata (up to 512 bytes).
type metadataDelegate struct {
	replicationAddr []byte
}

func (m *metadataDelegate) NodeMeta(limit int) []byte {
	if len(m.replicationAddr) > limit {
		return m.replicationAddr[:limit]
	}
	return m.replicationAddr
}

func (m *metadataDelegate) NotifyMsg([]byte) {}

func (m *metadataDelegate) GetBroadcasts(overhead, limit int) [][]byte { return nil }

func (m *metadataDelegate) LocalState(join bool) []byte { return nil }

func (m *metadataDelegate) MergeRemoteState(buf []byte, join bool) {}
