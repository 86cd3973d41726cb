// Package domain defines the core domain models for kvmesh.
package domain

// PeerStatus is the replication health state of a peer node.
type PeerStatus string

const (
	// PeerOnline means the peer answered its most recent contact.
	PeerOnline PeerStatus = "online"

	// PeerSyncing means the peer is mid anti-entropy reconciliation.
	PeerSyncing PeerStatus = "syncing"

	// PeerOffline means the peer failed a configured number of
	// consecutive contacts. It returns online on the next success.
	PeerOffline PeerStatus = "offline"
)

// Peer is a replication target as seen by this node.
//
// Peers are created when the membership service reports a new address and
// removed when it stops reporting them. Membership is authoritative; the
// engine never invents peers.
type Peer struct {
	ID      string     `json:"id"`
	Address string     `json:"address"`
	Status  PeerStatus `json:"status"`

	// LastSyncAt is the last successful contact (Unix milliseconds).
	LastSyncAt int64 `json:"last_sync_at,omitempty"`

	// EstimatedStorageUsed is the peer's self-reported usage in bytes,
	// refreshed during reconciliation.
	EstimatedStorageUsed int64 `json:"estimated_storage_used,omitempty"`
}
