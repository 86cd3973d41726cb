// Package config defines the server configuration structure.
package config

import "time"

// ServerConfig is the root configuration for kvmesh-server.
type ServerConfig struct {
	Server      ServerSection      `koanf:"server"`
	Storage     StorageSection     `koanf:"storage"`
	Security    SecuritySection    `koanf:"security"`
	Replication ReplicationSection `koanf:"replication"`
	Log         LogSection         `koanf:"log"`
}

// ServerSection configures server endpoints.
type ServerSection struct {
	HTTP HTTPConfig `koanf:"http"`
}

// HTTPConfig configures the HTTP server.
type HTTPConfig struct {
	Addr        string `koanf:"addr"`
	TLSCertFile string `koanf:"tls_cert_file"`
	TLSKeyFile  string `koanf:"tls_key_file"`
}

// StorageSection configures storage behavior.
type StorageSection struct {
	// MaxStorageBytes is the storage budget for stored values.
	MaxStorageBytes int64 `koanf:"max_storage_bytes"`

	// TombstoneRetention is how long delete markers are kept before
	// the periodic sweep purges them.
	TombstoneRetention time.Duration `koanf:"tombstone_retention"`

	// Backup configures periodic snapshotting.
	Backup BackupConfig `koanf:"backup"`
}

// BackupConfig configures backup snapshots.
type BackupConfig struct {
	Dir            string        `koanf:"dir"`
	Interval       time.Duration `koanf:"interval"`
	RetentionCount int           `koanf:"retention_count"`
	RetentionDays  int           `koanf:"retention_days"`

	// RestoreOnStart loads the latest snapshot at startup.
	RestoreOnStart bool `koanf:"restore_on_start"`
}

// SecuritySection configures at-rest encryption.
type SecuritySection struct {
	// EncryptionEnabled turns on AEAD encryption of stored values.
	EncryptionEnabled bool `koanf:"encryption_enabled"`

	// EncryptionKey is the hex-encoded key (16, 24, or 32 bytes).
	EncryptionKey string `koanf:"encryption_key"`

	// CipherSuite selects the AEAD ("aes-gcm", "chacha20-poly1305",
	// or "auto" to pick per hardware).
	CipherSuite string `koanf:"cipher_suite"`
}

// ReplicationSection configures peer replication.
type ReplicationSection struct {
	// Enabled turns on mutation fan-out and anti-entropy.
	Enabled bool `koanf:"enabled"`

	// NodeID is the unique identifier for this node.
	// If empty, a random ID is generated at startup.
	NodeID string `koanf:"node_id"`

	// AdvertiseAddr is the address peers use to reach this node.
	AdvertiseAddr string `koanf:"advertise_addr"`

	// ReplicationFactor is the advisory fan-out breadth. It is not a
	// quorum: local writes succeed regardless of peer reachability.
	ReplicationFactor int `koanf:"replication_factor"`

	// SyncInterval is the anti-entropy reconciliation period.
	SyncInterval time.Duration `koanf:"sync_interval"`

	// PeerTimeout bounds each per-peer network call.
	PeerTimeout time.Duration `koanf:"peer_timeout"`

	// FailureThreshold is the number of consecutive failed contacts
	// before a peer is marked offline.
	FailureThreshold int `koanf:"failure_threshold"`

	// JournalDir is the directory for the hinted-handoff journal.
	// Empty disables journaling.
	JournalDir string `koanf:"journal_dir"`

	// PushMaxRateMBps caps anti-entropy push bandwidth (MB/s).
	PushMaxRateMBps int `koanf:"push_max_rate_mbps"`

	// Membership selects how the peer list is obtained.
	Membership MembershipConfig `koanf:"membership"`
}

// MembershipConfig configures peer discovery.
type MembershipConfig struct {
	// Mode is "static" or "gossip".
	Mode string `koanf:"mode"`

	// Peers is the static peer list, entries formatted "id=addr".
	Peers []string `koanf:"peers"`

	// Gossip configures memberlist-based discovery.
	Gossip GossipConfig `koanf:"gossip"`
}

// GossipConfig configures gossip-based membership.
type GossipConfig struct {
	BindAddr string   `koanf:"bind_addr"`
	BindPort int      `koanf:"bind_port"`
	Seeds    []string `koanf:"seeds"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}
