// Package config defines the server configuration structure.
package config

import "time"

// Default configuration values.
const (
	DefaultHTTPAddr = "127.0.0.1:5480"

	DefaultMaxStorageBytes    = int64(256) << 20 // 256MB
	DefaultTombstoneRetention = 24 * time.Hour

	DefaultBackupDir            = "/var/lib/kvmesh-server/backups"
	DefaultBackupInterval       = time.Hour
	DefaultBackupRetentionCount = 5
	DefaultBackupRetentionDays  = 7

	DefaultCipherSuite = "auto"

	DefaultReplicationFactor = 3
	DefaultSyncInterval      = 30 * time.Second
	DefaultPeerTimeout       = 2 * time.Second
	DefaultFailureThreshold  = 3
	DefaultPushMaxRateMBps   = 20

	DefaultMembershipMode = "static"
	DefaultGossipPort     = 5484

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default server configuration.
func Default() *ServerConfig {
	return &ServerConfig{
		Server: ServerSection{
			HTTP: HTTPConfig{
				Addr: DefaultHTTPAddr,
			},
		},
		Storage: StorageSection{
			MaxStorageBytes:    DefaultMaxStorageBytes,
			TombstoneRetention: DefaultTombstoneRetention,
			Backup: BackupConfig{
				Dir:            DefaultBackupDir,
				Interval:       DefaultBackupInterval,
				RetentionCount: DefaultBackupRetentionCount,
				RetentionDays:  DefaultBackupRetentionDays,
				RestoreOnStart: true,
			},
		},
		Security: SecuritySection{
			EncryptionEnabled: false,
			CipherSuite:       DefaultCipherSuite,
		},
		Replication: ReplicationSection{
			Enabled:           false,
			ReplicationFactor: DefaultReplicationFactor,
			SyncInterval:      DefaultSyncInterval,
			PeerTimeout:       DefaultPeerTimeout,
			FailureThreshold:  DefaultFailureThreshold,
			PushMaxRateMBps:   DefaultPushMaxRateMBps,
			Membership: MembershipConfig{
				Mode: DefaultMembershipMode,
				Gossip: GossipConfig{
					BindAddr: "0.0.0.0",
					BindPort: DefaultGossipPort,
				},
			},
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}
