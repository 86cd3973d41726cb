// Package config defines the server configuration structure.
package config

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Verify validates the configuration and returns the first problem found.
func (c *ServerConfig) Verify() error {
	if c.Server.HTTP.Addr == "" {
		return fmt.Errorf("config: server.http.addr is required")
	}
	if (c.Server.HTTP.TLSCertFile == "") != (c.Server.HTTP.TLSKeyFile == "") {
		return fmt.Errorf("config: tls_cert_file and tls_key_file must be set together")
	}

	if c.Storage.MaxStorageBytes <= 0 {
		return fmt.Errorf("config: storage.max_storage_bytes must be positive")
	}
	if c.Storage.TombstoneRetention <= 0 {
		return fmt.Errorf("config: storage.tombstone_retention must be positive")
	}
	if c.Storage.Backup.Interval <= 0 {
		return fmt.Errorf("config: storage.backup.interval must be positive")
	}
	if c.Storage.Backup.RetentionCount < 1 {
		return fmt.Errorf("config: storage.backup.retention_count must be at least 1")
	}

	if c.Security.EncryptionEnabled {
		key, err := c.EncryptionKeyBytes()
		if err != nil {
			return err
		}
		switch len(key) {
		case 16, 24, 32:
		default:
			return fmt.Errorf("config: security.encryption_key must decode to 16, 24, or 32 bytes, got %d", len(key))
		}
		switch strings.ToLower(c.Security.CipherSuite) {
		case "auto", "aes-gcm", "chacha20-poly1305":
		default:
			return fmt.Errorf("config: unknown security.cipher_suite %q", c.Security.CipherSuite)
		}
	}

	r := c.Replication
	if r.Enabled {
		if r.AdvertiseAddr == "" {
			return fmt.Errorf("config: replication.advertise_addr is required when replication is enabled")
		}
		if r.ReplicationFactor < 0 {
			return fmt.Errorf("config: replication.replication_factor must not be negative")
		}
		if r.SyncInterval <= 0 {
			return fmt.Errorf("config: replication.sync_interval must be positive")
		}
		if r.PeerTimeout <= 0 {
			return fmt.Errorf("config: replication.peer_timeout must be positive")
		}
		if r.FailureThreshold < 1 {
			return fmt.Errorf("config: replication.failure_threshold must be at least 1")
		}
		switch r.Membership.Mode {
		case "static":
			for _, p := range r.Membership.Peers {
				if !strings.Contains(p, "=") {
					return fmt.Errorf("config: static peer %q must be formatted id=addr", p)
				}
			}
		case "gossip":
			if r.Membership.Gossip.BindPort <= 0 || r.Membership.Gossip.BindPort > 65535 {
				return fmt.Errorf("config: replication.membership.gossip.bind_port out of range")
			}
		default:
			return fmt.Errorf("config: unknown replication.membership.mode %q", r.Membership.Mode)
		}
	}

	return nil
}

// EncryptionKeyBytes decodes the configured hex key.
func (c *ServerConfig) EncryptionKeyBytes() ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(c.Security.EncryptionKey))
	if err != nil {
		return nil, fmt.Errorf("config: security.encryption_key is not valid hex: %w", err)
	}
	return key, nil
}
