package config

import (
	"strings"
	"testing"
)

func TestDefault_Verifies(t *testing.T) {
	cfg := Default()
	if err := cfg.Verify(); err != nil {
		t.Fatalf("Default().Verify(): %v", err)
	}
}

func TestVerify_StorageBudget(t *testing.T) {
	cfg := Default()
	cfg.Storage.MaxStorageBytes = 0
	if err := cfg.Verify(); err == nil {
		t.Fatalf("zero storage budget accepted")
	}
}

func TestVerify_EncryptionKey(t *testing.T) {
	cfg := Default()
	cfg.Security.EncryptionEnabled = true

	cfg.Security.EncryptionKey = "not-hex"
	if err := cfg.Verify(); err == nil {
		t.Fatalf("non-hex key accepted")
	}

	cfg.Security.EncryptionKey = "abcd" // 2 bytes
	if err := cfg.Verify(); err == nil {
		t.Fatalf("short key accepted")
	}

	cfg.Security.EncryptionKey = strings.Repeat("ab", 32)
	if err := cfg.Verify(); err != nil {
		t.Fatalf("valid 32-byte key rejected: %v", err)
	}

	cfg.Security.CipherSuite = "des"
	if err := cfg.Verify(); err == nil {
		t.Fatalf("unknown cipher suite accepted")
	}
}

func TestVerify_Replication(t *testing.T) {
	cfg := Default()
	cfg.Replication.Enabled = true

	if err := cfg.Verify(); err == nil {
		t.Fatalf("enabled replication without advertise_addr accepted")
	}

	cfg.Replication.AdvertiseAddr = "10.0.0.1:5480"
	if err := cfg.Verify(); err != nil {
		t.Fatalf("valid replication config rejected: %v", err)
	}

	cfg.Replication.Membership.Peers = []string{"missing-separator"}
	if err := cfg.Verify(); err == nil {
		t.Fatalf("malformed static peer accepted")
	}

	cfg.Replication.Membership.Peers = []string{"kvn-a=10.0.0.2:5480"}
	if err := cfg.Verify(); err != nil {
		t.Fatalf("well-formed static peer rejected: %v", err)
	}

	cfg.Replication.Membership.Mode = "carrier-pigeon"
	if err := cfg.Verify(); err == nil {
		t.Fatalf("unknown membership mode accepted")
	}
}

func TestVerify_TLSPairing(t *testing.T) {
	cfg := Default()
	cfg.Server.HTTP.TLSCertFile = "/tmp/cert.pem"
	if err := cfg.Verify(); err == nil {
		t.Fatalf("cert without key accepted")
	}
}
