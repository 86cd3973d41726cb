package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNew_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Format: "json", Output: &buf})

	log.Info("object stored", "key", "k1", "bytes", 42)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if entry["msg"] != "object stored" {
		t.Fatalf("msg = %v, want %q", entry["msg"], "object stored")
	}
	if entry["key"] != "k1" {
		t.Fatalf("key = %v, want k1", entry["key"])
	}
}

func TestNew_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Format: "json", Output: &buf})

	log.Info("filtered")
	if buf.Len() != 0 {
		t.Fatalf("info record emitted at warn level: %q", buf.String())
	}

	log.Warn("emitted")
	if buf.Len() == 0 {
		t.Fatalf("warn record not emitted at warn level")
	}
}

func TestSetLevel_Dynamic(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Format: "json", Output: &buf})

	SetLevel("debug")
	defer SetLevel("info")

	if got := GetLevel(); got != "debug" {
		t.Fatalf("GetLevel = %q, want debug", got)
	}

	log.Debug("now visible")
	if buf.Len() == 0 {
		t.Fatalf("debug record not emitted after SetLevel(debug)")
	}
}

func TestRedact_KeyMaterial(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Format: "json", Output: &buf})

	log.Info("config loaded", "encryption_key", "deadbeef", "addr", "127.0.0.1")

	out := buf.String()
	if strings.Contains(out, "deadbeef") {
		t.Fatalf("key material leaked into log output: %q", out)
	}
	if !strings.Contains(out, redactedValue) {
		t.Fatalf("redaction marker missing: %q", out)
	}
	if !strings.Contains(out, "127.0.0.1") {
		t.Fatalf("non-sensitive attr redacted: %q", out)
	}
}

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "info", Format: "text", Output: &buf})

	log.Info("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Fatalf("text handler not used: %q", buf.String())
	}
}
