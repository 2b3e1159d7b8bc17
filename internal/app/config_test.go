package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestApplyFileOverridesOnlyPresentKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
self_id = "alice"
relay_url = "ws://relay.example:9000/ws"
backoff_base = "500ms"
max_reconnect_attempts = 5
stun_servers = ["stun:stun.example:3478", " "]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := DefaultConfig().ApplyFile(path)
	if err != nil {
		t.Fatalf("ApplyFile: %v", err)
	}

	if cfg.SelfID != "alice" || cfg.RelayURL != "ws://relay.example:9000/ws" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.BackoffBase != 500*time.Millisecond || cfg.MaxReconnectAttempts != 5 {
		t.Fatalf("backoff overrides not applied: %+v", cfg)
	}
	if len(cfg.STUNServers) != 1 || cfg.STUNServers[0] != "stun:stun.example:3478" {
		t.Fatalf("stun_servers = %v", cfg.STUNServers)
	}

	// Keys absent from the file keep their defaults.
	def := DefaultConfig()
	if cfg.BackoffCap != def.BackoffCap || cfg.DirectoryURL != def.DirectoryURL {
		t.Fatalf("defaults clobbered: %+v", cfg)
	}
	if cfg.OneTimePreKeyCount != def.OneTimePreKeyCount || cfg.RefillThreshold != def.RefillThreshold {
		t.Fatalf("prekey defaults clobbered: %+v", cfg)
	}
}

func TestApplyFileMissingFileKeepsDefaults(t *testing.T) {
	cfg, err := DefaultConfig().ApplyFile(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("ApplyFile: %v", err)
	}
	if cfg.MaxReconnectAttempts != DefaultConfig().MaxReconnectAttempts {
		t.Fatalf("defaults changed: %+v", cfg)
	}
}

func TestApplyFileBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(`backoff_base = "soon"`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := DefaultConfig().ApplyFile(path); err == nil {
		t.Fatal("bad duration accepted")
	}
}
