package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaultsWithNoFile(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Network.MaxPeers != 128 {
		t.Fatalf("expected default max_peers 128, got %d", cfg.Network.MaxPeers)
	}
	if cfg.Mempool.MinReplaceFactor != 1.25 {
		t.Fatalf("expected default min_replace_factor 1.25, got %v", cfg.Mempool.MinReplaceFactor)
	}
}

func TestLoadReadsTOMLFile(t *testing.T) {
	dir := t.TempDir()
	contents := `
data_dir = "/tmp/forest-data"

[network]
max_peers = 64

[rpc]
enabled = false
`
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DataDir != "/tmp/forest-data" {
		t.Fatalf("expected data_dir override, got %q", cfg.DataDir)
	}
	if cfg.Network.MaxPeers != 64 {
		t.Fatalf("expected max_peers override 64, got %d", cfg.Network.MaxPeers)
	}
	if cfg.RPC.Enabled {
		t.Fatal("expected rpc.enabled override to false")
	}
}

func TestLoadAppliesEnvironmentOverride(t *testing.T) {
	t.Setenv("FOREST_RPC_LISTEN_ADDR", "0.0.0.0:9999")
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RPC.ListenAddr != "0.0.0.0:9999" {
		t.Fatalf("expected env override, got %q", cfg.RPC.ListenAddr)
	}
}
