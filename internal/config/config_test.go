package config

import (
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefaultWhenMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.TTLDefault != 12 {
		t.Fatalf("expected default ttl 12, got %d", cfg.TTLDefault)
	}
	if cfg.PacketSizeLimit != 380 {
		t.Fatalf("expected default packet size 380, got %d", cfg.PacketSizeLimit)
	}

	cfg2, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg2.NodeID != cfg.NodeID {
		t.Fatalf("expected persisted node id to round-trip, got %q != %q", cfg2.NodeID, cfg.NodeID)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := Default()
	cfg.GroupPassphrase = "correct horse battery staple"
	cfg.MaxConnections = 3
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.GroupPassphrase != cfg.GroupPassphrase || loaded.MaxConnections != 3 {
		t.Fatalf("round trip mismatch: %+v", loaded)
	}
}
