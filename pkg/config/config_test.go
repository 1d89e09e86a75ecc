// Copyright 2025 Certen Protocol
package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, contents string) *Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cluster.conf")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cfg
}

func TestLoadParsesIndexedShardKeys(t *testing.T) {
	cfg := writeConfig(t, "shard_count=2\nshard0_endpoint=127.0.0.1:9000\nshard0_start=0\nshard0_end=127\nshard1_endpoint=127.0.0.1:9001\nshard1_start=128\nshard1_end=255\n")

	n, err := cfg.ShardCount()
	if err != nil || n != 2 {
		t.Fatalf("ShardCount: %d, %v", n, err)
	}
	ep, err := cfg.ShardEndpoint(0)
	if err != nil || ep != "127.0.0.1:9000" {
		t.Fatalf("ShardEndpoint(0): %q, %v", ep, err)
	}
	start, end, err := cfg.ShardRange(1)
	if err != nil || start != 128 || end != 255 {
		t.Fatalf("ShardRange(1): %d-%d, %v", start, end, err)
	}
}

func TestLoadMissingKeyIsAnError(t *testing.T) {
	cfg := writeConfig(t, "shard_count=1\n")
	if _, err := cfg.ShardEndpoint(0); err == nil {
		t.Fatalf("expected an error for a missing required key")
	}
}

func TestTwoPCFlagDefaultsFalse(t *testing.T) {
	cfg := writeConfig(t, "shard_count=1\n")
	if cfg.TwoPC() {
		t.Fatalf("expected 2pc to default to false when absent")
	}
}

func TestTwoPCFlagParsed(t *testing.T) {
	cfg := writeConfig(t, "2pc=true\n")
	if !cfg.TwoPC() {
		t.Fatalf("expected 2pc=true to parse as true")
	}
}

func TestDurationAndDefaultHelpers(t *testing.T) {
	cfg := writeConfig(t, "heartbeat=250ms\ntarget_block_interval=2s\n")
	hb, err := cfg.Heartbeat()
	if err != nil || hb.String() != "250ms" {
		t.Fatalf("Heartbeat: %v, %v", hb, err)
	}
	if got := cfg.IntDefault("batch_size", 64); got != 64 {
		t.Fatalf("expected the default batch_size, got %d", got)
	}
}

func TestCoordinatorIndexedKeys(t *testing.T) {
	cfg := writeConfig(t, "coordinator0_1_endpoint=127.0.0.1:9100\ncoordinator0_1_raft_endpoint=127.0.0.1:9101\n")
	ep, err := cfg.CoordinatorEndpoint(0, 1)
	if err != nil || ep != "127.0.0.1:9100" {
		t.Fatalf("CoordinatorEndpoint: %q, %v", ep, err)
	}
	raftEp, err := cfg.CoordinatorRaftEndpoint(0, 1)
	if err != nil || raftEp != "127.0.0.1:9101" {
		t.Fatalf("CoordinatorRaftEndpoint: %q, %v", raftEp, err)
	}
}
