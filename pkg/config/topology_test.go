// Copyright 2025 Certen Protocol
package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTopology(t *testing.T, contents string) (*Topology, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "topology.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return LoadTopology(path)
}

const validAtomizerTopology = `
shards:
  - endpoint: 127.0.0.1:9000
    start: 0
    end: 255
atomizers:
  - endpoint: 127.0.0.1:9100
    raft_endpoint: 127.0.0.1:9101
sentinels:
  - endpoint: 127.0.0.1:9200
    private_key: "0x00"
    public_key: "0x00"
`

func TestLoadTopologyParsesNestedSections(t *testing.T) {
	topo, err := writeTopology(t, validAtomizerTopology)
	if err != nil {
		t.Fatalf("LoadTopology: %v", err)
	}
	if len(topo.Shards) != 1 || topo.Shards[0].End != 255 {
		t.Fatalf("unexpected shards: %+v", topo.Shards)
	}
	if len(topo.Atomizers) != 1 {
		t.Fatalf("unexpected atomizers: %+v", topo.Atomizers)
	}
}

func TestLoadTopologyAppliesDefaults(t *testing.T) {
	topo, err := writeTopology(t, validAtomizerTopology)
	if err != nil {
		t.Fatalf("LoadTopology: %v", err)
	}
	if topo.AttestationThreshold != 1 {
		t.Fatalf("expected default attestation threshold 1, got %d", topo.AttestationThreshold)
	}
	if topo.BatchSize != 64 {
		t.Fatalf("expected default batch size 64, got %d", topo.BatchSize)
	}
}

func TestLoadTopologyParsesDurationStrings(t *testing.T) {
	topo, err := writeTopology(t, validAtomizerTopology+"heartbeat: 250ms\ntarget_block_interval: 2s\n")
	if err != nil {
		t.Fatalf("LoadTopology: %v", err)
	}
	if topo.Heartbeat.Duration().String() != "250ms" {
		t.Fatalf("unexpected heartbeat: %v", topo.Heartbeat.Duration())
	}
	if topo.TargetBlockInterval.Duration().String() != "2s" {
		t.Fatalf("unexpected target block interval: %v", topo.TargetBlockInterval.Duration())
	}
}

func TestLoadTopologyRejectsOverlappingShardRanges(t *testing.T) {
	_, err := writeTopology(t, `
shards:
  - endpoint: 127.0.0.1:9000
    start: 0
    end: 200
  - endpoint: 127.0.0.1:9001
    start: 100
    end: 255
atomizers:
  - endpoint: 127.0.0.1:9100
    raft_endpoint: 127.0.0.1:9101
`)
	if err == nil {
		t.Fatalf("expected an error for overlapping shard ranges")
	}
}

func TestLoadTopologyRequiresCoordinatorsInTwoPCMode(t *testing.T) {
	_, err := writeTopology(t, `
two_pc: true
shards:
  - endpoint: 127.0.0.1:9000
    start: 0
    end: 255
`)
	if err == nil {
		t.Fatalf("expected an error when two_pc is set with no coordinators")
	}
}

func TestLoadTopologyRequiresAtomizersWhenNotTwoPC(t *testing.T) {
	_, err := writeTopology(t, `
shards:
  - endpoint: 127.0.0.1:9000
    start: 0
    end: 255
`)
	if err == nil {
		t.Fatalf("expected an error when atomizer mode has no atomizers")
	}
}

func TestGenerateNodeConfigsProducesIndexedKeys(t *testing.T) {
	topo, err := writeTopology(t, validAtomizerTopology)
	if err != nil {
		t.Fatalf("LoadTopology: %v", err)
	}
	out := topo.GenerateNodeConfigs()

	want := map[string]string{
		"shard_count":        "1",
		"shard0_endpoint":    "127.0.0.1:9000",
		"shard0_start":       "0",
		"shard0_end":         "255",
		"atomizer0_endpoint": "127.0.0.1:9100",
		"sentinel0_endpoint": "127.0.0.1:9200",
	}
	for k, v := range want {
		if out[k] != v {
			t.Fatalf("GenerateNodeConfigs[%q] = %q, want %q", k, out[k], v)
		}
	}
	if _, ok := out["2pc"]; ok {
		t.Fatalf("did not expect a 2pc key for atomizer-mode topology")
	}
}

func TestGenerateNodeConfigsEmitsTwoPCFlagAndCoordinators(t *testing.T) {
	topo, err := writeTopology(t, `
two_pc: true
shards:
  - endpoint: 127.0.0.1:9000
    start: 0
    end: 255
coordinators:
  - replicas:
      - endpoint: 127.0.0.1:9300
        raft_endpoint: 127.0.0.1:9301
`)
	if err != nil {
		t.Fatalf("LoadTopology: %v", err)
	}
	out := topo.GenerateNodeConfigs()
	if out["2pc"] != "true" {
		t.Fatalf("expected 2pc=true, got %q", out["2pc"])
	}
	if out["coordinator0_0_endpoint"] != "127.0.0.1:9300" {
		t.Fatalf("unexpected coordinator0_0_endpoint: %q", out["coordinator0_0_endpoint"])
	}
}

func TestLoadTopologySubstitutesEnvVars(t *testing.T) {
	t.Setenv("SHARD0_HOST", "10.0.0.5:9000")
	topo, err := writeTopology(t, `
shards:
  - endpoint: ${SHARD0_HOST}
    start: 0
    end: 255
atomizers:
  - endpoint: 127.0.0.1:9100
    raft_endpoint: 127.0.0.1:9101
`)
	if err != nil {
		t.Fatalf("LoadTopology: %v", err)
	}
	if topo.Shards[0].Endpoint != "10.0.0.5:9000" {
		t.Fatalf("expected env substitution, got %q", topo.Shards[0].Endpoint)
	}
}
