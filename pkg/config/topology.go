// Copyright 2025 Certen Protocol
//
// Topology is the YAML cluster-shape descriptor a deployment tool reads
// to generate every daemon's key=value config file (shard_count,
// shard{i}_endpoint/start/end, and so on) from one source of truth,
// rather than hand-authoring the indexed keys for every node.
//
// Adapted from the teacher's AnchorConfig (environment-substituted YAML
// settings with a custom Duration yaml.Unmarshaler and a
// Load/applyDefaults/Validate pipeline), replacing its Ethereum/
// Accumulate/CometBFT anchoring settings with this system's shard,
// atomizer, sentinel, and coordinator topology.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a YAML-friendly wrapper around time.Duration, decoded from
// a Go duration string ("500ms", "2s") rather than a bare integer.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) { return time.Duration(d).String(), nil }

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// ShardTopology describes one UHS-range-restricted shard's deployment.
type ShardTopology struct {
	Endpoint string `yaml:"endpoint"`
	Start    int    `yaml:"start"`
	End      int    `yaml:"end"`
}

// AtomizerTopology describes one atomizer replica's deployment.
type AtomizerTopology struct {
	Endpoint     string `yaml:"endpoint"`
	RaftEndpoint string `yaml:"raft_endpoint"`
}

// SentinelTopology describes one sentinel's deployment and attestation
// key material.
type SentinelTopology struct {
	Endpoint   string `yaml:"endpoint"`
	PrivateKey string `yaml:"private_key"`
	PublicKey  string `yaml:"public_key"`
}

// CoordinatorTopology describes one coordinator cluster's replicas.
type CoordinatorTopology struct {
	Replicas []AtomizerTopology `yaml:"replicas"`
}

// Topology is the complete cluster shape: how many of each node type,
// where each one listens, and the tunables every daemon needs.
type Topology struct {
	TwoPC bool `yaml:"two_pc"`

	Shards       []ShardTopology       `yaml:"shards"`
	Atomizers    []AtomizerTopology    `yaml:"atomizers"`
	Sentinels    []SentinelTopology    `yaml:"sentinels"`
	Coordinators []CoordinatorTopology `yaml:"coordinators"`

	Archiver   string `yaml:"archiver_endpoint"`
	Watchtower string `yaml:"watchtower_endpoint"`

	AttestationThreshold int      `yaml:"attestation_threshold"`
	StxoCacheDepth       int      `yaml:"stxo_cache_depth"`
	TargetBlockInterval  Duration `yaml:"target_block_interval"`
	ElectionTimeoutLower Duration `yaml:"election_timeout_lower"`
	ElectionTimeoutUpper Duration `yaml:"election_timeout_upper"`
	Heartbeat            Duration `yaml:"heartbeat"`
	BatchSize            int      `yaml:"batch_size"`

	LogLevel   string `yaml:"log_level"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// LoadTopology reads and parses a YAML topology file, substituting
// ${VAR_NAME} environment references before unmarshaling so the same
// topology file can be reused unchanged across environments.
func LoadTopology(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read topology %s: %w", path, err)
	}
	expanded := os.Expand(string(data), func(name string) string { return os.Getenv(name) })

	var t Topology
	if err := yaml.Unmarshal([]byte(expanded), &t); err != nil {
		return nil, fmt.Errorf("config: parse topology %s: %w", path, err)
	}
	if err := t.applyDefaults(); err != nil {
		return nil, err
	}
	return &t, nil
}

func (t *Topology) applyDefaults() error {
	if t.AttestationThreshold <= 0 {
		t.AttestationThreshold = 1
	}
	if t.StxoCacheDepth <= 0 {
		t.StxoCacheDepth = 1000
	}
	if t.BatchSize <= 0 {
		t.BatchSize = 64
	}
	if t.Heartbeat == 0 {
		t.Heartbeat = Duration(150_000_000) // 150ms
	}
	return t.Validate()
}

// Validate checks the topology is internally consistent: every shard
// range is non-empty and every configured range is distinct (a
// deployment tool should catch a typo'd overlapping range before any
// daemon starts, rather than have two shards silently contend for the
// same UHS ids at runtime).
func (t *Topology) Validate() error {
	if len(t.Shards) == 0 {
		return fmt.Errorf("config: topology declares no shards")
	}
	seen := make([]bool, 256)
	for i, s := range t.Shards {
		if s.Start > s.End {
			return fmt.Errorf("config: shard %d has start %d > end %d", i, s.Start, s.End)
		}
		if s.Start < 0 || s.End > 255 {
			return fmt.Errorf("config: shard %d range out of byte bounds", i)
		}
		for b := s.Start; b <= s.End; b++ {
			if seen[b] {
				return fmt.Errorf("config: shard %d range overlaps an earlier shard at byte %d", i, b)
			}
			seen[b] = true
		}
	}
	if t.TwoPC && len(t.Coordinators) == 0 {
		return fmt.Errorf("config: two_pc is set but no coordinators are configured")
	}
	if !t.TwoPC && len(t.Atomizers) == 0 {
		return fmt.Errorf("config: atomizer mode requires at least one atomizer replica")
	}
	return nil
}

// GenerateNodeConfigs expands a Topology into the per-node key=value
// maps every daemon's config.Load expects, keeping the YAML topology as
// the single source of truth a deployment tool edits by hand.
func (t *Topology) GenerateNodeConfigs() map[string]string {
	out := make(map[string]string)
	out["shard_count"] = fmt.Sprintf("%d", len(t.Shards))
	for i, s := range t.Shards {
		out[fmt.Sprintf("shard%d_endpoint", i)] = s.Endpoint
		out[fmt.Sprintf("shard%d_start", i)] = fmt.Sprintf("%d", s.Start)
		out[fmt.Sprintf("shard%d_end", i)] = fmt.Sprintf("%d", s.End)
	}
	out["atomizer_count"] = fmt.Sprintf("%d", len(t.Atomizers))
	for i, a := range t.Atomizers {
		out[fmt.Sprintf("atomizer%d_endpoint", i)] = a.Endpoint
		out[fmt.Sprintf("atomizer%d_raft_endpoint", i)] = a.RaftEndpoint
	}
	out["sentinel_count"] = fmt.Sprintf("%d", len(t.Sentinels))
	for i, s := range t.Sentinels {
		out[fmt.Sprintf("sentinel%d_endpoint", i)] = s.Endpoint
		out[fmt.Sprintf("sentinel%d_private_key", i)] = s.PrivateKey
		out[fmt.Sprintf("sentinel%d_public_key", i)] = s.PublicKey
	}
	for i, cluster := range t.Coordinators {
		out[fmt.Sprintf("coordinator%d_replica_count", i)] = fmt.Sprintf("%d", len(cluster.Replicas))
		for j, rep := range cluster.Replicas {
			out[fmt.Sprintf("coordinator%d_%d_endpoint", i, j)] = rep.Endpoint
			out[fmt.Sprintf("coordinator%d_%d_raft_endpoint", i, j)] = rep.RaftEndpoint
		}
	}
	if t.Archiver != "" {
		out["archiver_endpoint"] = t.Archiver
	}
	if t.Watchtower != "" {
		out["watchtower_endpoint"] = t.Watchtower
	}
	if t.LogLevel != "" {
		out["log_level"] = t.LogLevel
	}
	if t.MetricsAddr != "" {
		out["metrics_addr"] = t.MetricsAddr
	}
	out["attestation_threshold"] = fmt.Sprintf("%d", t.AttestationThreshold)
	out["stxo_cache_depth"] = fmt.Sprintf("%d", t.StxoCacheDepth)
	out["target_block_interval"] = t.TargetBlockInterval.Duration().String()
	out["election_timeout_lower"] = t.ElectionTimeoutLower.Duration().String()
	out["election_timeout_upper"] = t.ElectionTimeoutUpper.Duration().String()
	out["heartbeat"] = t.Heartbeat.Duration().String()
	out["batch_size"] = fmt.Sprintf("%d", t.BatchSize)
	if t.TwoPC {
		out["2pc"] = "true"
	}
	return out
}
