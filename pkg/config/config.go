// Copyright 2025 Certen Protocol
//
// Package config loads per-node settlement configuration from a
// key=value file, per §6's CLI surface: every daemon takes
// `<config file> <node id>` and reads indexed keys out of one shared
// cluster config (shard_count, shard{i}_endpoint/start/end,
// atomizer{i}_endpoint/raft_endpoint, sentinel{i}_endpoint/
// private_key/public_key, coordinator{i}_{j}_endpoint/raft_endpoint,
// attestation_threshold, stxo_cache_depth, target_block_interval,
// election_timeout_{lower,upper}, heartbeat, batch_size, 2pc).
//
// Grounded on the teacher's walletserver config loader
// (orbas1-Synnergy/synnergy-network/walletserver/config/config.go),
// which reads a dotenv-format file via github.com/joho/godotenv;
// adapted from godotenv.Load (which mutates process environment) to
// godotenv.Read (which parses straight into a map), since this file is
// an explicit CLI argument, not an ambient .env the process discovers.
package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/cbdc-core/settlement/pkg/txmodel"
	"github.com/joho/godotenv"
)

// Config is a parsed key=value settlement cluster configuration.
type Config struct {
	values map[string]string
}

// Load reads and parses path.
func Load(path string) (*Config, error) {
	values, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return &Config{values: values}, nil
}

func (c *Config) get(key string) (string, bool) {
	v, ok := c.values[key]
	return v, ok
}

// String returns the raw value for key, or an error if absent.
func (c *Config) String(key string) (string, error) {
	v, ok := c.get(key)
	if !ok {
		return "", fmt.Errorf("config: missing required key %q", key)
	}
	return v, nil
}

// StringDefault returns the value for key, or def if absent.
func (c *Config) StringDefault(key, def string) string {
	if v, ok := c.get(key); ok {
		return v
	}
	return def
}

// Int parses the value for key as a base-10 integer.
func (c *Config) Int(key string) (int, error) {
	v, err := c.String(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: key %q: %w", key, err)
	}
	return n, nil
}

// IntDefault parses the value for key as an integer, or returns def if
// absent.
func (c *Config) IntDefault(key string, def int) int {
	v, ok := c.get(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// Uint64 parses the value for key as a base-10 unsigned integer.
func (c *Config) Uint64(key string) (uint64, error) {
	v, err := c.String(key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: key %q: %w", key, err)
	}
	return n, nil
}

// Bool parses the value for key as a boolean, defaulting to false if
// absent (used for the 2pc flag: its presence as "true" switches a
// deployment from atomizer mode to 2PC mode).
func (c *Config) Bool(key string) bool {
	v, ok := c.get(key)
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false
	}
	return b
}

// Duration parses the value for key as a Go duration string (e.g.
// "500ms", "2s").
func (c *Config) Duration(key string) (time.Duration, error) {
	v, err := c.String(key)
	if err != nil {
		return 0, err
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: key %q: %w", key, err)
	}
	return d, nil
}

// ShardCount returns shard_count.
func (c *Config) ShardCount() (int, error) { return c.Int("shard_count") }

// ShardEndpoint returns shard{i}_endpoint.
func (c *Config) ShardEndpoint(i int) (string, error) { return c.String(fmt.Sprintf("shard%d_endpoint", i)) }

// ShardRange returns shard{i}_start and shard{i}_end.
func (c *Config) ShardRange(i int) (start, end byte, err error) {
	s, err := c.Int(fmt.Sprintf("shard%d_start", i))
	if err != nil {
		return 0, 0, err
	}
	e, err := c.Int(fmt.Sprintf("shard%d_end", i))
	if err != nil {
		return 0, 0, err
	}
	return byte(s), byte(e), nil
}

// AtomizerEndpoint returns atomizer{i}_endpoint.
func (c *Config) AtomizerEndpoint(i int) (string, error) {
	return c.String(fmt.Sprintf("atomizer%d_endpoint", i))
}

// AtomizerRaftEndpoint returns atomizer{i}_raft_endpoint.
func (c *Config) AtomizerRaftEndpoint(i int) (string, error) {
	return c.String(fmt.Sprintf("atomizer%d_raft_endpoint", i))
}

// SentinelEndpoint returns sentinel{i}_endpoint.
func (c *Config) SentinelEndpoint(i int) (string, error) {
	return c.String(fmt.Sprintf("sentinel%d_endpoint", i))
}

// SentinelPrivateKeySeed returns the 32-byte key-derivation seed decoded
// from sentinel{i}_private_key.
func (c *Config) SentinelPrivateKeySeed(i int) ([32]byte, error) {
	raw, err := c.String(fmt.Sprintf("sentinel%d_private_key", i))
	if err != nil {
		return [32]byte{}, err
	}
	h, err := txmodel.HashFromHex(raw)
	if err != nil {
		return [32]byte{}, fmt.Errorf("config: sentinel%d_private_key: %w", i, err)
	}
	return h, nil
}

// SentinelPublicKey returns the public key decoded from
// sentinel{i}_public_key.
func (c *Config) SentinelPublicKey(i int) (txmodel.PubKey, error) {
	raw, err := c.String(fmt.Sprintf("sentinel%d_public_key", i))
	if err != nil {
		return txmodel.PubKey{}, err
	}
	pub, err := txmodel.PubKeyFromHex(raw)
	if err != nil {
		return txmodel.PubKey{}, fmt.Errorf("config: sentinel%d_public_key: %w", i, err)
	}
	return pub, nil
}

// CoordinatorEndpoint returns coordinator{i}_{j}_endpoint.
func (c *Config) CoordinatorEndpoint(i, j int) (string, error) {
	return c.String(fmt.Sprintf("coordinator%d_%d_endpoint", i, j))
}

// CoordinatorRaftEndpoint returns coordinator{i}_{j}_raft_endpoint.
func (c *Config) CoordinatorRaftEndpoint(i, j int) (string, error) {
	return c.String(fmt.Sprintf("coordinator%d_%d_raft_endpoint", i, j))
}

// AttestationThreshold returns attestation_threshold.
func (c *Config) AttestationThreshold() (int, error) { return c.Int("attestation_threshold") }

// StxoCacheDepth returns stxo_cache_depth.
func (c *Config) StxoCacheDepth() (int, error) { return c.Int("stxo_cache_depth") }

// TargetBlockInterval returns target_block_interval.
func (c *Config) TargetBlockInterval() (time.Duration, error) { return c.Duration("target_block_interval") }

// ElectionTimeoutBounds returns election_timeout_lower and
// election_timeout_upper.
func (c *Config) ElectionTimeoutBounds() (lower, upper time.Duration, err error) {
	lower, err = c.Duration("election_timeout_lower")
	if err != nil {
		return 0, 0, err
	}
	upper, err = c.Duration("election_timeout_upper")
	if err != nil {
		return 0, 0, err
	}
	return lower, upper, nil
}

// Heartbeat returns the heartbeat interval.
func (c *Config) Heartbeat() (time.Duration, error) { return c.Duration("heartbeat") }

// BatchSize returns batch_size.
func (c *Config) BatchSize() (int, error) { return c.Int("batch_size") }

// TwoPC reports whether the 2pc flag selects the 2PC/coordinator
// architecture over the atomizer architecture.
func (c *Config) TwoPC() bool { return c.Bool("2pc") }

// AtomizerCount returns atomizer_count: the number of replog.Log
// replicas backing the (single, unsharded) atomizer.
func (c *Config) AtomizerCount() (int, error) { return c.Int("atomizer_count") }

// SentinelCount returns sentinel_count.
func (c *Config) SentinelCount() (int, error) { return c.Int("sentinel_count") }

// CoordinatorReplicaCount returns coordinator{i}_replica_count: the
// number of replog.Log replicas backing coordinator cluster i.
func (c *Config) CoordinatorReplicaCount(i int) (int, error) {
	return c.Int(fmt.Sprintf("coordinator%d_replica_count", i))
}

// ArchiverEndpoint returns archiver_endpoint, the single append-only
// block store every shard and the atomizer back-fill against.
func (c *Config) ArchiverEndpoint() (string, error) { return c.String("archiver_endpoint") }

// WatchtowerEndpoint returns watchtower_endpoint, the single §4.6 status
// cache every shard, the atomizer, and clients report to and query.
func (c *Config) WatchtowerEndpoint() (string, error) { return c.String("watchtower_endpoint") }

// ArchiverDataDir returns archiver_data_dir, a goleveldb directory the
// archiver persists blocks under. Empty means run the archiver against
// an in-memory store instead.
func (c *Config) ArchiverDataDir() string { return c.StringDefault("archiver_data_dir", "") }

// WatchtowerBlockCap returns watchtower_block_cap, defaulting to 1000:
// the number of recent blocks' worth of UHS-id history the watchtower
// retains.
func (c *Config) WatchtowerBlockCap() int { return c.IntDefault("watchtower_block_cap", 1000) }

// WatchtowerErrorCap returns watchtower_error_cap, defaulting to 10000:
// the number of distinct rejected-tx reports the watchtower retains.
func (c *Config) WatchtowerErrorCap() int { return c.IntDefault("watchtower_error_cap", 10000) }

// LogLevel returns log_level, defaulting to "info".
func (c *Config) LogLevel() string { return c.StringDefault("log_level", "info") }

// MetricsAddr returns metrics_addr, the address a daemon serves
// /metrics on. An empty return means metrics are disabled.
func (c *Config) MetricsAddr() string { return c.StringDefault("metrics_addr", "") }
