// Copyright 2025 Certen Protocol
//
// Command sentinel-node runs one §4.2 sentinel: it serves client
// execute() requests and peer validate() requests, gathers an
// attestation quorum from its peers, and forwards confirmed
// transactions to the shards (atomizer mode) or the coordinator leader
// (2PC mode), selected by the 2pc config flag.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cbdc-core/settlement/pkg/bootstrap"
	"github.com/cbdc-core/settlement/pkg/config"
	"github.com/cbdc-core/settlement/pkg/logging"
	"github.com/cbdc-core/settlement/pkg/metrics"
	"github.com/cbdc-core/settlement/pkg/rpc"
	"github.com/cbdc-core/settlement/pkg/rpcclient"
	"github.com/cbdc-core/settlement/pkg/sentinel"
	"github.com/cbdc-core/settlement/pkg/txmodel"
	"github.com/cbdc-core/settlement/pkg/xsign"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: sentinel-node <config file> <sentinel index>")
		os.Exit(1)
	}
	cfg, err := config.Load(os.Args[1])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	sentinelIndex, err := strconv.Atoi(os.Args[2])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid sentinel index %q: %v\n", os.Args[2], err)
		os.Exit(1)
	}

	nodeID := fmt.Sprintf("sentinel%d", sentinelIndex)
	log := logging.New("sentinel", nodeID, cfg.LogLevel())
	entry := logging.WithFields(log, "sentinel-node", nodeID)

	seed, err := cfg.SentinelPrivateKeySeed(sentinelIndex)
	if err != nil {
		entry.Fatalf("private key: %v", err)
	}
	key := xsign.KeyPairFromSeed(seed)

	threshold, err := cfg.AttestationThreshold()
	if err != nil {
		entry.Fatalf("attestation threshold: %v", err)
	}
	endpoint, err := cfg.SentinelEndpoint(sentinelIndex)
	if err != nil {
		entry.Fatalf("sentinel endpoint: %v", err)
	}

	peerConns, err := bootstrap.SentinelConns(cfg, sentinelIndex)
	if err != nil {
		entry.Fatalf("dial peer sentinels: %v", err)
	}
	defer bootstrap.CloseAll(peerConns)
	peers := make([]sentinel.PeerClient, 0, len(peerConns))
	for _, conn := range peerConns {
		peers = append(peers, rpcclient.PeerSentinelClient{Conn: conn})
	}

	forwarder, closeForwarder := buildForwarder(cfg, entry)
	defer closeForwarder()

	sn := sentinel.New(key, peers, threshold, forwarder)

	reg := prometheus.NewRegistry()
	m := metrics.NewSentinel(reg, nodeID)
	if addr := cfg.MetricsAddr(); addr != "" {
		go func() {
			if err := metrics.Serve(addr, reg); err != nil {
				entry.Errorf("metrics server: %v", err)
			}
		}()
	}

	srv := rpc.NewServer()

	srv.Handle(rpc.MsgSentinelExecute, func(body []byte) ([]byte, error) {
		tx, err := txmodel.DecodeFullTx(txmodel.NewDecoder(body))
		if err != nil {
			return nil, fmt.Errorf("decode tx: %w", err)
		}

		start := time.Now()
		res, err := sn.Execute(context.Background(), tx)
		m.AttestationWait.Observe(time.Since(start).Seconds())
		if err != nil {
			return nil, fmt.Errorf("execute: %w", err)
		}
		m.Executions.WithLabelValues(string(res.Status)).Inc()

		e := txmodel.NewEncoder(64)
		rpcclient.EncodeExecuteResult(e, res)
		return e.Bytes(), nil
	})

	srv.Handle(rpc.MsgSentinelValidate, func(body []byte) ([]byte, error) {
		tx, err := txmodel.DecodeFullTx(txmodel.NewDecoder(body))
		if err != nil {
			return nil, fmt.Errorf("decode tx: %w", err)
		}
		att, ok := sn.ValidateForPeer(tx)
		e := txmodel.NewEncoder(80)
		rpcclient.EncodeAttestationResponse(e, att, ok)
		return e.Bytes(), nil
	})

	ln, err := net.Listen("tcp", endpoint)
	if err != nil {
		entry.Fatalf("listen on %s: %v", endpoint, err)
	}
	entry.Infof("sentinel %d listening on %s", sentinelIndex, endpoint)

	go func() {
		if err := srv.Serve(ln); err != nil {
			entry.Errorf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	entry.Info("shutting down")
	ln.Close()
}

// buildForwarder wires an atomizer-mode or 2PC-mode Forwarder per the
// 2pc config flag, returning a cleanup func the caller defers.
func buildForwarder(cfg *config.Config, entry interface{ Fatalf(string, ...interface{}) }) (sentinel.Forwarder, func()) {
	if cfg.TwoPC() {
		conn, err := bootstrap.CoordinatorConn(cfg, 0)
		if err != nil {
			entry.Fatalf("dial coordinator: %v", err)
		}
		return sentinel.TwoPCForwarder{Leader: rpcclient.CoordinatorClient{Conn: conn}}, func() { conn.Close() }
	}

	dir, err := bootstrap.Directory(cfg)
	if err != nil {
		entry.Fatalf("build directory: %v", err)
	}
	shardConns, err := bootstrap.ShardConns(cfg)
	if err != nil {
		entry.Fatalf("dial shards: %v", err)
	}
	shards := make(map[int]sentinel.ShardForwardClient, len(shardConns))
	for idx, conn := range shardConns {
		shards[idx] = rpcclient.ShardForwardClient{Conn: conn}
	}

	var heightClient *rpcclient.WatchtowerBestHeightClient
	var wtConn *rpcclient.Conn
	if watchtowerAddr, err := cfg.WatchtowerEndpoint(); err == nil {
		wtConn, err = rpcclient.Dial(watchtowerAddr)
		if err != nil {
			entry.Fatalf("dial watchtower: %v", err)
		}
		client := rpcclient.WatchtowerBestHeightClient{Conn: wtConn}
		heightClient = &client
	}

	forwarder := sentinel.AtomizerForwarder{
		Dir:    dir,
		Shards: shards,
		RequiredHeight: func() uint64 {
			if heightClient == nil {
				return 0
			}
			h, err := heightClient.BestHeight()
			if err != nil {
				return 0
			}
			return h
		},
	}
	return forwarder, func() {
		bootstrap.CloseAll(shardConns)
		if wtConn != nil {
			wtConn.Close()
		}
	}
}
