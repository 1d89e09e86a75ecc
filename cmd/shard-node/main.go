// Copyright 2025 Certen Protocol
//
// Command shard-node runs one atomizer-mode shard (§4.4): it loads the
// shared directory table, dials its atomizer and (if configured)
// archiver/watchtower peers, and serves MsgShardCTX over TCP until
// interrupted.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cbdc-core/settlement/pkg/archiver"
	"github.com/cbdc-core/settlement/pkg/bootstrap"
	"github.com/cbdc-core/settlement/pkg/config"
	"github.com/cbdc-core/settlement/pkg/kv/memdb"
	"github.com/cbdc-core/settlement/pkg/logging"
	"github.com/cbdc-core/settlement/pkg/metrics"
	"github.com/cbdc-core/settlement/pkg/rpc"
	"github.com/cbdc-core/settlement/pkg/rpcclient"
	"github.com/cbdc-core/settlement/pkg/shard"
	"github.com/cbdc-core/settlement/pkg/txmodel"
)

type discardSink struct{}

func (discardSink) Report(txmodel.Hash, *txmodel.TxError) {}

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: shard-node <config file> <shard index>")
		os.Exit(1)
	}
	cfg, err := config.Load(os.Args[1])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	shardIndex, err := strconv.Atoi(os.Args[2])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid shard index %q: %v\n", os.Args[2], err)
		os.Exit(1)
	}

	nodeID := fmt.Sprintf("shard%d", shardIndex)
	log := logging.New("shard", nodeID, cfg.LogLevel())
	entry := logging.WithFields(log, "shard-node", nodeID)

	dir, err := bootstrap.Directory(cfg)
	if err != nil {
		entry.Fatalf("build directory: %v", err)
	}

	endpoint, err := cfg.ShardEndpoint(shardIndex)
	if err != nil {
		entry.Fatalf("shard endpoint: %v", err)
	}

	atomizerConn, err := bootstrap.AtomizerConn(cfg)
	if err != nil {
		entry.Fatalf("dial atomizer: %v", err)
	}
	defer atomizerConn.Close()

	var archiverClient shard.ArchiverClient
	if archiverAddr, err := cfg.ArchiverEndpoint(); err == nil {
		conn, err := rpcclient.Dial(archiverAddr)
		if err != nil {
			entry.Fatalf("dial archiver: %v", err)
		}
		defer conn.Close()
		archiverClient = rpcclient.ArchiverClient{Conn: conn}
	} else {
		entry.Warn("no archiver_endpoint configured, backing this shard's back-fill reads with an empty in-memory archiver")
		archiverClient = archiver.New(memdb.New())
	}

	var sink shard.ErrorSink
	if watchtowerAddr, err := cfg.WatchtowerEndpoint(); err == nil {
		conn, err := rpcclient.Dial(watchtowerAddr)
		if err != nil {
			entry.Fatalf("dial watchtower: %v", err)
		}
		defer conn.Close()
		sink = rpcclient.WatchtowerReportClient{Conn: conn}
	} else {
		entry.Warn("no watchtower_endpoint configured, tx_errors will be discarded")
		sink = discardSink{}
	}

	sh := shard.New(shardIndex, dir, rpcclient.AtomizerClient{Conn: atomizerConn}, archiverClient, sink)

	reg := prometheus.NewRegistry()
	m := metrics.NewShard(reg, nodeID)
	if addr := cfg.MetricsAddr(); addr != "" {
		go func() {
			if err := metrics.Serve(addr, reg); err != nil {
				entry.Errorf("metrics server: %v", err)
			}
		}()
	}

	srv := rpc.NewServer()
	srv.Handle(rpc.MsgShardCTX, func(body []byte) ([]byte, error) {
		d := txmodel.NewDecoder(body)
		ctx, err := txmodel.DecodeCTX(d)
		if err != nil {
			return nil, fmt.Errorf("decode ctx: %w", err)
		}
		requiredHeight, err := d.ReadU64()
		if err != nil {
			return nil, fmt.Errorf("decode required_height: %w", err)
		}

		txErr := sh.OnCTX(ctx, requiredHeight)
		if txErr != nil {
			m.CTXsRejected.WithLabelValues(string(txErr.Kind)).Inc()
		}
		m.BestHeight.Set(float64(sh.BestHeight()))

		e := txmodel.NewEncoder(32)
		txmodel.EncodeTxError(e, txErr)
		return e.Bytes(), nil
	})

	srv.Handle(rpc.MsgShardBlock, func(body []byte) ([]byte, error) {
		block, err := txmodel.DecodeBlock(txmodel.NewDecoder(body))
		if err != nil {
			return nil, fmt.Errorf("decode block: %w", err)
		}

		txErr := sh.OnBlock(block)
		if txErr != nil {
			m.CTXsRejected.WithLabelValues(string(txErr.Kind)).Inc()
		}
		m.BlocksApplied.Inc()
		m.BestHeight.Set(float64(sh.BestHeight()))

		e := txmodel.NewEncoder(32)
		txmodel.EncodeTxError(e, txErr)
		return e.Bytes(), nil
	})

	ln, err := net.Listen("tcp", endpoint)
	if err != nil {
		entry.Fatalf("listen on %s: %v", endpoint, err)
	}
	entry.Infof("shard %d listening on %s", shardIndex, endpoint)

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
