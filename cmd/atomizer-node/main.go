// Copyright 2025 Certen Protocol
//
// Command atomizer-node runs one atomizer replica (§4.3): it accepts
// shard-reported confirmed-input notifications over MsgAtomizerTxNotify,
// and on a target_block_interval ticker cuts a block from every
// fully-confirmed transaction, archiving it and pushing it to every shard.
//
// This reference deployment only supports a single, in-process
// replog.Log replica (replog/inproc): Propose and a direct method call
// both perform the exact same mutation on the same in-memory Atomizer,
// so the synchronous TxError a calling shard needs is read straight off
// the direct call, and the replog.Log is kept alongside purely for its
// documented LastApplied/IsLeader bookkeeping. A raft_endpoint entry
// additionally constructs the abci.App adapter to demonstrate the wiring
// point for a real multi-process CometBFT deployment; starting that node
// (transport, P2P, RPC) is out of scope here, per abci.go's own doc.
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

	abcitypes "github.com/cometbft/cometbft/abci/types"

	"github.com/cbdc-core/settlement/pkg/atomizer"
	"github.com/cbdc-core/settlement/pkg/bootstrap"
	"github.com/cbdc-core/settlement/pkg/config"
	"github.com/cbdc-core/settlement/pkg/metrics"
	"github.com/cbdc-core/settlement/pkg/replog/abci"
	"github.com/cbdc-core/settlement/pkg/replog/inproc"
	"github.com/cbdc-core/settlement/pkg/rpc"
	"github.com/cbdc-core/settlement/pkg/rpcclient"
	"github.com/cbdc-core/settlement/pkg/txmodel"

	"github.com/cbdc-core/settlement/pkg/logging"
)

type discardSink struct{}

func (discardSink) Report(txmodel.Hash, *txmodel.TxError) {}

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: atomizer-node <config file> <replica index>")
		os.Exit(1)
	}
	cfg, err := config.Load(os.Args[1])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	replicaIndex, err := strconv.Atoi(os.Args[2])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid replica index %q: %v\n", os.Args[2], err)
		os.Exit(1)
	}

	nodeID := fmt.Sprintf("atomizer%d", replicaIndex)
	log := logging.New("atomizer", nodeID, cfg.LogLevel())
	entry := logging.WithFields(log, "atomizer-node", nodeID)

	endpoint, err := cfg.AtomizerEndpoint(replicaIndex)
	if err != nil {
		entry.Fatalf("atomizer endpoint: %v", err)
	}
	depth, err := cfg.StxoCacheDepth()
	if err != nil {
		entry.Fatalf("stxo cache depth: %v", err)
	}
	interval, err := cfg.TargetBlockInterval()
	if err != nil {
		entry.Fatalf("target block interval: %v", err)
	}

	var sink atomizer.ErrorSink
	var watchtowerClient interface{ Push(txmodel.Block) error }
	if watchtowerAddr, err := cfg.WatchtowerEndpoint(); err == nil {
		conn, err := rpcclient.Dial(watchtowerAddr)
		if err != nil {
			entry.Fatalf("dial watchtower: %v", err)
		}
		defer conn.Close()
		sink = rpcclient.WatchtowerReportClient{Conn: conn}
		watchtowerClient = rpcclient.WatchtowerBlockClient{Conn: conn}
	} else {
		entry.Warn("no watchtower_endpoint configured, tx_errors will be discarded")
		sink = discardSink{}
	}

	atz := atomizer.New(depth, sink)

	// The replicated log wraps the same Atomizer as its Applier. For this
	// single-replica reference deployment that makes Propose and a direct
	// method call equivalent; the log is kept for LastApplied/IsLeader
	// bookkeeping, not as the mutation path (see package doc above).
	replicatedLog := inproc.New(atz)
	defer replicatedLog.Close()
	entry.Infof("replicated log ready, last applied index %d, leader=%v", replicatedLog.LastApplied(), replicatedLog.IsLeader())

	if raftEndpoint, err := cfg.AtomizerRaftEndpoint(replicaIndex); err == nil && raftEndpoint != "" {
		app := abci.NewApp(atz)
		info, err := app.Info(context.Background(), &abcitypes.RequestInfo{})
		if err != nil {
			entry.Warnf("abci info: %v", err)
		} else {
			entry.Infof("abci app constructed for raft endpoint %s (node wiring out of scope), last_block_height=%d", raftEndpoint, info.LastBlockHeight)
		}
	}

	var archiverClient interface {
		Put(txmodel.Block) error
	}
	if archiverAddr, err := cfg.ArchiverEndpoint(); err == nil {
		conn, err := rpcclient.Dial(archiverAddr)
		if err != nil {
			entry.Fatalf("dial archiver: %v", err)
		}
		defer conn.Close()
		archiverClient = rpcclient.ArchiverClient{Conn: conn}
	} else {
		entry.Warn("no archiver_endpoint configured, cut blocks will not be archived")
	}

	shardConns, err := bootstrap.ShardConns(cfg)
	if err != nil {
		entry.Fatalf("dial shards: %v", err)
	}
	defer bootstrap.CloseAll(shardConns)

	reg := prometheus.NewRegistry()
	m := metrics.NewAtomizer(reg, nodeID)
	if addr := cfg.MetricsAddr(); addr != "" {
		go func() {
			if err := metrics.Serve(addr, reg); err != nil {
				entry.Errorf("metrics server: %v", err)
			}
		}()
	}

	srv := rpc.NewServer()
	srv.Handle(rpc.MsgAtomizerTxNotify, func(body []byte) ([]byte, error) {
		d := txmodel.NewDecoder(body)
		blockHeight, err := d.ReadU64()
		if err != nil {
			return nil, fmt.Errorf("decode block_height: %w", err)
		}
		ctx, err := txmodel.DecodeCTX(d)
		if err != nil {
			return nil, fmt.Errorf("decode ctx: %w", err)
		}
		confirmed, err := rpcclient.DecodeConfirmedInputs(d)
		if err != nil {
			return nil, fmt.Errorf("decode confirmed inputs: %w", err)
		}

		txErr := atz.Insert(blockHeight, ctx, confirmed)
		m.EntriesApplied.Inc()
		if txErr != nil {
			m.ErrorsReported.Inc()
		}
		m.PendingTxs.Set(float64(atz.PendingTransactions()))

		e := txmodel.NewEncoder(32)
		txmodel.EncodeTxError(e, txErr)
		return e.Bytes(), nil
	})

	ln, err := net.Listen("tcp", endpoint)
	if err != nil {
		entry.Fatalf("listen on %s: %v", endpoint, err)
	}
	entry.Infof("atomizer replica %d listening on %s", replicaIndex, endpoint)

	go func() {
		if err := srv.Serve(ln); err != nil {
			entry.Errorf("serve: %v", err)
		}
	}()

	stop := make(chan struct{})
	go runBlockTicker(interval, atz, archiverClient, watchtowerClient, shardConns, m, entry, stop)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	entry.Info("shutting down")
	close(stop)
	ln.Close()
}

// runBlockTicker cuts a block every interval and pushes it to the
// archiver and every shard. Each shard filters out CTX it does not own
// when applying the block (Shard.OnBlock), so the atomizer broadcasts
// every block to every shard rather than routing per recipient.
func runBlockTicker(
	interval time.Duration,
	atz *atomizer.Atomizer,
	archiverClient interface{ Put(txmodel.Block) error },
	watchtowerClient interface{ Push(txmodel.Block) error },
	shardConns map[int]*rpcclient.Conn,
	m *metrics.Atomizer,
	entry logEntry,
	stop <-chan struct{},
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			block, expirations := atz.MakeBlock()
			m.BlocksCut.Inc()
			if len(expirations) > 0 {
				m.ErrorsReported.Add(float64(len(expirations)))
			}
			if archiverClient != nil {
				if err := archiverClient.Put(block); err != nil {
					entry.Errorf("archive block %d: %v", block.Height, err)
				}
			}
			if watchtowerClient != nil {
				if err := watchtowerClient.Push(block); err != nil {
					entry.Warnf("push block %d to watchtower: %v", block.Height, err)
				}
			}
			for idx, conn := range shardConns {
				push := rpcclient.ShardBlockClient{Conn: conn}
				if txErr := push.Push(block); txErr != nil {
					entry.Warnf("push block %d to shard %d: %s", block.Height, idx, txErr.Kind)
				}
			}
		}
	}
}

// logEntry is the subset of *logrus.Entry this command uses, kept narrow
// so runBlockTicker does not need to import logrus directly.
type logEntry interface {
	Errorf(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}
