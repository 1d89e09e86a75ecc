// Copyright 2025 Certen Protocol
//
// Command coordinator-node runs one replica of one §4.8 coordinator
// cluster: it drives two-phase commit across the locking shards owning
// a confirmed CTX's inputs and outputs, and recovers in-flight tickets
// at startup in case the previous leader crashed mid-transaction.
//
// A coordinator cluster is a set of replog.Log replicas agreeing on
// ticket issuance, but *coordinator.Coordinator has no Apply/replog
// wiring of its own (unlike atomizer.Atomizer and lockingshard.Shard):
// it already blocks synchronously in Execute and reads its authoritative
// state straight from the shards it drives, so there is no separate
// replicated state to apply here. Running one coordinator-node per
// configured replica and letting each run its own independent Recover
// at startup is this reference deployment's stand-in for the real
// leader-election handoff a multi-replica cluster would need.
//
// Config nests coordinator clusters as coordinator{i}_{j}_endpoint, so
// this command takes the config's node-id convention one level deeper
// than the other daemons: <config file> <cluster index> <replica index>.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cbdc-core/settlement/pkg/bootstrap"
	"github.com/cbdc-core/settlement/pkg/config"
	"github.com/cbdc-core/settlement/pkg/coordinator"
	"github.com/cbdc-core/settlement/pkg/logging"
	"github.com/cbdc-core/settlement/pkg/metrics"
	"github.com/cbdc-core/settlement/pkg/rpc"
	"github.com/cbdc-core/settlement/pkg/rpcclient"
	"github.com/cbdc-core/settlement/pkg/txmodel"
)

func main() {
	if len(os.Args) < 4 {
		fmt.Fprintln(os.Stderr, "usage: coordinator-node <config file> <cluster index> <replica index>")
		os.Exit(1)
	}
	cfg, err := config.Load(os.Args[1])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	clusterIndex, err := strconv.Atoi(os.Args[2])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid cluster index %q: %v\n", os.Args[2], err)
		os.Exit(1)
	}
	replicaIndex, err := strconv.Atoi(os.Args[3])
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid replica index %q: %v\n", os.Args[3], err)
		os.Exit(1)
	}

	nodeID := fmt.Sprintf("coordinator%d_%d", clusterIndex, replicaIndex)
	log := logging.New("coordinator", nodeID, cfg.LogLevel())
	entry := logging.WithFields(log, "coordinator-node", nodeID)

	endpoint, err := cfg.CoordinatorEndpoint(clusterIndex, replicaIndex)
	if err != nil {
		entry.Fatalf("coordinator endpoint: %v", err)
	}

	dir, err := bootstrap.Directory(cfg)
	if err != nil {
		entry.Fatalf("build directory: %v", err)
	}

	shardConns, err := bootstrap.ShardConns(cfg)
	if err != nil {
		entry.Fatalf("dial shards: %v", err)
	}
	defer bootstrap.CloseAll(shardConns)
	shards := make(map[int]coordinator.ShardClient, len(shardConns))
	for idx, conn := range shardConns {
		shards[idx] = rpcclient.LockingShardClient{Conn: conn}
	}

	co := coordinator.New(dir, shards, coordinator.NewTicketMachine(0), coordinator.Config{})

	reg := prometheus.NewRegistry()
	m := metrics.NewCoordinator(reg, nodeID)
	if addr := cfg.MetricsAddr(); addr != "" {
		go func() {
			if err := metrics.Serve(addr, reg); err != nil {
				entry.Errorf("metrics server: %v", err)
			}
		}()
	}

	if err := co.Recover(context.Background()); err != nil {
		entry.Fatalf("recover outstanding tickets: %v", err)
	}
	m.RecoveryRuns.Inc()
	entry.Infof("coordinator %d_%d recovered, broker id %s", clusterIndex, replicaIndex, co.BrokerID())

	srv := rpc.NewServer()
	srv.Handle(rpc.MsgCoordinatorExecute, func(body []byte) ([]byte, error) {
		tx, err := txmodel.DecodeFullTx(txmodel.NewDecoder(body))
		if err != nil {
			return nil, fmt.Errorf("decode tx: %w", err)
		}

		m.TicketsOpened.Inc()
		committed, execErr := co.Execute(context.Background(), tx)
		if committed {
			m.Outcomes.WithLabelValues("commit").Inc()
		} else {
			m.Outcomes.WithLabelValues("rollback").Inc()
		}

		e := txmodel.NewEncoder(64)
		rpcclient.EncodeCoordinatorResponse(e, committed, execErr)
		return e.Bytes(), nil
	})

	ln, err := net.Listen("tcp", endpoint)
	if err != nil {
		entry.Fatalf("listen on %s: %v", endpoint, err)
	}
	entry.Infof("coordinator %d_%d listening on %s", clusterIndex, replicaIndex, endpoint)

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
