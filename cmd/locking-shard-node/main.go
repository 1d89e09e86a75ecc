// Copyright 2025 Certen Protocol
//
// Command locking-shard-node runs one §4.7 locking shard: a
// range-partitioned, wound-wait lock table serving try_lock/prepare/
// commit/rollback/finish/get_tickets to a coordinator leader.
//
// Like cmd/atomizer-node, this reference deployment only supports a
// single in-process replog.Log replica, so prepare/commit/rollback/
// finish are applied by calling *lockingshard.Shard's methods directly;
// the replicated log exists to demonstrate the wiring point for a real
// multi-replica cluster but is not itself on the mutation path here.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cbdc-core/settlement/pkg/config"
	"github.com/cbdc-core/settlement/pkg/directory"
	"github.com/cbdc-core/settlement/pkg/lockingshard"
	"github.com/cbdc-core/settlement/pkg/logging"
	"github.com/cbdc-core/settlement/pkg/metrics"
	"github.com/cbdc-core/settlement/pkg/replog/inproc"
	"github.com/cbdc-core/settlement/pkg/rpc"
	"github.com/cbdc-core/settlement/pkg/txmodel"
)

func main() {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "usage: locking-shard-node <config file> <shard index>")
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

	nodeID := fmt.Sprintf("lockingshard%d", shardIndex)
	log := logging.New("lockingshard", nodeID, cfg.LogLevel())
	entry := logging.WithFields(log, "locking-shard-node", nodeID)

	start, end, err := cfg.ShardRange(shardIndex)
	if err != nil {
		entry.Fatalf("shard range: %v", err)
	}
	endpoint, err := cfg.ShardEndpoint(shardIndex)
	if err != nil {
		entry.Fatalf("shard endpoint: %v", err)
	}

	ls := lockingshard.New(directory.Range{ShardIndex: shardIndex, Start: start, End: end})

	replicatedLog := inproc.New(ls)
	defer replicatedLog.Close()
	entry.Infof("replicated log ready, last applied index %d, leader=%v", replicatedLog.LastApplied(), replicatedLog.IsLeader())

	reg := prometheus.NewRegistry()
	m := metrics.NewLockingShard(reg, nodeID)
	if addr := cfg.MetricsAddr(); addr != "" {
		go func() {
			if err := metrics.Serve(addr, reg); err != nil {
				entry.Errorf("metrics server: %v", err)
			}
		}()
	}

	srv := rpc.NewServer()

	srv.Handle(rpc.MsgLockTryLock, func(body []byte) ([]byte, error) {
		d := txmodel.NewDecoder(body)
		ticket, err := d.ReadU64()
		if err != nil {
			return nil, fmt.Errorf("decode ticket: %w", err)
		}
		brokerBytes, err := d.ReadBytes()
		if err != nil {
			return nil, fmt.Errorf("decode broker: %w", err)
		}
		key, err := d.ReadHash()
		if err != nil {
			return nil, fmt.Errorf("decode key: %w", err)
		}
		modeByte, err := d.ReadU8()
		if err != nil {
			return nil, fmt.Errorf("decode mode: %w", err)
		}
		firstLock, err := d.ReadBool()
		if err != nil {
			return nil, fmt.Errorf("decode first_lock: %w", err)
		}

		value, txErr := ls.TryLock(ticket, string(brokerBytes), key, lockingshard.Mode(modeByte), firstLock)
		switch {
		case txErr == nil:
			m.TryLocks.WithLabelValues("granted").Inc()
		case txErr.Kind == txmodel.KindWounded:
			m.Wounds.Inc()
			m.TryLocks.WithLabelValues("wounded").Inc()
		case txErr.Kind == txmodel.KindRetry:
			m.TryLocks.WithLabelValues("retry").Inc()
		default:
			m.TryLocks.WithLabelValues("error").Inc()
		}

		e := txmodel.NewEncoder(64)
		e.WriteBytes(value)
		txmodel.EncodeTxError(e, txErr)
		return e.Bytes(), nil
	})

	srv.Handle(rpc.MsgLockPrepare, func(body []byte) ([]byte, error) {
		d := txmodel.NewDecoder(body)
		ticket, err := d.ReadU64()
		if err != nil {
			return nil, fmt.Errorf("decode ticket: %w", err)
		}
		brokerBytes, err := d.ReadBytes()
		if err != nil {
			return nil, fmt.Errorf("decode broker: %w", err)
		}
		n, err := d.ReadU64()
		if err != nil {
			return nil, fmt.Errorf("decode update count: %w", err)
		}
		updates := make(map[txmodel.Hash][]byte, n)
		for i := uint64(0); i < n; i++ {
			k, err := d.ReadHash()
			if err != nil {
				return nil, fmt.Errorf("decode update key: %w", err)
			}
			v, err := d.ReadBytes()
			if err != nil {
				return nil, fmt.Errorf("decode update value: %w", err)
			}
			updates[k] = v
		}

		txErr := ls.Prepare(ticket, string(brokerBytes), updates)
		e := txmodel.NewEncoder(32)
		txmodel.EncodeTxError(e, txErr)
		return e.Bytes(), nil
	})

	srv.Handle(rpc.MsgLockCommit, func(body []byte) ([]byte, error) {
		ticket, err := txmodel.NewDecoder(body).ReadU64()
		if err != nil {
			return nil, fmt.Errorf("decode ticket: %w", err)
		}
		txErr := ls.Commit(ticket)
		if txErr == nil {
			m.Completed.WithLabelValues("commit").Inc()
		}
		e := txmodel.NewEncoder(32)
		txmodel.EncodeTxError(e, txErr)
		return e.Bytes(), nil
	})

	srv.Handle(rpc.MsgLockRollback, func(body []byte) ([]byte, error) {
		ticket, err := txmodel.NewDecoder(body).ReadU64()
		if err != nil {
			return nil, fmt.Errorf("decode ticket: %w", err)
		}
		txErr := ls.Rollback(ticket)
		if txErr == nil {
			m.Completed.WithLabelValues("rollback").Inc()
		}
		e := txmodel.NewEncoder(32)
		txmodel.EncodeTxError(e, txErr)
		return e.Bytes(), nil
	})

	srv.Handle(rpc.MsgLockFinish, func(body []byte) ([]byte, error) {
		ticket, err := txmodel.NewDecoder(body).ReadU64()
		if err != nil {
			return nil, fmt.Errorf("decode ticket: %w", err)
		}
		ls.Finish(ticket)
		return nil, nil
	})

	srv.Handle(rpc.MsgLockGetTickets, func(body []byte) ([]byte, error) {
		brokerBytes, err := txmodel.NewDecoder(body).ReadBytes()
		if err != nil {
			return nil, fmt.Errorf("decode broker: %w", err)
		}
		tickets := ls.GetTickets(string(brokerBytes))

		e := txmodel.NewEncoder(64)
		e.WriteU64(uint64(len(tickets)))
		for ticket, state := range tickets {
			e.WriteU64(ticket)
			e.WriteBytes([]byte(state))
		}
		return e.Bytes(), nil
	})

	ln, err := net.Listen("tcp", endpoint)
	if err != nil {
		entry.Fatalf("listen on %s: %v", endpoint, err)
	}
	entry.Infof("locking shard %d listening on %s", shardIndex, endpoint)

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
