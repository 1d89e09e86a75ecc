// Copyright 2025 Certen Protocol
//
// Command archiver-node runs the §4.5 append-only block store: the
// atomizer pushes cut blocks to it over MsgArchiverPut, and shards and
// the watchtower back-fill gaps from it over MsgArchiverGetRange.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cbdc-core/settlement/pkg/archiver"
	"github.com/cbdc-core/settlement/pkg/config"
	"github.com/cbdc-core/settlement/pkg/kv"
	"github.com/cbdc-core/settlement/pkg/kv/cometbftdb"
	"github.com/cbdc-core/settlement/pkg/kv/memdb"
	"github.com/cbdc-core/settlement/pkg/logging"
	"github.com/cbdc-core/settlement/pkg/metrics"
	"github.com/cbdc-core/settlement/pkg/rpc"
	"github.com/cbdc-core/settlement/pkg/rpcclient"
	"github.com/cbdc-core/settlement/pkg/txmodel"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: archiver-node <config file>")
		os.Exit(1)
	}
	cfg, err := config.Load(os.Args[1])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	nodeID := "archiver"
	log := logging.New("archiver", nodeID, cfg.LogLevel())
	entry := logging.WithFields(log, "archiver-node", nodeID)

	endpoint, err := cfg.ArchiverEndpoint()
	if err != nil {
		entry.Fatalf("archiver endpoint: %v", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		entry.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ar := archiver.New(store)

	reg := prometheus.NewRegistry()
	m := metrics.NewArchiver(reg, nodeID)
	if addr := cfg.MetricsAddr(); addr != "" {
		go func() {
			if err := metrics.Serve(addr, reg); err != nil {
				entry.Errorf("metrics server: %v", err)
			}
		}()
	}
	if latest, err := ar.LatestHeight(); err == nil {
		m.LatestHeight.Set(float64(latest))
	}

	srv := rpc.NewServer()

	srv.Handle(rpc.MsgArchiverPut, func(body []byte) ([]byte, error) {
		block, err := txmodel.DecodeBlock(txmodel.NewDecoder(body))
		if err != nil {
			return nil, fmt.Errorf("decode block: %w", err)
		}
		putErr := ar.Put(block)
		if putErr == nil {
			m.BlocksPut.Inc()
			m.LatestHeight.Set(float64(block.Height))
		}

		e := txmodel.NewEncoder(8)
		rpcclient.EncodeAck(e, putErr)
		return e.Bytes(), nil
	})

	srv.Handle(rpc.MsgArchiverGetRange, func(body []byte) ([]byte, error) {
		d := txmodel.NewDecoder(body)
		lo, err := d.ReadU64()
		if err != nil {
			return nil, fmt.Errorf("decode lo: %w", err)
		}
		hi, err := d.ReadU64()
		if err != nil {
			return nil, fmt.Errorf("decode hi: %w", err)
		}
		blocks, err := ar.GetRange(lo, hi)
		e := txmodel.NewEncoder(256)
		if err != nil {
			e.WriteBool(true)
			e.WriteBytes([]byte(err.Error()))
			return e.Bytes(), nil
		}
		m.RangeQueries.Inc()

		e.WriteBool(false)
		e.WriteU64(uint64(len(blocks)))
		for _, b := range blocks {
			b.Encode(e)
		}
		return e.Bytes(), nil
	})

	srv.Handle(rpc.MsgArchiverLatestHeight, func(body []byte) ([]byte, error) {
		latest, err := ar.LatestHeight()
		if err != nil {
			return nil, err
		}
		e := txmodel.NewEncoder(8)
		e.WriteU64(latest)
		return e.Bytes(), nil
	})

	ln, err := net.Listen("tcp", endpoint)
	if err != nil {
		entry.Fatalf("listen on %s: %v", endpoint, err)
	}
	entry.Infof("archiver listening on %s", endpoint)

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

// openStore backs the archiver with a goleveldb directory when configured,
// falling back to an in-memory store for simple single-process topologies.
func openStore(cfg *config.Config) (kv.Store, error) {
	dir := cfg.ArchiverDataDir()
	if dir == "" {
		return memdb.New(), nil
	}
	db, err := dbm.NewGoLevelDB("archiver", dir)
	if err != nil {
		return nil, fmt.Errorf("open goleveldb at %s: %w", dir, err)
	}
	return cometbftdb.New(db), nil
}
