// Copyright 2025 Certen Protocol
//
// Command watchtower-node runs the §4.6 status cache: the atomizer
// and shards push it tx_error reports and the atomizer
// pushes it committed blocks (so it can answer client status_update
// queries without replaying the settlement log), and an atomizer-mode
// sentinel queries its best observed height before stamping a block
// height on a confirmed CTX.
//
// MsgWatchtowerStatusUpdate answers for a single transaction at a time,
// matching rpcclient.WatchtowerClient's wire shape (the one existing
// consumer, wallet.Sync's SyncSource): it reduces watchtower.StatusUpdate's
// richer per-(tx,uhs) Result set down to a single wallet.SyncOutcome,
// rather than exposing the full per-uhs classification over the wire.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cbdc-core/settlement/pkg/config"
	"github.com/cbdc-core/settlement/pkg/logging"
	"github.com/cbdc-core/settlement/pkg/metrics"
	"github.com/cbdc-core/settlement/pkg/rpc"
	"github.com/cbdc-core/settlement/pkg/txmodel"
	"github.com/cbdc-core/settlement/pkg/wallet"
	"github.com/cbdc-core/settlement/pkg/watchtower"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: watchtower-node <config file>")
		os.Exit(1)
	}
	cfg, err := config.Load(os.Args[1])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	nodeID := "watchtower"
	log := logging.New("watchtower", nodeID, cfg.LogLevel())
	entry := logging.WithFields(log, "watchtower-node", nodeID)

	endpoint, err := cfg.WatchtowerEndpoint()
	if err != nil {
		entry.Fatalf("watchtower endpoint: %v", err)
	}

	wt := watchtower.New(cfg.WatchtowerBlockCap(), cfg.WatchtowerErrorCap())

	reg := prometheus.NewRegistry()
	m := metrics.NewWatchtower(reg, nodeID)
	if addr := cfg.MetricsAddr(); addr != "" {
		go func() {
			if err := metrics.Serve(addr, reg); err != nil {
				entry.Errorf("metrics server: %v", err)
			}
		}()
	}

	srv := rpc.NewServer()

	srv.Handle(rpc.MsgWatchtowerStatusUpdate, func(body []byte) ([]byte, error) {
		d := txmodel.NewDecoder(body)
		txID, err := d.ReadHash()
		if err != nil {
			return nil, fmt.Errorf("decode tx_id: %w", err)
		}
		inputUHS, err := readHashes(d)
		if err != nil {
			return nil, fmt.Errorf("decode input uhs ids: %w", err)
		}
		outputUHS, err := readHashes(d)
		if err != nil {
			return nil, fmt.Errorf("decode output uhs ids: %w", err)
		}

		all := make([]txmodel.Hash, 0, len(inputUHS)+len(outputUHS))
		all = append(all, inputUHS...)
		all = append(all, outputUHS...)
		results := wt.StatusUpdate(map[txmodel.Hash][]txmodel.Hash{txID: all})
		outcome := classify(results[txID], inputUHS, outputUHS)
		m.StatusQueries.Inc()

		e := txmodel.NewEncoder(16)
		e.WriteBytes([]byte(outcome))
		return e.Bytes(), nil
	})

	srv.Handle(rpc.MsgWatchtowerBestHeight, func(body []byte) ([]byte, error) {
		e := txmodel.NewEncoder(8)
		e.WriteU64(wt.BestBlockHeight())
		return e.Bytes(), nil
	})

	srv.Handle(rpc.MsgWatchtowerBlock, func(body []byte) ([]byte, error) {
		block, err := txmodel.DecodeBlock(txmodel.NewDecoder(body))
		if err != nil {
			return nil, fmt.Errorf("decode block: %w", err)
		}
		wt.OnBlock(block)
		m.BlocksObserved.Inc()
		return nil, nil
	})

	srv.Handle(rpc.MsgWatchtowerReport, func(body []byte) ([]byte, error) {
		d := txmodel.NewDecoder(body)
		txID, err := d.ReadHash()
		if err != nil {
			return nil, fmt.Errorf("decode tx_id: %w", err)
		}
		txErr, err := txmodel.DecodeTxError(d)
		if err != nil {
			return nil, fmt.Errorf("decode tx_error: %w", err)
		}
		wt.Report(txID, txErr)
		m.ErrorsObserved.Inc()
		return nil, nil
	})

	ln, err := net.Listen("tcp", endpoint)
	if err != nil {
		entry.Fatalf("listen on %s: %v", endpoint, err)
	}
	entry.Infof("watchtower listening on %s", endpoint)

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

func readHashes(d *txmodel.Decoder) ([]txmodel.Hash, error) {
	n, err := d.ReadU64()
	if err != nil {
		return nil, err
	}
	out := make([]txmodel.Hash, n)
	for i := range out {
		h, err := d.ReadHash()
		if err != nil {
			return nil, err
		}
		out[i] = h
	}
	return out, nil
}

// classify reduces per-uhs Results down to the single SyncOutcome a
// wallet needs: any rejection (tx_rejected, invalid_input, or
// internal_error) on any watched uhs rejects the whole transaction;
// every input spent and every output unspent confirms it; anything else
// is still pending.
func classify(perUHS map[txmodel.Hash]watchtower.Result, inputUHS, outputUHS []txmodel.Hash) wallet.SyncOutcome {
	for _, r := range perUHS {
		switch r.Status {
		case watchtower.StatusTxRejected, watchtower.StatusInvalidInput, watchtower.StatusInternalError:
			return wallet.OutcomeRejected
		}
	}

	for _, id := range inputUHS {
		if perUHS[id].Status != watchtower.StatusSpent {
			return wallet.OutcomePending
		}
	}
	for _, id := range outputUHS {
		if perUHS[id].Status != watchtower.StatusUnspent {
			return wallet.OutcomePending
		}
	}
	return wallet.OutcomeConfirmed
}
