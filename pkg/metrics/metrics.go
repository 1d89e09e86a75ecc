// Copyright 2025 Certen Protocol
//
// Package metrics exposes each daemon's operational counters through
// github.com/prometheus/client_golang, the pack's Prometheus client
// (carried in go.mod but never wired into the teacher's own code). No
// teacher file does component-level instrumentation directly, so this
// package's shape follows the teacher's per-component status/tracking
// helpers (pkg/batch/status.go, pkg/batch/confirmation_tracker.go): one
// struct per component bundling the metrics that component's operations
// touch, registered once at daemon startup against that process's own
// registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Serve starts a /metrics HTTP endpoint for reg on addr. Daemons call
// this once at startup in a background goroutine; it is not part of any
// component's synchronous request path.
func Serve(addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return http.ListenAndServe(addr, mux)
}

// Sentinel bundles the counters and histograms a sentinel's Execute
// pipeline touches: outcome counts per §4.2 status, peer-attestation
// gathering latency, and the number of peers contacted per execution.
type Sentinel struct {
	Executions      *prometheus.CounterVec
	AttestationWait prometheus.Histogram
	PeersContacted  prometheus.Histogram
}

// NewSentinel registers a Sentinel metric bundle labeled with nodeID
// against reg.
func NewSentinel(reg prometheus.Registerer, nodeID string) *Sentinel {
	f := promauto.With(reg)
	labels := prometheus.Labels{"node_id": nodeID}
	return &Sentinel{
		Executions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "certen",
			Subsystem:   "sentinel",
			Name:        "executions_total",
			Help:        "Number of Execute calls by resulting status.",
			ConstLabels: labels,
		}, []string{"status"}),
		AttestationWait: f.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "certen",
			Subsystem:   "sentinel",
			Name:        "attestation_wait_seconds",
			Help:        "Time spent gathering peer attestations to reach quorum.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
		PeersContacted: f.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "certen",
			Subsystem:   "sentinel",
			Name:        "peers_contacted",
			Help:        "Number of peers contacted to reach the attestation threshold.",
			ConstLabels: labels,
			Buckets:     []float64{1, 2, 3, 5, 8, 13, 21},
		}),
	}
}

// Shard bundles the counters a shard's block-application and CTX
// handling path touches.
type Shard struct {
	BlocksApplied prometheus.Counter
	CTXsRejected  *prometheus.CounterVec
	UTXOSetSize   prometheus.Gauge
	BestHeight    prometheus.Gauge
}

// NewShard registers a Shard metric bundle labeled with nodeID against
// reg.
func NewShard(reg prometheus.Registerer, nodeID string) *Shard {
	f := promauto.With(reg)
	labels := prometheus.Labels{"node_id": nodeID}
	return &Shard{
		BlocksApplied: f.NewCounter(prometheus.CounterOpts{
			Namespace:   "certen",
			Subsystem:   "shard",
			Name:        "blocks_applied_total",
			Help:        "Number of blocks applied to the UTXO set.",
			ConstLabels: labels,
		}),
		CTXsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "certen",
			Subsystem:   "shard",
			Name:        "ctx_rejected_total",
			Help:        "Number of CTXs rejected by reason.",
			ConstLabels: labels,
		}, []string{"reason"}),
		UTXOSetSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace:   "certen",
			Subsystem:   "shard",
			Name:        "utxo_set_size",
			Help:        "Current number of unspent outputs held by this shard.",
			ConstLabels: labels,
		}),
		BestHeight: f.NewGauge(prometheus.GaugeOpts{
			Namespace:   "certen",
			Subsystem:   "shard",
			Name:        "best_block_height",
			Help:        "Highest block height applied by this shard.",
			ConstLabels: labels,
		}),
	}
}

// Atomizer bundles counters for the consensus-replicated block-cutting
// path: entries applied from the replicated log, blocks cut, and
// tx_errors reported to the watchtower.
type Atomizer struct {
	EntriesApplied prometheus.Counter
	BlocksCut      prometheus.Counter
	PendingTxs     prometheus.Gauge
	ErrorsReported prometheus.Counter
}

// NewAtomizer registers an Atomizer metric bundle labeled with nodeID
// against reg.
func NewAtomizer(reg prometheus.Registerer, nodeID string) *Atomizer {
	f := promauto.With(reg)
	labels := prometheus.Labels{"node_id": nodeID}
	return &Atomizer{
		EntriesApplied: f.NewCounter(prometheus.CounterOpts{
			Namespace:   "certen",
			Subsystem:   "atomizer",
			Name:        "entries_applied_total",
			Help:        "Number of replicated log entries applied.",
			ConstLabels: labels,
		}),
		BlocksCut: f.NewCounter(prometheus.CounterOpts{
			Namespace:   "certen",
			Subsystem:   "atomizer",
			Name:        "blocks_cut_total",
			Help:        "Number of blocks cut from fully-confirmed transactions.",
			ConstLabels: labels,
		}),
		PendingTxs: f.NewGauge(prometheus.GaugeOpts{
			Namespace:   "certen",
			Subsystem:   "atomizer",
			Name:        "pending_txs",
			Help:        "Number of transactions awaiting full confirmation in the STXO window.",
			ConstLabels: labels,
		}),
		ErrorsReported: f.NewCounter(prometheus.CounterOpts{
			Namespace:   "certen",
			Subsystem:   "atomizer",
			Name:        "errors_reported_total",
			Help:        "Number of tx_errors reported to the error sink.",
			ConstLabels: labels,
		}),
	}
}

// Watchtower bundles counters for the §4.6 status-cache path.
type Watchtower struct {
	BlocksObserved prometheus.Counter
	ErrorsObserved prometheus.Counter
	StatusQueries  prometheus.Counter
}

// NewWatchtower registers a Watchtower metric bundle labeled with nodeID
// against reg.
func NewWatchtower(reg prometheus.Registerer, nodeID string) *Watchtower {
	f := promauto.With(reg)
	labels := prometheus.Labels{"node_id": nodeID}
	return &Watchtower{
		BlocksObserved: f.NewCounter(prometheus.CounterOpts{
			Namespace:   "certen",
			Subsystem:   "watchtower",
			Name:        "blocks_observed_total",
			Help:        "Number of blocks applied to the status cache.",
			ConstLabels: labels,
		}),
		ErrorsObserved: f.NewCounter(prometheus.CounterOpts{
			Namespace:   "certen",
			Subsystem:   "watchtower",
			Name:        "errors_observed_total",
			Help:        "Number of tx_errors reported to the status cache.",
			ConstLabels: labels,
		}),
		StatusQueries: f.NewCounter(prometheus.CounterOpts{
			Namespace:   "certen",
			Subsystem:   "watchtower",
			Name:        "status_queries_total",
			Help:        "Number of status_update queries answered.",
			ConstLabels: labels,
		}),
	}
}

// Archiver bundles counters for the append-only block store.
type Archiver struct {
	BlocksPut      prometheus.Counter
	RangeQueries   prometheus.Counter
	LatestHeight   prometheus.Gauge
}

// NewArchiver registers an Archiver metric bundle labeled with nodeID
// against reg.
func NewArchiver(reg prometheus.Registerer, nodeID string) *Archiver {
	f := promauto.With(reg)
	labels := prometheus.Labels{"node_id": nodeID}
	return &Archiver{
		BlocksPut: f.NewCounter(prometheus.CounterOpts{
			Namespace:   "certen",
			Subsystem:   "archiver",
			Name:        "blocks_put_total",
			Help:        "Number of Put calls.",
			ConstLabels: labels,
		}),
		RangeQueries: f.NewCounter(prometheus.CounterOpts{
			Namespace:   "certen",
			Subsystem:   "archiver",
			Name:        "range_queries_total",
			Help:        "Number of GetRange calls served.",
			ConstLabels: labels,
		}),
		LatestHeight: f.NewGauge(prometheus.GaugeOpts{
			Namespace:   "certen",
			Subsystem:   "archiver",
			Name:        "latest_height",
			Help:        "Highest block height ever put.",
			ConstLabels: labels,
		}),
	}
}

// LockingShard bundles counters for a §4.7 participant's ticket
// lifecycle: try_lock outcomes, wounds issued, and ticket completions.
type LockingShard struct {
	TryLocks  *prometheus.CounterVec
	Wounds    prometheus.Counter
	Completed *prometheus.CounterVec
}

// NewLockingShard registers a LockingShard metric bundle labeled with
// nodeID against reg.
func NewLockingShard(reg prometheus.Registerer, nodeID string) *LockingShard {
	f := promauto.With(reg)
	labels := prometheus.Labels{"node_id": nodeID}
	return &LockingShard{
		TryLocks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "certen",
			Subsystem:   "locking_shard",
			Name:        "try_locks_total",
			Help:        "Number of try_lock calls by outcome (granted, retry, wounded, error).",
			ConstLabels: labels,
		}, []string{"outcome"}),
		Wounds: f.NewCounter(prometheus.CounterOpts{
			Namespace:   "certen",
			Subsystem:   "locking_shard",
			Name:        "wounds_total",
			Help:        "Number of younger tickets wounded by an older ticket's try_lock.",
			ConstLabels: labels,
		}),
		Completed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "certen",
			Subsystem:   "locking_shard",
			Name:        "tickets_completed_total",
			Help:        "Number of tickets reaching commit or rollback.",
			ConstLabels: labels,
		}, []string{"outcome"}),
	}
}

// Coordinator bundles counters for the 2PC ticket lifecycle: tickets
// opened, commit/rollback outcomes, and crash-recovery runs.
type Coordinator struct {
	TicketsOpened prometheus.Counter
	Outcomes      *prometheus.CounterVec
	RecoveryRuns  prometheus.Counter
}

// NewCoordinator registers a Coordinator metric bundle labeled with
// nodeID against reg.
func NewCoordinator(reg prometheus.Registerer, nodeID string) *Coordinator {
	f := promauto.With(reg)
	labels := prometheus.Labels{"node_id": nodeID}
	return &Coordinator{
		TicketsOpened: f.NewCounter(prometheus.CounterOpts{
			Namespace:   "certen",
			Subsystem:   "coordinator",
			Name:        "tickets_opened_total",
			Help:        "Number of 2PC tickets opened.",
			ConstLabels: labels,
		}),
		Outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "certen",
			Subsystem:   "coordinator",
			Name:        "ticket_outcomes_total",
			Help:        "Number of tickets resolved by outcome (commit, rollback).",
			ConstLabels: labels,
		}, []string{"outcome"}),
		RecoveryRuns: f.NewCounter(prometheus.CounterOpts{
			Namespace:   "certen",
			Subsystem:   "coordinator",
			Name:        "recovery_runs_total",
			Help:        "Number of times a new leader ran ticket recovery.",
			ConstLabels: labels,
		}),
	}
}

// Wallet bundles counters for client-side transaction lifecycle events.
type Wallet struct {
	Sent      prometheus.Counter
	Confirmed prometheus.Counter
	Abandoned prometheus.Counter
	Balance   prometheus.Gauge
}

// NewWallet registers a Wallet metric bundle labeled with walletID
// against reg.
func NewWallet(reg prometheus.Registerer, walletID string) *Wallet {
	f := promauto.With(reg)
	labels := prometheus.Labels{"wallet_id": walletID}
	return &Wallet{
		Sent: f.NewCounter(prometheus.CounterOpts{
			Namespace:   "certen",
			Subsystem:   "wallet",
			Name:        "transactions_sent_total",
			Help:        "Number of transactions submitted by this wallet.",
			ConstLabels: labels,
		}),
		Confirmed: f.NewCounter(prometheus.CounterOpts{
			Namespace:   "certen",
			Subsystem:   "wallet",
			Name:        "transactions_confirmed_total",
			Help:        "Number of this wallet's transactions confirmed.",
			ConstLabels: labels,
		}),
		Abandoned: f.NewCounter(prometheus.CounterOpts{
			Namespace:   "certen",
			Subsystem:   "wallet",
			Name:        "transactions_abandoned_total",
			Help:        "Number of this wallet's transactions abandoned.",
			ConstLabels: labels,
		}),
		Balance: f.NewGauge(prometheus.GaugeOpts{
			Namespace:   "certen",
			Subsystem:   "wallet",
			Name:        "spendable_balance",
			Help:        "Current spendable balance across all coins.",
			ConstLabels: labels,
		}),
	}
}
