// Copyright 2025 Certen Protocol
package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetGauge().GetValue()
}

func TestNewSentinelRegistersAndIncrements(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewSentinel(reg, "sentinel-0")

	s.Executions.WithLabelValues("confirmed").Inc()
	s.Executions.WithLabelValues("confirmed").Inc()
	s.PeersContacted.Observe(3)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatalf("expected at least one registered metric family")
	}
	if got := counterValue(t, s.Executions.WithLabelValues("confirmed")); got != 2 {
		t.Fatalf("executions_total{confirmed} = %v, want 2", got)
	}
}

func TestNewShardTracksGaugesAndCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	sh := NewShard(reg, "shard-0")

	sh.BlocksApplied.Inc()
	sh.UTXOSetSize.Set(42)
	sh.BestHeight.Set(7)
	sh.CTXsRejected.WithLabelValues("asymmetric_values").Inc()

	if got := counterValue(t, sh.BlocksApplied); got != 1 {
		t.Fatalf("blocks_applied_total = %v, want 1", got)
	}
	if got := gaugeValue(t, sh.UTXOSetSize); got != 42 {
		t.Fatalf("utxo_set_size = %v, want 42", got)
	}
	if got := gaugeValue(t, sh.BestHeight); got != 7 {
		t.Fatalf("best_block_height = %v, want 7", got)
	}
}

func TestNewCoordinatorTracksTicketOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCoordinator(reg, "coordinator-0")

	c.TicketsOpened.Inc()
	c.Outcomes.WithLabelValues("commit").Inc()
	c.RecoveryRuns.Inc()

	if got := counterValue(t, c.TicketsOpened); got != 1 {
		t.Fatalf("tickets_opened_total = %v, want 1", got)
	}
	if got := counterValue(t, c.Outcomes.WithLabelValues("commit")); got != 1 {
		t.Fatalf("ticket_outcomes_total{commit} = %v, want 1", got)
	}
}

func TestNewWalletTracksBalanceGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	w := NewWallet(reg, "wallet-0")

	w.Sent.Inc()
	w.Confirmed.Inc()
	w.Balance.Set(1000)

	if got := gaugeValue(t, w.Balance); got != 1000 {
		t.Fatalf("spendable_balance = %v, want 1000", got)
	}
}

func TestDistinctComponentsCanShareARegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewSentinel(reg, "sentinel-0")
	NewShard(reg, "shard-0")
	NewCoordinator(reg, "coordinator-0")
	NewWallet(reg, "wallet-0")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) < 4 {
		t.Fatalf("expected metrics from all four components, got %d families", len(families))
	}
}
