// Package metrics registers the Prometheus instruments for the
// economy engines.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the coordination engines.
type Metrics struct {
	// Ledger metrics
	TransactionTotal   *prometheus.CounterVec
	EscrowHeldTotal    prometheus.Gauge
	StakeTotal         prometheus.Gauge
	SlashTotal         prometheus.Counter
	ChainVerifications *prometheus.CounterVec

	// Verification metrics
	ReviewTotal     *prometheus.CounterVec
	AlignmentTotal  *prometheus.CounterVec
	ReviewDuration  prometheus.Histogram

	// Reputation metrics
	AgentReputation *prometheus.GaugeVec
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		TransactionTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "economy_transactions_total",
				Help: "Total ledger transactions appended, by kind",
			},
			[]string{"kind"},
		),
		EscrowHeldTotal: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "economy_escrow_held_agn",
				Help: "Total AGN currently locked in live escrows",
			},
		),
		StakeTotal: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "economy_stake_total_agn",
				Help: "Total AGN currently staked by validators",
			},
		),
		SlashTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "economy_slashes_total",
				Help: "Total validator slashes applied",
			},
		),
		ChainVerifications: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "economy_chain_verifications_total",
				Help: "Hash chain verification runs, by result",
			},
			[]string{"result"}, // result: ok, corrupted
		),
		ReviewTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "economy_reviews_total",
				Help: "Verification verdicts recorded, by outcome",
			},
			[]string{"outcome"}, // outcome: passed, failed
		),
		AlignmentTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "economy_alignment_resolutions_total",
				Help: "Alignment resolutions, by outcome",
			},
			[]string{"outcome"}, // outcome: aligned, misaligned, unrated
		),
		ReviewDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "economy_review_duration_seconds",
				Help:    "Duration of validator capability invocations",
				Buckets: prometheus.DefBuckets,
			},
		),
		AgentReputation: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "economy_agent_reputation",
				Help: "Current reputation score per agent (0-100)",
			},
			[]string{"agent"},
		),
	}
}

// RecordTransaction counts an appended ledger entry.
func (m *Metrics) RecordTransaction(kind string) {
	if m == nil {
		return
	}
	m.TransactionTotal.WithLabelValues(kind).Inc()
}

// SetEscrowHeld updates the total AGN locked in escrow.
func (m *Metrics) SetEscrowHeld(agn float64) {
	if m == nil {
		return
	}
	m.EscrowHeldTotal.Set(agn)
}

// SetStakeTotal updates the total AGN staked.
func (m *Metrics) SetStakeTotal(agn float64) {
	if m == nil {
		return
	}
	m.StakeTotal.Set(agn)
}

// RecordSlash counts a slash.
func (m *Metrics) RecordSlash() {
	if m == nil {
		return
	}
	m.SlashTotal.Inc()
}

// RecordChainVerification counts a verifyChain run.
func (m *Metrics) RecordChainVerification(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "corrupted"
	}
	m.ChainVerifications.WithLabelValues(result).Inc()
}

// RecordReview counts a verdict and its duration.
func (m *Metrics) RecordReview(passed bool, seconds float64) {
	if m == nil {
		return
	}
	outcome := "failed"
	if passed {
		outcome = "passed"
	}
	m.ReviewTotal.WithLabelValues(outcome).Inc()
	m.ReviewDuration.Observe(seconds)
}

// RecordAlignment counts an alignment resolution outcome.
func (m *Metrics) RecordAlignment(outcome string) {
	if m == nil {
		return
	}
	m.AlignmentTotal.WithLabelValues(outcome).Inc()
}

// SetReputation updates an agent's reputation gauge.
func (m *Metrics) SetReputation(agent string, score float64) {
	if m == nil {
		return
	}
	m.AgentReputation.WithLabelValues(agent).Set(score)
}
