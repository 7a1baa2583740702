package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the moderation engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	FlagsSubmitted   *prometheus.CounterVec
	FlagsRejected    *prometheus.CounterVec
	RateLimited      prometheus.Counter
	Decisions        *prometheus.CounterVec
	TrustAdjustments *prometheus.CounterVec
	InfraFailures    *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates the collectors and registers them on reg.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FlagsSubmitted: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scoop_flags_submitted_total",
				Help: "Flags admitted into the moderation queue",
			},
			[]string{"category", "priority"},
		),
		FlagsRejected: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scoop_flags_rejected_total",
				Help: "Flag submissions rejected by validation",
			},
			[]string{"reason"},
		),
		RateLimited: f.NewCounter(
			prometheus.CounterOpts{
				Name: "scoop_flags_rate_limited_total",
				Help: "Flag submissions denied by the daily quota",
			},
		),
		Decisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scoop_flag_decisions_total",
				Help: "Moderator decisions and automatic expiries",
			},
			[]string{"decision"},
		),
		TrustAdjustments: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scoop_trust_adjustments_total",
				Help: "Trust component adjustments applied by moderation outcomes",
			},
			[]string{"kind"}, // kind: false_flag, approved_flag, accurate_flag
		),
		InfraFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scoop_infrastructure_failures_total",
				Help: "Operations failed because a backing store was unavailable",
			},
			[]string{"op"},
		),
		gatherer: reg,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) FlagSubmitted(category, priority string) {
	if m == nil {
		return
	}
	m.FlagsSubmitted.WithLabelValues(category, priority).Inc()
}

func (m *Metrics) FlagRejected(reason string) {
	if m == nil {
		return
	}
	m.FlagsRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) FlagRateLimited() {
	if m == nil {
		return
	}
	m.RateLimited.Inc()
}

func (m *Metrics) Decision(decision string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(decision).Inc()
}

func (m *Metrics) TrustAdjusted(kind string) {
	if m == nil {
		return
	}
	m.TrustAdjustments.WithLabelValues(kind).Inc()
}

func (m *Metrics) InfraFailure(op string) {
	if m == nil {
		return
	}
	m.InfraFailures.WithLabelValues(op).Inc()
}
