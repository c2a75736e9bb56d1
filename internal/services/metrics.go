// Package services – engine metrics.
//
// Prometheus collectors for the flow engine's own outcomes, separate from the
// HTTP traffic metrics in the middleware layer. Label cardinality is bounded:
// outcomes and results are closed enums, and prize ids are deliberately NOT
// used as labels.
package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// flowEvents counts processed inbound events by flow outcome.
	flowEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_flow_events_total",
			Help: "Total number of inbound chat events processed, by outcome.",
		},
		[]string{"outcome"},
	)

	// lotteryDraws counts lottery resolutions by final result and the reason
	// that produced it (won, lost_roll, rate_limited, quota_exhausted).
	lotteryDraws = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_lottery_draws_total",
			Help: "Total number of lottery resolutions, by reason.",
		},
		[]string{"reason"},
	)

	// quotaGrants counts wins actually consumed from prize quotas.
	quotaGrants = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_quota_grants_total",
			Help: "Total number of wins granted against prize quotas.",
		},
	)

	// quotaExhausted counts grant attempts rejected by a full quota.
	quotaExhausted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_quota_exhausted_total",
			Help: "Total number of grant attempts rejected because a quota was exhausted.",
		},
	)

	// drawsRateLimited counts draw reservations rejected by the per-minute window.
	drawsRateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_draws_rate_limited_total",
			Help: "Total number of draw reservations rejected by the per-minute window.",
		},
	)
)

func init() {
	prometheus.MustRegister(flowEvents, lotteryDraws, quotaGrants, quotaExhausted, drawsRateLimited)
}
