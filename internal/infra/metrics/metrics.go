package metrics

import (
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		referralCodesIssuedTotal,
		referralAttributionsTotal,
		referralPendingGauge,
		rewardClaimsTotal,
	)
}

var (
	referralCodesIssuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "referral_codes_issued_total",
			Help: "Total number of referral codes minted.",
		},
	)

	referralAttributionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "referral_attributions_total",
			Help: "Attribution decisions by outcome.",
		},
		[]string{"outcome"}, // 'credited', 'pending', 'duplicate', 'self', 'expired', 'unknown_code'
	)

	referralPendingGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "referral_pending_joins",
			Help: "Pending join records waiting for their counterpart event.",
		},
	)

	rewardClaimsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reward_claims_total",
			Help: "Reward claim attempts by result.",
		},
		[]string{"result"}, // 'granted', 'already_claimed', 'not_eligible', 'error'
	)
)

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func IncCodeIssued() {
	referralCodesIssuedTotal.Inc()
}

func IncAttribution(outcome string) {
	referralAttributionsTotal.WithLabelValues(norm(outcome)).Inc()
}

func SetPendingJoins(n int) {
	referralPendingGauge.Set(float64(n))
}

func IncRewardClaim(result string) {
	rewardClaimsTotal.WithLabelValues(norm(result)).Inc()
}

func boolLabel(b bool) string { return strconv.FormatBool(b) }
