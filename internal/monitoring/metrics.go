package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Credit engine metrics. Registered on the default registry and served by the
// /metrics endpoint.
var (
	TransactionsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradehub_credit_transactions_total",
			Help: "Completed ledger transactions by kind",
		},
		[]string{"kind"},
	)

	InsufficientBalanceRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tradehub_credit_insufficient_balance_total",
			Help: "Debits rejected for insufficient balance",
		},
	)

	LimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradehub_credit_limit_rejections_total",
			Help: "Debits rejected by daily or monthly caps",
		},
		[]string{"limit_kind"},
	)

	TopupAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradehub_credit_topup_attempts_total",
			Help: "Auto-topup attempts by outcome",
		},
		[]string{"result"},
	)

	TopupSuspensions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tradehub_credit_topup_suspensions_total",
			Help: "Auto-topup policies suspended after repeated failures",
		},
	)

	ChargeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tradehub_credit_charge_duration_seconds",
			Help:    "Payment gateway charge latency",
			Buckets: prometheus.DefBuckets,
		},
	)
)
