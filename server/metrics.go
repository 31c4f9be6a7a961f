// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package server

import "github.com/prometheus/client_golang/prometheus"

const (
	MetricSessionsOpened        = "sessions_opened_total"
	MetricSessionsRejected      = "sessions_rejected_total"
	MetricActiveSessions        = "active_sessions"
	MetricTransactionsBegun     = "transactions_begun_total"
	MetricTransactionsCommitted = "transactions_committed_total"
	MetricTransactionsAborted   = "transactions_aborted_total"
	MetricTransactionsRolled    = "transactions_rolled_back_total"
	MetricPendingLogs           = "pending_logs"
	MetricCommitDuration        = "commit_duration_seconds"
)

var CounterSessionsOpened = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "objectdb",
		Name:      MetricSessionsOpened,
		Help:      "Number of client sessions accepted, by session type.",
	},
	[]string{
		"type",
	},
)

var CounterSessionsRejected = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "objectdb",
		Name:      MetricSessionsRejected,
		Help:      "Number of connections closed because the session limit was reached.",
	},
)

var GaugeActiveSessions = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "objectdb",
		Name:      MetricActiveSessions,
		Help:      "Number of open client sessions.",
	},
)

var CounterTransactionsBegun = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "objectdb",
		Name:      MetricTransactionsBegun,
		Help:      "Number of transactions begun.",
	},
)

var CounterTransactionsCommitted = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "objectdb",
		Name:      MetricTransactionsCommitted,
		Help:      "Number of transactions committed.",
	},
)

var CounterTransactionsAborted = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "objectdb",
		Name:      MetricTransactionsAborted,
		Help:      "Number of commit requests that were refused, by reason.",
	},
	[]string{
		"reason",
	},
)

var CounterTransactionsRolledBack = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "objectdb",
		Name:      MetricTransactionsRolled,
		Help:      "Number of transactions rolled back by their client.",
	},
)

var GaugePendingLogs = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "objectdb",
		Name:      MetricPendingLogs,
		Help:      "Number of committed transaction logs not yet applied to the shared locators.",
	},
)

var HistogramCommitDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "objectdb",
		Name:      MetricCommitDuration,
		Help:      "Time spent deciding and persisting a commit.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
	},
)

// Abort reasons.
const (
	abortConflict    = "conflict"
	abortConstraint  = "constraint"
	abortSchema      = "schema"
	abortPersistence = "persistence"
)

func init() {
	prometheus.MustRegister(CounterSessionsOpened)
	prometheus.MustRegister(CounterSessionsRejected)
	prometheus.MustRegister(GaugeActiveSessions)
	prometheus.MustRegister(CounterTransactionsBegun)
	prometheus.MustRegister(CounterTransactionsCommitted)
	prometheus.MustRegister(CounterTransactionsAborted)
	prometheus.MustRegister(CounterTransactionsRolledBack)
	prometheus.MustRegister(GaugePendingLogs)
	prometheus.MustRegister(HistogramCommitDuration)
}
