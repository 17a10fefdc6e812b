// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package auth

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Login outcome labels.
const (
	OutcomeAuthenticated    = "authenticated"
	OutcomeTwoFactorPending = "two_factor_pending"
	OutcomeLockedOut        = "locked_out"
	OutcomeRejected         = "rejected"
	OutcomeUnconfirmed      = "unconfirmed"
)

// Token kind labels.
const (
	TokenKindSession  = "session"
	TokenKindPending  = "two_factor_pending"
	TokenKindRecovery = "recovery"
)

var loginAttempts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gatekeep_login_attempts_total",
		Help: "Total number of login attempts by outcome",
	},
	[]string{"outcome"},
)

var lockouts = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "gatekeep_lockouts_total",
		Help: "Total number of accounts locked after repeated failures",
	},
)

var tokensIssued = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gatekeep_tokens_issued_total",
		Help: "Total number of tokens issued by kind",
	},
	[]string{"kind"},
)

var storeConflicts = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gatekeep_store_conflicts_total",
		Help: "Total number of lost compare-and-swap writes by operation",
	},
	[]string{"operation"},
)

var mailDispatches = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gatekeep_mail_dispatch_total",
		Help: "Total number of outbound mail dispatches by status",
	},
	[]string{"status"},
)

// RegisterMetrics registers auth metrics with the given Prometheus registry.
// Panics if registration fails (following prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(loginAttempts)
	reg.MustRegister(lockouts)
	reg.MustRegister(tokensIssued)
	reg.MustRegister(storeConflicts)
	reg.MustRegister(mailDispatches)
}
