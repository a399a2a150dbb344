package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Login outcomes used as the "outcome" label.
const (
	outcomeSuccess            = "success"
	outcomeInvalidCredentials = "invalid_credentials"
	outcomeLocked             = "locked"
	outcomeDisabled           = "disabled"
	outcomeUnauthorized       = "unauthorized"
	outcomeReused             = "reused"
)

var (
	loginAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "identity",
			Name:      "login_attempts_total",
			Help:      "Login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	accountLockouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "identity",
			Name:      "account_lockouts_total",
			Help:      "Accounts locked, by reason.",
		},
		[]string{"reason"},
	)

	tokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "identity",
			Name:      "token_refreshes_total",
			Help:      "Refresh token exchanges by outcome.",
		},
		[]string{"outcome"},
	)

	registrations = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "identity",
			Name:      "registrations_total",
			Help:      "Accounts created through self-registration.",
		},
	)
)
