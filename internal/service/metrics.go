package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	diagnosesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "creditgate_diagnoses_total",
		Help: "Diagnoses served, labeled by delivered tier and outcome",
	}, []string{"tier", "outcome"})

	ledgerCommitWarnings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "creditgate_ledger_commit_warnings_total",
		Help: "Diagnoses delivered whose spend could not be persisted",
	})

	purchasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "creditgate_purchases_total",
		Help: "Payment confirmations by reconciliation result",
	}, []string{"result"})
)
