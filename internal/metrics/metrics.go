package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	recurringOutcome = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "academy",
			Name:      "recurring_outcome_total",
			Help:      "Recurring processor outcomes per schedule per run.",
		},
		[]string{"outcome"}, // booked | duplicate | paused_credits | paused_slot | error
	)

	admissionRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "academy",
			Name:      "admission_rejected_total",
			Help:      "Capacity admissions rejected, by program type.",
		},
		[]string{"program"},
	)

	pairingFormed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "academy",
			Name:      "pairing_formed_total",
			Help:      "Semi-private pairings created.",
		},
	)

	pairingDissolved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "academy",
			Name:      "pairing_dissolved_total",
			Help:      "Semi-private pairings dissolved.",
		},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(recurringOutcome, admissionRejected, pairingFormed, pairingDissolved)
	})
}

func IncRecurringOutcome(outcome string) {
	recurringOutcome.WithLabelValues(outcome).Inc()
}

func IncAdmissionRejected(program string) {
	admissionRejected.WithLabelValues(program).Inc()
}

func IncPairingFormed()    { pairingFormed.Inc() }
func IncPairingDissolved() { pairingDissolved.Inc() }
