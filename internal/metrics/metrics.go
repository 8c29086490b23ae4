package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TicketsIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketing_tickets_issued_total",
		Help: "Tickets created, by ticket type",
	}, []string{"ticket_type"})

	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketing_transitions_total",
		Help: "Committed ticket status transitions",
	}, []string{"from", "to"})

	CASConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketing_cas_conflicts_total",
		Help: "Compare-and-swap writes that lost to a concurrent writer",
	}, []string{"op"})

	Validations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketing_validations_total",
		Help: "ValidateTicket outcomes",
	}, []string{"outcome"})

	PaymentOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketing_payment_outcomes_total",
		Help: "ConfirmPayment results, by reported outcome and result",
	}, []string{"outcome", "result"})

	SweepExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ticketing_sweep_expired_total",
		Help: "Tickets moved to EXPIRED by the sweep",
	})

	OperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ticketing_operation_duration_seconds",
		Help:    "Engine operation latency",
		Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"op"})

	EventsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ticketing_events_published_total",
		Help: "Lifecycle events delivered to the event sink",
	})

	EventsPublishErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ticketing_events_publish_errors_total",
		Help: "Lifecycle events the event sink rejected",
	})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ticketing_events_dropped_total",
		Help: "Lifecycle events dropped because the dispatch buffer was full or closed",
	})

	PaymentMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ticketing_payment_messages_total",
		Help: "Payment outcome messages consumed, by handling result",
	}, []string{"result"})
)
