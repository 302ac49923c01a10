package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Business metrics
	ActiveChargingSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "csms_active_charging_sessions",
		Help: "Number of charging sessions currently in flight",
	})

	EnergyDeliveredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "csms_energy_delivered_wh_total",
		Help: "Total energy delivered in Wh across settled sessions",
	})

	AmountReservedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "csms_amount_reserved_total",
		Help: "Total balance reserved at StartCharge, minor units",
	})

	AmountRefundedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "csms_amount_refunded_total",
		Help: "Total balance refunded on settle and compensation, minor units",
	})

	TopUpsApprovedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "csms_topups_approved_total",
		Help: "Approved top-up webhooks by provider",
	}, []string{"provider"})

	// Infrastructure metrics
	ConnectedStations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "csms_connected_stations",
		Help: "Stations with an open OCPP socket on this process",
	})

	OCPPMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "csms_ocpp_messages_total",
		Help: "OCPP frames by action and direction",
	}, []string{"action", "direction"})

	OCPPCallErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "csms_ocpp_call_errors_total",
		Help: "CallError frames sent, by error code",
	}, []string{"code"})

	OCPPCallDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "csms_ocpp_call_duration_seconds",
		Help:    "Round-trip latency of outbound OCPP calls",
		Buckets: prometheus.DefBuckets,
	})

	CommandsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "csms_commands_published_total",
		Help: "Commands published through the router, by name",
	}, []string{"command"})

	CommandsUndelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "csms_commands_undelivered_total",
		Help: "Commands that found no subscriber, by name",
	}, []string{"command"})

	ReconcilerSweeps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "csms_reconciler_sweeps_total",
		Help: "Reconciler sweep executions by sweep and outcome",
	}, []string{"sweep", "outcome"})

	ProviderRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "csms_provider_request_duration_seconds",
		Help:    "Latency of outbound payment-provider calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"provider", "op"})
)
