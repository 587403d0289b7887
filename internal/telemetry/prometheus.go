// Package telemetry registers the process-wide Prometheus collectors
// tracking rooms, sessions and media objects. Grounded on the teacher's
// internal/telemetry/prometheus.go, generalized from a single session
// gauge to the full set of SharedState-owned counts.
package telemetry

import "github.com/prometheus/client_golang/prometheus"

const namespace string = "vulcan_relay"

var (
	RoomsTotal        prometheus.Gauge
	SessionsTotal     *prometheus.GaugeVec
	ProducersTotal    *prometheus.GaugeVec
	ConsumersTotal    *prometheus.GaugeVec
	ControlOperations *prometheus.CounterVec
	SignalOperations  *prometheus.CounterVec
)

func init() {
	RoomsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "room",
		Name:      "total",
	})

	SessionsTotal = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "total",
	}, []string{"role", "state"})

	ProducersTotal = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "producer",
		Name:      "total",
	}, []string{"kind"})

	ConsumersTotal = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "consumer",
		Name:      "total",
	}, []string{"kind"})

	ControlOperations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "control",
		Name:      "operation_total",
	}, []string{"operation", "status"})

	SignalOperations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "signal",
		Name:      "operation_total",
	}, []string{"operation", "status"})

	prometheus.MustRegister(
		RoomsTotal,
		SessionsTotal,
		ProducersTotal,
		ConsumersTotal,
		ControlOperations,
		SignalOperations,
	)
}
