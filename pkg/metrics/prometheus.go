package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	messagesReceived *prometheus.CounterVec
	signalsTotal     *prometheus.CounterVec
	broadcasts       *prometheus.CounterVec
	errorsTotal      *prometheus.CounterVec
	connections      *prometheus.GaugeVec
	lastPrice        *prometheus.GaugeVec
	latency          *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		messagesReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enigmahub_messages_received_total",
				Help: "Total number of messages received from clients",
			},
			[]string{"type"},
		),
		signalsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enigmahub_signals_total",
				Help: "Total number of classified signals",
			},
			[]string{"direction", "color"},
		),
		broadcasts: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enigmahub_broadcasts_total",
				Help: "Total number of broadcast fanout deliveries",
			},
			[]string{"type"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "enigmahub_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		connections: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "enigmahub_connections",
				Help: "Current number of registered connections",
			},
			[]string{"role"},
		),
		lastPrice: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "enigmahub_last_price",
				Help: "Last polled price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "enigmahub_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordMessageReceived records an inbound client message by envelope type.
func (r *Recorder) RecordMessageReceived(msgType string) {
	r.messagesReceived.WithLabelValues(msgType).Inc()
}

// RecordSignal records a classified signal.
func (r *Recorder) RecordSignal(direction, color string) {
	r.signalsTotal.WithLabelValues(direction, color).Inc()
}

// RecordBroadcast records one fanout delivery of a broadcast message.
func (r *Recorder) RecordBroadcast(msgType string) {
	r.broadcasts.WithLabelValues(msgType).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordConnections records the current connection count for a role.
func (r *Recorder) RecordConnections(role string, n int) {
	r.connections.WithLabelValues(role).Set(float64(n))
}

// RecordLastPrice records the last polled price for a symbol.
func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
