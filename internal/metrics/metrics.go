// Package metrics holds the Prometheus collectors of a lockstep run. Every
// method is safe to call on a nil *Registry, which records nothing.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry groups the collectors of one process.
type Registry struct {
	// Synchronization protocol
	TicksTotal              prometheus.Counter
	ResetsTotal             prometheus.Counter
	StepDuration            prometheus.Histogram
	ResetDuration           prometheus.Histogram
	ProtocolViolationsTotal prometheus.Counter

	// Broker
	BrokerAddresses *prometheus.GaugeVec

	// Transport
	TransportMessagesTotal *prometheus.CounterVec

	// Parameter store
	ParamPollsTotal prometheus.Counter

	registry *prometheus.Registry
}

var (
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the process-wide registry.
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a registry with every collector initialized.
func NewRegistry() *Registry {
	r := &Registry{registry: prometheus.NewRegistry()}
	r.initProtocolMetrics()
	r.initBrokerMetrics()
	return r
}

func (r *Registry) initProtocolMetrics() {
	r.TicksTotal = promauto.With(r.registry).NewCounter(prometheus.CounterOpts{
		Name: "lockstep_ticks_total",
		Help: "Total number of ticks driven by the supervisor",
	})
	r.ResetsTotal = promauto.With(r.registry).NewCounter(prometheus.CounterOpts{
		Name: "lockstep_resets_total",
		Help: "Total number of completed resets",
	})
	r.StepDuration = promauto.With(r.registry).NewHistogram(prometheus.HistogramOpts{
		Name:    "lockstep_step_duration_seconds",
		Help:    "Time from publishing a tick until the observations of that tick arrived",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	})
	r.ResetDuration = promauto.With(r.registry).NewHistogram(prometheus.HistogramOpts{
		Name:    "lockstep_reset_duration_seconds",
		Help:    "Time from start_reset until the first observation arrived",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	})
	r.ProtocolViolationsTotal = promauto.With(r.registry).NewCounter(prometheus.CounterOpts{
		Name: "lockstep_protocol_violations_total",
		Help: "Total number of units that broke the one-output-per-tick contract",
	})
}

func (r *Registry) initBrokerMetrics() {
	r.BrokerAddresses = promauto.With(r.registry).NewGaugeVec(prometheus.GaugeOpts{
		Name: "broker_addresses",
		Help: "Registered input addresses per broker and wiring status",
	}, []string{"broker", "status"})
	r.TransportMessagesTotal = promauto.With(r.registry).NewCounterVec(prometheus.CounterOpts{
		Name: "transport_messages_total",
		Help: "Messages passed through the transport",
	}, []string{"transport", "direction"}) // direction: publish, receive
	r.ParamPollsTotal = promauto.With(r.registry).NewCounter(prometheus.CounterOpts{
		Name: "paramstore_polls_total",
		Help: "Polls of the parameter store while waiting for a missing key",
	})
}

// GetPrometheusRegistry returns the underlying Prometheus registry.
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus text format.
func (r *Registry) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// RecordTick counts one supervisor tick and its latency.
func (r *Registry) RecordTick(d time.Duration) {
	if r == nil {
		return
	}
	r.TicksTotal.Inc()
	r.StepDuration.Observe(d.Seconds())
}

// RecordReset counts one completed reset and its latency.
func (r *Registry) RecordReset(d time.Duration) {
	if r == nil {
		return
	}
	r.ResetsTotal.Inc()
	r.ResetDuration.Observe(d.Seconds())
}

// RecordViolation counts one protocol violation.
func (r *Registry) RecordViolation() {
	if r == nil {
		return
	}
	r.ProtocolViolationsTotal.Inc()
}

// SetBrokerAddresses publishes the bucket sizes of one broker.
func (r *Registry) SetBrokerAddresses(broker string, counts map[string]int) {
	if r == nil {
		return
	}
	for status, n := range counts {
		r.BrokerAddresses.WithLabelValues(broker, status).Set(float64(n))
	}
}

// RecordTransport counts one message sent or received by a transport.
func (r *Registry) RecordTransport(transport, direction string) {
	if r == nil {
		return
	}
	r.TransportMessagesTotal.WithLabelValues(transport, direction).Inc()
}

// RecordParamPoll counts one parameter store poll.
func (r *Registry) RecordParamPoll() {
	if r == nil {
		return
	}
	r.ParamPollsTotal.Inc()
}
