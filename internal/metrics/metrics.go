// Package metrics provides Prometheus metrics for the maskopt session client.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Inbound message outcomes.
const (
	OutcomeApplied      = "applied"
	OutcomeCompleted    = "completed"
	OutcomeStale        = "stale"
	OutcomeNoImage      = "no_image"
	OutcomeIgnored      = "ignored"
	OutcomeMalformed    = "malformed"
	OutcomeDecodeFailed = "decode_failed"
)

// Metrics groups the client's collectors. Labels stay low-cardinality:
// command names, outcomes and phases only.
type Metrics struct {
	registry *prometheus.Registry

	CommandsSent     *prometheus.CounterVec
	CommandsRejected *prometheus.CounterVec
	InboundMessages  *prometheus.CounterVec
	PhaseTransitions *prometheus.CounterVec
	ConnectedUsers   prometheus.Gauge
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		CommandsSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "maskopt_commands_sent_total",
			Help: "Total number of commands handed to the transport, by command.",
		}, []string{"command"}),
		CommandsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "maskopt_commands_rejected_total",
			Help: "Total number of commands not sent, by command (or operation) and reason.",
		}, []string{"command", "reason"}),
		InboundMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "maskopt_inbound_messages_total",
			Help: "Total number of inbound server messages, by handling outcome.",
		}, []string{"outcome"}),
		PhaseTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "maskopt_phase_transitions_total",
			Help: "Total number of session phase transitions, by source and target phase.",
		}, []string{"from", "to"}),
		ConnectedUsers: f.NewGauge(prometheus.GaugeOpts{
			Name: "maskopt_connected_users",
			Help: "Connected user count last broadcast by the server.",
		}),
	}
}

// Registry exposes the underlying registry for tests and custom exporters.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveCommand(command string) {
	if m == nil {
		return
	}
	m.CommandsSent.WithLabelValues(command).Inc()
}

func (m *Metrics) ObserveRejected(command, reason string) {
	if m == nil {
		return
	}
	m.CommandsRejected.WithLabelValues(command, reason).Inc()
}

func (m *Metrics) ObserveInbound(outcome string) {
	if m == nil {
		return
	}
	m.InboundMessages.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveTransition(from, to string) {
	if m == nil || from == to {
		return
	}
	m.PhaseTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) SetConnectedUsers(n int) {
	if m == nil {
		return
	}
	m.ConnectedUsers.Set(float64(n))
}
