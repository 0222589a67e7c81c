package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Observe(t *testing.T) {
	m := New()

	m.ObserveCommand("start-generation")
	m.ObserveCommand("start-generation")
	m.ObserveRejected("resume-generation", "validation")
	m.ObserveInbound(OutcomeStale)
	m.ObserveTransition("idle", "optimizing")
	m.ObserveTransition("idle", "idle")
	m.SetConnectedUsers(4)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.CommandsSent.WithLabelValues("start-generation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommandsRejected.WithLabelValues("resume-generation", "validation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InboundMessages.WithLabelValues(OutcomeStale)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PhaseTransitions.WithLabelValues("idle", "optimizing")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.PhaseTransitions.WithLabelValues("idle", "idle")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.ConnectedUsers))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveCommand("stop-generation")
		m.ObserveRejected("stop-generation", "send")
		m.ObserveInbound(OutcomeApplied)
		m.ObserveTransition("idle", "optimizing")
		m.SetConnectedUsers(1)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveCommand("upscale-generation")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `maskopt_commands_sent_total{command="upscale-generation"} 1`)
}
