package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserveOutcome(t *testing.T) {
	m := New()
	m.ObserveOutcome("replied")
	m.ObserveOutcome("replied")
	m.ObserveOutcome("rejected_duplicate")

	require.Equal(t, 2.0, testutil.ToFloat64(m.messages.WithLabelValues("replied")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.messages.WithLabelValues("rejected_duplicate")))
}

func TestObserveSweepAndGauge(t *testing.T) {
	m := New()
	m.ObserveSweep(3, 7)
	m.SetActiveConversations(4)
	m.ObserveSend(true)
	m.ObserveSend(false)
	m.ObserveSkipped()

	require.Equal(t, 3.0, testutil.ToFloat64(m.evictions.WithLabelValues("conversation")))
	require.Equal(t, 7.0, testutil.ToFloat64(m.evictions.WithLabelValues("dedup")))
	require.Equal(t, 4.0, testutil.ToFloat64(m.conversations))
	require.Equal(t, 1.0, testutil.ToFloat64(m.sends.WithLabelValues("error")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.skipped))
}

func TestHandler_ExposesRelayMetrics(t *testing.T) {
	m := New()
	m.ObserveOutcome("replied")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	res, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	require.Contains(t, string(body), `relay_messages_total{outcome="replied"} 1`)
}
