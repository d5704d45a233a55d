package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCollector_ObserveRequestAndTokens(t *testing.T) {
	c := NewCollector("")
	c.ObserveRequest("chat_completions", "m", "200", 150*time.Millisecond)
	c.ObserveRequest("chat_completions", "m", "200", 50*time.Millisecond)
	c.ObserveTokens("m", 10, 0)
	c.ObserveTokens("m", 5, 7)

	require.Equal(t, 2.0, testutil.ToFloat64(c.requestsTotal.WithLabelValues("chat_completions", "m", "200")))
	require.Equal(t, 15.0, testutil.ToFloat64(c.tokensTotal.WithLabelValues("m", "prompt")))
	require.Equal(t, 7.0, testutil.ToFloat64(c.tokensTotal.WithLabelValues("m", "completion")))
}

func TestCollector_StreamsAndHealth(t *testing.T) {
	c := NewCollector("test")
	done1 := c.StreamStarted()
	done2 := c.StreamStarted()
	require.Equal(t, 2.0, testutil.ToFloat64(c.streamsInFlight))
	done1()
	done2()
	require.Equal(t, 0.0, testutil.ToFloat64(c.streamsInFlight))

	c.SetEngineHealthy(true)
	require.Equal(t, 1.0, testutil.ToFloat64(c.engineHealthy))
	c.SetEngineHealthy(false)
	require.Equal(t, 0.0, testutil.ToFloat64(c.engineHealthy))
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	c.ObserveRequest("x", "m", "200", time.Second)
	c.ObserveTokens("m", 1, 1)
	c.SetEngineHealthy(true)
	c.StreamStarted()()
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector("")
	c.ObserveRequest("models", "", "200", time.Millisecond)

	w := httptest.NewRecorder()
	c.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `vllmpoc_requests_total{endpoint="models",model="",status="200"} 1`)
}
