package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/titan-scanner/core/internal/metrics"
)

func TestHandlerServesRegisteredMetrics(t *testing.T) {
	reg := metrics.New()
	reg.AuthFailures.Inc()
	reg.IntentsTotal.WithLabelValues("binance", "accepted").Inc()
	reg.IPCLagSeconds.WithLabelValues("sentinel").Set(0.25)

	srv := httptest.NewServer(reg.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	buf := make([]byte, 64*1024)
	n, _ := resp.Body.Read(buf)
	body := string(buf[:n])

	require.Contains(t, body, "titan_ipc_auth_failures_total 1")
	require.Contains(t, body, `titan_router_intents_total{outcome="accepted",venue="binance"} 1`)
	require.Contains(t, body, "titan_ipc_lag_seconds")
	require.True(t, strings.Contains(body, "titan_detection_signal_latency_seconds"))
}

func TestIndependentRegistriesDoNotShareState(t *testing.T) {
	a := metrics.New()
	b := metrics.New()

	a.AuthFailures.Inc()

	srvB := httptest.NewServer(b.Handler())
	defer srvB.Close()

	resp, err := http.Get(srvB.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	buf := make([]byte, 64*1024)
	n, _ := resp.Body.Read(buf)
	body := string(buf[:n])
	require.Contains(t, body, "titan_ipc_auth_failures_total 0")
}
