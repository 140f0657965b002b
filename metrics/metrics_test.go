package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/loxya/booking-engine/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_CountsByResult(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.New(reg)

	c.ObserveInvalidation("ok")
	c.ObserveInvalidation("ok")
	c.ObserveInvalidation("error")

	n, err := testutil.GatherAndCount(reg, "booking_engine_cache_invalidations_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n, "one series per result")
}

func TestHandler_ServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics.New(reg).ObserveInvalidation("ok")

	srv := httptest.NewServer(metrics.Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `booking_engine_cache_invalidations_total{result="ok"} 1`)
}
