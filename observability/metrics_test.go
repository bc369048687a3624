package observability

import (
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestAPIMetrics(t *testing.T) {
	m := API()
	require.Same(t, m, API())

	done := m.Begin()
	require.Equal(t, 1.0, testutil.ToFloat64(m.inFlight))
	done()
	require.Equal(t, 0.0, testutil.ToFloat64(m.inFlight))

	m.Observe("/v1/reserves", http.MethodGet, http.StatusOK, 5*time.Millisecond)
	m.Observe("", http.MethodGet, http.StatusNotFound, time.Millisecond)
	require.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("/v1/reserves", "GET", "200")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("unmatched", "GET", "404")))

	m.RecordThrottle("")
	require.Equal(t, 1.0, testutil.ToFloat64(m.throttles.WithLabelValues("unspecified")))
}

func TestEventMetrics(t *testing.T) {
	m := Events()
	m.RecordJournaled(" Lending.Supply ")
	m.RecordDropped("")
	require.Equal(t, 1.0, testutil.ToFloat64(m.journaled.WithLabelValues("lending.supply")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.dropped.WithLabelValues("unknown")))

	var nilMetrics *APIMetrics
	require.NotPanics(t, func() {
		nilMetrics.Begin()()
		nilMetrics.Observe("/", "GET", 200, 0)
	})
}
