package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsRecordNothing(t *testing.T) {
	var m *Metrics
	m.SampleRead("a")
	m.BinCommitted("a")
	m.RowRecorded("a")
	m.SessionFailed("a", "connection")
	m.SetSessionState("a", 1)
	m.PublishDropped("mqtt")
	require.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCounters(t *testing.T) {
	m := New()
	m.SampleRead("cage1")
	m.SampleRead("cage1")
	m.SessionFailed("cage1", "protocol")
	m.SetSessionState("cage1", 2)

	require.Equal(t, 2.0, testutil.ToFloat64(m.samplesTotal.WithLabelValues("cage1")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failuresTotal.WithLabelValues("cage1", "protocol")))
	require.Equal(t, 2.0, testutil.ToFloat64(m.sessionState.WithLabelValues("cage1")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "wheel_samples_total"))
}

func TestWrapHandlerRecordsStatus(t *testing.T) {
	m := New()
	h := m.WrapHandler("/sessions", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/sessions", nil))

	require.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("/sessions", "409")))
}
