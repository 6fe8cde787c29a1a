package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ossgate/internal/metrics"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCollectorRecords(t *testing.T) {
	t.Parallel()

	c, err := metrics.NewCollector(metrics.Config{Enabled: true})
	require.NoError(t, err, "NewCollector error")

	c.RecordChunk("uploaded", 1024, 10*time.Millisecond)
	c.RecordChunk("uploaded", 1024, 10*time.Millisecond)
	c.RecordChunk("duplicate", 1024, 0)
	c.RecordMerge(true, time.Second)
	c.SessionOpened()
	c.SessionOpened()
	c.SessionClosed()
	c.RecordRequest(http.MethodPost, http.StatusOK, time.Millisecond)

	count, err := testutil.GatherAndCount(c.Registry(), "ossgate_upload_chunks_total")
	require.NoError(t, err)
	require.Equal(t, 2, count, "one series per result label")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ossgate_upload_chunk_bytes_total 2048")
	require.Contains(t, rec.Body.String(), "ossgate_session_active 1")
	require.Contains(t, rec.Body.String(), `ossgate_http_requests_total{code="200",method="POST"} 1`)
}

func TestDisabledCollectorIsInert(t *testing.T) {
	t.Parallel()

	c, err := metrics.NewCollector(metrics.Config{})
	require.NoError(t, err)
	require.Nil(t, c.Registry())

	c.RecordChunk("uploaded", 1, time.Millisecond)
	c.SessionExpired()

	var nilCollector *metrics.Collector
	nilCollector.RecordMerge(false, time.Millisecond)
	require.Equal(t, "/metrics", nilCollector.Path())

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
