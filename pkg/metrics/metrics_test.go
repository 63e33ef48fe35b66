package metrics_test

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/eteran/stagegate/pkg/metrics"
	"github.com/eteran/stagegate/pkg/multipart"
	"github.com/eteran/stagegate/pkg/s3err"

	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMiddlewareCountsRequests(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))

	for _, path := range []string{"/a", "/b", "/missing"} {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPut, path, nil))
	}

	body := scrape(t, m)
	require.Contains(t, body, `stagegate_http_requests_total{code="200",method="PUT"} 2`)
	require.Contains(t, body, `stagegate_http_requests_total{code="404",method="PUT"} 1`)
	require.Contains(t, body, `stagegate_http_inflight_requests 0`)
}

func TestMultipartMetrics(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	mm := metrics.NewMultipartMetrics(m.Registry())

	mm.ObserveOp(metrics.OpComplete, nil, 10*time.Millisecond)
	mm.ObserveOp(metrics.OpComplete, s3err.InvalidParts.Wrap(errors.New("gap")), time.Millisecond)
	mm.ObserveOp(metrics.OpUploadPart, errors.New("backend"), time.Millisecond)
	mm.ObserveCompleted(2048)
	mm.ObserveSweep(multipart.SweepStats{Scanned: 4, Expired: 2, Corrupt: 1, Retained: 1}, nil)
	mm.ObserveSweep(multipart.SweepStats{}, errors.New("list failed"))

	body := scrape(t, m)
	require.Contains(t, body, `stagegate_multipart_ops_total{op="complete",result="ok"} 1`)
	require.Contains(t, body, `stagegate_multipart_ops_total{op="complete",result="InvalidPart"} 1`)
	require.Contains(t, body, `stagegate_multipart_ops_total{op="upload_part",result="InternalError"} 1`)
	require.Contains(t, body, `stagegate_multipart_completed_bytes_total 2048`)
	require.Contains(t, body, `stagegate_sweep_sessions_total{outcome="expired"} 2`)
	require.Contains(t, body, `stagegate_sweep_runs_total{result="error"} 1`)
	require.NotContains(t, body, `outcome="skipped"`, "zero outcomes are not created")

	count, err := testutil.GatherAndCount(m.Registry(), "stagegate_sweep_runs_total")
	require.NoError(t, err)
	require.Equal(t, 2, count)
}
