package obs_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/pass-ticketing/internal/obs"
)

func TestHTTPMetricsLabels(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := obs.NewHTTPMetrics("passes", []float64{1, 10}, registry)
	handler := obs.HTTPObs{Metrics: metrics}.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/passes/3/buy", nil)
	req = req.WithContext(obs.WithRoute(req.Context(), "/api/passes/{id}/buy"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code)
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.ReqTotal.WithLabelValues(http.MethodPost, "/api/passes/{id}/buy", "201")))
	require.NotZero(t, testutil.CollectAndCount(metrics.ReqDur))
	require.Zero(t, testutil.ToFloat64(metrics.InFlight))
}

func TestDomainMetricsRegisterOnce(t *testing.T) {
	registry := prometheus.NewRegistry()
	obs.MustRegisterDomainMetrics("passes_test", registry)
	obs.MustRegisterDomainMetrics("passes_test", registry)

	obs.CountReconcile("fallback", "confirmed")
	obs.CountReconcile("fallback", "confirmed")
	require.Equal(t, float64(2), testutil.ToFloat64(obs.ReconcileTotal.WithLabelValues("fallback", "confirmed")))

	obs.AddRealtimeSessions(1)
	obs.AddRealtimeSessions(-1)
	require.Zero(t, testutil.ToFloat64(obs.RealtimeSessions))
}

func TestHTTPMetricsReuseRegistered(t *testing.T) {
	registry := prometheus.NewRegistry()
	first := obs.NewHTTPMetrics("passes", nil, registry)
	second := obs.NewHTTPMetrics("passes", nil, registry)
	require.Same(t, first.ReqTotal, second.ReqTotal)
}

func TestRequestLoggerQuietPaths(t *testing.T) {
	var buf bytes.Buffer
	status := http.StatusOK
	handler := obs.RequestLogger{Logger: zerolog.New(&buf), Quiet: []string{"/health/live"}}.
		Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(status) }))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health/live", nil))
	require.Zero(t, buf.Len(), "healthy probes are not logged")

	status = http.StatusServiceUnavailable
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health/live", nil))
	status = http.StatusOK
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/passes", nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	var failed, served map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &failed))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &served))
	require.Equal(t, "error", failed["level"])
	require.EqualValues(t, 503, failed["status"])
	require.Equal(t, "info", served["level"])
	require.Equal(t, "/api/passes", served["route"])
	require.Equal(t, "http_request", served["message"])
}

func TestParseBucketsCSV(t *testing.T) {
	require.Equal(t, []float64{5, 50}, obs.ParseBucketsCSV("5, x, -1, 50"))
	require.Nil(t, obs.ParseBucketsCSV(" "))
}

func TestStatusRecorderHijackUnsupported(t *testing.T) {
	rec := obs.NewStatusRecorder(httptest.NewRecorder())
	_, _, err := rec.Hijack()
	require.Error(t, err)
	require.Equal(t, http.StatusOK, rec.Status())
	require.NotNil(t, rec.Unwrap())
}

func TestSQLOperation(t *testing.T) {
	require.Equal(t, "confirm_payment", obs.SQLOperation("SELECT * FROM confirm_payment($1, $2, $3)"))
	require.Equal(t, "check_stock", obs.SQLOperation("select check_stock($1,$2)"))
	require.Equal(t, "insert", obs.SQLOperation("  INSERT INTO orders VALUES ($1)"))
	require.Equal(t, "query", obs.SQLOperation(""))
}
