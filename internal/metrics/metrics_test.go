package metrics_test

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/taskbridge/internal/channel"
	"github.com/gosuda/taskbridge/internal/metrics"
	"github.com/gosuda/taskbridge/internal/platform"
)

func TestMetrics_Observer(t *testing.T) {
	t.Parallel()

	m := metrics.New()

	m.CallFinished("load", nil, 10*time.Millisecond)
	m.CallFinished("getHeight", &channel.CallError{Method: "task.getHeight", Code: channel.CodeTimeout}, 100*time.Millisecond)
	m.CallFinished("getAnswer", &channel.CallError{Method: "task.getAnswer", Code: "boom"}, time.Millisecond)

	assert.InDelta(t, 1, testutil.ToFloat64(m.TaskCalls.WithLabelValues("load", "ok")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.TaskCalls.WithLabelValues("getHeight", "timeout")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.TaskCalls.WithLabelValues("getAnswer", "remote_error")), 0)

	m.HandshakeFinished(nil, time.Second)
	m.HandshakeFinished(errors.New("late"), 16*time.Second)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Handshakes.WithLabelValues("ready")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Handshakes.WithLabelValues("timeout")), 0)

	m.InboundHandled("platform.validate", &platform.NotDefinedError{Method: "platform.validate"})
	m.InboundHandled("platform.updateHeight", nil)
	assert.InDelta(t, 1, testutil.ToFloat64(m.PlatformCalls.WithLabelValues("platform.validate", "not_defined")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.PlatformCalls.WithLabelValues("platform.updateHeight", "ok")), 0)

	m.ProxiesChanged(3)
	assert.InDelta(t, 3, testutil.ToFloat64(m.ProxiesActive), 0)
}

func TestMetrics_Instances(t *testing.T) {
	t.Parallel()

	a := metrics.New()
	b := metrics.New()

	a.ProxiesChanged(2)
	assert.InDelta(t, 0, testutil.ToFloat64(b.ProxiesActive), 0, "instances must not share collectors")
}

func TestMetrics_HandlerAndMiddleware(t *testing.T) {
	t.Parallel()

	m := metrics.New()

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/frames/{frameID}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	r.Handle("/metrics", m.Handler())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/frames/abc", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)

	assert.InDelta(t, 1, testutil.ToFloat64(m.HTTPRequests.WithLabelValues(http.MethodGet, "/frames/{frameID}", "418")), 0)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "taskbridge_http_requests_total")
	assert.Contains(t, string(body), "go_goroutines")
}
