package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igautomate/internal/store/memory"
	"igautomate/pkg/config"
	"igautomate/pkg/logger"
	"igautomate/pkg/metrics"
	"igautomate/pkg/ratelimit"
)

type fixture struct {
	server  *Server
	tracker *ratelimit.Tracker
	clock   *quartz.Mock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clock := quartz.NewMock(t)
	clock.Set(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	cfg := config.DefaultConfig()
	tracker, err := ratelimit.New(cfg, memory.New(),
		ratelimit.WithClock(clock),
		ratelimit.WithLogger(logger.NewNopLogger()),
		ratelimit.WithMetrics(m),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tracker.Close(context.Background()) })

	srv := New(tracker, Options{
		CORSOrigins:    []string{"https://ops.example.com"},
		MetricsPath:    "/metrics",
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Logger:         logger.NewNopLogger(),
	})
	return &fixture{server: srv, tracker: tracker, clock: clock}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func TestAdmissionAllowsThenLimits(t *testing.T) {
	f := newFixture(t)
	body := CallRequest{TenantID: "t1", AccountID: "a1", UserID: "u1"}

	for i := 0; i < 2; i++ {
		rec := f.do(t, http.MethodPost, "/v1/admissions/conversations", body)
		require.Equal(t, http.StatusOK, rec.Code)

		var d ratelimit.Decision
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&d))
		assert.True(t, d.Allowed)
		assert.Equal(t, ratelimit.APIConversations, d.API)
		assert.Equal(t, 200, d.PlatformLimit)
	}

	rec := f.do(t, http.MethodPost, "/v1/admissions/conversations", body)
	require.Equal(t, http.StatusOK, rec.Code)
	var d ratelimit.Decision
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&d))
	assert.False(t, d.Allowed)
	assert.Equal(t, ratelimit.ReasonAPILimit, d.Reason)
}

func TestAdmissionUnknownAPI(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/admissions/stories", CallRequest{TenantID: "t1", AccountID: "a1"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdmissionBadRequests(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		path string
		body interface{}
	}{
		{"malformed json", "/v1/admissions/conversations", `{"tenant_id":`},
		{"unknown field", "/v1/admissions/conversations", `{"tenant_id":"t1","account_id":"a1","extra":1}`},
		{"missing account", "/v1/admissions/conversations", CallRequest{TenantID: "t1"}},
		{"send without recipient", "/v1/admissions/send_text", CallRequest{TenantID: "t1", AccountID: "a1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var body map[string]string
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestEngagementRaisesLimit(t *testing.T) {
	f := newFixture(t)

	for _, u := range []string{"u1", "u2", "u3"} {
		rec := f.do(t, http.MethodPost, "/v1/engagements", CallRequest{TenantID: "t1", AccountID: "a1", UserID: u})
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	rec := f.do(t, http.MethodGet, "/v1/accounts/t1/a1/limits", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var limits LimitsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&limits))
	assert.Equal(t, 3, limits.EngagedUsers)
	assert.Equal(t, 600, limits.PlatformLimit)
}

func TestEngagementRequiresUser(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/engagements", CallRequest{TenantID: "t1", AccountID: "a1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatsAndHealth(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/v1/engagements", CallRequest{TenantID: "t1", AccountID: "a1", UserID: "u1"})

	rec := f.do(t, http.MethodGet, "/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var stats ratelimit.Stats
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
	require.Len(t, stats.Accounts, 1)
	assert.Equal(t, 1, stats.Accounts[0].EngagedUsers)
	assert.Equal(t, 1, stats.PendingWrites)

	rec = f.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodPost, "/v1/admissions/conversations", CallRequest{TenantID: "t1", AccountID: "a1"})

	rec := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `igautomate_admissions_total{api="conversations",result="allowed"} 1`)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodOptions, "/v1/stats", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)

	assert.Equal(t, "https://ops.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}
