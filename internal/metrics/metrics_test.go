package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRecorderCountsDecisions(t *testing.T) {
	r := New()
	r.PolicyDecision("telegram", "filter", "drop")
	r.PolicyDecision("telegram", "filter", "drop")
	r.PolicyDecision("slack", "open", "deliver")
	r.ApprovalResolved("agent_create", "approved")
	r.ModerationPending("binding-1", 3)
	r.RateLimited("telegram")

	require.Equal(t, 2.0, testutil.ToFloat64(r.policyDecisions.WithLabelValues("telegram", "filter", "drop")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.policyDecisions.WithLabelValues("slack", "open", "deliver")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.approvalsTotal.WithLabelValues("agent_create", "approved")))
	require.Equal(t, 3.0, testutil.ToFloat64(r.moderationQueued.WithLabelValues("binding-1")))
	require.Equal(t, 1.0, testutil.ToFloat64(r.rateLimited.WithLabelValues("telegram")))
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.PolicyDecision("x", "y", "z")
	r.ObserveRequest(http.MethodGet, "/health", 200, time.Millisecond)
	r.ApprovalResolved("custom", "rejected")
	r.ModerationPending("b", 1)
	r.RateLimited("x")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerServesRequestMetrics(t *testing.T) {
	r := New()
	r.ObserveRequest(http.MethodGet, "/health", http.StatusOK, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.True(t, strings.Contains(body, `openclaw_api_http_requests_total{method="GET",route="/health",status="200"} 1`))
}
