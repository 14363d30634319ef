package observability_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/vellora/pkg/domain"
	"github.com/aretw0/vellora/pkg/observability"
)

func TestMetrics_Hooks(t *testing.T) {
	m := observability.NewMetrics()

	var chained int
	hooks := m.Hooks(domain.LifecycleHooks{
		OnTransition: func(context.Context, *domain.TransitionEvent) { chained++ },
	})

	ctx := context.Background()
	hooks.OnTransition(ctx, &domain.TransitionEvent{Outcome: domain.OutcomeAccepted, From: domain.StepCode, To: domain.StepName})
	hooks.OnTransition(ctx, &domain.TransitionEvent{Outcome: domain.OutcomeRejected, From: domain.StepName, To: domain.StepName})
	hooks.OnTransition(ctx, &domain.TransitionEvent{Outcome: domain.OutcomeAccepted, From: domain.StepName, To: domain.StepHandle})
	hooks.OnCompleted(ctx, &domain.Record{ConversationID: "c1"})
	hooks.OnConflict(ctx, "step")

	assert.Equal(t, 3, chained)

	body := scrape(t, m)
	assert.Contains(t, body, `vellora_events_total{outcome="accepted"} 2`)
	assert.Contains(t, body, `vellora_events_total{outcome="rejected"} 1`)
	assert.Contains(t, body, `vellora_step_transitions_total{from="code"} 1`)
	assert.Contains(t, body, "vellora_onboardings_completed_total 1")
	assert.Contains(t, body, "vellora_commit_conflicts_total 1")
}

func scrape(t *testing.T, m *observability.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	return rec.Body.String()
}

func TestMetrics_HandlerExposesCollectors(t *testing.T) {
	m := observability.NewMetrics()
	m.ObserveHTTP("/health", http.MethodGet, http.StatusOK, 5*time.Millisecond)
	m.ObserveStore("put", errors.New("boom"), time.Millisecond)
	m.CodesGenerated.WithLabelValues("grower").Inc()

	body := scrape(t, m)
	assert.Contains(t, body, `vellora_http_requests_total{method="GET",route="/health",status="200"} 1`)
	assert.Contains(t, body, `vellora_store_operation_duration_seconds_count{operation="put",status="error"} 1`)
	assert.Contains(t, body, `vellora_codes_generated_total{plan="grower"} 1`)
	assert.Contains(t, body, "go_goroutines")
}

func TestMetrics_IndependentRegistries(t *testing.T) {
	a := observability.NewMetrics()
	b := observability.NewMetrics()
	a.CompletionsTotal.Inc()

	assert.Contains(t, scrape(t, a), "vellora_onboardings_completed_total 1")
	assert.Contains(t, scrape(t, b), "vellora_onboardings_completed_total 0")
}

func TestSetupTracing_NoopWhenEndpointEmpty(t *testing.T) {
	shutdown, err := observability.SetupTracing(context.Background(), "vellora", "test", "")
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestSetupTracing_CreatesProvider(t *testing.T) {
	collector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer collector.Close()

	shutdown, err := observability.SetupTracing(context.Background(), "vellora", "test", collector.URL)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, shutdown(ctx))
}
