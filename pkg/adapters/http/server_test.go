package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/aretw0/vellora/pkg/adapters/memory"
	"github.com/aretw0/vellora/pkg/billing"
	"github.com/aretw0/vellora/pkg/codes"
	"github.com/aretw0/vellora/pkg/controller"
	"github.com/aretw0/vellora/pkg/credential"
	"github.com/aretw0/vellora/pkg/domain"
	"github.com/aretw0/vellora/pkg/engine"
	"github.com/aretw0/vellora/pkg/observability"
	"github.com/aretw0/vellora/pkg/ports"
	"github.com/aretw0/vellora/pkg/session"
)

type stubWebhook struct {
	session *ports.CheckoutSession
	err     error
}

func (s *stubWebhook) CompletedSession(payload []byte, signature string) (*ports.CheckoutSession, error) {
	if signature != "t=1,v1=ok" {
		return nil, errors.New("bad signature")
	}
	return s.session, s.err
}

type testEnv struct {
	store    *memory.Store
	payments *memory.Payments
	outbox   *memory.Outbox
	billing  *billing.Service
	webhook  *stubWebhook
	metrics  *observability.Metrics
	handler  http.Handler
}

func newEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	env := &testEnv{
		store:    memory.NewStore(),
		payments: memory.NewPayments(),
		outbox:   memory.NewOutbox(),
		webhook:  &stubWebhook{},
		metrics:  observability.NewMetrics(),
	}
	registry := codes.NewRegistry(env.store)
	env.billing = billing.NewService(registry, env.payments, billing.WithPublicURL("https://vellora.test"))
	eng := engine.New(registry, credential.NewHasher(bcrypt.MinCost))
	ctrl := controller.New(eng, session.NewGateway(env.store), env.outbox)

	opts = append([]Option{WithPaymentWebhook(env.webhook), WithMetrics(env.metrics)}, opts...)
	h, err := NewHandler(ctrl, env.billing, opts...)
	require.NoError(t, err)
	env.handler = h
	return env
}

func (e *testEnv) do(t *testing.T, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestLoadSpec(t *testing.T) {
	doc, err := LoadSpec(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Vellora API", doc.Info.Title)
	assert.NotNil(t, doc.Paths.Value("/api/checkout"))
}

func TestHealthAndDocs(t *testing.T) {
	env := newEnv(t)

	rec := env.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody[map[string]string](t, rec)["status"])

	rec = env.do(t, http.MethodGet, "/openapi.yaml", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("openapi: 3.0.3")))

	rec = env.do(t, http.MethodGet, "/swagger", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "SwaggerUIBundle")

	rec = env.do(t, http.MethodGet, "/info", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1.0.0", decodeBody[map[string]string](t, rec)["api_version"])
}

func TestCORSPreflight(t *testing.T) {
	env := newEnv(t)
	rec := env.do(t, http.MethodOptions, "/api/checkout", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestListPlans(t *testing.T) {
	env := newEnv(t)
	rec := env.do(t, http.MethodGet, "/api/plans", "")
	require.Equal(t, http.StatusOK, rec.Code)

	plans := decodeBody[[]billing.Plan](t, rec)
	require.Len(t, plans, 2)
	assert.Equal(t, "grower", plans[0].ID)
	assert.Equal(t, "bloomer", plans[1].ID)
}

func TestCheckoutAndActivation(t *testing.T) {
	env := newEnv(t)

	rec := env.do(t, http.MethodPost, "/api/checkout", `{"plan":"grower"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	id := decodeBody[checkoutResponse](t, rec).ID
	require.NotEmpty(t, id)

	req, ok := env.payments.Request(id)
	require.True(t, ok)
	code := req.Metadata[domain.MetadataSetupCode]
	assert.Contains(t, req.SuccessURL, "code="+code)

	// Unpaid: the code is visible but still pending.
	rec = env.do(t, http.MethodGet, "/api/activation?session_id="+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	act := decodeBody[activationResponse](t, rec)
	assert.Equal(t, code, act.Code)
	assert.Equal(t, "grower", act.Plan)
	assert.Equal(t, domain.StatusPending, act.Status)

	require.NoError(t, env.payments.MarkPaid(id, "jo@example.com"))
	rec = env.do(t, http.MethodGet, "/api/activation?session_id="+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.StatusUnused, decodeBody[activationResponse](t, rec).Status)
}

func TestCheckout_Errors(t *testing.T) {
	env := newEnv(t)

	rec := env.do(t, http.MethodPost, "/api/checkout", `{"plan":"gold"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, billing.ErrUnknownPlan.Error(), decodeBody[errorBody](t, rec).Error)

	rec = env.do(t, http.MethodPost, "/api/checkout", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "plan is required by the schema")

	rec = env.do(t, http.MethodPost, "/api/checkout", `{"plan":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestActivation_NotFound(t *testing.T) {
	env := newEnv(t)

	rec := env.do(t, http.MethodGet, "/api/activation?session_id=cs_missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/activation", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestActivation_ProcessorFailureIsNotFound(t *testing.T) {
	env := newEnv(t)
	rec := env.do(t, http.MethodPost, "/api/checkout", `{"plan":"grower"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	id := decodeBody[checkoutResponse](t, rec).ID

	env.payments.FailRetrieve = errors.New("stripe: 502")
	rec = env.do(t, http.MethodGet, "/api/activation?session_id="+id, "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeBody[errorBody](t, rec)
	assert.Equal(t, billing.ErrActivationNotFound.Error(), body.Error)
	assert.NotEmpty(t, body.CorrelationID)
	assert.NotContains(t, rec.Body.String(), "502")
}

func TestPostEvent(t *testing.T) {
	env := newEnv(t, WithEventsToken("ev-token"))
	auth := []string{"Authorization", "Bearer ev-token"}

	rec := env.do(t, http.MethodPost, "/api/events", `{"conversation_id":"42","text":"/start"}`, auth...)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeBody[controller.Response](t, rec)
	assert.Equal(t, domain.OutcomeRestart, resp.Outcome)
	assert.NotEmpty(t, resp.CorrelationID)
	assert.Equal(t, resp.Reply, env.outbox.Last())

	rec = env.do(t, http.MethodPost, "/api/events", `{"conversation_id":"42","text":"NOPE00"}`, auth...)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.OutcomeRejected, decodeBody[controller.Response](t, rec).Outcome)

	rec = env.do(t, http.MethodPost, "/api/events", `{"conversation_id":"","text":"hi"}`, auth...)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/events", `{"conversation_id":"42","kind":"shout","text":"hi"}`, auth...)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostEvent_RequiresBearerToken(t *testing.T) {
	env := newEnv(t, WithEventsToken("ev-token"))
	body := `{"conversation_id":"victim","text":"/start"}`

	rec := env.do(t, http.MethodPost, "/api/events", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")

	rec = env.do(t, http.MethodPost, "/api/events", body, "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/events", body, "Authorization", "ev-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "the scheme is required")

	assert.Empty(t, env.outbox.Replies())
	_, err := env.store.Get(context.Background(), "victim")
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
}

func TestPostEvent_DisabledWithoutToken(t *testing.T) {
	env := newEnv(t)
	rec := env.do(t, http.MethodPost, "/api/events", `{"conversation_id":"42","text":"/start"}`)
	assert.Contains(t, []int{http.StatusNotFound, http.StatusMethodNotAllowed}, rec.Code)
	assert.Empty(t, env.outbox.Replies())
}

func TestTelegramWebhook(t *testing.T) {
	env := newEnv(t, WithTelegramSecret("s3cret"))
	update := `{"update_id":1,"message":{"message_id":7,"chat":{"id":99},"text":"/start","entities":[{"type":"bot_command","offset":0,"length":6}]}}`

	rec := env.do(t, http.MethodPost, "/webhooks/telegram", update)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, env.outbox.Replies())

	rec = env.do(t, http.MethodPost, "/webhooks/telegram", update, "X-Telegram-Bot-Api-Secret-Token", "s3cret")
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, env.outbox.Replies(), 1)
	assert.Equal(t, "99", env.outbox.Replies()[0].ConversationID)

	// Updates without text are acknowledged and ignored.
	rec = env.do(t, http.MethodPost, "/webhooks/telegram", `{"update_id":2}`, "X-Telegram-Bot-Api-Secret-Token", "s3cret")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, env.outbox.Replies(), 1)

	rec = env.do(t, http.MethodPost, "/webhooks/telegram", `{`, "X-Telegram-Bot-Api-Secret-Token", "s3cret")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStripeWebhook(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	checkout, err := env.billing.CreateCheckout(ctx, "bloomer")
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/webhooks/stripe", `{}`, "Stripe-Signature", "forged")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Unrelated event types are acknowledged.
	rec = env.do(t, http.MethodPost, "/webhooks/stripe", `{}`, "Stripe-Signature", "t=1,v1=ok")
	assert.Equal(t, http.StatusOK, rec.Code)

	env.webhook.session = &ports.CheckoutSession{
		ID:       checkout.SessionID,
		Metadata: map[string]string{domain.MetadataSetupCode: checkout.Code},
	}
	rec = env.do(t, http.MethodPost, "/webhooks/stripe", `{}`, "Stripe-Signature", "t=1,v1=ok")
	assert.Equal(t, http.StatusOK, rec.Code)
	code, err := env.store.GetCode(ctx, checkout.Code)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, code.Status, "unpaid sessions do not confirm")

	env.webhook.session.Paid = true
	rec = env.do(t, http.MethodPost, "/webhooks/stripe", `{}`, "Stripe-Signature", "t=1,v1=ok")
	assert.Equal(t, http.StatusOK, rec.Code)
	code, err = env.store.GetCode(ctx, checkout.Code)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUnused, code.Status)

	// Redelivery is harmless.
	rec = env.do(t, http.MethodPost, "/webhooks/stripe", `{}`, "Stripe-Signature", "t=1,v1=ok")
	assert.Equal(t, http.StatusOK, rec.Code)

	env.webhook.session = &ports.CheckoutSession{ID: "cs_other", Paid: true, Metadata: map[string]string{domain.MetadataSetupCode: "ZZZZZZ"}}
	rec = env.do(t, http.MethodPost, "/webhooks/stripe", `{}`, "Stripe-Signature", "t=1,v1=ok")
	assert.Equal(t, http.StatusOK, rec.Code, "unknown codes are not worth a redelivery")
}

func TestStripeWebhook_DisabledWithoutVerifier(t *testing.T) {
	store := memory.NewStore()
	registry := codes.NewRegistry(store)
	svc := billing.NewService(registry, memory.NewPayments())
	eng := engine.New(registry, credential.NewHasher(bcrypt.MinCost))
	h, err := NewHandler(controller.New(eng, session.NewGateway(store), memory.NewOutbox()), svc)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newEnv(t)
	env.do(t, http.MethodGet, "/health", "")
	env.do(t, http.MethodGet, "/api/activation?session_id=cs_missing", "")

	rec := env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `vellora_http_requests_total{method="GET",route="/health",status="200"} 1`)
	assert.Contains(t, body, `vellora_http_requests_total{method="GET",route="/api/activation",status="404"} 1`)
}
