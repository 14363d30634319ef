// Package http exposes the Vellora checkout API, the conversation event
// endpoint and the Telegram/Stripe webhooks over a chi router.
package http

import (
	"context"
	"crypto/subtle"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/aretw0/vellora"
	"github.com/aretw0/vellora/internal/logging"
	"github.com/aretw0/vellora/pkg/adapters/telegram"
	"github.com/aretw0/vellora/pkg/billing"
	"github.com/aretw0/vellora/pkg/controller"
	"github.com/aretw0/vellora/pkg/domain"
	"github.com/aretw0/vellora/pkg/ports"
)

// DefaultMaxBodySize caps request bodies.
const DefaultMaxBodySize = 1 << 20

//go:embed api/openapi.yaml
var rawSpec []byte

// EventHandler processes one conversation event.
type EventHandler interface {
	Handle(ctx context.Context, ev domain.Event) (controller.Response, error)
}

// Billing is the checkout and activation surface.
type Billing interface {
	Catalogue() billing.Catalogue
	CreateCheckout(ctx context.Context, planID string) (*billing.Checkout, error)
	FetchActivation(ctx context.Context, sessionID string) (*domain.ActivationCode, error)
	ConfirmPayment(ctx context.Context, session *ports.CheckoutSession) (*domain.ActivationCode, error)
}

// PaymentWebhook verifies processor webhook deliveries.
type PaymentWebhook interface {
	CompletedSession(payload []byte, signature string) (*ports.CheckoutSession, error)
}

// RequestObserver records served requests.
type RequestObserver interface {
	ObserveHTTP(route, method string, status int, elapsed time.Duration)
	Handler() http.Handler
}

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	Events  EventHandler
	Billing Billing

	webhook        PaymentWebhook
	telegramSecret string
	eventsToken    string
	metrics        RequestObserver
	maxBody        int64
	logger         *slog.Logger

	spec *openapi3.T
}

// Option configures the Server.
type Option func(*Server)

// WithPaymentWebhook enables POST /webhooks/stripe.
func WithPaymentWebhook(w PaymentWebhook) Option {
	return func(s *Server) {
		s.webhook = w
	}
}

// WithTelegramSecret requires the Telegram secret token header on webhook calls.
func WithTelegramSecret(secret string) Option {
	return func(s *Server) {
		s.telegramSecret = secret
	}
}

// WithEventsToken enables POST /api/events behind an "Authorization: Bearer"
// token. Without a token the route is not mounted.
func WithEventsToken(token string) Option {
	return func(s *Server) {
		s.eventsToken = token
	}
}

// WithMetrics records request metrics and serves GET /metrics.
func WithMetrics(m RequestObserver) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithMaxBodySize overrides DefaultMaxBodySize.
func WithMaxBodySize(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// WithLogger configures a logger for the Server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// LoadSpec parses and validates the embedded OpenAPI document.
func LoadSpec(ctx context.Context) (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(rawSpec)
	if err != nil {
		return nil, fmt.Errorf("load openapi spec: %w", err)
	}
	if err := doc.Validate(ctx); err != nil {
		return nil, fmt.Errorf("validate openapi spec: %w", err)
	}
	return doc, nil
}

// NewHandler creates the HTTP handler.
func NewHandler(events EventHandler, bill Billing, opts ...Option) (http.Handler, error) {
	spec, err := LoadSpec(context.Background())
	if err != nil {
		return nil, err
	}
	s := &Server{
		Events:  events,
		Billing: bill,
		maxBody: DefaultMaxBodySize,
		logger:  logging.NewNop(),
		spec:    spec,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)
	r.Use(enableCORS)

	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(rawSpec)
	})
	r.Get("/swagger", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(swaggerHTML))
	})
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/plans", s.ListPlans)
		r.Post("/checkout", s.CreateCheckout)
		r.Get("/activation", s.GetActivation)
		if s.eventsToken != "" {
			r.With(s.requireBearer).Post("/events", s.PostEvent)
		}
	})

	r.Post("/webhooks/telegram", s.TelegramWebhook)
	if s.webhook != nil {
		r.Post("/webhooks/stripe", s.StripeWebhook)
	}
	return r, nil
}

// requireBearer rejects requests that do not carry the events token.
func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.eventsToken)) != 1 {
			w.Header().Set("WWW-Authenticate", `Bearer realm="vellora"`)
			writeError(w, http.StatusUnauthorized, "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// instrument reports every request to the metrics observer, labelled with
// the matched route pattern to keep label cardinality bounded.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.ObserveHTTP(route, r.Method, status, time.Since(start))
	})
}

const swaggerHTML = `
<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1" />
    <title>Vellora API Documentation</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5.11.0/swagger-ui.css" />
</head>
<body>
<div id="swagger-ui"></div>
<script src="https://unpkg.com/swagger-ui-dist@5.11.0/swagger-ui-bundle.js" crossorigin></script>
<script>
    window.onload = () => {
    window.ui = SwaggerUIBundle({
        url: '/openapi.yaml',
        dom_id: '#swagger-ui',
    });
    };
</script>
</body>
</html>
`

// GetHealth handles the GET /health request.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles the GET /info request.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"app":         "vellora-http",
		"version":     strings.TrimSpace(vellora.Version),
		"api_version": s.spec.Info.Version,
	})
}

// ListPlans handles the GET /api/plans request.
func (s *Server) ListPlans(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Billing.Catalogue().Plans())
}

type checkoutRequest struct {
	Plan string `json:"plan"`
}

type checkoutResponse struct {
	ID string `json:"id"`
}

// CreateCheckout handles the POST /api/checkout request.
func (s *Server) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	var body checkoutRequest
	if !s.decode(w, r, "/api/checkout", &body) {
		return
	}

	checkout, err := s.Billing.CreateCheckout(r.Context(), body.Plan)
	switch {
	case errors.Is(err, billing.ErrUnknownPlan):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logger.Error("Checkout failed", "plan", body.Plan, "err", err)
		writeError(w, http.StatusInternalServerError, "could not create checkout session")
		return
	}
	writeJSON(w, http.StatusOK, checkoutResponse{ID: checkout.SessionID})
}

type activationResponse struct {
	Code   string        `json:"code"`
	Plan   string        `json:"plan"`
	Status domain.Status `json:"status"`
}

// GetActivation handles the GET /api/activation request.
func (s *Server) GetActivation(w http.ResponseWriter, r *http.Request) {
	code, err := s.Billing.FetchActivation(r.Context(), r.URL.Query().Get("session_id"))
	var lookup *billing.LookupError
	switch {
	case errors.As(err, &lookup):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error(), CorrelationID: lookup.CorrelationID})
		return
	case errors.Is(err, billing.ErrActivationNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		s.logger.Error("Activation lookup failed", "err", err)
		writeError(w, http.StatusInternalServerError, "could not look up activation")
		return
	}
	writeJSON(w, http.StatusOK, activationResponse{Code: code.Code, Plan: code.Plan, Status: code.Status})
}

// PostEvent handles the POST /api/events request.
func (s *Server) PostEvent(w http.ResponseWriter, r *http.Request) {
	var ev domain.Event
	if !s.decode(w, r, "/api/events", &ev) {
		return
	}
	if ev.Kind == "" {
		ev.Kind = domain.EventText
		if strings.HasPrefix(ev.Text, "/") {
			ev.Kind = domain.EventCommand
		}
	}

	resp, err := s.Events.Handle(r.Context(), ev)
	if err != nil {
		s.logger.Error("Event handling failed", "correlation_id", resp.CorrelationID, "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{
			Error:         "event could not be processed",
			CorrelationID: resp.CorrelationID,
		})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// TelegramWebhook handles the POST /webhooks/telegram request. Processed
// updates are always acknowledged so Telegram does not redeliver them; the
// outcome is answered to the user by the controller.
func (s *Server) TelegramWebhook(w http.ResponseWriter, r *http.Request) {
	if s.telegramSecret != "" && !telegram.VerifySecret(r, s.telegramSecret) {
		writeError(w, http.StatusUnauthorized, "invalid secret token")
		return
	}
	ev, ok, err := telegram.DecodeUpdate(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		s.logger.Warn("TelegramWebhook: Invalid update", "err", err)
		writeError(w, http.StatusBadRequest, "invalid update")
		return
	}
	if ok {
		resp, err := s.Events.Handle(r.Context(), ev)
		if err != nil {
			s.logger.Error("TelegramWebhook: Event failed", "correlation_id", resp.CorrelationID, "err", err)
		}
	}
	w.WriteHeader(http.StatusOK)
}

// StripeWebhook handles the POST /webhooks/stripe request.
func (s *Server) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read body")
		return
	}

	session, err := s.webhook.CompletedSession(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		s.logger.Warn("StripeWebhook: Rejected delivery", "err", err)
		writeError(w, http.StatusBadRequest, "webhook error")
		return
	}
	if session == nil {
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}
	if !session.Paid {
		s.logger.Info("StripeWebhook: Checkout completed without payment", "session_id", session.ID)
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	_, err = s.Billing.ConfirmPayment(r.Context(), session)
	switch {
	case errors.Is(err, billing.ErrActivationNotFound):
		// Nothing a redelivery could fix.
		s.logger.Warn("StripeWebhook: No activation for session", "session_id", session.ID)
	case err != nil:
		s.logger.Error("StripeWebhook: Confirmation failed", "session_id", session.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "confirmation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

// decode reads a JSON body, validates it against the request schema of the
// POST operation at path and unmarshals it into dst.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, path string, dst any) bool {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := s.validateBody(path, generic); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) validateBody(path string, body any) error {
	item := s.spec.Paths.Value(path)
	if item == nil || item.Post == nil || item.Post.RequestBody == nil {
		return nil
	}
	media := item.Post.RequestBody.Value.Content.Get("application/json")
	if media == nil || media.Schema == nil {
		return nil
	}
	if err := media.Schema.Value.VisitJSON(body); err != nil {
		var schemaErr *openapi3.SchemaError
		if errors.As(err, &schemaErr) {
			return fmt.Errorf("invalid request body: %s", schemaErr.Reason)
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// -- Helpers --

type errorBody struct {
	Error         string `json:"error"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Response encode failed", "error", err)
	}
}
