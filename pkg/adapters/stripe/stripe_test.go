package stripe_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	stripego "github.com/stripe/stripe-go/v76"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/vellora/pkg/adapters/stripe"
	"github.com/aretw0/vellora/pkg/domain"
	"github.com/aretw0/vellora/pkg/ports"
)

func newProcessor(t *testing.T, handler http.HandlerFunc) *stripe.Processor {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	backend := stripego.GetBackendWithConfig(stripego.APIBackend, &stripego.BackendConfig{
		URL:               stripego.String(srv.URL),
		HTTPClient:        srv.Client(),
		LeveledLogger:     &stripego.LeveledLogger{Level: stripego.LevelNull},
		MaxNetworkRetries: stripego.Int64(0),
	})
	return stripe.NewWithBackends("sk_test_123", &stripego.Backends{API: backend, Connect: backend, Uploads: backend})
}

func TestProcessor_CreateCheckoutSession(t *testing.T) {
	var form url.Values
	p := newProcessor(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		form, _ = url.ParseQuery(string(body))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"cs_test_1","object":"checkout.session"}`)
	})

	id, err := p.CreateCheckoutSession(context.Background(), ports.CheckoutRequest{
		PlanID:      "grower",
		ProductName: "Vellora Grower Plan",
		AmountMinor: 1299,
		Currency:    "gbp",
		SuccessURL:  "https://vellora.test/setup?code=ABC123",
		CancelURL:   "https://vellora.test/cancel",
		Metadata:    map[string]string{domain.MetadataSetupCode: "ABC123", domain.MetadataPlan: "grower"},
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", id)

	assert.Equal(t, "payment", form.Get("mode"))
	assert.Equal(t, "1299", form.Get("line_items[0][price_data][unit_amount]"))
	assert.Equal(t, "gbp", form.Get("line_items[0][price_data][currency]"))
	assert.Equal(t, "Vellora Grower Plan", form.Get("line_items[0][price_data][product_data][name]"))
	assert.Equal(t, "ABC123", form.Get("metadata[setupCode]"))
	assert.Equal(t, "grower", form.Get("metadata[plan]"))
}

func TestProcessor_RetrieveSession(t *testing.T) {
	p := newProcessor(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path != "/v1/checkout/sessions/cs_paid" {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"error":{"type":"invalid_request_error","message":"No such checkout.session"}}`)
			return
		}
		fmt.Fprint(w, `{
			"id":"cs_paid",
			"object":"checkout.session",
			"payment_status":"paid",
			"metadata":{"setupCode":"ABC123","plan":"grower"},
			"customer_details":{"email":"jo@example.com"}
		}`)
	})

	s, err := p.RetrieveSession(context.Background(), "cs_paid")
	require.NoError(t, err)
	assert.True(t, s.Paid)
	assert.Equal(t, "ABC123", s.Metadata[domain.MetadataSetupCode])
	assert.Equal(t, "jo@example.com", s.CustomerEmail)

	_, err = p.RetrieveSession(context.Background(), "cs_missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

// sign builds a Stripe-Signature header for payload.
func sign(secret string, payload []byte, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func eventPayload(eventType string) []byte {
	return []byte(fmt.Sprintf(`{
		"id":"evt_1",
		"object":"event",
		"api_version":%q,
		"type":%q,
		"data":{"object":{
			"id":"cs_paid",
			"object":"checkout.session",
			"payment_status":"paid",
			"metadata":{"setupCode":"ABC123","plan":"bloomer"},
			"customer_details":{"email":"jo@example.com"}
		}}
	}`, stripego.APIVersion, eventType))
}

func TestWebhook_CompletedSession(t *testing.T) {
	const secret = "whsec_test"
	w := stripe.NewWebhook(secret)
	payload := eventPayload(stripe.EventCheckoutCompleted)

	s, err := w.CompletedSession(payload, sign(secret, payload, time.Now()))
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "cs_paid", s.ID)
	assert.Equal(t, "ABC123", s.Metadata[domain.MetadataSetupCode])
	assert.Equal(t, "jo@example.com", s.CustomerEmail)
	assert.True(t, s.Paid)
}

func TestWebhook_IgnoresOtherEvents(t *testing.T) {
	const secret = "whsec_test"
	w := stripe.NewWebhook(secret)
	payload := eventPayload("payment_intent.created")

	s, err := w.CompletedSession(payload, sign(secret, payload, time.Now()))
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	w := stripe.NewWebhook("whsec_test")
	payload := eventPayload(stripe.EventCheckoutCompleted)

	_, err := w.CompletedSession(payload, sign("whsec_other", payload, time.Now()))
	assert.ErrorIs(t, err, stripe.ErrInvalidSignature)
}
