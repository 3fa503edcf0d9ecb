package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/forgemarket/api/internal/services"
)

func newWebhookTestRouter(payments services.PaymentService) chi.Router {
	handler := NewWebhookHandlers(payments)
	router := chi.NewRouter()
	router.Route("/webhooks", handler.Routes)
	return router
}

func TestWebhookHandlersStripeSuccess(t *testing.T) {
	var gotPayload []byte
	var gotSignature string
	payments := &stubPaymentService{
		webhookFn: func(_ context.Context, payload []byte, signature string) error {
			gotPayload = payload
			gotSignature = signature
			return nil
		},
	}

	router := newWebhookTestRouter(payments)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader([]byte(`{"type":"payment_intent.succeeded"}`)))
	req.Header.Set(stripeSignatureHeader, "t=1,v1=abc")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if string(gotPayload) != `{"type":"payment_intent.succeeded"}` {
		t.Fatalf("unexpected payload %s", gotPayload)
	}
	if gotSignature != "t=1,v1=abc" {
		t.Fatalf("unexpected signature %s", gotSignature)
	}
}

func TestWebhookHandlersStripeBadSignature(t *testing.T) {
	payments := &stubPaymentService{
		webhookFn: func(context.Context, []byte, string) error {
			return services.ErrPaymentWebhookInvalid
		},
	}

	router := newWebhookTestRouter(payments)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader([]byte(`{}`)))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestWebhookHandlersStripeProcessingFailure(t *testing.T) {
	payments := &stubPaymentService{
		webhookFn: func(context.Context, []byte, string) error {
			return context.DeadlineExceeded
		},
	}

	router := newWebhookTestRouter(payments)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader([]byte(`{}`)))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rr.Code)
	}
}
