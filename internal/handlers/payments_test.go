package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/forgemarket/api/internal/platform/auth"
	"github.com/forgemarket/api/internal/services"
)

func newPaymentTestRouter(payments services.PaymentService) chi.Router {
	handler := NewPaymentHandlers(nil, payments)
	router := chi.NewRouter()
	router.Route("/stripe", handler.Routes)
	return router
}

func TestPaymentHandlersCreatePaymentIntent(t *testing.T) {
	var captured services.CreatePaymentIntentCommand
	payments := &stubPaymentService{
		createFn: func(_ context.Context, cmd services.CreatePaymentIntentCommand) (services.PaymentIntentResult, error) {
			captured = cmd
			return services.PaymentIntentResult{
				IntentID:     "pi_123",
				ClientSecret: "pi_123_secret",
				Amount:       149.99,
				Currency:     "usd",
				PlatformFee:  15.00,
			}, nil
		},
	}

	router := newPaymentTestRouter(payments)
	req := authedRequest(http.MethodPost, "/stripe/create-payment-intent", []byte(`{"productId":"prd_1","orderId":"ord_1"}`), &auth.Identity{UID: "buyer-1"})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ProductID != "prd_1" || captured.CustomerID != "buyer-1" || captured.OrderID != "ord_1" {
		t.Fatalf("unexpected command %+v", captured)
	}

	var resp createPaymentIntentResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.ClientSecret != "pi_123_secret" || resp.PaymentIntentID != "pi_123" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Amount != 149.99 || resp.Currency != "usd" {
		t.Fatalf("unexpected amount %v %s", resp.Amount, resp.Currency)
	}
}

func TestPaymentHandlersCreatePaymentIntentProductNotFound(t *testing.T) {
	payments := &stubPaymentService{
		createFn: func(context.Context, services.CreatePaymentIntentCommand) (services.PaymentIntentResult, error) {
			return services.PaymentIntentResult{}, services.ErrPaymentProductNotFound
		},
	}

	router := newPaymentTestRouter(payments)
	req := authedRequest(http.MethodPost, "/stripe/create-payment-intent", []byte(`{"productId":"prd_missing"}`), &auth.Identity{UID: "buyer-1"})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}

func TestPaymentHandlersCreatePaymentIntentMissingPayout(t *testing.T) {
	payments := &stubPaymentService{
		createFn: func(context.Context, services.CreatePaymentIntentCommand) (services.PaymentIntentResult, error) {
			return services.PaymentIntentResult{}, services.ErrPaymentMissingPayoutDestination
		},
	}

	router := newPaymentTestRouter(payments)
	req := authedRequest(http.MethodPost, "/stripe/create-payment-intent", []byte(`{"productId":"prd_1"}`), &auth.Identity{UID: "buyer-1"})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestPaymentHandlersCreatePaymentIntentProviderError(t *testing.T) {
	payments := &stubPaymentService{
		createFn: func(context.Context, services.CreatePaymentIntentCommand) (services.PaymentIntentResult, error) {
			return services.PaymentIntentResult{}, fmt.Errorf("%w: card declined by issuer", services.ErrPaymentProvider)
		},
	}

	router := newPaymentTestRouter(payments)
	req := authedRequest(http.MethodPost, "/stripe/create-payment-intent", []byte(`{"productId":"prd_1"}`), &auth.Identity{UID: "buyer-1"})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rr.Code)
	}

	var envelope struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if envelope.Error != "payment_provider_error" {
		t.Fatalf("expected payment_provider_error code, got %q", envelope.Error)
	}
	if !strings.Contains(envelope.Message, "card declined by issuer") {
		t.Fatalf("expected processor message in envelope, got %q", envelope.Message)
	}
}

func TestPaymentHandlersCreatePaymentIntentUnauthenticated(t *testing.T) {
	router := newPaymentTestRouter(&stubPaymentService{})
	req := authedRequest(http.MethodPost, "/stripe/create-payment-intent", []byte(`{"productId":"prd_1"}`), nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}
