package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/forgemarket/api/internal/platform/httpx"
	"github.com/forgemarket/api/internal/services"
)

// Stripe posts event payloads up to 64KiB; anything larger is not ours.
const maxWebhookBodySize = 64 * 1024

const stripeSignatureHeader = "Stripe-Signature"

// WebhookHandlers receives processor callbacks. Routes are unauthenticated;
// payloads are verified by signature instead.
type WebhookHandlers struct {
	payments services.PaymentService
}

// NewWebhookHandlers constructs a new WebhookHandlers instance.
func NewWebhookHandlers(payments services.PaymentService) *WebhookHandlers {
	return &WebhookHandlers{payments: payments}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.stripeWebhook)
}

func (h *WebhookHandlers) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize+1))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to read request body", http.StatusBadRequest))
		return
	}
	if len(payload) > maxWebhookBodySize {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	}

	if err := h.payments.HandleWebhookEvent(ctx, payload, r.Header.Get(stripeSignatureHeader)); err != nil {
		if errors.Is(err, services.ErrPaymentWebhookInvalid) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_webhook", "webhook verification failed", http.StatusBadRequest))
			return
		}
		// Processing failures are retryable on Stripe's side.
		httpx.WriteError(ctx, w, httpx.NewError("webhook_error", "failed to process webhook", http.StatusInternalServerError))
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{"received": true})
}
