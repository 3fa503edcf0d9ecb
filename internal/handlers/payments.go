package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/forgemarket/api/internal/platform/auth"
	"github.com/forgemarket/api/internal/platform/httpx"
	"github.com/forgemarket/api/internal/services"
)

const maxPaymentBodySize = 4 * 1024

// PaymentHandlers exposes payment intent endpoints for authenticated buyers.
type PaymentHandlers struct {
	authn    *auth.Authenticator
	payments services.PaymentService
}

// NewPaymentHandlers constructs a new PaymentHandlers instance.
func NewPaymentHandlers(authn *auth.Authenticator, payments services.PaymentService) *PaymentHandlers {
	return &PaymentHandlers{
		authn:    authn,
		payments: payments,
	}
}

// Routes registers the /stripe endpoints.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/create-payment-intent", h.createPaymentIntent)
}

type createPaymentIntentRequest struct {
	ProductID string `json:"productId"`
	OrderID   string `json:"orderId,omitempty"`
}

type createPaymentIntentResponse struct {
	ClientSecret    string  `json:"clientSecret"`
	PaymentIntentID string  `json:"paymentIntentId"`
	Amount          float64 `json:"amount"`
	Currency        string  `json:"currency"`
	PlatformFee     float64 `json:"platformFee"`
}

func (h *PaymentHandlers) createPaymentIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	var req createPaymentIntentRequest
	if !decodeJSONBody(ctx, w, r, maxPaymentBodySize, &req) {
		return
	}

	result, err := h.payments.CreatePaymentIntent(ctx, services.CreatePaymentIntentCommand{
		ProductID:  req.ProductID,
		CustomerID: actor.UID,
		OrderID:    req.OrderID,
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, createPaymentIntentResponse{
		ClientSecret:    result.ClientSecret,
		PaymentIntentID: result.IntentID,
		Amount:          result.Amount,
		Currency:        result.Currency,
		PlatformFee:     result.PlatformFee,
	})
}

func writePaymentError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrPaymentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found or unavailable", http.StatusNotFound))
	case errors.Is(err, services.ErrPaymentMissingPayoutDestination):
		httpx.WriteError(ctx, w, httpx.NewError("missing_payout_destination", "seller has no connected payout account", http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentNotRefundable):
		httpx.WriteError(ctx, w, httpx.NewError("not_refundable", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrPaymentWebhookInvalid):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_webhook", "webhook verification failed", http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentProvider):
		// The upstream processor message is part of the contract; callers
		// need it to distinguish declines from configuration errors.
		httpx.WriteError(ctx, w, httpx.NewError("payment_provider_error", err.Error(), http.StatusInternalServerError))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("payment_error", "failed to process payment request", http.StatusInternalServerError))
	}
}
