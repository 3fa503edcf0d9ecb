package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/forgemarket/api/internal/domain"
	"github.com/forgemarket/api/internal/platform/auth"
	"github.com/forgemarket/api/internal/platform/httpx"
	"github.com/forgemarket/api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderBodySize     = 4 * 1024
)

// OrderHandlers exposes order lifecycle endpoints for authenticated users.
type OrderHandlers struct {
	authn    *auth.Authenticator
	orders   services.OrderService
	payments services.PaymentService
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, payments services.PaymentService) *OrderHandlers {
	return &OrderHandlers{
		authn:    authn,
		orders:   orders,
		payments: payments,
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}/update-status", h.updateStatus)
	r.Get("/{orderID}/update-status", h.allowedTransitions)
	r.Post("/{orderID}/refund", h.refund)
}

type createOrderRequest struct {
	ProductID string `json:"productId"`
}

type updateOrderStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type refundOrderRequest struct {
	Reason string `json:"reason"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	var req createOrderRequest
	if !decodeJSONBody(ctx, w, r, maxOrderBodySize, &req) {
		return
	}

	order, err := h.orders.Create(ctx, services.CreateOrderCommand{
		ProductID: req.ProductID,
		BuyerID:   actor.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	query := r.URL.Query()

	pageSize, err := parsePageSize(query.Get("page_size"), defaultOrderPageSize, maxOrderPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "page_size must be an integer", http.StatusBadRequest))
		return
	}

	var status domain.OrderStatus
	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		status = domain.OrderStatus(raw)
		if !domain.IsValidOrderStatus(status) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a valid order status", http.StatusBadRequest))
			return
		}
	}

	page, err := h.orders.List(ctx, services.OrderListQuery{
		Actor:     actor,
		Status:    status,
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(query.Get("page_token")),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderPayload(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	view, err := h.orders.Get(ctx, services.OrderQuery{OrderID: orderID, Actor: actor})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, orderViewResponse{
		Order:              buildOrderPayload(view.Order),
		AllowedTransitions: statusStrings(view.AllowedTransitions),
	})
}

func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))

	var req updateOrderStatusRequest
	if !decodeJSONBody(ctx, w, r, maxOrderBodySize, &req) {
		return
	}

	view, err := h.orders.UpdateStatus(ctx, services.OrderStatusUpdateCommand{
		OrderID:      orderID,
		TargetStatus: domain.OrderStatus(strings.TrimSpace(req.Status)),
		Actor:        actor,
		Reason:       req.Reason,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, updateOrderStatusResponse{
		Success:        true,
		Message:        "order status updated",
		Order:          buildOrderPayload(view.Order),
		PreviousStatus: string(view.PreviousStatus),
	})
}

func (h *OrderHandlers) allowedTransitions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := requireActor(ctx, w); !ok {
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	view, err := h.orders.GetStatus(ctx, orderID)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	transitionMap := make(map[string][]string)
	for status, next := range domain.TransitionMap() {
		transitionMap[string(status)] = statusStrings(next)
	}

	writeJSONResponse(w, http.StatusOK, allowedTransitionsResponse{
		OrderID:            view.Order.ID,
		CurrentStatus:      string(view.Order.Status),
		AllowedTransitions: statusStrings(view.AllowedTransitions),
		TransitionMap:      transitionMap,
	})
}

func (h *OrderHandlers) refund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := requireActor(ctx, w)
	if !ok {
		return
	}
	if !actor.IsAdmin() {
		httpx.WriteError(ctx, w, httpx.NewError("insufficient_role", "refunds require the admin role", http.StatusForbidden))
		return
	}
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))

	var req refundOrderRequest
	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil && !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
			return
		}
	}

	if err := h.payments.Refund(ctx, services.RefundPaymentCommand{
		OrderID: orderID,
		Actor:   actor,
		Reason:  req.Reason,
	}); err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "refund issued",
		"orderId": orderID,
	})
}

// Response payloads --------------------------------------------------------

type orderPayload struct {
	ID           string  `json:"id"`
	ProductID    string  `json:"productId,omitempty"`
	CompanyID    string  `json:"companyId,omitempty"`
	BuyerID      string  `json:"buyerId,omitempty"`
	Status       string  `json:"status"`
	Amount       float64 `json:"amount,omitempty"`
	Currency     string  `json:"currency,omitempty"`
	PaidAt       string  `json:"paidAt,omitempty"`
	InProgressAt string  `json:"inProgressAt,omitempty"`
	DeliveredAt  string  `json:"deliveredAt,omitempty"`
	CompletedAt  string  `json:"completedAt,omitempty"`
	CancelledAt  string  `json:"cancelledAt,omitempty"`
	RefundedAt   string  `json:"refundedAt,omitempty"`
	CreatedAt    string  `json:"createdAt,omitempty"`
	UpdatedAt    string  `json:"updatedAt,omitempty"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderViewResponse struct {
	Order              orderPayload `json:"order"`
	AllowedTransitions []string     `json:"allowedTransitions"`
}

type orderListResponse struct {
	Items         []orderPayload `json:"items"`
	NextPageToken string         `json:"nextPageToken,omitempty"`
}

type updateOrderStatusResponse struct {
	Success        bool         `json:"success"`
	Message        string       `json:"message"`
	Order          orderPayload `json:"order"`
	PreviousStatus string       `json:"previousStatus,omitempty"`
}

type allowedTransitionsResponse struct {
	OrderID            string              `json:"orderId"`
	CurrentStatus      string              `json:"currentStatus"`
	AllowedTransitions []string            `json:"allowedTransitions"`
	TransitionMap      map[string][]string `json:"transitionMap"`
}

func buildOrderPayload(order domain.Order) orderPayload {
	return orderPayload{
		ID:           order.ID,
		ProductID:    order.ProductID,
		CompanyID:    order.CompanyID,
		BuyerID:      order.BuyerID,
		Status:       string(order.Status),
		Amount:       order.Amount,
		Currency:     order.Currency,
		PaidAt:       formatTimePointer(order.PaidAt),
		InProgressAt: formatTimePointer(order.InProgressAt),
		DeliveredAt:  formatTimePointer(order.DeliveredAt),
		CompletedAt:  formatTimePointer(order.CompletedAt),
		CancelledAt:  formatTimePointer(order.CancelledAt),
		RefundedAt:   formatTimePointer(order.RefundedAt),
		CreatedAt:    formatTime(order.CreatedAt),
		UpdatedAt:    formatTime(order.UpdatedAt),
	}
}

func statusStrings(statuses []domain.OrderStatus) []string {
	out := make([]string, 0, len(statuses))
	for _, status := range statuses {
		out = append(out, string(status))
	}
	return out
}

func requireActor(ctx context.Context, w http.ResponseWriter) (services.Actor, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return services.Actor{}, false
	}
	return services.Actor{UID: strings.TrimSpace(identity.UID), Roles: identity.Roles}, true
}

func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, limit int64, target any) bool {
	body, err := readLimitedBody(r, limit)
	if err != nil {
		writeBodyError(ctx, w, err)
		return false
	}
	if err := json.Unmarshal(body, target); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	case errors.Is(err, errEmptyBody):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var transitionErr *services.InvalidTransitionError
	if errors.As(err, &transitionErr) {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_transition", transitionErr.Error(), http.StatusBadRequest).
			WithDetails(map[string]any{
				"currentStatus":      string(transitionErr.Current),
				"allowedTransitions": statusStrings(domain.AllowedTransitions(transitionErr.Current)),
			}))
		return
	}

	switch {
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "actor may not act on this order", http.StatusForbidden))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}
