package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/forgemarket/api/internal/domain"
	"github.com/forgemarket/api/internal/platform/auth"
	"github.com/forgemarket/api/internal/services"
)

type stubOrderService struct {
	createFn    func(context.Context, services.CreateOrderCommand) (domain.Order, error)
	getFn       func(context.Context, services.OrderQuery) (services.OrderView, error)
	getStatusFn func(context.Context, string) (services.OrderView, error)
	listFn      func(context.Context, services.OrderListQuery) (domain.CursorPage[domain.Order], error)
	updateFn    func(context.Context, services.OrderStatusUpdateCommand) (services.OrderView, error)
}

func (s *stubOrderService) Create(ctx context.Context, cmd services.CreateOrderCommand) (domain.Order, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderService) Get(ctx context.Context, query services.OrderQuery) (services.OrderView, error) {
	if s.getFn != nil {
		return s.getFn(ctx, query)
	}
	return services.OrderView{}, errors.New("not implemented")
}

func (s *stubOrderService) GetStatus(ctx context.Context, orderID string) (services.OrderView, error) {
	if s.getStatusFn != nil {
		return s.getStatusFn(ctx, orderID)
	}
	return services.OrderView{}, errors.New("not implemented")
}

func (s *stubOrderService) List(ctx context.Context, query services.OrderListQuery) (domain.CursorPage[domain.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, query)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

func (s *stubOrderService) UpdateStatus(ctx context.Context, cmd services.OrderStatusUpdateCommand) (services.OrderView, error) {
	if s.updateFn != nil {
		return s.updateFn(ctx, cmd)
	}
	return services.OrderView{}, errors.New("not implemented")
}

type stubPaymentService struct {
	createFn  func(context.Context, services.CreatePaymentIntentCommand) (services.PaymentIntentResult, error)
	webhookFn func(context.Context, []byte, string) error
	refundFn  func(context.Context, services.RefundPaymentCommand) error
}

func (s *stubPaymentService) CreatePaymentIntent(ctx context.Context, cmd services.CreatePaymentIntentCommand) (services.PaymentIntentResult, error) {
	if s.createFn != nil {
		return s.createFn(ctx, cmd)
	}
	return services.PaymentIntentResult{}, errors.New("not implemented")
}

func (s *stubPaymentService) HandleWebhookEvent(ctx context.Context, payload []byte, signature string) error {
	if s.webhookFn != nil {
		return s.webhookFn(ctx, payload, signature)
	}
	return errors.New("not implemented")
}

func (s *stubPaymentService) Refund(ctx context.Context, cmd services.RefundPaymentCommand) error {
	if s.refundFn != nil {
		return s.refundFn(ctx, cmd)
	}
	return errors.New("not implemented")
}

func newOrderTestRouter(orders services.OrderService, payments services.PaymentService) chi.Router {
	handler := NewOrderHandlers(nil, orders, payments)
	router := chi.NewRouter()
	router.Route("/orders", handler.Routes)
	return router
}

func authedRequest(method, target string, body []byte, identity *auth.Identity) *http.Request {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if identity != nil {
		req = req.WithContext(auth.WithIdentity(req.Context(), identity))
	}
	return req
}

func TestOrderHandlersUpdateStatusSuccess(t *testing.T) {
	now := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	var captured services.OrderStatusUpdateCommand
	service := &stubOrderService{
		updateFn: func(_ context.Context, cmd services.OrderStatusUpdateCommand) (services.OrderView, error) {
			captured = cmd
			inProgressAt := now
			return services.OrderView{
				Order: domain.Order{
					ID:           cmd.OrderID,
					Status:       domain.OrderStatusInProgress,
					InProgressAt: &inProgressAt,
					UpdatedAt:    now,
				},
				AllowedTransitions: domain.AllowedTransitions(domain.OrderStatusInProgress),
				PreviousStatus:     domain.OrderStatusPaid,
			}, nil
		},
	}

	router := newOrderTestRouter(service, &stubPaymentService{})
	body := []byte(`{"status":"in_progress","reason":"work started"}`)
	req := authedRequest(http.MethodPost, "/orders/ord_1/update-status", body, &auth.Identity{UID: "seller-1", Roles: []string{"seller"}})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	if captured.OrderID != "ord_1" || captured.TargetStatus != domain.OrderStatusInProgress {
		t.Fatalf("unexpected command %+v", captured)
	}
	if captured.Actor.UID != "seller-1" {
		t.Fatalf("unexpected actor %+v", captured.Actor)
	}
	if captured.Reason != "work started" {
		t.Fatalf("unexpected reason %q", captured.Reason)
	}

	var resp updateOrderStatusResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if !resp.Success {
		t.Fatal("expected success true")
	}
	if resp.PreviousStatus != "paid" {
		t.Fatalf("expected previous status paid, got %s", resp.PreviousStatus)
	}
	if resp.Order.Status != "in_progress" {
		t.Fatalf("expected order status in_progress, got %s", resp.Order.Status)
	}
}

func TestOrderHandlersUpdateStatusInvalidTransition(t *testing.T) {
	service := &stubOrderService{
		updateFn: func(context.Context, services.OrderStatusUpdateCommand) (services.OrderView, error) {
			return services.OrderView{}, &services.InvalidTransitionError{
				OrderID: "ord_1",
				Current: domain.OrderStatusDelivered,
				Target:  domain.OrderStatusPaid,
			}
		},
	}

	router := newOrderTestRouter(service, &stubPaymentService{})
	body := []byte(`{"status":"paid"}`)
	req := authedRequest(http.MethodPost, "/orders/ord_1/update-status", body, &auth.Identity{UID: "seller-1"})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp["error"] != "invalid_transition" {
		t.Fatalf("expected invalid_transition error, got %v", resp["error"])
	}
	if resp["currentStatus"] != "delivered" {
		t.Fatalf("expected currentStatus delivered, got %v", resp["currentStatus"])
	}
	allowed, ok := resp["allowedTransitions"].([]any)
	if !ok || len(allowed) != 2 {
		t.Fatalf("expected allowedTransitions for delivered, got %v", resp["allowedTransitions"])
	}
}

func TestOrderHandlersUpdateStatusConflict(t *testing.T) {
	service := &stubOrderService{
		updateFn: func(context.Context, services.OrderStatusUpdateCommand) (services.OrderView, error) {
			return services.OrderView{}, services.ErrOrderConflict
		},
	}

	router := newOrderTestRouter(service, &stubPaymentService{})
	req := authedRequest(http.MethodPost, "/orders/ord_1/update-status", []byte(`{"status":"cancelled"}`), &auth.Identity{UID: "buyer-1"})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rr.Code)
	}
}

func TestOrderHandlersUpdateStatusUnauthenticated(t *testing.T) {
	router := newOrderTestRouter(&stubOrderService{}, &stubPaymentService{})
	req := authedRequest(http.MethodPost, "/orders/ord_1/update-status", []byte(`{"status":"paid"}`), nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestOrderHandlersAllowedTransitions(t *testing.T) {
	service := &stubOrderService{
		getStatusFn: func(_ context.Context, orderID string) (services.OrderView, error) {
			return services.OrderView{
				Order:              domain.Order{ID: orderID, Status: domain.OrderStatusPaid},
				AllowedTransitions: domain.AllowedTransitions(domain.OrderStatusPaid),
			}, nil
		},
	}

	router := newOrderTestRouter(service, &stubPaymentService{})
	req := authedRequest(http.MethodGet, "/orders/ord_1/update-status", nil, &auth.Identity{UID: "anyone"})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var resp allowedTransitionsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.OrderID != "ord_1" || resp.CurrentStatus != "paid" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(resp.AllowedTransitions) != 3 {
		t.Fatalf("expected 3 allowed transitions for paid, got %v", resp.AllowedTransitions)
	}
	if len(resp.TransitionMap) != 7 {
		t.Fatalf("expected transition map over all statuses, got %v", resp.TransitionMap)
	}
	if len(resp.TransitionMap["completed"]) != 0 {
		t.Fatalf("expected terminal completed to have no transitions, got %v", resp.TransitionMap["completed"])
	}
}

func TestOrderHandlersCreateOrder(t *testing.T) {
	service := &stubOrderService{
		createFn: func(_ context.Context, cmd services.CreateOrderCommand) (domain.Order, error) {
			return domain.Order{
				ID:        "ord_1",
				ProductID: cmd.ProductID,
				BuyerID:   cmd.BuyerID,
				Status:    domain.OrderStatusPendingPayment,
			}, nil
		},
	}

	router := newOrderTestRouter(service, &stubPaymentService{})
	req := authedRequest(http.MethodPost, "/orders", []byte(`{"productId":"prd_1"}`), &auth.Identity{UID: "buyer-1"})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp orderResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if resp.Order.ID != "ord_1" || resp.Order.Status != "pending_payment" {
		t.Fatalf("unexpected order %+v", resp.Order)
	}
}

func TestOrderHandlersListOrdersInvalidStatus(t *testing.T) {
	router := newOrderTestRouter(&stubOrderService{}, &stubPaymentService{})
	req := authedRequest(http.MethodGet, "/orders?status=bogus", nil, &auth.Identity{UID: "buyer-1"})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestOrderHandlersRefundRequiresAdmin(t *testing.T) {
	router := newOrderTestRouter(&stubOrderService{}, &stubPaymentService{})
	req := authedRequest(http.MethodPost, "/orders/ord_1/refund", []byte(`{"reason":"defective"}`), &auth.Identity{UID: "buyer-1", Roles: []string{"buyer"}})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", rr.Code)
	}
}

func TestOrderHandlersRefundSuccess(t *testing.T) {
	var captured services.RefundPaymentCommand
	payments := &stubPaymentService{
		refundFn: func(_ context.Context, cmd services.RefundPaymentCommand) error {
			captured = cmd
			return nil
		},
	}

	router := newOrderTestRouter(&stubOrderService{}, payments)
	req := authedRequest(http.MethodPost, "/orders/ord_1/refund", []byte(`{"reason":"defective"}`), &auth.Identity{UID: "root", Roles: []string{"admin"}})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord_1" || captured.Reason != "defective" {
		t.Fatalf("unexpected refund command %+v", captured)
	}
}
