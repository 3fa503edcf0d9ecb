package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/forgemarket/api/internal/domain"
	"github.com/forgemarket/api/internal/repositories"
)

type stubRepoError struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e stubRepoError) Error() string       { return e.msg }
func (e stubRepoError) IsNotFound() bool    { return e.notFound }
func (e stubRepoError) IsConflict() bool    { return e.conflict }
func (e stubRepoError) IsUnavailable() bool { return e.unavailable }

var errStubNotFound = stubRepoError{msg: "not found", notFound: true}

type stubOrderRepo struct {
	insertFn       func(context.Context, domain.Order) error
	findFn         func(context.Context, string) (domain.Order, error)
	listFn         func(context.Context, repositories.OrderListFilter) (domain.CursorPage[domain.Order], error)
	updateStatusFn func(context.Context, string, domain.OrderStatus, repositories.OrderStatusUpdate) (domain.Order, error)
}

func (s *stubOrderRepo) Insert(ctx context.Context, order domain.Order) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, order)
	}
	return nil
}

func (s *stubOrderRepo) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if s.findFn != nil {
		return s.findFn(ctx, orderID)
	}
	return domain.Order{}, errors.New("not implemented")
}

func (s *stubOrderRepo) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Order]{}, nil
}

func (s *stubOrderRepo) UpdateStatus(ctx context.Context, orderID string, expected domain.OrderStatus, update repositories.OrderStatusUpdate) (domain.Order, error) {
	if s.updateStatusFn != nil {
		return s.updateStatusFn(ctx, orderID, expected, update)
	}
	return domain.Order{}, errors.New("not implemented")
}

type stubProductRepo struct {
	insertFn      func(context.Context, domain.Product) error
	updateFn      func(context.Context, domain.Product) error
	findFn        func(context.Context, string) (domain.Product, error)
	findListingFn func(context.Context, string) (domain.ProductListing, error)
	listFn        func(context.Context, repositories.ProductListFilter) (domain.CursorPage[domain.Product], error)
	setActiveFn   func(context.Context, string, bool, time.Time) error
}

func (s *stubProductRepo) Insert(ctx context.Context, product domain.Product) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, product)
	}
	return nil
}

func (s *stubProductRepo) Update(ctx context.Context, product domain.Product) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, product)
	}
	return nil
}

func (s *stubProductRepo) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if s.findFn != nil {
		return s.findFn(ctx, productID)
	}
	return domain.Product{}, errors.New("not implemented")
}

func (s *stubProductRepo) FindListing(ctx context.Context, productID string) (domain.ProductListing, error) {
	if s.findListingFn != nil {
		return s.findListingFn(ctx, productID)
	}
	return domain.ProductListing{}, errors.New("not implemented")
}

func (s *stubProductRepo) List(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	if s.listFn != nil {
		return s.listFn(ctx, filter)
	}
	return domain.CursorPage[domain.Product]{}, nil
}

func (s *stubProductRepo) SetActive(ctx context.Context, productID string, active bool, updatedAt time.Time) error {
	if s.setActiveFn != nil {
		return s.setActiveFn(ctx, productID, active, updatedAt)
	}
	return nil
}

type stubCompanyRepo struct {
	insertFn              func(context.Context, domain.Company) error
	updateFn              func(context.Context, domain.Company) error
	findFn                func(context.Context, string) (domain.Company, error)
	findByOwnerFn         func(context.Context, string) (domain.Company, error)
	updateStripeAccountFn func(context.Context, string, string, time.Time) error
}

func (s *stubCompanyRepo) Insert(ctx context.Context, company domain.Company) error {
	if s.insertFn != nil {
		return s.insertFn(ctx, company)
	}
	return nil
}

func (s *stubCompanyRepo) Update(ctx context.Context, company domain.Company) error {
	if s.updateFn != nil {
		return s.updateFn(ctx, company)
	}
	return nil
}

func (s *stubCompanyRepo) FindByID(ctx context.Context, companyID string) (domain.Company, error) {
	if s.findFn != nil {
		return s.findFn(ctx, companyID)
	}
	return domain.Company{}, errStubNotFound
}

func (s *stubCompanyRepo) FindByOwner(ctx context.Context, ownerID string) (domain.Company, error) {
	if s.findByOwnerFn != nil {
		return s.findByOwnerFn(ctx, ownerID)
	}
	return domain.Company{}, errStubNotFound
}

func (s *stubCompanyRepo) UpdateStripeAccount(ctx context.Context, companyID, stripeAccountID string, updatedAt time.Time) error {
	if s.updateStripeAccountFn != nil {
		return s.updateStripeAccountFn(ctx, companyID, stripeAccountID, updatedAt)
	}
	return nil
}

type captureOrderEvents struct {
	events []OrderEvent
}

func (c *captureOrderEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	c.events = append(c.events, event)
	return nil
}

type captureAudit struct {
	entries []AuditEntry
}

func (c *captureAudit) Record(_ context.Context, entry AuditEntry) {
	c.entries = append(c.entries, entry)
}

func (c *captureAudit) List(context.Context, repositories.AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error) {
	return domain.CursorPage[domain.AuditLogEntry]{}, errors.New("not implemented")
}

type stubUnitOfWork struct {
	runFn func(context.Context, func(context.Context) error) error
}

func (s *stubUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.runFn != nil {
		return s.runFn(ctx, fn)
	}
	return fn(ctx)
}

func testListing(active bool) domain.ProductListing {
	stripeAccount := "acct_123"
	return domain.ProductListing{
		Product: domain.Product{
			ID:        "prd_1",
			CompanyID: "cmp_1",
			Name:      "Bridge inspection",
			Price:     149.99,
			Currency:  "usd",
			IsActive:  active,
		},
		Company: domain.Company{
			ID:              "cmp_1",
			OwnerID:         "seller-1",
			Name:            "Acme Engineering",
			StripeAccountID: &stripeAccount,
		},
	}
}

func TestOrderServiceCreate(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 12, 10, 0, 0, 0, time.UTC)
	inserted := make([]domain.Order, 0, 1)
	events := &captureOrderEvents{}
	audit := &captureAudit{}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders: &stubOrderRepo{
			insertFn: func(_ context.Context, order domain.Order) error {
				inserted = append(inserted, order)
				return nil
			},
		},
		Products: &stubProductRepo{
			findListingFn: func(_ context.Context, productID string) (domain.ProductListing, error) {
				if productID != "prd_1" {
					t.Fatalf("unexpected product id %s", productID)
				}
				return testListing(true), nil
			},
		},
		Companies:   &stubCompanyRepo{},
		Audit:       audit,
		Clock:       func() time.Time { return now },
		IDGenerator: func() string { return "000TEST" },
		Events:      events,
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}

	order, err := svc.Create(ctx, CreateOrderCommand{ProductID: "prd_1", BuyerID: "buyer-1"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if order.ID != "ord_000TEST" {
		t.Fatalf("unexpected order id %s", order.ID)
	}
	if order.Status != domain.OrderStatusPendingPayment {
		t.Fatalf("expected pending_payment got %s", order.Status)
	}
	if order.Amount != 149.99 || order.Currency != "usd" {
		t.Fatalf("unexpected amount %v %s", order.Amount, order.Currency)
	}
	if len(inserted) != 1 {
		t.Fatalf("expected 1 inserted order got %d", len(inserted))
	}
	if len(events.events) != 1 || events.events[0].Type != "order.created" {
		t.Fatalf("unexpected events %+v", events.events)
	}
	if len(audit.entries) != 1 || audit.entries[0].TargetRef != "orders/ord_000TEST" {
		t.Fatalf("unexpected audit entries %+v", audit.entries)
	}
}

func TestOrderServiceCreateRejectsInactiveProduct(t *testing.T) {
	svc, err := NewOrderService(OrderServiceDeps{
		Orders: &stubOrderRepo{},
		Products: &stubProductRepo{
			findListingFn: func(context.Context, string) (domain.ProductListing, error) {
				return testListing(false), nil
			},
		},
		Companies: &stubCompanyRepo{},
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}

	_, err = svc.Create(context.Background(), CreateOrderCommand{ProductID: "prd_1", BuyerID: "buyer-1"})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input got %v", err)
	}
}

func TestOrderServiceCreateRejectsSelfPurchase(t *testing.T) {
	svc, err := NewOrderService(OrderServiceDeps{
		Orders: &stubOrderRepo{},
		Products: &stubProductRepo{
			findListingFn: func(context.Context, string) (domain.ProductListing, error) {
				return testListing(true), nil
			},
		},
		Companies: &stubCompanyRepo{},
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}

	_, err = svc.Create(context.Background(), CreateOrderCommand{ProductID: "prd_1", BuyerID: "seller-1"})
	if !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input got %v", err)
	}
}

func TestOrderServiceUpdateStatusStampsTimestamps(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 12, 11, 0, 0, 0, time.UTC)
	paidAt := now.Add(-time.Hour)
	events := &captureOrderEvents{}

	var captured repositories.OrderStatusUpdate
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return domain.Order{
				ID:        orderID,
				CompanyID: "cmp_1",
				BuyerID:   "buyer-1",
				Status:    domain.OrderStatusPaid,
				PaidAt:    &paidAt,
			}, nil
		},
		updateStatusFn: func(_ context.Context, orderID string, expected domain.OrderStatus, update repositories.OrderStatusUpdate) (domain.Order, error) {
			if expected != domain.OrderStatusPaid {
				t.Fatalf("expected guard on paid got %s", expected)
			}
			captured = update
			return domain.Order{ID: orderID, Status: update.Status, InProgressAt: update.InProgressAt}, nil
		},
	}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders:   orders,
		Products: &stubProductRepo{},
		Companies: &stubCompanyRepo{
			findFn: func(_ context.Context, companyID string) (domain.Company, error) {
				return domain.Company{ID: companyID, OwnerID: "seller-1"}, nil
			},
		},
		Clock:  func() time.Time { return now },
		Events: events,
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}

	view, err := svc.UpdateStatus(ctx, OrderStatusUpdateCommand{
		OrderID:      "ord_1",
		TargetStatus: domain.OrderStatusInProgress,
		Actor:        Actor{UID: "seller-1"},
	})
	if err != nil {
		t.Fatalf("update status: %v", err)
	}

	if captured.InProgressAt == nil || !captured.InProgressAt.Equal(now) {
		t.Fatalf("expected in_progress_at stamped at %v got %v", now, captured.InProgressAt)
	}
	if view.Order.Status != domain.OrderStatusInProgress {
		t.Fatalf("unexpected status %s", view.Order.Status)
	}
	if len(events.events) != 1 || events.events[0].PreviousStatus != "paid" || events.events[0].CurrentStatus != "in_progress" {
		t.Fatalf("unexpected events %+v", events.events)
	}
}

func TestOrderServiceUpdateStatusKeepsFirstInProgressStamp(t *testing.T) {
	now := time.Date(2026, 3, 12, 12, 0, 0, 0, time.UTC)
	started := now.Add(-2 * time.Hour)

	var captured repositories.OrderStatusUpdate
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return domain.Order{
				ID:           orderID,
				CompanyID:    "cmp_1",
				BuyerID:      "buyer-1",
				Status:       domain.OrderStatusDelivered,
				InProgressAt: &started,
			}, nil
		},
		updateStatusFn: func(_ context.Context, orderID string, _ domain.OrderStatus, update repositories.OrderStatusUpdate) (domain.Order, error) {
			captured = update
			return domain.Order{ID: orderID, Status: update.Status}, nil
		},
	}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders:   orders,
		Products: &stubProductRepo{},
		Companies: &stubCompanyRepo{
			findFn: func(_ context.Context, companyID string) (domain.Company, error) {
				return domain.Company{ID: companyID, OwnerID: "seller-1"}, nil
			},
		},
		Clock: func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}

	_, err = svc.UpdateStatus(context.Background(), OrderStatusUpdateCommand{
		OrderID:      "ord_1",
		TargetStatus: domain.OrderStatusInProgress,
		Actor:        Actor{UID: "seller-1"},
	})
	if err != nil {
		t.Fatalf("update status: %v", err)
	}

	if captured.InProgressAt != nil {
		t.Fatalf("expected in_progress_at untouched on rework, got %v", captured.InProgressAt)
	}
}

func TestOrderServiceUpdateStatusRejectsInvalidTransition(t *testing.T) {
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, CompanyID: "cmp_1", BuyerID: "buyer-1", Status: domain.OrderStatusCompleted}, nil
		},
	}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders:   orders,
		Products: &stubProductRepo{},
		Companies: &stubCompanyRepo{
			findFn: func(_ context.Context, companyID string) (domain.Company, error) {
				return domain.Company{ID: companyID, OwnerID: "seller-1"}, nil
			},
		},
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}

	_, err = svc.UpdateStatus(context.Background(), OrderStatusUpdateCommand{
		OrderID:      "ord_1",
		TargetStatus: domain.OrderStatusInProgress,
		Actor:        Actor{UID: "seller-1"},
	})
	if !errors.Is(err, ErrOrderInvalidTransition) {
		t.Fatalf("expected invalid transition got %v", err)
	}

	var transitionErr *InvalidTransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("expected *InvalidTransitionError got %T", err)
	}
	if transitionErr.Current != domain.OrderStatusCompleted || transitionErr.Target != domain.OrderStatusInProgress {
		t.Fatalf("unexpected transition detail %+v", transitionErr)
	}
}

func TestOrderServiceUpdateStatusForbidden(t *testing.T) {
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, CompanyID: "cmp_1", BuyerID: "buyer-1", Status: domain.OrderStatusPaid}, nil
		},
	}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders:   orders,
		Products: &stubProductRepo{},
		Companies: &stubCompanyRepo{
			findFn: func(_ context.Context, companyID string) (domain.Company, error) {
				return domain.Company{ID: companyID, OwnerID: "seller-1"}, nil
			},
		},
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}

	_, err = svc.UpdateStatus(context.Background(), OrderStatusUpdateCommand{
		OrderID:      "ord_1",
		TargetStatus: domain.OrderStatusInProgress,
		Actor:        Actor{UID: "stranger"},
	})
	if !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected forbidden got %v", err)
	}
}

func TestOrderServiceUpdateStatusRejectsBuyerActor(t *testing.T) {
	updates := 0
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, CompanyID: "cmp_1", BuyerID: "buyer-1", Status: domain.OrderStatusPaid}, nil
		},
		updateStatusFn: func(_ context.Context, orderID string, _ domain.OrderStatus, update repositories.OrderStatusUpdate) (domain.Order, error) {
			updates++
			return domain.Order{ID: orderID, Status: update.Status}, nil
		},
	}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders:   orders,
		Products: &stubProductRepo{},
		Companies: &stubCompanyRepo{
			findFn: func(_ context.Context, companyID string) (domain.Company, error) {
				return domain.Company{ID: companyID, OwnerID: "seller-1"}, nil
			},
		},
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}

	// The buyer may read their order but may not drive transitions, not
	// even on an order they paid for.
	for _, target := range []domain.OrderStatus{domain.OrderStatusRefunded, domain.OrderStatusInProgress} {
		_, err = svc.UpdateStatus(context.Background(), OrderStatusUpdateCommand{
			OrderID:      "ord_1",
			TargetStatus: target,
			Actor:        Actor{UID: "buyer-1"},
		})
		if !errors.Is(err, ErrOrderForbidden) {
			t.Fatalf("expected forbidden for buyer target %s got %v", target, err)
		}
	}
	if updates != 0 {
		t.Fatalf("expected no status writes got %d", updates)
	}

	if _, err := svc.Get(context.Background(), OrderQuery{OrderID: "ord_1", Actor: Actor{UID: "buyer-1"}}); err != nil {
		t.Fatalf("buyer read access: %v", err)
	}
}

func TestOrderServiceUpdateStatusMapsConflict(t *testing.T) {
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return domain.Order{ID: orderID, CompanyID: "cmp_1", BuyerID: "buyer-1", Status: domain.OrderStatusPaid}, nil
		},
		updateStatusFn: func(context.Context, string, domain.OrderStatus, repositories.OrderStatusUpdate) (domain.Order, error) {
			return domain.Order{}, stubRepoError{msg: "status changed concurrently", conflict: true}
		},
	}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders:   orders,
		Products: &stubProductRepo{},
		Companies: &stubCompanyRepo{
			findFn: func(_ context.Context, companyID string) (domain.Company, error) {
				return domain.Company{ID: companyID, OwnerID: "seller-1"}, nil
			},
		},
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}

	_, err = svc.UpdateStatus(context.Background(), OrderStatusUpdateCommand{
		OrderID:      "ord_1",
		TargetStatus: domain.OrderStatusCancelled,
		Actor:        Actor{UID: "seller-1"},
	})
	if !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected conflict got %v", err)
	}
}

func TestOrderServiceGetStatusRedactsOrder(t *testing.T) {
	updatedAt := time.Date(2026, 3, 12, 13, 0, 0, 0, time.UTC)
	orders := &stubOrderRepo{
		findFn: func(_ context.Context, orderID string) (domain.Order, error) {
			return domain.Order{
				ID:        orderID,
				BuyerID:   "buyer-1",
				Status:    domain.OrderStatusDelivered,
				Amount:    99.95,
				UpdatedAt: updatedAt,
			}, nil
		},
	}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders:    orders,
		Products:  &stubProductRepo{},
		Companies: &stubCompanyRepo{},
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}

	view, err := svc.GetStatus(context.Background(), "ord_1")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}

	if view.Order.BuyerID != "" || view.Order.Amount != 0 {
		t.Fatalf("expected redacted order got %+v", view.Order)
	}
	if view.Order.Status != domain.OrderStatusDelivered {
		t.Fatalf("unexpected status %s", view.Order.Status)
	}
	want := []domain.OrderStatus{domain.OrderStatusCompleted, domain.OrderStatusInProgress}
	if len(view.AllowedTransitions) != len(want) {
		t.Fatalf("unexpected transitions %v", view.AllowedTransitions)
	}
	for i, status := range want {
		if view.AllowedTransitions[i] != status {
			t.Fatalf("unexpected transitions %v", view.AllowedTransitions)
		}
	}
}

func TestOrderServiceListRoutesByOwnership(t *testing.T) {
	var captured repositories.OrderListFilter
	orders := &stubOrderRepo{
		listFn: func(_ context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
			captured = filter
			return domain.CursorPage[domain.Order]{}, nil
		},
	}

	companies := &stubCompanyRepo{
		findByOwnerFn: func(_ context.Context, ownerID string) (domain.Company, error) {
			if ownerID == "seller-1" {
				return domain.Company{ID: "cmp_1", OwnerID: ownerID}, nil
			}
			return domain.Company{}, errStubNotFound
		},
	}

	svc, err := NewOrderService(OrderServiceDeps{
		Orders:    orders,
		Products:  &stubProductRepo{},
		Companies: companies,
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}

	if _, err := svc.List(context.Background(), OrderListQuery{Actor: Actor{UID: "seller-1"}}); err != nil {
		t.Fatalf("list seller: %v", err)
	}
	if captured.CompanyID != "cmp_1" || captured.BuyerID != "" {
		t.Fatalf("expected company scope got %+v", captured)
	}

	if _, err := svc.List(context.Background(), OrderListQuery{Actor: Actor{UID: "buyer-1"}}); err != nil {
		t.Fatalf("list buyer: %v", err)
	}
	if captured.BuyerID != "buyer-1" || captured.CompanyID != "" {
		t.Fatalf("expected buyer scope got %+v", captured)
	}

	if _, err := svc.List(context.Background(), OrderListQuery{Actor: Actor{UID: "root", Roles: []string{"admin"}}}); err != nil {
		t.Fatalf("list admin: %v", err)
	}
	if captured.BuyerID != "" || captured.CompanyID != "" {
		t.Fatalf("expected unscoped admin filter got %+v", captured)
	}
}
