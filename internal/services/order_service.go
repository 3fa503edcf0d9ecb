package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/forgemarket/api/internal/domain"
	"github.com/forgemarket/api/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"

	orderIDPrefix = "ord_"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderForbidden indicates the actor does not own the order on either side.
	ErrOrderForbidden = errors.New("order: forbidden")
	// ErrOrderInvalidTransition indicates a status transition outside the lifecycle table.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates the stored status changed under a concurrent update.
	ErrOrderConflict = errors.New("order: conflict")
)

// InvalidTransitionError carries the context handlers need to explain a
// rejected transition. It unwraps to ErrOrderInvalidTransition.
type InvalidTransitionError struct {
	OrderID string
	Current domain.OrderStatus
	Target  domain.OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order: invalid status transition %s to %s", e.Current, e.Target)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrOrderInvalidTransition }

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string         `json:"type"`
	OrderID        string         `json:"orderId"`
	PreviousStatus string         `json:"previousStatus,omitempty"`
	CurrentStatus  string         `json:"currentStatus"`
	ActorID        string         `json:"actorId,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Products    repositories.ProductRepository
	Companies   repositories.CompanyRepository
	UnitOfWork  repositories.UnitOfWork
	Audit       AuditLogService
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	products   repositories.ProductRepository
	companies  repositories.CompanyRepository
	unitOfWork repositories.UnitOfWork
	audit      AuditLogService
	clock      func() time.Time
	newID      func() string
	events     OrderEventPublisher
	logger     func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}
	if deps.Companies == nil {
		return nil, errors.New("order service: company repository is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:     deps.Orders,
		products:   deps.Products,
		companies:  deps.Companies,
		unitOfWork: unit,
		audit:      deps.Audit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *orderService) Create(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return domain.Order{}, fmt.Errorf("%w: product id is required", ErrOrderInvalidInput)
	}
	buyerID := strings.TrimSpace(cmd.BuyerID)
	if buyerID == "" {
		return domain.Order{}, fmt.Errorf("%w: buyer id is required", ErrOrderInvalidInput)
	}

	listing, err := s.products.FindListing(ctx, productID)
	if err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}
	if !listing.Product.IsActive {
		return domain.Order{}, fmt.Errorf("%w: product %s is not available", ErrOrderInvalidInput, productID)
	}
	if listing.Company.OwnerID == buyerID {
		return domain.Order{}, fmt.Errorf("%w: cannot order from own company", ErrOrderInvalidInput)
	}

	now := s.now()
	order := domain.Order{
		ID:        orderIDPrefix + s.newID(),
		ProductID: listing.Product.ID,
		CompanyID: listing.Company.ID,
		BuyerID:   buyerID,
		Status:    domain.OrderStatusPendingPayment,
		Amount:    listing.Product.Price,
		Currency:  listing.Product.Currency,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		return domain.Order{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		CurrentStatus: string(order.Status),
		ActorID:       buyerID,
		OccurredAt:    now,
	})
	s.recordAudit(ctx, AuditEntry{
		TargetRef: "orders/" + order.ID,
		Action:    orderEventCreated,
		ActorID:   buyerID,
		Details:   map[string]any{"productId": order.ProductID, "amount": order.Amount},
		At:        now,
	})

	return order, nil
}

func (s *orderService) Get(ctx context.Context, query OrderQuery) (OrderView, error) {
	orderID := strings.TrimSpace(query.OrderID)
	if orderID == "" {
		return OrderView{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return OrderView{}, s.mapRepositoryError(err)
	}

	if err := s.authorize(ctx, order, query.Actor); err != nil {
		return OrderView{}, err
	}

	return OrderView{
		Order:              order,
		AllowedTransitions: domain.AllowedTransitions(order.Status),
	}, nil
}

// GetStatus reports the current status and reachable transitions without an
// ownership check. The response exposes no buyer or pricing data.
func (s *orderService) GetStatus(ctx context.Context, orderID string) (OrderView, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return OrderView{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return OrderView{}, s.mapRepositoryError(err)
	}

	return OrderView{
		Order:              domain.Order{ID: order.ID, Status: order.Status, UpdatedAt: order.UpdatedAt},
		AllowedTransitions: domain.AllowedTransitions(order.Status),
	}, nil
}

func (s *orderService) List(ctx context.Context, query OrderListQuery) (domain.CursorPage[domain.Order], error) {
	filter := repositories.OrderListFilter{
		Status:    query.Status,
		PageSize:  query.PageSize,
		PageToken: query.PageToken,
	}

	// Non-admin actors see their own orders: purchases, or sales when they
	// own a company.
	if !query.Actor.IsAdmin() {
		company, err := s.companies.FindByOwner(ctx, query.Actor.UID)
		switch {
		case err == nil:
			filter.CompanyID = company.ID
		case isNotFound(err):
			filter.BuyerID = query.Actor.UID
		default:
			return domain.CursorPage[domain.Order]{}, s.mapRepositoryError(err)
		}
	}

	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) UpdateStatus(ctx context.Context, cmd OrderStatusUpdateCommand) (OrderView, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return OrderView{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	target := cmd.TargetStatus
	if target == "" {
		return OrderView{}, fmt.Errorf("%w: target status is required", ErrOrderInvalidInput)
	}
	if !domain.IsValidOrderStatus(target) {
		return OrderView{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, target)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return OrderView{}, s.mapRepositoryError(err)
	}

	if err := s.authorizeTransition(ctx, order, cmd.Actor); err != nil {
		return OrderView{}, err
	}

	if !domain.CanTransition(order.Status, target) {
		return OrderView{}, &InvalidTransitionError{
			OrderID: order.ID,
			Current: order.Status,
			Target:  target,
		}
	}

	now := s.now()
	update := repositories.OrderStatusUpdate{
		Status:    target,
		UpdatedAt: now,
	}
	stampTimestamps(&update, order, target, now)

	updated, err := s.orders.UpdateStatus(ctx, orderID, order.Status, update)
	if err != nil {
		return OrderView{}, s.mapRepositoryError(err)
	}

	metadata := map[string]any{}
	if reason := strings.TrimSpace(cmd.Reason); reason != "" {
		metadata["reason"] = reason
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        updated.ID,
		PreviousStatus: string(order.Status),
		CurrentStatus:  string(updated.Status),
		ActorID:        cmd.Actor.UID,
		OccurredAt:     now,
		Metadata:       metadata,
	})
	s.recordAudit(ctx, AuditEntry{
		TargetRef: "orders/" + updated.ID,
		Action:    orderEventStatusChanged,
		ActorID:   cmd.Actor.UID,
		Details: map[string]any{
			"from": string(order.Status),
			"to":   string(updated.Status),
		},
		At: now,
	})

	return OrderView{
		Order:              updated,
		AllowedTransitions: domain.AllowedTransitions(updated.Status),
		PreviousStatus:     order.Status,
	}, nil
}

// stampTimestamps records when each lifecycle state was entered. A return to
// in_progress after delivery keeps the original start time; re-delivery
// restamps delivered_at.
func stampTimestamps(update *repositories.OrderStatusUpdate, order domain.Order, target domain.OrderStatus, now time.Time) {
	switch target {
	case domain.OrderStatusPaid:
		update.PaidAt = &now
	case domain.OrderStatusInProgress:
		if order.InProgressAt == nil {
			update.InProgressAt = &now
		}
	case domain.OrderStatusDelivered:
		update.DeliveredAt = &now
	case domain.OrderStatusCompleted:
		update.CompletedAt = &now
	case domain.OrderStatusCancelled:
		update.CancelledAt = &now
	case domain.OrderStatusRefunded:
		update.RefundedAt = &now
	}
}

// authorize permits the buyer, the owner of the selling company, and admins.
// Read paths only; status transitions go through authorizeTransition.
func (s *orderService) authorize(ctx context.Context, order domain.Order, actor Actor) error {
	if actor.IsAdmin() {
		return nil
	}
	uid := strings.TrimSpace(actor.UID)
	if uid == "" {
		return fmt.Errorf("%w: actor is required", ErrOrderForbidden)
	}
	if order.BuyerID == uid {
		return nil
	}
	return s.authorizeOwner(ctx, order, uid)
}

// authorizeTransition permits only the owner of the selling company and
// admins. Buyers never drive transitions directly; their paid state arrives
// through payment settlement and refunds through the admin refund path.
func (s *orderService) authorizeTransition(ctx context.Context, order domain.Order, actor Actor) error {
	if actor.IsAdmin() {
		return nil
	}
	uid := strings.TrimSpace(actor.UID)
	if uid == "" {
		return fmt.Errorf("%w: actor is required", ErrOrderForbidden)
	}
	return s.authorizeOwner(ctx, order, uid)
}

func (s *orderService) authorizeOwner(ctx context.Context, order domain.Order, uid string) error {
	company, err := s.companies.FindByID(ctx, order.CompanyID)
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: actor %s does not own order %s", ErrOrderForbidden, uid, order.ID)
		}
		return s.mapRepositoryError(err)
	}
	if company.OwnerID == uid {
		return nil
	}
	return fmt.Errorf("%w: actor %s does not own order %s", ErrOrderForbidden, uid, order.ID)
}

func (s *orderService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}
	return err
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

func (s *orderService) recordAudit(ctx context.Context, entry AuditEntry) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, entry)
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
