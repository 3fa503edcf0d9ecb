package services

import (
	"context"
	"time"

	domain "github.com/forgemarket/api/internal/domain"
	"github.com/forgemarket/api/internal/repositories"
)

// OrderService owns order lifecycle state and the buyer/seller views of it.
type OrderService interface {
	Create(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error)
	Get(ctx context.Context, query OrderQuery) (OrderView, error)
	GetStatus(ctx context.Context, orderID string) (OrderView, error)
	List(ctx context.Context, query OrderListQuery) (domain.CursorPage[domain.Order], error)
	UpdateStatus(ctx context.Context, cmd OrderStatusUpdateCommand) (OrderView, error)
}

// CreateOrderCommand opens a new order for a product on behalf of a buyer.
type CreateOrderCommand struct {
	ProductID string
	BuyerID   string
}

// OrderQuery identifies an order and the actor requesting it.
type OrderQuery struct {
	OrderID string
	Actor   Actor
}

// OrderListQuery selects the orders visible to an actor.
type OrderListQuery struct {
	Actor     Actor
	Status    domain.OrderStatus
	PageSize  int
	PageToken string
}

// OrderStatusUpdateCommand moves an order to a new lifecycle status.
type OrderStatusUpdateCommand struct {
	OrderID      string
	TargetStatus domain.OrderStatus
	Actor        Actor
	Reason       string
}

// OrderView pairs an order with the transitions currently available from it.
// PreviousStatus is populated only by UpdateStatus.
type OrderView struct {
	Order              domain.Order
	AllowedTransitions []domain.OrderStatus
	PreviousStatus     domain.OrderStatus
}

// Actor identifies the authenticated principal acting on a resource.
type Actor struct {
	UID   string
	Roles []string
}

// IsAdmin reports whether the actor carries the admin role.
func (a Actor) IsAdmin() bool {
	for _, role := range a.Roles {
		if role == "admin" {
			return true
		}
	}
	return false
}

// PaymentService issues payment intents and reconciles processor callbacks.
type PaymentService interface {
	CreatePaymentIntent(ctx context.Context, cmd CreatePaymentIntentCommand) (PaymentIntentResult, error)
	HandleWebhookEvent(ctx context.Context, payload []byte, signature string) error
	Refund(ctx context.Context, cmd RefundPaymentCommand) error
}

// CreatePaymentIntentCommand requests a split-payment intent for a product purchase.
// OrderID optionally names an existing pending_payment order to pay for; when
// empty a fresh order is opened alongside the intent.
type CreatePaymentIntentCommand struct {
	ProductID  string
	CustomerID string
	OrderID    string
}

// PaymentIntentResult is the client-facing outcome of intent creation.
type PaymentIntentResult struct {
	IntentID     string
	ClientSecret string
	Amount       float64
	Currency     string
	PlatformFee  float64
}

// RefundPaymentCommand reverses a settled payment.
type RefundPaymentCommand struct {
	OrderID string
	Actor   Actor
	Reason  string
}

// CatalogService maintains product listings on behalf of selling companies.
type CatalogService interface {
	CreateProduct(ctx context.Context, cmd CreateProductCommand) (domain.Product, error)
	UpdateProduct(ctx context.Context, cmd UpdateProductCommand) (domain.Product, error)
	SetProductActive(ctx context.Context, cmd SetProductActiveCommand) (domain.Product, error)
	GetProduct(ctx context.Context, productID string) (domain.Product, error)
	ListProducts(ctx context.Context, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error)
}

// CreateProductCommand lists a new product under the actor's company.
type CreateProductCommand struct {
	Actor       Actor
	Name        string
	Description string
	Price       float64
	Currency    string
}

// UpdateProductCommand edits an existing listing.
type UpdateProductCommand struct {
	Actor       Actor
	ProductID   string
	Name        string
	Description string
	Price       float64
	Currency    string
}

// SetProductActiveCommand toggles listing visibility.
type SetProductActiveCommand struct {
	Actor     Actor
	ProductID string
	Active    bool
}

// MessageService manages order-scoped threads between buyers and sellers.
type MessageService interface {
	Post(ctx context.Context, cmd PostMessageCommand) (domain.Message, error)
	ListByOrder(ctx context.Context, query MessageListQuery) (domain.CursorPage[domain.Message], error)
}

// PostMessageCommand appends a message to an order thread.
type PostMessageCommand struct {
	OrderID string
	Actor   Actor
	Body    string
}

// MessageListQuery pages an order thread for an authorised actor.
type MessageListQuery struct {
	OrderID   string
	Actor     Actor
	PageSize  int
	PageToken string
}

// AuditLogService records state-changing actions for later review.
type AuditLogService interface {
	Record(ctx context.Context, entry AuditEntry)
	List(ctx context.Context, filter repositories.AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error)
}

// AuditEntry describes a single auditable action.
type AuditEntry struct {
	TargetRef string
	Action    string
	ActorID   string
	Details   map[string]any
	At        time.Time
}
