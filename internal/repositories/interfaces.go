package repositories

import (
	"context"
	"time"

	domain "github.com/forgemarket/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Companies() CompanyRepository
	Products() ProductRepository
	Orders() OrderRepository
	PaymentIntents() PaymentIntentRepository
	Messages() MessageRepository
	AuditLogs() AuditLogRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// CompanyRepository persists selling companies and their payout configuration.
type CompanyRepository interface {
	Insert(ctx context.Context, company domain.Company) error
	Update(ctx context.Context, company domain.Company) error
	FindByID(ctx context.Context, companyID string) (domain.Company, error)
	FindByOwner(ctx context.Context, ownerID string) (domain.Company, error)
	UpdateStripeAccount(ctx context.Context, companyID string, stripeAccountID string, updatedAt time.Time) error
}

// ProductRepository persists product listings and joins in the selling company.
type ProductRepository interface {
	Insert(ctx context.Context, product domain.Product) error
	Update(ctx context.Context, product domain.Product) error
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	FindListing(ctx context.Context, productID string) (domain.ProductListing, error)
	List(ctx context.Context, filter ProductListFilter) (domain.CursorPage[domain.Product], error)
	SetActive(ctx context.Context, productID string, active bool, updatedAt time.Time) error
}

// OrderRepository persists order headers and provides query helpers for buyers and sellers.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
	// UpdateStatus applies update atomically, guarded by expected. A conflict
	// error is returned when the stored status no longer matches expected.
	UpdateStatus(ctx context.Context, orderID string, expected domain.OrderStatus, update OrderStatusUpdate) (domain.Order, error)
}

// OrderStatusUpdate carries the new status plus the lifecycle timestamps to stamp alongside it.
type OrderStatusUpdate struct {
	Status       domain.OrderStatus
	PaidAt       *time.Time
	InProgressAt *time.Time
	DeliveredAt  *time.Time
	CompletedAt  *time.Time
	CancelledAt  *time.Time
	RefundedAt   *time.Time
	UpdatedAt    time.Time
}

// PaymentIntentRepository stores local bookkeeping rows for processor-side intents.
type PaymentIntentRepository interface {
	Insert(ctx context.Context, intent domain.PaymentIntent) error
	FindByID(ctx context.Context, intentID string) (domain.PaymentIntent, error)
	FindByProviderID(ctx context.Context, providerIntentID string) (domain.PaymentIntent, error)
	FindByOrder(ctx context.Context, orderID string) (domain.PaymentIntent, error)
	UpdateStatus(ctx context.Context, intentID string, status domain.PaymentIntentStatus, updatedAt time.Time) (domain.PaymentIntent, error)
}

// MessageRepository stores order-scoped conversation threads.
type MessageRepository interface {
	Append(ctx context.Context, message domain.Message) error
	ListByOrder(ctx context.Context, orderID string, pager domain.Pagination) (domain.CursorPage[domain.Message], error)
}

// AuditLogRepository appends immutable records of state-changing actions.
type AuditLogRepository interface {
	Append(ctx context.Context, entry domain.AuditLogEntry) error
	List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Ping(ctx context.Context) error
}

// Filter DTOs shared across repositories ------------------------------------

// ProductListFilter narrows product listings.
type ProductListFilter struct {
	CompanyID  string
	ActiveOnly bool
	PageSize   int
	PageToken  string
}

// OrderListFilter narrows order listings for buyer or seller views.
type OrderListFilter struct {
	BuyerID   string
	CompanyID string
	Status    domain.OrderStatus
	Created   domain.RangeQuery[time.Time]
	PageSize  int
	PageToken string
}

// AuditLogFilter narrows audit log listings.
type AuditLogFilter struct {
	TargetRef string
	ActorID   string
	Action    string
	Created   domain.RangeQuery[time.Time]
	PageSize  int
	PageToken string
}
