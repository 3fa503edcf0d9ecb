package domain

import "time"

// OrderStatus enumerates the lifecycle states an order moves through.
type OrderStatus string

const (
	OrderStatusPendingPayment OrderStatus = "pending_payment"
	OrderStatusPaid           OrderStatus = "paid"
	OrderStatusInProgress     OrderStatus = "in_progress"
	OrderStatusDelivered      OrderStatus = "delivered"
	OrderStatusCompleted      OrderStatus = "completed"
	OrderStatusCancelled      OrderStatus = "cancelled"
	OrderStatusRefunded       OrderStatus = "refunded"
)

// PaymentIntentStatus mirrors the processor-side intent status on local records.
type PaymentIntentStatus string

const (
	PaymentIntentStatusCreated   PaymentIntentStatus = "created"
	PaymentIntentStatusSucceeded PaymentIntentStatus = "succeeded"
	PaymentIntentStatusFailed    PaymentIntentStatus = "failed"
	PaymentIntentStatusRefunded  PaymentIntentStatus = "refunded"
)

// Company represents a selling engineering/contracting firm.
type Company struct {
	ID              string
	OwnerID         string
	Name            string
	StripeAccountID *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HasPayoutDestination reports whether the company can receive split payments.
func (c Company) HasPayoutDestination() bool {
	return c.StripeAccountID != nil && *c.StripeAccountID != ""
}

// Product is a purchasable service or good listed by a company.
type Product struct {
	ID          string
	CompanyID   string
	Name        string
	Description string
	Price       float64 // major currency units
	Currency    string
	IsActive    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ProductListing joins a product with its selling company for purchase decisions.
type ProductListing struct {
	Product Product
	Company Company
}

// Order tracks a purchase from payment through delivery.
type Order struct {
	ID        string
	ProductID string
	CompanyID string
	BuyerID   string
	Status    OrderStatus
	Amount    float64 // major currency units, frozen at order time
	Currency  string

	PaidAt       *time.Time
	InProgressAt *time.Time
	DeliveredAt  *time.Time
	CompletedAt  *time.Time
	CancelledAt  *time.Time
	RefundedAt   *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// PaymentIntent is the local bookkeeping record for a processor-side intent.
type PaymentIntent struct {
	ID                    string
	StripePaymentIntentID string
	OrderID               *string
	CustomerID            string
	ProductID             string
	CompanyID             string
	Amount                float64 // major units
	Currency              string
	PlatformFee           float64 // major units
	Status                PaymentIntentStatus
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Message is a single entry in an order-scoped thread between buyer and company.
type Message struct {
	ID        string
	OrderID   string
	SenderID  string
	Body      string
	CreatedAt time.Time
}

// AuditLogEntry records a state-changing action for later review.
type AuditLogEntry struct {
	ID        string
	TargetRef string
	Action    string
	ActorID   string
	Details   map[string]any
	CreatedAt time.Time
}

// Pagination carries cursor paging inputs shared by list queries.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage wraps a page of items and the continuation token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// RangeQuery bounds list queries on an ordered field.
type RangeQuery[T any] struct {
	From *T
	To   *T
}
