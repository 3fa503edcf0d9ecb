package payments

import (
	"context"
	"time"
)

// Status enumerates the normalised payment states shared across providers.
type Status string

const (
	// StatusPending indicates the intent is awaiting customer action or PSP confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the PSP reports the payment as successfully captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the PSP reports a failure and no further action is possible.
	StatusFailed Status = "failed"
	// StatusRefunded indicates the payment has been refunded (partially or fully).
	StatusRefunded Status = "refunded"
)

// IntentRequest captures the payload required to open a split-payment intent.
// Amounts are minor currency units. DestinationAccountID is the connected
// account the seller's share settles into.
type IntentRequest struct {
	Amount               int64
	ApplicationFeeAmount int64
	Currency             string
	DestinationAccountID string
	CustomerID           string
	Metadata             map[string]string
	IdempotencyKey       string
}

// Intent represents the PSP-side payment intent returned to the client.
type Intent struct {
	ID           string
	Provider     string
	ClientSecret string
	Status       Status
	Amount       int64
	Currency     string
	CreatedAt    time.Time
}

// RefundRequest defines a PSP refund attempt against an intent.
type RefundRequest struct {
	IntentID       string
	Amount         *int64
	Reason         string
	IdempotencyKey string
	Metadata       map[string]string
}

// LookupRequest asks the PSP for the current state of an intent.
type LookupRequest struct {
	IntentID string
}

// PaymentDetails normalises PSP specific fields for storage and reconciliation.
type PaymentDetails struct {
	Provider   string
	IntentID   string
	Status     Status
	Amount     int64
	Currency   string
	Captured   bool
	CapturedAt *time.Time
	RefundedAt *time.Time
	Raw        map[string]any
}

// WebhookEvent is a verified PSP notification.
type WebhookEvent struct {
	ID       string
	Type     string
	IntentID string
	Raw      map[string]any
}

// Provider defines the contract for PSP adapters to implement.
type Provider interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	Refund(ctx context.Context, req RefundRequest) (PaymentDetails, error)
	LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error)
	VerifyWebhook(payload []byte, signature string) (WebhookEvent, error)
}
