package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/forgemarket/api/internal/domain"
	"github.com/forgemarket/api/internal/payments"
	"github.com/forgemarket/api/internal/repositories"
)

const (
	paymentIntentIDPrefix = "pay_"

	paymentEventIntentCreated = "payment.intent.created"
	paymentEventSettled       = "payment.settled"
	paymentEventFailed        = "payment.failed"
	paymentEventRefunded      = "payment.refunded"
)

var (
	// ErrPaymentInvalidInput signals the caller provided invalid data.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentProductNotFound indicates the product could not be located or is inactive.
	ErrPaymentProductNotFound = errors.New("payment: product not found")
	// ErrPaymentMissingPayoutDestination indicates the selling company has no connected account.
	ErrPaymentMissingPayoutDestination = errors.New("payment: company has no payout destination")
	// ErrPaymentProvider indicates the payment processor rejected or failed the request.
	ErrPaymentProvider = errors.New("payment: provider error")
	// ErrPaymentWebhookInvalid indicates webhook verification failed.
	ErrPaymentWebhookInvalid = errors.New("payment: invalid webhook")
	// ErrPaymentNotRefundable indicates the payment is not in a refundable state.
	ErrPaymentNotRefundable = errors.New("payment: not refundable")
)

// PaymentServiceDeps bundles collaborators required to construct the payment service.
type PaymentServiceDeps struct {
	Products   repositories.ProductRepository
	Orders     repositories.OrderRepository
	Intents    repositories.PaymentIntentRepository
	UnitOfWork repositories.UnitOfWork
	Provider   payments.Provider
	Audit      AuditLogService
	// PlatformFeeRate is the platform's cut as a fraction of the sale total.
	PlatformFeeRate float64
	Clock           func() time.Time
	IDGenerator     func() string
	Events          OrderEventPublisher
	Logger          func(ctx context.Context, event string, fields map[string]any)
}

type paymentService struct {
	products   repositories.ProductRepository
	orders     repositories.OrderRepository
	intents    repositories.PaymentIntentRepository
	unitOfWork repositories.UnitOfWork
	provider   payments.Provider
	audit      AuditLogService
	feeRate    float64
	clock      func() time.Time
	newID      func() string
	events     OrderEventPublisher
	logger     func(context.Context, string, map[string]any)
}

// NewPaymentService wires dependencies into a concrete PaymentService implementation.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Products == nil {
		return nil, errors.New("payment service: product repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	if deps.Intents == nil {
		return nil, errors.New("payment service: payment intent repository is required")
	}
	if deps.Provider == nil {
		return nil, errors.New("payment service: payment provider is required")
	}
	if deps.PlatformFeeRate < 0 || deps.PlatformFeeRate >= 1 {
		return nil, fmt.Errorf("payment service: platform fee rate %v out of range", deps.PlatformFeeRate)
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

	return &paymentService{
		products:   deps.Products,
		orders:     deps.Orders,
		intents:    deps.Intents,
		unitOfWork: unit,
		provider:   deps.Provider,
		audit:      deps.Audit,
		feeRate:    deps.PlatformFeeRate,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *paymentService) CreatePaymentIntent(ctx context.Context, cmd CreatePaymentIntentCommand) (PaymentIntentResult, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return PaymentIntentResult{}, fmt.Errorf("%w: product id is required", ErrPaymentInvalidInput)
	}
	customerID := strings.TrimSpace(cmd.CustomerID)
	if customerID == "" {
		return PaymentIntentResult{}, fmt.Errorf("%w: customer id is required", ErrPaymentInvalidInput)
	}
	orderID := strings.TrimSpace(cmd.OrderID)

	listing, err := s.products.FindListing(ctx, productID)
	if err != nil {
		if isNotFound(err) {
			return PaymentIntentResult{}, fmt.Errorf("%w: %s", ErrPaymentProductNotFound, productID)
		}
		return PaymentIntentResult{}, err
	}
	if !listing.Product.IsActive {
		return PaymentIntentResult{}, fmt.Errorf("%w: %s", ErrPaymentProductNotFound, productID)
	}
	if listing.Product.Price <= 0 {
		return PaymentIntentResult{}, fmt.Errorf("%w: product price must be positive", ErrPaymentInvalidInput)
	}
	if !domain.IsSupportedCurrency(listing.Product.Currency) {
		return PaymentIntentResult{}, fmt.Errorf("%w: unsupported currency %q", ErrPaymentInvalidInput, listing.Product.Currency)
	}
	if !listing.Company.HasPayoutDestination() {
		return PaymentIntentResult{}, fmt.Errorf("%w: company %s", ErrPaymentMissingPayoutDestination, listing.Company.ID)
	}

	totalMinor := domain.ToMinorUnits(listing.Product.Price)
	feeMinor := domain.PlatformFeeMinor(totalMinor, s.feeRate)

	now := s.now()
	localID := paymentIntentIDPrefix + s.newID()

	order, err := s.resolveOrder(ctx, orderID, customerID, listing, now)
	if err != nil {
		return PaymentIntentResult{}, err
	}

	intent, err := s.provider.CreateIntent(ctx, payments.IntentRequest{
		Amount:               totalMinor,
		ApplicationFeeAmount: feeMinor,
		Currency:             listing.Product.Currency,
		DestinationAccountID: *listing.Company.StripeAccountID,
		Metadata: map[string]string{
			"payment_id":   localID,
			"order_id":     order.ID,
			"product_id":   listing.Product.ID,
			"product_name": listing.Product.Name,
			"company_id":   listing.Company.ID,
			"company_name": listing.Company.Name,
			"customer_id":  customerID,
		},
		IdempotencyKey: localID,
	})
	if err != nil {
		return PaymentIntentResult{}, fmt.Errorf("%w: %v", ErrPaymentProvider, err)
	}

	record := domain.PaymentIntent{
		ID:                    localID,
		StripePaymentIntentID: intent.ID,
		OrderID:               &order.ID,
		CustomerID:            customerID,
		ProductID:             listing.Product.ID,
		CompanyID:             listing.Company.ID,
		Amount:                domain.FromMinorUnits(totalMinor),
		Currency:              listing.Product.Currency,
		PlatformFee:           domain.FromMinorUnits(feeMinor),
		Status:                domain.PaymentIntentStatusCreated,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	// The processor-side intent already exists; a bookkeeping failure must
	// not void the client's ability to pay. Reconciliation picks it up later.
	if err := s.intents.Insert(ctx, record); err != nil {
		s.logger(ctx, "payment.intent.persist.failed", map[string]any{
			"paymentId":     localID,
			"paymentIntent": intent.ID,
			"error":         err.Error(),
		})
	}

	s.recordAudit(ctx, AuditEntry{
		TargetRef: "payments/" + localID,
		Action:    paymentEventIntentCreated,
		ActorID:   customerID,
		Details: map[string]any{
			"productId":   listing.Product.ID,
			"amountMinor": totalMinor,
			"feeMinor":    feeMinor,
			"currency":    listing.Product.Currency,
		},
		At: now,
	})

	return PaymentIntentResult{
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		Amount:       record.Amount,
		Currency:     record.Currency,
		PlatformFee:  record.PlatformFee,
	}, nil
}

// resolveOrder binds the intent to the order being paid for. An explicit
// order must belong to the customer, still await payment, and match the
// product; without one a fresh pending_payment order is opened so that
// settlement always has an order to advance.
func (s *paymentService) resolveOrder(ctx context.Context, orderID, customerID string, listing domain.ProductListing, now time.Time) (domain.Order, error) {
	if orderID != "" {
		order, err := s.orders.FindByID(ctx, orderID)
		if err != nil {
			if isNotFound(err) {
				return domain.Order{}, fmt.Errorf("%w: order %s not found", ErrPaymentInvalidInput, orderID)
			}
			return domain.Order{}, err
		}
		if order.BuyerID != customerID {
			return domain.Order{}, fmt.Errorf("%w: order %s does not belong to customer", ErrPaymentInvalidInput, orderID)
		}
		if order.Status != domain.OrderStatusPendingPayment {
			return domain.Order{}, fmt.Errorf("%w: order %s is %s", ErrPaymentInvalidInput, orderID, order.Status)
		}
		if order.ProductID != listing.Product.ID {
			return domain.Order{}, fmt.Errorf("%w: order %s is for a different product", ErrPaymentInvalidInput, orderID)
		}
		return order, nil
	}

	order := domain.Order{
		ID:        orderIDPrefix + s.newID(),
		ProductID: listing.Product.ID,
		CompanyID: listing.Company.ID,
		BuyerID:   customerID,
		Status:    domain.OrderStatusPendingPayment,
		Amount:    listing.Product.Price,
		Currency:  listing.Product.Currency,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.orders.Insert(ctx, order); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// HandleWebhookEvent verifies and applies a processor notification. Settlement
// advances the referenced order to paid; failures and refunds update local
// bookkeeping.
func (s *paymentService) HandleWebhookEvent(ctx context.Context, payload []byte, signature string) error {
	event, err := s.provider.VerifyWebhook(payload, signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPaymentWebhookInvalid, err)
	}
	if event.IntentID == "" {
		// Not a payment intent event; nothing to reconcile.
		return nil
	}

	switch event.Type {
	case "payment_intent.succeeded":
		return s.settleIntent(ctx, event.IntentID)
	case "payment_intent.payment_failed":
		return s.markIntent(ctx, event.IntentID, domain.PaymentIntentStatusFailed, paymentEventFailed)
	case "charge.refunded":
		return s.markIntent(ctx, event.IntentID, domain.PaymentIntentStatusRefunded, paymentEventRefunded)
	default:
		s.logger(ctx, "payment.webhook.ignored", map[string]any{
			"eventType":     event.Type,
			"paymentIntent": event.IntentID,
		})
		return nil
	}
}

func (s *paymentService) settleIntent(ctx context.Context, providerIntentID string) error {
	record, err := s.intents.FindByProviderID(ctx, providerIntentID)
	if err != nil {
		if isNotFound(err) {
			// Intent creation succeeded but bookkeeping failed earlier.
			// Log for reconciliation instead of bouncing the webhook.
			s.logger(ctx, "payment.webhook.unmatched", map[string]any{
				"paymentIntent": providerIntentID,
			})
			return nil
		}
		return err
	}
	if record.Status == domain.PaymentIntentStatusSucceeded {
		// Replayed delivery.
		return nil
	}
	if record.OrderID == nil {
		s.logger(ctx, "payment.webhook.unmatched", map[string]any{
			"paymentId":     record.ID,
			"paymentIntent": providerIntentID,
		})
		return nil
	}

	order, err := s.orders.FindByID(ctx, *record.OrderID)
	if err != nil {
		if isNotFound(err) {
			s.logger(ctx, "payment.webhook.unmatched", map[string]any{
				"orderId":       *record.OrderID,
				"paymentIntent": providerIntentID,
			})
			return nil
		}
		return err
	}

	now := s.now()
	if order.Status != domain.OrderStatusPendingPayment {
		// Cancelled (or otherwise advanced) out of band before settlement
		// arrived. The money still moved; mark the intent and leave the
		// order to the refund path.
		s.logger(ctx, "payment.webhook.order.conflict", map[string]any{
			"orderId":       order.ID,
			"orderStatus":   string(order.Status),
			"paymentIntent": providerIntentID,
		})
		_, err := s.intents.UpdateStatus(ctx, record.ID, domain.PaymentIntentStatusSucceeded, now)
		return err
	}

	var updated domain.Order
	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		paid, err := s.orders.UpdateStatus(txCtx, order.ID, domain.OrderStatusPendingPayment, repositories.OrderStatusUpdate{
			Status:    domain.OrderStatusPaid,
			PaidAt:    &now,
			UpdatedAt: now,
		})
		if err != nil {
			return err
		}
		updated = paid
		_, err = s.intents.UpdateStatus(txCtx, record.ID, domain.PaymentIntentStatusSucceeded, now)
		return err
	})
	if err != nil {
		return err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        updated.ID,
		PreviousStatus: string(domain.OrderStatusPendingPayment),
		CurrentStatus:  string(updated.Status),
		ActorID:        record.CustomerID,
		OccurredAt:     now,
		Metadata:       map[string]any{"paymentIntent": providerIntentID},
	})
	s.recordAudit(ctx, AuditEntry{
		TargetRef: "payments/" + record.ID,
		Action:    paymentEventSettled,
		ActorID:   record.CustomerID,
		Details:   map[string]any{"orderId": updated.ID, "from": string(domain.OrderStatusPendingPayment), "to": string(updated.Status)},
		At:        now,
	})
	return nil
}

func (s *paymentService) markIntent(ctx context.Context, providerIntentID string, status domain.PaymentIntentStatus, action string) error {
	record, err := s.intents.FindByProviderID(ctx, providerIntentID)
	if err != nil {
		if isNotFound(err) {
			s.logger(ctx, "payment.webhook.unmatched", map[string]any{
				"paymentIntent": providerIntentID,
			})
			return nil
		}
		return err
	}
	if record.Status == status {
		return nil
	}

	now := s.now()
	if _, err := s.intents.UpdateStatus(ctx, record.ID, status, now); err != nil {
		return err
	}

	s.recordAudit(ctx, AuditEntry{
		TargetRef: "payments/" + record.ID,
		Action:    action,
		ActorID:   record.CustomerID,
		Details:   map[string]any{"paymentIntent": providerIntentID},
		At:        now,
	})
	return nil
}

// Refund reverses a settled payment for an order, returning the seller's
// share and the platform fee to the buyer.
func (s *paymentService) Refund(ctx context.Context, cmd RefundPaymentCommand) error {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}

	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: order %s", ErrPaymentProductNotFound, orderID)
		}
		return err
	}
	if !domain.CanTransition(order.Status, domain.OrderStatusRefunded) {
		return fmt.Errorf("%w: order %s is %s", ErrPaymentNotRefundable, orderID, order.Status)
	}

	record, err := s.findIntentByOrder(ctx, order.ID)
	if err != nil {
		return err
	}
	if record.Status != domain.PaymentIntentStatusSucceeded {
		return fmt.Errorf("%w: payment %s is %s", ErrPaymentNotRefundable, record.ID, record.Status)
	}

	if _, err := s.provider.Refund(ctx, payments.RefundRequest{
		IntentID:       record.StripePaymentIntentID,
		Reason:         strings.TrimSpace(cmd.Reason),
		IdempotencyKey: "refund_" + record.ID,
	}); err != nil {
		return fmt.Errorf("%w: %v", ErrPaymentProvider, err)
	}

	// Money has moved; local state follows, logged on failure rather than
	// surfaced so the caller does not retry the processor call.
	now := s.now()
	if _, err := s.orders.UpdateStatus(ctx, order.ID, order.Status, repositories.OrderStatusUpdate{
		Status:     domain.OrderStatusRefunded,
		RefundedAt: &now,
		UpdatedAt:  now,
	}); err != nil {
		s.logger(ctx, "payment.refund.order.failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
	}
	if _, err := s.intents.UpdateStatus(ctx, record.ID, domain.PaymentIntentStatusRefunded, now); err != nil {
		s.logger(ctx, "payment.refund.persist.failed", map[string]any{
			"paymentId": record.ID,
			"error":     err.Error(),
		})
	}

	s.recordAudit(ctx, AuditEntry{
		TargetRef: "payments/" + record.ID,
		Action:    paymentEventRefunded,
		ActorID:   cmd.Actor.UID,
		Details:   map[string]any{"orderId": order.ID, "reason": cmd.Reason},
		At:        now,
	})
	return nil
}

func (s *paymentService) findIntentByOrder(ctx context.Context, orderID string) (domain.PaymentIntent, error) {
	record, err := s.intents.FindByOrder(ctx, orderID)
	if err == nil {
		return record, nil
	}
	if !isNotFound(err) {
		return domain.PaymentIntent{}, err
	}
	return domain.PaymentIntent{}, fmt.Errorf("%w: no settled payment for order %s", ErrPaymentNotRefundable, orderID)
}

func (s *paymentService) now() time.Time {
	return s.clock()
}

func (s *paymentService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}

func (s *paymentService) recordAudit(ctx context.Context, entry AuditEntry) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, entry)
}
