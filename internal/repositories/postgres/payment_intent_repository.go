package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	domain "github.com/forgemarket/api/internal/domain"
)

const paymentIntentColumns = `id, stripe_payment_intent_id, order_id, customer_id, product_id,
	company_id, amount, currency, platform_fee, status, created_at, updated_at`

// PaymentIntentRepository persists local payment intent records in Postgres.
type PaymentIntentRepository struct {
	provider *Provider
}

// Insert stores a new payment intent record.
func (r *PaymentIntentRepository) Insert(ctx context.Context, intent domain.PaymentIntent) error {
	if r == nil || r.provider == nil {
		return errors.New("payment intent repository not initialised")
	}

	_, err := r.provider.querier(ctx).Exec(ctx, `
		INSERT INTO payment_intents (id, stripe_payment_intent_id, order_id, customer_id,
			product_id, company_id, amount, currency, platform_fee, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		intent.ID, intent.StripePaymentIntentID, intent.OrderID, intent.CustomerID,
		intent.ProductID, intent.CompanyID, intent.Amount, intent.Currency,
		intent.PlatformFee, string(intent.Status), intent.CreatedAt, intent.UpdatedAt)
	return wrapError("payment_intents.insert", err)
}

// FindByID loads a record by local ID.
func (r *PaymentIntentRepository) FindByID(ctx context.Context, intentID string) (domain.PaymentIntent, error) {
	if r == nil || r.provider == nil {
		return domain.PaymentIntent{}, errors.New("payment intent repository not initialised")
	}

	row := r.provider.querier(ctx).QueryRow(ctx,
		`SELECT `+paymentIntentColumns+` FROM payment_intents WHERE id = $1`, intentID)
	intent, err := scanPaymentIntent(row)
	if err != nil {
		return domain.PaymentIntent{}, wrapError("payment_intents.find", err)
	}
	return intent, nil
}

// FindByProviderID loads a record by the processor-side intent ID. Webhook
// deliveries only carry that ID, never the local one.
func (r *PaymentIntentRepository) FindByProviderID(ctx context.Context, providerIntentID string) (domain.PaymentIntent, error) {
	if r == nil || r.provider == nil {
		return domain.PaymentIntent{}, errors.New("payment intent repository not initialised")
	}

	row := r.provider.querier(ctx).QueryRow(ctx,
		`SELECT `+paymentIntentColumns+` FROM payment_intents WHERE stripe_payment_intent_id = $1`,
		providerIntentID)
	intent, err := scanPaymentIntent(row)
	if err != nil {
		return domain.PaymentIntent{}, wrapError("payment_intents.find_by_provider", err)
	}
	return intent, nil
}

// FindByOrder loads the record opened for an order's payment.
func (r *PaymentIntentRepository) FindByOrder(ctx context.Context, orderID string) (domain.PaymentIntent, error) {
	if r == nil || r.provider == nil {
		return domain.PaymentIntent{}, errors.New("payment intent repository not initialised")
	}

	row := r.provider.querier(ctx).QueryRow(ctx,
		`SELECT `+paymentIntentColumns+` FROM payment_intents WHERE order_id = $1`, orderID)
	intent, err := scanPaymentIntent(row)
	if err != nil {
		return domain.PaymentIntent{}, wrapError("payment_intents.find_by_order", err)
	}
	return intent, nil
}

// UpdateStatus moves the record to the given processor-side status.
func (r *PaymentIntentRepository) UpdateStatus(ctx context.Context, intentID string, status domain.PaymentIntentStatus, updatedAt time.Time) (domain.PaymentIntent, error) {
	if r == nil || r.provider == nil {
		return domain.PaymentIntent{}, errors.New("payment intent repository not initialised")
	}

	row := r.provider.querier(ctx).QueryRow(ctx, `
		UPDATE payment_intents SET status = $1, updated_at = $2
		WHERE id = $3
		RETURNING `+paymentIntentColumns,
		string(status), updatedAt, intentID)
	intent, err := scanPaymentIntent(row)
	if err != nil {
		return domain.PaymentIntent{}, wrapError("payment_intents.update_status", err)
	}
	return intent, nil
}

func scanPaymentIntent(row pgx.Row) (domain.PaymentIntent, error) {
	var (
		intent domain.PaymentIntent
		status string
	)
	err := row.Scan(
		&intent.ID, &intent.StripePaymentIntentID, &intent.OrderID, &intent.CustomerID,
		&intent.ProductID, &intent.CompanyID, &intent.Amount, &intent.Currency,
		&intent.PlatformFee, &status, &intent.CreatedAt, &intent.UpdatedAt)
	if err != nil {
		return domain.PaymentIntent{}, err
	}
	intent.Status = domain.PaymentIntentStatus(status)
	return intent, nil
}
