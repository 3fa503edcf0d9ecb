package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	domain "github.com/forgemarket/api/internal/domain"
	"github.com/forgemarket/api/internal/repositories"
)

const orderColumns = `id, product_id, company_id, buyer_id, status, amount, currency,
	paid_at, in_progress_at, delivered_at, completed_at, cancelled_at, refunded_at,
	created_at, updated_at`

// OrderRepository persists orders in Postgres.
type OrderRepository struct {
	provider *Provider
}

// Insert stores a new order row.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if r == nil || r.provider == nil {
		return errors.New("order repository not initialised")
	}

	_, err := r.provider.querier(ctx).Exec(ctx, `
		INSERT INTO orders (id, product_id, company_id, buyer_id, status, amount, currency,
			paid_at, in_progress_at, delivered_at, completed_at, cancelled_at, refunded_at,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		order.ID, order.ProductID, order.CompanyID, order.BuyerID, string(order.Status),
		order.Amount, order.Currency,
		order.PaidAt, order.InProgressAt, order.DeliveredAt, order.CompletedAt,
		order.CancelledAt, order.RefundedAt,
		order.CreatedAt, order.UpdatedAt)
	return wrapError("orders.insert", err)
}

// FindByID loads a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}

	row := r.provider.querier(ctx).QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID)
	order, err := scanOrder(row)
	if err != nil {
		return domain.Order{}, wrapError("orders.find", err)
	}
	return order, nil
}

// UpdateStatus applies the status change atomically, guarded by the expected
// current status. Timestamps present in update overwrite the stored values;
// nil pointers leave the stored values untouched.
func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID string, expected domain.OrderStatus, update repositories.OrderStatusUpdate) (domain.Order, error) {
	if r == nil || r.provider == nil {
		return domain.Order{}, errors.New("order repository not initialised")
	}

	q := r.provider.querier(ctx)
	row := q.QueryRow(ctx, `
		UPDATE orders SET
			status = $1,
			paid_at = COALESCE($2, paid_at),
			in_progress_at = COALESCE($3, in_progress_at),
			delivered_at = COALESCE($4, delivered_at),
			completed_at = COALESCE($5, completed_at),
			cancelled_at = COALESCE($6, cancelled_at),
			refunded_at = COALESCE($7, refunded_at),
			updated_at = $8
		WHERE id = $9 AND status = $10
		RETURNING `+orderColumns,
		string(update.Status),
		update.PaidAt, update.InProgressAt, update.DeliveredAt,
		update.CompletedAt, update.CancelledAt, update.RefundedAt,
		update.UpdatedAt, orderID, string(expected))

	order, err := scanOrder(row)
	if err == nil {
		return order, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, wrapError("orders.update_status", err)
	}

	// No row matched: tell a missing order apart from a lost status race.
	var current string
	switch err := q.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, orderID).Scan(&current); {
	case err == nil:
		return domain.Order{}, conflictError("orders.update_status",
			fmt.Errorf("status changed concurrently: have %s, expected %s", current, expected))
	case errors.Is(err, pgx.ErrNoRows):
		return domain.Order{}, notFoundError("orders.update_status")
	default:
		return domain.Order{}, wrapError("orders.update_status", err)
	}
}

// List pages orders filtered by buyer, company, status, and creation window.
// Results are newest first; IDs are time-sortable so the cursor is the last ID seen.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Order]{}, errors.New("order repository not initialised")
	}

	var (
		clauses []string
		args    []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.BuyerID != "" {
		clauses = append(clauses, "buyer_id = "+arg(filter.BuyerID))
	}
	if filter.CompanyID != "" {
		clauses = append(clauses, "company_id = "+arg(filter.CompanyID))
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = "+arg(string(filter.Status)))
	}
	if filter.Created.From != nil {
		clauses = append(clauses, "created_at >= "+arg(*filter.Created.From))
	}
	if filter.Created.To != nil {
		clauses = append(clauses, "created_at < "+arg(*filter.Created.To))
	}
	if filter.PageToken != "" {
		clauses = append(clauses, "id < "+arg(filter.PageToken))
	}

	query := `SELECT ` + orderColumns + ` FROM orders`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	pageSize := clampPageSize(filter.PageSize)
	query += " ORDER BY id DESC LIMIT " + arg(pageSize+1)

	rows, err := r.provider.querier(ctx).Query(ctx, query, args...)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, wrapError("orders.list", err)
	}
	defer rows.Close()

	items := make([]domain.Order, 0, pageSize)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, wrapError("orders.list", err)
		}
		items = append(items, order)
	}
	if err := rows.Err(); err != nil {
		return domain.CursorPage[domain.Order]{}, wrapError("orders.list", err)
	}

	page := domain.CursorPage[domain.Order]{Items: items}
	if len(items) > pageSize {
		page.Items = items[:pageSize]
		page.NextPageToken = page.Items[pageSize-1].ID
	}
	return page, nil
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		order  domain.Order
		status string
	)
	err := row.Scan(
		&order.ID, &order.ProductID, &order.CompanyID, &order.BuyerID, &status,
		&order.Amount, &order.Currency,
		&order.PaidAt, &order.InProgressAt, &order.DeliveredAt, &order.CompletedAt,
		&order.CancelledAt, &order.RefundedAt,
		&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	return order, nil
}
