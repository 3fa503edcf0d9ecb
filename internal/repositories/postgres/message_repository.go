package postgres

import (
	"context"
	"errors"
	"strconv"

	domain "github.com/forgemarket/api/internal/domain"
)

// MessageRepository persists order-scoped message threads in Postgres.
type MessageRepository struct {
	provider *Provider
}

// Append stores a new message.
func (r *MessageRepository) Append(ctx context.Context, message domain.Message) error {
	if r == nil || r.provider == nil {
		return errors.New("message repository not initialised")
	}

	_, err := r.provider.querier(ctx).Exec(ctx, `
		INSERT INTO order_messages (id, order_id, sender_id, body, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		message.ID, message.OrderID, message.SenderID, message.Body, message.CreatedAt)
	return wrapError("messages.append", err)
}

// ListByOrder pages a thread oldest first so conversations read top to bottom.
func (r *MessageRepository) ListByOrder(ctx context.Context, orderID string, pager domain.Pagination) (domain.CursorPage[domain.Message], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.Message]{}, errors.New("message repository not initialised")
	}

	pageSize := clampPageSize(pager.PageSize)
	query := `SELECT id, order_id, sender_id, body, created_at FROM order_messages WHERE order_id = $1`
	args := []any{orderID}
	if pager.PageToken != "" {
		args = append(args, pager.PageToken)
		query += ` AND id > $2`
	}
	args = append(args, pageSize+1)
	query += ` ORDER BY id ASC LIMIT $` + strconv.Itoa(len(args))

	rows, err := r.provider.querier(ctx).Query(ctx, query, args...)
	if err != nil {
		return domain.CursorPage[domain.Message]{}, wrapError("messages.list", err)
	}
	defer rows.Close()

	items := make([]domain.Message, 0, pageSize)
	for rows.Next() {
		var msg domain.Message
		if err := rows.Scan(&msg.ID, &msg.OrderID, &msg.SenderID, &msg.Body, &msg.CreatedAt); err != nil {
			return domain.CursorPage[domain.Message]{}, wrapError("messages.list", err)
		}
		items = append(items, msg)
	}
	if err := rows.Err(); err != nil {
		return domain.CursorPage[domain.Message]{}, wrapError("messages.list", err)
	}

	page := domain.CursorPage[domain.Message]{Items: items}
	if len(items) > pageSize {
		page.Items = items[:pageSize]
		page.NextPageToken = page.Items[pageSize-1].ID
	}
	return page, nil
}
