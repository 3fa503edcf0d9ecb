package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	domain "github.com/forgemarket/api/internal/domain"
	"github.com/forgemarket/api/internal/repositories"
)

// AuditLogRepository appends audit entries to Postgres. Details maps are
// stored as jsonb through pgx's native map encoding.
type AuditLogRepository struct {
	provider *Provider
}

// Append stores an immutable audit entry.
func (r *AuditLogRepository) Append(ctx context.Context, entry domain.AuditLogEntry) error {
	if r == nil || r.provider == nil {
		return errors.New("audit log repository not initialised")
	}

	_, err := r.provider.querier(ctx).Exec(ctx, `
		INSERT INTO audit_logs (id, target_ref, action, actor_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.TargetRef, entry.Action, entry.ActorID, entry.Details, entry.CreatedAt)
	return wrapError("audit_logs.append", err)
}

// List pages audit entries newest first.
func (r *AuditLogRepository) List(ctx context.Context, filter repositories.AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error) {
	if r == nil || r.provider == nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, errors.New("audit log repository not initialised")
	}

	var (
		clauses []string
		args    []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.TargetRef != "" {
		clauses = append(clauses, "target_ref = "+arg(filter.TargetRef))
	}
	if filter.ActorID != "" {
		clauses = append(clauses, "actor_id = "+arg(filter.ActorID))
	}
	if filter.Action != "" {
		clauses = append(clauses, "action = "+arg(filter.Action))
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

	query := `SELECT id, target_ref, action, actor_id, details, created_at FROM audit_logs`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	pageSize := clampPageSize(filter.PageSize)
	query += " ORDER BY id DESC LIMIT " + arg(pageSize+1)

	rows, err := r.provider.querier(ctx).Query(ctx, query, args...)
	if err != nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, wrapError("audit_logs.list", err)
	}
	defer rows.Close()

	items := make([]domain.AuditLogEntry, 0, pageSize)
	for rows.Next() {
		var entry domain.AuditLogEntry
		if err := rows.Scan(&entry.ID, &entry.TargetRef, &entry.Action, &entry.ActorID, &entry.Details, &entry.CreatedAt); err != nil {
			return domain.CursorPage[domain.AuditLogEntry]{}, wrapError("audit_logs.list", err)
		}
		items = append(items, entry)
	}
	if err := rows.Err(); err != nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, wrapError("audit_logs.list", err)
	}

	page := domain.CursorPage[domain.AuditLogEntry]{Items: items}
	if len(items) > pageSize {
		page.Items = items[:pageSize]
		page.NextPageToken = page.Items[pageSize-1].ID
	}
	return page, nil
}
