package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/forgemarket/api/internal/domain"
	"github.com/forgemarket/api/internal/repositories"
)

const auditLogIDPrefix = "aud_"

// AuditLogger defines the logging contract used by the audit writer service.
type AuditLogger interface {
	Warnf(format string, args ...any)
}

type auditLogService struct {
	repo   repositories.AuditLogRepository
	clock  func() time.Time
	newID  func() string
	logger AuditLogger
}

// AuditLogServiceDeps bundles constructor inputs for the audit writer service.
type AuditLogServiceDeps struct {
	Repository  repositories.AuditLogRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      AuditLogger
}

// NewAuditLogService creates an audit log writer backed by the supplied repository.
func NewAuditLogService(deps AuditLogServiceDeps) (AuditLogService, error) {
	if deps.Repository == nil {
		return nil, fmt.Errorf("audit log service: repository is required")
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
		logger = noopAuditLogger{}
	}

	return &auditLogService{
		repo:   deps.Repository,
		clock:  func() time.Time { return clock().UTC() },
		newID:  idGen,
		logger: logger,
	}, nil
}

// Record persists an audit log entry. Repository failures are logged but do
// not bubble up to callers to avoid interrupting the primary mutation flow.
func (s *auditLogService) Record(ctx context.Context, entry AuditEntry) {
	if s.repo == nil {
		return
	}

	at := entry.At
	if at.IsZero() {
		at = s.clock()
	}

	record := domain.AuditLogEntry{
		ID:        auditLogIDPrefix + s.newID(),
		TargetRef: strings.TrimSpace(entry.TargetRef),
		Action:    strings.TrimSpace(entry.Action),
		ActorID:   strings.TrimSpace(entry.ActorID),
		Details:   entry.Details,
		CreatedAt: at,
	}

	if err := s.repo.Append(ctx, record); err != nil {
		s.logger.Warnf("audit log append failed: %v", err)
	}
}

// List delegates to the repository to retrieve paginated audit logs.
func (s *auditLogService) List(ctx context.Context, filter repositories.AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error) {
	if s.repo == nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, fmt.Errorf("audit log service: repository is required")
	}
	return s.repo.List(ctx, filter)
}

type noopAuditLogger struct{}

func (noopAuditLogger) Warnf(string, ...any) {}
