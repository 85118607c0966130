package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	domain "github.com/cinetek/api/internal/domain"
	"github.com/cinetek/api/internal/platform/requestctx"
	"github.com/cinetek/api/internal/repositories"
)

const (
	maxAuditActorLength  = 128
	maxAuditActionLength = 128
	maxAuditTargetLength = 256
)

// AuditLogger defines the logging contract used by the audit writer service.
type AuditLogger interface {
	Warnf(format string, args ...any)
}

type auditLogService struct {
	repo   repositories.AuditLogRepository
	clock  func() time.Time
	logger AuditLogger
}

// AuditLogServiceDeps bundles constructor inputs for the audit writer service.
type AuditLogServiceDeps struct {
	Repository repositories.AuditLogRepository
	Clock      func() time.Time
	Logger     AuditLogger
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

	logger := deps.Logger
	if logger == nil {
		logger = noopAuditLogger{}
	}

	return &auditLogService{
		repo:   deps.Repository,
		clock:  func() time.Time { return clock().UTC() },
		logger: logger,
	}, nil
}

// Record persists an audit log entry. Repository failures are logged but do
// not bubble up to callers to avoid interrupting the primary mutation flow.
func (s *auditLogService) Record(ctx context.Context, record AuditLogRecord) {
	if s.repo == nil {
		return
	}

	entry := domain.AuditLogEntry{
		Actor:     sanitizeAuditText(record.Actor, maxAuditActorLength),
		Action:    sanitizeAuditText(record.Action, maxAuditActionLength),
		TargetRef: sanitizeAuditText(auditTargetRef(record.Entity, record.EntityID), maxAuditTargetLength),
		Metadata:  cloneAnyMap(record.Metadata),
		RequestID: requestctx.TraceID(ctx),
		CreatedAt: s.clock(),
	}

	if err := s.repo.Append(ctx, entry); err != nil {
		s.logger.Warnf("audit log append failed: %v", err)
	}
}

// List delegates to the repository to retrieve paginated audit logs.
func (s *auditLogService) List(ctx context.Context, filter AuditLogFilter) (domain.CursorPage[domain.AuditLogEntry], error) {
	if s.repo == nil {
		return domain.CursorPage[domain.AuditLogEntry]{}, fmt.Errorf("audit log service: repository is required")
	}

	repoFilter := repositories.AuditLogFilter{
		Actor: strings.TrimSpace(filter.Actor),
		DateRange: domain.RangeQuery[time.Time]{
			From: filter.Since,
			To:   filter.Until,
		},
		Pagination: filter.Pager,
	}
	if target := auditTargetRef(filter.Entity, filter.EntityID); target != "" {
		repoFilter.TargetRef = target
	}

	return s.repo.List(ctx, repoFilter)
}

// auditTargetRef joins entity and id into the stored target reference.
// An entity without an id cannot be matched by equality and yields "".
func auditTargetRef(entity, entityID string) string {
	entity = strings.TrimSpace(entity)
	entityID = strings.TrimSpace(entityID)
	if entity == "" || entityID == "" {
		return ""
	}
	return entity + "/" + entityID
}

func sanitizeAuditText(value string, max int) string {
	trimmed := strings.TrimSpace(value)
	if len(trimmed) > max {
		trimmed = trimmed[:max]
	}
	return trimmed
}

type noopAuditLogger struct{}

func (noopAuditLogger) Warnf(string, ...any) {}
