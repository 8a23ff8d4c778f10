package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nexuscrm/mycrm/internal/domain/models"
	"github.com/nexuscrm/mycrm/internal/infrastructure/persistence"
	"github.com/nexuscrm/mycrm/pkg/auth"
	"github.com/nexuscrm/mycrm/pkg/constants"
	appErrors "github.com/nexuscrm/mycrm/pkg/errors"
	"github.com/nexuscrm/mycrm/pkg/pagination"
	"github.com/nexuscrm/mycrm/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AuditService writes and reads the audit trail.
type AuditService struct {
	repo   *persistence.AuditRepository
	logger *zap.Logger
	now    func() time.Time
}

func NewAuditService(repo *persistence.AuditRepository, logger *zap.Logger) *AuditService {
	return &AuditService{repo: repo, logger: logger, now: time.Now}
}

// Entry builds an audit entry for the acting user, stamped with the request
// metadata found in ctx.
func (s *AuditService) Entry(ctx context.Context, actor *auth.UserSession, action string, ref models.EntityRef, changes map[string]models.FieldChange) *models.AuditEntry {
	meta := models.RequestMetaFrom(ctx)
	e := &models.AuditEntry{
		ID:        utils.GenerateID(),
		Ref:       ref,
		Action:    action,
		Changes:   changes,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		RequestID: meta.RequestID,
		CreatedAt: s.now().UTC(),
	}
	if actor != nil {
		e.TenantID = actor.TenantID
		e.ActorID = actor.ID
	}
	return e
}

// Record persists entries. Called with a transactional ctx they are
// written in the caller's transaction.
func (s *AuditService) Record(ctx context.Context, entries ...*models.AuditEntry) error {
	if err := s.repo.Insert(ctx, entries...); err != nil {
		return fmt.Errorf("failed to record audit trail: %w", err)
	}
	return nil
}

// Diff returns the fields whose values differ between old and new. Fields
// absent from new are left out, as is updated_at.
func Diff(old, new models.Record) map[string]models.FieldChange {
	changes := make(map[string]models.FieldChange)
	for k, nv := range new {
		if k == constants.FieldUpdatedAt {
			continue
		}
		var ov interface{}
		if old != nil {
			ov = old[k]
		}
		if auditValue(ov) != auditValue(nv) {
			changes[k] = models.FieldChange{Old: ov, New: nv}
		}
	}
	return changes
}

// auditValue renders a value so that equal values of different driver
// representations compare equal.
func auditValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return "\x00null"
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if t == nil {
			return "\x00null"
		}
		return t.UTC().Format(time.RFC3339Nano)
	case decimal.Decimal:
		return t.String()
	case json.RawMessage:
		return string(t)
	case bool:
		if t {
			return "1"
		}
		return "0"
	}
	return utils.ToString(v)
}

// List returns a page of the tenant's audit trail. Only users who see the
// whole tenant may browse it.
func (s *AuditService) List(ctx context.Context, user *auth.UserSession, filter models.AuditFilter, params pagination.Params) ([]*models.AuditEntry, int, error) {
	if !user.SeesWholeTenant() {
		return nil, 0, appErrors.NewPermissionError("read", "audit trail")
	}
	return s.repo.List(ctx, user.TenantID, filter, params.PageSize, params.Offset())
}

// History returns the entries of one record. Callers check that the user
// may read the record.
func (s *AuditService) History(ctx context.Context, user *auth.UserSession, ref models.EntityRef, params pagination.Params) ([]*models.AuditEntry, int, error) {
	filter := models.AuditFilter{EntityType: ref.Type, EntityID: ref.ID}
	return s.repo.List(ctx, user.TenantID, filter, params.PageSize, params.Offset())
}

// Purge deletes entries older than retention.
func (s *AuditService) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := s.repo.DeleteBefore(ctx, s.now().UTC().Add(-retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("Purged audit entries", zap.Int64("count", n), zap.Duration("retention", retention))
	}
	return n, nil
}
