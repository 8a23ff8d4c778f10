package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nexuscrm/mycrm/internal/domain/entity"
	"github.com/nexuscrm/mycrm/internal/domain/events"
	"github.com/nexuscrm/mycrm/internal/domain/models"
	"github.com/nexuscrm/mycrm/internal/infrastructure/persistence"
	"github.com/nexuscrm/mycrm/pkg/auth"
	"github.com/nexuscrm/mycrm/pkg/constants"
	appErrors "github.com/nexuscrm/mycrm/pkg/errors"
	"go.uber.org/zap"
)

// BulkResult reports the rows touched by a bulk operation.
type BulkResult struct {
	Count int      `json:"count"`
	IDs   []string `json:"ids"`
}

func checkBatchSize(field string, n int) error {
	switch {
	case n == 0:
		return appErrors.NewValidationError(field, "at least one item is required")
	case n > constants.MaxBulkItems:
		return appErrors.NewValidationError(field, fmt.Sprintf("at most %d items are allowed per request", constants.MaxBulkItems))
	}
	return nil
}

// BulkCreate validates every payload before writing any of them. Invalid
// items are reported under their index; valid batches are inserted with
// multi-row statements in one transaction.
func (s *RecordService) BulkCreate(ctx context.Context, user *auth.UserSession, entityName string, payloads []map[string]interface{}) (*BulkResult, error) {
	def, _, err := s.access(user, entityName, constants.PermissionCreate)
	if err != nil {
		return nil, err
	}
	if err := checkBatchSize(appErrors.NonFieldErrors, len(payloads)); err != nil {
		return nil, err
	}

	verr := appErrors.NewFieldErrors("one or more items are invalid")
	records := make([]models.Record, 0, len(payloads))
	customs := make([]CustomValues, 0, len(payloads))
	for i, payload := range payloads {
		v, err := s.validate(ctx, user, def, payload, modeCreate)
		if err != nil {
			var itemErr *appErrors.ValidationError
			if !errors.As(err, &itemErr) {
				return nil, err
			}
			verr.Merge(strconv.Itoa(i), itemErr)
			continue
		}
		rec := s.newRecord(user, v.clean)
		if err := s.lifecycle(def, nil, rec, models.AuditBulkCreate); err != nil {
			var itemErr *appErrors.ValidationError
			if errors.As(err, &itemErr) {
				verr.Merge(strconv.Itoa(i), itemErr)
				continue
			}
			return nil, err
		}
		records = append(records, rec)
		customs = append(customs, v.custom)
	}
	if verr.HasErrors() {
		return nil, verr
	}

	ids := make([]string, len(records))
	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.records.BulkInsert(txCtx, def, def.Columns(), records, constants.BulkBatchSize); err != nil {
			return fmt.Errorf("failed to bulk insert %s: %w", def.Name, err)
		}
		entries := make([]*models.AuditEntry, len(records))
		for i, rec := range records {
			ids[i] = rec.ID()
			ref := models.EntityRef{Type: def.Name, ID: rec.ID()}
			if err := s.customFields.Save(txCtx, user.TenantID, ref, customs[i]); err != nil {
				return err
			}
			entries[i] = s.audit.Entry(txCtx, user, models.AuditBulkCreate, ref, Diff(nil, rec))
		}
		if err := s.audit.Record(txCtx, entries...); err != nil {
			return err
		}
		for _, rec := range records {
			if err := s.outbox.Enqueue(txCtx, s.event(user, events.RecordCreated, def, rec.ID(), rec, nil)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, user.TenantID, def.Name)

	s.logger.Info("Bulk create completed",
		zap.String("entity", def.Name),
		zap.String("tenant_id", user.TenantID),
		zap.Int("count", len(ids)))
	return &BulkResult{Count: len(ids), IDs: ids}, nil
}

// visible returns the records with ids in the caller's scope, in request
// order. Any id the caller cannot see fails the whole request.
func (s *RecordService) visible(ctx context.Context, def *entity.EntityDefinition, scope persistence.Scope, ids []string) ([]models.Record, error) {
	unique := dedupe(ids)
	found, err := s.records.FetchByIDs(ctx, def, scope, unique)
	if err != nil {
		return nil, err
	}
	var missing []string
	records := make([]models.Record, 0, len(unique))
	for _, id := range unique {
		rec, ok := found[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		records = append(records, rec)
	}
	if len(missing) > 0 {
		return nil, appErrors.NewNotFoundError(def.Label, strings.Join(missing, ", "))
	}
	return records, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// BulkUpdate applies the same partial change to every id.
func (s *RecordService) BulkUpdate(ctx context.Context, user *auth.UserSession, entityName string, ids []string, fields map[string]interface{}) (*BulkResult, error) {
	def, scope, err := s.access(user, entityName, constants.PermissionUpdate)
	if err != nil {
		return nil, err
	}
	if err := checkBatchSize("ids", len(ids)); err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, appErrors.NewValidationError("fields", "at least one field is required")
	}
	v, err := s.validate(ctx, user, def, fields, modePartial)
	if err != nil {
		return nil, err
	}

	var updated []string
	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		records, err := s.visible(txCtx, def, scope, ids)
		if err != nil {
			return err
		}
		for _, old := range records {
			if _, err := s.apply(txCtx, user, def, scope, old, v.clean, v.custom, models.AuditBulkUpdate); err != nil {
				return err
			}
			updated = append(updated, old.ID())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, user.TenantID, def.Name)
	return &BulkResult{Count: len(updated), IDs: updated}, nil
}

// BulkDelete deletes every id, applying the same reference rules as Delete.
func (s *RecordService) BulkDelete(ctx context.Context, user *auth.UserSession, entityName string, ids []string) (*BulkResult, error) {
	def, scope, err := s.access(user, entityName, constants.PermissionDelete)
	if err != nil {
		return nil, err
	}
	if err := checkBatchSize("ids", len(ids)); err != nil {
		return nil, err
	}

	var deleted []string
	touched := make(map[string]bool)
	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		records, err := s.visible(txCtx, def, scope, ids)
		if err != nil {
			return err
		}
		for _, r := range records {
			deleted = append(deleted, r.ID())
		}
		return s.deleteTree(txCtx, user, def, records, models.AuditBulkDelete, touched)
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, user.TenantID, keysOf(touched)...)
	return &BulkResult{Count: len(deleted), IDs: deleted}, nil
}
