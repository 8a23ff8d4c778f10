package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/nexuscrm/mycrm/internal/domain/entity"
	"github.com/nexuscrm/mycrm/internal/domain/events"
	"github.com/nexuscrm/mycrm/internal/domain/models"
	"github.com/nexuscrm/mycrm/internal/infrastructure/persistence"
	"github.com/nexuscrm/mycrm/pkg/auth"
	"github.com/nexuscrm/mycrm/pkg/constants"
	appErrors "github.com/nexuscrm/mycrm/pkg/errors"
	"github.com/nexuscrm/mycrm/pkg/utils"
	"go.uber.org/zap"
)

// newRecord stamps the system fields of a validated payload.
func (s *RecordService) newRecord(user *auth.UserSession, clean models.Record) models.Record {
	now := s.now().UTC()
	rec := clean.Clone()
	rec[constants.FieldID] = utils.GenerateID()
	rec[constants.FieldTenantID] = user.TenantID
	if rec.GetString(constants.FieldOwnerID) == "" {
		rec[constants.FieldOwnerID] = user.ID
	}
	rec[constants.FieldCreatedBy] = user.ID
	rec[constants.FieldCreatedAt] = now
	rec[constants.FieldUpdatedAt] = now
	return rec
}

// lifecycle applies the state rules of the built-in entities to a change.
// old is nil on create. Only the convert action may mark a lead converted.
func (s *RecordService) lifecycle(def *entity.EntityDefinition, old, changes models.Record, action string) error {
	now := s.now().UTC()
	switch def.Name {
	case constants.EntityLeads:
		if status, ok := changes["status"]; ok && status == entity.LeadStatusConverted && action != models.AuditConvert {
			if old == nil || old.GetString("status") != entity.LeadStatusConverted {
				return appErrors.NewValidationError("status", "leads are converted with the convert action")
			}
		}
	case constants.EntityOpportunities:
		if stage, ok := changes["stage"].(string); ok {
			closed := stage == entity.StageClosedWon || stage == entity.StageClosedLost
			switch {
			case closed && (old == nil || old.GetString("stage") != stage):
				changes["closed_at"] = now
				if stage == entity.StageClosedWon {
					changes["probability"] = int64(100)
				} else {
					changes["probability"] = int64(0)
				}
			case !closed && old != nil && old["closed_at"] != nil:
				changes["closed_at"] = nil
			}
		}
	case constants.EntityTasks:
		if status, ok := changes["status"].(string); ok {
			switch {
			case status == entity.TaskStatusCompleted && (old == nil || old.GetString("status") != status):
				changes["completed_at"] = now
			case status != entity.TaskStatusCompleted && old != nil && old["completed_at"] != nil:
				changes["completed_at"] = nil
			}
		}
	}
	return nil
}

// Create validates payload and inserts a new record.
func (s *RecordService) Create(ctx context.Context, user *auth.UserSession, entityName string, payload map[string]interface{}) (models.Record, error) {
	def, _, err := s.access(user, entityName, constants.PermissionCreate)
	if err != nil {
		return nil, err
	}
	v, err := s.validate(ctx, user, def, payload, modeCreate)
	if err != nil {
		return nil, err
	}
	rec := s.newRecord(user, v.clean)
	if err := s.lifecycle(def, nil, rec, models.AuditCreate); err != nil {
		return nil, err
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		return s.insert(txCtx, user, def, rec, v.custom)
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, user.TenantID, def.Name)

	if err := s.customFields.Attach(ctx, user.TenantID, def.Name, []models.Record{rec}); err != nil {
		return nil, err
	}
	return rec, nil
}

// insert writes a stamped record with its custom values, audit entry and
// event. ctx must carry a transaction.
func (s *RecordService) insert(ctx context.Context, user *auth.UserSession, def *entity.EntityDefinition, rec models.Record, custom CustomValues) error {
	if err := s.records.Insert(ctx, def, rec); err != nil {
		return fmt.Errorf("failed to insert %s: %w", def.Name, err)
	}
	ref := models.EntityRef{Type: def.Name, ID: rec.ID()}
	if err := s.customFields.Save(ctx, user.TenantID, ref, custom); err != nil {
		return err
	}
	return s.emit(ctx, user, models.AuditCreate, events.RecordCreated, def, rec.ID(), rec, nil, Diff(nil, rec))
}

// Update changes a visible record. With partial false every required field
// must be sent.
func (s *RecordService) Update(ctx context.Context, user *auth.UserSession, entityName, id string, payload map[string]interface{}, partial bool) (models.Record, error) {
	def, scope, err := s.access(user, entityName, constants.PermissionUpdate)
	if err != nil {
		return nil, err
	}
	mode := modeReplace
	if partial {
		mode = modePartial
	}
	v, err := s.validate(ctx, user, def, payload, mode)
	if err != nil {
		return nil, err
	}

	var result models.Record
	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		old, err := s.load(txCtx, def, scope, id)
		if err != nil {
			return err
		}
		result, err = s.apply(txCtx, user, def, scope, old, v.clean, v.custom, models.AuditUpdate)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, user.TenantID, def.Name)

	if err := s.customFields.Attach(ctx, user.TenantID, def.Name, []models.Record{result}); err != nil {
		return nil, err
	}
	return result, nil
}

// apply writes changes to old and returns the new state. Nothing is
// written, audited or announced when no value differs. ctx must carry a
// transaction.
func (s *RecordService) apply(ctx context.Context, user *auth.UserSession, def *entity.EntityDefinition, scope persistence.Scope, old, changes models.Record, custom CustomValues, action string) (models.Record, error) {
	changes = changes.Clone()
	if err := s.lifecycle(def, old, changes, action); err != nil {
		return nil, err
	}
	diff := Diff(old, changes)
	id := old.ID()
	ref := models.EntityRef{Type: def.Name, ID: id}
	if err := s.customFields.Save(ctx, user.TenantID, ref, custom); err != nil {
		return nil, err
	}
	if len(diff) == 0 {
		if len(custom) > 0 {
			return old, s.audit.Record(ctx, s.audit.Entry(ctx, user, action, ref, nil))
		}
		return old, nil
	}

	updates := make(models.Record, len(diff)+1)
	for k := range diff {
		updates[k] = changes[k]
	}
	updates[constants.FieldUpdatedAt] = s.now().UTC()
	if _, err := s.records.Update(ctx, def, scope, updates, id); err != nil {
		return nil, fmt.Errorf("failed to update %s %s: %w", def.Name, id, err)
	}

	next := old.Clone()
	for k, val := range updates {
		next[k] = val
	}
	if err := s.emit(ctx, user, action, events.RecordUpdated, def, id, next, old, diff); err != nil {
		return nil, err
	}
	return next, nil
}

// Delete removes a visible record and applies the delete rules of every
// reference to it.
func (s *RecordService) Delete(ctx context.Context, user *auth.UserSession, entityName, id string) error {
	def, scope, err := s.access(user, entityName, constants.PermissionDelete)
	if err != nil {
		return err
	}

	touched := make(map[string]bool)
	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		rec, err := s.load(txCtx, def, scope, id)
		if err != nil {
			return err
		}
		return s.deleteTree(txCtx, user, def, []models.Record{rec}, models.AuditDelete, touched)
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, user.TenantID, keysOf(touched)...)
	return nil
}

func keysOf(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// deleteTree deletes records of def after handling every row that refers
// to them: restrict aborts with a conflict, set_null clears the reference
// and cascade deletes the row recursively. Each affected row is audited
// and announced. touched collects the entities that changed.
func (s *RecordService) deleteTree(ctx context.Context, user *auth.UserSession, def *entity.EntityDefinition, records []models.Record, action string, touched map[string]bool) error {
	if len(records) == 0 {
		return nil
	}
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID()
	}
	tenantScope := persistence.Scope{TenantID: user.TenantID}

	for _, ref := range s.registry.ReferencesTo(def.Name) {
		rows, err := s.records.FindReferencing(ctx, ref.Entity, user.TenantID, ref.Field.Name, ids)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			continue
		}

		switch ref.Field.OnDelete {
		case entity.Restrict:
			return &appErrors.ConflictError{
				Resource: def.Name,
				Reason: fmt.Sprintf("cannot delete %s: referenced by %d %s through %s",
					strings.ToLower(def.Label), len(rows), ref.Entity.Name, ref.Field.Name),
			}

		case entity.SetNull:
			for _, row := range rows {
				if _, err := s.apply(ctx, user, ref.Entity, tenantScope, row, models.Record{ref.Field.Name: nil}, nil, models.AuditUpdate); err != nil {
					return err
				}
			}
			touched[ref.Entity.Name] = true

		default:
			if err := s.deleteTree(ctx, user, ref.Entity, rows, action, touched); err != nil {
				return err
			}
		}
	}

	if err := s.customFields.DeleteFor(ctx, user.TenantID, def.Name, ids); err != nil {
		return err
	}
	if _, err := s.records.Delete(ctx, def, tenantScope, ids...); err != nil {
		return fmt.Errorf("failed to delete %s: %w", def.Name, err)
	}
	for _, r := range records {
		if err := s.emit(ctx, user, action, events.RecordDeleted, def, r.ID(), nil, r, nil); err != nil {
			return err
		}
	}
	touched[def.Name] = true

	s.logger.Debug("Records deleted", zap.String("entity", def.Name), zap.Int("count", len(ids)))
	return nil
}
