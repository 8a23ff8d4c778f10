package services

import (
	"context"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/nexuscrm/mycrm/internal/domain/entity"
	"github.com/nexuscrm/mycrm/internal/domain/events"
	"github.com/nexuscrm/mycrm/internal/domain/models"
	"github.com/nexuscrm/mycrm/internal/infrastructure/cache"
	"github.com/nexuscrm/mycrm/internal/infrastructure/persistence"
	"github.com/nexuscrm/mycrm/pkg/auth"
	"github.com/nexuscrm/mycrm/pkg/constants"
	appErrors "github.com/nexuscrm/mycrm/pkg/errors"
	"github.com/nexuscrm/mycrm/pkg/pagination"
	"go.uber.org/zap"
)

// RecordService is the generic CRUD layer over the registered entities.
// Every call is tenant scoped and permission checked; writes are audited
// and announced through the outbox in the same transaction.
type RecordService struct {
	registry     *entity.Registry
	records      *persistence.RecordRepository
	users        *persistence.UserRepository
	customFields *CustomFieldService
	audit        *AuditService
	outbox       *OutboxService
	permissions  *PermissionService
	txManager    *persistence.TransactionManager
	cache        cache.Cache
	cacheTTL     time.Duration
	sanitizer    *bluemonday.Policy
	logger       *zap.Logger
	now          func() time.Time
}

// RecordServiceDeps groups the collaborators of RecordService.
type RecordServiceDeps struct {
	Registry     *entity.Registry
	Records      *persistence.RecordRepository
	Users        *persistence.UserRepository
	CustomFields *CustomFieldService
	Audit        *AuditService
	Outbox       *OutboxService
	Permissions  *PermissionService
	TxManager    *persistence.TransactionManager
	Cache        cache.Cache
	CacheTTL     time.Duration
	Logger       *zap.Logger
}

func NewRecordService(deps RecordServiceDeps) *RecordService {
	return &RecordService{
		registry:     deps.Registry,
		records:      deps.Records,
		users:        deps.Users,
		customFields: deps.CustomFields,
		audit:        deps.Audit,
		outbox:       deps.Outbox,
		permissions:  deps.Permissions,
		txManager:    deps.TxManager,
		cache:        deps.Cache,
		cacheTTL:     deps.CacheTTL,
		sanitizer:    bluemonday.UGCPolicy(),
		logger:       deps.Logger,
		now:          time.Now,
	}
}

// Registry exposes the entity definitions served by the service.
func (s *RecordService) Registry() *entity.Registry {
	return s.registry
}

func (s *RecordService) definition(name string) (*entity.EntityDefinition, error) {
	def, ok := s.registry.Get(name)
	if !ok {
		return nil, appErrors.NewNotFoundError("entity", name)
	}
	return def, nil
}

// access resolves the entity, checks perm and returns the caller's scope.
func (s *RecordService) access(user *auth.UserSession, entityName, perm string) (*entity.EntityDefinition, persistence.Scope, error) {
	def, err := s.definition(entityName)
	if err != nil {
		return nil, persistence.Scope{}, err
	}
	if err := s.permissions.Require(user, def, perm); err != nil {
		return nil, persistence.Scope{}, err
	}
	return def, s.permissions.Scope(user, def), nil
}

func scopeKey(scope persistence.Scope) string {
	if scope.OwnerID == "" {
		return "all"
	}
	return "owner:" + scope.OwnerID
}

func notFound(def *entity.EntityDefinition, id string) error {
	return appErrors.NewNotFoundError(def.Label, id)
}

// Get returns one visible record with its custom fields.
func (s *RecordService) Get(ctx context.Context, user *auth.UserSession, entityName, id string) (models.Record, error) {
	def, scope, err := s.access(user, entityName, constants.PermissionRead)
	if err != nil {
		return nil, err
	}
	key := "detail:" + scopeKey(scope) + ":" + id
	return cachedIn(ctx, s.cache, s.logger, user.TenantID, def.Name, key, s.cacheTTL,
		func(ctx context.Context) (models.Record, error) {
			rec, err := s.records.Find(ctx, def, scope, id)
			if err != nil {
				return nil, err
			}
			if rec == nil {
				return nil, notFound(def, id)
			}
			if err := s.customFields.Attach(ctx, user.TenantID, def.Name, []models.Record{rec}); err != nil {
				return nil, err
			}
			return rec, nil
		})
}

// load returns a visible record inside a transaction, locked for update.
func (s *RecordService) load(ctx context.Context, def *entity.EntityDefinition, scope persistence.Scope, id string) (models.Record, error) {
	rec, err := s.records.FindForUpdate(ctx, def, scope, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, notFound(def, id)
	}
	return rec, nil
}

// History returns the audit trail of a record the caller can read.
func (s *RecordService) History(ctx context.Context, user *auth.UserSession, entityName, id string, params pagination.Params) ([]*models.AuditEntry, int, error) {
	def, scope, err := s.access(user, entityName, constants.PermissionRead)
	if err != nil {
		return nil, 0, err
	}
	rec, err := s.records.Find(ctx, def, scope, id)
	if err != nil {
		return nil, 0, err
	}
	if rec == nil {
		return nil, 0, notFound(def, id)
	}
	return s.audit.History(ctx, user, models.EntityRef{Type: def.Name, ID: id}, params)
}

func (s *RecordService) event(user *auth.UserSession, t events.EventType, def *entity.EntityDefinition, id string, record, old models.Record) *events.RecordEvent {
	return &events.RecordEvent{
		Type:       t,
		Entity:     def.Name,
		TenantID:   user.TenantID,
		RecordID:   id,
		ActorID:    user.ID,
		Record:     withoutCustomFields(record),
		Old:        withoutCustomFields(old),
		OccurredAt: s.now().UTC(),
	}
}

func withoutCustomFields(r models.Record) models.Record {
	if r == nil {
		return nil
	}
	if _, ok := r[constants.FieldCustomFields]; !ok {
		return r
	}
	out := r.Clone()
	delete(out, constants.FieldCustomFields)
	return out
}

// emit audits a change and enqueues its record event.
func (s *RecordService) emit(ctx context.Context, user *auth.UserSession, action string, t events.EventType, def *entity.EntityDefinition, id string, record, old models.Record, changes map[string]models.FieldChange) error {
	entry := s.audit.Entry(ctx, user, action, models.EntityRef{Type: def.Name, ID: id}, changes)
	if err := s.audit.Record(ctx, entry); err != nil {
		return err
	}
	return s.outbox.Enqueue(ctx, s.event(user, t, def, id, record, old))
}

// invalidate drops the cached reads of the given entities.
func (s *RecordService) invalidate(ctx context.Context, tenantID string, entities ...string) {
	seen := make(map[string]bool, len(entities))
	for _, e := range entities {
		if seen[e] {
			continue
		}
		seen[e] = true
		invalidateScope(ctx, s.cache, s.logger, tenantID, e)
	}
}
