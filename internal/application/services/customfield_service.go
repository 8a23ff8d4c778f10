package services

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/nexuscrm/mycrm/internal/domain/entity"
	"github.com/nexuscrm/mycrm/internal/domain/models"
	"github.com/nexuscrm/mycrm/internal/infrastructure/cache"
	"github.com/nexuscrm/mycrm/internal/infrastructure/persistence"
	"github.com/nexuscrm/mycrm/pkg/auth"
	"github.com/nexuscrm/mycrm/pkg/constants"
	appErrors "github.com/nexuscrm/mycrm/pkg/errors"
	"github.com/nexuscrm/mycrm/pkg/utils"
	"go.uber.org/zap"
)

const customFieldScope = "custom_fields"

var customKeyRe = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// DefineCustomFieldRequest declares a new custom field.
type DefineCustomFieldRequest struct {
	Entity   string           `json:"entity"`
	Key      string           `json:"key"`
	Label    string           `json:"label"`
	Type     models.FieldKind `json:"type"`
	Required bool             `json:"required"`
}

// CustomFieldService manages tenant-defined fields and their values.
type CustomFieldService struct {
	registry *entity.Registry
	repo     *persistence.CustomFieldRepository
	cache    cache.Cache
	cacheTTL time.Duration
	logger   *zap.Logger
}

func NewCustomFieldService(registry *entity.Registry, repo *persistence.CustomFieldRepository, c cache.Cache, cacheTTL time.Duration, logger *zap.Logger) *CustomFieldService {
	return &CustomFieldService{registry: registry, repo: repo, cache: c, cacheTTL: cacheTTL, logger: logger}
}

// Define adds a custom field to one of the tenant's entities.
func (s *CustomFieldService) Define(ctx context.Context, admin *auth.UserSession, req DefineCustomFieldRequest) (*models.CustomFieldDefinition, error) {
	if err := requireAdmin(admin); err != nil {
		return nil, err
	}

	verr := appErrors.NewFieldErrors("invalid custom field")
	def, ok := s.registry.Get(req.Entity)
	if !ok {
		verr.Add("entity", fmt.Sprintf("%q is not a known entity", req.Entity))
	}
	if !customKeyRe.MatchString(req.Key) {
		verr.Add("key", "must start with a letter and contain only lowercase letters, digits and underscores")
	} else if ok && (def.HasColumn(req.Key) || req.Key == constants.FieldCustomFields) {
		verr.Add("key", "clashes with a built-in field")
	}
	if !req.Type.Valid() {
		verr.Add("type", fmt.Sprintf("%q is not a valid choice", req.Type))
	}
	label := strings.TrimSpace(req.Label)
	if label == "" {
		label = req.Key
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	d := &models.CustomFieldDefinition{
		ID:        utils.GenerateID(),
		TenantID:  admin.TenantID,
		Entity:    req.Entity,
		Key:       req.Key,
		Label:     label,
		Type:      req.Type,
		Required:  req.Required,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.InsertDefinition(ctx, d); err != nil {
		if persistence.IsDuplicateEntry(err) {
			return nil, appErrors.NewConflictError("custom field", "key", req.Key)
		}
		return nil, fmt.Errorf("failed to define custom field: %w", err)
	}
	s.invalidate(ctx, admin.TenantID)
	return d, nil
}

// List returns the tenant's definitions, optionally for one entity.
func (s *CustomFieldService) List(ctx context.Context, user *auth.UserSession, entityName string) ([]*models.CustomFieldDefinition, error) {
	if entityName != "" {
		if _, ok := s.registry.Get(entityName); !ok {
			return nil, appErrors.NewValidationError("entity", fmt.Sprintf("%q is not a known entity", entityName))
		}
	}
	return s.repo.ListDefinitions(ctx, user.TenantID, entityName)
}

// Delete removes a definition and every value stored for it.
func (s *CustomFieldService) Delete(ctx context.Context, admin *auth.UserSession, id string) error {
	if err := requireAdmin(admin); err != nil {
		return err
	}
	d, err := s.repo.FindDefinition(ctx, admin.TenantID, id)
	if err != nil {
		return err
	}
	if d == nil {
		return appErrors.NewNotFoundError("custom field", id)
	}
	if err := s.repo.DeleteDefinition(ctx, admin.TenantID, id); err != nil {
		return fmt.Errorf("failed to delete custom field: %w", err)
	}
	s.invalidate(ctx, admin.TenantID)
	// cached records of the entity still carry the deleted values
	invalidateScope(ctx, s.cache, s.logger, admin.TenantID, d.Entity)
	return nil
}

func (s *CustomFieldService) invalidate(ctx context.Context, tenantID string) {
	invalidateScope(ctx, s.cache, s.logger, tenantID, customFieldScope)
}

// definitions returns the definitions of one entity keyed by field key.
func (s *CustomFieldService) definitions(ctx context.Context, tenantID, entityName string) (map[string]*models.CustomFieldDefinition, error) {
	defs, err := cachedIn(ctx, s.cache, s.logger, tenantID, customFieldScope, entityName, s.cacheTTL,
		func(ctx context.Context) ([]*models.CustomFieldDefinition, error) {
			return s.repo.ListDefinitions(ctx, tenantID, entityName)
		})
	if err != nil {
		return nil, err
	}
	out := make(map[string]*models.CustomFieldDefinition, len(defs))
	for _, d := range defs {
		out[d.Key] = d
	}
	return out, nil
}

// CustomValues are validated values of one record, keyed by field key.
type CustomValues map[string]models.CustomFieldValue

// Parse validates the custom_fields object of a payload. On create every
// required definition must be present.
func (s *CustomFieldService) Parse(ctx context.Context, tenantID, entityName string, raw interface{}, creating bool) (CustomValues, *appErrors.ValidationError, error) {
	defs, err := s.definitions(ctx, tenantID, entityName)
	if err != nil {
		return nil, nil, err
	}
	verr := appErrors.NewFieldErrors("")
	values := make(CustomValues)

	var obj map[string]interface{}
	if raw != nil {
		m, ok := raw.(map[string]interface{})
		if !ok {
			verr.Add(constants.FieldCustomFields, "must be an object")
			return nil, verr, nil
		}
		obj = m
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		field := constants.FieldCustomFields + "." + key
		d, ok := defs[key]
		if !ok {
			verr.Add(field, "unknown custom field")
			continue
		}
		v, err := models.ParseValue(d.Type, obj[key])
		if err != nil {
			verr.Add(field, strings.TrimPrefix(err.Error(), models.ErrInvalidValue.Error()+": "))
			continue
		}
		values[key] = models.CustomFieldValue{DefinitionID: d.ID, Value: v}
	}

	if creating {
		for key, d := range defs {
			if _, ok := values[key]; !ok && d.Required {
				verr.Add(constants.FieldCustomFields+"."+key, "this field is required")
			}
		}
	}
	return values, verr, nil
}

// Save stores values for one record.
func (s *CustomFieldService) Save(ctx context.Context, tenantID string, ref models.EntityRef, values CustomValues) error {
	if len(values) == 0 {
		return nil
	}
	rows := make([]models.CustomFieldValue, 0, len(values))
	for _, v := range values {
		v.Ref = ref
		rows = append(rows, v)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].DefinitionID < rows[j].DefinitionID })
	return s.repo.UpsertValues(ctx, tenantID, rows)
}

// Attach loads the custom values of records in one query and sets them
// under custom_fields.
func (s *CustomFieldService) Attach(ctx context.Context, tenantID, entityName string, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID()
	}
	values, err := s.repo.LoadValues(ctx, tenantID, entityName, ids)
	if err != nil {
		return fmt.Errorf("failed to load custom fields: %w", err)
	}
	for _, r := range records {
		fields := values[r.ID()]
		if fields == nil {
			fields = map[string]models.Value{}
		}
		r[constants.FieldCustomFields] = fields
	}
	return nil
}

// DeleteFor removes the values of deleted records.
func (s *CustomFieldService) DeleteFor(ctx context.Context, tenantID, entityName string, ids []string) error {
	return s.repo.DeleteValues(ctx, tenantID, entityName, ids)
}
