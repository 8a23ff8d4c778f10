package services

import (
	"context"
	"fmt"

	"github.com/nexuscrm/mycrm/internal/domain/entity"
	"github.com/nexuscrm/mycrm/internal/domain/models"
	"github.com/nexuscrm/mycrm/internal/infrastructure/cache"
	"github.com/nexuscrm/mycrm/internal/infrastructure/persistence"
	"github.com/nexuscrm/mycrm/pkg/constants"
	appErrors "github.com/nexuscrm/mycrm/pkg/errors"
	"github.com/nexuscrm/mycrm/pkg/utils"
	"go.uber.org/zap"
)

// TenantService holds operator actions on whole tenants.
type TenantService struct {
	registry  *entity.Registry
	tenants   *persistence.TenantRepository
	records   *persistence.RecordRepository
	txManager *persistence.TransactionManager
	cache     cache.Cache
	logger    *zap.Logger
}

func NewTenantService(registry *entity.Registry, tenants *persistence.TenantRepository, records *persistence.RecordRepository, txManager *persistence.TransactionManager, c cache.Cache, logger *zap.Logger) *TenantService {
	return &TenantService{
		registry:  registry,
		tenants:   tenants,
		records:   records,
		txManager: txManager,
		cache:     c,
		logger:    logger,
	}
}

// Resolve finds a tenant by id or slug.
func (s *TenantService) Resolve(ctx context.Context, idOrSlug string) (*models.Tenant, error) {
	var (
		t   *models.Tenant
		err error
	)
	if utils.IsValidUUID(idOrSlug) {
		t, err = s.tenants.FindByID(ctx, idOrSlug)
	} else {
		t, err = s.tenants.FindBySlug(ctx, idOrSlug)
	}
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, appErrors.NewNotFoundError("tenant", idOrSlug)
	}
	return t, nil
}

// SetActive suspends or reactivates a tenant. Users of a suspended tenant
// cannot log in or use existing sessions.
func (s *TenantService) SetActive(ctx context.Context, idOrSlug string, active bool) (*models.Tenant, error) {
	t, err := s.Resolve(ctx, idOrSlug)
	if err != nil {
		return nil, err
	}
	if err := s.tenants.SetActive(ctx, t.ID, active); err != nil {
		return nil, fmt.Errorf("failed to update tenant %s: %w", t.Slug, err)
	}
	t.IsActive = active
	return t, nil
}

// wipeOrder lists the tenant-scoped tables, dependents first.
func (s *TenantService) wipeOrder() []string {
	tables := []string{
		constants.TableCustomFieldValues,
		constants.TableCustomFieldDefs,
		constants.TableDashboardWidgets,
		constants.TableNotifications,
		constants.TableOutboxEvents,
		constants.TableAuditEntries,
	}
	for _, def := range s.registry.All() {
		tables = append(tables, def.Table)
	}
	return append(tables, constants.TableSessions, constants.TableUsers)
}

// Wipe deletes every row of a tenant and the tenant itself in one
// transaction. It returns the rows removed per table.
func (s *TenantService) Wipe(ctx context.Context, idOrSlug string) (map[string]int64, error) {
	t, err := s.Resolve(ctx, idOrSlug)
	if err != nil {
		return nil, err
	}

	removed := make(map[string]int64)
	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		for _, table := range s.wipeOrder() {
			n, err := s.records.WipeTenant(txCtx, table, t.ID)
			if err != nil {
				return err
			}
			removed[table] = n
		}
		return s.tenants.Delete(txCtx, t.ID)
	})
	if err != nil {
		return nil, err
	}

	for _, def := range s.registry.All() {
		invalidateScope(ctx, s.cache, s.logger, t.ID, def.Name)
	}
	invalidateScope(ctx, s.cache, s.logger, t.ID, customFieldScope)

	s.logger.Warn("Tenant wiped", zap.String("tenant_id", t.ID), zap.String("slug", t.Slug))
	return removed, nil
}
