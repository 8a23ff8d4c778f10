package persistence

import (
	"context"
	"fmt"

	"github.com/nexuscrm/mycrm/internal/domain/models"
	"github.com/nexuscrm/mycrm/internal/infrastructure/database"
	"github.com/nexuscrm/mycrm/pkg/constants"
)

type TenantRepository struct {
	db *database.DB
}

func NewTenantRepository(db *database.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

const tenantColumns = "id, name, slug, plan, is_active, created_at"

func (r *TenantRepository) Insert(ctx context.Context, t *models.Tenant) error {
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?)", constants.TableTenants, tenantColumns)
	_, err := executor(ctx, r.db).ExecContext(ctx, query, t.ID, t.Name, t.Slug, t.Plan, t.IsActive, t.CreatedAt)
	return err
}

func (r *TenantRepository) findBy(ctx context.Context, column, value string) (*models.Tenant, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = ? LIMIT 1", tenantColumns, constants.TableTenants, column)
	var t models.Tenant
	err := executor(ctx, r.db).QueryRowContext(ctx, query, value).
		Scan(&t.ID, &t.Name, &t.Slug, &t.Plan, &t.IsActive, &t.CreatedAt)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// FindByID returns nil when the tenant does not exist.
func (r *TenantRepository) FindByID(ctx context.Context, id string) (*models.Tenant, error) {
	return r.findBy(ctx, constants.FieldID, id)
}

func (r *TenantRepository) FindBySlug(ctx context.Context, slug string) (*models.Tenant, error) {
	return r.findBy(ctx, "slug", slug)
}

func (r *TenantRepository) SetActive(ctx context.Context, id string, active bool) error {
	query := fmt.Sprintf("UPDATE %s SET is_active = ? WHERE id = ?", constants.TableTenants)
	_, err := executor(ctx, r.db).ExecContext(ctx, query, active, id)
	return err
}

func (r *TenantRepository) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", constants.TableTenants)
	_, err := executor(ctx, r.db).ExecContext(ctx, query, id)
	return err
}
