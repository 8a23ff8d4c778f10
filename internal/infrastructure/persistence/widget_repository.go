package persistence

import (
	"context"
	"fmt"

	"github.com/nexuscrm/mycrm/internal/domain/models"
	"github.com/nexuscrm/mycrm/internal/infrastructure/database"
	"github.com/nexuscrm/mycrm/pkg/constants"
)

type WidgetRepository struct {
	db *database.DB
}

func NewWidgetRepository(db *database.DB) *WidgetRepository {
	return &WidgetRepository{db: db}
}

const widgetColumns = "id, tenant_id, user_id, title, kind, config, position, created_at"

func scanWidget(row rowScanner) (*models.DashboardWidget, error) {
	var w models.DashboardWidget
	var config []byte
	if err := row.Scan(&w.ID, &w.TenantID, &w.UserID, &w.Title, &w.Kind, &config, &w.Position, &w.CreatedAt); err != nil {
		return nil, err
	}
	w.Config = config
	return &w, nil
}

func (r *WidgetRepository) Insert(ctx context.Context, w *models.DashboardWidget) error {
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?)", constants.TableDashboardWidgets, widgetColumns)
	_, err := executor(ctx, r.db).ExecContext(ctx, q, w.ID, w.TenantID, w.UserID, w.Title, w.Kind, []byte(w.Config), w.Position, w.CreatedAt)
	return err
}

// ListForUser returns a user's widgets in position order.
func (r *WidgetRepository) ListForUser(ctx context.Context, tenantID, userID string) ([]*models.DashboardWidget, error) {
	q := fmt.Sprintf("SELECT %s FROM %s WHERE tenant_id = ? AND user_id = ? ORDER BY position, created_at",
		widgetColumns, constants.TableDashboardWidgets)
	rows, err := executor(ctx, r.db).QueryContext(ctx, q, tenantID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	widgets := make([]*models.DashboardWidget, 0)
	for rows.Next() {
		w, err := scanWidget(rows)
		if err != nil {
			return nil, err
		}
		widgets = append(widgets, w)
	}
	return widgets, rows.Err()
}

// Find returns nil unless the widget belongs to userID in tenantID.
func (r *WidgetRepository) Find(ctx context.Context, tenantID, userID, id string) (*models.DashboardWidget, error) {
	q := fmt.Sprintf("SELECT %s FROM %s WHERE tenant_id = ? AND user_id = ? AND id = ? LIMIT 1",
		widgetColumns, constants.TableDashboardWidgets)
	w, err := scanWidget(executor(ctx, r.db).QueryRowContext(ctx, q, tenantID, userID, id))
	if isNoRows(err) {
		return nil, nil
	}
	return w, err
}

func (r *WidgetRepository) Update(ctx context.Context, w *models.DashboardWidget) error {
	q := fmt.Sprintf("UPDATE %s SET title = ?, kind = ?, config = ?, position = ? WHERE tenant_id = ? AND user_id = ? AND id = ?",
		constants.TableDashboardWidgets)
	_, err := executor(ctx, r.db).ExecContext(ctx, q, w.Title, w.Kind, []byte(w.Config), w.Position, w.TenantID, w.UserID, w.ID)
	return err
}

func (r *WidgetRepository) Delete(ctx context.Context, tenantID, userID, id string) (int64, error) {
	q := fmt.Sprintf("DELETE FROM %s WHERE tenant_id = ? AND user_id = ? AND id = ?", constants.TableDashboardWidgets)
	res, err := executor(ctx, r.db).ExecContext(ctx, q, tenantID, userID, id)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
