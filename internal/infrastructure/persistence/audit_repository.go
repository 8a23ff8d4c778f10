package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nexuscrm/mycrm/internal/domain/models"
	"github.com/nexuscrm/mycrm/internal/infrastructure/database"
	"github.com/nexuscrm/mycrm/pkg/constants"
	"github.com/nexuscrm/mycrm/pkg/query"
)

type AuditRepository struct {
	db *database.DB
}

func NewAuditRepository(db *database.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

var auditColumns = []string{
	"id", "tenant_id", "entity_type", "entity_id", "action", "actor_id",
	"changes", "ip_address", "user_agent", "request_id", "created_at",
}

func auditRow(e *models.AuditEntry) ([]interface{}, error) {
	var changes interface{}
	if len(e.Changes) > 0 {
		b, err := json.Marshal(e.Changes)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal audit changes: %w", err)
		}
		changes = b
	}
	return []interface{}{
		e.ID, e.TenantID, e.Ref.Type, e.Ref.ID, e.Action, e.ActorID,
		changes, e.IPAddress, e.UserAgent, e.RequestID, e.CreatedAt,
	}, nil
}

// Insert writes entries with one multi-row statement.
func (r *AuditRepository) Insert(ctx context.Context, entries ...*models.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([][]interface{}, 0, len(entries))
	for _, e := range entries {
		row, err := auditRow(e)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	for i := 0; i < len(rows); i += constants.BulkBatchSize {
		end := i + constants.BulkBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		q := query.InsertMany(constants.TableAuditEntries, auditColumns, rows[i:end]).Build()
		if _, err := executor(ctx, r.db).ExecContext(ctx, q.SQL, q.Params...); err != nil {
			return fmt.Errorf("insert audit entries: %w", err)
		}
	}
	return nil
}

// List returns one page of a tenant's entries, newest first, and the total.
func (r *AuditRepository) List(ctx context.Context, tenantID string, f models.AuditFilter, limit, offset int) ([]*models.AuditEntry, int, error) {
	b := query.From(constants.TableAuditEntries).Select(auditColumns...).TenantScope(tenantID)
	if f.EntityType != "" {
		b.WhereEq("entity_type", f.EntityType)
	}
	if f.EntityID != "" {
		b.WhereEq("entity_id", f.EntityID)
	}
	if f.ActorID != "" {
		b.WhereEq("actor_id", f.ActorID)
	}
	if f.Action != "" {
		b.WhereEq("action", f.Action)
	}
	if f.Since != nil {
		b.Where(query.Col(constants.TableAuditEntries, "created_at")+" >= ?", *f.Since)
	}

	exec := executor(ctx, r.db)
	count := b.Count().Build()
	var total int
	if err := exec.QueryRowContext(ctx, count.SQL, count.Params...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := b.OrderBy("created_at", query.DESC).OrderBy(constants.FieldID, query.ASC).Limit(limit).Offset(offset).Build()
	rows, err := exec.QueryContext(ctx, q.SQL, q.Params...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	entries := make([]*models.AuditEntry, 0)
	for rows.Next() {
		var e models.AuditEntry
		var changes sql.NullString
		if err := rows.Scan(&e.ID, &e.TenantID, &e.Ref.Type, &e.Ref.ID, &e.Action, &e.ActorID,
			&changes, &e.IPAddress, &e.UserAgent, &e.RequestID, &e.CreatedAt); err != nil {
			return nil, 0, err
		}
		if changes.Valid && changes.String != "" {
			if err := json.Unmarshal([]byte(changes.String), &e.Changes); err != nil {
				return nil, 0, fmt.Errorf("audit entry %s has malformed changes: %w", e.ID, err)
			}
		}
		entries = append(entries, &e)
	}
	return entries, total, rows.Err()
}

// DeleteBefore purges entries older than cutoff across tenants.
func (r *AuditRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	q := fmt.Sprintf("DELETE FROM %s WHERE created_at < ?", constants.TableAuditEntries)
	res, err := executor(ctx, r.db).ExecContext(ctx, q, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
