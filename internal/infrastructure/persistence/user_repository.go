package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nexuscrm/mycrm/internal/domain/models"
	"github.com/nexuscrm/mycrm/internal/infrastructure/database"
	"github.com/nexuscrm/mycrm/pkg/constants"
	"github.com/nexuscrm/mycrm/pkg/query"
)

type UserRepository struct {
	db *database.DB
}

func NewUserRepository(db *database.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = "id, tenant_id, email, name, password_hash, role, is_active, last_login, created_at"

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	var lastLogin sql.NullTime
	if err := row.Scan(&u.ID, &u.TenantID, &u.Email, &u.Name, &u.PasswordHash, &u.Role, &u.IsActive, &lastLogin, &u.CreatedAt); err != nil {
		return nil, err
	}
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLogin = &t
	}
	return &u, nil
}

func (r *UserRepository) Insert(ctx context.Context, u *models.User) error {
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)", constants.TableUsers, userColumns)
	_, err := executor(ctx, r.db).ExecContext(ctx, query,
		u.ID, u.TenantID, u.Email, u.Name, u.PasswordHash, u.Role, u.IsActive, u.LastLogin, u.CreatedAt)
	return err
}

func (r *UserRepository) queryOne(ctx context.Context, where string, args ...interface{}) (*models.User, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s LIMIT 1", userColumns, constants.TableUsers, where)
	u, err := scanUser(executor(ctx, r.db).QueryRowContext(ctx, query, args...))
	if isNoRows(err) {
		return nil, nil
	}
	return u, err
}

// FindByEmail looks a user up across tenants; emails are globally unique.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.queryOne(ctx, "email = ?", email)
}

// FindByID returns nil when the user does not exist in tenantID.
func (r *UserRepository) FindByID(ctx context.Context, tenantID, id string) (*models.User, error) {
	return r.queryOne(ctx, "tenant_id = ? AND id = ?", tenantID, id)
}

func (r *UserRepository) EmailExists(ctx context.Context, email, excludeID string) (bool, error) {
	var exists bool
	query := fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM %s WHERE email = ? AND id != ?)", constants.TableUsers)
	err := executor(ctx, r.db).QueryRowContext(ctx, query, email, excludeID).Scan(&exists)
	return exists, err
}

// List returns one page of a tenant's users, newest first, and the total.
func (r *UserRepository) List(ctx context.Context, tenantID string, limit, offset int) ([]*models.User, int, error) {
	exec := executor(ctx, r.db)
	var total int
	countSQL := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE tenant_id = ?", constants.TableUsers)
	if err := exec.QueryRowContext(ctx, countSQL, tenantID).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE tenant_id = ? ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?",
		userColumns, constants.TableUsers)
	rows, err := exec.QueryContext(ctx, query, tenantID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	users := make([]*models.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, u)
	}
	return users, total, rows.Err()
}

// ExistIDs returns which of ids are active users of tenantID.
func (r *UserRepository) ExistIDs(ctx context.Context, tenantID string, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	q := query.From(constants.TableUsers).Select(constants.FieldID).
		TenantScope(tenantID).
		WhereEq("is_active", true).
		WhereIn(constants.FieldID, toArgs(ids)).
		Build()
	rows, err := executor(ctx, r.db).QueryContext(ctx, q.SQL, q.Params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

// Update applies column updates to a user of tenantID.
func (r *UserRepository) Update(ctx context.Context, tenantID, id string, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	q := query.Update(constants.TableUsers).Set(updates).TenantScope(tenantID).WhereEq(constants.FieldID, id).Build()
	_, err := executor(ctx, r.db).ExecContext(ctx, q.SQL, q.Params...)
	return err
}

func (r *UserRepository) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	query := fmt.Sprintf("UPDATE %s SET last_login = ? WHERE id = ?", constants.TableUsers)
	_, err := executor(ctx, r.db).ExecContext(ctx, query, at, id)
	return err
}

// DeleteTenant removes all users of a tenant.
func (r *UserRepository) DeleteTenant(ctx context.Context, tenantID string) (int64, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE tenant_id = ?", constants.TableUsers)
	res, err := executor(ctx, r.db).ExecContext(ctx, query, tenantID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
