package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nexuscrm/mycrm/internal/domain/models"
	"github.com/nexuscrm/mycrm/internal/infrastructure/database"
	"github.com/nexuscrm/mycrm/pkg/constants"
)

type NotificationRepository struct {
	db *database.DB
}

func NewNotificationRepository(db *database.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

const notificationColumns = "id, tenant_id, recipient_id, title, body, link, kind, is_read, created_at"

func (r *NotificationRepository) Insert(ctx context.Context, n *models.Notification) error {
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)", constants.TableNotifications, notificationColumns)
	_, err := executor(ctx, r.db).ExecContext(ctx, q, n.ID, n.TenantID, n.RecipientID, n.Title, n.Body, n.Link, n.Kind, n.IsRead, n.CreatedAt)
	return err
}

// List returns one page of a recipient's notifications, newest first.
func (r *NotificationRepository) List(ctx context.Context, tenantID, recipientID string, unreadOnly bool, limit, offset int) ([]*models.Notification, int, error) {
	where := "tenant_id = ? AND recipient_id = ?"
	args := []interface{}{tenantID, recipientID}
	if unreadOnly {
		where += " AND is_read = 0"
	}

	exec := executor(ctx, r.db)
	var total int
	countSQL := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", constants.TableNotifications, where)
	if err := exec.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?",
		notificationColumns, constants.TableNotifications, where)
	rows, err := exec.QueryContext(ctx, q, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]*models.Notification, 0)
	for rows.Next() {
		var n models.Notification
		var body sql.NullString
		if err := rows.Scan(&n.ID, &n.TenantID, &n.RecipientID, &n.Title, &body, &n.Link, &n.Kind, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, 0, err
		}
		n.Body = body.String
		out = append(out, &n)
	}
	return out, total, rows.Err()
}

func (r *NotificationRepository) UnreadCount(ctx context.Context, tenantID, recipientID string) (int, error) {
	q := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE tenant_id = ? AND recipient_id = ? AND is_read = 0", constants.TableNotifications)
	var n int
	err := executor(ctx, r.db).QueryRowContext(ctx, q, tenantID, recipientID).Scan(&n)
	return n, err
}

// MarkRead marks one notification read and reports whether it exists.
func (r *NotificationRepository) MarkRead(ctx context.Context, tenantID, recipientID, id string) (bool, error) {
	exec := executor(ctx, r.db)
	var exists bool
	existsSQL := fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM %s WHERE tenant_id = ? AND recipient_id = ? AND id = ?)", constants.TableNotifications)
	if err := exec.QueryRowContext(ctx, existsSQL, tenantID, recipientID, id).Scan(&exists); err != nil || !exists {
		return false, err
	}
	q := fmt.Sprintf("UPDATE %s SET is_read = 1 WHERE tenant_id = ? AND recipient_id = ? AND id = ?", constants.TableNotifications)
	_, err := exec.ExecContext(ctx, q, tenantID, recipientID, id)
	return err == nil, err
}

func (r *NotificationRepository) MarkAllRead(ctx context.Context, tenantID, recipientID string) (int64, error) {
	q := fmt.Sprintf("UPDATE %s SET is_read = 1 WHERE tenant_id = ? AND recipient_id = ? AND is_read = 0", constants.TableNotifications)
	res, err := executor(ctx, r.db).ExecContext(ctx, q, tenantID, recipientID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
