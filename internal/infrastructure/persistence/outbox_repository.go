package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/nexuscrm/mycrm/internal/domain/models"
	"github.com/nexuscrm/mycrm/internal/infrastructure/database"
	"github.com/nexuscrm/mycrm/pkg/constants"
	"github.com/nexuscrm/mycrm/pkg/utils"
)

// OutboxRepository handles database operations for the outbox pattern
type OutboxRepository struct {
	db *database.DB
}

// NewOutboxRepository creates a new OutboxRepository
func NewOutboxRepository(db *database.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

// Enqueue inserts a new pending event. Called with a transactional context
// it commits or rolls back together with the change it describes.
func (r *OutboxRepository) Enqueue(ctx context.Context, tenantID, eventType string, payload []byte) (string, error) {
	id := utils.GenerateID()
	query := fmt.Sprintf(`
		INSERT INTO %s (id, tenant_id, event_type, payload, status, attempts, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)`, constants.TableOutboxEvents)

	_, err := executor(ctx, r.db).ExecContext(ctx, query, id, tenantID, eventType, payload, models.OutboxPending, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("failed to enqueue event: %w", err)
	}
	return id, nil
}

// ClaimPending locks up to limit pending events, oldest first, skipping rows
// other workers hold. ctx must carry a transaction.
func (r *OutboxRepository) ClaimPending(ctx context.Context, limit int) ([]*models.OutboxEvent, error) {
	if ExtractTx(ctx) == nil {
		return nil, fmt.Errorf("transaction required to claim outbox events")
	}
	query := fmt.Sprintf(`
		SELECT id, tenant_id, event_type, payload, attempts, created_at
		FROM %s
		WHERE status = ?
		ORDER BY created_at ASC
		LIMIT ?
		FOR UPDATE SKIP LOCKED`, constants.TableOutboxEvents)

	rows, err := executor(ctx, r.db).QueryContext(ctx, query, models.OutboxPending, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending events: %w", err)
	}
	defer rows.Close()

	var out []*models.OutboxEvent
	for rows.Next() {
		e := &models.OutboxEvent{Status: models.OutboxPending}
		if err := rows.Scan(&e.ID, &e.TenantID, &e.EventType, &e.Payload, &e.Attempts, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkProcessed marks an event as delivered.
func (r *OutboxRepository) MarkProcessed(ctx context.Context, id string) error {
	query := fmt.Sprintf(`UPDATE %s SET status = ?, processed_at = ? WHERE id = ?`, constants.TableOutboxEvents)
	_, err := executor(ctx, r.db).ExecContext(ctx, query, models.OutboxProcessed, time.Now().UTC(), id)
	return err
}

// MarkFailed gives up on an event.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id string, attempts int, reason string) error {
	query := fmt.Sprintf(`UPDATE %s SET status = ?, attempts = ?, last_error = ? WHERE id = ?`, constants.TableOutboxEvents)
	_, err := executor(ctx, r.db).ExecContext(ctx, query, models.OutboxFailed, attempts, reason, id)
	return err
}

// IncrementRetry records a failed delivery, leaving the event pending.
func (r *OutboxRepository) IncrementRetry(ctx context.Context, id string, attempts int, reason string) error {
	query := fmt.Sprintf(`UPDATE %s SET attempts = ?, last_error = ? WHERE id = ?`, constants.TableOutboxEvents)
	_, err := executor(ctx, r.db).ExecContext(ctx, query, attempts, reason, id)
	return err
}

// CountByStatus returns the number of events per status.
func (r *OutboxRepository) CountByStatus(ctx context.Context) (map[string]int, error) {
	query := fmt.Sprintf(`SELECT status, COUNT(*) FROM %s GROUP BY status`, constants.TableOutboxEvents)
	rows, err := executor(ctx, r.db).QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

// CleanupProcessed deletes processed events older than cutoff
func (r *OutboxRepository) CleanupProcessed(ctx context.Context, cutoff time.Time) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE status = ? AND processed_at < ?`, constants.TableOutboxEvents)
	result, err := executor(ctx, r.db).ExecContext(ctx, query, models.OutboxProcessed, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
