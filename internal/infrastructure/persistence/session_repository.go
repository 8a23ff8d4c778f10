package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/nexuscrm/mycrm/internal/domain/models"
	"github.com/nexuscrm/mycrm/internal/infrastructure/database"
	"github.com/nexuscrm/mycrm/pkg/constants"
)

// SessionRepository handles database operations for user sessions
type SessionRepository struct {
	db *database.DB
}

// NewSessionRepository creates a new SessionRepository
func NewSessionRepository(db *database.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = "id, user_id, tenant_id, expires_at, ip_address, user_agent, is_revoked, last_activity, created_at"

// InsertSession creates a new session in the database
func (r *SessionRepository) InsertSession(ctx context.Context, s *models.Session) error {
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)", constants.TableSessions, sessionColumns)
	_, err := executor(ctx, r.db).ExecContext(ctx, query,
		s.ID, s.UserID, s.TenantID, s.ExpiresAt, s.IPAddress, s.UserAgent, s.IsRevoked, s.LastActivity, s.CreatedAt)
	return err
}

// GetSession retrieves a session by its ID (the token's jti); nil when missing.
func (r *SessionRepository) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ? LIMIT 1", sessionColumns, constants.TableSessions)
	var s models.Session
	err := executor(ctx, r.db).QueryRowContext(ctx, query, sessionID).Scan(
		&s.ID, &s.UserID, &s.TenantID, &s.ExpiresAt, &s.IPAddress, &s.UserAgent, &s.IsRevoked, &s.LastActivity, &s.CreatedAt)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// RevokeSession marks a session as revoked
func (r *SessionRepository) RevokeSession(ctx context.Context, sessionID string) error {
	query := fmt.Sprintf("UPDATE %s SET is_revoked = 1 WHERE id = ?", constants.TableSessions)
	_, err := executor(ctx, r.db).ExecContext(ctx, query, sessionID)
	return err
}

// RevokeUserSessions revokes every session of a user except keepID.
func (r *SessionRepository) RevokeUserSessions(ctx context.Context, userID, keepID string) error {
	query := fmt.Sprintf("UPDATE %s SET is_revoked = 1 WHERE user_id = ? AND id != ?", constants.TableSessions)
	_, err := executor(ctx, r.db).ExecContext(ctx, query, userID, keepID)
	return err
}

// UpdateLastActivity updates the last activity timestamp
func (r *SessionRepository) UpdateLastActivity(ctx context.Context, sessionID string, at time.Time) error {
	query := fmt.Sprintf("UPDATE %s SET last_activity = ? WHERE id = ?", constants.TableSessions)
	_, err := executor(ctx, r.db).ExecContext(ctx, query, at, sessionID)
	return err
}

// DeleteExpired removes sessions that expired or were revoked before cutoff.
func (r *SessionRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE expires_at < ? OR (is_revoked = 1 AND last_activity < ?)", constants.TableSessions)
	res, err := executor(ctx, r.db).ExecContext(ctx, query, cutoff, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
