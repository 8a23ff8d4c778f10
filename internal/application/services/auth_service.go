package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nexuscrm/mycrm/internal/domain/models"
	"github.com/nexuscrm/mycrm/internal/infrastructure/persistence"
	"github.com/nexuscrm/mycrm/pkg/auth"
	"github.com/nexuscrm/mycrm/pkg/constants"
	appErrors "github.com/nexuscrm/mycrm/pkg/errors"
	"github.com/nexuscrm/mycrm/pkg/utils"
	"go.uber.org/zap"
)

const (
	defaultPlan = "free"
	// last_activity is refreshed at most this often per session.
	activityResolution = time.Minute
)

// AuthService handles authentication, session management, and password operations
type AuthService struct {
	tenants   *persistence.TenantRepository
	users     *persistence.UserRepository
	sessions  *persistence.SessionRepository
	txManager *persistence.TransactionManager
	tokens    *auth.TokenIssuer
	audit     *AuditService
	logger    *zap.Logger
	now       func() time.Time
}

// NewAuthService creates a new AuthService
func NewAuthService(
	tenants *persistence.TenantRepository,
	users *persistence.UserRepository,
	sessions *persistence.SessionRepository,
	txManager *persistence.TransactionManager,
	tokens *auth.TokenIssuer,
	audit *AuditService,
	logger *zap.Logger,
) *AuthService {
	return &AuthService{
		tenants:   tenants,
		users:     users,
		sessions:  sessions,
		txManager: txManager,
		tokens:    tokens,
		audit:     audit,
		logger:    logger,
		now:       time.Now,
	}
}

// SignupRequest opens a new tenant with its first admin.
type SignupRequest struct {
	TenantName string `json:"tenant_name"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	Password   string `json:"password"`
}

type SignupResult struct {
	Tenant *models.Tenant `json:"tenant"`
	User   *models.User   `json:"user"`
}

// LoginResult contains the result of a successful login
type LoginResult struct {
	*auth.TokenPair
	User auth.UserSession `json:"user"`
}

// RefreshResult carries a new access token for an existing session.
type RefreshResult struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"access_expires_at"`
}

func sessionOf(u *models.User) auth.UserSession {
	return auth.UserSession{
		ID:       u.ID,
		TenantID: u.TenantID,
		Name:     u.Name,
		Email:    u.Email,
		Role:     u.Role,
	}
}

func validatePassword(verr *appErrors.ValidationError, field, password string) {
	for _, p := range auth.PasswordProblems(password) {
		verr.Add(field, p)
	}
}

// Signup creates a tenant and its admin user in one transaction.
func (s *AuthService) Signup(ctx context.Context, req SignupRequest) (*SignupResult, error) {
	verr := appErrors.NewFieldErrors("invalid signup")
	name := strings.TrimSpace(req.TenantName)
	slug := utils.Slugify(name)
	if name == "" {
		verr.Add("tenant_name", "this field is required")
	} else if slug == "" {
		verr.Add("tenant_name", "must contain letters or digits")
	}
	email := auth.NormalizeEmail(req.Email)
	if !auth.IsValidEmail(email) {
		verr.Add("email", "enter a valid email address")
	}
	if strings.TrimSpace(req.Name) == "" {
		verr.Add("name", "this field is required")
	}
	validatePassword(verr, "password", req.Password)
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	now := s.now().UTC()
	tenant := &models.Tenant{
		ID:        utils.GenerateID(),
		Name:      name,
		Slug:      slug,
		Plan:      defaultPlan,
		IsActive:  true,
		CreatedAt: now,
	}
	user := &models.User{
		ID:           utils.GenerateID(),
		TenantID:     tenant.ID,
		Email:        email,
		Name:         strings.TrimSpace(req.Name),
		PasswordHash: hash,
		Role:         constants.RoleAdmin,
		IsActive:     true,
		CreatedAt:    now,
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		existing, err := s.tenants.FindBySlug(txCtx, slug)
		if err != nil {
			return err
		}
		if existing != nil {
			return appErrors.NewConflictError("tenant", "slug", slug)
		}
		taken, err := s.users.EmailExists(txCtx, email, "")
		if err != nil {
			return err
		}
		if taken {
			return appErrors.NewConflictError("user", "email", email)
		}
		if err := s.tenants.Insert(txCtx, tenant); err != nil {
			return err
		}
		return s.users.Insert(txCtx, user)
	})
	if persistence.IsDuplicateEntry(err) {
		return nil, &appErrors.ConflictError{Resource: "tenant", Reason: "tenant or email already registered"}
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("Tenant signed up", zap.String("tenant_id", tenant.ID), zap.String("slug", slug))
	return &SignupResult{Tenant: tenant, User: user}, nil
}

// Login authenticates a user and creates a session
func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	invalid := appErrors.NewUnauthorizedError("invalid email or password")

	user, err := s.users.FindByEmail(ctx, auth.NormalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	if user == nil {
		s.logger.Info("Login failed: unknown email")
		return nil, invalid
	}
	if !auth.VerifyPassword(password, user.PasswordHash) {
		s.logger.Info("Login failed: invalid password", zap.String("user_id", user.ID))
		return nil, invalid
	}
	if !user.IsActive {
		return nil, appErrors.NewUnauthorizedError("account is disabled")
	}
	tenant, err := s.tenants.FindByID(ctx, user.TenantID)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	if tenant == nil || !tenant.IsActive {
		return nil, appErrors.NewUnauthorizedError("organisation is disabled")
	}

	principal := sessionOf(user)
	sessionID := utils.GenerateID()
	pair, err := s.tokens.GeneratePair(principal, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	now := s.now().UTC()
	meta := models.RequestMetaFrom(ctx)
	session := &models.Session{
		ID:           sessionID,
		UserID:       user.ID,
		TenantID:     user.TenantID,
		ExpiresAt:    pair.RefreshExpiresAt,
		IPAddress:    meta.IPAddress,
		UserAgent:    meta.UserAgent,
		LastActivity: now,
		CreatedAt:    now,
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.sessions.InsertSession(txCtx, session); err != nil {
			return fmt.Errorf("failed to persist session: %w", err)
		}
		if err := s.users.TouchLastLogin(txCtx, user.ID, now); err != nil {
			return err
		}
		ref := models.EntityRef{Type: constants.TableUsers, ID: user.ID}
		return s.audit.Record(txCtx, s.audit.Entry(txCtx, &principal, models.AuditLogin, ref, nil))
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("User logged in", zap.String("user_id", user.ID), zap.String("session_id", sessionID))
	return &LoginResult{TokenPair: pair, User: principal}, nil
}

// ValidateSession verifies an access token and checks that its session is
// still live.
func (s *AuthService) ValidateSession(ctx context.Context, token string) (*auth.Claims, error) {
	claims, err := s.tokens.ValidateToken(token, auth.TokenAccess)
	if err != nil {
		return nil, appErrors.NewUnauthorizedError("invalid or expired token")
	}
	if _, err := s.liveSession(ctx, claims.ID); err != nil {
		return nil, err
	}
	return claims, nil
}

func (s *AuthService) liveSession(ctx context.Context, sessionID string) (*models.Session, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	if session == nil {
		return nil, appErrors.NewUnauthorizedError("session not found")
	}
	if session.IsRevoked {
		return nil, appErrors.NewUnauthorizedError("session has been revoked")
	}
	now := s.now().UTC()
	if now.After(session.ExpiresAt) {
		return nil, appErrors.NewUnauthorizedError("session has expired")
	}
	if now.Sub(session.LastActivity) > activityResolution {
		if err := s.sessions.UpdateLastActivity(ctx, sessionID, now); err != nil {
			s.logger.Warn("Failed to touch session", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	return session, nil
}

// Refresh issues a new access token for the session of a refresh token. The
// principal is reloaded so role changes take effect.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	claims, err := s.tokens.ValidateToken(refreshToken, auth.TokenRefresh)
	if err != nil {
		if errors.Is(err, auth.ErrWrongTokenKind) {
			return nil, appErrors.NewUnauthorizedError("a refresh token is required")
		}
		return nil, appErrors.NewUnauthorizedError("invalid or expired token")
	}
	if _, err := s.liveSession(ctx, claims.ID); err != nil {
		return nil, err
	}
	user, err := s.users.FindByID(ctx, claims.User.TenantID, claims.User.ID)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	if user == nil || !user.IsActive {
		return nil, appErrors.NewUnauthorizedError("account is disabled")
	}

	access, expiresAt, err := s.tokens.GenerateToken(sessionOf(user), claims.ID, auth.TokenAccess)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}
	return &RefreshResult{AccessToken: access, TokenType: "Bearer", ExpiresAt: expiresAt}, nil
}

// Logout revokes the caller's session.
func (s *AuthService) Logout(ctx context.Context, user *auth.UserSession, sessionID string) error {
	return s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.sessions.RevokeSession(txCtx, sessionID); err != nil {
			return err
		}
		ref := models.EntityRef{Type: constants.TableUsers, ID: user.ID}
		if err := s.audit.Record(txCtx, s.audit.Entry(txCtx, user, models.AuditLogout, ref, nil)); err != nil {
			return err
		}
		s.logger.Info("User logged out", zap.String("user_id", user.ID), zap.String("session_id", sessionID))
		return nil
	})
}

// ChangePassword updates a user's password and revokes their other sessions.
func (s *AuthService) ChangePassword(ctx context.Context, user *auth.UserSession, sessionID, currentPassword, newPassword string) error {
	verr := appErrors.NewFieldErrors("invalid password change")
	validatePassword(verr, "new_password", newPassword)
	if currentPassword == newPassword {
		verr.Add("new_password", "must differ from the current password")
	}
	if err := verr.OrNil(); err != nil {
		return err
	}

	stored, err := s.users.FindByID(ctx, user.TenantID, user.ID)
	if err != nil {
		return fmt.Errorf("failed to retrieve user: %w", err)
	}
	if stored == nil {
		return appErrors.NewUnauthorizedError("user not found")
	}
	if !auth.VerifyPassword(currentPassword, stored.PasswordHash) {
		return appErrors.NewValidationError("current_password", "current password is incorrect")
	}

	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.users.Update(txCtx, user.TenantID, user.ID, map[string]interface{}{"password_hash": hash}); err != nil {
			return err
		}
		return s.sessions.RevokeUserSessions(txCtx, user.ID, sessionID)
	})
	if err == nil {
		s.logger.Info("Password changed", zap.String("user_id", user.ID))
	}
	return err
}

// Me returns the stored profile of the caller.
func (s *AuthService) Me(ctx context.Context, user *auth.UserSession) (*models.User, error) {
	u, err := s.users.FindByID(ctx, user.TenantID, user.ID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, appErrors.NewNotFoundError("user", user.ID)
	}
	return u, nil
}

// PurgeSessions deletes sessions that expired before now.
func (s *AuthService) PurgeSessions(ctx context.Context) (int64, error) {
	return s.sessions.DeleteExpired(ctx, s.now().UTC())
}
