package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/nexuscrm/mycrm/internal/domain/models"
	"github.com/nexuscrm/mycrm/internal/infrastructure/persistence"
	"github.com/nexuscrm/mycrm/pkg/auth"
	"github.com/nexuscrm/mycrm/pkg/constants"
	appErrors "github.com/nexuscrm/mycrm/pkg/errors"
	"github.com/nexuscrm/mycrm/pkg/pagination"
	"github.com/nexuscrm/mycrm/pkg/utils"
	"go.uber.org/zap"
)

// ==================== User Management ====================

// CreateUserRequest contains the data needed to create a new user
type CreateUserRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// UpdateUserRequest contains the data that can be updated on a user. Nil
// fields are left unchanged.
type UpdateUserRequest struct {
	Name     *string `json:"name"`
	Role     *string `json:"role"`
	IsActive *bool   `json:"is_active"`
}

func requireAdmin(user *auth.UserSession) error {
	if !user.IsAdmin() {
		return appErrors.NewPermissionError("manage", "users")
	}
	return nil
}

// ListUsers returns a page of the admin's tenant users.
func (s *AuthService) ListUsers(ctx context.Context, admin *auth.UserSession, params pagination.Params) ([]*models.User, int, error) {
	if err := requireAdmin(admin); err != nil {
		return nil, 0, err
	}
	return s.users.List(ctx, admin.TenantID, params.PageSize, params.Offset())
}

// CreateUser adds a user to the admin's tenant.
func (s *AuthService) CreateUser(ctx context.Context, admin *auth.UserSession, req CreateUserRequest) (*models.User, error) {
	if err := requireAdmin(admin); err != nil {
		return nil, err
	}

	verr := appErrors.NewFieldErrors("invalid user")
	email := auth.NormalizeEmail(req.Email)
	if !auth.IsValidEmail(email) {
		verr.Add("email", "enter a valid email address")
	}
	if strings.TrimSpace(req.Name) == "" {
		verr.Add("name", "this field is required")
	}
	role := req.Role
	if role == "" {
		role = constants.RoleSalesRep
	}
	if !constants.IsValidRole(role) {
		verr.Add("role", fmt.Sprintf("%q is not a valid choice", role))
	}
	validatePassword(verr, "password", req.Password)
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	exists, err := s.users.EmailExists(ctx, email, "")
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	if exists {
		return nil, appErrors.NewConflictError("user", "email", email)
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	user := &models.User{
		ID:           utils.GenerateID(),
		TenantID:     admin.TenantID,
		Email:        email,
		Name:         strings.TrimSpace(req.Name),
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.users.Insert(ctx, user); err != nil {
		if persistence.IsDuplicateEntry(err) {
			return nil, appErrors.NewConflictError("user", "email", email)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	s.logger.Info("User created", zap.String("user_id", user.ID), zap.String("role", role), zap.String("by", admin.ID))
	return user, nil
}

// UpdateUser changes name, role or activity of a tenant user. Deactivating
// a user revokes all of their sessions.
func (s *AuthService) UpdateUser(ctx context.Context, admin *auth.UserSession, userID string, req UpdateUserRequest) (*models.User, error) {
	if err := requireAdmin(admin); err != nil {
		return nil, err
	}
	user, err := s.users.FindByID(ctx, admin.TenantID, userID)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	if user == nil {
		return nil, appErrors.NewNotFoundError("user", userID)
	}

	verr := appErrors.NewFieldErrors("invalid user")
	updates := make(map[string]interface{})
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			verr.Add("name", "this field may not be blank")
		}
		updates["name"] = name
		user.Name = name
	}
	if req.Role != nil {
		if !constants.IsValidRole(*req.Role) {
			verr.Add("role", fmt.Sprintf("%q is not a valid choice", *req.Role))
		}
		if userID == admin.ID && *req.Role != constants.RoleAdmin {
			verr.Add("role", "you cannot remove your own admin role")
		}
		updates["role"] = *req.Role
		user.Role = *req.Role
	}
	if req.IsActive != nil {
		if userID == admin.ID && !*req.IsActive {
			verr.Add("is_active", "you cannot deactivate yourself")
		}
		updates["is_active"] = *req.IsActive
		user.IsActive = *req.IsActive
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.users.Update(txCtx, admin.TenantID, userID, updates); err != nil {
			return err
		}
		if req.IsActive != nil && !*req.IsActive {
			return s.sessions.RevokeUserSessions(txCtx, userID, "")
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	return user, nil
}

// DeactivateUser disables a tenant user.
func (s *AuthService) DeactivateUser(ctx context.Context, admin *auth.UserSession, userID string) error {
	inactive := false
	_, err := s.UpdateUser(ctx, admin, userID, UpdateUserRequest{IsActive: &inactive})
	return err
}
