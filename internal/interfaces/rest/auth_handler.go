package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nexuscrm/mycrm/internal/application/services"
	"github.com/nexuscrm/mycrm/pkg/constants"
)

type AuthHandler struct {
	svcMgr *services.ServiceManager
}

func NewAuthHandler(svcMgr *services.ServiceManager) *AuthHandler {
	return &AuthHandler{
		svcMgr: svcMgr,
	}
}

// LoginRequest represents login request body
type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required"`
}

// Signup handles POST /api/v1/auth/signup
func (h *AuthHandler) Signup(c *gin.Context) {
	var req services.SignupRequest
	HandleBody(c, http.StatusCreated, "Tenant created", &req, func() (interface{}, error) {
		return h.svcMgr.Auth.Signup(c.Request.Context(), req)
	})
}

// Login handles POST /api/v1/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	HandleBody(c, http.StatusOK, "Login successful", &req, func() (interface{}, error) {
		return h.svcMgr.Auth.Login(c.Request.Context(), req.Email, req.Password)
	})
}

// Refresh handles POST /api/v1/auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req RefreshRequest
	HandleBody(c, http.StatusOK, "Token refreshed", &req, func() (interface{}, error) {
		return h.svcMgr.Auth.Refresh(c.Request.Context(), req.RefreshToken)
	})
}

// Logout handles POST /api/v1/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	HandleDelete(c, "Logged out", func() error {
		return h.svcMgr.Auth.Logout(c.Request.Context(), GetUserFromContext(c), c.GetString(constants.ContextKeySession))
	})
}

// Me handles GET /api/v1/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	HandleGet(c, "Current user", func() (interface{}, error) {
		return h.svcMgr.Auth.Me(c.Request.Context(), GetUserFromContext(c))
	})
}

// ChangePassword handles POST /api/v1/auth/change-password. Every other
// session of the user is revoked.
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req ChangePasswordRequest
	HandleBody(c, http.StatusOK, "Password changed", &req, func() (interface{}, error) {
		err := h.svcMgr.Auth.ChangePassword(c.Request.Context(), GetUserFromContext(c),
			c.GetString(constants.ContextKeySession), req.CurrentPassword, req.NewPassword)
		return nil, err
	})
}

// ==================== User Management ====================

type UserHandler struct {
	svcMgr *services.ServiceManager
}

func NewUserHandler(svcMgr *services.ServiceManager) *UserHandler {
	return &UserHandler{svcMgr: svcMgr}
}

// ListUsers handles GET /api/v1/users
func (h *UserHandler) ListUsers(c *gin.Context) {
	p, ok := pageParams(c)
	if !ok {
		return
	}
	users, count, err := h.svcMgr.Auth.ListUsers(c.Request.Context(), GetUserFromContext(c), p)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondPage(c, "Users", users, count, p)
}

// CreateUser handles POST /api/v1/users
func (h *UserHandler) CreateUser(c *gin.Context) {
	var req services.CreateUserRequest
	HandleBody(c, http.StatusCreated, "User created", &req, func() (interface{}, error) {
		return h.svcMgr.Auth.CreateUser(c.Request.Context(), GetUserFromContext(c), req)
	})
}

// UpdateUser handles PATCH /api/v1/users/:id
func (h *UserHandler) UpdateUser(c *gin.Context) {
	var req services.UpdateUserRequest
	HandleBody(c, http.StatusOK, "User updated", &req, func() (interface{}, error) {
		return h.svcMgr.Auth.UpdateUser(c.Request.Context(), GetUserFromContext(c), c.Param("id"), req)
	})
}

// DeactivateUser handles DELETE /api/v1/users/:id
func (h *UserHandler) DeactivateUser(c *gin.Context) {
	HandleDelete(c, "User deactivated", func() error {
		return h.svcMgr.Auth.DeactivateUser(c.Request.Context(), GetUserFromContext(c), c.Param("id"))
	})
}
