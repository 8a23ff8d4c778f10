package middleware

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nexuscrm/mycrm/pkg/auth"
	"github.com/nexuscrm/mycrm/pkg/constants"
	appErrors "github.com/nexuscrm/mycrm/pkg/errors"
)

// SessionValidator checks an access token against the live sessions.
type SessionValidator interface {
	ValidateSession(ctx context.Context, token string) (*auth.Claims, error)
}

// RequireAuth is a middleware that validates bearer tokens
func RequireAuth(sessions SessionValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader(constants.HeaderAuthorization)
		if authHeader == "" {
			AbortWithError(c, appErrors.NewUnauthorizedError("no authorization token provided"))
			return
		}

		// Extract token (format: "Bearer <token>")
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != strings.TrimSpace(constants.BearerPrefix) || parts[1] == "" {
			AbortWithError(c, appErrors.NewUnauthorizedError("invalid authorization header format"))
			return
		}
		authenticate(c, sessions, parts[1])
	}
}

// RequireAuthQuery reads the token from the "token" query parameter. Browsers
// cannot set headers on WebSocket upgrades, so only the live channel uses it.
func RequireAuthQuery(sessions SessionValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query(constants.ContextKeyToken)
		if token == "" {
			AbortWithError(c, appErrors.NewUnauthorizedError("no token provided"))
			return
		}
		authenticate(c, sessions, token)
	}
}

func authenticate(c *gin.Context, sessions SessionValidator, token string) {
	claims, err := sessions.ValidateSession(c.Request.Context(), token)
	if err != nil {
		if appErrors.GetHTTPStatus(err) >= 500 {
			AbortWithError(c, err)
			return
		}
		AbortWithError(c, appErrors.NewUnauthorizedError(err.Error()))
		return
	}

	c.Set(constants.ContextKeyUser, claims.User)
	c.Set(constants.ContextKeyToken, token)
	c.Set(constants.ContextKeySession, claims.ID)
	c.Next()
}

// CurrentUser returns the authenticated principal, or nil on public routes.
func CurrentUser(c *gin.Context) *auth.UserSession {
	v, exists := c.Get(constants.ContextKeyUser)
	if !exists {
		return nil
	}
	user, ok := v.(auth.UserSession)
	if !ok {
		return nil
	}
	return &user
}

// RequireRole admits only principals holding one of roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := CurrentUser(c)
		if user == nil {
			AbortWithError(c, appErrors.NewUnauthorizedError("user not authenticated"))
			return
		}
		for _, r := range roles {
			if user.Role == r {
				c.Next()
				return
			}
		}
		AbortWithError(c, appErrors.NewPermissionError("access", c.FullPath()))
	}
}

// RequireAdmin checks if the user administers their tenant
func RequireAdmin() gin.HandlerFunc {
	return RequireRole(constants.RoleAdmin)
}

// AbortWithError stops the chain with the error envelope of err.
func AbortWithError(c *gin.Context, err error) {
	var rle *appErrors.RateLimitError
	if errors.As(err, &rle) {
		c.Header(constants.HeaderRetryAfter, strconv.Itoa(rle.RetryAfterSeconds()))
	}
	c.AbortWithStatusJSON(appErrors.GetHTTPStatus(err), appErrors.ToResponse(err))
}
