package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/nexuscrm/mycrm/internal/config"
	"github.com/nexuscrm/mycrm/internal/domain/models"
	"github.com/nexuscrm/mycrm/internal/infrastructure/database"
	"github.com/nexuscrm/mycrm/internal/infrastructure/ratelimit"
	"github.com/nexuscrm/mycrm/pkg/auth"
	"github.com/nexuscrm/mycrm/pkg/constants"
	appErrors "github.com/nexuscrm/mycrm/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeSessions struct {
	claims *auth.Claims
	err    error
	got    string
}

func (f *fakeSessions) ValidateSession(_ context.Context, token string) (*auth.Claims, error) {
	f.got = token
	return f.claims, f.err
}

func validClaims(role string) *auth.Claims {
	return &auth.Claims{
		User:             auth.UserSession{ID: "user-1", TenantID: "tenant-1", Name: "Ada", Role: role},
		Kind:             auth.TokenAccess,
		RegisteredClaims: jwt.RegisteredClaims{ID: "sess-1"},
	}
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) appErrors.ErrorResponse {
	t.Helper()
	var resp appErrors.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestRequireAuth(t *testing.T) {
	sessions := &fakeSessions{claims: validClaims(constants.RoleSalesRep)}
	r := gin.New()
	r.GET("/me", RequireAuth(sessions), func(c *gin.Context) {
		user := CurrentUser(c)
		c.JSON(http.StatusOK, gin.H{
			"id":      user.ID,
			"session": c.GetString(constants.ContextKeySession),
		})
	})

	t.Run("valid bearer token", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.Header.Set(constants.HeaderAuthorization, "Bearer abc.def")
		r.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "abc.def", sessions.got)
		assert.JSONEq(t, `{"id":"user-1","session":"sess-1"}`, w.Body.String())
	})

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic abc"},
		{"empty token", "Bearer "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set(constants.HeaderAuthorization, tt.header)
			}
			r.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)
			resp := decodeEnvelope(t, w)
			assert.False(t, resp.Success)
			assert.Equal(t, "UNAUTHORIZED", resp.Code)
		})
	}
}

func TestRequireAuthRejectedSession(t *testing.T) {
	sessions := &fakeSessions{err: appErrors.NewUnauthorizedError("session has been revoked")}
	r := gin.New()
	r.GET("/me", RequireAuth(sessions), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(constants.HeaderAuthorization, "Bearer tok")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, decodeEnvelope(t, w).Message, "revoked")
}

func TestRequireAuthStoreFailureIsNotA401(t *testing.T) {
	sessions := &fakeSessions{err: errors.New("database error: connection refused")}
	r := gin.New()
	r.GET("/me", RequireAuth(sessions), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(constants.HeaderAuthorization, "Bearer tok")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	resp := decodeEnvelope(t, w)
	assert.Equal(t, "internal server error", resp.Message)
	assert.NotContains(t, w.Body.String(), "connection refused")
}

func TestRequireAuthQuery(t *testing.T) {
	sessions := &fakeSessions{claims: validClaims(constants.RoleAdmin)}
	r := gin.New()
	r.GET("/ws", RequireAuthQuery(sessions), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws?token=qtok", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "qtok", sessions.got)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireAdmin(t *testing.T) {
	for role, want := range map[string]int{
		constants.RoleAdmin:    http.StatusOK,
		constants.RoleManager:  http.StatusForbidden,
		constants.RoleReadOnly: http.StatusForbidden,
	} {
		t.Run(role, func(t *testing.T) {
			r := gin.New()
			r.GET("/admin", RequireAuth(&fakeSessions{claims: validClaims(role)}), RequireAdmin(),
				func(c *gin.Context) { c.Status(http.StatusOK) })

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/admin", nil)
			req.Header.Set(constants.HeaderAuthorization, "Bearer tok")
			r.ServeHTTP(w, req)
			assert.Equal(t, want, w.Code)
		})
	}

	r := gin.New()
	r.GET("/admin", RequireAdmin(), func(c *gin.Context) { c.Status(http.StatusOK) })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	var meta models.RequestMeta
	r.GET("/", func(c *gin.Context) {
		meta = models.RequestMetaFrom(c.Request.Context())
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(constants.HeaderXRequestID, "req-42")
	req.Header.Set("User-Agent", "crm-test")
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-42", w.Header().Get(constants.HeaderXRequestID))
	assert.Equal(t, "req-42", meta.RequestID)
	assert.Equal(t, "crm-test", meta.UserAgent)
	assert.NotEmpty(t, meta.IPAddress)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(constants.HeaderXRequestID, "bad id with spaces")
	r.ServeHTTP(w, req)
	generated := w.Header().Get(constants.HeaderXRequestID)
	assert.Len(t, generated, 36)
	assert.Equal(t, generated, meta.RequestID)
}

func TestProfilerHeaders(t *testing.T) {
	cfg := config.ProfilerConfig{Enabled: true, NPlusOneThreshold: 3, SlowQueryThreshold: time.Second}
	r := gin.New()
	r.Use(Profiler(cfg, zap.NewNop()))
	r.GET("/contacts", func(c *gin.Context) {
		p := database.ProfileFrom(c.Request.Context())
		require.NotNil(t, p)
		for i := 0; i < 4; i++ {
			p.Record("SELECT * FROM companies WHERE id = ?", 2*time.Millisecond)
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.DELETE("/contacts", func(c *gin.Context) {
		database.ProfileFrom(c.Request.Context()).Record("DELETE FROM contacts WHERE id = ?", time.Millisecond)
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/contacts", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "4", w.Header().Get(constants.HeaderQueryCount))
	assert.Equal(t, "8.00", w.Header().Get(constants.HeaderQueryTimeMs))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/contacts", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "1", w.Header().Get(constants.HeaderQueryCount))
}

func TestProfilerDisabled(t *testing.T) {
	r := gin.New()
	r.Use(Profiler(config.ProfilerConfig{Enabled: false}, zap.NewNop()))
	r.GET("/", func(c *gin.Context) {
		assert.Nil(t, database.ProfileFrom(c.Request.Context()))
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Empty(t, w.Header().Get(constants.HeaderQueryCount))
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string, ratelimit.Rate) (ratelimit.Result, error) {
	return ratelimit.Result{}, errors.New("redis: connection refused")
}

func TestThrottle(t *testing.T) {
	rate := ratelimit.Rate{Limit: 2, Period: time.Minute}
	r := gin.New()
	r.GET("/login", Throttle(ratelimit.NewLocalLimiter(), ScopeAuth, rate, ByIP, zap.NewNop()),
		func(c *gin.Context) { c.Status(http.StatusOK) })

	for i, remaining := range []string{"1", "0"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/login", nil))
		assert.Equal(t, http.StatusOK, w.Code, "request %d", i)
		assert.Equal(t, "2", w.Header().Get(constants.HeaderRateLimit))
		assert.Equal(t, remaining, w.Header().Get(constants.HeaderRateRemaining))
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/login", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get(constants.HeaderRetryAfter))
	assert.Equal(t, "RATE_LIMITED", decodeEnvelope(t, w).Code)
}

func TestThrottleFailsOpen(t *testing.T) {
	r := gin.New()
	r.GET("/", Throttle(failingLimiter{}, ScopeAnon, ratelimit.Rate{Limit: 1, Period: time.Second}, ByIP, zap.NewNop()),
		func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestByUserFallsBackToIP(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.RemoteAddr = "10.0.0.7:5555"
	assert.Equal(t, "ip:10.0.0.7", ByUser(c))

	c.Set(constants.ContextKeyUser, auth.UserSession{ID: "u-9"})
	assert.Equal(t, "user:u-9", ByUser(c))
}
