package rest

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nexuscrm/mycrm/internal/interfaces/middleware"
	"github.com/nexuscrm/mycrm/pkg/auth"
	"github.com/nexuscrm/mycrm/pkg/errors"
	"github.com/nexuscrm/mycrm/pkg/pagination"
	"go.uber.org/zap"
)

const ctxPublicURL = "public_url"

// Envelope is the body of every successful response.
type Envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

// GetUserFromContext extracts the authenticated user from gin.Context
func GetUserFromContext(c *gin.Context) *auth.UserSession {
	return middleware.CurrentUser(c)
}

// RespondAppError sends the error envelope for err. Server-side failures are
// logged with their cause; clients only see a generic message.
func RespondAppError(c *gin.Context, err error) {
	status := errors.GetHTTPStatus(err)
	if status >= 500 {
		zap.L().Error("Request failed",
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("request_id", middleware.GetRequestID(c)),
			zap.Error(err),
		)
	}
	middleware.AbortWithError(c, err)
}

// Respond sends data in the success envelope.
func Respond(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, Envelope{Success: true, Message: message, Data: data})
}

// BindJSON binds JSON and returns true if successful. If failed, it sends bad request error.
func BindJSON(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		RespondAppError(c, errors.NewValidationError("body", err.Error()))
		return false
	}
	return true
}

// HandleGet executes a read action and sends its result.
func HandleGet(c *gin.Context, message string, action func() (interface{}, error)) {
	result, err := action()
	if err != nil {
		RespondAppError(c, err)
		return
	}
	Respond(c, http.StatusOK, message, result)
}

// HandleBody binds the request body into req, runs action and sends its
// result with status.
func HandleBody(c *gin.Context, status int, message string, req interface{}, action func() (interface{}, error)) {
	if !BindJSON(c, req) {
		return
	}
	result, err := action()
	if err != nil {
		RespondAppError(c, err)
		return
	}
	Respond(c, status, message, result)
}

// HandleDelete executes a delete action and returns a success message
func HandleDelete(c *gin.Context, message string, action func() error) {
	if err := action(); err != nil {
		RespondAppError(c, err)
		return
	}
	Respond(c, http.StatusOK, message, nil)
}

// pageParams parses page and page_size, answering 400 on bad values.
func pageParams(c *gin.Context) (pagination.Params, bool) {
	p, err := pagination.Parse(c.Request.URL.Query())
	if err != nil {
		RespondAppError(c, err)
		return pagination.Params{}, false
	}
	return p, true
}

// RespondPage sends one page of results with absolute next/previous links.
func RespondPage[T any](c *gin.Context, message string, results []T, count int, p pagination.Params) {
	Respond(c, http.StatusOK, message, pagination.New(results, count, p, requestURL(c)))
}

// requestURL rebuilds the absolute URL of the request, preferring the
// configured public base URL over forwarded headers.
func requestURL(c *gin.Context) *url.URL {
	u := *c.Request.URL
	if base := c.GetString(ctxPublicURL); base != "" {
		if b, err := url.Parse(base); err == nil && b.Host != "" {
			u.Scheme = b.Scheme
			u.Host = b.Host
			u.Path = strings.TrimSuffix(b.Path, "/") + u.Path
			return &u
		}
	}
	u.Scheme = "http"
	if c.Request.TLS != nil {
		u.Scheme = "https"
	}
	if proto := c.GetHeader("X-Forwarded-Proto"); proto == "http" || proto == "https" {
		u.Scheme = proto
	}
	u.Host = c.Request.Host
	if fwd := c.GetHeader("X-Forwarded-Host"); fwd != "" {
		u.Host = fwd
	}
	return &u
}

// PublicURL makes paginated links use base instead of the request host.
func PublicURL(base string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if base != "" {
			c.Set(ctxPublicURL, base)
		}
		c.Next()
	}
}
