package versioning

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestParseVersion(t *testing.T) {
	assert.Equal(t, APIVersion{1, 0}, ParseVersion(""))
	assert.Equal(t, APIVersion{1, 2}, ParseVersion("v1.2"))
	assert.Equal(t, APIVersion{2, 0}, ParseVersion("2"))
	assert.Equal(t, APIVersion{1, 0}, ParseVersion("garbage"))
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, FromContext(c.Request.Context()).String())
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Version", "v1.3")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "v1.3", w.Body.String())
	assert.Equal(t, "v1.0", w.Header().Get("X-API-Version"))

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Version", "v2")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"UNSUPPORTED_VERSION"`)
	assert.Contains(t, w.Body.String(), "unsupported API version v2.0")
}
