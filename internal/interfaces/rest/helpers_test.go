package rest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/nexuscrm/mycrm/pkg/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestURL(t *testing.T) {
	tests := []struct {
		name    string
		public  string
		headers map[string]string
		want    string
	}{
		{"request host", "", nil, "http://crm.local/api/v1/contacts?page=2&search=ann"},
		{"forwarded", "", map[string]string{"X-Forwarded-Proto": "https", "X-Forwarded-Host": "crm.example.org"},
			"https://crm.example.org/api/v1/contacts?page=2&search=ann"},
		{"public url wins", "https://api.example.org/crm/", map[string]string{"X-Forwarded-Host": "ignored"},
			"https://api.example.org/crm/api/v1/contacts?page=2&search=ann"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest(http.MethodGet, "http://crm.local/api/v1/contacts?page=2&search=ann", nil)
			for k, v := range tt.headers {
				c.Request.Header.Set(k, v)
			}
			if tt.public != "" {
				c.Set(ctxPublicURL, tt.public)
			}
			assert.Equal(t, tt.want, requestURL(c).String())
		})
	}
}

func TestRespondPageLinks(t *testing.T) {
	r := gin.New()
	r.GET("/api/v1/contacts", func(c *gin.Context) {
		p, ok := pageParams(c)
		if !ok {
			return
		}
		RespondPage(c, "Contacts", []string{"c"}, 7, p)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://crm.local/api/v1/contacts?page=2&page_size=3&search=ann", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Success bool                    `json:"success"`
		Message string                  `json:"message"`
		Data    pagination.Page[string] `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, "Contacts", body.Message)
	assert.Equal(t, 7, body.Data.Count)
	assert.Equal(t, 3, body.Data.TotalPages)
	require.NotNil(t, body.Data.Next)
	require.NotNil(t, body.Data.Previous)
	assert.Equal(t, "http://crm.local/api/v1/contacts?page=3&page_size=3&search=ann", *body.Data.Next)
	assert.Equal(t, "http://crm.local/api/v1/contacts?page_size=3&search=ann", *body.Data.Previous)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/contacts?page=0", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBindJSONRejectsMalformedBody(t *testing.T) {
	r := gin.New()
	r.POST("/", func(c *gin.Context) {
		var payload map[string]interface{}
		HandleBody(c, http.StatusCreated, "created", &payload, func() (interface{}, error) {
			return payload, nil
		})
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"Acme"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"success":true,"message":"created","data":{"name":"Acme"}}`, w.Body.String())
}
