package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nexuscrm/mycrm/internal/application/services"
)

type AnalyticsHandler struct {
	svcMgr *services.ServiceManager
}

func NewAnalyticsHandler(svcMgr *services.ServiceManager) *AnalyticsHandler {
	return &AnalyticsHandler{svcMgr: svcMgr}
}

type SQLRequest struct {
	SQL string `json:"sql" binding:"required"`
}

// Aggregate handles POST /api/v1/analytics/aggregate
func (h *AnalyticsHandler) Aggregate(c *gin.Context) {
	var req services.AggregateRequest
	HandleBody(c, http.StatusOK, "Aggregate computed", &req, func() (interface{}, error) {
		return h.svcMgr.Analytics.Aggregate(c.Request.Context(), GetUserFromContext(c), req)
	})
}

// Pipeline handles GET /api/v1/analytics/pipeline
func (h *AnalyticsHandler) Pipeline(c *gin.Context) {
	HandleGet(c, "Pipeline summary", func() (interface{}, error) {
		return h.svcMgr.Analytics.PipelineSummary(c.Request.Context(), GetUserFromContext(c))
	})
}

// LeadConversion handles GET /api/v1/analytics/lead-conversion
func (h *AnalyticsHandler) LeadConversion(c *gin.Context) {
	HandleGet(c, "Lead conversion", func() (interface{}, error) {
		return h.svcMgr.Analytics.LeadConversion(c.Request.Context(), GetUserFromContext(c))
	})
}

// TaskCompletion handles GET /api/v1/analytics/task-completion
func (h *AnalyticsHandler) TaskCompletion(c *gin.Context) {
	HandleGet(c, "Task completion", func() (interface{}, error) {
		return h.svcMgr.Analytics.TaskCompletion(c.Request.Context(), GetUserFromContext(c))
	})
}

// RunSQL handles POST /api/v1/analytics/sql (tenant admins only)
func (h *AnalyticsHandler) RunSQL(c *gin.Context) {
	var req SQLRequest
	HandleBody(c, http.StatusOK, "Query executed", &req, func() (interface{}, error) {
		return h.svcMgr.Analytics.RunSQL(c.Request.Context(), GetUserFromContext(c), req.SQL)
	})
}
