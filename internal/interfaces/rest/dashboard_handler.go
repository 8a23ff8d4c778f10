package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nexuscrm/mycrm/internal/application/services"
)

type DashboardHandler struct {
	svcMgr *services.ServiceManager
}

func NewDashboardHandler(svcMgr *services.ServiceManager) *DashboardHandler {
	return &DashboardHandler{svcMgr: svcMgr}
}

// ListWidgets handles GET /api/v1/dashboard/widgets
func (h *DashboardHandler) ListWidgets(c *gin.Context) {
	HandleGet(c, "Widgets", func() (interface{}, error) {
		return h.svcMgr.Dashboards.List(c.Request.Context(), GetUserFromContext(c))
	})
}

// GetWidget handles GET /api/v1/dashboard/widgets/:id
func (h *DashboardHandler) GetWidget(c *gin.Context) {
	HandleGet(c, "Widget", func() (interface{}, error) {
		return h.svcMgr.Dashboards.Get(c.Request.Context(), GetUserFromContext(c), c.Param("id"))
	})
}

// CreateWidget handles POST /api/v1/dashboard/widgets
func (h *DashboardHandler) CreateWidget(c *gin.Context) {
	var req services.WidgetRequest
	HandleBody(c, http.StatusCreated, "Widget created", &req, func() (interface{}, error) {
		return h.svcMgr.Dashboards.Create(c.Request.Context(), GetUserFromContext(c), req)
	})
}

// UpdateWidget handles PUT /api/v1/dashboard/widgets/:id
func (h *DashboardHandler) UpdateWidget(c *gin.Context) {
	var req services.WidgetRequest
	HandleBody(c, http.StatusOK, "Widget updated", &req, func() (interface{}, error) {
		return h.svcMgr.Dashboards.Update(c.Request.Context(), GetUserFromContext(c), c.Param("id"), req)
	})
}

// DeleteWidget handles DELETE /api/v1/dashboard/widgets/:id
func (h *DashboardHandler) DeleteWidget(c *gin.Context) {
	HandleDelete(c, "Widget deleted", func() error {
		return h.svcMgr.Dashboards.Delete(c.Request.Context(), GetUserFromContext(c), c.Param("id"))
	})
}

// WidgetData handles GET /api/v1/dashboard/widgets/:id/data
func (h *DashboardHandler) WidgetData(c *gin.Context) {
	HandleGet(c, "Widget data", func() (interface{}, error) {
		return h.svcMgr.Dashboards.WidgetData(c.Request.Context(), GetUserFromContext(c), c.Param("id"))
	})
}

// Overview handles GET /api/v1/dashboard/overview
func (h *DashboardHandler) Overview(c *gin.Context) {
	HandleGet(c, "Dashboard overview", func() (interface{}, error) {
		return h.svcMgr.Dashboards.Overview(c.Request.Context(), GetUserFromContext(c))
	})
}
