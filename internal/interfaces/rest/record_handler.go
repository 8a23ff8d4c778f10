package rest

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nexuscrm/mycrm/internal/application/services"
	"github.com/nexuscrm/mycrm/internal/domain/entity"
	"github.com/nexuscrm/mycrm/pkg/constants"
)

// RecordHandler serves the generic CRUD endpoints of every registered entity.
type RecordHandler struct {
	svcMgr *services.ServiceManager
}

func NewRecordHandler(svcMgr *services.ServiceManager) *RecordHandler {
	return &RecordHandler{svcMgr: svcMgr}
}

type BulkUpdateRequest struct {
	IDs    []string               `json:"ids"`
	Fields map[string]interface{} `json:"fields"`
}

type BulkDeleteRequest struct {
	IDs []string `json:"ids"`
}

type CloseOpportunityRequest struct {
	Won bool `json:"won"`
}

// List handles GET /api/v1/{entity}
func (h *RecordHandler) List(def *entity.EntityDefinition) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := services.ParseListParams(c.Request.URL.Query())
		if err != nil {
			RespondAppError(c, err)
			return
		}
		result, err := h.svcMgr.Records.List(c.Request.Context(), GetUserFromContext(c), def.Name, p)
		if err != nil {
			RespondAppError(c, err)
			return
		}
		RespondPage(c, def.Label+" list", result.Records, result.Count, p.Page)
	}
}

// Get handles GET /api/v1/{entity}/:id
func (h *RecordHandler) Get(def *entity.EntityDefinition) gin.HandlerFunc {
	return func(c *gin.Context) {
		HandleGet(c, def.Label+" retrieved", func() (interface{}, error) {
			return h.svcMgr.Records.Get(c.Request.Context(), GetUserFromContext(c), def.Name, c.Param("id"))
		})
	}
}

// Create handles POST /api/v1/{entity}
func (h *RecordHandler) Create(def *entity.EntityDefinition) gin.HandlerFunc {
	return func(c *gin.Context) {
		var payload map[string]interface{}
		HandleBody(c, http.StatusCreated, def.Label+" created", &payload, func() (interface{}, error) {
			return h.svcMgr.Records.Create(c.Request.Context(), GetUserFromContext(c), def.Name, payload)
		})
	}
}

// Update handles PUT (replace) and PATCH (partial) /api/v1/{entity}/:id
func (h *RecordHandler) Update(def *entity.EntityDefinition, partial bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var payload map[string]interface{}
		HandleBody(c, http.StatusOK, def.Label+" updated", &payload, func() (interface{}, error) {
			return h.svcMgr.Records.Update(c.Request.Context(), GetUserFromContext(c), def.Name, c.Param("id"), payload, partial)
		})
	}
}

// Delete handles DELETE /api/v1/{entity}/:id
func (h *RecordHandler) Delete(def *entity.EntityDefinition) gin.HandlerFunc {
	return func(c *gin.Context) {
		HandleDelete(c, def.Label+" deleted", func() error {
			return h.svcMgr.Records.Delete(c.Request.Context(), GetUserFromContext(c), def.Name, c.Param("id"))
		})
	}
}

// History handles GET /api/v1/{entity}/:id/history
func (h *RecordHandler) History(def *entity.EntityDefinition) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := pageParams(c)
		if !ok {
			return
		}
		entries, count, err := h.svcMgr.Records.History(c.Request.Context(), GetUserFromContext(c), def.Name, c.Param("id"), p)
		if err != nil {
			RespondAppError(c, err)
			return
		}
		RespondPage(c, def.Label+" history", entries, count, p)
	}
}

// Export handles GET /api/v1/{entity}/export and answers text/csv.
func (h *RecordHandler) Export(def *entity.EntityDefinition) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := services.ParseListParams(c.Request.URL.Query())
		if err != nil {
			RespondAppError(c, err)
			return
		}
		var buf bytes.Buffer
		n, err := h.svcMgr.Records.Export(c.Request.Context(), GetUserFromContext(c), def.Name, p, &buf)
		if err != nil {
			RespondAppError(c, err)
			return
		}
		filename := fmt.Sprintf("%s-%s.csv", def.Name, time.Now().UTC().Format("20060102-150405"))
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
		c.Header("X-Total-Count", fmt.Sprint(n))
		c.Data(http.StatusOK, constants.ContentTypeCSV+"; charset=utf-8", buf.Bytes())
	}
}

// BulkCreate handles POST /api/v1/{entity}/bulk
func (h *RecordHandler) BulkCreate(def *entity.EntityDefinition) gin.HandlerFunc {
	return func(c *gin.Context) {
		var payloads []map[string]interface{}
		HandleBody(c, http.StatusCreated, def.Label+" records created", &payloads, func() (interface{}, error) {
			return h.svcMgr.Records.BulkCreate(c.Request.Context(), GetUserFromContext(c), def.Name, payloads)
		})
	}
}

// BulkUpdate handles POST /api/v1/{entity}/bulk-update
func (h *RecordHandler) BulkUpdate(def *entity.EntityDefinition) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req BulkUpdateRequest
		HandleBody(c, http.StatusOK, def.Label+" records updated", &req, func() (interface{}, error) {
			return h.svcMgr.Records.BulkUpdate(c.Request.Context(), GetUserFromContext(c), def.Name, req.IDs, req.Fields)
		})
	}
}

// BulkDelete handles POST /api/v1/{entity}/bulk-delete
func (h *RecordHandler) BulkDelete(def *entity.EntityDefinition) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req BulkDeleteRequest
		HandleBody(c, http.StatusOK, def.Label+" records deleted", &req, func() (interface{}, error) {
			return h.svcMgr.Records.BulkDelete(c.Request.Context(), GetUserFromContext(c), def.Name, req.IDs)
		})
	}
}

// ConvertLead handles POST /api/v1/leads/:id/convert. The body is optional.
func (h *RecordHandler) ConvertLead(c *gin.Context) {
	var req services.ConvertLeadRequest
	if c.Request.ContentLength != 0 && !BindJSON(c, &req) {
		return
	}
	HandleGet(c, "Lead converted", func() (interface{}, error) {
		return h.svcMgr.Records.ConvertLead(c.Request.Context(), GetUserFromContext(c), c.Param("id"), req)
	})
}

// CloseOpportunity handles POST /api/v1/opportunities/:id/close
func (h *RecordHandler) CloseOpportunity(c *gin.Context) {
	var req CloseOpportunityRequest
	HandleBody(c, http.StatusOK, "Opportunity closed", &req, func() (interface{}, error) {
		return h.svcMgr.Records.CloseOpportunity(c.Request.Context(), GetUserFromContext(c), c.Param("id"), req.Won)
	})
}

// CompleteTask handles POST /api/v1/tasks/:id/complete
func (h *RecordHandler) CompleteTask(c *gin.Context) {
	HandleGet(c, "Task completed", func() (interface{}, error) {
		return h.svcMgr.Records.CompleteTask(c.Request.Context(), GetUserFromContext(c), c.Param("id"))
	})
}
