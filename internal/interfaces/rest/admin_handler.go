package rest

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nexuscrm/mycrm/internal/application/services"
	"github.com/nexuscrm/mycrm/internal/domain/models"
	"github.com/nexuscrm/mycrm/pkg/errors"
)

// CustomFieldHandler manages tenant-defined fields.
type CustomFieldHandler struct {
	svcMgr *services.ServiceManager
}

func NewCustomFieldHandler(svcMgr *services.ServiceManager) *CustomFieldHandler {
	return &CustomFieldHandler{svcMgr: svcMgr}
}

// List handles GET /api/v1/custom-fields?entity=contacts
func (h *CustomFieldHandler) List(c *gin.Context) {
	HandleGet(c, "Custom fields", func() (interface{}, error) {
		return h.svcMgr.CustomFields.List(c.Request.Context(), GetUserFromContext(c), c.Query("entity"))
	})
}

// Define handles POST /api/v1/custom-fields
func (h *CustomFieldHandler) Define(c *gin.Context) {
	var req services.DefineCustomFieldRequest
	HandleBody(c, http.StatusCreated, "Custom field defined", &req, func() (interface{}, error) {
		return h.svcMgr.CustomFields.Define(c.Request.Context(), GetUserFromContext(c), req)
	})
}

// Delete handles DELETE /api/v1/custom-fields/:id
func (h *CustomFieldHandler) Delete(c *gin.Context) {
	HandleDelete(c, "Custom field deleted", func() error {
		return h.svcMgr.CustomFields.Delete(c.Request.Context(), GetUserFromContext(c), c.Param("id"))
	})
}

// AuditHandler lists the tenant's audit trail.
type AuditHandler struct {
	svcMgr *services.ServiceManager
}

func NewAuditHandler(svcMgr *services.ServiceManager) *AuditHandler {
	return &AuditHandler{svcMgr: svcMgr}
}

// List handles GET /api/v1/audit
func (h *AuditHandler) List(c *gin.Context) {
	p, ok := pageParams(c)
	if !ok {
		return
	}
	filter := models.AuditFilter{
		EntityType: c.Query("entity_type"),
		EntityID:   c.Query("entity_id"),
		ActorID:    c.Query("actor_id"),
		Action:     c.Query("action"),
	}
	if raw := c.Query("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			RespondAppError(c, errors.NewValidationError("since", "must be an RFC 3339 timestamp"))
			return
		}
		filter.Since = &since
	}
	entries, count, err := h.svcMgr.Audit.List(c.Request.Context(), GetUserFromContext(c), filter, p)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondPage(c, "Audit entries", entries, count, p)
}
