package rest

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nexuscrm/mycrm/internal/domain/entity"
	"github.com/nexuscrm/mycrm/pkg/versioning"
)

// ReadinessCheck probes one backing service.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

const readinessTimeout = 2 * time.Second

type SystemHandler struct {
	registry  *entity.Registry
	publicURL string
	checks    []ReadinessCheck

	docOnce sync.Once
	doc     *Document
}

func NewSystemHandler(registry *entity.Registry, publicURL string, checks []ReadinessCheck) *SystemHandler {
	return &SystemHandler{registry: registry, publicURL: publicURL, checks: checks}
}

// Health handles GET /health
func (h *SystemHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": versioning.Current.String(),
	})
}

// Ready handles GET /ready and answers 503 while any check fails.
func (h *SystemHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readinessTimeout)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(h.checks))
	for _, chk := range h.checks {
		if err := chk.Check(ctx); err != nil {
			results[chk.Name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[chk.Name] = "ok"
	}
	state := "ready"
	if status != http.StatusOK {
		state = "unavailable"
	}
	c.JSON(status, gin.H{"status": state, "checks": results})
}

// Schema handles GET /api/v1/schema. The document is built on first use;
// the registry does not change while the server runs.
func (h *SystemHandler) Schema(c *gin.Context) {
	h.docOnce.Do(func() {
		base := h.publicURL
		if base == "" {
			u := requestURL(c)
			base = u.Scheme + "://" + u.Host
		}
		h.doc = OpenAPI(h.registry, base)
	})
	c.JSON(http.StatusOK, h.doc)
}
