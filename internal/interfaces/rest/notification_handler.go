package rest

import (
	"github.com/gin-gonic/gin"
	"github.com/nexuscrm/mycrm/internal/application/services"
	"github.com/nexuscrm/mycrm/internal/infrastructure/ws"
	"go.uber.org/zap"
)

type NotificationHandler struct {
	svcMgr *services.ServiceManager
	hub    *ws.Hub
}

func NewNotificationHandler(svcMgr *services.ServiceManager, hub *ws.Hub) *NotificationHandler {
	return &NotificationHandler{svcMgr: svcMgr, hub: hub}
}

// List handles GET /api/v1/notifications?unread=true
func (h *NotificationHandler) List(c *gin.Context) {
	p, ok := pageParams(c)
	if !ok {
		return
	}
	unread := c.Query("unread") == "true"
	items, count, err := h.svcMgr.Notifications.List(c.Request.Context(), GetUserFromContext(c), unread, p)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondPage(c, "Notifications", items, count, p)
}

// UnreadCount handles GET /api/v1/notifications/unread-count
func (h *NotificationHandler) UnreadCount(c *gin.Context) {
	HandleGet(c, "Unread notifications", func() (interface{}, error) {
		n, err := h.svcMgr.Notifications.UnreadCount(c.Request.Context(), GetUserFromContext(c))
		return gin.H{"unread": n}, err
	})
}

// MarkRead handles POST /api/v1/notifications/:id/read
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	HandleDelete(c, "Notification marked as read", func() error {
		return h.svcMgr.Notifications.MarkRead(c.Request.Context(), GetUserFromContext(c), c.Param("id"))
	})
}

// MarkAllRead handles POST /api/v1/notifications/read-all
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	HandleGet(c, "Notifications marked as read", func() (interface{}, error) {
		n, err := h.svcMgr.Notifications.MarkAllRead(c.Request.Context(), GetUserFromContext(c))
		return gin.H{"updated": n}, err
	})
}

// Stream handles GET /api/v1/ws/notifications and upgrades to a WebSocket
// that receives the caller's new notifications.
func (h *NotificationHandler) Stream(c *gin.Context) {
	user := GetUserFromContext(c)
	if err := h.hub.ServeWS(c.Writer, c.Request, user.ID); err != nil {
		// The upgrader has already answered the client.
		zap.L().Debug("WebSocket upgrade failed", zap.String("user_id", user.ID), zap.Error(err))
	}
}
