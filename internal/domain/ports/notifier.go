package ports

import (
	"github.com/nexuscrm/mycrm/internal/domain/models"
)

// Notifier pushes notifications to a user's live connections.
type Notifier interface {
	Notify(userID string, n *models.Notification)
}
