package models

import (
	"time"
)

// Notification kinds
const (
	NotificationTaskAssigned   = "task_assigned"
	NotificationOpportunityWon = "opportunity_won"
	NotificationLeadAssigned   = "lead_assigned"
)

type Notification struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	RecipientID string    `json:"recipient_id"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	Link        string    `json:"link,omitempty"`
	Kind        string    `json:"kind"`
	IsRead      bool      `json:"is_read"`
	CreatedAt   time.Time `json:"created_at"`
}
