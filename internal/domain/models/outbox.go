package models

import (
	"time"
)

// Outbox event states
const (
	OutboxPending    = "pending"
	OutboxProcessing = "processing"
	OutboxProcessed  = "processed"
	OutboxFailed     = "failed"
)

// OutboxEvent is an event persisted in the same transaction as the change
// that produced it.
type OutboxEvent struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenant_id"`
	EventType   string     `json:"event_type"`
	Payload     []byte     `json:"payload"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	LastError   string     `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}
