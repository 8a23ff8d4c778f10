package models

import (
	"time"
)

// Audit actions
const (
	AuditCreate     = "create"
	AuditUpdate     = "update"
	AuditDelete     = "delete"
	AuditBulkCreate = "bulk_create"
	AuditBulkUpdate = "bulk_update"
	AuditBulkDelete = "bulk_delete"
	AuditConvert    = "convert"
	AuditLogin      = "login"
	AuditLogout     = "logout"
)

// FieldChange is one changed value in an audit entry.
type FieldChange struct {
	Old interface{} `json:"old"`
	New interface{} `json:"new"`
}

// AuditEntry records one action against one record.
type AuditEntry struct {
	ID        string                 `json:"id"`
	TenantID  string                 `json:"tenant_id"`
	Ref       EntityRef              `json:"ref"`
	Action    string                 `json:"action"`
	ActorID   string                 `json:"actor_id"`
	Changes   map[string]FieldChange `json:"changes,omitempty"`
	IPAddress string                 `json:"ip_address,omitempty"`
	UserAgent string                 `json:"user_agent,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// AuditFilter narrows audit listings; zero values are ignored.
type AuditFilter struct {
	EntityType string
	EntityID   string
	ActorID    string
	Action     string
	Since      *time.Time
}
