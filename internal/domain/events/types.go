package events

import (
	"time"

	"github.com/nexuscrm/mycrm/internal/domain/models"
)

// EventType defines the type of event in the system
type EventType string

const (
	RecordCreated EventType = "record.created"
	RecordUpdated EventType = "record.updated"
	RecordDeleted EventType = "record.deleted"
)

// RecordEventTypes lists the events emitted for record changes.
var RecordEventTypes = []EventType{RecordCreated, RecordUpdated, RecordDeleted}

// String returns the string representation of the event type
func (e EventType) String() string {
	return string(e)
}

// RecordEvent is the payload of record events. Old is set on updates and
// deletes; Record is the state after the change and is empty on deletes.
type RecordEvent struct {
	Type       EventType     `json:"type"`
	Entity     string        `json:"entity"`
	TenantID   string        `json:"tenant_id"`
	RecordID   string        `json:"record_id"`
	ActorID    string        `json:"actor_id,omitempty"`
	Record     models.Record `json:"record,omitempty"`
	Old        models.Record `json:"old,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// Changed reports whether field differs between Old and Record. On
// creates every non-empty field counts as changed.
func (e *RecordEvent) Changed(field string) bool {
	newVal := e.Record.GetString(field)
	if e.Old == nil {
		return newVal != ""
	}
	return e.Old.GetString(field) != newVal
}
