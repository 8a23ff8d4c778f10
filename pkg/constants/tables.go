package constants

// System tables
const (
	TableTenants           = "tenants"
	TableUsers             = "users"
	TableSessions          = "sessions"
	TableAuditEntries      = "audit_entries"
	TableCustomFieldDefs   = "custom_field_definitions"
	TableCustomFieldValues = "custom_field_values"
	TableDashboardWidgets  = "dashboard_widgets"
	TableNotifications     = "notifications"
	TableOutboxEvents      = "outbox_events"
)

// Business entities
const (
	EntityCompanies     = "companies"
	EntityContacts      = "contacts"
	EntityLeads         = "leads"
	EntityOpportunities = "opportunities"
	EntityTasks         = "tasks"
	EntityCampaigns     = "campaigns"
)

// System fields present on every business entity
const (
	FieldID        = "id"
	FieldTenantID  = "tenant_id"
	FieldOwnerID   = "owner_id"
	FieldCreatedBy = "created_by"
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"

	// FieldCustomFields is the payload key carrying custom field values.
	FieldCustomFields = "custom_fields"
)

// SystemFields lists the columns maintained by the server, in table order.
var SystemFields = []string{
	FieldID,
	FieldTenantID,
	FieldOwnerID,
	FieldCreatedBy,
	FieldCreatedAt,
	FieldUpdatedAt,
}

// IsSystemField reports whether name is maintained by the server.
func IsSystemField(name string) bool {
	for _, f := range SystemFields {
		if f == name {
			return true
		}
	}
	return false
}
