package entity

import (
	"github.com/nexuscrm/mycrm/pkg/constants"
)

var (
	sources        = []string{"web", "referral", "campaign", "event", "cold_call", "partner", "other"}
	industries     = []string{"technology", "finance", "healthcare", "retail", "manufacturing", "education", "other"}
	leadStatuses   = []string{"new", "contacted", "qualified", "unqualified", "converted"}
	stages         = []string{"prospecting", "qualification", "proposal", "negotiation", "closed_won", "closed_lost"}
	taskStatuses   = []string{"open", "in_progress", "completed", "cancelled"}
	priorities     = []string{"low", "medium", "high", "urgent"}
	campaignKinds  = []string{"email", "social", "event", "webinar", "ads", "other"}
	campaignStates = []string{"planned", "active", "completed", "aborted"}
)

// Values shared with the action services.
const (
	LeadStatusConverted = "converted"
	StageClosedWon      = "closed_won"
	StageClosedLost     = "closed_lost"
	TaskStatusCompleted = "completed"
	TaskStatusCancelled = "cancelled"
)

func int64p(n int64) *int64 { return &n }

// NewCRMRegistry returns the definitions of the built-in CRM entities.
func NewCRMRegistry() *Registry {
	return NewRegistry(
		&EntityDefinition{
			Name:        constants.EntityCompanies,
			Label:       "Company",
			OwnerScoped: true,
			Fields: []*FieldDefinition{
				{Name: "name", Type: FieldString, Required: true},
				{Name: "domain", Type: FieldString},
				{Name: "industry", Type: FieldChoice, Choices: industries},
				{Name: "employees", Type: FieldInt, Min: int64p(0)},
				{Name: "annual_revenue", Type: FieldDecimal},
				{Name: "phone", Type: FieldString, MaxLength: 50},
				{Name: "website", Type: FieldString},
				{Name: "address", Type: FieldText},
				{Name: "description", Type: FieldText},
			},
			SearchFields:    []string{"name", "domain", "website"},
			OrderingFields:  []string{"name", "employees", "annual_revenue", "created_at", "updated_at"},
			DefaultOrdering: "name",
		},
		&EntityDefinition{
			Name:        constants.EntityContacts,
			Label:       "Contact",
			OwnerScoped: true,
			Fields: []*FieldDefinition{
				{Name: "first_name", Type: FieldString, Required: true, MaxLength: 100},
				{Name: "last_name", Type: FieldString, Required: true, MaxLength: 100},
				{Name: "email", Type: FieldEmail},
				{Name: "phone", Type: FieldString, MaxLength: 50},
				{Name: "title", Type: FieldString},
				{Name: "company_id", Type: FieldRef, Ref: constants.EntityCompanies, OnDelete: SetNull},
				{Name: "lead_source", Type: FieldChoice, Choices: sources},
				{Name: "status", Type: FieldChoice, Choices: []string{"active", "inactive"}, Default: "active"},
				{Name: "notes", Type: FieldText},
			},
			SearchFields:    []string{"first_name", "last_name", "email", "phone"},
			OrderingFields:  []string{"first_name", "last_name", "email", "created_at", "updated_at"},
			DefaultOrdering: "last_name",
		},
		&EntityDefinition{
			Name:        constants.EntityLeads,
			Label:       "Lead",
			OwnerScoped: true,
			Fields: []*FieldDefinition{
				{Name: "first_name", Type: FieldString, MaxLength: 100},
				{Name: "last_name", Type: FieldString, Required: true, MaxLength: 100},
				{Name: "email", Type: FieldEmail},
				{Name: "phone", Type: FieldString, MaxLength: 50},
				{Name: "company_name", Type: FieldString},
				{Name: "title", Type: FieldString},
				{Name: "source", Type: FieldChoice, Choices: sources},
				{Name: "status", Type: FieldChoice, Choices: leadStatuses, Default: "new"},
				{Name: "score", Type: FieldInt, Min: int64p(0), Max: int64p(100)},
				{Name: "campaign_id", Type: FieldRef, Ref: constants.EntityCampaigns, OnDelete: Restrict},
				{Name: "converted_contact_id", Type: FieldRef, Ref: constants.EntityContacts, OnDelete: SetNull, ReadOnly: true},
				{Name: "converted_at", Type: FieldDateTime, ReadOnly: true},
				{Name: "notes", Type: FieldText},
			},
			SearchFields:    []string{"first_name", "last_name", "email", "company_name"},
			OrderingFields:  []string{"last_name", "score", "status", "created_at", "updated_at"},
			DefaultOrdering: "-created_at",
		},
		&EntityDefinition{
			Name:        constants.EntityOpportunities,
			Label:       "Opportunity",
			OwnerScoped: true,
			Fields: []*FieldDefinition{
				{Name: "name", Type: FieldString, Required: true},
				{Name: "company_id", Type: FieldRef, Ref: constants.EntityCompanies, OnDelete: Cascade},
				{Name: "contact_id", Type: FieldRef, Ref: constants.EntityContacts, OnDelete: SetNull},
				{Name: "amount", Type: FieldDecimal},
				{Name: "currency", Type: FieldString, MaxLength: 3, Default: "USD"},
				{Name: "stage", Type: FieldChoice, Choices: stages, Default: "prospecting"},
				{Name: "probability", Type: FieldInt, Min: int64p(0), Max: int64p(100), Default: int64(10)},
				{Name: "expected_close_date", Type: FieldDate},
				{Name: "closed_at", Type: FieldDateTime, ReadOnly: true},
				{Name: "description", Type: FieldText},
			},
			SearchFields:    []string{"name"},
			OrderingFields:  []string{"name", "amount", "probability", "expected_close_date", "created_at", "updated_at"},
			DefaultOrdering: "-created_at",
		},
		&EntityDefinition{
			Name:        constants.EntityTasks,
			Label:       "Task",
			OwnerScoped: true,
			Fields: []*FieldDefinition{
				{Name: "title", Type: FieldString, Required: true},
				{Name: "description", Type: FieldText},
				{Name: "status", Type: FieldChoice, Choices: taskStatuses, Default: "open"},
				{Name: "priority", Type: FieldChoice, Choices: priorities, Default: "medium"},
				{Name: "due_date", Type: FieldDate},
				{Name: "assigned_to", Type: FieldUser},
				{Name: "contact_id", Type: FieldRef, Ref: constants.EntityContacts, OnDelete: Cascade},
				{Name: "opportunity_id", Type: FieldRef, Ref: constants.EntityOpportunities, OnDelete: Cascade},
				{Name: "completed_at", Type: FieldDateTime, ReadOnly: true},
			},
			SearchFields:    []string{"title"},
			OrderingFields:  []string{"title", "due_date", "priority", "status", "created_at", "updated_at"},
			DefaultOrdering: "due_date",
		},
		&EntityDefinition{
			Name:        constants.EntityCampaigns,
			Label:       "Campaign",
			OwnerScoped: false,
			Fields: []*FieldDefinition{
				{Name: "name", Type: FieldString, Required: true},
				{Name: "kind", Type: FieldChoice, Choices: campaignKinds, Default: "email"},
				{Name: "status", Type: FieldChoice, Choices: campaignStates, Default: "planned"},
				{Name: "budget", Type: FieldDecimal},
				{Name: "start_date", Type: FieldDate},
				{Name: "end_date", Type: FieldDate},
				{Name: "description", Type: FieldText},
			},
			SearchFields:    []string{"name"},
			OrderingFields:  []string{"name", "budget", "start_date", "created_at", "updated_at"},
			DefaultOrdering: "-start_date",
		},
	)
}
