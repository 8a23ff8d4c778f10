package services

import (
	"context"
	"strings"

	"github.com/nexuscrm/mycrm/internal/domain/entity"
	"github.com/nexuscrm/mycrm/internal/domain/models"
	"github.com/nexuscrm/mycrm/pkg/auth"
	"github.com/nexuscrm/mycrm/pkg/constants"
	appErrors "github.com/nexuscrm/mycrm/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ConvertLeadRequest selects what a lead conversion creates besides the contact.
type ConvertLeadRequest struct {
	CreateOpportunity bool             `json:"create_opportunity"`
	OpportunityName   string           `json:"opportunity_name"`
	Amount            *decimal.Decimal `json:"amount"`
}

// ConvertLeadResult holds the converted lead and the records created for it.
type ConvertLeadResult struct {
	Lead        models.Record `json:"lead"`
	Contact     models.Record `json:"contact"`
	Company     models.Record `json:"company,omitempty"`
	Opportunity models.Record `json:"opportunity,omitempty"`
}

// ConvertLead turns a lead into a contact, a company when the lead names
// one, and optionally an opportunity. The new records belong to the lead's
// owner.
func (s *RecordService) ConvertLead(ctx context.Context, user *auth.UserSession, id string, req ConvertLeadRequest) (*ConvertLeadResult, error) {
	leads, scope, err := s.access(user, constants.EntityLeads, constants.PermissionUpdate)
	if err != nil {
		return nil, err
	}
	targets := []string{constants.EntityContacts, constants.EntityCompanies}
	if req.CreateOpportunity {
		targets = append(targets, constants.EntityOpportunities)
	}
	defs := make(map[string]*entity.EntityDefinition, len(targets))
	for _, name := range targets {
		def, err := s.definition(name)
		if err != nil {
			return nil, err
		}
		if err := s.permissions.Require(user, def, constants.PermissionCreate); err != nil {
			return nil, err
		}
		defs[name] = def
	}
	if req.Amount != nil && req.Amount.IsNegative() {
		return nil, appErrors.NewValidationError("amount", "must not be negative")
	}

	result := &ConvertLeadResult{}
	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		lead, err := s.load(txCtx, leads, scope, id)
		if err != nil {
			return err
		}
		if lead.GetString("status") == entity.LeadStatusConverted {
			return appErrors.NewUnprocessableError("lead %s is already converted", id)
		}
		owner := lead.GetString(constants.FieldOwnerID)

		companyName := strings.TrimSpace(lead.GetString("company_name"))
		if companyName != "" {
			result.Company = s.newRecord(user, models.Record{
				"name":                 companyName,
				constants.FieldOwnerID: owner,
			})
			if err := s.insert(txCtx, user, defs[constants.EntityCompanies], result.Company, nil); err != nil {
				return err
			}
		}

		contact := models.Record{
			"first_name":           lead.GetString("first_name"),
			"last_name":            lead.GetString("last_name"),
			"status":               "active",
			constants.FieldOwnerID: owner,
		}
		if contact["first_name"] == "" {
			contact["first_name"] = contact["last_name"]
		}
		for _, f := range []string{"email", "phone", "title"} {
			if v := lead.GetString(f); v != "" {
				contact[f] = v
			}
		}
		if src := lead.GetString("source"); src != "" {
			contact["lead_source"] = src
		}
		if result.Company != nil {
			contact["company_id"] = result.Company.ID()
		}
		result.Contact = s.newRecord(user, contact)
		if err := s.insert(txCtx, user, defs[constants.EntityContacts], result.Contact, nil); err != nil {
			return err
		}

		if req.CreateOpportunity {
			name := strings.TrimSpace(req.OpportunityName)
			if name == "" {
				name = opportunityName(lead, companyName)
			}
			opp := models.Record{
				"name":                 name,
				"contact_id":           result.Contact.ID(),
				"stage":                "prospecting",
				"probability":          int64(10),
				"currency":             "USD",
				constants.FieldOwnerID: owner,
			}
			if req.Amount != nil {
				opp["amount"] = req.Amount.Round(maxDecimalPlaces)
			}
			if result.Company != nil {
				opp["company_id"] = result.Company.ID()
			}
			result.Opportunity = s.newRecord(user, opp)
			if err := s.insert(txCtx, user, defs[constants.EntityOpportunities], result.Opportunity, nil); err != nil {
				return err
			}
		}

		result.Lead, err = s.apply(txCtx, user, leads, scope, lead, models.Record{
			"status":               entity.LeadStatusConverted,
			"converted_contact_id": result.Contact.ID(),
			"converted_at":         s.now().UTC(),
		}, nil, models.AuditConvert)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, user.TenantID, append(targets, leads.Name)...)

	s.logger.Info("Lead converted",
		zap.String("tenant_id", user.TenantID),
		zap.String("lead_id", id),
		zap.String("contact_id", result.Contact.ID()),
		zap.Bool("opportunity", result.Opportunity != nil))
	return result, nil
}

func opportunityName(lead models.Record, company string) string {
	if company != "" {
		return company + " opportunity"
	}
	name := strings.TrimSpace(lead.GetString("first_name") + " " + lead.GetString("last_name"))
	return name + " opportunity"
}

// transition runs change against a locked, visible record and writes the
// result under action.
func (s *RecordService) transition(ctx context.Context, user *auth.UserSession, entityName, id, action string, change func(old models.Record) (models.Record, error)) (models.Record, error) {
	def, scope, err := s.access(user, entityName, constants.PermissionUpdate)
	if err != nil {
		return nil, err
	}
	var result models.Record
	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		old, err := s.load(txCtx, def, scope, id)
		if err != nil {
			return err
		}
		changes, err := change(old)
		if err != nil {
			return err
		}
		result, err = s.apply(txCtx, user, def, scope, old, changes, nil, action)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, user.TenantID, def.Name)
	return result, nil
}

// CloseOpportunity moves an open opportunity to closed_won or closed_lost.
func (s *RecordService) CloseOpportunity(ctx context.Context, user *auth.UserSession, id string, won bool) (models.Record, error) {
	stage := entity.StageClosedLost
	if won {
		stage = entity.StageClosedWon
	}
	return s.transition(ctx, user, constants.EntityOpportunities, id, models.AuditUpdate, func(old models.Record) (models.Record, error) {
		switch old.GetString("stage") {
		case entity.StageClosedWon, entity.StageClosedLost:
			return nil, appErrors.NewUnprocessableError("opportunity %s is already closed", id)
		}
		return models.Record{"stage": stage}, nil
	})
}

// CompleteTask marks a task completed. Completing a completed task is a no-op.
func (s *RecordService) CompleteTask(ctx context.Context, user *auth.UserSession, id string) (models.Record, error) {
	return s.transition(ctx, user, constants.EntityTasks, id, models.AuditUpdate, func(old models.Record) (models.Record, error) {
		if old.GetString("status") == entity.TaskStatusCancelled {
			return nil, appErrors.NewUnprocessableError("task %s is cancelled", id)
		}
		return models.Record{"status": entity.TaskStatusCompleted}, nil
	})
}
