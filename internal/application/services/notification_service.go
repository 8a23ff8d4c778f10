package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nexuscrm/mycrm/internal/domain/entity"
	"github.com/nexuscrm/mycrm/internal/domain/events"
	"github.com/nexuscrm/mycrm/internal/domain/models"
	"github.com/nexuscrm/mycrm/internal/domain/ports"
	"github.com/nexuscrm/mycrm/internal/infrastructure/persistence"
	"github.com/nexuscrm/mycrm/pkg/auth"
	"github.com/nexuscrm/mycrm/pkg/constants"
	appErrors "github.com/nexuscrm/mycrm/pkg/errors"
	"github.com/nexuscrm/mycrm/pkg/pagination"
	"github.com/nexuscrm/mycrm/pkg/utils"
	"go.uber.org/zap"
)

// NotificationService stores user notifications, derives them from record
// events and pushes new ones to live connections.
type NotificationService struct {
	repo     *persistence.NotificationRepository
	notifier ports.Notifier
	logger   *zap.Logger
	now      func() time.Time
}

func NewNotificationService(repo *persistence.NotificationRepository, notifier ports.Notifier, logger *zap.Logger) *NotificationService {
	return &NotificationService{
		repo:     repo,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Subscribe registers the notification rules on the bus and returns a
// function removing them.
func (s *NotificationService) Subscribe(bus ports.EventPublisher) func() {
	unsubCreated := bus.Subscribe(events.RecordCreated, s.HandleEvent)
	unsubUpdated := bus.Subscribe(events.RecordUpdated, s.HandleEvent)
	return func() {
		unsubCreated()
		unsubUpdated()
	}
}

func recordLink(entityName, id string) string {
	return fmt.Sprintf("%s/%s/%s", constants.APIPrefix, entityName, id)
}

// notificationID is derived from the event so that a redelivered event
// does not notify twice.
func notificationID(e *events.RecordEvent, kind, recipient string) string {
	name := strings.Join([]string{e.TenantID, string(e.Type), e.Entity, e.RecordID,
		e.OccurredAt.UTC().Format(time.RFC3339Nano), kind, recipient}, "|")
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

// rules derives the notifications of one event. Nobody is notified about
// their own change.
func rules(e *events.RecordEvent) []*models.Notification {
	var out []*models.Notification
	add := func(recipient, kind, title, body string) {
		if recipient == "" || recipient == e.ActorID {
			return
		}
		out = append(out, &models.Notification{
			ID:          notificationID(e, kind, recipient),
			TenantID:    e.TenantID,
			RecipientID: recipient,
			Kind:        kind,
			Title:       title,
			Body:        body,
			Link:        recordLink(e.Entity, e.RecordID),
		})
	}

	switch e.Entity {
	case constants.EntityTasks:
		if e.Changed("assigned_to") {
			title := e.Record.GetString("title")
			body := "You were assigned a task"
			if due := e.Record.GetString("due_date"); due != "" {
				body += " due " + due
			}
			add(e.Record.GetString("assigned_to"), models.NotificationTaskAssigned, "Task assigned: "+title, body)
		}

	case constants.EntityOpportunities:
		if e.Type == events.RecordUpdated && e.Changed("stage") && e.Record.GetString("stage") == entity.StageClosedWon {
			name := e.Record.GetString("name")
			body := "The opportunity was closed won"
			if amount := e.Record.GetString("amount"); amount != "" {
				body += " for " + amount
				if cur := e.Record.GetString("currency"); cur != "" {
					body += " " + cur
				}
			}
			add(e.Record.GetString(constants.FieldOwnerID), models.NotificationOpportunityWon, "Opportunity won: "+name, body)
		}

	case constants.EntityLeads:
		if e.Changed(constants.FieldOwnerID) {
			name := strings.TrimSpace(e.Record.GetString("first_name") + " " + e.Record.GetString("last_name"))
			add(e.Record.GetString(constants.FieldOwnerID), models.NotificationLeadAssigned, "Lead assigned: "+name, "A lead was assigned to you")
		}
	}
	return out
}

// HandleEvent stores and pushes the notifications derived from e.
func (s *NotificationService) HandleEvent(ctx context.Context, e *events.RecordEvent) error {
	for _, n := range rules(e) {
		if err := s.Send(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

// Send stores n and pushes it to the recipient's live connections.
func (s *NotificationService) Send(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = utils.GenerateID()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now().UTC()
	}
	if err := s.repo.Insert(ctx, n); err != nil {
		if persistence.IsDuplicateEntry(err) {
			s.logger.Debug("Notification already sent", zap.String("notification_id", n.ID))
			return nil
		}
		return fmt.Errorf("failed to store notification: %w", err)
	}
	if s.notifier != nil {
		s.notifier.Notify(n.RecipientID, n)
	}
	s.logger.Debug("Notification sent",
		zap.String("recipient_id", n.RecipientID), zap.String("kind", n.Kind))
	return nil
}

// List returns one page of the caller's notifications.
func (s *NotificationService) List(ctx context.Context, user *auth.UserSession, unreadOnly bool, params pagination.Params) ([]*models.Notification, int, error) {
	return s.repo.List(ctx, user.TenantID, user.ID, unreadOnly, params.PageSize, params.Offset())
}

func (s *NotificationService) UnreadCount(ctx context.Context, user *auth.UserSession) (int, error) {
	return s.repo.UnreadCount(ctx, user.TenantID, user.ID)
}

func (s *NotificationService) MarkRead(ctx context.Context, user *auth.UserSession, id string) error {
	ok, err := s.repo.MarkRead(ctx, user.TenantID, user.ID, id)
	if err != nil {
		return err
	}
	if !ok {
		return appErrors.NewNotFoundError("Notification", id)
	}
	return nil
}

// MarkAllRead marks every unread notification of the caller read.
func (s *NotificationService) MarkAllRead(ctx context.Context, user *auth.UserSession) (int64, error) {
	return s.repo.MarkAllRead(ctx, user.TenantID, user.ID)
}
