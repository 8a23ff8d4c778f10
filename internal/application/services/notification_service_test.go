package services

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/nexuscrm/mycrm/internal/domain/events"
	"github.com/nexuscrm/mycrm/internal/domain/models"
	"github.com/nexuscrm/mycrm/internal/infrastructure/persistence"
	"github.com/nexuscrm/mycrm/pkg/constants"
	appErrors "github.com/nexuscrm/mycrm/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingNotifier struct {
	sent map[string][]*models.Notification
}

func (n *recordingNotifier) Notify(userID string, msg *models.Notification) {
	if n.sent == nil {
		n.sent = make(map[string][]*models.Notification)
	}
	n.sent[userID] = append(n.sent[userID], msg)
}

func taskEvent(typ events.EventType, assignee string, old models.Record) *events.RecordEvent {
	return &events.RecordEvent{
		Type:       typ,
		Entity:     constants.EntityTasks,
		TenantID:   testTenant,
		RecordID:   "task-1",
		ActorID:    adminID,
		Record:     models.Record{"title": "Call back", "assigned_to": assignee, "due_date": "2024-05-10"},
		Old:        old,
		OccurredAt: fixedNow,
	}
}

func TestRulesTaskAssigned(t *testing.T) {
	out := rules(taskEvent(events.RecordCreated, repID, nil))
	require.Len(t, out, 1)
	n := out[0]
	assert.Equal(t, repID, n.RecipientID)
	assert.Equal(t, models.NotificationTaskAssigned, n.Kind)
	assert.Equal(t, "Task assigned: Call back", n.Title)
	assert.Contains(t, n.Body, "2024-05-10")
	assert.Equal(t, "/api/v1/tasks/task-1", n.Link)

	// Same event, same id.
	assert.Equal(t, n.ID, rules(taskEvent(events.RecordCreated, repID, nil))[0].ID)

	assert.Empty(t, rules(taskEvent(events.RecordUpdated, repID, models.Record{"assigned_to": repID})))
	assert.Empty(t, rules(taskEvent(events.RecordCreated, adminID, nil)), "self assignment")
}

func TestRulesOpportunityWon(t *testing.T) {
	e := &events.RecordEvent{
		Type:     events.RecordUpdated,
		Entity:   constants.EntityOpportunities,
		TenantID: testTenant,
		RecordID: "opp-1",
		ActorID:  adminID,
		Record:   models.Record{"name": "Big deal", "stage": "closed_won", "owner_id": repID, "amount": "5000.00", "currency": "EUR"},
		Old:      models.Record{"stage": "negotiation"},
	}
	out := rules(e)
	require.Len(t, out, 1)
	assert.Equal(t, models.NotificationOpportunityWon, out[0].Kind)
	assert.Equal(t, repID, out[0].RecipientID)
	assert.Contains(t, out[0].Body, "5000.00 EUR")

	e.Record["stage"] = "closed_lost"
	assert.Empty(t, rules(e))
}

func TestRulesLeadAssigned(t *testing.T) {
	e := &events.RecordEvent{
		Type:     events.RecordUpdated,
		Entity:   constants.EntityLeads,
		TenantID: testTenant,
		RecordID: "lead-1",
		ActorID:  adminID,
		Record:   models.Record{"first_name": "Ada", "last_name": "Lovelace", "owner_id": repID},
		Old:      models.Record{"owner_id": adminID},
	}
	out := rules(e)
	require.Len(t, out, 1)
	assert.Equal(t, "Lead assigned: Ada Lovelace", out[0].Title)

	e.Old["owner_id"] = repID
	assert.Empty(t, rules(e))
}

func TestHandleEventStoresAndPushes(t *testing.T) {
	db, mock := newMockDB(t)
	notifier := &recordingNotifier{}
	svc := NewNotificationService(persistence.NewNotificationRepository(db), notifier, zap.NewNop())

	mock.ExpectExec("INSERT INTO notifications (id, tenant_id, recipient_id, title, body, link, kind, is_read, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)").
		WithArgs(sqlmock.AnyArg(), testTenant, repID, "Task assigned: Call back", sqlmock.AnyArg(), "/api/v1/tasks/task-1",
			models.NotificationTaskAssigned, false, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, svc.HandleEvent(context.Background(), taskEvent(events.RecordCreated, repID, nil)))
	require.Len(t, notifier.sent[repID], 1)
	assert.Equal(t, models.NotificationTaskAssigned, notifier.sent[repID][0].Kind)
}

func TestMarkReadMissing(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewNotificationService(persistence.NewNotificationRepository(db), nil, zap.NewNop())

	mock.ExpectQuery("SELECT EXISTS(SELECT 1 FROM notifications WHERE tenant_id = ? AND recipient_id = ? AND id = ?)").
		WithArgs(testTenant, repID, "n1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	err := svc.MarkRead(context.Background(), repSession(), "n1")
	assert.True(t, appErrors.IsNotFound(err))
}
