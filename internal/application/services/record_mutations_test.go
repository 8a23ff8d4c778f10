package services

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/nexuscrm/mycrm/internal/domain/models"
	"github.com/nexuscrm/mycrm/pkg/constants"
	appErrors "github.com/nexuscrm/mycrm/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycleOpportunityStages(t *testing.T) {
	svc, _ := newRecordServiceForTest(t)
	def := definitionOf(t, constants.EntityOpportunities)

	changes := models.Record{"stage": "closed_won"}
	require.NoError(t, svc.lifecycle(def, models.Record{"stage": "proposal"}, changes, models.AuditUpdate))
	assert.Equal(t, fixedNow, changes["closed_at"])
	assert.Equal(t, int64(100), changes["probability"])

	changes = models.Record{"stage": "closed_lost"}
	require.NoError(t, svc.lifecycle(def, nil, changes, models.AuditCreate))
	assert.Equal(t, int64(0), changes["probability"])

	changes = models.Record{"stage": "negotiation"}
	require.NoError(t, svc.lifecycle(def, models.Record{"stage": "closed_won", "closed_at": fixedNow}, changes, models.AuditUpdate))
	assert.Contains(t, changes, "closed_at")
	assert.Nil(t, changes["closed_at"])

	changes = models.Record{"stage": "closed_won"}
	require.NoError(t, svc.lifecycle(def, models.Record{"stage": "closed_won"}, changes, models.AuditUpdate))
	assert.NotContains(t, changes, "closed_at", "staying closed keeps the close time")
}

func TestLifecycleTaskCompletion(t *testing.T) {
	svc, _ := newRecordServiceForTest(t)
	def := definitionOf(t, constants.EntityTasks)

	changes := models.Record{"status": "completed"}
	require.NoError(t, svc.lifecycle(def, models.Record{"status": "open"}, changes, models.AuditUpdate))
	assert.Equal(t, fixedNow, changes["completed_at"])

	changes = models.Record{"status": "open"}
	require.NoError(t, svc.lifecycle(def, models.Record{"status": "completed", "completed_at": fixedNow}, changes, models.AuditUpdate))
	assert.Nil(t, changes["completed_at"])
}

func TestLifecycleLeadConversionNeedsAction(t *testing.T) {
	svc, _ := newRecordServiceForTest(t)
	def := definitionOf(t, constants.EntityLeads)

	err := svc.lifecycle(def, models.Record{"status": "qualified"}, models.Record{"status": "converted"}, models.AuditUpdate)
	assert.True(t, appErrors.IsValidation(err))

	assert.NoError(t, svc.lifecycle(def, models.Record{"status": "qualified"}, models.Record{"status": "converted"}, models.AuditConvert))
	assert.NoError(t, svc.lifecycle(def, models.Record{"status": "converted"}, models.Record{"status": "converted"}, models.AuditUpdate))
}

func TestDeleteRestrictedByReference(t *testing.T) {
	svc, mock := newRecordServiceForTest(t)
	campaignID := "6ba7b810-9dad-11d1-80b4-00c04fd430c8"

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT `campaigns`.* FROM `campaigns` WHERE `campaigns`.`tenant_id` = ? AND `campaigns`.`id` = ? LIMIT 1 FOR UPDATE").
		WithArgs(testTenant, campaignID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "name"}).AddRow(campaignID, testTenant, "Spring"))
	mock.ExpectQuery("SELECT `leads`.* FROM `leads` WHERE `leads`.`tenant_id` = ? AND `leads`.`campaign_id` IN (?) FOR UPDATE").
		WithArgs(testTenant, campaignID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "campaign_id"}).
			AddRow("l1", testTenant, campaignID).
			AddRow("l2", testTenant, campaignID))
	mock.ExpectRollback()

	err := svc.Delete(context.Background(), adminSession(), constants.EntityCampaigns, campaignID)
	require.Error(t, err)
	assert.True(t, appErrors.IsConflict(err))
	assert.Equal(t, "cannot delete campaign: referenced by 2 leads through campaign_id", err.Error())
}

func TestDeleteMissingRecord(t *testing.T) {
	svc, mock := newRecordServiceForTest(t)
	id := "6ba7b811-9dad-11d1-80b4-00c04fd430c8"

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT `companies`.* FROM `companies` WHERE `companies`.`tenant_id` = ? AND `companies`.`owner_id` = ? AND `companies`.`id` = ? LIMIT 1 FOR UPDATE").
		WithArgs(testTenant, repID, id).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	err := svc.Delete(context.Background(), repSession(), constants.EntityCompanies, id)
	assert.True(t, appErrors.IsNotFound(err))
}

func TestDeleteReadOnlyForbidden(t *testing.T) {
	svc, _ := newRecordServiceForTest(t)
	err := svc.Delete(context.Background(), readOnlySession(), constants.EntityCompanies, repID)
	assert.True(t, appErrors.IsPermission(err))
}

func TestBulkCreateBatchSize(t *testing.T) {
	svc, _ := newRecordServiceForTest(t)

	_, err := svc.BulkCreate(context.Background(), adminSession(), constants.EntityTasks, nil)
	var verr *appErrors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"at least one item is required"}, verr.Fields[appErrors.NonFieldErrors])

	payloads := make([]map[string]interface{}, constants.MaxBulkItems+1)
	_, err = svc.BulkCreate(context.Background(), adminSession(), constants.EntityTasks, payloads)
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields[appErrors.NonFieldErrors][0], "at most")
}
