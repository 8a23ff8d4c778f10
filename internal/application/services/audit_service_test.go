package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/nexuscrm/mycrm/internal/domain/models"
	"github.com/nexuscrm/mycrm/internal/infrastructure/persistence"
	"github.com/nexuscrm/mycrm/pkg/constants"
	appErrors "github.com/nexuscrm/mycrm/pkg/errors"
	"github.com/nexuscrm/mycrm/pkg/pagination"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDiffReportsChangedFieldsOnly(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	old := models.Record{
		"name":           "Acme",
		"employees":      int64(10),
		"annual_revenue": decimal.RequireFromString("1500.50"),
		"closed_at":      at,
		"is_partner":     true,
		"updated_at":     at,
	}
	next := models.Record{
		"name":           "Acme Corp",
		"employees":      int64(10),
		"annual_revenue": decimal.RequireFromString("1500.5"),
		"closed_at":      at.In(time.FixedZone("CET", 3600)),
		"is_partner":     false,
		"updated_at":     at.Add(time.Hour),
	}

	changes := Diff(old, next)
	assert.Len(t, changes, 2)
	assert.Equal(t, models.FieldChange{Old: "Acme", New: "Acme Corp"}, changes["name"])
	assert.Equal(t, models.FieldChange{Old: true, New: false}, changes["is_partner"])
}

func TestDiffAgainstNothing(t *testing.T) {
	changes := Diff(nil, models.Record{"name": "Acme", "phone": nil})
	require.Len(t, changes, 1)
	assert.Nil(t, changes["name"].Old)
	assert.Equal(t, "Acme", changes["name"].New)

	changes = Diff(models.Record{"phone": "123"}, models.Record{"phone": nil})
	assert.Equal(t, models.FieldChange{Old: "123", New: nil}, changes["phone"])
}

func TestAuditEntryCarriesRequestMeta(t *testing.T) {
	svc := NewAuditService(nil, zap.NewNop())
	svc.now = func() time.Time { return fixedNow }
	ctx := models.WithRequestMeta(context.Background(), models.RequestMeta{
		RequestID: "req-1", IPAddress: "10.0.0.1", UserAgent: "curl/8",
	})

	entry := svc.Entry(ctx, repSession(), models.AuditUpdate, models.EntityRef{Type: "leads", ID: "l1"}, nil)
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, testTenant, entry.TenantID)
	assert.Equal(t, repID, entry.ActorID)
	assert.Equal(t, "req-1", entry.RequestID)
	assert.Equal(t, "10.0.0.1", entry.IPAddress)
	assert.Equal(t, "curl/8", entry.UserAgent)
	assert.Equal(t, fixedNow, entry.CreatedAt)
}

func TestAuditListNeedsTenantWideRole(t *testing.T) {
	svc := NewAuditService(nil, zap.NewNop())
	_, _, err := svc.List(context.Background(), repSession(), models.AuditFilter{}, pagination.Params{Page: 1, PageSize: 25})
	assert.True(t, appErrors.IsPermission(err))
}

func TestAuditListQueriesTenant(t *testing.T) {
	db, mock := newMockDB(t)
	svc := NewAuditService(persistence.NewAuditRepository(db), zap.NewNop())

	mock.ExpectQuery("SELECT COUNT(*) FROM `audit_entries` WHERE `audit_entries`.`tenant_id` = ? AND `audit_entries`.`action` = ?").
		WithArgs(testTenant, models.AuditDelete).
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(0))
	cols := make([]string, 0, 11)
	for _, c := range []string{"id", "tenant_id", "entity_type", "entity_id", "action", "actor_id",
		"changes", "ip_address", "user_agent", "request_id", "created_at"} {
		cols = append(cols, "`audit_entries`.`"+c+"`")
	}
	mock.ExpectQuery("SELECT " + strings.Join(cols, ", ") + " FROM `audit_entries` WHERE `audit_entries`.`tenant_id` = ? AND `audit_entries`.`action` = ? " +
		"ORDER BY `audit_entries`.`created_at` DESC, `audit_entries`.`id` ASC LIMIT 25 OFFSET 0").
		WithArgs(testTenant, models.AuditDelete).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	entries, total, err := svc.List(context.Background(), adminSession(), models.AuditFilter{Action: models.AuditDelete},
		pagination.Params{Page: 1, PageSize: constants.DefaultPageSize})
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Empty(t, entries)
}
