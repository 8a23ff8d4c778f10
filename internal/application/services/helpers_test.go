package services

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/nexuscrm/mycrm/internal/domain/entity"
	"github.com/nexuscrm/mycrm/internal/infrastructure/database"
	"github.com/nexuscrm/mycrm/internal/infrastructure/persistence"
	"github.com/nexuscrm/mycrm/pkg/auth"
	"github.com/nexuscrm/mycrm/pkg/constants"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testTenant = "0f8fad5b-d9cb-469f-a165-70867728950e"
	adminID    = "7c9e6679-7425-40de-944b-e07fc1f90ae7"
	repID      = "16fd2706-8baf-433b-82eb-8c7fada847da"
	otherRepID = "886313e1-3b8a-5372-9b90-0c9aee199e5d"
)

func session(id, role string) *auth.UserSession {
	return &auth.UserSession{ID: id, TenantID: testTenant, Name: role, Email: role + "@example.com", Role: role}
}

func adminSession() *auth.UserSession    { return session(adminID, constants.RoleAdmin) }
func repSession() *auth.UserSession      { return session(repID, constants.RoleSalesRep) }
func readOnlySession() *auth.UserSession { return session(otherRepID, constants.RoleReadOnly) }

func newMockDB(t *testing.T) (*database.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		_ = sqlDB.Close()
	})
	return database.New(sqlDB), mock
}

var fixedNow = time.Date(2024, 5, 6, 9, 30, 0, 0, time.UTC)

// newRecordServiceForTest wires a RecordService on a mock database without
// a cache.
func newRecordServiceForTest(t *testing.T) (*RecordService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMockDB(t)
	registry := entity.NewCRMRegistry()
	logger := zap.NewNop()
	tx := persistence.NewTransactionManager(db, logger)
	audit := NewAuditService(persistence.NewAuditRepository(db), logger)
	audit.now = func() time.Time { return fixedNow }

	svc := NewRecordService(RecordServiceDeps{
		Registry:     registry,
		Records:      persistence.NewRecordRepository(db),
		Users:        persistence.NewUserRepository(db),
		CustomFields: NewCustomFieldService(registry, persistence.NewCustomFieldRepository(db), nil, time.Minute, logger),
		Audit:        audit,
		Outbox:       NewOutboxService(persistence.NewOutboxRepository(db), NewEventBus(logger), tx, 10, logger),
		Permissions:  NewPermissionService(registry),
		TxManager:    tx,
		Logger:       logger,
	})
	svc.now = func() time.Time { return fixedNow }
	return svc, mock
}

func definitionOf(t *testing.T, name string) *entity.EntityDefinition {
	t.Helper()
	def, ok := entity.NewCRMRegistry().Get(name)
	require.True(t, ok)
	return def
}
