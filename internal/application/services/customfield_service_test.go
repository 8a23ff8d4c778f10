package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/nexuscrm/mycrm/internal/domain/entity"
	"github.com/nexuscrm/mycrm/internal/domain/models"
	"github.com/nexuscrm/mycrm/internal/infrastructure/cache"
	"github.com/nexuscrm/mycrm/internal/infrastructure/persistence"
	"github.com/nexuscrm/mycrm/pkg/constants"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDeleteCustomFieldEvictsCachedRecords(t *testing.T) {
	db, mock := newMockDB(t)
	store := cache.NewMemoryCache()
	logger := zap.NewNop()
	svc := NewCustomFieldService(entity.NewCRMRegistry(), persistence.NewCustomFieldRepository(db), store, time.Minute, logger)
	ctx := context.Background()

	const defID = "3b241101-e2bb-4255-8caf-4136c566a962"
	loads := 0
	load := func(ctx context.Context) (models.Record, error) {
		loads++
		if loads == 1 {
			return models.Record{"id": "c1", "custom_fields": map[string]interface{}{"tier": "gold"}}, nil
		}
		return models.Record{"id": "c1", "custom_fields": map[string]interface{}{}}, nil
	}

	rec, err := cachedIn(ctx, store, logger, testTenant, constants.EntityContacts, "get:c1", time.Minute, load)
	require.NoError(t, err)
	assert.Equal(t, "gold", rec["custom_fields"].(map[string]interface{})["tier"])

	mock.ExpectQuery("SELECT id, tenant_id, entity, field_key, label, field_type, required, created_at FROM custom_field_definitions WHERE tenant_id = ? AND id = ? LIMIT 1").
		WithArgs(testTenant, defID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "entity", "field_key", "label", "field_type", "required", "created_at"}).
			AddRow(defID, testTenant, constants.EntityContacts, "tier", "Tier", "text", false, fixedNow))
	mock.ExpectExec("DELETE FROM custom_field_values WHERE tenant_id = ? AND definition_id = ?").
		WithArgs(testTenant, defID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM custom_field_definitions WHERE tenant_id = ? AND id = ?").
		WithArgs(testTenant, defID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, svc.Delete(ctx, adminSession(), defID))

	rec, err = cachedIn(ctx, store, logger, testTenant, constants.EntityContacts, "get:c1", time.Minute, load)
	require.NoError(t, err)
	assert.Equal(t, 2, loads)
	assert.Empty(t, rec["custom_fields"])
}
