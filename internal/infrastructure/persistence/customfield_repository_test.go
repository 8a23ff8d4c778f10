package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/nexuscrm/mycrm/internal/domain/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCustomFieldLoadValuesBatches(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCustomFieldRepository(db)
	day := time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT `custom_field_values`.`entity_id`, `custom_field_values`.`value_text`, `custom_field_values`.`value_number`, " +
		"`custom_field_values`.`value_bool`, `custom_field_values`.`value_date`, `custom_field_values`.`value_json`, `d`.`field_key`, `d`.`field_type` " +
		"FROM `custom_field_values` INNER JOIN `custom_field_definitions` AS `d` ON `d`.`id` = `custom_field_values`.`definition_id` " +
		"WHERE `custom_field_values`.`tenant_id` = ? AND `custom_field_values`.`entity_type` = ? AND `custom_field_values`.`entity_id` IN (?, ?)").
		WithArgs("t1", "contacts", "c1", "c2").
		WillReturnRows(sqlmock.NewRows([]string{"entity_id", "value_text", "value_number", "value_bool", "value_date", "value_json", "field_key", "field_type"}).
			AddRow("c1", "gold", nil, nil, nil, nil, "tier", "text").
			AddRow("c1", nil, 4.5, nil, nil, nil, "nps", "number").
			AddRow("c2", nil, nil, nil, day, nil, "renewal", "date").
			AddRow("c2", nil, nil, nil, nil, []byte(`{"a":1}`), "extra", "json"))

	got, err := repo.LoadValues(context.Background(), "t1", "contacts", []string{"c1", "c2"})
	require.NoError(t, err)
	assert.Equal(t, "gold", got["c1"]["tier"].Interface())
	assert.Equal(t, 4.5, got["c1"]["nps"].Interface())
	assert.Equal(t, "2024-05-06", got["c2"]["renewal"].Interface())
	assert.Equal(t, models.KindJSON, got["c2"]["extra"].Kind)
}

func TestCustomFieldUpsertValues(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCustomFieldRepository(db)

	mock.ExpectExec("INSERT INTO `custom_field_values` (`id`, `tenant_id`, `definition_id`, `entity_type`, `entity_id`, " +
		"`value_text`, `value_number`, `value_bool`, `value_date`, `value_json`, `updated_at`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) " +
		"ON DUPLICATE KEY UPDATE `value_text` = VALUES(`value_text`), `value_number` = VALUES(`value_number`), " +
		"`value_bool` = VALUES(`value_bool`), `value_date` = VALUES(`value_date`), `value_json` = VALUES(`value_json`), " +
		"`updated_at` = VALUES(`updated_at`)").
		WithArgs(sqlmock.AnyArg(), "t1", "d1", "contacts", "c1", nil, nil, true, nil, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpsertValues(context.Background(), "t1", []models.CustomFieldValue{{
		DefinitionID: "d1",
		Ref:          models.EntityRef{Type: "contacts", ID: "c1"},
		Value:        models.BoolValue(true),
	}})
	require.NoError(t, err)
}

func TestCustomFieldUpsertRejectsBrokenValue(t *testing.T) {
	db, _ := newMockDB(t)
	err := NewCustomFieldRepository(db).UpsertValues(context.Background(), "t1", []models.CustomFieldValue{{
		DefinitionID: "d1",
		Ref:          models.EntityRef{Type: "contacts", ID: "c1"},
		Value:        models.Value{Kind: models.KindText},
	}})
	assert.ErrorIs(t, err, models.ErrInvalidValue)
}
