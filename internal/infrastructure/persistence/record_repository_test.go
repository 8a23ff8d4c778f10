package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/nexuscrm/mycrm/internal/domain/entity"
	"github.com/nexuscrm/mycrm/internal/domain/models"
	"github.com/nexuscrm/mycrm/pkg/constants"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func companies(t *testing.T) *entity.EntityDefinition {
	t.Helper()
	def, ok := entity.NewCRMRegistry().Get(constants.EntityCompanies)
	require.True(t, ok)
	return def
}

func TestRecordRepositoryList(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRecordRepository(db)
	def := companies(t)
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT COUNT(*) FROM `companies` WHERE `companies`.`tenant_id` = ? AND `companies`.`owner_id` = ? AND (`companies`.`industry` = ?)").
		WithArgs("t1", "u1", "finance").
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(30))
	mock.ExpectQuery("SELECT `companies`.* FROM `companies` WHERE `companies`.`tenant_id` = ? AND `companies`.`owner_id` = ? AND (`companies`.`industry` = ?) ORDER BY `companies`.`name` DESC, `companies`.`id` ASC LIMIT 25 OFFSET 25").
		WithArgs("t1", "u1", "finance").
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "name", "employees", "annual_revenue", "created_at"}).
			AddRow("c1", "t1", "Acme", int64(12), []byte("1500.50"), created))

	records, total, err := repo.List(context.Background(), def, Scope{TenantID: "t1", OwnerID: "u1"}, ListOptions{
		Conditions: []Condition{{SQL: "`companies`.`industry` = ?", Args: []interface{}{"finance"}}},
		Ordering:   []Order{{Field: "name", Desc: true}},
		Limit:      25,
		Offset:     25,
	})
	require.NoError(t, err)
	assert.Equal(t, 30, total)
	require.Len(t, records, 1)
	assert.Equal(t, "Acme", records[0]["name"])
	assert.Equal(t, int64(12), records[0]["employees"])
	assert.True(t, decimal.RequireFromString("1500.50").Equal(records[0]["annual_revenue"].(decimal.Decimal)))
	assert.Equal(t, created, records[0]["created_at"])
}

func TestRecordRepositoryListSkipsSelectPastTheEnd(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRecordRepository(db)

	mock.ExpectQuery("SELECT COUNT(*) FROM `companies` WHERE `companies`.`tenant_id` = ?").
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(3))

	records, total, err := repo.List(context.Background(), companies(t), Scope{TenantID: "t1"}, ListOptions{Limit: 25, Offset: 50})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Empty(t, records)
}

func TestRecordRepositoryFindMissing(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRecordRepository(db)

	mock.ExpectQuery("SELECT `companies`.* FROM `companies` WHERE `companies`.`tenant_id` = ? AND `companies`.`id` = ? LIMIT 1").
		WithArgs("t1", "nope").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	rec, err := repo.Find(context.Background(), companies(t), Scope{TenantID: "t1"}, "nope")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRecordRepositoryFindForUpdateNeedsTransaction(t *testing.T) {
	db, _ := newMockDB(t)
	repo := NewRecordRepository(db)

	_, err := repo.FindForUpdate(context.Background(), companies(t), Scope{TenantID: "t1"}, "c1")
	assert.Error(t, err)
}

func TestRecordRepositoryFetchByIDs(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRecordRepository(db)

	mock.ExpectQuery("SELECT `companies`.* FROM `companies` WHERE `companies`.`tenant_id` = ? AND `companies`.`id` IN (?, ?)").
		WithArgs("t1", "c1", "c2").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow("c1", "Acme").AddRow("c2", "Globex"))

	got, err := repo.FetchByIDs(context.Background(), companies(t), Scope{TenantID: "t1"}, []string{"c1", "c2"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, "Globex", got["c2"]["name"])

	empty, err := repo.FetchByIDs(context.Background(), companies(t), Scope{TenantID: "t1"}, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRecordRepositoryBulkInsertBatches(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRecordRepository(db)
	columns := []string{"id", "tenant_id", "name"}
	records := []models.Record{
		{"id": "a", "tenant_id": "t1", "name": "A"},
		{"id": "b", "tenant_id": "t1", "name": "B"},
		{"id": "c", "tenant_id": "t1", "name": "C"},
	}

	mock.ExpectExec("INSERT INTO `companies` (`id`, `tenant_id`, `name`) VALUES (?, ?, ?), (?, ?, ?)").
		WithArgs("a", "t1", "A", "b", "t1", "B").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO `companies` (`id`, `tenant_id`, `name`) VALUES (?, ?, ?)").
		WithArgs("c", "t1", "C").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.BulkInsert(context.Background(), companies(t), columns, records, 2))
}

func TestRecordRepositoryUpdateIsScoped(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRecordRepository(db)

	mock.ExpectExec("UPDATE `companies` SET `industry` = ?, `updated_at` = ? WHERE `companies`.`tenant_id` = ? AND `companies`.`owner_id` = ? AND `companies`.`id` IN (?)").
		WithArgs("retail", sqlmock.AnyArg(), "t1", "u1", "c1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := repo.Update(context.Background(), companies(t), Scope{TenantID: "t1", OwnerID: "u1"},
		models.Record{"industry": "retail", "updated_at": time.Now()}, "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRecordRepositoryDelete(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRecordRepository(db)

	mock.ExpectExec("DELETE FROM `companies` WHERE `companies`.`tenant_id` = ? AND `companies`.`id` IN (?, ?)").
		WithArgs("t1", "c1", "c2").
		WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := repo.Delete(context.Background(), companies(t), Scope{TenantID: "t1"}, "c1", "c2")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
