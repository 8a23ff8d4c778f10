package services

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/nexuscrm/mycrm/internal/domain/entity"
	"github.com/nexuscrm/mycrm/internal/infrastructure/database"
	"github.com/nexuscrm/mycrm/internal/infrastructure/persistence"
	"github.com/nexuscrm/mycrm/pkg/constants"
	appErrors "github.com/nexuscrm/mycrm/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newAnalyticsForTest(t *testing.T) (*AnalyticsService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMockDB(t)
	registry := entity.NewCRMRegistry()
	svc := NewAnalyticsService(registry, persistence.NewQueryRepository(db), NewPermissionService(registry), nil, time.Minute, zap.NewNop())
	return svc, mock
}

func TestCheckAggregate(t *testing.T) {
	opps := definitionOf(t, constants.EntityOpportunities)

	req := AggregateRequest{Entity: constants.EntityOpportunities, Field: "amount"}
	require.NoError(t, checkAggregate(opps, &req))
	assert.Equal(t, MetricCount, req.Metric)
	assert.Empty(t, req.Field, "count ignores the field")
	assert.Equal(t, maxAggregateGroups, req.Limit)

	req = AggregateRequest{Metric: MetricMax, Field: "expected_close_date", GroupBy: "stage", Limit: 5}
	require.NoError(t, checkAggregate(opps, &req))
	assert.Equal(t, 5, req.Limit)

	req = AggregateRequest{Metric: MetricSum, Field: "name", GroupBy: "description"}
	err := checkAggregate(opps, &req)
	var verr *appErrors.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "field")
	assert.Contains(t, verr.Fields, "group_by")

	req = AggregateRequest{Metric: "median"}
	require.ErrorAs(t, checkAggregate(opps, &req), &verr)
	assert.Contains(t, verr.Fields, "metric")
}

func TestAggregateGroupedCount(t *testing.T) {
	svc, mock := newAnalyticsForTest(t)

	mock.ExpectQuery("SELECT COUNT(*) AS `value`, `opportunities`.`stage` AS `grp` FROM `opportunities` " +
		"WHERE `opportunities`.`tenant_id` = ? AND `opportunities`.`owner_id` = ? " +
		"GROUP BY `opportunities`.`stage` ORDER BY `value` DESC LIMIT 500").
		WithArgs(testTenant, repID).
		WillReturnRows(sqlmock.NewRows([]string{"value", "grp"}).
			AddRow(int64(3), "proposal").
			AddRow(int64(1), "closed_won"))

	res, err := svc.Aggregate(context.Background(), repSession(), AggregateRequest{
		Entity: constants.EntityOpportunities, GroupBy: "stage",
	})
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "proposal", res.Rows[0].Group)
	assert.Equal(t, int64(3), res.Rows[0].Value)
}

func TestAggregateSumWithFilter(t *testing.T) {
	svc, mock := newAnalyticsForTest(t)

	mock.ExpectQuery("SELECT SUM(`opportunities`.`amount`) AS `value` FROM `opportunities` " +
		"WHERE `opportunities`.`tenant_id` = ? AND ((`opportunities`.`stage` = ?))").
		WithArgs(testTenant, "proposal").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow("1250.505"))

	res, err := svc.Aggregate(context.Background(), adminSession(), AggregateRequest{
		Entity: constants.EntityOpportunities, Metric: MetricSum, Field: "amount", Filter: `stage == "proposal"`,
	})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Nil(t, res.Rows[0].Group)
	assert.True(t, decimal.RequireFromString("1250.51").Equal(res.Rows[0].Value.(decimal.Decimal)))
}

func TestAggregateUnknownEntity(t *testing.T) {
	svc, _ := newAnalyticsForTest(t)
	_, err := svc.Aggregate(context.Background(), adminSession(), AggregateRequest{Entity: "widgets"})
	assert.True(t, appErrors.IsNotFound(err))
}

func TestPipelineSummaryListsEveryStage(t *testing.T) {
	svc, mock := newAnalyticsForTest(t)

	mock.ExpectQuery("SELECT `opportunities`.`stage` AS `stage`, COUNT(*) AS `cnt`, " +
		"COALESCE(SUM(`opportunities`.`amount`), 0) AS `amount`, " +
		"COALESCE(SUM(`opportunities`.`amount` * `opportunities`.`probability` / 100), 0) AS `weighted` " +
		"FROM `opportunities` WHERE `opportunities`.`tenant_id` = ? GROUP BY `opportunities`.`stage`").
		WithArgs(testTenant).
		WillReturnRows(sqlmock.NewRows([]string{"stage", "cnt", "amount", "weighted"}).
			AddRow("proposal", int64(2), "1000.00", "500.00").
			AddRow("closed_won", int64(1), "300.00", "300.00"))

	res, err := svc.PipelineSummary(context.Background(), adminSession())
	require.NoError(t, err)
	require.Len(t, res.Stages, 6)
	assert.Equal(t, "prospecting", res.Stages[0].Stage)
	assert.Zero(t, res.Stages[0].Count)
	assert.Equal(t, int64(3), res.TotalCount)
	assert.Equal(t, "1300", res.TotalAmount.String())
	assert.Equal(t, "800", res.TotalWeighted.String())
}

func TestLeadConversion(t *testing.T) {
	svc, mock := newAnalyticsForTest(t)

	mock.ExpectQuery("SELECT COALESCE(`leads`.`source`, 'unknown') AS `source`, COUNT(*) AS `total`, " +
		"SUM(CASE WHEN `leads`.`status` = 'converted' THEN 1 ELSE 0 END) AS `converted` " +
		"FROM `leads` WHERE `leads`.`tenant_id` = ? GROUP BY `leads`.`source` ORDER BY `total` DESC").
		WithArgs(testTenant).
		WillReturnRows(sqlmock.NewRows([]string{"source", "total", "converted"}).
			AddRow("web", int64(3), "1").
			AddRow("unknown", int64(1), "0"))

	res, err := svc.LeadConversion(context.Background(), readOnlySession())
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.Total)
	assert.Equal(t, int64(1), res.Converted)
	assert.Equal(t, 0.25, res.Rate)
	assert.Equal(t, 0.3333, res.BySource[0].Rate)
}

func TestRunSQLRequiresAdmin(t *testing.T) {
	svc, _ := newAnalyticsForTest(t)
	_, err := svc.RunSQL(context.Background(), repSession(), "SELECT id FROM leads")
	assert.True(t, appErrors.IsPermission(err))
}

func TestRunSQLTruncates(t *testing.T) {
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer sqlDB.Close()
	registry := entity.NewCRMRegistry()
	svc := NewAnalyticsService(registry, persistence.NewQueryRepository(database.New(sqlDB)), NewPermissionService(registry), nil, time.Minute, zap.NewNop())

	rows := sqlmock.NewRows([]string{"id"})
	for i := 0; i <= constants.MaxSQLRows; i++ {
		rows.AddRow("x")
	}
	mock.ExpectQuery("^SELECT `id` FROM `leads` WHERE .*`leads`.`tenant_id`.*" + testTenant + ".*IS NULL.*LIMIT 1001$").
		WillReturnRows(rows)

	res, err := svc.RunSQL(context.Background(), adminSession(), "SELECT id FROM leads")
	require.NoError(t, err)
	assert.True(t, res.Truncated)
	assert.Equal(t, constants.MaxSQLRows, res.Count)
	assert.Len(t, res.Rows, constants.MaxSQLRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}
