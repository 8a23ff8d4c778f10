package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nexuscrm/mycrm/internal/domain/entity"
	"github.com/nexuscrm/mycrm/internal/domain/models"
	"github.com/nexuscrm/mycrm/internal/infrastructure/cache"
	"github.com/nexuscrm/mycrm/internal/infrastructure/persistence"
	"github.com/nexuscrm/mycrm/pkg/auth"
	"github.com/nexuscrm/mycrm/pkg/constants"
	appErrors "github.com/nexuscrm/mycrm/pkg/errors"
	"github.com/nexuscrm/mycrm/pkg/expression"
	"github.com/nexuscrm/mycrm/pkg/query"
	"github.com/nexuscrm/mycrm/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Aggregate metrics
const (
	MetricCount = "count"
	MetricSum   = "sum"
	MetricAvg   = "avg"
	MetricMin   = "min"
	MetricMax   = "max"
)

const maxAggregateGroups = 500

// AggregateRequest describes one grouped metric over an entity.
type AggregateRequest struct {
	Entity  string `json:"entity"`
	Metric  string `json:"metric"`
	Field   string `json:"field,omitempty"`
	GroupBy string `json:"group_by,omitempty"`
	Filter  string `json:"filter,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

// AggregateRow is one group of an aggregate. Group is nil without group_by.
type AggregateRow struct {
	Group interface{} `json:"group"`
	Value interface{} `json:"value"`
}

type AggregateResult struct {
	Entity  string         `json:"entity"`
	Metric  string         `json:"metric"`
	Field   string         `json:"field,omitempty"`
	GroupBy string         `json:"group_by,omitempty"`
	Rows    []AggregateRow `json:"rows"`
}

// PipelineStage summarizes the opportunities of one stage.
type PipelineStage struct {
	Stage    string          `json:"stage"`
	Count    int64           `json:"count"`
	Amount   decimal.Decimal `json:"amount"`
	Weighted decimal.Decimal `json:"weighted_amount"`
}

type PipelineSummary struct {
	Stages        []PipelineStage `json:"stages"`
	TotalCount    int64           `json:"total_count"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	TotalWeighted decimal.Decimal `json:"total_weighted_amount"`
}

type LeadSourceStat struct {
	Source    string  `json:"source"`
	Total     int64   `json:"total"`
	Converted int64   `json:"converted"`
	Rate      float64 `json:"rate"`
}

type LeadConversionReport struct {
	Total     int64            `json:"total"`
	Converted int64            `json:"converted"`
	Rate      float64          `json:"rate"`
	BySource  []LeadSourceStat `json:"by_source"`
}

type TaskOwnerStat struct {
	OwnerID   string `json:"owner_id"`
	Open      int64  `json:"open"`
	Completed int64  `json:"completed"`
	Overdue   int64  `json:"overdue"`
}

type TaskCompletionReport struct {
	Open      int64           `json:"open"`
	Completed int64           `json:"completed"`
	Overdue   int64           `json:"overdue"`
	ByOwner   []TaskOwnerStat `json:"by_owner"`
}

// SQLResult is the outcome of an ad-hoc statement.
type SQLResult struct {
	SQL       string          `json:"sql"`
	Rows      []models.Record `json:"rows"`
	Count     int             `json:"count"`
	Truncated bool            `json:"truncated"`
}

// AnalyticsService runs tenant-scoped reports. Results are cached under the
// entity's namespace and dropped whenever the entity changes.
type AnalyticsService struct {
	registry    *entity.Registry
	queries     *persistence.QueryRepository
	permissions *PermissionService
	guard       *SQLGuard
	cache       cache.Cache
	cacheTTL    time.Duration
	logger      *zap.Logger
}

func NewAnalyticsService(registry *entity.Registry, queries *persistence.QueryRepository, permissions *PermissionService, c cache.Cache, cacheTTL time.Duration, logger *zap.Logger) *AnalyticsService {
	return &AnalyticsService{
		registry:    registry,
		queries:     queries,
		permissions: permissions,
		guard:       NewSQLGuard(registry),
		cache:       c,
		cacheTTL:    cacheTTL,
		logger:      logger,
	}
}

// readable resolves entityName and returns a builder scoped to what user
// may read.
func (s *AnalyticsService) readable(user *auth.UserSession, entityName string) (*entity.EntityDefinition, *query.Builder, string, error) {
	def, ok := s.registry.Get(entityName)
	if !ok {
		return nil, nil, "", appErrors.NewNotFoundError("entity", entityName)
	}
	if err := s.permissions.Require(user, def, constants.PermissionRead); err != nil {
		return nil, nil, "", err
	}
	scope := s.permissions.Scope(user, def)
	b := query.From(def.Table).TenantScope(user.TenantID)
	if scope.OwnerID != "" {
		b.WhereEq(constants.FieldOwnerID, scope.OwnerID)
	}
	return def, b, scopeKey(scope), nil
}

func numeric(f *entity.FieldDefinition) bool {
	return f.Type == entity.FieldInt || f.Type == entity.FieldDecimal
}

func orderable(f *entity.FieldDefinition) bool {
	return numeric(f) || f.Type == entity.FieldDate || f.Type == entity.FieldDateTime
}

func groupable(f *entity.FieldDefinition) bool {
	switch f.Type {
	case entity.FieldText, entity.FieldJSON, entity.FieldDecimal, entity.FieldDateTime:
		return false
	}
	return true
}

// checkAggregate validates req against def.
func checkAggregate(def *entity.EntityDefinition, req *AggregateRequest) error {
	verr := appErrors.NewFieldErrors("invalid aggregate")
	if req.Metric == "" {
		req.Metric = MetricCount
	}
	switch req.Metric {
	case MetricCount:
		req.Field = ""
	case MetricSum, MetricAvg, MetricMin, MetricMax:
		f, ok := def.Field(req.Field)
		switch {
		case req.Field == "":
			verr.Add("field", msgRequired)
		case !ok:
			verr.Add("field", fmt.Sprintf("%q is not a field of %s", req.Field, def.Name))
		case (req.Metric == MetricSum || req.Metric == MetricAvg) && !numeric(f):
			verr.Add("field", fmt.Sprintf("%s needs a numeric field", req.Metric))
		case !orderable(f):
			verr.Add("field", fmt.Sprintf("%s needs a numeric or date field", req.Metric))
		}
	default:
		verr.Add("metric", fmt.Sprintf("%q is not a valid choice", req.Metric))
	}
	if req.GroupBy != "" && req.GroupBy != constants.FieldOwnerID {
		f, ok := def.Field(req.GroupBy)
		if !ok {
			verr.Add("group_by", fmt.Sprintf("%q is not a field of %s", req.GroupBy, def.Name))
		} else if !groupable(f) {
			verr.Add("group_by", fmt.Sprintf("cannot group by %s", req.GroupBy))
		}
	}
	if req.Limit <= 0 || req.Limit > maxAggregateGroups {
		req.Limit = maxAggregateGroups
	}
	return verr.OrNil()
}

// Aggregate computes req.Metric over the caller's visible rows.
func (s *AnalyticsService) Aggregate(ctx context.Context, user *auth.UserSession, req AggregateRequest) (*AggregateResult, error) {
	def, b, scope, err := s.readable(user, req.Entity)
	if err != nil {
		return nil, err
	}
	if err := checkAggregate(def, &req); err != nil {
		return nil, err
	}
	if req.Filter != "" {
		cond, args, err := expression.ToSQL(req.Filter, columnResolver(def))
		if err != nil {
			return nil, appErrors.NewValidationError("filter", err.Error())
		}
		b.WhereRaw(cond, args)
	}

	rawKey, _ := json.Marshal(req)
	key := "aggregate:" + scope + ":" + string(rawKey)
	return cachedIn(ctx, s.cache, s.logger, user.TenantID, def.Name, key, s.cacheTTL,
		func(ctx context.Context) (*AggregateResult, error) {
			expr := "COUNT(*)"
			if req.Metric != MetricCount {
				expr = fmt.Sprintf("%s(%s)", map[string]string{
					MetricSum: "SUM", MetricAvg: "AVG", MetricMin: "MIN", MetricMax: "MAX",
				}[req.Metric], query.Col(def.Table, req.Field))
			}
			b.SelectRaw(expr, "value")
			if req.GroupBy != "" {
				b.SelectRaw(query.Col(def.Table, req.GroupBy), "grp").
					GroupBy(req.GroupBy).
					OrderBy(query.Ident("value"), query.DESC).
					Limit(req.Limit)
			}

			rows, err := s.queries.Aggregate(ctx, b)
			if err != nil {
				return nil, err
			}
			res := &AggregateResult{Entity: def.Name, Metric: req.Metric, Field: req.Field, GroupBy: req.GroupBy,
				Rows: make([]AggregateRow, 0, len(rows))}
			for _, r := range rows {
				res.Rows = append(res.Rows, AggregateRow{Group: r["grp"], Value: metricValue(def, req, r["value"])})
			}
			return res, nil
		})
}

func metricValue(def *entity.EntityDefinition, req AggregateRequest, raw interface{}) interface{} {
	if raw == nil {
		return nil
	}
	if req.Metric == MetricCount {
		n, _ := utils.ToInt64(raw)
		return n
	}
	if f, ok := def.Field(req.Field); ok && !numeric(f) {
		return utils.ToString(raw)
	}
	return toDecimal(raw).Round(maxDecimalPlaces)
}

func toDecimal(raw interface{}) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(utils.ToString(raw))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func toCount(raw interface{}) int64 {
	return toDecimal(raw).IntPart()
}

func ratio(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	r, _ := decimal.NewFromInt(part).Div(decimal.NewFromInt(total)).Round(4).Float64()
	return r
}

// PipelineSummary totals opportunities per stage. Every stage is listed,
// empty ones with zero values.
func (s *AnalyticsService) PipelineSummary(ctx context.Context, user *auth.UserSession) (*PipelineSummary, error) {
	def, b, scope, err := s.readable(user, constants.EntityOpportunities)
	if err != nil {
		return nil, err
	}
	return cachedIn(ctx, s.cache, s.logger, user.TenantID, def.Name, "pipeline:"+scope, s.cacheTTL,
		func(ctx context.Context) (*PipelineSummary, error) {
			amount := query.Col(def.Table, "amount")
			b.SelectRaw(query.Col(def.Table, "stage"), "stage").
				SelectRaw("COUNT(*)", "cnt").
				SelectRaw(fmt.Sprintf("COALESCE(SUM(%s), 0)", amount), "amount").
				SelectRaw(fmt.Sprintf("COALESCE(SUM(%s * %s / 100), 0)", amount, query.Col(def.Table, "probability")), "weighted").
				GroupBy("stage")
			rows, err := s.queries.Aggregate(ctx, b)
			if err != nil {
				return nil, err
			}
			byStage := make(map[string]models.Record, len(rows))
			for _, r := range rows {
				byStage[r.GetString("stage")] = r
			}

			stageField, _ := def.Field("stage")
			out := &PipelineSummary{Stages: make([]PipelineStage, 0, len(stageField.Choices))}
			for _, stage := range stageField.Choices {
				st := PipelineStage{Stage: stage, Amount: decimal.Zero, Weighted: decimal.Zero}
				if r, ok := byStage[stage]; ok {
					st.Count = toCount(r["cnt"])
					st.Amount = toDecimal(r["amount"]).Round(maxDecimalPlaces)
					st.Weighted = toDecimal(r["weighted"]).Round(maxDecimalPlaces)
				}
				out.Stages = append(out.Stages, st)
				out.TotalCount += st.Count
				out.TotalAmount = out.TotalAmount.Add(st.Amount)
				out.TotalWeighted = out.TotalWeighted.Add(st.Weighted)
			}
			return out, nil
		})
}

// LeadConversion reports how many leads were converted, per source.
func (s *AnalyticsService) LeadConversion(ctx context.Context, user *auth.UserSession) (*LeadConversionReport, error) {
	def, b, scope, err := s.readable(user, constants.EntityLeads)
	if err != nil {
		return nil, err
	}
	return cachedIn(ctx, s.cache, s.logger, user.TenantID, def.Name, "conversion:"+scope, s.cacheTTL,
		func(ctx context.Context) (*LeadConversionReport, error) {
			source := query.Col(def.Table, "source")
			b.SelectRaw(fmt.Sprintf("COALESCE(%s, 'unknown')", source), "source").
				SelectRaw("COUNT(*)", "total").
				SelectRaw(fmt.Sprintf("SUM(CASE WHEN %s = '%s' THEN 1 ELSE 0 END)", query.Col(def.Table, "status"), entity.LeadStatusConverted), "converted").
				GroupBy(source).
				OrderBy(query.Ident("total"), query.DESC)
			rows, err := s.queries.Aggregate(ctx, b)
			if err != nil {
				return nil, err
			}
			out := &LeadConversionReport{BySource: make([]LeadSourceStat, 0, len(rows))}
			for _, r := range rows {
				st := LeadSourceStat{Source: r.GetString("source"), Total: toCount(r["total"]), Converted: toCount(r["converted"])}
				st.Rate = ratio(st.Converted, st.Total)
				out.BySource = append(out.BySource, st)
				out.Total += st.Total
				out.Converted += st.Converted
			}
			out.Rate = ratio(out.Converted, out.Total)
			return out, nil
		})
}

// TaskCompletion counts open, completed and overdue tasks per owner.
// Cancelled tasks are ignored.
func (s *AnalyticsService) TaskCompletion(ctx context.Context, user *auth.UserSession) (*TaskCompletionReport, error) {
	def, b, scope, err := s.readable(user, constants.EntityTasks)
	if err != nil {
		return nil, err
	}
	return cachedIn(ctx, s.cache, s.logger, user.TenantID, def.Name, "completion:"+scope, s.cacheTTL,
		func(ctx context.Context) (*TaskCompletionReport, error) {
			status := query.Col(def.Table, "status")
			open := fmt.Sprintf("%s IN ('open', 'in_progress')", status)
			b.SelectRaw(query.Col(def.Table, constants.FieldOwnerID), "owner").
				SelectRaw(fmt.Sprintf("SUM(CASE WHEN %s THEN 1 ELSE 0 END)", open), "open").
				SelectRaw(fmt.Sprintf("SUM(CASE WHEN %s = '%s' THEN 1 ELSE 0 END)", status, entity.TaskStatusCompleted), "completed").
				SelectRaw(fmt.Sprintf("SUM(CASE WHEN %s AND %s < CURRENT_DATE THEN 1 ELSE 0 END)", open, query.Col(def.Table, "due_date")), "overdue").
				GroupBy(constants.FieldOwnerID).
				OrderBy(constants.FieldOwnerID, query.ASC)
			rows, err := s.queries.Aggregate(ctx, b)
			if err != nil {
				return nil, err
			}
			out := &TaskCompletionReport{ByOwner: make([]TaskOwnerStat, 0, len(rows))}
			for _, r := range rows {
				st := TaskOwnerStat{
					OwnerID:   r.GetString("owner"),
					Open:      toCount(r["open"]),
					Completed: toCount(r["completed"]),
					Overdue:   toCount(r["overdue"]),
				}
				out.ByOwner = append(out.ByOwner, st)
				out.Open += st.Open
				out.Completed += st.Completed
				out.Overdue += st.Overdue
			}
			return out, nil
		})
}

// RunSQL executes an admin's ad-hoc SELECT against the tenant's rows.
func (s *AnalyticsService) RunSQL(ctx context.Context, admin *auth.UserSession, sql string) (*SQLResult, error) {
	if !admin.IsAdmin() {
		return nil, appErrors.NewPermissionError("run", "sql")
	}
	rewritten, err := s.guard.Rewrite(sql, admin.TenantID, constants.MaxSQLRows+1)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	rows, err := s.queries.Raw(ctx, rewritten)
	if err != nil {
		return nil, appErrors.NewValidationError("sql", err.Error())
	}
	res := &SQLResult{SQL: rewritten, Rows: rows}
	if len(rows) > constants.MaxSQLRows {
		res.Rows = rows[:constants.MaxSQLRows]
		res.Truncated = true
	}
	res.Count = len(res.Rows)

	s.logger.Info("Ad-hoc SQL executed",
		zap.String("tenant_id", admin.TenantID),
		zap.String("user_id", admin.ID),
		zap.Int("rows", res.Count),
		zap.Duration("duration", time.Since(start)))
	return res, nil
}
