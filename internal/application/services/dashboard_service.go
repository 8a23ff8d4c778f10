package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nexuscrm/mycrm/internal/domain/models"
	"github.com/nexuscrm/mycrm/internal/infrastructure/persistence"
	"github.com/nexuscrm/mycrm/pkg/auth"
	appErrors "github.com/nexuscrm/mycrm/pkg/errors"
	"github.com/nexuscrm/mycrm/pkg/pagination"
	"github.com/nexuscrm/mycrm/pkg/utils"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultWidgetRows = 10
	maxWidgetRows     = 50
	overviewWorkers   = 4
)

// WidgetRequest creates or replaces a dashboard widget.
type WidgetRequest struct {
	Title    string          `json:"title"`
	Kind     string          `json:"kind"`
	Config   json.RawMessage `json:"config"`
	Position *int            `json:"position"`
}

// widgetConfig is the interpreted form of a widget's config document.
type widgetConfig struct {
	entity   string
	metric   string
	field    string
	groupBy  string
	filter   string
	ordering string
	limit    int
}

func parseWidgetConfig(raw json.RawMessage) widgetConfig {
	doc := gjson.ParseBytes(raw)
	cfg := widgetConfig{
		entity:   doc.Get("entity").String(),
		metric:   doc.Get("metric").String(),
		field:    doc.Get("field").String(),
		groupBy:  doc.Get("group_by").String(),
		filter:   doc.Get("filter").String(),
		ordering: doc.Get("ordering").String(),
		limit:    int(doc.Get("limit").Int()),
	}
	return cfg
}

func (c widgetConfig) aggregate() AggregateRequest {
	return AggregateRequest{
		Entity:  c.entity,
		Metric:  c.metric,
		Field:   c.field,
		GroupBy: c.groupBy,
		Filter:  c.filter,
		Limit:   c.limit,
	}
}

// DashboardService manages the caller's widgets and computes their data
// through the analytics and record services.
type DashboardService struct {
	widgets   *persistence.WidgetRepository
	analytics *AnalyticsService
	records   *RecordService
	logger    *zap.Logger
	now       func() time.Time
}

func NewDashboardService(widgets *persistence.WidgetRepository, analytics *AnalyticsService, records *RecordService, logger *zap.Logger) *DashboardService {
	return &DashboardService{
		widgets:   widgets,
		analytics: analytics,
		records:   records,
		logger:    logger,
		now:       time.Now,
	}
}

// check validates a widget request. The config must name a registered
// entity and fit the widget kind.
func (s *DashboardService) check(req *WidgetRequest) error {
	verr := appErrors.NewFieldErrors("invalid widget")
	req.Title = strings.TrimSpace(req.Title)
	switch {
	case req.Title == "":
		verr.Add("title", msgBlank)
	case len(req.Title) > 255:
		verr.Add("title", "ensure this field has no more than 255 characters")
	}
	switch req.Kind {
	case models.WidgetMetric, models.WidgetChart, models.WidgetList:
	case "":
		verr.Add("kind", msgRequired)
	default:
		verr.Add("kind", fmt.Sprintf("%q is not a valid choice", req.Kind))
	}
	if req.Position != nil && *req.Position < 0 {
		verr.Add("position", "must not be negative")
	}

	if len(req.Config) == 0 || !gjson.ValidBytes(req.Config) || !gjson.ParseBytes(req.Config).IsObject() {
		verr.Add("config", "must be a JSON object")
		return verr.OrNil()
	}
	cfg := parseWidgetConfig(req.Config)
	def, ok := s.records.Registry().Get(cfg.entity)
	if !ok {
		verr.Add("config.entity", fmt.Sprintf("unknown entity %q", cfg.entity))
		return verr.OrNil()
	}

	switch req.Kind {
	case models.WidgetMetric, models.WidgetChart:
		agg := cfg.aggregate()
		if req.Kind == models.WidgetChart && agg.GroupBy == "" {
			verr.Add("config.group_by", "charts need a group_by field")
		}
		if req.Kind == models.WidgetMetric && agg.GroupBy != "" {
			verr.Add("config.group_by", "metrics are not grouped")
		}
		if err := checkAggregate(def, &agg); err != nil {
			if ae, ok := err.(*appErrors.ValidationError); ok {
				verr.Merge("config", ae)
			}
		}
	case models.WidgetList:
		if cfg.limit < 0 || cfg.limit > maxWidgetRows {
			verr.Add("config.limit", fmt.Sprintf("must be between 1 and %d", maxWidgetRows))
		}
	}
	return verr.OrNil()
}

func (s *DashboardService) List(ctx context.Context, user *auth.UserSession) ([]*models.DashboardWidget, error) {
	return s.widgets.ListForUser(ctx, user.TenantID, user.ID)
}

func (s *DashboardService) Get(ctx context.Context, user *auth.UserSession, id string) (*models.DashboardWidget, error) {
	w, err := s.widgets.Find(ctx, user.TenantID, user.ID, id)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, appErrors.NewNotFoundError("Widget", id)
	}
	return w, nil
}

func (s *DashboardService) Create(ctx context.Context, user *auth.UserSession, req WidgetRequest) (*models.DashboardWidget, error) {
	if err := s.check(&req); err != nil {
		return nil, err
	}
	w := &models.DashboardWidget{
		ID:        utils.GenerateID(),
		TenantID:  user.TenantID,
		UserID:    user.ID,
		Title:     req.Title,
		Kind:      req.Kind,
		Config:    req.Config,
		CreatedAt: s.now().UTC(),
	}
	if req.Position != nil {
		w.Position = *req.Position
	} else {
		existing, err := s.widgets.ListForUser(ctx, user.TenantID, user.ID)
		if err != nil {
			return nil, err
		}
		w.Position = len(existing)
	}
	if err := s.widgets.Insert(ctx, w); err != nil {
		return nil, fmt.Errorf("failed to save widget: %w", err)
	}
	return w, nil
}

func (s *DashboardService) Update(ctx context.Context, user *auth.UserSession, id string, req WidgetRequest) (*models.DashboardWidget, error) {
	w, err := s.Get(ctx, user, id)
	if err != nil {
		return nil, err
	}
	if err := s.check(&req); err != nil {
		return nil, err
	}
	w.Title, w.Kind, w.Config = req.Title, req.Kind, req.Config
	if req.Position != nil {
		w.Position = *req.Position
	}
	if err := s.widgets.Update(ctx, w); err != nil {
		return nil, fmt.Errorf("failed to update widget: %w", err)
	}
	return w, nil
}

func (s *DashboardService) Delete(ctx context.Context, user *auth.UserSession, id string) error {
	n, err := s.widgets.Delete(ctx, user.TenantID, user.ID, id)
	if err != nil {
		return err
	}
	if n == 0 {
		return appErrors.NewNotFoundError("Widget", id)
	}
	return nil
}

// compute returns the payload of one widget.
func (s *DashboardService) compute(ctx context.Context, user *auth.UserSession, w *models.DashboardWidget) (interface{}, error) {
	cfg := parseWidgetConfig(w.Config)
	switch w.Kind {
	case models.WidgetMetric:
		res, err := s.analytics.Aggregate(ctx, user, cfg.aggregate())
		if err != nil {
			return nil, err
		}
		if len(res.Rows) == 0 {
			return nil, nil
		}
		return res.Rows[0].Value, nil
	case models.WidgetChart:
		res, err := s.analytics.Aggregate(ctx, user, cfg.aggregate())
		if err != nil {
			return nil, err
		}
		return res.Rows, nil
	case models.WidgetList:
		limit := cfg.limit
		if limit <= 0 {
			limit = defaultWidgetRows
		}
		params := ListParams{
			Page:   pagination.Params{Page: 1, PageSize: limit},
			Filter: cfg.filter,
		}
		if cfg.ordering != "" {
			params.Ordering = splitList(cfg.ordering)
		}
		res, err := s.records.List(ctx, user, cfg.entity, params)
		if err != nil {
			return nil, err
		}
		return res.Records, nil
	}
	return nil, appErrors.NewUnprocessableError("unknown widget kind %q", w.Kind)
}

// WidgetData computes one widget of the caller.
func (s *DashboardService) WidgetData(ctx context.Context, user *auth.UserSession, id string) (*models.WidgetData, error) {
	w, err := s.Get(ctx, user, id)
	if err != nil {
		return nil, err
	}
	data, err := s.compute(ctx, user, w)
	if err != nil {
		return nil, err
	}
	return &models.WidgetData{Widget: w, Data: data}, nil
}

// Overview computes all of the caller's widgets concurrently. A failing
// widget reports its error in place and does not fail the others.
func (s *DashboardService) Overview(ctx context.Context, user *auth.UserSession) ([]*models.WidgetData, error) {
	widgets, err := s.widgets.ListForUser(ctx, user.TenantID, user.ID)
	if err != nil {
		return nil, err
	}

	results := make([]*models.WidgetData, len(widgets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(overviewWorkers)
	for i, w := range widgets {
		g.Go(func() error {
			data, err := s.compute(gctx, user, w)
			out := &models.WidgetData{Widget: w, Data: data}
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				out.Error = widgetError(err)
				if appErrors.GetHTTPStatus(err) >= 500 {
					s.logger.Error("Widget computation failed",
						zap.String("widget_id", w.ID), zap.Error(err))
				}
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func widgetError(err error) string {
	if appErrors.GetHTTPStatus(err) >= 500 {
		return "widget data is unavailable"
	}
	return err.Error()
}
