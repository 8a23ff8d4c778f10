package services

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/nexuscrm/mycrm/internal/domain/entity"
	"github.com/nexuscrm/mycrm/internal/domain/models"
	"github.com/nexuscrm/mycrm/internal/infrastructure/persistence"
	"github.com/nexuscrm/mycrm/pkg/auth"
	"github.com/nexuscrm/mycrm/pkg/constants"
	appErrors "github.com/nexuscrm/mycrm/pkg/errors"
	"github.com/nexuscrm/mycrm/pkg/expression"
	"github.com/nexuscrm/mycrm/pkg/pagination"
	"github.com/nexuscrm/mycrm/pkg/query"
	"github.com/nexuscrm/mycrm/pkg/utils"
	"github.com/shopspring/decimal"
)

const inSuffix = "__in"

var reservedParams = map[string]bool{
	constants.ParamPage:     true,
	constants.ParamPageSize: true,
	constants.ParamSearch:   true,
	constants.ParamOrdering: true,
	constants.ParamFilter:   true,
	constants.ParamExpand:   true,
}

// ListParams selects one page of an entity listing.
type ListParams struct {
	Page pagination.Params
	// Filters maps a field (optionally suffixed with __in) to its values.
	Filters  map[string][]string
	Search   string
	Ordering []string
	Filter   string
	Expand   []string
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ParseListParams reads a listing request from query values. Field names
// are checked against the entity when the listing runs.
func ParseListParams(values url.Values) (ListParams, error) {
	page, err := pagination.Parse(values)
	if err != nil {
		return ListParams{}, err
	}
	p := ListParams{
		Page:     page,
		Filters:  make(map[string][]string),
		Search:   strings.TrimSpace(values.Get(constants.ParamSearch)),
		Ordering: splitList(values.Get(constants.ParamOrdering)),
		Filter:   strings.TrimSpace(values.Get(constants.ParamFilter)),
		Expand:   splitList(values.Get(constants.ParamExpand)),
	}
	for key, vals := range values {
		if reservedParams[key] || len(vals) == 0 {
			continue
		}
		if strings.HasSuffix(key, inSuffix) {
			p.Filters[key] = splitList(vals[0])
			continue
		}
		p.Filters[key] = []string{vals[0]}
	}
	return p, nil
}

// key is a canonical encoding of the params, used in cache keys.
func (p ListParams) key() string {
	v := url.Values{}
	v.Set(constants.ParamPage, fmt.Sprint(p.Page.Page))
	v.Set(constants.ParamPageSize, fmt.Sprint(p.Page.PageSize))
	for k, vals := range p.Filters {
		v.Set("f."+k, strings.Join(vals, ","))
	}
	v.Set(constants.ParamSearch, p.Search)
	v.Set(constants.ParamOrdering, strings.Join(p.Ordering, ","))
	v.Set(constants.ParamFilter, p.Filter)
	v.Set(constants.ParamExpand, strings.Join(p.Expand, ","))
	return v.Encode()
}

// filterableSystemFields may be used in exact-match filters and formulas.
var filterableSystemFields = map[string]bool{
	constants.FieldID:        true,
	constants.FieldOwnerID:   true,
	constants.FieldCreatedBy: true,
	constants.FieldCreatedAt: true,
	constants.FieldUpdatedAt: true,
}

// columnResolver maps filterable names of def to qualified columns.
func columnResolver(def *entity.EntityDefinition) expression.Resolver {
	return func(name string) (string, bool) {
		if f, ok := def.Field(name); ok {
			if f.Type == entity.FieldJSON {
				return "", false
			}
			return query.Col(def.Table, name), true
		}
		if filterableSystemFields[name] {
			return query.Col(def.Table, name), true
		}
		return "", false
	}
}

func filterValue(def *entity.EntityDefinition, field, raw string) interface{} {
	if f, ok := def.Field(field); ok && f.Type == entity.FieldBool {
		return utils.ToBool(raw)
	}
	return raw
}

// listOptions validates params against def and converts them to
// repository options.
func listOptions(def *entity.EntityDefinition, p ListParams) (persistence.ListOptions, error) {
	verr := appErrors.NewFieldErrors("invalid list parameters")
	opts := persistence.ListOptions{Limit: p.Page.PageSize, Offset: p.Page.Offset()}
	resolve := columnResolver(def)

	keys := make([]string, 0, len(p.Filters))
	for k := range p.Filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		field := strings.TrimSuffix(key, inSuffix)
		col, ok := resolve(field)
		if !ok {
			verr.Add(key, "unknown filter field")
			continue
		}
		vals := p.Filters[key]
		if strings.HasSuffix(key, inSuffix) {
			if len(vals) == 0 {
				verr.Add(key, "expects a comma separated list")
				continue
			}
			args := make([]interface{}, len(vals))
			for i, v := range vals {
				args[i] = filterValue(def, field, v)
			}
			placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(args)), ", ")
			opts.Conditions = append(opts.Conditions, persistence.Condition{
				SQL:  fmt.Sprintf("%s IN (%s)", col, placeholders),
				Args: args,
			})
			continue
		}
		opts.Conditions = append(opts.Conditions, persistence.Condition{
			SQL:  col + " = ?",
			Args: []interface{}{filterValue(def, field, vals[0])},
		})
	}

	if p.Search != "" && len(def.SearchFields) > 0 {
		pattern := "%" + expression.EscapeLike(p.Search) + "%"
		terms := make([]string, 0, len(def.SearchFields))
		args := make([]interface{}, 0, len(def.SearchFields))
		for _, f := range def.SearchFields {
			terms = append(terms, query.Col(def.Table, f)+" LIKE ?")
			args = append(args, pattern)
		}
		opts.Conditions = append(opts.Conditions, persistence.Condition{SQL: strings.Join(terms, " OR "), Args: args})
	}

	if p.Filter != "" {
		sql, args, err := expression.ToSQL(p.Filter, resolve)
		if err != nil {
			verr.Add(constants.ParamFilter, err.Error())
		} else {
			opts.Conditions = append(opts.Conditions, persistence.Condition{SQL: sql, Args: args})
		}
	}

	ordering := p.Ordering
	if len(ordering) == 0 && def.DefaultOrdering != "" {
		ordering = []string{def.DefaultOrdering}
	}
	for _, term := range ordering {
		name := strings.TrimPrefix(term, "-")
		if !def.CanOrderBy(name) {
			verr.Add(constants.ParamOrdering, fmt.Sprintf("cannot order by %q", name))
			continue
		}
		opts.Ordering = append(opts.Ordering, persistence.Order{Field: name, Desc: strings.HasPrefix(term, "-")})
	}

	for _, name := range p.Expand {
		f, ok := def.Field(name)
		if !ok || f.Type != entity.FieldRef {
			verr.Add(constants.ParamExpand, fmt.Sprintf("%q is not a reference field", name))
		}
	}

	if err := verr.OrNil(); err != nil {
		return persistence.ListOptions{}, err
	}
	return opts, nil
}

// ListResult is one page of records and the number of matches.
type ListResult struct {
	Records []models.Record `json:"records"`
	Count   int             `json:"count"`
}

// List returns one page of visible records.
func (s *RecordService) List(ctx context.Context, user *auth.UserSession, entityName string, p ListParams) (*ListResult, error) {
	def, scope, err := s.access(user, entityName, constants.PermissionRead)
	if err != nil {
		return nil, err
	}
	opts, err := listOptions(def, p)
	if err != nil {
		return nil, err
	}

	key := "list:" + scopeKey(scope) + ":" + p.key()
	return cachedIn(ctx, s.cache, s.logger, user.TenantID, def.Name, key, s.cacheTTL,
		func(ctx context.Context) (*ListResult, error) {
			records, total, err := s.records.List(ctx, def, scope, opts)
			if err != nil {
				return nil, err
			}
			if err := s.customFields.Attach(ctx, user.TenantID, def.Name, records); err != nil {
				return nil, err
			}
			if err := s.PrefetchRefs(ctx, user, def, records, p.Expand); err != nil {
				return nil, err
			}
			return &ListResult{Records: records, Count: total}, nil
		})
}

// expandedKey is where an expanded reference is placed: company_id
// becomes company.
func expandedKey(field string) string {
	return strings.TrimSuffix(field, "_id")
}

// PrefetchRefs resolves the given ref fields of records with one query per
// field, placing each referenced record (or null when it is not visible to
// user) next to the id.
func (s *RecordService) PrefetchRefs(ctx context.Context, user *auth.UserSession, def *entity.EntityDefinition, records []models.Record, fields []string) error {
	for _, name := range fields {
		f, ok := def.Field(name)
		if !ok || f.Type != entity.FieldRef {
			continue
		}
		target, err := s.definition(f.Ref)
		if err != nil {
			return err
		}
		if err := s.permissions.Require(user, target, constants.PermissionRead); err != nil {
			return err
		}

		seen := make(map[string]bool)
		ids := make([]string, 0, len(records))
		for _, r := range records {
			if id := r.GetString(name); id != "" && !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
		found, err := s.records.FetchByIDs(ctx, target, s.permissions.Scope(user, target), ids)
		if err != nil {
			return err
		}
		key := expandedKey(name)
		for _, r := range records {
			if ref, ok := found[r.GetString(name)]; ok {
				r[key] = ref
			} else {
				r[key] = nil
			}
		}
	}
	return nil
}

// Export writes every visible record matching p as CSV, at most
// MaxExportRows rows. Paging parameters are ignored.
func (s *RecordService) Export(ctx context.Context, user *auth.UserSession, entityName string, p ListParams, w io.Writer) (int, error) {
	def, scope, err := s.access(user, entityName, constants.PermissionRead)
	if err != nil {
		return 0, err
	}
	p.Expand = nil
	opts, err := listOptions(def, p)
	if err != nil {
		return 0, err
	}
	opts.Limit = constants.MaxExportRows
	opts.Offset = 0

	records, _, err := s.records.List(ctx, def, scope, opts)
	if err != nil {
		return 0, err
	}

	columns := def.Columns()
	cw := csv.NewWriter(w)
	if err := cw.Write(columns); err != nil {
		return 0, err
	}
	row := make([]string, len(columns))
	for _, r := range records {
		for i, c := range columns {
			row[i] = csvValue(r[c])
		}
		if err := cw.Write(row); err != nil {
			return 0, err
		}
	}
	cw.Flush()
	return len(records), cw.Error()
}

func csvValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case decimal.Decimal:
		return t.StringFixed(2)
	case []byte:
		return string(t)
	}
	return utils.ToString(v)
}
