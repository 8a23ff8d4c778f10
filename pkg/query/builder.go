package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nexuscrm/mycrm/pkg/constants"
)

type verb int

const (
	verbSelect verb = iota
	verbInsert
	verbUpdate
	verbDelete
)

const (
	ASC  = "ASC"
	DESC = "DESC"
)

// QueryResult is a statement ready for database/sql.
type QueryResult struct {
	SQL    string
	Params []interface{}
}

// Builder assembles one statement against a single base table. Columns that
// come from maps are emitted sorted so the SQL text is deterministic, which
// keeps sqlmock expectations and the query profiler's grouping stable.
type Builder struct {
	verb  verb
	table string

	fields []string
	joins  []string
	conds  []string
	args   []interface{}
	groups []string
	order  []string
	limit  *int
	offset *int
	lock   string

	values  map[string]interface{}
	columns []string
	rows    [][]interface{}
}

// Ident backquotes a MySQL identifier.
func Ident(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// Col returns `table`.`field`.
func Col(table, field string) string {
	return Ident(table) + "." + Ident(field)
}

func From(table string) *Builder {
	return &Builder{verb: verbSelect, table: table}
}

// Insert writes one row; column order is sorted.
func Insert(table string, data map[string]interface{}) *Builder {
	return &Builder{verb: verbInsert, table: table, values: data}
}

// InsertMany writes rows in one statement. Every row lines up with columns.
func InsertMany(table string, columns []string, rows [][]interface{}) *Builder {
	return &Builder{verb: verbInsert, table: table, columns: columns, rows: rows}
}

func Update(table string) *Builder {
	return &Builder{verb: verbUpdate, table: table, values: map[string]interface{}{}}
}

func Delete(table string) *Builder {
	return &Builder{verb: verbDelete, table: table}
}

// qualify prefixes bare column names with the base table. Anything that
// already looks like an expression is passed through.
func (b *Builder) qualify(field string) string {
	if strings.ContainsAny(field, ".`(") {
		return field
	}
	return Col(b.table, field)
}

func (b *Builder) Select(fields ...string) *Builder {
	for _, f := range fields {
		if f == "*" {
			f = Ident(b.table) + ".*"
		} else {
			f = b.qualify(f)
		}
		b.fields = append(b.fields, f)
	}
	return b
}

// SelectRaw adds an expression, optionally aliased.
func (b *Builder) SelectRaw(expr, alias string) *Builder {
	if alias != "" {
		expr += " AS " + Ident(alias)
	}
	b.fields = append(b.fields, expr)
	return b
}

// Join adds "<kind> JOIN `table` AS `alias` ON <on>".
func (b *Builder) Join(kind, table, alias, on string) *Builder {
	b.joins = append(b.joins, kind+" JOIN "+Ident(table)+" AS "+Ident(alias)+" ON "+on)
	return b
}

// Where ANDs a condition with its placeholder arguments.
func (b *Builder) Where(cond string, args ...interface{}) *Builder {
	b.conds = append(b.conds, cond)
	b.args = append(b.args, args...)
	return b
}

func (b *Builder) WhereEq(field string, value interface{}) *Builder {
	return b.Where(b.qualify(field)+" = ?", value)
}

// WhereIn matches nothing for an empty list.
func (b *Builder) WhereIn(field string, values []interface{}) *Builder {
	if len(values) == 0 {
		return b.Where("1 = 0")
	}
	return b.Where(b.qualify(field)+" IN "+placeholders(len(values)), values...)
}

// WhereRaw parenthesizes a compiled filter; an empty one is ignored.
func (b *Builder) WhereRaw(cond string, args []interface{}) *Builder {
	if cond == "" {
		return b
	}
	return b.Where("("+cond+")", args...)
}

func (b *Builder) TenantScope(tenantID string) *Builder {
	return b.WhereEq(constants.FieldTenantID, tenantID)
}

// Set merges columns into an UPDATE.
func (b *Builder) Set(data map[string]interface{}) *Builder {
	for k, v := range data {
		b.values[k] = v
	}
	return b
}

// GroupBy appends grouping columns; bare names are qualified.
func (b *Builder) GroupBy(fields ...string) *Builder {
	for _, f := range fields {
		b.groups = append(b.groups, b.qualify(f))
	}
	return b
}

// OrderBy appends a sort term; anything but DESC sorts ascending.
func (b *Builder) OrderBy(field, direction string) *Builder {
	if direction != DESC {
		direction = ASC
	}
	b.order = append(b.order, b.qualify(field)+" "+direction)
	return b
}

func (b *Builder) Limit(n int) *Builder {
	b.limit = &n
	return b
}

func (b *Builder) Offset(n int) *Builder {
	b.offset = &n
	return b
}

func (b *Builder) ForUpdate() *Builder {
	b.lock = "FOR UPDATE"
	return b
}

// ForUpdateSkipLocked lets concurrent outbox workers claim disjoint rows.
func (b *Builder) ForUpdateSkipLocked() *Builder {
	b.lock = "FOR UPDATE SKIP LOCKED"
	return b
}

// Count returns a COUNT(*) over the same joins and filters, unordered and
// unpaged.
func (b *Builder) Count() *Builder {
	return &Builder{
		verb:   verbSelect,
		table:  b.table,
		fields: []string{"COUNT(*)"},
		joins:  append([]string(nil), b.joins...),
		conds:  append([]string(nil), b.conds...),
		args:   append([]interface{}(nil), b.args...),
	}
}

func (b *Builder) Build() QueryResult {
	switch b.verb {
	case verbInsert:
		return b.buildInsert()
	case verbUpdate:
		return b.buildUpdate()
	case verbDelete:
		return QueryResult{SQL: "DELETE FROM " + Ident(b.table) + b.whereClause(), Params: b.args}
	default:
		return QueryResult{SQL: b.buildSelect(), Params: b.args}
	}
}

func placeholders(n int) string {
	return "(" + strings.TrimSuffix(strings.Repeat("?, ", n), ", ") + ")"
}

func (b *Builder) whereClause() string {
	if len(b.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(b.conds, " AND ")
}

func (b *Builder) buildSelect() string {
	fields := "*"
	if len(b.fields) > 0 {
		fields = strings.Join(b.fields, ", ")
	}
	parts := []string{"SELECT " + fields + " FROM " + Ident(b.table)}
	parts = append(parts, b.joins...)

	sql := strings.Join(parts, " ") + b.whereClause()
	if len(b.groups) > 0 {
		sql += " GROUP BY " + strings.Join(b.groups, ", ")
	}
	if len(b.order) > 0 {
		sql += " ORDER BY " + strings.Join(b.order, ", ")
	}
	if b.limit != nil {
		sql += fmt.Sprintf(" LIMIT %d", *b.limit)
	}
	if b.offset != nil {
		sql += fmt.Sprintf(" OFFSET %d", *b.offset)
	}
	if b.lock != "" {
		sql += " " + b.lock
	}
	return sql
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func quoteAll(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = Ident(n)
	}
	return strings.Join(quoted, ", ")
}

func (b *Builder) buildInsert() QueryResult {
	columns, rows := b.columns, b.rows
	if b.values != nil {
		columns = sortedKeys(b.values)
		row := make([]interface{}, len(columns))
		for i, c := range columns {
			row[i] = b.values[c]
		}
		rows = [][]interface{}{row}
	}

	tuple := placeholders(len(columns))
	tuples := make([]string, len(rows))
	args := make([]interface{}, 0, len(rows)*len(columns))
	for i, row := range rows {
		tuples[i] = tuple
		args = append(args, row...)
	}
	return QueryResult{
		SQL:    "INSERT INTO " + Ident(b.table) + " (" + quoteAll(columns) + ") VALUES " + strings.Join(tuples, ", "),
		Params: args,
	}
}

func (b *Builder) buildUpdate() QueryResult {
	keys := sortedKeys(b.values)
	assignments := make([]string, len(keys))
	args := make([]interface{}, 0, len(keys)+len(b.args))
	for i, k := range keys {
		assignments[i] = Ident(k) + " = ?"
		args = append(args, b.values[k])
	}
	return QueryResult{
		SQL:    "UPDATE " + Ident(b.table) + " SET " + strings.Join(assignments, ", ") + b.whereClause(),
		Params: append(args, b.args...),
	}
}
