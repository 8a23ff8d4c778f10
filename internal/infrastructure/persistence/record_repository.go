package persistence

import (
	"context"
	"fmt"

	"github.com/nexuscrm/mycrm/internal/domain/entity"
	"github.com/nexuscrm/mycrm/internal/domain/models"
	"github.com/nexuscrm/mycrm/internal/infrastructure/database"
	"github.com/nexuscrm/mycrm/pkg/constants"
	"github.com/nexuscrm/mycrm/pkg/query"
)

// Scope restricts statements to the rows a caller may see.
type Scope struct {
	TenantID string
	// OwnerID, when set, limits rows to those owned by that user.
	OwnerID string
}

func (s Scope) apply(b *query.Builder) *query.Builder {
	b.TenantScope(s.TenantID)
	if s.OwnerID != "" {
		b.WhereEq(constants.FieldOwnerID, s.OwnerID)
	}
	return b
}

// Condition is a parenthesized SQL predicate with its arguments.
type Condition struct {
	SQL  string
	Args []interface{}
}

type Order struct {
	Field string
	Desc  bool
}

// ListOptions narrows and pages a listing. A zero Limit means no limit.
type ListOptions struct {
	Conditions []Condition
	Ordering   []Order
	Limit      int
	Offset     int
}

// RecordRepository handles CRUD for any registered entity.
type RecordRepository struct {
	db *database.DB
}

// NewRecordRepository creates a new RecordRepository
func NewRecordRepository(db *database.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

func (r *RecordRepository) selectAll(ctx context.Context, def *entity.EntityDefinition, b *query.Builder) ([]models.Record, error) {
	q := b.Build()
	rows, err := executor(ctx, r.db).QueryContext(ctx, q.SQL, q.Params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records, err := query.ScanRows(rows)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		def.Decode(rec)
	}
	return records, nil
}

func (r *RecordRepository) filtered(def *entity.EntityDefinition, scope Scope, opts ListOptions) *query.Builder {
	b := scope.apply(query.From(def.Table).Select("*"))
	for _, c := range opts.Conditions {
		b.WhereRaw(c.SQL, c.Args)
	}
	return b
}

// List returns one page of matching rows and the total number of matches.
func (r *RecordRepository) List(ctx context.Context, def *entity.EntityDefinition, scope Scope, opts ListOptions) ([]models.Record, int, error) {
	b := r.filtered(def, scope, opts)

	count := b.Count().Build()
	var total int
	if err := executor(ctx, r.db).QueryRowContext(ctx, count.SQL, count.Params...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count %s: %w", def.Name, err)
	}
	if total == 0 || (opts.Limit > 0 && opts.Offset >= total) {
		return []models.Record{}, total, nil
	}

	for _, o := range opts.Ordering {
		dir := query.ASC
		if o.Desc {
			dir = query.DESC
		}
		b.OrderBy(o.Field, dir)
	}
	// Stable paging across equal sort keys.
	b.OrderBy(constants.FieldID, query.ASC)
	if opts.Limit > 0 {
		b.Limit(opts.Limit).Offset(opts.Offset)
	}

	records, err := r.selectAll(ctx, def, b)
	if err != nil {
		return nil, 0, fmt.Errorf("list %s: %w", def.Name, err)
	}
	return records, total, nil
}

// Find returns the row with id, or nil when it is missing or out of scope.
func (r *RecordRepository) Find(ctx context.Context, def *entity.EntityDefinition, scope Scope, id string) (models.Record, error) {
	return r.findOne(ctx, def, scope, id, false)
}

// FindForUpdate is Find with a row lock; ctx must carry a transaction.
func (r *RecordRepository) FindForUpdate(ctx context.Context, def *entity.EntityDefinition, scope Scope, id string) (models.Record, error) {
	if ExtractTx(ctx) == nil {
		return nil, fmt.Errorf("transaction required for locking record %s", id)
	}
	return r.findOne(ctx, def, scope, id, true)
}

func (r *RecordRepository) findOne(ctx context.Context, def *entity.EntityDefinition, scope Scope, id string, lock bool) (models.Record, error) {
	b := scope.apply(query.From(def.Table).Select("*")).WhereEq(constants.FieldID, id).Limit(1)
	if lock {
		b.ForUpdate()
	}
	records, err := r.selectAll(ctx, def, b)
	if err != nil {
		return nil, fmt.Errorf("find %s %s: %w", def.Name, id, err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

// FetchByIDs loads many rows in one statement, keyed by id. Missing ids
// are absent from the result.
func (r *RecordRepository) FetchByIDs(ctx context.Context, def *entity.EntityDefinition, scope Scope, ids []string) (map[string]models.Record, error) {
	out := make(map[string]models.Record, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	b := scope.apply(query.From(def.Table).Select("*")).WhereIn(constants.FieldID, toArgs(ids))
	records, err := r.selectAll(ctx, def, b)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", def.Name, err)
	}
	for _, rec := range records {
		out[rec.ID()] = rec
	}
	return out, nil
}

// FindReferencing returns the rows of def whose field points at any of ids.
func (r *RecordRepository) FindReferencing(ctx context.Context, def *entity.EntityDefinition, tenantID, field string, ids []string) ([]models.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	b := query.From(def.Table).Select("*").TenantScope(tenantID).WhereIn(field, toArgs(ids)).ForUpdate()
	records, err := r.selectAll(ctx, def, b)
	if err != nil {
		return nil, fmt.Errorf("find %s referencing via %s: %w", def.Name, field, err)
	}
	return records, nil
}

// Insert executes an INSERT statement
func (r *RecordRepository) Insert(ctx context.Context, def *entity.EntityDefinition, record models.Record) error {
	q := query.Insert(def.Table, record).Build()
	_, err := executor(ctx, r.db).ExecContext(ctx, q.SQL, q.Params...)
	return err
}

// BulkInsert inserts records with multi-row statements of at most batchSize
// rows. Every record is written with the given columns.
func (r *RecordRepository) BulkInsert(ctx context.Context, def *entity.EntityDefinition, columns []string, records []models.Record, batchSize int) error {
	if len(records) == 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = constants.BulkBatchSize
	}

	exec := executor(ctx, r.db)
	for i := 0; i < len(records); i += batchSize {
		end := i + batchSize
		if end > len(records) {
			end = len(records)
		}
		rows := make([][]interface{}, 0, end-i)
		for _, rec := range records[i:end] {
			row := make([]interface{}, len(columns))
			for j, c := range columns {
				row[j] = rec[c]
			}
			rows = append(rows, row)
		}

		q := query.InsertMany(def.Table, columns, rows).Build()
		if _, err := exec.ExecContext(ctx, q.SQL, q.Params...); err != nil {
			return fmt.Errorf("bulk insert batch %d-%d failed: %w", i, end, err)
		}
	}
	return nil
}

// Update applies updates to the rows with ids inside scope and returns the
// number of rows changed.
func (r *RecordRepository) Update(ctx context.Context, def *entity.EntityDefinition, scope Scope, updates models.Record, ids ...string) (int64, error) {
	if len(ids) == 0 || len(updates) == 0 {
		return 0, nil
	}
	b := scope.apply(query.Update(def.Table).Set(updates))
	q := b.WhereIn(constants.FieldID, toArgs(ids)).Build()
	res, err := executor(ctx, r.db).ExecContext(ctx, q.SQL, q.Params...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Delete removes the rows with ids inside scope.
func (r *RecordRepository) Delete(ctx context.Context, def *entity.EntityDefinition, scope Scope, ids ...string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	q := scope.apply(query.Delete(def.Table)).WhereIn(constants.FieldID, toArgs(ids)).Build()
	res, err := executor(ctx, r.db).ExecContext(ctx, q.SQL, q.Params...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// WipeTenant deletes every row of tenantID from table.
func (r *RecordRepository) WipeTenant(ctx context.Context, table, tenantID string) (int64, error) {
	q := query.Delete(table).TenantScope(tenantID).Build()
	res, err := executor(ctx, r.db).ExecContext(ctx, q.SQL, q.Params...)
	if err != nil {
		return 0, fmt.Errorf("wipe %s: %w", table, err)
	}
	return res.RowsAffected()
}

func toArgs(ids []string) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
