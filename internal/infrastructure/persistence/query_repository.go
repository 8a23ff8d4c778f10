package persistence

import (
	"context"
	"fmt"

	"github.com/nexuscrm/mycrm/internal/domain/models"
	"github.com/nexuscrm/mycrm/internal/infrastructure/database"
	"github.com/nexuscrm/mycrm/pkg/query"
)

// QueryRepository handles read-only analytics statements.
type QueryRepository struct {
	db *database.DB
}

// NewQueryRepository creates a new QueryRepository
func NewQueryRepository(db *database.DB) *QueryRepository {
	return &QueryRepository{db: db}
}

// Aggregate runs a grouped statement built by the analytics service.
func (r *QueryRepository) Aggregate(ctx context.Context, b *query.Builder) ([]models.Record, error) {
	q := b.Build()
	return r.Raw(ctx, q.SQL, q.Params...)
}

// Raw runs a SELECT that has already been validated and scoped.
func (r *QueryRepository) Raw(ctx context.Context, sql string, args ...interface{}) ([]models.Record, error) {
	rows, err := executor(ctx, r.db).QueryContext(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("analytics query failed: %w", err)
	}
	defer rows.Close()
	return query.ScanRows(rows)
}
