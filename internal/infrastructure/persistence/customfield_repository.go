package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/nexuscrm/mycrm/internal/domain/models"
	"github.com/nexuscrm/mycrm/internal/infrastructure/database"
	"github.com/nexuscrm/mycrm/pkg/constants"
	"github.com/nexuscrm/mycrm/pkg/query"
	"github.com/nexuscrm/mycrm/pkg/utils"
)

// CustomFieldRepository stores custom field definitions and their values.
// Each value row keeps its payload in the column matching its kind.
type CustomFieldRepository struct {
	db *database.DB
}

func NewCustomFieldRepository(db *database.DB) *CustomFieldRepository {
	return &CustomFieldRepository{db: db}
}

const definitionColumns = "id, tenant_id, entity, field_key, label, field_type, required, created_at"

func (r *CustomFieldRepository) InsertDefinition(ctx context.Context, d *models.CustomFieldDefinition) error {
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?)", constants.TableCustomFieldDefs, definitionColumns)
	_, err := executor(ctx, r.db).ExecContext(ctx, q, d.ID, d.TenantID, d.Entity, d.Key, d.Label, string(d.Type), d.Required, d.CreatedAt)
	return err
}

// ListDefinitions returns a tenant's definitions, optionally for one entity.
func (r *CustomFieldRepository) ListDefinitions(ctx context.Context, tenantID, entityName string) ([]*models.CustomFieldDefinition, error) {
	where := "tenant_id = ?"
	args := []interface{}{tenantID}
	if entityName != "" {
		where += " AND entity = ?"
		args = append(args, entityName)
	}
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY entity, field_key", definitionColumns, constants.TableCustomFieldDefs, where)
	rows, err := executor(ctx, r.db).QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	defs := make([]*models.CustomFieldDefinition, 0)
	for rows.Next() {
		var d models.CustomFieldDefinition
		var kind string
		if err := rows.Scan(&d.ID, &d.TenantID, &d.Entity, &d.Key, &d.Label, &kind, &d.Required, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.Type = models.FieldKind(kind)
		defs = append(defs, &d)
	}
	return defs, rows.Err()
}

// FindDefinition returns nil when the definition is not in tenantID.
func (r *CustomFieldRepository) FindDefinition(ctx context.Context, tenantID, id string) (*models.CustomFieldDefinition, error) {
	q := fmt.Sprintf("SELECT %s FROM %s WHERE tenant_id = ? AND id = ? LIMIT 1", definitionColumns, constants.TableCustomFieldDefs)
	var d models.CustomFieldDefinition
	var kind string
	err := executor(ctx, r.db).QueryRowContext(ctx, q, tenantID, id).
		Scan(&d.ID, &d.TenantID, &d.Entity, &d.Key, &d.Label, &kind, &d.Required, &d.CreatedAt)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	d.Type = models.FieldKind(kind)
	return &d, nil
}

// DeleteDefinition removes a definition together with its values.
func (r *CustomFieldRepository) DeleteDefinition(ctx context.Context, tenantID, id string) error {
	exec := executor(ctx, r.db)
	values := fmt.Sprintf("DELETE FROM %s WHERE tenant_id = ? AND definition_id = ?", constants.TableCustomFieldValues)
	if _, err := exec.ExecContext(ctx, values, tenantID, id); err != nil {
		return err
	}
	defs := fmt.Sprintf("DELETE FROM %s WHERE tenant_id = ? AND id = ?", constants.TableCustomFieldDefs)
	_, err := exec.ExecContext(ctx, defs, tenantID, id)
	return err
}

// valueColumns returns the five payload columns for v; all but one are nil.
func valueColumns(v models.Value) []interface{} {
	cols := make([]interface{}, 5)
	switch v.Kind {
	case models.KindText:
		cols[0] = *v.Text
	case models.KindNumber:
		cols[1] = *v.Number
	case models.KindBoolean:
		cols[2] = *v.Bool
	case models.KindDate:
		cols[3] = v.Date.Format(models.DateLayout)
	case models.KindJSON:
		cols[4] = []byte(v.JSON)
	}
	return cols
}

// UpsertValues writes values for one record, replacing earlier values of
// the same definitions.
func (r *CustomFieldRepository) UpsertValues(ctx context.Context, tenantID string, values []models.CustomFieldValue) error {
	if len(values) == 0 {
		return nil
	}
	columns := []string{"id", "tenant_id", "definition_id", "entity_type", "entity_id",
		"value_text", "value_number", "value_bool", "value_date", "value_json", "updated_at"}
	now := time.Now().UTC()
	rows := make([][]interface{}, 0, len(values))
	for _, v := range values {
		if err := v.Value.Validate(); err != nil {
			return err
		}
		row := []interface{}{utils.GenerateID(), tenantID, v.DefinitionID, v.Ref.Type, v.Ref.ID}
		row = append(row, valueColumns(v.Value)...)
		row = append(row, now)
		rows = append(rows, row)
	}

	q := query.InsertMany(constants.TableCustomFieldValues, columns, rows).Build()
	updates := make([]string, 0, 6)
	for _, c := range columns[5:] {
		updates = append(updates, fmt.Sprintf("%s = VALUES(%s)", query.Ident(c), query.Ident(c)))
	}
	stmt := q.SQL + " ON DUPLICATE KEY UPDATE " + strings.Join(updates, ", ")
	_, err := executor(ctx, r.db).ExecContext(ctx, stmt, q.Params...)
	return err
}

// LoadValues returns the values of many records of one entity in one query,
// keyed by record id and then by field key.
func (r *CustomFieldRepository) LoadValues(ctx context.Context, tenantID, entityType string, ids []string) (map[string]map[string]models.Value, error) {
	out := make(map[string]map[string]models.Value)
	if len(ids) == 0 {
		return out, nil
	}
	b := query.From(constants.TableCustomFieldValues).
		Select("entity_id", "value_text", "value_number", "value_bool", "value_date", "value_json").
		Select(query.Col("d", "field_key"), query.Col("d", "field_type")).
		Join("INNER", constants.TableCustomFieldDefs, "d",
			query.Col("d", constants.FieldID)+" = "+query.Col(constants.TableCustomFieldValues, "definition_id")).
		TenantScope(tenantID).
		WhereEq("entity_type", entityType).
		WhereIn("entity_id", toArgs(ids))
	q := b.Build()

	rows, err := executor(ctx, r.db).QueryContext(ctx, q.SQL, q.Params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			entityID, key, kind string
			text                sql.NullString
			number              sql.NullFloat64
			boolean             sql.NullBool
			date                sql.NullTime
			raw                 []byte
		)
		if err := rows.Scan(&entityID, &text, &number, &boolean, &date, &raw, &key, &kind); err != nil {
			return nil, err
		}
		var v models.Value
		switch models.FieldKind(kind) {
		case models.KindText:
			v = models.TextValue(text.String)
		case models.KindNumber:
			v = models.NumberValue(number.Float64)
		case models.KindBoolean:
			v = models.BoolValue(boolean.Bool)
		case models.KindDate:
			v = models.DateValue(date.Time)
		case models.KindJSON:
			v = models.JSONValue(append([]byte(nil), raw...))
		default:
			continue
		}
		if out[entityID] == nil {
			out[entityID] = make(map[string]models.Value)
		}
		out[entityID][key] = v
	}
	return out, rows.Err()
}

// DeleteValues removes the values of the given records.
func (r *CustomFieldRepository) DeleteValues(ctx context.Context, tenantID, entityType string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	q := query.Delete(constants.TableCustomFieldValues).
		TenantScope(tenantID).
		WhereEq("entity_type", entityType).
		WhereIn("entity_id", toArgs(ids)).
		Build()
	_, err := executor(ctx, r.db).ExecContext(ctx, q.SQL, q.Params...)
	return err
}
