package query

import (
	"database/sql"

	"github.com/nexuscrm/mycrm/internal/domain/models"
)

// ScanRows scans SQL rows into records. Text columns arrive as []byte and are
// converted to strings; typed decoding happens in the entity layer.
func ScanRows(rows *sql.Rows) ([]models.Record, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	results := make([]models.Record, 0)
	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		record := make(models.Record, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				record[col] = string(b)
			} else {
				record[col] = values[i]
			}
		}
		results = append(results, record)
	}

	return results, rows.Err()
}
