package database

import (
	"regexp"
	"strings"
	"testing"

	"github.com/nexuscrm/mycrm/internal/domain/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var createTableRe = regexp.MustCompile("(?s)CREATE TABLE IF NOT EXISTS `(\\w+)` \\((.*?)\\n\\);")

func schemaTables(t *testing.T) map[string]string {
	t.Helper()
	raw, err := migrationFiles.ReadFile("migrations/000001_init.up.sql")
	require.NoError(t, err)
	tables := make(map[string]string)
	for _, m := range createTableRe.FindAllStringSubmatch(string(raw), -1) {
		tables[m[1]] = m[2]
	}
	return tables
}

func TestSchemaCoversRegistry(t *testing.T) {
	tables := schemaTables(t)
	for _, def := range entity.NewCRMRegistry().All() {
		body, ok := tables[def.Table]
		if !assert.True(t, ok, "table %s missing from schema", def.Table) {
			continue
		}
		for _, col := range def.Columns() {
			assert.Contains(t, body, "`"+col+"`", "column %s.%s missing from schema", def.Table, col)
		}
	}
}

func TestDownDropsEveryTable(t *testing.T) {
	raw, err := migrationFiles.ReadFile("migrations/000001_init.down.sql")
	require.NoError(t, err)
	down := string(raw)
	for table := range schemaTables(t) {
		assert.True(t, strings.Contains(down, "DROP TABLE IF EXISTS `"+table+"`;"), "down migration keeps %s", table)
	}
}
