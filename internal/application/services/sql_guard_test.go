package services

import (
	"strings"
	"testing"

	"github.com/nexuscrm/mycrm/internal/domain/entity"
	appErrors "github.com/nexuscrm/mycrm/pkg/errors"
	"github.com/pingcap/tidb/pkg/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rewrite(t *testing.T, sql string, maxRows int) string {
	t.Helper()
	out, err := NewSQLGuard(entity.NewCRMRegistry()).Rewrite(sql, testTenant, maxRows)
	require.NoError(t, err)
	_, _, err = parser.New().Parse(out, "", "")
	require.NoError(t, err, "rewritten statement must parse: %s", out)
	return out
}

func TestSQLGuardScopesEveryTable(t *testing.T) {
	out := rewrite(t, "SELECT c.name, COUNT(o.id) FROM companies c LEFT JOIN opportunities o ON o.company_id = c.id GROUP BY c.name", 1001)

	assert.Equal(t, 2, strings.Count(out, testTenant))
	assert.Contains(t, out, "`c`.`tenant_id`")
	assert.Contains(t, out, "`o`.`tenant_id`")
	assert.Equal(t, 2, strings.Count(out, "IS NULL"))
	assert.Contains(t, out, "LIMIT 1001")
}

func TestSQLGuardKeepsExistingWhere(t *testing.T) {
	out := rewrite(t, "SELECT name FROM leads WHERE score > 50 OR status = 'new'", 10)

	assert.Contains(t, out, "(`score`>50 OR `status`=")
	assert.Contains(t, out, "`leads`.`tenant_id`")
	assert.Contains(t, out, "LIMIT 10")
}

func TestSQLGuardScopesSubqueries(t *testing.T) {
	out := rewrite(t, "SELECT name FROM companies WHERE id IN (SELECT company_id FROM contacts)", 100)
	assert.Equal(t, 2, strings.Count(out, testTenant))
}

func TestSQLGuardLimit(t *testing.T) {
	assert.Contains(t, rewrite(t, "SELECT id FROM tasks LIMIT 5", 100), "LIMIT 5")
	assert.Contains(t, rewrite(t, "SELECT id FROM tasks LIMIT 5000", 100), "LIMIT 100")
	assert.Contains(t, rewrite(t, "SELECT id FROM tasks LIMIT 10, 5000", 100), "LIMIT 10,100")
}

func TestSQLGuardRejects(t *testing.T) {
	guard := NewSQLGuard(entity.NewCRMRegistry())
	cases := map[string]string{
		"update":        "UPDATE leads SET score = 1",
		"delete":        "DELETE FROM leads",
		"two":           "SELECT 1 FROM leads; SELECT 2 FROM leads",
		"unknown table": "SELECT * FROM users",
		"schema":        "SELECT * FROM mysql.leads",
		"system table":  "SELECT * FROM information_schema.tables",
		"subquery":      "SELECT * FROM leads WHERE id IN (SELECT user_id FROM sessions)",
		"sleep":         "SELECT SLEEP(10) FROM leads",
		"lock":          "SELECT * FROM leads FOR UPDATE",
		"into":          "SELECT * FROM leads INTO OUTFILE '/tmp/x'",
		"variable":      "SELECT @@version FROM leads",
		"cte":           "WITH x AS (SELECT 1) SELECT * FROM x",
		"garbage":       "SELEC name",
	}
	for name, sql := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := guard.Rewrite(sql, testTenant, 100)
			require.Error(t, err)
			assert.True(t, appErrors.IsValidation(err), "got %v", err)
		})
	}
}

func TestSQLGuardRejectsBadTenant(t *testing.T) {
	_, err := NewSQLGuard(entity.NewCRMRegistry()).Rewrite("SELECT id FROM leads", "' OR 1=1 --", 10)
	require.Error(t, err)
}
