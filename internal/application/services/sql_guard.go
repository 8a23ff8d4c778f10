package services

import (
	"fmt"
	"strings"

	"github.com/nexuscrm/mycrm/internal/domain/entity"
	"github.com/nexuscrm/mycrm/pkg/constants"
	appErrors "github.com/nexuscrm/mycrm/pkg/errors"
	"github.com/nexuscrm/mycrm/pkg/utils"
	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	"github.com/pingcap/tidb/pkg/parser/format"
	"github.com/pingcap/tidb/pkg/parser/opcode"
	"github.com/pingcap/tidb/pkg/parser/test_driver"
)

// Functions that block, touch the file system or take server locks.
var forbiddenFunctions = map[string]bool{
	"sleep":           true,
	"benchmark":       true,
	"load_file":       true,
	"get_lock":        true,
	"release_lock":    true,
	"is_free_lock":    true,
	"is_used_lock":    true,
	"master_pos_wait": true,
}

// SQLGuard checks ad-hoc analytics statements and rewrites them so they
// can only read one tenant's rows of the registered entity tables.
type SQLGuard struct {
	tables map[string]*entity.EntityDefinition
}

func NewSQLGuard(registry *entity.Registry) *SQLGuard {
	return &SQLGuard{tables: registry.Tables()}
}

func sqlError(format string, args ...interface{}) error {
	return appErrors.NewValidationError("sql", fmt.Sprintf(format, args...))
}

// Rewrite parses sql, which must be a single SELECT, and returns it with a
// tenant predicate on every table it reads and a LIMIT of at most maxRows.
func (g *SQLGuard) Rewrite(sql, tenantID string, maxRows int) (string, error) {
	if !utils.IsValidUUID(tenantID) {
		return "", fmt.Errorf("invalid tenant id %q", tenantID)
	}
	stmts, _, err := parser.New().Parse(sql, "", "")
	if err != nil {
		return "", sqlError("could not parse statement: %v", err)
	}
	if len(stmts) != 1 {
		return "", sqlError("exactly one statement is allowed")
	}
	sel, ok := stmts[0].(*ast.SelectStmt)
	if !ok {
		return "", sqlError("only SELECT statements are allowed")
	}

	v := &guardVisitor{tables: g.tables}
	sel.Accept(v)
	if v.err != nil {
		return "", v.err
	}

	for _, s := range v.selects {
		if s.From == nil || s.From.TableRefs == nil {
			continue
		}
		scopeTables(s, s.From.TableRefs, tenantID)
	}
	capLimit(sel, maxRows)

	var sb strings.Builder
	if err := sel.Restore(format.NewRestoreCtx(format.DefaultRestoreFlags, &sb)); err != nil {
		return "", fmt.Errorf("failed to restore statement: %w", err)
	}
	return sb.String(), nil
}

// guardVisitor rejects anything but reads of registered tables and
// collects every SELECT block, subqueries included.
type guardVisitor struct {
	tables  map[string]*entity.EntityDefinition
	selects []*ast.SelectStmt
	err     error
}

func (v *guardVisitor) Enter(in ast.Node) (ast.Node, bool) {
	if v.err != nil {
		return in, true
	}
	switch n := in.(type) {
	case *ast.SelectStmt:
		switch {
		case n.With != nil:
			v.err = sqlError("WITH clauses are not supported")
		case n.LockInfo != nil && n.LockInfo.LockType != ast.SelectLockNone:
			v.err = sqlError("locking reads are not allowed")
		case n.SelectIntoOpt != nil:
			v.err = sqlError("SELECT ... INTO is not allowed")
		default:
			v.selects = append(v.selects, n)
		}
	case *ast.TableName:
		name := n.Name.L
		if n.Schema.O != "" {
			v.err = sqlError("schema-qualified table %s.%s is not allowed", n.Schema.O, n.Name.O)
		} else if _, ok := v.tables[name]; !ok {
			v.err = sqlError("table %q is not available", n.Name.O)
		}
	case *ast.FuncCallExpr:
		if forbiddenFunctions[n.FnName.L] {
			v.err = sqlError("function %s is not allowed", n.FnName.O)
		}
	case ast.ParamMarkerExpr:
		v.err = sqlError("placeholders are not supported")
	case *ast.VariableExpr:
		v.err = sqlError("variables are not allowed")
	}
	return in, v.err != nil
}

func (v *guardVisitor) Leave(in ast.Node) (ast.Node, bool) {
	return in, v.err == nil
}

// scopeTables adds a tenant predicate for every base table of a FROM tree.
// Rows null-extended by an outer join have a NULL tenant_id and are kept;
// stored rows always carry one.
func scopeTables(sel *ast.SelectStmt, node ast.ResultSetNode, tenantID string) {
	switch n := node.(type) {
	case *ast.Join:
		if n.Left != nil {
			scopeTables(sel, n.Left, tenantID)
		}
		if n.Right != nil {
			scopeTables(sel, n.Right, tenantID)
		}
	case *ast.TableSource:
		tn, ok := n.Source.(*ast.TableName)
		if !ok {
			return
		}
		alias := tn.Name.O
		if n.AsName.O != "" {
			alias = n.AsName.O
		}
		addWhere(sel, tenantPredicate(alias, tenantID))
	}
}

func tenantPredicate(alias, tenantID string) ast.ExprNode {
	column := func() *ast.ColumnNameExpr {
		return &ast.ColumnNameExpr{Name: &ast.ColumnName{
			Table: ast.NewCIStr(alias),
			Name:  ast.NewCIStr(constants.FieldTenantID),
		}}
	}
	value := &test_driver.ValueExpr{}
	value.SetString(tenantID)

	return &ast.ParenthesesExpr{Expr: &ast.BinaryOperationExpr{
		Op: opcode.LogicOr,
		L:  &ast.BinaryOperationExpr{Op: opcode.EQ, L: column(), R: value},
		R:  &ast.IsNullExpr{Expr: column()},
	}}
}

func addWhere(sel *ast.SelectStmt, cond ast.ExprNode) {
	if sel.Where == nil {
		sel.Where = cond
		return
	}
	sel.Where = &ast.BinaryOperationExpr{
		Op: opcode.LogicAnd,
		L:  &ast.ParenthesesExpr{Expr: sel.Where},
		R:  cond,
	}
}

// capLimit keeps a smaller LIMIT and replaces a missing or larger one.
func capLimit(sel *ast.SelectStmt, maxRows int) {
	if sel.Limit != nil {
		if v, ok := sel.Limit.Count.(ast.ValueExpr); ok {
			switch n := v.GetValue().(type) {
			case int64:
				if n >= 0 && n <= int64(maxRows) {
					return
				}
			case uint64:
				if n <= uint64(maxRows) {
					return
				}
			}
		}
	}
	count := &test_driver.ValueExpr{}
	count.SetInt64(int64(maxRows))
	if sel.Limit == nil {
		sel.Limit = &ast.Limit{}
	}
	sel.Limit.Count = count
}
