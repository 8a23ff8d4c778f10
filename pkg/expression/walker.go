package expression

import (
	"errors"
	"fmt"
	"strings"

	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
)

// Resolver maps an identifier used in a filter to a SQL column. It reports
// false for names the caller may not filter on.
type Resolver func(name string) (column string, ok bool)

var ErrUnknownIdentifier = errors.New("unknown field")

// ToSQL compiles a filter such as `stage == "proposal" && amount >= 1000`
// into a parenthesized WHERE fragment. Every literal becomes a placeholder.
func ToSQL(expression string, resolve Resolver) (string, []interface{}, error) {
	tree, err := parser.Parse(expression)
	if err != nil {
		return "", nil, fmt.Errorf("failed to parse expression: %w", err)
	}
	t := &translator{resolve: resolve}
	t.node(tree.Node)
	if t.err != nil {
		return "", nil, t.err
	}
	return t.sql.String(), t.args, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// EscapeLike escapes LIKE wildcards in s.
func EscapeLike(s string) string {
	return likeEscaper.Replace(s)
}

var comparisons = map[string]string{
	"==": "=", "!=": "!=", "<": "<", "<=": "<=", ">": ">", ">=": ">=",
	"&&": "AND", "and": "AND", "||": "OR", "or": "OR",
	"+": "+", "-": "-", "*": "*", "/": "/",
}

// functions lists the calls a filter may use. arity -1 passes the arguments
// through unchanged.
var functions = map[string]struct {
	sql   string
	arity int
}{
	"UPPER": {"UPPER", -1},
	"LOWER": {"LOWER", -1},
	"LEN":   {"CHAR_LENGTH", -1},
	"TODAY": {"CURDATE", 0},
	"NOW":   {"NOW", 0},
}

var likePatterns = map[string]func(string) string{
	"CONTAINS":    func(s string) string { return "%" + s + "%" },
	"STARTS_WITH": func(s string) string { return s + "%" },
	"ENDS_WITH":   func(s string) string { return "%" + s },
}

type translator struct {
	sql     strings.Builder
	args    []interface{}
	resolve Resolver
	err     error
}

func (t *translator) write(parts ...string) {
	for _, p := range parts {
		t.sql.WriteString(p)
	}
}

func (t *translator) fail(format string, args ...interface{}) {
	if t.err == nil {
		t.err = fmt.Errorf(format, args...)
	}
}

func (t *translator) arg(v interface{}) {
	t.write("?")
	t.args = append(t.args, v)
}

func (t *translator) node(n ast.Node) {
	if t.err != nil || n == nil {
		return
	}
	switch v := n.(type) {
	case *ast.IdentifierNode:
		col, ok := t.resolve(v.Value)
		if !ok {
			t.err = fmt.Errorf("%w: %s", ErrUnknownIdentifier, v.Value)
			return
		}
		t.write(col)
	case *ast.StringNode:
		t.arg(v.Value)
	case *ast.IntegerNode:
		t.arg(v.Value)
	case *ast.FloatNode:
		t.arg(v.Value)
	case *ast.BoolNode:
		t.arg(v.Value)
	case *ast.NilNode:
		t.write("NULL")
	case *ast.BinaryNode:
		t.binary(v)
	case *ast.UnaryNode:
		t.unary(v)
	case *ast.CallNode:
		t.call(v)
	default:
		t.fail("unsupported node type: %T", n)
	}
}

// isNull matches both the nil literal and a bare null/nil identifier.
func isNull(n ast.Node) bool {
	switch v := n.(type) {
	case *ast.NilNode:
		return true
	case *ast.IdentifierNode:
		name := strings.ToLower(v.Value)
		return name == "null" || name == "nil"
	}
	return false
}

func (t *translator) binary(n *ast.BinaryNode) {
	switch {
	case isNull(n.Left) || isNull(n.Right):
		t.nullCheck(n)
	case n.Operator == "in" || n.Operator == "not in":
		t.membership(n)
	default:
		op, ok := comparisons[n.Operator]
		if !ok {
			t.fail("unsupported operator: %s", n.Operator)
			return
		}
		t.write("(")
		t.node(n.Left)
		t.write(" ", op, " ")
		t.node(n.Right)
		t.write(")")
	}
}

func (t *translator) nullCheck(n *ast.BinaryNode) {
	field := n.Left
	if isNull(field) {
		field = n.Right
	}
	var suffix string
	switch n.Operator {
	case "==":
		suffix = " IS NULL"
	case "!=":
		suffix = " IS NOT NULL"
	default:
		t.fail("unsupported operator for null comparison: %s", n.Operator)
		return
	}
	t.write("(")
	t.node(field)
	t.write(suffix, ")")
}

func (t *translator) membership(n *ast.BinaryNode) {
	list, ok := n.Right.(*ast.ArrayNode)
	if !ok || len(list.Nodes) == 0 {
		t.fail("%s requires a non-empty list literal", n.Operator)
		return
	}
	t.write("(")
	t.node(n.Left)
	t.write(" ", strings.ToUpper(n.Operator), " (")
	for i, item := range list.Nodes {
		switch item.(type) {
		case *ast.StringNode, *ast.IntegerNode, *ast.FloatNode, *ast.BoolNode:
		default:
			t.fail("list items must be literals")
			return
		}
		if i > 0 {
			t.write(", ")
		}
		t.node(item)
	}
	t.write("))")
}

func (t *translator) unary(n *ast.UnaryNode) {
	switch n.Operator {
	case "!", "not":
		t.write("(NOT ")
		t.node(n.Node)
		t.write(")")
	case "-":
		// fold negative literals so they stay placeholders
		switch lit := n.Node.(type) {
		case *ast.IntegerNode:
			t.arg(-lit.Value)
		case *ast.FloatNode:
			t.arg(-lit.Value)
		default:
			t.write("(-")
			t.node(n.Node)
			t.write(")")
		}
	default:
		t.fail("unsupported unary operator: %s", n.Operator)
	}
}

func (t *translator) call(n *ast.CallNode) {
	callee, ok := n.Callee.(*ast.IdentifierNode)
	if !ok {
		t.fail("unsupported callee type: %T", n.Callee)
		return
	}
	name := strings.ToUpper(callee.Value)

	if pattern, ok := likePatterns[name]; ok {
		t.like(name, n.Arguments, pattern)
		return
	}
	if name == "DATE_ADD" {
		if len(n.Arguments) != 2 {
			t.fail("DATE_ADD requires 2 arguments")
			return
		}
		t.write("DATE_ADD(")
		t.node(n.Arguments[0])
		t.write(", INTERVAL ")
		t.node(n.Arguments[1])
		t.write(" DAY)")
		return
	}

	fn, ok := functions[name]
	if !ok {
		t.fail("unsupported function: %s", callee.Value)
		return
	}
	if fn.arity >= 0 && len(n.Arguments) != fn.arity {
		t.fail("%s takes %d arguments", name, fn.arity)
		return
	}
	t.write(fn.sql, "(")
	for i, a := range n.Arguments {
		if i > 0 {
			t.write(", ")
		}
		t.node(a)
	}
	t.write(")")
}

func (t *translator) like(name string, args []ast.Node, pattern func(string) string) {
	if len(args) != 2 {
		t.fail("%s requires 2 arguments", name)
		return
	}
	needle, ok := args[1].(*ast.StringNode)
	if !ok {
		t.fail("%s second argument must be a string", name)
		return
	}
	t.write("(")
	t.node(args[0])
	t.write(" LIKE ")
	t.arg(pattern(EscapeLike(needle.Value)))
	t.write(")")
}
