// Package celrule lets rule authors write routing conditions in a small
// subset of CEL, e.g.
//
//	payment_method == "card" && billing_country in ["US", "CA"] && amount < 10000
//
// Expressions are type-checked against one variable per routing key and
// lowered to an ast.IfStatement. Only conjunctions of comparisons are
// accepted; a disjunction is allowed when every branch tests the same key
// for membership, and is lowered to a single "in" comparison.
package celrule

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/operators"
	exprpb "google.golang.org/genproto/googleapis/api/expr/v1alpha1"

	"github.com/Mindburn-Labs/routecore/pkg/ast"
	"github.com/Mindburn-Labs/routecore/pkg/dvm"
)

var (
	ErrInvalidExpression = errors.New("celrule: invalid expression")
	ErrUnsupported       = errors.New("celrule: unsupported construct")
)

const (
	CodeInvalidExpression = "ERR_CELRULE_INVALID_EXPRESSION"
	CodeUnsupported       = "ERR_CELRULE_UNSUPPORTED"
)

// Error reports why an expression could not be lowered.
type Error struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Expression string `json:"expression"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s in %q", e.Code, e.Message, e.Expression)
}

func (e *Error) Unwrap() error {
	if e.Code == CodeUnsupported {
		return ErrUnsupported
	}
	return ErrInvalidExpression
}

// Compiler holds the CEL environment. It is safe for concurrent use.
type Compiler struct {
	env *cel.Env
}

// NewCompiler declares one variable per routing key: string for enum keys,
// int for number keys.
func NewCompiler() (*Compiler, error) {
	var opts []cel.EnvOption
	for _, k := range dvm.AllKeys() {
		t := cel.StringType
		if k.Kind() == dvm.KindNumber {
			t = cel.IntType
		}
		opts = append(opts, cel.Variable(k.String(), t))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, err
	}
	return &Compiler{env: env}, nil
}

// Lower type-checks src and converts it to a statement.
func (c *Compiler) Lower(src string) (ast.IfStatement, error) {
	checked, issues := c.env.Compile(src)
	if issues != nil && issues.Err() != nil {
		return ast.IfStatement{}, &Error{Code: CodeInvalidExpression, Message: issues.Err().Error(), Expression: src}
	}
	if !checked.OutputType().IsExactType(cel.BoolType) {
		return ast.IfStatement{}, &Error{Code: CodeInvalidExpression, Message: "expression is not boolean", Expression: src}
	}
	pb, err := cel.AstToCheckedExpr(checked)
	if err != nil {
		return ast.IfStatement{}, &Error{Code: CodeInvalidExpression, Message: err.Error(), Expression: src}
	}

	l := &lowerer{}
	if err := l.conjunction(pb.GetExpr()); err != nil {
		return ast.IfStatement{}, &Error{Code: CodeUnsupported, Message: err.Error(), Expression: src}
	}
	if l.invalid != nil {
		return ast.IfStatement{}, &Error{Code: CodeInvalidExpression, Message: l.invalid.Error(), Expression: src}
	}
	return ast.IfStatement{Condition: l.out}, nil
}

type lowerer struct {
	out []ast.Comparison
	// invalid is a value the domain model rejects; reported separately from
	// unsupported syntax.
	invalid error
}

func (l *lowerer) conjunction(e *exprpb.Expr) error {
	call := e.GetCallExpr()
	if call != nil && call.GetFunction() == operators.LogicalAnd {
		for _, arg := range call.GetArgs() {
			if err := l.conjunction(arg); err != nil {
				return err
			}
		}
		return nil
	}
	cmp, err := l.comparison(e)
	if err != nil {
		return err
	}
	l.out = append(l.out, cmp)
	return nil
}

func (l *lowerer) comparison(e *exprpb.Expr) (ast.Comparison, error) {
	call := e.GetCallExpr()
	if call == nil {
		return ast.Comparison{}, fmt.Errorf("expected a comparison, got %s", describe(e))
	}
	args := call.GetArgs()
	switch fn := call.GetFunction(); fn {
	case operators.LogicalOr:
		return l.disjunction(e)
	case operators.LogicalNot:
		inner, err := l.comparison(args[0])
		if err != nil {
			return ast.Comparison{}, err
		}
		switch inner.Type {
		case ast.In:
			inner.Type = ast.NotIn
		case ast.Equal:
			inner.Type = ast.NotEqual
		default:
			return ast.Comparison{}, fmt.Errorf("negation applies only to == and in, got %s", inner.Type)
		}
		return inner, nil
	case operators.In:
		key, err := variable(args[0])
		if err != nil {
			return ast.Comparison{}, err
		}
		list := args[1].GetListExpr()
		if list == nil {
			return ast.Comparison{}, fmt.Errorf("right side of in must be a list literal")
		}
		values := make([]dvm.Value, 0, len(list.GetElements()))
		for _, el := range list.GetElements() {
			v, err := l.literal(key, el)
			if err != nil {
				return ast.Comparison{}, err
			}
			values = append(values, v)
		}
		if len(values) == 0 {
			return ast.Comparison{}, fmt.Errorf("%s in []: empty list", key)
		}
		return ast.Comparison{Key: key, Type: ast.In, Values: values}, nil
	case operators.Equals, operators.NotEquals, operators.Less, operators.LessEquals, operators.Greater, operators.GreaterEquals:
		op, ok := binaryOps[fn]
		if !ok {
			return ast.Comparison{}, fmt.Errorf("operator %s", fn)
		}
		lhs, rhs := args[0], args[1]
		if lhs.GetIdentExpr() == nil && rhs.GetIdentExpr() != nil {
			lhs, rhs = rhs, lhs
			op = mirrored[op]
		}
		key, err := variable(lhs)
		if err != nil {
			return ast.Comparison{}, err
		}
		if op.Numeric() && key.Kind() != dvm.KindNumber {
			return ast.Comparison{}, fmt.Errorf("%s %s: ordering needs a number key", key, op)
		}
		v, err := l.literal(key, rhs)
		if err != nil {
			return ast.Comparison{}, err
		}
		return ast.Comparison{Key: key, Type: op, Values: []dvm.Value{v}}, nil
	default:
		return ast.Comparison{}, fmt.Errorf("function %s", fn)
	}
}

// disjunction accepts a || b || ... where every branch is == or in on the
// same key, and merges it into one in comparison.
func (l *lowerer) disjunction(e *exprpb.Expr) (ast.Comparison, error) {
	var branches []*exprpb.Expr
	var flatten func(*exprpb.Expr)
	flatten = func(x *exprpb.Expr) {
		if call := x.GetCallExpr(); call != nil && call.GetFunction() == operators.LogicalOr {
			for _, a := range call.GetArgs() {
				flatten(a)
			}
			return
		}
		branches = append(branches, x)
	}
	flatten(e)

	merged := ast.Comparison{Type: ast.In}
	seen := make(map[dvm.Value]struct{})
	for i, b := range branches {
		cmp, err := l.comparison(b)
		if err != nil {
			return ast.Comparison{}, err
		}
		if cmp.Type != ast.Equal && cmp.Type != ast.In {
			return ast.Comparison{}, fmt.Errorf("|| branches must be == or in, got %s", cmp.Type)
		}
		if i == 0 {
			merged.Key = cmp.Key
		} else if cmp.Key != merged.Key {
			return ast.Comparison{}, fmt.Errorf("|| across different keys (%s, %s)", merged.Key, cmp.Key)
		}
		for _, v := range cmp.Values {
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
			merged.Values = append(merged.Values, v)
		}
	}
	return merged, nil
}

var binaryOps = map[string]ast.ComparisonType{
	operators.Equals:        ast.Equal,
	operators.NotEquals:     ast.NotEqual,
	operators.Less:          ast.LessThan,
	operators.LessEquals:    ast.LessThanEqual,
	operators.Greater:       ast.GreaterThan,
	operators.GreaterEquals: ast.GreaterThanEqual,
}

// mirrored maps an operator to its form with operands swapped.
var mirrored = map[ast.ComparisonType]ast.ComparisonType{
	ast.Equal:            ast.Equal,
	ast.NotEqual:         ast.NotEqual,
	ast.LessThan:         ast.GreaterThan,
	ast.LessThanEqual:    ast.GreaterThanEqual,
	ast.GreaterThan:      ast.LessThan,
	ast.GreaterThanEqual: ast.LessThanEqual,
}

func variable(e *exprpb.Expr) (dvm.Key, error) {
	id := e.GetIdentExpr()
	if id == nil {
		return 0, fmt.Errorf("expected a routing key, got %s", describe(e))
	}
	return dvm.ParseKey(id.GetName())
}

func (l *lowerer) literal(key dvm.Key, e *exprpb.Expr) (dvm.Value, error) {
	c := e.GetConstExpr()
	if c == nil {
		if call := e.GetCallExpr(); call != nil && call.GetFunction() == operators.Negate {
			if n := call.GetArgs()[0].GetConstExpr(); n != nil {
				if _, ok := n.GetConstantKind().(*exprpb.Constant_Int64Value); ok {
					return dvm.NumberValue(key, -n.GetInt64Value())
				}
			}
		}
		return dvm.Value{}, fmt.Errorf("expected a literal for %s, got %s", key, describe(e))
	}
	switch k := c.GetConstantKind().(type) {
	case *exprpb.Constant_StringValue:
		v, err := dvm.ParseValue(key, k.StringValue)
		if err != nil && l.invalid == nil {
			l.invalid = err
		}
		return v, nil
	case *exprpb.Constant_Int64Value:
		return dvm.NumberValue(key, k.Int64Value)
	default:
		return dvm.Value{}, fmt.Errorf("unsupported literal for %s", key)
	}
}

func describe(e *exprpb.Expr) string {
	switch k := e.GetExprKind().(type) {
	case *exprpb.Expr_CallExpr:
		return "call to " + k.CallExpr.GetFunction()
	case *exprpb.Expr_IdentExpr:
		return "identifier " + k.IdentExpr.GetName()
	case *exprpb.Expr_ConstExpr:
		return "literal"
	case *exprpb.Expr_SelectExpr:
		return "field selection"
	case *exprpb.Expr_ListExpr:
		return "list"
	case *exprpb.Expr_ComprehensionExpr:
		return "comprehension"
	default:
		return "expression"
	}
}

// Format renders comparisons back to the CEL subset Lower accepts.
func Format(cs []ast.Comparison) string {
	if len(cs) == 0 {
		return "true"
	}
	parts := make([]string, len(cs))
	for i, c := range cs {
		parts[i] = formatComparison(c)
	}
	return strings.Join(parts, " && ")
}

var operatorText = map[ast.ComparisonType]string{
	ast.Equal:            "==",
	ast.NotEqual:         "!=",
	ast.LessThan:         "<",
	ast.LessThanEqual:    "<=",
	ast.GreaterThan:      ">",
	ast.GreaterThanEqual: ">=",
}

func formatComparison(c ast.Comparison) string {
	lit := func(v dvm.Value) string {
		if v.Key.Kind() == dvm.KindNumber {
			return fmt.Sprintf("%d", v.Number)
		}
		return fmt.Sprintf("%q", v.Text)
	}
	switch c.Type {
	case ast.In, ast.NotIn:
		items := make([]string, len(c.Values))
		for i, v := range c.Values {
			items[i] = lit(v)
		}
		expr := fmt.Sprintf("%s in [%s]", c.Key, strings.Join(items, ", "))
		if c.Type == ast.NotIn {
			return "!(" + expr + ")"
		}
		return expr
	default:
		return fmt.Sprintf("%s %s %s", c.Key, operatorText[c.Type], lit(c.Values[0]))
	}
}
