package plan

import (
	"github.com/cube2222/octoframe/arrowexec/functions"
	"github.com/cube2222/octoframe/arrowexec/windows"
	"github.com/cube2222/octoframe/octoframe"
)

type Expression struct {
	Type octoframe.Type

	ExpressionType ExpressionType
	// Only one of the below may be non-null.
	Literal             *Literal
	Column              *Column
	Unary               *Unary
	Binary              *Binary
	FunctionCall        *FunctionCall
	Aggregate           *AggregateFunction
	Window              *WindowFunction
	Cast                *Cast
	Conditional         *Conditional
	CommonSubexpression *CommonSubexpression
}

type ExpressionType int

const (
	ExpressionTypeLiteral ExpressionType = iota
	ExpressionTypeColumn
	ExpressionTypeUnary
	ExpressionTypeBinary
	ExpressionTypeFunctionCall
	ExpressionTypeAggregate
	ExpressionTypeWindow
	ExpressionTypeCast
	ExpressionTypeConditional
	ExpressionTypeCommonSubexpression
)

func (t ExpressionType) String() string {
	switch t {
	case ExpressionTypeLiteral:
		return "literal"
	case ExpressionTypeColumn:
		return "column"
	case ExpressionTypeUnary:
		return "unary"
	case ExpressionTypeBinary:
		return "binary"
	case ExpressionTypeFunctionCall:
		return "function_call"
	case ExpressionTypeAggregate:
		return "aggregate"
	case ExpressionTypeWindow:
		return "window"
	case ExpressionTypeCast:
		return "cast"
	case ExpressionTypeConditional:
		return "conditional"
	case ExpressionTypeCommonSubexpression:
		return "common_subexpression"
	}
	return "unknown"
}

type Literal struct {
	Value octoframe.Value
	// Dynamic literals come from untyped Go constants and adopt the type of the other operand when it can represent them.
	Dynamic bool
}

type Column struct {
	Name string
}

type Unary struct {
	Op  functions.UnaryOp
	Arg Expression
}

// Binary operands are already coerced to the types the operator expects.
type Binary struct {
	Op          functions.BinaryOp
	Left, Right Expression
}

type FunctionCall struct {
	Name   string
	Args   []Expression
	Params []octoframe.Value
}

type AggregateFunction struct {
	Name string
	// Arg is nil for len.
	Arg *Expression
}

type WindowFunction struct {
	Function windows.Function
	Options  windows.Options
	// Arg is nil for row_number and over.
	Arg *Expression
	// Aggregate is set for over.
	Aggregate   *Expression
	PartitionBy []Expression
}

// Cast converts Arg to the type of the enclosing expression.
type Cast struct {
	Arg    Expression
	Strict bool
}

type Conditional struct {
	Condition  Expression
	Then, Else Expression
}

// CommonSubexpression references an entry of the owning node's common subexpression arena.
type CommonSubexpression struct {
	Index int
}

func NewColumn(name string, t octoframe.Type) Expression {
	return Expression{
		Type:           t,
		ExpressionType: ExpressionTypeColumn,
		Column:         &Column{Name: name},
	}
}

func NewLiteral(value octoframe.Value) Expression {
	return Expression{
		Type:           value.Type,
		ExpressionType: ExpressionTypeLiteral,
		Literal:        &Literal{Value: value},
	}
}

func NewDynamicLiteral(value octoframe.Value) Expression {
	out := NewLiteral(value)
	out.Literal.Dynamic = true
	return out
}

// Children returns the direct subexpressions.
func (expr *Expression) Children() []Expression {
	switch expr.ExpressionType {
	case ExpressionTypeUnary:
		return []Expression{expr.Unary.Arg}
	case ExpressionTypeBinary:
		return []Expression{expr.Binary.Left, expr.Binary.Right}
	case ExpressionTypeFunctionCall:
		return expr.FunctionCall.Args
	case ExpressionTypeAggregate:
		if expr.Aggregate.Arg != nil {
			return []Expression{*expr.Aggregate.Arg}
		}
	case ExpressionTypeWindow:
		var out []Expression
		if expr.Window.Arg != nil {
			out = append(out, *expr.Window.Arg)
		}
		if expr.Window.Aggregate != nil {
			out = append(out, *expr.Window.Aggregate)
		}
		return append(out, expr.Window.PartitionBy...)
	case ExpressionTypeCast:
		return []Expression{expr.Cast.Arg}
	case ExpressionTypeConditional:
		return []Expression{expr.Conditional.Condition, expr.Conditional.Then, expr.Conditional.Else}
	}
	return nil
}

// Walk calls fn for the expression and all its subexpressions, parents first.
// Returning false from fn skips the subexpressions of that expression.
func (expr *Expression) Walk(fn func(expr *Expression) bool) {
	if !fn(expr) {
		return
	}
	for _, child := range expr.Children() {
		child.Walk(fn)
	}
}

// ColumnNames lists the columns the expression references, in order of first appearance.
func (expr *Expression) ColumnNames() []string {
	var out []string
	seen := make(map[string]bool)
	expr.Walk(func(expr *Expression) bool {
		if expr.ExpressionType == ExpressionTypeColumn && !seen[expr.Column.Name] {
			seen[expr.Column.Name] = true
			out = append(out, expr.Column.Name)
		}
		return true
	})
	return out
}

// ContainsAggregate reports whether the expression contains an aggregate outside of a window.
func (expr *Expression) ContainsAggregate() bool {
	found := false
	expr.Walk(func(expr *Expression) bool {
		switch expr.ExpressionType {
		case ExpressionTypeAggregate:
			found = true
		case ExpressionTypeWindow:
			return false
		}
		return !found
	})
	return found
}

func (expr *Expression) ContainsWindow() bool {
	found := false
	expr.Walk(func(expr *Expression) bool {
		if expr.ExpressionType == ExpressionTypeWindow {
			found = true
		}
		return !found
	})
	return found
}

func (expr *Expression) ReferencesSubexpressions() bool {
	found := false
	expr.Walk(func(expr *Expression) bool {
		if expr.ExpressionType == ExpressionTypeCommonSubexpression {
			found = true
		}
		return !found
	})
	return found
}

// IsColumn reports whether the expression is a plain reference to a column.
func (expr *Expression) IsColumn() bool {
	return expr.ExpressionType == ExpressionTypeColumn
}

// SplitByAnd returns the conjuncts of a predicate.
func (expr Expression) SplitByAnd() []Expression {
	if expr.ExpressionType == ExpressionTypeBinary && expr.Binary.Op == functions.BinaryOpAnd {
		return append(expr.Binary.Left.SplitByAnd(), expr.Binary.Right.SplitByAnd()...)
	}
	return []Expression{expr}
}

// And joins predicates into one. It panics on an empty list.
func And(predicates ...Expression) Expression {
	out := predicates[0]
	for _, predicate := range predicates[1:] {
		out = Expression{
			Type:           octoframe.Boolean.WithNullable(out.Type.Nullable || predicate.Type.Nullable),
			ExpressionType: ExpressionTypeBinary,
			Binary: &Binary{
				Op:    functions.BinaryOpAnd,
				Left:  out,
				Right: predicate,
			},
		}
	}
	return out
}
