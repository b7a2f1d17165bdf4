package frame

import (
	"github.com/cube2222/octoframe/arrowexec/functions"
	"github.com/cube2222/octoframe/arrowexec/windows"
	"github.com/cube2222/octoframe/octoframe"
	"github.com/cube2222/octoframe/plan"
	"github.com/pkg/errors"
)

// Expr is an untyped expression. It gets typechecked against the schema of
// the frame it's used in.
type Expr struct {
	kind exprKind

	column  string
	literal octoframe.Value
	dynamic bool

	unaryOp  functions.UnaryOp
	binaryOp functions.BinaryOp
	function string
	params   []any
	args     []Expr

	alias  string
	castTo octoframe.Type
	strict bool

	window        windows.Function
	windowOptions windows.Options
	partitionBy   []Expr

	err error
}

type exprKind int

const (
	exprKindColumn exprKind = iota
	exprKindLiteral
	exprKindUnary
	exprKindBinary
	exprKindFunction
	exprKindAggregate
	exprKindWindow
	exprKindCast
	exprKindConditional
	exprKindAlias
)

func Col(name string) Expr {
	return Expr{kind: exprKindColumn, column: name}
}

// Lit creates a literal. Go ints and float64s are dynamic: they take the type of the
// expression they're combined with, if it can represent them.
func Lit(value any) Expr {
	v, err := octoframe.ValueOf(value)
	if err != nil {
		return Expr{kind: exprKindLiteral, err: err}
	}
	dynamic := false
	switch value.(type) {
	case int, float64:
		dynamic = true
	}
	return Expr{kind: exprKindLiteral, literal: v, dynamic: dynamic}
}

// Len counts the rows of the group.
func Len() Expr {
	return Expr{kind: exprKindAggregate, function: "len"}
}

// RowNumber numbers the rows of every partition, starting at 1.
func RowNumber() Expr {
	return Expr{kind: exprKindWindow, window: windows.FunctionRowNumber}
}

// Call calls a scalar function by name.
func Call(name string, params []any, args ...Expr) Expr {
	return Expr{kind: exprKindFunction, function: name, params: params, args: args}
}

func toExpr(v any) Expr {
	if expr, ok := v.(Expr); ok {
		return expr
	}
	return Lit(v)
}

func (e Expr) Alias(name string) Expr {
	return Expr{kind: exprKindAlias, alias: name, args: []Expr{e}}
}

// Cast converts the expression to the given type, values that don't fit become null.
func (e Expr) Cast(to octoframe.Type) Expr {
	return Expr{kind: exprKindCast, castTo: to, args: []Expr{e}}
}

// StrictCast converts the expression to the given type, failing execution on values that don't fit.
func (e Expr) StrictCast(to octoframe.Type) Expr {
	return Expr{kind: exprKindCast, castTo: to, strict: true, args: []Expr{e}}
}

func (e Expr) unary(op functions.UnaryOp) Expr {
	return Expr{kind: exprKindUnary, unaryOp: op, args: []Expr{e}}
}

func (e Expr) Not() Expr       { return e.unary(functions.UnaryOpNot) }
func (e Expr) Neg() Expr       { return e.unary(functions.UnaryOpNegate) }
func (e Expr) IsNull() Expr    { return e.unary(functions.UnaryOpIsNull) }
func (e Expr) IsNotNull() Expr { return e.unary(functions.UnaryOpIsNotNull) }

func (e Expr) binary(op functions.BinaryOp, other any) Expr {
	return Expr{kind: exprKindBinary, binaryOp: op, args: []Expr{e, toExpr(other)}}
}

// Arithmetic and comparison methods accept either an Expr or a Go value, which is used as a literal.

func (e Expr) Add(other any) Expr      { return e.binary(functions.BinaryOpAdd, other) }
func (e Expr) Sub(other any) Expr      { return e.binary(functions.BinaryOpSubtract, other) }
func (e Expr) Mul(other any) Expr      { return e.binary(functions.BinaryOpMultiply, other) }
func (e Expr) Div(other any) Expr      { return e.binary(functions.BinaryOpDivide, other) }
func (e Expr) FloorDiv(other any) Expr { return e.binary(functions.BinaryOpFloorDivide, other) }
func (e Expr) Mod(other any) Expr      { return e.binary(functions.BinaryOpModulo, other) }
func (e Expr) Eq(other any) Expr       { return e.binary(functions.BinaryOpEqual, other) }
func (e Expr) NotEq(other any) Expr    { return e.binary(functions.BinaryOpNotEqual, other) }
func (e Expr) Lt(other any) Expr       { return e.binary(functions.BinaryOpLess, other) }
func (e Expr) LtEq(other any) Expr     { return e.binary(functions.BinaryOpLessEqual, other) }
func (e Expr) Gt(other any) Expr       { return e.binary(functions.BinaryOpGreater, other) }
func (e Expr) GtEq(other any) Expr     { return e.binary(functions.BinaryOpGreaterEqual, other) }
func (e Expr) And(other any) Expr      { return e.binary(functions.BinaryOpAnd, other) }
func (e Expr) Or(other any) Expr       { return e.binary(functions.BinaryOpOr, other) }

func (e Expr) aggregate(name string) Expr {
	return Expr{kind: exprKindAggregate, function: name, args: []Expr{e}}
}

func (e Expr) Sum() Expr     { return e.aggregate("sum") }
func (e Expr) Mean() Expr    { return e.aggregate("mean") }
func (e Expr) Min() Expr     { return e.aggregate("min") }
func (e Expr) Max() Expr     { return e.aggregate("max") }
func (e Expr) Count() Expr   { return e.aggregate("count") }
func (e Expr) First() Expr   { return e.aggregate("first") }
func (e Expr) Last() Expr    { return e.aggregate("last") }
func (e Expr) NUnique() Expr { return e.aggregate("n_unique") }
func (e Expr) Std() Expr     { return e.aggregate("std") }
func (e Expr) Var() Expr     { return e.aggregate("var") }

func (e Expr) windowFunction(function windows.Function, options windows.Options) Expr {
	return Expr{kind: exprKindWindow, window: function, windowOptions: options, args: []Expr{e}}
}

// RollingSum sums the last size rows. A minPeriods of 0 requires a full window.
func (e Expr) RollingSum(size, minPeriods int) Expr {
	return e.windowFunction(windows.FunctionRollingSum, windows.Options{Size: size, MinPeriods: minPeriods})
}

func (e Expr) RollingMean(size, minPeriods int) Expr {
	return e.windowFunction(windows.FunctionRollingMean, windows.Options{Size: size, MinPeriods: minPeriods})
}

func (e Expr) RollingMin(size, minPeriods int) Expr {
	return e.windowFunction(windows.FunctionRollingMin, windows.Options{Size: size, MinPeriods: minPeriods})
}

func (e Expr) RollingMax(size, minPeriods int) Expr {
	return e.windowFunction(windows.FunctionRollingMax, windows.Options{Size: size, MinPeriods: minPeriods})
}

func (e Expr) CumSum() Expr   { return e.windowFunction(windows.FunctionCumSum, windows.Options{}) }
func (e Expr) CumCount() Expr { return e.windowFunction(windows.FunctionCumCount, windows.Options{}) }
func (e Expr) CumMin() Expr   { return e.windowFunction(windows.FunctionCumMin, windows.Options{}) }
func (e Expr) CumMax() Expr   { return e.windowFunction(windows.FunctionCumMax, windows.Options{}) }

// Shift moves values by offset rows within the partition. Positive offsets read earlier rows.
func (e Expr) Shift(offset int) Expr {
	return e.windowFunction(windows.FunctionShift, windows.Options{Offset: offset})
}

// Over partitions a window function by the given keys. Used on an aggregate,
// it broadcasts the aggregate of every partition back to the partition's rows.
func (e Expr) Over(partitionBy ...Expr) Expr {
	switch e.kind {
	case exprKindAggregate:
		return Expr{kind: exprKindWindow, window: windows.FunctionOver, args: []Expr{e}, partitionBy: partitionBy}
	case exprKindWindow:
		out := e
		out.partitionBy = append(append([]Expr{}, e.partitionBy...), partitionBy...)
		return out
	}
	return Expr{kind: exprKindWindow, err: errors.Wrap(octoframe.ErrInvalidContext, "over must follow an aggregate or window function")}
}

func (e Expr) Abs() Expr { return Call("abs", nil, e) }

func (e Expr) Round(decimals int) Expr { return Call("round", []any{decimals}, e) }

// Contains matches the string against a regular expression.
func (e Expr) Contains(pattern string) Expr { return Call("contains", []any{pattern}, e) }

func (e Expr) FillNull(value any) Expr { return Call("fill_null", []any{value}, e) }

func (e Expr) IsIn(values ...any) Expr { return Call("is_in", values, e) }

type WhenBuilder struct {
	condition Expr
}

type ThenBuilder struct {
	condition, then Expr
}

// When starts a conditional expression: When(cond).Then(a).Otherwise(b).
func When(condition Expr) WhenBuilder {
	return WhenBuilder{condition: condition}
}

func (b WhenBuilder) Then(value any) ThenBuilder {
	return ThenBuilder{condition: b.condition, then: toExpr(value)}
}

func (b ThenBuilder) Otherwise(value any) Expr {
	return Expr{kind: exprKindConditional, args: []Expr{b.condition, b.then, toExpr(value)}}
}

// OutputName is the name of the column the expression produces: its alias,
// or the leftmost column it references.
func (e Expr) OutputName() string {
	switch e.kind {
	case exprKindAlias:
		return e.alias
	case exprKindAggregate:
		if len(e.args) == 0 {
			return "len"
		}
	case exprKindWindow:
		if len(e.args) == 0 {
			return e.window.String()
		}
	}
	if name, ok := e.leftmostColumn(); ok {
		return name
	}
	return "literal"
}

func (e Expr) leftmostColumn() (string, bool) {
	if e.kind == exprKindColumn {
		return e.column, true
	}
	args := e.args
	if e.kind == exprKindConditional {
		// Named after the branches rather than the condition.
		args = []Expr{e.args[1], e.args[2], e.args[0]}
	}
	for _, arg := range args {
		if name, ok := arg.leftmostColumn(); ok {
			return name, true
		}
	}
	return "", false
}

// resolve typechecks the expression against the schema.
func (e Expr) resolve(schema plan.Schema) (plan.Expression, error) {
	if e.err != nil {
		return plan.Expression{}, e.err
	}
	args := make([]plan.Expression, len(e.args))
	for i := range e.args {
		arg, err := e.args[i].resolve(schema)
		if err != nil {
			return plan.Expression{}, err
		}
		args[i] = arg
	}

	switch e.kind {
	case exprKindColumn:
		field, err := schema.Field(e.column)
		if err != nil {
			return plan.Expression{}, err
		}
		return plan.NewColumn(field.Name, field.Type), nil
	case exprKindLiteral:
		if e.dynamic {
			return plan.NewDynamicLiteral(e.literal), nil
		}
		return plan.NewLiteral(e.literal), nil
	case exprKindUnary:
		return plan.NewUnaryExpression(e.unaryOp, args[0])
	case exprKindBinary:
		return plan.NewBinaryExpression(e.binaryOp, args[0], args[1])
	case exprKindFunction:
		params := make([]octoframe.Value, len(e.params))
		for i := range e.params {
			param, err := octoframe.ValueOf(e.params[i])
			if err != nil {
				return plan.Expression{}, errors.Wrapf(err, "parameter %d of %s", i, e.function)
			}
			params[i] = param
		}
		return plan.NewFunctionCallExpression(e.function, args, params)
	case exprKindAggregate:
		if len(args) == 0 {
			return plan.NewAggregateExpression(e.function, nil)
		}
		return plan.NewAggregateExpression(e.function, &args[0])
	case exprKindWindow:
		partitionBy := make([]plan.Expression, len(e.partitionBy))
		for i := range e.partitionBy {
			key, err := e.partitionBy[i].resolve(schema)
			if err != nil {
				return plan.Expression{}, err
			}
			partitionBy[i] = key
		}
		if e.window == windows.FunctionOver {
			return plan.NewWindowExpression(e.window, e.windowOptions, nil, &args[0], partitionBy)
		}
		if len(args) == 0 {
			return plan.NewWindowExpression(e.window, e.windowOptions, nil, nil, partitionBy)
		}
		return plan.NewWindowExpression(e.window, e.windowOptions, &args[0], nil, partitionBy)
	case exprKindCast:
		return plan.NewCastExpression(args[0], e.castTo, e.strict)
	case exprKindConditional:
		return plan.NewConditionalExpression(args[0], args[1], args[2])
	case exprKindAlias:
		return args[0], nil
	}
	panic("unexhaustive expression kind match")
}

func resolveNamed(schema plan.Schema, exprs []Expr) ([]plan.NamedExpression, error) {
	out := make([]plan.NamedExpression, len(exprs))
	for i := range exprs {
		expr, err := exprs[i].resolve(schema)
		if err != nil {
			return nil, err
		}
		out[i] = plan.NamedExpression{Name: exprs[i].OutputName(), Expression: expr}
	}
	return out, nil
}
