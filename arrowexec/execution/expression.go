package execution

import (
	"fmt"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"
	"github.com/cube2222/octoframe/batch"
	"github.com/cube2222/octoframe/octoframe"
)

type Expression interface {
	Evaluate(ctx Context, record Record) (arrow.Array, error)
}

type ColumnReference struct {
	index int
}

func NewColumnReference(index int) *ColumnReference {
	return &ColumnReference{
		index: index,
	}
}

func (r *ColumnReference) Evaluate(ctx Context, record Record) (arrow.Array, error) {
	return record.Column(r.index), nil
}

type ConstArray struct {
	Array arrow.Array
}

func (c *ConstArray) Evaluate(ctx Context, record Record) (arrow.Array, error) {
	if c.Array.Len() != int(record.NumRows()) {
		panic("const array length doesn't match record length")
	}
	return c.Array, nil
}

// Constant repeats a literal value for every row of the record.
type Constant struct {
	Value octoframe.Value
	Type  arrow.DataType
}

func (c *Constant) Evaluate(ctx Context, record Record) (arrow.Array, error) {
	return batch.Repeat(ctx.Allocator, c.Type, c.Value.GoValue(), int(record.NumRows()))
}

type FunctionCall struct {
	function func(ctx Context, args []arrow.Array) (arrow.Array, error)
	args     []Expression
}

func NewFunctionCall(function func(ctx Context, args []arrow.Array) (arrow.Array, error), args []Expression) *FunctionCall {
	return &FunctionCall{
		function: function,
		args:     args,
	}
}

func (f *FunctionCall) Evaluate(ctx Context, record Record) (arrow.Array, error) {
	args := make([]arrow.Array, len(f.args))
	for i, arg := range f.args {
		arr, err := arg.Evaluate(ctx, record)
		if err != nil {
			return nil, fmt.Errorf("couldn't evaluate argument %d: %w", i, err)
		}
		args[i] = arr
	}

	return f.function(ctx, args)
}

// CommonSubexpression reads a subexpression evaluated once for the current record.
type CommonSubexpression struct {
	Index int
}

func (c *CommonSubexpression) Evaluate(ctx Context, record Record) (arrow.Array, error) {
	if c.Index >= len(ctx.Subexpressions) {
		return nil, fmt.Errorf("common subexpression %d not evaluated", c.Index)
	}
	return ctx.Subexpressions[c.Index], nil
}

// EvaluateSubexpressions evaluates an arena of common subexpressions in order,
// so later entries may reference earlier ones.
func EvaluateSubexpressions(ctx Context, subexpressions []Expression, record Record) (Context, error) {
	if len(subexpressions) == 0 {
		return ctx, nil
	}
	ctx.Subexpressions = make([]arrow.Array, 0, len(subexpressions))
	for i, expr := range subexpressions {
		arr, err := expr.Evaluate(ctx, record)
		if err != nil {
			return ctx, fmt.Errorf("couldn't evaluate common subexpression %d: %w", i, err)
		}
		ctx.Subexpressions = append(ctx.Subexpressions, arr)
	}
	return ctx, nil
}

// Conditional picks Then where Condition is true and Else otherwise (including null conditions).
type Conditional struct {
	Condition Expression
	Then      Expression
	Else      Expression
	Type      arrow.DataType
}

func (c *Conditional) Evaluate(ctx Context, record Record) (arrow.Array, error) {
	condition, err := c.Condition.Evaluate(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("couldn't evaluate condition: %w", err)
	}
	thenArr, err := c.Then.Evaluate(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("couldn't evaluate then branch: %w", err)
	}
	elseArr, err := c.Else.Evaluate(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("couldn't evaluate else branch: %w", err)
	}

	builder := array.NewBuilder(ctx.Allocator, c.Type)
	defer builder.Release()
	builder.Reserve(int(record.NumRows()))

	typedCondition := condition.(*array.Boolean)
	appendThen := batch.MakeAppender(builder, thenArr)
	appendElse := batch.MakeAppender(builder, elseArr)
	for i := 0; i < int(record.NumRows()); i++ {
		if typedCondition.IsValid(i) && typedCondition.Value(i) {
			appendThen(i)
		} else {
			appendElse(i)
		}
	}
	return builder.NewArray(), nil
}

// EvaluateAll evaluates the expressions against the record, sharing common subexpressions.
func EvaluateAll(ctx Context, subexpressions, exprs []Expression, record Record) ([]arrow.Array, error) {
	ctx, err := EvaluateSubexpressions(ctx, subexpressions, record)
	if err != nil {
		return nil, err
	}
	out := make([]arrow.Array, len(exprs))
	for i, expr := range exprs {
		arr, err := expr.Evaluate(ctx, record)
		if err != nil {
			return nil, fmt.Errorf("couldn't evaluate expression %d: %w", i, err)
		}
		out[i] = arr
	}
	return out, nil
}
