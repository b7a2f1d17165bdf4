package execution

import (
	"context"
	"testing"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"
	"github.com/apache/arrow/go/v13/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cube2222/octoframe/batch"
	"github.com/cube2222/octoframe/octoframe"
)

func conditionRecord(t *testing.T) Record {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "cond", Type: arrow.FixedWidthTypes.Boolean, Nullable: true},
		{Name: "a", Type: arrow.PrimitiveTypes.Int64},
		{Name: "b", Type: arrow.PrimitiveTypes.Int64},
	}, nil)
	record, err := batch.FromRows(memory.NewGoAllocator(), schema, [][]any{
		{true, 1, 10},
		{nil, 2, 20},
		{false, 3, 30},
	})
	require.NoError(t, err)
	return Record{Record: record}
}

func arrayValues(arr arrow.Array) []any {
	out := make([]any, arr.Len())
	for i := range out {
		out[i] = batch.Value(arr, i)
	}
	return out
}

func TestExpressions(t *testing.T) {
	tests := []struct {
		name string
		expr Expression
		want []any
	}{
		{
			name: "column reference",
			expr: NewColumnReference(2),
			want: []any{int64(10), int64(20), int64(30)},
		},
		{
			name: "constant",
			expr: &Constant{Value: octoframe.NewString("x"), Type: arrow.BinaryTypes.String},
			want: []any{"x", "x", "x"},
		},
		{
			name: "null constant",
			expr: &Constant{Value: octoframe.NewNull(), Type: arrow.PrimitiveTypes.Int64},
			want: []any{nil, nil, nil},
		},
		{
			name: "null condition takes else branch",
			expr: &Conditional{
				Condition: NewColumnReference(0),
				Then:      NewColumnReference(1),
				Else:      NewColumnReference(2),
				Type:      arrow.PrimitiveTypes.Int64,
			},
			want: []any{int64(1), int64(20), int64(30)},
		},
		{
			name: "nested conditional",
			expr: &Conditional{
				Condition: NewColumnReference(0),
				Then:      &Constant{Value: octoframe.NewNull(), Type: arrow.PrimitiveTypes.Int64},
				Else: &Conditional{
					Condition: NewColumnReference(0),
					Then:      NewColumnReference(1),
					Else:      NewColumnReference(1),
					Type:      arrow.PrimitiveTypes.Int64,
				},
				Type: arrow.PrimitiveTypes.Int64,
			},
			want: []any{nil, int64(2), int64(3)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := tt.expr.Evaluate(NewContext(context.Background()), conditionRecord(t))
			require.NoError(t, err)
			assert.Equal(t, tt.want, arrayValues(out))
		})
	}
}

func TestCommonSubexpressionEvaluatedOnce(t *testing.T) {
	calls := 0
	double := func(ctx Context, args []arrow.Array) (arrow.Array, error) {
		calls++
		in := args[0].(*array.Int64)
		builder := array.NewInt64Builder(ctx.Allocator)
		defer builder.Release()
		for i := 0; i < in.Len(); i++ {
			builder.Append(in.Value(i) * 2)
		}
		return builder.NewArray(), nil
	}

	subexpressions := []Expression{NewFunctionCall(double, []Expression{NewColumnReference(1)})}
	exprs := []Expression{
		&CommonSubexpression{Index: 0},
		NewFunctionCall(double, []Expression{&CommonSubexpression{Index: 0}}),
	}
	out, err := EvaluateAll(NewContext(context.Background()), subexpressions, exprs, conditionRecord(t))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, []any{int64(2), int64(4), int64(6)}, arrayValues(out[0]))
	assert.Equal(t, []any{int64(4), int64(8), int64(12)}, arrayValues(out[1]))
	assert.Equal(t, 2, calls)
}

func TestCommonSubexpressionMissing(t *testing.T) {
	_, err := EvaluateAll(NewContext(context.Background()), nil, []Expression{&CommonSubexpression{Index: 1}}, conditionRecord(t))
	assert.Error(t, err)
}
