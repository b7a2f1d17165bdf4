package aggregates

import (
	"context"
	"math"
	"testing"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/batch"
	"github.com/cube2222/octoframe/octoframe"
)

// Rows 0 and 1 form group 0, rows 2 and 4 group 1, row 3 group 2. Group 3 has no rows.
var groupIDs = []uint32{0, 0, 1, 2, 1}

func groupedValues(t *testing.T) execution.Record {
	schema := arrow.NewSchema([]arrow.Field{{Name: "v", Type: arrow.PrimitiveTypes.Int64, Nullable: true}}, nil)
	record, err := batch.FromRows(memory.NewGoAllocator(), schema, [][]any{{1}, {nil}, {3}, {nil}, {5}})
	require.NoError(t, err)
	return execution.Record{Record: record}
}

func evaluate(t *testing.T, name string, arg octoframe.Type) []any {
	details, ok := Lookup(name)
	require.True(t, ok)
	argType, out, err := details.Typecheck(arg)
	require.NoError(t, err)

	ctx := execution.NewContext(context.Background())
	ctx = ctx.WithGroups(&execution.Groups{IDs: groupIDs, Count: 4})
	expr := &Expression{
		Name:      name,
		Prototype: details.Prototype(argType, out),
		Arg:       execution.NewColumnReference(0),
	}
	arr, err := expr.Evaluate(ctx, groupedValues(t))
	require.NoError(t, err)

	values := make([]any, arr.Len())
	for i := range values {
		values[i] = batch.Value(arr, i)
	}
	return values
}

func TestAggregates(t *testing.T) {
	tests := []struct {
		name string
		want []any
	}{
		{name: "sum", want: []any{int64(1), int64(8), int64(0), int64(0)}},
		{name: "count", want: []any{int64(1), int64(2), int64(0), int64(0)}},
		{name: "len", want: []any{int64(2), int64(2), int64(1), int64(0)}},
		{name: "mean", want: []any{1.0, 4.0, nil, nil}},
		{name: "min", want: []any{int64(1), int64(3), nil, nil}},
		{name: "max", want: []any{int64(1), int64(5), nil, nil}},
		{name: "first", want: []any{int64(1), int64(3), nil, nil}},
		{name: "last", want: []any{nil, int64(5), nil, nil}},
		{name: "n_unique", want: []any{int64(2), int64(2), int64(1), int64(0)}},
		{name: "var", want: []any{nil, 2.0, nil, nil}},
		{name: "std", want: []any{nil, math.Sqrt(2), nil, nil}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, evaluate(t, tt.name, octoframe.Int64.WithNullable(true)))
		})
	}
}

func TestAggregateTypes(t *testing.T) {
	tests := []struct {
		name    string
		arg     octoframe.Type
		want    octoframe.Type
		wantErr bool
	}{
		{name: "sum", arg: octoframe.Int32, want: octoframe.Int64},
		{name: "sum", arg: octoframe.UInt8, want: octoframe.UInt64},
		{name: "sum", arg: octoframe.Float32, want: octoframe.Float64},
		{name: "sum", arg: octoframe.Boolean, want: octoframe.Int64},
		{name: "sum", arg: octoframe.String, wantErr: true},
		{name: "mean", arg: octoframe.Int64, want: octoframe.Float64.WithNullable(true)},
		{name: "count", arg: octoframe.String.WithNullable(true), want: octoframe.Int64},
		{name: "min", arg: octoframe.String, want: octoframe.String.WithNullable(true)},
		{name: "first", arg: octoframe.Boolean, want: octoframe.Boolean.WithNullable(true)},
	}
	for _, tt := range tests {
		t.Run(tt.name+" "+tt.arg.String(), func(t *testing.T) {
			details, ok := Lookup(tt.name)
			require.True(t, ok)
			_, out, err := details.Typecheck(tt.arg)
			if tt.wantErr {
				assert.True(t, octoframe.IsSchemaError(err, octoframe.TypeMismatch))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestAggregateOutsideGroupingContext(t *testing.T) {
	details, _ := Lookup("sum")
	expr := &Expression{
		Name:      "sum",
		Prototype: details.Prototype(octoframe.Int64, octoframe.Int64),
		Arg:       execution.NewColumnReference(0),
	}
	_, err := expr.Evaluate(execution.NewContext(context.Background()), groupedValues(t))
	assert.ErrorIs(t, err, octoframe.ErrInvalidContext)
}
