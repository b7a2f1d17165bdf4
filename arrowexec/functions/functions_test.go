package functions

import (
	"context"
	"math"
	"testing"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"
	"github.com/apache/arrow/go/v13/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/batch"
	"github.com/cube2222/octoframe/octoframe"
)

func column(t *testing.T, typ octoframe.Type, values ...any) arrow.Array {
	builder := array.NewBuilder(memory.DefaultAllocator, typ.ToArrow())
	defer builder.Release()
	for _, value := range values {
		require.NoError(t, batch.AppendValue(builder, value))
	}
	return builder.NewArray()
}

func valuesOf(arr arrow.Array) []any {
	out := make([]any, arr.Len())
	for i := range out {
		out[i] = batch.Value(arr, i)
	}
	return out
}

func runBinary(t *testing.T, op BinaryOp, checked bool, left, right arrow.Array, leftType, rightType octoframe.Type) (arrow.Array, error) {
	leftTarget, rightTarget, out, err := BinaryTypecheck(op, leftType, rightType)
	require.NoError(t, err)
	kernel, err := MakeBinaryKernel(op, leftTarget, rightTarget, out, checked)
	require.NoError(t, err)
	return kernel(execution.NewContext(context.Background()), []arrow.Array{left, right})
}

func TestIntegerArithmetic(t *testing.T) {
	nullableInt := octoframe.Int64.WithNullable(true)

	tests := []struct {
		name  string
		op    BinaryOp
		left  []any
		right []any
		want  []any
	}{
		{
			name:  "true division",
			op:    BinaryOpDivide,
			left:  []any{7, 1, nil},
			right: []any{2, 0, 3},
			want:  []any{3.5, nil, nil},
		},
		{
			name:  "floor division",
			op:    BinaryOpFloorDivide,
			left:  []any{7, -7, 1},
			right: []any{2, 2, 0},
			want:  []any{int64(3), int64(-4), nil},
		},
		{
			name:  "modulo",
			op:    BinaryOpModulo,
			left:  []any{7, -7, 1},
			right: []any{3, 3, 0},
			want:  []any{int64(1), int64(2), nil},
		},
		{
			name:  "wrapping overflow",
			op:    BinaryOpAdd,
			left:  []any{math.MaxInt64, 1},
			right: []any{1, nil},
			want:  []any{int64(math.MinInt64), nil},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runBinary(t, tt.op, false,
				column(t, nullableInt, tt.left...), column(t, nullableInt, tt.right...),
				nullableInt, nullableInt)
			require.NoError(t, err)
			assert.Equal(t, tt.want, valuesOf(out))
		})
	}
}

func TestCheckedArithmetic(t *testing.T) {
	tests := []struct {
		name  string
		op    BinaryOp
		left  int64
		right int64
	}{
		{name: "add", op: BinaryOpAdd, left: math.MaxInt64, right: 1},
		{name: "subtract", op: BinaryOpSubtract, left: math.MinInt64, right: 1},
		{name: "multiply", op: BinaryOpMultiply, left: 2, right: math.MaxInt64},
		{name: "floor divide", op: BinaryOpFloorDivide, left: math.MinInt64, right: -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runBinary(t, tt.op, true,
				column(t, octoframe.Int64, tt.left), column(t, octoframe.Int64, tt.right),
				octoframe.Int64, octoframe.Int64)
			assert.ErrorIs(t, err, octoframe.ErrArithmeticOverflow)
		})
	}

	out, err := runBinary(t, BinaryOpMultiply, true,
		column(t, octoframe.Int64, int64(3)), column(t, octoframe.Int64, int64(-4)),
		octoframe.Int64, octoframe.Int64)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(-12)}, valuesOf(out))
}

func TestKleeneLogic(t *testing.T) {
	nullableBool := octoframe.Boolean.WithNullable(true)
	left := column(t, nullableBool, true, false, nil, nil, nil, true)
	right := column(t, nullableBool, nil, nil, true, false, nil, true)

	and, err := runBinary(t, BinaryOpAnd, false, left, right, nullableBool, nullableBool)
	require.NoError(t, err)
	assert.Equal(t, []any{nil, false, nil, false, nil, true}, valuesOf(and))

	or, err := runBinary(t, BinaryOpOr, false, left, right, nullableBool, nullableBool)
	require.NoError(t, err)
	assert.Equal(t, []any{true, nil, true, nil, nil, true}, valuesOf(or))
}

func TestComparisonPropagatesNulls(t *testing.T) {
	nullableInt := octoframe.Int64.WithNullable(true)
	out, err := runBinary(t, BinaryOpLess, false,
		column(t, nullableInt, 1, nil, 5), column(t, nullableInt, 2, 2, 5),
		nullableInt, nullableInt)
	require.NoError(t, err)
	assert.Equal(t, []any{true, nil, false}, valuesOf(out))
}

func TestCast(t *testing.T) {
	ctx := execution.NewContext(context.Background())

	tests := []struct {
		name    string
		from    octoframe.Type
		to      octoframe.Type
		values  []any
		want    []any
		wantErr bool
	}{
		{
			name:   "string to int",
			from:   octoframe.String.WithNullable(true),
			to:     octoframe.Int64.WithNullable(true),
			values: []any{"12", " 7 ", "x", nil},
			want:   []any{int64(12), int64(7), nil, nil},
		},
		{
			name:    "strict string to int",
			from:    octoframe.String,
			to:      octoframe.Int64,
			values:  []any{"12", "x"},
			wantErr: true,
		},
		{
			name:   "float to narrow int",
			from:   octoframe.Float64,
			to:     octoframe.Int32.WithNullable(true),
			values: []any{2.0, 1e10},
			want:   []any{int32(2), nil},
		},
		{
			name:   "int to string",
			from:   octoframe.Int64,
			to:     octoframe.String,
			values: []any{-3},
			want:   []any{"-3"},
		},
		{
			name:   "string to bool",
			from:   octoframe.String,
			to:     octoframe.Boolean.WithNullable(true),
			values: []any{"true", "false", "maybe"},
			want:   []any{true, false, nil},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kernel, err := MakeCastKernel(tt.from, tt.to, tt.wantErr)
			require.NoError(t, err)
			out, err := kernel(ctx, []arrow.Array{column(t, tt.from, tt.values...)})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, valuesOf(out))
		})
	}

	_, err := MakeCastKernel(octoframe.Boolean, octoframe.Datetime, false)
	assert.True(t, octoframe.IsSchemaError(err, octoframe.TypeMismatch))
}

func TestNullAwareFunctions(t *testing.T) {
	ctx := execution.NewContext(context.Background())
	nullableInt := octoframe.Int64.WithNullable(true)

	descriptor, ok := Lookup("coalesce")
	require.True(t, ok)
	argTypes, out, err := descriptor.Typecheck([]octoframe.Type{nullableInt, octoframe.Int64}, nil)
	require.NoError(t, err)
	assert.False(t, out.Nullable)
	kernel, err := Make("coalesce", argTypes, nil, out)
	require.NoError(t, err)
	result, err := kernel(ctx, []arrow.Array{column(t, nullableInt, nil, 2), column(t, octoframe.Int64, 5, 6)})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(5), int64(2)}, valuesOf(result))

	descriptor, ok = Lookup("fill_null")
	require.True(t, ok)
	params := []octoframe.Value{octoframe.NewInt64(0)}
	argTypes, out, err = descriptor.Typecheck([]octoframe.Type{nullableInt}, params)
	require.NoError(t, err)
	kernel, err = Make("fill_null", argTypes, params, out)
	require.NoError(t, err)
	result, err = kernel(ctx, []arrow.Array{column(t, nullableInt, nil, 3)})
	require.NoError(t, err)
	assert.Equal(t, []any{int64(0), int64(3)}, valuesOf(result))
}

func TestStrictFunctionOverNullType(t *testing.T) {
	kernel, err := Make("abs", []octoframe.Type{octoframe.Null}, nil, octoframe.Null)
	require.NoError(t, err)
	out, err := kernel(execution.NewContext(context.Background()), []arrow.Array{column(t, octoframe.Null, nil, nil)})
	require.NoError(t, err)
	assert.Equal(t, []any{nil, nil}, valuesOf(out))
}

func TestRegisteredFunctions(t *testing.T) {
	names := Names()
	for _, name := range []string{
		"abs", "round", "sqrt", "coalesce", "fill_null", "upper", "lower", "len_chars", "contains",
		"starts_with", "ends_with", "replace", "strip", "substring", "concat_str", "year", "month",
		"day", "hour", "minute", "second", "weekday", "truncate_days", "list_get", "list_len",
		"struct_field", "is_in",
	} {
		assert.Contains(t, names, name)
	}
}
