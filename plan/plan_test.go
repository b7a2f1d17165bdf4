package plan_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cube2222/octoframe/arrowexec/functions"
	"github.com/cube2222/octoframe/datasources/memory"
	"github.com/cube2222/octoframe/octoframe"
	. "github.com/cube2222/octoframe/plan"
)

func scanOf(t *testing.T, name string, rows int, fields ...SchemaField) Node {
	schema := NewSchema(fields...)
	values := make([][]any, rows)
	for i := range values {
		values[i] = make([]any, len(fields))
		for j, field := range fields {
			switch field.Type.TypeID {
			case octoframe.TypeIDString:
				values[i][j] = "x"
			case octoframe.TypeIDFloat64:
				values[i][j] = float64(i)
			default:
				values[i][j] = i
			}
		}
	}
	source, err := memory.FromRows(schema, values...)
	require.NoError(t, err)
	return NewScan(name, source)
}

func TestBinaryExpressionCoercion(t *testing.T) {
	small := NewColumn("a", octoframe.Int32)
	sum, err := NewBinaryExpression(functions.BinaryOpAdd, small, NewDynamicLiteral(octoframe.NewInt64(5)))
	require.NoError(t, err)
	assert.Equal(t, octoframe.Int32, sum.Type)
	assert.Equal(t, ExpressionTypeLiteral, sum.Binary.Right.ExpressionType)

	greater, err := NewBinaryExpression(functions.BinaryOpGreater, NewColumn("b", octoframe.Int64), NewDynamicLiteral(octoframe.NewFloat64(2.5)))
	require.NoError(t, err)
	assert.Equal(t, octoframe.TypeIDBoolean, greater.Type.TypeID)
	assert.Equal(t, ExpressionTypeCast, greater.Binary.Left.ExpressionType)
	assert.Equal(t, octoframe.TypeIDFloat64, greater.Binary.Left.Type.TypeID)

	_, err = NewBinaryExpression(functions.BinaryOpAdd, NewColumn("s", octoframe.String), NewColumn("b", octoframe.Int64))
	assert.True(t, octoframe.IsSchemaError(err, octoframe.TypeMismatch))
}

func TestCoerce(t *testing.T) {
	widened, err := Coerce(NewColumn("a", octoframe.Int32.WithNullable(true)), octoframe.Int64)
	require.NoError(t, err)
	assert.Equal(t, ExpressionTypeCast, widened.ExpressionType)
	assert.True(t, widened.Type.Nullable)

	_, err = Coerce(NewColumn("s", octoframe.String), octoframe.Int64)
	assert.True(t, octoframe.IsSchemaError(err, octoframe.TypeMismatch))
}

func TestJoinSchema(t *testing.T) {
	left := scanOf(t, "left", 3,
		SchemaField{Name: "k", Type: octoframe.Int64},
		SchemaField{Name: "a", Type: octoframe.String},
		SchemaField{Name: "b", Type: octoframe.Float64},
	)
	right := scanOf(t, "right", 2,
		SchemaField{Name: "k", Type: octoframe.Int64},
		SchemaField{Name: "b", Type: octoframe.Float64},
	)

	tests := []struct {
		kind  JoinKind
		names []string
		// nullable lists the nullable output columns.
		nullable []string
	}{
		{kind: JoinKindInner, names: []string{"k", "a", "b", "b_right"}},
		{kind: JoinKindLeft, names: []string{"k", "a", "b", "b_right"}, nullable: []string{"b_right"}},
		{kind: JoinKindFull, names: []string{"k", "a", "b", "k_right", "b_right"}, nullable: []string{"k", "a", "b", "k_right", "b_right"}},
		{kind: JoinKindSemi, names: []string{"k", "a", "b"}},
		{kind: JoinKindAnti, names: []string{"k", "a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			join, err := NewJoin(left, right, JoinOptions{Kind: tt.kind, LeftKeys: []string{"k"}, RightKeys: []string{"k"}})
			require.NoError(t, err)
			assert.Equal(t, tt.names, join.Schema.Names())
			var nullable []string
			for _, field := range join.Schema.Fields {
				if field.Type.Nullable {
					nullable = append(nullable, field.Name)
				}
			}
			assert.Equal(t, tt.nullable, nullable)

			derived, err := DeriveSchema(join)
			require.NoError(t, err)
			assert.True(t, derived.Equals(join.Schema))
		})
	}

	_, err := NewJoin(left, right, JoinOptions{Kind: JoinKindInner, LeftKeys: []string{"a"}, RightKeys: []string{"k"}})
	assert.True(t, octoframe.IsSchemaError(err, octoframe.TypeMismatch))
	_, err = NewJoin(left, right, JoinOptions{Kind: JoinKindInner, LeftKeys: []string{"nope"}, RightKeys: []string{"k"}})
	assert.True(t, octoframe.IsSchemaError(err, octoframe.UnresolvedColumn))
	_, err = NewJoin(left, right, JoinOptions{Kind: JoinKindInner})
	assert.True(t, octoframe.IsSchemaError(err, octoframe.InvalidPlan))
}

func TestDeriveSchema(t *testing.T) {
	scan := scanOf(t, "t", 10,
		SchemaField{Name: "a", Type: octoframe.Int64},
		SchemaField{Name: "b", Type: octoframe.Float64},
	)
	predicate, err := NewBinaryExpression(functions.BinaryOpGreater, NewColumn("a", octoframe.Int64), NewDynamicLiteral(octoframe.NewInt64(3)))
	require.NoError(t, err)
	filter, err := NewFilter(scan, predicate)
	require.NoError(t, err)
	b := NewColumn("b", octoframe.Float64)
	sum, err := NewAggregateExpression("sum", &b)
	require.NoError(t, err)
	aggregate, err := NewAggregate(filter, []NamedExpression{{Name: "a", Expression: NewColumn("a", octoframe.Int64)}}, []NamedExpression{{Name: "total", Expression: sum}})
	require.NoError(t, err)
	sorted, err := NewSort(aggregate, []SortKey{{Expression: NewColumn("total", sum.Type), Descending: true}})
	require.NoError(t, err)
	node := NewSlice(sorted, 0, 3)

	derived, err := DeriveSchema(node)
	require.NoError(t, err)
	assert.True(t, derived.Equals(node.Schema))
	assert.Equal(t, []string{"a", "total"}, derived.Names())

	_, err = NewFilter(scan, NewColumn("b", octoframe.Float64))
	assert.True(t, octoframe.IsSchemaError(err, octoframe.TypeMismatch))
}

func TestEstimateCardinality(t *testing.T) {
	big := scanOf(t, "big", 100, SchemaField{Name: "a", Type: octoframe.Int64})
	small := scanOf(t, "small", 4, SchemaField{Name: "b", Type: octoframe.Int64})

	assert.Equal(t, Estimate{Rows: 100, Known: true}, EstimateCardinality(big))
	assert.Equal(t, Estimate{Rows: 5, Known: true}, EstimateCardinality(NewSlice(big, 10, 5)))
	assert.Equal(t, Estimate{Rows: 3, Known: true}, EstimateCardinality(NewSlice(big, -3, -1)))
	assert.Equal(t, Estimate{Rows: 0, Known: true}, EstimateCardinality(NewSlice(big, 200, 5)))

	cross, err := NewJoin(big, small, JoinOptions{Kind: JoinKindCross})
	require.NoError(t, err)
	assert.Equal(t, Estimate{Rows: 400, Known: true}, EstimateCardinality(cross))

	union, err := NewUnion([]Node{big, big})
	require.NoError(t, err)
	assert.Equal(t, Estimate{Rows: 200, Known: true}, EstimateCardinality(union))
}

func TestCatalog(t *testing.T) {
	source, err := memory.FromRows(NewSchema(SchemaField{Name: "a", Type: octoframe.Int64}), []any{1})
	require.NoError(t, err)
	sources := map[string]Source{"t": source}
	catalog := NewCatalog(sources)
	delete(sources, "t")

	_, err = catalog.Lookup("t")
	assert.NoError(t, err)
	_, err = catalog.Lookup("u")
	assert.True(t, octoframe.IsSchemaError(err, octoframe.InvalidPlan))

	extended := catalog.With("u", source)
	assert.Equal(t, []string{"t", "u"}, extended.Names())
	assert.Equal(t, []string{"t"}, catalog.Names())
}
