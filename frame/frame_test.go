package frame

import (
	"testing"

	"github.com/cube2222/octoframe/datasources/memory"
	"github.com/cube2222/octoframe/octoframe"
	"github.com/cube2222/octoframe/plan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFrame(t *testing.T) LazyFrame {
	schema := plan.NewSchema(
		plan.SchemaField{Name: "k", Type: octoframe.String},
		plan.SchemaField{Name: "a", Type: octoframe.Int64},
		plan.SchemaField{Name: "b", Type: octoframe.Float64.WithNullable(true)},
	)
	source, err := memory.FromRows(schema,
		[]any{"x", 1, 1.5},
		[]any{"y", 2, nil},
	)
	require.NoError(t, err)
	f, err := Scan(plan.NewCatalog(map[string]plan.Source{"t": source}), "t")
	require.NoError(t, err)
	return f
}

func TestScanUnknownTable(t *testing.T) {
	_, err := Scan(plan.NewCatalog(nil), "missing")
	assert.True(t, octoframe.IsSchemaError(err, octoframe.InvalidPlan))
}

func TestSelectUnresolvedColumn(t *testing.T) {
	f := testFrame(t)
	_, err := f.Select(Col("missing"))
	require.Error(t, err)
	assert.True(t, octoframe.IsSchemaError(err, octoframe.UnresolvedColumn))
}

func TestFilterTypeMismatch(t *testing.T) {
	f := testFrame(t)
	_, err := f.Filter(Col("k").Add(1))
	require.Error(t, err)
	assert.True(t, octoframe.IsSchemaError(err, octoframe.TypeMismatch))
}

func TestSelectNames(t *testing.T) {
	f := testFrame(t)
	out, err := f.Select(
		Col("a").Add(1),
		Lit(2).Mul(Col("b")),
		Col("a").Alias("c"),
		Lit(true),
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "literal"}, out.Schema().Names())
	assert.Equal(t, plan.NodeTypeProject, out.Plan().NodeType)
	// The dynamic literal adopted the column's type.
	assert.Equal(t, octoframe.Int64, out.Schema().Fields[0].Type)
}

func TestSelectDuplicateName(t *testing.T) {
	f := testFrame(t)
	_, err := f.Select(Col("a"), Col("a").Add(1))
	assert.True(t, octoframe.IsSchemaError(err, octoframe.DuplicateColumn))
}

func TestSelectAggregates(t *testing.T) {
	f := testFrame(t)

	out, err := f.Select(Col("a").Sum(), Len())
	require.NoError(t, err)
	assert.Equal(t, plan.NodeTypeAggregate, out.Plan().NodeType)
	assert.Empty(t, out.Plan().Aggregate.Keys)
	assert.Equal(t, []string{"a", "len"}, out.Schema().Names())

	out, err = f.Select(Col("a").Sum().Div(Col("a").Count()).Alias("avg"), Col("a").Sum().Alias("total"))
	require.NoError(t, err)
	require.Equal(t, plan.NodeTypeProject, out.Plan().NodeType)
	aggregate := out.Plan().Project.Source
	require.Equal(t, plan.NodeTypeAggregate, aggregate.NodeType)
	// sum(a) is computed once.
	assert.Equal(t, []string{"__agg_0", "__agg_1"}, aggregate.Schema.Names())
	assert.Equal(t, []string{"avg", "total"}, out.Schema().Names())
}

func TestSelectMixedContext(t *testing.T) {
	f := testFrame(t)
	_, err := f.Select(Col("a").Sum(), Col("b"))
	assert.ErrorIs(t, err, octoframe.ErrInvalidContext)

	_, err = f.Select(Col("a").Sum().Add(Col("a")))
	assert.ErrorIs(t, err, octoframe.ErrInvalidContext)
}

func TestGroupByAgg(t *testing.T) {
	f := testFrame(t)
	out, err := f.GroupBy(Col("k")).Agg(Col("a").Sum(), Col("b").Mean().Alias("mean_b"))
	require.NoError(t, err)
	assert.Equal(t, plan.NodeTypeAggregate, out.Plan().NodeType)
	assert.Equal(t, []string{"k", "a", "mean_b"}, out.Schema().Names())
	assert.Equal(t, octoframe.Int64, out.Schema().Fields[1].Type)

	_, err = f.GroupBy(Col("k")).Agg(Col("a"))
	assert.ErrorIs(t, err, octoframe.ErrInvalidContext)

	_, err = f.GroupBy(Col("missing")).Agg(Len())
	assert.True(t, octoframe.IsSchemaError(err, octoframe.UnresolvedColumn))
}

func TestWithColumns(t *testing.T) {
	f := testFrame(t)
	out, err := f.WithColumns(Col("a").Mul(2), Col("a").Add(1).Alias("c"))
	require.NoError(t, err)
	assert.Equal(t, []string{"k", "a", "b", "c"}, out.Schema().Names())

	_, err = f.WithColumns(Col("a").Sum())
	assert.ErrorIs(t, err, octoframe.ErrInvalidContext)
}

func TestWithColumnsWindows(t *testing.T) {
	f := testFrame(t)

	out, err := f.WithColumns(Col("a").CumSum().Over(Col("k")).Alias("running"))
	require.NoError(t, err)
	require.Equal(t, plan.NodeTypeWindow, out.Plan().NodeType)
	assert.Equal(t, []string{"k", "a", "b", "running"}, out.Schema().Names())

	out, err = f.WithColumns(Col("a").Sub(Col("a").Sum().Over(Col("k"))).Alias("a"))
	require.NoError(t, err)
	require.Equal(t, plan.NodeTypeProject, out.Plan().NodeType)
	assert.Equal(t, plan.NodeTypeWindow, out.Plan().Project.Source.NodeType)
	assert.Equal(t, []string{"k", "a", "b"}, out.Schema().Names())
}

func TestOverRequiresAggregate(t *testing.T) {
	f := testFrame(t)
	_, err := f.WithColumns(Col("a").Over(Col("k")))
	assert.ErrorIs(t, err, octoframe.ErrInvalidContext)
}

func TestDropRename(t *testing.T) {
	f := testFrame(t)
	out, err := f.Drop("b")
	require.NoError(t, err)
	assert.Equal(t, []string{"k", "a"}, out.Schema().Names())

	out, err = out.Rename(map[string]string{"a": "value"})
	require.NoError(t, err)
	assert.Equal(t, []string{"k", "value"}, out.Schema().Names())

	_, err = f.Drop("missing")
	assert.True(t, octoframe.IsSchemaError(err, octoframe.UnresolvedColumn))
}

func TestJoinCastsKeys(t *testing.T) {
	f := testFrame(t)
	other, err := memory.FromRows(plan.NewSchema(
		plan.SchemaField{Name: "a", Type: octoframe.Int32},
		plan.SchemaField{Name: "b", Type: octoframe.String},
	), []any{int32(1), "one"})
	require.NoError(t, err)
	right := FromPlan(plan.NewScan("other", other))

	out, err := f.Join(right, JoinOptions{On: []string{"a"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"k", "a", "b", "b_right"}, out.Schema().Names())
	join := out.Plan().Join
	require.NotNil(t, join)
	assert.Equal(t, plan.NodeTypeProject, join.Right.NodeType)
	assert.Equal(t, octoframe.Int64, join.Right.Schema.Fields[0].Type)

	_, err = f.Join(right, JoinOptions{LeftOn: []string{"k"}, RightOn: []string{"a"}})
	assert.True(t, octoframe.IsSchemaError(err, octoframe.TypeMismatch))
}

func TestSortAndSlices(t *testing.T) {
	f := testFrame(t)
	out, err := f.Sort(SortOptions{By: []Expr{Col("a"), Col("k")}, Descending: []bool{true}})
	require.NoError(t, err)
	keys := out.Plan().Sort.Keys
	require.Len(t, keys, 2)
	assert.True(t, keys[0].Descending)
	assert.True(t, keys[1].Descending)

	_, err = f.Sort(SortOptions{By: []Expr{Col("a")}, Descending: []bool{true, false}})
	assert.Error(t, err)

	out, err = f.Tail(3)
	require.NoError(t, err)
	assert.Equal(t, int64(-3), out.Plan().Slice.Offset)
	assert.Equal(t, int64(-1), out.Plan().Slice.Length)

	_, err = f.Head(-1)
	assert.Error(t, err)
}

func TestConcat(t *testing.T) {
	f := testFrame(t)
	out, err := Concat(f, f)
	require.NoError(t, err)
	assert.Equal(t, plan.NodeTypeUnion, out.Plan().NodeType)

	narrowed, err := f.Drop("b")
	require.NoError(t, err)
	_, err = Concat(f, narrowed)
	assert.Error(t, err)
}

func TestFrameIsImmutable(t *testing.T) {
	f := testFrame(t)
	before := plan.Fingerprint(f.Plan())
	_, err := f.Filter(Col("a").Gt(1))
	require.NoError(t, err)
	_, err = f.WithColumns(Col("a").Add(1).Alias("c"))
	require.NoError(t, err)
	assert.Equal(t, before, plan.Fingerprint(f.Plan()))
}
