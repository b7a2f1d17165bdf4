package optimizer

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cube2222/octoframe/datasources/memory"
	"github.com/cube2222/octoframe/frame"
	"github.com/cube2222/octoframe/octoframe"
	. "github.com/cube2222/octoframe/plan"
)

func scanFrame(t *testing.T, name string, capabilities Capabilities, schema Schema, rows ...[]any) frame.LazyFrame {
	source, err := memory.FromRows(schema, rows...)
	require.NoError(t, err)
	return frame.FromPlan(NewScan(name, source.WithCapabilities(capabilities)))
}

var allPushdowns = Capabilities{PredicatePushdown: true, ProjectionPushdown: true, SlicePushdown: true}

func abFrame(t *testing.T, capabilities Capabilities) frame.LazyFrame {
	return scanFrame(t, "t", capabilities, NewSchema(
		SchemaField{Name: "a", Type: octoframe.Int64},
		SchemaField{Name: "b", Type: octoframe.String},
	), []any{1, "x"}, []any{7, "y"})
}

func must(t *testing.T) func(f frame.LazyFrame, err error) frame.LazyFrame {
	return func(f frame.LazyFrame, err error) frame.LazyFrame {
		require.NoError(t, err)
		return f
	}
}

func firedRules(diagnostics []Diagnostic) []string {
	var out []string
	for _, d := range diagnostics {
		if d.Kind == DiagnosticRuleFired {
			out = append(out, d.Rule)
		}
	}
	return out
}

func TestFilterThenProjectCollapsesIntoScan(t *testing.T) {
	f := abFrame(t, allPushdowns)
	f = must(t)(f.Filter(frame.Col("a").Gt(5)))
	f = must(t)(f.Select(frame.Col("a")))

	out, diagnostics := New(Options{}).Optimize(f.Plan())
	require.Equal(t, NodeTypeScan, out.NodeType, graphText(out))
	assert.Equal(t, []string{"a"}, out.Scan.Columns)
	require.NotNil(t, out.Scan.Predicate)
	assert.Equal(t, "(a > 5)", DescribeExpression(*out.Scan.Predicate))
	assert.True(t, out.Schema.Equals(f.Schema()))
	assert.Contains(t, firedRules(diagnostics), "push_down_filters")
	assert.Contains(t, firedRules(diagnostics), "push_down_projections")
}

func TestFilterStaysAboveScanWithoutPushdown(t *testing.T) {
	f := abFrame(t, Capabilities{})
	f = must(t)(f.Filter(frame.Col("a").Gt(5)))

	out, _ := New(Options{}).Optimize(f.Plan())
	require.Equal(t, NodeTypeFilter, out.NodeType)
	assert.Equal(t, NodeTypeScan, out.Filter.Source.NodeType)
	assert.Nil(t, out.Filter.Source.Scan.Predicate)
}

func TestOptimizeIsIdempotent(t *testing.T) {
	f := abFrame(t, allPushdowns)
	other := scanFrame(t, "u", Capabilities{}, NewSchema(
		SchemaField{Name: "a", Type: octoframe.Int64},
		SchemaField{Name: "c", Type: octoframe.Float64},
	), []any{1, 1.5})
	f = must(t)(f.Join(other, frame.JoinOptions{On: []string{"a"}}))
	f = must(t)(f.Filter(frame.Col("c").Gt(1.0).And(frame.Col("a").Lt(10))))
	f = must(t)(f.Sort(frame.SortOptions{By: []frame.Expr{frame.Col("a")}}))
	f = must(t)(f.Head(5))
	f = must(t)(f.Select(frame.Col("b"), frame.Col("c").Mul(2)))

	o := New(Options{})
	once, _ := o.Optimize(f.Plan())
	twice, diagnostics := o.Optimize(once)
	assert.Equal(t, Fingerprint(once), Fingerprint(twice))
	assert.Empty(t, firedRules(diagnostics))
	assert.True(t, once.Schema.Equals(f.Schema()))
}

func TestMergeFilters(t *testing.T) {
	f := abFrame(t, Capabilities{})
	f = must(t)(f.Filter(frame.Col("a").Gt(1)))
	f = must(t)(f.Filter(frame.Col("b").Eq("y")))

	out, changed := MergeFilters(f.Plan())
	require.True(t, changed)
	require.Equal(t, NodeTypeFilter, out.NodeType)
	assert.Equal(t, NodeTypeScan, out.Filter.Source.NodeType)
	assert.Equal(t, `((a > 1) and (b == "y"))`, DescribeExpression(out.Filter.Predicate))

	_, changed = MergeFilters(out)
	assert.False(t, changed)
}

func TestPushDownFiltersThroughJoin(t *testing.T) {
	left := abFrame(t, Capabilities{})
	right := scanFrame(t, "u", Capabilities{}, NewSchema(
		SchemaField{Name: "a", Type: octoframe.Int64},
		SchemaField{Name: "c", Type: octoframe.Float64},
	), []any{1, 1.5})
	f := must(t)(left.Join(right, frame.JoinOptions{On: []string{"a"}}))
	f = must(t)(f.Filter(frame.Col("b").Eq("x").And(frame.Col("c").Gt(1.0))))

	out, changed := PushDownFilters(f.Plan())
	require.True(t, changed)
	require.Equal(t, NodeTypeJoin, out.NodeType, graphText(out))
	assert.Equal(t, NodeTypeFilter, out.Join.Left.NodeType)
	assert.Equal(t, NodeTypeFilter, out.Join.Right.NodeType)
}

func TestPushDownFiltersKeepsLeftJoinRightSide(t *testing.T) {
	left := abFrame(t, Capabilities{})
	right := scanFrame(t, "u", Capabilities{}, NewSchema(
		SchemaField{Name: "a", Type: octoframe.Int64},
		SchemaField{Name: "c", Type: octoframe.Float64},
	), []any{1, 1.5})
	f := must(t)(left.Join(right, frame.JoinOptions{On: []string{"a"}, How: JoinKindLeft}))
	f = must(t)(f.Filter(frame.Col("c").IsNull()))

	_, changed := PushDownFilters(f.Plan())
	assert.False(t, changed)
}

func TestPushDownSlice(t *testing.T) {
	f := abFrame(t, allPushdowns)
	f = must(t)(f.Select(frame.Col("a").Add(1)))
	f = must(t)(f.Head(1))

	// The slice moves below the project first, and into the scan on the next application.
	out, changed := PushDownSlice(f.Plan())
	require.True(t, changed)
	for changed {
		out, changed = PushDownSlice(out)
	}
	require.Equal(t, NodeTypeProject, out.NodeType, graphText(out))
	scan := out.Project.Source
	require.Equal(t, NodeTypeScan, scan.NodeType)
	assert.Equal(t, &SliceBounds{Offset: 0, Length: 1}, scan.Scan.Slice)
}

func TestPushDownSliceIntoSort(t *testing.T) {
	f := abFrame(t, Capabilities{})
	f = must(t)(f.Sort(frame.SortOptions{By: []frame.Expr{frame.Col("a")}}))
	f = must(t)(f.Slice(2, 3))

	out, changed := PushDownSlice(f.Plan())
	require.True(t, changed)
	require.Equal(t, NodeTypeSlice, out.NodeType)
	assert.Equal(t, int64(5), out.Slice.Source.Sort.Limit)

	_, changed = PushDownSlice(out)
	assert.False(t, changed)
}

func TestComposeSlices(t *testing.T) {
	tests := []struct {
		innerOffset, innerLength, outerOffset, outerLength int64
		wantOffset, wantLength                             int64
	}{
		{0, 10, 2, 3, 2, 3},
		{5, 10, 2, -1, 7, 8},
		{5, -1, 2, 3, 7, 3},
		{0, 3, 5, 2, 5, 0},
	}
	for _, tt := range tests {
		offset, length := composeSlices(tt.innerOffset, tt.innerLength, tt.outerOffset, tt.outerLength)
		assert.Equal(t, tt.wantOffset, offset)
		assert.Equal(t, tt.wantLength, length)
	}
}

func TestSelectJoinStrategy(t *testing.T) {
	left := abFrame(t, Capabilities{})
	right := scanFrame(t, "u", Capabilities{}, NewSchema(
		SchemaField{Name: "a", Type: octoframe.Int64},
		SchemaField{Name: "c", Type: octoframe.Float64},
	), []any{1, 1.5}, []any{2, 2.5}, []any{7, 3.5})
	joined := must(t)(left.Join(right, frame.JoinOptions{On: []string{"a"}}))

	out, changed := SelectJoinStrategy(DefaultBroadcastThreshold)(joined.Plan())
	require.True(t, changed)
	assert.Equal(t, JoinStrategyBroadcastHash, out.Join.Strategy)
	// The left side is smaller.
	assert.Equal(t, JoinSideLeft, out.Join.BuildSide)

	out, changed = SelectJoinStrategy(0)(joined.Plan())
	require.True(t, changed)
	assert.Equal(t, JoinStrategyPartitionedHash, out.Join.Strategy)

	crossed := must(t)(left.CrossJoin(right, ""))
	out, _ = SelectJoinStrategy(DefaultBroadcastThreshold)(crossed.Plan())
	assert.Equal(t, JoinStrategyNestedLoop, out.Join.Strategy)

	sortedLeft := must(t)(left.Sort(frame.SortOptions{By: []frame.Expr{frame.Col("a")}}))
	sortedRight := must(t)(right.Sort(frame.SortOptions{By: []frame.Expr{frame.Col("a")}}))
	merged := must(t)(sortedLeft.Join(sortedRight, frame.JoinOptions{On: []string{"a"}}))
	out, _ = SelectJoinStrategy(DefaultBroadcastThreshold)(merged.Plan())
	assert.Equal(t, JoinStrategySortMerge, out.Join.Strategy)
}

func TestReorderJoins(t *testing.T) {
	rows := func(n int, row func(i int) []any) [][]any {
		out := make([][]any, n)
		for i := range out {
			out[i] = row(i)
		}
		return out
	}
	big := scanFrame(t, "big", Capabilities{}, NewSchema(
		SchemaField{Name: "b_id", Type: octoframe.Int64},
		SchemaField{Name: "b_val", Type: octoframe.Int64},
	), rows(30, func(i int) []any { return []any{i, i * 2} })...)
	mid := scanFrame(t, "mid", Capabilities{}, NewSchema(
		SchemaField{Name: "m_id", Type: octoframe.Int64},
		SchemaField{Name: "m_big", Type: octoframe.Int64},
	), rows(10, func(i int) []any { return []any{i, i * 3} })...)
	small := scanFrame(t, "small", Capabilities{}, NewSchema(
		SchemaField{Name: "s_id", Type: octoframe.Int64},
	), rows(3, func(i int) []any { return []any{i} })...)

	f := must(t)(big.Join(mid, frame.JoinOptions{LeftOn: []string{"b_id"}, RightOn: []string{"m_big"}}))
	f = must(t)(f.Join(small, frame.JoinOptions{LeftOn: []string{"m_id"}, RightOn: []string{"s_id"}}))

	out, changed := ReorderJoins(f.Plan())
	require.True(t, changed)
	assert.True(t, out.Schema.Equals(f.Schema()))
	require.Equal(t, NodeTypeProject, out.NodeType, graphText(out))
	top := out.Project.Source
	require.Equal(t, NodeTypeJoin, top.NodeType)
	require.Equal(t, NodeTypeJoin, top.Join.Left.NodeType)
	assert.Equal(t, "small", top.Join.Left.Join.Left.Scan.Name)
	assert.Equal(t, "mid", top.Join.Left.Join.Right.Scan.Name)
	assert.Equal(t, "big", top.Join.Right.Scan.Name)

	_, changed = ReorderJoins(out)
	assert.False(t, changed)
}

func TestEliminateCommonSubexpressions(t *testing.T) {
	f := abFrame(t, Capabilities{})
	shared := frame.Col("a").Mul(3).Add(1)
	f = must(t)(f.Select(shared.Alias("x"), shared.Mul(2).Alias("y")))

	out, changed := EliminateCommonSubexpressions(f.Plan())
	require.True(t, changed)
	require.Equal(t, NodeTypeProject, out.NodeType)
	assert.NotEmpty(t, out.Project.CommonSubexpressions)
	for _, expr := range out.Project.Expressions {
		assert.True(t, expr.ReferencesSubexpressions(), DescribeExpression(expr))
	}
	derived, err := DeriveSchema(out)
	require.NoError(t, err)
	assert.True(t, derived.Equals(f.Schema()))

	_, changed = EliminateCommonSubexpressions(out)
	assert.False(t, changed)
}

func TestPanickingRuleIsSkipped(t *testing.T) {
	calls := 0
	o := &Optimizer{
		Rules: []Rule{
			{Name: "explode", Apply: func(node Node) (Node, bool) {
				calls++
				panic("boom")
			}},
			{Name: "merge_filters", Apply: MergeFilters},
		},
		MaxPasses: 4,
		Logger:    slog.Default(),
	}
	f := abFrame(t, Capabilities{})
	f = must(t)(f.Filter(frame.Col("a").Gt(1)))
	f = must(t)(f.Filter(frame.Col("a").Lt(5)))

	out, diagnostics := o.Optimize(f.Plan())
	assert.Equal(t, 1, calls)
	require.NotEmpty(t, diagnostics)
	assert.Equal(t, DiagnosticRuleSkipped, diagnostics[0].Kind)
	assert.Equal(t, "explode", diagnostics[0].Rule)
	assert.Equal(t, []string{"merge_filters"}, firedRules(diagnostics))
	assert.Equal(t, NodeTypeFilter, out.NodeType)
	assert.Equal(t, NodeTypeScan, out.Filter.Source.NodeType)
}

func TestSchemaChangingRuleIsSkipped(t *testing.T) {
	f := abFrame(t, Capabilities{})
	o := &Optimizer{
		Rules: []Rule{
			{Name: "drop_column", Apply: func(node Node) (Node, bool) {
				out, err := NewColumnsProject(node, []string{"a"})
				require.NoError(t, err)
				return out, true
			}},
		},
		MaxPasses: 4,
		Logger:    slog.Default(),
	}
	out, diagnostics := o.Optimize(f.Plan())
	assert.Equal(t, Fingerprint(f.Plan()), Fingerprint(out))
	require.Len(t, diagnostics, 1)
	assert.Equal(t, DiagnosticRuleSkipped, diagnostics[0].Kind)
	assert.Error(t, diagnostics[0].Err)
}

func TestPassLimitExceeded(t *testing.T) {
	o := &Optimizer{
		Rules: []Rule{
			{Name: "restless", Apply: func(node Node) (Node, bool) { return node, true }},
		},
		MaxPasses: 3,
		Logger:    slog.Default(),
	}
	f := abFrame(t, Capabilities{})
	out, diagnostics := o.Optimize(f.Plan())
	assert.Equal(t, Fingerprint(f.Plan()), Fingerprint(out))
	last := diagnostics[len(diagnostics)-1]
	assert.Equal(t, DiagnosticLimitExceeded, last.Kind)
	var limitErr *octoframe.OptimizerLimitExceeded
	require.ErrorAs(t, last.Err, &limitErr)
	assert.Equal(t, 3, limitErr.Passes)
}

func TestDisabledRules(t *testing.T) {
	o := New(Options{DisabledRules: []string{"push_down_filters", "reorder_joins"}})
	var names []string
	for _, rule := range o.Rules {
		names = append(names, rule.Name)
	}
	assert.NotContains(t, names, "push_down_filters")
	assert.NotContains(t, names, "reorder_joins")
	assert.Contains(t, names, "merge_filters")
}

func graphText(node Node) string {
	return DescribeSchema(node.Schema) + "\n" + Fingerprint(node)
}
