package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"testing"

	"github.com/apache/arrow/go/v13/arrow"
	arrowmemory "github.com/apache/arrow/go/v13/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/batch"
	"github.com/cube2222/octoframe/datasources/memory"
	"github.com/cube2222/octoframe/frame"
	"github.com/cube2222/octoframe/octoframe"
	"github.com/cube2222/octoframe/optimizer"
	"github.com/cube2222/octoframe/plan"
)

// generatorSource produces batches of sequential Int64 keys, failing or never ending on request.
type generatorSource struct {
	batches   int
	batchRows int
	fail      error
}

var generatorSchema = plan.NewSchema(
	plan.SchemaField{Name: "k", Type: octoframe.Int64},
	plan.SchemaField{Name: "n", Type: octoframe.Int64},
)

func (s *generatorSource) Schema() plan.Schema             { return generatorSchema }
func (s *generatorSource) Capabilities() plan.Capabilities { return plan.Capabilities{} }
func (s *generatorSource) Statistics() plan.Statistics     { return plan.Statistics{} }

func (s *generatorSource) Open(ctx execution.Context, options plan.ScanOptions) (execution.RecordReader, error) {
	return &generatorReader{source: s}, nil
}

type generatorReader struct {
	source *generatorSource
	next   int
}

func (r *generatorReader) Next(ctx execution.Context) (arrow.Record, error) {
	if r.source.fail != nil {
		return nil, r.source.fail
	}
	if r.source.batches >= 0 && r.next >= r.source.batches {
		return nil, io.EOF
	}
	rows := make([][]any, r.source.batchRows)
	for i := range rows {
		n := r.next*r.source.batchRows + i
		rows[i] = []any{n % 10, n}
	}
	r.next++
	return batch.FromRows(ctx.Allocator, generatorSchema.ToArrow(), rows)
}

func (r *generatorReader) Close() error { return nil }

func newTestEngine(t *testing.T, batchSize int) *Engine {
	options := DefaultOptions()
	options.Settings.BatchSize = batchSize
	options.Settings.Parallelism = 2
	e, err := New(options)
	require.NoError(t, err)
	return e
}

func sourceFrame(t *testing.T, name string, schema plan.Schema, rows ...[]any) frame.LazyFrame {
	source, err := memory.FromRows(schema, rows...)
	require.NoError(t, err)
	f, err := frame.Scan(plan.NewCatalog(map[string]plan.Source{name: source}), name)
	require.NoError(t, err)
	return f
}

func collectRows(t *testing.T, records []arrow.Record) [][]any {
	var out [][]any
	for _, record := range records {
		out = append(out, batch.Rows(record)...)
	}
	sort.Slice(out, func(i, j int) bool {
		return fmt.Sprint(out[i]) < fmt.Sprint(out[j])
	})
	return out
}

var modes = []Mode{ModeMaterialized, ModeStreaming}

func TestGroupBySum(t *testing.T) {
	f := sourceFrame(t, "t", plan.NewSchema(
		plan.SchemaField{Name: "k", Type: octoframe.String},
		plan.SchemaField{Name: "v", Type: octoframe.Int64},
	),
		[]any{"a", 1},
		[]any{"b", 2},
		[]any{"a", 3},
	)
	grouped, err := f.GroupBy(frame.Col("k")).Agg(frame.Col("v").Sum())
	require.NoError(t, err)

	for _, mode := range modes {
		t.Run(mode.String(), func(t *testing.T) {
			records, err := newTestEngine(t, 1024).Collect(context.Background(), grouped.Plan(), mode)
			require.NoError(t, err)
			assert.Equal(t, [][]any{{"a", int64(4)}, {"b", int64(2)}}, collectRows(t, records))
		})
	}
}

func TestFilterThenProject(t *testing.T) {
	f := sourceFrame(t, "t", plan.NewSchema(
		plan.SchemaField{Name: "a", Type: octoframe.Int64},
		plan.SchemaField{Name: "b", Type: octoframe.String},
	),
		[]any{3, "x"},
		[]any{6, "y"},
		[]any{9, "z"},
	)
	f, err := f.Filter(frame.Col("a").Gt(5))
	require.NoError(t, err)
	f, err = f.Select(frame.Col("a"))
	require.NoError(t, err)

	e := newTestEngine(t, 1024)
	optimized, _ := e.Optimize(f.Plan())
	assert.True(t, optimized.Schema.Equals(f.Schema()))
	for _, mode := range modes {
		require.NoError(t, e.Equivalent(context.Background(), f.Plan(), optimized, mode, false))
	}

	records, err := e.Collect(context.Background(), f.Plan(), ModeMaterialized)
	require.NoError(t, err)
	assert.Equal(t, [][]any{{int64(6)}, {int64(9)}}, collectRows(t, records))
}

func TestMaterializedEqualsStreaming(t *testing.T) {
	orders := sourceFrame(t, "orders", plan.NewSchema(
		plan.SchemaField{Name: "customer", Type: octoframe.Int64},
		plan.SchemaField{Name: "amount", Type: octoframe.Float64},
	),
		[]any{1, 10.0},
		[]any{2, 5.5},
		[]any{1, 2.5},
		[]any{3, 7.0},
		[]any{2, 1.0},
	)
	customers := sourceFrame(t, "customers", plan.NewSchema(
		plan.SchemaField{Name: "customer", Type: octoframe.Int64},
		plan.SchemaField{Name: "name", Type: octoframe.String},
	),
		[]any{1, "ann"},
		[]any{2, "bob"},
	)
	joined, err := orders.Join(customers, frame.JoinOptions{On: []string{"customer"}})
	require.NoError(t, err)
	grouped, err := joined.GroupBy(frame.Col("name")).Agg(frame.Col("amount").Sum().Alias("total"), frame.Len())
	require.NoError(t, err)
	sorted, err := grouped.Sort(frame.SortOptions{By: []frame.Expr{frame.Col("total")}, Descending: []bool{true}})
	require.NoError(t, err)

	e := newTestEngine(t, 2)
	materialized, err := e.Execute(context.Background(), sorted.Plan(), ModeMaterialized)
	require.NoError(t, err)
	streaming, err := e.Execute(context.Background(), sorted.Plan(), ModeStreaming)
	require.NoError(t, err)
	streamed, err := streaming.Collect(context.Background())
	require.NoError(t, err)

	require.NoError(t, CompareResults(materialized.Schema, materialized.Records, streaming.Schema, streamed, true))
	assert.Equal(t, [][]any{{"ann", 12.5, int64(2)}, {"bob", 6.5, int64(2)}}, collectRows(t, materialized.Records))
}

func TestStreamingJoinBuildFailure(t *testing.T) {
	probe := sourceFrame(t, "probe", generatorSchema, []any{1, 1}, []any{2, 2})
	build := frame.FromPlan(plan.NewScan("build", &generatorSource{fail: errors.New("disk on fire")}))
	joined, err := probe.Join(build, frame.JoinOptions{On: []string{"k"}})
	require.NoError(t, err)

	output, err := newTestEngine(t, 1024).Execute(context.Background(), joined.Plan(), ModeStreaming)
	require.NoError(t, err)
	defer output.Stream.Close()

	batches := 0
	for {
		_, err = output.Stream.Next(context.Background())
		if err != nil {
			break
		}
		batches++
	}
	assert.Equal(t, 0, batches)
	var execErr *octoframe.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Contains(t, execErr.Error(), "disk on fire")
}

func TestStreamingJoinBuildOutOfMemory(t *testing.T) {
	people := sourceFrame(t, "people", plan.NewSchema(
		plan.SchemaField{Name: "k", Type: octoframe.Int64},
		plan.SchemaField{Name: "name", Type: octoframe.String},
	), []any{1, "ann"}, []any{2, "bob"})
	cities := sourceFrame(t, "cities", plan.NewSchema(
		plan.SchemaField{Name: "k", Type: octoframe.Int64},
		plan.SchemaField{Name: "city", Type: octoframe.String},
	), []any{1, "waw"}, []any{2, "krk"})
	joined, err := people.Join(cities, frame.JoinOptions{On: []string{"k"}})
	require.NoError(t, err)

	options := DefaultOptions()
	options.MemoryLimit = 1
	e, err := New(options)
	require.NoError(t, err)
	output, err := e.Execute(context.Background(), joined.Plan(), ModeStreaming)
	require.NoError(t, err)
	defer output.Stream.Close()

	batches := 0
	for {
		_, err = output.Stream.Next(context.Background())
		if err != nil {
			break
		}
		batches++
	}
	assert.Equal(t, 0, batches)
	var execErr *octoframe.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.ErrorIs(t, err, octoframe.ErrResourceExhausted)
}

func TestCheckedArithmeticOverflow(t *testing.T) {
	numbers := sourceFrame(t, "numbers", plan.NewSchema(
		plan.SchemaField{Name: "a", Type: octoframe.Int64},
	), []any{int64(1)}, []any{int64(math.MaxInt64)})
	doubled, err := numbers.Select(frame.Col("a").Mul(2))
	require.NoError(t, err)

	for _, checked := range []bool{false, true} {
		t.Run(fmt.Sprintf("checked=%v", checked), func(t *testing.T) {
			options := DefaultOptions()
			options.Settings.CheckedArithmetic = checked
			e, err := New(options)
			require.NoError(t, err)
			output, err := e.Execute(context.Background(), doubled.Plan(), ModeStreaming)
			require.NoError(t, err)
			defer output.Stream.Close()

			for err == nil {
				_, err = output.Stream.Next(context.Background())
			}
			if !checked {
				assert.Equal(t, io.EOF, err)
				return
			}
			var execErr *octoframe.ExecutionError
			require.ErrorAs(t, err, &execErr)
			assert.ErrorIs(t, err, octoframe.ErrArithmeticOverflow)
		})
	}
}

func TestCancellationReleasesMemory(t *testing.T) {
	probe := frame.FromPlan(plan.NewScan("probe", &generatorSource{batches: -1, batchRows: 4}))
	build := sourceFrame(t, "build", plan.NewSchema(
		plan.SchemaField{Name: "k", Type: octoframe.Int64},
		plan.SchemaField{Name: "name", Type: octoframe.String},
	),
		[]any{1, "one"},
		[]any{2, "two"},
	)
	joined, err := probe.Join(build, frame.JoinOptions{On: []string{"k"}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	output, err := newTestEngine(t, 4).Execute(ctx, joined.Plan(), ModeStreaming)
	require.NoError(t, err)

	_, err = output.Stream.Next(ctx)
	require.NoError(t, err)
	cancel()

	_, err = output.Stream.Next(ctx)
	var cancelErr *octoframe.CancellationError
	require.ErrorAs(t, err, &cancelErr)
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, output.Stream.Close())
	assert.Equal(t, int64(0), output.Memory.InUse())
	assert.Greater(t, output.Memory.Peak(), int64(0))
}

func TestMaterializedFailureReturnsNoRecords(t *testing.T) {
	f := frame.FromPlan(plan.NewScan("broken", &generatorSource{fail: errors.New("truncated file")}))
	records, err := newTestEngine(t, 1024).Collect(context.Background(), f.Plan(), ModeMaterialized)
	assert.Nil(t, records)
	var execErr *octoframe.ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, "scan", execErr.Operator)
}

func TestDescribeKeepsRootSchema(t *testing.T) {
	f := sourceFrame(t, "t", plan.NewSchema(
		plan.SchemaField{Name: "a", Type: octoframe.Int64},
		plan.SchemaField{Name: "b", Type: octoframe.Int64},
	), []any{1, 2})
	f, err := f.Filter(frame.Col("a").Gt(0))
	require.NoError(t, err)
	f, err = f.Select(frame.Col("b").Add(1))
	require.NoError(t, err)

	e := newTestEngine(t, 1024)
	unoptimized, ok := e.Describe(f.Plan(), false).Field("schema")
	require.True(t, ok)
	optimized, ok := e.Describe(f.Plan(), true).Field("schema")
	require.True(t, ok)
	assert.Equal(t, plan.DescribeSchema(f.Schema()), unoptimized)
	assert.Equal(t, unoptimized, optimized)

	diff, err := e.Diff(f.Plan())
	require.NoError(t, err)
	assert.Contains(t, diff, "--- unoptimized")
}

func TestCompareResults(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{{Name: "a", Type: arrow.PrimitiveTypes.Int64}}, nil)
	build := func(values ...any) []arrow.Record {
		rows := make([][]any, len(values))
		for i := range values {
			rows[i] = []any{values[i]}
		}
		record, err := batch.FromRows(arrowmemory.NewGoAllocator(), schema, rows)
		require.NoError(t, err)
		return []arrow.Record{record}
	}

	assert.NoError(t, CompareResults(schema, build(1, 2), schema, build(2, 1), false))
	assert.Error(t, CompareResults(schema, build(1, 2), schema, build(2, 1), true))
	err := CompareResults(schema, build(1, 2), schema, build(1, 3), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "+[3]")
}

func TestRulesAreSound(t *testing.T) {
	people := sourceFrame(t, "people", plan.NewSchema(
		plan.SchemaField{Name: "id", Type: octoframe.Int64},
		plan.SchemaField{Name: "city", Type: octoframe.String},
		plan.SchemaField{Name: "age", Type: octoframe.Int64},
	),
		[]any{1, "waw", 31},
		[]any{2, "krk", 25},
		[]any{3, "waw", 47},
		[]any{4, "gda", 19},
	)
	cities := sourceFrame(t, "cities", plan.NewSchema(
		plan.SchemaField{Name: "city", Type: octoframe.String},
		plan.SchemaField{Name: "population", Type: octoframe.Int64},
	),
		[]any{"waw", 1800000},
		[]any{"krk", 800000},
	)

	older, err := people.Filter(frame.Col("age").Gt(20))
	require.NoError(t, err)
	joined, err := older.Join(cities, frame.JoinOptions{On: []string{"city"}})
	require.NoError(t, err)
	projected, err := joined.Select(frame.Col("city"), frame.Col("age").Mul(2).Add(1).Alias("x"), frame.Col("age").Mul(2).Add(1).Mul(3).Alias("y"))
	require.NoError(t, err)
	filtered, err := projected.Filter(frame.Col("x").Gt(60))
	require.NoError(t, err)
	grouped, err := joined.GroupBy(frame.Col("city")).Agg(frame.Col("age").Mean())
	require.NoError(t, err)
	top, err := people.Sort(frame.SortOptions{By: []frame.Expr{frame.Col("age")}, Descending: []bool{true}})
	require.NoError(t, err)
	top, err = top.Head(2)
	require.NoError(t, err)
	ranked, err := people.WithColumns(frame.Col("age").CumSum().Over(frame.Col("city")).Alias("running"))
	require.NoError(t, err)
	ranked, err = ranked.Filter(frame.Col("city").Eq("waw"))
	require.NoError(t, err)

	total, err := people.Select(frame.Col("age").Sum())
	require.NoError(t, err)
	total, err = total.Filter(frame.Lit(false))
	require.NoError(t, err)
	crossed, err := people.CrossJoin(cities, "_right")
	require.NoError(t, err)
	crossed, err = crossed.Select(frame.Col("id"))
	require.NoError(t, err)

	plans := map[string]struct {
		frame   frame.LazyFrame
		ordered bool
	}{
		"filter_join_project": {frame: filtered},
		"group_by":            {frame: grouped},
		"top_k":               {frame: top, ordered: true},
		"window":              {frame: ranked},
		"filtered_total":      {frame: total},
		"cross_join":          {frame: crossed},
	}
	for name, tt := range plans {
		for _, rule := range optimizer.RuleNames() {
			t.Run(name+"/"+rule, func(t *testing.T) {
				var disabled []string
				for _, other := range optimizer.RuleNames() {
					if other != rule {
						disabled = append(disabled, other)
					}
				}
				options := DefaultOptions()
				options.Optimizer.DisabledRules = disabled
				options.PlanCacheSize = 0
				e, err := New(options)
				require.NoError(t, err)

				optimized, diagnostics := e.Optimize(tt.frame.Plan())
				for _, d := range diagnostics {
					assert.NotEqual(t, optimizer.DiagnosticRuleSkipped, d.Kind, d.String())
				}
				for _, mode := range modes {
					assert.NoError(t, e.Equivalent(context.Background(), tt.frame.Plan(), optimized, mode, tt.ordered))
				}
			})
		}
	}
}
