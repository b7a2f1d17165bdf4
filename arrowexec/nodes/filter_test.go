package nodes

import (
	"math/rand"
	"testing"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"
	"github.com/apache/arrow/go/v13/arrow/memory"
	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/stretchr/testify/assert"
)

func TestFilter(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "a", Type: arrow.PrimitiveTypes.Int64},
		{Name: "keep", Type: arrow.FixedWidthTypes.Boolean, Nullable: true},
	}, nil)
	node := &Filter{
		OutSchema: schema,
		Predicate: execution.NewColumnReference(1),
	}

	out := runOperator(t, testContext(), node, testInput(t, schema, 3,
		[]any{int64(1), true},
		[]any{int64(2), false},
		[]any{int64(3), nil},
		[]any{int64(4), true},
		[]any{int64(5), true},
		[]any{int64(6), true},
		[]any{int64(7), true},
		[]any{int64(8), false},
	))
	assert.Equal(t, [][]any{
		{int64(1), true},
		{int64(4), true},
		{int64(5), true},
		{int64(6), true},
		{int64(7), true},
	}, out)
}

func TestFilterRebatches(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "a", Type: arrow.PrimitiveTypes.Int64},
		{Name: "keep", Type: arrow.FixedWidthTypes.Boolean},
	}, nil)
	var rows [][]any
	for i := 0; i < 40; i++ {
		rows = append(rows, []any{int64(i), i%3 == 0})
	}
	node := &Filter{
		OutSchema: schema,
		Predicate: execution.NewColumnReference(1),
	}

	ctx := testContext()
	var sizes []int64
	err := node.Run(ctx, []execution.Input{testInput(t, schema, 2, rows...)}, func(produceCtx execution.ProduceContext, record execution.Record) error {
		sizes = append(sizes, record.NumRows())
		return nil
	})
	assert.NoError(t, err)
	// 14 surviving rows, re-batched into records of 4.
	assert.Equal(t, []int64{4, 4, 4, 2}, sizes)
}

// selectivity as a tenth of a percent (so 1000 means 100%)
const selectivity = 950

func BenchmarkFilter(b *testing.B) {
	predicateBuilder := array.NewBooleanBuilder(memory.DefaultAllocator)
	numbersBuilder := array.NewInt64Builder(memory.DefaultAllocator)
	for i := 0; i < execution.IdealBatchSize; i++ {
		predicateBuilder.Append(rand.Intn(1000) < selectivity)
		numbersBuilder.Append(int64(i))
	}
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "a", Type: arrow.PrimitiveTypes.Int64},
		{Name: "keep", Type: arrow.FixedWidthTypes.Boolean},
	}, nil)
	record := array.NewRecord(schema, []arrow.Array{numbersBuilder.NewArray(), predicateBuilder.NewArray()}, execution.IdealBatchSize)
	records := make([]execution.Record, 256)
	for i := range records {
		records[i] = execution.Record{Record: record}
	}
	node := &Filter{OutSchema: schema, Predicate: execution.NewColumnReference(1)}
	ctx := testContext()
	ctx.Settings.BatchSize = execution.IdealBatchSize
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if err := node.Run(ctx, []execution.Input{&TestNode{Records: records}}, func(produceCtx execution.ProduceContext, record execution.Record) error {
			return nil
		}); err != nil {
			b.Fatal(err)
		}
	}
}
