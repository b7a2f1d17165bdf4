package nodes

import (
	"context"
	"testing"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/memory"
	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/batch"
	"github.com/stretchr/testify/require"
)

type TestNode struct {
	Records []execution.Record
}

func (t *TestNode) Run(ctx execution.Context, produce execution.ProduceFunc) error {
	for i := range t.Records {
		if err := produce(execution.ProduceContext{Context: ctx}, t.Records[i]); err != nil {
			return err
		}
	}
	return nil
}

// testInput splits the rows into records of at most recordSize rows.
func testInput(t testing.TB, schema *arrow.Schema, recordSize int, rows ...[]any) *TestNode {
	node := &TestNode{}
	for offset := 0; offset < len(rows); offset += recordSize {
		end := offset + recordSize
		if end > len(rows) {
			end = len(rows)
		}
		record, err := batch.FromRows(memory.DefaultAllocator, schema, rows[offset:end])
		require.NoError(t, err)
		node.Records = append(node.Records, execution.Record{Record: record})
	}
	return node
}

func testContext() execution.Context {
	ctx := execution.NewContext(context.Background())
	ctx.Settings.BatchSize = 4
	return ctx
}

func runOperator(t testing.TB, ctx execution.Context, op execution.Operator, inputs ...execution.Input) [][]any {
	var out [][]any
	err := op.Run(ctx, inputs, func(produceCtx execution.ProduceContext, record execution.Record) error {
		require.LessOrEqual(t, record.NumRows(), int64(ctx.BatchSize()))
		out = append(out, batch.Rows(record.Record)...)
		return nil
	})
	require.NoError(t, err)
	return out
}

func int64Schema(names ...string) *arrow.Schema {
	fields := make([]arrow.Field, len(names))
	for i, name := range names {
		fields[i] = arrow.Field{Name: name, Type: arrow.PrimitiveTypes.Int64, Nullable: true}
	}
	return arrow.NewSchema(fields, nil)
}
