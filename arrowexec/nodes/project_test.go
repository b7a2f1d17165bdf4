package nodes

import (
	"io"
	"testing"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"
	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/batch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectEvaluatesSubexpressionsOnce(t *testing.T) {
	calls := 0
	double := execution.NewFunctionCall(func(ctx execution.Context, args []arrow.Array) (arrow.Array, error) {
		calls++
		in := args[0].(*array.Int64)
		builder := array.NewInt64Builder(ctx.Allocator)
		defer builder.Release()
		for i := 0; i < in.Len(); i++ {
			builder.Append(in.Value(i) * 2)
		}
		return builder.NewArray(), nil
	}, []execution.Expression{execution.NewColumnReference(0)})

	node := &Project{
		OutSchema:      int64Schema("x", "y", "a"),
		Subexpressions: []execution.Expression{double},
		Exprs: []execution.Expression{
			&execution.CommonSubexpression{Index: 0},
			&execution.CommonSubexpression{Index: 0},
			execution.NewColumnReference(0),
		},
	}
	schema := arrow.NewSchema([]arrow.Field{{Name: "a", Type: arrow.PrimitiveTypes.Int64}}, nil)
	out := runOperator(t, testContext(), node, testInput(t, schema, 2, []any{int64(1)}, []any{int64(2)}, []any{int64(3)}))
	assert.Equal(t, [][]any{
		{int64(2), int64(2), int64(1)},
		{int64(4), int64(4), int64(2)},
		{int64(6), int64(6), int64(3)},
	}, out)
	assert.Equal(t, 2, calls, "once per record")
}

type sliceReader struct {
	records []arrow.Record
	closed  bool
}

func (r *sliceReader) Next(ctx execution.Context) (arrow.Record, error) {
	if len(r.records) == 0 {
		return nil, io.EOF
	}
	record := r.records[0]
	r.records = r.records[1:]
	return record, nil
}

func (r *sliceReader) Close() error {
	r.closed = true
	return nil
}

func TestScan(t *testing.T) {
	schema := int64Schema("a")
	source := testInput(t, schema, 10, numbers(10)...)
	reader := &sliceReader{}
	for _, record := range source.Records {
		reader.records = append(reader.records, record.Record)
	}
	node := &Scan{
		OutSchema: int64Schema("renamed"),
		Open: func(ctx execution.Context) (execution.RecordReader, error) {
			return reader, nil
		},
	}

	var names []string
	var rows [][]any
	err := node.Run(testContext(), nil, func(produceCtx execution.ProduceContext, record execution.Record) error {
		require.LessOrEqual(t, record.NumRows(), int64(4))
		names = append(names, record.Schema().Field(0).Name)
		rows = append(rows, batch.Rows(record.Record)...)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, numbers(10), rows)
	assert.Equal(t, []string{"renamed", "renamed", "renamed"}, names)
	assert.True(t, reader.closed)
}

func TestUnion(t *testing.T) {
	schema := int64Schema("a")
	node := &Union{OutSchema: schema}
	out := runOperator(t, testContext(), node,
		testInput(t, schema, 2, numbers(3)...),
		&TestNode{},
		testInput(t, schema, 2, numbers(2)...),
	)
	assert.Equal(t, append(numbers(3), numbers(2)...), out)
}
