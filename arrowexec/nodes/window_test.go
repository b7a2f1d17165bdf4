package nodes

import (
	"testing"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/cube2222/octoframe/arrowexec/aggregates"
	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/arrowexec/windows"
	"github.com/cube2222/octoframe/octoframe"
	"github.com/stretchr/testify/assert"
)

func TestWindow(t *testing.T) {
	inputSchema := int64Schema("g", "v")
	input := testInput(t, inputSchema, 2,
		[]any{int64(1), int64(1)},
		[]any{int64(2), int64(10)},
		[]any{int64(1), int64(2)},
		[]any{int64(1), nil},
		[]any{int64(2), int64(20)},
		[]any{int64(1), int64(3)},
	)
	partitionBy := []execution.Expression{execution.NewColumnReference(0)}
	node := &Window{
		OutSchema:   int64Schema("g", "v", "cum_sum", "row_number", "total", "n"),
		InputSchema: inputSchema,
		Exprs: []WindowExpr{
			{
				PartitionBy: partitionBy,
				Expr: &windows.Expression{
					Function: windows.FunctionCumSum,
					Arg:      execution.NewColumnReference(1),
					Type:     arrow.PrimitiveTypes.Int64,
				},
			},
			{
				PartitionBy: partitionBy,
				Expr: &windows.Expression{
					Function: windows.FunctionRowNumber,
					Type:     arrow.PrimitiveTypes.Int64,
				},
			},
			{
				PartitionBy: partitionBy,
				Expr: &windows.Expression{
					Function: windows.FunctionOver,
					Aggregate: &aggregates.Expression{
						Name:      "sum",
						Prototype: aggregates.NewSumPrototype(octoframe.Int64, octoframe.Int64),
						Arg:       execution.NewColumnReference(1),
					},
					Type: arrow.PrimitiveTypes.Int64,
				},
			},
			{
				// Without partitions the whole input is one window.
				Expr: &windows.Expression{
					Function: windows.FunctionRowNumber,
					Type:     arrow.PrimitiveTypes.Int64,
				},
			},
		},
	}

	out := runOperator(t, testContext(), node, input)
	assert.Equal(t, [][]any{
		{int64(1), int64(1), int64(1), int64(1), int64(6), int64(1)},
		{int64(2), int64(10), int64(10), int64(1), int64(30), int64(2)},
		{int64(1), int64(2), int64(3), int64(2), int64(6), int64(3)},
		{int64(1), nil, nil, int64(3), int64(6), int64(4)},
		{int64(2), int64(20), int64(30), int64(2), int64(30), int64(5)},
		{int64(1), int64(3), int64(6), int64(4), int64(6), int64(6)},
	}, out)
}
