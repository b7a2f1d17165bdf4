package nodes

import (
	"fmt"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"
	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/arrowexec/helpers"
	"github.com/cube2222/octoframe/batch"
)

type WindowExpr struct {
	// PartitionBy may be empty, the whole input is one partition then.
	PartitionBy []execution.Expression
	Expr        execution.Expression
}

// Window buffers its whole input and appends one column per window expression.
// Rows keep their input order, which is also the order rows are processed in within a partition.
type Window struct {
	OutSchema      *arrow.Schema
	InputSchema    *arrow.Schema
	Subexpressions []execution.Expression
	Exprs          []WindowExpr
}

func (w *Window) Run(ctx execution.Context, inputs []execution.Input, produce execution.ProduceFunc) error {
	reservation := ctx.Memory.NewReservation()
	defer reservation.Close()

	all, err := bufferInput(ctx, inputs[0], w.InputSchema, reservation)
	if err != nil {
		return err
	}
	record := execution.Record{Record: all}
	evalCtx, err := execution.EvaluateSubexpressions(ctx, w.Subexpressions, record)
	if err != nil {
		return err
	}

	columns := append([]arrow.Array{}, all.Columns()...)
	for i, expr := range w.Exprs {
		partitionKeys := make([]arrow.Array, len(expr.PartitionBy))
		for j, key := range expr.PartitionBy {
			if partitionKeys[j], err = key.Evaluate(evalCtx, record); err != nil {
				return fmt.Errorf("couldn't evaluate partition key %d of window expression %d: %w", j, i, err)
			}
		}
		grouper := helpers.NewGrouper(nil)
		ids, err := grouper.Assign(partitionKeys, int(all.NumRows()))
		if err != nil {
			grouper.Close()
			return err
		}
		groups := &execution.Groups{IDs: ids, Count: grouper.Count()}
		grouper.Close()

		arr, err := expr.Expr.Evaluate(evalCtx.WithGroups(groups), record)
		if err != nil {
			return fmt.Errorf("couldn't evaluate window expression %d: %w", i, err)
		}
		columns = append(columns, arr)
	}

	out := array.NewRecord(w.OutSchema, columns, all.NumRows())
	batchSize := int64(ctx.BatchSize())
	for offset := int64(0); offset < out.NumRows(); offset += batchSize {
		if err := produce(execution.ProduceContext{Context: ctx}, execution.Record{Record: batch.Slice(out, offset, batchSize)}); err != nil {
			return err
		}
	}
	return nil
}
