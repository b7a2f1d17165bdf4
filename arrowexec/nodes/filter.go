package nodes

import (
	"fmt"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"
	"github.com/apache/arrow/go/v13/arrow/compute"
	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/batch"
)

// Filter drops the rows for which the predicate isn't true and re-batches the survivors,
// so that downstream operators don't receive many tiny records.
type Filter struct {
	OutSchema      *arrow.Schema
	Subexpressions []execution.Expression
	Predicate      execution.Expression
}

func (f *Filter) Run(ctx execution.Context, inputs []execution.Input, produce execution.ProduceFunc) error {
	rebatcher := batch.NewRebatcher(ctx.Allocator, f.OutSchema, ctx.BatchSize())
	filterCtx := compute.WithAllocator(ctx.Context, ctx.Allocator)

	if err := inputs[0].Run(ctx, func(produceCtx execution.ProduceContext, record execution.Record) error {
		evalCtx, err := execution.EvaluateSubexpressions(produceCtx.Context, f.Subexpressions, record)
		if err != nil {
			return err
		}
		selection, err := f.Predicate.Evaluate(evalCtx, record)
		if err != nil {
			return fmt.Errorf("couldn't evaluate filter predicate: %w", err)
		}
		var out arrow.Record
		switch selection.DataType().ID() {
		case arrow.NULL:
			return nil
		case arrow.BOOL:
			if selection.NullN() == 0 && selection.(*array.Boolean).Len() > 0 && allTrue(selection.(*array.Boolean)) {
				out = record.Record
				break
			}
			out, err = compute.FilterRecordBatch(filterCtx, record.Record, selection, &compute.FilterOptions{
				NullSelection: compute.SelectionDropNulls,
			})
			if err != nil {
				return fmt.Errorf("couldn't filter record batch: %w", err)
			}
		default:
			return fmt.Errorf("filter predicate has type %s, expected boolean", selection.DataType())
		}

		ready, err := rebatcher.Push(out)
		if err != nil {
			return fmt.Errorf("couldn't rebatch filtered records: %w", err)
		}
		for _, readyRecord := range ready {
			if err := produce(produceCtx, execution.Record{Record: readyRecord}); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}

	ready, err := rebatcher.Flush()
	if err != nil {
		return fmt.Errorf("couldn't rebatch filtered records: %w", err)
	}
	for _, readyRecord := range ready {
		if err := produce(execution.ProduceContext{Context: ctx}, execution.Record{Record: readyRecord}); err != nil {
			return err
		}
	}
	return nil
}

func allTrue(selection *array.Boolean) bool {
	for i := 0; i < selection.Len(); i++ {
		if !selection.Value(i) {
			return false
		}
	}
	return true
}
