package nodes

import (
	"fmt"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"
	"github.com/cube2222/octoframe/arrowexec/aggregates"
	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/arrowexec/helpers"
)

// GroupBy consumes its whole input, then emits one row per distinct key: the key columns followed by the aggregates.
// Without keys it always emits exactly one row, even for an empty input.
type GroupBy struct {
	OutSchema      *arrow.Schema
	Subexpressions []execution.Expression

	KeyExprs   []execution.Expression
	Aggregates []GroupByAggregate
}

type GroupByAggregate struct {
	Prototype func() aggregates.Aggregate
	// Arg is nil for aggregates without an argument.
	Arg execution.Expression
}

func (g *GroupBy) Run(ctx execution.Context, inputs []execution.Input, produce execution.ProduceFunc) error {
	grouper := helpers.NewGrouper(ctx.Memory.NewReservation())
	defer grouper.Close()

	aggregateStates := make([]aggregates.Aggregate, len(g.Aggregates))
	for i := range aggregateStates {
		aggregateStates[i] = g.Aggregates[i].Prototype()
	}

	if err := inputs[0].Run(ctx, func(produceCtx execution.ProduceContext, record execution.Record) error {
		evalCtx, err := execution.EvaluateSubexpressions(produceCtx.Context, g.Subexpressions, record)
		if err != nil {
			return err
		}
		keys := make([]arrow.Array, len(g.KeyExprs))
		for i, expr := range g.KeyExprs {
			if keys[i], err = expr.Evaluate(evalCtx, record); err != nil {
				return fmt.Errorf("couldn't evaluate group key %d: %w", i, err)
			}
		}
		entryIndices, err := grouper.Assign(keys, int(record.NumRows()))
		if err != nil {
			return fmt.Errorf("couldn't group records: %w", err)
		}

		for i, aggregate := range g.Aggregates {
			var arg arrow.Array
			if aggregate.Arg != nil {
				if arg, err = aggregate.Arg.Evaluate(evalCtx, record); err != nil {
					return fmt.Errorf("couldn't evaluate aggregate %d argument: %w", i, err)
				}
			}
			consume := aggregateStates[i].MakeColumnConsumer(arg)
			for rowIndex, entryIndex := range entryIndices {
				consume(uint(entryIndex), uint(rowIndex))
			}
		}
		return nil
	}); err != nil {
		return err
	}

	entryCount := grouper.Count()
	if len(g.KeyExprs) == 0 {
		entryCount = 1
	}
	keyTypes := make([]arrow.DataType, len(g.KeyExprs))
	for i := range keyTypes {
		keyTypes[i] = g.OutSchema.Field(i).Type
	}

	batchSize := ctx.BatchSize()
	for offset := 0; offset < entryCount; offset += batchSize {
		if err := ctx.Context.Err(); err != nil {
			return err
		}
		length := entryCount - offset
		if length > batchSize {
			length = batchSize
		}

		columns := make([]arrow.Array, 0, len(g.OutSchema.Fields()))
		columns = append(columns, grouper.KeyColumns(ctx.Allocator, keyTypes, offset, length)...)
		for i := range aggregateStates {
			columns = append(columns, aggregateStates[i].GetBatch(ctx.Allocator, length, offset))
		}

		record := array.NewRecord(g.OutSchema, columns, int64(length))
		if err := produce(execution.ProduceContext{Context: ctx}, execution.Record{Record: record}); err != nil {
			return err
		}
	}

	return nil
}
