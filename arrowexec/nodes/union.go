package nodes

import (
	"github.com/apache/arrow/go/v13/arrow"
	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/batch"
)

// Union concatenates its inputs, one after another.
type Union struct {
	OutSchema *arrow.Schema
}

func (u *Union) Run(ctx execution.Context, inputs []execution.Input, produce execution.ProduceFunc) error {
	for _, input := range inputs {
		if err := input.Run(ctx, func(produceCtx execution.ProduceContext, record execution.Record) error {
			return produce(produceCtx, execution.Record{Record: batch.WithSchema(record.Record, u.OutSchema)})
		}); err != nil {
			return err
		}
	}
	return nil
}
