package nodes

import (
	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"
	"github.com/cube2222/octoframe/arrowexec/execution"
)

// Project evaluates one expression per output column. Common subexpressions are evaluated once per record.
type Project struct {
	OutSchema      *arrow.Schema
	Subexpressions []execution.Expression
	Exprs          []execution.Expression
}

func (m *Project) Run(ctx execution.Context, inputs []execution.Input, produce execution.ProduceFunc) error {
	return inputs[0].Run(ctx, func(produceCtx execution.ProduceContext, record execution.Record) error {
		outCols, err := execution.EvaluateAll(produceCtx.Context, m.Subexpressions, m.Exprs, record)
		if err != nil {
			return err
		}
		return produce(produceCtx, execution.Record{Record: array.NewRecord(m.OutSchema, outCols, record.NumRows())})
	})
}
