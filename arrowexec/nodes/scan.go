package nodes

import (
	"fmt"
	"io"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/batch"
)

// Scan reads a source. It's the only operator without inputs, and it decides the batch granularity of the pipeline.
type Scan struct {
	OutSchema *arrow.Schema
	Open      func(ctx execution.Context) (execution.RecordReader, error)
}

func (s *Scan) Run(ctx execution.Context, inputs []execution.Input, produce execution.ProduceFunc) error {
	reader, err := s.Open(ctx)
	if err != nil {
		return fmt.Errorf("couldn't open source: %w", err)
	}
	defer reader.Close()

	batchSize := int64(ctx.BatchSize())
	for {
		if err := ctx.Context.Err(); err != nil {
			return err
		}
		record, err := reader.Next(ctx)
		if err == io.EOF {
			return nil
		} else if err != nil {
			return fmt.Errorf("couldn't read record: %w", err)
		}
		if record.NumCols() != int64(len(s.OutSchema.Fields())) {
			return fmt.Errorf("source returned %d columns, expected %d", record.NumCols(), len(s.OutSchema.Fields()))
		}
		record = batch.WithSchema(record, s.OutSchema)

		for offset := int64(0); offset < record.NumRows(); offset += batchSize {
			if err := produce(execution.ProduceContext{Context: ctx}, execution.Record{Record: batch.Slice(record, offset, batchSize)}); err != nil {
				return err
			}
		}
	}
}
