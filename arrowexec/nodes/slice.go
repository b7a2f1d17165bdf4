package nodes

import (
	"errors"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/batch"
)

// Slice passes through Length rows starting at Offset. A negative Offset counts from the end of the input,
// which has to be buffered. A negative Length means all remaining rows.
// Once it has all the rows it needs, it tells its input to stop.
type Slice struct {
	OutSchema *arrow.Schema
	Offset    int64
	Length    int64
}

func (s *Slice) Run(ctx execution.Context, inputs []execution.Input, produce execution.ProduceFunc) error {
	if s.Offset < 0 {
		return s.runTail(ctx, inputs[0], produce)
	}
	if s.Length == 0 {
		return nil
	}

	toSkip := s.Offset
	remaining := s.Length
	err := inputs[0].Run(ctx, func(produceCtx execution.ProduceContext, record execution.Record) error {
		rows := record.NumRows()
		if toSkip >= rows {
			toSkip -= rows
			return nil
		}
		out := batch.Slice(record.Record, toSkip, remaining)
		toSkip = 0
		if remaining >= 0 {
			remaining -= out.NumRows()
		}
		if out.NumRows() > 0 {
			if err := produce(produceCtx, execution.Record{Record: batch.WithSchema(out, s.OutSchema)}); err != nil {
				return err
			}
		}
		if remaining == 0 {
			return execution.ErrLimitReached
		}
		return nil
	})
	if errors.Is(err, execution.ErrLimitReached) && remaining == 0 {
		return nil
	}
	return err
}

// runTail keeps the last -Offset rows of the input.
func (s *Slice) runTail(ctx execution.Context, input execution.Input, produce execution.ProduceFunc) error {
	keep := -s.Offset
	var tail []arrow.Record
	var tailRows int64
	if err := input.Run(ctx, func(produceCtx execution.ProduceContext, record execution.Record) error {
		tail = append(tail, record.Record)
		tailRows += record.NumRows()
		for len(tail) > 0 && tailRows-tail[0].NumRows() >= keep {
			tailRows -= tail[0].NumRows()
			tail = tail[1:]
		}
		return nil
	}); err != nil {
		return err
	}

	toSkip := tailRows - keep
	if toSkip < 0 {
		toSkip = 0
	}
	remaining := s.Length
	for _, record := range tail {
		if remaining == 0 {
			break
		}
		if toSkip >= record.NumRows() {
			toSkip -= record.NumRows()
			continue
		}
		out := batch.Slice(record, toSkip, remaining)
		toSkip = 0
		if remaining > 0 {
			remaining -= out.NumRows()
		}
		if err := produce(execution.ProduceContext{Context: ctx}, execution.Record{Record: batch.WithSchema(out, s.OutSchema)}); err != nil {
			return err
		}
	}
	return nil
}
