package execution

import (
	"context"
	"io"
	"sync"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/cube2222/octoframe/octoframe"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// edge is a bounded queue between a producing stage and its consumer.
// The consumer closes done when it doesn't need any more records.
type edge struct {
	records  chan Record
	done     chan struct{}
	doneOnce sync.Once
}

func newEdge(depth int) *edge {
	if depth <= 0 {
		depth = 1
	}
	return &edge{
		records: make(chan Record, depth),
		done:    make(chan struct{}),
	}
}

func (e *edge) abandon() {
	e.doneOnce.Do(func() {
		close(e.done)
	})
}

// send blocks while the queue is full, which is how backpressure propagates upstream.
func (e *edge) send(ctx context.Context, record Record) error {
	select {
	case <-e.done:
		return ErrLimitReached
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	select {
	case e.records <- record:
		return nil
	case <-e.done:
		return ErrLimitReached
	case <-ctx.Done():
		return ctx.Err()
	}
}

type edgeInput struct {
	edge *edge
}

func (input *edgeInput) Run(ctx Context, produce ProduceFunc) error {
	for {
		select {
		case record, ok := <-input.edge.records:
			if !ok {
				return nil
			}
			if err := ctx.Context.Err(); err != nil {
				return err
			}
			if err := produce(ProduceContext{Context: ctx}, record); err != nil {
				if errors.Is(err, ErrLimitReached) {
					input.edge.abandon()
				}
				return err
			}
		case <-ctx.Context.Done():
			return ctx.Context.Err()
		}
	}
}

// Stream is the output of a streaming execution.
type Stream struct {
	schema *arrow.Schema
	root   *edge
	// ctx is cancelled when any stage fails, streamCtx only by the caller.
	ctx       context.Context
	streamCtx context.Context
	cancel    context.CancelFunc
	group     *errgroup.Group

	waitOnce sync.Once
	err      error
	finished bool
}

// RunStreaming starts one goroutine per stage, connected by bounded queues.
// Records are pulled from the returned stream with Next. The stream must be closed.
func RunStreaming(ctx Context, root *Stage) *Stream {
	streamCtx, cancel := context.WithCancel(ctx.Context)
	g, groupCtx := errgroup.WithContext(streamCtx)
	ctx = ctx.WithContext(groupCtx)

	var start func(stage *Stage) *edge
	start = func(stage *Stage) *edge {
		output := newEdge(ctx.Settings.QueueDepth)
		inputEdges := make([]*edge, len(stage.Inputs))
		inputs := make([]Input, len(stage.Inputs))
		for i := range stage.Inputs {
			inputEdges[i] = start(stage.Inputs[i])
			inputs[i] = &edgeInput{edge: inputEdges[i]}
		}

		g.Go(func() error {
			defer close(output.records)
			defer func() {
				for _, inputEdge := range inputEdges {
					inputEdge.abandon()
				}
			}()

			err := stage.Operator.Run(ctx, inputs, func(produceCtx ProduceContext, record Record) error {
				if record.NumRows() == 0 {
					return nil
				}
				return output.send(groupCtx, record)
			})
			if err != nil && !errors.Is(err, ErrLimitReached) {
				return StageError(groupCtx, stage, err)
			}
			return nil
		})
		return output
	}

	return &Stream{
		schema:    root.Schema,
		root:      start(root),
		ctx:       groupCtx,
		streamCtx: streamCtx,
		cancel:    cancel,
		group:     g,
	}
}

func (s *Stream) Schema() *arrow.Schema {
	return s.schema
}

// Next returns the next record, or io.EOF once the pipeline is drained.
// No record is returned after the execution failed or was cancelled.
func (s *Stream) Next(ctx context.Context) (Record, error) {
	if s.finished {
		return Record{}, s.terminalError()
	}
	if ctx.Err() != nil {
		return s.cancelled(ctx)
	}
	select {
	case record, ok := <-s.root.records:
		if !ok {
			s.finished = true
			return Record{}, s.terminalError()
		}
		if ctx.Err() != nil {
			return s.cancelled(ctx)
		}
		if s.ctx.Err() != nil {
			s.finished = true
			return Record{}, s.terminalError()
		}
		return record, nil
	case <-ctx.Done():
		return s.cancelled(ctx)
	case <-s.ctx.Done():
		s.finished = true
		return Record{}, s.terminalError()
	}
}

// cancelled stops the pipeline after the caller's context was cancelled.
func (s *Stream) cancelled(ctx context.Context) (Record, error) {
	s.Close()
	s.finished = true
	return Record{}, octoframe.NewCancellationError(ctx)
}

func (s *Stream) terminalError() error {
	if err := s.wait(); err != nil {
		return err
	}
	return io.EOF
}

func (s *Stream) wait() error {
	s.waitOnce.Do(func() {
		err := s.group.Wait()
		if err == nil && s.streamCtx.Err() != nil {
			err = octoframe.NewCancellationError(s.streamCtx)
		}
		s.err = err
		s.cancel()
	})
	return s.err
}

// Close cancels the pipeline and waits until every stage has stopped and released its resources.
func (s *Stream) Close() error {
	s.cancel()
	s.root.abandon()
	err := s.wait()
	var cancelErr *octoframe.CancellationError
	if errors.As(err, &cancelErr) {
		return nil
	}
	return err
}
