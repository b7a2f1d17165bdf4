package execution

import (
	"context"

	"github.com/cube2222/octoframe/octoframe"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// RunMaterialized executes the stage tree bottom-up. Every stage fully buffers
// the output of its inputs before it runs. Inputs of a stage run in parallel.
func RunMaterialized(ctx Context, root *Stage) ([]Record, error) {
	records, err := materializeStage(ctx, root)
	if err != nil {
		return nil, err
	}
	if err := ctx.Context.Err(); err != nil {
		return nil, octoframe.NewCancellationError(ctx.Context)
	}
	return records, nil
}

func materializeStage(ctx Context, stage *Stage) ([]Record, error) {
	inputRecords := make([][]Record, len(stage.Inputs))
	g, groupCtx := errgroup.WithContext(ctx.Context)
	for i := range stage.Inputs {
		i := i
		g.Go(func() error {
			records, err := materializeStage(ctx.WithContext(groupCtx), stage.Inputs[i])
			if err != nil {
				return err
			}
			inputRecords[i] = records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Context.Err(); err != nil {
		return nil, octoframe.NewCancellationError(ctx.Context)
	}

	if stage.Partitionable && len(stage.Inputs) == 1 && ctx.Parallelism() > 1 && len(inputRecords[0]) > 1 {
		return runPartitioned(ctx, stage, inputRecords[0])
	}

	inputs := make([]Input, len(inputRecords))
	for i := range inputRecords {
		inputs[i] = &RecordsInput{Records: inputRecords[i]}
	}
	var out []Record
	if err := stage.Operator.Run(ctx, inputs, func(produceCtx ProduceContext, record Record) error {
		out = append(out, record)
		return nil
	}); err != nil && !errors.Is(err, ErrLimitReached) {
		return nil, StageError(ctx.Context, stage, err)
	}
	return out, nil
}

// runPartitioned splits the input records into contiguous row ranges, runs the stage
// over each range concurrently and concatenates the outputs in range order.
func runPartitioned(ctx Context, stage *Stage, records []Record) ([]Record, error) {
	partitionCount := ctx.Parallelism()
	if partitionCount > len(records) {
		partitionCount = len(records)
	}
	var totalRows int64
	for _, record := range records {
		totalRows += record.NumRows()
	}
	rowsPerPartition := totalRows/int64(partitionCount) + 1

	var partitions [][]Record
	var current []Record
	var currentRows int64
	for _, record := range records {
		current = append(current, record)
		currentRows += record.NumRows()
		if currentRows >= rowsPerPartition {
			partitions = append(partitions, current)
			current = nil
			currentRows = 0
		}
	}
	if len(current) > 0 {
		partitions = append(partitions, current)
	}

	outputs := make([][]Record, len(partitions))
	g, groupCtx := errgroup.WithContext(ctx.Context)
	g.SetLimit(ctx.Parallelism())
	for i := range partitions {
		i := i
		g.Go(func() error {
			partitionCtx := ctx.WithContext(groupCtx)
			return stage.Operator.Run(partitionCtx, []Input{&RecordsInput{Records: partitions[i]}}, func(produceCtx ProduceContext, record Record) error {
				outputs[i] = append(outputs[i], record)
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, StageError(ctx.Context, stage, err)
	}

	var out []Record
	for i := range outputs {
		out = append(out, outputs[i]...)
	}
	return out, nil
}

// StageError turns an operator failure into the execution's terminal error.
// Errors already attributed to a stage, and cancellations, are passed through.
func StageError(ctx context.Context, stage *Stage, err error) error {
	var execErr *octoframe.ExecutionError
	if errors.As(err, &execErr) {
		return execErr
	}
	var cancelErr *octoframe.CancellationError
	if errors.As(err, &cancelErr) {
		return cancelErr
	}
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return octoframe.NewCancellationError(ctx)
	}
	return &octoframe.ExecutionError{
		StageID:  stage.ID,
		Operator: stage.Name,
		Err:      err,
	}
}
