package nodes

import (
	"fmt"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/arrowexec/helpers"
	"github.com/cube2222/octoframe/batch"
)

type DistinctKeep int

const (
	// DistinctKeepFirst keeps the first row of every key.
	DistinctKeepFirst DistinctKeep = iota
	// DistinctKeepLast keeps the last row of every key.
	DistinctKeepLast
	// DistinctKeepNone keeps only the rows whose key is unique.
	DistinctKeepNone
)

func (keep DistinctKeep) String() string {
	switch keep {
	case DistinctKeepFirst:
		return "first"
	case DistinctKeepLast:
		return "last"
	case DistinctKeepNone:
		return "none"
	}
	return "unknown"
}

// Distinct removes rows with duplicate values in the Subset columns, all columns when Subset is empty.
// Surviving rows keep their input order. Nulls are equal to each other.
type Distinct struct {
	OutSchema *arrow.Schema
	Subset    []int
	Keep      DistinctKeep
}

func (d *Distinct) subset() []int {
	if len(d.Subset) > 0 {
		return d.Subset
	}
	out := make([]int, len(d.OutSchema.Fields()))
	for i := range out {
		out[i] = i
	}
	return out
}

func (d *Distinct) Run(ctx execution.Context, inputs []execution.Input, produce execution.ProduceFunc) error {
	grouper := helpers.NewGrouper(ctx.Memory.NewReservation())
	defer grouper.Close()
	subset := d.subset()

	if d.Keep == DistinctKeepFirst {
		return inputs[0].Run(ctx, func(produceCtx execution.ProduceContext, record execution.Record) error {
			seen := grouper.Count()
			entries, err := grouper.Assign(columnsAt(record.Record, subset), int(record.NumRows()))
			if err != nil {
				return fmt.Errorf("couldn't group rows: %w", err)
			}
			var indices []int
			for rowIndex, entry := range entries {
				// Entries are created in order, so a new entry shows up exactly once.
				if int(entry) >= seen {
					indices = append(indices, rowIndex)
					seen = int(entry) + 1
				}
			}
			if len(indices) == 0 {
				return nil
			}
			return produce(produceCtx, execution.Record{Record: batch.WithSchema(batch.TakeRecord(ctx.Allocator, record.Record, indices), d.OutSchema)})
		})
	}

	type position struct {
		record, row int
	}
	reservation := ctx.Memory.NewReservation()
	defer reservation.Close()

	var records []arrow.Record
	var recordEntries [][]uint32
	var lastPositions []position
	var counts []int
	if err := inputs[0].Run(ctx, func(produceCtx execution.ProduceContext, record execution.Record) error {
		if err := reservation.Grow(batch.ByteSize(record.Record)); err != nil {
			return fmt.Errorf("couldn't buffer distinct input: %w", err)
		}
		entries, err := grouper.Assign(columnsAt(record.Record, subset), int(record.NumRows()))
		if err != nil {
			return fmt.Errorf("couldn't group rows: %w", err)
		}
		for len(counts) < grouper.Count() {
			counts = append(counts, 0)
			lastPositions = append(lastPositions, position{})
		}
		for rowIndex, entry := range entries {
			counts[entry]++
			lastPositions[entry] = position{record: len(records), row: rowIndex}
		}
		records = append(records, record.Record)
		recordEntries = append(recordEntries, entries)
		return nil
	}); err != nil {
		return err
	}

	for recordIndex, record := range records {
		if err := ctx.Context.Err(); err != nil {
			return err
		}
		var indices []int
		for rowIndex, entry := range recordEntries[recordIndex] {
			switch d.Keep {
			case DistinctKeepLast:
				if lastPositions[entry] == (position{record: recordIndex, row: rowIndex}) {
					indices = append(indices, rowIndex)
				}
			case DistinctKeepNone:
				if counts[entry] == 1 {
					indices = append(indices, rowIndex)
				}
			}
		}
		if len(indices) == 0 {
			continue
		}
		if err := produce(execution.ProduceContext{Context: ctx}, execution.Record{Record: batch.WithSchema(batch.TakeRecord(ctx.Allocator, record, indices), d.OutSchema)}); err != nil {
			return err
		}
	}
	return nil
}
