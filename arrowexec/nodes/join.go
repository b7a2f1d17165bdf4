package nodes

import (
	"fmt"
	"sort"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"
	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/arrowexec/helpers"
	"github.com/cube2222/octoframe/arrowexec/nodes/hashtable"
	"github.com/cube2222/octoframe/batch"
)

type JoinKind int

const (
	JoinKindInner JoinKind = iota
	JoinKindLeft
	JoinKindFull
	JoinKindSemi
	JoinKindAnti
)

func (kind JoinKind) String() string {
	switch kind {
	case JoinKindInner:
		return "inner"
	case JoinKindLeft:
		return "left"
	case JoinKindFull:
		return "full"
	case JoinKindSemi:
		return "semi"
	case JoinKindAnti:
		return "anti"
	}
	return "unknown"
}

type JoinSide int

const (
	JoinSideLeft JoinSide = iota
	JoinSideRight
)

// JoinColumn says where an output column of a join comes from.
type JoinColumn struct {
	Side  JoinSide
	Index int
}

// HashJoin builds a hash table from the whole build side before it reads any record of the probe side.
// The left input is inputs[0], the right input is inputs[1].
// Only inner joins may build the left side, all other kinds preserve the left side and build the right one.
type HashJoin struct {
	OutSchema           *arrow.Schema
	Kind                JoinKind
	LeftKeys, RightKeys []int
	BuildSide           JoinSide
	// Partitions is the number of hash table partitions, broadcast joins use a single one.
	Partitions int
	Output     []JoinColumn
}

func (j *HashJoin) Run(ctx execution.Context, inputs []execution.Input, produce execution.ProduceFunc) error {
	if j.BuildSide == JoinSideLeft && j.Kind != JoinKindInner {
		return fmt.Errorf("%s join can't build its left side", j.Kind)
	}
	buildInput, probeInput := inputs[1], inputs[0]
	buildKeys, probeKeys := j.RightKeys, j.LeftKeys
	if j.BuildSide == JoinSideLeft {
		buildInput, probeInput = inputs[0], inputs[1]
		buildKeys, probeKeys = j.LeftKeys, j.RightKeys
	}

	var buildSchema *arrow.Schema
	var builder *hashtable.Builder
	if err := buildInput.Run(ctx, func(produceCtx execution.ProduceContext, record execution.Record) error {
		if builder == nil {
			buildSchema = record.Schema()
			builder = hashtable.NewBuilder(ctx, buildSchema, buildKeys)
		}
		return builder.Add(record)
	}); err != nil {
		if builder != nil {
			builder.Close()
		}
		return fmt.Errorf("couldn't read join build side: %w", err)
	}

	var table *hashtable.JoinTable
	if builder != nil {
		var err error
		table, err = builder.Build(ctx, j.Partitions)
		if err != nil {
			builder.Close()
			return fmt.Errorf("couldn't build join hash table: %w", err)
		}
		defer table.Close()
		ctx.Log().Debug("built join hash table", "rows", table.RowCount(), "partitions", table.PartitionCount())
	}

	output := newJoinOutput(ctx, j.OutSchema, j.Output, produce)
	buildSide, probeSide := JoinSideRight, JoinSideLeft
	if j.BuildSide == JoinSideLeft {
		buildSide, probeSide = JoinSideLeft, JoinSideRight
	}

	var partitionAppenders [][]func(rowIndex int)
	var tracker *hashtable.MatchTracker
	if table != nil {
		partitionAppenders = make([][]func(rowIndex int), table.PartitionCount())
		for i := range partitionAppenders {
			partitionAppenders[i] = output.appenders(buildSide, table.Partition(i).Record)
		}
		if j.Kind == JoinKindFull {
			tracker = table.NewMatchTracker()
		}
	}

	if err := probeInput.Run(ctx, func(produceCtx execution.ProduceContext, record execution.Record) error {
		probeAppenders := output.appenders(probeSide, record.Record)
		var prober *hashtable.Prober
		if table != nil {
			prober = table.NewProber(record, probeKeys)
		}

		for rowIndex := 0; rowIndex < int(record.NumRows()); rowIndex++ {
			switch j.Kind {
			case JoinKindSemi, JoinKindAnti:
				matched := prober != nil && prober.HasMatch(rowIndex)
				if matched == (j.Kind == JoinKindSemi) {
					if err := output.emit(probeSide, probeAppenders, rowIndex, nil, -1); err != nil {
						return err
					}
				}
			default:
				matched := false
				var emitErr error
				if prober != nil {
					prober.Matches(rowIndex, func(partitionIndex, tableRowIndex int) bool {
						matched = true
						if tracker != nil {
							tracker.Mark(partitionIndex, tableRowIndex)
						}
						emitErr = output.emit(probeSide, probeAppenders, rowIndex, partitionAppenders[partitionIndex], tableRowIndex)
						return emitErr == nil
					})
				}
				if emitErr != nil {
					return emitErr
				}
				if !matched && (j.Kind == JoinKindLeft || j.Kind == JoinKindFull) {
					if err := output.emit(probeSide, probeAppenders, rowIndex, nil, -1); err != nil {
						return err
					}
				}
			}
		}
		return nil
	}); err != nil {
		return err
	}

	if tracker != nil {
		if err := tracker.Unmatched(func(partitionIndex, tableRowIndex int) error {
			return output.emit(buildSide, partitionAppenders[partitionIndex], tableRowIndex, nil, -1)
		}); err != nil {
			return err
		}
	}
	return output.flush()
}

// joinOutput assembles output records from pairs of rows of both sides.
type joinOutput struct {
	ctx       execution.Context
	schema    *arrow.Schema
	columns   []JoinColumn
	builder   *array.RecordBuilder
	rows      int
	batchSize int
	produce   execution.ProduceFunc
}

func newJoinOutput(ctx execution.Context, schema *arrow.Schema, columns []JoinColumn, produce execution.ProduceFunc) *joinOutput {
	return &joinOutput{
		ctx:       ctx,
		schema:    schema,
		columns:   columns,
		builder:   array.NewRecordBuilder(ctx.Allocator, schema),
		batchSize: ctx.BatchSize(),
		produce:   produce,
	}
}

// appenders returns, for every output column coming from the given side, a function copying a row of record into it.
func (o *joinOutput) appenders(side JoinSide, record arrow.Record) []func(rowIndex int) {
	out := make([]func(rowIndex int), len(o.columns))
	for i, column := range o.columns {
		if column.Side == side {
			out[i] = batch.MakeAppender(o.builder.Field(i), record.Column(column.Index))
		}
	}
	return out
}

// emit adds one output row. The first row belongs to side, the second to the other side.
// A negative row index produces nulls for that side.
func (o *joinOutput) emit(side JoinSide, appenders []func(rowIndex int), rowIndex int, otherAppenders []func(rowIndex int), otherRowIndex int) error {
	for i, column := range o.columns {
		if column.Side == side {
			if rowIndex < 0 {
				o.builder.Field(i).AppendNull()
			} else {
				appenders[i](rowIndex)
			}
		} else {
			if otherRowIndex < 0 {
				o.builder.Field(i).AppendNull()
			} else {
				otherAppenders[i](otherRowIndex)
			}
		}
	}
	o.rows++
	if o.rows >= o.batchSize {
		return o.flush()
	}
	return nil
}

func (o *joinOutput) flush() error {
	if o.rows == 0 {
		return nil
	}
	if err := o.ctx.Context.Err(); err != nil {
		return err
	}
	record := o.builder.NewRecord()
	if len(o.columns) == 0 {
		// The builder doesn't know the row count of a record without columns.
		record = array.NewRecord(o.schema, nil, int64(o.rows))
	}
	o.rows = 0
	return o.produce(execution.ProduceContext{Context: o.ctx}, execution.Record{Record: record})
}

// bufferInput reads a whole input into one record, reserving memory for it.
func bufferInput(ctx execution.Context, input execution.Input, schema *arrow.Schema, reservation *execution.Reservation) (arrow.Record, error) {
	var records []arrow.Record
	if err := input.Run(ctx, func(produceCtx execution.ProduceContext, record execution.Record) error {
		if err := reservation.Grow(batch.ByteSize(record.Record)); err != nil {
			return err
		}
		records = append(records, record.Record)
		return nil
	}); err != nil {
		return nil, err
	}
	return batch.Concat(ctx.Allocator, schema, records)
}

// SortMergeJoin is an inner join of two inputs which are both sorted ascending on their keys.
type SortMergeJoin struct {
	OutSchema               *arrow.Schema
	LeftSchema, RightSchema *arrow.Schema
	LeftKeys, RightKeys     []int
	Output                  []JoinColumn
}

func (j *SortMergeJoin) Run(ctx execution.Context, inputs []execution.Input, produce execution.ProduceFunc) error {
	reservation := ctx.Memory.NewReservation()
	defer reservation.Close()

	left, err := bufferInput(ctx, inputs[0], j.LeftSchema, reservation)
	if err != nil {
		return fmt.Errorf("couldn't read left join input: %w", err)
	}
	right, err := bufferInput(ctx, inputs[1], j.RightSchema, reservation)
	if err != nil {
		return fmt.Errorf("couldn't read right join input: %w", err)
	}

	leftKeys := columnsAt(left, j.LeftKeys)
	rightKeys := columnsAt(right, j.RightKeys)
	sortKeys := make([]batch.SortKey, len(leftKeys))
	compare := batch.MakeRowComparator(leftKeys, rightKeys, sortKeys)
	compareLeft := batch.MakeRowComparator(leftKeys, leftKeys, sortKeys)
	compareRight := batch.MakeRowComparator(rightKeys, rightKeys, sortKeys)

	output := newJoinOutput(ctx, j.OutSchema, j.Output, produce)
	leftAppenders := output.appenders(JoinSideLeft, left)
	rightAppenders := output.appenders(JoinSideRight, right)

	leftRows, rightRows := int(left.NumRows()), int(right.NumRows())
	i, k := 0, 0
	for i < leftRows && k < rightRows {
		if helpers.HasNull(leftKeys, i) {
			i++
			continue
		}
		if helpers.HasNull(rightKeys, k) {
			k++
			continue
		}
		switch c := compare(i, k); {
		case c < 0:
			i++
		case c > 0:
			k++
		default:
			leftEnd := i + 1
			for leftEnd < leftRows && compareLeft(i, leftEnd) == 0 {
				leftEnd++
			}
			rightEnd := k + 1
			for rightEnd < rightRows && compareRight(k, rightEnd) == 0 {
				rightEnd++
			}
			for li := i; li < leftEnd; li++ {
				for rk := k; rk < rightEnd; rk++ {
					if err := output.emit(JoinSideLeft, leftAppenders, li, rightAppenders, rk); err != nil {
						return err
					}
				}
			}
			i, k = leftEnd, rightEnd
		}
	}
	return output.flush()
}

func columnsAt(record arrow.Record, indices []int) []arrow.Array {
	out := make([]arrow.Array, len(indices))
	for i, index := range indices {
		out[i] = record.Column(index)
	}
	return out
}

// NestedLoopJoin is a cross join. It buffers the right side and streams the left one.
type NestedLoopJoin struct {
	OutSchema   *arrow.Schema
	RightSchema *arrow.Schema
	Output      []JoinColumn
}

func (j *NestedLoopJoin) Run(ctx execution.Context, inputs []execution.Input, produce execution.ProduceFunc) error {
	reservation := ctx.Memory.NewReservation()
	defer reservation.Close()

	right, err := bufferInput(ctx, inputs[1], j.RightSchema, reservation)
	if err != nil {
		return fmt.Errorf("couldn't read right join input: %w", err)
	}
	if right.NumRows() == 0 {
		return nil
	}

	output := newJoinOutput(ctx, j.OutSchema, j.Output, produce)
	rightAppenders := output.appenders(JoinSideRight, right)
	if err := inputs[0].Run(ctx, func(produceCtx execution.ProduceContext, record execution.Record) error {
		leftAppenders := output.appenders(JoinSideLeft, record.Record)
		for i := 0; i < int(record.NumRows()); i++ {
			for k := 0; k < int(right.NumRows()); k++ {
				if err := output.emit(JoinSideLeft, leftAppenders, i, rightAppenders, k); err != nil {
					return err
				}
			}
		}
		return nil
	}); err != nil {
		return err
	}
	return output.flush()
}

// AsofJoin matches every left row with the last right row whose On value is less than or equal to the left one,
// among the right rows with equal By values. Left rows without a match get nulls.
type AsofJoin struct {
	OutSchema       *arrow.Schema
	RightSchema     *arrow.Schema
	LeftOn, RightOn int
	LeftBy, RightBy []int
	Output          []JoinColumn
}

func (j *AsofJoin) Run(ctx execution.Context, inputs []execution.Input, produce execution.ProduceFunc) error {
	reservation := ctx.Memory.NewReservation()
	defer reservation.Close()

	right, err := bufferInput(ctx, inputs[1], j.RightSchema, reservation)
	if err != nil {
		return fmt.Errorf("couldn't read right join input: %w", err)
	}
	rightOn := right.Column(j.RightOn)
	rightBy := columnsAt(right, j.RightBy)

	grouper := helpers.NewGrouper(nil)
	defer grouper.Close()
	rightGroups, err := grouper.Assign(rightBy, int(right.NumRows()))
	if err != nil {
		return err
	}
	rowsByGroup := make([][]int, grouper.Count())
	for row, group := range rightGroups {
		if batch.IsNull(rightOn, row) || helpers.HasNull(rightBy, row) {
			continue
		}
		rowsByGroup[group] = append(rowsByGroup[group], row)
	}
	compareRight := batch.MakeComparator(rightOn, rightOn)
	for _, rows := range rowsByGroup {
		sort.SliceStable(rows, func(a, b int) bool {
			return compareRight(rows[a], rows[b]) < 0
		})
	}

	output := newJoinOutput(ctx, j.OutSchema, j.Output, produce)
	rightAppenders := output.appenders(JoinSideRight, right)
	if err := inputs[0].Run(ctx, func(produceCtx execution.ProduceContext, record execution.Record) error {
		leftOn := record.Column(j.LeftOn)
		leftBy := columnsAt(record.Record, j.LeftBy)
		leftGroups, err := grouper.Assign(leftBy, int(record.NumRows()))
		if err != nil {
			return err
		}
		compare := batch.MakeComparator(leftOn, rightOn)
		leftAppenders := output.appenders(JoinSideLeft, record.Record)

		for row := 0; row < int(record.NumRows()); row++ {
			match := -1
			group := int(leftGroups[row])
			if !batch.IsNull(leftOn, row) && !helpers.HasNull(leftBy, row) && group < len(rowsByGroup) {
				candidates := rowsByGroup[group]
				// First candidate which is greater than the left value.
				after := sort.Search(len(candidates), func(i int) bool {
					return compare(row, candidates[i]) < 0
				})
				if after > 0 {
					match = candidates[after-1]
				}
			}
			if err := output.emit(JoinSideLeft, leftAppenders, row, rightAppenders, match); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return err
	}
	return output.flush()
}
