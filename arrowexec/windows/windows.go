// Package windows evaluates window expressions. The grouping context assigns every row
// to a partition, rows of a partition are processed in their input order.
package windows

import (
	"fmt"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"
	"github.com/cube2222/octoframe/arrowexec/aggregates"
	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/batch"
	"github.com/cube2222/octoframe/octoframe"
	"github.com/pkg/errors"
)

type Function int

const (
	// FunctionOver broadcasts an aggregate of the partition back to its rows.
	FunctionOver Function = iota
	FunctionRollingSum
	FunctionRollingMean
	FunctionRollingMin
	FunctionRollingMax
	FunctionCumSum
	FunctionCumCount
	FunctionCumMin
	FunctionCumMax
	FunctionShift
	FunctionRowNumber
)

var functionNames = map[Function]string{
	FunctionOver:        "over",
	FunctionRollingSum:  "rolling_sum",
	FunctionRollingMean: "rolling_mean",
	FunctionRollingMin:  "rolling_min",
	FunctionRollingMax:  "rolling_max",
	FunctionCumSum:      "cum_sum",
	FunctionCumCount:    "cum_count",
	FunctionCumMin:      "cum_min",
	FunctionCumMax:      "cum_max",
	FunctionShift:       "shift",
	FunctionRowNumber:   "row_number",
}

func (f Function) String() string {
	if name, ok := functionNames[f]; ok {
		return name
	}
	return "unknown"
}

// FunctionByName is the inverse of Function.String.
func FunctionByName(name string) (Function, bool) {
	for f, fName := range functionNames {
		if fName == name {
			return f, true
		}
	}
	return 0, false
}

type Options struct {
	// Size of the rolling window, in rows.
	Size int
	// MinPeriods is the number of non-null values a rolling window needs to produce a value. Defaults to Size.
	MinPeriods int
	// Offset of shift. Positive offsets read earlier rows.
	Offset int
}

// Typecheck returns the type the argument has to be coerced to and the output type.
// Over is typechecked by its aggregate.
func Typecheck(f Function, arg octoframe.Type, options Options) (octoframe.Type, octoframe.Type, error) {
	switch f {
	case FunctionRollingSum, FunctionRollingMean, FunctionRollingMin, FunctionRollingMax:
		if options.Size <= 0 {
			return octoframe.Type{}, octoframe.Type{}, octoframe.NewTypeMismatchError("%s needs a positive window size, got %d", f, options.Size)
		}
		if options.MinPeriods < 0 || options.MinPeriods > options.Size {
			return octoframe.Type{}, octoframe.Type{}, octoframe.NewTypeMismatchError("%s min periods must be between 0 and the window size, got %d", f, options.MinPeriods)
		}
	}

	switch f {
	case FunctionRollingSum, FunctionCumSum:
		if !arg.IsNumeric() && arg.TypeID != octoframe.TypeIDBoolean && !arg.IsNull() {
			return octoframe.Type{}, octoframe.Type{}, octoframe.NewTypeMismatchError("%s expects a numeric argument, got %s", f, arg)
		}
		if arg.IsFloat() {
			return arg, octoframe.Float64.WithNullable(true), nil
		}
		return arg, octoframe.Int64.WithNullable(true), nil
	case FunctionRollingMean:
		if !arg.IsNumeric() && !arg.IsNull() {
			return octoframe.Type{}, octoframe.Type{}, octoframe.NewTypeMismatchError("%s expects a numeric argument, got %s", f, arg)
		}
		return arg, octoframe.Float64.WithNullable(true), nil
	case FunctionRollingMin, FunctionRollingMax, FunctionCumMin, FunctionCumMax:
		if !arg.IsOrdered() {
			return octoframe.Type{}, octoframe.Type{}, octoframe.NewTypeMismatchError("%s expects an ordered argument, got %s", f, arg)
		}
		return arg, arg.WithNullable(true), nil
	case FunctionCumCount, FunctionRowNumber:
		return arg, octoframe.Int64, nil
	case FunctionShift:
		return arg, arg.WithNullable(true), nil
	}
	return octoframe.Type{}, octoframe.Type{}, fmt.Errorf("%s has no standalone type", f)
}

// Expression evaluates a window function over the partitions of ctx.Groups.
type Expression struct {
	Function Function
	Options  Options
	// Arg is the function's argument, nil for row_number.
	Arg execution.Expression
	// Aggregate is set for over.
	Aggregate *aggregates.Expression
	Type      arrow.DataType
}

func (e *Expression) Evaluate(ctx execution.Context, record execution.Record) (arrow.Array, error) {
	if ctx.Groups == nil {
		return nil, errors.Wrapf(octoframe.ErrInvalidContext, "window function %s evaluated outside of a window", e.Function)
	}
	if e.Function == FunctionOver {
		perGroup, err := e.Aggregate.Evaluate(ctx, record)
		if err != nil {
			return nil, err
		}
		indices := make([]int, len(ctx.Groups.IDs))
		for i, id := range ctx.Groups.IDs {
			indices[i] = int(id)
		}
		return batch.Take(ctx.Allocator, perGroup, indices), nil
	}

	var arg arrow.Array
	if e.Arg != nil {
		var err error
		if arg, err = e.Arg.Evaluate(ctx, record); err != nil {
			return nil, errors.Wrapf(err, "couldn't evaluate %s argument", e.Function)
		}
	}
	partitions := Partitions(ctx.Groups)

	switch e.Function {
	case FunctionRowNumber, FunctionCumCount:
		out := make([]int64, record.NumRows())
		for _, rows := range partitions {
			var n int64
			for _, row := range rows {
				if e.Function == FunctionRowNumber || !batch.IsNull(arg, row) {
					n++
				}
				out[row] = n
			}
		}
		builder := array.NewInt64Builder(ctx.Allocator)
		defer builder.Release()
		builder.AppendValues(out, nil)
		return builder.NewArray(), nil

	case FunctionShift:
		indices := make([]int, record.NumRows())
		for _, rows := range partitions {
			for position, row := range rows {
				source := position - e.Options.Offset
				if source < 0 || source >= len(rows) {
					indices[row] = -1
					continue
				}
				indices[row] = rows[source]
			}
		}
		return batch.Take(ctx.Allocator, arg, indices), nil

	case FunctionCumMin, FunctionCumMax:
		return cumulativeExtreme(ctx, arg, partitions, e.Function == FunctionCumMax), nil

	case FunctionRollingMin, FunctionRollingMax:
		return rollingExtreme(ctx, arg, partitions, e.Options, e.Function == FunctionRollingMax), nil

	case FunctionCumSum, FunctionRollingSum, FunctionRollingMean:
		return e.sums(ctx, arg, partitions), nil
	}
	return nil, fmt.Errorf("unsupported window function %s", e.Function)
}

// Partitions lists the rows of every group, in row order.
func Partitions(groups *execution.Groups) [][]int {
	out := make([][]int, groups.Count)
	for row, id := range groups.IDs {
		out[id] = append(out[id], row)
	}
	return out
}

func minPeriods(options Options) int {
	if options.MinPeriods == 0 {
		return options.Size
	}
	return options.MinPeriods
}

// cumulativeExtreme selects, for every row, the row holding the running minimum or maximum.
func cumulativeExtreme(ctx execution.Context, arg arrow.Array, partitions [][]int, max bool) arrow.Array {
	compare := batch.MakeComparator(arg, arg)
	indices := make([]int, arg.Len())
	for _, rows := range partitions {
		best := -1
		for _, row := range rows {
			if !batch.IsNull(arg, row) && (best == -1 || better(compare(row, best), max)) {
				best = row
			}
			indices[row] = best
		}
	}
	return batch.Take(ctx.Allocator, arg, indices)
}

func rollingExtreme(ctx execution.Context, arg arrow.Array, partitions [][]int, options Options, max bool) arrow.Array {
	compare := batch.MakeComparator(arg, arg)
	periods := minPeriods(options)
	indices := make([]int, arg.Len())
	for _, rows := range partitions {
		for position, row := range rows {
			best, count := -1, 0
			for k := position - options.Size + 1; k <= position; k++ {
				if k < 0 || batch.IsNull(arg, rows[k]) {
					continue
				}
				count++
				if best == -1 || better(compare(rows[k], best), max) {
					best = rows[k]
				}
			}
			if count < periods {
				best = -1
			}
			indices[row] = best
		}
	}
	return batch.Take(ctx.Allocator, arg, indices)
}

func better(c int, max bool) bool {
	if max {
		return c > 0
	}
	return c < 0
}

// sums computes cumulative and rolling sums and rolling means with a running window sum.
func (e *Expression) sums(ctx execution.Context, arg arrow.Array, partitions [][]int) arrow.Array {
	length := arg.Len()
	values := make([]float64, length)
	ints := make([]int64, length)
	valid := make([]bool, length)
	isInt := e.Type.ID() == arrow.INT64

	var readFloat func(i int) float64
	var readInt func(i int) int64
	if isInt {
		if arg.DataType().ID() == arrow.NULL {
			readInt = func(i int) int64 { return 0 }
		} else if isUnsigned(arg.DataType()) {
			readUint := batch.Uint64Reader(arg)
			readInt = func(i int) int64 { return int64(readUint(i)) }
		} else {
			readInt = batch.Int64Reader(arg)
		}
	} else {
		readFloat = batch.Float64Reader(arg)
	}

	periods := minPeriods(e.Options)
	for _, rows := range partitions {
		var floatSum float64
		var intSum int64
		count := 0
		for position, row := range rows {
			if !batch.IsNull(arg, row) {
				count++
				if isInt {
					intSum += readInt(row)
				} else {
					floatSum += readFloat(row)
				}
			}
			if e.Function != FunctionCumSum && position >= e.Options.Size {
				leaving := rows[position-e.Options.Size]
				if !batch.IsNull(arg, leaving) {
					count--
					if isInt {
						intSum -= readInt(leaving)
					} else {
						floatSum -= readFloat(leaving)
					}
				}
			}

			switch e.Function {
			case FunctionCumSum:
				valid[row] = !batch.IsNull(arg, row)
			default:
				valid[row] = count >= periods && count > 0
			}
			if e.Function == FunctionRollingMean && count > 0 {
				values[row] = floatSum / float64(count)
				continue
			}
			values[row] = floatSum
			ints[row] = intSum
		}
	}

	if isInt {
		builder := array.NewInt64Builder(ctx.Allocator)
		defer builder.Release()
		builder.AppendValues(ints, valid)
		return builder.NewArray()
	}
	builder := array.NewFloat64Builder(ctx.Allocator)
	defer builder.Release()
	builder.AppendValues(values, valid)
	return builder.NewArray()
}

func isUnsigned(dt arrow.DataType) bool {
	switch dt.ID() {
	case arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64:
		return true
	}
	return false
}
