package aggregates

import (
	"cmp"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"
	"github.com/apache/arrow/go/v13/arrow/memory"
	"github.com/cube2222/octoframe/batch"
	"github.com/cube2222/octoframe/octoframe"
)

func NewMinPrototype(arg, out octoframe.Type) func() Aggregate {
	return newMinMaxPrototype(arg, out, false)
}

func NewMaxPrototype(arg, out octoframe.Type) func() Aggregate {
	return newMinMaxPrototype(arg, out, true)
}

func newMinMaxPrototype(arg, out octoframe.Type, max bool) func() Aggregate {
	outType := out.ToArrow()
	switch arg.TypeID {
	case octoframe.TypeIDNull:
		return func() Aggregate { return &Nulls{outType: outType} }
	case octoframe.TypeIDBoolean:
		return func() Aggregate { return &MinMaxBoolean{max: max} }
	case octoframe.TypeIDInt8:
		return newMinMax[int8](max, outType)
	case octoframe.TypeIDInt16:
		return newMinMax[int16](max, outType)
	case octoframe.TypeIDInt32, octoframe.TypeIDDate:
		return newMinMax[int32](max, outType)
	case octoframe.TypeIDInt64, octoframe.TypeIDDatetime, octoframe.TypeIDDuration:
		return newMinMax[int64](max, outType)
	case octoframe.TypeIDUInt8:
		return newMinMax[uint8](max, outType)
	case octoframe.TypeIDUInt16:
		return newMinMax[uint16](max, outType)
	case octoframe.TypeIDUInt32:
		return newMinMax[uint32](max, outType)
	case octoframe.TypeIDUInt64:
		return newMinMax[uint64](max, outType)
	case octoframe.TypeIDFloat32:
		return newMinMax[float32](max, outType)
	case octoframe.TypeIDFloat64:
		return newMinMax[float64](max, outType)
	case octoframe.TypeIDString, octoframe.TypeIDCategorical:
		return newMinMax[string](max, outType)
	}
	panic("unsupported type for min/max: " + arg.String())
}

func newMinMax[T cmp.Ordered](max bool, outType arrow.DataType) func() Aggregate {
	return func() Aggregate {
		return &MinMax[T]{max: max, outType: outType}
	}
}

type MinMax[T cmp.Ordered] struct {
	max     bool
	outType arrow.DataType
	values  []T
	seen    []bool
}

func (agg *MinMax[T]) MakeColumnConsumer(arr arrow.Array) func(entryIndex uint, rowIndex uint) {
	typedArr := batch.Physical(arr).(interface{ Value(i int) T })
	return func(entryIndex uint, rowIndex uint) {
		agg.values = grow(agg.values, entryIndex)
		agg.seen = grow(agg.seen, entryIndex)
		if arr.IsNull(int(rowIndex)) {
			return
		}
		v := typedArr.Value(int(rowIndex))
		switch {
		case !agg.seen[entryIndex]:
			agg.values[entryIndex] = v
			agg.seen[entryIndex] = true
		case agg.max && v > agg.values[entryIndex]:
			agg.values[entryIndex] = v
		case !agg.max && v < agg.values[entryIndex]:
			agg.values[entryIndex] = v
		}
	}
}

func (agg *MinMax[T]) GetBatch(mem memory.Allocator, length int, offset int) arrow.Array {
	physicalType := agg.outType
	switch agg.outType.ID() {
	case arrow.DATE32:
		physicalType = arrow.PrimitiveTypes.Int32
	case arrow.TIMESTAMP, arrow.DURATION:
		physicalType = arrow.PrimitiveTypes.Int64
	}
	builder := array.NewBuilder(mem, physicalType)
	defer builder.Release()
	builder.Reserve(length)
	typedBuilder := builder.(interface{ Append(v T) })
	for i := offset; i < offset+length; i++ {
		if !at(agg.seen, i) {
			builder.AppendNull()
			continue
		}
		typedBuilder.Append(agg.values[i])
	}
	out := builder.NewArray()
	if physicalType == agg.outType {
		return out
	}
	return batch.Retype(out, agg.outType)
}

// MinMaxBoolean treats false as smaller than true.
type MinMaxBoolean struct {
	max    bool
	values []bool
	seen   []bool
}

func (agg *MinMaxBoolean) MakeColumnConsumer(arr arrow.Array) func(entryIndex uint, rowIndex uint) {
	typedArr := arr.(*array.Boolean)
	return func(entryIndex uint, rowIndex uint) {
		agg.values = grow(agg.values, entryIndex)
		agg.seen = grow(agg.seen, entryIndex)
		if typedArr.IsNull(int(rowIndex)) {
			return
		}
		v := typedArr.Value(int(rowIndex))
		if !agg.seen[entryIndex] {
			agg.values[entryIndex] = v
			agg.seen[entryIndex] = true
		} else if agg.max {
			agg.values[entryIndex] = agg.values[entryIndex] || v
		} else {
			agg.values[entryIndex] = agg.values[entryIndex] && v
		}
	}
}

func (agg *MinMaxBoolean) GetBatch(mem memory.Allocator, length int, offset int) arrow.Array {
	builder := array.NewBooleanBuilder(mem)
	defer builder.Release()
	builder.Reserve(length)
	for i := offset; i < offset+length; i++ {
		if !at(agg.seen, i) {
			builder.AppendNull()
			continue
		}
		builder.Append(agg.values[i])
	}
	return builder.NewArray()
}

// Nulls is the result of value aggregates over the Null type.
type Nulls struct {
	outType arrow.DataType
}

func (agg *Nulls) MakeColumnConsumer(arr arrow.Array) func(entryIndex uint, rowIndex uint) {
	return func(entryIndex uint, rowIndex uint) {}
}

func (agg *Nulls) GetBatch(mem memory.Allocator, length int, offset int) arrow.Array {
	return batch.NullArray(mem, agg.outType, length)
}

func NewFirstPrototype(arg, out octoframe.Type) func() Aggregate {
	outType := out.ToArrow()
	return func() Aggregate { return &FirstLast{outType: outType} }
}

func NewLastPrototype(arg, out octoframe.Type) func() Aggregate {
	outType := out.ToArrow()
	return func() Aggregate { return &FirstLast{last: true, outType: outType} }
}

type rowReference struct {
	array int
	row   int
}

// FirstLast remembers the position of the selected row and copies values out only when finishing.
type FirstLast struct {
	last    bool
	outType arrow.DataType
	arrays  []arrow.Array
	rows    []rowReference
	seen    []bool
}

func (agg *FirstLast) MakeColumnConsumer(arr arrow.Array) func(entryIndex uint, rowIndex uint) {
	arrayIndex := len(agg.arrays)
	agg.arrays = append(agg.arrays, arr)
	return func(entryIndex uint, rowIndex uint) {
		agg.rows = grow(agg.rows, entryIndex)
		agg.seen = grow(agg.seen, entryIndex)
		if agg.seen[entryIndex] && !agg.last {
			return
		}
		agg.rows[entryIndex] = rowReference{array: arrayIndex, row: int(rowIndex)}
		agg.seen[entryIndex] = true
	}
}

func (agg *FirstLast) GetBatch(mem memory.Allocator, length int, offset int) arrow.Array {
	if agg.outType.ID() == arrow.NULL {
		return batch.NullArray(mem, agg.outType, length)
	}
	builder := array.NewBuilder(mem, agg.outType)
	defer builder.Release()
	builder.Reserve(length)

	appenders := make([]func(rowIndex int), len(agg.arrays))
	for i := offset; i < offset+length; i++ {
		if !at(agg.seen, i) {
			builder.AppendNull()
			continue
		}
		ref := agg.rows[i]
		if appenders[ref.array] == nil {
			appenders[ref.array] = batch.MakeAppender(builder, agg.arrays[ref.array])
		}
		appenders[ref.array](ref.row)
	}
	return builder.NewArray()
}

func NewNUniquePrototype(arg, out octoframe.Type) func() Aggregate {
	return func() Aggregate { return &NUnique{} }
}

type NUnique struct {
	sets []map[any]struct{}
}

func (agg *NUnique) MakeColumnConsumer(arr arrow.Array) func(entryIndex uint, rowIndex uint) {
	return func(entryIndex uint, rowIndex uint) {
		agg.sets = grow(agg.sets, entryIndex)
		if agg.sets[entryIndex] == nil {
			agg.sets[entryIndex] = make(map[any]struct{})
		}
		agg.sets[entryIndex][uniqueKey(batch.Value(arr, int(rowIndex)))] = struct{}{}
	}
}

func (agg *NUnique) GetBatch(mem memory.Allocator, length int, offset int) arrow.Array {
	builder := array.NewInt64Builder(mem)
	defer builder.Release()
	builder.Reserve(length)
	for i := offset; i < offset+length; i++ {
		builder.Append(int64(len(at(agg.sets, i))))
	}
	return builder.NewArray()
}

func uniqueKey(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
