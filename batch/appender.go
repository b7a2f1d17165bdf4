package batch

import (
	"fmt"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"
	"github.com/apache/arrow/go/v13/arrow/memory"
)

// MakeAppender returns a function appending the value (or null) at rowIndex of arr to builder.
// The builder's type must match the array's type.
func MakeAppender(builder array.Builder, arr arrow.Array) func(rowIndex int) {
	appendValue := makeValueAppender(builder, arr)
	if arr.NullN() == 0 {
		return appendValue
	}
	return func(rowIndex int) {
		if arr.IsNull(rowIndex) {
			builder.AppendNull()
			return
		}
		appendValue(rowIndex)
	}
}

func makeValueAppender(builder array.Builder, arr arrow.Array) func(rowIndex int) {
	switch builder.Type().ID() {
	case arrow.NULL:
		return func(rowIndex int) {
			builder.AppendNull()
		}
	case arrow.BOOL:
		return appenderForType[bool](builder.(*array.BooleanBuilder), arr.(*array.Boolean))
	case arrow.INT8:
		return appenderForType[int8](builder.(*array.Int8Builder), arr.(*array.Int8))
	case arrow.INT16:
		return appenderForType[int16](builder.(*array.Int16Builder), arr.(*array.Int16))
	case arrow.INT32:
		return appenderForType[int32](builder.(*array.Int32Builder), arr.(*array.Int32))
	case arrow.INT64:
		return appenderForType[int64](builder.(*array.Int64Builder), arr.(*array.Int64))
	case arrow.UINT8:
		return appenderForType[uint8](builder.(*array.Uint8Builder), arr.(*array.Uint8))
	case arrow.UINT16:
		return appenderForType[uint16](builder.(*array.Uint16Builder), arr.(*array.Uint16))
	case arrow.UINT32:
		return appenderForType[uint32](builder.(*array.Uint32Builder), arr.(*array.Uint32))
	case arrow.UINT64:
		return appenderForType[uint64](builder.(*array.Uint64Builder), arr.(*array.Uint64))
	case arrow.FLOAT32:
		return appenderForType[float32](builder.(*array.Float32Builder), arr.(*array.Float32))
	case arrow.FLOAT64:
		return appenderForType[float64](builder.(*array.Float64Builder), arr.(*array.Float64))
	case arrow.STRING:
		return appenderForType[string](builder.(*array.StringBuilder), arr.(*array.String))
	case arrow.BINARY:
		return appenderForType[[]byte](builder.(*array.BinaryBuilder), arr.(*array.Binary))
	case arrow.DATE32:
		return appenderForType[arrow.Date32](builder.(*array.Date32Builder), arr.(*array.Date32))
	case arrow.TIMESTAMP:
		return appenderForType[arrow.Timestamp](builder.(*array.TimestampBuilder), arr.(*array.Timestamp))
	case arrow.DURATION:
		return appenderForType[arrow.Duration](builder.(*array.DurationBuilder), arr.(*array.Duration))
	case arrow.FIXED_SIZE_LIST:
		listBuilder := builder.(*array.FixedSizeListBuilder)
		listArr := arr.(*array.FixedSizeList)
		size := int(listArr.DataType().(*arrow.FixedSizeListType).Len())
		offset := listArr.Data().Offset()
		appendElement := MakeAppender(listBuilder.ValueBuilder(), listArr.ListValues())
		return func(rowIndex int) {
			listBuilder.Append(true)
			start := (offset + rowIndex) * size
			for i := 0; i < size; i++ {
				appendElement(start + i)
			}
		}
	case arrow.STRUCT:
		structBuilder := builder.(*array.StructBuilder)
		structArr := arr.(*array.Struct)
		appendFields := make([]func(rowIndex int), structArr.NumField())
		for i := range appendFields {
			appendFields[i] = MakeAppender(structBuilder.FieldBuilder(i), structArr.Field(i))
		}
		return func(rowIndex int) {
			structBuilder.Append(true)
			for _, appendField := range appendFields {
				appendField(rowIndex)
			}
		}
	default:
		panic(fmt.Errorf("unsupported type for appending: %v", builder.Type()))
	}
}

func appenderForType[T any, BuilderType interface{ Append(v T) }, ArrayType interface{ Value(i int) T }](builder BuilderType, arr ArrayType) func(rowIndex int) {
	return func(rowIndex int) {
		builder.Append(arr.Value(rowIndex))
	}
}

// Take gathers the given rows of arr. A negative index produces a null.
func Take(mem memory.Allocator, arr arrow.Array, indices []int) arrow.Array {
	builder := array.NewBuilder(mem, arr.DataType())
	defer builder.Release()
	builder.Reserve(len(indices))

	appendRow := MakeAppender(builder, arr)
	for _, index := range indices {
		if index < 0 {
			builder.AppendNull()
			continue
		}
		appendRow(index)
	}
	return builder.NewArray()
}

// TakeRecord gathers the given rows of every column of the record.
func TakeRecord(mem memory.Allocator, record arrow.Record, indices []int) arrow.Record {
	columns := make([]arrow.Array, record.NumCols())
	for i := range columns {
		columns[i] = Take(mem, record.Column(i), indices)
	}
	return array.NewRecord(record.Schema(), columns, int64(len(indices)))
}

// Filter keeps the rows for which mask is true. Null mask entries drop the row.
func Filter(mem memory.Allocator, record arrow.Record, mask *array.Boolean) arrow.Record {
	indices := make([]int, 0, mask.Len())
	for i := 0; i < mask.Len(); i++ {
		if mask.IsValid(i) && mask.Value(i) {
			indices = append(indices, i)
		}
	}
	if len(indices) == int(record.NumRows()) {
		record.Retain()
		return record
	}
	return TakeRecord(mem, record, indices)
}

// NullArray returns an array of the given type containing only nulls.
func NullArray(mem memory.Allocator, dt arrow.DataType, length int) arrow.Array {
	builder := array.NewBuilder(mem, dt)
	defer builder.Release()
	builder.Reserve(length)
	for i := 0; i < length; i++ {
		builder.AppendNull()
	}
	return builder.NewArray()
}

// Physical reinterprets temporal arrays as their underlying integer arrays.
func Physical(arr arrow.Array) arrow.Array {
	switch arr.DataType().ID() {
	case arrow.DATE32:
		return Retype(arr, arrow.PrimitiveTypes.Int32)
	case arrow.TIMESTAMP, arrow.DURATION:
		return Retype(arr, arrow.PrimitiveTypes.Int64)
	}
	return arr
}

// Retype reinterprets the array's buffers as another type with the same layout.
func Retype(arr arrow.Array, dt arrow.DataType) arrow.Array {
	data := arr.Data()
	return array.MakeFromData(array.NewData(dt, data.Len(), data.Buffers(), data.Children(), data.NullN(), data.Offset()))
}

// IsNull also reports nulls for arrays of the Null type, which carry no validity bitmap.
func IsNull(arr arrow.Array, i int) bool {
	return arr.DataType().ID() == arrow.NULL || arr.IsNull(i)
}
