package batch

import (
	"fmt"
	"math"
	"time"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"
	"github.com/apache/arrow/go/v13/arrow/memory"
	"github.com/pkg/errors"
)

// AppendValue appends a Go value to the builder, converting it to the builder's type.
// nil appends a null.
func AppendValue(builder array.Builder, value any) error {
	if value == nil {
		builder.AppendNull()
		return nil
	}

	switch builder := builder.(type) {
	case *array.NullBuilder:
		return errors.Errorf("non-null value %v for null column", value)
	case *array.BooleanBuilder:
		v, ok := value.(bool)
		if !ok {
			return errors.Errorf("expected bool, got %T", value)
		}
		builder.Append(v)
	case *array.Int8Builder:
		v, err := toInt64(value, math.MinInt8, math.MaxInt8)
		if err != nil {
			return err
		}
		builder.Append(int8(v))
	case *array.Int16Builder:
		v, err := toInt64(value, math.MinInt16, math.MaxInt16)
		if err != nil {
			return err
		}
		builder.Append(int16(v))
	case *array.Int32Builder:
		v, err := toInt64(value, math.MinInt32, math.MaxInt32)
		if err != nil {
			return err
		}
		builder.Append(int32(v))
	case *array.Int64Builder:
		v, err := toInt64(value, math.MinInt64, math.MaxInt64)
		if err != nil {
			return err
		}
		builder.Append(v)
	case *array.Uint8Builder:
		v, err := toUint64(value, math.MaxUint8)
		if err != nil {
			return err
		}
		builder.Append(uint8(v))
	case *array.Uint16Builder:
		v, err := toUint64(value, math.MaxUint16)
		if err != nil {
			return err
		}
		builder.Append(uint16(v))
	case *array.Uint32Builder:
		v, err := toUint64(value, math.MaxUint32)
		if err != nil {
			return err
		}
		builder.Append(uint32(v))
	case *array.Uint64Builder:
		v, err := toUint64(value, math.MaxUint64)
		if err != nil {
			return err
		}
		builder.Append(v)
	case *array.Float32Builder:
		v, err := toFloat64(value)
		if err != nil {
			return err
		}
		builder.Append(float32(v))
	case *array.Float64Builder:
		v, err := toFloat64(value)
		if err != nil {
			return err
		}
		builder.Append(v)
	case *array.StringBuilder:
		v, ok := value.(string)
		if !ok {
			return errors.Errorf("expected string, got %T", value)
		}
		builder.Append(v)
	case *array.BinaryBuilder:
		switch v := value.(type) {
		case []byte:
			builder.Append(v)
		case string:
			builder.AppendString(v)
		default:
			return errors.Errorf("expected []byte, got %T", value)
		}
	case *array.Date32Builder:
		switch v := value.(type) {
		case time.Time:
			builder.Append(arrow.Date32FromTime(v))
		case arrow.Date32:
			builder.Append(v)
		default:
			return errors.Errorf("expected time.Time, got %T", value)
		}
	case *array.TimestampBuilder:
		switch v := value.(type) {
		case time.Time:
			builder.Append(arrow.Timestamp(v.UnixMicro()))
		case arrow.Timestamp:
			builder.Append(v)
		default:
			return errors.Errorf("expected time.Time, got %T", value)
		}
	case *array.DurationBuilder:
		switch v := value.(type) {
		case time.Duration:
			builder.Append(arrow.Duration(v / time.Microsecond))
		case arrow.Duration:
			builder.Append(v)
		default:
			return errors.Errorf("expected time.Duration, got %T", value)
		}
	case *array.FixedSizeListBuilder:
		v, ok := value.([]any)
		if !ok {
			return errors.Errorf("expected []any, got %T", value)
		}
		size := int(builder.Type().(*arrow.FixedSizeListType).Len())
		if len(v) != size {
			return errors.Errorf("expected list of %d elements, got %d", size, len(v))
		}
		builder.Append(true)
		for i := range v {
			if err := AppendValue(builder.ValueBuilder(), v[i]); err != nil {
				return errors.Wrapf(err, "list element %d", i)
			}
		}
	case *array.StructBuilder:
		v, ok := value.(map[string]any)
		if !ok {
			return errors.Errorf("expected map[string]any, got %T", value)
		}
		structType := builder.Type().(*arrow.StructType)
		builder.Append(true)
		for i, field := range structType.Fields() {
			if err := AppendValue(builder.FieldBuilder(i), v[field.Name]); err != nil {
				return errors.Wrapf(err, "struct field %s", field.Name)
			}
		}
	default:
		return errors.Errorf("unsupported builder type %T", builder)
	}
	return nil
}

func toInt64(value any, min, max int64) (int64, error) {
	var out int64
	switch v := value.(type) {
	case int:
		out = int64(v)
	case int8:
		out = int64(v)
	case int16:
		out = int64(v)
	case int32:
		out = int64(v)
	case int64:
		out = v
	case uint8:
		out = int64(v)
	case uint16:
		out = int64(v)
	case uint32:
		out = int64(v)
	case uint64:
		if v > math.MaxInt64 {
			return 0, errors.Errorf("value %d out of range", v)
		}
		out = int64(v)
	default:
		return 0, errors.Errorf("expected integer, got %T", value)
	}
	if out < min || out > max {
		return 0, errors.Errorf("value %d out of range [%d, %d]", out, min, max)
	}
	return out, nil
}

func toUint64(value any, max uint64) (uint64, error) {
	var out uint64
	switch v := value.(type) {
	case uint8:
		out = uint64(v)
	case uint16:
		out = uint64(v)
	case uint32:
		out = uint64(v)
	case uint64:
		out = v
	case uint:
		out = uint64(v)
	default:
		signed, err := toInt64(value, math.MinInt64, math.MaxInt64)
		if err != nil {
			return 0, err
		}
		if signed < 0 {
			return 0, errors.Errorf("negative value %d for unsigned column", signed)
		}
		out = uint64(signed)
	}
	if out > max {
		return 0, errors.Errorf("value %d out of range [0, %d]", out, max)
	}
	return out, nil
}

func toFloat64(value any) (float64, error) {
	switch v := value.(type) {
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	}
	i, err := toInt64(value, math.MinInt64, math.MaxInt64)
	if err != nil {
		return 0, errors.Errorf("expected number, got %T", value)
	}
	return float64(i), nil
}

// Value reads the value at index i as a Go value. Nulls are returned as nil.
func Value(arr arrow.Array, i int) any {
	if IsNull(arr, i) {
		return nil
	}
	switch arr := arr.(type) {
	case *array.Boolean:
		return arr.Value(i)
	case *array.Int8:
		return arr.Value(i)
	case *array.Int16:
		return arr.Value(i)
	case *array.Int32:
		return arr.Value(i)
	case *array.Int64:
		return arr.Value(i)
	case *array.Uint8:
		return arr.Value(i)
	case *array.Uint16:
		return arr.Value(i)
	case *array.Uint32:
		return arr.Value(i)
	case *array.Uint64:
		return arr.Value(i)
	case *array.Float32:
		return arr.Value(i)
	case *array.Float64:
		return arr.Value(i)
	case *array.String:
		return arr.Value(i)
	case *array.Binary:
		out := make([]byte, len(arr.Value(i)))
		copy(out, arr.Value(i))
		return out
	case *array.Date32:
		return arr.Value(i).ToTime()
	case *array.Timestamp:
		return time.UnixMicro(int64(arr.Value(i))).UTC()
	case *array.Duration:
		return time.Duration(arr.Value(i)) * time.Microsecond
	case *array.FixedSizeList:
		size := int(arr.DataType().(*arrow.FixedSizeListType).Len())
		start := (arr.Data().Offset() + i) * size
		out := make([]any, size)
		for j := range out {
			out[j] = Value(arr.ListValues(), start+j)
		}
		return out
	case *array.Struct:
		structType := arr.DataType().(*arrow.StructType)
		out := make(map[string]any, arr.NumField())
		for j, field := range structType.Fields() {
			out[field.Name] = Value(arr.Field(j), i)
		}
		return out
	}
	panic(fmt.Sprintf("unsupported array type: %s", arr.DataType()))
}

// Rows reads the whole record row by row.
func Rows(record arrow.Record) [][]any {
	out := make([][]any, record.NumRows())
	for i := range out {
		row := make([]any, record.NumCols())
		for j := range row {
			row[j] = Value(record.Column(j), i)
		}
		out[i] = row
	}
	return out
}

// FromRows builds a record from row-oriented Go values.
func FromRows(mem memory.Allocator, schema *arrow.Schema, rows [][]any) (arrow.Record, error) {
	builder := array.NewRecordBuilder(mem, schema)
	defer builder.Release()

	for rowIndex, row := range rows {
		if len(row) != len(schema.Fields()) {
			return nil, errors.Errorf("row %d has %d values, schema has %d fields", rowIndex, len(row), len(schema.Fields()))
		}
		for i := range row {
			if err := AppendValue(builder.Field(i), row[i]); err != nil {
				return nil, errors.Wrapf(err, "row %d, column %s", rowIndex, schema.Field(i).Name)
			}
		}
	}
	return builder.NewRecord(), nil
}

// Repeat returns an array containing value length times.
func Repeat(mem memory.Allocator, dt arrow.DataType, value any, length int) (arrow.Array, error) {
	builder := array.NewBuilder(mem, dt)
	defer builder.Release()
	builder.Reserve(length)
	for i := 0; i < length; i++ {
		if err := AppendValue(builder, value); err != nil {
			return nil, err
		}
	}
	return builder.NewArray(), nil
}
