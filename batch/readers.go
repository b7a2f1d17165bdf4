package batch

import (
	"fmt"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"
)

// Readers convert numeric columns into a single accumulation type, so accumulators
// don't need an implementation per input type.

// Int64Reader reads signed integers, booleans and the physical values of temporal types.
func Int64Reader(arr arrow.Array) func(i int) int64 {
	switch arr := arr.(type) {
	case *array.Int8:
		return func(i int) int64 { return int64(arr.Value(i)) }
	case *array.Int16:
		return func(i int) int64 { return int64(arr.Value(i)) }
	case *array.Int32:
		return func(i int) int64 { return int64(arr.Value(i)) }
	case *array.Int64:
		values := arr.Int64Values()
		return func(i int) int64 { return values[i] }
	case *array.Duration:
		return func(i int) int64 { return int64(arr.Value(i)) }
	case *array.Timestamp:
		return func(i int) int64 { return int64(arr.Value(i)) }
	case *array.Date32:
		return func(i int) int64 { return int64(arr.Value(i)) }
	case *array.Boolean:
		return func(i int) int64 {
			if arr.Value(i) {
				return 1
			}
			return 0
		}
	case *array.Null:
		return func(i int) int64 { return 0 }
	}
	panic(fmt.Sprintf("unsupported signed integer array: %s", arr.DataType()))
}

func Uint64Reader(arr arrow.Array) func(i int) uint64 {
	switch arr := arr.(type) {
	case *array.Uint8:
		return func(i int) uint64 { return uint64(arr.Value(i)) }
	case *array.Uint16:
		return func(i int) uint64 { return uint64(arr.Value(i)) }
	case *array.Uint32:
		return func(i int) uint64 { return uint64(arr.Value(i)) }
	case *array.Uint64:
		values := arr.Uint64Values()
		return func(i int) uint64 { return values[i] }
	}
	panic(fmt.Sprintf("unsupported unsigned integer array: %s", arr.DataType()))
}

func Float64Reader(arr arrow.Array) func(i int) float64 {
	switch arr := arr.(type) {
	case *array.Float32:
		return func(i int) float64 { return float64(arr.Value(i)) }
	case *array.Float64:
		values := arr.Float64Values()
		return func(i int) float64 { return values[i] }
	case *array.Uint8, *array.Uint16, *array.Uint32, *array.Uint64:
		read := Uint64Reader(arr)
		return func(i int) float64 { return float64(read(i)) }
	}
	read := Int64Reader(arr)
	return func(i int) float64 { return float64(read(i)) }
}
