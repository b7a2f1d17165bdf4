package helpers

import (
	"fmt"
	"math"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"
	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/batch"
	"github.com/segmentio/fasthash/fnv1a"
)

// nullHash is mixed into the hash for null key values.
const nullHash = 0x9e3779b97f4a7c15

func MakeRecordKeyHasher(record execution.Record, keyIndices []int) func(rowIndex uint) uint64 {
	columns := make([]arrow.Array, len(keyIndices))
	for i := range columns {
		columns[i] = record.Column(keyIndices[i])
	}
	return MakeRowHasher(columns)
}

// MakeRowHasher hashes the values of the given columns in a row. Values which are equal
// according to MakeRowEqualityChecker hash equally.
func MakeRowHasher(columns []arrow.Array) func(rowIndex uint) uint64 {
	subHashers := make([]func(hash uint64, rowIndex uint) uint64, len(columns))
	for i := range columns {
		valueHasher := makeValueHasher(batch.Physical(columns[i]))
		column := columns[i]
		if column.NullN() == 0 {
			subHashers[i] = valueHasher
			continue
		}
		subHashers[i] = func(hash uint64, rowIndex uint) uint64 {
			if batch.IsNull(column, int(rowIndex)) {
				return fnv1a.AddUint64(hash, nullHash)
			}
			return valueHasher(hash, rowIndex)
		}
	}
	return func(rowIndex uint) uint64 {
		hash := fnv1a.Init64
		for _, hasher := range subHashers {
			hash = hasher(hash, rowIndex)
		}
		return hash
	}
}

func makeValueHasher(column arrow.Array) func(hash uint64, rowIndex uint) uint64 {
	switch typedArr := column.(type) {
	case *array.Null:
		return func(hash uint64, rowIndex uint) uint64 {
			return fnv1a.AddUint64(hash, nullHash)
		}
	case *array.Boolean:
		return func(hash uint64, rowIndex uint) uint64 {
			if typedArr.Value(int(rowIndex)) {
				return fnv1a.AddUint64(hash, 1)
			}
			return fnv1a.AddUint64(hash, 0)
		}
	case *array.Int8:
		return integerHasher[int8](typedArr.Int8Values())
	case *array.Int16:
		return integerHasher[int16](typedArr.Int16Values())
	case *array.Int32:
		return integerHasher[int32](typedArr.Int32Values())
	case *array.Int64:
		return integerHasher[int64](typedArr.Int64Values())
	case *array.Uint8:
		return integerHasher[uint8](typedArr.Uint8Values())
	case *array.Uint16:
		return integerHasher[uint16](typedArr.Uint16Values())
	case *array.Uint32:
		return integerHasher[uint32](typedArr.Uint32Values())
	case *array.Uint64:
		return integerHasher[uint64](typedArr.Uint64Values())
	case *array.Float32:
		values := typedArr.Float32Values()
		return func(hash uint64, rowIndex uint) uint64 {
			return fnv1a.AddUint64(hash, floatBits(float64(values[rowIndex])))
		}
	case *array.Float64:
		values := typedArr.Float64Values()
		return func(hash uint64, rowIndex uint) uint64 {
			return fnv1a.AddUint64(hash, floatBits(values[rowIndex]))
		}
	case *array.String:
		return func(hash uint64, rowIndex uint) uint64 {
			return fnv1a.AddString64(hash, typedArr.Value(int(rowIndex)))
		}
	case *array.Binary:
		return func(hash uint64, rowIndex uint) uint64 {
			return fnv1a.AddBytes64(hash, typedArr.Value(int(rowIndex)))
		}
	}
	panic(fmt.Sprintf("unsupported key type: %s", column.DataType()))
}

func integerHasher[T interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64
}](values []T) func(hash uint64, rowIndex uint) uint64 {
	return func(hash uint64, rowIndex uint) uint64 {
		return fnv1a.AddUint64(hash, uint64(values[rowIndex]))
	}
}

// floatBits normalizes negative zero, so it hashes like zero.
func floatBits(f float64) uint64 {
	if f == 0 {
		return 0
	}
	return math.Float64bits(f)
}
