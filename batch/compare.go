package batch

import (
	"bytes"
	"cmp"
	"fmt"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"
)

// MakeComparator returns a function comparing the non-null value at row i of left
// with the non-null value at row j of right. Both arrays must have the same type.
func MakeComparator(left, right arrow.Array) func(i, j int) int {
	left, right = Physical(left), Physical(right)
	switch left := left.(type) {
	case *array.Boolean:
		right := right.(*array.Boolean)
		return func(i, j int) int {
			return cmp.Compare(boolRank(left.Value(i)), boolRank(right.Value(j)))
		}
	case *array.Int8:
		return orderedComparator[int8](left, right)
	case *array.Int16:
		return orderedComparator[int16](left, right)
	case *array.Int32:
		return orderedComparator[int32](left, right)
	case *array.Int64:
		return orderedComparator[int64](left, right)
	case *array.Uint8:
		return orderedComparator[uint8](left, right)
	case *array.Uint16:
		return orderedComparator[uint16](left, right)
	case *array.Uint32:
		return orderedComparator[uint32](left, right)
	case *array.Uint64:
		return orderedComparator[uint64](left, right)
	case *array.Float32:
		return orderedComparator[float32](left, right)
	case *array.Float64:
		return orderedComparator[float64](left, right)
	case *array.String:
		return orderedComparator[string](left, right)
	case *array.Binary:
		right := right.(*array.Binary)
		return func(i, j int) int {
			return bytes.Compare(left.Value(i), right.Value(j))
		}
	case *array.Null:
		return func(i, j int) int { return 0 }
	}
	panic(fmt.Sprintf("unsupported type for comparison: %s", left.DataType()))
}

func orderedComparator[T cmp.Ordered](left, right arrow.Array) func(i, j int) int {
	typedLeft := left.(interface{ Value(i int) T })
	typedRight := right.(interface{ Value(i int) T })
	return func(i, j int) int {
		return cmp.Compare(typedLeft.Value(i), typedRight.Value(j))
	}
}

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}

// SortKey describes one column of a multi-column ordering.
type SortKey struct {
	Descending bool
	NullsLast  bool
}

// MakeRowComparator compares row i of the left columns with row j of the right columns,
// key by key, applying each key's direction and null placement.
func MakeRowComparator(left, right []arrow.Array, keys []SortKey) func(i, j int) int {
	comparators := make([]func(i, j int) int, len(left))
	for k := range left {
		comparators[k] = MakeComparator(left[k], right[k])
	}
	return func(i, j int) int {
		for k := range comparators {
			leftNull, rightNull := IsNull(left[k], i), IsNull(right[k], j)
			var c int
			switch {
			case leftNull && rightNull:
				continue
			case leftNull || rightNull:
				// Null placement doesn't depend on the direction.
				c = -1
				if leftNull == keys[k].NullsLast {
					c = 1
				}
				return c
			default:
				c = comparators[k](i, j)
			}
			if c == 0 {
				continue
			}
			if keys[k].Descending {
				return -c
			}
			return c
		}
		return 0
	}
}
