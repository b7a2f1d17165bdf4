package aggregates

import (
	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"
	"github.com/apache/arrow/go/v13/arrow/memory"
	"github.com/cube2222/octoframe/batch"
	"github.com/cube2222/octoframe/octoframe"
)

func NewCountPrototype(arg, out octoframe.Type) func() Aggregate {
	return func() Aggregate {
		return &Count{}
	}
}

func NewLenPrototype(arg, out octoframe.Type) func() Aggregate {
	return func() Aggregate {
		return &Count{countNulls: true}
	}
}

type Count struct {
	countNulls bool
	state      []int64
}

func (agg *Count) MakeColumnConsumer(arr arrow.Array) func(entryIndex uint, rowIndex uint) {
	return func(entryIndex uint, rowIndex uint) {
		agg.state = grow(agg.state, entryIndex)
		if agg.countNulls || (arr != nil && !batch.IsNull(arr, int(rowIndex))) {
			agg.state[entryIndex]++
		}
	}
}

func (agg *Count) GetBatch(mem memory.Allocator, length int, offset int) arrow.Array {
	builder := array.NewInt64Builder(mem)
	defer builder.Release()
	builder.Reserve(length)
	for i := offset; i < offset+length; i++ {
		builder.Append(at(agg.state, i))
	}
	return builder.NewArray()
}
