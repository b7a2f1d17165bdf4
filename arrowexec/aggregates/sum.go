package aggregates

import (
	"math"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"
	"github.com/apache/arrow/go/v13/arrow/memory"
	"github.com/cube2222/octoframe/batch"
	"github.com/cube2222/octoframe/octoframe"
)

func NewSumPrototype(arg, out octoframe.Type) func() Aggregate {
	switch out.TypeID {
	case octoframe.TypeIDUInt64:
		return func() Aggregate { return &SumUint{} }
	case octoframe.TypeIDFloat64:
		return func() Aggregate { return &SumFloat{} }
	}
	outType := out.ToArrow()
	return func() Aggregate { return &SumInt{outType: outType} }
}

// SumInt sums signed integers, booleans and durations into int64, wrapping on overflow.
type SumInt struct {
	outType arrow.DataType
	state   []int64
}

func (agg *SumInt) MakeColumnConsumer(arr arrow.Array) func(entryIndex uint, rowIndex uint) {
	read := batch.Int64Reader(arr)
	return func(entryIndex uint, rowIndex uint) {
		agg.state = grow(agg.state, entryIndex)
		if batch.IsNull(arr, int(rowIndex)) {
			return
		}
		agg.state[entryIndex] += read(int(rowIndex))
	}
}

func (agg *SumInt) GetBatch(mem memory.Allocator, length int, offset int) arrow.Array {
	builder := array.NewInt64Builder(mem)
	defer builder.Release()
	builder.Reserve(length)
	for i := offset; i < offset+length; i++ {
		builder.Append(at(agg.state, i))
	}
	out := builder.NewArray()
	if agg.outType.ID() == arrow.INT64 {
		return out
	}
	defer out.Release()
	data := out.Data()
	return array.MakeFromData(array.NewData(agg.outType, data.Len(), data.Buffers(), nil, data.NullN(), data.Offset()))
}

type SumUint struct {
	state []uint64
}

func (agg *SumUint) MakeColumnConsumer(arr arrow.Array) func(entryIndex uint, rowIndex uint) {
	read := batch.Uint64Reader(arr)
	return func(entryIndex uint, rowIndex uint) {
		agg.state = grow(agg.state, entryIndex)
		if batch.IsNull(arr, int(rowIndex)) {
			return
		}
		agg.state[entryIndex] += read(int(rowIndex))
	}
}

func (agg *SumUint) GetBatch(mem memory.Allocator, length int, offset int) arrow.Array {
	builder := array.NewUint64Builder(mem)
	defer builder.Release()
	builder.Reserve(length)
	for i := offset; i < offset+length; i++ {
		builder.Append(at(agg.state, i))
	}
	return builder.NewArray()
}

type SumFloat struct {
	state []float64
}

func (agg *SumFloat) MakeColumnConsumer(arr arrow.Array) func(entryIndex uint, rowIndex uint) {
	read := batch.Float64Reader(arr)
	return func(entryIndex uint, rowIndex uint) {
		agg.state = grow(agg.state, entryIndex)
		if batch.IsNull(arr, int(rowIndex)) {
			return
		}
		agg.state[entryIndex] += read(int(rowIndex))
	}
}

func (agg *SumFloat) GetBatch(mem memory.Allocator, length int, offset int) arrow.Array {
	builder := array.NewFloat64Builder(mem)
	defer builder.Release()
	builder.Reserve(length)
	for i := offset; i < offset+length; i++ {
		builder.Append(at(agg.state, i))
	}
	return builder.NewArray()
}

func NewMeanPrototype(arg, out octoframe.Type) func() Aggregate {
	return func() Aggregate { return &Moments{result: momentMean} }
}

func NewStdPrototype(arg, out octoframe.Type) func() Aggregate {
	return func() Aggregate { return &Moments{result: momentStd} }
}

func NewVarPrototype(arg, out octoframe.Type) func() Aggregate {
	return func() Aggregate { return &Moments{result: momentVar} }
}

type momentResult int

const (
	momentMean momentResult = iota
	momentVar
	momentStd
)

type moments struct {
	count int64
	mean  float64
	m2    float64
}

// Moments accumulates count, mean and the sum of squared deviations with Welford's algorithm.
type Moments struct {
	result momentResult
	state  []moments
}

func (agg *Moments) MakeColumnConsumer(arr arrow.Array) func(entryIndex uint, rowIndex uint) {
	read := batch.Float64Reader(arr)
	return func(entryIndex uint, rowIndex uint) {
		agg.state = grow(agg.state, entryIndex)
		if batch.IsNull(arr, int(rowIndex)) {
			return
		}
		v := read(int(rowIndex))
		s := &agg.state[entryIndex]
		s.count++
		delta := v - s.mean
		s.mean += delta / float64(s.count)
		s.m2 += delta * (v - s.mean)
	}
}

func (agg *Moments) GetBatch(mem memory.Allocator, length int, offset int) arrow.Array {
	builder := array.NewFloat64Builder(mem)
	defer builder.Release()
	builder.Reserve(length)
	for i := offset; i < offset+length; i++ {
		s := at(agg.state, i)
		switch agg.result {
		case momentMean:
			if s.count == 0 {
				builder.AppendNull()
				continue
			}
			builder.Append(s.mean)
		case momentVar, momentStd:
			// Sample statistics, with one degree of freedom.
			if s.count < 2 {
				builder.AppendNull()
				continue
			}
			variance := s.m2 / float64(s.count-1)
			if agg.result == momentStd {
				variance = math.Sqrt(variance)
			}
			builder.Append(variance)
		}
	}
	return builder.NewArray()
}
