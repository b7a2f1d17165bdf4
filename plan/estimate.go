package plan

import (
	"github.com/cube2222/octoframe/arrowexec/functions"
)

const (
	rangeSelectivity   = 0.33
	defaultSelectivity = 0.1
	groupingFactor     = 0.1
)

// Estimate is a row count estimate. Unknown estimates propagate through the plan.
type Estimate struct {
	Rows  float64
	Known bool
}

var unknownEstimate = Estimate{}

func knownEstimate(rows float64) Estimate {
	return Estimate{Rows: rows, Known: true}
}

// EstimateCardinality estimates the number of rows the node produces.
func EstimateCardinality(node Node) Estimate {
	switch node.NodeType {
	case NodeTypeScan:
		statistics := node.Scan.Source.Statistics()
		if !statistics.RowCountKnown {
			return unknownEstimate
		}
		rows := float64(statistics.RowCount)
		if node.Scan.Predicate != nil {
			rows *= Selectivity(*node.Scan.Predicate)
		}
		if node.Scan.Slice != nil {
			rows = sliceRows(rows, node.Scan.Slice.Offset, node.Scan.Slice.Length)
		}
		return knownEstimate(rows)

	case NodeTypeFilter:
		source := EstimateCardinality(node.Filter.Source)
		if !source.Known {
			return unknownEstimate
		}
		return knownEstimate(source.Rows * Selectivity(node.Filter.Predicate))

	case NodeTypeProject:
		return EstimateCardinality(node.Project.Source)

	case NodeTypeAggregate:
		if len(node.Aggregate.Keys) == 0 {
			return knownEstimate(1)
		}
		source := EstimateCardinality(node.Aggregate.Source)
		if !source.Known {
			return unknownEstimate
		}
		return knownEstimate(source.Rows * groupingFactor)

	case NodeTypeJoin:
		left, right := EstimateCardinality(node.Join.Left), EstimateCardinality(node.Join.Right)
		if !left.Known || !right.Known {
			return unknownEstimate
		}
		switch node.Join.Kind {
		case JoinKindInner:
			return knownEstimate(max(left.Rows, right.Rows))
		case JoinKindLeft, JoinKindAsof:
			return knownEstimate(left.Rows)
		case JoinKindFull:
			return knownEstimate(left.Rows + right.Rows)
		case JoinKindSemi, JoinKindAnti:
			return knownEstimate(left.Rows / 2)
		case JoinKindCross:
			return knownEstimate(left.Rows * right.Rows)
		}
		return unknownEstimate

	case NodeTypeSort:
		source := EstimateCardinality(node.Sort.Source)
		if node.Sort.Limit > 0 && (!source.Known || source.Rows > float64(node.Sort.Limit)) {
			return knownEstimate(float64(node.Sort.Limit))
		}
		return source

	case NodeTypeDistinct:
		source := EstimateCardinality(node.Distinct.Source)
		if !source.Known {
			return unknownEstimate
		}
		return knownEstimate(source.Rows * groupingFactor)

	case NodeTypeWindow:
		return EstimateCardinality(node.Window.Source)

	case NodeTypeSlice:
		source := EstimateCardinality(node.Slice.Source)
		if !source.Known {
			if node.Slice.Length >= 0 {
				return knownEstimate(float64(node.Slice.Length))
			}
			return unknownEstimate
		}
		return knownEstimate(sliceRows(source.Rows, node.Slice.Offset, node.Slice.Length))

	case NodeTypeUnion:
		var total float64
		for _, source := range node.Union.Sources {
			estimate := EstimateCardinality(source)
			if !estimate.Known {
				return unknownEstimate
			}
			total += estimate.Rows
		}
		return knownEstimate(total)
	}
	return unknownEstimate
}

func sliceRows(rows float64, offset, length int64) float64 {
	var available float64
	if offset >= 0 {
		available = max(rows-float64(offset), 0)
	} else {
		available = min(rows, float64(-offset))
	}
	if length >= 0 {
		return min(available, float64(length))
	}
	return available
}

// Selectivity estimates the fraction of rows the predicate keeps.
func Selectivity(predicate Expression) float64 {
	out := 1.0
	for _, conjunct := range predicate.SplitByAnd() {
		if conjunct.ExpressionType == ExpressionTypeBinary {
			switch conjunct.Binary.Op {
			case functions.BinaryOpLess, functions.BinaryOpLessEqual, functions.BinaryOpGreater, functions.BinaryOpGreaterEqual:
				out *= rangeSelectivity
				continue
			}
		}
		out *= defaultSelectivity
	}
	return out
}
