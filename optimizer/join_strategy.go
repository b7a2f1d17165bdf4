package optimizer

import (
	. "github.com/cube2222/octoframe/plan"
)

// DefaultBroadcastThreshold is the largest estimated build side, in rows, joined with a broadcast hash join.
const DefaultBroadcastThreshold = 10000

// SelectJoinStrategy returns a rule picking the physical strategy and build side of every join.
func SelectJoinStrategy(broadcastThreshold float64) func(node Node) (Node, bool) {
	return func(node Node) (Node, bool) {
		changed := false
		t := Transformers{
			NodeTransformer: func(node Node) Node {
				if node.NodeType != NodeTypeJoin {
					return node
				}
				strategy, buildSide := joinStrategy(node.Join, broadcastThreshold)
				if strategy == node.Join.Strategy && buildSide == node.Join.BuildSide {
					return node
				}
				changed = true
				join := *node.Join
				join.Strategy = strategy
				join.BuildSide = buildSide
				node.Join = &join
				return node
			},
		}
		output := t.TransformNode(node)

		if changed {
			return output, true
		} else {
			return node, false
		}
	}
}

func joinStrategy(join *Join, broadcastThreshold float64) (JoinStrategy, JoinSide) {
	switch join.Kind {
	case JoinKindCross:
		return JoinStrategyNestedLoop, JoinSideRight
	case JoinKindAsof:
		return JoinStrategyAsofMerge, JoinSideRight
	}
	if join.Kind == JoinKindInner && sortedOn(join.Left, join.LeftKeys) && sortedOn(join.Right, join.RightKeys) {
		return JoinStrategySortMerge, JoinSideRight
	}

	left, right := EstimateCardinality(join.Left), EstimateCardinality(join.Right)
	buildSide, build := JoinSideRight, right
	if join.Kind == JoinKindInner && left.Known && right.Known && left.Rows < right.Rows {
		buildSide, build = JoinSideLeft, left
	}
	if build.Known && build.Rows <= broadcastThreshold {
		return JoinStrategyBroadcastHash, buildSide
	}
	return JoinStrategyPartitionedHash, buildSide
}

// sortedOn reports whether the node is a sort whose leading keys are the given columns, ascending.
func sortedOn(node Node, columns []string) bool {
	if node.NodeType != NodeTypeSort || len(node.Sort.Keys) < len(columns) {
		return false
	}
	for i, column := range columns {
		key := node.Sort.Keys[i]
		if key.Descending || !key.Expression.IsColumn() || key.Expression.Column.Name != column {
			return false
		}
	}
	return true
}
