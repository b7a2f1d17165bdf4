package optimizer

import (
	. "github.com/cube2222/octoframe/plan"
)

// MergeFilters collapses stacked filters into one, inner conjuncts first.
func MergeFilters(node Node) (Node, bool) {
	changed := false
	t := Transformers{
		NodeTransformer: func(node Node) Node {
			if node.NodeType != NodeTypeFilter || node.Filter.Source.NodeType != NodeTypeFilter {
				return node
			}
			inner := node.Filter.Source.Filter
			changed = true
			return newFilter(inner.Source, append(inner.Predicate.SplitByAnd(), node.Filter.Predicate.SplitByAnd()...))
		},
	}
	output := t.TransformNode(node)

	if changed {
		return output, true
	} else {
		return node, false
	}
}
