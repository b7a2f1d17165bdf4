package optimizer

import (
	. "github.com/cube2222/octoframe/plan"
)

// ReorderJoins reorders left-deep trees of three or more inner equi-joins,
// so that smaller relations are joined first.
func ReorderJoins(node Node) (Node, bool) {
	return reorderJoins(node)
}

func reorderJoins(node Node) (Node, bool) {
	if out, ok := reorderJoinTree(node); ok {
		// The relations have been processed by reorderJoinTree.
		return out, true
	}

	changed := false
	children := node.Children()
	for i := range children {
		var curChanged bool
		children[i], curChanged = reorderJoins(children[i])
		changed = changed || curChanged
	}
	if !changed {
		return node, false
	}
	return node.WithChildren(children), true
}

type joinEdge struct {
	left, right string
}

func isInnerEquiJoin(node Node) bool {
	return node.NodeType == NodeTypeJoin && node.Join.Kind == JoinKindInner && len(node.Join.LeftKeys) > 0
}

// flattenJoins returns the relations of a left-deep inner join tree in declaration order, along with the key equalities.
func flattenJoins(node Node) ([]Node, []joinEdge) {
	if !isInnerEquiJoin(node) {
		return []Node{node}, nil
	}
	relations, edges := flattenJoins(node.Join.Left)
	relations = append(relations, node.Join.Right)
	for i := range node.Join.LeftKeys {
		edges = append(edges, joinEdge{left: node.Join.LeftKeys[i], right: node.Join.RightKeys[i]})
	}
	return relations, edges
}

func reorderJoinTree(node Node) (Node, bool) {
	if !isInnerEquiJoin(node) {
		return Node{}, false
	}
	relations, edges := flattenJoins(node)

	// Optimize the relations themselves first.
	relationsChanged := false
	for i := range relations {
		var changed bool
		relations[i], changed = reorderJoins(relations[i])
		relationsChanged = relationsChanged || changed
	}
	rebuildOriginal := func() (Node, bool) {
		if !relationsChanged {
			return Node{}, false
		}
		return replaceRelations(node, relations), true
	}

	if len(relations) < 3 {
		return rebuildOriginal()
	}
	owner := make(map[string]int)
	estimates := make([]float64, len(relations))
	for i, relation := range relations {
		for _, field := range relation.Schema.Fields {
			if _, ok := owner[field.Name]; ok {
				return rebuildOriginal()
			}
			owner[field.Name] = i
		}
		estimate := EstimateCardinality(relation)
		if !estimate.Known {
			return rebuildOriginal()
		}
		estimates[i] = estimate.Rows
	}
	// Without name collisions the joins don't drop any columns, so the output is the concatenation of all relations.
	if len(node.Schema.Fields) != len(owner) {
		return rebuildOriginal()
	}

	connected := func(placed map[int]bool, candidate int) bool {
		for _, edge := range edges {
			l, r := owner[edge.left], owner[edge.right]
			if l == candidate && placed[r] || r == candidate && placed[l] {
				return true
			}
		}
		return false
	}

	order := []int{0}
	for i := range relations {
		if estimates[i] < estimates[order[0]] {
			order[0] = i
		}
	}
	placed := map[int]bool{order[0]: true}
	for len(order) < len(relations) {
		best := -1
		for i := range relations {
			if placed[i] || !connected(placed, i) {
				continue
			}
			if best == -1 || estimates[i] < estimates[best] {
				best = i
			}
		}
		if best == -1 {
			// Disconnected, this would need a cross join.
			return rebuildOriginal()
		}
		order = append(order, best)
		placed[best] = true
	}

	unchanged := true
	for i := range order {
		unchanged = unchanged && order[i] == i
	}
	if unchanged {
		return rebuildOriginal()
	}

	placed = map[int]bool{order[0]: true}
	out := relations[order[0]]
	for _, next := range order[1:] {
		var leftKeys, rightKeys []string
		for _, edge := range edges {
			l, r := owner[edge.left], owner[edge.right]
			switch {
			case placed[l] && r == next:
				leftKeys, rightKeys = append(leftKeys, edge.left), append(rightKeys, edge.right)
			case placed[r] && l == next:
				leftKeys, rightKeys = append(leftKeys, edge.right), append(rightKeys, edge.left)
			}
		}
		joined, err := NewJoin(out, relations[next], JoinOptions{
			Kind:      JoinKindInner,
			LeftKeys:  leftKeys,
			RightKeys: rightKeys,
		})
		if err != nil {
			return rebuildOriginal()
		}
		out = joined
		placed[next] = true
	}

	restored, err := NewColumnsProject(out, node.Schema.Names())
	if err != nil {
		return rebuildOriginal()
	}
	return restored, true
}

// replaceRelations rebuilds the left-deep join tree with new relations, in declaration order.
func replaceRelations(node Node, relations []Node) Node {
	if !isInnerEquiJoin(node) {
		return relations[0]
	}
	left := replaceRelations(node.Join.Left, relations[:len(relations)-1])
	return node.WithChildren([]Node{left, relations[len(relations)-1]})
}
