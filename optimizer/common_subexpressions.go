package optimizer

import (
	. "github.com/cube2222/octoframe/plan"
)

// EliminateCommonSubexpressions moves subexpressions occurring more than once
// within a projection, aggregation or window node into the node's arena,
// so that they're evaluated once per record.
func EliminateCommonSubexpressions(node Node) (Node, bool) {
	changed := false
	t := Transformers{
		NodeTransformer: func(node Node) Node {
			var exprs, arena *[]Expression
			switch node.NodeType {
			case NodeTypeProject:
				project := *node.Project
				node.Project = &project
				exprs, arena = &project.Expressions, &project.CommonSubexpressions
			case NodeTypeAggregate:
				aggregate := *node.Aggregate
				node.Aggregate = &aggregate
				exprs = &aggregate.Aggregates
				arena = &aggregate.CommonSubexpressions
				// Keys are evaluated in the same context as aggregate arguments.
				all := append(append([]Expression{}, aggregate.Keys...), aggregate.Aggregates...)
				if extractAll(&all, arena) {
					aggregate.Keys = all[:len(aggregate.Keys)]
					aggregate.Aggregates = all[len(aggregate.Keys):]
					changed = true
				}
				return node
			case NodeTypeWindow:
				window := *node.Window
				node.Window = &window
				exprs, arena = &window.Expressions, &window.CommonSubexpressions
			default:
				return node
			}
			if extractAll(exprs, arena) {
				changed = true
			}
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

// extractAll extracts duplicated subexpressions until none are left, smallest first,
// so that arena entries only reference earlier entries.
func extractAll(exprs *[]Expression, arena *[]Expression) bool {
	changed := false
	for {
		key, expr, ok := smallestDuplicate(*exprs)
		if !ok {
			return changed
		}
		changed = true
		index := len(*arena)
		reference := Expression{
			Type:                expr.Type,
			ExpressionType:      ExpressionTypeCommonSubexpression,
			CommonSubexpression: &CommonSubexpression{Index: index},
		}
		out := make([]Expression, len(*exprs))
		for i := range *exprs {
			out[i] = ReplaceSubexpressions((*exprs)[i], func(expr Expression) (Expression, bool) {
				if extractable(expr) && ExpressionKey(expr) == key {
					return reference, true
				}
				return expr, false
			})
		}
		*arena = append(append([]Expression{}, *arena...), expr)
		*exprs = out
	}
}

func smallestDuplicate(exprs []Expression) (string, Expression, bool) {
	counts := make(map[string]int)
	candidates := make(map[string]Expression)
	var order []string
	for i := range exprs {
		exprs[i].Walk(func(expr *Expression) bool {
			if !extractable(*expr) {
				return true
			}
			key := ExpressionKey(*expr)
			if _, ok := candidates[key]; !ok {
				candidates[key] = *expr
				order = append(order, key)
			}
			counts[key]++
			return true
		})
	}

	bestSize := -1
	var bestKey string
	for _, key := range order {
		if counts[key] < 2 {
			continue
		}
		expr := candidates[key]
		if size := expressionSize(&expr); bestSize == -1 || size < bestSize {
			bestSize, bestKey = size, key
		}
	}
	if bestSize == -1 {
		return "", Expression{}, false
	}
	return bestKey, candidates[bestKey], true
}

// extractable reports whether the expression is worth sharing and can be evaluated per record.
func extractable(expr Expression) bool {
	switch expr.ExpressionType {
	case ExpressionTypeLiteral, ExpressionTypeColumn, ExpressionTypeCommonSubexpression, ExpressionTypeAggregate, ExpressionTypeWindow:
		return false
	}
	return !expr.ContainsAggregate() && !expr.ContainsWindow()
}

func expressionSize(expr *Expression) int {
	size := 0
	expr.Walk(func(expr *Expression) bool {
		size++
		return true
	})
	return size
}
