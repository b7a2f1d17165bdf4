package optimizer

import (
	. "github.com/cube2222/octoframe/plan"
)

func PushDownFilters(node Node) (Node, bool) {
	changed := false
	t := Transformers{
		NodeTransformer: func(node Node) Node {
			if node.NodeType != NodeTypeFilter {
				return node
			}
			out, curChanged := pushDownFilter(node)
			if curChanged {
				changed = true
			}
			return out
		},
	}
	output := t.TransformNode(node)

	if changed {
		return output, true
	} else {
		return node, false
	}
}

// pushDownFilter moves the conjuncts of the filter below its source where that doesn't change the result.
// Pushed down filters are pushed further recursively.
func pushDownFilter(node Node) (Node, bool) {
	source := node.Filter.Source
	predicates := node.Filter.Predicate.SplitByAnd()

	var stayedAbove []Expression
	var out Node
	switch source.NodeType {
	case NodeTypeProject:
		// Columns which are passed through, by output name.
		passedThrough := make(map[string]string)
		for i, expr := range source.Project.Expressions {
			if expr.IsColumn() {
				passedThrough[source.Schema.Fields[i].Name] = expr.Column.Name
			}
		}
		var pushedDown []Expression
		for _, predicate := range predicates {
			if usesOnly(predicate, passedThrough) {
				pushedDown = append(pushedDown, RenameColumns(predicate, passedThrough))
			} else {
				stayedAbove = append(stayedAbove, predicate)
			}
		}
		if len(pushedDown) == 0 {
			return node, false
		}
		out = source.WithChildren([]Node{newFilter(source.Project.Source, pushedDown)})

	case NodeTypeSort:
		if source.Sort.Limit > 0 {
			return node, false
		}
		out = source.WithChildren([]Node{newFilter(source.Sort.Source, predicates)})

	case NodeTypeDistinct:
		var pushedDown []Expression
		if len(source.Distinct.Subset) == 0 {
			pushedDown = predicates
		} else {
			subset := identityMapping(source.Distinct.Subset)
			for _, predicate := range predicates {
				if usesOnly(predicate, subset) {
					pushedDown = append(pushedDown, predicate)
				} else {
					stayedAbove = append(stayedAbove, predicate)
				}
			}
		}
		if len(pushedDown) == 0 {
			return node, false
		}
		out = source.WithChildren([]Node{newFilter(source.Distinct.Source, pushedDown)})

	case NodeTypeUnion:
		sources := make([]Node, len(source.Union.Sources))
		for i := range source.Union.Sources {
			sources[i] = newFilter(source.Union.Sources[i], predicates)
		}
		out = source.WithChildren(sources)

	case NodeTypeWindow:
		keys := windowPartitionColumns(source.Window)
		var pushedDown []Expression
		for _, predicate := range predicates {
			if usesOnly(predicate, keys) {
				pushedDown = append(pushedDown, predicate)
			} else {
				stayedAbove = append(stayedAbove, predicate)
			}
		}
		if len(pushedDown) == 0 {
			return node, false
		}
		out = source.WithChildren([]Node{newFilter(source.Window.Source, pushedDown)})

	case NodeTypeAggregate:
		if len(source.Aggregate.Keys) == 0 {
			// A key-less aggregate produces its row even for empty input.
			return node, false
		}
		keys := make(map[string]string)
		for i, key := range source.Aggregate.Keys {
			if key.IsColumn() {
				keys[source.Schema.Fields[i].Name] = key.Column.Name
			}
		}
		var pushedDown []Expression
		for _, predicate := range predicates {
			if usesOnly(predicate, keys) {
				pushedDown = append(pushedDown, RenameColumns(predicate, keys))
			} else {
				stayedAbove = append(stayedAbove, predicate)
			}
		}
		if len(pushedDown) == 0 {
			return node, false
		}
		out = source.WithChildren([]Node{newFilter(source.Aggregate.Source, pushedDown)})

	case NodeTypeJoin:
		join := source.Join
		pushLeft, pushRight := false, false
		switch join.Kind {
		case JoinKindInner, JoinKindCross:
			pushLeft, pushRight = true, true
		case JoinKindLeft, JoinKindSemi, JoinKindAnti, JoinKindAsof:
			pushLeft = true
		}
		leftColumns, rightColumns := make(map[string]string), make(map[string]string)
		for i, column := range join.Output {
			if column.Side == JoinSideLeft {
				leftColumns[source.Schema.Fields[i].Name] = column.Name
			} else {
				rightColumns[source.Schema.Fields[i].Name] = column.Name
			}
		}
		var pushedDownLeft, pushedDownRight []Expression
		for _, predicate := range predicates {
			if len(predicate.ColumnNames()) == 0 {
				stayedAbove = append(stayedAbove, predicate)
			} else if pushLeft && usesOnly(predicate, leftColumns) {
				pushedDownLeft = append(pushedDownLeft, RenameColumns(predicate, leftColumns))
			} else if pushRight && usesOnly(predicate, rightColumns) {
				pushedDownRight = append(pushedDownRight, RenameColumns(predicate, rightColumns))
			} else {
				stayedAbove = append(stayedAbove, predicate)
			}
		}
		if len(pushedDownLeft) == 0 && len(pushedDownRight) == 0 {
			return node, false
		}
		left, right := join.Left, join.Right
		if len(pushedDownLeft) > 0 {
			left = newFilter(left, pushedDownLeft)
		}
		if len(pushedDownRight) > 0 {
			right = newFilter(right, pushedDownRight)
		}
		out = source.WithChildren([]Node{left, right})

	case NodeTypeScan:
		scan := source.Scan
		if !scan.Source.Capabilities().PredicatePushdown || scan.Slice != nil {
			return node, false
		}
		pushedDown := predicates
		if scan.Predicate != nil {
			pushedDown = append(scan.Predicate.SplitByAnd(), predicates...)
		}
		predicate := And(pushedDown...)
		newScan := *scan
		newScan.Predicate = &predicate
		out = source
		out.Scan = &newScan
		// Scans are leaves, so the pushed down predicates need no further pushing.
		return out, true

	default:
		return node, false
	}

	// Push the new filters further down.
	children := out.Children()
	for i := range children {
		if children[i].NodeType == NodeTypeFilter {
			children[i], _ = pushDownFilter(children[i])
		}
	}
	out = out.WithChildren(children)

	if len(stayedAbove) > 0 {
		out = newFilter(out, stayedAbove)
	}
	return out, true
}

func newFilter(source Node, predicates []Expression) Node {
	return Node{
		Schema:   source.Schema,
		NodeType: NodeTypeFilter,
		Filter: &Filter{
			Source:    source,
			Predicate: And(predicates...),
		},
	}
}

// usesOnly reports whether all columns referenced by the expression are keys of the mapping.
func usesOnly(expr Expression, columns map[string]string) bool {
	if expr.ReferencesSubexpressions() || expr.ContainsAggregate() || expr.ContainsWindow() {
		return false
	}
	for _, name := range expr.ColumnNames() {
		if _, ok := columns[name]; !ok {
			return false
		}
	}
	return true
}

func identityMapping(names []string) map[string]string {
	out := make(map[string]string, len(names))
	for _, name := range names {
		out[name] = name
	}
	return out
}

// windowPartitionColumns returns the plain column partition keys common to all window expressions.
func windowPartitionColumns(window *Window) map[string]string {
	var common map[string]string
	for _, expr := range window.Expressions {
		keys := make(map[string]string)
		for _, key := range expr.Window.PartitionBy {
			if key.IsColumn() && (common == nil || common[key.Column.Name] != "") {
				keys[key.Column.Name] = key.Column.Name
			}
		}
		common = keys
	}
	return common
}
