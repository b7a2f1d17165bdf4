package optimizer

import (
	"fmt"

	. "github.com/cube2222/octoframe/plan"
)

// PushDownProjections narrows every node to the columns its parents need.
// The root keeps all its columns.
func PushDownProjections(node Node) (Node, bool) {
	before := Fingerprint(node)
	output := prune(node, nil)
	if Fingerprint(output) == before {
		return node, false
	}
	return output, true
}

// columnSet is a set of column names. A nil set means all columns.
type columnSet map[string]bool

func (set columnSet) has(name string) bool {
	return set == nil || set[name]
}

func (set columnSet) addAll(names ...string) {
	for _, name := range names {
		set[name] = true
	}
}

func (set columnSet) addExpressions(exprs ...Expression) {
	for i := range exprs {
		set.addAll(exprs[i].ColumnNames()...)
	}
}

// prune returns a node producing at least the required columns of the node, with the same names, types and order.
// It may also return additional columns.
func prune(node Node, required columnSet) Node {
	if required != nil && len(required) == 0 && len(node.Schema.Fields) > 0 {
		// Keep a column, so that records still carry their row count.
		required = columnSet{node.Schema.Fields[0].Name: true}
	}

	switch node.NodeType {
	case NodeTypeScan:
		scan := node.Scan
		if required == nil || !scan.Source.Capabilities().ProjectionPushdown {
			return node
		}
		var columns []string
		for _, field := range scan.Source.Schema().Fields {
			if required[field.Name] {
				columns = append(columns, field.Name)
			}
		}
		if len(columns) == len(node.Schema.Fields) {
			return node
		}
		schema, err := scan.Source.Schema().Select(columns)
		if err != nil {
			panic(fmt.Sprintf("required column missing in scan: %s", err))
		}
		newScan := *scan
		newScan.Columns = columns
		return Node{
			Schema:   schema,
			NodeType: NodeTypeScan,
			Scan:     &newScan,
		}

	case NodeTypeFilter:
		var needed columnSet
		if required != nil {
			needed = columnSet{}
			needed.addAll(keys(required)...)
			needed.addExpressions(node.Filter.Predicate)
		}
		source := prune(node.Filter.Source, needed)
		out := node.WithChildren([]Node{source})
		out.Schema = source.Schema
		return out

	case NodeTypeProject:
		project := node.Project
		var fields []SchemaField
		var exprs []Expression
		for i, field := range node.Schema.Fields {
			if required.has(field.Name) {
				fields = append(fields, field)
				exprs = append(exprs, project.Expressions[i])
			}
		}
		needed := columnSet{}
		needed.addExpressions(exprs...)
		needed.addExpressions(project.CommonSubexpressions...)

		var source Node
		if project.Source.NodeType == NodeTypeScan && !project.Source.Scan.Source.Capabilities().ProjectionPushdown {
			// The projection itself narrows the scan.
			source = project.Source
		} else {
			source = prune(project.Source, needed)
		}

		out := Node{
			Schema:   NewSchema(fields...),
			NodeType: NodeTypeProject,
			Project: &Project{
				Source:               source,
				Expressions:          exprs,
				CommonSubexpressions: project.CommonSubexpressions,
			},
		}
		if isIdentityProject(out) {
			return source
		}
		return out

	case NodeTypeAggregate:
		aggregate := node.Aggregate
		fields := append([]SchemaField{}, node.Schema.Fields[:len(aggregate.Keys)]...)
		var aggregates []Expression
		for i, expr := range aggregate.Aggregates {
			field := node.Schema.Fields[len(aggregate.Keys)+i]
			if required.has(field.Name) {
				fields = append(fields, field)
				aggregates = append(aggregates, expr)
			}
		}
		if len(aggregates) == 0 && len(aggregate.Keys) == 0 {
			fields = append(fields, node.Schema.Fields[0])
			aggregates = aggregate.Aggregates[:1]
		}
		needed := columnSet{}
		needed.addExpressions(aggregate.Keys...)
		needed.addExpressions(aggregates...)
		needed.addExpressions(aggregate.CommonSubexpressions...)
		return Node{
			Schema:   NewSchema(fields...),
			NodeType: NodeTypeAggregate,
			Aggregate: &Aggregate{
				Source:               prune(aggregate.Source, needed),
				Keys:                 aggregate.Keys,
				Aggregates:           aggregates,
				CommonSubexpressions: aggregate.CommonSubexpressions,
			},
		}

	case NodeTypeJoin:
		join := node.Join
		var fields []SchemaField
		var output []JoinColumn
		leftNeeded, rightNeeded := columnSet{}, columnSet{}
		for i, column := range join.Output {
			if !required.has(node.Schema.Fields[i].Name) {
				continue
			}
			fields = append(fields, node.Schema.Fields[i])
			output = append(output, column)
			if column.Side == JoinSideLeft {
				leftNeeded.addAll(column.Name)
			} else {
				rightNeeded.addAll(column.Name)
			}
		}
		leftNeeded.addAll(join.LeftKeys...)
		rightNeeded.addAll(join.RightKeys...)
		if join.Kind == JoinKindAsof {
			leftNeeded.addAll(join.AsofLeft)
			rightNeeded.addAll(join.AsofRight)
		}
		newJoin := *join
		newJoin.Left = narrow(prune(join.Left, leftNeeded), leftNeeded)
		newJoin.Right = narrow(prune(join.Right, rightNeeded), rightNeeded)
		newJoin.Output = output
		return Node{
			Schema:   NewSchema(fields...),
			NodeType: NodeTypeJoin,
			Join:     &newJoin,
		}

	case NodeTypeSort:
		var needed columnSet
		if required != nil {
			needed = columnSet{}
			needed.addAll(keys(required)...)
			for _, key := range node.Sort.Keys {
				needed.addExpressions(key.Expression)
			}
		}
		source := narrow(prune(node.Sort.Source, needed), needed)
		out := node.WithChildren([]Node{source})
		out.Schema = source.Schema
		return out

	case NodeTypeDistinct:
		var needed columnSet
		if required != nil && len(node.Distinct.Subset) > 0 {
			needed = columnSet{}
			needed.addAll(keys(required)...)
			needed.addAll(node.Distinct.Subset...)
		}
		source := narrow(prune(node.Distinct.Source, needed), needed)
		out := node.WithChildren([]Node{source})
		out.Schema = source.Schema
		return out

	case NodeTypeWindow:
		window := node.Window
		sourceWidth := len(window.Source.Schema.Fields)
		var needed columnSet
		if required != nil {
			needed = columnSet{}
			for _, field := range window.Source.Schema.Fields {
				if required[field.Name] {
					needed.addAll(field.Name)
				}
			}
		}
		var windowFields []SchemaField
		var exprs []Expression
		for i, expr := range window.Expressions {
			field := node.Schema.Fields[sourceWidth+i]
			if required.has(field.Name) {
				windowFields = append(windowFields, field)
				exprs = append(exprs, expr)
			}
		}
		if needed != nil {
			needed.addExpressions(exprs...)
			needed.addExpressions(window.CommonSubexpressions...)
		}
		source := narrow(prune(window.Source, needed), needed)
		if len(exprs) == 0 {
			return source
		}
		return Node{
			Schema:   NewSchema(append(append([]SchemaField{}, source.Schema.Fields...), windowFields...)...),
			NodeType: NodeTypeWindow,
			Window: &Window{
				Source:               source,
				Expressions:          exprs,
				CommonSubexpressions: window.CommonSubexpressions,
			},
		}

	case NodeTypeSlice:
		source := prune(node.Slice.Source, required)
		out := node.WithChildren([]Node{source})
		out.Schema = source.Schema
		return out

	case NodeTypeUnion:
		var names []string
		var fields []SchemaField
		for _, field := range node.Schema.Fields {
			if required.has(field.Name) {
				names = append(names, field.Name)
				fields = append(fields, field)
			}
		}
		sources := make([]Node, len(node.Union.Sources))
		for i := range node.Union.Sources {
			sources[i] = alignColumns(prune(node.Union.Sources[i], required), names)
		}
		return Node{
			Schema:   NewSchema(fields...),
			NodeType: NodeTypeUnion,
			Union:    &Union{Sources: sources},
		}
	}
	panic(fmt.Sprintf("unexhaustive node type match: %s", node.NodeType))
}

func keys(set columnSet) []string {
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	return out
}

// narrow projects the node to the needed columns if it has any others.
// Used below operators which buffer whole records.
func narrow(node Node, needed columnSet) Node {
	if needed == nil {
		return node
	}
	var names []string
	for _, field := range node.Schema.Fields {
		if needed[field.Name] {
			names = append(names, field.Name)
		}
	}
	if len(names) == len(node.Schema.Fields) {
		return node
	}
	if len(names) == 0 {
		// Same as prune, a column stays to carry the row count.
		names = []string{node.Schema.Fields[0].Name}
	}
	return alignColumns(node, names)
}

// alignColumns projects the node to exactly the given columns, unless it already has them.
func alignColumns(node Node, names []string) Node {
	same := len(names) == len(node.Schema.Fields)
	for i := 0; same && i < len(names); i++ {
		same = names[i] == node.Schema.Fields[i].Name
	}
	if same {
		return node
	}
	out, err := NewColumnsProject(node, names)
	if err != nil {
		panic(fmt.Sprintf("required column missing: %s", err))
	}
	return out
}

func isIdentityProject(node Node) bool {
	project := node.Project
	if len(project.CommonSubexpressions) > 0 || len(project.Expressions) != len(project.Source.Schema.Fields) {
		return false
	}
	for i, expr := range project.Expressions {
		if !expr.IsColumn() || expr.Column.Name != project.Source.Schema.Fields[i].Name || node.Schema.Fields[i].Name != expr.Column.Name {
			return false
		}
		if !node.Schema.Fields[i].Type.Equals(project.Source.Schema.Fields[i].Type) {
			return false
		}
	}
	return true
}
