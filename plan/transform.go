package plan

// Transformers rebuild a plan bottom-up. Each transformer receives a node (or expression)
// whose children have already been transformed. Nil transformers leave their targets unchanged.
type Transformers struct {
	NodeTransformer       func(node Node) Node
	ExpressionTransformer func(expr Expression) Expression
}

func (t *Transformers) TransformNode(node Node) Node {
	schema := Schema{Fields: append([]SchemaField{}, node.Schema.Fields...)}

	var out Node
	switch node.NodeType {
	case NodeTypeScan:
		var predicate *Expression
		if node.Scan.Predicate != nil {
			transformed := t.TransformExpr(*node.Scan.Predicate)
			predicate = &transformed
		}
		var slice *SliceBounds
		if node.Scan.Slice != nil {
			bounds := *node.Scan.Slice
			slice = &bounds
		}
		var columns []string
		if node.Scan.Columns != nil {
			columns = append([]string{}, node.Scan.Columns...)
		}
		out = Node{
			Schema:   schema,
			NodeType: node.NodeType,
			Scan: &Scan{
				Name:      node.Scan.Name,
				Source:    node.Scan.Source,
				Columns:   columns,
				Predicate: predicate,
				Slice:     slice,
			},
		}
	case NodeTypeFilter:
		out = Node{
			Schema:   schema,
			NodeType: node.NodeType,
			Filter: &Filter{
				Source:    t.TransformNode(node.Filter.Source),
				Predicate: t.TransformExpr(node.Filter.Predicate),
			},
		}
	case NodeTypeProject:
		out = Node{
			Schema:   schema,
			NodeType: node.NodeType,
			Project: &Project{
				Source:               t.TransformNode(node.Project.Source),
				Expressions:          t.transformExprs(node.Project.Expressions),
				CommonSubexpressions: t.transformExprs(node.Project.CommonSubexpressions),
			},
		}
	case NodeTypeAggregate:
		out = Node{
			Schema:   schema,
			NodeType: node.NodeType,
			Aggregate: &Aggregate{
				Source:               t.TransformNode(node.Aggregate.Source),
				Keys:                 t.transformExprs(node.Aggregate.Keys),
				Aggregates:           t.transformExprs(node.Aggregate.Aggregates),
				CommonSubexpressions: t.transformExprs(node.Aggregate.CommonSubexpressions),
			},
		}
	case NodeTypeJoin:
		out = Node{
			Schema:   schema,
			NodeType: node.NodeType,
			Join: &Join{
				Left:      t.TransformNode(node.Join.Left),
				Right:     t.TransformNode(node.Join.Right),
				Kind:      node.Join.Kind,
				LeftKeys:  append([]string{}, node.Join.LeftKeys...),
				RightKeys: append([]string{}, node.Join.RightKeys...),
				AsofLeft:  node.Join.AsofLeft,
				AsofRight: node.Join.AsofRight,
				Strategy:  node.Join.Strategy,
				BuildSide: node.Join.BuildSide,
				Output:    append([]JoinColumn{}, node.Join.Output...),
			},
		}
	case NodeTypeSort:
		keys := make([]SortKey, len(node.Sort.Keys))
		for i, key := range node.Sort.Keys {
			keys[i] = SortKey{
				Expression: t.TransformExpr(key.Expression),
				Descending: key.Descending,
				NullsLast:  key.NullsLast,
			}
		}
		out = Node{
			Schema:   schema,
			NodeType: node.NodeType,
			Sort: &Sort{
				Source: t.TransformNode(node.Sort.Source),
				Keys:   keys,
				Limit:  node.Sort.Limit,
			},
		}
	case NodeTypeDistinct:
		out = Node{
			Schema:   schema,
			NodeType: node.NodeType,
			Distinct: &Distinct{
				Source: t.TransformNode(node.Distinct.Source),
				Subset: append([]string(nil), node.Distinct.Subset...),
				Keep:   node.Distinct.Keep,
			},
		}
	case NodeTypeWindow:
		out = Node{
			Schema:   schema,
			NodeType: node.NodeType,
			Window: &Window{
				Source:               t.TransformNode(node.Window.Source),
				Expressions:          t.transformExprs(node.Window.Expressions),
				CommonSubexpressions: t.transformExprs(node.Window.CommonSubexpressions),
			},
		}
	case NodeTypeSlice:
		out = Node{
			Schema:   schema,
			NodeType: node.NodeType,
			Slice: &Slice{
				Source: t.TransformNode(node.Slice.Source),
				Offset: node.Slice.Offset,
				Length: node.Slice.Length,
			},
		}
	case NodeTypeUnion:
		sources := make([]Node, len(node.Union.Sources))
		for i := range node.Union.Sources {
			sources[i] = t.TransformNode(node.Union.Sources[i])
		}
		out = Node{
			Schema:   schema,
			NodeType: node.NodeType,
			Union: &Union{
				Sources: sources,
			},
		}
	default:
		panic("unexhaustive node type match")
	}

	if t.NodeTransformer != nil {
		out = t.NodeTransformer(out)
	}
	return out
}

func (t *Transformers) transformExprs(exprs []Expression) []Expression {
	if exprs == nil {
		return nil
	}
	out := make([]Expression, len(exprs))
	for i := range exprs {
		out[i] = t.TransformExpr(exprs[i])
	}
	return out
}

func (t *Transformers) transformOptionalExpr(expr *Expression) *Expression {
	if expr == nil {
		return nil
	}
	out := t.TransformExpr(*expr)
	return &out
}

func (t *Transformers) TransformExpr(expr Expression) Expression {
	var out Expression
	switch expr.ExpressionType {
	case ExpressionTypeLiteral:
		out = Expression{
			Type:           expr.Type,
			ExpressionType: expr.ExpressionType,
			Literal: &Literal{
				Value:   expr.Literal.Value,
				Dynamic: expr.Literal.Dynamic,
			},
		}
	case ExpressionTypeColumn:
		out = Expression{
			Type:           expr.Type,
			ExpressionType: expr.ExpressionType,
			Column: &Column{
				Name: expr.Column.Name,
			},
		}
	case ExpressionTypeUnary:
		out = Expression{
			Type:           expr.Type,
			ExpressionType: expr.ExpressionType,
			Unary: &Unary{
				Op:  expr.Unary.Op,
				Arg: t.TransformExpr(expr.Unary.Arg),
			},
		}
	case ExpressionTypeBinary:
		out = Expression{
			Type:           expr.Type,
			ExpressionType: expr.ExpressionType,
			Binary: &Binary{
				Op:    expr.Binary.Op,
				Left:  t.TransformExpr(expr.Binary.Left),
				Right: t.TransformExpr(expr.Binary.Right),
			},
		}
	case ExpressionTypeFunctionCall:
		out = Expression{
			Type:           expr.Type,
			ExpressionType: expr.ExpressionType,
			FunctionCall: &FunctionCall{
				Name:   expr.FunctionCall.Name,
				Args:   t.transformExprs(expr.FunctionCall.Args),
				Params: expr.FunctionCall.Params,
			},
		}
	case ExpressionTypeAggregate:
		out = Expression{
			Type:           expr.Type,
			ExpressionType: expr.ExpressionType,
			Aggregate: &AggregateFunction{
				Name: expr.Aggregate.Name,
				Arg:  t.transformOptionalExpr(expr.Aggregate.Arg),
			},
		}
	case ExpressionTypeWindow:
		out = Expression{
			Type:           expr.Type,
			ExpressionType: expr.ExpressionType,
			Window: &WindowFunction{
				Function:    expr.Window.Function,
				Options:     expr.Window.Options,
				Arg:         t.transformOptionalExpr(expr.Window.Arg),
				Aggregate:   t.transformOptionalExpr(expr.Window.Aggregate),
				PartitionBy: t.transformExprs(expr.Window.PartitionBy),
			},
		}
	case ExpressionTypeCast:
		out = Expression{
			Type:           expr.Type,
			ExpressionType: expr.ExpressionType,
			Cast: &Cast{
				Arg:    t.TransformExpr(expr.Cast.Arg),
				Strict: expr.Cast.Strict,
			},
		}
	case ExpressionTypeConditional:
		out = Expression{
			Type:           expr.Type,
			ExpressionType: expr.ExpressionType,
			Conditional: &Conditional{
				Condition: t.TransformExpr(expr.Conditional.Condition),
				Then:      t.TransformExpr(expr.Conditional.Then),
				Else:      t.TransformExpr(expr.Conditional.Else),
			},
		}
	case ExpressionTypeCommonSubexpression:
		out = Expression{
			Type:           expr.Type,
			ExpressionType: expr.ExpressionType,
			CommonSubexpression: &CommonSubexpression{
				Index: expr.CommonSubexpression.Index,
			},
		}
	default:
		panic("unexhaustive expression type match")
	}

	if t.ExpressionTransformer != nil {
		out = t.ExpressionTransformer(out)
	}
	return out
}

// RenameColumns rewrites column references using the mapping, leaving unmapped columns unchanged.
func RenameColumns(expr Expression, oldToNew map[string]string) Expression {
	t := Transformers{
		ExpressionTransformer: func(expr Expression) Expression {
			if expr.ExpressionType == ExpressionTypeColumn {
				if newName, ok := oldToNew[expr.Column.Name]; ok {
					expr.Column.Name = newName
				}
			}
			return expr
		},
	}
	return t.TransformExpr(expr)
}

// ReplaceSubexpressions rewrites the expression top-down. Wherever replace returns true,
// its result is used in place of the subexpression, which isn't visited further.
func ReplaceSubexpressions(expr Expression, replace func(expr Expression) (Expression, bool)) Expression {
	if out, ok := replace(expr); ok {
		return out
	}
	rec := func(expr Expression) Expression {
		return ReplaceSubexpressions(expr, replace)
	}
	recOptional := func(expr *Expression) *Expression {
		if expr == nil {
			return nil
		}
		out := rec(*expr)
		return &out
	}
	recAll := func(exprs []Expression) []Expression {
		if exprs == nil {
			return nil
		}
		out := make([]Expression, len(exprs))
		for i := range exprs {
			out[i] = rec(exprs[i])
		}
		return out
	}

	out := expr
	switch expr.ExpressionType {
	case ExpressionTypeLiteral, ExpressionTypeColumn, ExpressionTypeCommonSubexpression:
	case ExpressionTypeUnary:
		out.Unary = &Unary{Op: expr.Unary.Op, Arg: rec(expr.Unary.Arg)}
	case ExpressionTypeBinary:
		out.Binary = &Binary{Op: expr.Binary.Op, Left: rec(expr.Binary.Left), Right: rec(expr.Binary.Right)}
	case ExpressionTypeFunctionCall:
		out.FunctionCall = &FunctionCall{Name: expr.FunctionCall.Name, Args: recAll(expr.FunctionCall.Args), Params: expr.FunctionCall.Params}
	case ExpressionTypeAggregate:
		out.Aggregate = &AggregateFunction{Name: expr.Aggregate.Name, Arg: recOptional(expr.Aggregate.Arg)}
	case ExpressionTypeWindow:
		out.Window = &WindowFunction{
			Function:    expr.Window.Function,
			Options:     expr.Window.Options,
			Arg:         recOptional(expr.Window.Arg),
			Aggregate:   recOptional(expr.Window.Aggregate),
			PartitionBy: recAll(expr.Window.PartitionBy),
		}
	case ExpressionTypeCast:
		out.Cast = &Cast{Arg: rec(expr.Cast.Arg), Strict: expr.Cast.Strict}
	case ExpressionTypeConditional:
		out.Conditional = &Conditional{
			Condition: rec(expr.Conditional.Condition),
			Then:      rec(expr.Conditional.Then),
			Else:      rec(expr.Conditional.Else),
		}
	default:
		panic("unexhaustive expression type match")
	}
	return out
}

// WithChildren returns a shallow copy of the node reading from the given inputs,
// in the order returned by Children. The schema is kept as is.
func (node Node) WithChildren(children []Node) Node {
	out := node
	switch node.NodeType {
	case NodeTypeScan:
	case NodeTypeFilter:
		filter := *node.Filter
		filter.Source = children[0]
		out.Filter = &filter
	case NodeTypeProject:
		project := *node.Project
		project.Source = children[0]
		out.Project = &project
	case NodeTypeAggregate:
		aggregate := *node.Aggregate
		aggregate.Source = children[0]
		out.Aggregate = &aggregate
	case NodeTypeJoin:
		join := *node.Join
		join.Left, join.Right = children[0], children[1]
		out.Join = &join
	case NodeTypeSort:
		sort := *node.Sort
		sort.Source = children[0]
		out.Sort = &sort
	case NodeTypeDistinct:
		distinct := *node.Distinct
		distinct.Source = children[0]
		out.Distinct = &distinct
	case NodeTypeWindow:
		window := *node.Window
		window.Source = children[0]
		out.Window = &window
	case NodeTypeSlice:
		slice := *node.Slice
		slice.Source = children[0]
		out.Slice = &slice
	case NodeTypeUnion:
		out.Union = &Union{Sources: children}
	default:
		panic("unexhaustive node type match")
	}
	return out
}
