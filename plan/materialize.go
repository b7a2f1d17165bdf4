package plan

import (
	"fmt"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/cube2222/octoframe/arrowexec/aggregates"
	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/arrowexec/functions"
	"github.com/cube2222/octoframe/arrowexec/nodes"
	"github.com/cube2222/octoframe/arrowexec/windows"
	"github.com/cube2222/octoframe/octoframe"
)

type Environment struct {
	// Parallelism is the number of partitions of partitioned hash joins.
	Parallelism       int
	CheckedArithmetic bool
}

// Materialize compiles the plan into a tree of execution stages.
func Materialize(node Node, env Environment) (*execution.Stage, error) {
	nextID := 0
	return node.materialize(env, &nextID)
}

// expressionEnv resolves the column and subexpression references of expressions.
type expressionEnv struct {
	Environment
	schema Schema
}

func (node Node) materialize(env Environment, nextID *int) (*execution.Stage, error) {
	stage := &execution.Stage{
		ID:     *nextID,
		Name:   node.NodeType.String(),
		Schema: node.Schema.ToArrow(),
	}
	*nextID++

	for _, child := range node.Children() {
		input, err := child.materialize(env, nextID)
		if err != nil {
			return nil, err
		}
		stage.Inputs = append(stage.Inputs, input)
	}

	var err error
	switch node.NodeType {
	case NodeTypeScan:
		stage.Operator, err = node.Scan.materialize(env, stage.Schema)
	case NodeTypeFilter:
		exprEnv := expressionEnv{Environment: env, schema: node.Filter.Source.Schema}
		var predicate execution.Expression
		if predicate, err = node.Filter.Predicate.materialize(exprEnv); err != nil {
			return nil, fmt.Errorf("couldn't materialize filter predicate: %w", err)
		}
		stage.Operator = &nodes.Filter{
			OutSchema: stage.Schema,
			Predicate: predicate,
		}
		stage.Partitionable = true
	case NodeTypeProject:
		exprEnv := expressionEnv{Environment: env, schema: node.Project.Source.Schema}
		project := &nodes.Project{OutSchema: stage.Schema}
		if project.Subexpressions, err = materializeExpressions(exprEnv, node.Project.CommonSubexpressions); err != nil {
			return nil, fmt.Errorf("couldn't materialize common subexpressions: %w", err)
		}
		if project.Exprs, err = materializeExpressions(exprEnv, node.Project.Expressions); err != nil {
			return nil, fmt.Errorf("couldn't materialize projection: %w", err)
		}
		stage.Operator = project
		stage.Partitionable = true
	case NodeTypeAggregate:
		stage.Operator, err = node.Aggregate.materialize(env, stage.Schema)
	case NodeTypeJoin:
		stage.Operator, err = node.Join.materialize(env, stage.Schema)
	case NodeTypeSort:
		exprEnv := expressionEnv{Environment: env, schema: node.Sort.Source.Schema}
		keys := make([]nodes.SortKey, len(node.Sort.Keys))
		for i, key := range node.Sort.Keys {
			expr, err := key.Expression.materialize(exprEnv)
			if err != nil {
				return nil, fmt.Errorf("couldn't materialize sort key %d: %w", i, err)
			}
			keys[i] = nodes.SortKey{Expr: expr, Descending: key.Descending, NullsLast: key.NullsLast}
		}
		stage.Operator = &nodes.Sort{
			OutSchema: stage.Schema,
			Keys:      keys,
			Limit:     node.Sort.Limit,
		}
	case NodeTypeDistinct:
		subset, err := columnIndices(node.Distinct.Source.Schema, node.Distinct.Subset)
		if err != nil {
			return nil, err
		}
		stage.Operator = &nodes.Distinct{
			OutSchema: stage.Schema,
			Subset:    subset,
			Keep:      node.Distinct.Keep,
		}
	case NodeTypeWindow:
		stage.Operator, err = node.Window.materialize(env, stage.Schema)
	case NodeTypeSlice:
		stage.Operator = &nodes.Slice{
			OutSchema: stage.Schema,
			Offset:    node.Slice.Offset,
			Length:    node.Slice.Length,
		}
	case NodeTypeUnion:
		stage.Operator = &nodes.Union{OutSchema: stage.Schema}
	default:
		panic(fmt.Sprintf("unexhaustive node type match: %s", node.NodeType))
	}
	if err != nil {
		return nil, fmt.Errorf("couldn't materialize %s node: %w", node.NodeType, err)
	}
	return stage, nil
}

func (scan *Scan) materialize(env Environment, schema *arrow.Schema) (execution.Operator, error) {
	options := ScanOptions{
		Columns: scan.Columns,
		Slice:   scan.Slice,
	}
	if scan.Predicate != nil {
		predicate, err := scan.Predicate.materialize(expressionEnv{Environment: env, schema: scan.Source.Schema()})
		if err != nil {
			return nil, fmt.Errorf("couldn't materialize pushed down predicate: %w", err)
		}
		options.Predicate = predicate
	}
	source := scan.Source
	return &nodes.Scan{
		OutSchema: schema,
		Open: func(ctx execution.Context) (execution.RecordReader, error) {
			return source.Open(ctx, options)
		},
	}, nil
}

func (aggregate *Aggregate) materialize(env Environment, schema *arrow.Schema) (execution.Operator, error) {
	exprEnv := expressionEnv{Environment: env, schema: aggregate.Source.Schema}
	groupBy := &nodes.GroupBy{OutSchema: schema}
	var err error
	if groupBy.Subexpressions, err = materializeExpressions(exprEnv, aggregate.CommonSubexpressions); err != nil {
		return nil, fmt.Errorf("couldn't materialize common subexpressions: %w", err)
	}
	if groupBy.KeyExprs, err = materializeExpressions(exprEnv, aggregate.Keys); err != nil {
		return nil, fmt.Errorf("couldn't materialize group keys: %w", err)
	}
	for i := range aggregate.Aggregates {
		expr, err := aggregate.Aggregates[i].materializeAggregate(exprEnv)
		if err != nil {
			return nil, fmt.Errorf("couldn't materialize aggregate %d: %w", i, err)
		}
		groupBy.Aggregates = append(groupBy.Aggregates, nodes.GroupByAggregate{
			Prototype: expr.Prototype,
			Arg:       expr.Arg,
		})
	}
	return groupBy, nil
}

func (window *Window) materialize(env Environment, schema *arrow.Schema) (execution.Operator, error) {
	exprEnv := expressionEnv{Environment: env, schema: window.Source.Schema}
	out := &nodes.Window{
		OutSchema:   schema,
		InputSchema: window.Source.Schema.ToArrow(),
	}
	var err error
	if out.Subexpressions, err = materializeExpressions(exprEnv, window.CommonSubexpressions); err != nil {
		return nil, fmt.Errorf("couldn't materialize common subexpressions: %w", err)
	}
	for i := range window.Expressions {
		expr, err := window.Expressions[i].materialize(exprEnv)
		if err != nil {
			return nil, fmt.Errorf("couldn't materialize window expression %d: %w", i, err)
		}
		partitionBy, err := materializeExpressions(exprEnv, window.Expressions[i].Window.PartitionBy)
		if err != nil {
			return nil, fmt.Errorf("couldn't materialize partition keys of window expression %d: %w", i, err)
		}
		out.Exprs = append(out.Exprs, nodes.WindowExpr{
			PartitionBy: partitionBy,
			Expr:        expr,
		})
	}
	return out, nil
}

func (join *Join) materialize(env Environment, schema *arrow.Schema) (execution.Operator, error) {
	output := make([]nodes.JoinColumn, len(join.Output))
	for i, column := range join.Output {
		side := join.Left.Schema
		if column.Side == JoinSideRight {
			side = join.Right.Schema
		}
		index := side.Index(column.Name)
		if index == -1 {
			return nil, octoframe.NewUnresolvedColumnError(column.Name, side.Names())
		}
		output[i] = nodes.JoinColumn{Side: column.Side, Index: index}
	}
	leftKeys, err := columnIndices(join.Left.Schema, join.LeftKeys)
	if err != nil {
		return nil, err
	}
	rightKeys, err := columnIndices(join.Right.Schema, join.RightKeys)
	if err != nil {
		return nil, err
	}

	switch join.Kind {
	case JoinKindCross:
		return &nodes.NestedLoopJoin{
			OutSchema:   schema,
			RightSchema: join.Right.Schema.ToArrow(),
			Output:      output,
		}, nil
	case JoinKindAsof:
		return &nodes.AsofJoin{
			OutSchema:   schema,
			RightSchema: join.Right.Schema.ToArrow(),
			LeftOn:      join.Left.Schema.Index(join.AsofLeft),
			RightOn:     join.Right.Schema.Index(join.AsofRight),
			LeftBy:      leftKeys,
			RightBy:     rightKeys,
			Output:      output,
		}, nil
	}

	var kind nodes.JoinKind
	switch join.Kind {
	case JoinKindInner:
		kind = nodes.JoinKindInner
	case JoinKindLeft:
		kind = nodes.JoinKindLeft
	case JoinKindFull:
		kind = nodes.JoinKindFull
	case JoinKindSemi:
		kind = nodes.JoinKindSemi
	case JoinKindAnti:
		kind = nodes.JoinKindAnti
	default:
		panic(fmt.Sprintf("unexhaustive join kind match: %s", join.Kind))
	}

	buildSide := join.BuildSide
	if kind != nodes.JoinKindInner {
		buildSide = JoinSideRight
	}
	switch join.Strategy {
	case JoinStrategySortMerge:
		if kind == nodes.JoinKindInner {
			return &nodes.SortMergeJoin{
				OutSchema:   schema,
				LeftSchema:  join.Left.Schema.ToArrow(),
				RightSchema: join.Right.Schema.ToArrow(),
				LeftKeys:    leftKeys,
				RightKeys:   rightKeys,
				Output:      output,
			}, nil
		}
	case JoinStrategyBroadcastHash:
		return &nodes.HashJoin{
			OutSchema:  schema,
			Kind:       kind,
			LeftKeys:   leftKeys,
			RightKeys:  rightKeys,
			BuildSide:  buildSide,
			Partitions: 1,
			Output:     output,
		}, nil
	}
	partitions := env.Parallelism
	if partitions < 1 {
		partitions = 1
	}
	return &nodes.HashJoin{
		OutSchema:  schema,
		Kind:       kind,
		LeftKeys:   leftKeys,
		RightKeys:  rightKeys,
		BuildSide:  buildSide,
		Partitions: partitions,
		Output:     output,
	}, nil
}

func columnIndices(schema Schema, names []string) ([]int, error) {
	out := make([]int, len(names))
	for i, name := range names {
		out[i] = schema.Index(name)
		if out[i] == -1 {
			return nil, octoframe.NewUnresolvedColumnError(name, schema.Names())
		}
	}
	return out, nil
}

func materializeExpressions(env expressionEnv, exprs []Expression) ([]execution.Expression, error) {
	out := make([]execution.Expression, len(exprs))
	for i := range exprs {
		expr, err := exprs[i].materialize(env)
		if err != nil {
			return nil, err
		}
		out[i] = expr
	}
	return out, nil
}

func (expr *Expression) materialize(env expressionEnv) (execution.Expression, error) {
	switch expr.ExpressionType {
	case ExpressionTypeLiteral:
		return &execution.Constant{
			Value: expr.Literal.Value,
			Type:  expr.Type.ToArrow(),
		}, nil

	case ExpressionTypeColumn:
		index := env.schema.Index(expr.Column.Name)
		if index == -1 {
			return nil, octoframe.NewUnresolvedColumnError(expr.Column.Name, env.schema.Names())
		}
		return execution.NewColumnReference(index), nil

	case ExpressionTypeUnary:
		arg, err := expr.Unary.Arg.materialize(env)
		if err != nil {
			return nil, err
		}
		kernel, err := functions.MakeUnaryKernel(expr.Unary.Op, expr.Unary.Arg.Type, expr.Type, env.CheckedArithmetic)
		if err != nil {
			return nil, fmt.Errorf("couldn't make %s kernel: %w", expr.Unary.Op, err)
		}
		return execution.NewFunctionCall(kernel, []execution.Expression{arg}), nil

	case ExpressionTypeBinary:
		left, err := expr.Binary.Left.materialize(env)
		if err != nil {
			return nil, err
		}
		right, err := expr.Binary.Right.materialize(env)
		if err != nil {
			return nil, err
		}
		kernel, err := functions.MakeBinaryKernel(expr.Binary.Op, expr.Binary.Left.Type, expr.Binary.Right.Type, expr.Type, env.CheckedArithmetic)
		if err != nil {
			return nil, fmt.Errorf("couldn't make %s kernel: %w", expr.Binary.Op, err)
		}
		return execution.NewFunctionCall(kernel, []execution.Expression{left, right}), nil

	case ExpressionTypeFunctionCall:
		args, err := materializeExpressions(env, expr.FunctionCall.Args)
		if err != nil {
			return nil, fmt.Errorf("couldn't materialize %s arguments: %w", expr.FunctionCall.Name, err)
		}
		argTypes := make([]octoframe.Type, len(expr.FunctionCall.Args))
		for i := range expr.FunctionCall.Args {
			argTypes[i] = expr.FunctionCall.Args[i].Type
		}
		kernel, err := functions.Make(expr.FunctionCall.Name, argTypes, expr.FunctionCall.Params, expr.Type)
		if err != nil {
			return nil, fmt.Errorf("couldn't make %s kernel: %w", expr.FunctionCall.Name, err)
		}
		return execution.NewFunctionCall(kernel, args), nil

	case ExpressionTypeAggregate:
		return expr.materializeAggregate(env)

	case ExpressionTypeWindow:
		window := expr.Window
		out := &windows.Expression{
			Function: window.Function,
			Options:  window.Options,
			Type:     expr.Type.ToArrow(),
		}
		if window.Arg != nil {
			arg, err := window.Arg.materialize(env)
			if err != nil {
				return nil, err
			}
			out.Arg = arg
		}
		if window.Aggregate != nil {
			aggregate, err := window.Aggregate.materializeAggregate(env)
			if err != nil {
				return nil, err
			}
			out.Aggregate = aggregate
		}
		return out, nil

	case ExpressionTypeCast:
		arg, err := expr.Cast.Arg.materialize(env)
		if err != nil {
			return nil, err
		}
		kernel, err := functions.MakeCastKernel(expr.Cast.Arg.Type, expr.Type, expr.Cast.Strict)
		if err != nil {
			return nil, fmt.Errorf("couldn't make cast kernel: %w", err)
		}
		return execution.NewFunctionCall(kernel, []execution.Expression{arg}), nil

	case ExpressionTypeConditional:
		condition, err := expr.Conditional.Condition.materialize(env)
		if err != nil {
			return nil, err
		}
		then, err := expr.Conditional.Then.materialize(env)
		if err != nil {
			return nil, err
		}
		otherwise, err := expr.Conditional.Else.materialize(env)
		if err != nil {
			return nil, err
		}
		return &execution.Conditional{
			Condition: condition,
			Then:      then,
			Else:      otherwise,
			Type:      expr.Type.ToArrow(),
		}, nil

	case ExpressionTypeCommonSubexpression:
		return &execution.CommonSubexpression{Index: expr.CommonSubexpression.Index}, nil
	}

	panic(fmt.Sprintf("unexhaustive expression type match: %s", expr.ExpressionType))
}

func (expr *Expression) materializeAggregate(env expressionEnv) (*aggregates.Expression, error) {
	if expr.ExpressionType != ExpressionTypeAggregate {
		return nil, fmt.Errorf("expected an aggregate, got %s", expr.ExpressionType)
	}
	details, ok := aggregates.Lookup(expr.Aggregate.Name)
	if !ok {
		return nil, fmt.Errorf("unknown aggregate: %s", expr.Aggregate.Name)
	}
	out := &aggregates.Expression{Name: expr.Aggregate.Name}
	argType := octoframe.Null
	if expr.Aggregate.Arg != nil {
		arg, err := expr.Aggregate.Arg.materialize(env)
		if err != nil {
			return nil, err
		}
		out.Arg = arg
		argType = expr.Aggregate.Arg.Type
	}
	out.Prototype = details.Prototype(argType, expr.Type)
	return out, nil
}
