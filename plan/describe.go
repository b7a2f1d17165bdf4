package plan

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cube2222/octoframe/arrowexec/functions"
	"github.com/cube2222/octoframe/arrowexec/windows"
	"github.com/cube2222/octoframe/graph"
)

// Describe renders the plan as a tree. Every node lists its schema and estimated row count.
func Describe(node Node) *graph.Node {
	return describeNode(node, DescribeExpression)
}

func describeNode(node Node, describeExpr func(expr Expression) string) *graph.Node {
	out := graph.NewNode(node.NodeType.String())

	switch node.NodeType {
	case NodeTypeScan:
		out.AddField("table", node.Scan.Name)
		if node.Scan.Columns != nil {
			out.AddField("columns", "["+strings.Join(node.Scan.Columns, ", ")+"]")
		}
		if node.Scan.Predicate != nil {
			out.AddField("predicate", describeExpr(*node.Scan.Predicate))
		}
		if node.Scan.Slice != nil {
			out.AddField("slice", describeSlice(node.Scan.Slice.Offset, node.Scan.Slice.Length))
		}
	case NodeTypeFilter:
		out.AddField("predicate", describeExpr(node.Filter.Predicate))
	case NodeTypeProject:
		describeArena(out, describeExpr, node.Project.CommonSubexpressions)
		for i, expr := range node.Project.Expressions {
			out.AddField(node.Schema.Fields[i].Name, describeExpr(expr))
		}
	case NodeTypeAggregate:
		describeArena(out, describeExpr, node.Aggregate.CommonSubexpressions)
		for i, expr := range node.Aggregate.Keys {
			out.AddField("key "+node.Schema.Fields[i].Name, describeExpr(expr))
		}
		for i, expr := range node.Aggregate.Aggregates {
			out.AddField(node.Schema.Fields[len(node.Aggregate.Keys)+i].Name, describeExpr(expr))
		}
	case NodeTypeJoin:
		join := node.Join
		out.AddField("kind", join.Kind.String())
		out.AddField("strategy", join.Strategy.String())
		if join.Kind == JoinKindInner {
			out.AddField("build_side", describeSide(join.BuildSide))
		}
		if len(join.LeftKeys) > 0 {
			keys := make([]string, len(join.LeftKeys))
			for i := range join.LeftKeys {
				keys[i] = fmt.Sprintf("%s = %s", join.LeftKeys[i], join.RightKeys[i])
			}
			out.AddField("keys", strings.Join(keys, ", "))
		}
		if join.Kind == JoinKindAsof {
			out.AddField("asof", fmt.Sprintf("%s >= %s", join.AsofLeft, join.AsofRight))
		}
		columns := make([]string, len(join.Output))
		for i, column := range join.Output {
			columns[i] = describeSide(column.Side) + "." + column.Name
		}
		out.AddField("output", "["+strings.Join(columns, ", ")+"]")
	case NodeTypeSort:
		keys := make([]string, len(node.Sort.Keys))
		for i, key := range node.Sort.Keys {
			keys[i] = describeExpr(key.Expression)
			if key.Descending {
				keys[i] += " desc"
			}
			if key.NullsLast {
				keys[i] += " nulls last"
			}
		}
		out.AddField("keys", strings.Join(keys, ", "))
		if node.Sort.Limit > 0 {
			out.AddField("limit", strconv.FormatInt(node.Sort.Limit, 10))
		}
	case NodeTypeDistinct:
		if len(node.Distinct.Subset) > 0 {
			out.AddField("subset", "["+strings.Join(node.Distinct.Subset, ", ")+"]")
		}
		out.AddField("keep", node.Distinct.Keep.String())
	case NodeTypeWindow:
		describeArena(out, describeExpr, node.Window.CommonSubexpressions)
		offset := len(node.Window.Source.Schema.Fields)
		for i, expr := range node.Window.Expressions {
			out.AddField(node.Schema.Fields[offset+i].Name, describeExpr(expr))
		}
	case NodeTypeSlice:
		out.AddField("slice", describeSlice(node.Slice.Offset, node.Slice.Length))
	case NodeTypeUnion:
	default:
		panic(fmt.Sprintf("unexhaustive node type match: %s", node.NodeType))
	}

	out.AddField("schema", DescribeSchema(node.Schema))
	if estimate := EstimateCardinality(node); estimate.Known {
		out.AddField("estimated_rows", strconv.FormatFloat(estimate.Rows, 'f', 0, 64))
	} else {
		out.AddField("estimated_rows", "unknown")
	}

	switch node.NodeType {
	case NodeTypeJoin:
		out.AddChild("left", describeNode(node.Join.Left, describeExpr))
		out.AddChild("right", describeNode(node.Join.Right, describeExpr))
	case NodeTypeUnion:
		for i, source := range node.Union.Sources {
			out.AddChild(fmt.Sprintf("source_%d", i), describeNode(source, describeExpr))
		}
	default:
		for _, child := range node.Children() {
			out.AddChild("source", describeNode(child, describeExpr))
		}
	}
	return out
}

func describeArena(out *graph.Node, describeExpr func(expr Expression) string, arena []Expression) {
	for i, expr := range arena {
		out.AddField(fmt.Sprintf("$%d", i), describeExpr(expr))
	}
}

func describeSide(side JoinSide) string {
	if side == JoinSideLeft {
		return "left"
	}
	return "right"
}

func describeSlice(offset, length int64) string {
	if length < 0 {
		return fmt.Sprintf("%d..", offset)
	}
	return fmt.Sprintf("%d..+%d", offset, length)
}

// DescribeSchema renders the schema as "[name: Type, ...]".
func DescribeSchema(schema Schema) string {
	fields := make([]string, len(schema.Fields))
	for i, field := range schema.Fields {
		fields[i] = field.Name + ": " + field.Type.String()
	}
	return "[" + strings.Join(fields, ", ") + "]"
}

// DescribeExpression renders the expression in a readable, deterministic form.
func DescribeExpression(expr Expression) string {
	var sb strings.Builder
	describeExpression(&sb, expr, false)
	return sb.String()
}

// ExpressionKey is like DescribeExpression, but includes the types of all subexpressions,
// so that equal keys mean structurally identical expressions.
func ExpressionKey(expr Expression) string {
	var sb strings.Builder
	describeExpression(&sb, expr, true)
	return sb.String()
}

func describeExpression(sb *strings.Builder, expr Expression, typed bool) {
	switch expr.ExpressionType {
	case ExpressionTypeLiteral:
		sb.WriteString(expr.Literal.Value.String())
	case ExpressionTypeColumn:
		sb.WriteString(expr.Column.Name)
	case ExpressionTypeUnary:
		switch expr.Unary.Op {
		case functions.UnaryOpIsNull, functions.UnaryOpIsNotNull, functions.UnaryOpNot:
			sb.WriteString(expr.Unary.Op.String())
			sb.WriteString("(")
			describeExpression(sb, expr.Unary.Arg, typed)
			sb.WriteString(")")
		default:
			sb.WriteString(expr.Unary.Op.String())
			describeExpression(sb, expr.Unary.Arg, typed)
		}
	case ExpressionTypeBinary:
		sb.WriteString("(")
		describeExpression(sb, expr.Binary.Left, typed)
		sb.WriteString(" ")
		sb.WriteString(expr.Binary.Op.String())
		sb.WriteString(" ")
		describeExpression(sb, expr.Binary.Right, typed)
		sb.WriteString(")")
	case ExpressionTypeFunctionCall:
		sb.WriteString(expr.FunctionCall.Name)
		sb.WriteString("(")
		for i, arg := range expr.FunctionCall.Args {
			if i > 0 {
				sb.WriteString(", ")
			}
			describeExpression(sb, arg, typed)
		}
		for i, param := range expr.FunctionCall.Params {
			if i > 0 || len(expr.FunctionCall.Args) > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(param.String())
		}
		sb.WriteString(")")
	case ExpressionTypeAggregate:
		sb.WriteString(expr.Aggregate.Name)
		sb.WriteString("(")
		if expr.Aggregate.Arg != nil {
			describeExpression(sb, *expr.Aggregate.Arg, typed)
		}
		sb.WriteString(")")
	case ExpressionTypeWindow:
		window := expr.Window
		if window.Function == windows.FunctionOver {
			describeExpression(sb, *window.Aggregate, typed)
			sb.WriteString(".over(")
		} else {
			sb.WriteString(window.Function.String())
			sb.WriteString("(")
			if window.Arg != nil {
				describeExpression(sb, *window.Arg, typed)
			}
			switch window.Function {
			case windows.FunctionRollingSum, windows.FunctionRollingMean, windows.FunctionRollingMin, windows.FunctionRollingMax:
				fmt.Fprintf(sb, ", size=%d, min_periods=%d", window.Options.Size, window.Options.MinPeriods)
			case windows.FunctionShift:
				fmt.Fprintf(sb, ", %d", window.Options.Offset)
			}
			sb.WriteString(").over(")
		}
		for i, key := range window.PartitionBy {
			if i > 0 {
				sb.WriteString(", ")
			}
			describeExpression(sb, key, typed)
		}
		sb.WriteString(")")
	case ExpressionTypeCast:
		if expr.Cast.Strict {
			sb.WriteString("strict_cast(")
		} else {
			sb.WriteString("cast(")
		}
		describeExpression(sb, expr.Cast.Arg, typed)
		sb.WriteString(" as ")
		sb.WriteString(expr.Type.WithNullable(false).String())
		sb.WriteString(")")
	case ExpressionTypeConditional:
		sb.WriteString("when(")
		describeExpression(sb, expr.Conditional.Condition, typed)
		sb.WriteString(").then(")
		describeExpression(sb, expr.Conditional.Then, typed)
		sb.WriteString(").otherwise(")
		describeExpression(sb, expr.Conditional.Else, typed)
		sb.WriteString(")")
	case ExpressionTypeCommonSubexpression:
		fmt.Fprintf(sb, "$%d", expr.CommonSubexpression.Index)
	default:
		panic(fmt.Sprintf("unexhaustive expression type match: %s", expr.ExpressionType))
	}
	if typed {
		sb.WriteString("::")
		sb.WriteString(expr.Type.String())
	}
}

// Fingerprint identifies the plan, including the identity of the sources it scans.
// Equal fingerprints mean equal plans.
func Fingerprint(node Node) string {
	var sb strings.Builder
	sb.WriteString(graph.Text(describeNode(node, ExpressionKey)))
	var walk func(node Node)
	walk = func(node Node) {
		if node.NodeType == NodeTypeScan {
			fmt.Fprintf(&sb, "%s: %T %p\n", node.Scan.Name, node.Scan.Source, node.Scan.Source)
		}
		for _, child := range node.Children() {
			walk(child)
		}
	}
	walk(node)
	return sb.String()
}
