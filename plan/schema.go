package plan

import (
	"fmt"

	"github.com/cube2222/octoframe/arrowexec/nodes"
	"github.com/cube2222/octoframe/octoframe"
	"github.com/pkg/errors"
)

// DefaultJoinSuffix is appended to right-side columns whose names collide with left-side ones.
const DefaultJoinSuffix = "_right"

// NamedExpression is an expression with the name of the column it produces.
type NamedExpression struct {
	Name       string
	Expression Expression
}

func NewFilter(source Node, predicate Expression) (Node, error) {
	if err := checkPredicate(predicate); err != nil {
		return Node{}, err
	}
	if err := checkReferences(source.Schema, nil, predicate); err != nil {
		return Node{}, err
	}
	return Node{
		Schema:   source.Schema,
		NodeType: NodeTypeFilter,
		Filter: &Filter{
			Source:    source,
			Predicate: predicate,
		},
	}, nil
}

func checkPredicate(predicate Expression) error {
	if predicate.Type.TypeID != octoframe.TypeIDBoolean {
		return octoframe.NewTypeMismatchError("predicate must be Boolean, got %s", predicate.Type)
	}
	if predicate.ContainsAggregate() || predicate.ContainsWindow() {
		return errors.Wrap(octoframe.ErrInvalidContext, "predicates can't contain aggregates or windows")
	}
	return nil
}

func NewProject(source Node, exprs []NamedExpression) (Node, error) {
	fields := make([]SchemaField, len(exprs))
	expressions := make([]Expression, len(exprs))
	for i, expr := range exprs {
		if expr.Expression.ContainsAggregate() || expr.Expression.ContainsWindow() {
			return Node{}, errors.Wrapf(octoframe.ErrInvalidContext, "projected column %s contains an aggregate or window", expr.Name)
		}
		if err := checkReferences(source.Schema, nil, expr.Expression); err != nil {
			return Node{}, err
		}
		fields[i] = SchemaField{Name: expr.Name, Type: expr.Expression.Type}
		expressions[i] = expr.Expression
	}
	schema := NewSchema(fields...)
	if err := schema.Validate(); err != nil {
		return Node{}, err
	}
	return Node{
		Schema:   schema,
		NodeType: NodeTypeProject,
		Project: &Project{
			Source:      source,
			Expressions: expressions,
		},
	}, nil
}

// NewColumnsProject selects columns of the source by name.
func NewColumnsProject(source Node, names []string) (Node, error) {
	exprs := make([]NamedExpression, len(names))
	for i, name := range names {
		field, err := source.Schema.Field(name)
		if err != nil {
			return Node{}, err
		}
		exprs[i] = NamedExpression{Name: name, Expression: NewColumn(name, field.Type)}
	}
	return NewProject(source, exprs)
}

// NewAggregate groups the source by the keys. Every aggregate must be an aggregate function call.
func NewAggregate(source Node, keys []NamedExpression, aggregates []NamedExpression) (Node, error) {
	var fields []SchemaField
	keyExprs := make([]Expression, len(keys))
	for i, key := range keys {
		if !key.Expression.Type.IsHashable() {
			return Node{}, octoframe.NewTypeMismatchError("can't group by %s of type %s", key.Name, key.Expression.Type)
		}
		if key.Expression.ContainsAggregate() || key.Expression.ContainsWindow() {
			return Node{}, errors.Wrapf(octoframe.ErrInvalidContext, "group key %s contains an aggregate or window", key.Name)
		}
		if err := checkReferences(source.Schema, nil, key.Expression); err != nil {
			return Node{}, err
		}
		fields = append(fields, SchemaField{Name: key.Name, Type: key.Expression.Type})
		keyExprs[i] = key.Expression
	}
	aggregateExprs := make([]Expression, len(aggregates))
	for i, aggregate := range aggregates {
		if aggregate.Expression.ExpressionType != ExpressionTypeAggregate {
			return Node{}, errors.Wrapf(octoframe.ErrInvalidContext, "%s is not an aggregate", aggregate.Name)
		}
		if err := checkReferences(source.Schema, nil, aggregate.Expression); err != nil {
			return Node{}, err
		}
		fields = append(fields, SchemaField{Name: aggregate.Name, Type: aggregate.Expression.Type})
		aggregateExprs[i] = aggregate.Expression
	}
	schema := NewSchema(fields...)
	if err := schema.Validate(); err != nil {
		return Node{}, err
	}
	return Node{
		Schema:   schema,
		NodeType: NodeTypeAggregate,
		Aggregate: &Aggregate{
			Source:     source,
			Keys:       keyExprs,
			Aggregates: aggregateExprs,
		},
	}, nil
}

type JoinOptions struct {
	Kind                JoinKind
	LeftKeys, RightKeys []string
	// AsofLeft and AsofRight are the ordered columns of asof joins.
	AsofLeft, AsofRight string
	// Suffix defaults to DefaultJoinSuffix.
	Suffix string
}

func NewJoin(left, right Node, options JoinOptions) (Node, error) {
	if len(options.LeftKeys) != len(options.RightKeys) {
		return Node{}, octoframe.NewInvalidPlanError("join has %d left keys and %d right keys", len(options.LeftKeys), len(options.RightKeys))
	}
	switch options.Kind {
	case JoinKindCross:
		if len(options.LeftKeys) > 0 {
			return Node{}, octoframe.NewInvalidPlanError("cross joins take no keys")
		}
	case JoinKindAsof:
		if options.AsofLeft == "" || options.AsofRight == "" {
			return Node{}, octoframe.NewInvalidPlanError("asof joins need an ordered column on both sides")
		}
		leftOn, err := left.Schema.Field(options.AsofLeft)
		if err != nil {
			return Node{}, err
		}
		rightOn, err := right.Schema.Field(options.AsofRight)
		if err != nil {
			return Node{}, err
		}
		if !leftOn.Type.EqualsIgnoringNullability(rightOn.Type) || !(leftOn.Type.IsNumeric() || leftOn.Type.IsTemporal()) {
			return Node{}, octoframe.NewTypeMismatchError("asof columns %s and %s must have the same numeric or temporal type, got %s and %s", leftOn.Name, rightOn.Name, leftOn.Type, rightOn.Type)
		}
	default:
		if len(options.LeftKeys) == 0 {
			return Node{}, octoframe.NewInvalidPlanError("%s join needs at least one key", options.Kind)
		}
	}
	for i := range options.LeftKeys {
		leftKey, err := left.Schema.Field(options.LeftKeys[i])
		if err != nil {
			return Node{}, err
		}
		rightKey, err := right.Schema.Field(options.RightKeys[i])
		if err != nil {
			return Node{}, err
		}
		if !leftKey.Type.EqualsIgnoringNullability(rightKey.Type) {
			return Node{}, octoframe.NewTypeMismatchError("join keys %s and %s have different types %s and %s", leftKey.Name, rightKey.Name, leftKey.Type, rightKey.Type)
		}
		if !leftKey.Type.IsHashable() {
			return Node{}, octoframe.NewTypeMismatchError("can't join on %s of type %s", leftKey.Name, leftKey.Type)
		}
	}

	suffix := options.Suffix
	if suffix == "" {
		suffix = DefaultJoinSuffix
	}
	output, schema, err := joinOutput(left.Schema, right.Schema, options, suffix)
	if err != nil {
		return Node{}, err
	}
	buildSide := JoinSideRight
	return Node{
		Schema:   schema,
		NodeType: NodeTypeJoin,
		Join: &Join{
			Left:      left,
			Right:     right,
			Kind:      options.Kind,
			LeftKeys:  options.LeftKeys,
			RightKeys: options.RightKeys,
			AsofLeft:  options.AsofLeft,
			AsofRight: options.AsofRight,
			BuildSide: buildSide,
			Output:    output,
		},
	}, nil
}

func joinOutput(left, right Schema, options JoinOptions, suffix string) ([]JoinColumn, Schema, error) {
	var output []JoinColumn
	var fields []SchemaField
	leftNullable := options.Kind == JoinKindFull
	rightNullable := options.Kind == JoinKindLeft || options.Kind == JoinKindFull || options.Kind == JoinKindAsof

	for _, field := range left.Fields {
		output = append(output, JoinColumn{Side: JoinSideLeft, Name: field.Name})
		fields = append(fields, SchemaField{Name: field.Name, Type: field.Type.WithNullable(field.Type.Nullable || leftNullable)})
	}
	if options.Kind == JoinKindSemi || options.Kind == JoinKindAnti {
		return output, NewSchema(fields...), nil
	}

	dropped := make(map[string]bool)
	if options.Kind == JoinKindInner || options.Kind == JoinKindLeft || options.Kind == JoinKindAsof {
		for i := range options.LeftKeys {
			if options.LeftKeys[i] == options.RightKeys[i] {
				dropped[options.RightKeys[i]] = true
			}
		}
		if options.Kind == JoinKindAsof && options.AsofLeft == options.AsofRight {
			dropped[options.AsofRight] = true
		}
	}
	for _, field := range right.Fields {
		if dropped[field.Name] {
			continue
		}
		name := field.Name
		if left.Index(name) != -1 {
			name += suffix
		}
		output = append(output, JoinColumn{Side: JoinSideRight, Name: field.Name})
		fields = append(fields, SchemaField{Name: name, Type: field.Type.WithNullable(field.Type.Nullable || rightNullable)})
	}
	schema := NewSchema(fields...)
	if err := schema.Validate(); err != nil {
		return nil, Schema{}, err
	}
	return output, schema, nil
}

func NewSort(source Node, keys []SortKey) (Node, error) {
	if len(keys) == 0 {
		return Node{}, octoframe.NewInvalidPlanError("sort needs at least one key")
	}
	for _, key := range keys {
		if !key.Expression.Type.IsOrdered() && !key.Expression.Type.IsNull() {
			return Node{}, octoframe.NewTypeMismatchError("can't sort by %s", key.Expression.Type)
		}
		if key.Expression.ContainsAggregate() || key.Expression.ContainsWindow() {
			return Node{}, errors.Wrap(octoframe.ErrInvalidContext, "sort keys can't contain aggregates or windows")
		}
		if err := checkReferences(source.Schema, nil, key.Expression); err != nil {
			return Node{}, err
		}
	}
	return Node{
		Schema:   source.Schema,
		NodeType: NodeTypeSort,
		Sort: &Sort{
			Source: source,
			Keys:   keys,
		},
	}, nil
}

func NewDistinct(source Node, subset []string, keep nodes.DistinctKeep) (Node, error) {
	for _, name := range subset {
		field, err := source.Schema.Field(name)
		if err != nil {
			return Node{}, err
		}
		if !field.Type.IsHashable() {
			return Node{}, octoframe.NewTypeMismatchError("can't deduplicate by %s of type %s", name, field.Type)
		}
	}
	return Node{
		Schema:   source.Schema,
		NodeType: NodeTypeDistinct,
		Distinct: &Distinct{
			Source: source,
			Subset: subset,
			Keep:   keep,
		},
	}, nil
}

// NewWindow appends window function columns to the source's columns.
func NewWindow(source Node, exprs []NamedExpression) (Node, error) {
	fields := append([]SchemaField{}, source.Schema.Fields...)
	expressions := make([]Expression, len(exprs))
	for i, expr := range exprs {
		if expr.Expression.ExpressionType != ExpressionTypeWindow {
			return Node{}, errors.Wrapf(octoframe.ErrInvalidContext, "%s is not a window function", expr.Name)
		}
		if err := checkReferences(source.Schema, nil, expr.Expression); err != nil {
			return Node{}, err
		}
		fields = append(fields, SchemaField{Name: expr.Name, Type: expr.Expression.Type})
		expressions[i] = expr.Expression
	}
	schema := NewSchema(fields...)
	if err := schema.Validate(); err != nil {
		return Node{}, err
	}
	return Node{
		Schema:   schema,
		NodeType: NodeTypeWindow,
		Window: &Window{
			Source:      source,
			Expressions: expressions,
		},
	}, nil
}

// NewSlice keeps length rows starting at offset. A negative offset counts from the end,
// a negative length means all remaining rows.
func NewSlice(source Node, offset, length int64) Node {
	return Node{
		Schema:   source.Schema,
		NodeType: NodeTypeSlice,
		Slice: &Slice{
			Source: source,
			Offset: offset,
			Length: length,
		},
	}
}

// NewUnion concatenates sources with equal column names and types.
// Nullability is widened across the sources.
func NewUnion(sources []Node) (Node, error) {
	if len(sources) == 0 {
		return Node{}, octoframe.NewInvalidPlanError("union needs at least one source")
	}
	fields := append([]SchemaField{}, sources[0].Schema.Fields...)
	for _, source := range sources[1:] {
		if len(source.Schema.Fields) != len(fields) {
			return Node{}, octoframe.NewInvalidPlanError("union sources have %d and %d columns", len(fields), len(source.Schema.Fields))
		}
		for i, field := range source.Schema.Fields {
			if field.Name != fields[i].Name {
				return Node{}, octoframe.NewInvalidPlanError("union column %d is named %s and %s", i, fields[i].Name, field.Name)
			}
			if !field.Type.EqualsIgnoringNullability(fields[i].Type) {
				return Node{}, octoframe.NewTypeMismatchError("union column %s has types %s and %s", field.Name, fields[i].Type, field.Type)
			}
			fields[i].Type = fields[i].Type.WithNullable(fields[i].Type.Nullable || field.Type.Nullable)
		}
	}
	return Node{
		Schema:   NewSchema(fields...),
		NodeType: NodeTypeUnion,
		Union: &Union{
			Sources: sources,
		},
	}, nil
}

// checkReferences verifies that all columns referenced by the expression exist in the schema
// and that subexpression references point into the arena.
func checkReferences(schema Schema, arena []Expression, expr Expression) error {
	var err error
	expr.Walk(func(expr *Expression) bool {
		if err != nil {
			return false
		}
		switch expr.ExpressionType {
		case ExpressionTypeColumn:
			var field SchemaField
			field, err = schema.Field(expr.Column.Name)
			if err == nil && !field.Type.EqualsIgnoringNullability(expr.Type) {
				err = octoframe.NewTypeMismatchError("column %s is referenced as %s, but has type %s", field.Name, expr.Type, field.Type)
			}
		case ExpressionTypeCommonSubexpression:
			if expr.CommonSubexpression.Index < 0 || expr.CommonSubexpression.Index >= len(arena) {
				err = octoframe.NewInvalidPlanError("subexpression reference %d out of range of %d entries", expr.CommonSubexpression.Index, len(arena))
			}
		}
		return true
	})
	return err
}

func checkArena(schema Schema, arena []Expression) error {
	for i := range arena {
		if err := checkReferences(schema, arena[:i], arena[i]); err != nil {
			return errors.Wrapf(err, "subexpression %d", i)
		}
	}
	return nil
}

// DeriveSchema recomputes the schema of the node from its inputs and parameters,
// checking that the node is consistent. Output names of projections, aggregates,
// windows and joins are taken from the node's stored schema.
func DeriveSchema(node Node) (Schema, error) {
	for _, child := range node.Children() {
		derived, err := DeriveSchema(child)
		if err != nil {
			return Schema{}, err
		}
		if !derived.Equals(child.Schema) {
			return Schema{}, octoframe.NewInvalidPlanError("%s node has a stale schema", child.NodeType)
		}
	}

	switch node.NodeType {
	case NodeTypeScan:
		schema := node.Scan.Source.Schema()
		if node.Scan.Predicate != nil {
			if err := checkReferences(schema, nil, *node.Scan.Predicate); err != nil {
				return Schema{}, errors.Wrap(err, "scan predicate")
			}
		}
		if node.Scan.Columns == nil {
			return schema, nil
		}
		return schema.Select(node.Scan.Columns)

	case NodeTypeFilter:
		if err := checkPredicate(node.Filter.Predicate); err != nil {
			return Schema{}, err
		}
		if err := checkReferences(node.Filter.Source.Schema, nil, node.Filter.Predicate); err != nil {
			return Schema{}, err
		}
		return node.Filter.Source.Schema, nil

	case NodeTypeProject:
		source := node.Project.Source.Schema
		if err := checkArena(source, node.Project.CommonSubexpressions); err != nil {
			return Schema{}, err
		}
		return namedSchema(node.Schema, nil, node.Project.Expressions, func(expr Expression) error {
			return checkReferences(source, node.Project.CommonSubexpressions, expr)
		})

	case NodeTypeAggregate:
		source := node.Aggregate.Source.Schema
		if err := checkArena(source, node.Aggregate.CommonSubexpressions); err != nil {
			return Schema{}, err
		}
		exprs := append(append([]Expression{}, node.Aggregate.Keys...), node.Aggregate.Aggregates...)
		return namedSchema(node.Schema, nil, exprs, func(expr Expression) error {
			return checkReferences(source, node.Aggregate.CommonSubexpressions, expr)
		})

	case NodeTypeWindow:
		source := node.Window.Source.Schema
		if err := checkArena(source, node.Window.CommonSubexpressions); err != nil {
			return Schema{}, err
		}
		return namedSchema(node.Schema, source.Fields, node.Window.Expressions, func(expr Expression) error {
			return checkReferences(source, node.Window.CommonSubexpressions, expr)
		})

	case NodeTypeJoin:
		join := node.Join
		if len(join.Output) != len(node.Schema.Fields) {
			return Schema{}, octoframe.NewInvalidPlanError("join has %d output columns and %d schema fields", len(join.Output), len(node.Schema.Fields))
		}
		fields := make([]SchemaField, len(join.Output))
		for i, column := range join.Output {
			side := join.Left.Schema
			nullable := join.Kind == JoinKindFull
			if column.Side == JoinSideRight {
				side = join.Right.Schema
				nullable = join.Kind == JoinKindLeft || join.Kind == JoinKindFull || join.Kind == JoinKindAsof
			}
			field, err := side.Field(column.Name)
			if err != nil {
				return Schema{}, err
			}
			fields[i] = SchemaField{Name: node.Schema.Fields[i].Name, Type: field.Type.WithNullable(field.Type.Nullable || nullable)}
		}
		for i := range join.LeftKeys {
			if _, err := join.Left.Schema.Field(join.LeftKeys[i]); err != nil {
				return Schema{}, err
			}
			if _, err := join.Right.Schema.Field(join.RightKeys[i]); err != nil {
				return Schema{}, err
			}
		}
		schema := NewSchema(fields...)
		return schema, schema.Validate()

	case NodeTypeSort:
		for _, key := range node.Sort.Keys {
			if err := checkReferences(node.Sort.Source.Schema, nil, key.Expression); err != nil {
				return Schema{}, err
			}
		}
		return node.Sort.Source.Schema, nil

	case NodeTypeDistinct:
		for _, name := range node.Distinct.Subset {
			if _, err := node.Distinct.Source.Schema.Field(name); err != nil {
				return Schema{}, err
			}
		}
		return node.Distinct.Source.Schema, nil

	case NodeTypeSlice:
		return node.Slice.Source.Schema, nil

	case NodeTypeUnion:
		union, err := NewUnion(node.Union.Sources)
		if err != nil {
			return Schema{}, err
		}
		return union.Schema, nil
	}
	panic(fmt.Sprintf("unexhaustive node type match: %s", node.NodeType))
}

func namedSchema(stored Schema, prefix []SchemaField, exprs []Expression, check func(expr Expression) error) (Schema, error) {
	if len(prefix)+len(exprs) != len(stored.Fields) {
		return Schema{}, octoframe.NewInvalidPlanError("node has %d expressions and %d schema fields", len(prefix)+len(exprs), len(stored.Fields))
	}
	fields := append([]SchemaField{}, prefix...)
	for i, expr := range exprs {
		if err := check(expr); err != nil {
			return Schema{}, err
		}
		fields = append(fields, SchemaField{Name: stored.Fields[len(prefix)+i].Name, Type: expr.Type})
	}
	schema := NewSchema(fields...)
	return schema, schema.Validate()
}
