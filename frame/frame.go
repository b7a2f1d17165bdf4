// Package frame builds logical plans. A LazyFrame is an immutable handle to a plan,
// every method typechecks its arguments and returns a new frame.
package frame

import (
	"fmt"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/cube2222/octoframe/arrowexec/nodes"
	"github.com/cube2222/octoframe/datasources/memory"
	"github.com/cube2222/octoframe/octoframe"
	"github.com/cube2222/octoframe/plan"
	"github.com/pkg/errors"
)

type LazyFrame struct {
	node plan.Node
}

// FromPlan wraps an already built plan.
func FromPlan(node plan.Node) LazyFrame {
	return LazyFrame{node: node}
}

// Scan reads the named table of the catalog.
func Scan(catalog *plan.Catalog, name string) (LazyFrame, error) {
	source, err := catalog.Lookup(name)
	if err != nil {
		return LazyFrame{}, err
	}
	return LazyFrame{node: plan.NewScan(name, source)}, nil
}

// FromRecords scans in-memory records. The records are retained by the frame.
func FromRecords(schema *arrow.Schema, records ...arrow.Record) (LazyFrame, error) {
	planSchema, err := plan.SchemaFromArrow(schema)
	if err != nil {
		return LazyFrame{}, err
	}
	for i, record := range records {
		if !record.Schema().Equal(schema) {
			return LazyFrame{}, octoframe.NewTypeMismatchError("record %d has schema %s, expected %s", i, record.Schema(), schema)
		}
		record.Retain()
	}
	return LazyFrame{node: plan.NewScan("records", memory.NewSource(planSchema, records))}, nil
}

func (f LazyFrame) Schema() plan.Schema {
	return f.node.Schema
}

func (f LazyFrame) Plan() plan.Node {
	return f.node
}

func (f LazyFrame) Filter(predicate Expr) (LazyFrame, error) {
	expr, err := predicate.resolve(f.node.Schema)
	if err != nil {
		return LazyFrame{}, errors.Wrap(err, "couldn't typecheck filter predicate")
	}
	node, err := plan.NewFilter(f.node, expr)
	if err != nil {
		return LazyFrame{}, err
	}
	return LazyFrame{node: node}, nil
}

// Select evaluates the expressions. If any of them aggregates, all of them have to,
// and the result has a single row.
func (f LazyFrame) Select(exprs ...Expr) (LazyFrame, error) {
	named, err := resolveNamed(f.node.Schema, exprs)
	if err != nil {
		return LazyFrame{}, err
	}
	node, err := lower(f.node, nil, named)
	if err != nil {
		return LazyFrame{}, err
	}
	return LazyFrame{node: node}, nil
}

// WithColumns adds columns, replacing existing columns of the same name in place.
func (f LazyFrame) WithColumns(exprs ...Expr) (LazyFrame, error) {
	added, err := resolveNamed(f.node.Schema, exprs)
	if err != nil {
		return LazyFrame{}, err
	}
	for _, expr := range added {
		if expr.Expression.ContainsAggregate() {
			return LazyFrame{}, errors.Wrapf(octoframe.ErrInvalidContext, "column %s aggregates, use over to broadcast an aggregate", expr.Name)
		}
	}

	replaced := make(map[string]int)
	for i, expr := range added {
		replaced[expr.Name] = i
	}
	var named []plan.NamedExpression
	for _, field := range f.node.Schema.Fields {
		if i, ok := replaced[field.Name]; ok {
			named = append(named, added[i])
			delete(replaced, field.Name)
			continue
		}
		named = append(named, plan.NamedExpression{Name: field.Name, Expression: plan.NewColumn(field.Name, field.Type)})
	}
	for i, expr := range added {
		if j, ok := replaced[expr.Name]; ok && j == i {
			named = append(named, expr)
		}
	}

	node, err := lower(f.node, nil, named)
	if err != nil {
		return LazyFrame{}, err
	}
	return LazyFrame{node: node}, nil
}

func (f LazyFrame) Drop(names ...string) (LazyFrame, error) {
	dropped := make(map[string]bool)
	for _, name := range names {
		if _, err := f.node.Schema.Field(name); err != nil {
			return LazyFrame{}, err
		}
		dropped[name] = true
	}
	var kept []string
	for _, name := range f.node.Schema.Names() {
		if !dropped[name] {
			kept = append(kept, name)
		}
	}
	node, err := plan.NewColumnsProject(f.node, kept)
	if err != nil {
		return LazyFrame{}, err
	}
	return LazyFrame{node: node}, nil
}

// Rename renames columns given as old name to new name.
func (f LazyFrame) Rename(mapping map[string]string) (LazyFrame, error) {
	for old := range mapping {
		if _, err := f.node.Schema.Field(old); err != nil {
			return LazyFrame{}, err
		}
	}
	named := make([]plan.NamedExpression, len(f.node.Schema.Fields))
	for i, field := range f.node.Schema.Fields {
		name := field.Name
		if newName, ok := mapping[name]; ok {
			name = newName
		}
		named[i] = plan.NamedExpression{Name: name, Expression: plan.NewColumn(field.Name, field.Type)}
	}
	node, err := plan.NewProject(f.node, named)
	if err != nil {
		return LazyFrame{}, err
	}
	return LazyFrame{node: node}, nil
}

type GroupBy struct {
	frame LazyFrame
	keys  []Expr
}

func (f LazyFrame) GroupBy(keys ...Expr) GroupBy {
	return GroupBy{frame: f, keys: keys}
}

// Agg aggregates every group. The output has the keys followed by the aggregates.
func (g GroupBy) Agg(exprs ...Expr) (LazyFrame, error) {
	schema := g.frame.node.Schema
	keys, err := resolveNamed(schema, g.keys)
	if err != nil {
		return LazyFrame{}, errors.Wrap(err, "couldn't typecheck group by keys")
	}
	named, err := resolveNamed(schema, exprs)
	if err != nil {
		return LazyFrame{}, err
	}
	for _, expr := range named {
		if err := checkAggregateContext(expr); err != nil {
			return LazyFrame{}, err
		}
	}
	node, err := lowerAggregates(g.frame.node, keys, named)
	if err != nil {
		return LazyFrame{}, err
	}
	return LazyFrame{node: node}, nil
}

type JoinOptions struct {
	// On names key columns present on both sides. Use LeftOn and RightOn otherwise.
	On              []string
	LeftOn, RightOn []string
	How             plan.JoinKind
	// Suffix is appended to colliding right column names, "_right" by default.
	Suffix string
}

// Join joins on key equality. Keys of different types are cast to their common supertype.
func (f LazyFrame) Join(other LazyFrame, options JoinOptions) (LazyFrame, error) {
	switch options.How {
	case plan.JoinKindCross:
		return f.CrossJoin(other, options.Suffix)
	case plan.JoinKindAsof:
		return LazyFrame{}, octoframe.NewInvalidPlanError("use JoinAsof for asof joins")
	}
	leftKeys, rightKeys := options.LeftOn, options.RightOn
	if len(options.On) > 0 {
		if len(leftKeys) > 0 || len(rightKeys) > 0 {
			return LazyFrame{}, octoframe.NewInvalidPlanError("join keys given both by On and by LeftOn/RightOn")
		}
		leftKeys, rightKeys = options.On, options.On
	}
	left, right, err := alignKeyTypes(f.node, other.node, leftKeys, rightKeys)
	if err != nil {
		return LazyFrame{}, err
	}
	node, err := plan.NewJoin(left, right, plan.JoinOptions{
		Kind:      options.How,
		LeftKeys:  leftKeys,
		RightKeys: rightKeys,
		Suffix:    options.Suffix,
	})
	if err != nil {
		return LazyFrame{}, err
	}
	return LazyFrame{node: node}, nil
}

// CrossJoin pairs every row of the frame with every row of the other one.
func (f LazyFrame) CrossJoin(other LazyFrame, suffix string) (LazyFrame, error) {
	node, err := plan.NewJoin(f.node, other.node, plan.JoinOptions{
		Kind:   plan.JoinKindCross,
		Suffix: suffix,
	})
	if err != nil {
		return LazyFrame{}, err
	}
	return LazyFrame{node: node}, nil
}

type AsofOptions struct {
	// On names the ordered column present on both sides. Use LeftOn and RightOn otherwise.
	On              string
	LeftOn, RightOn string
	// By names equality columns present on both sides. Use LeftBy and RightBy otherwise.
	By              []string
	LeftBy, RightBy []string
	Suffix          string
}

// JoinAsof matches every row with the last row of the other frame whose ordered column
// is not greater, among rows with equal by columns. Both frames must be sorted by their ordered column.
func (f LazyFrame) JoinAsof(other LazyFrame, options AsofOptions) (LazyFrame, error) {
	leftOn, rightOn := options.LeftOn, options.RightOn
	if options.On != "" {
		leftOn, rightOn = options.On, options.On
	}
	leftBy, rightBy := options.LeftBy, options.RightBy
	if len(options.By) > 0 {
		leftBy, rightBy = options.By, options.By
	}
	left, right, err := alignKeyTypes(f.node, other.node, leftBy, rightBy)
	if err != nil {
		return LazyFrame{}, err
	}
	node, err := plan.NewJoin(left, right, plan.JoinOptions{
		Kind:      plan.JoinKindAsof,
		LeftKeys:  leftBy,
		RightKeys: rightBy,
		AsofLeft:  leftOn,
		AsofRight: rightOn,
		Suffix:    options.Suffix,
	})
	if err != nil {
		return LazyFrame{}, err
	}
	return LazyFrame{node: node}, nil
}

// alignKeyTypes casts join keys of different types on either side to their supertype.
func alignKeyTypes(left, right plan.Node, leftKeys, rightKeys []string) (plan.Node, plan.Node, error) {
	if len(leftKeys) != len(rightKeys) {
		return plan.Node{}, plan.Node{}, octoframe.NewInvalidPlanError("join has %d left keys and %d right keys", len(leftKeys), len(rightKeys))
	}
	leftCasts := make(map[string]octoframe.Type)
	rightCasts := make(map[string]octoframe.Type)
	for i := range leftKeys {
		leftField, err := left.Schema.Field(leftKeys[i])
		if err != nil {
			return plan.Node{}, plan.Node{}, err
		}
		rightField, err := right.Schema.Field(rightKeys[i])
		if err != nil {
			return plan.Node{}, plan.Node{}, err
		}
		if leftField.Type.EqualsIgnoringNullability(rightField.Type) {
			continue
		}
		supertype, ok := octoframe.Supertype(leftField.Type.WithNullable(false), rightField.Type.WithNullable(false))
		if !ok {
			return plan.Node{}, plan.Node{}, octoframe.NewTypeMismatchError("join keys %s and %s have incompatible types %s and %s", leftField.Name, rightField.Name, leftField.Type, rightField.Type)
		}
		if !leftField.Type.EqualsIgnoringNullability(supertype) {
			leftCasts[leftField.Name] = supertype
		}
		if !rightField.Type.EqualsIgnoringNullability(supertype) {
			rightCasts[rightField.Name] = supertype
		}
	}
	left, err := castColumns(left, leftCasts)
	if err != nil {
		return plan.Node{}, plan.Node{}, err
	}
	right, err = castColumns(right, rightCasts)
	if err != nil {
		return plan.Node{}, plan.Node{}, err
	}
	return left, right, nil
}

func castColumns(node plan.Node, casts map[string]octoframe.Type) (plan.Node, error) {
	if len(casts) == 0 {
		return node, nil
	}
	named := make([]plan.NamedExpression, len(node.Schema.Fields))
	for i, field := range node.Schema.Fields {
		expr := plan.NewColumn(field.Name, field.Type)
		if to, ok := casts[field.Name]; ok {
			var err error
			if expr, err = plan.Coerce(expr, to.WithNullable(field.Type.Nullable)); err != nil {
				return plan.Node{}, err
			}
		}
		named[i] = plan.NamedExpression{Name: field.Name, Expression: expr}
	}
	return plan.NewProject(node, named)
}

type SortOptions struct {
	By []Expr
	// Descending has either one entry per key, a single entry for all keys, or none.
	Descending []bool
	NullsLast  bool
}

func (f LazyFrame) Sort(options SortOptions) (LazyFrame, error) {
	if len(options.Descending) > 1 && len(options.Descending) != len(options.By) {
		return LazyFrame{}, octoframe.NewInvalidPlanError("sort has %d keys but %d descending flags", len(options.By), len(options.Descending))
	}
	keys := make([]plan.SortKey, len(options.By))
	for i := range options.By {
		expr, err := options.By[i].resolve(f.node.Schema)
		if err != nil {
			return LazyFrame{}, errors.Wrapf(err, "couldn't typecheck sort key %d", i)
		}
		if expr.ContainsAggregate() || expr.ContainsWindow() {
			return LazyFrame{}, errors.Wrap(octoframe.ErrInvalidContext, "sort keys can't contain aggregates or windows")
		}
		descending := false
		switch len(options.Descending) {
		case 0:
		case 1:
			descending = options.Descending[0]
		default:
			descending = options.Descending[i]
		}
		keys[i] = plan.SortKey{Expression: expr, Descending: descending, NullsLast: options.NullsLast}
	}
	node, err := plan.NewSort(f.node, keys)
	if err != nil {
		return LazyFrame{}, err
	}
	return LazyFrame{node: node}, nil
}

const (
	KeepFirst = nodes.DistinctKeepFirst
	KeepLast  = nodes.DistinctKeepLast
	KeepNone  = nodes.DistinctKeepNone
)

// Unique removes rows with duplicate values of the subset columns, all columns if the subset is empty.
func (f LazyFrame) Unique(subset []string, keep nodes.DistinctKeep) (LazyFrame, error) {
	node, err := plan.NewDistinct(f.node, subset, keep)
	if err != nil {
		return LazyFrame{}, err
	}
	return LazyFrame{node: node}, nil
}

// Slice takes length rows starting at offset. A negative offset counts from the end,
// a negative length takes all remaining rows.
func (f LazyFrame) Slice(offset, length int64) (LazyFrame, error) {
	return LazyFrame{node: plan.NewSlice(f.node, offset, length)}, nil
}

func (f LazyFrame) Head(n int64) (LazyFrame, error) {
	if n < 0 {
		return LazyFrame{}, octoframe.NewInvalidPlanError("head needs a non-negative row count, got %d", n)
	}
	return f.Slice(0, n)
}

func (f LazyFrame) Tail(n int64) (LazyFrame, error) {
	if n < 0 {
		return LazyFrame{}, octoframe.NewInvalidPlanError("tail needs a non-negative row count, got %d", n)
	}
	if n == 0 {
		return f.Slice(0, 0)
	}
	return f.Slice(-n, -1)
}

// Concat stacks frames with equal column names and types.
func Concat(frames ...LazyFrame) (LazyFrame, error) {
	sources := make([]plan.Node, len(frames))
	for i := range frames {
		sources[i] = frames[i].node
	}
	node, err := plan.NewUnion(sources)
	if err != nil {
		return LazyFrame{}, err
	}
	return LazyFrame{node: node}, nil
}

// lower turns a list of projected expressions into plan nodes. Aggregates are computed by an
// Aggregate node and windows by a Window node, both under hidden names, with a Project on top.
func lower(source plan.Node, keys []plan.NamedExpression, exprs []plan.NamedExpression) (plan.Node, error) {
	aggregating := false
	for _, expr := range exprs {
		if expr.Expression.ContainsAggregate() {
			aggregating = true
		}
	}
	if aggregating {
		for _, expr := range exprs {
			if err := checkAggregateContext(expr); err != nil {
				return plan.Node{}, err
			}
		}
		return lowerAggregates(source, keys, exprs)
	}
	for _, expr := range exprs {
		if expr.Expression.ContainsWindow() {
			return lowerWindows(source, exprs)
		}
	}
	return plan.NewProject(source, exprs)
}

// checkAggregateContext verifies that all columns of an aggregating expression are referenced inside aggregates.
func checkAggregateContext(expr plan.NamedExpression) error {
	if expr.Expression.ContainsWindow() {
		return errors.Wrapf(octoframe.ErrInvalidContext, "%s mixes windows with aggregation", expr.Name)
	}
	var outside []string
	expr.Expression.Walk(func(e *plan.Expression) bool {
		switch e.ExpressionType {
		case plan.ExpressionTypeAggregate:
			return false
		case plan.ExpressionTypeColumn:
			outside = append(outside, e.Column.Name)
		}
		return true
	})
	if len(outside) > 0 {
		return errors.Wrapf(octoframe.ErrInvalidContext, "%s references column %s outside of an aggregate while aggregating", expr.Name, outside[0])
	}
	return nil
}

func lowerAggregates(source plan.Node, keys []plan.NamedExpression, exprs []plan.NamedExpression) (plan.Node, error) {
	bare := true
	for _, expr := range exprs {
		if expr.Expression.ExpressionType != plan.ExpressionTypeAggregate {
			bare = false
		}
	}
	if bare {
		return plan.NewAggregate(source, keys, exprs)
	}

	taken := make(map[string]bool)
	for _, key := range keys {
		taken[key.Name] = true
	}
	hidden := newHiddenColumns("__agg", taken)
	rewritten := make([]plan.NamedExpression, len(exprs))
	for i, expr := range exprs {
		rewritten[i] = plan.NamedExpression{
			Name: expr.Name,
			Expression: plan.ReplaceSubexpressions(expr.Expression, func(e plan.Expression) (plan.Expression, bool) {
				if e.ExpressionType != plan.ExpressionTypeAggregate {
					return plan.Expression{}, false
				}
				return hidden.reference(e), true
			}),
		}
	}
	aggregate, err := plan.NewAggregate(source, keys, hidden.exprs)
	if err != nil {
		return plan.Node{}, err
	}

	projected := make([]plan.NamedExpression, 0, len(keys)+len(rewritten))
	for _, key := range keys {
		projected = append(projected, plan.NamedExpression{Name: key.Name, Expression: plan.NewColumn(key.Name, key.Expression.Type)})
	}
	projected = append(projected, rewritten...)
	return plan.NewProject(aggregate, projected)
}

func lowerWindows(source plan.Node, exprs []plan.NamedExpression) (plan.Node, error) {
	if appended, ok := appendedWindows(source.Schema, exprs); ok {
		return plan.NewWindow(source, appended)
	}

	taken := make(map[string]bool)
	for _, name := range source.Schema.Names() {
		taken[name] = true
	}
	hidden := newHiddenColumns("__window", taken)
	rewritten := make([]plan.NamedExpression, len(exprs))
	for i, expr := range exprs {
		rewritten[i] = plan.NamedExpression{
			Name: expr.Name,
			Expression: plan.ReplaceSubexpressions(expr.Expression, func(e plan.Expression) (plan.Expression, bool) {
				if e.ExpressionType != plan.ExpressionTypeWindow {
					return plan.Expression{}, false
				}
				return hidden.reference(e), true
			}),
		}
	}
	window, err := plan.NewWindow(source, hidden.exprs)
	if err != nil {
		return plan.Node{}, err
	}
	return plan.NewProject(window, rewritten)
}

// appendedWindows checks whether the expressions are the source's columns followed by bare window functions,
// which a Window node produces without a Project.
func appendedWindows(schema plan.Schema, exprs []plan.NamedExpression) ([]plan.NamedExpression, bool) {
	if len(exprs) <= len(schema.Fields) {
		return nil, false
	}
	for i, field := range schema.Fields {
		expr := exprs[i]
		if expr.Name != field.Name || !expr.Expression.IsColumn() || expr.Expression.Column.Name != field.Name {
			return nil, false
		}
	}
	appended := exprs[len(schema.Fields):]
	for _, expr := range appended {
		if expr.Expression.ExpressionType != plan.ExpressionTypeWindow || schema.Index(expr.Name) != -1 {
			return nil, false
		}
	}
	return appended, true
}

// hiddenColumns names the subexpressions computed by a lower node, deduplicating equal ones.
type hiddenColumns struct {
	prefix string
	taken  map[string]bool
	byKey  map[string]int
	exprs  []plan.NamedExpression
}

func newHiddenColumns(prefix string, taken map[string]bool) *hiddenColumns {
	return &hiddenColumns{
		prefix: prefix,
		taken:  taken,
		byKey:  make(map[string]int),
	}
}

func (h *hiddenColumns) reference(expr plan.Expression) plan.Expression {
	key := plan.ExpressionKey(expr)
	index, ok := h.byKey[key]
	if !ok {
		name := fmt.Sprintf("%s_%d", h.prefix, len(h.exprs))
		for h.taken[name] {
			name = "_" + name
		}
		h.taken[name] = true
		index = len(h.exprs)
		h.byKey[key] = index
		h.exprs = append(h.exprs, plan.NamedExpression{Name: name, Expression: expr})
	}
	return plan.NewColumn(h.exprs[index].Name, expr.Type)
}
