package plan

import (
	"github.com/apache/arrow/go/v13/arrow"
	"github.com/cube2222/octoframe/arrowexec/nodes"
	"github.com/cube2222/octoframe/octoframe"
)

type Node struct {
	Schema Schema

	NodeType NodeType
	// Only one of the below may be non-null.
	Scan      *Scan
	Filter    *Filter
	Project   *Project
	Aggregate *Aggregate
	Join      *Join
	Sort      *Sort
	Distinct  *Distinct
	Window    *Window
	Slice     *Slice
	Union     *Union
}

type NodeType int

const (
	NodeTypeScan NodeType = iota
	NodeTypeFilter
	NodeTypeProject
	NodeTypeAggregate
	NodeTypeJoin
	NodeTypeSort
	NodeTypeDistinct
	NodeTypeWindow
	NodeTypeSlice
	NodeTypeUnion
)

func (t NodeType) String() string {
	switch t {
	case NodeTypeScan:
		return "scan"
	case NodeTypeFilter:
		return "filter"
	case NodeTypeProject:
		return "project"
	case NodeTypeAggregate:
		return "aggregate"
	case NodeTypeJoin:
		return "join"
	case NodeTypeSort:
		return "sort"
	case NodeTypeDistinct:
		return "distinct"
	case NodeTypeWindow:
		return "window"
	case NodeTypeSlice:
		return "slice"
	case NodeTypeUnion:
		return "union"
	}
	return "unknown"
}

type Schema struct {
	Fields []SchemaField
}

type SchemaField struct {
	Name string
	Type octoframe.Type
}

func NewSchema(fields ...SchemaField) Schema {
	return Schema{Fields: fields}
}

func (schema Schema) Names() []string {
	out := make([]string, len(schema.Fields))
	for i := range schema.Fields {
		out[i] = schema.Fields[i].Name
	}
	return out
}

// Index returns the position of the named field, or -1.
func (schema Schema) Index(name string) int {
	for i := range schema.Fields {
		if schema.Fields[i].Name == name {
			return i
		}
	}
	return -1
}

// Field looks up a field by name, failing with an unresolved column error.
func (schema Schema) Field(name string) (SchemaField, error) {
	index := schema.Index(name)
	if index == -1 {
		return SchemaField{}, octoframe.NewUnresolvedColumnError(name, schema.Names())
	}
	return schema.Fields[index], nil
}

func (schema Schema) Equals(other Schema) bool {
	if len(schema.Fields) != len(other.Fields) {
		return false
	}
	for i := range schema.Fields {
		if schema.Fields[i].Name != other.Fields[i].Name || !schema.Fields[i].Type.Equals(other.Fields[i].Type) {
			return false
		}
	}
	return true
}

// Select returns the named fields, in the given order.
func (schema Schema) Select(names []string) (Schema, error) {
	fields := make([]SchemaField, len(names))
	for i, name := range names {
		field, err := schema.Field(name)
		if err != nil {
			return Schema{}, err
		}
		fields[i] = field
	}
	return Schema{Fields: fields}, nil
}

// Validate checks that field names are unique.
func (schema Schema) Validate() error {
	seen := make(map[string]bool, len(schema.Fields))
	for _, field := range schema.Fields {
		if seen[field.Name] {
			return octoframe.NewDuplicateColumnError(field.Name)
		}
		seen[field.Name] = true
	}
	return nil
}

func (schema Schema) ToArrow() *arrow.Schema {
	fields := make([]arrow.Field, len(schema.Fields))
	for i, field := range schema.Fields {
		fields[i] = field.Type.ArrowField(field.Name)
	}
	return arrow.NewSchema(fields, nil)
}

func SchemaFromArrow(schema *arrow.Schema) (Schema, error) {
	fields := make([]SchemaField, len(schema.Fields()))
	for i, field := range schema.Fields() {
		t, err := octoframe.TypeFromArrowField(field)
		if err != nil {
			return Schema{}, err
		}
		fields[i] = SchemaField{Name: field.Name, Type: t}
	}
	return Schema{Fields: fields}, nil
}

// Scan reads a source. Its output is the source filtered by Predicate,
// narrowed to Columns and finally sliced, in that order.
type Scan struct {
	Name   string
	Source Source
	// Columns are the read source columns, in source order. Nil means all columns.
	Columns []string
	// Predicate is over the source's columns, nil if none was pushed down.
	Predicate *Expression
	Slice     *SliceBounds
}

type SliceBounds struct {
	Offset int64
	// Length is negative when unbounded.
	Length int64
}

type Filter struct {
	Source    Node
	Predicate Expression
}

// Project evaluates one expression per output column, named by the node's schema.
type Project struct {
	Source               Node
	Expressions          []Expression
	CommonSubexpressions []Expression
}

// Aggregate outputs the keys followed by the aggregates. Every aggregate expression is an aggregate function call.
type Aggregate struct {
	Source               Node
	Keys                 []Expression
	Aggregates           []Expression
	CommonSubexpressions []Expression
}

type JoinKind int

const (
	JoinKindInner JoinKind = iota
	JoinKindLeft
	JoinKindFull
	JoinKindSemi
	JoinKindAnti
	JoinKindAsof
	JoinKindCross
)

func (kind JoinKind) String() string {
	switch kind {
	case JoinKindInner:
		return "inner"
	case JoinKindLeft:
		return "left"
	case JoinKindFull:
		return "full"
	case JoinKindSemi:
		return "semi"
	case JoinKindAnti:
		return "anti"
	case JoinKindAsof:
		return "asof"
	case JoinKindCross:
		return "cross"
	}
	return "unknown"
}

func JoinKindByName(name string) (JoinKind, bool) {
	for kind := JoinKindInner; kind <= JoinKindCross; kind++ {
		if kind.String() == name {
			return kind, true
		}
	}
	return 0, false
}

type JoinStrategy int

const (
	// JoinStrategyDefault is used until the optimizer picks a strategy.
	JoinStrategyDefault JoinStrategy = iota
	JoinStrategyPartitionedHash
	JoinStrategyBroadcastHash
	JoinStrategySortMerge
	JoinStrategyNestedLoop
	JoinStrategyAsofMerge
)

func (strategy JoinStrategy) String() string {
	switch strategy {
	case JoinStrategyDefault:
		return "default"
	case JoinStrategyPartitionedHash:
		return "partitioned_hash"
	case JoinStrategyBroadcastHash:
		return "broadcast_hash"
	case JoinStrategySortMerge:
		return "sort_merge"
	case JoinStrategyNestedLoop:
		return "nested_loop"
	case JoinStrategyAsofMerge:
		return "asof_merge"
	}
	return "unknown"
}

type JoinSide = nodes.JoinSide

const (
	JoinSideLeft  = nodes.JoinSideLeft
	JoinSideRight = nodes.JoinSideRight
)

// JoinColumn is an output column of a join: a column of one of the sides.
type JoinColumn struct {
	Side JoinSide
	Name string
}

// Join matches rows by equality of the key columns. Asof joins additionally match
// the last right row whose AsofRight value is not greater than the left row's AsofLeft value,
// using the key columns as the "by" columns.
type Join struct {
	Left, Right         Node
	Kind                JoinKind
	LeftKeys, RightKeys []string
	AsofLeft, AsofRight string
	Strategy            JoinStrategy
	BuildSide           JoinSide
	// Output lists where every output column comes from, the output names are in the node's schema.
	Output []JoinColumn
}

type SortKey struct {
	Expression Expression
	Descending bool
	NullsLast  bool
}

type Sort struct {
	Source Node
	Keys   []SortKey
	// Limit keeps only the first Limit rows when positive.
	Limit int64
}

type Distinct struct {
	Source Node
	// Subset is empty when all columns form the key.
	Subset []string
	Keep   nodes.DistinctKeep
}

// Window appends one column per window function to its source's columns.
type Window struct {
	Source               Node
	Expressions          []Expression
	CommonSubexpressions []Expression
}

type Slice struct {
	Source Node
	Offset int64
	// Length is negative when unbounded.
	Length int64
}

type Union struct {
	Sources []Node
}

// Children returns the direct inputs of the node.
func (node *Node) Children() []Node {
	switch node.NodeType {
	case NodeTypeFilter:
		return []Node{node.Filter.Source}
	case NodeTypeProject:
		return []Node{node.Project.Source}
	case NodeTypeAggregate:
		return []Node{node.Aggregate.Source}
	case NodeTypeJoin:
		return []Node{node.Join.Left, node.Join.Right}
	case NodeTypeSort:
		return []Node{node.Sort.Source}
	case NodeTypeDistinct:
		return []Node{node.Distinct.Source}
	case NodeTypeWindow:
		return []Node{node.Window.Source}
	case NodeTypeSlice:
		return []Node{node.Slice.Source}
	case NodeTypeUnion:
		return node.Union.Sources
	}
	return nil
}
