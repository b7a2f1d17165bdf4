package plan

import (
	"sort"

	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/octoframe"
)

// Source is a table the engine can scan.
type Source interface {
	Schema() Schema
	Capabilities() Capabilities
	Statistics() Statistics
	// Open starts reading. Options the source doesn't declare support for are never set.
	Open(ctx execution.Context, options ScanOptions) (execution.RecordReader, error)
}

type Capabilities struct {
	PredicatePushdown  bool
	ProjectionPushdown bool
	SlicePushdown      bool
}

type Statistics struct {
	RowCount int64
	// RowCountKnown is false when the source can't tell its size up front.
	RowCountKnown bool
}

type ScanOptions struct {
	// Columns are the requested columns, in source order. Nil means all columns.
	Columns []string
	// Predicate is evaluated against records with all source columns, nil means none.
	Predicate execution.Expression
	Slice     *SliceBounds
}

// Catalog is a read-only snapshot of named sources.
type Catalog struct {
	sources map[string]Source
}

func NewCatalog(sources map[string]Source) *Catalog {
	snapshot := make(map[string]Source, len(sources))
	for name, source := range sources {
		snapshot[name] = source
	}
	return &Catalog{sources: snapshot}
}

func (catalog *Catalog) Lookup(name string) (Source, error) {
	source, ok := catalog.sources[name]
	if !ok {
		return nil, octoframe.NewInvalidPlanError("unknown table %s, available tables: %v", name, catalog.Names())
	}
	return source, nil
}

func (catalog *Catalog) Names() []string {
	out := make([]string, 0, len(catalog.sources))
	for name := range catalog.sources {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// With returns a new snapshot with an additional source.
func (catalog *Catalog) With(name string, source Source) *Catalog {
	sources := make(map[string]Source, len(catalog.sources)+1)
	for k, v := range catalog.sources {
		sources[k] = v
	}
	sources[name] = source
	return &Catalog{sources: sources}
}

// NewScan creates a scan node reading all columns of the source.
func NewScan(name string, source Source) Node {
	return Node{
		Schema:   source.Schema(),
		NodeType: NodeTypeScan,
		Scan: &Scan{
			Name:   name,
			Source: source,
		},
	}
}
