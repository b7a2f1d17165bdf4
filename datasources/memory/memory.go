// Package memory is a source over in-memory Arrow records.
package memory

import (
	"io"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"
	"github.com/apache/arrow/go/v13/arrow/memory"
	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/batch"
	"github.com/cube2222/octoframe/plan"
	"github.com/pkg/errors"
)

type Source struct {
	schema       plan.Schema
	records      []arrow.Record
	capabilities plan.Capabilities
	rows         int64
}

// NewSource creates a source supporting all pushdowns.
func NewSource(schema plan.Schema, records []arrow.Record) *Source {
	var rows int64
	for _, record := range records {
		rows += record.NumRows()
	}
	return &Source{
		schema:  schema,
		records: records,
		capabilities: plan.Capabilities{
			PredicatePushdown:  true,
			ProjectionPushdown: true,
			SlicePushdown:      true,
		},
		rows: rows,
	}
}

// FromRows builds a source from Go values, see batch.FromRows.
func FromRows(schema plan.Schema, rows ...[]any) (*Source, error) {
	record, err := batch.FromRows(memory.DefaultAllocator, schema.ToArrow(), rows)
	if err != nil {
		return nil, errors.Wrap(err, "couldn't build record")
	}
	return NewSource(schema, []arrow.Record{record}), nil
}

// WithCapabilities returns a copy of the source declaring only the given pushdowns.
func (s *Source) WithCapabilities(capabilities plan.Capabilities) *Source {
	out := *s
	out.capabilities = capabilities
	return &out
}

func (s *Source) Schema() plan.Schema {
	return s.schema
}

func (s *Source) Capabilities() plan.Capabilities {
	return s.capabilities
}

func (s *Source) Statistics() plan.Statistics {
	return plan.Statistics{RowCount: s.rows, RowCountKnown: true}
}

func (s *Source) Open(ctx execution.Context, options plan.ScanOptions) (execution.RecordReader, error) {
	var columns []int
	if options.Columns != nil {
		columns = make([]int, len(options.Columns))
		for i, name := range options.Columns {
			columns[i] = s.schema.Index(name)
			if columns[i] == -1 {
				return nil, errors.Errorf("memory source has no column %s", name)
			}
		}
	}
	records := s.records
	if options.Predicate != nil || options.Slice != nil && options.Slice.Offset < 0 {
		// Tail slices need the filtered row count up front.
		filtered, err := filterAll(ctx, records, options.Predicate)
		if err != nil {
			return nil, err
		}
		records = filtered
	}
	reader := &reader{
		records: records,
		columns: columns,
		limit:   -1,
	}
	if options.Slice != nil {
		offset := options.Slice.Offset
		if offset < 0 {
			var total int64
			for _, record := range records {
				total += record.NumRows()
			}
			offset = max(total+offset, 0)
		}
		reader.skip = offset
		reader.limit = options.Slice.Length
	}
	return reader, nil
}

func filterAll(ctx execution.Context, records []arrow.Record, predicate execution.Expression) ([]arrow.Record, error) {
	if predicate == nil {
		return records, nil
	}
	out := make([]arrow.Record, 0, len(records))
	for _, record := range records {
		mask, err := predicate.Evaluate(ctx, execution.Record{Record: record})
		if err != nil {
			return nil, errors.Wrap(err, "couldn't evaluate pushed down predicate")
		}
		out = append(out, batch.Filter(ctx.Allocator, record, mask.(*array.Boolean)))
	}
	return out, nil
}

type reader struct {
	records []arrow.Record
	columns []int
	next    int
	// skip is the number of rows still to skip, limit the number of rows still to return, negative if unbounded.
	skip  int64
	limit int64
}

func (r *reader) Next(ctx execution.Context) (arrow.Record, error) {
	for r.next < len(r.records) && r.limit != 0 {
		record := r.records[r.next]
		r.next++
		if r.skip >= record.NumRows() {
			r.skip -= record.NumRows()
			continue
		}
		record = batch.Slice(record, r.skip, r.limit)
		r.skip = 0
		if r.limit > 0 {
			r.limit -= record.NumRows()
		}
		if record.NumRows() == 0 {
			continue
		}
		if r.columns != nil {
			record = batch.Select(record, r.columns)
		}
		return record, nil
	}
	return nil, io.EOF
}

func (r *reader) Close() error {
	return nil
}
