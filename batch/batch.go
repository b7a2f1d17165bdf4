// Package batch contains helpers for working with Arrow records,
// the unit of data exchanged between operators.
package batch

import (
	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"
	"github.com/apache/arrow/go/v13/arrow/memory"
	"github.com/pkg/errors"
)

// New creates a record, checking that all columns match the schema and share one length.
func New(schema *arrow.Schema, columns []arrow.Array) (arrow.Record, error) {
	if len(columns) != len(schema.Fields()) {
		return nil, errors.Errorf("got %d columns for a schema with %d fields", len(columns), len(schema.Fields()))
	}
	length := -1
	for i, column := range columns {
		if !arrow.TypeEqual(column.DataType(), schema.Field(i).Type) {
			return nil, errors.Errorf("column %s has type %s, schema expects %s", schema.Field(i).Name, column.DataType(), schema.Field(i).Type)
		}
		if length == -1 {
			length = column.Len()
		} else if column.Len() != length {
			return nil, errors.Errorf("column %s has length %d, expected %d", schema.Field(i).Name, column.Len(), length)
		}
	}
	if length == -1 {
		length = 0
	}
	return array.NewRecord(schema, columns, int64(length)), nil
}

// Empty returns a record with no rows.
func Empty(mem memory.Allocator, schema *arrow.Schema) arrow.Record {
	columns := make([]arrow.Array, len(schema.Fields()))
	for i, field := range schema.Fields() {
		builder := array.NewBuilder(mem, field.Type)
		columns[i] = builder.NewArray()
		builder.Release()
	}
	return array.NewRecord(schema, columns, 0)
}

// Concat concatenates records sharing the given schema into one.
func Concat(mem memory.Allocator, schema *arrow.Schema, records []arrow.Record) (arrow.Record, error) {
	nonEmpty := make([]arrow.Record, 0, len(records))
	for _, record := range records {
		if record.NumRows() > 0 {
			nonEmpty = append(nonEmpty, record)
		}
	}
	switch len(nonEmpty) {
	case 0:
		return Empty(mem, schema), nil
	case 1:
		record := nonEmpty[0]
		return array.NewRecord(schema, record.Columns(), record.NumRows()), nil
	}

	var rows int64
	columns := make([]arrow.Array, len(schema.Fields()))
	for i := range columns {
		parts := make([]arrow.Array, len(nonEmpty))
		for j, record := range nonEmpty {
			parts[j] = record.Column(i)
		}
		column, err := array.Concatenate(parts, mem)
		if err != nil {
			return nil, errors.Wrapf(err, "couldn't concatenate column %s", schema.Field(i).Name)
		}
		columns[i] = column
	}
	for _, record := range nonEmpty {
		rows += record.NumRows()
	}
	return array.NewRecord(schema, columns, rows), nil
}

// Slice returns a zero-copy view of length rows starting at offset, clamped to the record.
func Slice(record arrow.Record, offset, length int64) arrow.Record {
	if offset > record.NumRows() {
		offset = record.NumRows()
	}
	end := offset + length
	if length < 0 || end > record.NumRows() {
		end = record.NumRows()
	}
	return record.NewSlice(offset, end)
}

// Select returns a record with the given columns, in the given order.
func Select(record arrow.Record, indices []int) arrow.Record {
	fields := make([]arrow.Field, len(indices))
	columns := make([]arrow.Array, len(indices))
	for i, index := range indices {
		fields[i] = record.Schema().Field(index)
		columns[i] = record.Column(index)
	}
	return array.NewRecord(arrow.NewSchema(fields, nil), columns, record.NumRows())
}

// WithSchema reinterprets a record under a schema with identical column types, e.g. after a rename.
func WithSchema(record arrow.Record, schema *arrow.Schema) arrow.Record {
	return array.NewRecord(schema, record.Columns(), record.NumRows())
}

// ByteSize approximates the memory held by the record's buffers.
func ByteSize(record arrow.Record) int64 {
	var size int64
	for _, column := range record.Columns() {
		size += dataSize(column.Data())
	}
	return size
}

func dataSize(data arrow.ArrayData) int64 {
	var size int64
	for _, buf := range data.Buffers() {
		if buf != nil {
			size += int64(buf.Len())
		}
	}
	for _, child := range data.Children() {
		size += dataSize(child)
	}
	return size
}

// Rebatcher splits large records and coalesces small ones into records of roughly batchSize rows.
type Rebatcher struct {
	mem       memory.Allocator
	schema    *arrow.Schema
	batchSize int64

	pending     []arrow.Record
	pendingRows int64
}

func NewRebatcher(mem memory.Allocator, schema *arrow.Schema, batchSize int) *Rebatcher {
	return &Rebatcher{
		mem:       mem,
		schema:    schema,
		batchSize: int64(batchSize),
	}
}

// Push adds a record and returns any records which are ready.
func (r *Rebatcher) Push(record arrow.Record) ([]arrow.Record, error) {
	var out []arrow.Record
	for offset := int64(0); offset < record.NumRows(); {
		take := r.batchSize - r.pendingRows
		if rest := record.NumRows() - offset; take > rest {
			take = rest
		}
		r.pending = append(r.pending, record.NewSlice(offset, offset+take))
		r.pendingRows += take
		offset += take

		if r.pendingRows >= r.batchSize {
			ready, err := r.Flush()
			if err != nil {
				return nil, err
			}
			out = append(out, ready...)
		}
	}
	return out, nil
}

// Flush returns whatever is pending as one record.
func (r *Rebatcher) Flush() ([]arrow.Record, error) {
	if r.pendingRows == 0 {
		return nil, nil
	}
	record, err := Concat(r.mem, r.schema, r.pending)
	if err != nil {
		return nil, err
	}
	r.pending = r.pending[:0]
	r.pendingRows = 0
	return []arrow.Record{record}, nil
}

// ArraySize approximates the memory held by the array's buffers.
func ArraySize(arr arrow.Array) int64 {
	return dataSize(arr.Data())
}
