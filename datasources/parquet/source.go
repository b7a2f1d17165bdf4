// Package parquet is a source over Parquet files.
//
// Only top-level primitive columns are exposed. Nested and repeated columns are skipped.
package parquet

import (
	"io"
	"os"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"
	"github.com/pkg/errors"
	"github.com/segmentio/parquet-go"

	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/octoframe"
	"github.com/cube2222/octoframe/plan"
)

type Source struct {
	path    string
	schema  plan.Schema
	columns []int
	// leaves is the total number of leaf columns in the file.
	leaves int
	rows   int64
}

// NewSource reads the footer of the file to get its schema and row count.
func NewSource(path string) (*Source, error) {
	f, pf, err := openFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var fields []plan.SchemaField
	var columns []int
	var columnIndex int
	for _, field := range pf.Schema().Fields() {
		t, ok := typeOf(field)
		if ok {
			fields = append(fields, plan.SchemaField{
				Name: field.Name(),
				Type: t,
			})
			columns = append(columns, columnIndex)
		}
		columnIndex += leafCount(field)
	}

	return &Source{
		path:    path,
		schema:  plan.NewSchema(fields...),
		columns: columns,
		leaves:  columnIndex,
		rows:    pf.NumRows(),
	}, nil
}

func openFile(path string) (*os.File, *parquet.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, errors.Wrap(err, "couldn't open file")
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, errors.Wrap(err, "couldn't stat file")
	}
	pf, err := parquet.OpenFile(f, stat.Size(), &parquet.FileConfig{
		SkipPageIndex:    true,
		SkipBloomFilters: true,
	})
	if err != nil {
		f.Close()
		return nil, nil, errors.Wrap(err, "couldn't open parquet file")
	}
	return f, pf, nil
}

func typeOf(node parquet.Node) (octoframe.Type, bool) {
	if !node.Leaf() || node.Repeated() {
		return octoframe.Type{}, false
	}
	var out octoframe.Type
	switch node.Type().Kind() {
	case parquet.Boolean:
		out = octoframe.Boolean
	case parquet.Int32, parquet.Int64:
		out = octoframe.Int64
	case parquet.Float, parquet.Double:
		out = octoframe.Float64
	case parquet.ByteArray, parquet.FixedLenByteArray:
		out = octoframe.String
	default:
		return octoframe.Type{}, false
	}
	return out.WithNullable(node.Optional()), true
}

func leafCount(node parquet.Node) int {
	if node.Leaf() {
		return 1
	}
	count := 0
	for _, field := range node.Fields() {
		count += leafCount(field)
	}
	return count
}

func (s *Source) Schema() plan.Schema {
	return s.schema
}

func (s *Source) Capabilities() plan.Capabilities {
	return plan.Capabilities{
		ProjectionPushdown: true,
		SlicePushdown:      true,
	}
}

func (s *Source) Statistics() plan.Statistics {
	return plan.Statistics{RowCount: s.rows, RowCountKnown: true}
}

func (s *Source) Open(ctx execution.Context, options plan.ScanOptions) (execution.RecordReader, error) {
	schema := s.schema
	// positions maps leaf column indices to output columns.
	positions := make([]int, s.leaves)
	for i := range positions {
		positions[i] = -1
	}
	if options.Columns != nil {
		fields := make([]plan.SchemaField, len(options.Columns))
		for i, name := range options.Columns {
			index := s.schema.Index(name)
			if index == -1 {
				return nil, errors.Errorf("parquet source has no column %s", name)
			}
			fields[i] = s.schema.Fields[index]
			positions[s.columns[index]] = i
		}
		schema = plan.NewSchema(fields...)
	} else {
		for i, column := range s.columns {
			positions[column] = i
		}
	}

	f, pf, err := openFile(s.path)
	if err != nil {
		return nil, err
	}

	r := &reader{
		file:      f,
		rows:      parquet.NewReader(pf),
		schema:    schema.ToArrow(),
		positions: positions,
		limit:     -1,
		batchSize: ctx.BatchSize(),
	}
	if options.Slice != nil {
		offset := options.Slice.Offset
		if offset < 0 {
			offset = max(s.rows+offset, 0)
		}
		r.skip = offset
		r.limit = options.Slice.Length
	}
	return r, nil
}

type reader struct {
	file      *os.File
	rows      *parquet.Reader
	schema    *arrow.Schema
	positions []int
	row       parquet.Row
	skip      int64
	// limit is the number of rows still to return, negative if unbounded.
	limit     int64
	batchSize int
	done      bool
}

func (r *reader) Next(ctx execution.Context) (arrow.Record, error) {
	for ; r.skip > 0; r.skip-- {
		if _, err := r.rows.ReadRow(r.row[:0]); err == io.EOF {
			r.done = true
			break
		} else if err != nil {
			return nil, errors.Wrap(err, "couldn't read row")
		}
	}
	if r.done || r.limit == 0 {
		return nil, io.EOF
	}

	builder := array.NewRecordBuilder(ctx.Allocator, r.schema)
	defer builder.Release()
	filled := make([]bool, len(r.schema.Fields()))

	count := 0
	for count < r.batchSize && r.limit != 0 {
		if err := ctx.Context.Err(); err != nil {
			return nil, octoframe.NewCancellationError(ctx.Context)
		}
		row, err := r.rows.ReadRow(r.row[:0])
		if err == io.EOF {
			r.done = true
			break
		} else if err != nil {
			return nil, errors.Wrap(err, "couldn't read row")
		}
		r.row = row

		for i := range filled {
			filled[i] = false
		}
		for _, value := range row {
			position := r.positions[value.Column()]
			if position == -1 || filled[position] {
				continue
			}
			appendValue(builder.Field(position), value)
			filled[position] = true
		}
		for i := range filled {
			if !filled[i] {
				builder.Field(i).AppendNull()
			}
		}

		count++
		if r.limit > 0 {
			r.limit--
		}
	}
	if count == 0 {
		return nil, io.EOF
	}
	return builder.NewRecord(), nil
}

func appendValue(builder array.Builder, value parquet.Value) {
	if value.IsNull() {
		builder.AppendNull()
		return
	}
	switch builder := builder.(type) {
	case *array.BooleanBuilder:
		builder.Append(value.Boolean())
	case *array.Int64Builder:
		if value.Kind() == parquet.Int32 {
			builder.Append(int64(value.Int32()))
		} else {
			builder.Append(value.Int64())
		}
	case *array.Float64Builder:
		if value.Kind() == parquet.Float {
			builder.Append(float64(value.Float()))
		} else {
			builder.Append(value.Double())
		}
	case *array.StringBuilder:
		builder.BinaryBuilder.Append(value.ByteArray())
	}
}

func (r *reader) Close() error {
	return r.file.Close()
}
