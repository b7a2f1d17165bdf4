// Package json is a source over newline-delimited JSON files.
package json

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/pkg/errors"
	"github.com/valyala/fastjson"

	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/octoframe"
	"github.com/cube2222/octoframe/plan"
)

// DefaultSampleSize is the number of lines read to infer a schema.
const DefaultSampleSize = 100

const maxLineSize = 8 * 1024 * 1024

type Source struct {
	path   string
	schema plan.Schema
}

func NewSource(path string, schema plan.Schema) *Source {
	return &Source{
		path:   path,
		schema: schema,
	}
}

// Infer creates a source with a schema inferred from the first sampleSize lines of the file.
// Columns are sorted by name. Keys missing from some of the sampled objects become nullable.
func Infer(path string, sampleSize int) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "couldn't open file")
	}
	defer f.Close()

	fields := make(map[string]octoframe.Type)
	seen := make(map[string]int)

	sc := bufio.NewScanner(bufio.NewReaderSize(f, 4096*1024))
	sc.Buffer(nil, maxLineSize)

	var p fastjson.Parser
	lines := 0
	for lines < sampleSize && sc.Scan() {
		lines++
		v, err := p.ParseBytes(sc.Bytes())
		if err != nil {
			return nil, errors.Wrapf(err, "couldn't parse json on line %d", lines)
		}
		o, err := v.Object()
		if err != nil {
			return nil, fmt.Errorf("expected JSON object, got '%s'", sc.Text())
		}

		o.Visit(func(key []byte, v *fastjson.Value) {
			name := string(key)
			t := typeOf(v)
			seen[name]++
			if prev, ok := fields[name]; ok {
				if sum, ok := octoframe.Supertype(prev, t); ok {
					fields[name] = sum
				} else {
					fields[name] = octoframe.String.WithNullable(prev.Nullable || t.Nullable)
				}
			} else {
				fields[name] = t
			}
		})
	}
	if sc.Err() != nil {
		return nil, errors.Wrap(sc.Err(), "couldn't scan lines")
	}

	schemaFields := make([]plan.SchemaField, 0, len(fields))
	for name, t := range fields {
		if seen[name] < lines {
			t = t.WithNullable(true)
		}
		schemaFields = append(schemaFields, plan.SchemaField{
			Name: name,
			Type: t,
		})
	}
	sort.Slice(schemaFields, func(i, j int) bool {
		return schemaFields[i].Name < schemaFields[j].Name
	})

	return NewSource(path, plan.NewSchema(schemaFields...)), nil
}

func typeOf(value *fastjson.Value) octoframe.Type {
	switch value.Type() {
	case fastjson.TypeNull:
		return octoframe.Null
	case fastjson.TypeTrue, fastjson.TypeFalse:
		return octoframe.Boolean
	case fastjson.TypeNumber:
		if _, err := value.Int64(); err == nil {
			return octoframe.Int64
		}
		return octoframe.Float64
	default:
		// Nested values are kept as their JSON text.
		return octoframe.String
	}
}

func (s *Source) Schema() plan.Schema {
	return s.schema
}

func (s *Source) Capabilities() plan.Capabilities {
	return plan.Capabilities{
		ProjectionPushdown: true,
	}
}

func (s *Source) Statistics() plan.Statistics {
	return plan.Statistics{}
}

func (s *Source) Open(ctx execution.Context, options plan.ScanOptions) (execution.RecordReader, error) {
	schema := s.schema
	if options.Columns != nil {
		fields := make([]plan.SchemaField, len(options.Columns))
		for i, name := range options.Columns {
			field, err := s.schema.Field(name)
			if err != nil {
				return nil, errors.Wrap(err, "couldn't project json source")
			}
			fields[i] = field
		}
		schema = plan.NewSchema(fields...)
	}

	f, err := os.Open(s.path)
	if err != nil {
		return nil, errors.Wrap(err, "couldn't open file")
	}
	sc := bufio.NewScanner(bufio.NewReaderSize(f, 4096*1024))
	sc.Buffer(nil, maxLineSize)

	return &reader{
		file:      f,
		scanner:   sc,
		pool:      newParserPool(ctx.Context, ctx.Allocator, schema.ToArrow(), ctx.Parallelism()),
		inFlight:  ctx.Parallelism(),
		batchSize: ctx.BatchSize(),
	}, nil
}

type reader struct {
	file      *os.File
	scanner   *bufio.Scanner
	pool      *parserPool
	pending   []<-chan jobResult
	inFlight  int
	batchSize int
	scanDone  bool
}

func (r *reader) Next(ctx execution.Context) (arrow.Record, error) {
	for !r.scanDone && len(r.pending) < r.inFlight {
		lines := make([][]byte, 0, r.batchSize)
		for len(lines) < r.batchSize && r.scanner.Scan() {
			line := r.scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			lines = append(lines, append([]byte(nil), line...))
		}
		if len(lines) < r.batchSize {
			if err := r.scanner.Err(); err != nil {
				return nil, errors.Wrap(err, "couldn't read line")
			}
			r.scanDone = true
		}
		if len(lines) > 0 {
			r.pending = append(r.pending, r.pool.submit(lines))
		}
	}
	if len(r.pending) == 0 {
		return nil, io.EOF
	}

	select {
	case result := <-r.pending[0]:
		r.pending = r.pending[1:]
		if result.err != nil {
			return nil, result.err
		}
		return result.record, nil
	case <-ctx.Context.Done():
		return nil, octoframe.NewCancellationError(ctx.Context)
	}
}

func (r *reader) Close() error {
	r.pool.Close()
	for _, pending := range r.pending {
		select {
		case result := <-pending:
			if result.record != nil {
				result.record.Release()
			}
		default:
		}
	}
	r.pending = nil
	return r.file.Close()
}
