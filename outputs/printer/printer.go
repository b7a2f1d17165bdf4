// Package printer prints the results of an execution, optionally refreshing them live while a streaming execution runs.
package printer

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/google/btree"
	"github.com/gosuri/uilive"
	"github.com/pkg/errors"

	"github.com/cube2222/octoframe/batch"
	"github.com/cube2222/octoframe/engine"
	"github.com/cube2222/octoframe/outputs/formats"
	"github.com/cube2222/octoframe/plan"
)

const liveRefreshInterval = time.Second / 4

type Options struct {
	// OrderBy names the columns rows are printed in order of. Without it rows keep their arrival order.
	OrderBy    []string
	Descending bool
	// Limit caps the number of printed rows, 0 means no limit.
	Limit  int
	Format func(io.Writer) formats.Format
	// Live redraws the rows received so far while the output is still streaming.
	Live bool
}

type OutputPrinter struct {
	schema     plan.Schema
	keyIndices []int
	descending bool
	limit      int
	format     func(io.Writer) formats.Format
	live       bool
	out        io.Writer
}

func NewOutputPrinter(out io.Writer, schema plan.Schema, options Options) (*OutputPrinter, error) {
	keyIndices := make([]int, len(options.OrderBy))
	for i, name := range options.OrderBy {
		keyIndices[i] = schema.Index(name)
		if keyIndices[i] == -1 {
			return nil, errors.Errorf("can't order output by unknown column %s", name)
		}
	}
	format := options.Format
	if format == nil {
		format = func(w io.Writer) formats.Format { return formats.NewTableFormatter(w) }
	}
	return &OutputPrinter{
		schema:     schema,
		keyIndices: keyIndices,
		descending: options.Descending,
		limit:      options.Limit,
		format:     format,
		live:       options.Live,
		out:        out,
	}, nil
}

type outputItem struct {
	Key      []any
	Sequence int
	Values   []any
}

func (o *OutputPrinter) less(a, b *outputItem) bool {
	for i := range a.Key {
		if c := compareValues(a.Key[i], b.Key[i]); c != 0 {
			if o.descending {
				return c > 0
			}
			return c < 0
		}
	}
	return a.Sequence < b.Sequence
}

// Run prints all rows of the output, draining and closing its stream if it has one.
func (o *OutputPrinter) Run(ctx context.Context, output *engine.Output) error {
	rows := btree.NewG[*outputItem](32, o.less)
	liveWriter := uilive.New()
	liveWriter.Out = o.out
	lastUpdate := time.Now()
	sequence := 0

	add := func(record arrow.Record) {
		for _, values := range batch.Rows(record) {
			key := make([]any, len(o.keyIndices))
			for i, index := range o.keyIndices {
				key[i] = values[index]
			}
			rows.ReplaceOrInsert(&outputItem{Key: key, Sequence: sequence, Values: values})
			sequence++
		}
		record.Release()
	}

	if output.Stream != nil {
		defer output.Stream.Close()
		for {
			record, err := output.Stream.Next(ctx)
			if err == io.EOF {
				break
			} else if err != nil {
				return err
			}
			add(record.Record)

			if o.live && time.Since(lastUpdate) > liveRefreshInterval {
				lastUpdate = time.Now()
				var buf bytes.Buffer
				if err := o.render(&buf, rows); err != nil {
					return err
				}
				fmt.Fprintf(&buf, "rows so far: %d\n", sequence)
				buf.WriteTo(liveWriter)
				liveWriter.Flush()
			}
		}
	} else {
		for _, record := range output.Records {
			add(record)
		}
	}

	if !o.live {
		return o.render(o.out, rows)
	}
	var buf bytes.Buffer
	if err := o.render(&buf, rows); err != nil {
		return err
	}
	buf.WriteTo(liveWriter)
	return liveWriter.Flush()
}

func (o *OutputPrinter) render(w io.Writer, rows *btree.BTreeG[*outputItem]) error {
	format := o.format(w)
	format.SetSchema(o.schema)

	var err error
	i := 0
	rows.Ascend(func(item *outputItem) bool {
		if o.limit > 0 && i == o.limit {
			return false
		}
		i++
		err = format.Write(item.Values)
		return err == nil
	})
	if err != nil {
		return errors.Wrap(err, "couldn't write row")
	}
	return format.Close()
}

// compareValues orders nulls first. Values of different types are compared by their text.
func compareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	switch a := a.(type) {
	case bool:
		if b, ok := b.(bool); ok {
			return cmp.Compare(boolRank(a), boolRank(b))
		}
	case int8:
		return compareAs(a, b)
	case int16:
		return compareAs(a, b)
	case int32:
		return compareAs(a, b)
	case int64:
		return compareAs(a, b)
	case uint8:
		return compareAs(a, b)
	case uint16:
		return compareAs(a, b)
	case uint32:
		return compareAs(a, b)
	case uint64:
		return compareAs(a, b)
	case float32:
		return compareAs(a, b)
	case float64:
		return compareAs(a, b)
	case string:
		return compareAs(a, b)
	case time.Duration:
		return compareAs(a, b)
	case time.Time:
		if b, ok := b.(time.Time); ok {
			return a.Compare(b)
		}
	}
	return cmp.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func compareAs[T cmp.Ordered](a T, b any) int {
	if b, ok := b.(T); ok {
		return cmp.Compare(a, b)
	}
	return cmp.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func boolRank(b bool) int {
	if b {
		return 1
	}
	return 0
}
