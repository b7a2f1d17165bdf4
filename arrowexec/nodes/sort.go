package nodes

import (
	"fmt"
	"os"
	"sort"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"
	"github.com/apache/arrow/go/v13/arrow/ipc"
	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/batch"
	"github.com/google/btree"
)

type SortKey struct {
	Expr       execution.Expression
	Descending bool
	NullsLast  bool
}

// Sort orders its whole input by the keys. Equal rows keep their input order.
// With a Limit it only keeps the first Limit rows (top-k). Otherwise, once the buffered
// input exceeds the sort memory budget, sorted runs are spilled to disk and merged at the end.
type Sort struct {
	OutSchema *arrow.Schema
	Keys      []SortKey
	Limit     int64
}

func (s *Sort) Run(ctx execution.Context, inputs []execution.Input, produce execution.ProduceFunc) error {
	sorter := &sorter{
		ctx:      ctx,
		node:     s,
		sortKeys: make([]batch.SortKey, len(s.Keys)),
	}
	for i, key := range s.Keys {
		sorter.sortKeys[i] = batch.SortKey{Descending: key.Descending, NullsLast: key.NullsLast}
	}
	defer sorter.close()

	if err := inputs[0].Run(ctx, func(produceCtx execution.ProduceContext, record execution.Record) error {
		return sorter.add(produceCtx.Context, record)
	}); err != nil {
		return err
	}

	if len(sorter.runs) == 0 {
		sorted, err := sorter.sortBuffer()
		if err != nil {
			return err
		}
		return sorter.emitSorted(sorted, produce)
	}
	if sorter.bufferedRows > 0 {
		if err := sorter.spill(); err != nil {
			return err
		}
	}
	return sorter.merge(produce)
}

type sorter struct {
	ctx      execution.Context
	node     *Sort
	sortKeys []batch.SortKey

	// Buffered records carry the evaluated sort keys as trailing columns.
	runSchema     *arrow.Schema
	buffered      []arrow.Record
	bufferedRows  int64
	bufferedBytes int64
	reservation   *execution.Reservation

	runs []string
}

func (s *sorter) add(ctx execution.Context, record execution.Record) error {
	if record.NumRows() == 0 {
		return nil
	}
	columns := make([]arrow.Array, 0, int(record.NumCols())+len(s.node.Keys))
	columns = append(columns, record.Columns()...)
	for i, key := range s.node.Keys {
		arr, err := key.Expr.Evaluate(ctx, record)
		if err != nil {
			return fmt.Errorf("couldn't evaluate sort key %d: %w", i, err)
		}
		columns = append(columns, arr)
	}
	if s.runSchema == nil {
		fields := append([]arrow.Field{}, s.node.OutSchema.Fields()...)
		for i := range s.node.Keys {
			fields = append(fields, arrow.Field{Name: fmt.Sprintf("__sort_key_%d", i), Type: columns[len(fields)].DataType(), Nullable: true})
		}
		s.runSchema = arrow.NewSchema(fields, nil)
	}
	runRecord := array.NewRecord(s.runSchema, columns, record.NumRows())

	if s.reservation == nil {
		s.reservation = s.ctx.Memory.NewReservation()
	}
	size := batch.ByteSize(runRecord)
	if err := s.reservation.Grow(size); err != nil {
		return fmt.Errorf("couldn't buffer sort input: %w", err)
	}
	s.buffered = append(s.buffered, runRecord)
	s.bufferedRows += runRecord.NumRows()
	s.bufferedBytes += size

	switch {
	case s.node.Limit > 0:
		if s.bufferedRows >= 2*s.node.Limit && s.bufferedRows >= int64(s.ctx.BatchSize()) {
			return s.compactTopK()
		}
	case s.ctx.Settings.SortMemoryBudget > 0 && s.bufferedBytes > s.ctx.Settings.SortMemoryBudget:
		return s.spill()
	}
	return nil
}

// sortBuffer concatenates and sorts the buffered records, truncating them to the limit.
func (s *sorter) sortBuffer() (arrow.Record, error) {
	if s.runSchema == nil {
		return nil, nil
	}
	all, err := batch.Concat(s.ctx.Allocator, s.runSchema, s.buffered)
	if err != nil {
		return nil, fmt.Errorf("couldn't concatenate sort input: %w", err)
	}
	keys := s.keyColumns(all)
	compare := batch.MakeRowComparator(keys, keys, s.sortKeys)

	indices := make([]int, all.NumRows())
	for i := range indices {
		indices[i] = i
	}
	sort.SliceStable(indices, func(a, b int) bool {
		return compare(indices[a], indices[b]) < 0
	})
	if s.node.Limit > 0 && int64(len(indices)) > s.node.Limit {
		indices = indices[:s.node.Limit]
	}
	return batch.TakeRecord(s.ctx.Allocator, all, indices), nil
}

func (s *sorter) keyColumns(record arrow.Record) []arrow.Array {
	keys := make([]arrow.Array, len(s.node.Keys))
	offset := int(record.NumCols()) - len(s.node.Keys)
	for i := range keys {
		keys[i] = record.Column(offset + i)
	}
	return keys
}

func (s *sorter) resetBuffer() {
	s.buffered = nil
	s.bufferedRows = 0
	s.bufferedBytes = 0
	if s.reservation != nil {
		s.reservation.Close()
	}
}

// compactTopK keeps only the best Limit buffered rows.
func (s *sorter) compactTopK() error {
	sorted, err := s.sortBuffer()
	if err != nil {
		return err
	}
	s.resetBuffer()
	size := batch.ByteSize(sorted)
	if err := s.reservation.Grow(size); err != nil {
		return fmt.Errorf("couldn't buffer sort input: %w", err)
	}
	s.buffered = []arrow.Record{sorted}
	s.bufferedRows = sorted.NumRows()
	s.bufferedBytes = size
	return nil
}

// spill writes the sorted buffer to an Arrow IPC file as one run.
func (s *sorter) spill() error {
	sorted, err := s.sortBuffer()
	if err != nil {
		return err
	}
	f, err := os.CreateTemp(s.ctx.Settings.SpillDirectory, "octoframe-sort-*.arrow")
	if err != nil {
		return fmt.Errorf("couldn't create spill file: %w", err)
	}
	s.runs = append(s.runs, f.Name())

	writer, err := ipc.NewFileWriter(f, ipc.WithSchema(s.runSchema), ipc.WithAllocator(s.ctx.Allocator))
	if err != nil {
		f.Close()
		return fmt.Errorf("couldn't create spill file writer: %w", err)
	}
	batchSize := int64(s.ctx.BatchSize())
	for offset := int64(0); offset < sorted.NumRows(); offset += batchSize {
		if err := writer.Write(batch.Slice(sorted, offset, batchSize)); err != nil {
			writer.Close()
			f.Close()
			return fmt.Errorf("couldn't write spill file: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		f.Close()
		return fmt.Errorf("couldn't finish spill file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("couldn't close spill file: %w", err)
	}

	s.ctx.Log().Debug("spilled sorted run", "file", f.Name(), "rows", sorted.NumRows(), "bytes", s.bufferedBytes)
	s.resetBuffer()
	return nil
}

func (s *sorter) emitSorted(sorted arrow.Record, produce execution.ProduceFunc) error {
	if sorted == nil {
		return nil
	}
	out := batch.Select(sorted, s.outputIndices())
	out = batch.WithSchema(out, s.node.OutSchema)
	batchSize := int64(s.ctx.BatchSize())
	for offset := int64(0); offset < out.NumRows(); offset += batchSize {
		if err := produce(execution.ProduceContext{Context: s.ctx}, execution.Record{Record: batch.Slice(out, offset, batchSize)}); err != nil {
			return err
		}
	}
	return nil
}

func (s *sorter) outputIndices() []int {
	indices := make([]int, len(s.node.OutSchema.Fields()))
	for i := range indices {
		indices[i] = i
	}
	return indices
}

// runCursor points at the current row of one spilled run.
type runCursor struct {
	run    int
	reader *ipc.FileReader
	file   *os.File

	recordIndex int
	record      arrow.Record
	keys        []arrow.Array
	row         int
	appenders   []func(rowIndex int)
}

// advance moves to the next row, returning false when the run is exhausted.
func (c *runCursor) advance(s *sorter, builder *array.RecordBuilder) (bool, error) {
	c.row++
	for c.record == nil || c.row >= int(c.record.NumRows()) {
		if c.record != nil {
			c.record.Release()
			c.record = nil
		}
		if c.recordIndex >= c.reader.NumRecords() {
			return false, nil
		}
		record, err := c.reader.RecordAt(c.recordIndex)
		if err != nil {
			return false, fmt.Errorf("couldn't read spilled run: %w", err)
		}
		c.recordIndex++
		c.record = record
		c.row = 0
		c.keys = s.keyColumns(record)
		c.appenders = make([]func(rowIndex int), builder.Schema().NumFields())
		for i := range c.appenders {
			c.appenders[i] = batch.MakeAppender(builder.Field(i), record.Column(i))
		}
	}
	return true, nil
}

func (c *runCursor) close() {
	if c.record != nil {
		c.record.Release()
	}
	if c.reader != nil {
		c.reader.Close()
	}
	if c.file != nil {
		c.file.Close()
	}
}

// merge does a k-way merge of the spilled runs. Runs are only spilled without a limit.
func (s *sorter) merge(produce execution.ProduceFunc) error {
	builder := array.NewRecordBuilder(s.ctx.Allocator, s.node.OutSchema)
	defer builder.Release()

	heap := btree.NewG[*runCursor](2, func(a, b *runCursor) bool {
		if c := batch.MakeRowComparator(a.keys, b.keys, s.sortKeys)(a.row, b.row); c != 0 {
			return c < 0
		}
		return a.run < b.run
	})

	var cursors []*runCursor
	defer func() {
		for _, cursor := range cursors {
			cursor.close()
		}
	}()
	for i, path := range s.runs {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("couldn't open spilled run: %w", err)
		}
		reader, err := ipc.NewFileReader(f, ipc.WithAllocator(s.ctx.Allocator))
		if err != nil {
			f.Close()
			return fmt.Errorf("couldn't read spilled run: %w", err)
		}
		cursor := &runCursor{run: i, reader: reader, file: f, row: -1}
		cursors = append(cursors, cursor)
		ok, err := cursor.advance(s, builder)
		if err != nil {
			return err
		}
		if ok {
			heap.ReplaceOrInsert(cursor)
		}
	}

	rows := 0
	flush := func() error {
		if rows == 0 {
			return nil
		}
		rows = 0
		return produce(execution.ProduceContext{Context: s.ctx}, execution.Record{Record: builder.NewRecord()})
	}
	for heap.Len() > 0 {
		cursor, _ := heap.DeleteMin()
		for _, appendValue := range cursor.appenders {
			appendValue(cursor.row)
		}
		rows++
		if rows >= s.ctx.BatchSize() {
			if err := s.ctx.Context.Err(); err != nil {
				return err
			}
			if err := flush(); err != nil {
				return err
			}
		}
		ok, err := cursor.advance(s, builder)
		if err != nil {
			return err
		}
		if ok {
			heap.ReplaceOrInsert(cursor)
		}
	}
	return flush()
}

func (s *sorter) close() {
	s.resetBuffer()
	for _, path := range s.runs {
		os.Remove(path)
	}
}
