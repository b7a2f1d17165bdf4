package hashtable

import (
	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"
	"github.com/brentp/intintmap"
	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/arrowexec/helpers"
	"github.com/cube2222/octoframe/batch"
	"github.com/pkg/errors"
	"github.com/twotwotwo/sorts"
	"golang.org/x/sync/errgroup"
)

// JoinTable is the build side of a hash join. It's immutable once built,
// so any number of goroutines may probe it.
type JoinTable struct {
	partitions  []JoinTablePartition
	keyIndices  []int
	schema      *arrow.Schema
	reservation *execution.Reservation
}

type JoinTablePartition struct {
	hashStartIndices *intintmap.Map
	hashes           *array.Uint64
	values           execution.Record
	keys             []arrow.Array
}

// Builder accumulates build side records, reserving memory for each of them.
type Builder struct {
	schema      *arrow.Schema
	keyIndices  []int
	records     []execution.Record
	reservation *execution.Reservation
}

func NewBuilder(ctx execution.Context, schema *arrow.Schema, keyIndices []int) *Builder {
	return &Builder{
		schema:      schema,
		keyIndices:  keyIndices,
		reservation: ctx.Memory.NewReservation(),
	}
}

func (b *Builder) Add(record execution.Record) error {
	if record.NumRows() == 0 {
		return nil
	}
	if err := b.reservation.Grow(batch.ByteSize(record.Record)); err != nil {
		return errors.Wrap(err, "couldn't buffer join build side")
	}
	b.records = append(b.records, record)
	return nil
}

// Close releases the memory held by the builder, if Build hasn't taken it over.
func (b *Builder) Close() {
	b.reservation.Close()
}

// Build partitions the buffered records by key hash into partitionCount partitions, built concurrently.
// The table takes over the builder's memory reservation, which is released by JoinTable.Close.
func (b *Builder) Build(ctx execution.Context, partitionCount int) (*JoinTable, error) {
	if partitionCount < 1 {
		partitionCount = 1
	}
	partitions, err := buildJoinTablePartitions(ctx, b.schema, b.records, b.keyIndices, partitionCount)
	if err != nil {
		return nil, err
	}
	// The partitions hold copies, the copies are accounted for instead of the buffered records.
	var copiedBytes int64
	for _, partition := range partitions {
		copiedBytes += batch.ByteSize(partition.values.Record)
	}
	reservation := ctx.Memory.NewReservation()
	if err := reservation.Grow(copiedBytes); err != nil {
		for _, partition := range partitions {
			partition.release()
		}
		return nil, errors.Wrap(err, "couldn't reserve memory for join hash table")
	}
	b.reservation.Close()
	b.records = nil

	return &JoinTable{
		partitions:  partitions,
		keyIndices:  b.keyIndices,
		schema:      b.schema,
		reservation: reservation,
	}, nil
}

func buildJoinTablePartitions(ctx execution.Context, schema *arrow.Schema, records []execution.Record, keyIndices []int, partitions int) ([]JoinTablePartition, error) {
	var overallRowCount int
	for _, record := range records {
		overallRowCount += int(record.NumRows())
	}

	hashPositionsOrdered := make([][]hashRowPosition, partitions)
	for i := range hashPositionsOrdered {
		hashPositionsOrdered[i] = make([]hashRowPosition, 0, overallRowCount/partitions+1)
	}

	for recordIndex, record := range records {
		keyHasher := helpers.MakeRecordKeyHasher(record, keyIndices)
		numRows := int(record.NumRows())
		for rowIndex := 0; rowIndex < numRows; rowIndex++ {
			hash := keyHasher(uint(rowIndex))
			partition := int(hash % uint64(partitions))
			hashPositionsOrdered[partition] = append(hashPositionsOrdered[partition], hashRowPosition{
				hash:        hash,
				recordIndex: recordIndex,
				rowIndex:    rowIndex,
			})
		}
	}

	joinTablePartitions := make([]JoinTablePartition, partitions)
	g, groupCtx := errgroup.WithContext(ctx.Context)
	g.SetLimit(ctx.Parallelism())
	for part := 0; part < partitions; part++ {
		part := part
		g.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			hashPositionsOrderedPartition := hashPositionsOrdered[part]
			sorts.ByUint64(SortHashPosition(hashPositionsOrderedPartition))

			record := buildRecord(ctx, schema, records, hashPositionsOrderedPartition)
			keys := make([]arrow.Array, len(keyIndices))
			for i, keyIndex := range keyIndices {
				keys[i] = record.Column(keyIndex)
			}
			joinTablePartitions[part] = JoinTablePartition{
				hashStartIndices: buildHashIndex(hashPositionsOrderedPartition),
				hashes:           buildHashesArray(ctx, hashPositionsOrderedPartition),
				values:           execution.Record{Record: record},
				keys:             keys,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, partition := range joinTablePartitions {
			partition.release()
		}
		return nil, err
	}
	return joinTablePartitions, nil
}

func buildHashIndex(hashPositionsOrdered []hashRowPosition) *intintmap.Map {
	if len(hashPositionsOrdered) == 0 {
		return intintmap.New(1, 0.6)
	}
	hashIndex := intintmap.New(len(hashPositionsOrdered)/4+16, 0.6)
	hashIndex.Put(int64(hashPositionsOrdered[0].hash), 0)
	for i := 1; i < len(hashPositionsOrdered); i++ {
		if hashPositionsOrdered[i].hash != hashPositionsOrdered[i-1].hash {
			hashIndex.Put(int64(hashPositionsOrdered[i].hash), int64(i))
		}
	}
	return hashIndex
}

type hashRowPosition struct {
	hash        uint64
	recordIndex int
	rowIndex    int
}

func buildHashesArray(ctx execution.Context, hashPositionsOrdered []hashRowPosition) *array.Uint64 {
	hashesBuilder := array.NewUint64Builder(ctx.Allocator)
	defer hashesBuilder.Release()
	hashesBuilder.Reserve(len(hashPositionsOrdered))
	for _, hashPosition := range hashPositionsOrdered {
		hashesBuilder.UnsafeAppend(hashPosition.hash)
	}
	return hashesBuilder.NewUint64Array()
}

func buildRecord(ctx execution.Context, schema *arrow.Schema, records []execution.Record, hashPositionsOrdered []hashRowPosition) arrow.Record {
	recordBuilder := array.NewRecordBuilder(ctx.Allocator, schema)
	defer recordBuilder.Release()
	recordBuilder.Reserve(len(hashPositionsOrdered))

	for columnIndex := range schema.Fields() {
		columnAppenders := make([]func(rowIndex int), len(records))
		for recordIndex, record := range records {
			columnAppenders[recordIndex] = batch.MakeAppender(recordBuilder.Field(columnIndex), record.Column(columnIndex))
		}
		for _, hashPosition := range hashPositionsOrdered {
			columnAppenders[hashPosition.recordIndex](hashPosition.rowIndex)
		}
	}
	return recordBuilder.NewRecord()
}

func (p JoinTablePartition) release() {
	if p.values.Record != nil {
		p.values.Release()
	}
	if p.hashes != nil {
		p.hashes.Release()
	}
}

type SortHashPosition []hashRowPosition

func (h SortHashPosition) Len() int {
	return len(h)
}

func (h SortHashPosition) Less(i, j int) bool {
	return h[i].hash < h[j].hash
}

func (h SortHashPosition) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h SortHashPosition) Key(i int) uint64 {
	return h[i].hash
}

func (t *JoinTable) PartitionCount() int {
	return len(t.partitions)
}

// Partition returns the build side rows of a partition, grouped by key hash.
func (t *JoinTable) Partition(i int) execution.Record {
	return t.partitions[i].values
}

func (t *JoinTable) Schema() *arrow.Schema {
	return t.schema
}

func (t *JoinTable) RowCount() int {
	var out int
	for _, partition := range t.partitions {
		out += int(partition.values.NumRows())
	}
	return out
}

// Prober finds the build side rows matching the rows of one probe record.
type Prober struct {
	table            *JoinTable
	keys             []arrow.Array
	hasher           func(rowIndex uint) uint64
	equalityCheckers []func(probeRowIndex, tableRowIndex int) bool
}

func (t *JoinTable) NewProber(record execution.Record, probeKeyIndices []int) *Prober {
	if len(probeKeyIndices) != len(t.keyIndices) {
		panic("table key and probe key indices don't have the same length")
	}
	keys := make([]arrow.Array, len(probeKeyIndices))
	for i, keyIndex := range probeKeyIndices {
		keys[i] = record.Column(keyIndex)
	}

	equalityCheckers := make([]func(probeRowIndex, tableRowIndex int) bool, len(t.partitions))
	for partitionIndex := range t.partitions {
		equalityCheckers[partitionIndex] = helpers.MakeRowEqualityChecker(keys, t.partitions[partitionIndex].keys, false)
	}

	return &Prober{
		table:            t,
		keys:             keys,
		hasher:           helpers.MakeRowHasher(keys),
		equalityCheckers: equalityCheckers,
	}
}

// Matches calls fn for every build side row matching the probe row, until fn returns false.
// Rows with a null key never match.
func (p *Prober) Matches(probeRowIndex int, fn func(partitionIndex, tableRowIndex int) bool) {
	if helpers.HasNull(p.keys, probeRowIndex) {
		return
	}
	keyHash := p.hasher(uint(probeRowIndex))
	partitionIndex := int(keyHash % uint64(len(p.table.partitions)))
	partition := &p.table.partitions[partitionIndex]

	firstMatchingHashIndex, ok := partition.hashStartIndices.Get(int64(keyHash))
	if !ok {
		return
	}
	for tableRowIndex := int(firstMatchingHashIndex); tableRowIndex < partition.hashes.Len(); tableRowIndex++ {
		if partition.hashes.Value(tableRowIndex) != keyHash {
			break
		}
		if p.equalityCheckers[partitionIndex](probeRowIndex, tableRowIndex) {
			if !fn(partitionIndex, tableRowIndex) {
				return
			}
		}
	}
}

// HasMatch reports whether any build side row matches the probe row.
func (p *Prober) HasMatch(probeRowIndex int) bool {
	found := false
	p.Matches(probeRowIndex, func(partitionIndex, tableRowIndex int) bool {
		found = true
		return false
	})
	return found
}

// MatchTracker records which build side rows were matched, for outer joins preserving the build side.
// It belongs to a single probing goroutine.
type MatchTracker struct {
	matched [][]bool
}

func (t *JoinTable) NewMatchTracker() *MatchTracker {
	matched := make([][]bool, len(t.partitions))
	for i, partition := range t.partitions {
		matched[i] = make([]bool, partition.values.NumRows())
	}
	return &MatchTracker{matched: matched}
}

func (m *MatchTracker) Mark(partitionIndex, tableRowIndex int) {
	m.matched[partitionIndex][tableRowIndex] = true
}

// Unmatched calls fn for every build side row which was never marked.
func (m *MatchTracker) Unmatched(fn func(partitionIndex, tableRowIndex int) error) error {
	for partitionIndex := range m.matched {
		for tableRowIndex, matched := range m.matched[partitionIndex] {
			if !matched {
				if err := fn(partitionIndex, tableRowIndex); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Close releases the table's arrays and its memory reservation.
func (t *JoinTable) Close() {
	for _, partition := range t.partitions {
		partition.release()
	}
	t.partitions = nil
	t.reservation.Close()
}
