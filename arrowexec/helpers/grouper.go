package helpers

import (
	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"
	"github.com/apache/arrow/go/v13/arrow/memory"
	"github.com/brentp/intintmap"
	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/batch"
)

// Grouper assigns dense entry indices to distinct key tuples, in order of first appearance.
// Null keys are grouped together.
type Grouper struct {
	firstEntries *intintmap.Map
	// next chains entries whose keys share a hash, -1 ends a chain.
	next []int64
	keys []keyReference
	// chunks are the key columns of the records which introduced new entries.
	chunks      [][]arrow.Array
	reservation *execution.Reservation
}

type keyReference struct {
	chunk int
	row   int
}

func NewGrouper(reservation *execution.Reservation) *Grouper {
	return &Grouper{
		firstEntries: intintmap.New(1024, 0.6),
		reservation:  reservation,
	}
}

func (g *Grouper) Count() int {
	return len(g.keys)
}

// Assign returns the entry index of every row of the key columns, creating entries for new keys.
func (g *Grouper) Assign(keys []arrow.Array, rows int) ([]uint32, error) {
	out := make([]uint32, rows)
	hasher := MakeRowHasher(keys)
	checkers := make(map[int]func(leftRowIndex, rightRowIndex int) bool)
	ownChunk := -1

	for rowIndex := 0; rowIndex < rows; rowIndex++ {
		hash := int64(hasher(uint(rowIndex)))
		entryIndex, ok := g.firstEntries.Get(hash)
		last := int64(-1)
		found := false
		for ok && entryIndex != -1 {
			ref := g.keys[entryIndex]
			checker, cached := checkers[ref.chunk]
			if !cached {
				checker = MakeRowEqualityChecker(keys, g.chunks[ref.chunk], true)
				checkers[ref.chunk] = checker
			}
			if checker(rowIndex, ref.row) {
				found = true
				break
			}
			last = entryIndex
			entryIndex = g.next[entryIndex]
		}
		if found {
			out[rowIndex] = uint32(entryIndex)
			continue
		}

		if ownChunk == -1 {
			if err := g.retain(keys); err != nil {
				return nil, err
			}
			ownChunk = len(g.chunks) - 1
		}
		newEntry := int64(len(g.keys))
		g.keys = append(g.keys, keyReference{chunk: ownChunk, row: rowIndex})
		g.next = append(g.next, -1)
		if last == -1 {
			g.firstEntries.Put(hash, newEntry)
		} else {
			g.next[last] = newEntry
		}
		out[rowIndex] = uint32(newEntry)
	}
	return out, nil
}

func (g *Grouper) retain(keys []arrow.Array) error {
	if g.reservation != nil {
		var size int64
		for _, key := range keys {
			size += batch.ArraySize(key)
		}
		if err := g.reservation.Grow(size); err != nil {
			return err
		}
	}
	for _, key := range keys {
		key.Retain()
	}
	g.chunks = append(g.chunks, keys)
	return nil
}

// KeyColumns builds the key columns of entries [offset, offset+length).
func (g *Grouper) KeyColumns(mem memory.Allocator, types []arrow.DataType, offset, length int) []arrow.Array {
	out := make([]arrow.Array, len(types))
	for column := range types {
		builder := array.NewBuilder(mem, types[column])
		builder.Reserve(length)
		appenders := make([]func(rowIndex int), len(g.chunks))
		for entryIndex := offset; entryIndex < offset+length; entryIndex++ {
			ref := g.keys[entryIndex]
			if appenders[ref.chunk] == nil {
				appenders[ref.chunk] = batch.MakeAppender(builder, g.chunks[ref.chunk][column])
			}
			appenders[ref.chunk](ref.row)
		}
		out[column] = builder.NewArray()
		builder.Release()
	}
	return out
}

// Close releases the retained key columns.
func (g *Grouper) Close() {
	for _, chunk := range g.chunks {
		for _, key := range chunk {
			key.Release()
		}
	}
	g.chunks = nil
	if g.reservation != nil {
		g.reservation.Close()
	}
}
