package nodes

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistinct(t *testing.T) {
	rows := [][]any{
		{int64(1), int64(1)},
		{int64(2), int64(2)},
		{int64(1), int64(3)},
		{nil, int64(4)},
		{int64(3), int64(5)},
		{nil, int64(6)},
		{int64(1), int64(7)},
	}
	tests := []struct {
		keep     DistinctKeep
		subset   []int
		expected [][]any
	}{
		{
			keep:   DistinctKeepFirst,
			subset: []int{0},
			expected: [][]any{
				{int64(1), int64(1)},
				{int64(2), int64(2)},
				{nil, int64(4)},
				{int64(3), int64(5)},
			},
		},
		{
			keep:   DistinctKeepLast,
			subset: []int{0},
			expected: [][]any{
				{int64(2), int64(2)},
				{int64(3), int64(5)},
				{nil, int64(6)},
				{int64(1), int64(7)},
			},
		},
		{
			keep:   DistinctKeepNone,
			subset: []int{0},
			expected: [][]any{
				{int64(2), int64(2)},
				{int64(3), int64(5)},
			},
		},
		{
			keep:     DistinctKeepFirst,
			expected: rows,
		},
	}
	for _, tt := range tests {
		for _, recordSize := range []int{1, 2, 7} {
			t.Run(tt.keep.String(), func(t *testing.T) {
				schema := int64Schema("a", "b")
				node := &Distinct{OutSchema: schema, Subset: tt.subset, Keep: tt.keep}
				out := runOperator(t, testContext(), node, testInput(t, schema, recordSize, rows...))
				assert.Equal(t, tt.expected, out)
			})
		}
	}
}
