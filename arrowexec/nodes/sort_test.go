package nodes

import (
	"math/rand"
	"os"
	"sort"
	"testing"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sortInput(t *testing.T, recordSize int) *TestNode {
	return testInput(t, int64Schema("a", "b"), recordSize,
		[]any{int64(2), int64(1)},
		[]any{nil, int64(2)},
		[]any{int64(1), int64(3)},
		[]any{int64(2), int64(4)},
		[]any{int64(3), nil},
		[]any{int64(1), int64(6)},
		[]any{nil, int64(7)},
	)
}

func TestSort(t *testing.T) {
	tests := []struct {
		name     string
		keys     []SortKey
		limit    int64
		expected [][]any
	}{
		{
			name: "ascending is stable with nulls first",
			keys: []SortKey{{Expr: execution.NewColumnReference(0)}},
			expected: [][]any{
				{nil, int64(2)},
				{nil, int64(7)},
				{int64(1), int64(3)},
				{int64(1), int64(6)},
				{int64(2), int64(1)},
				{int64(2), int64(4)},
				{int64(3), nil},
			},
		},
		{
			name: "descending nulls last",
			keys: []SortKey{{Expr: execution.NewColumnReference(0), Descending: true, NullsLast: true}},
			expected: [][]any{
				{int64(3), nil},
				{int64(2), int64(1)},
				{int64(2), int64(4)},
				{int64(1), int64(3)},
				{int64(1), int64(6)},
				{nil, int64(2)},
				{nil, int64(7)},
			},
		},
		{
			name: "multiple keys",
			keys: []SortKey{
				{Expr: execution.NewColumnReference(0), NullsLast: true},
				{Expr: execution.NewColumnReference(1), Descending: true},
			},
			expected: [][]any{
				{int64(1), int64(6)},
				{int64(1), int64(3)},
				{int64(2), int64(4)},
				{int64(2), int64(1)},
				{int64(3), nil},
				{nil, int64(7)},
				{nil, int64(2)},
			},
		},
		{
			name:  "top k",
			keys:  []SortKey{{Expr: execution.NewColumnReference(1), Descending: true, NullsLast: true}},
			limit: 3,
			expected: [][]any{
				{nil, int64(7)},
				{int64(1), int64(6)},
				{int64(2), int64(4)},
			},
		},
	}
	for _, tt := range tests {
		for _, recordSize := range []int{1, 3, 7} {
			t.Run(tt.name, func(t *testing.T) {
				node := &Sort{OutSchema: int64Schema("a", "b"), Keys: tt.keys, Limit: tt.limit}
				out := runOperator(t, testContext(), node, sortInput(t, recordSize))
				assert.Equal(t, tt.expected, out)
			})
		}
	}
}

func TestSortTopKCompacts(t *testing.T) {
	rows := make([][]any, 200)
	for i := range rows {
		rows[i] = []any{int64(rand.Intn(50))}
	}
	ctx := testContext()
	ctx.Memory = execution.NewMemoryTracker(0)
	node := &Sort{OutSchema: int64Schema("a"), Keys: []SortKey{{Expr: execution.NewColumnReference(0)}}, Limit: 5}
	out := runOperator(t, ctx, node, testInput(t, int64Schema("a"), 10, rows...))

	values := make([]int64, len(rows))
	for i := range rows {
		values[i] = rows[i][0].(int64)
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	require.Len(t, out, 5)
	for i := range out {
		assert.Equal(t, values[i], out[i][0])
	}
	assert.Equal(t, int64(0), ctx.Memory.InUse())
}

func TestSortSpills(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "a", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "position", Type: arrow.PrimitiveTypes.Int64},
	}, nil)
	rows := make([][]any, 100)
	for i := range rows {
		var value any = int64(rand.Intn(20))
		if i%17 == 0 {
			value = nil
		}
		rows[i] = []any{value, int64(i)}
	}

	spillDirectory := t.TempDir()
	ctx := testContext()
	ctx.Settings.SortMemoryBudget = 64
	ctx.Settings.SpillDirectory = spillDirectory
	ctx.Memory = execution.NewMemoryTracker(0)
	node := &Sort{OutSchema: schema, Keys: []SortKey{{Expr: execution.NewColumnReference(0), Descending: true, NullsLast: true}}}
	out := runOperator(t, ctx, node, testInput(t, schema, 8, rows...))

	expected := append([][]any{}, rows...)
	sort.SliceStable(expected, func(i, j int) bool {
		a, b := expected[i][0], expected[j][0]
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		}
		return a.(int64) > b.(int64)
	})
	assert.Equal(t, expected, out)

	files, err := os.ReadDir(spillDirectory)
	require.NoError(t, err)
	assert.Empty(t, files, "spill files are removed")
	assert.Equal(t, int64(0), ctx.Memory.InUse())
}
