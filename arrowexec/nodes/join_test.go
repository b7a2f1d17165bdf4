package nodes

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/octoframe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sortedRows orders rows by their printed form, for operators which don't guarantee an output order.
func sortedRows(rows [][]any) [][]any {
	sort.SliceStable(rows, func(i, j int) bool {
		return fmt.Sprint(rows[i]) < fmt.Sprint(rows[j])
	})
	return rows
}

var (
	joinLeftSchema    = int64Schema("k", "lv")
	joinRightSchema   = int64Schema("k", "rv")
	joinOutputColumns = []JoinColumn{{Side: JoinSideLeft, Index: 0}, {Side: JoinSideLeft, Index: 1}, {Side: JoinSideRight, Index: 1}}
	joinOutSchema     = int64Schema("k", "lv", "rv")
)

func joinInputs(t *testing.T) (left, right *TestNode) {
	left = testInput(t, joinLeftSchema, 2,
		[]any{int64(1), int64(10)},
		[]any{int64(2), int64(20)},
		[]any{nil, int64(30)},
		[]any{int64(4), int64(40)},
		[]any{int64(1), int64(50)},
	)
	right = testInput(t, joinRightSchema, 3,
		[]any{int64(1), int64(100)},
		[]any{int64(1), int64(101)},
		[]any{int64(4), int64(400)},
		[]any{int64(5), int64(500)},
		[]any{nil, int64(600)},
	)
	return left, right
}

func TestHashJoin(t *testing.T) {
	tests := []struct {
		kind      JoinKind
		buildSide JoinSide
		output    []JoinColumn
		expected  [][]any
	}{
		{
			kind:      JoinKindInner,
			buildSide: JoinSideRight,
			output:    joinOutputColumns,
			expected: [][]any{
				{int64(1), int64(10), int64(100)},
				{int64(1), int64(10), int64(101)},
				{int64(1), int64(50), int64(100)},
				{int64(1), int64(50), int64(101)},
				{int64(4), int64(40), int64(400)},
			},
		},
		{
			kind:      JoinKindInner,
			buildSide: JoinSideLeft,
			output:    joinOutputColumns,
			expected: [][]any{
				{int64(1), int64(10), int64(100)},
				{int64(1), int64(10), int64(101)},
				{int64(1), int64(50), int64(100)},
				{int64(1), int64(50), int64(101)},
				{int64(4), int64(40), int64(400)},
			},
		},
		{
			kind:      JoinKindLeft,
			buildSide: JoinSideRight,
			output:    joinOutputColumns,
			expected: [][]any{
				{int64(1), int64(10), int64(100)},
				{int64(1), int64(10), int64(101)},
				{int64(1), int64(50), int64(100)},
				{int64(1), int64(50), int64(101)},
				{int64(2), int64(20), nil},
				{int64(4), int64(40), int64(400)},
				{nil, int64(30), nil},
			},
		},
		{
			kind:      JoinKindFull,
			buildSide: JoinSideRight,
			output:    joinOutputColumns,
			expected: [][]any{
				{int64(1), int64(10), int64(100)},
				{int64(1), int64(10), int64(101)},
				{int64(1), int64(50), int64(100)},
				{int64(1), int64(50), int64(101)},
				{int64(2), int64(20), nil},
				{int64(4), int64(40), int64(400)},
				{nil, int64(30), nil},
				{nil, nil, int64(500)},
				{nil, nil, int64(600)},
			},
		},
		{
			kind:      JoinKindSemi,
			buildSide: JoinSideRight,
			output:    joinOutputColumns[:2],
			expected: [][]any{
				{int64(1), int64(10)},
				{int64(1), int64(50)},
				{int64(4), int64(40)},
			},
		},
		{
			kind:      JoinKindAnti,
			buildSide: JoinSideRight,
			output:    joinOutputColumns[:2],
			expected: [][]any{
				{int64(2), int64(20)},
				{nil, int64(30)},
			},
		},
	}
	for _, tt := range tests {
		for _, partitions := range []int{1, 3} {
			t.Run(fmt.Sprintf("%s build %d partitions %d", tt.kind, tt.buildSide, partitions), func(t *testing.T) {
				left, right := joinInputs(t)
				node := &HashJoin{
					OutSchema:  int64Schema([]string{"k", "lv", "rv"}[:len(tt.output)]...),
					Kind:       tt.kind,
					LeftKeys:   []int{0},
					RightKeys:  []int{0},
					BuildSide:  tt.buildSide,
					Partitions: partitions,
					Output:     tt.output,
				}
				out := runOperator(t, testContext(), node, left, right)
				assert.Equal(t, tt.expected, sortedRows(out))
			})
		}
	}
}

func TestHashJoinPreservesProbeOrder(t *testing.T) {
	left, right := joinInputs(t)
	node := &HashJoin{
		OutSchema:  int64Schema("k", "lv"),
		Kind:       JoinKindSemi,
		LeftKeys:   []int{0},
		RightKeys:  []int{0},
		BuildSide:  JoinSideRight,
		Partitions: 2,
		Output:     joinOutputColumns[:2],
	}
	out := runOperator(t, testContext(), node, left, right)
	assert.Equal(t, [][]any{
		{int64(1), int64(10)},
		{int64(4), int64(40)},
		{int64(1), int64(50)},
	}, out)
}

func TestHashJoinEmptyBuildSide(t *testing.T) {
	left, _ := joinInputs(t)
	node := &HashJoin{
		OutSchema:  joinOutSchema,
		Kind:       JoinKindLeft,
		LeftKeys:   []int{0},
		RightKeys:  []int{0},
		BuildSide:  JoinSideRight,
		Partitions: 2,
		Output:     joinOutputColumns,
	}
	out := runOperator(t, testContext(), node, left, &TestNode{})
	assert.Len(t, out, 5)
	for _, row := range out {
		assert.Nil(t, row[2])
	}
}

func TestHashJoinRejectsLeftBuildForOuterJoins(t *testing.T) {
	left, right := joinInputs(t)
	node := &HashJoin{
		OutSchema: joinOutSchema,
		Kind:      JoinKindLeft,
		LeftKeys:  []int{0},
		RightKeys: []int{0},
		BuildSide: JoinSideLeft,
		Output:    joinOutputColumns,
	}
	err := node.Run(testContext(), []execution.Input{left, right}, func(produceCtx execution.ProduceContext, record execution.Record) error {
		return nil
	})
	assert.Error(t, err)
}

func TestHashJoinBuildFailure(t *testing.T) {
	left, right := joinInputs(t)
	ctx := testContext()
	ctx.Memory = execution.NewMemoryTracker(1)
	node := &HashJoin{
		OutSchema:  joinOutSchema,
		Kind:       JoinKindInner,
		LeftKeys:   []int{0},
		RightKeys:  []int{0},
		BuildSide:  JoinSideRight,
		Partitions: 2,
		Output:     joinOutputColumns,
	}
	produced := 0
	err := node.Run(ctx, []execution.Input{left, right}, func(produceCtx execution.ProduceContext, record execution.Record) error {
		produced++
		return nil
	})
	assert.ErrorIs(t, err, octoframe.ErrResourceExhausted)
	assert.Equal(t, 0, produced)
	assert.Equal(t, int64(0), ctx.Memory.InUse())
}

func TestHashJoinCancellationReleasesMemory(t *testing.T) {
	left, right := joinInputs(t)
	ctx := testContext()
	ctx.Memory = execution.NewMemoryTracker(0)
	cancelCtx, cancel := context.WithCancel(ctx.Context)
	ctx = ctx.WithContext(cancelCtx)
	node := &HashJoin{
		OutSchema:  joinOutSchema,
		Kind:       JoinKindInner,
		LeftKeys:   []int{0},
		RightKeys:  []int{0},
		BuildSide:  JoinSideRight,
		Partitions: 2,
		Output:     joinOutputColumns,
	}
	cancelledInput := &cancellingInput{input: left, cancel: cancel}
	err := node.Run(ctx, []execution.Input{cancelledInput, right}, func(produceCtx execution.ProduceContext, record execution.Record) error {
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(0), ctx.Memory.InUse())
	assert.Greater(t, ctx.Memory.Peak(), int64(0))
}

// cancellingInput cancels the query once it's asked for records.
type cancellingInput struct {
	input  execution.Input
	cancel context.CancelFunc
}

func (c *cancellingInput) Run(ctx execution.Context, produce execution.ProduceFunc) error {
	c.cancel()
	return c.input.Run(ctx, func(produceCtx execution.ProduceContext, record execution.Record) error {
		if err := produceCtx.Context.Context.Err(); err != nil {
			return err
		}
		return produce(produceCtx, record)
	})
}

func TestSortMergeJoin(t *testing.T) {
	left := testInput(t, joinLeftSchema, 2,
		[]any{nil, int64(5)},
		[]any{int64(1), int64(10)},
		[]any{int64(1), int64(50)},
		[]any{int64(2), int64(20)},
		[]any{int64(4), int64(40)},
	)
	right := testInput(t, joinRightSchema, 3,
		[]any{nil, int64(600)},
		[]any{int64(1), int64(100)},
		[]any{int64(1), int64(101)},
		[]any{int64(4), int64(400)},
		[]any{int64(5), int64(500)},
	)
	node := &SortMergeJoin{
		OutSchema:   joinOutSchema,
		LeftSchema:  joinLeftSchema,
		RightSchema: joinRightSchema,
		LeftKeys:    []int{0},
		RightKeys:   []int{0},
		Output:      joinOutputColumns,
	}
	out := runOperator(t, testContext(), node, left, right)
	assert.Equal(t, [][]any{
		{int64(1), int64(10), int64(100)},
		{int64(1), int64(10), int64(101)},
		{int64(1), int64(50), int64(100)},
		{int64(1), int64(50), int64(101)},
		{int64(4), int64(40), int64(400)},
	}, out)
}

func TestNestedLoopJoin(t *testing.T) {
	left := testInput(t, int64Schema("a"), 1, []any{int64(1)}, []any{int64(2)})
	right := testInput(t, int64Schema("b"), 2, []any{int64(10)}, []any{int64(20)}, []any{int64(30)})
	node := &NestedLoopJoin{
		OutSchema:   int64Schema("a", "b"),
		RightSchema: int64Schema("b"),
		Output:      []JoinColumn{{Side: JoinSideLeft, Index: 0}, {Side: JoinSideRight, Index: 0}},
	}
	out := runOperator(t, testContext(), node, left, right)
	assert.Equal(t, [][]any{
		{int64(1), int64(10)},
		{int64(1), int64(20)},
		{int64(1), int64(30)},
		{int64(2), int64(10)},
		{int64(2), int64(20)},
		{int64(2), int64(30)},
	}, out)

	out = runOperator(t, testContext(), node, left, &TestNode{})
	assert.Empty(t, out)
}

func TestAsofJoin(t *testing.T) {
	leftSchema := int64Schema("by", "time")
	rightSchema := int64Schema("by", "time", "value")
	left := testInput(t, leftSchema, 2,
		[]any{int64(1), int64(5)},
		[]any{int64(1), int64(1)},
		[]any{int64(2), int64(10)},
		[]any{int64(3), int64(10)},
		[]any{int64(1), nil},
		[]any{int64(1), int64(7)},
	)
	right := testInput(t, rightSchema, 2,
		[]any{int64(1), int64(6), int64(106)},
		[]any{int64(1), int64(2), int64(102)},
		[]any{int64(2), int64(10), int64(210)},
		[]any{int64(1), int64(5), int64(105)},
	)
	node := &AsofJoin{
		OutSchema:   int64Schema("by", "time", "value"),
		RightSchema: rightSchema,
		LeftOn:      1,
		RightOn:     1,
		LeftBy:      []int{0},
		RightBy:     []int{0},
		Output:      []JoinColumn{{Side: JoinSideLeft, Index: 0}, {Side: JoinSideLeft, Index: 1}, {Side: JoinSideRight, Index: 2}},
	}
	out := runOperator(t, testContext(), node, left, right)
	require.Len(t, out, 6)
	assert.Equal(t, [][]any{
		{int64(1), int64(5), int64(105)},
		{int64(1), int64(1), nil},
		{int64(2), int64(10), int64(210)},
		{int64(3), int64(10), nil},
		{int64(1), nil, nil},
		{int64(1), int64(7), int64(106)},
	}, out)
}
