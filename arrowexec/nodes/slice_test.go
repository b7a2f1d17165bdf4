package nodes

import (
	"testing"

	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/stretchr/testify/assert"
)

func numbers(n int) [][]any {
	out := make([][]any, n)
	for i := range out {
		out[i] = []any{int64(i)}
	}
	return out
}

func TestSlice(t *testing.T) {
	schema := int64Schema("a")
	tests := []struct {
		name           string
		offset, length int64
		expected       [][]any
	}{
		{name: "head", offset: 0, length: 3, expected: numbers(3)},
		{name: "across records", offset: 2, length: 4, expected: numbers(6)[2:]},
		{name: "past the end", offset: 8, length: 5, expected: numbers(10)[8:]},
		{name: "unbounded", offset: 7, length: -1, expected: numbers(10)[7:]},
		{name: "empty", offset: 3, length: 0, expected: nil},
		{name: "tail", offset: -3, length: -1, expected: numbers(10)[7:]},
		{name: "tail with length", offset: -4, length: 2, expected: numbers(10)[6:8]},
		{name: "tail longer than input", offset: -20, length: -1, expected: numbers(10)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := &Slice{OutSchema: schema, Offset: tt.offset, Length: tt.length}
			out := runOperator(t, testContext(), node, testInput(t, schema, 3, numbers(10)...))
			assert.Equal(t, tt.expected, out)
		})
	}
}

type countingInput struct {
	input    execution.Input
	produced int
}

func (c *countingInput) Run(ctx execution.Context, produce execution.ProduceFunc) error {
	return c.input.Run(ctx, func(produceCtx execution.ProduceContext, record execution.Record) error {
		c.produced++
		return produce(produceCtx, record)
	})
}

func TestSliceStopsInput(t *testing.T) {
	schema := int64Schema("a")
	input := &countingInput{input: testInput(t, schema, 2, numbers(20)...)}
	node := &Slice{OutSchema: schema, Offset: 1, Length: 2}

	out := runOperator(t, testContext(), node, input)
	assert.Equal(t, numbers(3)[1:], out)
	assert.Equal(t, 2, input.produced)
}
