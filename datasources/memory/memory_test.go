package memory

import (
	"context"
	"io"
	"testing"

	"github.com/apache/arrow/go/v13/arrow"
	arrowmemory "github.com/apache/arrow/go/v13/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/batch"
	"github.com/cube2222/octoframe/octoframe"
	"github.com/cube2222/octoframe/plan"
)

var testSchema = plan.NewSchema(
	plan.SchemaField{Name: "id", Type: octoframe.Int64},
	plan.SchemaField{Name: "name", Type: octoframe.String},
)

// newTestSource splits six rows into batches of two.
func newTestSource(t *testing.T) *Source {
	names := []string{"a", "b", "c", "d", "e", "f"}
	var records []arrow.Record
	for i := 0; i < len(names); i += 2 {
		record, err := batch.FromRows(arrowmemory.DefaultAllocator, testSchema.ToArrow(), [][]any{
			{i, names[i]},
			{i + 1, names[i+1]},
		})
		require.NoError(t, err)
		records = append(records, record)
	}
	return NewSource(testSchema, records)
}

func readAll(t *testing.T, ctx execution.Context, reader execution.RecordReader) [][]any {
	defer reader.Close()
	var out [][]any
	for {
		record, err := reader.Next(ctx)
		if err == io.EOF {
			return out
		}
		require.NoError(t, err)
		out = append(out, batch.Rows(record)...)
	}
}

func TestOpen(t *testing.T) {
	source := newTestSource(t)
	ctx := execution.NewContext(context.Background())

	tests := []struct {
		name    string
		options plan.ScanOptions
		want    [][]any
	}{
		{
			name:    "all",
			options: plan.ScanOptions{},
			want:    [][]any{{int64(0), "a"}, {int64(1), "b"}, {int64(2), "c"}, {int64(3), "d"}, {int64(4), "e"}, {int64(5), "f"}},
		},
		{
			name:    "projection",
			options: plan.ScanOptions{Columns: []string{"name"}, Slice: &plan.SliceBounds{Offset: 1, Length: 3}},
			want:    [][]any{{"b"}, {"c"}, {"d"}},
		},
		{
			name:    "tail",
			options: plan.ScanOptions{Columns: []string{"id"}, Slice: &plan.SliceBounds{Offset: -2, Length: -1}},
			want:    [][]any{{int64(4)}, {int64(5)}},
		},
		{
			name:    "empty slice",
			options: plan.ScanOptions{Slice: &plan.SliceBounds{Offset: 2, Length: 0}},
			want:    nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader, err := source.Open(ctx, tt.options)
			require.NoError(t, err)
			assert.Equal(t, tt.want, readAll(t, ctx, reader))
		})
	}

	_, err := source.Open(ctx, plan.ScanOptions{Columns: []string{"nope"}})
	assert.Error(t, err)
}

func TestCapabilities(t *testing.T) {
	source := newTestSource(t)
	assert.Equal(t, plan.Statistics{RowCount: 6, RowCountKnown: true}, source.Statistics())
	assert.True(t, source.Capabilities().PredicatePushdown)

	restricted := source.WithCapabilities(plan.Capabilities{})
	assert.False(t, restricted.Capabilities().PredicatePushdown)
	assert.True(t, source.Capabilities().PredicatePushdown)
}
