package parquet

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/segmentio/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/batch"
	"github.com/cube2222/octoframe/octoframe"
	"github.com/cube2222/octoframe/plan"
)

type trip struct {
	ID       int64   `parquet:"id"`
	Driver   string  `parquet:"driver"`
	Distance float64 `parquet:"distance"`
	Rating   int32   `parquet:"rating"`
	Paid     bool    `parquet:"paid"`
}

func writeTrips(t *testing.T, count int) string {
	path := filepath.Join(t.TempDir(), "trips.parquet")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := parquet.NewWriter(f)
	for i := 0; i < count; i++ {
		require.NoError(t, w.Write(&trip{
			ID:       int64(i),
			Driver:   []string{"ann", "bob", "cid"}[i%3],
			Distance: float64(i) / 2,
			Rating:   int32(i % 5),
			Paid:     i%2 == 0,
		}))
	}
	require.NoError(t, w.Close())
	return path
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
		record.Release()
	}
}

func TestNewSource(t *testing.T) {
	source, err := NewSource(writeTrips(t, 10))
	require.NoError(t, err)

	assert.Equal(t, plan.NewSchema(
		plan.SchemaField{Name: "id", Type: octoframe.Int64},
		plan.SchemaField{Name: "driver", Type: octoframe.String},
		plan.SchemaField{Name: "distance", Type: octoframe.Float64},
		plan.SchemaField{Name: "rating", Type: octoframe.Int64},
		plan.SchemaField{Name: "paid", Type: octoframe.Boolean},
	), source.Schema())
	assert.Equal(t, plan.Statistics{RowCount: 10, RowCountKnown: true}, source.Statistics())
}

func TestOpen(t *testing.T) {
	source, err := NewSource(writeTrips(t, 10))
	require.NoError(t, err)

	ctx := execution.NewContext(context.Background())
	ctx.Settings.BatchSize = 3

	tests := []struct {
		name    string
		options plan.ScanOptions
		want    [][]any
	}{
		{
			name: "projection",
			options: plan.ScanOptions{
				Columns: []string{"rating", "driver"},
				Slice:   &plan.SliceBounds{Offset: 0, Length: 2},
			},
			want: [][]any{{int64(0), "ann"}, {int64(1), "bob"}},
		},
		{
			name: "offset",
			options: plan.ScanOptions{
				Columns: []string{"id"},
				Slice:   &plan.SliceBounds{Offset: 7, Length: -1},
			},
			want: [][]any{{int64(7)}, {int64(8)}, {int64(9)}},
		},
		{
			name: "tail",
			options: plan.ScanOptions{
				Columns: []string{"id", "paid"},
				Slice:   &plan.SliceBounds{Offset: -2, Length: -1},
			},
			want: [][]any{{int64(8), true}, {int64(9), false}},
		},
		{
			name: "past the end",
			options: plan.ScanOptions{
				Slice: &plan.SliceBounds{Offset: 20, Length: 5},
			},
			want: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader, err := source.Open(ctx, tt.options)
			require.NoError(t, err)
			assert.Equal(t, tt.want, readAll(t, ctx, reader))
		})
	}

	reader, err := source.Open(ctx, plan.ScanOptions{})
	require.NoError(t, err)
	rows := readAll(t, ctx, reader)
	require.Len(t, rows, 10)
	assert.Equal(t, []any{int64(5), "cid", 2.5, int64(0), false}, rows[5])
}
