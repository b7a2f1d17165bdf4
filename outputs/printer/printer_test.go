package printer

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cube2222/octoframe/datasources/memory"
	"github.com/cube2222/octoframe/engine"
	"github.com/cube2222/octoframe/frame"
	"github.com/cube2222/octoframe/octoframe"
	"github.com/cube2222/octoframe/outputs/formats"
	"github.com/cube2222/octoframe/plan"
)

func run(t *testing.T, mode engine.Mode, options Options) string {
	schema := plan.NewSchema(
		plan.SchemaField{Name: "name", Type: octoframe.String},
		plan.SchemaField{Name: "score", Type: octoframe.Int64.WithNullable(true)},
	)
	source, err := memory.FromRows(schema,
		[]any{"bob", 3},
		[]any{"ann", nil},
		[]any{"cid", 7},
		[]any{"dan", 3},
	)
	require.NoError(t, err)
	f, err := frame.Scan(plan.NewCatalog(map[string]plan.Source{"scores": source}), "scores")
	require.NoError(t, err)

	e, err := engine.New(engine.DefaultOptions())
	require.NoError(t, err)
	output, err := e.Execute(context.Background(), f.Plan(), mode)
	require.NoError(t, err)

	var buf bytes.Buffer
	printer, err := NewOutputPrinter(&buf, f.Schema(), options)
	require.NoError(t, err)
	require.NoError(t, printer.Run(context.Background(), output))
	return buf.String()
}

func csvFormat(w io.Writer) formats.Format { return formats.NewCSVFormatter(w) }

func TestOutputPrinter(t *testing.T) {
	tests := []struct {
		name    string
		options Options
		want    string
	}{
		{
			name:    "arrival order",
			options: Options{Format: csvFormat},
			want:    "name,score\nbob,3\nann,\ncid,7\ndan,3\n",
		},
		{
			name:    "ordered",
			options: Options{Format: csvFormat, OrderBy: []string{"score"}},
			want:    "name,score\nann,\nbob,3\ndan,3\ncid,7\n",
		},
		{
			name:    "descending with limit",
			options: Options{Format: csvFormat, OrderBy: []string{"score", "name"}, Descending: true, Limit: 2},
			want:    "name,score\ncid,7\ndan,3\n",
		},
	}
	for _, tt := range tests {
		for _, mode := range []engine.Mode{engine.ModeMaterialized, engine.ModeStreaming} {
			t.Run(tt.name+"/"+mode.String(), func(t *testing.T) {
				assert.Equal(t, tt.want, run(t, mode, tt.options))
			})
		}
	}
}

func TestOutputPrinterUnknownColumn(t *testing.T) {
	_, err := NewOutputPrinter(io.Discard, plan.NewSchema(), Options{OrderBy: []string{"nope"}})
	assert.Error(t, err)
}

func TestCompareValues(t *testing.T) {
	assert.Equal(t, -1, compareValues(nil, int64(1)))
	assert.Equal(t, 0, compareValues(nil, nil))
	assert.Equal(t, 1, compareValues(2.5, 1.5))
	assert.Equal(t, -1, compareValues("a", "b"))
	assert.Equal(t, -1, compareValues(false, true))
	assert.Equal(t, 1, compareValues(time.Unix(10, 0), time.Unix(5, 0)))
}
