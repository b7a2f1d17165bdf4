package formats

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cube2222/octoframe/octoframe"
	"github.com/cube2222/octoframe/plan"
)

var testSchema = plan.NewSchema(
	plan.SchemaField{Name: "id", Type: octoframe.Int64},
	plan.SchemaField{Name: "name", Type: octoframe.String.WithNullable(true)},
	plan.SchemaField{Name: "at", Type: octoframe.Datetime},
)

func writeAll(t *testing.T, format Format, rows ...[]any) {
	format.SetSchema(testSchema)
	for _, row := range rows {
		require.NoError(t, format.Write(row))
	}
	require.NoError(t, format.Close())
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	writeAll(t, NewJSONFormatter(&buf),
		[]any{int64(1), "ann", time.Date(2022, 1, 2, 3, 4, 5, 0, time.UTC)},
		[]any{int64(2), nil, time.Date(2022, 1, 2, 3, 4, 5, 0, time.UTC)},
	)
	assert.Equal(t, `{"id":1,"name":"ann","at":"2022-01-02T03:04:05Z"}`+"\n"+`{"id":2,"name":null,"at":"2022-01-02T03:04:05Z"}`+"\n", buf.String())
}

func TestTableFormatter(t *testing.T) {
	var buf bytes.Buffer
	writeAll(t, NewTableFormatter(&buf), []any{int64(1), nil, time.Date(2022, 1, 2, 3, 4, 5, 0, time.UTC)})
	assert.Contains(t, buf.String(), " id ")
	assert.Contains(t, buf.String(), " name ")
	assert.Contains(t, buf.String(), "<null>")
	assert.Contains(t, buf.String(), "2022-01-02T03:04:05Z")
}

func TestWriteSchema(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteSchema(NewCSVFormatter(&buf), testSchema))
	assert.Equal(t, "name,type,nullable\nid,Int64,false\nname,String,true\nat,Datetime,false\n", buf.String())
}

func TestNew(t *testing.T) {
	_, err := New("xml")
	assert.Error(t, err)
	format, err := New("csv")
	require.NoError(t, err)
	assert.IsType(t, &CSVFormatter{}, format(&bytes.Buffer{}))
}
