package formats

import (
	"encoding/csv"
	"io"

	"github.com/cube2222/octoframe/plan"
)

type CSVFormatter struct {
	writer *csv.Writer
}

func NewCSVFormatter(w io.Writer) *CSVFormatter {
	return &CSVFormatter{
		writer: csv.NewWriter(w),
	}
}

func (t *CSVFormatter) SetSchema(schema plan.Schema) {
	t.writer.Write(schema.Names())
}

func (t *CSVFormatter) Write(values []any) error {
	row := make([]string, len(values))
	for i := range values {
		if values[i] != nil {
			row[i] = FormatValue(values[i])
		}
	}
	return t.writer.Write(row)
}

func (t *CSVFormatter) Close() error {
	t.writer.Flush()
	return t.writer.Error()
}
