package formats

import (
	"io"

	"github.com/olekukonko/tablewriter"

	"github.com/cube2222/octoframe/plan"
)

type TableFormatter struct {
	table *tablewriter.Table
}

func NewTableFormatter(w io.Writer) *TableFormatter {
	table := tablewriter.NewWriter(w)
	table.SetColWidth(64)
	table.SetRowLine(false)

	return &TableFormatter{
		table: table,
	}
}

func (t *TableFormatter) SetSchema(schema plan.Schema) {
	t.table.SetHeader(schema.Names())
	t.table.SetAutoFormatHeaders(false)
}

func (t *TableFormatter) Write(values []any) error {
	row := make([]string, len(values))
	for i := range values {
		row[i] = FormatValue(values[i])
	}
	t.table.Append(row)
	return nil
}

func (t *TableFormatter) Close() error {
	t.table.Render()
	return nil
}
