package formats

import (
	"github.com/cube2222/octoframe/octoframe"
	"github.com/cube2222/octoframe/plan"
)

// DescribeSchemaSchema is the schema of the rows WriteSchema produces.
var DescribeSchemaSchema = plan.NewSchema(
	plan.SchemaField{Name: "name", Type: octoframe.String},
	plan.SchemaField{Name: "type", Type: octoframe.String},
	plan.SchemaField{Name: "nullable", Type: octoframe.Boolean},
)

// WriteSchema writes one row per field of the schema.
func WriteSchema(format Format, schema plan.Schema) error {
	format.SetSchema(DescribeSchemaSchema)
	for _, field := range schema.Fields {
		if err := format.Write([]any{field.Name, field.Type.WithNullable(false).String(), field.Type.Nullable}); err != nil {
			return err
		}
	}
	return format.Close()
}
