package cmd

import (
	"github.com/spf13/cobra"

	"github.com/cube2222/octoframe/octoframe"
	"github.com/cube2222/octoframe/outputs/formats"
	"github.com/cube2222/octoframe/plan"
)

var tablesSchema = plan.NewSchema(
	plan.SchemaField{Name: "name", Type: octoframe.String},
	plan.SchemaField{Name: "columns", Type: octoframe.Int64},
	plan.SchemaField{Name: "rows", Type: octoframe.Int64.WithNullable(true)},
)

var schemaCmd = &cobra.Command{
	Use:   "schema <table>",
	Short: "Print the columns of a table.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := scanTable(state.catalog, args[0])
		if err != nil {
			return err
		}
		return formats.WriteSchema(state.format(cmd.OutOrStdout()), f.Schema())
	},
}

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "List the configured tables.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format := state.format(cmd.OutOrStdout())
		format.SetSchema(tablesSchema)
		for _, name := range state.catalog.Names() {
			source, _ := state.catalog.Lookup(name)
			var rows any
			if stats := source.Statistics(); stats.RowCountKnown {
				rows = stats.RowCount
			}
			if err := format.Write([]any{name, int64(len(source.Schema().Fields)), rows}); err != nil {
				return err
			}
		}
		return format.Close()
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(tablesCmd)
}
