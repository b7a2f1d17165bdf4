package cmd

import (
	"github.com/spf13/cobra"

	"github.com/cube2222/octoframe/frame"
)

var (
	headRows    int64
	headTail    bool
	headColumns []string
	headWhere   []string
	headSort    []string
	headDesc    bool
)

var headCmd = &cobra.Command{
	Use:   "head <table>",
	Short: "Print the first rows of a table.",
	Example: `octoframe head trips.parquet -n 20
octoframe head people --columns name,age --where city=Warsaw --sort age --desc`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := scanTable(state.catalog, args[0])
		if err != nil {
			return err
		}

		predicate, ok, err := parseFilters(f.Schema(), headWhere)
		if err != nil {
			return err
		}
		if ok {
			if f, err = f.Filter(predicate); err != nil {
				return err
			}
		}
		if len(headSort) > 0 {
			by := make([]frame.Expr, len(headSort))
			for i := range headSort {
				by[i] = frame.Col(headSort[i])
			}
			if f, err = f.Sort(frame.SortOptions{By: by, Descending: []bool{headDesc}}); err != nil {
				return err
			}
		}
		if len(headColumns) > 0 {
			exprs := make([]frame.Expr, len(headColumns))
			for i := range headColumns {
				exprs[i] = frame.Col(headColumns[i])
			}
			if f, err = f.Select(exprs...); err != nil {
				return err
			}
		}
		if headTail {
			f, err = f.Tail(headRows)
		} else {
			f, err = f.Head(headRows)
		}
		if err != nil {
			return err
		}
		return runQuery(cmd, f, nil, false)
	},
}

func init() {
	headCmd.Flags().Int64VarP(&headRows, "rows", "n", 10, "Number of rows to print.")
	headCmd.Flags().BoolVar(&headTail, "tail", false, "Print the last rows instead.")
	headCmd.Flags().StringSliceVar(&headColumns, "columns", nil, "Columns to print.")
	headCmd.Flags().StringArrayVar(&headWhere, "where", nil, "Only print rows where column=value, may be repeated.")
	headCmd.Flags().StringSliceVar(&headSort, "sort", nil, "Columns to sort by before taking rows.")
	headCmd.Flags().BoolVar(&headDesc, "desc", false, "Sort in descending order.")
	rootCmd.AddCommand(headCmd)
}
