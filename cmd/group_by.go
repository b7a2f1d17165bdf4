package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cube2222/octoframe/frame"
)

var (
	groupByKeys  []string
	groupByAggs  []string
	groupByWhere []string
)

var aggregateBuilders = map[string]func(frame.Expr) frame.Expr{
	"count":    frame.Expr.Count,
	"sum":      frame.Expr.Sum,
	"mean":     frame.Expr.Mean,
	"min":      frame.Expr.Min,
	"max":      frame.Expr.Max,
	"first":    frame.Expr.First,
	"last":     frame.Expr.Last,
	"n_unique": frame.Expr.NUnique,
	"std":      frame.Expr.Std,
	"var":      frame.Expr.Var,
}

var groupByCmd = &cobra.Command{
	Use:   "group-by <table>",
	Short: "Aggregate a table by key columns.",
	Example: `octoframe group-by trips.parquet --by driver --agg sum:distance --agg mean:rating
octoframe group-by people --by city --agg count:id --where active=true --streaming`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := scanTable(state.catalog, args[0])
		if err != nil {
			return err
		}
		predicate, ok, err := parseFilters(f.Schema(), groupByWhere)
		if err != nil {
			return err
		}
		if ok {
			if f, err = f.Filter(predicate); err != nil {
				return err
			}
		}

		aggs, err := parseAggregates(groupByAggs)
		if err != nil {
			return err
		}
		keys := make([]frame.Expr, len(groupByKeys))
		for i := range groupByKeys {
			keys[i] = frame.Col(groupByKeys[i])
		}
		f, err = f.GroupBy(keys...).Agg(aggs...)
		if err != nil {
			return err
		}
		return runQuery(cmd, f, groupByKeys, false)
	},
}

// parseAggregates parses function:column arguments. The output columns are named function_column.
func parseAggregates(args []string) ([]frame.Expr, error) {
	out := make([]frame.Expr, len(args))
	for i, arg := range args {
		name, column, ok := strings.Cut(arg, ":")
		if !ok {
			return nil, fmt.Errorf("invalid aggregate %q, expected function:column", arg)
		}
		builder, ok := aggregateBuilders[name]
		if !ok {
			return nil, fmt.Errorf("unknown aggregate function %s", name)
		}
		out[i] = builder(frame.Col(column)).Alias(name + "_" + column)
	}
	return out, nil
}

func init() {
	groupByCmd.Flags().StringSliceVar(&groupByKeys, "by", nil, "Key columns.")
	groupByCmd.Flags().StringArrayVar(&groupByAggs, "agg", nil, "Aggregate as function:column, may be repeated.")
	groupByCmd.Flags().StringArrayVar(&groupByWhere, "where", nil, "Only aggregate rows where column=value, may be repeated.")
	groupByCmd.MarkFlagRequired("agg")
	rootCmd.AddCommand(groupByCmd)
}
