package cmd

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/skratchdot/open-golang/open"
	"github.com/spf13/cobra"

	"github.com/cube2222/octoframe/engine"
	"github.com/cube2222/octoframe/frame"
	"github.com/cube2222/octoframe/graph"
	"github.com/cube2222/octoframe/octoframe"
	"github.com/cube2222/octoframe/outputs/printer"
	"github.com/cube2222/octoframe/plan"
)

// runQuery explains or executes the frame and prints its rows.
func runQuery(cmd *cobra.Command, f frame.LazyFrame, orderBy []string, descending bool) error {
	ctx := cmd.Context()
	if explain != "" {
		return explainPlan(cmd, f.Plan())
	}

	mode := engine.ModeMaterialized
	if streaming {
		mode = engine.ModeStreaming
	}
	var output *engine.Output
	var err error
	if optimize {
		output, err = state.engine.Execute(ctx, f.Plan(), mode)
	} else {
		output, err = state.engine.Run(ctx, f.Plan(), mode)
	}
	if err != nil {
		return fmt.Errorf("couldn't run query: %w", err)
	}

	p, err := printer.NewOutputPrinter(cmd.OutOrStdout(), f.Schema(), printer.Options{
		OrderBy:    orderBy,
		Descending: descending,
		Format:     state.format,
		Live:       live && streaming,
	})
	if err != nil {
		return err
	}
	if err := p.Run(ctx, output); err != nil {
		return fmt.Errorf("couldn't print output: %w", err)
	}
	state.logger.Debug("query finished", "execution_id", output.ID.String(), "peak_memory", output.Memory.Peak())
	return nil
}

func explainPlan(cmd *cobra.Command, node plan.Node) error {
	switch explain {
	case "text":
		fmt.Fprint(cmd.OutOrStdout(), graph.Text(state.engine.Describe(node, optimize)))
		return nil
	case "diff":
		diff, err := state.engine.Diff(node)
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), diff)
		return nil
	case "graph":
		g, err := graph.Show(state.engine.Describe(node, optimize))
		if err != nil {
			return fmt.Errorf("couldn't build graph: %w", err)
		}
		file, err := os.CreateTemp(os.TempDir(), "octoframe-explain-*.png")
		if err != nil {
			return fmt.Errorf("couldn't create temporary file: %w", err)
		}
		render := exec.Command("dot", "-Tpng")
		render.Stdin = strings.NewReader(g.String())
		render.Stdout = file
		render.Stderr = os.Stderr
		if err := render.Run(); err != nil {
			file.Close()
			return fmt.Errorf("couldn't render graph: %w", err)
		}
		if err := file.Close(); err != nil {
			return fmt.Errorf("couldn't close temporary file: %w", err)
		}
		if err := open.Start(file.Name()); err != nil {
			return fmt.Errorf("couldn't open graph: %w", err)
		}
		return nil
	}
	return fmt.Errorf("unknown explain mode %s, expected text, diff or graph", explain)
}

// parseLiteral parses a command line value as the type of the column it's compared with.
func parseLiteral(t octoframe.Type, text string) (any, error) {
	switch {
	case t.IsSignedInteger():
		return strconv.ParseInt(text, 10, 64)
	case t.IsUnsignedInteger():
		return strconv.ParseUint(text, 10, 64)
	case t.IsFloat():
		return strconv.ParseFloat(text, 64)
	case t.TypeID == octoframe.TypeIDBoolean:
		return strconv.ParseBool(text)
	}
	return text, nil
}

// parseFilters turns column=value pairs into a conjunction of equality predicates.
func parseFilters(schema plan.Schema, filters []string) (frame.Expr, bool, error) {
	var out frame.Expr
	for i, filter := range filters {
		name, value, ok := strings.Cut(filter, "=")
		if !ok {
			return frame.Expr{}, false, fmt.Errorf("invalid filter %q, expected column=value", filter)
		}
		field, err := schema.Field(name)
		if err != nil {
			return frame.Expr{}, false, err
		}
		literal, err := parseLiteral(field.Type, value)
		if err != nil {
			return frame.Expr{}, false, fmt.Errorf("invalid value for column %s: %w", name, err)
		}
		predicate := frame.Col(name).Eq(frame.Lit(literal))
		if i == 0 {
			out = predicate
		} else {
			out = out.And(predicate)
		}
	}
	return out, len(filters) > 0, nil
}
