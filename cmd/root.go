package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/pkg/profile"
	"github.com/spf13/cobra"

	"github.com/cube2222/octoframe/config"
	"github.com/cube2222/octoframe/engine"
	"github.com/cube2222/octoframe/logs"
	"github.com/cube2222/octoframe/outputs/formats"
	"github.com/cube2222/octoframe/plan"
)

// app is the state shared by all subcommands, set up before any of them runs.
type app struct {
	config  *config.Config
	engine  *engine.Engine
	catalog *plan.Catalog
	logger  *slog.Logger
	format  func(w io.Writer) formats.Format
	profile interface{ Stop() }
}

var state app

var (
	configPath  string
	streaming   bool
	live        bool
	outputName  string
	profileKind string
	explain     string
	optimize    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "octoframe",
	Short: "Lazy columnar queries over JSON and Parquet files.",
	Example: `octoframe schema trips.parquet
octoframe head trips.parquet -n 5 --columns driver,distance
octoframe group-by trips.parquet --by driver --agg sum:distance --agg count:id
octoframe group-by people --by city --agg mean:age --explain graph`,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configPath == "" {
			path, err := config.DefaultPath()
			if err != nil {
				return err
			}
			configPath = path
		}
		cfg, err := config.ReadConfig(configPath)
		if err != nil {
			return fmt.Errorf("couldn't read config: %w", err)
		}
		if err := logs.Init(cfg.Logging); err != nil {
			return fmt.Errorf("couldn't initialize logging: %w", err)
		}

		switch profileKind {
		case "":
		case "cpu":
			state.profile = profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.Quiet)
		case "mem":
			state.profile = profile.Start(profile.MemProfile, profile.ProfilePath("."), profile.Quiet)
		default:
			return fmt.Errorf("unknown profile kind %s, expected cpu or mem", profileKind)
		}

		format, err := formats.New(outputName)
		if err != nil {
			return err
		}
		catalog, err := loadCatalog(cfg)
		if err != nil {
			return err
		}
		logger := logs.WithComponent("engine")
		e, err := engine.New(engine.OptionsFromConfig(cfg, logger))
		if err != nil {
			return fmt.Errorf("couldn't create engine: %w", err)
		}

		state = app{
			config:  cfg,
			engine:  e,
			catalog: catalog,
			logger:  logger,
			format:  format,
			profile: state.profile,
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if state.profile != nil {
			state.profile.Stop()
		}
		logs.Close()
	},
}

func Execute(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the configuration file, ~/.octoframe/octoframe.yml by default.")
	rootCmd.PersistentFlags().BoolVar(&streaming, "streaming", false, "Run all stages concurrently instead of one after another.")
	rootCmd.PersistentFlags().BoolVar(&live, "live", false, "Redraw the output while a streaming query runs.")
	rootCmd.PersistentFlags().StringVarP(&outputName, "output", "o", "table", "Output format: table, csv or json.")
	rootCmd.PersistentFlags().StringVar(&profileKind, "profile", "", "Write a cpu or mem profile to the current directory.")
	rootCmd.PersistentFlags().StringVar(&explain, "explain", "", "Print the plan instead of running the query: text, diff or graph.")
	rootCmd.PersistentFlags().BoolVar(&optimize, "optimize", true, "Whether the plan should be optimized.")
}
