// Package engine optimizes and executes logical plans.
package engine

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/memory"
	"github.com/dgraph-io/ristretto"
	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"

	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/config"
	"github.com/cube2222/octoframe/graph"
	"github.com/cube2222/octoframe/optimizer"
	"github.com/cube2222/octoframe/plan"
)

type Mode int

const (
	// ModeMaterialized runs stages bottom-up, fully buffering every stage's output.
	ModeMaterialized Mode = iota
	// ModeStreaming runs all stages concurrently, connected by bounded queues.
	ModeStreaming
)

func (mode Mode) String() string {
	switch mode {
	case ModeMaterialized:
		return "materialized"
	case ModeStreaming:
		return "streaming"
	}
	return "unknown"
}

type Options struct {
	Settings execution.Settings
	// MemoryLimit is the per-execution limit of buffered data in bytes, 0 means unlimited.
	MemoryLimit int64
	Optimizer   optimizer.Options
	// PlanCacheSize is the number of optimized plans kept, 0 disables the cache.
	PlanCacheSize int64
	Logger        *slog.Logger
	Allocator     memory.Allocator
}

func DefaultOptions() Options {
	return Options{
		Settings: execution.DefaultSettings(),
		Optimizer: optimizer.Options{
			MaxPasses:          optimizer.DefaultMaxPasses,
			BroadcastThreshold: optimizer.DefaultBroadcastThreshold,
		},
		PlanCacheSize: 1024,
	}
}

func OptionsFromConfig(cfg *config.Config, logger *slog.Logger) Options {
	return Options{
		Settings: execution.Settings{
			BatchSize:         cfg.Execution.BatchSize,
			Parallelism:       cfg.Execution.Parallelism,
			QueueDepth:        cfg.Execution.QueueDepth,
			SortMemoryBudget:  cfg.Execution.SortMemoryBudget,
			SpillDirectory:    cfg.Execution.SpillDirectory,
			CheckedArithmetic: cfg.Execution.CheckedArithmetic,
		},
		MemoryLimit: cfg.Execution.MemoryLimit,
		Optimizer: optimizer.Options{
			MaxPasses:          cfg.Optimizer.MaxPasses,
			DisabledRules:      cfg.Optimizer.DisabledRules,
			BroadcastThreshold: float64(cfg.Optimizer.BroadcastThreshold),
			Logger:             logger,
		},
		PlanCacheSize: cfg.Optimizer.PlanCacheSize,
		Logger:        logger,
	}
}

// Engine is safe for concurrent use. Executions share nothing but the plan cache.
type Engine struct {
	optimizer   *optimizer.Optimizer
	cache       *ristretto.Cache
	settings    execution.Settings
	memoryLimit int64
	logger      *slog.Logger
	allocator   memory.Allocator
}

func New(options Options) (*Engine, error) {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if options.Optimizer.Logger == nil {
		options.Optimizer.Logger = logger
	}
	allocator := options.Allocator
	if allocator == nil {
		allocator = memory.NewGoAllocator()
	}
	var cache *ristretto.Cache
	if options.PlanCacheSize > 0 {
		var err error
		cache, err = ristretto.NewCache(&ristretto.Config{
			NumCounters: options.PlanCacheSize * 10,
			MaxCost:     options.PlanCacheSize,
			BufferItems: 64,
		})
		if err != nil {
			return nil, errors.Wrap(err, "couldn't initialize plan cache")
		}
	}
	return &Engine{
		optimizer:   optimizer.New(options.Optimizer),
		cache:       cache,
		settings:    options.Settings,
		memoryLimit: options.MemoryLimit,
		logger:      logger,
		allocator:   allocator,
	}, nil
}

type optimized struct {
	node        plan.Node
	diagnostics []optimizer.Diagnostic
}

// Optimize returns the optimized plan. Results are cached by the plan's fingerprint.
func (e *Engine) Optimize(node plan.Node) (plan.Node, []optimizer.Diagnostic) {
	var key string
	if e.cache != nil {
		key = plan.Fingerprint(node)
		if cached, ok := e.cache.Get(key); ok {
			out := cached.(optimized)
			return out.node, out.diagnostics
		}
	}
	out, diagnostics := e.optimizer.Optimize(node)
	if e.cache != nil {
		e.cache.Set(key, optimized{node: out, diagnostics: diagnostics}, 1)
	}
	return out, diagnostics
}

// Output is the result of an execution. Materialized executions fill Records,
// streaming ones Stream, which has to be closed.
type Output struct {
	ID          ulid.ULID
	Mode        Mode
	Schema      *arrow.Schema
	Records     []arrow.Record
	Stream      *execution.Stream
	Diagnostics []optimizer.Diagnostic
	// Memory tracks the buffered data of the execution.
	Memory *execution.MemoryTracker
}

// Collect returns all records of the output, draining the stream of streaming executions.
func (output *Output) Collect(ctx context.Context) ([]arrow.Record, error) {
	if output.Stream == nil {
		return output.Records, nil
	}
	defer output.Stream.Close()
	var out []arrow.Record
	for {
		record, err := output.Stream.Next(ctx)
		if err == io.EOF {
			return out, nil
		} else if err != nil {
			for _, record := range out {
				record.Release()
			}
			return nil, err
		}
		out = append(out, record.Record)
	}
}

// Execute optimizes and runs the plan.
func (e *Engine) Execute(ctx context.Context, node plan.Node, mode Mode) (*Output, error) {
	optimizedNode, diagnostics := e.Optimize(node)
	output, err := e.Run(ctx, optimizedNode, mode)
	if err != nil {
		return nil, err
	}
	output.Diagnostics = diagnostics
	return output, nil
}

// Run executes the plan as is, without optimizing it.
func (e *Engine) Run(ctx context.Context, node plan.Node, mode Mode) (*Output, error) {
	id := ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader)
	logger := e.logger.With(slog.String("execution_id", id.String()), slog.String("mode", mode.String()))

	stage, err := plan.Materialize(node, plan.Environment{
		Parallelism:       e.settings.Parallelism,
		CheckedArithmetic: e.settings.CheckedArithmetic,
	})
	if err != nil {
		return nil, errors.Wrap(err, "couldn't materialize plan")
	}

	tracker := execution.NewMemoryTracker(e.memoryLimit)
	execCtx := execution.Context{
		Context:   ctx,
		Allocator: e.allocator,
		Memory:    tracker,
		Logger:    logger,
		Settings:  e.settings,
	}
	output := &Output{
		ID:     id,
		Mode:   mode,
		Schema: stage.Schema,
		Memory: tracker,
	}

	logger.Info("execution started")
	switch mode {
	case ModeMaterialized:
		start := time.Now()
		records, err := execution.RunMaterialized(execCtx, stage)
		if err != nil {
			logger.Error("execution failed", "error", err, "duration", time.Since(start))
			return nil, err
		}
		output.Records = execution.ToArrowRecords(records)
		logger.Info("execution finished", "duration", time.Since(start), "records", len(records), "peak_memory", tracker.Peak())
	case ModeStreaming:
		output.Stream = execution.RunStreaming(execCtx, stage)
	default:
		return nil, fmt.Errorf("unknown execution mode %d", mode)
	}
	return output, nil
}

// Collect optimizes and runs the plan in the given mode, returning all records.
func (e *Engine) Collect(ctx context.Context, node plan.Node, mode Mode) ([]arrow.Record, error) {
	output, err := e.Execute(ctx, node, mode)
	if err != nil {
		return nil, err
	}
	return output.Collect(ctx)
}

// Describe describes the plan, after optimizing it if asked to.
func (e *Engine) Describe(node plan.Node, optimize bool) *graph.Node {
	if optimize {
		node, _ = e.Optimize(node)
	}
	return plan.Describe(node)
}

// Diff returns a unified diff between the plan and its optimized form.
func (e *Engine) Diff(node plan.Node) (string, error) {
	optimizedNode, _ := e.Optimize(node)
	return graph.Diff("unoptimized", plan.Describe(node), "optimized", plan.Describe(optimizedNode))
}
