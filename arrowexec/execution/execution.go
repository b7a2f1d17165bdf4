package execution

import (
	"context"
	"log/slog"
	"os"
	"runtime"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/memory"
	"github.com/pkg/errors"
)

// All nodes will try to create batches of approximately this size. Different sizes are allowed.
const IdealBatchSize = 16 * 1024

type Settings struct {
	BatchSize   int
	Parallelism int
	// QueueDepth is the capacity of each channel between streaming stages.
	QueueDepth        int
	SortMemoryBudget  int64
	SpillDirectory    string
	CheckedArithmetic bool
}

func DefaultSettings() Settings {
	return Settings{
		BatchSize:        IdealBatchSize,
		Parallelism:      runtime.NumCPU(),
		QueueDepth:       4,
		SortMemoryBudget: 256 * 1024 * 1024,
		SpillDirectory:   os.TempDir(),
	}
}

type Context struct {
	Context   context.Context
	Allocator memory.Allocator
	Memory    *MemoryTracker
	Logger    *slog.Logger
	Settings  Settings

	// Groups is set by grouping operators while evaluating aggregate and window expressions.
	Groups *Groups
	// Subexpressions holds the evaluated common subexpressions of the current record.
	Subexpressions []arrow.Array
}

// NewContext creates a context with default settings and no memory limit.
func NewContext(ctx context.Context) Context {
	return Context{
		Context:   ctx,
		Allocator: memory.NewGoAllocator(),
		Memory:    NewMemoryTracker(0),
		Logger:    slog.Default(),
		Settings:  DefaultSettings(),
	}
}

func (ctx Context) WithContext(goCtx context.Context) Context {
	ctx.Context = goCtx
	return ctx
}

func (ctx Context) WithGroups(groups *Groups) Context {
	ctx.Groups = groups
	return ctx
}

func (ctx Context) BatchSize() int {
	if ctx.Settings.BatchSize <= 0 {
		return IdealBatchSize
	}
	return ctx.Settings.BatchSize
}

func (ctx Context) Parallelism() int {
	if ctx.Settings.Parallelism <= 0 {
		return 1
	}
	return ctx.Settings.Parallelism
}

func (ctx Context) Log() *slog.Logger {
	if ctx.Logger == nil {
		return slog.Default()
	}
	return ctx.Logger
}

type ProduceContext struct {
	Context
}

type ProduceFunc func(produceCtx ProduceContext, record Record) error

type Record struct {
	arrow.Record
}

// Groups assigns each row of a record to one of Count groups.
type Groups struct {
	IDs   []uint32
	Count int
}

// ErrLimitReached is returned from a ProduceFunc when the consumer doesn't need any more records.
// Inputs stop producing and operators treat it as a clean end of their output.
var ErrLimitReached = errors.New("consumer needs no more records")

// Input pushes the records of one operator input, one at a time.
type Input interface {
	Run(ctx Context, produce ProduceFunc) error
}

type Operator interface {
	Run(ctx Context, inputs []Input, produce ProduceFunc) error
}

// Stage is a compiled plan node.
type Stage struct {
	ID       int
	Name     string
	Operator Operator
	Schema   *arrow.Schema
	Inputs   []*Stage

	// Partitionable stages process every record independently,
	// so the materializing runtime may split their input into row ranges.
	Partitionable bool
}

// Walk calls fn for the stage and all its descendants, parents first.
func (stage *Stage) Walk(fn func(stage *Stage)) {
	fn(stage)
	for _, input := range stage.Inputs {
		input.Walk(fn)
	}
}

// RecordsInput replays in-memory records.
type RecordsInput struct {
	Records []Record
}

func (input *RecordsInput) Run(ctx Context, produce ProduceFunc) error {
	for _, record := range input.Records {
		if err := ctx.Context.Err(); err != nil {
			return err
		}
		if err := produce(ProduceContext{Context: ctx}, record); err != nil {
			return err
		}
	}
	return nil
}

// Collect runs the input and gathers all its records.
func Collect(ctx Context, input Input) ([]Record, error) {
	var out []Record
	if err := input.Run(ctx, func(produceCtx ProduceContext, record Record) error {
		out = append(out, record)
		return nil
	}); err != nil {
		return nil, err
	}
	return out, nil
}

// ToArrowRecords unwraps records.
func ToArrowRecords(records []Record) []arrow.Record {
	out := make([]arrow.Record, len(records))
	for i := range records {
		out[i] = records[i].Record
	}
	return out
}

// RecordReader is an open source. Next returns io.EOF once the source is exhausted.
type RecordReader interface {
	Next(ctx Context) (arrow.Record, error)
	Close() error
}
