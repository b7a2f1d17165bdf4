// Package aggregates contains grouped accumulators. Every accumulator keeps one
// state entry per group, identified by a dense entry index.
package aggregates

import (
	"fmt"
	"sort"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/bitutil"
	"github.com/apache/arrow/go/v13/arrow/memory"
	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/octoframe"
	"github.com/pkg/errors"
)

type Aggregate interface {
	// MakeColumnConsumer returns a function adding the value at rowIndex to the state of entryIndex.
	// The argument array is nil for aggregates without an argument.
	MakeColumnConsumer(arr arrow.Array) func(entryIndex uint, rowIndex uint)
	// GetBatch returns the results of entries [offset, offset+length).
	GetBatch(mem memory.Allocator, length int, offset int) arrow.Array
}

type Details struct {
	Description string
	// Typecheck returns the type the argument has to be coerced to and the output type.
	Typecheck func(arg octoframe.Type) (argType octoframe.Type, out octoframe.Type, err error)
	Prototype func(arg octoframe.Type, out octoframe.Type) func() Aggregate
}

var Aggregates = map[string]Details{
	"count": {
		Description: "Counts the non-null values in the group.",
		Typecheck:   countTypecheck,
		Prototype:   NewCountPrototype,
	},
	"len": {
		Description: "Counts all rows in the group, including nulls.",
		Typecheck:   countTypecheck,
		Prototype:   NewLenPrototype,
	},
	"sum": {
		Description: "Sums the values in the group. Integers are summed as Int64 or UInt64, nulls are skipped.",
		Typecheck:   sumTypecheck,
		Prototype:   NewSumPrototype,
	},
	"mean": {
		Description: "Arithmetic mean of the non-null values.",
		Typecheck:   floatTypecheck("mean"),
		Prototype:   NewMeanPrototype,
	},
	"min": {
		Description: "Smallest non-null value.",
		Typecheck:   minMaxTypecheck("min"),
		Prototype:   NewMinPrototype,
	},
	"max": {
		Description: "Largest non-null value.",
		Typecheck:   minMaxTypecheck("max"),
		Prototype:   NewMaxPrototype,
	},
	"first": {
		Description: "First value in the group, which may be null.",
		Typecheck:   passthroughTypecheck,
		Prototype:   NewFirstPrototype,
	},
	"last": {
		Description: "Last value in the group, which may be null.",
		Typecheck:   passthroughTypecheck,
		Prototype:   NewLastPrototype,
	},
	"n_unique": {
		Description: "Number of distinct values, null counts as a value.",
		Typecheck:   nUniqueTypecheck,
		Prototype:   NewNUniquePrototype,
	},
	"std": {
		Description: "Sample standard deviation.",
		Typecheck:   floatTypecheck("std"),
		Prototype:   NewStdPrototype,
	},
	"var": {
		Description: "Sample variance.",
		Typecheck:   floatTypecheck("var"),
		Prototype:   NewVarPrototype,
	},
}

func Lookup(name string) (Details, bool) {
	details, ok := Aggregates[name]
	return details, ok
}

func Names() []string {
	out := make([]string, 0, len(Aggregates))
	for name := range Aggregates {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func passthroughTypecheck(arg octoframe.Type) (octoframe.Type, octoframe.Type, error) {
	return arg, arg.WithNullable(true), nil
}

func countTypecheck(arg octoframe.Type) (octoframe.Type, octoframe.Type, error) {
	return arg, octoframe.Int64, nil
}

func nUniqueTypecheck(arg octoframe.Type) (octoframe.Type, octoframe.Type, error) {
	if !arg.IsHashable() {
		return octoframe.Type{}, octoframe.Type{}, octoframe.NewTypeMismatchError("n_unique can't hash %s", arg)
	}
	return arg, octoframe.Int64, nil
}

func sumTypecheck(arg octoframe.Type) (octoframe.Type, octoframe.Type, error) {
	switch {
	case arg.IsSignedInteger(), arg.TypeID == octoframe.TypeIDBoolean, arg.IsNull():
		return arg, octoframe.Int64, nil
	case arg.IsUnsignedInteger():
		return arg, octoframe.UInt64, nil
	case arg.IsFloat():
		return arg, octoframe.Float64, nil
	case arg.TypeID == octoframe.TypeIDDuration:
		return arg, octoframe.Duration, nil
	}
	return octoframe.Type{}, octoframe.Type{}, octoframe.NewTypeMismatchError("can't sum %s", arg)
}

func floatTypecheck(name string) func(arg octoframe.Type) (octoframe.Type, octoframe.Type, error) {
	return func(arg octoframe.Type) (octoframe.Type, octoframe.Type, error) {
		if !arg.IsNumeric() && arg.TypeID != octoframe.TypeIDBoolean && !arg.IsNull() {
			return octoframe.Type{}, octoframe.Type{}, octoframe.NewTypeMismatchError("%s expects a numeric argument, got %s", name, arg)
		}
		return arg, octoframe.Float64.WithNullable(true), nil
	}
}

func minMaxTypecheck(name string) func(arg octoframe.Type) (octoframe.Type, octoframe.Type, error) {
	return func(arg octoframe.Type) (octoframe.Type, octoframe.Type, error) {
		if !arg.IsOrdered() || arg.TypeID == octoframe.TypeIDBinary {
			return octoframe.Type{}, octoframe.Type{}, octoframe.NewTypeMismatchError("%s expects an ordered argument, got %s", name, arg)
		}
		return arg, arg.WithNullable(true), nil
	}
}

// grow makes sure the state has an entry for entryIndex.
func grow[T any](state []T, entryIndex uint) []T {
	if entryIndex < uint(len(state)) {
		return state
	}
	out := make([]T, bitutil.NextPowerOf2(int(entryIndex)+1))
	copy(out, state)
	return out
}

// at reads the state of an entry, entries which never received a row have the zero value.
func at[T any](state []T, entryIndex int) T {
	if entryIndex < len(state) {
		return state[entryIndex]
	}
	var zero T
	return zero
}

// Expression evaluates an aggregate over the groups of the context.
type Expression struct {
	Name      string
	Prototype func() Aggregate
	// Arg is nil for aggregates over rows only, like len.
	Arg execution.Expression
}

func (e *Expression) Evaluate(ctx execution.Context, record execution.Record) (arrow.Array, error) {
	if ctx.Groups == nil {
		return nil, errors.Wrapf(octoframe.ErrInvalidContext, "aggregate %s evaluated outside of a grouping context", e.Name)
	}
	if len(ctx.Groups.IDs) != int(record.NumRows()) {
		return nil, fmt.Errorf("group assignment has %d rows, record has %d", len(ctx.Groups.IDs), record.NumRows())
	}
	var arg arrow.Array
	if e.Arg != nil {
		var err error
		arg, err = e.Arg.Evaluate(ctx, record)
		if err != nil {
			return nil, errors.Wrapf(err, "couldn't evaluate %s argument", e.Name)
		}
	}

	aggregate := e.Prototype()
	consume := aggregate.MakeColumnConsumer(arg)
	for rowIndex, entryIndex := range ctx.Groups.IDs {
		consume(uint(entryIndex), uint(rowIndex))
	}
	return aggregate.GetBatch(ctx.Allocator, ctx.Groups.Count, 0), nil
}
