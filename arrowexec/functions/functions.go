// Package functions contains the scalar kernels of the expression evaluator
// together with their type rules.
package functions

import (
	"fmt"
	"sort"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"
	"github.com/apache/arrow/go/v13/arrow/memory"
	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/batch"
	"github.com/cube2222/octoframe/octoframe"
)

// Kernel evaluates a function over the argument columns of one record.
type Kernel func(ctx execution.Context, args []arrow.Array) (arrow.Array, error)

type Descriptor struct {
	Name        string
	Description string
	// NullAware functions see null arguments. All other functions produce null wherever any argument is null.
	NullAware bool
	// Typecheck validates the argument types and parameters. It returns the types
	// the arguments have to be coerced to and the output type.
	Typecheck func(args []octoframe.Type, params []octoframe.Value) (argTypes []octoframe.Type, out octoframe.Type, err error)
	Make      func(args []octoframe.Type, params []octoframe.Value, out octoframe.Type) (Kernel, error)
}

var registry = map[string]Descriptor{}

func register(descriptor Descriptor) {
	if _, ok := registry[descriptor.Name]; ok {
		panic(fmt.Sprintf("function %s registered twice", descriptor.Name))
	}
	registry[descriptor.Name] = descriptor
}

func Lookup(name string) (Descriptor, bool) {
	descriptor, ok := registry[name]
	return descriptor, ok
}

// Names lists all registered functions, sorted.
func Names() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Make creates the kernel of a registered function, wrapping strict functions with null handling
// for arguments of the Null type.
func Make(name string, args []octoframe.Type, params []octoframe.Value, out octoframe.Type) (Kernel, error) {
	descriptor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown function: %s", name)
	}
	kernel, err := descriptor.Make(args, params, out)
	if err != nil {
		return nil, err
	}
	if descriptor.NullAware {
		return kernel, nil
	}
	return strict(kernel, out), nil
}

// strict short-circuits arguments of the Null type into an all-null output.
func strict(kernel Kernel, out octoframe.Type) Kernel {
	outType := out.ToArrow()
	return func(ctx execution.Context, args []arrow.Array) (arrow.Array, error) {
		for _, arg := range args {
			if arg.DataType().ID() == arrow.NULL {
				length := 0
				if len(args) > 0 {
					length = args[0].Len()
				}
				return batch.NullArray(ctx.Allocator, outType, length), nil
			}
		}
		return kernel(ctx, args)
	}
}

type valueArray[T any] interface {
	arrow.Array
	Value(i int) T
}

type valueBuilder[T any] interface {
	array.Builder
	Append(v T)
}

func newBuilder[T any](mem memory.Allocator, dt arrow.DataType) valueBuilder[T] {
	return array.NewBuilder(mem, dt).(valueBuilder[T])
}

// mapValues applies fn to every non-null row. fn returning false produces a null.
func mapValues[I, O any](mem memory.Allocator, arg arrow.Array, outType arrow.DataType, fn func(v I) (O, bool, error)) (arrow.Array, error) {
	in := arg.(valueArray[I])
	builder := newBuilder[O](mem, outType)
	defer builder.Release()
	builder.Reserve(arg.Len())

	for i := 0; i < arg.Len(); i++ {
		if in.IsNull(i) {
			builder.AppendNull()
			continue
		}
		v, ok, err := fn(in.Value(i))
		if err != nil {
			return nil, err
		}
		if !ok {
			builder.AppendNull()
			continue
		}
		builder.Append(v)
	}
	return builder.NewArray(), nil
}

// mapValues2 is mapValues for two arguments.
func mapValues2[A, B, O any](mem memory.Allocator, left, right arrow.Array, outType arrow.DataType, fn func(a A, b B) (O, bool, error)) (arrow.Array, error) {
	typedLeft := left.(valueArray[A])
	typedRight := right.(valueArray[B])
	builder := newBuilder[O](mem, outType)
	defer builder.Release()
	builder.Reserve(left.Len())

	for i := 0; i < left.Len(); i++ {
		if typedLeft.IsNull(i) || typedRight.IsNull(i) {
			builder.AppendNull()
			continue
		}
		v, ok, err := fn(typedLeft.Value(i), typedRight.Value(i))
		if err != nil {
			return nil, err
		}
		if !ok {
			builder.AppendNull()
			continue
		}
		builder.Append(v)
	}
	return builder.NewArray(), nil
}

func physical(arr arrow.Array) arrow.Array {
	return batch.Physical(arr)
}

func retype(arr arrow.Array, dt arrow.DataType) arrow.Array {
	return batch.Retype(arr, dt)
}

func anyNullable(types []octoframe.Type) bool {
	for _, t := range types {
		if t.Nullable {
			return true
		}
	}
	return false
}

func repeatType(t octoframe.Type, n int) []octoframe.Type {
	out := make([]octoframe.Type, n)
	for i := range out {
		out[i] = t
	}
	return out
}

func expectArgs(name string, args []octoframe.Type, params []octoframe.Value, argCount, paramCount int) error {
	if argCount >= 0 && len(args) != argCount {
		return octoframe.NewTypeMismatchError("%s expects %d arguments, got %d", name, argCount, len(args))
	}
	if paramCount >= 0 && len(params) != paramCount {
		return octoframe.NewTypeMismatchError("%s expects %d parameters, got %d", name, paramCount, len(params))
	}
	return nil
}
