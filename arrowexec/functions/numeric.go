package functions

import (
	"math"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/octoframe"
)

func init() {
	register(Descriptor{
		Name:        "abs",
		Description: "Absolute value.",
		Typecheck:   numericPassthroughTypecheck("abs"),
		Make: func(args []octoframe.Type, params []octoframe.Value, out octoframe.Type) (Kernel, error) {
			outType := out.ToArrow()
			switch args[0].TypeID {
			case octoframe.TypeIDInt8:
				return absKernel[int8](outType), nil
			case octoframe.TypeIDInt16:
				return absKernel[int16](outType), nil
			case octoframe.TypeIDInt32:
				return absKernel[int32](outType), nil
			case octoframe.TypeIDInt64:
				return absKernel[int64](outType), nil
			case octoframe.TypeIDFloat32:
				return floatUnaryKernel[float32](outType, math.Abs), nil
			case octoframe.TypeIDFloat64:
				return floatUnaryKernel[float64](outType, math.Abs), nil
			}
			return identityKernel, nil
		},
	})
	register(Descriptor{
		Name:        "round",
		Description: "Rounds half away from zero to the given number of decimals (default 0).",
		Typecheck: func(args []octoframe.Type, params []octoframe.Value) ([]octoframe.Type, octoframe.Type, error) {
			if err := expectArgs("round", args, nil, 1, -1); err != nil {
				return nil, octoframe.Type{}, err
			}
			if len(params) > 1 {
				return nil, octoframe.Type{}, octoframe.NewTypeMismatchError("round expects at most one parameter")
			}
			if len(params) == 1 {
				if _, ok := params[0].AsInt(); !ok {
					return nil, octoframe.Type{}, octoframe.NewTypeMismatchError("round decimals must be an integer, got %s", params[0].Type)
				}
			}
			return numericPassthroughTypecheck("round")(args, nil)
		},
		Make: func(args []octoframe.Type, params []octoframe.Value, out octoframe.Type) (Kernel, error) {
			var decimals int64
			if len(params) == 1 {
				decimals, _ = params[0].AsInt()
			}
			scale := math.Pow(10, float64(decimals))
			round := func(v float64) float64 {
				return math.Round(v*scale) / scale
			}
			switch args[0].TypeID {
			case octoframe.TypeIDFloat32:
				return floatUnaryKernel[float32](out.ToArrow(), round), nil
			case octoframe.TypeIDFloat64:
				return floatUnaryKernel[float64](out.ToArrow(), round), nil
			}
			return identityKernel, nil
		},
	})
	registerFloatFunction("sqrt", "Square root, NaN for negative values.", math.Sqrt)
	registerFloatFunction("floor", "Largest integer value not greater than the argument.", math.Floor)
	registerFloatFunction("ceil", "Smallest integer value not less than the argument.", math.Ceil)
}

// numericPassthroughTypecheck accepts one numeric argument and keeps its type.
func numericPassthroughTypecheck(name string) func(args []octoframe.Type, params []octoframe.Value) ([]octoframe.Type, octoframe.Type, error) {
	return func(args []octoframe.Type, params []octoframe.Value) ([]octoframe.Type, octoframe.Type, error) {
		if err := expectArgs(name, args, params, 1, 0); err != nil {
			return nil, octoframe.Type{}, err
		}
		if args[0].IsNull() {
			return []octoframe.Type{octoframe.Float64.WithNullable(true)}, octoframe.Float64.WithNullable(true), nil
		}
		if !args[0].IsNumeric() {
			return nil, octoframe.Type{}, octoframe.NewTypeMismatchError("%s expects a numeric argument, got %s", name, args[0])
		}
		return args, args[0], nil
	}
}

// registerFloatFunction registers a function which coerces its argument to Float64.
func registerFloatFunction(name, description string, fn func(float64) float64) {
	register(Descriptor{
		Name:        name,
		Description: description,
		Typecheck: func(args []octoframe.Type, params []octoframe.Value) ([]octoframe.Type, octoframe.Type, error) {
			if err := expectArgs(name, args, params, 1, 0); err != nil {
				return nil, octoframe.Type{}, err
			}
			if !args[0].IsNumeric() && !args[0].IsNull() {
				return nil, octoframe.Type{}, octoframe.NewTypeMismatchError("%s expects a numeric argument, got %s", name, args[0])
			}
			out := octoframe.Float64.WithNullable(args[0].Nullable)
			return []octoframe.Type{out}, out, nil
		},
		Make: func(args []octoframe.Type, params []octoframe.Value, out octoframe.Type) (Kernel, error) {
			return floatUnaryKernel[float64](out.ToArrow(), fn), nil
		},
	})
}

func identityKernel(ctx execution.Context, args []arrow.Array) (arrow.Array, error) {
	args[0].Retain()
	return args[0], nil
}

func absKernel[T signedInteger](outType arrow.DataType) Kernel {
	return func(ctx execution.Context, args []arrow.Array) (arrow.Array, error) {
		return mapValues(ctx.Allocator, args[0], outType, func(v T) (T, bool, error) {
			if v < 0 {
				return -v, true, nil
			}
			return v, true, nil
		})
	}
}

func floatUnaryKernel[T float](outType arrow.DataType, fn func(float64) float64) Kernel {
	return func(ctx execution.Context, args []arrow.Array) (arrow.Array, error) {
		return mapValues(ctx.Allocator, args[0], outType, func(v T) (T, bool, error) {
			return T(fn(float64(v))), true, nil
		})
	}
}
