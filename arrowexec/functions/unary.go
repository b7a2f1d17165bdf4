package functions

import (
	"fmt"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"
	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/batch"
	"github.com/cube2222/octoframe/octoframe"
	"github.com/pkg/errors"
)

type UnaryOp int

const (
	UnaryOpNot UnaryOp = iota
	UnaryOpNegate
	UnaryOpIsNull
	UnaryOpIsNotNull
)

func (op UnaryOp) String() string {
	switch op {
	case UnaryOpNot:
		return "not"
	case UnaryOpNegate:
		return "-"
	case UnaryOpIsNull:
		return "is_null"
	case UnaryOpIsNotNull:
		return "is_not_null"
	}
	return "unknown"
}

func UnaryTypecheck(op UnaryOp, arg octoframe.Type) (octoframe.Type, error) {
	switch op {
	case UnaryOpNot:
		if !isBooleanLike(arg) {
			return octoframe.Type{}, octoframe.NewTypeMismatchError("not expects a Boolean operand, got %s", arg)
		}
		return octoframe.Boolean.WithNullable(arg.Nullable), nil
	case UnaryOpNegate:
		switch {
		case arg.IsSignedInteger(), arg.IsFloat(), arg.TypeID == octoframe.TypeIDDuration:
			return arg, nil
		case arg.IsNull():
			return octoframe.Int64.WithNullable(true), nil
		}
		return octoframe.Type{}, octoframe.NewTypeMismatchError("can't negate %s", arg)
	case UnaryOpIsNull, UnaryOpIsNotNull:
		return octoframe.Boolean, nil
	}
	return octoframe.Type{}, fmt.Errorf("unknown unary operator: %d", op)
}

func MakeUnaryKernel(op UnaryOp, arg, out octoframe.Type, checked bool) (Kernel, error) {
	switch op {
	case UnaryOpIsNull, UnaryOpIsNotNull:
		wantNull := op == UnaryOpIsNull
		return func(ctx execution.Context, args []arrow.Array) (arrow.Array, error) {
			builder := array.NewBooleanBuilder(ctx.Allocator)
			defer builder.Release()
			builder.Reserve(args[0].Len())
			for i := 0; i < args[0].Len(); i++ {
				builder.Append(batch.IsNull(args[0], i) == wantNull)
			}
			return builder.NewArray(), nil
		}, nil
	case UnaryOpNot:
		return strict(func(ctx execution.Context, args []arrow.Array) (arrow.Array, error) {
			return mapValues(ctx.Allocator, args[0], arrow.FixedWidthTypes.Boolean, func(v bool) (bool, bool, error) {
				return !v, true, nil
			})
		}, out), nil
	case UnaryOpNegate:
		outType := out.ToArrow()
		var kernel Kernel
		switch arg.TypeID {
		case octoframe.TypeIDInt8:
			kernel = negateKernel[int8](checked, outType)
		case octoframe.TypeIDInt16:
			kernel = negateKernel[int16](checked, outType)
		case octoframe.TypeIDInt32:
			kernel = negateKernel[int32](checked, outType)
		case octoframe.TypeIDInt64:
			kernel = negateKernel[int64](checked, outType)
		case octoframe.TypeIDDuration:
			inner := negateKernel[int64](checked, arrow.PrimitiveTypes.Int64)
			kernel = func(ctx execution.Context, args []arrow.Array) (arrow.Array, error) {
				result, err := inner(ctx, []arrow.Array{physical(args[0])})
				if err != nil {
					return nil, err
				}
				return retype(result, outType), nil
			}
		case octoframe.TypeIDFloat32:
			kernel = func(ctx execution.Context, args []arrow.Array) (arrow.Array, error) {
				return mapValues(ctx.Allocator, args[0], outType, func(v float32) (float32, bool, error) { return -v, true, nil })
			}
		case octoframe.TypeIDFloat64:
			kernel = func(ctx execution.Context, args []arrow.Array) (arrow.Array, error) {
				return mapValues(ctx.Allocator, args[0], outType, func(v float64) (float64, bool, error) { return -v, true, nil })
			}
		case octoframe.TypeIDNull:
			kernel = func(ctx execution.Context, args []arrow.Array) (arrow.Array, error) {
				panic("unreachable, strict handles null arguments")
			}
		default:
			return nil, fmt.Errorf("can't negate %s", arg)
		}
		return strict(kernel, out), nil
	}
	return nil, fmt.Errorf("unknown unary operator: %d", op)
}

func negateKernel[T signedInteger](checked bool, outType arrow.DataType) Kernel {
	return func(ctx execution.Context, args []arrow.Array) (arrow.Array, error) {
		return mapValues(ctx.Allocator, args[0], outType, func(v T) (T, bool, error) {
			r := -v
			if checked && v != 0 && r == v {
				return 0, false, errors.Wrapf(octoframe.ErrArithmeticOverflow, "-(%v)", v)
			}
			return r, true, nil
		})
	}
}
