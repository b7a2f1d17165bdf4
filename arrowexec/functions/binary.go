package functions

import (
	"bytes"
	"cmp"
	"fmt"
	"math"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"
	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/batch"
	"github.com/cube2222/octoframe/octoframe"
	"github.com/pkg/errors"
)

type BinaryOp int

const (
	BinaryOpAdd BinaryOp = iota
	BinaryOpSubtract
	BinaryOpMultiply
	// BinaryOpDivide is true division, integers produce floats.
	BinaryOpDivide
	BinaryOpFloorDivide
	BinaryOpModulo
	BinaryOpEqual
	BinaryOpNotEqual
	BinaryOpLess
	BinaryOpLessEqual
	BinaryOpGreater
	BinaryOpGreaterEqual
	BinaryOpAnd
	BinaryOpOr
)

func (op BinaryOp) String() string {
	switch op {
	case BinaryOpAdd:
		return "+"
	case BinaryOpSubtract:
		return "-"
	case BinaryOpMultiply:
		return "*"
	case BinaryOpDivide:
		return "/"
	case BinaryOpFloorDivide:
		return "//"
	case BinaryOpModulo:
		return "%"
	case BinaryOpEqual:
		return "=="
	case BinaryOpNotEqual:
		return "!="
	case BinaryOpLess:
		return "<"
	case BinaryOpLessEqual:
		return "<="
	case BinaryOpGreater:
		return ">"
	case BinaryOpGreaterEqual:
		return ">="
	case BinaryOpAnd:
		return "and"
	case BinaryOpOr:
		return "or"
	}
	return "unknown"
}

func (op BinaryOp) IsArithmetic() bool {
	return op <= BinaryOpModulo
}

func (op BinaryOp) IsComparison() bool {
	return op >= BinaryOpEqual && op <= BinaryOpGreaterEqual
}

func (op BinaryOp) IsLogical() bool {
	return op == BinaryOpAnd || op == BinaryOpOr
}

// IsCommutative reports whether swapping the operands keeps the result.
func (op BinaryOp) IsCommutative() bool {
	switch op {
	case BinaryOpAdd, BinaryOpMultiply, BinaryOpEqual, BinaryOpNotEqual, BinaryOpAnd, BinaryOpOr:
		return true
	}
	return false
}

// Mirror returns the comparison with swapped operands, e.g. < for >.
func (op BinaryOp) Mirror() BinaryOp {
	switch op {
	case BinaryOpLess:
		return BinaryOpGreater
	case BinaryOpLessEqual:
		return BinaryOpGreaterEqual
	case BinaryOpGreater:
		return BinaryOpLess
	case BinaryOpGreaterEqual:
		return BinaryOpLessEqual
	}
	return op
}

// BinaryTypecheck returns the types both operands must be coerced to and the result type.
func BinaryTypecheck(op BinaryOp, left, right octoframe.Type) (leftTarget, rightTarget, out octoframe.Type, err error) {
	nullable := left.Nullable || right.Nullable
	switch {
	case op.IsLogical():
		if !isBooleanLike(left) || !isBooleanLike(right) {
			return leftTarget, rightTarget, out, octoframe.NewTypeMismatchError("%s expects Boolean operands, got %s and %s", op, left, right)
		}
		return octoframe.Boolean.WithNullable(left.Nullable), octoframe.Boolean.WithNullable(right.Nullable), octoframe.Boolean.WithNullable(nullable), nil

	case op.IsComparison():
		super, ok := octoframe.Supertype(left, right)
		if !ok || !super.IsOrdered() {
			return leftTarget, rightTarget, out, octoframe.NewTypeMismatchError("can't compare %s with %s", left, right)
		}
		if super.TypeID == octoframe.TypeIDCategorical {
			super = octoframe.String
		}
		return super.WithNullable(left.Nullable), super.WithNullable(right.Nullable), octoframe.Boolean.WithNullable(nullable), nil
	}

	if left.IsTemporal() || right.IsTemporal() {
		return temporalArithmeticTypecheck(op, left, right)
	}
	if left.IsStringLike() && right.IsStringLike() && op == BinaryOpAdd {
		return octoframe.String.WithNullable(left.Nullable), octoframe.String.WithNullable(right.Nullable), octoframe.String.WithNullable(nullable), nil
	}

	super, ok := octoframe.Supertype(left, right)
	if !ok || !(super.IsNumeric() || super.IsNull()) {
		return leftTarget, rightTarget, out, octoframe.NewTypeMismatchError("can't apply %s to %s and %s", op, left, right)
	}
	if super.IsNull() {
		super = octoframe.Int64.WithNullable(true)
	}
	leftTarget, rightTarget = super.WithNullable(left.Nullable), super.WithNullable(right.Nullable)
	switch op {
	case BinaryOpDivide:
		if super.IsInteger() {
			return leftTarget, rightTarget, octoframe.Float64.WithNullable(true), nil
		}
		return leftTarget, rightTarget, super, nil
	case BinaryOpFloorDivide, BinaryOpModulo:
		return leftTarget, rightTarget, super.WithNullable(nullable || super.IsInteger()), nil
	}
	return leftTarget, rightTarget, super, nil
}

func isBooleanLike(t octoframe.Type) bool {
	return t.TypeID == octoframe.TypeIDBoolean || t.TypeID == octoframe.TypeIDNull
}

func temporalArithmeticTypecheck(op BinaryOp, left, right octoframe.Type) (leftTarget, rightTarget, out octoframe.Type, err error) {
	nullable := left.Nullable || right.Nullable
	asDatetime := func(t octoframe.Type) octoframe.Type {
		if t.TypeID == octoframe.TypeIDDate {
			return octoframe.Datetime.WithNullable(t.Nullable)
		}
		return t
	}
	isInstant := func(t octoframe.Type) bool {
		return t.TypeID == octoframe.TypeIDDate || t.TypeID == octoframe.TypeIDDatetime
	}
	isDuration := func(t octoframe.Type) bool {
		return t.TypeID == octoframe.TypeIDDuration
	}

	switch {
	case op == BinaryOpSubtract && isInstant(left) && isInstant(right):
		return asDatetime(left), asDatetime(right), octoframe.Duration.WithNullable(nullable), nil
	case (op == BinaryOpAdd || op == BinaryOpSubtract) && isInstant(left) && isDuration(right):
		return asDatetime(left), right, octoframe.Datetime.WithNullable(nullable), nil
	case op == BinaryOpAdd && isDuration(left) && isInstant(right):
		return left, asDatetime(right), octoframe.Datetime.WithNullable(nullable), nil
	case (op == BinaryOpAdd || op == BinaryOpSubtract) && isDuration(left) && isDuration(right):
		return left, right, octoframe.Duration.WithNullable(nullable), nil
	}
	return leftTarget, rightTarget, out, octoframe.NewTypeMismatchError("can't apply %s to %s and %s", op, left, right)
}

// MakeBinaryKernel returns the kernel for operands already coerced to the types returned by BinaryTypecheck.
func MakeBinaryKernel(op BinaryOp, left, right, out octoframe.Type, checked bool) (Kernel, error) {
	switch {
	case op.IsLogical():
		return kleeneKernel(op), nil
	case op.IsComparison():
		kernel, err := comparisonKernel(op, left)
		if err != nil {
			return nil, err
		}
		return strict(kernel, out), nil
	}

	outType := out.ToArrow()
	if left.IsTemporal() || right.IsTemporal() {
		kernel := signedKernel[int64](op, checked, arrow.PrimitiveTypes.Int64)
		return strict(func(ctx execution.Context, args []arrow.Array) (arrow.Array, error) {
			result, err := kernel(ctx, []arrow.Array{physical(args[0]), physical(args[1])})
			if err != nil {
				return nil, err
			}
			return retype(result, outType), nil
		}, out), nil
	}

	var kernel Kernel
	switch left.TypeID {
	case octoframe.TypeIDInt8:
		kernel = signedKernel[int8](op, checked, outType)
	case octoframe.TypeIDInt16:
		kernel = signedKernel[int16](op, checked, outType)
	case octoframe.TypeIDInt32:
		kernel = signedKernel[int32](op, checked, outType)
	case octoframe.TypeIDInt64:
		kernel = signedKernel[int64](op, checked, outType)
	case octoframe.TypeIDUInt8:
		kernel = unsignedKernel[uint8](op, checked, outType)
	case octoframe.TypeIDUInt16:
		kernel = unsignedKernel[uint16](op, checked, outType)
	case octoframe.TypeIDUInt32:
		kernel = unsignedKernel[uint32](op, checked, outType)
	case octoframe.TypeIDUInt64:
		kernel = unsignedKernel[uint64](op, checked, outType)
	case octoframe.TypeIDFloat32:
		kernel = floatKernel[float32](op, outType)
	case octoframe.TypeIDFloat64:
		kernel = floatKernel[float64](op, outType)
	case octoframe.TypeIDString:
		kernel = func(ctx execution.Context, args []arrow.Array) (arrow.Array, error) {
			return mapValues2(ctx.Allocator, args[0], args[1], outType, func(a, b string) (string, bool, error) {
				return a + b, true, nil
			})
		}
	default:
		return nil, fmt.Errorf("unsupported operand type for %s: %s", op, left)
	}
	if kernel == nil {
		return nil, fmt.Errorf("unsupported operator %s for %s", op, left)
	}
	return strict(kernel, out), nil
}

type signedInteger interface {
	~int8 | ~int16 | ~int32 | ~int64
}

type unsignedInteger interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64
}

type integer interface {
	signedInteger | unsignedInteger
}

type float interface {
	~float32 | ~float64
}

type number interface {
	integer | float
}

func overflowError[T any](op BinaryOp, a, b T) error {
	return errors.Wrapf(octoframe.ErrArithmeticOverflow, "%v %s %v", a, op, b)
}

func signedKernel[T signedInteger](op BinaryOp, checked bool, outType arrow.DataType) Kernel {
	if op == BinaryOpDivide {
		return integerDivideKernel[T](outType)
	}
	var fn func(a, b T) (T, bool, error)
	switch op {
	case BinaryOpAdd:
		fn = func(a, b T) (T, bool, error) {
			r := a + b
			if checked && ((a > 0 && b > 0 && r < 0) || (a < 0 && b < 0 && r >= 0)) {
				return 0, false, overflowError(op, a, b)
			}
			return r, true, nil
		}
	case BinaryOpSubtract:
		fn = func(a, b T) (T, bool, error) {
			r := a - b
			if checked && ((b < 0 && r < a) || (b > 0 && r > a)) {
				return 0, false, overflowError(op, a, b)
			}
			return r, true, nil
		}
	case BinaryOpMultiply:
		fn = func(a, b T) (T, bool, error) {
			r := a * b
			if checked && a != 0 && (r/a != b || (a == -1 && b != 0 && r == b)) {
				return 0, false, overflowError(op, a, b)
			}
			return r, true, nil
		}
	case BinaryOpFloorDivide:
		fn = func(a, b T) (T, bool, error) {
			if b == 0 {
				return 0, false, nil
			}
			q := a / b
			if checked && b == -1 && a != 0 && q == a {
				return 0, false, overflowError(op, a, b)
			}
			if a%b != 0 && (a < 0) != (b < 0) {
				q--
			}
			return q, true, nil
		}
	case BinaryOpModulo:
		fn = func(a, b T) (T, bool, error) {
			if b == 0 {
				return 0, false, nil
			}
			m := a % b
			if m != 0 && (m < 0) != (b < 0) {
				m += b
			}
			return m, true, nil
		}
	default:
		return nil
	}
	return func(ctx execution.Context, args []arrow.Array) (arrow.Array, error) {
		return mapValues2(ctx.Allocator, args[0], args[1], outType, fn)
	}
}

func unsignedKernel[T unsignedInteger](op BinaryOp, checked bool, outType arrow.DataType) Kernel {
	if op == BinaryOpDivide {
		return integerDivideKernel[T](outType)
	}
	var fn func(a, b T) (T, bool, error)
	switch op {
	case BinaryOpAdd:
		fn = func(a, b T) (T, bool, error) {
			r := a + b
			if checked && r < a {
				return 0, false, overflowError(op, a, b)
			}
			return r, true, nil
		}
	case BinaryOpSubtract:
		fn = func(a, b T) (T, bool, error) {
			if checked && b > a {
				return 0, false, overflowError(op, a, b)
			}
			return a - b, true, nil
		}
	case BinaryOpMultiply:
		fn = func(a, b T) (T, bool, error) {
			r := a * b
			if checked && a != 0 && r/a != b {
				return 0, false, overflowError(op, a, b)
			}
			return r, true, nil
		}
	case BinaryOpFloorDivide:
		fn = func(a, b T) (T, bool, error) {
			if b == 0 {
				return 0, false, nil
			}
			return a / b, true, nil
		}
	case BinaryOpModulo:
		fn = func(a, b T) (T, bool, error) {
			if b == 0 {
				return 0, false, nil
			}
			return a % b, true, nil
		}
	default:
		return nil
	}
	return func(ctx execution.Context, args []arrow.Array) (arrow.Array, error) {
		return mapValues2(ctx.Allocator, args[0], args[1], outType, fn)
	}
}

// integerDivideKernel divides integers into Float64, division by zero yields null.
func integerDivideKernel[T integer](outType arrow.DataType) Kernel {
	return func(ctx execution.Context, args []arrow.Array) (arrow.Array, error) {
		return mapValues2(ctx.Allocator, args[0], args[1], outType, func(a, b T) (float64, bool, error) {
			if b == 0 {
				return 0, false, nil
			}
			return float64(a) / float64(b), true, nil
		})
	}
}

func floatKernel[T float](op BinaryOp, outType arrow.DataType) Kernel {
	var fn func(a, b T) (T, bool, error)
	switch op {
	case BinaryOpAdd:
		fn = func(a, b T) (T, bool, error) { return a + b, true, nil }
	case BinaryOpSubtract:
		fn = func(a, b T) (T, bool, error) { return a - b, true, nil }
	case BinaryOpMultiply:
		fn = func(a, b T) (T, bool, error) { return a * b, true, nil }
	case BinaryOpDivide:
		fn = func(a, b T) (T, bool, error) { return a / b, true, nil }
	case BinaryOpFloorDivide:
		fn = func(a, b T) (T, bool, error) {
			return T(math.Floor(float64(a) / float64(b))), true, nil
		}
	case BinaryOpModulo:
		fn = func(a, b T) (T, bool, error) {
			m := math.Mod(float64(a), float64(b))
			if m != 0 && (m < 0) != (b < 0) {
				m += float64(b)
			}
			return T(m), true, nil
		}
	default:
		return nil
	}
	return func(ctx execution.Context, args []arrow.Array) (arrow.Array, error) {
		return mapValues2(ctx.Allocator, args[0], args[1], outType, fn)
	}
}

func comparisonResult(op BinaryOp, c int) bool {
	switch op {
	case BinaryOpEqual:
		return c == 0
	case BinaryOpNotEqual:
		return c != 0
	case BinaryOpLess:
		return c < 0
	case BinaryOpLessEqual:
		return c <= 0
	case BinaryOpGreater:
		return c > 0
	case BinaryOpGreaterEqual:
		return c >= 0
	}
	panic("not a comparison")
}

func orderedComparison[T cmp.Ordered](op BinaryOp) Kernel {
	return func(ctx execution.Context, args []arrow.Array) (arrow.Array, error) {
		return mapValues2(ctx.Allocator, args[0], args[1], arrow.FixedWidthTypes.Boolean, func(a, b T) (bool, bool, error) {
			return comparisonResult(op, cmp.Compare(a, b)), true, nil
		})
	}
}

func comparisonKernel(op BinaryOp, operand octoframe.Type) (Kernel, error) {
	var kernel Kernel
	switch operand.TypeID {
	case octoframe.TypeIDNull:
		return func(ctx execution.Context, args []arrow.Array) (arrow.Array, error) {
			return batch.NullArray(ctx.Allocator, arrow.FixedWidthTypes.Boolean, args[0].Len()), nil
		}, nil
	case octoframe.TypeIDBoolean:
		kernel = func(ctx execution.Context, args []arrow.Array) (arrow.Array, error) {
			return mapValues2(ctx.Allocator, args[0], args[1], arrow.FixedWidthTypes.Boolean, func(a, b bool) (bool, bool, error) {
				return comparisonResult(op, cmp.Compare(boolToInt(a), boolToInt(b))), true, nil
			})
		}
	case octoframe.TypeIDInt8:
		kernel = orderedComparison[int8](op)
	case octoframe.TypeIDInt16:
		kernel = orderedComparison[int16](op)
	case octoframe.TypeIDInt32, octoframe.TypeIDDate:
		kernel = orderedComparison[int32](op)
	case octoframe.TypeIDInt64, octoframe.TypeIDDatetime, octoframe.TypeIDDuration:
		kernel = orderedComparison[int64](op)
	case octoframe.TypeIDUInt8:
		kernel = orderedComparison[uint8](op)
	case octoframe.TypeIDUInt16:
		kernel = orderedComparison[uint16](op)
	case octoframe.TypeIDUInt32:
		kernel = orderedComparison[uint32](op)
	case octoframe.TypeIDUInt64:
		kernel = orderedComparison[uint64](op)
	case octoframe.TypeIDFloat32:
		kernel = orderedComparison[float32](op)
	case octoframe.TypeIDFloat64:
		kernel = orderedComparison[float64](op)
	case octoframe.TypeIDString, octoframe.TypeIDCategorical:
		kernel = orderedComparison[string](op)
	case octoframe.TypeIDBinary:
		kernel = func(ctx execution.Context, args []arrow.Array) (arrow.Array, error) {
			return mapValues2(ctx.Allocator, args[0], args[1], arrow.FixedWidthTypes.Boolean, func(a, b []byte) (bool, bool, error) {
				return comparisonResult(op, bytes.Compare(a, b)), true, nil
			})
		}
	default:
		return nil, fmt.Errorf("unsupported operand type for %s: %s", op, operand)
	}
	if operand.IsTemporal() {
		inner := kernel
		kernel = func(ctx execution.Context, args []arrow.Array) (arrow.Array, error) {
			return inner(ctx, []arrow.Array{physical(args[0]), physical(args[1])})
		}
	}
	return kernel, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// booleanAt reads a boolean which may come from an array of the Null type.
func booleanAt(arr arrow.Array, i int) (value, valid bool) {
	if batch.IsNull(arr, i) {
		return false, false
	}
	return arr.(*array.Boolean).Value(i), true
}

// kleeneKernel implements three-valued and / or: false and null is false, true or null is true.
func kleeneKernel(op BinaryOp) Kernel {
	return func(ctx execution.Context, args []arrow.Array) (arrow.Array, error) {
		left, right := args[0], args[1]
		builder := array.NewBooleanBuilder(ctx.Allocator)
		defer builder.Release()
		builder.Reserve(left.Len())

		for i := 0; i < left.Len(); i++ {
			l, lValid := booleanAt(left, i)
			r, rValid := booleanAt(right, i)
			switch op {
			case BinaryOpAnd:
				switch {
				case (lValid && !l) || (rValid && !r):
					builder.Append(false)
				case lValid && rValid:
					builder.Append(true)
				default:
					builder.AppendNull()
				}
			case BinaryOpOr:
				switch {
				case (lValid && l) || (rValid && r):
					builder.Append(true)
				case lValid && rValid:
					builder.Append(false)
				default:
					builder.AppendNull()
				}
			}
		}
		return builder.NewArray(), nil
	}
}
