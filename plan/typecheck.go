package plan

import (
	"math"

	"github.com/cube2222/octoframe/arrowexec/aggregates"
	"github.com/cube2222/octoframe/arrowexec/functions"
	"github.com/cube2222/octoframe/arrowexec/windows"
	"github.com/cube2222/octoframe/octoframe"
	"github.com/pkg/errors"
)

// Coerce converts expr to the target type, inserting a cast when the types differ.
// Dynamic literals are retyped in place when the target can represent them.
func Coerce(expr Expression, target octoframe.Type) (Expression, error) {
	if expr.Type.EqualsIgnoringNullability(target) {
		return expr, nil
	}
	if expr.ExpressionType == ExpressionTypeLiteral {
		if value, ok := retypeLiteral(expr.Literal.Value, target); ok {
			out := NewLiteral(value)
			out.Literal.Dynamic = expr.Literal.Dynamic
			return out, nil
		}
	}
	if !expr.Type.IsNull() {
		if super, ok := octoframe.Supertype(expr.Type, target); !ok || !super.EqualsIgnoringNullability(target) {
			return Expression{}, octoframe.NewTypeMismatchError("can't coerce %s to %s", expr.Type, target)
		}
	}
	return Expression{
		Type:           target.WithNullable(expr.Type.Nullable || target.Nullable && expr.Type.IsNull()),
		ExpressionType: ExpressionTypeCast,
		Cast: &Cast{
			Arg: expr,
		},
	}, nil
}

// retypeLiteral converts a numeric literal to another numeric type if the value fits.
func retypeLiteral(value octoframe.Value, target octoframe.Type) (octoframe.Value, bool) {
	if !value.Type.IsNumeric() || !target.IsNumeric() {
		return octoframe.Value{}, false
	}
	target = target.WithNullable(false)
	switch {
	case target.IsFloat():
		f, _ := value.AsFloat()
		if target.TypeID == octoframe.TypeIDFloat32 && math.Abs(f) > math.MaxFloat32 {
			return octoframe.Value{}, false
		}
		return octoframe.NewFloat(target, f), true
	case value.Type.IsFloat():
		return octoframe.Value{}, false
	case target.IsSignedInteger():
		if value.Type.IsUnsignedInteger() && value.Uint > math.MaxInt64 {
			return octoframe.Value{}, false
		}
		v, _ := value.AsInt()
		bits := target.BitWidth()
		if bits < 64 && (v < -(1<<(bits-1)) || v >= 1<<(bits-1)) {
			return octoframe.Value{}, false
		}
		return octoframe.NewInt(target, v), true
	default:
		var v uint64
		if value.Type.IsSignedInteger() {
			if value.Int < 0 {
				return octoframe.Value{}, false
			}
			v = uint64(value.Int)
		} else {
			v = value.Uint
		}
		bits := target.BitWidth()
		if bits < 64 && v >= 1<<bits {
			return octoframe.Value{}, false
		}
		return octoframe.NewUInt(target, v), true
	}
}

func isDynamicLiteral(expr Expression) bool {
	return expr.ExpressionType == ExpressionTypeLiteral && expr.Literal.Dynamic
}

func NewUnaryExpression(op functions.UnaryOp, arg Expression) (Expression, error) {
	out, err := functions.UnaryTypecheck(op, arg.Type)
	if err != nil {
		return Expression{}, err
	}
	if op == functions.UnaryOpNot || op == functions.UnaryOpNegate {
		target := out
		if arg.Type.IsNull() {
			target = out.WithNullable(true)
		}
		if arg, err = Coerce(arg, target); err != nil {
			return Expression{}, err
		}
	}
	return Expression{
		Type:           out,
		ExpressionType: ExpressionTypeUnary,
		Unary: &Unary{
			Op:  op,
			Arg: arg,
		},
	}, nil
}

func NewBinaryExpression(op functions.BinaryOp, left, right Expression) (Expression, error) {
	// Dynamic literals adopt the type of the other operand.
	if isDynamicLiteral(left) && !isDynamicLiteral(right) {
		if value, ok := retypeLiteral(left.Literal.Value, right.Type); ok {
			left = NewDynamicLiteral(value)
		}
	} else if isDynamicLiteral(right) && !isDynamicLiteral(left) {
		if value, ok := retypeLiteral(right.Literal.Value, left.Type); ok {
			right = NewDynamicLiteral(value)
		}
	}

	leftTarget, rightTarget, out, err := functions.BinaryTypecheck(op, left.Type, right.Type)
	if err != nil {
		return Expression{}, err
	}
	if left, err = Coerce(left, leftTarget); err != nil {
		return Expression{}, errors.Wrapf(err, "left operand of %s", op)
	}
	if right, err = Coerce(right, rightTarget); err != nil {
		return Expression{}, errors.Wrapf(err, "right operand of %s", op)
	}
	return Expression{
		Type:           out,
		ExpressionType: ExpressionTypeBinary,
		Binary: &Binary{
			Op:    op,
			Left:  left,
			Right: right,
		},
	}, nil
}

func NewFunctionCallExpression(name string, args []Expression, params []octoframe.Value) (Expression, error) {
	descriptor, ok := functions.Lookup(name)
	if !ok {
		return Expression{}, octoframe.NewInvalidPlanError("unknown function %s", name)
	}
	argTypes := make([]octoframe.Type, len(args))
	for i := range args {
		argTypes[i] = args[i].Type
	}
	targets, out, err := descriptor.Typecheck(argTypes, params)
	if err != nil {
		return Expression{}, err
	}
	coerced := make([]Expression, len(args))
	for i := range args {
		if coerced[i], err = Coerce(args[i], targets[i]); err != nil {
			return Expression{}, errors.Wrapf(err, "argument %d of %s", i, name)
		}
	}
	return Expression{
		Type:           out,
		ExpressionType: ExpressionTypeFunctionCall,
		FunctionCall: &FunctionCall{
			Name:   name,
			Args:   coerced,
			Params: params,
		},
	}, nil
}

func NewCastExpression(arg Expression, to octoframe.Type, strict bool) (Expression, error) {
	if !octoframe.CanCast(arg.Type, to) {
		return Expression{}, octoframe.NewTypeMismatchError("can't cast %s to %s", arg.Type, to)
	}
	// Non-strict casts produce nulls for values which can't be converted.
	nullable := arg.Type.Nullable || !strict && !arg.Type.EqualsIgnoringNullability(to)
	return Expression{
		Type:           to.WithNullable(nullable),
		ExpressionType: ExpressionTypeCast,
		Cast: &Cast{
			Arg:    arg,
			Strict: strict,
		},
	}, nil
}

func NewConditionalExpression(condition, then, otherwise Expression) (Expression, error) {
	if condition.Type.TypeID != octoframe.TypeIDBoolean && !condition.Type.IsNull() {
		return Expression{}, octoframe.NewTypeMismatchError("condition must be Boolean, got %s", condition.Type)
	}
	condition, err := Coerce(condition, octoframe.Boolean.WithNullable(condition.Type.Nullable))
	if err != nil {
		return Expression{}, err
	}
	if isDynamicLiteral(then) && !isDynamicLiteral(otherwise) {
		if value, ok := retypeLiteral(then.Literal.Value, otherwise.Type); ok {
			then = NewDynamicLiteral(value)
		}
	} else if isDynamicLiteral(otherwise) && !isDynamicLiteral(then) {
		if value, ok := retypeLiteral(otherwise.Literal.Value, then.Type); ok {
			otherwise = NewDynamicLiteral(value)
		}
	}
	super, ok := octoframe.Supertype(then.Type, otherwise.Type)
	if !ok {
		return Expression{}, octoframe.NewTypeMismatchError("when branches have incompatible types %s and %s", then.Type, otherwise.Type)
	}
	if then, err = Coerce(then, super); err != nil {
		return Expression{}, err
	}
	if otherwise, err = Coerce(otherwise, super); err != nil {
		return Expression{}, err
	}
	return Expression{
		Type:           super,
		ExpressionType: ExpressionTypeConditional,
		Conditional: &Conditional{
			Condition: condition,
			Then:      then,
			Else:      otherwise,
		},
	}, nil
}

// NewAggregateExpression typechecks an aggregate function call. The argument is nil for len.
func NewAggregateExpression(name string, arg *Expression) (Expression, error) {
	details, ok := aggregates.Lookup(name)
	if !ok {
		return Expression{}, octoframe.NewInvalidPlanError("unknown aggregate %s", name)
	}
	argType := octoframe.Null
	if arg != nil {
		if arg.ContainsAggregate() || arg.ContainsWindow() {
			return Expression{}, errors.Wrapf(octoframe.ErrInvalidContext, "argument of %s can't contain aggregates or windows", name)
		}
		argType = arg.Type
	}
	target, out, err := details.Typecheck(argType)
	if err != nil {
		return Expression{}, err
	}
	var coercedArg *Expression
	if arg != nil {
		coerced, err := Coerce(*arg, target)
		if err != nil {
			return Expression{}, err
		}
		coercedArg = &coerced
	}
	return Expression{
		Type:           out,
		ExpressionType: ExpressionTypeAggregate,
		Aggregate: &AggregateFunction{
			Name: name,
			Arg:  coercedArg,
		},
	}, nil
}

// NewWindowExpression typechecks a window function. Over takes an aggregate expression instead of an argument.
func NewWindowExpression(function windows.Function, options windows.Options, arg *Expression, aggregate *Expression, partitionBy []Expression) (Expression, error) {
	for i := range partitionBy {
		if !partitionBy[i].Type.IsHashable() {
			return Expression{}, octoframe.NewTypeMismatchError("can't partition by %s", partitionBy[i].Type)
		}
		if partitionBy[i].ContainsAggregate() || partitionBy[i].ContainsWindow() {
			return Expression{}, errors.Wrap(octoframe.ErrInvalidContext, "partition keys can't contain aggregates or windows")
		}
	}

	if function == windows.FunctionOver {
		if aggregate == nil || aggregate.ExpressionType != ExpressionTypeAggregate {
			return Expression{}, octoframe.NewInvalidPlanError("over needs an aggregate")
		}
		return Expression{
			Type:           aggregate.Type,
			ExpressionType: ExpressionTypeWindow,
			Window: &WindowFunction{
				Function:    function,
				Options:     options,
				Aggregate:   aggregate,
				PartitionBy: partitionBy,
			},
		}, nil
	}

	argType := octoframe.Null
	if arg != nil {
		if arg.ContainsAggregate() || arg.ContainsWindow() {
			return Expression{}, errors.Wrapf(octoframe.ErrInvalidContext, "argument of %s can't contain aggregates or windows", function)
		}
		argType = arg.Type
	} else if function != windows.FunctionRowNumber {
		return Expression{}, octoframe.NewInvalidPlanError("%s needs an argument", function)
	}
	target, out, err := windows.Typecheck(function, argType, options)
	if err != nil {
		return Expression{}, err
	}
	var coercedArg *Expression
	if arg != nil {
		coerced, err := Coerce(*arg, target)
		if err != nil {
			return Expression{}, err
		}
		coercedArg = &coerced
	}
	return Expression{
		Type:           out,
		ExpressionType: ExpressionTypeWindow,
		Window: &WindowFunction{
			Function:    function,
			Options:     options,
			Arg:         coercedArg,
			PartitionBy: partitionBy,
		},
	}, nil
}
