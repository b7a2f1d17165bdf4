package functions

import (
	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"
	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/batch"
	"github.com/cube2222/octoframe/octoframe"
	"github.com/pkg/errors"
)

func init() {
	register(Descriptor{
		Name:        "coalesce",
		Description: "First non-null argument.",
		NullAware:   true,
		Typecheck: func(args []octoframe.Type, params []octoframe.Value) ([]octoframe.Type, octoframe.Type, error) {
			if err := expectArgs("coalesce", args, params, -1, 0); err != nil {
				return nil, octoframe.Type{}, err
			}
			if len(args) == 0 {
				return nil, octoframe.Type{}, octoframe.NewTypeMismatchError("coalesce expects at least one argument")
			}
			super := args[0]
			for _, arg := range args[1:] {
				var ok bool
				if super, ok = octoframe.Supertype(super, arg); !ok {
					return nil, octoframe.Type{}, octoframe.NewTypeMismatchError("coalesce arguments %s and %s have no common type", super, arg)
				}
			}
			nullable := true
			for _, arg := range args {
				if !arg.Nullable {
					nullable = false
				}
			}
			argTypes := make([]octoframe.Type, len(args))
			for i := range args {
				argTypes[i] = super.WithNullable(args[i].Nullable)
			}
			return argTypes, super.WithNullable(nullable), nil
		},
		Make: func(args []octoframe.Type, params []octoframe.Value, out octoframe.Type) (Kernel, error) {
			outType := out.ToArrow()
			return func(ctx execution.Context, args []arrow.Array) (arrow.Array, error) {
				builder := array.NewBuilder(ctx.Allocator, outType)
				defer builder.Release()
				length := args[0].Len()
				builder.Reserve(length)

				appenders := make([]func(int), len(args))
				for i := range args {
					if args[i].DataType().ID() != arrow.NULL {
						appenders[i] = batch.MakeAppender(builder, args[i])
					}
				}
			rows:
				for row := 0; row < length; row++ {
					for i := range args {
						if !batch.IsNull(args[i], row) {
							appenders[i](row)
							continue rows
						}
					}
					builder.AppendNull()
				}
				return builder.NewArray(), nil
			}, nil
		},
	})

	register(Descriptor{
		Name:        "fill_null",
		Description: "Replaces nulls with the given value.",
		NullAware:   true,
		Typecheck: func(args []octoframe.Type, params []octoframe.Value) ([]octoframe.Type, octoframe.Type, error) {
			if err := expectArgs("fill_null", args, params, 1, 1); err != nil {
				return nil, octoframe.Type{}, err
			}
			super, ok := octoframe.Supertype(args[0], params[0].Type)
			if !ok {
				return nil, octoframe.Type{}, octoframe.NewTypeMismatchError("can't fill nulls of %s with %s", args[0], params[0].Type)
			}
			return []octoframe.Type{super.WithNullable(args[0].Nullable)}, super.WithNullable(params[0].Type.IsNull()), nil
		},
		Make: func(args []octoframe.Type, params []octoframe.Value, out octoframe.Type) (Kernel, error) {
			outType := out.ToArrow()
			fill := params[0].GoValue()
			return func(ctx execution.Context, args []arrow.Array) (arrow.Array, error) {
				builder := array.NewBuilder(ctx.Allocator, outType)
				defer builder.Release()
				builder.Reserve(args[0].Len())

				var appendValue func(int)
				if args[0].DataType().ID() != arrow.NULL {
					appendValue = batch.MakeAppender(builder, args[0])
				}
				for row := 0; row < args[0].Len(); row++ {
					if !batch.IsNull(args[0], row) {
						appendValue(row)
						continue
					}
					if err := batch.AppendValue(builder, fill); err != nil {
						return nil, errors.Wrap(err, "couldn't append fill value")
					}
				}
				return builder.NewArray(), nil
			}, nil
		},
	})

	register(Descriptor{
		Name:        "list_get",
		Description: "List element at the given index, negative indices count from the end. Out of bounds yields null.",
		Typecheck: func(args []octoframe.Type, params []octoframe.Value) ([]octoframe.Type, octoframe.Type, error) {
			if err := expectArgs("list_get", args, params, 1, 1); err != nil {
				return nil, octoframe.Type{}, err
			}
			if args[0].TypeID != octoframe.TypeIDList {
				return nil, octoframe.Type{}, octoframe.NewTypeMismatchError("list_get expects a List, got %s", args[0])
			}
			if _, ok := params[0].AsInt(); !ok {
				return nil, octoframe.Type{}, octoframe.NewTypeMismatchError("list_get expects an integer index, got %s", params[0].Type)
			}
			return args, args[0].List.Element.WithNullable(true), nil
		},
		Make: func(args []octoframe.Type, params []octoframe.Value, out octoframe.Type) (Kernel, error) {
			index, _ := params[0].AsInt()
			size := int64(args[0].List.Size)
			if index < 0 {
				index += size
			}
			outType := out.ToArrow()
			return func(ctx execution.Context, args []arrow.Array) (arrow.Array, error) {
				list := args[0].(*array.FixedSizeList)
				builder := array.NewBuilder(ctx.Allocator, outType)
				defer builder.Release()
				builder.Reserve(list.Len())

				appendElement := batch.MakeAppender(builder, list.ListValues())
				for row := 0; row < list.Len(); row++ {
					if list.IsNull(row) || index < 0 || index >= size {
						builder.AppendNull()
						continue
					}
					appendElement((list.Data().Offset()+row)*int(size) + int(index))
				}
				return builder.NewArray(), nil
			}, nil
		},
	})

	register(Descriptor{
		Name:        "list_len",
		Description: "Number of elements of the list.",
		Typecheck: func(args []octoframe.Type, params []octoframe.Value) ([]octoframe.Type, octoframe.Type, error) {
			if err := expectArgs("list_len", args, params, 1, 0); err != nil {
				return nil, octoframe.Type{}, err
			}
			if args[0].TypeID != octoframe.TypeIDList {
				return nil, octoframe.Type{}, octoframe.NewTypeMismatchError("list_len expects a List, got %s", args[0])
			}
			return args, octoframe.Int64.WithNullable(args[0].Nullable), nil
		},
		Make: func(args []octoframe.Type, params []octoframe.Value, out octoframe.Type) (Kernel, error) {
			size := int64(args[0].List.Size)
			return func(ctx execution.Context, args []arrow.Array) (arrow.Array, error) {
				builder := array.NewInt64Builder(ctx.Allocator)
				defer builder.Release()
				builder.Reserve(args[0].Len())
				for row := 0; row < args[0].Len(); row++ {
					if args[0].IsNull(row) {
						builder.AppendNull()
						continue
					}
					builder.Append(size)
				}
				return builder.NewArray(), nil
			}, nil
		},
	})

	register(Descriptor{
		Name:        "struct_field",
		Description: "Extracts a field of a struct.",
		Typecheck: func(args []octoframe.Type, params []octoframe.Value) ([]octoframe.Type, octoframe.Type, error) {
			if err := expectArgs("struct_field", args, params, 1, 1); err != nil {
				return nil, octoframe.Type{}, err
			}
			if args[0].TypeID != octoframe.TypeIDStruct {
				return nil, octoframe.Type{}, octoframe.NewTypeMismatchError("struct_field expects a Struct, got %s", args[0])
			}
			index := structFieldIndex(args[0], params[0].Str)
			if index == -1 {
				names := make([]string, len(args[0].Struct.Fields))
				for i, field := range args[0].Struct.Fields {
					names[i] = field.Name
				}
				return nil, octoframe.Type{}, octoframe.NewUnresolvedColumnError(params[0].Str, names)
			}
			field := args[0].Struct.Fields[index].Type
			return args, field.WithNullable(field.Nullable || args[0].Nullable), nil
		},
		Make: func(args []octoframe.Type, params []octoframe.Value, out octoframe.Type) (Kernel, error) {
			index := structFieldIndex(args[0], params[0].Str)
			outType := out.ToArrow()
			return func(ctx execution.Context, args []arrow.Array) (arrow.Array, error) {
				structArr := args[0].(*array.Struct)
				field := structArr.Field(index)
				if structArr.NullN() == 0 {
					field.Retain()
					return field, nil
				}
				builder := array.NewBuilder(ctx.Allocator, outType)
				defer builder.Release()
				builder.Reserve(structArr.Len())
				appendField := batch.MakeAppender(builder, field)
				for row := 0; row < structArr.Len(); row++ {
					if structArr.IsNull(row) {
						builder.AppendNull()
						continue
					}
					appendField(row)
				}
				return builder.NewArray(), nil
			}, nil
		},
	})

	register(Descriptor{
		Name:        "is_in",
		Description: "Checks whether the value is one of the given values.",
		Typecheck: func(args []octoframe.Type, params []octoframe.Value) ([]octoframe.Type, octoframe.Type, error) {
			if err := expectArgs("is_in", args, params, 1, -1); err != nil {
				return nil, octoframe.Type{}, err
			}
			if !args[0].IsHashable() {
				return nil, octoframe.Type{}, octoframe.NewTypeMismatchError("is_in can't compare values of %s", args[0])
			}
			for _, param := range params {
				if !param.Type.IsNull() && !octoframe.CanCoerce(param.Type.WithNullable(false), args[0].WithNullable(false)) {
					return nil, octoframe.Type{}, octoframe.NewTypeMismatchError("is_in value %s isn't compatible with %s", param, args[0])
				}
			}
			return args, octoframe.Boolean.WithNullable(args[0].Nullable), nil
		},
		Make: func(args []octoframe.Type, params []octoframe.Value, out octoframe.Type) (Kernel, error) {
			valueType := args[0].ToArrow()
			return func(ctx execution.Context, args []arrow.Array) (arrow.Array, error) {
				set, err := valueSet(ctx, valueType, params)
				if err != nil {
					return nil, err
				}
				builder := array.NewBooleanBuilder(ctx.Allocator)
				defer builder.Release()
				builder.Reserve(args[0].Len())
				for row := 0; row < args[0].Len(); row++ {
					if args[0].IsNull(row) {
						builder.AppendNull()
						continue
					}
					_, ok := set[setKey(batch.Value(args[0], row))]
					builder.Append(ok)
				}
				return builder.NewArray(), nil
			}, nil
		},
	})
}

func structFieldIndex(t octoframe.Type, name string) int {
	for i, field := range t.Struct.Fields {
		if field.Name == name {
			return i
		}
	}
	return -1
}

// valueSet converts literal values to the column's type, so that they read back in the same representation as rows.
func valueSet(ctx execution.Context, dt arrow.DataType, values []octoframe.Value) (map[any]struct{}, error) {
	builder := array.NewBuilder(ctx.Allocator, dt)
	defer builder.Release()
	for _, value := range values {
		if value.Type.IsNull() {
			continue
		}
		if err := batch.AppendValue(builder, value.GoValue()); err != nil {
			return nil, errors.Wrapf(err, "invalid is_in value %s", value)
		}
	}
	arr := builder.NewArray()
	defer arr.Release()

	out := make(map[any]struct{}, arr.Len())
	for i := 0; i < arr.Len(); i++ {
		out[setKey(batch.Value(arr, i))] = struct{}{}
	}
	return out, nil
}

func setKey(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
