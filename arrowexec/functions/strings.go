package functions

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"
	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/octoframe"
)

func init() {
	registerStringFunction("upper", "Converts to upper case.", strings.ToUpper)
	registerStringFunction("lower", "Converts to lower case.", strings.ToLower)
	registerStringFunction("strip", "Removes leading and trailing whitespace.", strings.TrimSpace)

	register(Descriptor{
		Name:        "len_chars",
		Description: "Number of characters (not bytes).",
		Typecheck: func(args []octoframe.Type, params []octoframe.Value) ([]octoframe.Type, octoframe.Type, error) {
			argTypes, err := stringArgs("len_chars", args, params, 0)
			if err != nil {
				return nil, octoframe.Type{}, err
			}
			return argTypes, octoframe.UInt32.WithNullable(argTypes[0].Nullable), nil
		},
		Make: func(args []octoframe.Type, params []octoframe.Value, out octoframe.Type) (Kernel, error) {
			return func(ctx execution.Context, args []arrow.Array) (arrow.Array, error) {
				return mapValues(ctx.Allocator, args[0], arrow.PrimitiveTypes.Uint32, func(v string) (uint32, bool, error) {
					return uint32(utf8.RuneCountInString(v)), true, nil
				})
			}, nil
		},
	})

	register(Descriptor{
		Name:        "contains",
		Description: "Checks whether the string matches a regular expression, or contains a literal when the second parameter is true.",
		Typecheck: func(args []octoframe.Type, params []octoframe.Value) ([]octoframe.Type, octoframe.Type, error) {
			if len(params) == 2 {
				if params[1].Type.TypeID != octoframe.TypeIDBoolean {
					return nil, octoframe.Type{}, octoframe.NewTypeMismatchError("contains literal flag must be a Boolean")
				}
				params = params[:1]
			}
			return stringPredicateTypecheck("contains", args, params)
		},
		Make: func(args []octoframe.Type, params []octoframe.Value, out octoframe.Type) (Kernel, error) {
			pattern := params[0].Str
			if len(params) == 2 && params[1].Boolean {
				return stringPredicateKernel(func(v string) bool { return strings.Contains(v, pattern) }), nil
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, octoframe.NewTypeMismatchError("invalid pattern %q: %s", pattern, err)
			}
			return stringPredicateKernel(re.MatchString), nil
		},
	})
	register(Descriptor{
		Name:        "starts_with",
		Description: "Checks whether the string starts with the prefix.",
		Typecheck: func(args []octoframe.Type, params []octoframe.Value) ([]octoframe.Type, octoframe.Type, error) {
			return stringPredicateTypecheck("starts_with", args, params)
		},
		Make: func(args []octoframe.Type, params []octoframe.Value, out octoframe.Type) (Kernel, error) {
			prefix := params[0].Str
			return stringPredicateKernel(func(v string) bool { return strings.HasPrefix(v, prefix) }), nil
		},
	})
	register(Descriptor{
		Name:        "ends_with",
		Description: "Checks whether the string ends with the suffix.",
		Typecheck: func(args []octoframe.Type, params []octoframe.Value) ([]octoframe.Type, octoframe.Type, error) {
			return stringPredicateTypecheck("ends_with", args, params)
		},
		Make: func(args []octoframe.Type, params []octoframe.Value, out octoframe.Type) (Kernel, error) {
			suffix := params[0].Str
			return stringPredicateKernel(func(v string) bool { return strings.HasSuffix(v, suffix) }), nil
		},
	})

	register(Descriptor{
		Name:        "replace",
		Description: "Replaces all occurrences of a literal substring.",
		Typecheck: func(args []octoframe.Type, params []octoframe.Value) ([]octoframe.Type, octoframe.Type, error) {
			argTypes, err := stringArgs("replace", args, params, 2)
			if err != nil {
				return nil, octoframe.Type{}, err
			}
			for _, param := range params {
				if !param.Type.IsStringLike() {
					return nil, octoframe.Type{}, octoframe.NewTypeMismatchError("replace expects string parameters, got %s", param.Type)
				}
			}
			return argTypes, argTypes[0], nil
		},
		Make: func(args []octoframe.Type, params []octoframe.Value, out octoframe.Type) (Kernel, error) {
			old, replacement := params[0].Str, params[1].Str
			return stringMapKernel(func(v string) string { return strings.ReplaceAll(v, old, replacement) }), nil
		},
	})

	register(Descriptor{
		Name:        "substring",
		Description: "Substring by character offset (negative counts from the end) and optional length.",
		Typecheck: func(args []octoframe.Type, params []octoframe.Value) ([]octoframe.Type, octoframe.Type, error) {
			if len(params) < 1 || len(params) > 2 {
				return nil, octoframe.Type{}, octoframe.NewTypeMismatchError("substring expects an offset and an optional length")
			}
			for _, param := range params {
				if _, ok := param.AsInt(); !ok {
					return nil, octoframe.Type{}, octoframe.NewTypeMismatchError("substring expects integer parameters, got %s", param.Type)
				}
			}
			argTypes, err := stringArgs("substring", args, nil, 0)
			if err != nil {
				return nil, octoframe.Type{}, err
			}
			return argTypes, argTypes[0], nil
		},
		Make: func(args []octoframe.Type, params []octoframe.Value, out octoframe.Type) (Kernel, error) {
			offset, _ := params[0].AsInt()
			length := int64(-1)
			if len(params) == 2 {
				length, _ = params[1].AsInt()
			}
			return stringMapKernel(func(v string) string {
				return substring(v, int(offset), int(length))
			}), nil
		},
	})

	register(Descriptor{
		Name:        "concat_str",
		Description: "Concatenates the string representations of the arguments with an optional separator.",
		Typecheck: func(args []octoframe.Type, params []octoframe.Value) ([]octoframe.Type, octoframe.Type, error) {
			if len(args) == 0 {
				return nil, octoframe.Type{}, octoframe.NewTypeMismatchError("concat_str expects at least one argument")
			}
			if len(params) > 1 || (len(params) == 1 && !params[0].Type.IsStringLike()) {
				return nil, octoframe.Type{}, octoframe.NewTypeMismatchError("concat_str expects an optional string separator")
			}
			argTypes := make([]octoframe.Type, len(args))
			for i, arg := range args {
				if !octoframe.CanCast(arg, octoframe.String) {
					return nil, octoframe.Type{}, octoframe.NewTypeMismatchError("concat_str can't convert %s to String", arg)
				}
				argTypes[i] = octoframe.String.WithNullable(arg.Nullable)
			}
			return argTypes, octoframe.String.WithNullable(anyNullable(args)), nil
		},
		Make: func(args []octoframe.Type, params []octoframe.Value, out octoframe.Type) (Kernel, error) {
			var separator string
			if len(params) == 1 {
				separator = params[0].Str
			}
			return func(ctx execution.Context, args []arrow.Array) (arrow.Array, error) {
				builder := array.NewStringBuilder(ctx.Allocator)
				defer builder.Release()
				length := args[0].Len()
				builder.Reserve(length)

				parts := make([]string, len(args))
			rows:
				for i := 0; i < length; i++ {
					for j, arg := range args {
						if arg.IsNull(i) {
							builder.AppendNull()
							continue rows
						}
						parts[j] = arg.(*array.String).Value(i)
					}
					builder.Append(strings.Join(parts, separator))
				}
				return builder.NewArray(), nil
			}, nil
		},
	})
}

// stringArgs checks a single string-like argument and coerces it to String.
func stringArgs(name string, args []octoframe.Type, params []octoframe.Value, paramCount int) ([]octoframe.Type, error) {
	if err := expectArgs(name, args, params, 1, paramCount); err != nil {
		return nil, err
	}
	if !args[0].IsStringLike() && !args[0].IsNull() {
		return nil, octoframe.NewTypeMismatchError("%s expects a String argument, got %s", name, args[0])
	}
	return []octoframe.Type{octoframe.String.WithNullable(args[0].Nullable)}, nil
}

func registerStringFunction(name, description string, fn func(string) string) {
	register(Descriptor{
		Name:        name,
		Description: description,
		Typecheck: func(args []octoframe.Type, params []octoframe.Value) ([]octoframe.Type, octoframe.Type, error) {
			argTypes, err := stringArgs(name, args, params, 0)
			if err != nil {
				return nil, octoframe.Type{}, err
			}
			return argTypes, argTypes[0], nil
		},
		Make: func(args []octoframe.Type, params []octoframe.Value, out octoframe.Type) (Kernel, error) {
			return stringMapKernel(fn), nil
		},
	})
}

func stringPredicateTypecheck(name string, args []octoframe.Type, params []octoframe.Value) ([]octoframe.Type, octoframe.Type, error) {
	argTypes, err := stringArgs(name, args, params, 1)
	if err != nil {
		return nil, octoframe.Type{}, err
	}
	if !params[0].Type.IsStringLike() {
		return nil, octoframe.Type{}, octoframe.NewTypeMismatchError("%s expects a string parameter, got %s", name, params[0].Type)
	}
	return argTypes, octoframe.Boolean.WithNullable(argTypes[0].Nullable), nil
}

func stringMapKernel(fn func(string) string) Kernel {
	return func(ctx execution.Context, args []arrow.Array) (arrow.Array, error) {
		return mapValues(ctx.Allocator, args[0], arrow.BinaryTypes.String, func(v string) (string, bool, error) {
			return fn(v), true, nil
		})
	}
}

func stringPredicateKernel(fn func(string) bool) Kernel {
	return func(ctx execution.Context, args []arrow.Array) (arrow.Array, error) {
		return mapValues(ctx.Allocator, args[0], arrow.FixedWidthTypes.Boolean, func(v string) (bool, bool, error) {
			return fn(v), true, nil
		})
	}
}

// substring slices by characters. Out of range bounds are clamped.
func substring(s string, offset, length int) string {
	if utf8.RuneCountInString(s) == len(s) {
		start, end := substringBounds(len(s), offset, length)
		return s[start:end]
	}
	runes := []rune(s)
	start, end := substringBounds(len(runes), offset, length)
	return string(runes[start:end])
}

func substringBounds(n, offset, length int) (int, int) {
	start := offset
	if start < 0 {
		start = n + start
	}
	if start < 0 {
		start = 0
	}
	if start > n {
		start = n
	}
	end := n
	if length >= 0 && start+length < n {
		end = start + length
	}
	return start, end
}
