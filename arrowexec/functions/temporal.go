package functions

import (
	"time"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/octoframe"
)

const microsPerDay = int64(24 * time.Hour / time.Microsecond)

func init() {
	registerTemporalPart("year", "Calendar year.", octoframe.Int32, false, func(t time.Time) int64 { return int64(t.Year()) })
	registerTemporalPart("month", "Month, 1 to 12.", octoframe.Int8, false, func(t time.Time) int64 { return int64(t.Month()) })
	registerTemporalPart("day", "Day of the month.", octoframe.Int8, false, func(t time.Time) int64 { return int64(t.Day()) })
	registerTemporalPart("weekday", "ISO weekday, Monday is 1 and Sunday is 7.", octoframe.Int8, false, func(t time.Time) int64 {
		if t.Weekday() == time.Sunday {
			return 7
		}
		return int64(t.Weekday())
	})
	registerTemporalPart("hour", "Hour of the day.", octoframe.Int8, true, func(t time.Time) int64 { return int64(t.Hour()) })
	registerTemporalPart("minute", "Minute of the hour.", octoframe.Int8, true, func(t time.Time) int64 { return int64(t.Minute()) })
	registerTemporalPart("second", "Second of the minute.", octoframe.Int8, true, func(t time.Time) int64 { return int64(t.Second()) })

	register(Descriptor{
		Name:        "truncate_days",
		Description: "Truncates dates and datetimes to a multiple of the given number of days since the epoch.",
		Typecheck: func(args []octoframe.Type, params []octoframe.Value) ([]octoframe.Type, octoframe.Type, error) {
			if err := expectArgs("truncate_days", args, params, 1, 1); err != nil {
				return nil, octoframe.Type{}, err
			}
			if every, ok := params[0].AsInt(); !ok || every <= 0 {
				return nil, octoframe.Type{}, octoframe.NewTypeMismatchError("truncate_days expects a positive integer, got %s", params[0])
			}
			if args[0].TypeID != octoframe.TypeIDDate && args[0].TypeID != octoframe.TypeIDDatetime {
				return nil, octoframe.Type{}, octoframe.NewTypeMismatchError("truncate_days expects a Date or Datetime, got %s", args[0])
			}
			return args, args[0], nil
		},
		Make: func(args []octoframe.Type, params []octoframe.Value, out octoframe.Type) (Kernel, error) {
			every, _ := params[0].AsInt()
			outType := out.ToArrow()
			if args[0].TypeID == octoframe.TypeIDDate {
				return func(ctx execution.Context, args []arrow.Array) (arrow.Array, error) {
					result, err := mapValues(ctx.Allocator, physical(args[0]), arrow.PrimitiveTypes.Int32, func(v int32) (int32, bool, error) {
						return int32(floorMultiple(int64(v), every)), true, nil
					})
					if err != nil {
						return nil, err
					}
					return retype(result, outType), nil
				}, nil
			}
			step := every * microsPerDay
			return func(ctx execution.Context, args []arrow.Array) (arrow.Array, error) {
				result, err := mapValues(ctx.Allocator, physical(args[0]), arrow.PrimitiveTypes.Int64, func(v int64) (int64, bool, error) {
					return floorMultiple(v, step), true, nil
				})
				if err != nil {
					return nil, err
				}
				return retype(result, outType), nil
			}, nil
		},
	})
}

func floorMultiple(v, step int64) int64 {
	q := v / step
	if v%step != 0 && v < 0 {
		q--
	}
	return q * step
}

// registerTemporalPart registers a function extracting a calendar field. Time of day fields need a Datetime,
// dates are coerced to midnight.
func registerTemporalPart(name, description string, out octoframe.Type, timeOfDay bool, extract func(t time.Time) int64) {
	register(Descriptor{
		Name:        name,
		Description: description,
		Typecheck: func(args []octoframe.Type, params []octoframe.Value) ([]octoframe.Type, octoframe.Type, error) {
			if err := expectArgs(name, args, params, 1, 0); err != nil {
				return nil, octoframe.Type{}, err
			}
			switch args[0].TypeID {
			case octoframe.TypeIDDatetime:
			case octoframe.TypeIDDate:
				if timeOfDay {
					return []octoframe.Type{octoframe.Datetime.WithNullable(args[0].Nullable)}, out.WithNullable(args[0].Nullable), nil
				}
			case octoframe.TypeIDNull:
				return []octoframe.Type{octoframe.Datetime.WithNullable(true)}, out.WithNullable(true), nil
			default:
				return nil, octoframe.Type{}, octoframe.NewTypeMismatchError("%s expects a Date or Datetime, got %s", name, args[0])
			}
			return args, out.WithNullable(args[0].Nullable), nil
		},
		Make: func(args []octoframe.Type, params []octoframe.Value, outType octoframe.Type) (Kernel, error) {
			isDate := args[0].TypeID == octoframe.TypeIDDate
			arrowOut := outType.ToArrow()
			return func(ctx execution.Context, args []arrow.Array) (arrow.Array, error) {
				toTime := func(v int64) time.Time {
					if isDate {
						return time.Unix(v*int64(24*60*60), 0).UTC()
					}
					return time.UnixMicro(v).UTC()
				}
				switch arrowOut.ID() {
				case arrow.INT32:
					if isDate {
						return mapValues(ctx.Allocator, physical(args[0]), arrowOut, func(v int32) (int32, bool, error) {
							return int32(extract(toTime(int64(v)))), true, nil
						})
					}
					return mapValues(ctx.Allocator, physical(args[0]), arrowOut, func(v int64) (int32, bool, error) {
						return int32(extract(toTime(v))), true, nil
					})
				default:
					if isDate {
						return mapValues(ctx.Allocator, physical(args[0]), arrowOut, func(v int32) (int8, bool, error) {
							return int8(extract(toTime(int64(v)))), true, nil
						})
					}
					return mapValues(ctx.Allocator, physical(args[0]), arrowOut, func(v int64) (int8, bool, error) {
						return int8(extract(toTime(v))), true, nil
					})
				}
			}, nil
		},
	})
}
