package functions

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"
	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/batch"
	"github.com/cube2222/octoframe/octoframe"
	"github.com/pkg/errors"
)

const (
	dateLayout     = "2006-01-02"
	datetimeLayout = "2006-01-02 15:04:05.999999"
)

var datetimeParseLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999",
	"2006-01-02T15:04:05.999999",
	dateLayout,
}

// MakeCastKernel converts arrays of type from into arrays of type to.
// Strict casts fail on values which can't be converted, other casts produce nulls.
func MakeCastKernel(from, to octoframe.Type, strictCast bool) (Kernel, error) {
	if !octoframe.CanCast(from, to) {
		return nil, octoframe.NewTypeMismatchError("can't cast %s to %s", from, to)
	}
	outType := to.ToArrow()
	if from.TypeID == octoframe.TypeIDNull {
		return func(ctx execution.Context, args []arrow.Array) (arrow.Array, error) {
			return batch.NullArray(ctx.Allocator, outType, args[0].Len()), nil
		}, nil
	}
	if arrow.TypeEqual(from.ToArrow(), outType) {
		return func(ctx execution.Context, args []arrow.Array) (arrow.Array, error) {
			args[0].Retain()
			return args[0], nil
		}, nil
	}

	return func(ctx execution.Context, args []arrow.Array) (arrow.Array, error) {
		arg := args[0]
		builder := array.NewBuilder(ctx.Allocator, outType)
		defer builder.Release()
		builder.Reserve(arg.Len())

		for i := 0; i < arg.Len(); i++ {
			if arg.IsNull(i) {
				builder.AppendNull()
				continue
			}
			value := batch.Value(arg, i)
			converted, err := castValue(value, from, to)
			if err == nil {
				err = batch.AppendValue(builder, converted)
			}
			if err != nil {
				if strictCast {
					return nil, errors.Wrapf(err, "couldn't cast %v from %s to %s", value, from, to)
				}
				builder.AppendNull()
			}
		}
		return builder.NewArray(), nil
	}, nil
}

// castValue converts a Go value as returned by batch.Value into the representation batch.AppendValue expects for to.
func castValue(value any, from, to octoframe.Type) (any, error) {
	switch {
	case to.TypeID == octoframe.TypeIDString || to.TypeID == octoframe.TypeIDCategorical:
		return formatValue(value, from), nil

	case to.TypeID == octoframe.TypeIDBinary:
		return []byte(value.(string)), nil

	case to.TypeID == octoframe.TypeIDBoolean:
		switch v := value.(type) {
		case string:
			return strconv.ParseBool(strings.TrimSpace(v))
		default:
			f, err := numericValue(value, from)
			if err != nil {
				return nil, err
			}
			return f != 0, nil
		}

	case to.IsInteger():
		switch v := value.(type) {
		case string:
			s := strings.TrimSpace(v)
			if to.IsUnsignedInteger() {
				return strconv.ParseUint(s, 10, 64)
			}
			return strconv.ParseInt(s, 10, 64)
		case float32:
			return floatToInteger(float64(v))
		case float64:
			return floatToInteger(v)
		case bool:
			if v {
				return int64(1), nil
			}
			return int64(0), nil
		case time.Time, time.Duration:
			return temporalValue(value, from), nil
		}
		return value, nil

	case to.IsFloat():
		switch v := value.(type) {
		case string:
			return strconv.ParseFloat(strings.TrimSpace(v), 64)
		case uint64:
			return float64(v), nil
		}
		return numericValue(value, from)

	case to.TypeID == octoframe.TypeIDDate || to.TypeID == octoframe.TypeIDDatetime:
		switch v := value.(type) {
		case time.Time:
			if to.TypeID == octoframe.TypeIDDate {
				return time.Date(v.Year(), v.Month(), v.Day(), 0, 0, 0, 0, time.UTC), nil
			}
			return v, nil
		case string:
			return parseTime(strings.TrimSpace(v))
		default:
			n, err := numericValue(value, from)
			if err != nil {
				return nil, err
			}
			if to.TypeID == octoframe.TypeIDDate {
				return arrow.Date32(int32(n)), nil
			}
			return arrow.Timestamp(int64(n)), nil
		}

	case to.TypeID == octoframe.TypeIDDuration:
		n, err := numericValue(value, from)
		if err != nil {
			return nil, err
		}
		return arrow.Duration(int64(n)), nil

	case to.TypeID == octoframe.TypeIDList:
		values := value.([]any)
		out := make([]any, len(values))
		for i := range values {
			if values[i] == nil {
				continue
			}
			converted, err := castValue(values[i], *from.List.Element, *to.List.Element)
			if err != nil {
				return nil, errors.Wrapf(err, "list element %d", i)
			}
			out[i] = converted
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported cast from %s to %s", from, to)
}

func floatToInteger(f float64) (int64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, errors.Errorf("value %v out of integer range", f)
	}
	return int64(f), nil
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range datetimeParseLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.Errorf("invalid date or datetime: %q", s)
}

// temporalValue returns the physical integer of a temporal value.
func temporalValue(value any, t octoframe.Type) int64 {
	switch v := value.(type) {
	case time.Time:
		if t.TypeID == octoframe.TypeIDDate {
			return int64(arrow.Date32FromTime(v))
		}
		return v.UnixMicro()
	case time.Duration:
		return int64(v / time.Microsecond)
	}
	panic(fmt.Sprintf("not a temporal value: %T", value))
}

func numericValue(value any, t octoframe.Type) (float64, error) {
	switch v := value.(type) {
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case int8:
		return float64(v), nil
	case int16:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint8:
		return float64(v), nil
	case uint16:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case float32:
		return float64(v), nil
	case float64:
		return v, nil
	case time.Time, time.Duration:
		return float64(temporalValue(value, t)), nil
	}
	return 0, errors.Errorf("expected number, got %T", value)
}

func formatValue(value any, t octoframe.Type) string {
	switch v := value.(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case bool:
		return strconv.FormatBool(v)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case time.Time:
		if t.TypeID == octoframe.TypeIDDate {
			return v.Format(dateLayout)
		}
		return v.Format(datetimeLayout)
	case time.Duration:
		return v.String()
	}
	return fmt.Sprint(value)
}
