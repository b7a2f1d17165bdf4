package octoframe

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Value is a single typed value, used for literals.
// A Value of type Null represents the null literal.
type Value struct {
	Type     Type
	Int      int64
	Uint     uint64
	Float    float64
	Boolean  bool
	Str      string
	Bytes    []byte
	Time     time.Time
	Duration time.Duration
	List     []Value
	Struct   []Value
}

func NewNull() Value {
	return Value{Type: Null}
}

func NewBoolean(v bool) Value {
	return Value{Type: Boolean, Boolean: v}
}

func NewInt64(v int64) Value {
	return Value{Type: Int64, Int: v}
}

// NewInt creates a signed integer value of the given integer type.
func NewInt(t Type, v int64) Value {
	return Value{Type: t, Int: v}
}

func NewUInt(t Type, v uint64) Value {
	return Value{Type: t, Uint: v}
}

func NewFloat64(v float64) Value {
	return Value{Type: Float64, Float: v}
}

func NewFloat(t Type, v float64) Value {
	return Value{Type: t, Float: v}
}

func NewString(v string) Value {
	return Value{Type: String, Str: v}
}

func NewCategorical(v string) Value {
	return Value{Type: Categorical, Str: v}
}

func NewBinary(v []byte) Value {
	return Value{Type: Binary, Bytes: v}
}

func NewDate(v time.Time) Value {
	y, m, d := v.Date()
	return Value{Type: Date, Time: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

func NewDatetime(v time.Time) Value {
	return Value{Type: Datetime, Time: v.UTC().Truncate(time.Microsecond)}
}

func NewDuration(v time.Duration) Value {
	return Value{Type: Duration, Duration: v.Truncate(time.Microsecond)}
}

func NewList(element Type, values []Value) Value {
	return Value{Type: ListOf(element, len(values)), List: values}
}

func NewStruct(fields []StructField, values []Value) Value {
	return Value{Type: StructOf(fields...), Struct: values}
}

// ValueOf converts a Go value into a Value, inferring its type.
func ValueOf(v any) (Value, error) {
	switch v := v.(type) {
	case nil:
		return NewNull(), nil
	case Value:
		return v, nil
	case bool:
		return NewBoolean(v), nil
	case int:
		return NewInt64(int64(v)), nil
	case int8:
		return NewInt(Int8, int64(v)), nil
	case int16:
		return NewInt(Int16, int64(v)), nil
	case int32:
		return NewInt(Int32, int64(v)), nil
	case int64:
		return NewInt64(v), nil
	case uint8:
		return NewUInt(UInt8, uint64(v)), nil
	case uint16:
		return NewUInt(UInt16, uint64(v)), nil
	case uint32:
		return NewUInt(UInt32, uint64(v)), nil
	case uint64:
		return NewUInt(UInt64, v), nil
	case uint:
		return NewUInt(UInt64, uint64(v)), nil
	case float32:
		return NewFloat(Float32, float64(v)), nil
	case float64:
		return NewFloat64(v), nil
	case string:
		return NewString(v), nil
	case []byte:
		return NewBinary(v), nil
	case time.Time:
		return NewDatetime(v), nil
	case time.Duration:
		return NewDuration(v), nil
	}
	return Value{}, fmt.Errorf("unsupported literal value of type %T", v)
}

// GoValue returns the value in the representation used by the batch package.
func (value Value) GoValue() any {
	switch value.Type.TypeID {
	case TypeIDNull:
		return nil
	case TypeIDBoolean:
		return value.Boolean
	case TypeIDInt8, TypeIDInt16, TypeIDInt32, TypeIDInt64:
		return value.Int
	case TypeIDUInt8, TypeIDUInt16, TypeIDUInt32, TypeIDUInt64:
		return value.Uint
	case TypeIDFloat32, TypeIDFloat64:
		return value.Float
	case TypeIDString, TypeIDCategorical:
		return value.Str
	case TypeIDBinary:
		return value.Bytes
	case TypeIDDate, TypeIDDatetime:
		return value.Time
	case TypeIDDuration:
		return value.Duration
	case TypeIDList:
		out := make([]any, len(value.List))
		for i := range value.List {
			out[i] = value.List[i].GoValue()
		}
		return out
	case TypeIDStruct:
		out := make(map[string]any, len(value.Struct))
		for i := range value.Struct {
			out[value.Type.Struct.Fields[i].Name] = value.Struct[i].GoValue()
		}
		return out
	}
	panic("unexhaustive type switch")
}

// AsFloat returns numeric values as a float64.
func (value Value) AsFloat() (float64, bool) {
	switch {
	case value.Type.IsSignedInteger():
		return float64(value.Int), true
	case value.Type.IsUnsignedInteger():
		return float64(value.Uint), true
	case value.Type.IsFloat():
		return value.Float, true
	}
	return 0, false
}

// AsInt returns integer values as an int64.
func (value Value) AsInt() (int64, bool) {
	switch {
	case value.Type.IsSignedInteger():
		return value.Int, true
	case value.Type.IsUnsignedInteger():
		return int64(value.Uint), true
	}
	return 0, false
}

func (value Value) String() string {
	builder := &strings.Builder{}
	value.append(builder)
	return builder.String()
}

func (value Value) append(builder *strings.Builder) {
	switch value.Type.TypeID {
	case TypeIDNull:
		builder.WriteString("<null>")
	case TypeIDBoolean:
		builder.WriteString(strconv.FormatBool(value.Boolean))
	case TypeIDInt8, TypeIDInt16, TypeIDInt32, TypeIDInt64:
		builder.WriteString(strconv.FormatInt(value.Int, 10))
	case TypeIDUInt8, TypeIDUInt16, TypeIDUInt32, TypeIDUInt64:
		builder.WriteString(strconv.FormatUint(value.Uint, 10))
	case TypeIDFloat32, TypeIDFloat64:
		builder.WriteString(strconv.FormatFloat(value.Float, 'f', -1, 64))
	case TypeIDString, TypeIDCategorical:
		builder.WriteString(strconv.Quote(value.Str))
	case TypeIDBinary:
		builder.WriteString(fmt.Sprintf("%x", value.Bytes))
	case TypeIDDate:
		builder.WriteString(value.Time.Format("2006-01-02"))
	case TypeIDDatetime:
		builder.WriteString(value.Time.Format(time.RFC3339Nano))
	case TypeIDDuration:
		builder.WriteString(value.Duration.String())
	case TypeIDList:
		builder.WriteString("[")
		for i, v := range value.List {
			if i != 0 {
				builder.WriteString(", ")
			}
			v.append(builder)
		}
		builder.WriteString("]")
	case TypeIDStruct:
		builder.WriteString("{")
		for i, v := range value.Struct {
			if i != 0 {
				builder.WriteString(", ")
			}
			builder.WriteString(value.Type.Struct.Fields[i].Name)
			builder.WriteString(": ")
			v.append(builder)
		}
		builder.WriteString("}")
	}
}
