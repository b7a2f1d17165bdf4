package octoframe

import (
	"fmt"
	"strings"
)

type TypeID int

const (
	TypeIDNull TypeID = iota
	TypeIDBoolean
	TypeIDInt8
	TypeIDInt16
	TypeIDInt32
	TypeIDInt64
	TypeIDUInt8
	TypeIDUInt16
	TypeIDUInt32
	TypeIDUInt64
	TypeIDFloat32
	TypeIDFloat64
	TypeIDString
	TypeIDBinary
	TypeIDDate
	TypeIDDatetime
	TypeIDDuration
	TypeIDList
	TypeIDStruct
	TypeIDCategorical
)

func (id TypeID) String() string {
	switch id {
	case TypeIDNull:
		return "Null"
	case TypeIDBoolean:
		return "Boolean"
	case TypeIDInt8:
		return "Int8"
	case TypeIDInt16:
		return "Int16"
	case TypeIDInt32:
		return "Int32"
	case TypeIDInt64:
		return "Int64"
	case TypeIDUInt8:
		return "UInt8"
	case TypeIDUInt16:
		return "UInt16"
	case TypeIDUInt32:
		return "UInt32"
	case TypeIDUInt64:
		return "UInt64"
	case TypeIDFloat32:
		return "Float32"
	case TypeIDFloat64:
		return "Float64"
	case TypeIDString:
		return "String"
	case TypeIDBinary:
		return "Binary"
	case TypeIDDate:
		return "Date"
	case TypeIDDatetime:
		return "Datetime"
	case TypeIDDuration:
		return "Duration"
	case TypeIDList:
		return "List"
	case TypeIDStruct:
		return "Struct"
	case TypeIDCategorical:
		return "Categorical"
	}
	return "Unknown"
}

// Type is the logical type of a column or expression.
// Only the field matching TypeID is meaningful.
type Type struct {
	TypeID   TypeID
	Nullable bool
	List     struct {
		Element *Type
		Size    int
	}
	Struct struct {
		Fields []StructField
	}
}

type StructField struct {
	Name string
	Type Type
}

var (
	Null        = Type{TypeID: TypeIDNull, Nullable: true}
	Boolean     = Type{TypeID: TypeIDBoolean}
	Int8        = Type{TypeID: TypeIDInt8}
	Int16       = Type{TypeID: TypeIDInt16}
	Int32       = Type{TypeID: TypeIDInt32}
	Int64       = Type{TypeID: TypeIDInt64}
	UInt8       = Type{TypeID: TypeIDUInt8}
	UInt16      = Type{TypeID: TypeIDUInt16}
	UInt32      = Type{TypeID: TypeIDUInt32}
	UInt64      = Type{TypeID: TypeIDUInt64}
	Float32     = Type{TypeID: TypeIDFloat32}
	Float64     = Type{TypeID: TypeIDFloat64}
	String      = Type{TypeID: TypeIDString}
	Binary      = Type{TypeID: TypeIDBinary}
	Date        = Type{TypeID: TypeIDDate}
	Datetime    = Type{TypeID: TypeIDDatetime}
	Duration    = Type{TypeID: TypeIDDuration}
	Categorical = Type{TypeID: TypeIDCategorical}
)

// ListOf returns a fixed-size list type.
func ListOf(element Type, size int) Type {
	out := Type{TypeID: TypeIDList}
	out.List.Element = &element
	out.List.Size = size
	return out
}

func StructOf(fields ...StructField) Type {
	out := Type{TypeID: TypeIDStruct}
	out.Struct.Fields = fields
	return out
}

func (t Type) WithNullable(nullable bool) Type {
	t.Nullable = nullable
	return t
}

func (t Type) IsNull() bool {
	return t.TypeID == TypeIDNull
}

func (t Type) IsInteger() bool {
	return t.IsSignedInteger() || t.IsUnsignedInteger()
}

func (t Type) IsSignedInteger() bool {
	switch t.TypeID {
	case TypeIDInt8, TypeIDInt16, TypeIDInt32, TypeIDInt64:
		return true
	}
	return false
}

func (t Type) IsUnsignedInteger() bool {
	switch t.TypeID {
	case TypeIDUInt8, TypeIDUInt16, TypeIDUInt32, TypeIDUInt64:
		return true
	}
	return false
}

func (t Type) IsFloat() bool {
	return t.TypeID == TypeIDFloat32 || t.TypeID == TypeIDFloat64
}

func (t Type) IsNumeric() bool {
	return t.IsInteger() || t.IsFloat()
}

func (t Type) IsTemporal() bool {
	switch t.TypeID {
	case TypeIDDate, TypeIDDatetime, TypeIDDuration:
		return true
	}
	return false
}

func (t Type) IsStringLike() bool {
	return t.TypeID == TypeIDString || t.TypeID == TypeIDCategorical
}

// IsOrdered reports whether values of this type can be compared with < and >.
func (t Type) IsOrdered() bool {
	return t.IsNumeric() || t.IsTemporal() || t.IsStringLike() ||
		t.TypeID == TypeIDBinary || t.TypeID == TypeIDBoolean || t.TypeID == TypeIDNull
}

// IsHashable reports whether the type can be used as a group or join key.
func (t Type) IsHashable() bool {
	switch t.TypeID {
	case TypeIDList, TypeIDStruct:
		return false
	}
	return true
}

// BitWidth is the width of numeric and temporal types, 0 otherwise.
func (t Type) BitWidth() int {
	switch t.TypeID {
	case TypeIDBoolean:
		return 1
	case TypeIDInt8, TypeIDUInt8:
		return 8
	case TypeIDInt16, TypeIDUInt16:
		return 16
	case TypeIDInt32, TypeIDUInt32, TypeIDFloat32, TypeIDDate:
		return 32
	case TypeIDInt64, TypeIDUInt64, TypeIDFloat64, TypeIDDatetime, TypeIDDuration:
		return 64
	}
	return 0
}

// Equals compares types including nullability.
func (t Type) Equals(other Type) bool {
	return t.Nullable == other.Nullable && t.EqualsIgnoringNullability(other)
}

func (t Type) EqualsIgnoringNullability(other Type) bool {
	if t.TypeID != other.TypeID {
		return false
	}
	switch t.TypeID {
	case TypeIDList:
		return t.List.Size == other.List.Size && t.List.Element.Equals(*other.List.Element)
	case TypeIDStruct:
		if len(t.Struct.Fields) != len(other.Struct.Fields) {
			return false
		}
		for i := range t.Struct.Fields {
			if t.Struct.Fields[i].Name != other.Struct.Fields[i].Name {
				return false
			}
			if !t.Struct.Fields[i].Type.Equals(other.Struct.Fields[i].Type) {
				return false
			}
		}
	}
	return true
}

func (t Type) String() string {
	var out string
	switch t.TypeID {
	case TypeIDList:
		out = fmt.Sprintf("[%s; %d]", *t.List.Element, t.List.Size)
	case TypeIDStruct:
		fieldStrings := make([]string, len(t.Struct.Fields))
		for i, field := range t.Struct.Fields {
			fieldStrings[i] = fmt.Sprintf("%s: %s", field.Name, field.Type)
		}
		out = fmt.Sprintf("{%s}", strings.Join(fieldStrings, "; "))
	default:
		out = t.TypeID.String()
	}
	if t.Nullable && t.TypeID != TypeIDNull {
		out += "?"
	}
	return out
}
