package octoframe

import (
	"fmt"

	"github.com/apache/arrow/go/v13/arrow"
)

// CategoricalMetadataKey marks string fields which carry the Categorical logical type.
const CategoricalMetadataKey = "octoframe.type"

func (t Type) ToArrow() arrow.DataType {
	switch t.TypeID {
	case TypeIDNull:
		return arrow.Null
	case TypeIDBoolean:
		return arrow.FixedWidthTypes.Boolean
	case TypeIDInt8:
		return arrow.PrimitiveTypes.Int8
	case TypeIDInt16:
		return arrow.PrimitiveTypes.Int16
	case TypeIDInt32:
		return arrow.PrimitiveTypes.Int32
	case TypeIDInt64:
		return arrow.PrimitiveTypes.Int64
	case TypeIDUInt8:
		return arrow.PrimitiveTypes.Uint8
	case TypeIDUInt16:
		return arrow.PrimitiveTypes.Uint16
	case TypeIDUInt32:
		return arrow.PrimitiveTypes.Uint32
	case TypeIDUInt64:
		return arrow.PrimitiveTypes.Uint64
	case TypeIDFloat32:
		return arrow.PrimitiveTypes.Float32
	case TypeIDFloat64:
		return arrow.PrimitiveTypes.Float64
	case TypeIDString, TypeIDCategorical:
		return arrow.BinaryTypes.String
	case TypeIDBinary:
		return arrow.BinaryTypes.Binary
	case TypeIDDate:
		return arrow.FixedWidthTypes.Date32
	case TypeIDDatetime:
		return arrow.FixedWidthTypes.Timestamp_us
	case TypeIDDuration:
		return arrow.FixedWidthTypes.Duration_us
	case TypeIDList:
		return arrow.FixedSizeListOfField(int32(t.List.Size), t.List.Element.ArrowField("item"))
	case TypeIDStruct:
		fields := make([]arrow.Field, len(t.Struct.Fields))
		for i, field := range t.Struct.Fields {
			fields[i] = field.Type.ArrowField(field.Name)
		}
		return arrow.StructOf(fields...)
	}
	panic(fmt.Sprintf("unexhaustive type switch: %s", t.TypeID))
}

func (t Type) ArrowField(name string) arrow.Field {
	field := arrow.Field{
		Name:     name,
		Type:     t.ToArrow(),
		Nullable: t.Nullable,
	}
	if t.TypeID == TypeIDCategorical {
		field.Metadata = arrow.NewMetadata([]string{CategoricalMetadataKey}, []string{"categorical"})
	}
	return field
}

// TypeFromArrowField is the inverse of Type.ArrowField.
func TypeFromArrowField(field arrow.Field) (Type, error) {
	t, err := TypeFromArrow(field.Type)
	if err != nil {
		return Type{}, fmt.Errorf("field %s: %w", field.Name, err)
	}
	if t.TypeID == TypeIDString {
		if i := field.Metadata.FindKey(CategoricalMetadataKey); i >= 0 && field.Metadata.Values()[i] == "categorical" {
			t = Categorical
		}
	}
	return t.WithNullable(field.Nullable || t.TypeID == TypeIDNull), nil
}

func TypeFromArrow(dt arrow.DataType) (Type, error) {
	switch dt.ID() {
	case arrow.NULL:
		return Null, nil
	case arrow.BOOL:
		return Boolean, nil
	case arrow.INT8:
		return Int8, nil
	case arrow.INT16:
		return Int16, nil
	case arrow.INT32:
		return Int32, nil
	case arrow.INT64:
		return Int64, nil
	case arrow.UINT8:
		return UInt8, nil
	case arrow.UINT16:
		return UInt16, nil
	case arrow.UINT32:
		return UInt32, nil
	case arrow.UINT64:
		return UInt64, nil
	case arrow.FLOAT32:
		return Float32, nil
	case arrow.FLOAT64:
		return Float64, nil
	case arrow.STRING, arrow.LARGE_STRING:
		return String, nil
	case arrow.BINARY, arrow.LARGE_BINARY:
		return Binary, nil
	case arrow.DATE32:
		return Date, nil
	case arrow.TIMESTAMP:
		return Datetime, nil
	case arrow.DURATION:
		return Duration, nil
	case arrow.FIXED_SIZE_LIST:
		listType := dt.(*arrow.FixedSizeListType)
		element, err := TypeFromArrowField(listType.ElemField())
		if err != nil {
			return Type{}, err
		}
		return ListOf(element, int(listType.Len())), nil
	case arrow.STRUCT:
		structType := dt.(*arrow.StructType)
		fields := make([]StructField, len(structType.Fields()))
		for i, field := range structType.Fields() {
			fieldType, err := TypeFromArrowField(field)
			if err != nil {
				return Type{}, err
			}
			fields[i] = StructField{Name: field.Name, Type: fieldType}
		}
		return StructOf(fields...), nil
	}
	return Type{}, fmt.Errorf("unsupported arrow type: %s", dt)
}
