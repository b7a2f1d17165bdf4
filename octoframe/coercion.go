package octoframe

// Supertype returns the smallest type both arguments can be losslessly coerced to.
//
// The lattice: Null coerces to anything, integers widen within their signedness,
// unsigned integers widen into larger signed integers, integers become floats,
// non-nullable becomes nullable, Categorical becomes String and Date becomes Datetime.
func Supertype(a, b Type) (Type, bool) {
	nullable := a.Nullable || b.Nullable
	if a.TypeID == TypeIDNull {
		return b.WithNullable(true), true
	}
	if b.TypeID == TypeIDNull {
		return a.WithNullable(true), true
	}

	out, ok := supertypeNonNull(a, b)
	if !ok {
		return Type{}, false
	}
	return out.WithNullable(nullable), true
}

func supertypeNonNull(a, b Type) (Type, bool) {
	switch {
	case a.TypeID == TypeIDList || b.TypeID == TypeIDList:
		if a.TypeID != b.TypeID || a.List.Size != b.List.Size {
			return Type{}, false
		}
		element, ok := Supertype(*a.List.Element, *b.List.Element)
		if !ok {
			return Type{}, false
		}
		return ListOf(element, a.List.Size), true

	case a.TypeID == TypeIDStruct || b.TypeID == TypeIDStruct:
		if a.TypeID != b.TypeID || len(a.Struct.Fields) != len(b.Struct.Fields) {
			return Type{}, false
		}
		fields := make([]StructField, len(a.Struct.Fields))
		for i := range a.Struct.Fields {
			if a.Struct.Fields[i].Name != b.Struct.Fields[i].Name {
				return Type{}, false
			}
			fieldType, ok := Supertype(a.Struct.Fields[i].Type, b.Struct.Fields[i].Type)
			if !ok {
				return Type{}, false
			}
			fields[i] = StructField{Name: a.Struct.Fields[i].Name, Type: fieldType}
		}
		return StructOf(fields...), true

	case a.TypeID == b.TypeID:
		return Type{TypeID: a.TypeID}, true

	case a.IsInteger() && b.IsInteger():
		return integerSupertype(a, b), true

	case a.IsNumeric() && b.IsNumeric():
		if a.TypeID == TypeIDFloat64 || b.TypeID == TypeIDFloat64 {
			return Float64, true
		}
		// One side is Float32 and the other an integer.
		integer := a
		if a.IsFloat() {
			integer = b
		}
		if integer.BitWidth() <= 16 {
			return Float32, true
		}
		return Float64, true

	case a.IsStringLike() && b.IsStringLike():
		return String, true

	case (a.TypeID == TypeIDDate && b.TypeID == TypeIDDatetime) || (a.TypeID == TypeIDDatetime && b.TypeID == TypeIDDate):
		return Datetime, true
	}
	return Type{}, false
}

func integerSupertype(a, b Type) Type {
	if a.IsSignedInteger() == b.IsSignedInteger() {
		if a.BitWidth() >= b.BitWidth() {
			return Type{TypeID: a.TypeID}
		}
		return Type{TypeID: b.TypeID}
	}
	signed, unsigned := a, b
	if a.IsUnsignedInteger() {
		signed, unsigned = b, a
	}
	if unsigned.BitWidth() < signed.BitWidth() {
		return Type{TypeID: signed.TypeID}
	}
	switch unsigned.BitWidth() {
	case 8:
		return Int16
	case 16:
		return Int32
	case 32:
		return Int64
	}
	return Float64
}

// CanCoerce reports whether values of from can be implicitly used where to is expected.
func CanCoerce(from, to Type) bool {
	if from.Nullable && !to.Nullable {
		return false
	}
	super, ok := Supertype(from, to)
	if !ok {
		return false
	}
	return super.EqualsIgnoringNullability(to)
}

// CanCast reports whether an explicit cast between the types is defined.
func CanCast(from, to Type) bool {
	if from.TypeID == TypeIDNull || from.EqualsIgnoringNullability(to) {
		return true
	}
	switch {
	case to.TypeID == TypeIDString:
		return from.TypeID != TypeIDList && from.TypeID != TypeIDStruct
	case to.IsNumeric():
		return from.IsNumeric() || from.TypeID == TypeIDBoolean || from.IsStringLike() || from.IsTemporal()
	case to.TypeID == TypeIDBoolean:
		return from.IsNumeric() || from.IsStringLike()
	case to.TypeID == TypeIDCategorical:
		return from.IsStringLike()
	case to.TypeID == TypeIDBinary:
		return from.IsStringLike()
	case to.TypeID == TypeIDDate || to.TypeID == TypeIDDatetime:
		return from.TypeID == TypeIDDate || from.TypeID == TypeIDDatetime || from.IsStringLike() || from.IsInteger()
	case to.TypeID == TypeIDDuration:
		return from.IsInteger()
	case to.TypeID == TypeIDList:
		return from.TypeID == TypeIDList && from.List.Size == to.List.Size && CanCast(*from.List.Element, *to.List.Element)
	}
	return false
}
