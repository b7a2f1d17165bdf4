package json

import (
	"fmt"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"
	"github.com/valyala/fastjson"
)

type ValueReaderFunc func(value *fastjson.Value) error

// recordReader reads the fields of a JSON object into the columns of the builder.
// Missing keys become nulls.
func recordReader(schema *arrow.Schema, recordBuilder *array.RecordBuilder) (ValueReaderFunc, error) {
	fields := schema.Fields()
	readers := make([]ValueReaderFunc, len(fields))
	for i, field := range fields {
		var err error
		readers[i], err = valueReader(field.Type, recordBuilder.Field(i))
		if err != nil {
			return nil, fmt.Errorf("couldn't create value reader for field %v: %w", field.Name, err)
		}
	}

	return func(value *fastjson.Value) error {
		obj, err := value.Object()
		if err != nil {
			return fmt.Errorf("expected JSON object: %w", err)
		}
		for i, field := range fields {
			if err := readers[i](obj.Get(field.Name)); err != nil {
				return fmt.Errorf("couldn't read field %v: %w", field.Name, err)
			}
		}
		return nil
	}, nil
}

func valueReader(dt arrow.DataType, builder array.Builder) (ValueReaderFunc, error) {
	switch dt.ID() {
	case arrow.NULL:
		return func(value *fastjson.Value) error {
			builder.AppendNull()
			return nil
		}, nil
	case arrow.BOOL:
		return nullableReader(boolReader, builder), nil
	case arrow.INT64:
		return nullableReader(intReader, builder), nil
	case arrow.FLOAT64:
		return nullableReader(floatReader, builder), nil
	case arrow.STRING:
		return nullableReader(stringReader, builder), nil
	default:
		return nil, fmt.Errorf("unsupported type: %v", dt)
	}
}

func boolReader(builder array.Builder) ValueReaderFunc {
	boolBuilder := builder.(*array.BooleanBuilder)
	return func(value *fastjson.Value) error {
		v, err := value.Bool()
		if err != nil {
			return fmt.Errorf("couldn't read bool: %w", err)
		}
		boolBuilder.Append(v)
		return nil
	}
}

func intReader(builder array.Builder) ValueReaderFunc {
	intBuilder := builder.(*array.Int64Builder)
	return func(value *fastjson.Value) error {
		v, err := value.Int64()
		if err != nil {
			return fmt.Errorf("couldn't read int: %w", err)
		}
		intBuilder.Append(v)
		return nil
	}
}

func floatReader(builder array.Builder) ValueReaderFunc {
	floatBuilder := builder.(*array.Float64Builder)
	return func(value *fastjson.Value) error {
		v, err := value.Float64()
		if err != nil {
			return fmt.Errorf("couldn't read float: %w", err)
		}
		floatBuilder.Append(v)
		return nil
	}
}

// stringReader reads strings as is and falls back to the JSON text of any other value.
func stringReader(builder array.Builder) ValueReaderFunc {
	stringBuilder := builder.(*array.StringBuilder)
	return func(value *fastjson.Value) error {
		if value.Type() != fastjson.TypeString {
			stringBuilder.Append(value.String())
			return nil
		}
		v, err := value.StringBytes()
		if err != nil {
			return fmt.Errorf("couldn't read string: %w", err)
		}
		stringBuilder.BinaryBuilder.Append(v)
		return nil
	}
}

func nullableReader(readerFuncMaker func(builder array.Builder) ValueReaderFunc, builder array.Builder) ValueReaderFunc {
	reader := readerFuncMaker(builder)
	return func(value *fastjson.Value) error {
		if value == nil || value.Type() == fastjson.TypeNull {
			builder.AppendNull()
			return nil
		}
		return reader(value)
	}
}
