package config

import (
	"reflect"
	"strings"

	"github.com/pkg/errors"
)

var ErrNotFound = errors.New("field not found")

type Option func(options *options)

type options struct {
	withDefault  bool
	defaultValue interface{}
}

func WithDefault(value interface{}) Option {
	return func(options *options) {
		options.withDefault = true
		options.defaultValue = value
	}
}

// GetInterface gets a source option. Nested maps are addressed with dots, like read.batch_size.
func GetInterface(config map[string]interface{}, field string) (interface{}, error) {
	current := config
	path := strings.Split(field, ".")
	for i, key := range path {
		element, ok := current[key]
		if !ok {
			return nil, errors.Wrapf(ErrNotFound, "no %s", strings.Join(path[:i+1], "."))
		}
		if i == len(path)-1 {
			return element, nil
		}
		if current, ok = element.(map[string]interface{}); !ok {
			return nil, errors.Errorf("%s should be a map, got %v", strings.Join(path[:i+1], "."), reflect.TypeOf(element))
		}
	}
	return nil, errors.Wrapf(ErrNotFound, "empty field name")
}

// get reads a field of type T, falling back to the default only when the field is missing.
func get[T any](config map[string]interface{}, field string, what string, opts []Option) (T, error) {
	var zero T
	var options options
	for _, opt := range opts {
		opt(&options)
	}

	out, err := GetInterface(config, field)
	if err != nil {
		if options.withDefault && errors.Is(err, ErrNotFound) {
			value, ok := options.defaultValue.(T)
			if !ok {
				return zero, errors.Errorf("default of %s should be %s, got %v", field, what, reflect.TypeOf(options.defaultValue))
			}
			return value, nil
		}
		return zero, errors.Wrapf(err, "couldn't get %s", field)
	}

	value, ok := out.(T)
	if !ok {
		return zero, errors.Errorf("expected %s to be %s, got %v", field, what, reflect.TypeOf(out))
	}
	return value, nil
}

func GetString(config map[string]interface{}, field string, opts ...Option) (string, error) {
	return get[string](config, field, "a string", opts)
}

func GetInt(config map[string]interface{}, field string, opts ...Option) (int, error) {
	return get[int](config, field, "an int", opts)
}

func GetBool(config map[string]interface{}, field string, opts ...Option) (bool, error) {
	return get[bool](config, field, "a bool", opts)
}

func GetStringList(config map[string]interface{}, field string, opts ...Option) ([]string, error) {
	var options options
	for _, opt := range opts {
		opt(&options)
	}
	if _, err := GetInterface(config, field); options.withDefault && errors.Is(err, ErrNotFound) {
		if value, ok := options.defaultValue.([]string); ok {
			return value, nil
		}
	}

	list, err := get[[]interface{}](config, field, "a list", nil)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(list))
	for i := range list {
		s, ok := list[i].(string)
		if !ok {
			return nil, errors.Errorf("expected %s to be a string list, got %v at index %d", field, reflect.TypeOf(list[i]), i)
		}
		out[i] = s
	}
	return out, nil
}
