package formats

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/valyala/fastjson"

	"github.com/cube2222/octoframe/plan"
)

// JSONFormatter writes one JSON object per row.
type JSONFormatter struct {
	buf   []byte
	arena *fastjson.Arena
	w     io.Writer
	names []string
}

func NewJSONFormatter(w io.Writer) *JSONFormatter {
	return &JSONFormatter{
		buf:   make([]byte, 0, 1024),
		arena: new(fastjson.Arena),
		w:     w,
	}
}

func (t *JSONFormatter) SetSchema(schema plan.Schema) {
	t.names = schema.Names()
}

func (t *JSONFormatter) Write(values []any) error {
	obj := t.arena.NewObject()
	for i := range t.names {
		obj.Set(t.names[i], ValueToJson(t.arena, values[i]))
	}

	t.buf = obj.MarshalTo(t.buf)
	t.buf = append(t.buf, '\n')
	_, err := t.w.Write(t.buf)
	t.buf = t.buf[:0]
	t.arena.Reset()
	return err
}

func ValueToJson(arena *fastjson.Arena, value any) *fastjson.Value {
	switch value := value.(type) {
	case nil:
		return arena.NewNull()
	case bool:
		if value {
			return arena.NewTrue()
		}
		return arena.NewFalse()
	case int8, int16, int32, int64:
		return arena.NewNumberString(fmt.Sprint(value))
	case uint8, uint16, uint32, uint64:
		return arena.NewNumberString(fmt.Sprint(value))
	case float32:
		return arena.NewNumberFloat64(float64(value))
	case float64:
		return arena.NewNumberFloat64(value)
	case string:
		return arena.NewString(value)
	case []byte:
		return arena.NewString(fmt.Sprintf("%x", value))
	case time.Time:
		return arena.NewString(value.Format(time.RFC3339Nano))
	case time.Duration:
		return arena.NewString(value.String())
	case []any:
		arr := arena.NewArray()
		for i := range value {
			arr.SetArrayItem(i, ValueToJson(arena, value[i]))
		}
		return arr
	case map[string]any:
		keys := make([]string, 0, len(value))
		for k := range value {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		obj := arena.NewObject()
		for _, k := range keys {
			obj.Set(k, ValueToJson(arena, value[k]))
		}
		return obj
	default:
		return arena.NewString(fmt.Sprint(value))
	}
}

func (t *JSONFormatter) Close() error {
	return nil
}
