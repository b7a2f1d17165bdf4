// Package formats renders result rows for the command line.
package formats

import (
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/cube2222/octoframe/plan"
)

type Format interface {
	SetSchema(plan.Schema)
	Write(values []any) error
	Close() error
}

// New returns the format with the given name: table, csv or json.
func New(name string) (func(io.Writer) Format, error) {
	switch name {
	case "table", "":
		return func(w io.Writer) Format { return NewTableFormatter(w) }, nil
	case "csv":
		return func(w io.Writer) Format { return NewCSVFormatter(w) }, nil
	case "json":
		return func(w io.Writer) Format { return NewJSONFormatter(w) }, nil
	}
	return nil, errors.Errorf("unknown output format %s, expected table, csv or json", name)
}

// FormatValue renders a value the way the table and csv formats print it.
func FormatValue(value any) string {
	switch value := value.(type) {
	case nil:
		return "<null>"
	case time.Time:
		return value.Format(time.RFC3339Nano)
	case []byte:
		return fmt.Sprintf("%x", value)
	default:
		return fmt.Sprint(value)
	}
}
