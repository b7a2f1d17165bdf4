package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/pkg/errors"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/cube2222/octoframe/batch"
	"github.com/cube2222/octoframe/plan"
)

// CompareResults checks that two results have equal schemas and rows. Unless ordered is set,
// rows are compared as multisets. The error contains a diff of the differing rows.
func CompareResults(expectedSchema *arrow.Schema, expected []arrow.Record, actualSchema *arrow.Schema, actual []arrow.Record, ordered bool) error {
	if !expectedSchema.Equal(actualSchema) {
		return errors.Errorf("schemas differ: expected %s, got %s", expectedSchema, actualSchema)
	}
	expectedRows := renderRows(expected, ordered)
	actualRows := renderRows(actual, ordered)
	if strings.Join(expectedRows, "") == strings.Join(actualRows, "") {
		return nil
	}
	diff, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        expectedRows,
		B:        actualRows,
		FromFile: "expected",
		ToFile:   "actual",
		Context:  2,
	})
	if err != nil {
		return errors.Wrap(err, "couldn't diff rows")
	}
	return errors.Errorf("rows differ:\n%s", diff)
}

// Equivalent runs both plans in the given mode and compares their results.
func (e *Engine) Equivalent(ctx context.Context, expected, actual plan.Node, mode Mode, ordered bool) error {
	expectedOutput, err := e.Run(ctx, expected, mode)
	if err != nil {
		return errors.Wrap(err, "couldn't run expected plan")
	}
	expectedRecords, err := expectedOutput.Collect(ctx)
	if err != nil {
		return errors.Wrap(err, "couldn't collect expected plan")
	}
	actualOutput, err := e.Run(ctx, actual, mode)
	if err != nil {
		return errors.Wrap(err, "couldn't run actual plan")
	}
	actualRecords, err := actualOutput.Collect(ctx)
	if err != nil {
		return errors.Wrap(err, "couldn't collect actual plan")
	}
	return CompareResults(expectedOutput.Schema, expectedRecords, actualOutput.Schema, actualRecords, ordered)
}

func renderRows(records []arrow.Record, ordered bool) []string {
	var out []string
	for _, record := range records {
		for _, row := range batch.Rows(record) {
			out = append(out, fmt.Sprintf("%v\n", row))
		}
	}
	if !ordered {
		sort.Strings(out)
	}
	return out
}
