package helpers

import (
	"fmt"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/cube2222/octoframe/batch"
)

// MakeRowEqualityChecker compares key rows of two sets of key columns. Grouping treats two nulls
// as equal, joins never match null keys.
func MakeRowEqualityChecker(leftKeys, rightKeys []arrow.Array, nullsEqual bool) func(leftRowIndex, rightRowIndex int) bool {
	if len(leftKeys) != len(rightKeys) {
		panic(fmt.Errorf("key column count mismatch in equality checker: %d != %d", len(leftKeys), len(rightKeys)))
	}
	keyColumnCount := len(leftKeys)

	columnComparators := make([]func(leftRowIndex, rightRowIndex int) int, keyColumnCount)
	for i := 0; i < keyColumnCount; i++ {
		columnComparators[i] = batch.MakeComparator(leftKeys[i], rightKeys[i])
	}

	return func(leftRowIndex, rightRowIndex int) bool {
		for i := 0; i < keyColumnCount; i++ {
			leftNull, rightNull := batch.IsNull(leftKeys[i], leftRowIndex), batch.IsNull(rightKeys[i], rightRowIndex)
			if leftNull || rightNull {
				if nullsEqual && leftNull && rightNull {
					continue
				}
				return false
			}
			if columnComparators[i](leftRowIndex, rightRowIndex) != 0 {
				return false
			}
		}
		return true
	}
}

// HasNull reports whether any of the key columns is null in the row.
func HasNull(keys []arrow.Array, rowIndex int) bool {
	for _, key := range keys {
		if batch.IsNull(key, rowIndex) {
			return true
		}
	}
	return false
}
