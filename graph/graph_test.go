package graph

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTree() *Node {
	root := NewNode("filter")
	root.AddField("predicate", "a > 5")
	scan := NewNode("scan")
	scan.AddField("table", "t")
	scan.AddField("columns", "[a b]")
	root.AddChild("source", scan)
	return root
}

func TestText(t *testing.T) {
	expected := `filter
  predicate: a > 5
  source:
    scan
      table: t
      columns: [a b]
`
	assert.Equal(t, expected, Text(testTree()))
}

func TestJSON(t *testing.T) {
	data, err := json.Marshal(testTree())
	require.NoError(t, err)
	assert.Equal(t,
		`{"name":"filter","fields":[{"name":"predicate","value":"a \u003e 5"}],"children":[{"name":"source","node":{"name":"scan","fields":[{"name":"table","value":"t"},{"name":"columns","value":"[a b]"}]}}]}`,
		string(data),
	)

	var decoded Node
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, testTree(), &decoded)
}

func TestDiff(t *testing.T) {
	diff, err := Diff("a", testTree(), "b", testTree())
	require.NoError(t, err)
	assert.Empty(t, diff)

	other := testTree()
	other.Fields[0].Value = "a > 6"
	diff, err = Diff("unoptimized", testTree(), "optimized", other)
	require.NoError(t, err)
	assert.Contains(t, diff, "-  predicate: a > 5")
	assert.Contains(t, diff, "+  predicate: a > 6")
}

func TestShow(t *testing.T) {
	g, err := Show(testTree())
	require.NoError(t, err)
	out := g.String()
	assert.Contains(t, out, "filter_0")
	assert.Contains(t, out, "scan_0")
	assert.Contains(t, out, `a \> 5`)
	assert.Contains(t, out, "filter_0:source->scan_0")
}
