package logs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cube2222/octoframe/config"
)

func TestInitWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "octoframe.log")
	require.NoError(t, Init(config.LoggingConfig{Level: "info", Format: "json", File: path}))
	defer Close()

	WithComponent("optimizer").Info("rule fired", "rule", "merge_filters")
	WithComponent("optimizer").Debug("not written")

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(contents), `"component":"optimizer"`)
	assert.Contains(t, string(contents), `"rule":"merge_filters"`)
	assert.NotContains(t, string(contents), "not written")
}

func TestInitInvalidLevel(t *testing.T) {
	assert.Error(t, Init(config.LoggingConfig{Level: "loud", Format: "text"}))
}
