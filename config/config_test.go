package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	path := filepath.Join(t.TempDir(), "octoframe.yml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
	return path
}

func TestReadConfig(t *testing.T) {
	tests := []struct {
		name     string
		contents string
		want     func() *Config
		wantErr  bool
	}{
		{
			name:     "empty file keeps defaults",
			contents: "",
			want:     Default,
		},
		{
			name: "overrides",
			contents: `
execution:
  batch_size: 1024
  checked_arithmetic: true
optimizer:
  disabled_rules: [reorder_joins]
logging:
  level: debug
sources:
  - name: trips
    type: parquet
    options:
      path: trips.parquet
`,
			want: func() *Config {
				config := Default()
				config.Execution.BatchSize = 1024
				config.Execution.CheckedArithmetic = true
				config.Optimizer.DisabledRules = []string{"reorder_joins"}
				config.Logging.Level = "debug"
				config.Sources = []SourceConfig{
					{
						Name:    "trips",
						Type:    "parquet",
						Options: map[string]interface{}{"path": "trips.parquet"},
					},
				}
				return config
			},
		},
		{
			name:     "zero queue depth",
			contents: "execution:\n  queue_depth: 0\n",
			wantErr:  true,
		},
		{
			name:     "negative memory limit",
			contents: "execution:\n  memory_limit: -1\n",
			wantErr:  true,
		},
		{
			name:     "unknown log level",
			contents: "logging:\n  level: verbose\n",
			wantErr:  true,
		},
		{
			name:     "duplicate sources",
			contents: "sources:\n  - name: a\n    type: json\n  - name: a\n    type: json\n",
			wantErr:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadConfig(writeConfig(t, tt.contents))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want(), got)
		})
	}
}

func TestReadConfigMissingFile(t *testing.T) {
	got, err := ReadConfig(filepath.Join(t.TempDir(), "missing.yml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), got)
}

func TestGetters(t *testing.T) {
	options := map[string]interface{}{
		"path": "data.json",
		"read": map[string]interface{}{
			"batch_size": 128,
			"columns":    []interface{}{"a", "b"},
		},
	}

	path, err := GetString(options, "path")
	require.NoError(t, err)
	assert.Equal(t, "data.json", path)

	batchSize, err := GetInt(options, "read.batch_size")
	require.NoError(t, err)
	assert.Equal(t, 128, batchSize)

	columns, err := GetStringList(options, "read.columns")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, columns)

	strict, err := GetBool(options, "strict", WithDefault(true))
	require.NoError(t, err)
	assert.True(t, strict)

	_, err = GetBool(options, "strict")
	assert.ErrorIs(t, err, ErrNotFound)

	order, err := GetStringList(options, "read.order", WithDefault([]string{"id"}))
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, order)

	_, err = GetInt(options, "path")
	assert.Error(t, err)
	_, err = GetString(options, "path.nested")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}
