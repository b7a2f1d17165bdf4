package config

import (
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// SourceConfig registers a file as a named table.
type SourceConfig struct {
	Name string `yaml:"name"`
	// Type is parquet or json.
	Type    string                 `yaml:"type"`
	Options map[string]interface{} `yaml:"options"`
}

type ExecutionConfig struct {
	BatchSize   int `yaml:"batch_size"`
	Parallelism int `yaml:"parallelism"`
	QueueDepth  int `yaml:"queue_depth"`
	// MemoryLimit is in bytes, 0 means unlimited.
	MemoryLimit       int64  `yaml:"memory_limit"`
	SortMemoryBudget  int64  `yaml:"sort_memory_budget"`
	SpillDirectory    string `yaml:"spill_directory"`
	CheckedArithmetic bool   `yaml:"checked_arithmetic"`
}

type OptimizerConfig struct {
	MaxPasses          int      `yaml:"max_passes"`
	DisabledRules      []string `yaml:"disabled_rules"`
	BroadcastThreshold int64    `yaml:"broadcast_threshold"`
	PlanCacheSize      int64    `yaml:"plan_cache_size"`
}

type LoggingConfig struct {
	// Level is one of debug, info, warn and error.
	Level string `yaml:"level"`
	// Format is text or json.
	Format string `yaml:"format"`
	// File is the log file, logs go to stderr when empty.
	File string `yaml:"file"`
}

type Config struct {
	Execution ExecutionConfig `yaml:"execution"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
	Logging   LoggingConfig   `yaml:"logging"`
	Sources   []SourceConfig  `yaml:"sources"`
}

func Default() *Config {
	return &Config{
		Execution: ExecutionConfig{
			BatchSize:        16 * 1024,
			Parallelism:      runtime.NumCPU(),
			QueueDepth:       4,
			SortMemoryBudget: 256 * 1024 * 1024,
			SpillDirectory:   os.TempDir(),
		},
		Optimizer: OptimizerConfig{
			MaxPasses:          16,
			BroadcastThreshold: 10000,
			PlanCacheSize:      1024,
		},
		Logging: LoggingConfig{
			Level:  "warn",
			Format: "text",
		},
	}
}

// DefaultPath is ~/.octoframe/octoframe.yml.
func DefaultPath() (string, error) {
	dir, err := homedir.Dir()
	if err != nil {
		return "", errors.Wrap(err, "couldn't get user home directory")
	}
	return filepath.Join(dir, ".octoframe", "octoframe.yml"), nil
}

// ReadConfig reads the configuration file, fields it doesn't set keep their defaults.
// A missing file results in the default configuration.
func ReadConfig(path string) (*Config, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, errors.Wrap(err, "couldn't expand path")
	}
	config := Default()

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return config, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "couldn't open file")
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(config); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "couldn't decode yaml configuration")
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid configuration in %s", path)
	}
	return config, nil
}

func (config *Config) Validate() error {
	switch {
	case config.Execution.BatchSize <= 0:
		return errors.Errorf("execution.batch_size must be positive, got %d", config.Execution.BatchSize)
	case config.Execution.Parallelism <= 0:
		return errors.Errorf("execution.parallelism must be positive, got %d", config.Execution.Parallelism)
	case config.Execution.QueueDepth <= 0:
		return errors.Errorf("execution.queue_depth must be positive, got %d", config.Execution.QueueDepth)
	case config.Execution.MemoryLimit < 0:
		return errors.Errorf("execution.memory_limit can't be negative, got %d", config.Execution.MemoryLimit)
	case config.Execution.SortMemoryBudget <= 0:
		return errors.Errorf("execution.sort_memory_budget must be positive, got %d", config.Execution.SortMemoryBudget)
	case config.Optimizer.MaxPasses <= 0:
		return errors.Errorf("optimizer.max_passes must be positive, got %d", config.Optimizer.MaxPasses)
	case config.Optimizer.BroadcastThreshold < 0:
		return errors.Errorf("optimizer.broadcast_threshold can't be negative, got %d", config.Optimizer.BroadcastThreshold)
	case config.Optimizer.PlanCacheSize < 0:
		return errors.Errorf("optimizer.plan_cache_size can't be negative, got %d", config.Optimizer.PlanCacheSize)
	}
	switch config.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.Errorf("logging.level must be one of debug, info, warn or error, got %q", config.Logging.Level)
	}
	switch config.Logging.Format {
	case "text", "json":
	default:
		return errors.Errorf("logging.format must be text or json, got %q", config.Logging.Format)
	}
	seen := make(map[string]bool)
	for i, source := range config.Sources {
		if source.Name == "" {
			return errors.Errorf("source %d has no name", i)
		}
		if seen[source.Name] {
			return errors.Errorf("source %s is defined more than once", source.Name)
		}
		seen[source.Name] = true
	}
	return nil
}

func (config *Config) GetSourceConfig(name string) (SourceConfig, error) {
	for i := range config.Sources {
		if config.Sources[i].Name == name {
			return config.Sources[i], nil
		}
	}
	return SourceConfig{}, ErrNotFound
}
