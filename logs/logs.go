package logs

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"

	"github.com/cube2222/octoframe/config"
)

var (
	mu     sync.Mutex
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	output *os.File
)

// Init configures the process-wide logger. Logs go to the configured file, or stderr.
func Init(cfg config.LoggingConfig) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return errors.Wrapf(err, "invalid log level %q", cfg.Level)
	}

	var w io.Writer = os.Stderr
	var f *os.File
	if cfg.File != "" {
		path, err := homedir.Expand(cfg.File)
		if err != nil {
			return errors.Wrap(err, "couldn't expand log file path")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return errors.Wrap(err, "couldn't create log directory")
		}
		f, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return errors.Wrap(err, "couldn't open log file")
		}
		w = f
	}

	options := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(w, options)
	default:
		handler = slog.NewTextHandler(w, options)
	}

	mu.Lock()
	defer mu.Unlock()
	if output != nil {
		output.Close()
	}
	output = f
	logger = slog.New(handler)
	return nil
}

func Get() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	return logger
}

// WithComponent returns the logger tagged with the subsystem name.
func WithComponent(component string) *slog.Logger {
	return Get().With(slog.String("component", component))
}

func Close() {
	mu.Lock()
	defer mu.Unlock()
	if output != nil {
		output.Close()
		output = nil
	}
}
