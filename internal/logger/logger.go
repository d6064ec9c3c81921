// Package logger configures the process-wide slog logger.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"

	"github.com/medfatnasii277/portalbell/internal/model"
)

var (
	mu          sync.Mutex
	logger      *slog.Logger
	atomicLevel = new(slog.LevelVar)
	closer      io.Closer
)

// Init builds the logger from cfg and installs it as the slog default.
// Output "stdout", "stderr" or a file path; files are appended to.
func Init(cfg model.LogConfig) error {
	atomicLevel.Set(ParseLevel(cfg.Level))

	writer, c, err := openOutput(cfg.Output)
	if err != nil {
		return err
	}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(writer, &slog.HandlerOptions{
			Level: atomicLevel,
		})
	} else {
		handler = newTintHandler(writer, atomicLevel)
	}

	mu.Lock()
	if closer != nil {
		_ = closer.Close()
	}
	closer = c
	logger = slog.New(handler)
	slog.SetDefault(logger)
	mu.Unlock()

	return nil
}

// ParseLevel maps a level name onto slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func openOutput(output string) (io.Writer, io.Closer, error) {
	switch strings.ToLower(output) {
	case "stdout":
		return os.Stdout, nil, nil
	case "stderr", "":
		return os.Stderr, nil, nil
	}

	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}
	file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file %s: %w", output, err)
	}
	return file, file, nil
}

func newTintHandler(w io.Writer, level slog.Leveler) slog.Handler {
	return tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.DateTime,
		NoColor:    !isTerminal(w),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == "error" && a.Value.Kind() == slog.KindAny {
				if err, ok := a.Value.Any().(error); ok {
					return tint.Err(err)
				}
			}
			return a
		},
	})
}

func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		return term.IsTerminal(int(f.Fd()))
	}
	return false
}

// SetLevel changes the level of the installed logger.
func SetLevel(level slog.Level) {
	atomicLevel.Set(level)
}

// Get returns the installed logger, creating a stderr one on first use.
func Get() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()

	if logger == nil {
		logger = slog.New(newTintHandler(os.Stderr, atomicLevel))
	}
	return logger
}

// WithComponent returns a logger tagged with the component name.
func WithComponent(component string) *slog.Logger {
	return Get().With("component", component)
}

// Close releases the log file, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()

	if closer == nil {
		return nil
	}
	err := closer.Close()
	closer = nil
	return err
}
