// Package logger wires the process-wide structured loggers. The default
// logger serves operational output; a second slog instance backed by a
// rotating file carries the audit trail so ledger writes survive log level
// changes and stdout redirection.
package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Config describes how the application logger should behave.
type Config struct {
	Level       string
	Format      string
	OutputPaths []string
	Audit       AuditConfig
}

// AuditConfig controls the dedicated audit trail output.
type AuditConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type state struct {
	app     *slog.Logger
	audit   *slog.Logger
	closers []io.Closer
}

var (
	mu      sync.Mutex
	current *state
)

// Init configures the global logger instances. Calling it twice is an error;
// use the zero Config for tests that only need a stdout logger.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()
	if current != nil {
		return errors.New("logger already initialised")
	}

	s := &state{}
	sink, err := s.resolveOutputs(cfg.OutputPaths)
	if err != nil {
		s.closeAll()
		return err
	}

	opts := &slog.HandlerOptions{Level: levelFromString(cfg.Level), AddSource: true}
	if strings.EqualFold(cfg.Format, "text") {
		s.app = slog.New(slog.NewTextHandler(sink, opts))
	} else {
		s.app = slog.New(slog.NewJSONHandler(sink, opts))
	}

	s.audit = s.app
	if cfg.Audit.Enabled {
		audit, err := s.openAuditSink(cfg.Audit)
		if err != nil {
			s.closeAll()
			return err
		}
		s.audit = audit
	}

	current = s
	return nil
}

// resolveOutputs maps output path names to writers. "stdout" and "stderr"
// are recognised verbatim; anything else is treated as a file path.
func (s *state) resolveOutputs(paths []string) (io.Writer, error) {
	if len(paths) == 0 {
		return os.Stdout, nil
	}
	writers := make([]io.Writer, 0, len(paths))
	for _, p := range paths {
		switch strings.ToLower(p) {
		case "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
				return nil, fmt.Errorf("create log directory: %w", err)
			}
			file, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return nil, fmt.Errorf("open log file %s: %w", p, err)
			}
			s.closers = append(s.closers, file)
			writers = append(writers, file)
		}
	}
	if len(writers) == 1 {
		return writers[0], nil
	}
	return io.MultiWriter(writers...), nil
}

func (s *state) openAuditSink(cfg AuditConfig) (*slog.Logger, error) {
	if cfg.Path == "" {
		return nil, errors.New("audit log path cannot be empty when enabled")
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = 100
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 7
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = 30
	}
	sink, err := openAuditFile(cfg.Path, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, sink)
	// 审计输出固定为 Info 级 JSON，不随应用日志配置变化。
	return slog.New(slog.NewJSONHandler(sink, &slog.HandlerOptions{Level: slog.LevelInfo})), nil
}

func (s *state) closeAll() {
	for _, c := range s.closers {
		_ = c.Close()
	}
	s.closers = nil
}

func levelFromString(level string) slog.Level {
	switch strings.ToLower(level) {
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

func active() *state {
	mu.Lock()
	if s := current; s != nil {
		mu.Unlock()
		return s
	}
	mu.Unlock()
	_ = Init(Config{})
	mu.Lock()
	defer mu.Unlock()
	return current
}

// L returns the structured logger instance.
func L() *slog.Logger {
	return active().app
}

// Audit returns the append-only audit trail logger.
func Audit() *slog.Logger {
	return active().audit
}

// Named returns a child logger with the provided component name.
func Named(name string) *slog.Logger {
	return L().WithGroup(name)
}

// Sync flushes buffered log entries and closes file outputs.
func Sync() error {
	mu.Lock()
	defer mu.Unlock()
	if current == nil {
		return nil
	}
	var err error
	for _, closer := range current.closers {
		err = errors.Join(err, closer.Close())
	}
	current.closers = nil
	return err
}
