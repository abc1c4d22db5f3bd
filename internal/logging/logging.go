package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"stale-purge/internal/config"
)

const logFile = "cleanup.log"

// Options controls where log output goes.
type Options struct {
	Level        string    // zerolog level name; empty means info
	Directory    string    // optional directory for cleanup.log
	RotationDays int       // days before cleanup.log is rotated
	JSON         bool      // JSON on the console writer instead of human output
	Output       io.Writer // console destination (defaults to os.Stderr)
	Component    string    // optional component field
}

// FromConfig maps the logging section of the config onto Options.
func FromConfig(cfg config.LoggingCfg) Options {
	return Options{
		Level:        cfg.Level,
		Directory:    cfg.Directory,
		RotationDays: cfg.RotationDays,
		JSON:         cfg.JSON,
	}
}

// Logger is a zerolog logger plus the log file it may hold open.
type Logger struct {
	zerolog.Logger
	file *os.File
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// New builds a logger. Diagnostics go to stderr so that stdout stays
// reserved for the per-entry status stream. When a directory is set,
// JSON lines are also appended to <dir>/cleanup.log after rotating it
// if it is older than RotationDays.
func New(opts Options) (*Logger, error) {
	level := zerolog.InfoLevel
	if opts.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}

	console := opts.Output
	if console == nil {
		console = os.Stderr
	}
	if !opts.JSON {
		console = zerolog.ConsoleWriter{Out: console, TimeFormat: time.RFC3339}
	}

	out := &Logger{}
	writer := console
	if opts.Directory != "" {
		f, err := openLogFile(opts.Directory, opts.RotationDays)
		if err != nil {
			return nil, err
		}
		out.file = f
		writer = zerolog.MultiLevelWriter(console, f)
	}

	ctx := zerolog.New(writer).Level(level).With().Timestamp()
	if opts.Component != "" {
		ctx = ctx.Str("component", opts.Component)
	}
	out.Logger = ctx.Logger()
	return out, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}

func openLogFile(dir string, rotationDays int) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to ensure log directory %s: %w", dir, err)
	}
	if rotationDays <= 0 {
		rotationDays = config.DefaultRotationDays
	}

	filePath := filepath.Join(dir, logFile)
	rotateLogsIfNeeded(filePath, rotationDays, time.Now())

	f, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", filePath, err)
	}
	return f, nil
}

// rotateLogsIfNeeded renames the log aside once it is older than rotationDays
// and removes rotated copies past the same cutoff.
func rotateLogsIfNeeded(logPath string, rotationDays int, now time.Time) {
	info, err := os.Stat(logPath)
	if err != nil {
		return
	}

	cutoff := now.AddDate(0, 0, -rotationDays)
	if !info.ModTime().Before(cutoff) {
		return
	}

	rotatedPath := logPath + "." + info.ModTime().Format("20060102-150405")
	if err := os.Rename(logPath, rotatedPath); err != nil {
		return
	}
	// The rotated copy starts its own retention period now.
	_ = os.Chtimes(rotatedPath, now, now)
	cleanupOldLogs(logPath, cutoff)
}

func cleanupOldLogs(logPath string, cutoff time.Time) {
	dir := filepath.Dir(logPath)
	prefix := filepath.Base(logPath) + "."

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(filepath.Join(dir, entry.Name()))
		}
	}
}
