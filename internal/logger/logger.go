package logger

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ekisa-team/igichat/internal/env"
)

type options struct {
	console    io.Writer
	level      *slog.Level
	logFile    string
	maxSizeMB  int
	maxBackups int
	maxAgeDays int
	toFile     bool
}

// Option configures the logger.
type Option func(*options)

// WithLogToFile enables the rotated file sink.
func WithLogToFile(enabled bool) Option {
	return func(o *options) { o.toFile = enabled }
}

// WithLogFile sets the path of the rotated log file.
func WithLogFile(path string) Option {
	return func(o *options) { o.logFile = path }
}

// WithRotation sets the lumberjack rotation limits.
func WithRotation(maxSizeMB, maxBackups, maxAgeDays int) Option {
	return func(o *options) {
		o.maxSizeMB = maxSizeMB
		o.maxBackups = maxBackups
		o.maxAgeDays = maxAgeDays
	}
}

// WithLevel overrides the level derived from the environment.
func WithLevel(level slog.Level) Option {
	return func(o *options) { o.level = &level }
}

// WithConsole redirects console output, stderr by default.
func WithConsole(w io.Writer) Option {
	return func(o *options) { o.console = w }
}

// New builds the process logger for the given environment.
func New(environment env.Environment, opts ...Option) *slog.Logger {
	o := options{
		console:    os.Stderr,
		logFile:    "logs/igichat.log",
		maxSizeMB:  20,
		maxBackups: 5,
		maxAgeDays: 28,
	}
	for _, opt := range opts {
		opt(&o)
	}

	level := slog.LevelDebug
	if environment.IsProduction() {
		level = slog.LevelInfo
	}
	if o.level != nil {
		level = *o.level
	}

	handlers := []slog.Handler{
		tint.NewHandler(o.console, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
			NoColor:    environment.IsProduction(),
		}),
	}

	if o.toFile {
		handlers = append(handlers, slog.NewJSONHandler(&lumberjack.Logger{
			Filename:   o.logFile,
			MaxSize:    o.maxSizeMB,
			MaxBackups: o.maxBackups,
			MaxAge:     o.maxAgeDays,
		}, &slog.HandlerOptions{Level: level}))
	}

	if len(handlers) == 1 {
		return slog.New(handlers[0])
	}

	return slog.New(fanout(handlers))
}
