package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/lumberjack.v3"
)

// -----------------------------------------------------------------------------

// Options is implemented by configs that carry logging settings.
type Options interface {
	LoggingOptions() (level string, file string)
}

var (
	rootOnce sync.Once
	root     *zap.Logger
)

// -----------------------------------------------------------------------------

// Logger provides structured logging functionality
type Logger struct {
	name   string
	sugar  *zap.SugaredLogger
	config interface{}
}

// -----------------------------------------------------------------------------

// NewLogger creates a named Logger. The first call that carries Options
// decides level and file sink for the whole process.
func NewLogger(config interface{}, name string) *Logger {
	rootOnce.Do(func() {
		level, file := "", ""
		if opts, ok := config.(Options); ok {
			level, file = opts.LoggingOptions()
		}
		root = build(level, file)
	})

	return &Logger{
		name:   name,
		sugar:  root.Named(name).Sugar(),
		config: config,
	}
}

// -----------------------------------------------------------------------------

// NewNop returns a Logger that discards everything.
func NewNop() *Logger {
	return &Logger{name: "nop", sugar: zap.NewNop().Sugar()}
}

// -----------------------------------------------------------------------------

func build(levelName, file string) *zap.Logger {
	if env := os.Getenv("LOG_LEVEL"); env != "" {
		levelName = env
	}
	level := parseLevel(levelName)

	productionCfg := zap.NewProductionEncoderConfig()
	productionCfg.TimeKey = "timestamp"
	productionCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	developmentCfg := zap.NewDevelopmentEncoderConfig()
	developmentCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(developmentCfg), zapcore.AddSync(os.Stdout), level),
	}

	if file != "" {
		fileHandler, err := lumberjack.New(
			lumberjack.WithFileName(file),
			lumberjack.WithMaxBytes(5*1024*1024),
			lumberjack.WithMaxBackups(10),
			lumberjack.WithMaxDays(14),
			lumberjack.WithCompress(),
		)
		if err != nil {
			fmt.Fprintf(os.Stderr, "log file %s unavailable, console only: %v\n", file, err)
		} else {
			cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(productionCfg), zapcore.AddSync(fileHandler), level))
		}
	}

	return zap.New(zapcore.NewTee(cores...))
}

// -----------------------------------------------------------------------------

func parseLevel(name string) zap.AtomicLevel {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "warning" {
		name = "warn"
	}
	if name == "critical" {
		name = "error"
	}
	level := zap.InfoLevel
	if parsed, err := zapcore.ParseLevel(name); err == nil {
		level = parsed
	}
	return zap.NewAtomicLevelAt(level)
}

// -----------------------------------------------------------------------------

// Debug logs diagnostic messages
func (l *Logger) Debug(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

// -----------------------------------------------------------------------------

// Info logs informational messages
func (l *Logger) Info(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

// -----------------------------------------------------------------------------

// Warning logs recoverable problems
func (l *Logger) Warning(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

// -----------------------------------------------------------------------------

// Error logs error messages
func (l *Logger) Error(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// -----------------------------------------------------------------------------

// Critical logs critical errors and exits the application
func (l *Logger) Critical(format string, args ...interface{}) {
	l.sugar.Errorf("CRITICAL: "+format, args...)
	_ = l.sugar.Sync()
	os.Exit(1)
}

// -----------------------------------------------------------------------------

// Named returns a child logger, e.g. "Feed" -> "Feed.upbit".
func (l *Logger) Named(name string) *Logger {
	return &Logger{name: l.name + "." + name, sugar: l.sugar.Named(name), config: l.config}
}

// -----------------------------------------------------------------------------

// Sync flushes buffered entries.
func (l *Logger) Sync() {
	_ = l.sugar.Sync()
}
