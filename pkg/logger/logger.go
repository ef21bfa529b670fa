// Package logger provides the process-wide leveled logger.
//
// The API is a thin facade over zap so call sites stay terse (Debugf, Infof,
// ...) while output remains structured and consistently formatted. Trace is a
// local level below debug used for protocol frames and FSM inputs; zap has no
// native trace level, so trace records are emitted at debug once enabled.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is the verbosity threshold used by the logger.
//
// Lower values are more verbose.
type Level int

const (
	// LevelTrace enables extremely verbose logs (wire frames, event routing).
	LevelTrace Level = iota
	// LevelDebug enables verbose logs intended for debugging.
	LevelDebug
	// LevelInfo enables informational logs (default).
	LevelInfo
	// LevelWarn enables only warnings and errors.
	LevelWarn
	// LevelError enables only error logs.
	LevelError
)

var (
	mu        sync.RWMutex
	threshold = LevelInfo
	sugar     = build(zapcore.Lock(os.Stderr))
)

func build(w zapcore.WriteSyncer) *zap.SugaredLogger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), w, zapcore.DebugLevel)
	return zap.New(core).Sugar()
}

// ParseLevel parses a log level string into a Level.
func ParseLevel(raw string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", raw)
	}
}

// SetOutput replaces the writer used by the global logger.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	sugar = build(zapcore.AddSync(w))
}

// SetLevel sets the global log level threshold.
func SetLevel(level Level) {
	mu.Lock()
	defer mu.Unlock()
	threshold = level
}

// Enabled reports whether a level would be emitted by the current configuration.
func Enabled(level Level) bool {
	mu.RLock()
	defer mu.RUnlock()
	return level >= threshold
}

func logf(level Level, emit func(*zap.SugaredLogger)) {
	mu.RLock()
	s := sugar
	t := threshold
	mu.RUnlock()
	if level < t {
		return
	}
	emit(s)
}

// Tracef logs at TRACE level.
func Tracef(format string, args ...any) {
	logf(LevelTrace, func(s *zap.SugaredLogger) { s.Debugf(format, args...) })
}

// Debugf logs at DEBUG level.
func Debugf(format string, args ...any) {
	logf(LevelDebug, func(s *zap.SugaredLogger) { s.Debugf(format, args...) })
}

// Infof logs at INFO level.
func Infof(format string, args ...any) {
	logf(LevelInfo, func(s *zap.SugaredLogger) { s.Infof(format, args...) })
}

// Warnf logs at WARN level.
func Warnf(format string, args ...any) {
	logf(LevelWarn, func(s *zap.SugaredLogger) { s.Warnf(format, args...) })
}

// Errorf logs at ERROR level.
func Errorf(format string, args ...any) {
	logf(LevelError, func(s *zap.SugaredLogger) { s.Errorf(format, args...) })
}
