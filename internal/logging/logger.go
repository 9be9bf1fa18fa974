package logging

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	globalLogger *zap.Logger
	globalMu     sync.RWMutex
)

func init() {
	// Default to a production logger until SetGlobal is called
	globalLogger, _ = zap.NewProduction()
}

// Options controls how New builds a logger.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // json (default) or console
	// Output is "stdout", "stderr" or a file path. File output is rotated.
	Output     string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// ParseLevel maps a level name to a zap level, defaulting to info.
func ParseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New creates a new zap logger from options.
func New(opts Options) (*zap.Logger, error) {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if opts.Format == "console" {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, outputSyncer(opts), zap.NewAtomicLevelAt(ParseLevel(opts.Level)))
	return zap.New(core,
		zap.AddCaller(),
		zap.AddCallerSkip(1), // Skip one level to account for our wrapper functions
	), nil
}

func outputSyncer(opts Options) zapcore.WriteSyncer {
	switch opts.Output {
	case "", "stdout":
		return zapcore.Lock(os.Stdout)
	case "stderr":
		return zapcore.Lock(os.Stderr)
	}

	maxSize := opts.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 100
	}
	maxBackups := opts.MaxBackups
	if maxBackups <= 0 {
		maxBackups = 3
	}
	maxAge := opts.MaxAgeDays
	if maxAge <= 0 {
		maxAge = 28
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   opts.Output,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
		MaxAge:     maxAge,
		Compress:   opts.Compress,
	})
}

// Global returns the global logger.
func Global() *zap.Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// SetGlobal sets the global logger.
func SetGlobal(l *zap.Logger) {
	globalMu.Lock()
	globalLogger = l
	globalMu.Unlock()
}

// Info logs at info level using the global logger.
func Info(msg string, fields ...zap.Field) {
	Global().Info(msg, fields...)
}

// Warn logs at warn level using the global logger.
func Warn(msg string, fields ...zap.Field) {
	Global().Warn(msg, fields...)
}

// Error logs at error level using the global logger.
func Error(msg string, fields ...zap.Field) {
	Global().Error(msg, fields...)
}

// Debug logs at debug level using the global logger.
func Debug(msg string, fields ...zap.Field) {
	Global().Debug(msg, fields...)
}

// With creates a child logger with additional fields.
func With(fields ...zap.Field) *zap.Logger {
	return Global().With(fields...)
}

// Sync flushes any buffered log entries.
func Sync() {
	Global().Sync()
}
