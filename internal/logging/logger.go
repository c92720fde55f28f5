// Package logging provides config-driven categorized logging for pageexplorer.
// Each category can write to its own file under the configured directory.
// Logging is controlled by debug_mode - when false, every logger is a no-op.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot     Category = "boot"     // CLI startup, config
	CategorySession  Category = "session"  // Attach, shutdown, liveness
	CategoryExplorer Category = "explorer" // Instruction interpreter
	CategoryDriver   Category = "driver"   // Backend protocol traffic
	CategoryConfig   Category = "config"   // Config loading
)

// Config mirrors config.LoggingConfig to avoid an import cycle.
type Config struct {
	DebugMode  bool
	Level      string // debug, info, warn, error
	JSONFormat bool
	Console    bool   // also write to stderr
	Dir        string // one file per category when set
	Categories map[string]bool
}

// Logger is a category logger with printf-style methods.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	config    Config
	configMu  sync.RWMutex
	level     = zap.NewAtomicLevelAt(zapcore.InfoLevel)
)

// Initialize applies cfg. Loggers handed out before the call keep their old
// destination; call it once at startup.
func Initialize(cfg Config) error {
	CloseAll()

	configMu.Lock()
	config = cfg
	configMu.Unlock()

	lvl, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		lvl = zapcore.InfoLevel
	}
	level.SetLevel(lvl)

	if !cfg.DebugMode {
		return nil
	}
	if cfg.Dir != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return fmt.Errorf("failed to create logs directory: %w", err)
		}
	}

	boot := Get(CategoryBoot)
	boot.Info("=== pageexplorer logging initialized ===")
	boot.Info("Logs directory: %s", cfg.Dir)
	boot.Info("Log level: %s", lvl)
	if len(cfg.Categories) > 0 {
		enabled := 0
		for cat, on := range cfg.Categories {
			if on {
				enabled++
			}
			boot.Debug("Category '%s': %v", cat, on)
		}
		boot.Info("Enabled categories: %d/%d", enabled, len(cfg.Categories))
	}
	return nil
}

// IsDebugMode returns whether debug logging is enabled
func IsDebugMode() bool {
	configMu.RLock()
	defer configMu.RUnlock()
	return config.DebugMode
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	configMu.RLock()
	defer configMu.RUnlock()

	if !config.DebugMode {
		return false
	}
	if config.Categories == nil {
		return true
	}
	enabled, exists := config.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

func nopLogger(category Category) *Logger {
	return &Logger{category: category, sugar: zap.NewNop().Sugar()}
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if debug mode or the category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
		return nopLogger(category)
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()

	// Double-check after acquiring write lock
	if l, ok := loggers[category]; ok {
		return l
	}

	configMu.RLock()
	cfg := config
	configMu.RUnlock()

	l, err := newLogger(category, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: %v\n", err)
		return nopLogger(category)
	}
	loggers[category] = l
	return l
}

func newLogger(category Category, cfg Config) (*Logger, error) {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if cfg.JSONFormat {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	var cores []zapcore.Core
	var file *os.File
	if cfg.Dir != "" {
		// Date prefix for easy rotation
		name := fmt.Sprintf("%s_%s.log", time.Now().Format("2006-01-02"), category)
		path := filepath.Join(cfg.Dir, name)
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("could not open log file %s: %w", path, err)
		}
		file = f
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(f), level))
	}
	if cfg.Console {
		cores = append(cores, zapcore.NewCore(enc.Clone(), zapcore.Lock(os.Stderr), level))
	}
	if len(cores) == 0 {
		return nopLogger(category), nil
	}

	z := zap.New(zapcore.NewTee(cores...)).Named(string(category))
	return &Logger{category: category, sugar: z.Sugar(), file: file}, nil
}

// Zap exposes the underlying structured logger.
func (l *Logger) Zap() *zap.Logger { return l.sugar.Desugar() }

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) { l.sugar.Infof(format, args...) }

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) { l.sugar.Warnf(format, args...) }

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }

// StructuredLog writes msg at level with additional fields.
func (l *Logger) StructuredLog(lvl string, msg string, fields map[string]interface{}) {
	kv := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		kv = append(kv, k, v)
	}
	switch lvl {
	case "debug":
		l.sugar.Debugw(msg, kv...)
	case "warn":
		l.sugar.Warnw(msg, kv...)
	case "error":
		l.sugar.Errorw(msg, kv...)
	default:
		l.sugar.Infow(msg, kv...)
	}
}

// CloseAll flushes and closes all open log files (call at shutdown)
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	for _, l := range loggers {
		_ = l.sugar.Sync()
		if l.file != nil {
			_ = l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// =============================================================================
// CONVENIENCE FUNCTIONS - no-ops if the category is disabled
// =============================================================================

// Boot logs to the boot category
func Boot(format string, args ...interface{}) { Get(CategoryBoot).Info(format, args...) }

// BootDebug logs debug to the boot category
func BootDebug(format string, args ...interface{}) { Get(CategoryBoot).Debug(format, args...) }

// BootWarn logs warning to the boot category
func BootWarn(format string, args ...interface{}) { Get(CategoryBoot).Warn(format, args...) }

// Session logs to the session category
func Session(format string, args ...interface{}) { Get(CategorySession).Info(format, args...) }

// SessionDebug logs debug to the session category
func SessionDebug(format string, args ...interface{}) { Get(CategorySession).Debug(format, args...) }

// SessionWarn logs warning to the session category
func SessionWarn(format string, args ...interface{}) { Get(CategorySession).Warn(format, args...) }

// SessionError logs error to the session category
func SessionError(format string, args ...interface{}) { Get(CategorySession).Error(format, args...) }

// Explorer logs to the explorer category
func Explorer(format string, args ...interface{}) { Get(CategoryExplorer).Info(format, args...) }

// ExplorerDebug logs debug to the explorer category
func ExplorerDebug(format string, args ...interface{}) { Get(CategoryExplorer).Debug(format, args...) }

// ExplorerWarn logs warning to the explorer category
func ExplorerWarn(format string, args ...interface{}) { Get(CategoryExplorer).Warn(format, args...) }

// DriverDebug logs debug to the driver category
func DriverDebug(format string, args ...interface{}) { Get(CategoryDriver).Debug(format, args...) }

// DriverWarn logs warning to the driver category
func DriverWarn(format string, args ...interface{}) { Get(CategoryDriver).Warn(format, args...) }

// ConfigDebug logs debug to the config category
func ConfigDebug(format string, args ...interface{}) { Get(CategoryConfig).Debug(format, args...) }

// =============================================================================
// REQUEST ID TRACING
// =============================================================================

// RequestLogger provides request-scoped logging with a correlation ID
type RequestLogger struct {
	sugar *zap.SugaredLogger
}

// WithRequestID creates a request-scoped logger, e.g. for one explore run.
func WithRequestID(category Category, requestID string) *RequestLogger {
	return &RequestLogger{sugar: Get(category).sugar.With("req", requestID)}
}

// WithField adds a field to the request logger
func (r *RequestLogger) WithField(key string, value interface{}) *RequestLogger {
	return &RequestLogger{sugar: r.sugar.With(key, value)}
}

func (r *RequestLogger) Debug(format string, args ...interface{}) { r.sugar.Debugf(format, args...) }
func (r *RequestLogger) Info(format string, args ...interface{})  { r.sugar.Infof(format, args...) }
func (r *RequestLogger) Warn(format string, args ...interface{})  { r.sugar.Warnf(format, args...) }
func (r *RequestLogger) Error(format string, args ...interface{}) { r.sugar.Errorf(format, args...) }

// =============================================================================
// TIMING HELPERS
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
