// Package logging provides categorized file-based logging for convlint.
// Logs are written to .convlint/logs/ with separate files per category.
// Nothing is written unless debug logging is enabled via Configure.
package logging

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category represents a log category/subsystem.
type Category string

const (
	CategoryBoot     Category = "boot"     // Startup, config resolution
	CategoryScan     Category = "scan"     // Workspace scanning, hashing, cache
	CategorySyntax   Category = "syntax"   // Tree-sitter parsing, fact extraction
	CategoryKernel   Category = "kernel"   // Mangle engine operations
	CategoryRules    Category = "rules"    // Rule evaluation
	CategoryReport   Category = "report"   // Report rendering
	CategoryBaseline Category = "baseline" // Baseline store operations
	CategoryWatch    Category = "watch"    // Filesystem watcher
	CategoryDoc      Category = "doc"      // Convention document parsing
)

// Options controls logger behavior. Zero value means disabled.
type Options struct {
	Debug      bool
	Level      string          // debug, info, warn, error
	JSONFormat bool            // structured JSON entries
	Categories map[string]bool // nil means all categories enabled
}

// Log levels
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// entry is the JSON form of a log line.
type entry struct {
	Timestamp int64          `json:"ts"`
	Category  string         `json:"cat"`
	Level     string         `json:"lvl"`
	Message   string         `json:"msg"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Logger writes to a single category file.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	opts      Options
	optsMu    sync.RWMutex
	logLevel  int
)

// Initialize sets up the logging directory for the given workspace and
// applies options. Should be called once at startup; a disabled config is a
// silent no-op.
func Initialize(workspace string, o Options) error {
	if workspace == "" {
		return fmt.Errorf("workspace path required")
	}

	optsMu.Lock()
	opts = o
	switch o.Level {
	case "debug":
		logLevel = LevelDebug
	case "warn", "warning":
		logLevel = LevelWarn
	case "error":
		logLevel = LevelError
	default:
		logLevel = LevelInfo
	}
	optsMu.Unlock()

	if !o.Debug {
		return nil
	}

	logsDir = filepath.Join(workspace, ".convlint", "logs")
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("convlint logging initialized")
	boot.Info("workspace: %s", workspace)
	boot.Info("level: %s json=%v", o.Level, o.JSONFormat)
	return nil
}

// IsDebugMode returns whether debug logging is enabled.
func IsDebugMode() bool {
	optsMu.RLock()
	defer optsMu.RUnlock()
	return opts.Debug
}

// IsCategoryEnabled returns whether a specific category is enabled.
func IsCategoryEnabled(category Category) bool {
	optsMu.RLock()
	defer optsMu.RUnlock()

	if !opts.Debug {
		return false
	}
	if opts.Categories == nil {
		return true
	}
	enabled, exists := opts.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger when the category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) || logsDir == "" {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()

	if l, ok := loggers[category]; ok {
		return l
	}

	// Date prefix keeps rotation a matter of deleting old files.
	date := time.Now().Format("2006-01-02")
	logPath := filepath.Join(logsDir, fmt.Sprintf("%s_%s.log", date, category))

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	l := &Logger{
		category: category,
		file:     file,
		logger:   log.New(file, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
	loggers[category] = l
	return l
}

func (l *Logger) write(level, msg string) {
	optsMu.RLock()
	jsonFormat := opts.JSONFormat
	optsMu.RUnlock()

	if !jsonFormat {
		l.logger.Printf("[%s] %s", level, msg)
		return
	}
	e := entry{
		Timestamp: time.Now().UnixMilli(),
		Category:  string(l.category),
		Level:     level,
		Message:   msg,
	}
	data, err := json.Marshal(e)
	if err != nil {
		l.logger.Printf("[%s] %s", level, msg)
		return
	}
	l.logger.Printf("%s", data)
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...any) {
	if l.logger == nil || logLevel > LevelDebug {
		return
	}
	l.write("DEBUG", fmt.Sprintf(format, args...))
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...any) {
	if l.logger == nil || logLevel > LevelInfo {
		return
	}
	l.write("INFO", fmt.Sprintf(format, args...))
}

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...any) {
	if l.logger == nil || logLevel > LevelWarn {
		return
	}
	l.write("WARN", fmt.Sprintf(format, args...))
}

// Error logs an error message (always written if the logger exists).
func (l *Logger) Error(format string, args ...any) {
	if l.logger == nil {
		return
	}
	l.write("ERROR", fmt.Sprintf(format, args...))
}

// CloseAll closes all open log files (call at shutdown).
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	for _, l := range loggers {
		if l.file != nil {
			l.file.Close()
		}
	}
	loggers = make(map[Category]*Logger)
}

// Convenience functions; no-ops when the category is disabled.

// Scan logs to the scan category.
func Scan(format string, args ...any) { Get(CategoryScan).Info(format, args...) }

// ScanDebug logs debug to the scan category.
func ScanDebug(format string, args ...any) { Get(CategoryScan).Debug(format, args...) }

// Syntax logs to the syntax category.
func Syntax(format string, args ...any) { Get(CategorySyntax).Info(format, args...) }

// SyntaxDebug logs debug to the syntax category.
func SyntaxDebug(format string, args ...any) { Get(CategorySyntax).Debug(format, args...) }

// Kernel logs to the kernel category.
func Kernel(format string, args ...any) { Get(CategoryKernel).Info(format, args...) }

// KernelDebug logs debug to the kernel category.
func KernelDebug(format string, args ...any) { Get(CategoryKernel).Debug(format, args...) }

// Rules logs to the rules category.
func Rules(format string, args ...any) { Get(CategoryRules).Info(format, args...) }

// RulesDebug logs debug to the rules category.
func RulesDebug(format string, args ...any) { Get(CategoryRules).Debug(format, args...) }

// Baseline logs to the baseline category.
func Baseline(format string, args ...any) { Get(CategoryBaseline).Info(format, args...) }

// BaselineDebug logs debug to the baseline category.
func BaselineDebug(format string, args ...any) { Get(CategoryBaseline).Debug(format, args...) }

// Watch logs to the watch category.
func Watch(format string, args ...any) { Get(CategoryWatch).Info(format, args...) }

// WatchDebug logs debug to the watch category.
func WatchDebug(format string, args ...any) { Get(CategoryWatch).Debug(format, args...) }

// Timer helps measure operation duration.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration at debug level.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs a warning if duration exceeds threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
