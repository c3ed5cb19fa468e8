// Package logging provides categorized file-based logging for researchNERD.
// Logs are written to the configured directory with separate files per
// category. Logging is off unless enabled via Configure or RESEARCHNERD_DEBUG.
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
	// Lifecycle categories
	CategoryBoot    Category = "boot"    // Startup and configuration
	CategorySession Category = "session" // Session lifecycle, persistence

	// Research loop categories
	CategoryOrchestrator Category = "orchestrator" // State machine transitions
	CategoryPlanner      Category = "planner"      // Direction planning
	CategoryRetrieval    Category = "retrieval"    // Search/fetch fan-out
	CategoryEvaluator    Category = "evaluator"    // Source scoring and dedup
	CategoryAccumulator  Category = "accumulator"  // Learning extraction
	CategorySynthesis    Category = "synthesis"    // Report passes
	CategoryCitations    Category = "citations"    // Citation registry

	// Collaborator categories
	CategoryLLM    Category = "llm"    // LLM API calls
	CategorySearch Category = "search" // Search engine adapters
	CategoryFetch  Category = "fetch"  // Page fetching and extraction
	CategoryCache  Category = "cache"  // Source cache
	CategoryStore  Category = "store"  // SQLite archive
)

// Options controls logging behavior. Zero value disables logging.
type Options struct {
	Enabled    bool            `json:"enabled"`
	Dir        string          `json:"dir"`
	Level      string          `json:"level"` // debug, info, warn, error
	JSONFormat bool            `json:"json_format"`
	Categories map[string]bool `json:"categories"` // nil = all enabled
}

// StructuredLogEntry is the JSON line format when JSONFormat is on.
type StructuredLogEntry struct {
	Timestamp int64                  `json:"ts"` // Unix milliseconds
	Category  string                 `json:"cat"`
	Level     string                 `json:"lvl"`
	Message   string                 `json:"msg"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Logger wraps a standard logger with category and file output.
type Logger struct {
	category Category
	logger   *log.Logger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	opts      Options
	optsMu    sync.RWMutex
	logLevel  int
)

// Log levels
const (
	LevelDebug = 0
	LevelInfo  = 1
	LevelWarn  = 2
	LevelError = 3
)

// Configure sets up logging. Call once at startup, before any Get.
// When opts.Enabled is false this is a silent no-op; RESEARCHNERD_DEBUG=1
// force-enables with defaults so library users get logs without config.
func Configure(o Options) error {
	if os.Getenv("RESEARCHNERD_DEBUG") == "1" {
		o.Enabled = true
		if o.Level == "" {
			o.Level = "debug"
		}
	}
	if dir := os.Getenv("RESEARCHNERD_LOG_DIR"); dir != "" {
		o.Dir = dir
	}
	if o.Dir == "" {
		o.Dir = filepath.Join(".researchnerd", "logs")
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

	if !o.Enabled {
		return nil
	}

	if err := os.MkdirAll(o.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	boot := Get(CategoryBoot)
	boot.Info("=== researchNERD logging initialized ===")
	boot.Info("Logs directory: %s", o.Dir)
	boot.Info("Log level: %s", o.Level)
	return nil
}

// IsEnabled returns whether logging is active.
func IsEnabled() bool {
	optsMu.RLock()
	defer optsMu.RUnlock()
	return opts.Enabled
}

// IsCategoryEnabled returns whether a specific category is enabled.
func IsCategoryEnabled(category Category) bool {
	optsMu.RLock()
	defer optsMu.RUnlock()

	if !opts.Enabled {
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
// Returns a no-op logger if logging or the category is disabled.
func Get(category Category) *Logger {
	if !IsCategoryEnabled(category) {
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

	// Double-check after acquiring write lock
	if l, ok := loggers[category]; ok {
		return l
	}

	optsMu.RLock()
	dir := opts.Dir
	optsMu.RUnlock()

	// Date prefix keeps rotation trivial
	date := time.Now().Format("2006-01-02")
	logPath := filepath.Join(dir, fmt.Sprintf("%s_%s.log", date, category))

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

func (l *Logger) logJSON(level, msg string) {
	entry := StructuredLogEntry{
		Timestamp: time.Now().UnixMilli(),
		Category:  string(l.category),
		Level:     level,
		Message:   msg,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		l.logger.Printf("[%s] %s", level, msg)
		return
	}
	l.logger.Printf("%s", data)
}

func (l *Logger) jsonFormat() bool {
	optsMu.RLock()
	defer optsMu.RUnlock()
	return opts.JSONFormat
}

// Debug logs a debug message (only if level <= debug).
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelDebug {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if l.jsonFormat() {
		l.logJSON("debug", msg)
	} else {
		l.logger.Printf("[DEBUG] %s", msg)
	}
}

// Info logs an informational message (only if level <= info).
func (l *Logger) Info(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelInfo {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if l.jsonFormat() {
		l.logJSON("info", msg)
	} else {
		l.logger.Printf("[INFO] %s", msg)
	}
}

// Warn logs a warning message (only if level <= warn).
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.logger == nil || logLevel > LevelWarn {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if l.jsonFormat() {
		l.logJSON("warn", msg)
	} else {
		l.logger.Printf("[WARN] %s", msg)
	}
}

// Error logs an error message (always logged if logger exists).
func (l *Logger) Error(format string, args ...interface{}) {
	if l.logger == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	if l.jsonFormat() {
		l.logJSON("error", msg)
	} else {
		l.logger.Printf("[ERROR] %s", msg)
	}
}

// StructuredLog writes a fully structured entry with custom fields.
func (l *Logger) StructuredLog(level string, msg string, fields map[string]interface{}) {
	if l.logger == nil {
		return
	}
	if l.jsonFormat() {
		entry := StructuredLogEntry{
			Timestamp: time.Now().UnixMilli(),
			Category:  string(l.category),
			Level:     level,
			Message:   msg,
			Fields:    fields,
		}
		if data, err := json.Marshal(entry); err == nil {
			l.logger.Printf("%s", data)
			return
		}
	}
	l.logger.Printf("[%s] %s | fields=%v", level, msg, fields)
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

// =============================================================================
// CONVENIENCE FUNCTIONS - Quick logging without getting a logger first
// These are no-ops if the category is disabled
// =============================================================================

// Boot logs to the boot category
func Boot(format string, args ...interface{}) {
	Get(CategoryBoot).Info(format, args...)
}

// BootDebug logs debug to the boot category
func BootDebug(format string, args ...interface{}) {
	Get(CategoryBoot).Debug(format, args...)
}

// Session logs to the session category
func Session(format string, args ...interface{}) {
	Get(CategorySession).Info(format, args...)
}

// SessionDebug logs debug to the session category
func SessionDebug(format string, args ...interface{}) {
	Get(CategorySession).Debug(format, args...)
}

// Orchestrator logs to the orchestrator category
func Orchestrator(format string, args ...interface{}) {
	Get(CategoryOrchestrator).Info(format, args...)
}

// OrchestratorDebug logs debug to the orchestrator category
func OrchestratorDebug(format string, args ...interface{}) {
	Get(CategoryOrchestrator).Debug(format, args...)
}

// OrchestratorWarn logs warning to the orchestrator category
func OrchestratorWarn(format string, args ...interface{}) {
	Get(CategoryOrchestrator).Warn(format, args...)
}

// OrchestratorError logs error to the orchestrator category
func OrchestratorError(format string, args ...interface{}) {
	Get(CategoryOrchestrator).Error(format, args...)
}

// Planner logs to the planner category
func Planner(format string, args ...interface{}) {
	Get(CategoryPlanner).Info(format, args...)
}

// PlannerDebug logs debug to the planner category
func PlannerDebug(format string, args ...interface{}) {
	Get(CategoryPlanner).Debug(format, args...)
}

// PlannerWarn logs warning to the planner category
func PlannerWarn(format string, args ...interface{}) {
	Get(CategoryPlanner).Warn(format, args...)
}

// PlannerError logs error to the planner category
func PlannerError(format string, args ...interface{}) {
	Get(CategoryPlanner).Error(format, args...)
}

// Retrieval logs to the retrieval category
func Retrieval(format string, args ...interface{}) {
	Get(CategoryRetrieval).Info(format, args...)
}

// RetrievalDebug logs debug to the retrieval category
func RetrievalDebug(format string, args ...interface{}) {
	Get(CategoryRetrieval).Debug(format, args...)
}

// RetrievalWarn logs warning to the retrieval category
func RetrievalWarn(format string, args ...interface{}) {
	Get(CategoryRetrieval).Warn(format, args...)
}

// RetrievalError logs error to the retrieval category
func RetrievalError(format string, args ...interface{}) {
	Get(CategoryRetrieval).Error(format, args...)
}

// Evaluator logs to the evaluator category
func Evaluator(format string, args ...interface{}) {
	Get(CategoryEvaluator).Info(format, args...)
}

// EvaluatorDebug logs debug to the evaluator category
func EvaluatorDebug(format string, args ...interface{}) {
	Get(CategoryEvaluator).Debug(format, args...)
}

// EvaluatorWarn logs warning to the evaluator category
func EvaluatorWarn(format string, args ...interface{}) {
	Get(CategoryEvaluator).Warn(format, args...)
}

// Accumulator logs to the accumulator category
func Accumulator(format string, args ...interface{}) {
	Get(CategoryAccumulator).Info(format, args...)
}

// AccumulatorDebug logs debug to the accumulator category
func AccumulatorDebug(format string, args ...interface{}) {
	Get(CategoryAccumulator).Debug(format, args...)
}

// AccumulatorWarn logs warning to the accumulator category
func AccumulatorWarn(format string, args ...interface{}) {
	Get(CategoryAccumulator).Warn(format, args...)
}

// Synthesis logs to the synthesis category
func Synthesis(format string, args ...interface{}) {
	Get(CategorySynthesis).Info(format, args...)
}

// SynthesisDebug logs debug to the synthesis category
func SynthesisDebug(format string, args ...interface{}) {
	Get(CategorySynthesis).Debug(format, args...)
}

// SynthesisWarn logs warning to the synthesis category
func SynthesisWarn(format string, args ...interface{}) {
	Get(CategorySynthesis).Warn(format, args...)
}

// SynthesisError logs error to the synthesis category
func SynthesisError(format string, args ...interface{}) {
	Get(CategorySynthesis).Error(format, args...)
}

// Citations logs to the citations category
func Citations(format string, args ...interface{}) {
	Get(CategoryCitations).Info(format, args...)
}

// CitationsDebug logs debug to the citations category
func CitationsDebug(format string, args ...interface{}) {
	Get(CategoryCitations).Debug(format, args...)
}

// LLM logs to the llm category
func LLM(format string, args ...interface{}) {
	Get(CategoryLLM).Info(format, args...)
}

// LLMDebug logs debug to the llm category
func LLMDebug(format string, args ...interface{}) {
	Get(CategoryLLM).Debug(format, args...)
}

// LLMWarn logs warning to the llm category
func LLMWarn(format string, args ...interface{}) {
	Get(CategoryLLM).Warn(format, args...)
}

// LLMError logs error to the llm category
func LLMError(format string, args ...interface{}) {
	Get(CategoryLLM).Error(format, args...)
}

// Search logs to the search category
func Search(format string, args ...interface{}) {
	Get(CategorySearch).Info(format, args...)
}

// SearchDebug logs debug to the search category
func SearchDebug(format string, args ...interface{}) {
	Get(CategorySearch).Debug(format, args...)
}

// SearchWarn logs warning to the search category
func SearchWarn(format string, args ...interface{}) {
	Get(CategorySearch).Warn(format, args...)
}

// Fetch logs to the fetch category
func Fetch(format string, args ...interface{}) {
	Get(CategoryFetch).Info(format, args...)
}

// FetchDebug logs debug to the fetch category
func FetchDebug(format string, args ...interface{}) {
	Get(CategoryFetch).Debug(format, args...)
}

// FetchWarn logs warning to the fetch category
func FetchWarn(format string, args ...interface{}) {
	Get(CategoryFetch).Warn(format, args...)
}

// Cache logs to the cache category
func Cache(format string, args ...interface{}) {
	Get(CategoryCache).Info(format, args...)
}

// CacheDebug logs debug to the cache category
func CacheDebug(format string, args ...interface{}) {
	Get(CategoryCache).Debug(format, args...)
}

// Store logs to the store category
func Store(format string, args ...interface{}) {
	Get(CategoryStore).Info(format, args...)
}

// StoreDebug logs debug to the store category
func StoreDebug(format string, args ...interface{}) {
	Get(CategoryStore).Debug(format, args...)
}

// StoreError logs error to the store category
func StoreError(format string, args ...interface{}) {
	Get(CategoryStore).Error(format, args...)
}

// =============================================================================
// TIMING HELPERS - For performance logging
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{
		category: category,
		op:       operation,
		start:    time.Now(),
	}
}

// Stop ends the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithInfo ends the timer and logs at info level
func (t *Timer) StopWithInfo() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Info("%s completed in %v", t.op, elapsed)
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
