// Package logging is a small leveled logger that knows about conversation
// sessions and pipeline stages.
package logging

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kyleking/askdb/internal/config"
)

// LogLevel represents the severity level of a log message
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

const callerSkip = 3

func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// LogEntry is one emitted line. Session and Stage are promoted out of Fields so
// every line of a conversation or stage can be filtered on them directly.
type LogEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Session   string                 `json:"session,omitempty"`
	Stage     string                 `json:"stage,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Caller    string                 `json:"caller,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// sink is shared by a logger and every logger derived from it
type sink struct {
	mu     sync.Mutex
	w      io.Writer
	file   *os.File
	json   bool
	caller bool
}

func (s *sink) write(entry LogEntry) {
	var line string

	if s.json {
		data, _ := json.Marshal(entry)
		line = string(data)
	} else {
		line = formatText(entry)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = fmt.Fprintln(s.w, line)
}

// Logger writes leveled entries. Loggers returned by the With methods are
// independent copies that share the parent's output.
type Logger struct {
	level   LogLevel
	out     *sink
	session string
	stage   string
	fields  map[string]interface{}
}

var (
	globalLogger *Logger
	loggerOnce   sync.Once
)

// InitializeLogger initializes the global logger once per process
func InitializeLogger(cfg config.LoggingConfig) error {
	var err error

	loggerOnce.Do(func() {
		globalLogger, err = NewLogger(cfg)
	})

	return err
}

// NewLogger opens the configured output. Debug level always records callers.
func NewLogger(cfg config.LoggingConfig) (*Logger, error) {
	out := &sink{
		json:   strings.EqualFold(cfg.Format, "json"),
		caller: cfg.AddSource || strings.EqualFold(cfg.Level, "debug"),
	}

	switch strings.ToLower(cfg.Output) {
	case "stdout":
		out.w = os.Stdout
	case "stderr":
		out.w = os.Stderr
	case "file":
		if cfg.File == "" {
			return nil, errors.New("log file path is required when output is 'file'")
		}

		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}

		out.w, out.file = file, file
	default:
		return nil, fmt.Errorf("invalid log output: %s", cfg.Output)
	}

	return &Logger{level: parseLogLevel(cfg.Level), out: out}, nil
}

// NewWriterLogger logs to w at level in "text" or "json" format
func NewWriterLogger(w io.Writer, level, format string) *Logger {
	return &Logger{
		level: parseLogLevel(level),
		out:   &sink{w: w, json: strings.EqualFold(format, "json")},
	}
}

// Nop returns a logger that drops everything
func Nop() *Logger {
	return NewWriterLogger(io.Discard, "error", "text")
}

// OrNop returns l, or a discarding logger when l is nil
func OrNop(l *Logger) *Logger {
	if l == nil {
		return Nop()
	}

	return l
}

func parseLogLevel(level string) LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

func (l *Logger) clone() *Logger {
	c := *l
	c.fields = make(map[string]interface{}, len(l.fields)+1)

	for k, v := range l.fields {
		c.fields[k] = v
	}

	return &c
}

func (l *Logger) WithField(key string, value interface{}) *Logger {
	c := l.clone()
	c.fields[key] = value

	return c
}

func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	c := l.clone()
	for k, v := range fields {
		c.fields[k] = v
	}

	return c
}

// WithError records err as a field; a nil err returns l unchanged
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}

	return l.WithField("error", err.Error())
}

// WithStage tags every entry with a pipeline stage name
func (l *Logger) WithStage(stage string) *Logger {
	c := l.clone()
	c.stage = stage

	return c
}

// WithSession tags every entry with a conversation session id
func (l *Logger) WithSession(sessionID string) *Logger {
	c := l.clone()
	c.session = sessionID

	return c
}

func (l *Logger) emit(level LogLevel, message string, err error) {
	if level < l.level {
		return
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     level.String(),
		Session:   l.session,
		Stage:     l.stage,
		Message:   message,
	}

	if len(l.fields) > 0 {
		entry.Fields = l.fields
	}

	if err != nil {
		entry.Error = err.Error()
	}

	if l.out.caller {
		entry.Caller = getCaller()
	}

	l.out.write(entry)
}

// formatText renders "<time> <LEVEL> [session stage] message {k=v ...} error=..."
func formatText(entry LogEntry) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s %-5s", entry.Timestamp, entry.Level)

	if scope := strings.TrimSpace(entry.Session + " " + entry.Stage); scope != "" {
		fmt.Fprintf(&b, " [%s]", scope)
	}

	if entry.Caller != "" {
		fmt.Fprintf(&b, " (%s)", entry.Caller)
	}

	b.WriteString(" " + entry.Message)

	if len(entry.Fields) > 0 {
		keys := make([]string, 0, len(entry.Fields))
		for k := range entry.Fields {
			keys = append(keys, k)
		}

		sort.Strings(keys)

		pairs := make([]string, len(keys))
		for i, k := range keys {
			pairs[i] = fmt.Sprintf("%s=%v", k, entry.Fields[k])
		}

		b.WriteString(" {" + strings.Join(pairs, " ") + "}")
	}

	if entry.Error != "" {
		b.WriteString(" error=" + entry.Error)
	}

	return b.String()
}

func getCaller() string {
	_, file, line, ok := runtime.Caller(callerSkip)
	if !ok {
		return "unknown"
	}

	return fmt.Sprintf("%s:%d", filepath.Base(file), line)
}

func (l *Logger) Debug(message string) { l.emit(DebugLevel, message, nil) }

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.emit(DebugLevel, fmt.Sprintf(format, args...), nil)
}

func (l *Logger) Info(message string) { l.emit(InfoLevel, message, nil) }

func (l *Logger) Infof(format string, args ...interface{}) {
	l.emit(InfoLevel, fmt.Sprintf(format, args...), nil)
}

func (l *Logger) Warn(message string) { l.emit(WarnLevel, message, nil) }

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.emit(WarnLevel, fmt.Sprintf(format, args...), nil)
}

func (l *Logger) Error(message string) { l.emit(ErrorLevel, message, nil) }

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.emit(ErrorLevel, fmt.Sprintf(format, args...), nil)
}

// ErrorWithErr logs message with err in the entry's error slot
func (l *Logger) ErrorWithErr(message string, err error) { l.emit(ErrorLevel, message, err) }

// Close closes the log file, if any
func (l *Logger) Close() error {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()

	if l.out.file != nil {
		return l.out.file.Close()
	}

	return nil
}

// Info logs through the global logger
func Info(message string) {
	if globalLogger != nil {
		globalLogger.Info(message)
	}
}

// Warnf logs through the global logger
func Warnf(format string, args ...interface{}) {
	if globalLogger != nil {
		globalLogger.Warnf(format, args...)
	}
}

// ErrorWithErr logs through the global logger
func ErrorWithErr(message string, err error) {
	if globalLogger != nil {
		globalLogger.ErrorWithErr(message, err)
	}
}

// GetLogger returns the global logger, or a discarding one before initialization
func GetLogger() *Logger {
	return OrNop(globalLogger)
}

// SetupFallbackLogger installs an info-level stderr logger for when configuration fails
func SetupFallbackLogger() {
	globalLogger = NewWriterLogger(os.Stderr, "info", "text")
}

// TrackStage runs fn under a stage-scoped logger and logs its duration and outcome
func TrackStage(logger *Logger, stage string, fn func() error) error {
	scoped := OrNop(logger).WithStage(stage)
	scoped.Debug("stage started")

	start := time.Now()
	err := fn()
	scoped = scoped.WithField("duration_ms", time.Since(start).Milliseconds())

	if err != nil {
		scoped.ErrorWithErr("stage failed", err)
	} else {
		scoped.Debug("stage completed")
	}

	return err
}
