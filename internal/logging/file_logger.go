package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"
)

const logDirEnvVar = "ZEN_LOG_DIR"

// Level represents the severity of a log message.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Category routes log lines to a dedicated file.
type Category string

const (
	CategoryService  Category = "service"
	CategoryAgent    Category = "agent"
	CategorySecurity Category = "security"
)

var (
	categoryMu      sync.Mutex
	categoryLoggers = make(map[Category]*FileLogger)
)

// FileLogger writes timestamped, component-tagged lines to a category log file.
type FileLogger struct {
	file      *os.File
	logger    *log.Logger
	level     Level
	mu        *sync.Mutex
	component string
	category  Category
}

// NewComponentLogger returns the service-category logger scoped to a component.
func NewComponentLogger(component string) Logger {
	return NewCategorizedLogger(CategoryService, component)
}

// NewSecurityLogger returns a logger that writes to the dedicated security log
// file (zen-security.log). Isolation violations land here.
func NewSecurityLogger(component string) Logger {
	return NewCategorizedLogger(CategorySecurity, component)
}

// NewAgentLogger returns a logger that writes to the dedicated agent run log
// file (zen-agent.log).
func NewAgentLogger(component string) Logger {
	return NewCategorizedLogger(CategoryAgent, component)
}

// NewCategorizedLogger creates a logger for a specific category and component.
// Loggers created for the same category share a single file handle.
func NewCategorizedLogger(category Category, component string) *FileLogger {
	base := getOrCreateCategoryLogger(category)
	return &FileLogger{
		file:      base.file,
		logger:    base.logger,
		level:     base.level,
		mu:        base.mu,
		component: component,
		category:  category,
	}
}

func getOrCreateCategoryLogger(category Category) *FileLogger {
	categoryMu.Lock()
	defer categoryMu.Unlock()

	if logger, ok := categoryLoggers[category]; ok {
		return logger
	}

	logger := newFileLogger(category)
	categoryLoggers[category] = logger
	return logger
}

func newFileLogger(category Category) *FileLogger {
	l := &FileLogger{
		level:    LevelDebug,
		mu:       &sync.Mutex{},
		category: category,
	}

	logDir, err := resolveLogDirectory()
	if err != nil {
		log.Printf("Failed to resolve log directory: %v", err)
		return l
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		log.Printf("Failed to create log directory %s: %v", logDir, err)
		return l
	}

	logPath := filepath.Join(logDir, logFileName(category))
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Printf("Failed to open log file: %v", err)
		return l
	}

	l.file = file
	l.logger = log.New(file, "", 0) // formatted below
	return l
}

func resolveLogDirectory() (string, error) {
	if override := strings.TrimSpace(os.Getenv(logDirEnvVar)); override != "" {
		return override, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return home, nil
}

func logFileName(category Category) string {
	switch category {
	case CategoryAgent:
		return "zen-agent.log"
	case CategorySecurity:
		return "zen-security.log"
	default:
		return "zen-service.log"
	}
}

// SetLevel sets the minimum log level.
func (l *FileLogger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// Close closes the log file.
func (l *FileLogger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

func (l *FileLogger) log(level Level, format string, args ...any) {
	if level < l.level || l.logger == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	_, file, line, ok := runtime.Caller(2)
	if ok {
		file = filepath.Base(file)
	} else {
		file = "???"
		line = 0
	}

	// Format: 2026-08-31 12:34:56 [INFO] [SERVICE] [ComponentName] file.go:123 - Message
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	component := l.component
	if component == "" {
		component = "ZEN"
	}
	category := strings.ToUpper(string(l.category))
	if category == "" {
		category = "SERVICE"
	}

	message := fmt.Sprintf(format, args...)
	l.logger.Printf("%s [%s] [%s] [%s] %s:%d - %s",
		timestamp, levelToString(level), category, component, file, line, message)
}

// Debug logs a debug message.
func (l *FileLogger) Debug(format string, args ...any) {
	l.log(LevelDebug, format, args...)
}

// Info logs an info message.
func (l *FileLogger) Info(format string, args ...any) {
	l.log(LevelInfo, format, args...)
}

// Warn logs a warning message.
func (l *FileLogger) Warn(format string, args ...any) {
	l.log(LevelWarn, format, args...)
}

// Error logs an error message.
func (l *FileLogger) Error(format string, args ...any) {
	l.log(LevelError, format, args...)
}

func levelToString(level Level) string {
	switch level {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}
