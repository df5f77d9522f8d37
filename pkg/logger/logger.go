package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// LogLevel represents the logging verbosity level
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// DebugCategory represents specific debug categories for targeted debugging
type DebugCategory string

const (
	DebugSignaling DebugCategory = "signaling"
	DebugSDP       DebugCategory = "sdp"
	DebugICE       DebugCategory = "ice"
	DebugWebRTC    DebugCategory = "webrtc"
	DebugStats     DebugCategory = "stats"
	DebugAll       DebugCategory = "all"
)

// categories lists every concrete category enabled by DebugAll
var categories = []DebugCategory{DebugSignaling, DebugSDP, DebugICE, DebugWebRTC, DebugStats}

// Config holds logger configuration
type Config struct {
	Level             LogLevel
	Format            OutputFormat
	OutputFile        string
	EnabledCategories map[DebugCategory]bool
	mu                sync.RWMutex
}

// OutputFormat determines the log output format
type OutputFormat string

const (
	FormatJSON OutputFormat = "json"
	FormatText OutputFormat = "text"
)

// Global logger instance
var (
	defaultLogger *Logger
	once          sync.Once
)

// Logger wraps slog.Logger with category-based debugging
type Logger struct {
	*slog.Logger
	config *Config
	file   *os.File
}

// NewConfig creates a new logger configuration with defaults
func NewConfig() *Config {
	return &Config{
		Level:             LevelInfo,
		Format:            FormatText,
		OutputFile:        "",
		EnabledCategories: make(map[DebugCategory]bool),
	}
}

// ParseLevel converts a string to LogLevel
func ParseLevel(level string) (LogLevel, error) {
	switch level {
	case "debug", "DEBUG":
		return LevelDebug, nil
	case "info", "INFO":
		return LevelInfo, nil
	case "warn", "WARN", "warning", "WARNING":
		return LevelWarn, nil
	case "error", "ERROR":
		return LevelError, nil
	default:
		return "", fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", level)
	}
}

// ParseFormat converts a string to OutputFormat
func ParseFormat(format string) (OutputFormat, error) {
	switch format {
	case "json", "JSON":
		return FormatJSON, nil
	case "text", "TEXT":
		return FormatText, nil
	default:
		return "", fmt.Errorf("invalid log format: %s (must be json or text)", format)
	}
}

// ToSlogLevel converts LogLevel to slog.Level
func (l LogLevel) ToSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a new Logger instance with the given configuration
func New(cfg *Config) (*Logger, error) {
	var writer io.Writer = os.Stdout
	var file *os.File

	// Setup output file if specified
	if cfg.OutputFile != "" {
		f, err := os.OpenFile(cfg.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", cfg.OutputFile, err)
		}
		writer = f
		file = f
	}

	logger := NewWithWriter(cfg, writer)
	logger.file = file

	return logger, nil
}

// NewWithWriter creates a Logger that writes to w instead of stdout or a file
func NewWithWriter(cfg *Config, w io.Writer) *Logger {
	handlerOpts := &slog.HandlerOptions{
		Level: cfg.Level.ToSlogLevel(),
	}

	var handler slog.Handler
	switch cfg.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(w, handlerOpts)
	default:
		handler = slog.NewTextHandler(w, handlerOpts)
	}

	return &Logger{
		Logger: slog.New(handler),
		config: cfg,
	}
}

// Discard returns a Logger that drops everything, for tests
func Discard() *Logger {
	return NewWithWriter(NewConfig(), io.Discard)
}

// EnableCategory enables a specific debug category
func (c *Config) EnableCategory(category DebugCategory) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if category == DebugAll {
		for _, c2 := range categories {
			c.EnabledCategories[c2] = true
		}
	} else {
		c.EnabledCategories[category] = true
	}
}

// IsCategoryEnabled checks if a debug category is enabled
func (c *Config) IsCategoryEnabled(category DebugCategory) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.EnabledCategories[category]
}

// IsDebugEnabled checks if any debug category is enabled
func (c *Config) IsDebugEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.EnabledCategories) > 0
}

// Close closes the log file if one was opened
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Category-specific logging methods

func (l *Logger) debugCategory(category DebugCategory, msg string, args ...any) {
	if l.config.IsCategoryEnabled(category) {
		args = append([]any{"category", string(category)}, args...)
		l.Debug(msg, args...)
	}
}

// DebugSignaling logs signaling channel traffic if signaling debugging is enabled
func (l *Logger) DebugSignaling(msg string, args ...any) {
	l.debugCategory(DebugSignaling, msg, args...)
}

// DebugSDP logs session descriptions if SDP debugging is enabled
func (l *Logger) DebugSDP(msg string, args ...any) {
	l.debugCategory(DebugSDP, msg, args...)
}

// DebugICE logs candidate gathering and filtering if ICE debugging is enabled
func (l *Logger) DebugICE(msg string, args ...any) {
	l.debugCategory(DebugICE, msg, args...)
}

// DebugWebRTC logs WebRTC details if WebRTC debugging is enabled
func (l *Logger) DebugWebRTC(msg string, args ...any) {
	l.debugCategory(DebugWebRTC, msg, args...)
}

// DebugStats logs collected statistics if stats debugging is enabled
func (l *Logger) DebugStats(msg string, args ...any) {
	l.debugCategory(DebugStats, msg, args...)
}

// DebugSessionDescription logs a session description one line per attribute
func (l *Logger) DebugSessionDescription(kind, sdpType, text string) {
	if !l.config.IsCategoryEnabled(DebugSDP) {
		return
	}
	l.Debug("session description",
		"category", "sdp",
		"kind", kind,
		"type", sdpType,
		"lines", strings.Count(text, "\n"),
		"sdp", text)
}

// Enabled reports whether category is enabled
func (l *Logger) Enabled(category DebugCategory) bool {
	return l.config.IsCategoryEnabled(category)
}

// WithContext adds context values to logger
func (l *Logger) WithContext(ctx context.Context) *Logger {
	return &Logger{
		Logger: l.Logger,
		config: l.config,
		file:   l.file,
	}
}

// With returns a new Logger with the given attributes
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
		config: l.config,
		file:   l.file,
	}
}

// SetDefault sets the global default logger
func SetDefault(logger *Logger) {
	defaultLogger = logger
	slog.SetDefault(logger.Logger)
}

// Default returns the default logger, creating one if necessary
func Default() *Logger {
	once.Do(func() {
		cfg := NewConfig()
		logger, err := New(cfg)
		if err != nil {
			// Fallback to basic logger
			logger = &Logger{
				Logger: slog.Default(),
				config: cfg,
			}
		}
		defaultLogger = logger
	})
	return defaultLogger
}

// Package-level convenience functions

// Debug logs at Debug level using the default logger
func Debug(msg string, args ...any) {
	Default().Debug(msg, args...)
}

// Info logs at Info level using the default logger
func Info(msg string, args ...any) {
	Default().Info(msg, args...)
}

// Warn logs at Warn level using the default logger
func Warn(msg string, args ...any) {
	Default().Warn(msg, args...)
}

// Error logs at Error level using the default logger
func Error(msg string, args ...any) {
	Default().Error(msg, args...)
}
