/*
 * Copyright 2025 Cong Wang
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/amtp-protocol/schemavault/internal/config"
)

// LogLevel represents the severity level of a log entry
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
	LevelFatal LogLevel = "fatal"
)

// Logger provides structured logging functionality
type Logger struct {
	zl        zerolog.Logger
	component string
	fields    map[string]interface{}
}

// contextKey is used for context keys to avoid collisions
type contextKey string

const (
	requestIDKey contextKey = "request_id"
)

// NewLogger creates a new logger instance. Output goes to stdout and, when
// cfg.File is set, to a size-rotated file as well.
func NewLogger(cfg config.LoggingConfig) *Logger {
	var out io.Writer = os.Stdout
	if strings.EqualFold(cfg.Format, "text") {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	if cfg.File != "" {
		rotating := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		out = zerolog.MultiLevelWriter(out, rotating)
	}

	return NewLoggerWithWriter(cfg, out)
}

// NewLoggerWithWriter creates a logger writing JSON lines to w
func NewLoggerWithWriter(cfg config.LoggingConfig, w io.Writer) *Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	return &Logger{
		zl:     zerolog.New(w).Level(level).With().Timestamp().Logger(),
		fields: make(map[string]interface{}),
	}
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop(), fields: make(map[string]interface{})}
}

// WithComponent creates a new logger with a component name
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		zl:        l.zl,
		component: component,
		fields:    copyFields(l.fields),
	}
}

// WithFields creates a new logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	newFields := copyFields(l.fields)
	for k, v := range fields {
		newFields[k] = v
	}

	return &Logger{
		zl:        l.zl,
		component: l.component,
		fields:    newFields,
	}
}

// WithField creates a new logger with an additional field
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(map[string]interface{}{key: value})
}

// WithContext creates a new logger with context values
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if requestID := GetRequestID(ctx); requestID != "" {
		return l.WithField("request_id", requestID)
	}
	return l.WithFields(nil)
}

// Debug logs a debug message
func (l *Logger) Debug(message string) {
	l.log(zerolog.DebugLevel, message, nil)
}

// Debugf logs a formatted debug message
func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log(zerolog.DebugLevel, fmt.Sprintf(format, args...), nil)
}

// Info logs an info message
func (l *Logger) Info(message string) {
	l.log(zerolog.InfoLevel, message, nil)
}

// Infof logs a formatted info message
func (l *Logger) Infof(format string, args ...interface{}) {
	l.log(zerolog.InfoLevel, fmt.Sprintf(format, args...), nil)
}

// Warn logs a warning message
func (l *Logger) Warn(message string) {
	l.log(zerolog.WarnLevel, message, nil)
}

// Warnf logs a formatted warning message
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log(zerolog.WarnLevel, fmt.Sprintf(format, args...), nil)
}

// Error logs an error message
func (l *Logger) Error(message string, err error) {
	l.log(zerolog.ErrorLevel, message, err)
}

// Errorf logs a formatted error message
func (l *Logger) Errorf(err error, format string, args ...interface{}) {
	l.log(zerolog.ErrorLevel, fmt.Sprintf(format, args...), err)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(message string, err error) {
	l.log(zerolog.FatalLevel, message, err)
	os.Exit(1)
}

// LogRequest logs an HTTP request
func (l *Logger) LogRequest(method, path, remoteAddr, userAgent string, statusCode int, duration time.Duration) {
	l.event(zerolog.InfoLevel).
		Str("operation", "http_request").
		Str("method", method).
		Str("path", path).
		Str("remote_addr", remoteAddr).
		Str("user_agent", userAgent).
		Int("status_code", statusCode).
		Dur("duration_ms", duration).
		Msg("HTTP request")
}

// LogImport logs the outcome of a schema import
func (l *Logger) LogImport(scope string, version int, outcome string, attempts int, duration time.Duration, err error) {
	level := zerolog.InfoLevel
	message := fmt.Sprintf("Schema import for %s: %s", scope, outcome)
	if err != nil {
		level = zerolog.ErrorLevel
		message = fmt.Sprintf("Schema import for %s failed: %s", scope, outcome)
	}

	ev := l.event(level).
		Str("operation", "import").
		Str("scope", scope).
		Str("outcome", outcome).
		Int("attempts", attempts).
		Dur("duration_ms", duration)
	if version > 0 {
		ev = ev.Int("version", version)
	}
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg(message)
}

// log is the internal logging method
func (l *Logger) log(level zerolog.Level, message string, err error) {
	ev := l.event(level)
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg(message)
}

// event starts a zerolog event carrying the logger's component and fields.
// A nil event is returned for disabled levels; zerolog treats it as a no-op.
func (l *Logger) event(level zerolog.Level) *zerolog.Event {
	ev := l.zl.WithLevel(level)
	if ev == nil {
		return nil
	}
	if l.component != "" {
		ev = ev.Str("component", l.component)
	}
	if len(l.fields) > 0 {
		ev = ev.Fields(l.fields)
	}
	return ev
}

// copyFields creates a copy of a fields map
func copyFields(fields map[string]interface{}) map[string]interface{} {
	copied := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return copied
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID extracts the request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		return requestID
	}
	return ""
}
