package logger

import (
	"io"
	"maps"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
	FATAL
)

// Logger represents a configurable logger instance
type Logger struct {
	level  Level
	logger *zap.Logger
}

// New creates a new logger with simple parameters
func New(level string, output io.Writer) *Logger {
	if output == nil {
		output = os.Stdout
	}

	lvl := parseLevel(level)
	encoder := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		MessageKey:     "message",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     encodeUTC,
		EncodeDuration: zapcore.StringDurationEncoder,
	})
	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(output)), zapLevel(lvl))

	return &Logger{
		level:  lvl,
		logger: zap.New(core),
	}
}

// parseLevel converts string to Level (internal function)
func parseLevel(level string) Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN":
		return WARN
	case "ERROR":
		return ERROR
	case "FATAL":
		return FATAL
	default:
		return INFO
	}
}

func zapLevel(level Level) zapcore.Level {
	switch level {
	case DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	case FATAL:
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

func encodeUTC(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.UTC().Format(time.RFC3339))
}

// writeLogEntry writes a structured log entry
func (l *Logger) writeLogEntry(level zapcore.Level, message string, fields map[string]any) {
	ce := l.logger.Check(level, message)
	if ce == nil {
		return
	}
	if len(fields) > 0 {
		ce.Write(zap.Any("fields", fields))
		return
	}
	ce.Write()
}

func firstFields(fields []map[string]any) map[string]any {
	if len(fields) > 0 {
		return fields[0]
	}
	return nil
}

// Core logging methods - always structured
func (l *Logger) Debug(message string, fields ...map[string]any) {
	l.writeLogEntry(zapcore.DebugLevel, message, firstFields(fields))
}

func (l *Logger) Info(message string, fields ...map[string]any) {
	l.writeLogEntry(zapcore.InfoLevel, message, firstFields(fields))
}

func (l *Logger) Warn(message string, fields ...map[string]any) {
	l.writeLogEntry(zapcore.WarnLevel, message, firstFields(fields))
}

func (l *Logger) Error(message string, fields ...map[string]any) {
	l.writeLogEntry(zapcore.ErrorLevel, message, firstFields(fields))
}

// Enabled reports whether entries at the given level are written
func (l *Logger) Enabled(level Level) bool {
	return l.level <= level
}

// Sync flushes buffered entries
func (l *Logger) Sync() error {
	return l.logger.Sync()
}

// Specialized logging methods
func (l *Logger) Message(streamKey, entryID, message string, fields ...map[string]any) {
	allFields := map[string]any{
		"stream":   streamKey,
		"entry_id": entryID,
		"type":     "message",
	}

	if len(fields) > 0 && fields[0] != nil {
		maps.Copy(allFields, fields[0])
	}

	l.writeLogEntry(zapcore.InfoLevel, message, allFields)
}

func (l *Logger) HTTP(method, path string, statusCode int, duration time.Duration, fields ...map[string]any) {
	allFields := map[string]any{
		"http_method": method,
		"http_path":   path,
		"http_status": statusCode,
		"duration_ns": duration.Nanoseconds(),
		"type":        "http_request",
	}

	if len(fields) > 0 && fields[0] != nil {
		maps.Copy(allFields, fields[0])
	}

	l.writeLogEntry(zapcore.InfoLevel, "HTTP request completed", allFields)
}
