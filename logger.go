package redisnode

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// LogrusLogger is the default Logger, backed by logrus
type LogrusLogger struct {
	logger *logrus.Logger
}

// NewLogrusLogger creates a logger writing to stderr. level is any level
// logrus understands and format is "text" or "json".
//
// Example:
//
//	logger, err := redisnode.NewLogrusLogger("debug", "json")
//
// Since: v2.0.0
func NewLogrusLogger(level, format string) (*LogrusLogger, error) {
	return NewLogrusLoggerWithOutput(os.Stderr, level, format)
}

// NewLogrusLoggerWithOutput is NewLogrusLogger writing to out
func NewLogrusLoggerWithOutput(out io.Writer, level, format string) (*LogrusLogger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	var formatter logrus.Formatter
	switch strings.ToLower(format) {
	case "", "text":
		formatter = &logrus.TextFormatter{FullTimestamp: true}
	case "json":
		formatter = &logrus.JSONFormatter{}
	default:
		return nil, fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, format)
	}

	return &LogrusLogger{
		logger: &logrus.Logger{
			Out:       out,
			Formatter: formatter,
			Hooks:     make(logrus.LevelHooks),
			Level:     lvl,
		},
	}, nil
}

func parseLevel(level string) (logrus.Level, error) {
	if level == "" {
		return logrus.InfoLevel, nil
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return lvl, nil
}

// SetLevel changes the level at runtime
func (l *LogrusLogger) SetLevel(level string) error {
	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}
	l.logger.SetLevel(lvl)
	return nil
}

// Level returns the current level name
func (l *LogrusLogger) Level() string {
	return l.logger.GetLevel().String()
}

// Logrus exposes the underlying logger
func (l *LogrusLogger) Logrus() *logrus.Logger {
	return l.logger
}

func (l *LogrusLogger) Debug(msg string, fields ...Field) {
	l.entry(fields).Debug(msg)
}

func (l *LogrusLogger) Info(msg string, fields ...Field) {
	l.entry(fields).Info(msg)
}

func (l *LogrusLogger) Error(msg string, fields ...Field) {
	l.entry(fields).Error(msg)
}

func (l *LogrusLogger) entry(fields []Field) *logrus.Entry {
	data := make(logrus.Fields, len(fields))
	for _, f := range fields {
		if err, ok := f.Value.(error); ok {
			data[f.Key] = err.Error()
			continue
		}
		data[f.Key] = f.Value
	}
	return l.logger.WithFields(data)
}

func defaultLogger() Logger {
	logger, _ := NewLogrusLogger("info", "text")
	return logger
}
