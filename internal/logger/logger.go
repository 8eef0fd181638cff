// Package logger wraps a process-wide logrus logger.
//
// Every package logs through WithFields/WithField with kebab-case event
// names as messages, e.g.
//
//	logger.WithFields(logrus.Fields{"bot": botID, "conversation": convID}).Info("dispatch-started")
package logger

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Output formats accepted by Config.Format
const (
	FormatJSON = "json"
	FormatText = "text"
)

var (
	globalLogger *logrus.Logger
	initMu       sync.Mutex
)

// Config represents the configuration for the logger
type Config struct {
	Level string
	// Format is json or text. Empty picks text at debug level and json
	// otherwise.
	Format       string
	File         string
	MaxSize      int // megabytes
	MaxBackups   int
	MaxAge       int // days
	Compress     bool
	EnableStdout bool
}

// InitLogger replaces the global logger with one built from config
func InitLogger(config Config) error {
	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		level = logrus.InfoLevel
	}

	out, err := openOutput(config)
	if err != nil {
		return err
	}

	l := logrus.New()
	l.SetLevel(level)
	l.SetOutput(out)
	l.SetFormatter(newFormatter(config.Format, level))

	initMu.Lock()
	globalLogger = l
	initMu.Unlock()
	return nil
}

// openOutput combines the rotating file and stdout
func openOutput(config Config) (io.Writer, error) {
	var writers []io.Writer
	if config.File != "" {
		if err := os.MkdirAll(filepath.Dir(config.File), 0755); err != nil {
			return nil, err
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   config.File,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			Compress:   config.Compress,
		})
	}
	if config.EnableStdout {
		writers = append(writers, os.Stdout)
	}

	switch len(writers) {
	case 0:
		return io.Discard, nil
	case 1:
		return writers[0], nil
	}
	return io.MultiWriter(writers...), nil
}

func newFormatter(format string, level logrus.Level) logrus.Formatter {
	if format == "" {
		format = FormatJSON
		if level >= logrus.DebugLevel {
			format = FormatText
		}
	}
	if format == FormatText {
		return &logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		}
	}
	return &logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05Z07:00"}
}

// GetLogger returns the global logger, creating a text logger at info
// level when InitLogger was never called
func GetLogger() *logrus.Logger {
	initMu.Lock()
	defer initMu.Unlock()
	if globalLogger == nil {
		globalLogger = logrus.New()
		globalLogger.SetFormatter(newFormatter(FormatText, logrus.InfoLevel))
	}
	return globalLogger
}

// SetOutput redirects the global logger
func SetOutput(w io.Writer) {
	GetLogger().SetOutput(w)
}

func Debug(args ...interface{}) {
	GetLogger().Debug(args...)
}

func Info(args ...interface{}) {
	GetLogger().Info(args...)
}

func Warn(args ...interface{}) {
	GetLogger().Warn(args...)
}

func Errorf(format string, args ...interface{}) {
	GetLogger().Errorf(format, args...)
}

// WithFields returns a logger entry with structured fields
func WithFields(fields logrus.Fields) *logrus.Entry {
	return GetLogger().WithFields(fields)
}

// WithField returns a logger entry with a single field
func WithField(key string, value interface{}) *logrus.Entry {
	return GetLogger().WithField(key, value)
}

// ForConversation tags an entry with the bot and conversation
func ForConversation(botID, conversationID string) *logrus.Entry {
	return GetLogger().WithFields(logrus.Fields{
		"bot":          botID,
		"conversation": conversationID,
	})
}
