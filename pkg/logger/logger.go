package logger

import (
	"os"

	"seopilot/internal/models"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus to provide structured logging with a fixed set of
// base fields shared by every line a component emits.
type Logger struct {
	entry *logrus.Entry
}

// Init configures the global logrus instance. JSON output keeps the lines
// ingestible by the log collector.
func Init(level logrus.Level) {
	logrus.SetFormatter(&logrus.JSONFormatter{
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})
	logrus.SetOutput(os.Stdout)
	logrus.SetLevel(level)
}

// New creates a Logger with the given base fields preset.
func New(serviceName, traceID, userID string) *Logger {
	return &Logger{
		entry: logrus.WithFields(logrus.Fields{
			"service_name": serviceName,
			"trace_id":     traceID,
			"user_id":      userID,
		}),
	}
}

// WithRequest attaches request context to the log entry.
func (l *Logger) WithRequest(req models.RequestInfo) *Logger {
	return &Logger{entry: l.entry.WithField("request_info", req)}
}

// WithError attaches structured error detail to the log entry.
func (l *Logger) WithError(err models.ErrorInfo) *Logger {
	return &Logger{entry: l.entry.WithField("error", err)}
}

// WithPayload attaches arbitrary business data to the log entry.
func (l *Logger) WithPayload(payload map[string]interface{}) *Logger {
	return &Logger{entry: l.entry.WithField("payload", payload)}
}

// Info logs at info level.
func (l *Logger) Info(message string) {
	l.entry.Info(message)
}

// Warn logs at warning level.
func (l *Logger) Warn(message string) {
	l.entry.Warn(message)
}

// Error logs at error level.
func (l *Logger) Error(message string) {
	l.entry.Error(message)
}

// Debug logs at debug level.
func (l *Logger) Debug(message string) {
	l.entry.Debug(message)
}

// Fatal logs at fatal level and exits.
func (l *Logger) Fatal(message string) {
	l.entry.Fatal(message)
}
