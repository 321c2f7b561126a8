package crypto

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// LoggerHelper carries standard fields for crypto package log lines.
type LoggerHelper struct {
	function string
	fields   logrus.Fields
}

// NewLogger creates a new logger helper with standardized fields
func NewLogger(function string) *LoggerHelper {
	return &LoggerHelper{
		function: function,
		fields: logrus.Fields{
			"function": function,
			"package":  "crypto",
		},
	}
}

// WithField adds a custom field to the logger
func (l *LoggerHelper) WithField(key string, value interface{}) *LoggerHelper {
	l.fields[key] = value
	return l
}

// WithFields adds multiple custom fields to the logger
func (l *LoggerHelper) WithFields(fields logrus.Fields) *LoggerHelper {
	for k, v := range fields {
		l.fields[k] = v
	}
	return l
}

// WithError adds error information to the logger
func (l *LoggerHelper) WithError(err error, errorType, operation string) *LoggerHelper {
	l.fields["error"] = err.Error()
	l.fields["error_type"] = errorType
	l.fields["operation"] = operation
	return l
}

// Debug logs a debug message
func (l *LoggerHelper) Debug(message string) {
	logrus.WithFields(l.fields).Debug(message)
}

// Info logs an info message
func (l *LoggerHelper) Info(message string) {
	logrus.WithFields(l.fields).Info(message)
}

// Warn logs a warning message
func (l *LoggerHelper) Warn(message string) {
	logrus.WithFields(l.fields).Warn(message)
}

// Error logs an error message
func (l *LoggerHelper) Error(message string) {
	logrus.WithFields(l.fields).Error(message)
}

// SecureFieldHash returns log fields with a short hex preview and the size of
// sensitive data. Only the first 8 bytes are ever shown.
func SecureFieldHash(data []byte, name string) logrus.Fields {
	preview := "nil"
	if len(data) > 0 {
		previewLen := 8
		if len(data) < previewLen {
			previewLen = len(data)
		}
		preview = fmt.Sprintf("%x", data[:previewLen])
		if len(data) > previewLen {
			preview += "..."
		}
	}

	return logrus.Fields{
		name + "_preview": preview,
		name + "_size":    len(data),
	}
}
