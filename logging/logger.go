// Package logging provides a configured logrus logger for the service.
// All components log JSON with a shared "service" field so log lines
// from one deployment aggregate cleanly.
package logging

import (
	"github.com/sirupsen/logrus"

	"github.com/academyos/tuition-engine/config"
)

// Fields represents structured logging fields.
type Fields = logrus.Fields

// NewLogger creates a new configured logger instance.
func NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(config.GetLogLevel())
	return logger
}

// NewLoggerWithService creates a logger with a service field attached
// to every entry.
func NewLoggerWithService(serviceName string) *logrus.Logger {
	logger := NewLogger()
	logger.AddHook(&serviceHook{service: serviceName})
	return logger
}

type serviceHook struct {
	service string
}

func (h *serviceHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *serviceHook) Fire(entry *logrus.Entry) error {
	entry.Data["service"] = h.service
	return nil
}
