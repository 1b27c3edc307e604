// Package logging configures the logrus logger shared by every command.
package logging

import (
	"strings"

	"github.com/sirupsen/logrus"

	"seg-eval/internal/config"
)

// Configure applies the logging section of the configuration:
//   - line format (text [default] or json)
//   - minimum level (trace, debug, info [default], warn, error, fatal, panic)
//   - caller file and line on every entry
func Configure(cfg config.LoggingConfig) {
	logrus.SetFormatter(newFormatter(cfg.Format))
	level := toLevel(cfg.Level)
	logrus.SetLevel(level)
	if isDebugLevel(level) {
		logrus.Warnf("%s logging level configured. Not recommended for production!", level)
	}
	logrus.SetReportCaller(cfg.Source)
}

func newFormatter(format string) logrus.Formatter {
	switch strings.ToLower(format) {
	case "json":
		return &logrus.JSONFormatter{}
	}
	return &logrus.TextFormatter{FullTimestamp: true}
}

func isDebugLevel(level logrus.Level) bool {
	return level >= logrus.DebugLevel
}

func toLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "trace":
		return logrus.TraceLevel
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	}
	return logrus.InfoLevel
}

// For returns a logger scoped to a component.
func For(component string) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"app":       "segeval",
		"component": component,
	})
}
