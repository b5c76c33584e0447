// Package logging provides structured logging with trace-ID propagation,
// wrapping logrus.Logger with the call shapes this repo actually makes:
// bus publishes, metric store writes, lake manifest swaps, incident
// transitions.
package logging

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys carried through this package.
type ContextKey string

const (
	TraceIDKey ContextKey = "trace_id"
	ServiceKey ContextKey = "service"
)

// Logger wraps logrus.Logger with a fixed service name and context helpers.
type Logger struct {
	*logrus.Logger
	service string
}

// New creates a Logger for service, with level one of logrus's level
// strings and format "json" or "text".
func New(service, level, format string) *Logger {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}
	logger.SetOutput(os.Stdout)

	return &Logger{Logger: logger, service: service}
}

// NewFromEnv builds a Logger from LOG_LEVEL/LOG_FORMAT, defaulting to
// info/json.
func NewFromEnv(service string) *Logger {
	level := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if level == "" {
		level = "info"
	}
	format := strings.TrimSpace(os.Getenv("LOG_FORMAT"))
	if format == "" {
		format = "json"
	}
	return New(service, level, format)
}

// WithContext returns an entry carrying the service name and, if set on
// ctx, the trace id.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("service", l.service)
	if traceID := ctx.Value(TraceIDKey); traceID != nil {
		entry = entry.WithField("trace_id", traceID)
	}
	return entry
}

// WithFields returns an entry with the service name plus the given fields.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	if fields == nil {
		fields = logrus.Fields{}
	}
	fields["service"] = l.service
	return l.Logger.WithFields(fields)
}

// NewTraceID generates a fresh trace id for a request or job run.
func NewTraceID() string { return uuid.New().String() }

// WithTraceID attaches a trace id to ctx.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID retrieves the trace id from ctx, or "" if unset.
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// LogBusPublish logs a bus publish attempt.
func (l *Logger) LogBusPublish(ctx context.Context, topic string, bytes int, err error) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"topic": topic,
		"bytes": bytes,
	})
	if err != nil {
		entry.WithError(err).Error("bus publish failed")
		return
	}
	entry.Debug("bus publish")
}

// LogStoreWrite logs a metric/job/alarm store write.
func (l *Logger) LogStoreWrite(ctx context.Context, table string, rows int, duration time.Duration, err error) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"table":       table,
		"rows":        rows,
		"duration_ms": duration.Milliseconds(),
	})
	if err != nil {
		entry.WithError(err).Error("store write failed")
		return
	}
	entry.Debug("store write")
}

// LogManifestSwap logs a lake manifest atomic replacement.
func (l *Logger) LogManifestSwap(ctx context.Context, path string, generation int64, err error) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"path":       path,
		"generation": generation,
	})
	if err != nil {
		entry.WithError(err).Error("manifest swap failed")
		return
	}
	entry.Info("manifest swap")
}

// LogIncidentTransition logs an incident state machine transition.
func (l *Logger) LogIncidentTransition(ctx context.Context, incidentID, from, to string) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"incident_id": incidentID,
		"from":        from,
		"to":          to,
	}).Info("incident transition")
}

// LogServiceCall logs a call to a collaborating component.
func (l *Logger) LogServiceCall(ctx context.Context, target, method string, duration time.Duration, err error) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"target":      target,
		"method":      method,
		"duration_ms": duration.Milliseconds(),
	})
	if err != nil {
		entry.WithError(err).Error("service call failed")
		return
	}
	entry.Debug("service call")
}

// LogAudit records an operator action for the ops CLI surface.
func (l *Logger) LogAudit(ctx context.Context, action, resource, resourceID, result string) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"action":      action,
		"resource":    resource,
		"resource_id": resourceID,
		"result":      result,
		"audit":       true,
	}).Info("audit")
}
