// Package logging provides structured logging with trace ID propagation.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ContextKey is the type for context keys carried by a Logger.
type ContextKey string

const (
	TraceIDKey    ContextKey = "trace_id"
	PrincipalKey  ContextKey = "principal"
	ComponentKey  ContextKey = "component"
)

// Logger wraps logrus.Logger with estate-guardian specific helpers.
type Logger struct {
	*logrus.Logger
	service string
}

// New creates a Logger with an explicit level/format.
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

// NewFromEnv builds a logger from LOG_LEVEL/LOG_FORMAT, defaulting to info/json.
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

// WithContext returns an entry carrying trace ID / principal from ctx.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("service", l.service)
	if traceID := ctx.Value(TraceIDKey); traceID != nil {
		entry = entry.WithField("trace_id", traceID)
	}
	if principal := ctx.Value(PrincipalKey); principal != nil {
		entry = entry.WithField("principal", principal)
	}
	if component := ctx.Value(ComponentKey); component != nil {
		entry = entry.WithField("component", component)
	}
	return entry
}

func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["service"] = l.service
	return l.Logger.WithFields(fields)
}

func (l *Logger) SetOutput(output io.Writer) { l.Logger.SetOutput(output) }

// Context helpers

func NewTraceID() string { return uuid.New().String() }

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

func GetTraceID(ctx context.Context) string {
	if v, ok := ctx.Value(TraceIDKey).(string); ok {
		return v
	}
	return ""
}

func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, PrincipalKey, principal)
}

func GetPrincipal(ctx context.Context) string {
	if v, ok := ctx.Value(PrincipalKey).(string); ok {
		return v
	}
	return ""
}

// Domain-specific structured helpers

// LogEstateTransition records a phase change.
func (l *Logger) LogEstateTransition(ctx context.Context, principal, from, to string) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"principal": principal,
		"from":      from,
		"to":        to,
	}).Info("estate phase transition")
}

// LogLedgerCall records an outbound call to a ledger/bridge capability.
func (l *Logger) LogLedgerCall(ctx context.Context, capability, op string, duration time.Duration, err error) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"capability":  capability,
		"operation":   op,
		"duration_ms": duration.Milliseconds(),
	})
	if err != nil {
		entry.WithError(err).Error("ledger call failed")
	} else {
		entry.Info("ledger call succeeded")
	}
}

// LogCryptoOperation records a crypto primitive invocation.
func (l *Logger) LogCryptoOperation(ctx context.Context, operation string, success bool, err error) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"operation": operation,
		"success":   success,
	})
	if err != nil {
		entry.WithError(err).Error("crypto operation failed")
	} else {
		entry.Debug("crypto operation completed")
	}
}

// LogHeirEvent records a claim-protocol milestone (issue, verify, bind).
func (l *Logger) LogHeirEvent(ctx context.Context, heirID, event string, details map[string]interface{}) {
	fields := logrus.Fields{"heir_id": heirID, "event": event}
	for k, v := range details {
		fields[k] = v
	}
	l.WithContext(ctx).WithFields(fields).Info("heir event")
}

// LogAudit mirrors an append to the audit log at the logging layer.
func (l *Logger) LogAudit(ctx context.Context, action, resource, resourceID, result string) {
	l.WithContext(ctx).WithFields(logrus.Fields{
		"action":      action,
		"resource":    resource,
		"resource_id": resourceID,
		"result":      result,
		"audit":       true,
	}).Info("audit")
}

// LogPerformance records free-form performance counters.
func (l *Logger) LogPerformance(ctx context.Context, operation string, metrics map[string]interface{}) {
	fields := logrus.Fields{"operation": operation, "type": "performance"}
	for k, v := range metrics {
		fields[k] = v
	}
	l.WithContext(ctx).WithFields(fields).Info("performance metrics")
}

func (l *Logger) Error(ctx context.Context, message string, err error, fields map[string]interface{}) {
	entry := l.WithContext(ctx)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.WithFields(fields).Error(message)
}

func (l *Logger) Info(ctx context.Context, message string, fields map[string]interface{}) {
	l.WithContext(ctx).WithFields(fields).Info(message)
}

func (l *Logger) Warn(ctx context.Context, message string, fields map[string]interface{}) {
	l.WithContext(ctx).WithFields(fields).Warn(message)
}

var defaultLogger *Logger

// InitDefault initializes the process-wide default logger.
func InitDefault(service, level, format string) {
	defaultLogger = New(service, level, format)
}

// Default returns the process-wide logger, lazily falling back if unset.
func Default() *Logger {
	if defaultLogger == nil {
		defaultLogger = New("estateguardian", "info", "json")
	}
	return defaultLogger
}

// FormatDuration renders a duration in milliseconds for log fields.
func FormatDuration(d time.Duration) string {
	return fmt.Sprintf("%.2fms", float64(d.Nanoseconds())/1e6)
}
