package logger

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

type contextKey string

const (
	traceIDKey contextKey = "trace_id"
	leaseIDKey contextKey = "lease_id"
)

var log *logrus.Logger

func init() {
	log = logrus.New()
	log.SetOutput(os.Stdout)
	log.SetLevel(logrus.InfoLevel)
	log.SetFormatter(jsonFormatter())
}

func jsonFormatter() logrus.Formatter {
	return &logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyMsg: "message",
		},
	}
}

// Setup applies the configured level and output mode. Unknown levels fall
// back to info; "development" switches to a human readable formatter.
func Setup(level, mode string) {
	parsedLevel, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		parsedLevel = logrus.InfoLevel
	}
	log.SetLevel(parsedLevel)

	switch mode {
	case "development", "dev":
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})
	default:
		log.SetFormatter(jsonFormatter())
	}
}

func SetOutput(w io.Writer) {
	log.SetOutput(w)
}

func IsDebug() bool {
	return log.IsLevelEnabled(logrus.DebugLevel)
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func TraceIDFromContext(ctx context.Context) string {
	if traceID, ok := ctx.Value(traceIDKey).(string); ok {
		return traceID
	}
	return ""
}

func WithLeaseID(ctx context.Context, leaseID string) context.Context {
	return context.WithValue(ctx, leaseIDKey, leaseID)
}

// FromContext returns an entry carrying the trace and lease ids found in ctx.
func FromContext(ctx context.Context) *logrus.Entry {
	entry := logrus.NewEntry(log)
	if ctx == nil {
		return entry
	}
	if traceID := TraceIDFromContext(ctx); traceID != "" {
		entry = entry.WithField("trace_id", traceID)
	}
	if leaseID, ok := ctx.Value(leaseIDKey).(string); ok && leaseID != "" {
		entry = entry.WithField("lease_id", leaseID)
	}
	return entry
}

func WithField(key string, value interface{}) *logrus.Entry {
	return log.WithField(key, value)
}

func WithFields(fields map[string]interface{}) *logrus.Entry {
	return log.WithFields(fields)
}

func WithComponent(name string) *logrus.Entry {
	return log.WithField("component", name)
}

func WithMember(memberID string) *logrus.Entry {
	return log.WithField("member_id", memberID)
}

func WithLease(leaseID string) *logrus.Entry {
	return log.WithField("lease_id", leaseID)
}

func Debugf(format string, args ...interface{}) {
	log.Debugf(format, args...)
}

func Info(msg string) {
	log.Info(msg)
}

func Infof(format string, args ...interface{}) {
	log.Infof(format, args...)
}

func Warnf(format string, args ...interface{}) {
	log.Warnf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	log.Errorf(format, args...)
}

func Fatalf(format string, args ...interface{}) {
	log.Fatalf(format, args...)
}
