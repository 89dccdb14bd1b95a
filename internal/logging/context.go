package logging

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const (
	loggerKey  contextKey = "logger"
	traceIDKey contextKey = "trace_id"
)

// GenerateTraceID generates a new trace ID
func GenerateTraceID() string {
	return uuid.NewString()
}

// FromContext retrieves the logger from context
func FromContext(ctx context.Context) *Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey).(*Logger); ok {
			return l
		}
	}
	return Default()
}

// NewContext creates a new context with the logger
func NewContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// TraceIDFromContext returns the trace ID stored by WithTraceContext, if any
func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(traceIDKey).(string)
	return id
}

// WithTraceContext adds a trace ID to the context and returns a logger with it
func WithTraceContext(ctx context.Context, base *Logger) (context.Context, *Logger) {
	if base == nil {
		base = Default()
	}
	traceID := GenerateTraceID()
	l := base.WithTraceID(traceID)
	newCtx := context.WithValue(ctx, traceIDKey, traceID)
	newCtx = context.WithValue(newCtx, loggerKey, l)
	return newCtx, l
}

// CycleContext creates a logger context for one decision cycle
func CycleContext(base *Logger, cycleID string, price float64, positions int) *Logger {
	return base.WithFields(map[string]interface{}{
		"cycle_id":  cycleID,
		"price":     price,
		"positions": positions,
	})
}

// ZoneContext creates a logger context for zone-level work
func ZoneContext(base *Logger, zoneID int) *Logger {
	return base.WithField("zone_id", zoneID)
}

// PlanContext creates a logger context for plan execution
func PlanContext(base *Logger, planID, kind string) *Logger {
	return base.WithFields(map[string]interface{}{
		"plan_id":   planID,
		"plan_kind": kind,
	})
}
