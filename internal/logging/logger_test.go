package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(level string) (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return New(&Config{Level: level, JSONFormat: true, Component: "test", Writer: &buf}), &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"warning", WARN},
		{"Error", ERROR},
		{"fatal", FATAL},
		{"bogus", INFO},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestLoggerKeyValueFields(t *testing.T) {
	l, buf := newBufferLogger("DEBUG")

	l.WithComponent("zone-manager").Info("zones rebuilt", "zones", 3, "err", errors.New("boom"))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "zones rebuilt", lines[0]["message"])
	assert.Equal(t, "zone-manager", lines[0]["component"])
	assert.EqualValues(t, 3, lines[0]["zones"])
	assert.Equal(t, "boom", lines[0]["err"])
	assert.Equal(t, "info", lines[0]["level"])
}

func TestLoggerPrintfStyle(t *testing.T) {
	l, buf := newBufferLogger("INFO")

	l.Warn("zone %d lost %.1f", 4, 12.5)

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "zone 4 lost 12.5", lines[0]["message"])
}

func TestLoggerLevelFilter(t *testing.T) {
	l, buf := newBufferLogger("WARN")

	l.Debug("hidden")
	l.Info("hidden")
	l.Error("shown")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "shown", lines[0]["message"])
}

func TestTraceContext(t *testing.T) {
	l, buf := newBufferLogger("INFO")

	ctx, traced := WithTraceContext(context.Background(), l)
	traced.Info("cycle")

	assert.NotEmpty(t, TraceIDFromContext(ctx))
	assert.Same(t, traced, FromContext(ctx))

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, TraceIDFromContext(ctx), lines[0]["trace_id"])
}

func TestNopDiscards(t *testing.T) {
	l := Nop()
	l.Error("nothing")
	l.WithField("a", 1).Warn("still nothing")
}
