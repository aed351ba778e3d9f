// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ADCHub Contributors

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"

	"github.com/adchub/adchub/pkg/errutil"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "failed to parse JSON: %s", buf.String())
	return entry
}

func TestSetup_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Setup(Options{Service: "adchub", Version: "1.0.0", Format: "json", Writer: &buf})
	require.NoError(t, err)

	logger.Info("test message")

	entry := decode(t, &buf)
	assert.Equal(t, "test message", entry["msg"])
	assert.Equal(t, "adchub", entry["service"])
	assert.Equal(t, "1.0.0", entry["version"])
	assert.Contains(t, entry, "time")
	assert.Contains(t, entry, "level")
}

func TestSetup_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Setup(Options{Service: "adchub", Format: "text", Writer: &buf})
	require.NoError(t, err)

	logger.Info("test message")

	assert.Contains(t, buf.String(), "test message")
	assert.Contains(t, buf.String(), "service=adchub")
}

func TestSetup_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Setup(Options{Level: "warn", Writer: &buf})
	require.NoError(t, err)

	logger.Info("hidden")
	assert.Empty(t, buf.String())

	logger.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestSetup_InvalidLevel(t *testing.T) {
	_, err := Setup(Options{Level: "loud"})
	errutil.AssertErrorCode(t, err, "LOG_LEVEL_INVALID")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHandler_ContextAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Setup(Options{Writer: &buf})
	require.NoError(t, err)

	ctx := WithAttrs(context.Background(), slog.String("conn_id", "01ABC"))
	ctx = WithAttrs(ctx, slog.String("sid", "AAAB"))
	logger.InfoContext(ctx, "with attrs")

	entry := decode(t, &buf)
	assert.Equal(t, "01ABC", entry["conn_id"])
	assert.Equal(t, "AAAB", entry["sid"])
}

func TestHandler_WithAttrsDoesNotLeakToParent(t *testing.T) {
	parent := WithAttrs(context.Background(), slog.String("a", "1"))
	_ = WithAttrs(parent, slog.String("b", "2"))

	attrs, _ := parent.Value(attrsKey{}).([]slog.Attr)
	assert.Len(t, attrs, 1)
}

func TestHandler_TraceContext(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Setup(Options{Writer: &buf})
	require.NoError(t, err)

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	spanCtx := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID})
	ctx := trace.ContextWithSpanContext(context.Background(), spanCtx)

	logger.InfoContext(ctx, "traced message")

	entry := decode(t, &buf)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", entry["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", entry["span_id"])
}

func TestHandler_NoTraceContext(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Setup(Options{Writer: &buf})
	require.NoError(t, err)

	logger.Info("untraced")

	entry := decode(t, &buf)
	assert.NotContains(t, entry, "trace_id")
	assert.NotContains(t, entry, "span_id")
}

func TestHandler_WithGroup(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Setup(Options{Writer: &buf})
	require.NoError(t, err)

	logger.WithGroup("hub").With("users", 3).Info("grouped")

	entry := decode(t, &buf)
	group, ok := entry["hub"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 3, group["users"], 0)
}

func TestSetDefault(t *testing.T) {
	old := slog.Default()
	t.Cleanup(func() { slog.SetDefault(old) })

	require.NoError(t, SetDefault(Options{Format: "text"}))
	assert.NotSame(t, old, slog.Default())
	assert.Error(t, SetDefault(Options{Level: "nope"}))
}
