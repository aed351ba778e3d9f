// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ADCHub Contributors

// Package errutil bridges oops errors and slog.
package errutil

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
)

// Attrs flattens an error into slog key/value pairs. For oops errors the
// code and context map are included alongside the message.
func Attrs(err error) []any {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return []any{"error", err}
	}
	attrs := []any{"error", oopsErr.Error()}
	if code := oopsErr.Code(); code != nil && code != "" {
		attrs = append(attrs, "code", code)
	}
	if ctx := oopsErr.Context(); len(ctx) > 0 {
		attrs = append(attrs, "context", ctx)
	}
	return attrs
}

// Log writes err at the given level with any extra attributes appended.
func Log(ctx context.Context, logger *slog.Logger, level slog.Level, msg string, err error, attrs ...any) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Log(ctx, level, msg, append(Attrs(err), attrs...)...)
}

// LogError logs err at error level.
func LogError(logger *slog.Logger, msg string, err error, attrs ...any) {
	Log(context.Background(), logger, slog.LevelError, msg, err, attrs...)
}

// LogWarn logs err at warn level.
func LogWarn(logger *slog.Logger, msg string, err error, attrs ...any) {
	Log(context.Background(), logger, slog.LevelWarn, msg, err, attrs...)
}
