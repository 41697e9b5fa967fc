// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Authcore Contributors

package errutil

import (
	"context"
	"log/slog"

	"github.com/samber/oops"
)

// Code returns the oops code attached to err, or "" if it carries none.
// For chains of oops errors the innermost code wins.
func Code(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, _ := oopsErr.Code().(string)
	return code
}

// LogError logs err at error level with its oops code and context.
func LogError(logger *slog.Logger, msg string, err error) {
	Log(context.Background(), logger, slog.LevelError, msg, err)
}

// LogWarn logs err at warn level with its oops code and context.
// Used for best-effort steps whose failure does not fail the operation.
func LogWarn(logger *slog.Logger, msg string, err error, args ...any) {
	Log(context.Background(), logger, slog.LevelWarn, msg, err, args...)
}

// Log logs err at level. For oops errors it adds the code and the context
// map; for standard errors only the error string.
func Log(ctx context.Context, logger *slog.Logger, level slog.Level, msg string, err error, args ...any) {
	attrs := append([]any{}, args...)
	if oopsErr, ok := oops.AsOops(err); ok {
		attrs = append(attrs, "error", oopsErr.Error())
		if code := Code(err); code != "" {
			attrs = append(attrs, "code", code)
		}
		if errCtx := oopsErr.Context(); len(errCtx) > 0 {
			attrs = append(attrs, "context", errCtx)
		}
	} else {
		attrs = append(attrs, "error", err)
	}
	logger.Log(ctx, level, msg, attrs...)
}
