// logging.go -- request-scoped slog helpers.
//
// Every handler log line carries the chi request id plus client and route
// fields, without the call sites having to repeat them.
package auth

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

func logRequest(r *http.Request, level slog.Level, msg string, args ...any) {
	ctx := r.Context()
	if !slog.Default().Enabled(ctx, level) {
		return
	}
	attrs := []any{
		"request_id", middleware.GetReqID(ctx),
		"ip", r.RemoteAddr,
		"user_agent", r.UserAgent(),
		"method", r.Method,
		"path", r.URL.Path,
	}
	slog.Log(ctx, level, msg, append(attrs, args...)...)
}

func logDebug(r *http.Request, msg string, args ...any) {
	logRequest(r, slog.LevelDebug, msg, args...)
}

func logInfo(r *http.Request, msg string, args ...any) {
	logRequest(r, slog.LevelInfo, msg, args...)
}

func logWarn(r *http.Request, msg string, args ...any) {
	logRequest(r, slog.LevelWarn, msg, args...)
}

func logError(r *http.Request, msg string, args ...any) {
	logRequest(r, slog.LevelError, msg, args...)
}
