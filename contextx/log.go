package contextx

import (
	"context"
	"log/slog"
)

// LogAttrs returns the request id and actor subject found in ctx as slog
// attributes. Absent values are omitted.
func LogAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	if id := RequestIDFromContext(ctx); id != "" {
		attrs = append(attrs, slog.String("request_id", id))
	}
	if a, ok := ActorFromContext(ctx); ok && a.Subject != "" {
		attrs = append(attrs, slog.String("actor", a.Subject))
	}
	return attrs
}
