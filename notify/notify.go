// Package notify provides dispatch.Sender implementations.
package notify

import (
	"context"
	"log/slog"
	"strings"

	"github.com/Keksclan/hearth/dispatch"
)

// RoutingKey maps a template key to a routing key of the form
// notify.<channel>. The channel is the template key up to the first dot, so
// "email.welcome" routes to "notify.email". Keys without a dot use the
// "default" channel.
func RoutingKey(templateKey string) string {
	channel, _, ok := strings.Cut(templateKey, ".")
	if !ok || channel == "" {
		channel = "default"
	}
	return "notify." + channel
}

// LogSender writes every delivery to a logger and reports success. It stands
// in for a real transport during development.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender returns a LogSender. A nil logger uses slog.Default.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, d dispatch.Delivery) (dispatch.Result, error) {
	s.logger.InfoContext(ctx, "notification delivered",
		slog.String("job_id", d.JobID),
		slog.String("user_id", d.UserID),
		slog.String("template", d.TemplateKey),
		slog.String("routing_key", RoutingKey(d.TemplateKey)),
		slog.Int("priority", d.Priority),
	)
	return dispatch.Result{Success: true}, nil
}
