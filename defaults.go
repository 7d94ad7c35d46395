package hearth

import "log/slog"

// DefaultOptions returns the options the daemon always runs with: panic
// recovery, request ids and access logging to logger.
func DefaultOptions(logger *slog.Logger) []Option {
	return []Option{
		WithRecovery(),
		WithRequestID(),
		WithLogger(logger),
	}
}
