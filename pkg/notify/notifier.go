package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// Notifier delivers a human-readable alert. Implementations must not retry silently.
type Notifier interface {
	Publish(ctx context.Context, message, title, invocationID string) error
}

// LogNotifier writes alerts to the context logger instead of sending them.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Publish(ctx context.Context, message, title, invocationID string) error {
	zerolog.Ctx(ctx).Info().
		Str("title", title).
		Str("invocation_id", invocationID).
		Str("message", message).
		Msg("notification (dry run)")
	return nil
}
