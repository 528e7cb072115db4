// Package notifier
package notifier

import (
	"context"
	"errors"

	"github.com/amirphl/portfolio-sync/internal/utils"
)

// Notifier interface for sending notifications (e.g., Telegram).
type Notifier interface {
	Send(ctx context.Context, msg string) error
}

// LogNotifier writes messages to the process logger. It stands in when no
// chat transport is configured.
type LogNotifier struct{}

func (LogNotifier) Send(_ context.Context, msg string) error {
	utils.GetLogger().Named("notifier").Infow("notification", "message", msg)
	return nil
}

// Multi sends every message to all of its notifiers and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, msg string) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
