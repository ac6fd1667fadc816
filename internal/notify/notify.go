// Package notify is the fire-and-forget notification boundary. Delivery
// failures are the caller's to log and swallow; nothing here may block or
// fail a booking operation.
package notify

import (
	"context"

	"go.uber.org/zap"
)

// Notification matches the external sink's shape.
type Notification struct {
	UserID   uint           `json:"user_id"`
	UserType string         `json:"user_type"` // parent | admin
	Type     string         `json:"type"`
	Title    string         `json:"title"`
	Message  string         `json:"message"`
	Priority string         `json:"priority"` // normal | high
	Data     map[string]any `json:"data,omitempty"`
}

// Notifier delivers a notification to one user.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the log instead of an external sink.
// Stands in for the real delivery service in development and tests.
type LogNotifier struct {
	Logger *zap.Logger
}

func (l *LogNotifier) Send(_ context.Context, n Notification) error {
	l.Logger.Info("notification",
		zap.Uint("user_id", n.UserID),
		zap.String("user_type", n.UserType),
		zap.String("type", n.Type),
		zap.String("title", n.Title),
		zap.String("message", n.Message),
	)
	return nil
}
