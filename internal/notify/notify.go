// Package notify delivers operator-facing event notifications.
package notify

import "log/slog"

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notifier receives the engine's operator events: availability
// detected, cart-add success, queue entry/exit, purchase success and
// failure. Delivery mechanisms (desktop toasts etc.) live behind this
// interface; the engine only calls Notify.
type Notifier interface {
	Notify(title, body string, severity Severity)
}

// LogNotifier writes notifications to a structured logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{Logger: logger}
}

func (n *LogNotifier) Notify(title, body string, severity Severity) {
	switch severity {
	case SeverityError:
		n.Logger.Error(title, "detail", body)
	case SeverityWarning:
		n.Logger.Warn(title, "detail", body)
	default:
		n.Logger.Info(title, "detail", body, "severity", string(severity))
	}
}

// Nop discards notifications.
type Nop struct{}

func (Nop) Notify(string, string, Severity) {}
