package schedule

import "log/slog"

// Alerter delivers a local alert to the user's session.
type Alerter interface {
	Alert(title, body string)
}

// LogAlerter writes alerts to the log instead of a display surface.
// Used in local development and as the default sink.
type LogAlerter struct {
	logger *slog.Logger
}

// NewLogAlerter creates a log-backed alerter.
func NewLogAlerter(logger *slog.Logger) *LogAlerter {
	return &LogAlerter{logger: logger}
}

// Alert logs the alert.
func (a *LogAlerter) Alert(title, body string) {
	a.logger.Info("LOCAL ALERT", "title", title, "body", body)
}
