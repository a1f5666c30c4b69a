package alert

import (
	"context"

	"grid_trader/internal/core"
)

// LogChannel writes alerts to the structured log. It is always registered so
// alerts are visible even without a webhook.
type LogChannel struct {
	logger core.ILogger
}

func NewLogChannel(logger core.ILogger) *LogChannel {
	return &LogChannel{logger: logger.WithField("component", "alert")}
}

func (l *LogChannel) Name() string {
	return "log"
}

func (l *LogChannel) Send(ctx context.Context, alert AlertPayload) error {
	fields := make([]interface{}, 0, 4+2*len(alert.Fields))
	fields = append(fields, "level", alert.Level, "message", alert.Message)
	for k, v := range alert.Fields {
		fields = append(fields, k, v)
	}

	switch alert.Level {
	case Error, Critical:
		l.logger.Error(alert.Title, fields...)
	case Warning:
		l.logger.Warn(alert.Title, fields...)
	default:
		l.logger.Info(alert.Title, fields...)
	}
	return nil
}
