// Package alert fans operator notifications out to the configured channels
package alert

import (
	"context"
	"strings"
	"sync"
	"time"

	"grid_trader/internal/core"
	"grid_trader/pkg/concurrency"
)

type AlertLevel string

const (
	Info     AlertLevel = "INFO"
	Warning  AlertLevel = "WARNING"
	Error    AlertLevel = "ERROR"
	Critical AlertLevel = "CRITICAL"
)

// sendTimeout bounds a single channel delivery
const sendTimeout = 10 * time.Second

type AlertPayload struct {
	Level     AlertLevel
	Title     string
	Message   string
	Timestamp time.Time
	Fields    map[string]string
}

type AlertChannel interface {
	Send(ctx context.Context, alert AlertPayload) error
	Name() string
}

// AlertManager implements core.IAlerter. Deliveries run on a worker pool so a slow
// webhook never blocks the trading loop.
type AlertManager struct {
	channels []AlertChannel
	pool     *concurrency.WorkerPool
	logger   core.ILogger
	mu       sync.RWMutex
}

func NewAlertManager(pool *concurrency.WorkerPool, logger core.ILogger) *AlertManager {
	return &AlertManager{
		channels: make([]AlertChannel, 0),
		pool:     pool,
		logger:   logger.WithField("component", "alert_manager"),
	}
}

func (am *AlertManager) AddChannel(ch AlertChannel) {
	am.mu.Lock()
	defer am.mu.Unlock()
	am.channels = append(am.channels, ch)
	am.logger.Info("Added alert channel", "name", ch.Name())
}

// Notify sends an alert whose level is inferred from the title
func (am *AlertManager) Notify(ctx context.Context, title, message string, fields map[string]string) {
	am.Alert(ctx, title, message, levelFor(title), fields)
}

// Alert dispatches the payload to every channel without waiting for delivery
func (am *AlertManager) Alert(ctx context.Context, title, message string, level AlertLevel, fields map[string]string) {
	payload := AlertPayload{
		Level:     level,
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
		Fields:    fields,
	}

	am.logger.Info("Triggering alert", "title", title, "level", level)

	am.mu.RLock()
	channels := append([]AlertChannel(nil), am.channels...)
	am.mu.RUnlock()

	// Deliveries outlive the caller's tick
	base := context.WithoutCancel(ctx)
	for _, ch := range channels {
		c := ch
		err := am.pool.Submit(func() {
			sendCtx, cancel := context.WithTimeout(base, sendTimeout)
			defer cancel()
			if err := c.Send(sendCtx, payload); err != nil {
				am.logger.Error("Failed to send alert", "channel", c.Name(), "error", err)
			}
		})
		if err != nil {
			am.logger.Warn("Alert dropped", "channel", c.Name(), "title", title, "error", err)
		}
	}
}

func levelFor(title string) AlertLevel {
	t := strings.ToLower(title)
	switch {
	case strings.Contains(t, "fatal"), strings.Contains(t, "stopped"):
		return Critical
	case strings.Contains(t, "error"), strings.Contains(t, "failed"):
		return Error
	case strings.Contains(t, "warn"):
		return Warning
	}
	return Info
}
