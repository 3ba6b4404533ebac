// Package notify delivers alert notifications to external channels. Delivery
// is fire-and-forget: a down channel costs one log line, never a stalled
// pipeline.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"threatops/internal/config"
	"threatops/internal/schema"
)

// Channel delivers one alert to one destination.
type Channel interface {
	Name() string
	Send(ctx context.Context, alert *schema.Alert, actions []schema.Action) error
}

// Notifier fans an alert out to all configured channels. Each delivery runs
// in its own goroutine under a bounded timeout and is never retried.
type Notifier struct {
	channels []Channel
	timeout  time.Duration
	logger   *slog.Logger

	wg             sync.WaitGroup
	delivered      atomic.Uint64
	failed         atomic.Uint64
	failureCounter interface{ Inc() }
}

// NewNotifier builds a notifier from configuration. Channels with empty URLs
// are skipped; a notifier with zero channels is valid and does nothing.
func NewNotifier(cfg config.NotifierConfig, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}

	timeout := cfg.Timeout
	if timeout < time.Second {
		timeout = time.Second
	}
	if timeout > 3*time.Second {
		timeout = 3 * time.Second
	}

	var channels []Channel
	if cfg.WebhookURL != "" {
		channels = append(channels, NewWebhookChannel(cfg.WebhookURL, cfg.WebhookHeaders, timeout))
	}
	if cfg.SlackWebhookURL != "" {
		channels = append(channels, NewSlackChannel(cfg.SlackWebhookURL, cfg.SlackChannel, timeout))
	}

	return &Notifier{
		channels: channels,
		timeout:  timeout,
		logger:   logger,
	}
}

// NewNotifierWithChannels creates a notifier with an explicit channel set.
func NewNotifierWithChannels(channels []Channel, timeout time.Duration, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{channels: channels, timeout: timeout, logger: logger}
}

// SetFailureCounter registers an external counter (typically a Prometheus
// counter) incremented on every failed delivery.
func (n *Notifier) SetFailureCounter(c interface{ Inc() }) {
	n.failureCounter = c
}

// Notify dispatches the alert to every channel and returns immediately.
func (n *Notifier) Notify(alert *schema.Alert, actions []schema.Action) {
	for _, ch := range n.channels {
		n.wg.Add(1)
		go func(ch Channel) {
			defer n.wg.Done()

			ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
			defer cancel()

			if err := ch.Send(ctx, alert, actions); err != nil {
				n.failed.Add(1)
				if n.failureCounter != nil {
					n.failureCounter.Inc()
				}
				n.logger.Warn("notification delivery failed",
					"channel", ch.Name(),
					"alert_id", alert.AlertID,
					"error", err,
				)
				return
			}
			n.delivered.Add(1)
		}(ch)
	}
}

// Drain waits for in-flight deliveries to finish, up to the given grace
// period. Used at shutdown only.
func (n *Notifier) Drain(grace time.Duration) {
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(grace):
		n.logger.Warn("notification drain timed out", "grace", grace)
	}
}

// Stats returns delivery counters.
func (n *Notifier) Stats() map[string]any {
	return map[string]any{
		"channels":  len(n.channels),
		"delivered": n.delivered.Load(),
		"failed":    n.failed.Load(),
	}
}
