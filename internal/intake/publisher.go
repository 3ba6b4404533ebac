package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"threatops/internal/config"
	"threatops/internal/schema"
)

// Publisher writes created alerts to a Kafka topic for downstream consumers.
// It satisfies the pipeline's AlertPublisher contract.
type Publisher struct {
	writer *kafka.Writer
	logger *slog.Logger

	published atomic.Uint64
	failures  atomic.Uint64
}

// NewPublisher creates an alert publisher.
func NewPublisher(cfg config.IntakeConfig, logger *slog.Logger) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("intake: no brokers configured")
	}
	if cfg.AlertsTopic == "" {
		return nil, errors.New("intake: no alerts topic configured")
	}
	if logger == nil {
		logger = slog.Default()
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.AlertsTopic,
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: 50 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...), "component", "kafka-writer")
		}),
	}

	logger.Info("kafka alert publisher initialized",
		"brokers", cfg.Brokers,
		"topic", cfg.AlertsTopic,
	)

	return &Publisher{writer: writer, logger: logger}, nil
}

// PublishAlert writes one alert keyed by source so a consumer sees each
// source's alerts in order.
func (p *Publisher) PublishAlert(ctx context.Context, alert *schema.Alert) error {
	value, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(alert.SourceID),
		Value: value,
		Time:  alert.CreatedAt,
	})
	if err != nil {
		p.failures.Add(1)
		return fmt.Errorf("write alert: %w", err)
	}
	p.published.Add(1)
	return nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// Stats returns publisher counters.
func (p *Publisher) Stats() map[string]any {
	return map[string]any{
		"published": p.published.Load(),
		"failures":  p.failures.Load(),
	}
}
