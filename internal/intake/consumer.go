// Package intake streams telemetry events from Kafka into the pipeline and
// optionally publishes created alerts back out. Both sides are optional; the
// HTTP surface works without a broker.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"threatops/internal/config"
	"threatops/internal/errs"
	"threatops/internal/pipeline"
	"threatops/internal/schema"
)

// Consumer reads telemetry events from a Kafka topic and feeds them to the
// pipeline. Malformed and invalid messages are logged and committed; a bad
// message must never wedge the partition.
type Consumer struct {
	reader *kafka.Reader
	pipe   *pipeline.Pipeline
	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	consumed atomic.Uint64
	rejected atomic.Uint64
}

// NewConsumer creates a Kafka consumer bound to the pipeline.
func NewConsumer(cfg config.IntakeConfig, pipe *pipeline.Pipeline, logger *slog.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("intake: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, errors.New("intake: no topic configured")
	}
	if logger == nil {
		logger = slog.Default()
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.ConsumerGroup,
		Topic:          cfg.Topic,
		MinBytes:       cfg.MinBytes,
		MaxBytes:       cfg.MaxBytes,
		MaxWait:        cfg.MaxWait,
		ReadBackoffMin: 100 * time.Millisecond,
		ReadBackoffMax: time.Second,
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...), "component", "kafka-reader")
		}),
	})

	logger.Info("kafka intake initialized",
		"brokers", cfg.Brokers,
		"topic", cfg.Topic,
		"group", cfg.ConsumerGroup,
	)

	return &Consumer{
		reader: reader,
		pipe:   pipe,
		logger: logger,
	}, nil
}

// Start begins consuming in a goroutine and returns immediately.
func (c *Consumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.consumeLoop(ctx)
	}()
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			c.logger.Error("kafka read failed", "error", err)
			continue
		}

		var event schema.TelemetryEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			c.rejected.Add(1)
			c.logger.Warn("discarding undecodable message",
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err,
			)
			continue
		}

		if _, err := c.pipe.Analyze(ctx, &event); err != nil {
			c.rejected.Add(1)
			if errs.IsValidation(err) {
				c.logger.Warn("discarding invalid event",
					"offset", msg.Offset,
					"error", err,
				)
				continue
			}
			c.logger.Error("event analysis failed", "offset", msg.Offset, "error", err)
			continue
		}
		c.consumed.Add(1)
	}
}

// Stop cancels consumption and closes the reader.
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	return c.reader.Close()
}

// Stats returns consumer counters.
func (c *Consumer) Stats() map[string]any {
	return map[string]any{
		"consumed": c.consumed.Load(),
		"rejected": c.rejected.Load(),
	}
}
