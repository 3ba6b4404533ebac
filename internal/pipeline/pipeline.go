// Package pipeline ties the stages together: analysis is synchronous, the
// correlate/respond/notify tail runs on a worker pool behind a bounded queue.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"threatops/internal/config"
	"threatops/internal/correlate"
	"threatops/internal/defense"
	"threatops/internal/detect"
	"threatops/internal/errs"
	"threatops/internal/notify"
	"threatops/internal/queue"
	"threatops/internal/respond"
	"threatops/internal/schema"
)

// AlertPublisher receives every created alert, typically for a message bus.
// Publish failures are logged and never block the pipeline.
type AlertPublisher interface {
	PublishAlert(ctx context.Context, alert *schema.Alert) error
}

// Pipeline is the end-to-end detect/correlate/respond flow.
type Pipeline struct {
	engine       *detect.Engine
	correlator   *correlate.Correlator
	orchestrator *respond.Orchestrator
	defense      *defense.Store
	notifier     *notify.Notifier
	validator    *schema.Validator
	publisher    AlertPublisher

	buffer  *queue.RingBuffer
	metrics *Metrics
	logger  *slog.Logger

	workers      int
	pollInterval time.Duration
	wg           sync.WaitGroup
	cancel       context.CancelFunc
}

// Deps bundles the pipeline's collaborators.
type Deps struct {
	Engine       *detect.Engine
	Correlator   *correlate.Correlator
	Orchestrator *respond.Orchestrator
	Defense      *defense.Store
	Notifier     *notify.Notifier
	Validator    *schema.Validator
	Publisher    AlertPublisher // optional
	Metrics      *Metrics
	Logger       *slog.Logger
}

// New creates a pipeline. Call Start to launch the worker pool.
func New(cfg config.PipelineConfig, deps Deps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	return &Pipeline{
		engine:       deps.Engine,
		correlator:   deps.Correlator,
		orchestrator: deps.Orchestrator,
		defense:      deps.Defense,
		notifier:     deps.Notifier,
		validator:    deps.Validator,
		publisher:    deps.Publisher,
		buffer:       queue.NewRingBuffer(cfg.QueueSize),
		metrics:      deps.Metrics,
		logger:       logger,
		workers:      workers,
		pollInterval: poll,
	}
}

// Start launches the worker pool.
func (p *Pipeline) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.Info("pipeline started", "workers", p.workers, "queue_capacity", p.buffer.Cap())
}

// Stop closes the queue, drains in-flight work, and waits for workers.
func (p *Pipeline) Stop() {
	p.buffer.Close()
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info("pipeline stopped", "queue_metrics", p.buffer.Metrics())
}

// Analyze validates an event, runs the rule engine, and hands any findings to
// the asynchronous tail. The caller gets the anomalies immediately; alerts
// and actions land through the workers.
func (p *Pipeline) Analyze(ctx context.Context, event *schema.TelemetryEvent) ([]*schema.Anomaly, error) {
	if err := p.validator.ValidateEvent(event); err != nil {
		if p.metrics != nil {
			p.metrics.EventsRejected.Inc()
		}
		return nil, err
	}
	if p.metrics != nil {
		p.metrics.EventsTotal.Inc()
	}

	anomalies := p.engine.Evaluate(event)
	for _, anomaly := range anomalies {
		if p.metrics != nil {
			p.metrics.AnomaliesTotal.WithLabelValues(anomaly.RuleID).Inc()
		}
		p.enqueue(anomaly)
	}

	if p.metrics != nil {
		p.metrics.QueueDepth.Set(float64(p.buffer.Len()))
	}
	return anomalies, nil
}

// ValidateAnomaly checks an externally supplied anomaly against the schema
// rules without entering the pipeline.
func (p *Pipeline) ValidateAnomaly(anomaly *schema.Anomaly) error {
	return p.validator.ValidateAnomaly(anomaly)
}

// Submit feeds an externally supplied anomaly into the asynchronous tail,
// bypassing the rule engine. Used by the manual alert-creation endpoint.
func (p *Pipeline) Submit(anomaly *schema.Anomaly) error {
	if err := p.validator.ValidateAnomaly(anomaly); err != nil {
		return err
	}
	p.enqueue(anomaly)
	return nil
}

func (p *Pipeline) enqueue(anomaly *schema.Anomaly) {
	if err := p.buffer.Push(anomaly); err != nil {
		if p.metrics != nil {
			p.metrics.QueueDropped.Inc()
		}
		p.logger.Warn("anomaly dropped, queue full",
			"rule_id", anomaly.RuleID,
			"source_id", anomaly.SourceID,
		)
	}
}

// worker drains the anomaly queue until the queue is closed. The bounded
// wait keeps workers responsive to context cancellation even when the queue
// was never closed.
func (p *Pipeline) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		anomaly, err := p.buffer.PopWait(p.pollInterval)
		if err != nil {
			if errors.Is(err, queue.ErrQueueClosed) {
				return
			}
			if ctx.Err() != nil {
				return
			}
			continue
		}
		if p.metrics != nil {
			p.metrics.QueueDepth.Set(float64(p.buffer.Len()))
		}
		p.process(ctx, anomaly)
	}
}

// process runs the correlate/respond/notify tail for one anomaly.
func (p *Pipeline) process(ctx context.Context, anomaly *schema.Anomaly) {
	alert, err := p.correlator.Correlate(ctx, anomaly)
	if err != nil {
		if errors.Is(err, errs.ErrSuppressed) {
			if p.metrics != nil {
				p.metrics.SuppressedTotal.Inc()
			}
			return
		}
		if p.metrics != nil {
			p.metrics.ProcessingErrors.Inc()
		}
		p.logger.Error("correlation failed",
			"rule_id", anomaly.RuleID,
			"source_id", anomaly.SourceID,
			"error", err,
		)
		return
	}
	if p.metrics != nil {
		p.metrics.AlertsTotal.WithLabelValues(string(alert.Severity)).Inc()
	}

	actions, err := p.orchestrator.Respond(ctx, alert)
	if err != nil {
		if p.metrics != nil {
			p.metrics.ProcessingErrors.Inc()
		}
		p.logger.Error("response failed", "alert_id", alert.AlertID, "error", err)
		// The alert exists even when the playbook could not run; still notify.
	}
	if p.metrics != nil {
		for _, a := range actions {
			p.metrics.ActionsTotal.WithLabelValues(string(a.Type), string(a.Status)).Inc()
		}
	}

	p.notifier.Notify(alert, actions)

	if p.publisher != nil {
		if err := p.publisher.PublishAlert(ctx, alert); err != nil {
			p.logger.Warn("alert publish failed", "alert_id", alert.AlertID, "error", err)
		}
	}
}

// RespondNow executes the playbook for an already-minted alert and returns
// the actions. The cooldown guards alert creation, never execution: running
// the playbook for an alert created moments ago must work, so this path does
// not consult the correlator.
func (p *Pipeline) RespondNow(ctx context.Context, alert *schema.Alert) ([]schema.Action, error) {
	if err := p.validator.ValidateAlert(alert); err != nil {
		return nil, err
	}

	actions, err := p.orchestrator.Respond(ctx, alert)
	if err != nil {
		return actions, err
	}
	if p.metrics != nil {
		for _, a := range actions {
			p.metrics.ActionsTotal.WithLabelValues(string(a.Type), string(a.Status)).Inc()
		}
	}

	p.notifier.Notify(alert, actions)
	if p.publisher != nil {
		if err := p.publisher.PublishAlert(ctx, alert); err != nil {
			p.logger.Warn("alert publish failed", "alert_id", alert.AlertID, "error", err)
		}
	}
	return actions, nil
}

// QueueMetrics exposes queue counters for the status endpoint.
func (p *Pipeline) QueueMetrics() queue.QueueMetrics {
	return p.buffer.Metrics()
}
