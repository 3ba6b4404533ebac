package correlate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"threatops/internal/errs"
	"threatops/internal/schema"
)

// Config configures the correlator.
type Config struct {
	// Cooldown is the minimum interval between two alerts for the same
	// rule and source pairing.
	Cooldown time.Duration

	// MaxAlerts bounds the active alert list. When full, the oldest
	// acknowledged alert is evicted first, then the oldest overall.
	MaxAlerts int
}

// DefaultConfig returns the default correlator configuration.
func DefaultConfig() Config {
	return Config{
		Cooldown:  30 * time.Second,
		MaxAlerts: 50,
	}
}

// Correlator converts anomalies into alerts. The suppression key is
// (rule_id, source_id): a per-rule-only key would let one noisy source mask
// attacks from others.
type Correlator struct {
	config Config
	store  SuppressionStore
	logger *slog.Logger

	mu     sync.Mutex
	alerts []*schema.Alert // ordered oldest first
	byID   map[uuid.UUID]*schema.Alert

	created    atomic.Uint64
	suppressed atomic.Uint64
	evicted    atomic.Uint64
}

// NewCorrelator creates a correlator backed by the given suppression store.
func NewCorrelator(config Config, store SuppressionStore, logger *slog.Logger) *Correlator {
	if store == nil {
		store = NewMemoryStore()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Correlator{
		config: config,
		store:  store,
		logger: logger,
		byID:   make(map[uuid.UUID]*schema.Alert),
	}
}

// SuppressionKey builds the cooldown key for an anomaly.
func SuppressionKey(ruleID, sourceID string) string {
	return ruleID + ":" + sourceID
}

// Correlate converts an anomaly into an alert, or returns ErrSuppressed if
// the (rule_id, source_id) pairing is still inside its cooldown window.
func (c *Correlator) Correlate(ctx context.Context, anomaly *schema.Anomaly) (*schema.Alert, error) {
	key := SuppressionKey(anomaly.RuleID, anomaly.SourceID)

	acquired, err := c.store.Acquire(ctx, key, c.config.Cooldown)
	if err != nil {
		// A broken suppression backend must not stop alerting; fail open.
		c.logger.Warn("suppression store unavailable, allowing alert",
			"key", key, "error", err)
		acquired = true
	}
	if !acquired {
		c.suppressed.Add(1)
		c.logger.Debug("anomaly suppressed by cooldown",
			"rule_id", anomaly.RuleID,
			"source_id", anomaly.SourceID,
		)
		return nil, errs.ErrSuppressed
	}

	tpl, known := TemplateFor(anomaly.RuleID)
	service, _ := anomaly.EvidenceString("service")

	alert := &schema.Alert{
		AlertID:        uuid.New(),
		Title:          tpl.Title,
		Description:    tpl.RenderDescription(anomaly.SourceID),
		Severity:       anomaly.Severity,
		SourceID:       anomaly.SourceID,
		Service:        service,
		RuleID:         anomaly.RuleID,
		Evidence:       anomaly.Evidence,
		Recommendation: tpl.Recommendation,
		CreatedAt:      time.Now().UTC(),
	}

	c.mu.Lock()
	c.insertLocked(alert)
	c.mu.Unlock()

	c.created.Add(1)
	c.logger.Info("alert created",
		"alert_id", alert.AlertID,
		"rule_id", alert.RuleID,
		"source_id", alert.SourceID,
		"severity", alert.Severity,
		"known_rule", known,
	)
	return copyAlert(alert), nil
}

// insertLocked appends an alert, evicting when the list is full. Eviction
// prefers the oldest acknowledged alert; with nothing acknowledged the
// oldest alert goes, since hiding the newest activity is the wrong bias for
// a responder console.
func (c *Correlator) insertLocked(alert *schema.Alert) {
	if len(c.alerts) >= c.config.MaxAlerts {
		victim := 0
		for i, a := range c.alerts {
			if a.Acknowledged {
				victim = i
				break
			}
		}
		evicted := c.alerts[victim]
		c.alerts = append(c.alerts[:victim], c.alerts[victim+1:]...)
		delete(c.byID, evicted.AlertID)
		c.evicted.Add(1)

		c.logger.Debug("alert evicted",
			"alert_id", evicted.AlertID,
			"acknowledged", evicted.Acknowledged,
		)
	}

	c.alerts = append(c.alerts, alert)
	c.byID[alert.AlertID] = alert
}

// Acknowledge marks an alert as acknowledged.
func (c *Correlator) Acknowledge(id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	alert, ok := c.byID[id]
	if !ok {
		return fmt.Errorf("alert not found: %s", id)
	}
	alert.Acknowledged = true
	return nil
}

// Dismiss removes an alert from the active list. Action history already
// recorded stays untouched; the audit trail is independent of alert
// lifecycle.
func (c *Correlator) Dismiss(id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.byID[id]; !ok {
		return fmt.Errorf("alert not found: %s", id)
	}
	delete(c.byID, id)
	for i, a := range c.alerts {
		if a.AlertID == id {
			c.alerts = append(c.alerts[:i], c.alerts[i+1:]...)
			break
		}
	}
	return nil
}

// Get returns a copy of an alert by ID.
func (c *Correlator) Get(id uuid.UUID) (*schema.Alert, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	alert, ok := c.byID[id]
	if !ok {
		return nil, false
	}
	return copyAlert(alert), true
}

// List returns copies of the active alerts, most recent first.
func (c *Correlator) List() []*schema.Alert {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*schema.Alert, 0, len(c.alerts))
	for i := len(c.alerts) - 1; i >= 0; i-- {
		out = append(out, copyAlert(c.alerts[i]))
	}
	return out
}

// Stats returns correlator counters.
func (c *Correlator) Stats() map[string]any {
	c.mu.Lock()
	active := len(c.alerts)
	bySeverity := make(map[string]int)
	unacknowledged := 0
	for _, a := range c.alerts {
		bySeverity[string(a.Severity)]++
		if !a.Acknowledged {
			unacknowledged++
		}
	}
	c.mu.Unlock()

	return map[string]any{
		"active":         active,
		"unacknowledged": unacknowledged,
		"by_severity":    bySeverity,
		"created":        c.created.Load(),
		"suppressed":     c.suppressed.Load(),
		"evicted":        c.evicted.Load(),
	}
}

// copyAlert returns a shallow copy so callers never share the mutable
// acknowledged flag with the correlator's own pointer.
func copyAlert(a *schema.Alert) *schema.Alert {
	cp := *a
	return &cp
}
