package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"threatops/internal/config"
	"threatops/internal/correlate"
	"threatops/internal/defense"
	"threatops/internal/detect"
	"threatops/internal/errs"
	"threatops/internal/notify"
	"threatops/internal/respond"
	"threatops/internal/schema"
)

func newTestPipeline(t *testing.T) (*Pipeline, *correlate.Correlator, *defense.Store) {
	t.Helper()

	engine := detect.NewEngine(config.DetectionConfig{
		RateWindow:        60 * time.Second,
		RateThreshold:     100,
		BruteWindow:       5 * time.Minute,
		BruteThreshold:    5,
		PortScanWindow:    60 * time.Second,
		PortScanThreshold: 15,
	}, nil)

	correlator := correlate.NewCorrelator(correlate.Config{
		Cooldown:  30 * time.Second,
		MaxAlerts: 50,
	}, correlate.NewMemoryStore(), nil)

	store := defense.NewStore(1000, nil)
	orchestrator := respond.NewOrchestrator(store, config.ResponseConfig{DefaultThrottleLimit: 10}, nil)
	notifier := notify.NewNotifierWithChannels(nil, 2*time.Second, nil)

	p := New(config.PipelineConfig{Workers: 2, QueueSize: 100}, Deps{
		Engine:       engine,
		Correlator:   correlator,
		Orchestrator: orchestrator,
		Defense:      store,
		Notifier:     notifier,
		Validator:    schema.NewValidator(),
		Metrics:      NewMetrics(prometheus.NewRegistry()),
	})
	return p, correlator, store
}

func attackEvent(sourceID string) *schema.TelemetryEvent {
	return &schema.TelemetryEvent{
		EventID:   uuid.New(),
		SourceID:  sourceID,
		Service:   "payments",
		Payload:   map[string]any{"query": "x' OR 1=1--"},
		Timestamp: time.Now().UTC(),
	}
}

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestAnalyzeReturnsAnomaliesSynchronously(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	p.Start(context.Background())
	defer p.Stop()

	anomalies, err := p.Analyze(context.Background(), attackEvent("203.0.113.5"))
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if len(anomalies) != 1 {
		t.Fatalf("Analyze() returned %d anomalies, want 1", len(anomalies))
	}
	if anomalies[0].RuleID != "sql_injection" {
		t.Errorf("RuleID = %q, want sql_injection", anomalies[0].RuleID)
	}
}

func TestAnalyzeRejectsInvalidEvent(t *testing.T) {
	p, _, _ := newTestPipeline(t)
	p.Start(context.Background())
	defer p.Stop()

	_, err := p.Analyze(context.Background(), &schema.TelemetryEvent{
		EventID:   uuid.New(),
		Timestamp: time.Now().UTC(),
		// SourceID missing
	})
	if !errs.IsValidation(err) {
		t.Fatalf("Analyze() error = %v, want validation error", err)
	}
}

func TestEndToEndDetectCorrelateRespond(t *testing.T) {
	p, correlator, store := newTestPipeline(t)
	p.Start(context.Background())
	defer p.Stop()

	if _, err := p.Analyze(context.Background(), attackEvent("203.0.113.5")); err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}

	// The workers carry the anomaly through correlation and response.
	waitFor(t, 2*time.Second, func() bool {
		return store.IsBlocked("203.0.113.5")
	})

	alerts := correlator.List()
	if len(alerts) != 1 {
		t.Fatalf("List() returned %d alerts, want 1", len(alerts))
	}
	if alerts[0].Title != "SQL Injection Detected" {
		t.Errorf("Title = %q", alerts[0].Title)
	}
	if !store.IsIsolated("payments") {
		t.Error("service not isolated")
	}
}

func TestPipelineSuppressesDuplicates(t *testing.T) {
	p, correlator, _ := newTestPipeline(t)
	p.Start(context.Background())
	defer p.Stop()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := p.Analyze(ctx, attackEvent("198.51.100.8")); err != nil {
			t.Fatalf("Analyze() %d error = %v", i, err)
		}
	}

	waitFor(t, 2*time.Second, func() bool {
		return len(correlator.List()) >= 1
	})
	// Give the remaining anomalies time to drain through suppression.
	waitFor(t, 2*time.Second, func() bool {
		stats := correlator.Stats()
		return stats["suppressed"] == uint64(4)
	})

	if got := len(correlator.List()); got != 1 {
		t.Errorf("List() returned %d alerts, want 1", got)
	}
}

func TestRespondNow(t *testing.T) {
	p, _, store := newTestPipeline(t)
	p.Start(context.Background())
	defer p.Stop()

	alert := &schema.Alert{
		AlertID:   uuid.New(),
		Title:     "Brute Force Attack",
		RuleID:    "brute_force",
		SourceID:  "192.0.2.13",
		Severity:  schema.SeverityCritical,
		CreatedAt: time.Now().UTC(),
	}

	actions, err := p.RespondNow(context.Background(), alert)
	if err != nil {
		t.Fatalf("RespondNow() error = %v", err)
	}
	if len(actions) != 2 {
		t.Fatalf("RespondNow() returned %d actions, want 2", len(actions))
	}
	if !store.IsBlocked("192.0.2.13") {
		t.Error("source not blocked")
	}
	if _, ok := store.ThrottleLimit("192.0.2.13"); !ok {
		t.Error("source not throttled")
	}

	t.Run("re-execution runs the playbook again", func(t *testing.T) {
		actions, err := p.RespondNow(context.Background(), alert)
		if err != nil {
			t.Fatalf("RespondNow() error = %v", err)
		}
		if len(actions) != 2 {
			t.Fatalf("re-execution returned %d actions, want 2", len(actions))
		}
		for i, a := range actions {
			if a.Status != schema.StatusSkipped {
				t.Errorf("action[%d].Status = %q, want skipped", i, a.Status)
			}
		}
	})

	t.Run("invalid alert rejected", func(t *testing.T) {
		bad := *alert
		bad.RuleID = "Not Valid!"
		_, err := p.RespondNow(context.Background(), &bad)
		if !errs.IsValidation(err) {
			t.Errorf("error = %v, want validation error", err)
		}
	})
}

func TestRespondNowInsideCooldown(t *testing.T) {
	// Creating an alert claims the cooldown for its rule and source. Executing
	// that alert moments later must still run the playbook; the cooldown
	// guards creation, not execution.
	p, correlator, store := newTestPipeline(t)
	p.Start(context.Background())
	defer p.Stop()

	ctx := context.Background()
	alert, err := correlator.Correlate(ctx, &schema.Anomaly{
		AnomalyID:  uuid.New(),
		RuleID:     "brute_force",
		SourceID:   "192.0.2.99",
		Severity:   schema.SeverityCritical,
		Confidence: 0.9,
		DetectedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("Correlate() error = %v", err)
	}

	actions, err := p.RespondNow(ctx, alert)
	if err != nil {
		t.Fatalf("RespondNow() error = %v", err)
	}
	if len(actions) != 2 {
		t.Fatalf("RespondNow() returned %d actions, want 2", len(actions))
	}
	if !store.IsBlocked("192.0.2.99") {
		t.Error("source not blocked after executing a just-created alert")
	}
}

func TestStopDrainsQueue(t *testing.T) {
	p, correlator, _ := newTestPipeline(t)
	p.Start(context.Background())

	if _, err := p.Analyze(context.Background(), attackEvent("10.9.8.7")); err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	p.Stop()

	if got := len(correlator.List()); got != 1 {
		t.Errorf("alerts after Stop() = %d, want 1", got)
	}
}
