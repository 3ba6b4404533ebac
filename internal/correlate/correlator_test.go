package correlate

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"threatops/internal/errs"
	"threatops/internal/schema"
)

func testConfig() Config {
	return Config{
		Cooldown:  30 * time.Second,
		MaxAlerts: 50,
	}
}

func newTestAnomaly(ruleID, sourceID string) *schema.Anomaly {
	return &schema.Anomaly{
		AnomalyID:  uuid.New(),
		RuleID:     ruleID,
		SourceID:   sourceID,
		Severity:   schema.SeverityCritical,
		Confidence: 0.85,
		Evidence:   map[string]any{"service": "payments"},
		DetectedAt: time.Now().UTC(),
	}
}

func TestCorrelateCreatesAlert(t *testing.T) {
	c := NewCorrelator(testConfig(), NewMemoryStore(), nil)

	alert, err := c.Correlate(context.Background(), newTestAnomaly("sql_injection", "203.0.113.5"))
	if err != nil {
		t.Fatalf("Correlate() error = %v", err)
	}

	if alert.Title != "SQL Injection Detected" {
		t.Errorf("Title = %q, want %q", alert.Title, "SQL Injection Detected")
	}
	if alert.Severity != schema.SeverityCritical {
		t.Errorf("Severity = %q, want critical", alert.Severity)
	}
	if alert.SourceID != "203.0.113.5" {
		t.Errorf("SourceID = %q, want 203.0.113.5", alert.SourceID)
	}
	if alert.Service != "payments" {
		t.Errorf("Service = %q, want payments", alert.Service)
	}
	if alert.RuleID != "sql_injection" {
		t.Errorf("RuleID = %q, want sql_injection", alert.RuleID)
	}
	if alert.Recommendation == "" {
		t.Error("Recommendation is empty")
	}
	if alert.Acknowledged {
		t.Error("new alert is acknowledged")
	}
}

func TestCorrelateCooldownSuppression(t *testing.T) {
	c := NewCorrelator(testConfig(), NewMemoryStore(), nil)
	ctx := context.Background()

	if _, err := c.Correlate(ctx, newTestAnomaly("brute_force", "192.0.2.1")); err != nil {
		t.Fatalf("first Correlate() error = %v", err)
	}

	// Same rule and source inside the cooldown: suppressed.
	_, err := c.Correlate(ctx, newTestAnomaly("brute_force", "192.0.2.1"))
	if !errors.Is(err, errs.ErrSuppressed) {
		t.Fatalf("second Correlate() error = %v, want ErrSuppressed", err)
	}

	// Different source: not suppressed.
	if _, err := c.Correlate(ctx, newTestAnomaly("brute_force", "192.0.2.2")); err != nil {
		t.Errorf("different source suppressed: %v", err)
	}

	// Different rule, same source: not suppressed.
	if _, err := c.Correlate(ctx, newTestAnomaly("port_scan", "192.0.2.1")); err != nil {
		t.Errorf("different rule suppressed: %v", err)
	}

	if got := len(c.List()); got != 3 {
		t.Errorf("List() returned %d alerts, want 3", got)
	}
}

func TestCorrelateCooldownExpiry(t *testing.T) {
	cfg := testConfig()
	cfg.Cooldown = 30 * time.Millisecond
	c := NewCorrelator(cfg, NewMemoryStore(), nil)
	ctx := context.Background()

	if _, err := c.Correlate(ctx, newTestAnomaly("rate_spike", "s")); err != nil {
		t.Fatalf("first Correlate() error = %v", err)
	}

	time.Sleep(50 * time.Millisecond)

	if _, err := c.Correlate(ctx, newTestAnomaly("rate_spike", "s")); err != nil {
		t.Errorf("Correlate() after cooldown expiry error = %v", err)
	}
}

func TestCorrelateUnknownRuleFallsBack(t *testing.T) {
	c := NewCorrelator(testConfig(), NewMemoryStore(), nil)

	alert, err := c.Correlate(context.Background(), newTestAnomaly("quantum_flux", "s"))
	if err != nil {
		t.Fatalf("Correlate() error = %v", err)
	}
	if alert.Title != "Security Alert" {
		t.Errorf("Title = %q, want generic fallback", alert.Title)
	}
}

// failingStore simulates a broken suppression backend.
type failingStore struct{}

func (failingStore) Acquire(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("connection refused")
}

func TestCorrelateFailsOpenOnStoreError(t *testing.T) {
	c := NewCorrelator(testConfig(), failingStore{}, nil)

	alert, err := c.Correlate(context.Background(), newTestAnomaly("sql_injection", "s"))
	if err != nil {
		t.Fatalf("Correlate() error = %v, want fail-open alert", err)
	}
	if alert == nil {
		t.Fatal("Correlate() returned nil alert on store failure")
	}
}

func TestBoundedAlertList(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAlerts = 5
	c := NewCorrelator(cfg, NewMemoryStore(), nil)
	ctx := context.Background()

	alerts := make([]*schema.Alert, 0, 7)
	for i := 0; i < 7; i++ {
		a, err := c.Correlate(ctx, newTestAnomaly("rate_spike", fmt.Sprintf("10.0.0.%d", i)))
		if err != nil {
			t.Fatalf("Correlate() %d error = %v", i, err)
		}
		alerts = append(alerts, a)
	}

	got := c.List()
	if len(got) != 5 {
		t.Fatalf("List() returned %d alerts, want 5", len(got))
	}

	// With nothing acknowledged the two oldest were evicted.
	if _, ok := c.Get(alerts[0].AlertID); ok {
		t.Error("oldest alert still present after eviction")
	}
	if _, ok := c.Get(alerts[1].AlertID); ok {
		t.Error("second-oldest alert still present after eviction")
	}
	if _, ok := c.Get(alerts[6].AlertID); !ok {
		t.Error("newest alert missing")
	}
}

func TestEvictionPrefersAcknowledged(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAlerts = 3
	c := NewCorrelator(cfg, NewMemoryStore(), nil)
	ctx := context.Background()

	a0, _ := c.Correlate(ctx, newTestAnomaly("rate_spike", "s0"))
	a1, _ := c.Correlate(ctx, newTestAnomaly("rate_spike", "s1"))
	a2, _ := c.Correlate(ctx, newTestAnomaly("rate_spike", "s2"))

	// Acknowledge the middle alert; it is the eviction victim even though
	// a0 is older.
	if err := c.Acknowledge(a1.AlertID); err != nil {
		t.Fatalf("Acknowledge() error = %v", err)
	}

	a3, err := c.Correlate(ctx, newTestAnomaly("rate_spike", "s3"))
	if err != nil {
		t.Fatalf("Correlate() error = %v", err)
	}

	if _, ok := c.Get(a1.AlertID); ok {
		t.Error("acknowledged alert survived eviction")
	}
	for _, id := range []uuid.UUID{a0.AlertID, a2.AlertID, a3.AlertID} {
		if _, ok := c.Get(id); !ok {
			t.Errorf("alert %s missing, want kept", id)
		}
	}
}

func TestAcknowledgeAndDismiss(t *testing.T) {
	c := NewCorrelator(testConfig(), NewMemoryStore(), nil)
	ctx := context.Background()

	alert, _ := c.Correlate(ctx, newTestAnomaly("brute_force", "s"))

	t.Run("acknowledge", func(t *testing.T) {
		if err := c.Acknowledge(alert.AlertID); err != nil {
			t.Fatalf("Acknowledge() error = %v", err)
		}
		got, ok := c.Get(alert.AlertID)
		if !ok {
			t.Fatal("alert missing after acknowledge")
		}
		if !got.Acknowledged {
			t.Error("Acknowledged = false after Acknowledge()")
		}
	})

	t.Run("acknowledge unknown id", func(t *testing.T) {
		if err := c.Acknowledge(uuid.New()); err == nil {
			t.Error("Acknowledge() on unknown id returned nil error")
		}
	})

	t.Run("dismiss", func(t *testing.T) {
		if err := c.Dismiss(alert.AlertID); err != nil {
			t.Fatalf("Dismiss() error = %v", err)
		}
		if _, ok := c.Get(alert.AlertID); ok {
			t.Error("alert still present after Dismiss()")
		}
		if err := c.Dismiss(alert.AlertID); err == nil {
			t.Error("second Dismiss() returned nil error")
		}
	})
}

func TestListMostRecentFirst(t *testing.T) {
	c := NewCorrelator(testConfig(), NewMemoryStore(), nil)
	ctx := context.Background()

	first, _ := c.Correlate(ctx, newTestAnomaly("rate_spike", "s1"))
	second, _ := c.Correlate(ctx, newTestAnomaly("rate_spike", "s2"))

	got := c.List()
	if len(got) != 2 {
		t.Fatalf("List() returned %d alerts, want 2", len(got))
	}
	if got[0].AlertID != second.AlertID || got[1].AlertID != first.AlertID {
		t.Error("List() is not most recent first")
	}
}

func TestListReturnsCopies(t *testing.T) {
	c := NewCorrelator(testConfig(), NewMemoryStore(), nil)
	alert, _ := c.Correlate(context.Background(), newTestAnomaly("rate_spike", "s"))

	c.List()[0].Acknowledged = true

	got, _ := c.Get(alert.AlertID)
	if got.Acknowledged {
		t.Error("mutating a listed alert changed internal state")
	}
}

func TestStats(t *testing.T) {
	c := NewCorrelator(testConfig(), NewMemoryStore(), nil)
	ctx := context.Background()

	a, _ := c.Correlate(ctx, newTestAnomaly("sql_injection", "s1"))
	c.Correlate(ctx, newTestAnomaly("sql_injection", "s1")) // suppressed
	c.Correlate(ctx, newTestAnomaly("rate_spike", "s2"))
	c.Acknowledge(a.AlertID)

	stats := c.Stats()
	if stats["active"] != 2 {
		t.Errorf("active = %v, want 2", stats["active"])
	}
	if stats["unacknowledged"] != 1 {
		t.Errorf("unacknowledged = %v, want 1", stats["unacknowledged"])
	}
	if stats["suppressed"] != uint64(1) {
		t.Errorf("suppressed = %v, want 1", stats["suppressed"])
	}
}

func TestMemoryStoreSweep(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	// Fill past the sweep interval with an expired cooldown; the sweep must
	// drop the stale entries.
	for i := 0; i < sweepInterval+10; i++ {
		ok, err := s.Acquire(ctx, fmt.Sprintf("k%d", i), time.Nanosecond)
		if err != nil || !ok {
			t.Fatalf("Acquire(%d) = %v, %v", i, ok, err)
		}
	}

	if n := s.Len(); n > sweepInterval {
		t.Errorf("Len() = %d after sweep, want <= %d", n, sweepInterval)
	}
}

func TestTemplateCatalogue(t *testing.T) {
	known := []string{
		"sql_injection", "brute_force", "port_scan", "data_exfiltration",
		"unauthorized_access", "ddos", "malware", "privilege_escalation",
	}
	for _, id := range known {
		tpl, ok := TemplateFor(id)
		if !ok {
			t.Errorf("TemplateFor(%q) not found", id)
		}
		if tpl.Title == "" || tpl.Recommendation == "" {
			t.Errorf("TemplateFor(%q) has empty fields", id)
		}
	}

	if _, ok := TemplateFor("never_heard_of_it"); ok {
		t.Error("unknown rule reported as known")
	}
}
