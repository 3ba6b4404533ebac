package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"threatops/internal/correlate"
	"threatops/internal/defense"
	"threatops/internal/errs"
	"threatops/internal/pipeline"
	"threatops/internal/respond"
	"threatops/internal/schema"
)

// Handler serves the pipeline's HTTP endpoints.
type Handler struct {
	pipe         *pipeline.Pipeline
	correlator   *correlate.Correlator
	orchestrator *respond.Orchestrator
	defense      *defense.Store
	maxPayload   int64
	startTime    time.Time
}

// NewHandler creates a Handler.
func NewHandler(pipe *pipeline.Pipeline, correlator *correlate.Correlator, orchestrator *respond.Orchestrator, store *defense.Store, maxPayload int) *Handler {
	if maxPayload <= 0 {
		maxPayload = 1 << 20
	}
	return &Handler{
		pipe:         pipe,
		correlator:   correlator,
		orchestrator: orchestrator,
		defense:      store,
		maxPayload:   int64(maxPayload),
		startTime:    time.Now(),
	}
}

// decodeBody reads and decodes a bounded JSON request body.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxPayload)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		if err.Error() == "http: request body too large" {
			respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return err
		}
		respondError(w, http.StatusBadRequest, "failed to read request body")
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return err
	}
	return nil
}

// AnalyzeRequest is the request body for POST /v1/analyze.
type AnalyzeRequest struct {
	EventID   *uuid.UUID     `json:"event_id,omitempty"`
	SourceID  string         `json:"source_id"`
	Service   string         `json:"service,omitempty"`
	EventType string         `json:"event_type,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp *time.Time     `json:"timestamp,omitempty"`
}

// HandleAnalyze handles POST /v1/analyze. The response carries the detected
// anomalies; correlation and response continue asynchronously.
func (h *Handler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req AnalyzeRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		return
	}

	event := &schema.TelemetryEvent{
		SourceID:  req.SourceID,
		Service:   req.Service,
		EventType: req.EventType,
		Payload:   req.Payload,
	}
	if req.EventID != nil {
		event.EventID = *req.EventID
	} else {
		event.EventID = uuid.New()
	}
	if req.Timestamp != nil {
		event.Timestamp = *req.Timestamp
	} else {
		event.Timestamp = time.Now().UTC()
	}

	anomalies, err := h.pipe.Analyze(r.Context(), event)
	if err != nil {
		respondForError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success":            true,
		"event_id":           event.EventID,
		"anomalies_detected": len(anomalies),
		"anomalies":          anomaliesOrEmpty(anomalies),
	})
}

func anomaliesOrEmpty(anomalies []*schema.Anomaly) []*schema.Anomaly {
	if anomalies == nil {
		return []*schema.Anomaly{}
	}
	return anomalies
}

// AnomalyRequest is the request body for the manual alert endpoints.
type AnomalyRequest struct {
	RuleID      string         `json:"rule_id"`
	SourceID    string         `json:"source_id"`
	Severity    string         `json:"severity"`
	Confidence  float64        `json:"confidence"`
	Description string         `json:"description,omitempty"`
	Evidence    map[string]any `json:"evidence,omitempty"`
}

func (req *AnomalyRequest) toAnomaly() *schema.Anomaly {
	return &schema.Anomaly{
		AnomalyID:   uuid.New(),
		RuleID:      req.RuleID,
		SourceID:    req.SourceID,
		Severity:    schema.Severity(req.Severity),
		Confidence:  req.Confidence,
		Description: req.Description,
		Evidence:    req.Evidence,
		DetectedAt:  time.Now().UTC(),
	}
}

// HandleCreateAlert handles POST /v1/alerts: correlate a manually submitted
// anomaly into an alert without running the response playbook.
func (h *Handler) HandleCreateAlert(w http.ResponseWriter, r *http.Request) {
	var req AnomalyRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		return
	}
	anomaly := req.toAnomaly()

	if err := h.pipe.ValidateAnomaly(anomaly); err != nil {
		respondForError(w, err)
		return
	}

	alert, err := h.correlator.Correlate(r.Context(), anomaly)
	if err != nil {
		if errors.Is(err, errs.ErrSuppressed) {
			respondJSON(w, http.StatusOK, map[string]any{
				"success":    true,
				"suppressed": true,
			})
			return
		}
		respondForError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"alert":   alert,
	})
}

// ExecuteRequest is the request body for POST /v1/respond. Either an existing
// alert is named by alert_id, or the alert fields are supplied inline.
type ExecuteRequest struct {
	AlertID  *uuid.UUID     `json:"alert_id,omitempty"`
	Title    string         `json:"title,omitempty"`
	RuleID   string         `json:"rule_id,omitempty"`
	SourceID string         `json:"source_id,omitempty"`
	Service  string         `json:"service,omitempty"`
	Severity string         `json:"severity,omitempty"`
	Evidence map[string]any `json:"evidence,omitempty"`
}

// toAlert builds an alert from inline request fields, filling title and
// recommendation from the rule's template when the caller omitted them.
func (req *ExecuteRequest) toAlert() *schema.Alert {
	tpl, _ := correlate.TemplateFor(req.RuleID)
	title := req.Title
	if title == "" {
		title = tpl.Title
	}
	return &schema.Alert{
		AlertID:        uuid.New(),
		Title:          title,
		Description:    tpl.RenderDescription(req.SourceID),
		Severity:       schema.Severity(req.Severity),
		SourceID:       req.SourceID,
		Service:        req.Service,
		RuleID:         req.RuleID,
		Evidence:       req.Evidence,
		Recommendation: tpl.Recommendation,
		CreatedAt:      time.Now().UTC(),
	}
}

// HandleRespond handles POST /v1/respond: execute the playbook for an alert
// and return every action taken. The cooldown applies to alert creation, not
// execution, so a just-created alert can always be executed.
func (h *Handler) HandleRespond(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		return
	}

	var alert *schema.Alert
	if req.AlertID != nil {
		stored, ok := h.correlator.Get(*req.AlertID)
		if !ok {
			respondError(w, http.StatusNotFound, fmt.Sprintf("alert not found: %s", req.AlertID))
			return
		}
		alert = stored
	} else {
		alert = req.toAlert()
	}

	actions, err := h.pipe.RespondNow(r.Context(), alert)
	if err != nil {
		respondForError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success":          true,
		"alert":            alert,
		"actions_executed": len(actions),
		"actions":          actions,
	})
}

// HandleStatus handles GET /v1/status.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if err := h.defense.CheckIntegrity(); err != nil {
		respondForError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"defense_state":  h.defense.Snapshot(),
		"alerts":         h.correlator.Stats(),
		"queue":          h.pipe.QueueMetrics(),
		"uptime_seconds": int(time.Since(h.startTime).Seconds()),
	})
}

// HandleActions handles GET /v1/actions?limit=N, newest first.
func (h *Handler) HandleActions(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"actions": h.defense.Actions(limit),
		"total":   h.defense.TotalLogged(),
	})
}

// HandleListAlerts handles GET /v1/alerts.
func (h *Handler) HandleListAlerts(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"alerts":  h.correlator.List(),
	})
}

// HandleAlertStats handles GET /v1/alerts/stats.
func (h *Handler) HandleAlertStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"stats":   h.correlator.Stats(),
	})
}

// HandleAcknowledgeAlert handles POST /v1/alerts/{id}/acknowledge.
func (h *Handler) HandleAcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid alert id")
		return
	}
	if err := h.correlator.Acknowledge(id); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

// HandleDismissAlert handles DELETE /v1/alerts/{id}.
func (h *Handler) HandleDismissAlert(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid alert id")
		return
	}
	if err := h.correlator.Dismiss(id); err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

// BlockRequest is the optional body for POST /v1/block/{id}.
type BlockRequest struct {
	Reason string `json:"reason,omitempty"`
}

// HandleBlock handles POST /v1/block/{id}.
func (h *Handler) HandleBlock(w http.ResponseWriter, r *http.Request) {
	target := r.PathValue("id")

	var req BlockRequest
	if r.ContentLength > 0 {
		if err := h.decodeBody(w, r, &req); err != nil {
			return
		}
	}
	reason := req.Reason
	if reason == "" {
		reason = "manual block"
	}

	action, err := h.defense.Block(target, reason, uuid.Nil)
	h.respondAction(w, action, err)
}

// HandleUnblock handles DELETE /v1/block/{id}.
func (h *Handler) HandleUnblock(w http.ResponseWriter, r *http.Request) {
	action, err := h.defense.Unblock(r.PathValue("id"), uuid.Nil)
	h.respondAction(w, action, err)
}

// HandleThrottle handles POST /v1/throttle/{id}?limit=N.
func (h *Handler) HandleThrottle(w http.ResponseWriter, r *http.Request) {
	target := r.PathValue("id")

	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	action, err := h.defense.Throttle(target, limit, uuid.Nil)
	h.respondAction(w, action, err)
}

// HandleRemoveThrottle handles DELETE /v1/throttle/{id}.
func (h *Handler) HandleRemoveThrottle(w http.ResponseWriter, r *http.Request) {
	action, err := h.defense.RemoveThrottle(r.PathValue("id"), uuid.Nil)
	h.respondAction(w, action, err)
}

// HandleIsolate handles POST /v1/isolate/{service}.
func (h *Handler) HandleIsolate(w http.ResponseWriter, r *http.Request) {
	action, err := h.defense.Isolate(r.PathValue("service"), uuid.Nil)
	h.respondAction(w, action, err)
}

// HandleRestore handles DELETE /v1/isolate/{service}.
func (h *Handler) HandleRestore(w http.ResponseWriter, r *http.Request) {
	action, err := h.defense.Restore(r.PathValue("service"), uuid.Nil)
	h.respondAction(w, action, err)
}

// HandleReset handles DELETE /v1/reset. The posture and the action log are
// cleared together; the response reports how many posture entries went.
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	cleared := h.defense.Reset()
	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"cleared": cleared,
	})
}

// respondAction writes the standard single-action response. A failed action
// is still 200 with the action record; the failure is in the status field.
// Only corrupted state turns into an HTTP error.
func (h *Handler) respondAction(w http.ResponseWriter, action schema.Action, err error) {
	if err != nil && errs.IsStateCorruption(err) {
		respondForError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"success": action.Status != schema.StatusFailed,
		"action":  action,
	})
}

// HandleHealth handles GET /health.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	qm := h.pipe.QueueMetrics()

	status := "healthy"
	if qm.Capacity > 0 && qm.Depth > qm.Capacity*9/10 {
		status = "degraded"
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":         status,
		"queue_depth":    qm.Depth,
		"queue_capacity": qm.Capacity,
		"uptime_seconds": int(time.Since(h.startTime).Seconds()),
	})
}
