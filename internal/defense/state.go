// Package defense owns the defense posture: blocked sources, throttled
// sources, isolated services, and the append-only action log. Every mutation
// goes through the Store so the log and the maps can never disagree.
package defense

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"threatops/internal/errs"
	"threatops/internal/schema"
)

// blockEntry records why and when a source was blocked.
type blockEntry struct {
	Reason string
	Since  time.Time
}

// throttleEntry records the request-per-minute limit applied to a source.
type throttleEntry struct {
	Limit int
	Since time.Time
}

// Store is the single authority over defense state. All methods are safe for
// concurrent use; each mutation and its log entry commit under one lock so
// readers never observe a mutation without its audit record.
type Store struct {
	logger *slog.Logger

	mu        sync.Mutex
	blocked   map[string]blockEntry
	throttled map[string]throttleEntry
	isolated  map[string]time.Time

	// actions is a capped append-only log, oldest first. When full the
	// oldest entries are dropped; counts keeps lifetime totals per type.
	actions     []schema.Action
	capacity    int
	counts      map[schema.ActionType]int
	totalLogged uint64
}

// NewStore creates an empty defense store. capacity bounds the retained
// action log; zero or negative means 1000.
func NewStore(capacity int, logger *slog.Logger) *Store {
	if capacity <= 0 {
		capacity = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		logger:    logger,
		blocked:   make(map[string]blockEntry),
		throttled: make(map[string]throttleEntry),
		isolated:  make(map[string]time.Time),
		capacity:  capacity,
		counts:    make(map[schema.ActionType]int),
	}
}

// recordLocked appends a completed action to the log. Caller holds s.mu.
func (s *Store) recordLocked(action schema.Action) schema.Action {
	if len(s.actions) >= s.capacity {
		drop := len(s.actions) - s.capacity + 1
		s.actions = append(s.actions[:0], s.actions[drop:]...)
	}
	s.actions = append(s.actions, action)
	s.counts[action.Type]++
	s.totalLogged++
	return action
}

func newAction(t schema.ActionType, target string, status schema.ActionStatus, msg string, alertID uuid.UUID) schema.Action {
	return schema.Action{
		ActionID:   uuid.New(),
		Type:       t,
		Target:     target,
		Status:     status,
		Message:    msg,
		ExecutedAt: time.Now().UTC(),
		AlertID:    alertID,
	}
}

// Block adds a source to the blocked set. Blocking an already blocked source
// is a recorded skip, never an error.
func (s *Store) Block(target, reason string, alertID uuid.UUID) (schema.Action, error) {
	if target == "" {
		action := newAction(schema.ActionBlockIP, target, schema.StatusFailed, "empty target", alertID)
		s.mu.Lock()
		s.recordLocked(action)
		s.mu.Unlock()
		return action, &errs.ActionFailure{ActionType: string(schema.ActionBlockIP), Target: target, Err: fmt.Errorf("empty target")}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.blocked[target]; exists {
		return s.recordLocked(newAction(schema.ActionBlockIP, target, schema.StatusSkipped, "already blocked", alertID)), nil
	}

	s.blocked[target] = blockEntry{Reason: reason, Since: time.Now().UTC()}
	s.logger.Info("source blocked", "target", target, "reason", reason)
	return s.recordLocked(newAction(schema.ActionBlockIP, target, schema.StatusSuccess, reason, alertID)), nil
}

// Unblock removes a source from the blocked set. Unblocking a source that is
// not blocked is a recorded skip.
func (s *Store) Unblock(target string, alertID uuid.UUID) (schema.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.blocked[target]; !exists {
		return s.recordLocked(newAction(schema.ActionUnblockIP, target, schema.StatusSkipped, "not blocked", alertID)), nil
	}

	delete(s.blocked, target)
	s.logger.Info("source unblocked", "target", target)
	return s.recordLocked(newAction(schema.ActionUnblockIP, target, schema.StatusSuccess, "", alertID)), nil
}

// Throttle applies a request-per-minute limit to a source. An existing
// equal-or-stricter limit makes this a recorded skip; a looser existing limit
// is tightened.
func (s *Store) Throttle(target string, limit int, alertID uuid.UUID) (schema.Action, error) {
	if target == "" {
		action := newAction(schema.ActionThrottleIP, target, schema.StatusFailed, "empty target", alertID)
		s.mu.Lock()
		s.recordLocked(action)
		s.mu.Unlock()
		return action, &errs.ActionFailure{ActionType: string(schema.ActionThrottleIP), Target: target, Err: fmt.Errorf("empty target")}
	}
	if limit <= 0 {
		action := newAction(schema.ActionThrottleIP, target, schema.StatusFailed, fmt.Sprintf("invalid limit %d", limit), alertID)
		s.mu.Lock()
		s.recordLocked(action)
		s.mu.Unlock()
		return action, &errs.ActionFailure{ActionType: string(schema.ActionThrottleIP), Target: target, Err: fmt.Errorf("invalid limit %d", limit)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, exists := s.throttled[target]; exists && existing.Limit <= limit {
		msg := fmt.Sprintf("already throttled at %d req/min", existing.Limit)
		return s.recordLocked(newAction(schema.ActionThrottleIP, target, schema.StatusSkipped, msg, alertID)), nil
	}

	s.throttled[target] = throttleEntry{Limit: limit, Since: time.Now().UTC()}
	s.logger.Info("source throttled", "target", target, "limit", limit)
	msg := fmt.Sprintf("limited to %d req/min", limit)
	return s.recordLocked(newAction(schema.ActionThrottleIP, target, schema.StatusSuccess, msg, alertID)), nil
}

// RemoveThrottle lifts the throttle on a source. Removing an absent throttle
// is a recorded skip.
func (s *Store) RemoveThrottle(target string, alertID uuid.UUID) (schema.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.throttled[target]; !exists {
		return s.recordLocked(newAction(schema.ActionRemoveThrottle, target, schema.StatusSkipped, "not throttled", alertID)), nil
	}

	delete(s.throttled, target)
	s.logger.Info("throttle removed", "target", target)
	return s.recordLocked(newAction(schema.ActionRemoveThrottle, target, schema.StatusSuccess, "", alertID)), nil
}

// Isolate adds a service to the isolated set. Isolating an already isolated
// service is a recorded skip. An empty service name is a failed action; a
// playbook step that cannot name its target must not silently succeed.
func (s *Store) Isolate(service string, alertID uuid.UUID) (schema.Action, error) {
	if service == "" {
		action := newAction(schema.ActionIsolateService, service, schema.StatusFailed, "no service to isolate", alertID)
		s.mu.Lock()
		s.recordLocked(action)
		s.mu.Unlock()
		return action, &errs.ActionFailure{ActionType: string(schema.ActionIsolateService), Target: service, Err: fmt.Errorf("no service to isolate")}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.isolated[service]; exists {
		return s.recordLocked(newAction(schema.ActionIsolateService, service, schema.StatusSkipped, "already isolated", alertID)), nil
	}

	s.isolated[service] = time.Now().UTC()
	s.logger.Info("service isolated", "service", service)
	return s.recordLocked(newAction(schema.ActionIsolateService, service, schema.StatusSuccess, "", alertID)), nil
}

// Restore removes a service from the isolated set. Restoring a service that
// is not isolated is a recorded skip.
func (s *Store) Restore(service string, alertID uuid.UUID) (schema.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.isolated[service]; !exists {
		return s.recordLocked(newAction(schema.ActionRestoreService, service, schema.StatusSkipped, "not isolated", alertID)), nil
	}

	delete(s.isolated, service)
	s.logger.Info("service restored", "service", service)
	return s.recordLocked(newAction(schema.ActionRestoreService, service, schema.StatusSuccess, "", alertID)), nil
}

// AlertOnly records a notification-only action. It never mutates the maps
// and always succeeds.
func (s *Store) AlertOnly(target, message string, alertID uuid.UUID) (schema.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordLocked(newAction(schema.ActionAlertOnly, target, schema.StatusSuccess, message, alertID)), nil
}

// IsBlocked reports whether a source is currently blocked.
func (s *Store) IsBlocked(target string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blocked[target]
	return ok
}

// ThrottleLimit returns the active limit for a source, if any.
func (s *Store) ThrottleLimit(target string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.throttled[target]
	return entry.Limit, ok
}

// IsIsolated reports whether a service is currently isolated.
func (s *Store) IsIsolated(service string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.isolated[service]
	return ok
}

// Snapshot returns a point-in-time copy of the defense posture.
func (s *Store) Snapshot() schema.DefenseState {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := schema.DefenseState{
		BlockedIPs:       make([]string, 0, len(s.blocked)),
		ThrottledIPs:     make(map[string]int, len(s.throttled)),
		IsolatedServices: make([]string, 0, len(s.isolated)),
		ActionCounts:     make(map[string]int, len(s.counts)),
	}
	for target := range s.blocked {
		state.BlockedIPs = append(state.BlockedIPs, target)
	}
	for target, entry := range s.throttled {
		state.ThrottledIPs[target] = entry.Limit
	}
	for service := range s.isolated {
		state.IsolatedServices = append(state.IsolatedServices, service)
	}
	for t, n := range s.counts {
		state.ActionCounts[string(t)] = n
	}
	sort.Strings(state.BlockedIPs)
	sort.Strings(state.IsolatedServices)
	return state
}

// Actions returns the most recent actions, newest first. limit <= 0 returns
// the full retained log.
func (s *Store) Actions(limit int) []schema.Action {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.actions)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]schema.Action, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.actions[i])
	}
	return out
}

// CheckIntegrity verifies the defense maps are internally consistent. The
// idempotency contract should make corruption unreachable; a positive finding
// is fatal to the operation that observed it.
func (s *Store) CheckIntegrity() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for target, entry := range s.throttled {
		if entry.Limit <= 0 {
			return &errs.StateCorruption{Detail: fmt.Sprintf("throttle entry %q has non-positive limit %d", target, entry.Limit)}
		}
	}
	if len(s.actions) > s.capacity {
		return &errs.StateCorruption{Detail: fmt.Sprintf("action log holds %d entries, capacity %d", len(s.actions), s.capacity)}
	}
	return nil
}

// Reset atomically clears all defense state and the action log, returning
// the number of posture entries cleared. The reset lands in the server log
// only; afterward the posture and the action log are both empty, and no
// concurrent reader can observe a half-cleared state.
func (s *Store) Reset() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleared := len(s.blocked) + len(s.throttled) + len(s.isolated)
	s.blocked = make(map[string]blockEntry)
	s.throttled = make(map[string]throttleEntry)
	s.isolated = make(map[string]time.Time)
	s.actions = s.actions[:0]
	s.counts = make(map[schema.ActionType]int)
	s.totalLogged = 0

	s.logger.Info("defense state reset", "entries_cleared", cleared)
	return cleared
}

// TotalLogged returns the count of actions recorded since startup or the
// last reset, including entries since dropped from the capped log.
func (s *Store) TotalLogged() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalLogged
}
