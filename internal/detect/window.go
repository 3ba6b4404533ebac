package detect

import (
	"sync"
	"time"
)

// slidingWindow tracks event timestamps per source over a trailing window.
// Entries are pruned on every access, so cost is bounded by the number of
// events inside the window, not by history.
type slidingWindow struct {
	mu     sync.Mutex
	window time.Duration
	series map[string][]time.Time
}

func newSlidingWindow(window time.Duration) *slidingWindow {
	return &slidingWindow{
		window: window,
		series: make(map[string][]time.Time),
	}
}

// Add records one observation for the source at time t and returns the
// count of observations still inside the window.
func (w *slidingWindow) Add(source string, t time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := t.Add(-w.window)
	series := w.series[source]

	kept := series[:0]
	for _, ts := range series {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, t)
	w.series[source] = kept

	return len(kept)
}

// Reset clears all tracked sources.
func (w *slidingWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.series = make(map[string][]time.Time)
}

// portObservation pairs a timestamp with the port probed.
type portObservation struct {
	at   time.Time
	port int
}

// portWindow tracks distinct ports probed per source over a trailing window.
type portWindow struct {
	mu     sync.Mutex
	window time.Duration
	series map[string][]portObservation
}

func newPortWindow(window time.Duration) *portWindow {
	return &portWindow{
		window: window,
		series: make(map[string][]portObservation),
	}
}

// Add records a probe of port by source at time t. It returns the number of
// distinct ports inside the window and whether this port was new to it, so
// the caller can fire on the crossing probe only.
func (w *portWindow) Add(source string, port int, t time.Time) (int, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := t.Add(-w.window)
	series := w.series[source]

	kept := series[:0]
	novel := true
	for _, obs := range series {
		if obs.at.After(cutoff) {
			kept = append(kept, obs)
			if obs.port == port {
				novel = false
			}
		}
	}
	kept = append(kept, portObservation{at: t, port: port})
	w.series[source] = kept

	distinct := make(map[int]struct{}, len(kept))
	for _, obs := range kept {
		distinct[obs.port] = struct{}{}
	}
	return len(distinct), novel
}

// Reset clears all tracked sources.
func (w *portWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.series = make(map[string][]portObservation)
}
