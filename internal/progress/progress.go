// Package progress tracks batch completion timing: a bounded moving average
// of task durations, ETA for the remaining work, and throughput. Samples are
// in-memory only; nothing here is persisted.
package progress

import (
	"sync"
	"time"
)

// DefaultWindowSize is how many recent completions feed the moving average.
const DefaultWindowSize = 10

// Stats is a point-in-time view of batch progress.
type Stats struct {
	Total     int
	Completed int
	Failed    int
	Skipped   int
	Remaining int

	Elapsed         time.Duration
	AverageDuration time.Duration

	// ETAKnown is false until the sample window has filled; extrapolating an
	// ETA from one or two samples is worse than admitting ignorance.
	ETAKnown bool
	ETA      time.Duration

	ThroughputPerMinute float64
}

// Processed is how many tasks have reached a terminal state.
func (s Stats) Processed() int {
	return s.Completed + s.Failed + s.Skipped
}

// Tracker accumulates completion samples for one run. Safe for concurrent
// use by parallel workers.
type Tracker struct {
	mu        sync.Mutex
	total     int
	completed int
	failed    int
	skipped   int
	window    []time.Duration
	windowCap int
	startedAt time.Time
	now       func() time.Time
}

// NewTracker creates a tracker for a batch of total tasks.
func NewTracker(total int) *Tracker {
	return &Tracker{
		total:     total,
		windowCap: DefaultWindowSize,
		startedAt: time.Now(),
		now:       time.Now,
	}
}

// RecordCompletion counts one successful task and feeds its duration into
// the moving-average window.
func (t *Tracker) RecordCompletion(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.completed++
	t.window = append(t.window, d)
	if len(t.window) > t.windowCap {
		t.window = t.window[1:]
	}
}

// RecordFailure counts one failed task. Failures do not feed the moving
// average; a fast failure would make the ETA look better than it is.
func (t *Tracker) RecordFailure() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failed++
}

// RecordSkip counts one task skipped via checkpoint resume.
func (t *Tracker) RecordSkip() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.skipped++
}

// Stats returns the current progress view.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Stats{
		Total:     t.total,
		Completed: t.completed,
		Failed:    t.failed,
		Skipped:   t.skipped,
		Elapsed:   t.now().Sub(t.startedAt),
	}
	s.Remaining = t.total - s.Processed()
	if s.Remaining < 0 {
		s.Remaining = 0
	}

	if len(t.window) > 0 {
		var sum time.Duration
		for _, d := range t.window {
			sum += d
		}
		s.AverageDuration = sum / time.Duration(len(t.window))
	}

	if len(t.window) >= t.windowCap {
		s.ETAKnown = true
		s.ETA = time.Duration(s.Remaining) * s.AverageDuration
	}

	if minutes := s.Elapsed.Minutes(); minutes > 0 {
		s.ThroughputPerMinute = float64(t.completed) / minutes
	}

	return s
}
