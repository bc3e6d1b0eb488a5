package pipeline

import (
	"sync"
	"time"
)

// Timer records per-step durations and the order steps were recorded in,
// adapted from Chain.recordTiming/Timings: the teacher records one
// duration per middleware name under a mutex; this records one duration
// per state-machine step, and additionally preserves recording order so
// the first entry can serve as the request's overall method label (spec
// §4.12's "method = first recorded step").
type Timer struct {
	mu      sync.Mutex
	order   []string
	timings map[string]time.Duration
}

// NewTimer builds an empty Timer.
func NewTimer() *Timer {
	return &Timer{timings: make(map[string]time.Duration)}
}

// Record stores the duration of a step. Recording the same step name
// twice overwrites its duration but does not duplicate it in Steps().
func (t *Timer) Record(step string, d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, seen := t.timings[step]; !seen {
		t.order = append(t.order, step)
	}
	t.timings[step] = d
}

// Steps returns the recorded step names in the order they were first
// recorded.
func (t *Timer) Steps() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Timings returns a snapshot of the latest duration recorded per step.
func (t *Timer) Timings() map[string]time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]time.Duration, len(t.timings))
	for k, v := range t.timings {
		out[k] = v
	}
	return out
}

// Method returns the first recorded step, or "" if nothing was recorded.
// Per spec §4.12 the pipeline's overall method label is the step that
// satisfied the request (cache-l2, template, llm-full, ...).
func (t *Timer) Method() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.order) == 0 {
		return ""
	}
	return t.order[0]
}
