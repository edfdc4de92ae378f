package gateway

import (
	"sync"
	"time"
)

// TimerSet is a keyed collection of cancellable timers. Arming a key
// always cancels its prior timer first, so at most one timer exists per
// key at any instant.
type TimerSet struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewTimerSet builds an empty set.
func NewTimerSet() *TimerSet {
	return &TimerSet{timers: make(map[string]*time.Timer)}
}

// Arm schedules fn after d, replacing any timer already armed for key.
// fn runs on its own goroutine; callers must tolerate a stale fire that
// raced with Cancel and re-check their own state.
func (ts *TimerSet) Arm(key string, d time.Duration, fn func()) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if prev, ok := ts.timers[key]; ok {
		prev.Stop()
	}

	var t *time.Timer
	t = time.AfterFunc(d, func() {
		ts.mu.Lock()
		// A newer timer may have replaced this one between fire and lock.
		if ts.timers[key] == t {
			delete(ts.timers, key)
		}
		ts.mu.Unlock()
		fn()
	})
	ts.timers[key] = t
}

// Cancel stops the timer for key if one is armed.
func (ts *TimerSet) Cancel(key string) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	t, ok := ts.timers[key]
	if !ok {
		return false
	}
	delete(ts.timers, key)
	return t.Stop()
}

// Len returns the number of armed timers.
func (ts *TimerSet) Len() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.timers)
}

// StopAll cancels every armed timer.
func (ts *TimerSet) StopAll() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for key, t := range ts.timers {
		t.Stop()
		delete(ts.timers, key)
	}
}
