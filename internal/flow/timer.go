package flow

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// TimerInfo describes a pending scheduled function.
type TimerInfo struct {
	ID          string    `json:"id"`
	ScheduledAt time.Time `json:"scheduled_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Remaining   string    `json:"remaining"`
}

// timerEntry tracks information about a scheduled timer
type timerEntry struct {
	timer       *time.Timer
	scheduledAt time.Time
	expiresAt   time.Time
}

// SimpleTimer implements the Timer interface using Go's standard time package.
type SimpleTimer struct {
	timers map[string]*timerEntry
	mu     sync.RWMutex
	nextID int64
}

// NewSimpleTimer creates a new SimpleTimer.
func NewSimpleTimer() *SimpleTimer {
	slog.Debug("SimpleTimer.NewSimpleTimer: created")
	return &SimpleTimer{
		timers: make(map[string]*timerEntry),
	}
}

// ScheduleAfter schedules a function to run after a delay.
func (t *SimpleTimer) ScheduleAfter(delay time.Duration, fn func()) (string, error) {
	if fn == nil {
		return "", fmt.Errorf("cannot schedule a nil function")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := fmt.Sprintf("timer_%d", t.nextID)

	now := time.Now()
	entry := &timerEntry{scheduledAt: now, expiresAt: now.Add(delay)}
	entry.timer = time.AfterFunc(delay, func() {
		t.mu.Lock()
		current, ok := t.timers[id]
		if ok && current == entry {
			delete(t.timers, id)
		}
		t.mu.Unlock()
		if !ok || current != entry {
			return
		}
		slog.Debug("SimpleTimer.ScheduleAfter: executing scheduled function", "id", id)
		fn()
	})
	t.timers[id] = entry

	slog.Debug("SimpleTimer.ScheduleAfter: scheduled", "id", id, "delay", delay)
	return id, nil
}

// Cancel cancels a scheduled function by ID. Unknown ids are ignored.
func (t *SimpleTimer) Cancel(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, exists := t.timers[id]; exists {
		entry.timer.Stop()
		delete(t.timers, id)
		slog.Debug("SimpleTimer.Cancel: cancelled", "id", id)
		return nil
	}

	slog.Debug("SimpleTimer.Cancel: timer not found", "id", id)
	return nil
}

// Stop cancels all scheduled timers.
func (t *SimpleTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, entry := range t.timers {
		entry.timer.Stop()
	}
	slog.Info("SimpleTimer.Stop: stopped all timers", "count", len(t.timers))
	t.timers = make(map[string]*timerEntry)
}

// ListActive returns information about all pending timers.
func (t *SimpleTimer) ListActive() []TimerInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]TimerInfo, 0, len(t.timers))
	now := time.Now()
	for id, entry := range t.timers {
		remaining := entry.expiresAt.Sub(now)
		if remaining < 0 {
			remaining = 0
		}
		result = append(result, TimerInfo{
			ID:          id,
			ScheduledAt: entry.scheduledAt,
			ExpiresAt:   entry.expiresAt,
			Remaining:   remaining.String(),
		})
	}
	return result
}

// IdleReaper runs an expiry callback for sessions that have been quiet for the
// configured timeout. Each Touch pushes the deadline forward.
type IdleReaper struct {
	timer   Timer
	timeout time.Duration
	expire  func(sessionID string)

	mu      sync.Mutex
	pending map[string]string // session id -> timer id
}

// NewIdleReaper creates a reaper. A non-positive timeout disables reaping.
func NewIdleReaper(timer Timer, timeout time.Duration, expire func(sessionID string)) *IdleReaper {
	return &IdleReaper{
		timer:   timer,
		timeout: timeout,
		expire:  expire,
		pending: make(map[string]string),
	}
}

// Touch (re)arms the idle deadline for a session.
func (r *IdleReaper) Touch(sessionID string) {
	if r == nil || r.timeout <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.pending[sessionID]; ok {
		_ = r.timer.Cancel(prev)
	}
	var id string
	id, err := r.timer.ScheduleAfter(r.timeout, func() {
		r.mu.Lock()
		if r.pending[sessionID] != id {
			r.mu.Unlock()
			return
		}
		delete(r.pending, sessionID)
		r.mu.Unlock()
		slog.Info("IdleReaper: session idle timeout reached", "sessionID", sessionID, "timeout", r.timeout)
		r.expire(sessionID)
	})
	if err != nil {
		slog.Error("IdleReaper.Touch: failed to schedule expiry", "sessionID", sessionID, "error", err)
		return
	}
	r.pending[sessionID] = id
}

// Forget cancels the idle deadline for a session.
func (r *IdleReaper) Forget(sessionID string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.pending[sessionID]; ok {
		_ = r.timer.Cancel(id)
		delete(r.pending, sessionID)
	}
}

// Stop cancels every pending deadline.
func (r *IdleReaper) Stop() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for sid, id := range r.pending {
		_ = r.timer.Cancel(id)
		delete(r.pending, sid)
	}
}
