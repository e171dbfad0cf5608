package blind

import (
	"sync"
	"time"
)

// disconnectTimer holds the idle-disconnect deadline of a session.
// Every accepted refresh replaces the pending timer; a generation counter
// keeps a superseded timer from firing.
type disconnectTimer struct {
	mu         sync.Mutex
	deadline   time.Time
	timer      *time.Timer
	generation uint64
	onExpire   func()
	now        func() time.Time
}

func newDisconnectTimer(onExpire func()) *disconnectTimer {
	if onExpire == nil {
		panic("disconnectTimer: onExpire cannot be nil")
	}
	return &disconnectTimer{onExpire: onExpire, now: time.Now}
}

// Refresh moves the deadline to now+d. A deadline earlier than the armed one
// is ignored unless force is set. Returns whether the deadline changed.
func (t *disconnectTimer) Refresh(d time.Duration, force bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	deadline := t.now().Add(d)
	if t.timer != nil && t.deadline.After(deadline) && !force {
		return false
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.generation++
	generation := t.generation
	t.deadline = deadline
	t.timer = time.AfterFunc(d, func() { t.fire(generation) })
	return true
}

func (t *disconnectTimer) fire(generation uint64) {
	t.mu.Lock()
	if generation != t.generation {
		t.mu.Unlock()
		return
	}
	t.timer = nil
	t.deadline = time.Time{}
	t.mu.Unlock()

	t.onExpire()
}

// Stop disarms the timer
func (t *disconnectTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.generation++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.deadline = time.Time{}
}

// Deadline returns the armed deadline
func (t *disconnectTimer) Deadline() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deadline, t.timer != nil
}
