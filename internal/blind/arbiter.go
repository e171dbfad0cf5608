package blind

import (
	"context"
	"sync"
)

// Connector performs one physical connection attempt.
// It returns false without error when ctx was cancelled part way.
type Connector interface {
	EstablishConnection(ctx context.Context) (bool, error)
}

type ConnectorFunc func(ctx context.Context) (bool, error)

func (f ConnectorFunc) EstablishConnection(ctx context.Context) (bool, error) {
	return f(ctx)
}

type waiter struct {
	result chan bool
}

func newWaiter() *waiter {
	return &waiter{result: make(chan bool, 1)}
}

// resolve delivers v unless the waiter already has a result
func (w *waiter) resolve(v bool) {
	select {
	case w.result <- v:
	default:
	}
}

// Arbiter serialises connection attempts for a single device.
//
// The first caller becomes the connector and runs the attempt. Callers arriving
// while it runs queue up behind it, and only the most recent of them is told the
// real outcome: every earlier waiter, and the connector itself when someone is
// waiting, gets false and must not use the connection.
type Arbiter struct {
	mu            sync.Mutex
	connecting    bool
	cancel        context.CancelFunc
	last          *waiter
	registrations uint64
}

func NewArbiter() *Arbiter {
	return &Arbiter{}
}

// Acquire returns true when the caller may go on to use the connection.
// Errors from the attempt are returned to the connector only.
func (a *Arbiter) Acquire(ctx context.Context, connector Connector) (bool, error) {
	a.mu.Lock()
	if a.connecting {
		if a.last != nil {
			a.last.resolve(false)
		}
		w := newWaiter()
		a.last = w
		a.registrations++
		a.mu.Unlock()
		return a.wait(ctx, w)
	}

	attemptCtx, cancel := context.WithCancel(ctx)
	a.connecting = true
	a.cancel = cancel
	a.mu.Unlock()

	ok, err := connector.EstablishConnection(attemptCtx)
	cancel()

	a.mu.Lock()
	w := a.last
	a.last = nil
	a.connecting = false
	a.cancel = nil
	a.mu.Unlock()

	if err != nil {
		if w != nil {
			w.resolve(false)
		}
		return false, err
	}
	if w != nil {
		w.resolve(ok)
		return false, nil
	}
	return ok, nil
}

func (a *Arbiter) wait(ctx context.Context, w *waiter) (bool, error) {
	select {
	case ok := <-w.result:
		return ok, nil
	case <-ctx.Done():
	}

	a.mu.Lock()
	if a.last == w {
		a.last = nil
	}
	a.mu.Unlock()

	// the outcome may have landed at the same time
	select {
	case ok := <-w.result:
		return ok, nil
	default:
		return false, ctx.Err()
	}
}

// Cancel aborts the attempt in flight, if any, and tells the pending waiter false.
// The arbiter stays busy until the connector has unwound.
func (a *Arbiter) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
	}
	if a.last != nil {
		a.last.resolve(false)
		a.last = nil
	}
}

// isConnecting reports whether an attempt is in flight
func (a *Arbiter) isConnecting() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connecting
}

// waiterCount counts the waiters queued since the arbiter was created
func (a *Arbiter) waiterCount() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.registrations
}
