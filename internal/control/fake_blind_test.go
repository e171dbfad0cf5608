package control

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"testing"

	"github.com/lowaak/motion-blinds/motion-blinds-app/internal/blind"
	"github.com/lowaak/motion-blinds/motion-blinds-app/internal/events"
	"github.com/lowaak/motion-blinds/motion-blinds-app/internal/motion"
)

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

func newTestLogger(t *testing.T) *log.Logger {
	return log.New(testWriter{t}, "", 0)
}

// fakeBlind records the calls it receives and publishes whatever state the test sets
type fakeBlind struct {
	mu      sync.Mutex
	state   blind.State
	calls   []string
	err     error
	connect bool
	event   *events.CallbackEvent[blind.State]
}

func newFakeBlind(kind blind.BlindKind) *fakeBlind {
	return &fakeBlind{
		state: blind.State{
			ID:      "AA:BB:CC:DD:EE:FF",
			Name:    "MOTION_EEFF",
			Kind:    kind,
			Battery: -1,
		},
		connect: true,
		event:   events.NewCallbackEvent[blind.State](true),
	}
}

func (f *fakeBlind) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeBlind) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeBlind) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeBlind) update(fn func(st *blind.State)) {
	f.mu.Lock()
	fn(&f.state)
	st := f.state
	f.mu.Unlock()
	f.event.Notify(st)
}

func (f *fakeBlind) State() blind.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeBlind) Listen(fn func(blind.State)) func() {
	unregister := f.event.Listen(fn)
	if _, ok := f.event.Last(); !ok {
		fn(f.State())
	}
	return unregister
}

func (f *fakeBlind) Connect(ctx context.Context) (bool, error) {
	if err := f.record("connect"); err != nil {
		return false, err
	}
	f.mu.Lock()
	ok := f.connect
	f.mu.Unlock()
	return ok, nil
}

func (f *fakeBlind) Disconnect() error { return f.record("disconnect") }

func (f *fakeBlind) MoveUp(ctx context.Context) error     { return f.record("up") }
func (f *fakeBlind) MoveDown(ctx context.Context) error   { return f.record("down") }
func (f *fakeBlind) Stop(ctx context.Context) error       { return f.record("stop") }
func (f *fakeBlind) GoFavorite(ctx context.Context) error { return f.record("favorite") }

func (f *fakeBlind) SetPosition(ctx context.Context, position float64) error {
	return f.record(fmt.Sprintf("position=%.2f", position))
}

func (f *fakeBlind) SetTilt(ctx context.Context, tilt float64) error {
	return f.record(fmt.Sprintf("tilt=%.2f", tilt))
}

func (f *fakeBlind) SetSpeed(ctx context.Context, level motion.SpeedLevel) error {
	return f.record(fmt.Sprintf("speed=%d", level))
}

var _ Blind = (*fakeBlind)(nil)
