package events

// ChannelEvent provides pub/sub behavior using channels.
// Sends never block: a listener whose buffer is full misses that value.
type ChannelEvent[T any] struct {
	reg registry[T, chan<- T]
}

func NewChannelEvent[T any](replayLast bool) *ChannelEvent[T] {
	return &ChannelEvent[T]{reg: newRegistry[T, chan<- T](replayLast)}
}

// Listen registers ch and returns a function that removes it again.
// The channel is never closed by the event.
func (e *ChannelEvent[T]) Listen(ch chan<- T) func() {
	if ch == nil {
		panic("channel cannot be nil")
	}

	id, last, replay := e.reg.add(ch)
	if replay {
		trySend(ch, last)
	}
	return func() { e.reg.remove(id) }
}

func (e *ChannelEvent[T]) Notify(value T) {
	for _, ch := range e.reg.record(value) {
		trySend(ch, value)
	}
}

// Last returns the most recent value when replay is enabled
func (e *ChannelEvent[T]) Last() (T, bool) {
	return e.reg.lastValue()
}

func (e *ChannelEvent[T]) ListenerCount() int {
	return e.reg.count()
}

func trySend[T any](ch chan<- T, value T) bool {
	select {
	case ch <- value:
		return true
	default:
		return false
	}
}
