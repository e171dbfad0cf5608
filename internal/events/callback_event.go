package events

// CallbackEvent provides pub/sub behavior with type-safe callbacks.
// Callbacks run synchronously on the notifying goroutine, outside any lock,
// so a callback may deregister itself or listen again.
type CallbackEvent[T any] struct {
	reg registry[T, func(T)]
}

// NewCallbackEvent creates a new CallbackEvent instance.
// With replayLast set, the last notified value is remembered and handed
// to every new listener straight away.
func NewCallbackEvent[T any](replayLast bool) *CallbackEvent[T] {
	return &CallbackEvent[T]{reg: newRegistry[T, func(T)](replayLast)}
}

// Listen registers callback and returns a function that removes it again
func (e *CallbackEvent[T]) Listen(callback func(T)) func() {
	if callback == nil {
		panic("callback cannot be nil")
	}

	id, last, replay := e.reg.add(callback)
	if replay {
		callback(last)
	}
	return func() { e.reg.remove(id) }
}

func (e *CallbackEvent[T]) Notify(value T) {
	for _, callback := range e.reg.record(value) {
		callback(value)
	}
}

// Last returns the most recent value when replay is enabled
func (e *CallbackEvent[T]) Last() (T, bool) {
	return e.reg.lastValue()
}

func (e *CallbackEvent[T]) ListenerCount() int {
	return e.reg.count()
}
