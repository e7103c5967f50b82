package channel

import "sync"

// Mailbox holds at most one value. Put replaces whatever is waiting, so a
// slow reader only ever sees the latest value. Ready is signalled once per
// Put until the value is taken.
type Mailbox[T any] struct {
	mu    sync.Mutex
	value T
	full  bool
	ready chan struct{}
}

// NewMailbox creates an empty mailbox.
func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{ready: make(chan struct{}, 1)}
}

// Put stores v, replacing any untaken value. It never blocks.
func (m *Mailbox[T]) Put(v T) {
	m.mu.Lock()
	m.value = v
	m.full = true
	m.mu.Unlock()

	select {
	case m.ready <- struct{}{}:
	default:
	}
}

// TryTake removes and returns the stored value, if any.
func (m *Mailbox[T]) TryTake() (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var zero T
	if !m.full {
		return zero, false
	}
	v := m.value
	m.value = zero
	m.full = false
	return v, true
}

// Clear drops any stored value.
func (m *Mailbox[T]) Clear() {
	m.TryTake()
}

// Ready fires after a Put. A receive does not guarantee a value is still
// present; callers follow up with TryTake.
func (m *Mailbox[T]) Ready() <-chan struct{} {
	return m.ready
}

// Len returns 1 when a value is waiting.
func (m *Mailbox[T]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.full {
		return 1
	}
	return 0
}
