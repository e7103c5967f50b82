package channel

import "time"

// FIFO is a Go channel behind the Channel interface. A zero size makes
// every Send a rendezvous with the receiver.
type FIFO[T any] struct {
	ch chan T
}

var _ Channel[int] = (*FIFO[int])(nil)

// NewFIFO creates a queue holding up to size values.
func NewFIFO[T any](size int) *FIFO[T] {
	if size < 0 {
		size = 0
	}
	return &FIFO[T]{ch: make(chan T, size)}
}

// Send blocks until the value is queued.
func (f *FIFO[T]) Send(v T) {
	f.ch <- v
}

// TrySend queues v if there is room.
func (f *FIFO[T]) TrySend(v T) bool {
	select {
	case f.ch <- v:
		return true
	default:
		return false
	}
}

// SendTimeout waits up to d for room and reports whether v was queued.
func (f *FIFO[T]) SendTimeout(v T, d time.Duration) bool {
	if f.TrySend(v) {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case f.ch <- v:
		return true
	case <-timer.C:
		return false
	}
}

func (f *FIFO[T]) Receive() <-chan T {
	return f.ch
}

// Len is the number of queued values.
func (f *FIFO[T]) Len() int {
	return len(f.ch)
}

// Cap is the queue size given at creation.
func (f *FIFO[T]) Cap() int {
	return cap(f.ch)
}

// Close ends the queue; receivers drain what is left.
func (f *FIFO[T]) Close() {
	close(f.ch)
}
