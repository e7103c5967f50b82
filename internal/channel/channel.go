// Package channel holds the queues between the battle's producers and the
// goroutines that consume them: FIFO queues behind the dispatcher and
// one-slot mailboxes for the per-turn handshake with each robot.
package channel

import "time"

// Receiver provides read access to a queue.
type Receiver[T any] interface {
	Receive() <-chan T
	Len() int
}

// Sender provides write access to a queue. TrySend reports false instead
// of blocking when the queue is full; SendTimeout gives up after d.
type Sender[T any] interface {
	Send(T)
	TrySend(T) bool
	SendTimeout(v T, d time.Duration) bool
}

// Channel combines read and write access.
type Channel[T any] interface {
	Receiver[T]
	Sender[T]
	Close()
}
