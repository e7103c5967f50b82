//go:build !debug

package channel

// New creates the queue the dispatcher puts in front of a handler.
func New[T any](size int) Channel[T] {
	return NewFIFO[T](size)
}
