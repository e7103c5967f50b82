//go:build debug

package channel

// New ignores size in debug builds: every dispatch waits for its handler,
// so a battle runs with its sinks in lockstep and ordering bugs reproduce.
func New[T any](size int) Channel[T] {
	return NewFIFO[T](0)
}
