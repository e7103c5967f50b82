package dispatcher

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// testLogger implements Logger for testing
type testLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *testLogger) Debug(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("DEBUG: %s %v", msg, keysAndValues))
}

func (l *testLogger) Info(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("INFO: %s %v", msg, keysAndValues))
}

func (l *testLogger) Error(msg string, keysAndValues ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf("ERROR: %s %v", msg, keysAndValues))
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *testLogger) {
	logger := &testLogger{}

	d, err := New(logger)
	if err != nil {
		t.Fatalf("failed to create dispatcher: %v", err)
	}

	return d, logger
}

func TestDispatcher_SyncHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	called := false
	d.Register(":TEST:", func(e Event) (any, error) {
		called = true
		return "result", nil
	})

	result, err := d.Dispatch(Event{Kind: ":TEST:", Round: 1, Turn: 7})

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !called {
		t.Error("handler was not called")
	}
	if result != "result" {
		t.Errorf("expected 'result', got %v", result)
	}
}

func TestDispatcher_UnknownCommand(t *testing.T) {
	d, _ := newTestDispatcher(t)

	_, err := d.Dispatch(Event{Kind: ":UNKNOWN:"})

	if err == nil {
		t.Error("expected error for unknown command")
	}
}

func TestDispatcher_BufferedHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var processed atomic.Int32
	var wg sync.WaitGroup
	wg.Add(3)

	d.Register(":BUFFERED:", func(e Event) (any, error) {
		processed.Add(1)
		wg.Done()
		return nil, nil
	}, Buffered(100))

	// Dispatch 3 events
	for i := 0; i < 3; i++ {
		result, err := d.Dispatch(Event{Kind: ":BUFFERED:"})
		if err != nil {
			t.Errorf("unexpected error: %v", err)
		}
		if result != "queued" {
			t.Errorf("expected 'queued', got %v", result)
		}
	}

	// Wait for processing
	wg.Wait()

	if processed.Load() != 3 {
		t.Errorf("expected 3 processed, got %d", processed.Load())
	}
}

func TestDispatcher_BufferedDropsWhenFull(t *testing.T) {
	d, _ := newTestDispatcher(t)

	// Block the handler so queue fills up
	block := make(chan struct{})
	d.Register(":FULL:", func(e Event) (any, error) {
		<-block
		return nil, nil
	}, Buffered(2))

	// Fill the queue (2 items) + 1 being processed
	d.Dispatch(Event{Kind: ":FULL:"}) // being processed
	d.Dispatch(Event{Kind: ":FULL:"}) // queued
	d.Dispatch(Event{Kind: ":FULL:"}) // queued

	// This should be dropped
	_, err := d.Dispatch(Event{Kind: ":FULL:"})

	if err == nil {
		t.Error("expected error when queue is full")
	}

	close(block)
}

func TestDispatcher_BufferedBlocking(t *testing.T) {
	d, _ := newTestDispatcher(t)

	block := make(chan struct{})
	d.Register(":BLOCKING:", func(e Event) (any, error) {
		<-block
		return nil, nil
	}, Buffered(1), Blocking())

	// First event starts processing
	d.Dispatch(Event{Kind: ":BLOCKING:"})
	// Second event fills the queue
	d.Dispatch(Event{Kind: ":BLOCKING:"})

	// Third event should block (test with timeout)
	done := make(chan struct{})
	go func() {
		d.Dispatch(Event{Kind: ":BLOCKING:"})
		close(done)
	}()

	select {
	case <-done:
		t.Error("dispatch should have blocked")
	case <-time.After(50 * time.Millisecond):
		// Expected - dispatch is blocking
	}

	close(block)
}

func TestDispatcher_LoggedHandler(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register(":LOGGED:", func(e Event) (any, error) {
		return "ok", nil
	}, Logged())

	d.Dispatch(Event{Kind: ":LOGGED:", Round: 1, Turn: 7})

	// Give time for logging
	time.Sleep(10 * time.Millisecond)

	logger.mu.Lock()
	defer logger.mu.Unlock()

	if len(logger.messages) < 2 {
		t.Errorf("expected at least 2 log messages, got %d", len(logger.messages))
	}
}

func TestDispatcher_LoggedHandlerError(t *testing.T) {
	d, logger := newTestDispatcher(t)

	d.Register(":ERROR:", func(e Event) (any, error) {
		return nil, fmt.Errorf("test error")
	}, Logged())

	d.Dispatch(Event{Kind: ":ERROR:"})

	logger.mu.Lock()
	defer logger.mu.Unlock()

	hasError := false
	for _, msg := range logger.messages {
		if len(msg) >= 5 && msg[:5] == "ERROR" {
			hasError = true
			break
		}
	}

	if !hasError {
		t.Error("expected error log message")
	}
}

func TestDispatcher_HasHandler(t *testing.T) {
	d, _ := newTestDispatcher(t)

	d.Register(":EXISTS:", func(e Event) (any, error) { return nil, nil })

	if !d.HasHandler(":EXISTS:") {
		t.Error("expected handler to exist")
	}

	if d.HasHandler(":NOT_EXISTS:") {
		t.Error("expected handler to not exist")
	}
}

func TestDispatcher_CombinedOptions(t *testing.T) {
	d, logger := newTestDispatcher(t)

	var processed atomic.Int32
	var wg sync.WaitGroup
	wg.Add(1)

	d.Register(":COMBINED:", func(e Event) (any, error) {
		processed.Add(1)
		wg.Done()
		return "done", nil
	}, Buffered(100), Logged())

	result, err := d.Dispatch(Event{Kind: ":COMBINED:"})

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if result != "queued" {
		t.Errorf("expected 'queued', got %v", result)
	}

	wg.Wait()

	if processed.Load() != 1 {
		t.Errorf("expected 1 processed, got %d", processed.Load())
	}

	logger.mu.Lock()
	defer logger.mu.Unlock()

	if len(logger.messages) < 2 {
		t.Errorf("expected log messages, got %d", len(logger.messages))
	}
}

func TestDispatcher_UnknownKindSentinel(t *testing.T) {
	d, _ := newTestDispatcher(t)

	_, err := d.Dispatch(Event{Kind: KindTurnEnded})

	if !errors.Is(err, ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
}

func TestDispatcher_ChainedHandlers(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var order []string
	d.Register(KindRobotDeath, func(e Event) (any, error) {
		order = append(order, "first")
		return nil, nil
	})
	d.Register(KindRobotDeath, func(e Event) (any, error) {
		order = append(order, "second")
		return "last", nil
	})

	result, err := d.Dispatch(Event{Kind: KindRobotDeath})

	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if result != "last" {
		t.Errorf("expected 'last', got %v", result)
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("unexpected order: %v", order)
	}
}

func TestDispatcher_CloseDrainsBuffers(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var processed atomic.Int32
	d.Register(KindTurnEnded, func(e Event) (any, error) {
		time.Sleep(time.Millisecond)
		processed.Add(1)
		return nil, nil
	}, Buffered(100))

	for i := 0; i < 20; i++ {
		if _, err := d.Dispatch(Event{Kind: KindTurnEnded, Turn: int32(i)}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	d.Close()

	if processed.Load() != 20 {
		t.Errorf("expected 20 processed after close, got %d", processed.Load())
	}

	_, err := d.Dispatch(Event{Kind: KindTurnEnded})
	if !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}

	// Closing twice is harmless.
	d.Close()
}

func TestDispatcher_StampsTimestamp(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var got Event
	d.Register(KindRoundStarted, func(e Event) (any, error) {
		got = e
		return nil, nil
	})

	d.Dispatch(Event{Kind: KindRoundStarted, Round: 2})

	if got.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
	if got.Round != 2 {
		t.Errorf("expected round 2, got %d", got.Round)
	}
}

func TestDispatcher_OrderedGroupKeepsDispatchOrder(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var mu sync.Mutex
	var seen []string
	record := func(e Event) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, fmt.Sprintf("%s%d", e.Kind, e.Turn))
		return nil, nil
	}

	d.Register(KindRoundStarted, record, Ordered("sink", 4))
	d.Register(KindTurnEnded, func(e Event) (any, error) {
		time.Sleep(time.Millisecond)
		return record(e)
	}, Ordered("sink", 4), Logged())
	d.Register(KindRoundEnded, record, Ordered("sink", 4))

	d.Dispatch(Event{Kind: KindRoundStarted})
	for i := 1; i <= 5; i++ {
		if _, err := d.Dispatch(Event{Kind: KindTurnEnded, Turn: int32(i)}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	d.Dispatch(Event{Kind: KindRoundEnded, Turn: 5})
	d.Close()

	want := []string{
		KindRoundStarted + "0",
		KindTurnEnded + "1", KindTurnEnded + "2", KindTurnEnded + "3",
		KindTurnEnded + "4", KindTurnEnded + "5",
		KindRoundEnded + "5",
	}
	if fmt.Sprint(seen) != fmt.Sprint(want) {
		t.Errorf("expected %v, got %v", want, seen)
	}
}

func TestDispatcher_OrderedGroupChainsSameKind(t *testing.T) {
	d, _ := newTestDispatcher(t)

	var calls atomic.Int32
	h := func(e Event) (any, error) {
		calls.Add(1)
		return nil, nil
	}
	d.Register(KindRobotDeath, h, Ordered("sink", 8))
	d.Register(KindRobotDeath, h, Ordered("sink", 8))

	d.Dispatch(Event{Kind: KindRobotDeath})
	d.Close()

	if calls.Load() != 2 {
		t.Errorf("expected each chained handler to run once, got %d calls", calls.Load())
	}
}

func TestDispatcher_OrderedGroupDropsBehindHungHandler(t *testing.T) {
	d, logger := newTestDispatcher(t)

	release := make(chan struct{})
	started := make(chan struct{}, 1)
	d.Register(KindTurnEnded, func(e Event) (any, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil, nil
	}, Ordered("sink", 2), QueueTimeout(20*time.Millisecond))

	// First event occupies the worker, the next two fill the queue.
	if _, err := d.Dispatch(Event{Kind: KindTurnEnded, Turn: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	<-started
	for i := 2; i <= 3; i++ {
		if _, err := d.Dispatch(Event{Kind: KindTurnEnded, Turn: int32(i)}); err != nil {
			t.Fatalf("unexpected error on turn %d: %v", i, err)
		}
	}

	done := make(chan error, 1)
	go func() {
		_, err := d.Dispatch(Event{Kind: KindTurnEnded, Turn: 4})
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, ErrQueueFull) {
			t.Errorf("expected ErrQueueFull, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch blocked behind a hung handler")
	}

	logger.mu.Lock()
	logged := false
	for _, msg := range logger.messages {
		if strings.Contains(msg, "event dropped") {
			logged = true
		}
	}
	logger.mu.Unlock()
	if !logged {
		t.Error("expected the drop to be logged")
	}

	close(release)
	d.Close()
}
