// Package worker feeds battle events from the dispatcher into the recording
// sinks and the metrics store.
package worker

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"github.com/OCAP2/arena/internal/influx"
	"github.com/OCAP2/arena/internal/storage"
)

// Default breaker settings for sinks.
const (
	DefaultTripAfter   = 5
	DefaultOpenTimeout = 10 * time.Second
)

// SampleWriter accepts metric samples. *influx.Manager satisfies it.
type SampleWriter interface {
	WriteSamples(samples ...influx.Sample) error
}

// Dependencies holds all dependencies for the worker manager
type Dependencies struct {
	Logger *slog.Logger
	Influx SampleWriter

	// TripAfter consecutive failures open a sink's breaker for OpenTimeout.
	TripAfter   uint32
	OpenTimeout time.Duration
}

// sink is one storage backend behind its own circuit breaker.
type sink struct {
	name    string
	backend storage.Backend
	breaker *gobreaker.CircuitBreaker
	skipped atomic.Int64
}

// Manager owns the sinks a battle is recorded into.
type Manager struct {
	deps  Dependencies
	log   *slog.Logger
	sinks []*sink

	mu       sync.Mutex
	battleID string

	handled atomic.Int64
}

// NewManager creates a manager writing to backend and, when non-nil, the
// live stream.
func NewManager(deps Dependencies, backend storage.Backend, stream storage.Backend) *Manager {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	if deps.TripAfter == 0 {
		deps.TripAfter = DefaultTripAfter
	}
	if deps.OpenTimeout == 0 {
		deps.OpenTimeout = DefaultOpenTimeout
	}

	m := &Manager{deps: deps, log: log.With("component", "worker")}
	if backend != nil {
		m.sinks = append(m.sinks, m.newSink("storage", backend))
	}
	if stream != nil {
		m.sinks = append(m.sinks, m.newSink("stream", stream))
	}
	return m
}

func (m *Manager) newSink(name string, b storage.Backend) *sink {
	tripAfter := m.deps.TripAfter
	return &sink{
		name:    name,
		backend: b,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     m.deps.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= tripAfter
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				m.log.Warn("sink breaker changed state", "sink", name, "from", from.String(), "to", to.String())
			},
		}),
	}
}

// Init initializes every sink. A stream that cannot connect is dropped;
// a storage failure is fatal.
func (m *Manager) Init() error {
	kept := m.sinks[:0]
	for _, s := range m.sinks {
		if err := s.backend.Init(); err != nil {
			if s.name == "storage" {
				return fmt.Errorf("init %s: %w", s.name, err)
			}
			m.log.Warn("sink disabled", "sink", s.name, "error", err)
			continue
		}
		kept = append(kept, s)
	}
	m.sinks = kept
	return nil
}

// Close closes every sink.
func (m *Manager) Close() error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.name, err))
		}
	}
	return errors.Join(errs...)
}

// Storage returns the primary backend, or nil.
func (m *Manager) Storage() storage.Backend {
	for _, s := range m.sinks {
		if s.name == "storage" {
			return s.backend
		}
	}
	return nil
}

// Uploadable returns the primary backend when it produces an export file.
func (m *Manager) Uploadable() (storage.Uploadable, bool) {
	u, ok := m.Storage().(storage.Uploadable)
	return u, ok
}

// Stats is a point in time view of the manager.
type Stats struct {
	Handled int64
	Sinks   []SinkStats
}

// SinkStats describes one sink.
type SinkStats struct {
	Name    string
	State   string
	Skipped int64
}

// Stats reports events handled and the state of each breaker.
func (m *Manager) Stats() Stats {
	st := Stats{Handled: m.handled.Load()}
	for _, s := range m.sinks {
		st.Sinks = append(st.Sinks, SinkStats{
			Name:    s.name,
			State:   s.breaker.State().String(),
			Skipped: s.skipped.Load(),
		})
	}
	return st
}

// lifecycle runs fn against every sink regardless of breaker state.
// Battle start and end must reach a sink that is able to take them.
func (m *Manager) lifecycle(op string, fn func(storage.Backend) error) error {
	var errs []error
	for _, s := range m.sinks {
		if err := fn(s.backend); err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", s.name, op, err))
		}
	}
	return errors.Join(errs...)
}

// record runs fn against every sink through its breaker. Calls refused by
// an open breaker are counted and skipped.
func (m *Manager) record(op string, fn func(storage.Backend) error) error {
	var errs []error
	for _, s := range m.sinks {
		_, err := s.breaker.Execute(func() (any, error) {
			return nil, fn(s.backend)
		})
		switch {
		case err == nil:
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			s.skipped.Add(1)
		default:
			errs = append(errs, fmt.Errorf("%s %s: %w", s.name, op, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) writeSamples(samples ...influx.Sample) {
	if m.deps.Influx == nil || len(samples) == 0 {
		return
	}
	if err := m.deps.Influx.WriteSamples(samples...); err != nil {
		m.log.Debug("influx write failed", "error", err)
	}
}

func (m *Manager) setBattleID(id string) {
	m.mu.Lock()
	m.battleID = id
	m.mu.Unlock()
}

func (m *Manager) currentBattleID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.battleID
}
