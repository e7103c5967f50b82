// Package monitor periodically publishes the arena's status to a file and,
// when a database is attached, to the performances table.
package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/OCAP2/arena/internal/model"
	"github.com/OCAP2/arena/internal/session"
	"github.com/OCAP2/arena/internal/worker"
)

// StatusFileName is written in the monitor's directory.
const StatusFileName = "status.json"

// StatsSource reports the recording pipeline's counters.
type StatsSource interface {
	Stats() worker.Stats
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Logger   *slog.Logger
	Session  *session.Context
	Worker   StatsSource
	Pending  func() int
	DB       *gorm.DB
	Dir      string
	Interval time.Duration
}

// Report is the content of the status file.
type Report struct {
	Time          time.Time      `json:"time"`
	Status        session.Status `json:"status"`
	Worker        worker.Stats   `json:"worker"`
	PendingWrites int            `json:"pendingWrites"`
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	log       *slog.Logger
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = time.Second
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Service{deps: deps, log: log.With("component", "monitor")}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetProgramStatus returns the current report and the matching database row.
func (s *Service) GetProgramStatus() (Report, model.Performance) {
	r := Report{Time: time.Now()}
	if s.deps.Session != nil {
		r.Status = s.deps.Session.Status()
	}
	if s.deps.Worker != nil {
		r.Worker = s.deps.Worker.Stats()
	}
	if s.deps.Pending != nil {
		r.PendingWrites = s.deps.Pending()
	}

	var skipped int64
	for _, sk := range r.Worker.Sinks {
		skipped += sk.Skipped
	}

	perf := model.Performance{
		Time:          r.Time,
		BattleKey:     r.Status.BattleID,
		Phase:         string(r.Status.Phase),
		Round:         r.Status.Round,
		Turn:          r.Status.Turn,
		Alive:         r.Status.Alive,
		Handled:       r.Worker.Handled,
		PendingWrites: r.PendingWrites,
		SkippedWrites: skipped,
	}
	return r, perf
}

// WriteOnce publishes one report. Nothing is written before a battle with
// robots is loaded.
func (s *Service) WriteOnce() error {
	report, perf := s.GetProgramStatus()
	if report.Status.Robots == 0 {
		return nil
	}

	if s.deps.Dir != "" {
		if err := writeStatusFile(filepath.Join(s.deps.Dir, StatusFileName), report); err != nil {
			return err
		}
	}

	if s.deps.DB != nil {
		if err := s.deps.DB.Create(&perf).Error; err != nil {
			return fmt.Errorf("writing performance row: %w", err)
		}
	}
	return nil
}

// writeStatusFile replaces path atomically so readers never see a partial
// report.
func writeStatusFile(path string, report Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create status dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write status: %w", err)
	}
	return os.Rename(tmp, path)
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()

		s.log.Debug("Starting status monitor", "interval", s.deps.Interval)

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				if err := s.WriteOnce(); err != nil {
					s.log.Error("Error writing final status", "error", err)
				}
				return
			case <-ticker.C:
				if err := s.WriteOnce(); err != nil {
					s.log.Error("Error writing status", "error", err)
				}
			}
		}
	}()

	return nil
}

// Stop stops the status monitor and waits for its final report.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning || s.stopChan == nil {
		s.mu.Unlock()
		return
	}
	close(s.stopChan)
	s.stopChan = nil
	done := s.done
	s.mu.Unlock()
	<-done
}
