// Package gormstorage implements the storage.Backend interface on GORM with
// internal queues and a background DB writer goroutine. The sqlite and
// postgres backends embed it and only differ in how the DB is opened.
package gormstorage

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"gorm.io/gorm"

	"github.com/OCAP2/arena/internal/database"
	"github.com/OCAP2/arena/internal/model"
	"github.com/OCAP2/arena/internal/model/convert"
	"github.com/OCAP2/arena/internal/queue"
	"github.com/OCAP2/arena/pkg/core"
)

// DefaultFlushInterval is how often the writer drains the queues.
const DefaultFlushInterval = 2 * time.Second

// Dependencies holds all dependencies for the GORM storage backend.
type Dependencies struct {
	DB            *gorm.DB
	Logger        *slog.Logger
	FlushInterval time.Duration
}

// queues holds all the write queues for batch DB insertion.
type queues struct {
	RobotStates  *queue.Queue[model.RobotState]
	BulletTracks *queue.Queue[model.BulletTrack]
	Deaths       *queue.Queue[model.Death]
	Diagnostics  *queue.Queue[model.Diagnostic]
	Rounds       *queue.Queue[model.Round]
}

func newQueues() *queues {
	return &queues{
		RobotStates:  queue.New[model.RobotState](0),
		BulletTracks: queue.New[model.BulletTrack](0),
		Deaths:       queue.New[model.Death](0),
		Diagnostics:  queue.New[model.Diagnostic](0),
		Rounds:       queue.New[model.Round](0),
	}
}

// Backend implements storage.Backend using GORM with queue-based batch writes.
type Backend struct {
	deps     Dependencies
	log      *slog.Logger
	queues   *queues
	battleID atomic.Uint64

	tracksMu sync.Mutex
	tracks   *convert.TrackBuilder

	writeMu  sync.Mutex
	stopChan chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// New creates a new GORM storage backend.
func New(deps Dependencies) *Backend {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.FlushInterval <= 0 {
		deps.FlushInterval = DefaultFlushInterval
	}
	return &Backend{
		deps: deps,
		log:  deps.Logger.With("component", "storage.gorm"),
	}
}

// SetDB injects the connection after construction (used by wrappers that
// open their own DB in Init).
func (b *Backend) SetDB(db *gorm.DB) {
	b.deps.DB = db
}

// DB returns the underlying connection, or nil in queue-only mode.
func (b *Backend) DB() *gorm.DB {
	return b.deps.DB
}

// Init creates internal queues, runs schema migration, and starts the DB
// writer goroutine. With no DB the backend only queues.
func (b *Backend) Init() error {
	b.queues = newQueues()
	b.tracks = convert.NewTrackBuilder()
	b.stopChan = make(chan struct{})
	b.stopped = make(chan struct{})

	if b.deps.DB != nil {
		if err := database.Setup(b.deps.DB, b.log); err != nil {
			return fmt.Errorf("failed to setup DB: %w", err)
		}
	}

	go b.writerLoop()
	return nil
}

// Close stops the writer and drains what is left in the queues.
func (b *Backend) Close() error {
	if b.stopChan == nil {
		return nil
	}
	b.stopOnce.Do(func() {
		close(b.stopChan)
		<-b.stopped
	})
	return b.Flush()
}

// StartBattle inserts the battle and its robots synchronously so later rows
// can reference the battle's database ID.
func (b *Backend) StartBattle(battle *core.Battle) error {
	b.tracksMu.Lock()
	b.tracks = convert.NewTrackBuilder()
	b.tracksMu.Unlock()

	if b.deps.DB == nil {
		return nil
	}

	row := convert.CoreToBattle(*battle)
	if err := b.deps.DB.Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert battle %s: %w", battle.ID, err)
	}

	if len(battle.Robots) > 0 {
		robots := make([]model.Robot, 0, len(battle.Robots))
		for _, s := range battle.Robots {
			r := convert.CoreToRobot(s)
			r.BattleID = row.ID
			robots = append(robots, r)
		}
		if err := b.deps.DB.Create(&robots).Error; err != nil {
			return fmt.Errorf("failed to insert robots: %w", err)
		}
	}

	// Store battle ID for the DB writer goroutine
	b.battleID.Store(uint64(row.ID))
	b.log.Debug("Battle row created", "battle", battle.ID, "id", row.ID)
	return nil
}

// SetBattleID sets the current battle ID for the DB writer.
func (b *Backend) SetBattleID(id uint) {
	b.battleID.Store(uint64(id))
}

// StartRound queues the placement states.
func (b *Backend) StartRound(s *core.TurnSnapshot) error {
	states, err := convert.CoreToRobotStates(s)
	if err != nil {
		return err
	}
	b.queues.RobotStates.Push(states...)
	return nil
}

// RecordTurn queues robot states and any bullet tracks that ended this turn.
func (b *Backend) RecordTurn(t *core.TurnRecord) error {
	states, err := convert.CoreToRobotStates(t.Snapshot)
	if err != nil {
		return err
	}
	b.queues.RobotStates.Push(states...)

	b.tracksMu.Lock()
	done, err := b.tracks.Observe(t.Snapshot)
	b.tracksMu.Unlock()
	b.queues.BulletTracks.Push(done...)
	return err
}

// RecordDeath converts and queues a death.
func (b *Backend) RecordDeath(d *core.DeathRecord) error {
	row, err := convert.CoreToDeath(*d)
	if err != nil {
		return err
	}
	row.Time = time.Now()
	b.queues.Deaths.Push(row)
	return nil
}

// RecordBadBehavior converts and queues a diagnostic.
func (b *Backend) RecordBadBehavior(d *core.Diagnostic) error {
	b.queues.Diagnostics.Push(convert.CoreToDiagnostic(*d))
	return nil
}

// EndRound closes the round's bullet tracks and queues the round outcome.
func (b *Backend) EndRound(r *core.RoundResult) error {
	b.tracksMu.Lock()
	done, err := b.tracks.Flush(int32(r.Round), int32(r.Turns))
	b.tracksMu.Unlock()
	b.queues.BulletTracks.Push(done...)
	b.queues.Rounds.Push(convert.CoreToRound(*r))
	return err
}

// EndBattle drains the queues, then stamps the end time and writes the
// final scores.
func (b *Backend) EndBattle(r *core.BattleResults) error {
	if b.deps.DB == nil {
		return nil
	}
	if err := b.Flush(); err != nil {
		return err
	}

	id := uint(b.battleID.Load())
	end := r.EndTime
	if err := b.deps.DB.Model(&model.Battle{}).Where("id = ?", id).Updates(map[string]any{
		"end_time": &end,
		"aborted":  r.Aborted,
	}).Error; err != nil {
		return fmt.Errorf("failed to update battle: %w", err)
	}

	if len(r.Scores) == 0 {
		return nil
	}
	scores := make([]model.Score, 0, len(r.Scores))
	for _, s := range r.Scores {
		row := convert.CoreToScore(s)
		row.BattleID = id
		scores = append(scores, row)
	}
	if err := b.deps.DB.Create(&scores).Error; err != nil {
		return fmt.Errorf("failed to insert scores: %w", err)
	}
	return nil
}

// Pending returns the number of queued rows.
func (b *Backend) Pending() int {
	q := b.queues
	return q.RobotStates.Len() + q.BulletTracks.Len() + q.Deaths.Len() + q.Diagnostics.Len() + q.Rounds.Len()
}

// writeQueue writes all items from a queue to the database in a transaction.
// Items go back on the queue when the write fails.
func writeQueue[T any](db *gorm.DB, q *queue.Queue[T], name string, log *slog.Logger, prepare func([]T)) error {
	if q.Len() == 0 {
		return nil
	}

	items := q.Drain(0)
	if prepare != nil {
		prepare(items)
	}

	tx := db.Begin()
	if err := tx.Create(&items).Error; err != nil {
		log.Error("Error creating rows", "table", name, "count", len(items), "error", err)
		tx.Rollback()
		q.Push(items...)
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return tx.Commit().Error
}

// Flush drains every queue into the database once.
func (b *Backend) Flush() error {
	if b.deps.DB == nil || b.queues == nil {
		return nil
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	db := b.deps.DB
	battleID := uint(b.battleID.Load())
	q := b.queues

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	keep(writeQueue(db, q.RobotStates, "robot_states", b.log, func(items []model.RobotState) {
		for i := range items {
			items[i].BattleID = battleID
		}
	}))
	keep(writeQueue(db, q.BulletTracks, "bullet_tracks", b.log, func(items []model.BulletTrack) {
		for i := range items {
			items[i].BattleID = battleID
		}
	}))
	keep(writeQueue(db, q.Deaths, "deaths", b.log, func(items []model.Death) {
		for i := range items {
			items[i].BattleID = battleID
		}
	}))
	keep(writeQueue(db, q.Diagnostics, "diagnostics", b.log, func(items []model.Diagnostic) {
		for i := range items {
			items[i].BattleID = battleID
		}
	}))
	keep(writeQueue(db, q.Rounds, "rounds", b.log, func(items []model.Round) {
		for i := range items {
			items[i].BattleID = battleID
		}
	}))
	return firstErr
}

// writerLoop periodically drains queues into the DB.
func (b *Backend) writerLoop() {
	defer close(b.stopped)

	ticker := time.NewTicker(b.deps.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			if err := b.Flush(); err != nil {
				b.log.Warn("DB writer cycle failed", "error", err)
			}
		}
	}
}
