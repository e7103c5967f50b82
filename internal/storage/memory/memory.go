// Package memory keeps a battle in memory and exports it as JSON when the
// battle ends.
package memory

import (
	"sync"

	"github.com/OCAP2/arena/internal/config"
	v1 "github.com/OCAP2/arena/internal/storage/memory/export/v1"
	"github.com/OCAP2/arena/pkg/core"
)

type bulletKey struct {
	round, id int32
}

// Backend stores battle data in memory and exports to JSON
type Backend struct {
	cfg    config.MemoryConfig
	battle *core.Battle

	robots  map[int]*v1.RobotRecord // keyed by robot index
	bullets []*v1.BulletRecord
	flying  map[bulletKey]*v1.BulletRecord

	turns       int
	events      []core.TurnEvent
	eventTimes  []v1.Stamp
	deaths      []core.DeathRecord
	diagnostics []core.Diagnostic
	rounds      []core.RoundResult
	results     *core.BattleResults

	lastExportPath string
	lastExportMeta core.UploadMetadata
	mu             sync.RWMutex
}

// New creates a new memory backend
func New(cfg config.MemoryConfig) *Backend {
	return &Backend{
		cfg:    cfg,
		robots: make(map[int]*v1.RobotRecord),
		flying: make(map[bulletKey]*v1.BulletRecord),
	}
}

// Init initializes the backend
func (b *Backend) Init() error {
	return nil
}

// Close cleans up resources
func (b *Backend) Close() error {
	return nil
}

// StartBattle begins recording a new battle
func (b *Backend) StartBattle(battle *core.Battle) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.battle = battle

	// Reset all collections
	b.robots = make(map[int]*v1.RobotRecord, len(battle.Robots))
	for _, s := range battle.Robots {
		b.robots[s.Index] = &v1.RobotRecord{Statics: s}
	}
	b.bullets = nil
	b.flying = make(map[bulletKey]*v1.BulletRecord)
	b.turns = 0
	b.events = nil
	b.eventTimes = nil
	b.deaths = nil
	b.diagnostics = nil
	b.rounds = nil
	b.results = nil

	return nil
}

// StartRound records the placement snapshot
func (b *Backend) StartRound(s *core.TurnSnapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.recordSnapshot(s)
	return nil
}

// RecordTurn records robot states, bullet positions and the turn's events
func (b *Backend) RecordTurn(t *core.TurnRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.turns++
	b.recordSnapshot(t.Snapshot)

	at := v1.Stamp{Round: t.Snapshot.Round, Turn: t.Snapshot.Turn}
	for _, e := range t.Events {
		// scans dominate the event stream and carry nothing for playback
		if e.Event.Kind == core.EventScannedRobot {
			continue
		}
		b.events = append(b.events, e)
		b.eventTimes = append(b.eventTimes, at)
	}
	return nil
}

// recordSnapshot appends live robots and bullets. Caller holds the lock.
func (b *Backend) recordSnapshot(s *core.TurnSnapshot) {
	at := v1.Stamp{Round: s.Round, Turn: s.Turn}
	for _, r := range s.Robots {
		if !r.State.Alive() {
			continue
		}
		record, ok := b.robots[int(r.Index)]
		if !ok {
			record = &v1.RobotRecord{Statics: core.RobotStatics{Index: int(r.Index), Name: r.Name, TeamName: r.TeamName}}
			b.robots[int(r.Index)] = record
		}
		record.States = append(record.States, v1.RobotState{Stamp: at, RobotSnapshot: r})
	}

	for _, bs := range s.Bullets {
		key := bulletKey{s.Round, bs.BulletID}
		rec, ok := b.flying[key]
		if !ok {
			rec = &v1.BulletRecord{
				Round:       s.Round,
				BulletID:    bs.BulletID,
				OwnerIndex:  bs.OwnerIndex,
				VictimIndex: -1,
				Power:       bs.Power,
				FiredTurn:   s.Turn,
			}
			b.flying[key] = rec
			b.bullets = append(b.bullets, rec)
		}
		rec.Path = append(rec.Path, [2]float64{bs.X, bs.Y})
		rec.EndTurn = s.Turn
		rec.EndState = bs.State
		if !bs.State.Active() {
			rec.VictimIndex = bs.VictimIndex
			delete(b.flying, key)
		}
	}
}

// RecordDeath records a robot leaving the round
func (b *Backend) RecordDeath(d *core.DeathRecord) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.deaths = append(b.deaths, *d)
	return nil
}

// RecordBadBehavior records a diagnostic
func (b *Backend) RecordBadBehavior(d *core.Diagnostic) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.diagnostics = append(b.diagnostics, *d)
	return nil
}

// EndRound records the round outcome and closes bullets still in flight
func (b *Backend) EndRound(r *core.RoundResult) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, rec := range b.flying {
		if int(key.round) == r.Round {
			rec.EndState = core.BulletInactive
			delete(b.flying, key)
		}
	}
	b.rounds = append(b.rounds, *r)
	return nil
}

// EndBattle finalizes and exports the battle data
func (b *Backend) EndBattle(r *core.BattleResults) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.battle == nil {
		return nil
	}
	b.results = r
	return b.exportJSON()
}

// Turns returns how many turns have been recorded
func (b *Backend) Turns() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.turns
}

// GetRobot returns a copy of a robot's record
func (b *Backend) GetRobot(index int) (v1.RobotRecord, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rec, ok := b.robots[index]
	if !ok {
		return v1.RobotRecord{}, false
	}
	return *rec, true
}

// data snapshots the collections for the export builder. Caller holds the lock.
func (b *Backend) data() *v1.BattleData {
	return &v1.BattleData{
		Battle:      b.battle,
		Robots:      b.robots,
		Bullets:     b.bullets,
		Turns:       b.turns,
		Events:      b.events,
		EventTimes:  b.eventTimes,
		Deaths:      b.deaths,
		Diagnostics: b.diagnostics,
		Rounds:      b.rounds,
		Results:     b.results,
	}
}
