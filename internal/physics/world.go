// Package physics resolves one turn of the arena. Everything here runs on
// the scheduler goroutine; a World is a pure function of its rules, the
// round seed and the intents applied to it.
package physics

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/OCAP2/arena/internal/protocol"
	"github.com/OCAP2/arena/pkg/core"
)

// Robot is the scheduler-owned state of one robot.
type Robot struct {
	statics core.RobotStatics
	state   core.UnitState
	cause   core.DeathCause

	energy       float64
	x, y         float64
	bodyHeading  float64
	gunHeading   float64
	radarHeading float64
	velocity     float64
	gunHeat      float64

	distanceRemaining  float64
	bodyTurnRemaining  float64
	gunTurnRemaining   float64
	radarTurnRemaining float64

	adjustGunForBody   bool
	adjustRadarForGun  bool
	adjustRadarForBody bool
	maxVelocity        float64
	maxTurnRate        float64
	scan               bool

	radarSweepStart float64
	radarSweep      float64

	applied      bool
	skippedTurns int32

	score      core.RobotScore
	bulletDmg  []float64
	ramDmg     []float64
	events     []core.RobotEvent
	messages   []core.TeamMessage
	inbox      []core.TeamMessage
	bulletInfo []core.BulletStatus
}

// Bullet is one bullet in flight or on its way out.
type Bullet struct {
	id      int32
	localID int32
	owner   int
	victim  int
	state   core.BulletState
	x, y    float64
	prevX   float64
	prevY   float64
	heading float64
	power   float64
	frame   int32
}

// Death is a robot leaving the round during a step.
type Death struct {
	Index  int
	Cause  core.DeathCause
	Killer int
	X, Y   float64
	Energy float64
}

// StepResult is what one resolved turn produced.
type StepResult struct {
	Events []core.TurnEvent
	Deaths []Death
}

// World is the mutable arena for one battle.
type World struct {
	rules  core.BattleRules
	robots []*Robot

	bullets      []*Bullet
	nextBulletID int32

	round int32
	turn  int32

	inactiveTurns int
	energyLost    float64

	eliminated []int
	pending    []Death
	finished   bool
}

// NewWorld builds a world for robots; call ResetRound before the first step.
func NewWorld(rules core.BattleRules, statics []core.RobotStatics) *World {
	w := &World{rules: rules}
	for _, s := range statics {
		w.robots = append(w.robots, &Robot{statics: s})
	}
	return w
}

// Rules returns the battle rules.
func (w *World) Rules() core.BattleRules { return w.rules }

// Round returns the current round.
func (w *World) Round() int32 { return w.round }

// Turn returns the last resolved turn.
func (w *World) Turn() int32 { return w.turn }

// NumRobots returns the number of robots in the battle.
func (w *World) NumRobots() int { return len(w.robots) }

// ResetRound places every robot and clears all per-round state. Robots in
// excluded are dead from the start with the given cause.
func (w *World) ResetRound(round int32, excluded map[int]core.DeathCause) error {
	w.round = round
	w.turn = 0
	w.bullets = nil
	w.nextBulletID = 1
	w.inactiveTurns = 0
	w.energyLost = 0
	w.eliminated = nil
	w.pending = nil
	w.finished = false

	positions, err := w.placements(round)
	if err != nil {
		return err
	}

	n := len(w.robots)
	for i, r := range w.robots {
		*r = Robot{
			statics:      r.statics,
			state:        core.UnitActive,
			energy:       StartEnergy,
			x:            positions[i].x,
			y:            positions[i].y,
			bodyHeading:  positions[i].heading,
			gunHeading:   positions[i].heading,
			radarHeading: positions[i].heading,
			gunHeat:      InitialGunHeat,
			score: core.RobotScore{
				Index:    i,
				Name:     r.statics.Name,
				TeamName: r.statics.TeamName,
			},
			bulletDmg: make([]float64, n),
			ramDmg:    make([]float64, n),
		}
		if r.statics.IsSentry {
			r.energy += SentryBonusEnergy
		}
		if cause, ok := excluded[i]; ok {
			r.state = core.UnitDead
			r.cause = cause
			r.energy = 0
			w.eliminated = append(w.eliminated, i)
		}
	}
	return nil
}

// Alive reports whether robot index is still in the round.
func (w *World) Alive(index int) bool {
	return w.robots[index].state.Alive()
}

// Apply records robot index's intent for the coming step. An intent is
// taken at most once per step and never for a dead robot.
func (w *World) Apply(index int, cmd *core.IntentCommand) error {
	r := w.robots[index]
	if !r.state.Alive() {
		return fmt.Errorf("robot %d is dead", index)
	}
	if r.applied {
		return fmt.Errorf("robot %d already has an intent for turn %d", index, w.turn+1)
	}
	r.applied = true

	r.distanceRemaining = cmd.DistanceRemaining
	r.bodyTurnRemaining = cmd.BodyTurnRemaining
	r.gunTurnRemaining = cmd.GunTurnRemaining
	r.radarTurnRemaining = cmd.RadarTurnRemaining
	r.adjustGunForBody = cmd.AdjustGunForBodyTurn
	r.adjustRadarForGun = cmd.AdjustRadarForGunTurn
	r.adjustRadarForBody = cmd.AdjustRadarForBodyTurn
	r.maxVelocity = cmd.MaxVelocity
	r.maxTurnRate = cmd.MaxTurnRate
	r.scan = cmd.Scan

	w.routeMessages(index, cmd.TeamMessages)

	for _, b := range cmd.Bullets {
		if w.fire(index, b) {
			break
		}
	}
	return nil
}

// Applied reports whether index already has an intent for the coming step.
func (w *World) Applied(index int) bool {
	return w.robots[index].applied
}

func (w *World) routeMessages(sender int, msgs []core.TeamMessage) {
	from := w.robots[sender].statics
	if !from.InTeam() {
		return
	}
	for _, m := range msgs {
		for i, r := range w.robots {
			if i == sender || !r.state.Alive() || r.statics.TeamIndex != from.TeamIndex {
				continue
			}
			if m.Recipient != nil && *m.Recipient != r.statics.Name {
				continue
			}
			r.messages = append(r.messages, m)
		}
	}
}

// fire creates a bullet when the gun is cool. It reports whether a bullet
// left the gun.
func (w *World) fire(index int, cmd core.BulletCommand) bool {
	r := w.robots[index]
	if r.gunHeat > 0 || r.energy <= 0 {
		return false
	}
	power := math.Max(MinBulletPower, math.Min(MaxBulletPower, cmd.Power))
	power = math.Min(power, r.energy)

	r.energy -= power
	r.gunHeat = GunHeat(power)

	heading := r.gunHeading
	if cmd.FireAssistValid {
		heading = normalizeAbsolute(cmd.FireAssistAngle)
	}

	w.bullets = append(w.bullets, &Bullet{
		id:      w.nextBulletID,
		localID: cmd.BulletID,
		owner:   index,
		victim:  -1,
		state:   core.BulletFired,
		x:       r.x,
		y:       r.y,
		prevX:   r.x,
		prevY:   r.y,
		heading: heading,
		power:   power,
	})
	w.nextBulletID++
	return true
}

// Kill removes index from the round before the next step, as ordered by
// the scheduler. It has no killer.
func (w *World) Kill(index int, cause core.DeathCause) {
	r := w.robots[index]
	if !r.state.Alive() {
		return
	}
	r.state = core.UnitDead
	r.cause = cause
	w.pending = append(w.pending, Death{Index: index, Cause: cause, Killer: -1, X: r.x, Y: r.y, Energy: r.energy})
}

// SetSkippedTurns records the scheduler's strike count for the snapshot.
func (w *World) SetSkippedTurns(index int, n int) {
	w.robots[index].skippedTurns = int32(n)
}

// AddEvent queues an event for robot index's next result.
func (w *World) AddEvent(index int, ev core.RobotEvent) {
	r := w.robots[index]
	r.events = append(r.events, ev)
}

// Result builds the IntentResult robot index would receive now.
func (w *World) Result(index int) core.IntentResult {
	r := w.robots[index]
	return core.IntentResult{
		Status:        w.status(index),
		Events:        r.events,
		TeamMessages:  r.inbox,
		BulletUpdates: r.bulletInfo,
		Halt:          !r.state.Alive(),
	}
}

// TakeResults returns every robot's result for the coming turn and clears
// the delivered events, messages and bullet updates.
func (w *World) TakeResults() []core.IntentResult {
	out := make([]core.IntentResult, len(w.robots))
	for i, r := range w.robots {
		out[i] = w.Result(i)
		r.events = nil
		r.inbox = nil
		r.bulletInfo = nil
	}
	return out
}

func (w *World) status(index int) core.RobotStatus {
	r := w.robots[index]
	others := 0
	for i, o := range w.robots {
		if i != index && o.state.Alive() && !o.statics.IsSentry {
			others++
		}
	}
	return core.RobotStatus{
		Energy:             r.energy,
		X:                  r.x,
		Y:                  r.y,
		BodyHeading:        r.bodyHeading,
		GunHeading:         r.gunHeading,
		RadarHeading:       r.radarHeading,
		Velocity:           r.velocity,
		BodyTurnRemaining:  r.bodyTurnRemaining,
		RadarTurnRemaining: r.radarTurnRemaining,
		GunTurnRemaining:   r.gunTurnRemaining,
		DistanceRemaining:  r.distanceRemaining,
		GunHeat:            r.gunHeat,
		Others:             int32(others),
		Round:              w.round,
		NumRounds:          int32(w.rules.NumRounds),
		Time:               int64(w.turn),
	}
}

// Snapshot returns an immutable copy of the world.
func (w *World) Snapshot() *core.TurnSnapshot {
	snap := &core.TurnSnapshot{
		Round:  w.round,
		Turn:   w.turn,
		Robots: make([]core.RobotSnapshot, len(w.robots)),
	}
	for i, r := range w.robots {
		snap.Robots[i] = core.RobotSnapshot{
			Index:        int32(i),
			Name:         r.statics.Name,
			TeamName:     r.statics.TeamName,
			State:        r.state,
			Cause:        r.cause,
			Energy:       r.energy,
			X:            r.x,
			Y:            r.y,
			BodyHeading:  r.bodyHeading,
			GunHeading:   r.gunHeading,
			RadarHeading: r.radarHeading,
			Velocity:     r.velocity,
			GunHeat:      r.gunHeat,
			Score:        r.score.Total,
			SkippedTurns: r.skippedTurns,
			IsSentry:     r.statics.IsSentry,
		}
	}
	if len(w.bullets) > 0 {
		snap.Bullets = make([]core.BulletSnapshot, len(w.bullets))
		for i, b := range w.bullets {
			snap.Bullets[i] = core.BulletSnapshot{
				BulletID:    b.id,
				OwnerIndex:  int32(b.owner),
				VictimIndex: int32(b.victim),
				State:       b.state,
				X:           b.x,
				Y:           b.y,
				Heading:     b.heading,
				Power:       b.power,
				Frame:       b.frame,
			}
		}
	}
	return snap
}

// Digest is the hex sha256 of the encoded snapshot.
func Digest(reg *protocol.Registry, snap *core.TurnSnapshot) (string, error) {
	frame, err := reg.Marshal(protocol.TagTurnSnapshot, snap)
	if err != nil {
		return "", fmt.Errorf("encoding snapshot: %w", err)
	}
	sum := sha256.Sum256(frame)
	return hex.EncodeToString(sum[:]), nil
}

// RoundOver reports whether at most one contestant is left or the turn cap
// has been reached. Sentries are not contestants.
func (w *World) RoundOver() bool {
	if w.finished {
		return true
	}
	return w.aliveContestants() <= 1 || int(w.turn) >= w.rules.MaxTurns
}

func (w *World) aliveContestants() int {
	seen := make([]bool, len(w.robots))
	n := 0
	for _, r := range w.robots {
		if !r.state.Alive() || r.statics.IsSentry {
			continue
		}
		t := r.statics.TeamIndex
		if t < 0 || t >= len(seen) {
			n++
			continue
		}
		if !seen[t] {
			seen[t] = true
			n++
		}
	}
	return n
}
