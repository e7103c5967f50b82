package session

import (
	"sync"

	"github.com/OCAP2/arena/pkg/core"
)

// Phase is where the battle loop currently is.
type Phase string

const (
	PhaseInitializing  Phase = "INITIALIZING"
	PhaseRoundStarting Phase = "ROUND_STARTING"
	PhaseCollecting    Phase = "TURN_COLLECTING"
	PhaseResolving     Phase = "TURN_RESOLVING"
	PhaseRoundEnded    Phase = "ROUND_ENDED"
	PhaseBattleEnded   Phase = "BATTLE_ENDED"
)

// Status is a point-in-time copy of the session.
type Status struct {
	BattleID string
	Phase    Phase
	Round    int32
	Turn     int32
	Alive    int
	Robots   int
}

// Context holds the current battle and where the scheduler is in it. The
// scheduler writes, loggers and the monitor read.
type Context struct {
	mu     sync.RWMutex
	Battle *core.Battle
	phase  Phase
	round  int32
	turn   int32
	alive  int
}

// NewContext creates a new Context with default values
func NewContext() *Context {
	return &Context{
		Battle: &core.Battle{ID: "no battle loaded"},
		phase:  PhaseInitializing,
	}
}

// GetBattle returns the current battle
func (c *Context) GetBattle() *core.Battle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Battle
}

// SetBattle sets the current battle and resets the position
func (c *Context) SetBattle(b *core.Battle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Battle = b
	c.phase = PhaseInitializing
	c.round, c.turn = 0, 0
	c.alive = len(b.Robots)
}

// SetPhase records a state transition.
func (c *Context) SetPhase(p Phase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.phase = p
}

// SetPosition records the current round, turn and live robot count.
func (c *Context) SetPosition(round, turn int32, alive int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.round, c.turn, c.alive = round, turn, alive
}

// Status returns a copy of the current position.
func (c *Context) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Status{
		BattleID: c.Battle.ID,
		Phase:    c.phase,
		Round:    c.round,
		Turn:     c.turn,
		Alive:    c.alive,
		Robots:   len(c.Battle.Robots),
	}
}
