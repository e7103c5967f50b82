// Package unit hosts one robot's logic on its own goroutine. The scheduler
// only ever talks to a Unit through encoded frames: BeginTurn hands in a
// snapshot frame and a result frame, PollIntent takes out the robot's intent
// frame. Each unit decodes its own copy, so robots share no memory.
// Robot code never runs on the caller's goroutine.
package unit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/OCAP2/arena/internal/channel"
	"github.com/OCAP2/arena/internal/policy"
	"github.com/OCAP2/arena/internal/protocol"
	"github.com/OCAP2/arena/pkg/core"
)

// ErrTerminated is returned to robot code once its unit is shutting down.
var ErrTerminated = errors.New("unit terminated")

// DefaultGrace is how long Terminate waits for the robot goroutine.
const DefaultGrace = 100 * time.Millisecond

// Robot is the entry point of robot logic. Run is called once per round on
// the unit's goroutine and should call Peer.Execute once per turn.
type Robot interface {
	Run(ctx context.Context, p *Peer) error
}

// RobotFunc adapts a function to Robot.
type RobotFunc func(ctx context.Context, p *Peer) error

func (f RobotFunc) Run(ctx context.Context, p *Peer) error { return f(ctx, p) }

// ClassRequirer is implemented by robots that need more than basic
// capabilities. Start refuses a robot whose declared class is lower.
type ClassRequirer interface {
	RequiredClass() core.CapabilityClass
}

// Options configures a Unit.
type Options struct {
	// Storage is the robot's private directory; nil disables storage.
	Storage *policy.Storage
	Logger  *slog.Logger
	// Notify receives the robot index whenever an intent frame is ready or
	// the unit dies. Sends never block.
	Notify chan<- int
	Grace  time.Duration
}

type turnInput struct {
	turn     int32
	snapshot []byte
	frame    []byte
}

type intentFrame struct {
	turn  int32
	frame []byte
}

// Unit is the isolated host for one robot.
type Unit struct {
	statics core.RobotStatics
	robot   Robot
	reg     *protocol.Registry
	opts    Options
	log     *slog.Logger

	inbox  *channel.Mailbox[turnInput]
	outbox *channel.Mailbox[intentFrame]

	mu       sync.Mutex
	state    core.UnitState
	cause    core.DeathCause
	fault    error
	strikes  int
	accepted bool
	turn     int32
	started  bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a unit in state CREATED.
func New(statics core.RobotStatics, robot Robot, reg *protocol.Registry, opts Options) *Unit {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	return &Unit{
		statics: statics,
		robot:   robot,
		reg:     reg,
		opts:    opts,
		log:     opts.Logger.With("robot", statics.Name, "index", statics.Index),
		inbox:   channel.NewMailbox[turnInput](),
		outbox:  channel.NewMailbox[intentFrame](),
		state:   core.UnitCreated,
		done:    make(chan struct{}),
	}
}

// Statics returns the robot's immutable description.
func (u *Unit) Statics() core.RobotStatics {
	return u.statics
}

// Start checks the robot's class and launches its goroutine. A robot that
// needs more than it declared never runs and is DEAD with CANNOT_START.
func (u *Unit) Start(ctx context.Context) error {
	u.mu.Lock()
	if u.started {
		u.mu.Unlock()
		return fmt.Errorf("unit %s already started", u.statics.Name)
	}
	u.started = true
	u.ctx, u.cancel = context.WithCancel(ctx)
	u.mu.Unlock()

	if req, ok := u.robot.(ClassRequirer); ok && !u.statics.Class.Includes(req.RequiredClass()) {
		err := fmt.Errorf("%w: robot requires %s class, declared %s",
			core.ErrFatalRuntimeFault, req.RequiredClass(), u.statics.Class)
		u.die(core.CauseCannotStart, err)
		close(u.done)
		return err
	}

	u.mu.Lock()
	if u.state == core.UnitCreated {
		u.state = core.UnitActive
	}
	u.mu.Unlock()

	go u.run()
	return nil
}

func (u *Unit) run() {
	defer close(u.done)
	defer func() {
		if r := recover(); r != nil {
			u.log.Debug("robot panicked", "panic", r, "stack", string(debug.Stack()))
			u.die(u.faultCause(), fmt.Errorf("%w: panic: %v", core.ErrFatalRuntimeFault, r))
		}
	}()

	p := newPeer(u)
	if err := p.await(u.ctx); err != nil {
		return
	}

	err := u.robot.Run(u.ctx, p)
	switch {
	case err == nil:
		// Finished robots keep answering so they are not punished for it.
		for p.Execute(u.ctx) == nil {
		}
	case errors.Is(err, ErrTerminated), errors.Is(err, context.Canceled):
		// stopped from outside
	case errors.Is(err, core.ErrSecurityViolation):
		u.die(core.CauseSecurityViolation, err)
	default:
		u.die(u.faultCause(), fmt.Errorf("%w: %w", core.ErrFatalRuntimeFault, err))
	}
}

func (u *Unit) faultCause() core.DeathCause {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.accepted {
		return core.CauseFatalFault
	}
	return core.CauseCannotStart
}

// BeginTurn delivers the encoded TurnSnapshot and IntentResult for turn. The
// frames are only read, so one snapshot frame may be shared by every unit.
// It never blocks: an undelivered older input is replaced.
func (u *Unit) BeginTurn(turn int32, snapshotFrame, resultFrame []byte) {
	u.mu.Lock()
	if !u.state.Alive() {
		u.mu.Unlock()
		return
	}
	u.turn = turn
	u.mu.Unlock()

	u.inbox.Put(turnInput{turn: turn, snapshot: snapshotFrame, frame: resultFrame})
}

// PollIntent returns the robot's intent frame for the current turn, if it
// has produced one. A frame is handed out at most once; frames left over from
// earlier turns are discarded.
func (u *Unit) PollIntent() ([]byte, bool) {
	f, ok := u.outbox.TryTake()
	if !ok {
		return nil, false
	}

	u.mu.Lock()
	current, alive := u.turn, u.state.Alive()
	u.mu.Unlock()

	if !alive || f.turn != current {
		return nil, false
	}
	return f.frame, true
}

// RecordIntent marks the current turn as answered and clears the strikes.
func (u *Unit) RecordIntent() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.strikes = 0
	u.accepted = true
	if u.state == core.UnitSkippedTurn {
		u.state = core.UnitActive
	}
}

// RecordSkip counts a missed deadline and returns the consecutive total.
func (u *Unit) RecordSkip() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.state.Alive() {
		return u.strikes
	}
	u.strikes++
	u.state = core.UnitSkippedTurn
	return u.strikes
}

// Strikes returns the consecutive missed deadlines.
func (u *Unit) Strikes() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.strikes
}

// State returns the lifecycle state.
func (u *Unit) State() core.UnitState {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// Cause returns why the unit is DEAD, or CauseNone.
func (u *Unit) Cause() core.DeathCause {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.cause
}

// Fault returns the error that killed the unit, if it died by its own hand.
func (u *Unit) Fault() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.fault
}

// Done is closed when the robot goroutine has returned.
func (u *Unit) Done() <-chan struct{} {
	return u.done
}

// Kill marks the unit dead and cancels its robot without waiting for the
// robot to return. A later Terminate keeps the first cause.
func (u *Unit) Kill(cause core.DeathCause) {
	u.die(cause, nil)
}

// Terminate marks the unit DEAD with cause (unless it is already dead),
// cancels its context and waits up to the grace period for the goroutine.
// A goroutine that ignores cancellation is abandoned; it can no longer reach
// the scheduler.
func (u *Unit) Terminate(cause core.DeathCause) bool {
	u.die(cause, nil)

	u.mu.Lock()
	started := u.started
	u.mu.Unlock()
	if !started {
		return true
	}

	select {
	case <-u.done:
		return true
	case <-time.After(u.opts.Grace):
		u.log.Warn("robot did not stop within grace period", "grace", u.opts.Grace)
		return false
	}
}

func (u *Unit) die(cause core.DeathCause, err error) {
	u.mu.Lock()
	if u.state == core.UnitDead {
		u.mu.Unlock()
		return
	}
	u.state = core.UnitDead
	u.cause = cause
	u.fault = err
	cancel := u.cancel
	u.mu.Unlock()

	if err != nil {
		u.log.Warn("robot unit died", "cause", cause, "error", err)
	}
	if cancel != nil {
		cancel()
	}
	u.inbox.Clear()
	u.outbox.Clear()
	u.notify()
}

func (u *Unit) submit(turn int32, cmd *core.IntentCommand) error {
	frame, err := u.reg.Marshal(protocol.TagIntentCommand, cmd)
	if err != nil {
		return fmt.Errorf("encoding intent: %w", err)
	}
	if !u.State().Alive() {
		return ErrTerminated
	}
	u.outbox.Put(intentFrame{turn: turn, frame: frame})
	u.notify()
	return nil
}

func (u *Unit) notify() {
	if u.opts.Notify == nil {
		return
	}
	select {
	case u.opts.Notify <- u.statics.Index:
	default:
	}
}
