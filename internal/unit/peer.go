package unit

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/OCAP2/arena/internal/policy"
	"github.com/OCAP2/arena/internal/protocol"
	"github.com/OCAP2/arena/pkg/core"
)

// Peer is the robot's only handle on the world. Setters accumulate the next
// intent; Execute submits it and waits for the next turn. Every call passes
// the capability gate first, and a denied call kills the unit.
//
// A Peer belongs to the robot goroutine and must not be shared.
type Peer struct {
	unit *Unit

	turn     int32
	snapshot *core.TurnSnapshot
	status   core.RobotStatus
	events   []core.RobotEvent
	messages []core.TeamMessage
	bullets  []core.BulletStatus

	pending      core.IntentCommand
	output       strings.Builder
	nextBulletID int32

	priorities map[core.EventKind]int32
	conditions []condition
}

type condition struct {
	name     string
	priority int32
	test     func(core.RobotStatus) bool
}

func newPeer(u *Unit) *Peer {
	return &Peer{unit: u, nextBulletID: 1}
}

// gate runs the capability check and kills the unit on denial.
func (p *Peer) gate(op policy.Operation) error {
	if err := policy.Check(p.unit.statics.Class, op); err != nil {
		return p.violate(err)
	}
	return nil
}

func (p *Peer) violate(err error) error {
	p.unit.die(core.CauseSecurityViolation, err)
	return err
}

// Name returns the robot's unique name.
func (p *Peer) Name() string { return p.unit.statics.Name }

// Statics returns the robot's static description.
func (p *Peer) Statics() core.RobotStatics { return p.unit.statics }

// Status returns the robot's state as of the last delivered turn.
func (p *Peer) Status() core.RobotStatus { return p.status }

// Time returns the current turn number.
func (p *Peer) Time() int64 { return p.status.Time }

// Snapshot returns this unit's own decoded copy of the arena as of the
// delivered turn. Changing it affects no other robot.
func (p *Peer) Snapshot() *core.TurnSnapshot { return p.snapshot }

// Events returns this turn's events, highest priority first.
func (p *Peer) Events() []core.RobotEvent { return p.events }

// Messages returns team messages received this turn.
func (p *Peer) Messages() []core.TeamMessage { return p.messages }

// BulletUpdates returns the state of this robot's bullets.
func (p *Peer) BulletUpdates() []core.BulletStatus { return p.bullets }

// SetAhead sets the remaining distance; negative moves back.
func (p *Peer) SetAhead(distance float64) error {
	if err := p.gate(policy.OpMove); err != nil {
		return err
	}
	p.pending.DistanceRemaining = distance
	return nil
}

// SetTurnBody sets the remaining body turn in radians, clockwise positive.
func (p *Peer) SetTurnBody(radians float64) error {
	if err := p.gate(policy.OpTurnBody); err != nil {
		return err
	}
	p.pending.BodyTurnRemaining = radians
	return nil
}

// SetTurnGun sets the remaining gun turn in radians.
func (p *Peer) SetTurnGun(radians float64) error {
	if err := p.gate(policy.OpTurnGun); err != nil {
		return err
	}
	p.pending.GunTurnRemaining = radians
	return nil
}

// SetTurnRadar sets the remaining radar turn in radians.
func (p *Peer) SetTurnRadar(radians float64) error {
	if err := p.gate(policy.OpTurnRadar); err != nil {
		return err
	}
	p.pending.RadarTurnRemaining = radians
	return nil
}

// SetAdjustGunForBodyTurn decouples the gun from body turns.
func (p *Peer) SetAdjustGunForBodyTurn(v bool) error {
	if err := p.gate(policy.OpIndependentGun); err != nil {
		return err
	}
	p.pending.AdjustGunForBodyTurn = v
	return nil
}

// SetAdjustRadarForGunTurn decouples the radar from gun turns.
func (p *Peer) SetAdjustRadarForGunTurn(v bool) error {
	if err := p.gate(policy.OpIndependentRadar); err != nil {
		return err
	}
	p.pending.AdjustRadarForGunTurn = v
	return nil
}

// SetAdjustRadarForBodyTurn decouples the radar from body turns.
func (p *Peer) SetAdjustRadarForBodyTurn(v bool) error {
	if err := p.gate(policy.OpIndependentRadar); err != nil {
		return err
	}
	p.pending.AdjustRadarForBodyTurn = v
	return nil
}

// SetMaxVelocity caps the robot's speed below the rule maximum.
func (p *Peer) SetMaxVelocity(v float64) error {
	if err := p.gate(policy.OpSetMaxVelocity); err != nil {
		return err
	}
	p.pending.MaxVelocity = v
	return nil
}

// SetMaxTurnRate caps the body turn rate, in radians per turn.
func (p *Peer) SetMaxTurnRate(r float64) error {
	if err := p.gate(policy.OpSetMaxTurnRate); err != nil {
		return err
	}
	p.pending.MaxTurnRate = r
	return nil
}

// SetFire queues a bullet and returns its robot-local ID. Firing with a hot
// gun is ignored by the arena; watch BulletUpdates for the outcome.
func (p *Peer) SetFire(power float64) (int32, error) {
	if err := p.gate(policy.OpFire); err != nil {
		return 0, err
	}
	id := p.nextBulletID
	p.nextBulletID++
	p.pending.Bullets = append(p.pending.Bullets, core.BulletCommand{Power: power, BulletID: id})
	return id, nil
}

// Scan forces a radar scan this turn even if the radar does not move.
func (p *Peer) Scan() error {
	if err := p.gate(policy.OpScan); err != nil {
		return err
	}
	p.pending.Scan = true
	return nil
}

// SetColors publishes the robot's colors as debug properties.
func (p *Peer) SetColors(body, gun, radar string) error {
	if err := p.gate(policy.OpSetColors); err != nil {
		return err
	}
	for _, kv := range [][2]string{{"color.body", body}, {"color.gun", gun}, {"color.radar", radar}} {
		value := kv[1]
		p.pending.DebugProperties = append(p.pending.DebugProperties, core.DebugProperty{Key: kv[0], Value: &value})
	}
	return nil
}

// Print writes to the robot's console.
func (p *Peer) Print(format string, args ...any) error {
	if err := p.gate(policy.OpPrint); err != nil {
		return err
	}
	fmt.Fprintf(&p.output, format, args...)
	return nil
}

// SetDebugProperty exposes key to observers; an empty value removes it.
func (p *Peer) SetDebugProperty(key, value string) error {
	if err := p.gate(policy.OpDebugProperty); err != nil {
		return err
	}
	prop := core.DebugProperty{Key: key}
	if value != "" {
		prop.Value = &value
	}
	p.pending.DebugProperties = append(p.pending.DebugProperties, prop)
	return nil
}

// SendMessage sends msg to one teammate next turn.
func (p *Peer) SendMessage(recipient string, msg []byte) error {
	if err := p.gate(policy.OpSendMessage); err != nil {
		return err
	}
	p.pending.TeamMessages = append(p.pending.TeamMessages, core.TeamMessage{
		Sender:    p.Name(),
		Recipient: &recipient,
		Message:   append([]byte(nil), msg...),
	})
	return nil
}

// BroadcastMessage sends msg to every teammate next turn.
func (p *Peer) BroadcastMessage(msg []byte) error {
	if err := p.gate(policy.OpBroadcastMessage); err != nil {
		return err
	}
	p.pending.TeamMessages = append(p.pending.TeamMessages, core.TeamMessage{
		Sender:  p.Name(),
		Message: append([]byte(nil), msg...),
	})
	return nil
}

// SetEventPriority overrides the delivery priority of kind.
func (p *Peer) SetEventPriority(kind core.EventKind, priority int32) error {
	if err := p.gate(policy.OpEventPriority); err != nil {
		return err
	}
	if !kind.Valid() {
		return fmt.Errorf("unknown event kind %d", kind)
	}
	if p.priorities == nil {
		p.priorities = make(map[core.EventKind]int32)
	}
	p.priorities[kind] = priority
	return nil
}

// AddCustomCondition raises a custom_condition event named name on every
// turn test reports true.
func (p *Peer) AddCustomCondition(name string, priority int32, test func(core.RobotStatus) bool) error {
	if err := p.gate(policy.OpCustomCondition); err != nil {
		return err
	}
	p.conditions = append(p.conditions, condition{name: name, priority: priority, test: test})
	return nil
}

// Storage returns the robot's private files.
func (p *Peer) Storage() (*Files, error) {
	if err := p.gate(policy.OpPrivateStorage); err != nil {
		return nil, err
	}
	if p.unit.opts.Storage == nil {
		return nil, fmt.Errorf("no private storage configured for %s", p.Name())
	}
	return &Files{peer: p, store: p.unit.opts.Storage}, nil
}

// ReadPeerState asks for another robot's private state. It is never allowed.
func (p *Peer) ReadPeerState(name string) error {
	return p.gate(policy.OpPeerStateAccess)
}

// OpenFile asks for a path outside private storage. It is never allowed.
func (p *Peer) OpenFile(path string) error {
	return p.gate(policy.OpForeignFilesystem)
}

// Spawn asks to start a process. It is never allowed.
func (p *Peer) Spawn(command string) error {
	return p.gate(policy.OpProcessSpawn)
}

// Dial asks for a network connection. It is never allowed.
func (p *Peer) Dial(address string) error {
	return p.gate(policy.OpNetworkAccess)
}

// Execute submits the accumulated intent for the current turn and blocks
// until the next turn is delivered or the unit is stopped.
func (p *Peer) Execute(ctx context.Context) error {
	cmd := p.buildIntent()
	if err := p.unit.submit(p.turn, &cmd); err != nil {
		return err
	}
	p.resetTransient()
	return p.await(ctx)
}

func (p *Peer) buildIntent() core.IntentCommand {
	cmd := p.pending
	if p.output.Len() > 0 {
		text := p.output.String()
		cmd.OutputText = &text
	}
	return cmd
}

func (p *Peer) resetTransient() {
	p.pending.Scan = false
	p.pending.OutputText = nil
	p.pending.Bullets = nil
	p.pending.TeamMessages = nil
	p.pending.DebugProperties = nil
	p.output.Reset()
}

// await blocks for the next turn input. Inputs that fail to decode are
// dropped; the robot simply misses that turn.
func (p *Peer) await(ctx context.Context) error {
	for {
		if !p.unit.State().Alive() {
			return ErrTerminated
		}
		select {
		case <-ctx.Done():
			return ErrTerminated
		case <-p.unit.ctx.Done():
			return ErrTerminated
		case <-p.unit.inbox.Ready():
			in, ok := p.unit.inbox.TryTake()
			if !ok {
				continue
			}
			if err := p.deliver(in); err != nil {
				if err == ErrTerminated {
					return err
				}
				p.unit.log.Warn("dropping undecodable turn input", "turn", in.turn, "error", err)
				continue
			}
			return nil
		}
	}
}

func (p *Peer) deliver(in turnInput) error {
	res, err := protocol.UnmarshalAs[core.IntentResult](p.unit.reg, protocol.TagIntentResult, in.frame)
	if err != nil {
		return err
	}
	if res.Halt {
		return ErrTerminated
	}
	var snap *core.TurnSnapshot
	if in.snapshot != nil {
		decoded, err := protocol.UnmarshalAs[core.TurnSnapshot](p.unit.reg, protocol.TagTurnSnapshot, in.snapshot)
		if err != nil {
			return err
		}
		snap = &decoded
	}

	p.turn = in.turn
	p.snapshot = snap
	p.status = res.Status
	p.messages = res.TeamMessages
	p.bullets = res.BulletUpdates

	// Movement continues from what the arena reports as still remaining.
	p.pending.DistanceRemaining = res.Status.DistanceRemaining
	p.pending.BodyTurnRemaining = res.Status.BodyTurnRemaining
	p.pending.GunTurnRemaining = res.Status.GunTurnRemaining
	p.pending.RadarTurnRemaining = res.Status.RadarTurnRemaining

	events := res.Events
	for _, c := range p.conditions {
		if c.test(p.status) {
			name := c.name
			ev := core.NewEvent(core.EventCustomCondition, p.status.Time)
			ev.Name = &name
			ev.Priority = c.priority
			events = append(events, ev)
		}
	}
	for i := range events {
		if prio, ok := p.priorities[events[i].Kind]; ok {
			events[i].Priority = prio
		}
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Priority > events[j].Priority
	})
	p.events = events
	return nil
}

// Files is the robot's view of its private storage. Reaching outside it is a
// security violation and kills the unit; running out of quota is not.
type Files struct {
	peer  *Peer
	store *policy.Storage
}

func (f *Files) guard(err error) error {
	if err == nil {
		return nil
	}
	if core.BehaviorFor(err) == core.BehaviorSecurityViolation {
		return f.peer.violate(err)
	}
	if core.BehaviorFor(err) == core.BehaviorQuotaExceeded {
		f.peer.unit.log.Info("robot storage quota exceeded", "error", err)
	}
	return err
}

// WriteFile replaces name.
func (f *Files) WriteFile(name string, data []byte) error {
	return f.guard(f.store.WriteFile(name, data))
}

// AppendFile appends to name.
func (f *Files) AppendFile(name string, data []byte) error {
	return f.guard(f.store.AppendFile(name, data))
}

// ReadFile reads name.
func (f *Files) ReadFile(name string) ([]byte, error) {
	data, err := f.store.ReadFile(name)
	return data, f.guard(err)
}

// Remove deletes name.
func (f *Files) Remove(name string) error {
	return f.guard(f.store.Remove(name))
}

// List returns the stored names.
func (f *Files) List() ([]string, error) {
	names, err := f.store.List()
	return names, f.guard(err)
}

// Free returns the bytes left in the quota.
func (f *Files) Free() int64 {
	return f.store.Quota() - f.store.Used()
}
