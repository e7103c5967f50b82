// Package robots bundles the sample robots that ship with the arena. A
// battle file refers to them by entry name.
package robots

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/OCAP2/arena/internal/unit"
	"github.com/OCAP2/arena/pkg/core"
)

// Factory builds a fresh robot for one round.
type Factory func() unit.Robot

var registry = map[string]Factory{
	"sample.SittingDuck": func() unit.Robot { return unit.RobotFunc(sittingDuck) },
	"sample.Fire":        func() unit.Robot { return unit.RobotFunc(fire) },
	"sample.Charger":     func() unit.Robot { return unit.RobotFunc(charger) },
	"sample.Spinner":     func() unit.Robot { return unit.RobotFunc(spinner) },
	"sample.Tracker":     func() unit.Robot { return &tracker{} },
	"sample.Messenger":   func() unit.Robot { return &messenger{} },
	"sample.Hoarder":     func() unit.Robot { return unit.RobotFunc(hoarder) },
	"sample.Looper":      func() unit.Robot { return unit.RobotFunc(looper) },
	"sample.Chatter":     func() unit.Robot { return unit.RobotFunc(chatter) },
	"sample.Crasher":     func() unit.Robot { return unit.RobotFunc(crasher) },
	"sample.BorderGuard": func() unit.Robot { return &borderGuard{direction: 1} },
}

// Lookup returns a new robot for entry.
func Lookup(entry string) (unit.Robot, error) {
	f, ok := registry[entry]
	if !ok {
		return nil, fmt.Errorf("unknown robot entry: %s", entry)
	}
	return f(), nil
}

// Names lists the known entries in order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// loop calls step then Execute until the unit stops.
func loop(ctx context.Context, p *unit.Peer, step func() error) error {
	for {
		if err := step(); err != nil {
			return err
		}
		if err := p.Execute(ctx); err != nil {
			return err
		}
	}
}

func sittingDuck(ctx context.Context, p *unit.Peer) error {
	return loop(ctx, p, func() error { return nil })
}

// fire stays put and fires at full power whenever the gun is cool.
func fire(ctx context.Context, p *unit.Peer) error {
	return loop(ctx, p, func() error {
		if p.Status().GunHeat > 0 {
			return nil
		}
		_, err := p.SetFire(3)
		return err
	})
}

// charger drives straight ahead at full speed.
func charger(ctx context.Context, p *unit.Peer) error {
	return loop(ctx, p, func() error {
		return p.SetAhead(math.MaxFloat32)
	})
}

// spinner circles and fires at anything its radar sweeps over.
func spinner(ctx context.Context, p *unit.Peer) error {
	return loop(ctx, p, func() error {
		if err := p.SetTurnBody(math.Pi / 8); err != nil {
			return err
		}
		if err := p.SetAhead(50); err != nil {
			return err
		}
		for _, ev := range p.Events() {
			if ev.Kind == core.EventScannedRobot && p.Status().GunHeat == 0 {
				if _, err := p.SetFire(firePower(ev.Distance)); err != nil {
					return err
				}
				break
			}
		}
		return nil
	})
}

// tracker locks its radar on the first robot it sees and leads it with the gun.
type tracker struct {
	target string
}

func (t *tracker) RequiredClass() core.CapabilityClass { return core.ClassStandard }

func (t *tracker) Run(ctx context.Context, p *unit.Peer) error {
	if err := p.SetAdjustGunForBodyTurn(true); err != nil {
		return err
	}
	if err := p.SetAdjustRadarForGunTurn(true); err != nil {
		return err
	}
	if err := p.SetColors("#2f4f4f", "#000000", "#ff4500"); err != nil {
		return err
	}
	return loop(ctx, p, func() error { return t.step(p) })
}

func (t *tracker) step(p *unit.Peer) error {
	st := p.Status()
	var seen *core.RobotEvent
	for _, ev := range p.Events() {
		ev := ev
		switch ev.Kind {
		case core.EventScannedRobot:
			if seen == nil && (t.target == "" || (ev.Name != nil && *ev.Name == t.target)) {
				seen = &ev
			}
		case core.EventRobotDeath:
			if ev.Name != nil && *ev.Name == t.target {
				t.target = ""
			}
		}
	}

	if seen == nil {
		return p.SetTurnRadar(2 * math.Pi)
	}
	if seen.Name != nil {
		t.target = *seen.Name
	}

	absolute := st.BodyHeading + seen.Bearing
	if err := p.SetTurnRadar(2 * normalizeRelative(absolute-st.RadarHeading)); err != nil {
		return err
	}
	if err := p.SetTurnGun(normalizeRelative(absolute - st.GunHeading)); err != nil {
		return err
	}
	if err := p.SetTurnBody(normalizeRelative(seen.Bearing + math.Pi/2)); err != nil {
		return err
	}
	if err := p.SetAhead(100 * math.Copysign(1, math.Sin(float64(st.Time)/20))); err != nil {
		return err
	}
	if st.GunHeat == 0 && math.Abs(normalizeRelative(absolute-st.GunHeading)) < 0.2 {
		if _, err := p.SetFire(firePower(seen.Distance)); err != nil {
			return err
		}
	}
	return p.SetDebugProperty("target", t.target)
}

// borderGuard is meant to run as a sentry. It patrols along its border,
// reversing at walls, and shoots at any robot that is not a sentry.
type borderGuard struct {
	direction float64
}

func (g *borderGuard) RequiredClass() core.CapabilityClass { return core.ClassStandard }

func (g *borderGuard) Run(ctx context.Context, p *unit.Peer) error {
	if err := p.SetAdjustGunForBodyTurn(true); err != nil {
		return err
	}
	if err := p.SetAdjustRadarForGunTurn(true); err != nil {
		return err
	}
	return loop(ctx, p, func() error { return g.step(p) })
}

func (g *borderGuard) step(p *unit.Peer) error {
	st := p.Status()
	var target *core.RobotEvent
	for _, ev := range p.Events() {
		ev := ev
		switch ev.Kind {
		case core.EventHitWall, core.EventHitRobot:
			g.direction = -g.direction
		case core.EventScannedRobot:
			if target == nil && !isSentry(p.Snapshot(), ev.Name) {
				target = &ev
			}
		}
	}

	if err := p.SetAhead(g.direction * 100); err != nil {
		return err
	}
	if err := p.SetTurnRadar(2 * math.Pi); err != nil {
		return err
	}
	if target == nil {
		return nil
	}
	bearing := normalizeRelative(st.BodyHeading + target.Bearing - st.GunHeading)
	if err := p.SetTurnGun(bearing); err != nil {
		return err
	}
	if st.GunHeat == 0 && math.Abs(bearing) < 0.2 {
		_, err := p.SetFire(3)
		return err
	}
	return nil
}

// isSentry looks name up in the turn snapshot.
func isSentry(snap *core.TurnSnapshot, name *string) bool {
	if snap == nil || name == nil {
		return false
	}
	for _, r := range snap.Robots {
		if r.Name == *name {
			return r.IsSentry
		}
	}
	return false
}

// messenger is a team robot that shares what it sees with its teammates.
type messenger struct{}

func (messenger) RequiredClass() core.CapabilityClass { return core.ClassTeam }

func (messenger) Run(ctx context.Context, p *unit.Peer) error {
	return loop(ctx, p, func() error {
		if err := p.SetTurnRadar(math.Pi / 4); err != nil {
			return err
		}
		for _, ev := range p.Events() {
			if ev.Kind == core.EventScannedRobot && ev.Name != nil {
				if err := p.BroadcastMessage([]byte(*ev.Name)); err != nil {
					return err
				}
			}
		}
		for _, m := range p.Messages() {
			if err := p.Print("%s says %s\n", m.Sender, m.Message); err != nil {
				return err
			}
		}
		return nil
	})
}

// hoarder logs every turn to its private storage until the quota runs out.
func hoarder(ctx context.Context, p *unit.Peer) error {
	files, err := p.Storage()
	if err != nil {
		return err
	}
	full := false
	return loop(ctx, p, func() error {
		if full {
			return nil
		}
		line := fmt.Sprintf("turn %d energy %.1f\n", p.Time(), p.Status().Energy)
		if err := files.AppendFile("history.log", []byte(line)); err != nil {
			full = true
			return p.Print("storage full: %v\n", err)
		}
		return nil
	})
}

// looper never yields. It only notices cancellation.
func looper(ctx context.Context, p *unit.Peer) error {
	for ctx.Err() == nil {
	}
	return ctx.Err()
}

// chatter is a basic robot that tries to talk to a team it cannot have.
func chatter(ctx context.Context, p *unit.Peer) error {
	return loop(ctx, p, func() error {
		if p.Time() < 3 {
			return nil
		}
		return p.BroadcastMessage([]byte("anyone there?"))
	})
}

// crasher panics a few turns in.
func crasher(ctx context.Context, p *unit.Peer) error {
	return loop(ctx, p, func() error {
		if p.Time() >= 5 {
			var targets []string
			_ = targets[p.Time()]
		}
		return nil
	})
}

func firePower(distance float64) float64 {
	switch {
	case distance < 150:
		return 3
	case distance < 400:
		return 2
	default:
		return 1
	}
}

func normalizeRelative(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a > math.Pi {
		a -= 2 * math.Pi
	} else if a < -math.Pi {
		a += 2 * math.Pi
	}
	return a
}
