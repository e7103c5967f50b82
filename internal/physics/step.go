package physics

import (
	"math"
	"sort"

	"github.com/OCAP2/arena/pkg/core"
)

// Step resolves one turn from the applied intents. Robots without an
// applied intent keep executing what they had left.
//
// Order: bullets in ascending ID, then robots in ascending index (turn,
// move, walls, robot collisions), inactivity, deaths, then scans.
func (w *World) Step() StepResult {
	w.turn++
	var res StepResult

	w.advanceBullets()
	w.checkBullets()

	for i, r := range w.robots {
		if r.state.Alive() {
			w.moveRobot(i)
		}
	}

	w.applyInactivity()

	res.Deaths = w.resolveDeaths()
	for i, r := range w.robots {
		if r.state.Alive() {
			w.scan(i)
		}
	}

	if w.RoundOver() && !w.finished {
		w.finish()
	}

	for i, r := range w.robots {
		r.applied = false
		r.scan = false
		r.inbox = append(r.inbox, r.messages...)
		r.messages = nil
		for _, ev := range r.events {
			res.Events = append(res.Events, core.TurnEvent{RobotIndex: i, Event: ev})
		}
	}
	return res
}

func (w *World) advanceBullets() {
	live := w.bullets[:0]
	for _, b := range w.bullets {
		switch b.state {
		case core.BulletInactive:
			continue
		case core.BulletExploded:
			b.state = core.BulletInactive
			b.frame++
		case core.BulletHitVictim, core.BulletHitBullet, core.BulletHitWall:
			b.state = core.BulletExploded
			b.frame++
		case core.BulletFired, core.BulletMoving:
			speed := BulletSpeed(b.power)
			b.prevX, b.prevY = b.x, b.y
			b.x += math.Sin(b.heading) * speed
			b.y += math.Cos(b.heading) * speed
			b.state = core.BulletMoving
		}
		live = append(live, b)
	}
	for i := len(live); i < len(w.bullets); i++ {
		w.bullets[i] = nil
	}
	w.bullets = live
}

func (w *World) checkBullets() {
	width, height := float64(w.rules.BattlefieldWidth), float64(w.rules.BattlefieldHeight)

	for bi, b := range w.bullets {
		if b.state != core.BulletMoving {
			continue
		}

		// Higher IDs first: a later bullet may already have been stopped by
		// an earlier one in this loop.
		for _, o := range w.bullets[bi+1:] {
			if o.state != core.BulletMoving {
				continue
			}
			if (w.sentry(b.owner) || w.sentry(o.owner)) && w.inSafeZone(b.x, b.y) {
				continue
			}
			if segmentsIntersect(b.prevX, b.prevY, b.x, b.y, o.prevX, o.prevY, o.x, o.y) {
				b.state = core.BulletHitBullet
				o.state = core.BulletHitBullet
				w.bulletHitBullet(b, o)
				w.bulletHitBullet(o, b)
				break
			}
		}
		if b.state != core.BulletMoving {
			continue
		}

		for vi, v := range w.robots {
			if vi == b.owner || !v.state.Alive() {
				continue
			}
			if segmentHitsBox(b.prevX, b.prevY, b.x, b.y, robotBox(v.x, v.y)) {
				w.bulletHitRobot(b, vi)
				break
			}
		}
		if b.state != core.BulletMoving {
			continue
		}

		if b.x < 0 || b.y < 0 || b.x > width || b.y > height {
			b.state = core.BulletHitWall
			owner := w.robots[b.owner]
			ev := core.NewEvent(core.EventBulletMissed, int64(w.turn))
			ev.BulletID = b.localID
			ev.Power = b.power
			ev.Heading = b.heading
			owner.events = append(owner.events, ev)
		}
	}

	for _, b := range w.bullets {
		owner := w.robots[b.owner]
		status := core.BulletStatus{
			BulletID: b.localID,
			X:        b.x,
			Y:        b.y,
			Active:   b.state.Active(),
		}
		if b.victim >= 0 {
			name := w.robots[b.victim].statics.Name
			status.VictimName = &name
		}
		if b.state == core.BulletMoving || b.state == core.BulletHitVictim || b.state == core.BulletHitBullet || b.state == core.BulletHitWall {
			owner.bulletInfo = append(owner.bulletInfo, status)
		}
	}
}

func (w *World) bulletHitBullet(b, other *Bullet) {
	owner := w.robots[b.owner]
	ev := core.NewEvent(core.EventBulletHitBullet, int64(w.turn))
	ev.BulletID = b.localID
	ev.Power = b.power
	ev.Heading = other.heading
	name := w.robots[other.owner].statics.Name
	ev.Name = &name
	owner.events = append(owner.events, ev)
}

func (w *World) bulletHitRobot(b *Bullet, vi int) {
	b.state = core.BulletHitVictim
	b.victim = vi

	owner := w.robots[b.owner]
	victim := w.robots[vi]

	damage := w.sentryDamage(b.owner, vi, b.x, b.y, BulletDamage(b.power))
	credited := math.Min(damage, math.Max(victim.energy, 0))
	victim.energy -= damage
	w.energyLost += damage

	// Sentries pay no hit bonus and are worth no score.
	if !victim.statics.IsSentry {
		owner.energy += BulletHitBonus(b.power)
	}
	if w.opponents(b.owner, vi) && !victim.statics.IsSentry {
		owner.score.BulletDamage += credited
		owner.bulletDmg[vi] += credited
	}

	ownerName := owner.statics.Name
	hit := core.NewEvent(core.EventHitByBullet, int64(w.turn))
	hit.Name = &ownerName
	hit.Bearing = normalizeRelative(b.heading + math.Pi - victim.bodyHeading)
	hit.Heading = b.heading
	hit.Power = b.power
	hit.Energy = victim.energy
	victim.events = append(victim.events, hit)

	victimName := victim.statics.Name
	ev := core.NewEvent(core.EventBulletHit, int64(w.turn))
	ev.Name = &victimName
	ev.BulletID = b.localID
	ev.Power = b.power
	ev.Energy = math.Max(victim.energy, 0)
	owner.events = append(owner.events, ev)
}

func (w *World) moveRobot(i int) {
	r := w.robots[i]

	r.gunHeat = math.Max(0, r.gunHeat-w.rules.GunCoolingRate)
	if r.gunHeat < epsilon {
		r.gunHeat = 0
	}

	turnRate := TurnRate(r.velocity)
	if r.maxTurnRate > 0 {
		turnRate = math.Min(turnRate, r.maxTurnRate)
	}
	bodyTurn := clampAbs(r.bodyTurnRemaining, turnRate)
	gunTurn := clampAbs(r.gunTurnRemaining, GunTurnRate)
	radarTurn := clampAbs(r.radarTurnRemaining, RadarTurnRate)

	r.bodyTurnRemaining -= bodyTurn
	r.gunTurnRemaining -= gunTurn
	r.radarTurnRemaining -= radarTurn

	gunDelta := gunTurn
	if !r.adjustGunForBody {
		gunDelta += bodyTurn
	}
	radarDelta := radarTurn
	if !r.adjustRadarForGun {
		radarDelta += gunTurn
	}
	if !r.adjustRadarForBody {
		radarDelta += bodyTurn
	}

	r.bodyHeading = normalizeAbsolute(r.bodyHeading + bodyTurn)
	r.gunHeading = normalizeAbsolute(r.gunHeading + gunDelta)
	r.radarSweepStart = r.radarHeading
	r.radarSweep = radarDelta
	r.radarHeading = normalizeAbsolute(r.radarHeading + radarDelta)

	maxVelocity := MaxVelocity
	if r.maxVelocity > 0 {
		maxVelocity = math.Min(maxVelocity, r.maxVelocity)
	}
	r.velocity = NextVelocity(r.velocity, r.distanceRemaining, maxVelocity)
	r.distanceRemaining -= r.velocity
	if math.Abs(r.distanceRemaining) < epsilon {
		r.distanceRemaining = 0
	}

	prevX, prevY := r.x, r.y
	r.x += math.Sin(r.bodyHeading) * r.velocity
	r.y += math.Cos(r.bodyHeading) * r.velocity

	w.checkWalls(i)
	if r.statics.IsSentry {
		w.confineSentry(i)
	}
	w.checkRobotCollisions(i, prevX, prevY)
}

func (w *World) checkWalls(i int) {
	r := w.robots[i]
	width, height := float64(w.rules.BattlefieldWidth), float64(w.rules.BattlefieldHeight)

	x := math.Max(halfSize, math.Min(width-halfSize, r.x))
	y := math.Max(halfSize, math.Min(height-halfSize, r.y))
	if x == r.x && y == r.y {
		return
	}

	damage := WallDamage(r.velocity)
	r.energy -= damage

	// Bearing to the wall that was hit, relative to the body.
	var wallHeading float64
	switch {
	case r.x < halfSize:
		wallHeading = 3 * math.Pi / 2
	case r.x > width-halfSize:
		wallHeading = math.Pi / 2
	case r.y < halfSize:
		wallHeading = math.Pi
	default:
		wallHeading = 0
	}
	ev := core.NewEvent(core.EventHitWall, int64(w.turn))
	ev.Bearing = normalizeRelative(wallHeading - r.bodyHeading)
	r.events = append(r.events, ev)

	r.x, r.y = x, y
	r.velocity = 0
	r.distanceRemaining = 0
}

func (w *World) checkRobotCollisions(i int, prevX, prevY float64) {
	r := w.robots[i]
	for j, o := range w.robots {
		if j == i || !o.state.Alive() {
			continue
		}
		if !robotBox(r.x, r.y).intersects(robotBox(o.x, o.y)) {
			continue
		}

		bearing := normalizeRelative(headingTo(r.x, r.y, o.x, o.y) - r.bodyHeading)
		atFault := (r.velocity > 0 && math.Abs(bearing) < math.Pi/2) ||
			(r.velocity < 0 && math.Abs(bearing) > math.Pi/2)

		if atFault {
			r.energy -= RamDamage
			o.energy -= RamDamage
			w.energyLost += 2 * RamDamage
			if w.opponents(i, j) && !o.statics.IsSentry {
				r.score.RamDamage += 2 * RamDamage
				r.ramDmg[j] += 2 * RamDamage
			}
		}

		otherName, selfName := o.statics.Name, r.statics.Name

		ev := core.NewEvent(core.EventHitRobot, int64(w.turn))
		ev.Name = &otherName
		ev.Bearing = bearing
		ev.Energy = o.energy
		r.events = append(r.events, ev)

		back := core.NewEvent(core.EventHitRobot, int64(w.turn))
		back.Name = &selfName
		back.Bearing = normalizeRelative(headingTo(o.x, o.y, r.x, r.y) - o.bodyHeading)
		back.Energy = r.energy
		o.events = append(o.events, back)

		r.x, r.y = prevX, prevY
		r.velocity = 0
		if atFault {
			r.distanceRemaining = 0
		}
		return
	}
}

func (w *World) applyInactivity() {
	if w.energyLost >= 10 {
		w.energyLost = 0
		w.inactiveTurns = 0
		return
	}
	w.inactiveTurns++
	if w.rules.InactivityTime <= 0 || w.inactiveTurns <= w.rules.InactivityTime {
		return
	}
	for _, r := range w.robots {
		if r.state.Alive() {
			r.energy -= InactivityZap
		}
	}
}

// resolveDeaths kills every robot at or below zero energy. Scheduler kills
// come first, then lower energy first, then lower index.
func (w *World) resolveDeaths() []Death {
	deaths := w.pending
	w.pending = nil

	var dying []int
	for i, r := range w.robots {
		if r.state.Alive() && r.energy <= 0 {
			dying = append(dying, i)
		}
	}
	sort.SliceStable(dying, func(a, b int) bool {
		ea, eb := w.robots[dying[a]].energy, w.robots[dying[b]].energy
		if ea != eb {
			return ea < eb
		}
		return dying[a] < dying[b]
	})

	for _, i := range dying {
		r := w.robots[i]
		r.state = core.UnitDead
		r.cause = core.CauseKilled
		deaths = append(deaths, Death{
			Index:  i,
			Cause:  core.CauseKilled,
			Killer: w.creditKill(i),
			X:      r.x,
			Y:      r.y,
			Energy: r.energy,
		})
		r.energy = 0
	}

	for _, d := range deaths {
		w.eliminated = append(w.eliminated, d.Index)

		dead := w.robots[d.Index]
		dead.events = append(dead.events, core.NewEvent(core.EventDeath, int64(w.turn)))

		name := dead.statics.Name
		for j, o := range w.robots {
			if j == d.Index || (!o.state.Alive() && !w.diesAfter(deaths, d.Index, j)) {
				continue
			}
			ev := core.NewEvent(core.EventRobotDeath, int64(w.turn))
			ev.Name = &name
			o.events = append(o.events, ev)
			if w.opponents(j, d.Index) && !o.statics.IsSentry && !dead.statics.IsSentry {
				o.score.Survival += 50
			}
		}
	}

	for _, r := range w.robots {
		r.score.Sum()
	}
	return deaths
}

// diesAfter reports whether robot j appears later than robot i in deaths,
// so it was still alive when i died.
func (w *World) diesAfter(deaths []Death, i, j int) bool {
	seenI := false
	for _, d := range deaths {
		if d.Index == i {
			seenI = true
			continue
		}
		if d.Index == j {
			return seenI
		}
	}
	return false
}

// creditKill returns the robot that dealt the killing blow (the largest
// damage dealer this round) and pays its kill bonus. It returns -1 for
// self-inflicted deaths.
func (w *World) creditKill(victim int) int {
	killer, best := -1, 0.0
	for i, r := range w.robots {
		if i == victim {
			continue
		}
		if dmg := r.bulletDmg[victim] + r.ramDmg[victim]; dmg > best {
			killer, best = i, dmg
		}
	}
	if killer < 0 {
		return -1
	}
	k := w.robots[killer]
	if k.ramDmg[victim] > k.bulletDmg[victim] {
		k.score.RamKillBonus += 0.3 * k.ramDmg[victim]
	} else {
		k.score.BulletKillBonus += 0.2 * k.bulletDmg[victim]
	}
	return killer
}

func (w *World) scan(i int) {
	r := w.robots[i]
	if r.radarSweep == 0 && !r.scan {
		return
	}
	for j, o := range w.robots {
		if j == i || !o.state.Alive() {
			continue
		}
		dist := math.Hypot(o.x-r.x, o.y-r.y)
		if dist > ScanRadius {
			continue
		}
		angle := headingTo(r.x, r.y, o.x, o.y)
		tolerance := math.Atan2(halfSize, math.Max(dist, halfSize))
		if !inArc(angle, r.radarSweepStart, r.radarSweep, tolerance) {
			continue
		}

		name := o.statics.Name
		ev := core.NewEvent(core.EventScannedRobot, int64(w.turn))
		ev.Name = &name
		ev.Bearing = normalizeRelative(angle - r.bodyHeading)
		ev.Distance = dist
		ev.Heading = o.bodyHeading
		ev.Velocity = o.velocity
		ev.Energy = o.energy
		r.events = append(r.events, ev)
	}
}

// finish pays the last survivor bonus and tells everyone the round is over.
func (w *World) finish() {
	w.finished = true

	if w.aliveContestants() == 1 {
		for i, r := range w.robots {
			if !r.state.Alive() || r.statics.IsSentry {
				continue
			}
			opponents := 0
			for j, o := range w.robots {
				if w.opponents(i, j) && !o.statics.IsSentry {
					opponents++
				}
			}
			r.score.LastSurvivorBonus += 10 * float64(opponents)
			r.events = append(r.events, core.NewEvent(core.EventWin, int64(w.turn)))
		}
	}
	for _, r := range w.robots {
		r.score.Sum()
		r.events = append(r.events, core.NewEvent(core.EventRoundEnded, int64(w.turn)))
	}
}

// opponents reports whether i and j belong to different contestants.
func (w *World) opponents(i, j int) bool {
	if i == j {
		return false
	}
	return w.robots[i].statics.TeamIndex != w.robots[j].statics.TeamIndex
}
