package physics

import (
	"math"
	"math/rand"

	"github.com/OCAP2/arena/pkg/core"
)

// SentryBonusEnergy is added to a sentry's start energy.
const SentryBonusEnergy = 400.0

func (w *World) sentry(i int) bool {
	return w.robots[i].statics.IsSentry
}

func (w *World) hasSentries() bool {
	for _, r := range w.robots {
		if r.statics.IsSentry {
			return true
		}
	}
	return false
}

// inSafeZone reports whether (x, y) lies inside the sentry border.
func (w *World) inSafeZone(x, y float64) bool {
	border := float64(w.rules.SentryBorder())
	width, height := float64(w.rules.BattlefieldWidth), float64(w.rules.BattlefieldHeight)
	return x > border && x < width-border && y > border && y < height-border
}

// sentryDamage is what a bullet from owner does to victim at (x, y). Sentry
// fire only hurts robots in the border and never other sentries.
func (w *World) sentryDamage(owner, victim int, x, y, damage float64) float64 {
	if !w.sentry(owner) {
		return damage
	}
	if w.sentry(victim) || w.inSafeZone(x, y) {
		return 0
	}
	return damage
}

// confineSentry keeps sentry i in the border band. Crossing into the safe
// zone stops it on the edge like a wall would, without damage.
func (w *World) confineSentry(i int) {
	r := w.robots[i]
	border := float64(w.rules.SentryBorder())
	width, height := float64(w.rules.BattlefieldWidth), float64(w.rules.BattlefieldHeight)

	minX, maxX := border-halfSize, width-border+halfSize
	minY, maxY := border-halfSize, height-border+halfSize
	if !(r.x > minX && r.x < maxX && r.y > minY && r.y < maxY) {
		return
	}

	// Leave through the nearest edge. Headings point at the edge the robot ran into.
	type edge struct {
		depth   float64
		heading float64
		apply   func()
	}
	edges := []edge{
		{r.x - minX, math.Pi / 2, func() { r.x = minX }},
		{maxX - r.x, 3 * math.Pi / 2, func() { r.x = maxX }},
		{r.y - minY, 0, func() { r.y = minY }},
		{maxY - r.y, math.Pi, func() { r.y = maxY }},
	}
	best := edges[0]
	for _, e := range edges[1:] {
		if e.depth < best.depth {
			best = e
		}
	}
	best.apply()

	ev := core.NewEvent(core.EventHitWall, int64(w.turn))
	ev.Bearing = normalizeRelative(best.heading - r.bodyHeading)
	r.events = append(r.events, ev)
	r.velocity = 0
	r.distanceRemaining = 0
}

// sentryPlacement draws a random start inside the border band, on the top
// or bottom bar in proportion to the battlefield's width.
func (w *World) sentryPlacement(rng *rand.Rand) placement {
	width, height := float64(w.rules.BattlefieldWidth), float64(w.rules.BattlefieldHeight)
	band := math.Max(0, float64(w.rules.SentryBorder())-RobotSize)

	var p placement
	along, across := rng.Float64(), rng.Float64()
	far := rng.Float64() < 0.5
	if rng.Float64() <= width/(width+height) {
		p.x = halfSize + along*(width-RobotSize)
		p.y = halfSize + across*band
		if far {
			p.y = height - p.y
		}
	} else {
		p.y = halfSize + along*(height-RobotSize)
		p.x = halfSize + across*band
		if far {
			p.x = width - p.x
		}
	}
	p.heading = rng.Float64() * 2 * math.Pi
	return p
}

// safePlacement draws a random start for a regular robot inside the safe
// zone, clear of the sentries' band.
func (w *World) safePlacement(rng *rand.Rand) placement {
	width, height := float64(w.rules.BattlefieldWidth), float64(w.rules.BattlefieldHeight)
	border := float64(w.rules.SentryBorder())
	return placement{
		x:       border + RobotSize + rng.Float64()*math.Max(0, width-2*border-2*RobotSize),
		y:       border + RobotSize + rng.Float64()*math.Max(0, height-2*border-2*RobotSize),
		heading: rng.Float64() * 2 * math.Pi,
	}
}
