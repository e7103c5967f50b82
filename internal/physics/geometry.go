package physics

import "math"

// Movement and combat constants. Angles are radians.
const (
	Acceleration   = 1.0
	Deceleration   = 2.0
	MaxVelocity    = 8.0
	MaxTurnRate    = 10 * math.Pi / 180
	GunTurnRate    = 20 * math.Pi / 180
	RadarTurnRate  = 45 * math.Pi / 180
	ScanRadius     = 1200.0
	MinBulletPower = 0.1
	MaxBulletPower = 3.0
	RobotSize      = 36.0
	StartEnergy    = 100.0
	InitialGunHeat = 3.0
	RamDamage      = 0.6
	InactivityZap  = 0.1

	halfSize = RobotSize / 2
	epsilon  = 1e-9
)

// BulletSpeed is 20-3p.
func BulletSpeed(power float64) float64 {
	return 20 - 3*power
}

// BulletDamage is 4p, plus 2(p-1) above power 1.
func BulletDamage(power float64) float64 {
	d := 4 * power
	if power > 1 {
		d += 2 * (power - 1)
	}
	return d
}

// BulletHitBonus is the energy returned to the shooter on a hit.
func BulletHitBonus(power float64) float64 {
	return 3 * power
}

// GunHeat is the heat generated by firing at power.
func GunHeat(power float64) float64 {
	return 1 + power/5
}

// WallDamage is what hitting a wall at velocity costs.
func WallDamage(velocity float64) float64 {
	return math.Max(math.Abs(velocity)/2-1, 0)
}

// TurnRate is the body turn limit at velocity.
func TurnRate(velocity float64) float64 {
	return MaxTurnRate - 0.75*math.Pi/180*math.Abs(velocity)
}

// NextVelocity returns the velocity after one turn of trying to cover
// distance with speed capped at maxVelocity.
func NextVelocity(velocity, distance, maxVelocity float64) float64 {
	if distance < 0 {
		return -NextVelocity(-velocity, -distance, maxVelocity)
	}

	goal := math.Min(maxVelocity, maxVelocityForDistance(distance))
	if velocity >= 0 {
		return math.Max(velocity-Deceleration, math.Min(goal, velocity+Acceleration))
	}
	return math.Max(velocity-Acceleration, math.Min(goal, velocity+maxDeceleration(-velocity)))
}

// maxVelocityForDistance is the fastest speed from which the robot can still
// stop within distance.
func maxVelocityForDistance(distance float64) float64 {
	decelTime := math.Max(1, math.Ceil((math.Sqrt(4*2/Deceleration*distance+1)-1)/2))
	if math.IsInf(decelTime, 1) {
		return MaxVelocity
	}
	decelDist := decelTime / 2 * (decelTime - 1) * Deceleration
	return (decelTime-1)*Deceleration + (distance-decelDist)/decelTime
}

func maxDeceleration(speed float64) float64 {
	decelTime := speed / Deceleration
	accelTime := 1 - decelTime
	return math.Min(1, decelTime)*Deceleration + math.Max(0, accelTime)*Acceleration
}

// clampAbs limits v to [-limit, limit].
func clampAbs(v, limit float64) float64 {
	return math.Max(-limit, math.Min(limit, v))
}

// normalizeAbsolute maps an angle onto [0, 2π).
func normalizeAbsolute(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a
}

// normalizeRelative maps an angle onto [-π, π).
func normalizeRelative(a float64) float64 {
	a = normalizeAbsolute(a)
	if a >= math.Pi {
		a -= 2 * math.Pi
	}
	return a
}

// headingTo is the absolute heading from (x0,y0) to (x1,y1); 0 is north,
// clockwise positive.
func headingTo(x0, y0, x1, y1 float64) float64 {
	return normalizeAbsolute(math.Atan2(x1-x0, y1-y0))
}

// box is an axis-aligned rectangle.
type box struct {
	minX, minY, maxX, maxY float64
}

func robotBox(x, y float64) box {
	return box{x - halfSize, y - halfSize, x + halfSize, y + halfSize}
}

func (b box) intersects(o box) bool {
	return b.minX < o.maxX && o.minX < b.maxX && b.minY < o.maxY && o.minY < b.maxY
}

// segmentHitsBox clips the segment against b (Liang-Barsky).
func segmentHitsBox(x0, y0, x1, y1 float64, b box) bool {
	dx, dy := x1-x0, y1-y0
	t0, t1 := 0.0, 1.0

	clip := func(p, q float64) bool {
		if p == 0 {
			return q >= 0
		}
		r := q / p
		if p < 0 {
			if r > t1 {
				return false
			}
			if r > t0 {
				t0 = r
			}
		} else {
			if r < t0 {
				return false
			}
			if r < t1 {
				t1 = r
			}
		}
		return true
	}

	return clip(-dx, x0-b.minX) &&
		clip(dx, b.maxX-x0) &&
		clip(-dy, y0-b.minY) &&
		clip(dy, b.maxY-y0) &&
		t0 <= t1
}

// segmentsIntersect reports whether segments p1-p2 and p3-p4 cross.
func segmentsIntersect(x1, y1, x2, y2, x3, y3, x4, y4 float64) bool {
	d1 := cross(x3, y3, x4, y4, x1, y1)
	d2 := cross(x3, y3, x4, y4, x2, y2)
	d3 := cross(x1, y1, x2, y2, x3, y3)
	d4 := cross(x1, y1, x2, y2, x4, y4)

	if ((d1 > 0 && d2 < 0) || (d1 < 0 && d2 > 0)) && ((d3 > 0 && d4 < 0) || (d3 < 0 && d4 > 0)) {
		return true
	}
	switch {
	case d1 == 0 && onSegment(x3, y3, x4, y4, x1, y1):
		return true
	case d2 == 0 && onSegment(x3, y3, x4, y4, x2, y2):
		return true
	case d3 == 0 && onSegment(x1, y1, x2, y2, x3, y3):
		return true
	case d4 == 0 && onSegment(x1, y1, x2, y2, x4, y4):
		return true
	}
	return false
}

func cross(ax, ay, bx, by, cx, cy float64) float64 {
	return (bx-ax)*(cy-ay) - (by-ay)*(cx-ax)
}

func onSegment(ax, ay, bx, by, px, py float64) bool {
	return math.Min(ax, bx) <= px && px <= math.Max(ax, bx) &&
		math.Min(ay, by) <= py && py <= math.Max(ay, by)
}

// inArc reports whether heading lies on the sweep from start through delta,
// widened by tolerance on both sides.
func inArc(heading, start, delta, tolerance float64) bool {
	if math.Abs(delta) >= 2*math.Pi {
		return true
	}
	if delta < 0 {
		start += delta
		delta = -delta
	}
	offset := normalizeAbsolute(heading - start + tolerance)
	return offset <= delta+2*tolerance
}
