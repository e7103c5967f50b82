// pkg/core/snapshot.go
package core

import "fmt"

// UnitState is the lifecycle of an execution unit.
type UnitState uint8

const (
	UnitCreated UnitState = iota
	UnitActive
	UnitSkippedTurn
	UnitDead
)

func (s UnitState) String() string {
	switch s {
	case UnitCreated:
		return "CREATED"
	case UnitActive:
		return "ACTIVE"
	case UnitSkippedTurn:
		return "SKIPPED_TURN"
	case UnitDead:
		return "DEAD"
	}
	return fmt.Sprintf("UnitState(%d)", s)
}

// Alive reports whether the unit still takes part in the round.
func (s UnitState) Alive() bool {
	return s == UnitActive || s == UnitSkippedTurn
}

// DeathCause explains a DEAD transition.
type DeathCause uint8

const (
	CauseNone DeathCause = iota
	CauseKilled
	CauseCannotStart
	CauseUnstoppable
	CauseSecurityViolation
	CauseFatalFault
	CauseRoundEnded
	CauseAborted
)

var causeNames = [...]string{
	"NONE",
	"KILLED",
	"CANNOT_START",
	"UNSTOPPABLE",
	"SECURITY_VIOLATION",
	"FATAL_FAULT",
	"ROUND_ENDED",
	"ABORTED",
}

func (c DeathCause) String() string {
	if int(c) < len(causeNames) {
		return causeNames[c]
	}
	return fmt.Sprintf("DeathCause(%d)", c)
}

// BadBehavior reports whether the cause is the robot's own fault.
func (c DeathCause) BadBehavior() bool {
	switch c {
	case CauseCannotStart, CauseUnstoppable, CauseSecurityViolation, CauseFatalFault:
		return true
	}
	return false
}

// BulletState follows a bullet from the gun to its removal.
type BulletState uint8

const (
	BulletFired BulletState = iota
	BulletMoving
	BulletHitVictim
	BulletHitBullet
	BulletHitWall
	BulletExploded
	BulletInactive
)

var bulletStateNames = [...]string{
	"FIRED",
	"MOVING",
	"HIT_VICTIM",
	"HIT_BULLET",
	"HIT_WALL",
	"EXPLODED",
	"INACTIVE",
}

func (s BulletState) String() string {
	if int(s) < len(bulletStateNames) {
		return bulletStateNames[s]
	}
	return fmt.Sprintf("BulletState(%d)", s)
}

// Active reports whether the bullet is still in flight.
func (s BulletState) Active() bool {
	return s == BulletFired || s == BulletMoving
}

// TurnSnapshot is the complete world at a turn boundary. It is never mutated
// after it is published.
type TurnSnapshot struct {
	Round   int32
	Turn    int32
	Robots  []RobotSnapshot
	Bullets []BulletSnapshot
}

// RobotSnapshot is one robot in a TurnSnapshot.
type RobotSnapshot struct {
	Index        int32
	Name         string
	TeamName     string
	State        UnitState
	Cause        DeathCause
	Energy       float64
	X            float64
	Y            float64
	BodyHeading  float64
	GunHeading   float64
	RadarHeading float64
	Velocity     float64
	GunHeat      float64
	Score        float64
	SkippedTurns int32
	IsSentry     bool
}

// BulletSnapshot is one bullet in a TurnSnapshot. VictimIndex is -1 until
// the bullet hits a robot.
type BulletSnapshot struct {
	BulletID    int32
	OwnerIndex  int32
	VictimIndex int32
	State       BulletState
	X           float64
	Y           float64
	Heading     float64
	Power       float64
	Frame       int32
}

// Robot returns the snapshot of the robot at index, or nil.
func (s *TurnSnapshot) Robot(index int) *RobotSnapshot {
	if index < 0 || index >= len(s.Robots) {
		return nil
	}
	return &s.Robots[index]
}

// AliveCount returns how many robots are still alive. Sentries are not
// counted.
func (s *TurnSnapshot) AliveCount() int {
	n := 0
	for i := range s.Robots {
		if s.Robots[i].State.Alive() && !s.Robots[i].IsSentry {
			n++
		}
	}
	return n
}
