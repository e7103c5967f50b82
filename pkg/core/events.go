// pkg/core/events.go
package core

import "fmt"

// EventKind identifies what happened to a robot during a turn.
type EventKind uint8

const (
	EventScannedRobot EventKind = iota + 1
	EventHitByBullet
	EventBulletHit
	EventBulletMissed
	EventBulletHitBullet
	EventHitWall
	EventHitRobot
	EventRobotDeath
	EventDeath
	EventWin
	EventSkippedTurn
	EventRoundEnded
	EventCustomCondition
)

var eventNames = map[EventKind]string{
	EventScannedRobot:    "scanned_robot",
	EventHitByBullet:     "hit_by_bullet",
	EventBulletHit:       "bullet_hit",
	EventBulletMissed:    "bullet_missed",
	EventBulletHitBullet: "bullet_hit_bullet",
	EventHitWall:         "hit_wall",
	EventHitRobot:        "hit_robot",
	EventRobotDeath:      "robot_death",
	EventDeath:           "death",
	EventWin:             "win",
	EventSkippedTurn:     "skipped_turn",
	EventRoundEnded:      "round_ended",
	EventCustomCondition: "custom_condition",
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", k)
}

// Valid reports whether k is a known kind.
func (k EventKind) Valid() bool {
	_, ok := eventNames[k]
	return ok
}

// DefaultPriority is the delivery priority before a robot tunes it.
// Higher priorities are delivered first.
func (k EventKind) DefaultPriority() int32 {
	switch k {
	case EventScannedRobot:
		return 10
	case EventHitByBullet:
		return 20
	case EventHitWall:
		return 30
	case EventHitRobot:
		return 40
	case EventBulletHit:
		return 50
	case EventBulletHitBullet:
		return 55
	case EventBulletMissed:
		return 60
	case EventRobotDeath:
		return 70
	case EventCustomCondition:
		return 80
	default:
		return 100
	}
}

// RobotEvent is delivered to one robot in its next IntentResult. Angles are
// radians; Bearing is relative to the receiver's body heading.
type RobotEvent struct {
	Kind     EventKind
	Time     int64
	Priority int32
	Name     *string
	Bearing  float64
	Distance float64
	Heading  float64
	Velocity float64
	Energy   float64
	Power    float64
	BulletID int32
}

// NewEvent builds an event with the kind's default priority.
func NewEvent(kind EventKind, time int64) RobotEvent {
	return RobotEvent{Kind: kind, Time: time, Priority: kind.DefaultPriority()}
}
