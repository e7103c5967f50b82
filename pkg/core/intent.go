// pkg/core/intent.go
package core

// IntentCommand is everything a robot asks for in one turn. Turn amounts are
// radians, distance is pixels; positive turns are clockwise.
type IntentCommand struct {
	BodyTurnRemaining  float64
	RadarTurnRemaining float64
	GunTurnRemaining   float64
	DistanceRemaining  float64

	AdjustGunForBodyTurn   bool
	AdjustRadarForGunTurn  bool
	AdjustRadarForBodyTurn bool

	MaxTurnRate float64
	MaxVelocity float64
	Scan        bool

	OutputText *string

	Bullets         []BulletCommand
	TeamMessages    []TeamMessage
	DebugProperties []DebugProperty
}

// BulletCommand asks for one bullet to be fired this turn.
type BulletCommand struct {
	Power           float64
	FireAssistValid bool
	FireAssistAngle float64
	BulletID        int32
}

// TeamMessage travels between teammates. A nil Recipient broadcasts.
type TeamMessage struct {
	Sender    string
	Recipient *string
	Message   []byte
}

// DebugProperty is a key/value a robot exposes for observers. A nil Value
// removes the key.
type DebugProperty struct {
	Key   string
	Value *string
}

// IntentResult is what the robot gets back after a turn is resolved.
type IntentResult struct {
	Status        RobotStatus
	Events        []RobotEvent
	TeamMessages  []TeamMessage
	BulletUpdates []BulletStatus
	// Halt tells the robot to stop; the unit is about to be torn down.
	Halt bool
}

// RobotStatus is the robot's own view of itself.
type RobotStatus struct {
	Energy             float64
	X                  float64
	Y                  float64
	BodyHeading        float64
	GunHeading         float64
	RadarHeading       float64
	Velocity           float64
	BodyTurnRemaining  float64
	RadarTurnRemaining float64
	GunTurnRemaining   float64
	DistanceRemaining  float64
	GunHeat            float64
	Others             int32
	Round              int32
	NumRounds          int32
	Time               int64
}

// BulletStatus tells an owner where its bullet is.
type BulletStatus struct {
	BulletID   int32
	X          float64
	Y          float64
	VictimName *string
	Active     bool
}
