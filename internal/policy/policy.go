// Package policy decides what a robot may do. Check is a pure function of
// the robot's capability class and the requested operation; nothing else
// influences the answer.
package policy

import (
	"fmt"

	"github.com/OCAP2/arena/pkg/core"
)

// Operation is anything a robot can ask its unit to do.
type Operation uint8

const (
	OpMove Operation = iota
	OpTurnBody
	OpTurnGun
	OpTurnRadar
	OpFire
	OpScan
	OpSetColors
	OpPrint
	OpDebugProperty
	OpPrivateStorage

	OpIndependentGun
	OpIndependentRadar
	OpSetMaxVelocity
	OpSetMaxTurnRate

	OpEventPriority
	OpCustomCondition

	OpSendMessage
	OpBroadcastMessage

	OpForeignFilesystem
	OpProcessSpawn
	OpNetworkAccess
	OpPeerStateAccess

	opCount
)

var opNames = [opCount]string{
	OpMove:              "move",
	OpTurnBody:          "turn body",
	OpTurnGun:           "turn gun",
	OpTurnRadar:         "turn radar",
	OpFire:              "fire",
	OpScan:              "scan",
	OpSetColors:         "set colors",
	OpPrint:             "print",
	OpDebugProperty:     "set debug property",
	OpPrivateStorage:    "use private storage",
	OpIndependentGun:    "turn gun independently",
	OpIndependentRadar:  "turn radar independently",
	OpSetMaxVelocity:    "set max velocity",
	OpSetMaxTurnRate:    "set max turn rate",
	OpEventPriority:     "set event priority",
	OpCustomCondition:   "add custom condition",
	OpSendMessage:       "send team message",
	OpBroadcastMessage:  "broadcast team message",
	OpForeignFilesystem: "access filesystem outside private storage",
	OpProcessSpawn:      "spawn process",
	OpNetworkAccess:     "open network connection",
	OpPeerStateAccess:   "access another robot's state",
}

func (op Operation) String() string {
	if op < opCount {
		return opNames[op]
	}
	return fmt.Sprintf("operation(%d)", op)
}

type rule struct {
	minimum core.CapabilityClass
	never   bool
}

var rules = [opCount]rule{
	OpMove:           {minimum: core.ClassBasic},
	OpTurnBody:       {minimum: core.ClassBasic},
	OpTurnGun:        {minimum: core.ClassBasic},
	OpTurnRadar:      {minimum: core.ClassBasic},
	OpFire:           {minimum: core.ClassBasic},
	OpScan:           {minimum: core.ClassBasic},
	OpSetColors:      {minimum: core.ClassBasic},
	OpPrint:          {minimum: core.ClassBasic},
	OpDebugProperty:  {minimum: core.ClassBasic},
	OpPrivateStorage: {minimum: core.ClassBasic},

	OpIndependentGun:   {minimum: core.ClassStandard},
	OpIndependentRadar: {minimum: core.ClassStandard},
	OpSetMaxVelocity:   {minimum: core.ClassStandard},
	OpSetMaxTurnRate:   {minimum: core.ClassStandard},

	OpEventPriority:   {minimum: core.ClassAdvanced},
	OpCustomCondition: {minimum: core.ClassAdvanced},

	OpSendMessage:      {minimum: core.ClassTeam},
	OpBroadcastMessage: {minimum: core.ClassTeam},

	OpForeignFilesystem: {never: true},
	OpProcessSpawn:      {never: true},
	OpNetworkAccess:     {never: true},
	OpPeerStateAccess:   {never: true},
}

// Allowed reports whether class may perform op.
func Allowed(class core.CapabilityClass, op Operation) bool {
	if op >= opCount {
		return false
	}
	r := rules[op]
	return !r.never && class.Includes(r.minimum)
}

// Check returns nil when class may perform op and a security violation
// otherwise. Unknown operations are denied.
func Check(class core.CapabilityClass, op Operation) error {
	if Allowed(class, op) {
		return nil
	}
	return fmt.Errorf("%w: %s robot may not %s", core.ErrSecurityViolation, class, op)
}

// ValidateIntent applies Check to everything a decoded intent asks for.
// Zero values for MaxVelocity and MaxTurnRate mean "rule maximum" and need
// no privilege.
func ValidateIntent(class core.CapabilityClass, cmd *core.IntentCommand) error {
	var ops []Operation
	if cmd.DistanceRemaining != 0 {
		ops = append(ops, OpMove)
	}
	if cmd.BodyTurnRemaining != 0 {
		ops = append(ops, OpTurnBody)
	}
	if cmd.GunTurnRemaining != 0 {
		ops = append(ops, OpTurnGun)
	}
	if cmd.RadarTurnRemaining != 0 {
		ops = append(ops, OpTurnRadar)
	}
	if cmd.AdjustGunForBodyTurn {
		ops = append(ops, OpIndependentGun)
	}
	if cmd.AdjustRadarForGunTurn || cmd.AdjustRadarForBodyTurn {
		ops = append(ops, OpIndependentRadar)
	}
	if cmd.MaxVelocity != 0 {
		ops = append(ops, OpSetMaxVelocity)
	}
	if cmd.MaxTurnRate != 0 {
		ops = append(ops, OpSetMaxTurnRate)
	}
	if cmd.Scan {
		ops = append(ops, OpScan)
	}
	if cmd.OutputText != nil {
		ops = append(ops, OpPrint)
	}
	if len(cmd.Bullets) > 0 {
		ops = append(ops, OpFire)
	}
	if len(cmd.DebugProperties) > 0 {
		ops = append(ops, OpDebugProperty)
	}
	for _, m := range cmd.TeamMessages {
		if m.Recipient == nil {
			ops = append(ops, OpBroadcastMessage)
		} else {
			ops = append(ops, OpSendMessage)
		}
	}

	for _, op := range ops {
		if err := Check(class, op); err != nil {
			return err
		}
	}
	return nil
}
