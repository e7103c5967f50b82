// pkg/core/errors.go
package core

import (
	"errors"
	"fmt"
	"time"
)

// Fault taxonomy. Everything raised inside a unit or on the wire wraps one of
// these so callers can classify it with errors.Is.
var (
	ErrSecurityViolation = errors.New("security violation")
	ErrQuotaExceeded     = errors.New("quota exceeded")
	ErrSkippedTurn       = errors.New("skipped turn")
	ErrFatalRuntimeFault = errors.New("fatal runtime fault")
	ErrProtocolDecode    = errors.New("protocol decode error")
)

// Behavior classifies a diagnostic.
type Behavior string

const (
	BehaviorSkippedTurn       Behavior = "SKIPPED_TURN"
	BehaviorSecurityViolation Behavior = "SECURITY_VIOLATION"
	BehaviorCannotStart       Behavior = "CANNOT_START"
	BehaviorUnstoppable       Behavior = "UNSTOPPABLE"
	BehaviorFatalFault        Behavior = "FATAL_FAULT"
	BehaviorProtocolError     Behavior = "PROTOCOL_ERROR"
	BehaviorQuotaExceeded     Behavior = "QUOTA_EXCEEDED"
)

// BehaviorFor maps a fault to its diagnostic class.
func BehaviorFor(err error) Behavior {
	switch {
	case errors.Is(err, ErrSecurityViolation):
		return BehaviorSecurityViolation
	case errors.Is(err, ErrQuotaExceeded):
		return BehaviorQuotaExceeded
	case errors.Is(err, ErrSkippedTurn):
		return BehaviorSkippedTurn
	case errors.Is(err, ErrProtocolDecode):
		return BehaviorProtocolError
	default:
		return BehaviorFatalFault
	}
}

// Diagnostic is a structured record of one bad behavior.
type Diagnostic struct {
	Time       time.Time
	RobotIndex int
	RobotName  string
	Behavior   Behavior
	Cause      DeathCause
	Round      int
	Turn       int
	Detail     string
}

func (d Diagnostic) String() string {
	return fmt.Sprintf("%s: %s at round %d turn %d (%s)", d.RobotName, d.Behavior, d.Round, d.Turn, d.Detail)
}
