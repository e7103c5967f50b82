// pkg/core/rules.go
package core

import (
	"fmt"
	"strings"
	"time"
)

// Defaults used when a battle does not override them.
const (
	DefaultBattlefieldWidth  = 800
	DefaultBattlefieldHeight = 600
	DefaultNumRounds         = 10
	DefaultGunCoolingRate    = 0.1
	DefaultInactivityTime    = 450
	DefaultMaxTurns          = 10000
	DefaultFileQuota         = 200000
	DefaultTurnTimeout       = 30 * time.Millisecond
	DefaultMaxSkippedTurns   = 3
	DefaultSentryBorderSize  = 100
)

// BattleRules is fixed for the lifetime of a battle.
type BattleRules struct {
	BattlefieldWidth  int
	BattlefieldHeight int
	NumRounds         int
	GunCoolingRate    float64
	InactivityTime    int
	MaxTurns          int
	FileQuota         int64
	TurnTimeout       time.Duration
	MaxSkippedTurns   int
	Seed              int64
	// SentryBorderSize is the width of the band along the walls that sentry
	// robots patrol. Zero means DefaultSentryBorderSize.
	SentryBorderSize int
	// InitialPositions is "(x,y,heading),..." with "?" for random values.
	InitialPositions string
}

// DefaultRules returns the classic 800x600 ten-round setup.
func DefaultRules() BattleRules {
	return BattleRules{
		BattlefieldWidth:  DefaultBattlefieldWidth,
		BattlefieldHeight: DefaultBattlefieldHeight,
		NumRounds:         DefaultNumRounds,
		GunCoolingRate:    DefaultGunCoolingRate,
		InactivityTime:    DefaultInactivityTime,
		MaxTurns:          DefaultMaxTurns,
		FileQuota:         DefaultFileQuota,
		TurnTimeout:       DefaultTurnTimeout,
		MaxSkippedTurns:   DefaultMaxSkippedTurns,
		SentryBorderSize:  DefaultSentryBorderSize,
	}
}

// SentryBorder returns the sentry border width in effect.
func (r BattleRules) SentryBorder() int {
	if r.SentryBorderSize == 0 {
		return DefaultSentryBorderSize
	}
	return r.SentryBorderSize
}

// Limits on the sentry border: wide enough for a sentry to fit, narrow
// enough to leave a safe zone.
const (
	minSentryBorder = 50
	minSafeZone     = 100
)

// Validate reports the first out-of-range field.
func (r BattleRules) Validate() error {
	switch {
	case r.BattlefieldWidth < 400 || r.BattlefieldWidth > 5000:
		return fmt.Errorf("battlefield width %d out of range [400, 5000]", r.BattlefieldWidth)
	case r.BattlefieldHeight < 400 || r.BattlefieldHeight > 5000:
		return fmt.Errorf("battlefield height %d out of range [400, 5000]", r.BattlefieldHeight)
	case r.NumRounds < 1:
		return fmt.Errorf("number of rounds must be positive, got %d", r.NumRounds)
	case r.GunCoolingRate <= 0 || r.GunCoolingRate > 0.7:
		return fmt.Errorf("gun cooling rate %v out of range (0, 0.7]", r.GunCoolingRate)
	case r.InactivityTime < 0:
		return fmt.Errorf("inactivity time must not be negative, got %d", r.InactivityTime)
	case r.MaxTurns < 1:
		return fmt.Errorf("max turns must be positive, got %d", r.MaxTurns)
	case r.FileQuota < 0:
		return fmt.Errorf("file quota must not be negative, got %d", r.FileQuota)
	case r.TurnTimeout <= 0:
		return fmt.Errorf("turn timeout must be positive, got %s", r.TurnTimeout)
	case r.MaxSkippedTurns < 1:
		return fmt.Errorf("max skipped turns must be positive, got %d", r.MaxSkippedTurns)
	case r.SentryBorderSize < 0 || (r.SentryBorderSize > 0 && r.SentryBorderSize < minSentryBorder):
		return fmt.Errorf("sentry border size %d must be at least %d", r.SentryBorderSize, minSentryBorder)
	case 2*r.SentryBorder() > min(r.BattlefieldWidth, r.BattlefieldHeight)-minSafeZone:
		return fmt.Errorf("sentry border size %d leaves no safe zone on a %dx%d battlefield",
			r.SentryBorderSize, r.BattlefieldWidth, r.BattlefieldHeight)
	}
	return nil
}

// CapabilityClass is the robot type, ordered from least to most privileged.
type CapabilityClass uint8

const (
	ClassBasic CapabilityClass = iota
	ClassStandard
	ClassAdvanced
	ClassTeam
)

var classNames = [...]string{"basic", "standard", "advanced", "team"}

func (c CapabilityClass) String() string {
	if int(c) < len(classNames) {
		return classNames[c]
	}
	return fmt.Sprintf("class(%d)", c)
}

// Includes reports whether c grants everything other grants.
func (c CapabilityClass) Includes(other CapabilityClass) bool {
	return c >= other
}

// ParseCapabilityClass accepts the lowercase class names.
func ParseCapabilityClass(s string) (CapabilityClass, error) {
	for i, name := range classNames {
		if strings.EqualFold(s, name) {
			return CapabilityClass(i), nil
		}
	}
	return 0, fmt.Errorf("unknown capability class: %q", s)
}

// RobotDescriptor is what the loader hands the scheduler for each robot.
type RobotDescriptor struct {
	Name     string
	Entry    string
	Class    CapabilityClass
	TeamName string
	// Sentry robots guard the border and take no part in the scoring.
	Sentry bool
}

// RobotStatics never change after the battle starts. TeamIndex identifies the
// contestant: robots without a team are their own contestant.
type RobotStatics struct {
	Index        int
	Name         string
	ShortName    string
	Class        CapabilityClass
	TeamName     string
	TeamIndex    int
	IsTeamLeader bool
	TeamMembers  []string
	IsSentry     bool
}

// InTeam reports whether the robot belongs to a team.
func (s RobotStatics) InTeam() bool {
	return s.TeamName != ""
}
