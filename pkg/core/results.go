// pkg/core/results.go
package core

import "time"

// Battle identifies one run of the scheduler.
type Battle struct {
	ID            string
	StartTime     time.Time
	Rules         BattleRules
	Robots        []RobotStatics
	FormatVersion uint32
}

// TurnEvent is a robot event tagged with its receiver, for observers.
type TurnEvent struct {
	RobotIndex int
	Event      RobotEvent
}

// TurnRecord is what observers receive after every resolved turn.
type TurnRecord struct {
	BattleID string
	Snapshot *TurnSnapshot
	Events   []TurnEvent
	Digest   string
	Duration time.Duration
}

// DeathRecord describes one robot leaving a round. KillerIndex is -1 when no
// robot is credited.
type DeathRecord struct {
	BattleID    string
	Round       int
	Turn        int
	RobotIndex  int
	RobotName   string
	Cause       DeathCause
	X           float64
	Y           float64
	KillerIndex int
}

// Termination is a robot removed for bad behavior.
type Termination struct {
	RobotIndex int
	RobotName  string
	Cause      DeathCause
	Round      int
	Turn       int
}

// RobotScore is the scoring breakdown for one robot.
type RobotScore struct {
	Index             int
	Name              string
	TeamName          string
	Rank              int
	Total             float64
	Survival          float64
	LastSurvivorBonus float64
	BulletDamage      float64
	BulletKillBonus   float64
	RamDamage         float64
	RamKillBonus      float64
	Firsts            int
	Seconds           int
	Thirds            int
	NonScoring        bool
}

// Sum recomputes Total from the components.
func (s *RobotScore) Sum() {
	s.Total = s.Survival + s.LastSurvivorBonus + s.BulletDamage + s.BulletKillBonus + s.RamDamage + s.RamKillBonus
}

// Add accumulates other into s.
func (s *RobotScore) Add(other RobotScore) {
	s.Survival += other.Survival
	s.LastSurvivorBonus += other.LastSurvivorBonus
	s.BulletDamage += other.BulletDamage
	s.BulletKillBonus += other.BulletKillBonus
	s.RamDamage += other.RamDamage
	s.RamKillBonus += other.RamKillBonus
	s.Firsts += other.Firsts
	s.Seconds += other.Seconds
	s.Thirds += other.Thirds
	s.Sum()
}

// RoundResult closes one round. Placements lists robot indices from first
// to last; Draw is set when no robot survived.
type RoundResult struct {
	BattleID   string
	Round      int
	Turns      int
	Draw       bool
	Placements []int
	Scores     []RobotScore
}

// BattleResults is the final outcome of a battle.
type BattleResults struct {
	BattleID     string
	StartTime    time.Time
	EndTime      time.Time
	Aborted      bool
	Rounds       []RoundResult
	Scores       []RobotScore
	Terminations []Termination
	Diagnostics  []Diagnostic
}

// Winner returns the top ranked score, if any robot scored.
func (r *BattleResults) Winner() (RobotScore, bool) {
	if len(r.Scores) == 0 {
		return RobotScore{}, false
	}
	return r.Scores[0], true
}

// UploadMetadata accompanies an exported recording sent to a results server.
type UploadMetadata struct {
	BattleID string
	Name     string
	Rounds   int
	Duration float64
	Tag      string
}
