package v1

import (
	"math"
	"sort"
	"time"

	"github.com/OCAP2/arena/pkg/core"
)

// Version is written into every export.
const Version = 1

// BattleData contains all the data needed to build an export
type BattleData struct {
	Battle  *core.Battle
	Robots  map[int]*RobotRecord
	Bullets []*BulletRecord

	Turns       int
	Events      []core.TurnEvent
	EventTimes  []Stamp // parallel to Events
	Deaths      []core.DeathRecord
	Diagnostics []core.Diagnostic
	Rounds      []core.RoundResult
	Results     *core.BattleResults
}

// Stamp places a recorded item in the battle.
type Stamp struct {
	Round int32
	Turn  int32
}

// RobotRecord groups a robot with its per-turn states
type RobotRecord struct {
	Statics core.RobotStatics
	States  []RobotState
}

// RobotState is one robot at a turn boundary.
type RobotState struct {
	Stamp
	core.RobotSnapshot
}

// BulletRecord is a bullet's flight.
type BulletRecord struct {
	Round       int32
	BulletID    int32
	OwnerIndex  int32
	VictimIndex int32
	Power       float64
	FiredTurn   int32
	EndTurn     int32
	EndState    core.BulletState
	Path        [][2]float64
}

// Build creates an Export from the battle data
func Build(data *BattleData) Export {
	b := data.Battle
	export := Export{
		FormatVersion:   Version,
		ProtocolVersion: b.FormatVersion,
		BattleID:        b.ID,
		StartTime:       b.StartTime.UTC().Format(time.RFC3339),
		Battlefield:     [2]int{b.Rules.BattlefieldWidth, b.Rules.BattlefieldHeight},
		NumRounds:       b.Rules.NumRounds,
		Seed:            b.Rules.Seed,
		EndTurn:         data.Turns,
		Robots:          make([]Robot, 0, len(data.Robots)),
		Bullets:         make([][]any, 0, len(data.Bullets)),
		Events:          make([][]any, 0),
		Rounds:          make([]Round, 0, len(data.Rounds)),
		Scores:          make([]Score, 0),
	}

	// The frontend indexes robots by position, so order by robot index.
	indices := make([]int, 0, len(data.Robots))
	for i := range data.Robots {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	for _, i := range indices {
		record := data.Robots[i]
		robot := Robot{
			Index:     record.Statics.Index,
			Name:      record.Statics.Name,
			ShortName: record.Statics.ShortName,
			Class:     record.Statics.Class.String(),
			TeamName:  record.Statics.TeamName,
			Leader:    record.Statics.IsTeamLeader,
			Sentry:    record.Statics.IsSentry,
			Positions: make([][]any, 0, len(record.States)),
		}
		// Format: [round, turn, [x, y], body, gun, radar, energy, state]
		for _, s := range record.States {
			robot.Positions = append(robot.Positions, []any{
				s.Round,
				s.Turn,
				[]float64{round2(s.X), round2(s.Y)},
				round2(degrees(s.BodyHeading)),
				round2(degrees(s.GunHeading)),
				round2(degrees(s.RadarHeading)),
				round2(s.Energy),
				s.State.String(),
			})
		}
		export.Robots = append(export.Robots, robot)
	}

	// Format: [round, bulletId, owner, victim, power, firedTurn, endTurn, endState, [[x, y], ...]]
	for _, bl := range data.Bullets {
		path := make([][]float64, 0, len(bl.Path))
		for _, p := range bl.Path {
			path = append(path, []float64{round2(p[0]), round2(p[1])})
		}
		export.Bullets = append(export.Bullets, []any{
			bl.Round,
			bl.BulletID,
			bl.OwnerIndex,
			bl.VictimIndex,
			bl.Power,
			bl.FiredTurn,
			bl.EndTurn,
			bl.EndState.String(),
			path,
		})
	}

	// Format: [round, turn, "kind", robotIndex, ...]
	for i, e := range data.Events {
		at := data.EventTimes[i]
		export.Events = append(export.Events, []any{
			at.Round, at.Turn, e.Event.Kind.String(), e.RobotIndex, e.Event.BulletID,
		})
	}
	for _, d := range data.Deaths {
		export.Events = append(export.Events, []any{
			d.Round, d.Turn, "killed", d.RobotIndex, d.KillerIndex, d.Cause.String(),
		})
	}
	for _, d := range data.Diagnostics {
		export.Events = append(export.Events, []any{
			d.Round, d.Turn, "behavior", d.RobotIndex, string(d.Behavior), d.Detail,
		})
	}
	// Events must be in order for playback
	sort.SliceStable(export.Events, func(i, j int) bool {
		ri, rj := toInt(export.Events[i][0]), toInt(export.Events[j][0])
		if ri != rj {
			return ri < rj
		}
		return toInt(export.Events[i][1]) < toInt(export.Events[j][1])
	})

	for _, r := range data.Rounds {
		placements := r.Placements
		if placements == nil {
			placements = []int{}
		}
		export.Rounds = append(export.Rounds, Round{
			Round:      r.Round,
			Turns:      r.Turns,
			Draw:       r.Draw,
			Placements: placements,
		})
	}

	if data.Results != nil {
		export.Aborted = data.Results.Aborted
		if !data.Results.EndTime.IsZero() {
			export.EndTime = data.Results.EndTime.UTC().Format(time.RFC3339)
		}
		for _, s := range data.Results.Scores {
			export.Scores = append(export.Scores, Score{
				Index:        s.Index,
				Name:         s.Name,
				Rank:         s.Rank,
				Total:        round2(s.Total),
				Survival:     round2(s.Survival),
				LastSurvivor: round2(s.LastSurvivorBonus),
				BulletDamage: round2(s.BulletDamage),
				BulletKill:   round2(s.BulletKillBonus),
				RamDamage:    round2(s.RamDamage),
				RamKill:      round2(s.RamKillBonus),
				Firsts:       s.Firsts,
				Seconds:      s.Seconds,
				Thirds:       s.Thirds,
			})
		}
	}

	return export
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	}
	return 0
}
