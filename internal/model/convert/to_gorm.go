// Package convert provides functions to convert core battle types to GORM models
package convert

import (
	"encoding/json"
	"fmt"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"

	"github.com/OCAP2/arena/internal/model"
	"github.com/OCAP2/arena/pkg/core"
)

// point converts arena coordinates to a geom.Point. Non-finite coordinates
// are rejected.
func point(x, y float64) (geom.Point, error) {
	p, err := geom.NewPoint(geom.Coordinates{XY: geom.XY{X: x, Y: y}, Type: geom.DimXY})
	if err != nil {
		return geom.Point{}, fmt.Errorf("point (%v, %v): %w", x, y, err)
	}
	return p, nil
}

// toJSON marshals v for a JSON column, falling back to null.
func toJSON(v any) datatypes.JSON {
	data, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("null")
	}
	return datatypes.JSON(data)
}

// CoreToBattle converts a core.Battle to a GORM model.Battle.
// The robots are converted separately so they can be stamped with the
// database ID.
func CoreToBattle(b core.Battle) model.Battle {
	return model.Battle{
		BattleID:          b.ID,
		StartTime:         b.StartTime,
		BattlefieldWidth:  b.Rules.BattlefieldWidth,
		BattlefieldHeight: b.Rules.BattlefieldHeight,
		NumRounds:         b.Rules.NumRounds,
		Seed:              b.Rules.Seed,
		ProtocolVersion:   b.FormatVersion,
		Rules:             toJSON(b.Rules),
	}
}

// CoreToRobot converts a core.RobotStatics to a GORM model.Robot.
func CoreToRobot(s core.RobotStatics) model.Robot {
	return model.Robot{
		RobotIndex:   s.Index,
		Name:         s.Name,
		ShortName:    s.ShortName,
		Class:        s.Class.String(),
		TeamName:     s.TeamName,
		TeamIndex:    s.TeamIndex,
		IsTeamLeader: s.IsTeamLeader,
		IsSentry:     s.IsSentry,
	}
}

// CoreToRobotStates converts every robot in a snapshot that is still in the
// round. Dead robots stop producing rows.
func CoreToRobotStates(snap *core.TurnSnapshot) ([]model.RobotState, error) {
	out := make([]model.RobotState, 0, len(snap.Robots))
	for _, r := range snap.Robots {
		if !r.State.Alive() {
			continue
		}
		pos, err := point(r.X, r.Y)
		if err != nil {
			return nil, fmt.Errorf("robot %d: %w", r.Index, err)
		}
		out = append(out, model.RobotState{
			Round:        snap.Round,
			Turn:         snap.Turn,
			RobotIndex:   r.Index,
			State:        r.State.String(),
			Energy:       r.Energy,
			Position:     pos,
			BodyHeading:  r.BodyHeading,
			GunHeading:   r.GunHeading,
			RadarHeading: r.RadarHeading,
			Velocity:     r.Velocity,
			GunHeat:      r.GunHeat,
			SkippedTurns: r.SkippedTurns,
		})
	}
	return out, nil
}

// CoreToDeath converts a core.DeathRecord to a GORM model.Death.
func CoreToDeath(d core.DeathRecord) (model.Death, error) {
	site, err := point(d.X, d.Y)
	if err != nil {
		return model.Death{}, fmt.Errorf("death of robot %d: %w", d.RobotIndex, err)
	}
	return model.Death{
		Round:       d.Round,
		Turn:        d.Turn,
		RobotIndex:  d.RobotIndex,
		RobotName:   d.RobotName,
		Cause:       d.Cause.String(),
		KillerIndex: d.KillerIndex,
		Site:        site,
	}, nil
}

// CoreToDiagnostic converts a core.Diagnostic to a GORM model.Diagnostic.
func CoreToDiagnostic(d core.Diagnostic) model.Diagnostic {
	return model.Diagnostic{
		Time:       d.Time,
		Round:      d.Round,
		Turn:       d.Turn,
		RobotIndex: d.RobotIndex,
		RobotName:  d.RobotName,
		Behavior:   string(d.Behavior),
		Cause:      d.Cause.String(),
		Detail:     d.Detail,
	}
}

// CoreToRound converts a core.RoundResult to a GORM model.Round.
func CoreToRound(r core.RoundResult) model.Round {
	placements := r.Placements
	if placements == nil {
		placements = []int{}
	}
	return model.Round{
		Round:      r.Round,
		Turns:      r.Turns,
		Draw:       r.Draw,
		Placements: toJSON(placements),
		Scores:     toJSON(r.Scores),
	}
}

// CoreToScore converts a core.RobotScore to a GORM model.Score.
func CoreToScore(s core.RobotScore) model.Score {
	return model.Score{
		RobotIndex:        s.Index,
		Name:              s.Name,
		TeamName:          s.TeamName,
		Rank:              s.Rank,
		Total:             s.Total,
		Survival:          s.Survival,
		LastSurvivorBonus: s.LastSurvivorBonus,
		BulletDamage:      s.BulletDamage,
		BulletKillBonus:   s.BulletKillBonus,
		RamDamage:         s.RamDamage,
		RamKillBonus:      s.RamKillBonus,
		Firsts:            s.Firsts,
		Seconds:           s.Seconds,
		Thirds:            s.Thirds,
		NonScoring:        s.NonScoring,
	}
}
