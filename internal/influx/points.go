package influx

import (
	"strconv"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/OCAP2/arena/pkg/core"
)

// Sample is a point and the bucket it belongs in.
type Sample struct {
	Bucket string
	Point  *influxdb2_write.Point
}

// TurnSamples describes one resolved turn: a battle level point with turn
// timing and one point per robot with its kinematics.
func TurnSamples(rec core.TurnRecord, at time.Time) []Sample {
	snap := rec.Snapshot
	if snap == nil {
		return nil
	}
	round := strconv.Itoa(int(snap.Round))

	out := make([]Sample, 0, len(snap.Robots)+1)
	out = append(out, Sample{
		Bucket: BucketPerformance,
		Point: influxdb2_write.NewPoint("turn",
			map[string]string{"battle": rec.BattleID, "round": round},
			map[string]interface{}{
				"turn":        int64(snap.Turn),
				"alive":       int64(snap.AliveCount()),
				"bullets":     int64(len(snap.Bullets)),
				"events":      int64(len(rec.Events)),
				"duration_ms": float64(rec.Duration) / float64(time.Millisecond),
			},
			at),
	})

	for _, r := range snap.Robots {
		if !r.State.Alive() {
			continue
		}
		out = append(out, Sample{
			Bucket: BucketRobots,
			Point: influxdb2_write.NewPoint("robot",
				map[string]string{"battle": rec.BattleID, "round": round, "robot": r.Name},
				map[string]interface{}{
					"turn":          int64(snap.Turn),
					"energy":        r.Energy,
					"x":             r.X,
					"y":             r.Y,
					"velocity":      r.Velocity,
					"gun_heat":      r.GunHeat,
					"skipped_turns": int64(r.SkippedTurns),
				},
				at),
		})
	}
	return out
}

// DeathSample records a robot leaving a round.
func DeathSample(d core.DeathRecord, at time.Time) Sample {
	return Sample{
		Bucket: BucketBattles,
		Point: influxdb2_write.NewPoint("death",
			map[string]string{
				"battle": d.BattleID,
				"robot":  d.RobotName,
				"cause":  d.Cause.String(),
			},
			map[string]interface{}{
				"round":  int64(d.Round),
				"turn":   int64(d.Turn),
				"x":      d.X,
				"y":      d.Y,
				"killer": int64(d.KillerIndex),
			},
			at),
	}
}

// BehaviorSample records one diagnostic.
func BehaviorSample(battleID string, d core.Diagnostic) Sample {
	return Sample{
		Bucket: BucketBattles,
		Point: influxdb2_write.NewPoint("bad_behavior",
			map[string]string{
				"battle":   battleID,
				"robot":    d.RobotName,
				"behavior": string(d.Behavior),
			},
			map[string]interface{}{
				"round": int64(d.Round),
				"turn":  int64(d.Turn),
			},
			d.Time),
	}
}

// RoundSamples records each robot's round score.
func RoundSamples(rr core.RoundResult, at time.Time) []Sample {
	out := make([]Sample, 0, len(rr.Scores))
	for _, s := range rr.Scores {
		out = append(out, Sample{
			Bucket: BucketBattles,
			Point: influxdb2_write.NewPoint("round_score",
				map[string]string{"battle": rr.BattleID, "robot": s.Name},
				map[string]interface{}{
					"round": int64(rr.Round),
					"rank":  int64(s.Rank),
					"total": s.Total,
					"turns": int64(rr.Turns),
				},
				at),
		})
	}
	return out
}
