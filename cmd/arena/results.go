package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/OCAP2/arena/pkg/core"
)

// printResults writes the ranking table and any terminations.
func printResults(w io.Writer, b core.Battle, r *core.BattleResults) {
	status := "completed"
	if r.Aborted {
		status = "aborted"
	}
	fmt.Fprintf(w, "battle %s %s after %d rounds in %s\n\n", r.BattleID, status, len(r.Rounds), r.EndTime.Sub(r.StartTime).Round(time.Millisecond))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "rank\trobot\ttotal\tsurvival\tbonus\tbullet\tkill\tram\tram kill\t1st\t2nd\t3rd\t")
	for _, s := range r.Scores {
		name := s.Name
		if s.NonScoring {
			name += " *"
		}
		fmt.Fprintf(tw, "%d\t%s\t%.0f\t%.0f\t%.0f\t%.0f\t%.0f\t%.0f\t%.0f\t%d\t%d\t%d\t\n",
			s.Rank, name, s.Total, s.Survival, s.LastSurvivorBonus,
			s.BulletDamage, s.BulletKillBonus, s.RamDamage, s.RamKillBonus,
			s.Firsts, s.Seconds, s.Thirds)
	}
	_ = tw.Flush()

	if len(r.Terminations) == 0 {
		return
	}
	fmt.Fprintln(w, "\nterminated:")
	for _, t := range r.Terminations {
		fmt.Fprintf(w, "  %s: %s (round %d, turn %d)\n", t.RobotName, t.Cause, t.Round, t.Turn)
	}
	if len(b.Robots) > 0 {
		fmt.Fprintf(w, "  %d of %d robots affected\n", len(r.Terminations), len(b.Robots))
	}
}
