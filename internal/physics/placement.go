package physics

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"strings"

	"github.com/OCAP2/arena/pkg/core"
)

type placement struct {
	x, y, heading float64
}

// startSpec is one "(x,y,heading)" entry; nil fields are random.
type startSpec struct {
	x, y, heading *float64
}

// ValidateInitialPositions checks the syntax of an initial positions string.
func ValidateInitialPositions(s string) error {
	_, err := parseInitialPositions(s)
	return err
}

// parseInitialPositions reads "(x,y,heading),..." with headings in degrees
// and "?" for a random value.
func parseInitialPositions(s string) ([]startSpec, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	var specs []startSpec
	for _, part := range strings.Split(s, "),") {
		part = strings.Trim(strings.TrimSpace(part), "()")
		fields := strings.Split(part, ",")
		if len(fields) != 3 {
			return nil, fmt.Errorf("initial position %q: want x,y,heading", part)
		}
		var values [3]*float64
		for i, f := range fields {
			f = strings.TrimSpace(f)
			if f == "?" {
				continue
			}
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("initial position %q: %w", part, err)
			}
			values[i] = &v
		}
		if values[2] != nil {
			h := normalizeAbsolute(*values[2] * math.Pi / 180)
			values[2] = &h
		}
		specs = append(specs, startSpec{x: values[0], y: values[1], heading: values[2]})
	}
	return specs, nil
}

// placements returns a start position for every robot. Random values come
// from a generator seeded with Seed+round, so a round always starts the same.
// With sentries in the battle, sentries start in the border band and
// everyone else inside the safe zone.
func (w *World) placements(round int32) ([]placement, error) {
	specs, err := parseInitialPositions(w.rules.InitialPositions)
	if err != nil {
		return nil, err
	}

	width, height := float64(w.rules.BattlefieldWidth), float64(w.rules.BattlefieldHeight)
	rng := rand.New(rand.NewSource(w.rules.Seed + int64(round)))
	sentries := w.hasSentries()

	out := make([]placement, len(w.robots))
	for i := range w.robots {
		var spec startSpec
		if i < len(specs) {
			spec = specs[i]
		}

		placed := false
		for attempt := 0; attempt < 1000 && !placed; attempt++ {
			var p placement
			switch {
			case w.sentry(i):
				p = w.sentryPlacement(rng)
			case sentries:
				p = w.safePlacement(rng)
			default:
				p = placement{
					x:       halfSize + rng.Float64()*(width-RobotSize),
					y:       halfSize + rng.Float64()*(height-RobotSize),
					heading: rng.Float64() * 2 * math.Pi,
				}
			}
			if spec.x != nil {
				p.x = *spec.x
			}
			if spec.y != nil {
				p.y = *spec.y
			}
			if spec.heading != nil {
				p.heading = *spec.heading
			}
			if p.x < halfSize || p.x > width-halfSize || p.y < halfSize || p.y > height-halfSize {
				return nil, fmt.Errorf("initial position %d (%.1f, %.1f) is outside the battlefield", i, p.x, p.y)
			}

			placed = true
			for j := 0; j < i; j++ {
				if robotBox(p.x, p.y).intersects(robotBox(out[j].x, out[j].y)) {
					placed = false
					break
				}
			}
			if placed || (spec.x != nil && spec.y != nil) {
				out[i] = p
				placed = true
			}
		}
		if !placed {
			return nil, fmt.Errorf("no room to place robot %d", i)
		}
	}
	return out, nil
}

// RoundStandings returns robot indices from winner to first eliminated and
// the round scores with firsts, seconds and thirds filled in. Sentries come
// last, unranked and with no score.
func (w *World) RoundStandings() ([]int, []core.RobotScore) {
	var survivors []int
	for i, r := range w.robots {
		if r.state.Alive() && !r.statics.IsSentry {
			survivors = append(survivors, i)
		}
	}
	sort.SliceStable(survivors, func(a, b int) bool {
		ea, eb := w.robots[survivors[a]].energy, w.robots[survivors[b]].energy
		if ea != eb {
			return ea > eb
		}
		return survivors[a] < survivors[b]
	})

	placements := append([]int(nil), survivors...)
	for k := len(w.eliminated) - 1; k >= 0; k-- {
		if !w.sentry(w.eliminated[k]) {
			placements = append(placements, w.eliminated[k])
		}
	}
	ranked := len(placements)
	for i, r := range w.robots {
		if r.statics.IsSentry {
			placements = append(placements, i)
		}
	}

	scores := make([]core.RobotScore, len(w.robots))
	for i, r := range w.robots {
		if r.statics.IsSentry {
			scores[i] = core.RobotScore{Index: i, Name: r.statics.Name, TeamName: r.statics.TeamName}
			continue
		}
		scores[i] = r.score
		scores[i].Sum()
	}
	for rank, idx := range placements[:ranked] {
		switch rank {
		case 0:
			scores[idx].Firsts++
		case 1:
			scores[idx].Seconds++
		case 2:
			scores[idx].Thirds++
		}
		scores[idx].Rank = rank + 1
	}
	return placements, scores
}
