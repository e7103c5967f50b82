package recording

import (
	"errors"
	"fmt"
	"io"

	"github.com/OCAP2/arena/internal/physics"
	"github.com/OCAP2/arena/internal/protocol"
	"github.com/OCAP2/arena/pkg/core"
)

// DivergenceError is the first turn whose recomputed digest differs.
type DivergenceError struct {
	Round int32
	Turn  int32
	Want  string
	Got   string
}

func (e *DivergenceError) Error() string {
	return fmt.Sprintf("digest mismatch at round %d turn %d: got=%s want=%s", e.Round, e.Turn, e.Got, e.Want)
}

// Summary describes a verified journal.
type Summary struct {
	BattleID string
	Rounds   int
	Turns    int
}

// Replay re-runs every turn of r through a fresh world and checks each
// digest. Robots killed as unstoppable stay out of later rounds, exactly as
// the scheduler keeps them out.
func Replay(reg *protocol.Registry, r *Reader) (Summary, error) {
	h := r.Header()
	sum := Summary{BattleID: h.BattleID}
	if h.ProtocolVersion != reg.Version() {
		return sum, fmt.Errorf("%w: journal protocol %d, registry %d",
			protocol.ErrVersionMismatch, h.ProtocolVersion, reg.Version())
	}

	w := physics.NewWorld(h.Rules, h.Robots)
	excluded := make(map[int]core.DeathCause)
	round := int32(-1)

	for {
		t, err := r.Next()
		if errors.Is(err, io.EOF) {
			return sum, nil
		}
		if err != nil {
			return sum, err
		}

		if t.Round != round {
			if err := w.ResetRound(t.Round, copyExcluded(excluded)); err != nil {
				return sum, fmt.Errorf("round %d: %w", t.Round, err)
			}
			round = t.Round
			sum.Rounds++
		}
		if t.Turn != w.Turn()+1 {
			return sum, fmt.Errorf("turn mismatch in round %d: want=%d got=%d", round, w.Turn()+1, t.Turn)
		}

		w.TakeResults()
		for _, in := range t.Intents {
			cmd, err := protocol.UnmarshalAs[core.IntentCommand](reg, protocol.TagIntentCommand, in.Frame)
			if err != nil {
				return sum, fmt.Errorf("round %d turn %d robot %d: %w", t.Round, t.Turn, in.Index, err)
			}
			if err := w.Apply(in.Index, &cmd); err != nil {
				return sum, fmt.Errorf("round %d turn %d: %w", t.Round, t.Turn, err)
			}
		}
		for _, k := range t.Kills {
			w.Kill(k.Index, k.Cause)
			if k.Cause == core.CauseUnstoppable {
				excluded[k.Index] = k.Cause
			}
		}
		for i, n := range t.Skipped {
			if i < w.NumRobots() {
				w.SetSkippedTurns(i, int(n))
			}
		}
		w.Step()

		got, err := physics.Digest(reg, w.Snapshot())
		if err != nil {
			return sum, err
		}
		sum.Turns++
		if got != t.Digest {
			return sum, &DivergenceError{Round: t.Round, Turn: t.Turn, Want: t.Digest, Got: got}
		}
	}
}

func copyExcluded(m map[int]core.DeathCause) map[int]core.DeathCause {
	out := make(map[int]core.DeathCause, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
