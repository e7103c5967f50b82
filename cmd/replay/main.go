// Command replay re-runs a battle journal through the physics and reports
// the first turn whose digest does not match.
//
//	replay <battle.jsonl.zst>...
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/OCAP2/arena/internal/protocol"
	"github.com/OCAP2/arena/internal/recording"
)

func main() {
	os.Exit(replayAll(os.Args[1:], os.Stdout, os.Stderr))
}

// replayAll verifies every journal and returns the exit code: 0 when all
// match, 1 on a divergence and 2 when a journal cannot be read.
func replayAll(paths []string, stdout, stderr io.Writer) int {
	if len(paths) == 0 {
		fmt.Fprintln(stderr, "usage: replay <journal>...")
		return 2
	}

	reg := protocol.NewDefaultRegistry()
	code := 0
	for _, p := range paths {
		sum, err := verify(reg, p)
		var div *recording.DivergenceError
		switch {
		case err == nil:
			fmt.Fprintf(stdout, "%s: ok battle=%s rounds=%d turns=%d\n", p, sum.BattleID, sum.Rounds, sum.Turns)
		case errors.As(err, &div):
			fmt.Fprintf(stdout, "%s: DIVERGED at round %d turn %d\n  want %s\n  got  %s\n", p, div.Round, div.Turn, div.Want, div.Got)
			code = max(code, 1)
		default:
			fmt.Fprintf(stderr, "%s: %v\n", p, err)
			code = 2
		}
	}
	return code
}

func verify(reg *protocol.Registry, path string) (recording.Summary, error) {
	r, err := recording.Open(path)
	if err != nil {
		return recording.Summary{}, err
	}
	defer r.Close()
	return recording.Replay(reg, r)
}
