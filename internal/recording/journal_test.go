package recording

import (
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/arena/internal/physics"
	"github.com/OCAP2/arena/internal/protocol"
	"github.com/OCAP2/arena/pkg/core"
)

func testHeader(reg *protocol.Registry) Header {
	rules := core.DefaultRules()
	rules.InitialPositions = "(100,100,90),(500,300,270)"
	return Header{
		ProtocolVersion: reg.Version(),
		BattleID:        "battle-1",
		StartTime:       time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Rules:           rules,
		Robots: []core.RobotStatics{
			{Index: 0, Name: "a", TeamIndex: 0},
			{Index: 1, Name: "b", TeamIndex: 1},
		},
	}
}

// record runs n turns of a small scripted battle and journals them.
func record(t *testing.T, reg *protocol.Registry, h Header, n int) []Turn {
	t.Helper()
	w := physics.NewWorld(h.Rules, h.Robots)
	require.NoError(t, w.ResetRound(0, nil))

	var turns []Turn
	for turn := int32(1); turn <= int32(n); turn++ {
		results := w.TakeResults()
		entry := Turn{Round: 0, Turn: turn, Skipped: []int32{0, 0}}
		for i := 0; i < 2; i++ {
			cmd := core.IntentCommand{DistanceRemaining: 40, BodyTurnRemaining: 0.1, RadarTurnRemaining: 0.5}
			if results[i].Status.GunHeat == 0 {
				cmd.Bullets = []core.BulletCommand{{Power: 2, BulletID: turn}}
			}
			frame, err := reg.Marshal(protocol.TagIntentCommand, &cmd)
			require.NoError(t, err)
			require.NoError(t, w.Apply(i, &cmd))
			entry.Intents = append(entry.Intents, Intent{Index: i, Frame: frame})
		}
		w.Step()
		digest, err := physics.Digest(reg, w.Snapshot())
		require.NoError(t, err)
		entry.Digest = digest
		turns = append(turns, entry)
	}
	return turns
}

func writeJournal(t *testing.T, h Header, turns []Turn) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nested", FileName(h.BattleID))
	w, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, w.WriteHeader(h))
	for _, turn := range turns {
		require.NoError(t, w.WriteTurn(turn))
	}
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.Equal(t, path, w.Path())
	return path
}

func TestJournal_RoundTrip(t *testing.T) {
	reg := protocol.NewDefaultRegistry()
	h := testHeader(reg)
	turns := record(t, reg, h, 20)
	path := writeJournal(t, h, turns)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	got := r.Header()
	assert.Equal(t, FormatVersion, got.FormatVersion)
	assert.Equal(t, h.BattleID, got.BattleID)
	assert.Equal(t, h.Rules, got.Rules)
	assert.Equal(t, h.Robots, got.Robots)
	assert.True(t, h.StartTime.Equal(got.StartTime))

	var read []Turn
	for {
		turn, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		read = append(read, turn)
	}
	assert.Equal(t, turns, read)
}

func TestWriter_ClosedRejectsWrites(t *testing.T) {
	w, err := Create(filepath.Join(t.TempDir(), "j"+Extension))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.Error(t, w.WriteTurn(Turn{}))
}

func TestReplay_Verifies(t *testing.T) {
	reg := protocol.NewDefaultRegistry()
	h := testHeader(reg)
	path := writeJournal(t, h, record(t, reg, h, 50))

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	sum, err := Replay(reg, r)
	require.NoError(t, err)
	assert.Equal(t, Summary{BattleID: "battle-1", Rounds: 1, Turns: 50}, sum)
}

func TestReplay_ReportsFirstDivergence(t *testing.T) {
	reg := protocol.NewDefaultRegistry()
	h := testHeader(reg)
	turns := record(t, reg, h, 30)
	reversed, err := reg.Marshal(protocol.TagIntentCommand, &core.IntentCommand{DistanceRemaining: -40})
	require.NoError(t, err)
	turns[11].Intents[0].Frame = reversed
	path := writeJournal(t, h, turns)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	sum, err := Replay(reg, r)
	var div *DivergenceError
	require.ErrorAs(t, err, &div)
	assert.Equal(t, int32(12), div.Turn)
	assert.Equal(t, turns[11].Digest, div.Want)
	assert.NotEqual(t, div.Want, div.Got)
	assert.Equal(t, 12, sum.Turns)
}

func TestReplay_VersionMismatch(t *testing.T) {
	reg := protocol.NewDefaultRegistry()
	h := testHeader(reg)
	h.ProtocolVersion = reg.Version() + 1
	path := writeJournal(t, h, nil)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	_, err = Replay(reg, r)
	assert.ErrorIs(t, err, protocol.ErrVersionMismatch)
}

func TestOpen_Errors(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing"+Extension))
	assert.Error(t, err)

	path := writeJournal(t, Header{FormatVersion: 99, BattleID: "x"}, nil)
	_, err = Open(path)
	assert.ErrorContains(t, err, "unsupported journal format")
}
