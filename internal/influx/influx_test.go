package influx

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/arena/internal/config"
	"github.com/OCAP2/arena/pkg/core"
)

var at = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func lineOf(s Sample) string {
	return influxdb2_write.PointToLineProtocol(s.Point, time.Nanosecond)
}

func TestConnect_Disabled(t *testing.T) {
	m := NewManager(config.InfluxConfig{Enabled: false}, nil)
	assert.ErrorIs(t, m.Connect(context.Background()), ErrDisabled)
}

func TestConnect_FallsBackToBackup(t *testing.T) {
	backup := filepath.Join(t.TempDir(), "logs", "influx_backup.log.gzip")
	m := NewManager(config.InfluxConfig{
		Enabled:    true,
		Protocol:   "http",
		Host:       "127.0.0.1",
		Port:       "1",
		Org:        "arena-metrics",
		BackupPath: backup,
	}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Connect(ctx))
	assert.False(t, m.IsValid)

	death := DeathSample(core.DeathRecord{
		BattleID: "b1", RobotName: "Spinner", Cause: core.CauseKilled,
		Round: 1, Turn: 40, X: 10, Y: 20, KillerIndex: 1,
	}, at)
	require.NoError(t, m.WriteSamples(death))
	require.NoError(t, m.Close())

	f, err := os.Open(backup)
	require.NoError(t, err)
	defer f.Close()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, lineOf(death)+"\n", string(data))
}

func TestWritePoint_NoSink(t *testing.T) {
	m := NewManager(config.InfluxConfig{}, nil)
	err := m.WritePoint(BucketRobots, influxdb2_write.NewPointWithMeasurement("robot"))
	assert.Error(t, err)

	m.IsValid = true
	err = m.WritePoint("nope", influxdb2_write.NewPointWithMeasurement("robot"))
	assert.ErrorContains(t, err, "not registered")
}

func TestTurnSamples(t *testing.T) {
	rec := core.TurnRecord{
		BattleID: "b1",
		Duration: 1500 * time.Microsecond,
		Snapshot: &core.TurnSnapshot{
			Round: 2,
			Turn:  17,
			Robots: []core.RobotSnapshot{
				{Index: 0, Name: "Spinner", State: core.UnitActive, Energy: 88.5, X: 100, Y: 200},
				{Index: 1, Name: "Duck", State: core.UnitDead},
			},
			Bullets: []core.BulletSnapshot{{BulletID: 1}},
		},
	}

	samples := TurnSamples(rec, at)
	require.Len(t, samples, 2, "dead robots are not sampled")

	assert.Equal(t, BucketPerformance, samples[0].Bucket)
	turn := lineOf(samples[0])
	assert.Contains(t, turn, "turn,battle=b1,round=2 ")
	assert.Contains(t, turn, "alive=1i")
	assert.Contains(t, turn, "bullets=1i")
	assert.Contains(t, turn, "duration_ms=1.5")

	assert.Equal(t, BucketRobots, samples[1].Bucket)
	robot := lineOf(samples[1])
	assert.Contains(t, robot, "robot=Spinner")
	assert.Contains(t, robot, "energy=88.5")

	assert.Nil(t, TurnSamples(core.TurnRecord{}, at))
}

func TestBehaviorAndRoundSamples(t *testing.T) {
	b := BehaviorSample("b1", core.Diagnostic{
		Time: at, RobotName: "Looper", Behavior: core.BehaviorSkippedTurn, Round: 1, Turn: 3,
	})
	assert.Equal(t, BucketBattles, b.Bucket)
	assert.Contains(t, lineOf(b), "behavior=SKIPPED_TURN")

	rs := RoundSamples(core.RoundResult{
		BattleID: "b1", Round: 1, Turns: 300,
		Scores: []core.RobotScore{{Name: "A", Rank: 1, Total: 120}, {Name: "B", Rank: 2, Total: 40}},
	}, at)
	require.Len(t, rs, 2)
	var all bytes.Buffer
	for _, s := range rs {
		all.WriteString(lineOf(s))
	}
	assert.Contains(t, all.String(), "round_score,battle=b1,robot=A")
	assert.Contains(t, all.String(), "rank=2i")
}
