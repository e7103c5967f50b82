package battle

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/arena/internal/dispatcher"
	"github.com/OCAP2/arena/internal/protocol"
	"github.com/OCAP2/arena/internal/recording"
	"github.com/OCAP2/arena/internal/session"
	"github.com/OCAP2/arena/internal/unit"
	"github.com/OCAP2/arena/pkg/core"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// memJournal keeps journal entries in memory.
type memJournal struct {
	mu     sync.Mutex
	header recording.Header
	turns  []recording.Turn
}

func (j *memJournal) WriteHeader(h recording.Header) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.header = h
	return nil
}

func (j *memJournal) WriteTurn(t recording.Turn) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.turns = append(j.turns, t)
	return nil
}

func (j *memJournal) Turns() []recording.Turn {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]recording.Turn(nil), j.turns...)
}

// recorder captures dispatched events by kind.
type recorder struct {
	mu     sync.Mutex
	events map[string][]dispatcher.Event
}

func newRecorder(d *dispatcher.Dispatcher) *recorder {
	r := &recorder{events: make(map[string][]dispatcher.Event)}
	for _, kind := range []string{
		dispatcher.KindBattleStarted, dispatcher.KindRoundStarted, dispatcher.KindTurnEnded,
		dispatcher.KindRobotDeath, dispatcher.KindBadBehavior, dispatcher.KindRoundEnded,
		dispatcher.KindBattleEnded,
	} {
		d.Register(kind, func(e dispatcher.Event) (any, error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events[e.Kind] = append(r.events[e.Kind], e)
			return nil, nil
		})
	}
	return r
}

func (r *recorder) get(kind string) []dispatcher.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]dispatcher.Event(nil), r.events[kind]...)
}

// factoryFunc builds units with a test-supplied robot per index.
type factoryFunc func(statics core.RobotStatics, notify chan<- int) (*unit.Unit, error)

func (f factoryFunc) NewUnit(statics core.RobotStatics, notify chan<- int) (*unit.Unit, error) {
	return f(statics, notify)
}

type harness struct {
	sched   *Scheduler
	disp    *dispatcher.Dispatcher
	journal *memJournal
	events  *recorder
}

func testRules(positions string) core.BattleRules {
	rules := core.DefaultRules()
	rules.NumRounds = 1
	rules.TurnTimeout = time.Second
	rules.InitialPositions = positions
	return rules
}

func newHarness(t *testing.T, rules core.BattleRules, descriptors []core.RobotDescriptor, units UnitFactory) *harness {
	t.Helper()
	reg := protocol.NewDefaultRegistry()

	d, err := dispatcher.New(nil)
	require.NoError(t, err)
	t.Cleanup(d.Close)

	if units == nil {
		units = &RobotFactory{Registry: reg, Descriptors: descriptors, Logger: discard}
	}
	h := &harness{disp: d, journal: &memJournal{}, events: newRecorder(d)}
	h.sched, err = New(rules, descriptors, Dependencies{
		Registry:   reg,
		Units:      units,
		Dispatcher: d,
		Journal:    h.journal,
		Logger:     discard,
	})
	require.NoError(t, err)
	return h
}

func (h *harness) run(t *testing.T) *core.BattleResults {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	res, err := h.sched.Run(ctx)
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func robot(name, entry string) core.RobotDescriptor {
	return core.RobotDescriptor{Name: name, Entry: entry, Class: core.ClassBasic}
}

func terminationsOf(res *core.BattleResults, index int) []core.Termination {
	var out []core.Termination
	for _, term := range res.Terminations {
		if term.RobotIndex == index {
			out = append(out, term)
		}
	}
	return out
}

func diagnosticsOf(res *core.BattleResults, index int, behavior core.Behavior) int {
	n := 0
	for _, d := range res.Diagnostics {
		if d.RobotIndex == index && d.Behavior == behavior {
			n++
		}
	}
	return n
}

func TestRun_BulletHitsVictim(t *testing.T) {
	h := newHarness(t, testRules("(400,100,0),(400,500,180)"), []core.RobotDescriptor{
		robot("shooter", "sample.Fire"),
		robot("target", "sample.Charger"),
	}, nil)

	res := h.run(t)

	sawHit := false
	for _, e := range h.events.get(dispatcher.KindTurnEnded) {
		rec := e.Payload.(core.TurnRecord)
		for _, b := range rec.Snapshot.Bullets {
			if b.State == core.BulletHitVictim {
				assert.Equal(t, int32(0), b.OwnerIndex)
				assert.Equal(t, int32(1), b.VictimIndex)
				sawHit = true
			}
		}
	}
	assert.True(t, sawHit, "expected a HIT_VICTIM bullet")

	require.Len(t, res.Rounds, 1)
	assert.False(t, res.Aborted)
	assert.Equal(t, []int{0, 1}, res.Rounds[0].Placements)
	assert.False(t, res.Rounds[0].Draw)
	assert.Empty(t, res.Terminations)

	winner, ok := res.Winner()
	require.True(t, ok)
	assert.Equal(t, "shooter", winner.Name)
	assert.Equal(t, 1, winner.Firsts)
	assert.Equal(t, 1, winner.Rank)

	deaths := h.events.get(dispatcher.KindRobotDeath)
	require.Len(t, deaths, 1)
	death := deaths[0].Payload.(core.DeathRecord)
	assert.Equal(t, 1, death.RobotIndex)
	assert.Equal(t, core.CauseKilled, death.Cause)
	assert.Equal(t, 0, death.KillerIndex)

	assert.Len(t, h.events.get(dispatcher.KindBattleStarted), 1)
	assert.Len(t, h.events.get(dispatcher.KindRoundEnded), 1)
	assert.Len(t, h.events.get(dispatcher.KindBattleEnded), 1)
	assert.Equal(t, session.PhaseBattleEnded, h.sched.Phase())
}

func TestRun_IntentsAppliedExactlyOnce(t *testing.T) {
	h := newHarness(t, testRules("(400,100,0),(400,500,180)"), []core.RobotDescriptor{
		robot("shooter", "sample.Fire"),
		robot("target", "sample.Charger"),
	}, nil)
	h.run(t)

	turns := h.journal.Turns()
	require.NotEmpty(t, turns)

	dead := map[int]bool{}
	for n, turn := range turns {
		assert.Equal(t, int32(n+1), turn.Turn)

		seen := map[int]bool{}
		prev := -1
		for _, in := range turn.Intents {
			assert.False(t, seen[in.Index], "robot %d applied twice in turn %d", in.Index, turn.Turn)
			assert.False(t, dead[in.Index], "robot %d applied after death in turn %d", in.Index, turn.Turn)
			assert.Greater(t, in.Index, prev, "intents out of index order")
			seen[in.Index] = true
			prev = in.Index
		}

		for _, e := range h.events.get(dispatcher.KindRobotDeath) {
			if e.Turn == turn.Turn {
				dead[e.Payload.(core.DeathRecord).RobotIndex] = true
			}
		}
	}
	assert.True(t, dead[1])
}

func TestRun_UnstoppableAfterMaxSkippedTurns(t *testing.T) {
	rules := testRules("(100,100,0),(500,400,0)")
	rules.NumRounds = 2
	rules.TurnTimeout = 20 * time.Millisecond

	h := newHarness(t, rules, []core.RobotDescriptor{
		robot("duck", "sample.SittingDuck"),
		robot("looper", "sample.Looper"),
	}, nil)

	start := time.Now()
	res := h.run(t)
	assert.Less(t, time.Since(start), 5*time.Second, "an infinite loop must not stall the battle")

	assert.Equal(t, 3, diagnosticsOf(res, 1, core.BehaviorSkippedTurn))
	terms := terminationsOf(res, 1)
	require.Len(t, terms, 1)
	assert.Equal(t, core.CauseUnstoppable, terms[0].Cause)
	assert.Equal(t, 0, terms[0].Round)
	assert.Equal(t, 3, terms[0].Turn)

	turns := h.journal.Turns()
	require.Len(t, turns, 3)
	assert.Equal(t, []int32{0, 1}, turns[0].Skipped)
	assert.Equal(t, []int32{0, 3}, turns[2].Skipped)
	assert.Equal(t, []recording.Kill{{Index: 1, Cause: core.CauseUnstoppable}}, turns[2].Kills)

	// The looper sits out the second round and scores nothing for it.
	require.Len(t, res.Rounds, 2)
	assert.Equal(t, 0, res.Rounds[1].Turns)
	assert.True(t, res.Rounds[1].Scores[1].NonScoring)
	assert.Zero(t, res.Rounds[1].Scores[1].Total)

	for _, s := range res.Scores {
		if s.Index == 1 {
			assert.True(t, s.NonScoring)
		} else {
			assert.Equal(t, 2, s.Firsts)
		}
	}
}

func TestRun_ValidIntentResetsStrikes(t *testing.T) {
	rules := testRules("(100,100,0),(500,400,0)")
	rules.TurnTimeout = 60 * time.Millisecond
	rules.MaxTurns = 10

	reg := protocol.NewDefaultRegistry()
	descriptors := []core.RobotDescriptor{robot("duck", "sample.SittingDuck"), robot("flaky", "custom")}
	base := &RobotFactory{Registry: reg, Descriptors: descriptors, Logger: discard}

	units := factoryFunc(func(statics core.RobotStatics, notify chan<- int) (*unit.Unit, error) {
		if statics.Index == 0 {
			return base.NewUnit(statics, notify)
		}
		calls := 0
		flaky := unit.RobotFunc(func(ctx context.Context, p *unit.Peer) error {
			for {
				calls++
				if calls%2 == 1 {
					time.Sleep(90 * time.Millisecond)
				}
				if err := p.Execute(ctx); err != nil {
					return err
				}
			}
		})
		return unit.New(statics, flaky, reg, unit.Options{Logger: discard, Notify: notify, Grace: 200 * time.Millisecond}), nil
	})

	h := newHarness(t, rules, descriptors, units)
	res := h.run(t)

	assert.Empty(t, terminationsOf(res, 1))
	assert.Positive(t, diagnosticsOf(res, 1, core.BehaviorSkippedTurn))

	reset := false
	for n, turn := range h.journal.Turns() {
		assert.Less(t, turn.Skipped[1], int32(rules.MaxSkippedTurns))
		if n > 0 && turn.Skipped[1] == 0 && h.journal.Turns()[n-1].Skipped[1] > 0 {
			reset = true
		}
	}
	assert.True(t, reset, "a valid intent must clear the strike count")
}

func TestRun_SecurityViolation(t *testing.T) {
	h := newHarness(t, testRules("(100,100,0),(500,400,0)"), []core.RobotDescriptor{
		robot("duck", "sample.SittingDuck"),
		robot("chatter", "sample.Chatter"),
	}, nil)

	res := h.run(t)

	terms := terminationsOf(res, 1)
	require.Len(t, terms, 1)
	assert.Equal(t, core.CauseSecurityViolation, terms[0].Cause)
	assert.Equal(t, 1, diagnosticsOf(res, 1, core.BehaviorSecurityViolation))

	bad := h.events.get(dispatcher.KindBadBehavior)
	require.NotEmpty(t, bad)
	assert.Equal(t, core.BehaviorSecurityViolation, bad[len(bad)-1].Payload.(core.Diagnostic).Behavior)
	assert.Equal(t, []int{0, 1}, res.Rounds[0].Placements)
}

// A unit that believes it is a team robot still cannot get a broadcast past
// the scheduler when the battle declared it basic.
func TestRun_SchedulerRevalidatesIntents(t *testing.T) {
	reg := protocol.NewDefaultRegistry()
	descriptors := []core.RobotDescriptor{robot("duck", "sample.SittingDuck"), robot("liar", "custom")}
	base := &RobotFactory{Registry: reg, Descriptors: descriptors, Logger: discard}

	units := factoryFunc(func(statics core.RobotStatics, notify chan<- int) (*unit.Unit, error) {
		if statics.Index == 0 {
			return base.NewUnit(statics, notify)
		}
		statics.Class = core.ClassTeam
		liar := unit.RobotFunc(func(ctx context.Context, p *unit.Peer) error {
			for {
				if err := p.BroadcastMessage([]byte("hi")); err != nil {
					return err
				}
				if err := p.Execute(ctx); err != nil {
					return err
				}
			}
		})
		return unit.New(statics, liar, reg, unit.Options{Logger: discard, Notify: notify}), nil
	})

	h := newHarness(t, testRules("(100,100,0),(500,400,0)"), descriptors, units)
	res := h.run(t)

	terms := terminationsOf(res, 1)
	require.Len(t, terms, 1)
	assert.Equal(t, core.CauseSecurityViolation, terms[0].Cause)
	assert.Equal(t, 1, terms[0].Turn)

	turns := h.journal.Turns()
	require.Len(t, turns, 1)
	assert.Len(t, turns[0].Intents, 1)
	assert.Equal(t, 0, turns[0].Intents[0].Index)
}

func TestRun_StuckRobotDoesNotDelayLaterTurns(t *testing.T) {
	rules := testRules("(100,100,0),(500,400,0),(300,500,0)")
	rules.TurnTimeout = 30 * time.Millisecond
	rules.MaxTurns = 10

	reg := protocol.NewDefaultRegistry()
	descriptors := []core.RobotDescriptor{
		robot("duck", "sample.SittingDuck"),
		robot("duck", "sample.SittingDuck"),
		robot("stuck", "custom"),
	}
	base := &RobotFactory{Registry: reg, Descriptors: descriptors, Logger: discard}

	stop := make(chan struct{})
	defer close(stop)
	const grace = 2 * time.Second

	units := factoryFunc(func(statics core.RobotStatics, notify chan<- int) (*unit.Unit, error) {
		if statics.Index != 2 {
			return base.NewUnit(statics, notify)
		}
		stuck := unit.RobotFunc(func(ctx context.Context, p *unit.Peer) error {
			<-stop
			return nil
		})
		return unit.New(statics, stuck, reg, unit.Options{Logger: discard, Notify: notify, Grace: grace}), nil
	})

	h := newHarness(t, rules, descriptors, units)
	res := h.run(t)

	terms := terminationsOf(res, 2)
	require.Len(t, terms, 1)
	assert.Equal(t, core.CauseUnstoppable, terms[0].Cause)

	ended := h.events.get(dispatcher.KindTurnEnded)
	require.Greater(t, len(ended), 5)
	for i := 1; i < len(ended); i++ {
		gap := ended[i].Timestamp.Sub(ended[i-1].Timestamp)
		assert.Less(t, gap, grace/2, "turn %d waited on the stuck robot", ended[i].Turn)
	}
}

func TestRun_RobotsCannotChangeEachOthersSnapshot(t *testing.T) {
	reg := protocol.NewDefaultRegistry()
	rules := testRules("(100,100,0),(500,400,0)")
	rules.MaxTurns = 3
	descriptors := []core.RobotDescriptor{robot("vandal", "custom"), robot("victim", "custom")}

	var mu sync.Mutex
	seen := map[int64]float64{}

	units := factoryFunc(func(statics core.RobotStatics, notify chan<- int) (*unit.Unit, error) {
		var r unit.RobotFunc
		if statics.Index == 0 {
			r = func(ctx context.Context, p *unit.Peer) error {
				for {
					if snap := p.Snapshot(); snap != nil {
						snap.Robots[1].Energy = -42
					}
					if err := p.Execute(ctx); err != nil {
						return err
					}
				}
			}
		} else {
			r = func(ctx context.Context, p *unit.Peer) error {
				for {
					if snap := p.Snapshot(); snap != nil {
						mu.Lock()
						seen[p.Time()] = snap.Robots[1].Energy
						mu.Unlock()
					}
					if err := p.Execute(ctx); err != nil {
						return err
					}
				}
			}
		}
		return unit.New(statics, r, reg, unit.Options{Logger: discard, Notify: notify}), nil
	})

	h := newHarness(t, rules, descriptors, units)
	h.run(t)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	for turn, energy := range seen {
		assert.Equal(t, 100.0, energy, "victim's view at turn %d", turn)
	}
}

func TestRun_SentryIsNotScored(t *testing.T) {
	rules := testRules("(300,300,0),(500,300,0),(400,40,90)")
	rules.MaxTurns = 20

	guard := robot("guard", "sample.BorderGuard")
	guard.Class = core.ClassStandard
	guard.Sentry = true

	h := newHarness(t, rules, []core.RobotDescriptor{
		robot("duck", "sample.SittingDuck"),
		robot("duck", "sample.SittingDuck"),
		guard,
	}, nil)
	res := h.run(t)

	require.Len(t, res.Rounds, 1)
	placements := res.Rounds[0].Placements
	require.Len(t, placements, 3)
	assert.Equal(t, 2, placements[2], "the sentry is listed last")
	assert.Zero(t, res.Rounds[0].Scores[2].Rank)

	for _, sc := range res.Scores {
		if sc.Index == 2 {
			assert.True(t, sc.NonScoring)
			assert.Zero(t, sc.Total)
		}
	}
	assert.Empty(t, terminationsOf(res, 2))
}

func TestRun_CannotStart(t *testing.T) {
	h := newHarness(t, testRules("(100,100,0),(500,400,0)"), []core.RobotDescriptor{
		robot("duck", "sample.SittingDuck"),
		robot("tracker", "sample.Tracker"),
	}, nil)

	res := h.run(t)

	terms := terminationsOf(res, 1)
	require.Len(t, terms, 1)
	assert.Equal(t, core.CauseCannotStart, terms[0].Cause)
	assert.Equal(t, 1, diagnosticsOf(res, 1, core.BehaviorCannotStart))
}

func TestRun_DrawWhenNobodySurvives(t *testing.T) {
	h := newHarness(t, testRules("(100,100,0),(500,400,0)"), []core.RobotDescriptor{
		robot("a", "sample.Crasher"),
		robot("b", "sample.Crasher"),
	}, nil)

	res := h.run(t)

	require.Len(t, res.Rounds, 1)
	assert.True(t, res.Rounds[0].Draw)
	assert.Equal(t, []int{1, 0}, res.Rounds[0].Placements)
	for i := 0; i < 2; i++ {
		terms := terminationsOf(res, i)
		require.Len(t, terms, 1)
		assert.Equal(t, core.CauseFatalFault, terms[0].Cause)
	}
}

func TestRun_Abort(t *testing.T) {
	rules := testRules("(100,100,0),(500,400,0)")
	rules.NumRounds = 3

	h := newHarness(t, rules, []core.RobotDescriptor{
		robot("a", "sample.SittingDuck"),
		robot("b", "sample.SittingDuck"),
	}, nil)

	h.disp.Register(dispatcher.KindTurnEnded, func(e dispatcher.Event) (any, error) {
		if e.Turn == 5 {
			h.sched.Abort()
			h.sched.Abort()
		}
		return nil, nil
	})

	res := h.run(t)
	assert.True(t, res.Aborted)
	assert.Empty(t, res.Rounds)
	assert.Equal(t, session.PhaseBattleEnded, h.sched.Phase())

	_, err := h.sched.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRun)
}

func TestRun_ContextCancel(t *testing.T) {
	h := newHarness(t, testRules("(100,100,0),(500,400,0)"), []core.RobotDescriptor{
		robot("a", "sample.SittingDuck"),
		robot("b", "sample.SittingDuck"),
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := h.sched.Run(ctx)
	require.NoError(t, err)
	assert.True(t, res.Aborted)
}

func TestNew_Rejects(t *testing.T) {
	reg := protocol.NewDefaultRegistry()
	deps := Dependencies{Registry: reg, Units: &RobotFactory{Registry: reg}}

	bad := core.DefaultRules()
	bad.BattlefieldWidth = 10
	_, err := New(bad, []core.RobotDescriptor{robot("a", "sample.SittingDuck")}, deps)
	assert.Error(t, err)

	_, err = New(core.DefaultRules(), nil, deps)
	assert.Error(t, err)

	_, err = New(core.DefaultRules(), []core.RobotDescriptor{robot("a", "sample.SittingDuck")}, Dependencies{})
	assert.Error(t, err)
}

func TestStatics(t *testing.T) {
	statics := Statics([]core.RobotDescriptor{
		{Name: "walker", TeamName: "red"},
		{Name: "duck"},
		{Name: "walker", TeamName: "red"},
		{Name: "solo"},
	})

	require.Len(t, statics, 4)
	assert.Equal(t, "walker (1)", statics[0].Name)
	assert.Equal(t, "walker (2)", statics[2].Name)
	assert.Equal(t, "walker", statics[2].ShortName)
	assert.Equal(t, "duck", statics[1].Name)

	assert.True(t, statics[0].IsTeamLeader)
	assert.False(t, statics[2].IsTeamLeader)
	assert.Equal(t, 0, statics[2].TeamIndex)
	assert.Equal(t, []string{"walker (1)", "walker (2)"}, statics[0].TeamMembers)

	assert.Equal(t, 1, statics[1].TeamIndex)
	assert.Equal(t, 3, statics[3].TeamIndex)
	assert.Nil(t, statics[3].TeamMembers)
}
