// Package battle runs a battle: one coordinating goroutine that drives every
// turn in lockstep and talks to robot units only through encoded frames.
package battle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/OCAP2/arena/internal/dispatcher"
	"github.com/OCAP2/arena/internal/physics"
	"github.com/OCAP2/arena/internal/policy"
	"github.com/OCAP2/arena/internal/protocol"
	"github.com/OCAP2/arena/internal/recording"
	"github.com/OCAP2/arena/internal/session"
	"github.com/OCAP2/arena/internal/unit"
	"github.com/OCAP2/arena/pkg/core"
)

const instrumentationName = "github.com/OCAP2/arena/internal/battle"

// ErrAlreadyRun is returned by a second call to Run.
var ErrAlreadyRun = errors.New("battle already run")

// Journal records what the physics needs to reproduce every turn.
type Journal interface {
	WriteHeader(recording.Header) error
	WriteTurn(recording.Turn) error
}

// Consoles hands out the logger a robot's printed output goes to.
type Consoles interface {
	Console(statics core.RobotStatics) zerolog.Logger
}

// Dependencies are the collaborators of a Scheduler. Only Registry and
// Units are required.
type Dependencies struct {
	Registry   *protocol.Registry
	Units      UnitFactory
	Dispatcher *dispatcher.Dispatcher
	Journal    Journal
	Consoles   Consoles
	Session    *session.Context
	Logger     *slog.Logger
	// BattleID defaults to a random UUID.
	BattleID string
}

// Scheduler owns the world and drives the battle.
type Scheduler struct {
	rules   core.BattleRules
	statics []core.RobotStatics
	deps    Dependencies
	log     *slog.Logger

	battle   core.Battle
	world    *physics.World
	units    []*unit.Unit
	consoles []zerolog.Logger
	notify   chan int

	excluded map[int]core.DeathCause
	totals   []core.RobotScore
	results  core.BattleResults

	phase atomic.Value
	ran   atomic.Bool
	abort chan struct{}
	once  sync.Once

	retiring sync.WaitGroup

	turnDuration metric.Float64Histogram
	turns        metric.Int64Counter
	skipped      metric.Int64Counter
	deaths       metric.Int64Counter
}

// New validates rules and prepares a battle between robots.
func New(rules core.BattleRules, robots []core.RobotDescriptor, deps Dependencies) (*Scheduler, error) {
	if err := rules.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rules: %w", err)
	}
	if len(robots) == 0 {
		return nil, errors.New("a battle needs at least one robot")
	}
	if deps.Registry == nil || deps.Units == nil {
		return nil, errors.New("registry and unit factory are required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Session == nil {
		deps.Session = session.NewContext()
	}
	if deps.BattleID == "" {
		deps.BattleID = uuid.NewString()
	}

	statics := Statics(robots)
	s := &Scheduler{
		rules:    rules,
		statics:  statics,
		deps:     deps,
		log:      deps.Logger.With("battle", deps.BattleID),
		world:    physics.NewWorld(rules, statics),
		notify:   make(chan int, len(statics)+1),
		excluded: make(map[int]core.DeathCause),
		totals:   make([]core.RobotScore, len(statics)),
		abort:    make(chan struct{}),
		battle: core.Battle{
			ID:            deps.BattleID,
			Rules:         rules,
			Robots:        statics,
			FormatVersion: deps.Registry.Version(),
		},
	}
	for i, st := range statics {
		s.totals[i] = core.RobotScore{Index: i, Name: st.Name, TeamName: st.TeamName}
	}

	s.consoles = make([]zerolog.Logger, len(statics))
	for i, st := range statics {
		if deps.Consoles != nil {
			s.consoles[i] = deps.Consoles.Console(st)
		} else {
			s.consoles[i] = zerolog.Nop()
		}
	}

	if err := s.initMetrics(); err != nil {
		return nil, err
	}
	s.setPhase(session.PhaseInitializing)
	return s, nil
}

func (s *Scheduler) initMetrics() error {
	m := otel.Meter(instrumentationName)
	var err error

	s.turnDuration, err = m.Float64Histogram(
		"battle.turn.duration",
		metric.WithDescription("Wall time from turn start to resolved snapshot"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return fmt.Errorf("creating turn duration histogram: %w", err)
	}
	s.turns, err = m.Int64Counter("battle.turns", metric.WithDescription("Resolved turns"))
	if err != nil {
		return fmt.Errorf("creating turns counter: %w", err)
	}
	s.skipped, err = m.Int64Counter("battle.skipped_turns", metric.WithDescription("Turns a robot missed the deadline"))
	if err != nil {
		return fmt.Errorf("creating skipped turns counter: %w", err)
	}
	s.deaths, err = m.Int64Counter("battle.deaths", metric.WithDescription("Robots removed from a round"))
	if err != nil {
		return fmt.Errorf("creating deaths counter: %w", err)
	}
	return nil
}

// Battle describes the battle being run.
func (s *Scheduler) Battle() core.Battle {
	return s.battle
}

// Phase returns the scheduler state.
func (s *Scheduler) Phase() session.Phase {
	return s.phase.Load().(session.Phase)
}

func (s *Scheduler) setPhase(p session.Phase) {
	s.phase.Store(p)
	s.deps.Session.SetPhase(p)
}

// Abort stops the battle as soon as possible. It is safe to call from any
// goroutine and more than once.
func (s *Scheduler) Abort() {
	s.once.Do(func() { close(s.abort) })
}

// Run plays every round and returns the results. Cancelling ctx or calling
// Abort ends the battle early with Aborted set. Errors are reserved for a
// battle that cannot be set up.
func (s *Scheduler) Run(ctx context.Context) (*core.BattleResults, error) {
	if !s.ran.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRun
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.abort:
			cancel()
		case <-ctx.Done():
		}
	}()

	s.battle.StartTime = time.Now()
	s.results = core.BattleResults{BattleID: s.battle.ID, StartTime: s.battle.StartTime}
	s.deps.Session.SetBattle(&s.battle)
	s.setPhase(session.PhaseInitializing)

	if s.deps.Journal != nil {
		err := s.deps.Journal.WriteHeader(recording.Header{
			FormatVersion:   recording.FormatVersion,
			ProtocolVersion: s.deps.Registry.Version(),
			BattleID:        s.battle.ID,
			StartTime:       s.battle.StartTime,
			Seed:            s.rules.Seed,
			Rules:           s.rules,
			Robots:          s.statics,
		})
		if err != nil {
			return nil, fmt.Errorf("writing journal header: %w", err)
		}
	}

	s.log.Info("battle started", "robots", len(s.statics), "rounds", s.rules.NumRounds)
	s.dispatch(dispatcher.KindBattleStarted, s.battle)

	aborted := false
	for round := int32(0); int(round) < s.rules.NumRounds; round++ {
		if ctx.Err() != nil {
			aborted = true
			break
		}
		rr, err := s.runRound(ctx, round)
		if err != nil {
			s.teardown(core.CauseAborted)
			s.setPhase(session.PhaseBattleEnded)
			return nil, err
		}
		if rr == nil {
			aborted = true
			break
		}
		s.results.Rounds = append(s.results.Rounds, *rr)
	}

	return s.finish(aborted), nil
}

// runRound plays one round. It returns nil without error when the battle
// was aborted mid-round.
func (s *Scheduler) runRound(ctx context.Context, round int32) (*core.RoundResult, error) {
	if err := s.startRound(ctx, round); err != nil {
		return nil, err
	}

	for !s.world.RoundOver() {
		if !s.runTurn(ctx) {
			s.teardown(core.CauseAborted)
			return nil, nil
		}
	}
	return s.endRound(), nil
}

func (s *Scheduler) startRound(ctx context.Context, round int32) error {
	s.setPhase(session.PhaseRoundStarting)
	if err := s.world.ResetRound(round, copyCauses(s.excluded)); err != nil {
		return fmt.Errorf("round %d: %w", round, err)
	}
	s.drainNotify()

	s.units = make([]*unit.Unit, len(s.statics))
	for i, st := range s.statics {
		if _, ok := s.excluded[i]; ok {
			continue
		}
		u, err := s.deps.Units.NewUnit(st, s.notify)
		if err != nil {
			return fmt.Errorf("creating unit for %s: %w", st.Name, err)
		}
		s.units[i] = u
		if err := u.Start(ctx); err != nil {
			s.log.Warn("robot could not start", "robot", st.Name, "error", err)
		}
	}

	snap := s.world.Snapshot()
	s.deps.Session.SetPosition(round, 0, snap.AliveCount())
	s.log.Info("round started", "round", round)
	s.dispatchAt(dispatcher.KindRoundStarted, round, 0, snap)
	return nil
}

// runTurn collects intents, resolves the turn and publishes it. It reports
// false when the battle was aborted before the turn could be resolved.
func (s *Scheduler) runTurn(ctx context.Context) bool {
	start := time.Now()
	round, turn := s.world.Round(), s.world.Turn()+1

	s.setPhase(session.PhaseCollecting)
	s.drainNotify()
	snapFrame, err := s.deps.Registry.Marshal(protocol.TagTurnSnapshot, s.world.Snapshot())
	if err != nil {
		s.log.Error("encoding turn snapshot", "round", round, "turn", turn, "error", err)
		snapFrame = nil
	}
	for i, res := range s.world.TakeResults() {
		u := s.units[i]
		if u == nil || !s.world.Alive(i) {
			continue
		}
		frame, err := s.deps.Registry.Marshal(protocol.TagIntentResult, res)
		if err != nil {
			s.log.Error("encoding intent result", "robot", s.statics[i].Name, "error", err)
			continue
		}
		u.BeginTurn(turn, snapFrame, frame)
	}

	frames := s.collect(ctx)
	if ctx.Err() != nil {
		return false
	}

	s.setPhase(session.PhaseResolving)
	entry := recording.Turn{Round: round, Turn: turn}
	var kills []recording.Kill

	for i, u := range s.units {
		if u == nil || !s.world.Alive(i) {
			continue
		}

		if u.State() == core.UnitDead {
			kills = append(kills, recording.Kill{Index: i, Cause: u.Cause()})
			s.badBehavior(i, u.Cause(), faultDetail(u))
			continue
		}

		if frames[i] != nil {
			cmd, err := protocol.UnmarshalAs[core.IntentCommand](s.deps.Registry, protocol.TagIntentCommand, frames[i])
			if err == nil {
				if verr := policy.ValidateIntent(s.statics[i].Class, &cmd); verr != nil {
					s.retire(u, core.CauseSecurityViolation)
					kills = append(kills, recording.Kill{Index: i, Cause: core.CauseSecurityViolation})
					s.badBehavior(i, core.CauseSecurityViolation, verr.Error())
					continue
				}
				if err := s.world.Apply(i, &cmd); err != nil {
					s.log.Error("applying intent", "robot", s.statics[i].Name, "error", err)
					continue
				}
				u.RecordIntent()
				entry.Intents = append(entry.Intents, recording.Intent{Index: i, Frame: frames[i]})
				if cmd.OutputText != nil && *cmd.OutputText != "" {
					s.consoles[i].Info().Int32("round", round).Int32("turn", turn).Msg(*cmd.OutputText)
				}
				continue
			}
			s.diagnose(i, core.BehaviorProtocolError, core.CauseNone, err.Error())
		}

		strikes := u.RecordSkip()
		s.skipped.Add(ctx, 1)
		s.world.AddEvent(i, core.NewEvent(core.EventSkippedTurn, int64(turn)))
		s.diagnose(i, core.BehaviorSkippedTurn, core.CauseNone,
			fmt.Sprintf("no intent within %s (%d/%d)", s.rules.TurnTimeout, strikes, s.rules.MaxSkippedTurns))

		if strikes >= s.rules.MaxSkippedTurns {
			s.retire(u, core.CauseUnstoppable)
			kills = append(kills, recording.Kill{Index: i, Cause: core.CauseUnstoppable})
			s.excluded[i] = core.CauseUnstoppable
			s.badBehavior(i, core.CauseUnstoppable,
				fmt.Sprintf("missed %d consecutive turns", strikes))
		}
	}

	for _, k := range kills {
		s.world.Kill(k.Index, k.Cause)
	}
	entry.Kills = kills

	entry.Skipped = make([]int32, len(s.statics))
	for i, u := range s.units {
		if u != nil {
			entry.Skipped[i] = int32(u.Strikes())
		}
		s.world.SetSkippedTurns(i, int(entry.Skipped[i]))
	}

	res := s.world.Step()
	after := s.world.Snapshot()
	digest, err := physics.Digest(s.deps.Registry, after)
	if err != nil {
		s.log.Error("computing snapshot digest", "error", err)
	}
	entry.Digest = digest

	if s.deps.Journal != nil {
		if err := s.deps.Journal.WriteTurn(entry); err != nil {
			s.log.Error("writing journal", "round", round, "turn", turn, "error", err)
		}
	}

	elapsed := time.Since(start)
	s.turns.Add(ctx, 1)
	s.turnDuration.Record(ctx, float64(elapsed.Microseconds())/1000)
	s.deps.Session.SetPosition(round, turn, after.AliveCount())

	s.dispatchAt(dispatcher.KindTurnEnded, round, turn, core.TurnRecord{
		BattleID: s.battle.ID,
		Snapshot: after,
		Events:   res.Events,
		Digest:   digest,
		Duration: elapsed,
	})

	for _, d := range res.Deaths {
		s.deaths.Add(ctx, 1, metric.WithAttributes(attribute.String("cause", d.Cause.String())))
		if u := s.units[d.Index]; u != nil && d.Cause == core.CauseKilled {
			s.retire(u, core.CauseKilled)
		}
		s.dispatchAt(dispatcher.KindRobotDeath, round, turn, core.DeathRecord{
			BattleID:    s.battle.ID,
			Round:       int(round),
			Turn:        int(turn),
			RobotIndex:  d.Index,
			RobotName:   s.statics[d.Index].Name,
			Cause:       d.Cause,
			X:           d.X,
			Y:           d.Y,
			KillerIndex: d.Killer,
		})
	}
	return true
}

// collect waits until every live unit has produced an intent for the
// current turn, the deadline passes or ctx is done.
func (s *Scheduler) collect(ctx context.Context) [][]byte {
	frames := make([][]byte, len(s.units))
	waiting := make([]bool, len(s.units))
	pending := 0
	for i, u := range s.units {
		if u != nil && s.world.Alive(i) && u.State().Alive() {
			waiting[i] = true
			pending++
		}
	}

	poll := func() {
		for i, u := range s.units {
			if !waiting[i] {
				continue
			}
			if f, ok := u.PollIntent(); ok {
				frames[i] = f
			} else if u.State().Alive() {
				continue
			}
			waiting[i] = false
			pending--
		}
	}

	timer := time.NewTimer(s.rules.TurnTimeout)
	defer timer.Stop()

	poll()
	for pending > 0 {
		select {
		case <-s.notify:
			poll()
		case <-timer.C:
			poll()
			return frames
		case <-ctx.Done():
			return frames
		}
	}
	return frames
}

func (s *Scheduler) drainNotify() {
	for {
		select {
		case <-s.notify:
		default:
			return
		}
	}
}

func (s *Scheduler) endRound() *core.RoundResult {
	s.setPhase(session.PhaseRoundEnded)
	round := s.world.Round()
	snap := s.world.Snapshot()

	placements, scores := s.world.RoundStandings()
	for i := range scores {
		if _, ok := s.excluded[i]; ok && !s.terminatedIn(i, round) {
			scores[i] = core.RobotScore{
				Index:      i,
				Name:       scores[i].Name,
				TeamName:   scores[i].TeamName,
				Rank:       scores[i].Rank,
				NonScoring: true,
			}
		}
		s.totals[i].Add(scores[i])
	}

	rr := &core.RoundResult{
		BattleID:   s.battle.ID,
		Round:      int(round),
		Turns:      int(s.world.Turn()),
		Draw:       snap.AliveCount() == 0,
		Placements: placements,
		Scores:     scores,
	}

	s.teardown(core.CauseRoundEnded)
	s.log.Info("round ended", "round", round, "turns", rr.Turns, "draw", rr.Draw)
	s.dispatchAt(dispatcher.KindRoundEnded, round, s.world.Turn(), *rr)
	return rr
}

// terminatedIn reports whether robot i was removed during round, as opposed
// to sitting the round out after an earlier removal.
func (s *Scheduler) terminatedIn(i int, round int32) bool {
	for _, t := range s.results.Terminations {
		if t.RobotIndex == i && t.Round == int(round) && t.Cause == core.CauseUnstoppable {
			return true
		}
	}
	return false
}

// retire kills u now and waits out its grace period in the background, so a
// robot that ignores cancellation cannot hold up the turn loop.
func (s *Scheduler) retire(u *unit.Unit, cause core.DeathCause) {
	u.Kill(cause)
	s.retiring.Add(1)
	go func() {
		defer s.retiring.Done()
		u.Terminate(cause)
	}()
}

// teardown terminates every unit still running, in parallel so a stuck
// robot costs one grace period in total. It also waits for units retired
// during the round.
func (s *Scheduler) teardown(cause core.DeathCause) {
	var wg sync.WaitGroup
	for _, u := range s.units {
		if u == nil || u.State() == core.UnitDead {
			continue
		}
		wg.Add(1)
		go func(u *unit.Unit) {
			defer wg.Done()
			u.Terminate(cause)
		}(u)
	}
	wg.Wait()
	s.retiring.Wait()
}

func (s *Scheduler) finish(aborted bool) *core.BattleResults {
	scores := make([]core.RobotScore, len(s.totals))
	copy(scores, s.totals)
	for i := range scores {
		if _, ok := s.excluded[i]; ok || s.statics[i].IsSentry {
			scores[i].NonScoring = true
		}
	}
	sort.SliceStable(scores, func(a, b int) bool {
		if scores[a].Total != scores[b].Total {
			return scores[a].Total > scores[b].Total
		}
		if scores[a].Firsts != scores[b].Firsts {
			return scores[a].Firsts > scores[b].Firsts
		}
		return scores[a].Index < scores[b].Index
	})
	for rank := range scores {
		scores[rank].Rank = rank + 1
	}

	s.results.Scores = scores
	s.results.Aborted = aborted
	s.results.EndTime = time.Now()

	s.setPhase(session.PhaseBattleEnded)
	s.log.Info("battle ended", "aborted", aborted, "rounds", len(s.results.Rounds))
	s.dispatch(dispatcher.KindBattleEnded, s.results)

	results := s.results
	return &results
}

// badBehavior records a robot removed by the scheduler or by its own fault.
func (s *Scheduler) badBehavior(i int, cause core.DeathCause, detail string) {
	behavior := core.BehaviorFatalFault
	switch cause {
	case core.CauseCannotStart:
		behavior = core.BehaviorCannotStart
	case core.CauseUnstoppable:
		behavior = core.BehaviorUnstoppable
	case core.CauseSecurityViolation:
		behavior = core.BehaviorSecurityViolation
	}
	s.results.Terminations = append(s.results.Terminations, core.Termination{
		RobotIndex: i,
		RobotName:  s.statics[i].Name,
		Cause:      cause,
		Round:      int(s.world.Round()),
		Turn:       int(s.world.Turn()) + 1,
	})
	s.diagnose(i, behavior, cause, detail)
}

func (s *Scheduler) diagnose(i int, behavior core.Behavior, cause core.DeathCause, detail string) {
	d := core.Diagnostic{
		Time:       time.Now(),
		RobotIndex: i,
		RobotName:  s.statics[i].Name,
		Behavior:   behavior,
		Cause:      cause,
		Round:      int(s.world.Round()),
		Turn:       int(s.world.Turn()) + 1,
		Detail:     detail,
	}
	s.results.Diagnostics = append(s.results.Diagnostics, d)
	s.log.Warn("bad behavior", "robot", d.RobotName, "behavior", behavior, "cause", cause, "turn", d.Turn, "detail", detail)
	s.dispatchAt(dispatcher.KindBadBehavior, int32(d.Round), int32(d.Turn), d)
}

func (s *Scheduler) dispatch(kind string, payload any) {
	s.dispatchAt(kind, s.world.Round(), s.world.Turn(), payload)
}

func (s *Scheduler) dispatchAt(kind string, round, turn int32, payload any) {
	if s.deps.Dispatcher == nil {
		return
	}
	_, err := s.deps.Dispatcher.Dispatch(dispatcher.Event{Kind: kind, Round: round, Turn: turn, Payload: payload})
	if err != nil && !errors.Is(err, dispatcher.ErrUnknownKind) {
		s.log.Debug("dispatch failed", "kind", kind, "error", err)
	}
}

func faultDetail(u *unit.Unit) string {
	if err := u.Fault(); err != nil {
		return err.Error()
	}
	return u.Cause().String()
}

func copyCauses(m map[int]core.DeathCause) map[int]core.DeathCause {
	out := make(map[int]core.DeathCause, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
