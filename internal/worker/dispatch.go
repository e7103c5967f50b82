package worker

import (
	"fmt"
	"time"

	"github.com/OCAP2/arena/internal/dispatcher"
	"github.com/OCAP2/arena/internal/influx"
	"github.com/OCAP2/arena/internal/storage"
	"github.com/OCAP2/arena/pkg/core"
)

// QueueGroup is the dispatcher group every recording handler shares.
const QueueGroup = "sinks"

// QueueSize bounds the events waiting for the sinks.
const QueueSize = 10000

// QueueTimeout is how long the scheduler waits on a full sink queue. After
// that the event is dropped and counted, so a hung sink cannot stop the battle.
const QueueTimeout = 10 * time.Second

// RegisterHandlers registers all event handlers with the dispatcher.
// Every kind goes through one ordered queue so sinks see a battle start
// before its turns and every turn before the battle end.
func (m *Manager) RegisterHandlers(d *dispatcher.Dispatcher) {
	opts := []dispatcher.Option{dispatcher.Ordered(QueueGroup, QueueSize), dispatcher.QueueTimeout(QueueTimeout), dispatcher.Logged()}

	d.Register(dispatcher.KindBattleStarted, m.handleBattleStarted, opts...)
	d.Register(dispatcher.KindRoundStarted, m.handleRoundStarted, opts...)
	d.Register(dispatcher.KindTurnEnded, m.handleTurnEnded, opts...)
	d.Register(dispatcher.KindRobotDeath, m.handleRobotDeath, opts...)
	d.Register(dispatcher.KindBadBehavior, m.handleBadBehavior, opts...)
	d.Register(dispatcher.KindRoundEnded, m.handleRoundEnded, opts...)
	d.Register(dispatcher.KindBattleEnded, m.handleBattleEnded, opts...)
}

func payload[T any](e dispatcher.Event) (T, error) {
	v, ok := e.Payload.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("unexpected payload %T for %s", e.Payload, e.Kind)
	}
	return v, nil
}

func (m *Manager) handleBattleStarted(e dispatcher.Event) (any, error) {
	b, err := payload[core.Battle](e)
	if err != nil {
		return nil, err
	}
	m.handled.Add(1)
	m.setBattleID(b.ID)

	return nil, m.lifecycle("start battle", func(s storage.Backend) error {
		return s.StartBattle(&b)
	})
}

func (m *Manager) handleRoundStarted(e dispatcher.Event) (any, error) {
	snap, err := payload[*core.TurnSnapshot](e)
	if err != nil {
		return nil, err
	}
	m.handled.Add(1)

	return nil, m.record("start round", func(s storage.Backend) error {
		return s.StartRound(snap)
	})
}

func (m *Manager) handleTurnEnded(e dispatcher.Event) (any, error) {
	rec, err := payload[core.TurnRecord](e)
	if err != nil {
		return nil, err
	}
	m.handled.Add(1)
	m.writeSamples(influx.TurnSamples(rec, e.Timestamp)...)

	return nil, m.record("record turn", func(s storage.Backend) error {
		return s.RecordTurn(&rec)
	})
}

func (m *Manager) handleRobotDeath(e dispatcher.Event) (any, error) {
	d, err := payload[core.DeathRecord](e)
	if err != nil {
		return nil, err
	}
	m.handled.Add(1)
	m.writeSamples(influx.DeathSample(d, e.Timestamp))

	return nil, m.record("record death", func(s storage.Backend) error {
		return s.RecordDeath(&d)
	})
}

func (m *Manager) handleBadBehavior(e dispatcher.Event) (any, error) {
	d, err := payload[core.Diagnostic](e)
	if err != nil {
		return nil, err
	}
	m.handled.Add(1)
	m.writeSamples(influx.BehaviorSample(m.currentBattleID(), d))

	return nil, m.record("record bad behavior", func(s storage.Backend) error {
		return s.RecordBadBehavior(&d)
	})
}

func (m *Manager) handleRoundEnded(e dispatcher.Event) (any, error) {
	rr, err := payload[core.RoundResult](e)
	if err != nil {
		return nil, err
	}
	m.handled.Add(1)
	m.writeSamples(influx.RoundSamples(rr, e.Timestamp)...)

	return nil, m.record("end round", func(s storage.Backend) error {
		return s.EndRound(&rr)
	})
}

func (m *Manager) handleBattleEnded(e dispatcher.Event) (any, error) {
	res, err := payload[core.BattleResults](e)
	if err != nil {
		return nil, err
	}
	m.handled.Add(1)

	return nil, m.lifecycle("end battle", func(s storage.Backend) error {
		return s.EndBattle(&res)
	})
}
