// Package websocket streams a battle live to a web viewer. It implements
// storage.Backend but not storage.Uploadable.
package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/OCAP2/arena/internal/config"
	"github.com/OCAP2/arena/pkg/core"
)

// Backend streams battle data over WebSocket.
type Backend struct {
	conn *connection
	cfg  config.StreamConfig
}

// New creates a new WebSocket storage backend.
func New(cfg config.StreamConfig, log *slog.Logger) *Backend {
	if log == nil {
		log = slog.Default()
	}
	return &Backend{
		conn: newConnection(log.With("component", "storage.websocket")),
		cfg:  cfg,
	}
}

// Init connects to the WebSocket server.
func (b *Backend) Init() error {
	return b.conn.dial(b.cfg.URL, b.cfg.Secret)
}

// Close disconnects from the WebSocket server.
func (b *Backend) Close() error {
	return b.conn.close()
}

// Dropped returns how many messages never reached the socket.
func (b *Backend) Dropped() int64 {
	return b.conn.dropped.Load()
}

// marshalEnvelope builds a JSON-encoded Envelope from a message type and payload.
func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	env := Envelope{Type: msgType, Payload: raw}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

// sendEnvelope marshals the payload into an Envelope and pushes it
// to the write loop (fire-and-forget).
func (b *Backend) sendEnvelope(msgType string, payload any) error {
	data, err := marshalEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	b.conn.send(data)
	return nil
}

// StartBattle sends the battle setup and waits for server ack.
func (b *Backend) StartBattle(battle *core.Battle) error {
	data, err := marshalEnvelope(TypeStartBattle, newStartBattlePayload(battle))
	if err != nil {
		return err
	}

	// Cache for reconnect replay.
	b.conn.mu.Lock()
	b.conn.cachedStartMsg = data
	b.conn.mu.Unlock()

	return b.conn.sendAndWait(data, TypeStartBattle, ackTimeout)
}

// EndBattle sends end_battle and waits for server ack.
func (b *Backend) EndBattle(r *core.BattleResults) error {
	data, err := marshalEnvelope(TypeEndBattle, EndBattlePayload{EndTime: r.EndTime, Aborted: r.Aborted, Scores: r.Scores})
	if err != nil {
		return err
	}
	err = b.conn.sendAndWait(data, TypeEndBattle, ackTimeout)

	// Clear cached state regardless of error.
	b.conn.mu.Lock()
	b.conn.cachedStartMsg = nil
	b.conn.mu.Unlock()

	return err
}

func (b *Backend) StartRound(s *core.TurnSnapshot) error {
	return b.sendEnvelope(TypeRoundStarted, newTurnPayload(s, nil, ""))
}

func (b *Backend) RecordTurn(t *core.TurnRecord) error {
	return b.sendEnvelope(TypeTurn, newTurnPayload(t.Snapshot, t.Events, t.Digest))
}

func (b *Backend) RecordDeath(d *core.DeathRecord) error {
	return b.sendEnvelope(TypeRobotDeath, DeathPayload{
		Round:  d.Round,
		Turn:   d.Turn,
		Robot:  d.RobotIndex,
		Name:   d.RobotName,
		Cause:  d.Cause.String(),
		Killer: d.KillerIndex,
	})
}

func (b *Backend) RecordBadBehavior(d *core.Diagnostic) error {
	return b.sendEnvelope(TypeBadBehavior, BehaviorPayload{
		Round:    d.Round,
		Turn:     d.Turn,
		Robot:    d.RobotIndex,
		Name:     d.RobotName,
		Behavior: string(d.Behavior),
		Detail:   d.Detail,
	})
}

func (b *Backend) EndRound(r *core.RoundResult) error {
	placements := r.Placements
	if placements == nil {
		placements = []int{}
	}
	return b.sendEnvelope(TypeRoundEnded, RoundEndedPayload{
		Round:      r.Round,
		Turns:      r.Turns,
		Draw:       r.Draw,
		Placements: placements,
	})
}
