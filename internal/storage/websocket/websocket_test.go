package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/arena/internal/config"
	"github.com/OCAP2/arena/pkg/core"
)

// testServer creates an httptest server that upgrades to WebSocket,
// records received messages, and sends acks for start_battle/end_battle.
func testServer(t *testing.T) (*httptest.Server, *messageLog) {
	t.Helper()
	ml := &messageLog{}

	upgrader := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ml.setSecret(r.URL.Query().Get("secret"))
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer c.Close()

		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}

			var env Envelope
			if err := json.Unmarshal(msg, &env); err != nil {
				continue
			}
			ml.add(env)

			if env.Type == TypeStartBattle || env.Type == TypeEndBattle {
				ack := AckMessage{Type: "ack", For: env.Type}
				data, _ := json.Marshal(ack)
				if err := c.WriteMessage(ws.TextMessage, data); err != nil {
					return
				}
			}
		}
	}))

	return srv, ml
}

type messageLog struct {
	mu       sync.Mutex
	messages []Envelope
	secret   string
}

func (m *messageLog) add(env Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, env)
}

func (m *messageLog) setSecret(s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secret = s
}

func (m *messageLog) all() []Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]Envelope, len(m.messages))
	copy(cp, m.messages)
	return cp
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func testBattle() *core.Battle {
	return &core.Battle{
		ID:     "b-1",
		Rules:  core.DefaultRules(),
		Robots: []core.RobotStatics{{Index: 0, Name: "a"}, {Index: 1, Name: "b", Class: core.ClassTeam, TeamName: "t"}},
	}
}

func TestStartAndEndBattle(t *testing.T) {
	srv, ml := testServer(t)
	defer srv.Close()

	b := New(config.StreamConfig{URL: wsURL(srv), Secret: "test"}, nil)
	require.NoError(t, b.Init())
	defer b.Close()

	require.NoError(t, b.StartBattle(testBattle()))
	require.NoError(t, b.EndBattle(&core.BattleResults{Scores: []core.RobotScore{{Index: 1, Rank: 1}}}))

	msgs := ml.all()
	require.GreaterOrEqual(t, len(msgs), 2)
	assert.Equal(t, TypeStartBattle, msgs[0].Type)
	assert.Equal(t, TypeEndBattle, msgs[len(msgs)-1].Type)

	var start StartBattlePayload
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &start))
	assert.Equal(t, "b-1", start.BattleID)
	require.Len(t, start.Robots, 2)
	assert.Equal(t, "team", start.Robots[1].Class)

	ml.mu.Lock()
	assert.Equal(t, "test", ml.secret)
	ml.mu.Unlock()
}

func TestFireAndForgetMessages(t *testing.T) {
	srv, ml := testServer(t)
	defer srv.Close()

	b := New(config.StreamConfig{URL: wsURL(srv), Secret: "s"}, nil)
	require.NoError(t, b.Init())
	defer b.Close()

	require.NoError(t, b.StartBattle(testBattle()))

	snap := &core.TurnSnapshot{
		Round:   1,
		Turn:    1,
		Robots:  []core.RobotSnapshot{{Index: 0, State: core.UnitActive, X: 10, Y: 20}},
		Bullets: []core.BulletSnapshot{{BulletID: 1, State: core.BulletFired}},
	}
	require.NoError(t, b.StartRound(snap))
	require.NoError(t, b.RecordTurn(&core.TurnRecord{Snapshot: snap, Digest: "abc", Events: []core.TurnEvent{
		{RobotIndex: 0, Event: core.NewEvent(core.EventScannedRobot, 1)},
		{RobotIndex: 0, Event: core.NewEvent(core.EventHitWall, 1)},
	}}))
	require.NoError(t, b.RecordDeath(&core.DeathRecord{RobotIndex: 1, Cause: core.CauseKilled}))
	require.NoError(t, b.RecordBadBehavior(&core.Diagnostic{RobotIndex: 0, Behavior: core.BehaviorSkippedTurn}))
	require.NoError(t, b.EndRound(&core.RoundResult{Round: 1}))
	require.NoError(t, b.EndBattle(&core.BattleResults{}))

	// Give a moment for all messages to arrive at server.
	time.Sleep(50 * time.Millisecond)

	msgs := ml.all()
	types := make(map[string]int)
	var turn TurnPayload
	for _, m := range msgs {
		types[m.Type]++
		if m.Type == TypeTurn {
			require.NoError(t, json.Unmarshal(m.Payload, &turn))
		}
	}

	assert.Equal(t, 1, types[TypeStartBattle])
	assert.Equal(t, 1, types[TypeEndBattle])
	assert.Equal(t, 1, types[TypeRoundStarted])
	assert.Equal(t, 1, types[TypeTurn])
	assert.Equal(t, 1, types[TypeRobotDeath])
	assert.Equal(t, 1, types[TypeBadBehavior])
	assert.Equal(t, 1, types[TypeRoundEnded])

	assert.Equal(t, "abc", turn.Digest)
	assert.Equal(t, [2]float64{10, 20}, turn.Robots[0].Pos)
	require.Len(t, turn.Events, 1, "scans are not streamed")
	assert.Equal(t, "hit_wall", turn.Events[0].Kind)
	assert.Zero(t, b.Dropped())
}

func TestInit_DialFails(t *testing.T) {
	b := New(config.StreamConfig{URL: "ws://127.0.0.1:1/stream"}, nil)
	assert.Error(t, b.Init())
	assert.NoError(t, b.Close())
}

func TestInit_InvalidURL(t *testing.T) {
	b := New(config.StreamConfig{URL: "://bad"}, nil)
	err := b.Init()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid websocket URL")
}

func TestStartBattle_AckTimeoutAfterClose(t *testing.T) {
	srv, _ := testServer(t)
	defer srv.Close()

	b := New(config.StreamConfig{URL: wsURL(srv)}, nil)
	require.NoError(t, b.Init())
	require.NoError(t, b.Close())

	err := b.StartBattle(testBattle())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection closed")
}

func TestReconnect_ReplaysStartBattle(t *testing.T) {
	srv, ml := testServer(t)
	defer srv.Close()

	b := New(config.StreamConfig{URL: wsURL(srv)}, nil)
	b.conn.backoff = 10 * time.Millisecond
	require.NoError(t, b.Init())
	defer b.Close()

	require.NoError(t, b.StartBattle(testBattle()))

	// drop the socket from the client side; the read loop notices and redials
	b.conn.mu.Lock()
	_ = b.conn.conn.Close()
	b.conn.mu.Unlock()

	assert.Eventually(t, func() bool {
		n := 0
		for _, m := range ml.all() {
			if m.Type == TypeStartBattle {
				n++
			}
		}
		return n == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEnvelopeSerialization(t *testing.T) {
	payload := DeathPayload{Robot: 3, Cause: "KILLED", Killer: 1}
	data, err := marshalEnvelope(TypeRobotDeath, payload)
	require.NoError(t, err)

	var decoded Envelope
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, TypeRobotDeath, decoded.Type)

	var dp DeathPayload
	require.NoError(t, json.Unmarshal(decoded.Payload, &dp))
	assert.Equal(t, 3, dp.Robot)
	assert.Equal(t, "KILLED", dp.Cause)
}
