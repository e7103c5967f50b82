package websocket

import (
	"encoding/json"
	"time"

	"github.com/OCAP2/arena/pkg/core"
)

// Message type constants matching the streaming protocol.
const (
	TypeStartBattle  = "start_battle"
	TypeEndBattle    = "end_battle"
	TypeRoundStarted = "round_started"
	TypeTurn         = "turn"
	TypeRobotDeath   = "robot_death"
	TypeBadBehavior  = "bad_behavior"
	TypeRoundEnded   = "round_ended"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AckMessage is the server's acknowledgement response.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`  // the message type being acknowledged
}

// RobotInfo describes a contestant once per battle.
type RobotInfo struct {
	Index     int    `json:"index"`
	Name      string `json:"name"`
	ShortName string `json:"shortName"`
	Class     string `json:"class"`
	TeamName  string `json:"teamName,omitempty"`
}

// StartBattlePayload carries the battle setup.
type StartBattlePayload struct {
	BattleID        string           `json:"battleId"`
	StartTime       time.Time        `json:"startTime"`
	ProtocolVersion uint32           `json:"protocolVersion"`
	Rules           core.BattleRules `json:"rules"`
	Robots          []RobotInfo      `json:"robots"`
}

// RobotFrame is one robot at a turn boundary.
type RobotFrame struct {
	Index  int32      `json:"i"`
	State  string     `json:"state"`
	Energy float64    `json:"energy"`
	Pos    [2]float64 `json:"pos"`
	Body   float64    `json:"body"`
	Gun    float64    `json:"gun"`
	Radar  float64    `json:"radar"`
	Speed  float64    `json:"speed"`
}

// BulletFrame is one bullet at a turn boundary.
type BulletFrame struct {
	ID    int32      `json:"id"`
	Owner int32      `json:"owner"`
	State string     `json:"state"`
	Pos   [2]float64 `json:"pos"`
	Power float64    `json:"power"`
}

// EventFrame is a robot event, scans excluded.
type EventFrame struct {
	Robot    int    `json:"robot"`
	Kind     string `json:"kind"`
	BulletID int32  `json:"bulletId,omitempty"`
}

// TurnPayload is sent once per resolved turn.
type TurnPayload struct {
	Round   int32         `json:"round"`
	Turn    int32         `json:"turn"`
	Digest  string        `json:"digest,omitempty"`
	Robots  []RobotFrame  `json:"robots"`
	Bullets []BulletFrame `json:"bullets"`
	Events  []EventFrame  `json:"events,omitempty"`
}

// DeathPayload reports a robot leaving the round.
type DeathPayload struct {
	Round  int    `json:"round"`
	Turn   int    `json:"turn"`
	Robot  int    `json:"robot"`
	Name   string `json:"name"`
	Cause  string `json:"cause"`
	Killer int    `json:"killer"`
}

// BehaviorPayload reports a diagnostic.
type BehaviorPayload struct {
	Round    int    `json:"round"`
	Turn     int    `json:"turn"`
	Robot    int    `json:"robot"`
	Name     string `json:"name"`
	Behavior string `json:"behavior"`
	Detail   string `json:"detail"`
}

// RoundEndedPayload closes a round.
type RoundEndedPayload struct {
	Round      int   `json:"round"`
	Turns      int   `json:"turns"`
	Draw       bool  `json:"draw"`
	Placements []int `json:"placements"`
}

// EndBattlePayload carries the final ranking.
type EndBattlePayload struct {
	EndTime time.Time         `json:"endTime"`
	Aborted bool              `json:"aborted"`
	Scores  []core.RobotScore `json:"scores"`
}

func newStartBattlePayload(b *core.Battle) StartBattlePayload {
	p := StartBattlePayload{
		BattleID:        b.ID,
		StartTime:       b.StartTime,
		ProtocolVersion: b.FormatVersion,
		Rules:           b.Rules,
		Robots:          make([]RobotInfo, 0, len(b.Robots)),
	}
	for _, s := range b.Robots {
		p.Robots = append(p.Robots, RobotInfo{
			Index:     s.Index,
			Name:      s.Name,
			ShortName: s.ShortName,
			Class:     s.Class.String(),
			TeamName:  s.TeamName,
		})
	}
	return p
}

func newTurnPayload(s *core.TurnSnapshot, events []core.TurnEvent, digest string) TurnPayload {
	p := TurnPayload{
		Round:   s.Round,
		Turn:    s.Turn,
		Digest:  digest,
		Robots:  make([]RobotFrame, 0, len(s.Robots)),
		Bullets: make([]BulletFrame, 0, len(s.Bullets)),
	}
	for _, r := range s.Robots {
		p.Robots = append(p.Robots, RobotFrame{
			Index:  r.Index,
			State:  r.State.String(),
			Energy: r.Energy,
			Pos:    [2]float64{r.X, r.Y},
			Body:   r.BodyHeading,
			Gun:    r.GunHeading,
			Radar:  r.RadarHeading,
			Speed:  r.Velocity,
		})
	}
	for _, b := range s.Bullets {
		p.Bullets = append(p.Bullets, BulletFrame{
			ID:    b.BulletID,
			Owner: b.OwnerIndex,
			State: b.State.String(),
			Pos:   [2]float64{b.X, b.Y},
			Power: b.Power,
		})
	}
	for _, e := range events {
		if e.Event.Kind == core.EventScannedRobot {
			continue
		}
		p.Events = append(p.Events, EventFrame{Robot: e.RobotIndex, Kind: e.Event.Kind.String(), BulletID: e.Event.BulletID})
	}
	return p
}
