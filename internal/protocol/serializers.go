package protocol

import (
	"fmt"

	"github.com/OCAP2/arena/pkg/core"
)

// DefaultSerializers returns one serializer per built-in payload type.
func DefaultSerializers() []Serializer {
	return []Serializer{
		intentCommandSerializer{},
		bulletCommandSerializer{},
		teamMessageSerializer{},
		debugPropertySerializer{},
		intentResultSerializer{},
		robotStatusSerializer{},
		bulletStatusSerializer{},
		turnSnapshotSerializer{},
		robotSnapshotSerializer{},
		bulletSnapshotSerializer{},
		robotEventSerializer{},
	}
}

// as accepts either T or *T.
func as[T any](v any) (T, error) {
	var zero T
	switch x := v.(type) {
	case T:
		return x, nil
	case *T:
		if x != nil {
			return *x, nil
		}
	}
	return zero, fmt.Errorf("%w: want %T, got %T", ErrTypeMismatch, zero, v)
}

// decoded returns v unless the reader failed.
func decoded[T any](r *Reader, v T) (any, error) {
	if err := r.Err(); err != nil {
		return nil, err
	}
	return v, nil
}

type intentCommandSerializer struct{}

func (intentCommandSerializer) Tag() Tag { return TagIntentCommand }

func (intentCommandSerializer) Encode(w *Writer, v any) error {
	c, err := as[core.IntentCommand](v)
	if err != nil {
		return err
	}
	w.Float64(c.BodyTurnRemaining)
	w.Float64(c.RadarTurnRemaining)
	w.Float64(c.GunTurnRemaining)
	w.Float64(c.DistanceRemaining)
	w.Bool(c.AdjustGunForBodyTurn)
	w.Bool(c.AdjustRadarForGunTurn)
	w.Bool(c.AdjustRadarForBodyTurn)
	w.Float64(c.MaxTurnRate)
	w.Float64(c.MaxVelocity)
	w.Bool(c.Scan)
	w.NullStr(c.OutputText)
	writeList(w, TagBulletCommand, c.Bullets)
	writeList(w, TagTeamMessage, c.TeamMessages)
	writeList(w, TagDebugProperty, c.DebugProperties)
	return w.Err()
}

func (intentCommandSerializer) Decode(r *Reader) (any, error) {
	var c core.IntentCommand
	c.BodyTurnRemaining = r.Float64()
	c.RadarTurnRemaining = r.Float64()
	c.GunTurnRemaining = r.Float64()
	c.DistanceRemaining = r.Float64()
	c.AdjustGunForBodyTurn = r.Bool()
	c.AdjustRadarForGunTurn = r.Bool()
	c.AdjustRadarForBodyTurn = r.Bool()
	c.MaxTurnRate = r.Float64()
	c.MaxVelocity = r.Float64()
	c.Scan = r.Bool()
	c.OutputText = r.NullStr()
	c.Bullets = readList[core.BulletCommand](r, TagBulletCommand)
	c.TeamMessages = readList[core.TeamMessage](r, TagTeamMessage)
	c.DebugProperties = readList[core.DebugProperty](r, TagDebugProperty)
	return decoded(r, c)
}

type bulletCommandSerializer struct{}

func (bulletCommandSerializer) Tag() Tag { return TagBulletCommand }

func (bulletCommandSerializer) Encode(w *Writer, v any) error {
	b, err := as[core.BulletCommand](v)
	if err != nil {
		return err
	}
	w.Float64(b.Power)
	w.Bool(b.FireAssistValid)
	w.Float64(b.FireAssistAngle)
	w.Int32(b.BulletID)
	return w.Err()
}

func (bulletCommandSerializer) Decode(r *Reader) (any, error) {
	var b core.BulletCommand
	b.Power = r.Float64()
	b.FireAssistValid = r.Bool()
	b.FireAssistAngle = r.Float64()
	b.BulletID = r.Int32()
	return decoded(r, b)
}

type teamMessageSerializer struct{}

func (teamMessageSerializer) Tag() Tag { return TagTeamMessage }

func (teamMessageSerializer) Encode(w *Writer, v any) error {
	m, err := as[core.TeamMessage](v)
	if err != nil {
		return err
	}
	w.Str(m.Sender)
	w.NullStr(m.Recipient)
	w.Blob(m.Message)
	return w.Err()
}

func (teamMessageSerializer) Decode(r *Reader) (any, error) {
	var m core.TeamMessage
	m.Sender = r.Str()
	m.Recipient = r.NullStr()
	m.Message = r.Blob()
	return decoded(r, m)
}

type debugPropertySerializer struct{}

func (debugPropertySerializer) Tag() Tag { return TagDebugProperty }

func (debugPropertySerializer) Encode(w *Writer, v any) error {
	p, err := as[core.DebugProperty](v)
	if err != nil {
		return err
	}
	w.Str(p.Key)
	w.NullStr(p.Value)
	return w.Err()
}

func (debugPropertySerializer) Decode(r *Reader) (any, error) {
	var p core.DebugProperty
	p.Key = r.Str()
	p.Value = r.NullStr()
	return decoded(r, p)
}

type intentResultSerializer struct{}

func (intentResultSerializer) Tag() Tag { return TagIntentResult }

func (intentResultSerializer) Encode(w *Writer, v any) error {
	res, err := as[core.IntentResult](v)
	if err != nil {
		return err
	}
	w.Element(TagRobotStatus, res.Status)
	writeList(w, TagRobotEvent, res.Events)
	writeList(w, TagTeamMessage, res.TeamMessages)
	writeList(w, TagBulletStatus, res.BulletUpdates)
	w.Bool(res.Halt)
	return w.Err()
}

func (intentResultSerializer) Decode(r *Reader) (any, error) {
	var res core.IntentResult
	if status, ok := r.Element(TagRobotStatus).(core.RobotStatus); ok {
		res.Status = status
	}
	res.Events = readList[core.RobotEvent](r, TagRobotEvent)
	res.TeamMessages = readList[core.TeamMessage](r, TagTeamMessage)
	res.BulletUpdates = readList[core.BulletStatus](r, TagBulletStatus)
	res.Halt = r.Bool()
	return decoded(r, res)
}

type robotStatusSerializer struct{}

func (robotStatusSerializer) Tag() Tag { return TagRobotStatus }

func (robotStatusSerializer) Encode(w *Writer, v any) error {
	s, err := as[core.RobotStatus](v)
	if err != nil {
		return err
	}
	w.Float64(s.Energy)
	w.Float64(s.X)
	w.Float64(s.Y)
	w.Float64(s.BodyHeading)
	w.Float64(s.GunHeading)
	w.Float64(s.RadarHeading)
	w.Float64(s.Velocity)
	w.Float64(s.BodyTurnRemaining)
	w.Float64(s.RadarTurnRemaining)
	w.Float64(s.GunTurnRemaining)
	w.Float64(s.DistanceRemaining)
	w.Float64(s.GunHeat)
	w.Int32(s.Others)
	w.Int32(s.Round)
	w.Int32(s.NumRounds)
	w.Int64(s.Time)
	return w.Err()
}

func (robotStatusSerializer) Decode(r *Reader) (any, error) {
	var s core.RobotStatus
	s.Energy = r.Float64()
	s.X = r.Float64()
	s.Y = r.Float64()
	s.BodyHeading = r.Float64()
	s.GunHeading = r.Float64()
	s.RadarHeading = r.Float64()
	s.Velocity = r.Float64()
	s.BodyTurnRemaining = r.Float64()
	s.RadarTurnRemaining = r.Float64()
	s.GunTurnRemaining = r.Float64()
	s.DistanceRemaining = r.Float64()
	s.GunHeat = r.Float64()
	s.Others = r.Int32()
	s.Round = r.Int32()
	s.NumRounds = r.Int32()
	s.Time = r.Int64()
	return decoded(r, s)
}

type bulletStatusSerializer struct{}

func (bulletStatusSerializer) Tag() Tag { return TagBulletStatus }

func (bulletStatusSerializer) Encode(w *Writer, v any) error {
	b, err := as[core.BulletStatus](v)
	if err != nil {
		return err
	}
	w.Int32(b.BulletID)
	w.Float64(b.X)
	w.Float64(b.Y)
	w.NullStr(b.VictimName)
	w.Bool(b.Active)
	return w.Err()
}

func (bulletStatusSerializer) Decode(r *Reader) (any, error) {
	var b core.BulletStatus
	b.BulletID = r.Int32()
	b.X = r.Float64()
	b.Y = r.Float64()
	b.VictimName = r.NullStr()
	b.Active = r.Bool()
	return decoded(r, b)
}

type turnSnapshotSerializer struct{}

func (turnSnapshotSerializer) Tag() Tag { return TagTurnSnapshot }

func (turnSnapshotSerializer) Encode(w *Writer, v any) error {
	s, err := as[core.TurnSnapshot](v)
	if err != nil {
		return err
	}
	w.Int32(s.Round)
	w.Int32(s.Turn)
	writeList(w, TagRobotSnapshot, s.Robots)
	writeList(w, TagBulletSnapshot, s.Bullets)
	return w.Err()
}

func (turnSnapshotSerializer) Decode(r *Reader) (any, error) {
	var s core.TurnSnapshot
	s.Round = r.Int32()
	s.Turn = r.Int32()
	s.Robots = readList[core.RobotSnapshot](r, TagRobotSnapshot)
	s.Bullets = readList[core.BulletSnapshot](r, TagBulletSnapshot)
	return decoded(r, s)
}

type robotSnapshotSerializer struct{}

func (robotSnapshotSerializer) Tag() Tag { return TagRobotSnapshot }

func (robotSnapshotSerializer) Encode(w *Writer, v any) error {
	s, err := as[core.RobotSnapshot](v)
	if err != nil {
		return err
	}
	w.Int32(s.Index)
	w.Str(s.Name)
	w.Str(s.TeamName)
	w.Byte(byte(s.State))
	w.Byte(byte(s.Cause))
	w.Float64(s.Energy)
	w.Float64(s.X)
	w.Float64(s.Y)
	w.Float64(s.BodyHeading)
	w.Float64(s.GunHeading)
	w.Float64(s.RadarHeading)
	w.Float64(s.Velocity)
	w.Float64(s.GunHeat)
	w.Float64(s.Score)
	w.Int32(s.SkippedTurns)
	w.Bool(s.IsSentry)
	return w.Err()
}

func (robotSnapshotSerializer) Decode(r *Reader) (any, error) {
	var s core.RobotSnapshot
	s.Index = r.Int32()
	s.Name = r.Str()
	s.TeamName = r.Str()
	s.State = core.UnitState(enumByte(r, byte(core.UnitDead)))
	s.Cause = core.DeathCause(enumByte(r, byte(core.CauseAborted)))
	s.Energy = r.Float64()
	s.X = r.Float64()
	s.Y = r.Float64()
	s.BodyHeading = r.Float64()
	s.GunHeading = r.Float64()
	s.RadarHeading = r.Float64()
	s.Velocity = r.Float64()
	s.GunHeat = r.Float64()
	s.Score = r.Float64()
	s.SkippedTurns = r.Int32()
	s.IsSentry = r.Bool()
	return decoded(r, s)
}

type bulletSnapshotSerializer struct{}

func (bulletSnapshotSerializer) Tag() Tag { return TagBulletSnapshot }

func (bulletSnapshotSerializer) Encode(w *Writer, v any) error {
	b, err := as[core.BulletSnapshot](v)
	if err != nil {
		return err
	}
	w.Int32(b.BulletID)
	w.Int32(b.OwnerIndex)
	w.Int32(b.VictimIndex)
	w.Byte(byte(b.State))
	w.Float64(b.X)
	w.Float64(b.Y)
	w.Float64(b.Heading)
	w.Float64(b.Power)
	w.Int32(b.Frame)
	return w.Err()
}

func (bulletSnapshotSerializer) Decode(r *Reader) (any, error) {
	var b core.BulletSnapshot
	b.BulletID = r.Int32()
	b.OwnerIndex = r.Int32()
	b.VictimIndex = r.Int32()
	b.State = core.BulletState(enumByte(r, byte(core.BulletInactive)))
	b.X = r.Float64()
	b.Y = r.Float64()
	b.Heading = r.Float64()
	b.Power = r.Float64()
	b.Frame = r.Int32()
	return decoded(r, b)
}

type robotEventSerializer struct{}

func (robotEventSerializer) Tag() Tag { return TagRobotEvent }

func (robotEventSerializer) Encode(w *Writer, v any) error {
	e, err := as[core.RobotEvent](v)
	if err != nil {
		return err
	}
	w.Byte(byte(e.Kind))
	w.Int64(e.Time)
	w.Int32(e.Priority)
	w.NullStr(e.Name)
	w.Float64(e.Bearing)
	w.Float64(e.Distance)
	w.Float64(e.Heading)
	w.Float64(e.Velocity)
	w.Float64(e.Energy)
	w.Float64(e.Power)
	w.Int32(e.BulletID)
	return w.Err()
}

func (robotEventSerializer) Decode(r *Reader) (any, error) {
	var e core.RobotEvent
	e.Kind = core.EventKind(r.Byte())
	if r.Err() == nil && !e.Kind.Valid() {
		r.fail(fmt.Errorf("%w: event kind %d", ErrInvalidEnumValue, e.Kind))
	}
	e.Time = r.Int64()
	e.Priority = r.Int32()
	e.Name = r.NullStr()
	e.Bearing = r.Float64()
	e.Distance = r.Float64()
	e.Heading = r.Float64()
	e.Velocity = r.Float64()
	e.Energy = r.Float64()
	e.Power = r.Float64()
	e.BulletID = r.Int32()
	return decoded(r, e)
}

// enumByte reads a byte and rejects anything above max.
func enumByte(r *Reader, max byte) byte {
	b := r.Byte()
	if r.Err() == nil && b > max {
		r.fail(fmt.Errorf("%w: %d > %d", ErrInvalidEnumValue, b, max))
	}
	return b
}
