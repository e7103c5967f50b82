package convert

import (
	"errors"
	"fmt"

	geom "github.com/peterstace/simplefeatures/geom"

	"github.com/OCAP2/arena/internal/model"
	"github.com/OCAP2/arena/pkg/core"
)

type trackKey struct {
	round, bullet int32
}

type openTrack struct {
	track  model.BulletTrack
	coords []float64
}

// TrackBuilder follows bullets across snapshots and emits a BulletTrack when
// a bullet stops. Not safe for concurrent use.
type TrackBuilder struct {
	open map[trackKey]*openTrack
}

// NewTrackBuilder returns an empty builder.
func NewTrackBuilder() *TrackBuilder {
	return &TrackBuilder{open: make(map[trackKey]*openTrack)}
}

// Observe adds a snapshot's bullet positions and returns the tracks of
// bullets that stopped this turn. A track that cannot be built is dropped
// and reported in the error; the others are still returned.
func (b *TrackBuilder) Observe(snap *core.TurnSnapshot) ([]model.BulletTrack, error) {
	var (
		done []model.BulletTrack
		errs []error
	)
	for _, bs := range snap.Bullets {
		key := trackKey{snap.Round, bs.BulletID}
		t, ok := b.open[key]
		if !ok {
			t = &openTrack{track: model.BulletTrack{
				Round:       snap.Round,
				BulletID:    bs.BulletID,
				OwnerIndex:  bs.OwnerIndex,
				VictimIndex: -1,
				Power:       bs.Power,
				FiredTurn:   snap.Turn,
			}}
			b.open[key] = t
		}
		n := len(t.coords)
		if n < 2 || t.coords[n-2] != bs.X || t.coords[n-1] != bs.Y {
			t.coords = append(t.coords, bs.X, bs.Y)
		}
		if bs.State.Active() {
			continue
		}
		t.track.EndTurn = snap.Turn
		t.track.EndState = bs.State.String()
		t.track.VictimIndex = bs.VictimIndex
		delete(b.open, key)
		tr, err := t.finish()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		done = append(done, tr)
	}
	return done, errors.Join(errs...)
}

// Flush closes every bullet still in flight, as at the end of a round.
func (b *TrackBuilder) Flush(round int32, turn int32) ([]model.BulletTrack, error) {
	var (
		done []model.BulletTrack
		errs []error
	)
	for key, t := range b.open {
		if key.round != round {
			continue
		}
		t.track.EndTurn = turn
		t.track.EndState = core.BulletInactive.String()
		delete(b.open, key)
		tr, err := t.finish()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		done = append(done, tr)
	}
	return done, errors.Join(errs...)
}

// Open returns the number of bullets in flight.
func (b *TrackBuilder) Open() int {
	return len(b.open)
}

// finish builds the geometry. A bullet seen at a single position has no
// line, only an end point.
func (t *openTrack) finish() (model.BulletTrack, error) {
	n := len(t.coords)
	end, err := point(t.coords[n-2], t.coords[n-1])
	if err != nil {
		return model.BulletTrack{}, fmt.Errorf("bullet %d: %w", t.track.BulletID, err)
	}
	t.track.End = end
	if n < 4 {
		return t.track, nil
	}
	ls, err := geom.NewLineString(geom.NewSequence(t.coords, geom.DimXY))
	if err != nil {
		return model.BulletTrack{}, fmt.Errorf("bullet %d track: %w", t.track.BulletID, err)
	}
	t.track.Track = &ls
	return t.track, nil
}
