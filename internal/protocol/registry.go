// Package protocol implements the versioned binary envelope that carries
// intents, results and snapshots across the unit boundary and into the
// battle journal.
//
// A frame is [format-version:4][payload-length:4][type-tag:1][payload], big
// endian. payload-length counts the tag byte and the payload. The receiver
// only accepts frames carrying exactly its own format version.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// FormatVersion is the wire format produced by NewDefaultRegistry.
const FormatVersion uint32 = 0x0001_0000

// MaxFrameSize bounds a single frame's payload.
const MaxFrameSize = 4 << 20

const headerSize = 8

// Tag identifies a payload shape.
type Tag int8

const (
	TagTerminator     Tag = -1
	TagIntentCommand  Tag = 1
	TagBulletCommand  Tag = 2
	TagTeamMessage    Tag = 3
	TagDebugProperty  Tag = 4
	TagIntentResult   Tag = 5
	TagRobotStatus    Tag = 6
	TagBulletStatus   Tag = 7
	TagTurnSnapshot   Tag = 11
	TagRobotSnapshot  Tag = 12
	TagBulletSnapshot Tag = 13
	TagRobotEvent     Tag = 32
)

var tagNames = map[Tag]string{
	TagTerminator:     "ListTerminator",
	TagIntentCommand:  "IntentCommand",
	TagBulletCommand:  "BulletCommand",
	TagTeamMessage:    "TeamMessage",
	TagDebugProperty:  "DebugProperty",
	TagIntentResult:   "IntentResult",
	TagRobotStatus:    "RobotStatus",
	TagBulletStatus:   "BulletStatus",
	TagTurnSnapshot:   "TurnSnapshot",
	TagRobotSnapshot:  "RobotSnapshot",
	TagBulletSnapshot: "BulletSnapshot",
	TagRobotEvent:     "RobotEvent",
}

func (t Tag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Tag(%d)", int8(t))
}

// Serializer encodes and decodes one payload shape. Encode accepts the value
// or a pointer to it; Decode returns the value.
type Serializer interface {
	Tag() Tag
	Encode(w *Writer, v any) error
	Decode(r *Reader) (any, error)
}

// Registry maps tags to serializers for one format version. It is built once
// and is read-only afterwards, so it is safe to share between goroutines.
type Registry struct {
	version     uint32
	serializers map[Tag]Serializer
}

// NewRegistry builds a registry from an explicit serializer set.
func NewRegistry(version uint32, serializers ...Serializer) (*Registry, error) {
	r := &Registry{
		version:     version,
		serializers: make(map[Tag]Serializer, len(serializers)),
	}
	for _, s := range serializers {
		tag := s.Tag()
		if tag == TagTerminator {
			return nil, fmt.Errorf("%w: %s", ErrReservedTag, tag)
		}
		if _, dup := r.serializers[tag]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTag, tag)
		}
		r.serializers[tag] = s
	}
	return r, nil
}

// NewDefaultRegistry returns a registry with every built-in payload type.
func NewDefaultRegistry() *Registry {
	r, err := NewRegistry(FormatVersion, DefaultSerializers()...)
	if err != nil {
		// The built-in set is static; a failure here is a programming error.
		panic(err)
	}
	return r
}

// Version returns the format version this registry reads and writes.
func (r *Registry) Version() uint32 {
	return r.version
}

// Has reports whether tag is registered.
func (r *Registry) Has(tag Tag) bool {
	_, ok := r.serializers[tag]
	return ok
}

func (r *Registry) lookup(tag Tag) (Serializer, bool) {
	s, ok := r.serializers[tag]
	return s, ok
}

// Marshal encodes v as a complete frame.
func (r *Registry) Marshal(tag Tag, v any) ([]byte, error) {
	s, ok := r.lookup(tag)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnregistered, tag)
	}

	w := newWriter(r)
	w.buf.Write(make([]byte, headerSize))
	w.Byte(byte(tag))
	if err := s.Encode(w, v); err != nil {
		return nil, err
	}
	if err := w.Err(); err != nil {
		return nil, err
	}

	frame := w.Bytes()
	length := len(frame) - headerSize
	if length > MaxFrameSize {
		return nil, fmt.Errorf("encoding %s: %w (%d bytes)", tag, ErrFrameTooLarge, length)
	}
	binary.BigEndian.PutUint32(frame[0:4], r.version)
	binary.BigEndian.PutUint32(frame[4:8], uint32(length))
	return frame, nil
}

// Unmarshal decodes a complete frame. The frame must contain exactly one
// payload and nothing after it.
func (r *Registry) Unmarshal(frame []byte) (Tag, any, error) {
	if len(frame) < headerSize+1 {
		return 0, nil, fmt.Errorf("%w: frame of %d bytes", ErrTruncated, len(frame))
	}
	if err := r.checkHeader(frame[:headerSize], len(frame)-headerSize); err != nil {
		return 0, nil, err
	}
	return r.decodeBody(frame[headerSize:])
}

// UnmarshalAs decodes a frame and checks it carries the wanted tag.
func UnmarshalAs[T any](r *Registry, want Tag, frame []byte) (T, error) {
	var zero T
	tag, v, err := r.Unmarshal(frame)
	if err != nil {
		return zero, err
	}
	if tag != want {
		return zero, fmt.Errorf("%w: want %s, got %s", ErrUnexpectedTag, want, tag)
	}
	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s decoded as %T", ErrUnexpectedTag, tag, v)
	}
	return out, nil
}

// WriteFrame encodes v and writes the frame to out.
func (r *Registry) WriteFrame(out io.Writer, tag Tag, v any) error {
	frame, err := r.Marshal(tag, v)
	if err != nil {
		return err
	}
	_, err = out.Write(frame)
	return err
}

// ReadFrame reads exactly one frame from in.
func (r *Registry) ReadFrame(in io.Reader) (Tag, any, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(in, header[:]); err != nil {
		if err == io.EOF {
			return 0, nil, err
		}
		return 0, nil, fmt.Errorf("%w: reading header: %v", ErrTruncated, err)
	}
	length := binary.BigEndian.Uint32(header[4:8])
	if err := r.checkHeader(header[:], int(length)); err != nil {
		return 0, nil, err
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(in, body); err != nil {
		return 0, nil, fmt.Errorf("%w: reading body: %v", ErrTruncated, err)
	}
	return r.decodeBody(body)
}

func (r *Registry) checkHeader(header []byte, available int) error {
	version := binary.BigEndian.Uint32(header[0:4])
	if version != r.version {
		return fmt.Errorf("%w: got %#08x, want %#08x", ErrVersionMismatch, version, r.version)
	}
	length := binary.BigEndian.Uint32(header[4:8])
	if length > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}
	if length == 0 {
		return fmt.Errorf("%w: empty payload", ErrTruncated)
	}
	if int(length) != available {
		return fmt.Errorf("%w: header says %d, frame has %d", ErrLengthMismatch, length, available)
	}
	return nil
}

func (r *Registry) decodeBody(body []byte) (Tag, any, error) {
	rd := newReader(r, body)
	tag := rd.Tag()
	v := rd.value(tag)
	if err := rd.Err(); err != nil {
		return tag, nil, fmt.Errorf("decoding %s: %w", tag, err)
	}
	if rd.Remaining() != 0 {
		return tag, nil, fmt.Errorf("decoding %s: %w (%d bytes)", tag, ErrTrailingBytes, rd.Remaining())
	}
	return tag, v, nil
}
