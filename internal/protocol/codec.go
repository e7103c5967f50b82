package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"
)

// nullLength marks an absent string or byte array.
const nullLength = -1

// terminatorByte is TagTerminator as it appears on the wire.
const terminatorByte byte = 0xFF

// Writer encodes primitives in network byte order. The first failure sticks
// and every later call is a no-op.
type Writer struct {
	buf bytes.Buffer
	reg *Registry
	err error
}

func newWriter(reg *Registry) *Writer {
	return &Writer{reg: reg}
}

// Err returns the first encoding failure.
func (w *Writer) Err() error {
	return w.err
}

// Bytes returns the encoded payload.
func (w *Writer) Bytes() []byte {
	return w.buf.Bytes()
}

func (w *Writer) fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

func (w *Writer) Byte(v byte) {
	if w.err != nil {
		return
	}
	w.buf.WriteByte(v)
}

func (w *Writer) Bool(v bool) {
	if v {
		w.Byte(1)
	} else {
		w.Byte(0)
	}
}

func (w *Writer) Int32(v int32) {
	if w.err != nil {
		return
	}
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	w.buf.Write(b[:])
}

func (w *Writer) Int64(v int64) {
	if w.err != nil {
		return
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	w.buf.Write(b[:])
}

func (w *Writer) Float64(v float64) {
	if w.err != nil {
		return
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
	w.buf.Write(b[:])
}

// Str writes a non-null string.
func (w *Writer) Str(s string) {
	if !utf8.ValidString(s) {
		w.fail(fmt.Errorf("%w: %q", ErrInvalidUTF8Out, s))
		return
	}
	w.Int32(int32(len(s)))
	if w.err == nil {
		w.buf.WriteString(s)
	}
}

// NullStr writes s, or the null marker when s is nil.
func (w *Writer) NullStr(s *string) {
	if s == nil {
		w.Int32(nullLength)
		return
	}
	w.Str(*s)
}

// Blob writes a byte array; nil is encoded as null.
func (w *Writer) Blob(b []byte) {
	if b == nil {
		w.Int32(nullLength)
		return
	}
	w.Int32(int32(len(b)))
	if w.err == nil {
		w.buf.Write(b)
	}
}

// Element writes a tagged value using the serializer registered for tag.
func (w *Writer) Element(tag Tag, v any) {
	if w.err != nil {
		return
	}
	s, ok := w.reg.lookup(tag)
	if !ok {
		w.fail(fmt.Errorf("%w: %s", ErrUnregistered, tag))
		return
	}
	w.Byte(byte(tag))
	if err := s.Encode(w, v); err != nil {
		w.fail(err)
	}
}

// Terminator closes a list of elements.
func (w *Writer) Terminator() {
	w.Byte(terminatorByte)
}

// Reader decodes what Writer produced. Like Writer, the first failure sticks
// and later reads return zero values.
type Reader struct {
	data []byte
	off  int
	reg  *Registry
	err  error
}

func newReader(reg *Registry, data []byte) *Reader {
	return &Reader{data: data, reg: reg}
}

// Err returns the first decoding failure.
func (r *Reader) Err() error {
	return r.err
}

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int {
	return len(r.data) - r.off
}

func (r *Reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 {
		r.fail(ErrNegativeLength)
		return nil
	}
	if n > len(r.data)-r.off {
		r.fail(fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrTruncated, n, r.off, len(r.data)-r.off))
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) Byte() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *Reader) Bool() bool {
	switch v := r.Byte(); v {
	case 0:
		return false
	case 1:
		return true
	default:
		r.fail(fmt.Errorf("%w: %#x", ErrInvalidBool, v))
		return false
	}
}

func (r *Reader) Int32() int32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return int32(binary.BigEndian.Uint32(b))
}

func (r *Reader) Int64() int64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

func (r *Reader) Float64() float64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b))
}

// Str reads a string that must not be null.
func (r *Reader) Str() string {
	s := r.NullStr()
	if s == nil {
		r.fail(ErrUnexpectedNull)
		return ""
	}
	return *s
}

// NullStr reads a string, returning nil for the null marker.
func (r *Reader) NullStr() *string {
	n := r.Int32()
	if r.err != nil || n == nullLength {
		return nil
	}
	b := r.take(int(n))
	if b == nil {
		return nil
	}
	if !utf8.Valid(b) {
		r.fail(ErrMalformedString)
		return nil
	}
	s := string(b)
	return &s
}

// Blob reads a byte array, returning nil for the null marker.
func (r *Reader) Blob() []byte {
	n := r.Int32()
	if r.err != nil || n == nullLength {
		return nil
	}
	b := r.take(int(n))
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Tag reads a type tag.
func (r *Reader) Tag() Tag {
	return Tag(int8(r.Byte()))
}

// Element reads a tagged value and checks it carries the expected tag.
func (r *Reader) Element(want Tag) any {
	got := r.Tag()
	if r.err != nil {
		return nil
	}
	if got != want {
		r.fail(fmt.Errorf("%w: want %s, got %s", ErrUnexpectedTag, want, got))
		return nil
	}
	return r.value(got)
}

func (r *Reader) value(tag Tag) any {
	s, ok := r.reg.lookup(tag)
	if !ok {
		r.fail(fmt.Errorf("%w: %s", ErrUnknownTag, tag))
		return nil
	}
	v, err := s.Decode(r)
	if err != nil {
		r.fail(err)
		return nil
	}
	return v
}

// writeList writes each item as a tagged element followed by the terminator.
func writeList[T any](w *Writer, tag Tag, items []T) {
	for i := range items {
		w.Element(tag, items[i])
	}
	w.Terminator()
}

// readList reads tagged elements of one type up to the terminator. Lists
// carry no null marker, so nil and empty lists share one encoding and both
// decode as nil.
func readList[T any](r *Reader, tag Tag) []T {
	var out []T
	for r.err == nil {
		t := r.Tag()
		if r.err != nil {
			return nil
		}
		if t == TagTerminator {
			return out
		}
		if t != tag {
			r.fail(fmt.Errorf("%w: want %s in list, got %s", ErrUnexpectedTag, tag, t))
			return nil
		}
		v := r.value(t)
		item, ok := v.(T)
		if !ok {
			r.fail(fmt.Errorf("%w: %s decoded as %T", ErrUnexpectedTag, tag, v))
			return nil
		}
		out = append(out, item)
	}
	return nil
}
