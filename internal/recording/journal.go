// Package recording persists the inputs of a battle as a zstd-compressed
// JSONL journal and replays them against the physics to prove determinism.
//
// The first line is a Header. Every following line is one resolved Turn: the
// accepted intent frames, the scheduler's kills and the resulting digest.
package recording

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/OCAP2/arena/pkg/core"
)

// FormatVersion is the journal layout version.
const FormatVersion = 1

// Extension is appended to journal file names.
const Extension = ".jsonl.zst"

// Header opens a journal.
type Header struct {
	FormatVersion   int                 `json:"format_version"`
	ProtocolVersion uint32              `json:"protocol_version"`
	BattleID        string              `json:"battle_id"`
	StartTime       time.Time           `json:"start_time"`
	Seed            int64               `json:"seed"`
	Rules           core.BattleRules    `json:"rules"`
	Robots          []core.RobotStatics `json:"robots"`
}

// Intent is one accepted intent frame.
type Intent struct {
	Index int    `json:"index"`
	Frame []byte `json:"frame"`
}

// Kill is a robot removed by the scheduler before the step.
type Kill struct {
	Index int             `json:"index"`
	Cause core.DeathCause `json:"cause"`
}

// Turn is one resolved turn. Intents are in ascending index, Kills in the
// order the scheduler issued them, Skipped holds every robot's strike count.
type Turn struct {
	Round   int32    `json:"round"`
	Turn    int32    `json:"turn"`
	Intents []Intent `json:"intents,omitempty"`
	Kills   []Kill   `json:"kills,omitempty"`
	Skipped []int32  `json:"skipped"`
	Digest  string   `json:"digest"`
}

// Writer appends to a journal file.
type Writer struct {
	path string

	mu  sync.Mutex
	f   *os.File
	enc *zstd.Encoder
	w   *bufio.Writer
}

// FileName is the journal name for a battle.
func FileName(battleID string) string {
	return battleID + Extension
}

// Create opens a new journal at path, creating its directory.
func Create(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating journal dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating journal: %w", err)
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	return &Writer{
		path: path,
		f:    f,
		enc:  enc,
		w:    bufio.NewWriterSize(enc, 128*1024),
	}, nil
}

// Path returns the journal file path.
func (w *Writer) Path() string {
	return w.path
}

// WriteHeader writes the journal header; call it once, first.
func (w *Writer) WriteHeader(h Header) error {
	if h.FormatVersion == 0 {
		h.FormatVersion = FormatVersion
	}
	return w.write(h)
}

// WriteTurn appends one resolved turn.
func (w *Writer) WriteTurn(t Turn) error {
	return w.write(t)
}

func (w *Writer) write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return errors.New("journal closed")
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	return w.w.WriteByte('\n')
}

// Close flushes and closes the journal. It is safe to call twice.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return nil
	}

	var errs []error
	errs = append(errs, w.w.Flush())
	errs = append(errs, w.enc.Close())
	errs = append(errs, w.f.Close())
	w.w, w.enc, w.f = nil, nil, nil
	return errors.Join(errs...)
}

// Reader reads a journal sequentially.
type Reader struct {
	header Header
	f      io.Closer
	dec    *zstd.Decoder
	sc     *bufio.Scanner
}

// Open reads the header of the journal at path.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	r.f = f
	return r, nil
}

// NewReader reads a journal from in. The caller closes in.
func NewReader(in io.Reader) (*Reader, error) {
	dec, err := zstd.NewReader(in)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)

	r := &Reader{dec: dec, sc: sc}
	if !sc.Scan() {
		dec.Close()
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("reading header: %w", err)
		}
		return nil, errors.New("empty journal")
	}
	if err := json.Unmarshal(sc.Bytes(), &r.header); err != nil {
		dec.Close()
		return nil, fmt.Errorf("decoding header: %w", err)
	}
	if r.header.FormatVersion != FormatVersion {
		dec.Close()
		return nil, fmt.Errorf("unsupported journal format %d, want %d", r.header.FormatVersion, FormatVersion)
	}
	return r, nil
}

// Header returns the journal header.
func (r *Reader) Header() Header {
	return r.header
}

// Next returns the next turn, or io.EOF after the last one.
func (r *Reader) Next() (Turn, error) {
	var t Turn
	if !r.sc.Scan() {
		if err := r.sc.Err(); err != nil {
			return t, err
		}
		return t, io.EOF
	}
	if err := json.Unmarshal(r.sc.Bytes(), &t); err != nil {
		return t, fmt.Errorf("decoding turn: %w", err)
	}
	return t, nil
}

// Close releases the decoder and the file opened by Open.
func (r *Reader) Close() error {
	r.dec.Close()
	if r.f != nil {
		return r.f.Close()
	}
	return nil
}
