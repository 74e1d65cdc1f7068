// Package trace implements the diagnostic wrapper stream every session
// can optionally attach to its content stream: it
// records each read/write's position, byte count, and outcome, in call
// order, with a monotonically increasing sequence number, and can mirror
// those records to a flushed text file as they happen.
package trace

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/discore/discore/direrr"
	"github.com/discore/discore/sparse"
)

////////////////////////////////////////////////////////////////////////////////

// Activity distinguishes a read record from a write record.
type Activity int

const (
	ActivityRead Activity = iota
	ActivityWrite
)

func (a Activity) String() string {
	if a == ActivityWrite {
		return "write"
	}
	return "read"
}

////////////////////////////////////////////////////////////////////////////////

// Record is one entry in a Tracer's log: the position captured before
// the wrapped call ran, the byte count requested, and either a
// successful transfer count (Result >= 0) or -1 plus the error that was
// re-raised.
type Record struct {
	Seq      uint64
	Activity Activity
	Position uint64
	Count    uint64
	Result   int64
	Err      error
	Stack    []byte
}

////////////////////////////////////////////////////////////////////////////////

// Tracer wraps a sparse.Stream, recording every read/write per spec
// §4.7's passthrough protocol. Tracing of writes is on by default,
// tracing of reads is off, matching the state defaults in §4.7; the
// wrapper itself is inert (active == false) until Start is called.
type Tracer struct {
	inner sparse.Stream

	active       bool
	traceReads   bool
	traceWrites  bool
	captureStack bool

	records []Record
	nextSeq uint64

	sink io.WriteCloser
}

// NewTracer wraps inner with tracing off and writes-only tracing armed,
// per the stated defaults.
func NewTracer(inner sparse.Stream) *Tracer {
	return &Tracer{inner: inner, traceWrites: true}
}

func (t *Tracer) Start() { t.active = true }
func (t *Tracer) Stop() { t.active = false }
func (t *Tracer) SetTraceReads(v bool) { t.traceReads = v }
func (t *Tracer) SetTraceWrites(v bool) { t.traceWrites = v }
func (t *Tracer) SetCaptureStack(v bool) { t.captureStack = v }

// Reset clears every recorded entry (but not the sequence counter — a
// fresh trace still counts up from wherever this session left off,
// there being no notion of "restarting a session" in the model)
// and optionally starts tracing.
func (t *Tracer) Reset(start bool) {
	t.records = nil
	t.active = start
}

// Records returns the accumulated log in call order.
func (t *Tracer) Records() []Record {
	out := make([]Record, len(t.records))
	copy(out, t.records)
	return out
}

// WriteToFile replaces the optional file sink, closing any prior one
// first. May be called at any time, including while
// tracing is active.
func (t *Tracer) WriteToFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return direrr.NewIOFailedError("create trace sink", err)
	}
	return t.attachSink(f)
}

// SetSink attaches an arbitrary io.WriteCloser as the trace sink,
// closing any prior one first. WriteToFile is the format-level entry
// point; SetSink exists so tests can attach an in-memory buffer without
// touching the filesystem.
func (t *Tracer) SetSink(w io.WriteCloser) error {
	return t.attachSink(w)
}

func (t *Tracer) attachSink(w io.WriteCloser) error {
	if t.sink != nil {
		if err := t.sink.Close(); err != nil {
			return direrr.NewIOFailedError("close previous trace sink", err)
		}
	}
	t.sink = w
	return nil
}

////////////////////////////////////////////////////////////////////////////////

func (t *Tracer) Len() uint64 { return t.inner.Len() }
func (t *Tracer) Position() uint64 { return t.inner.Position() }
func (t *Tracer) SetPosition(p uint64) { t.inner.SetPosition(p) }
func (t *Tracer) CanRead() bool { return t.inner.CanRead() }
func (t *Tracer) CanWrite() bool { return t.inner.CanWrite() }
func (t *Tracer) CanSeek() bool { return t.inner.CanSeek() }

func (t *Tracer) Seek(offset int64, whence int) (uint64, error) { return t.inner.Seek(offset, whence) }
func (t *Tracer) StoredRanges() []sparse.Extent { return t.inner.StoredRanges() }

func (t *Tracer) ExtentsInRange(start, count uint64) []sparse.Extent {
	return t.inner.ExtentsInRange(start, count)
}

func (t *Tracer) SetLength(ctx context.Context, length uint64) error {
	return t.inner.SetLength(ctx, length)
}

////////////////////////////////////////////////////////////////////////////////

func (t *Tracer) ReadAt(ctx context.Context, pos uint64, buf []byte) (int, error) {
	n, err := t.inner.ReadAt(ctx, pos, buf)
	t.record(ActivityRead, t.traceReads, pos, uint64(len(buf)), n, err)
	return n, err
}

func (t *Tracer) WriteAt(ctx context.Context, pos uint64, buf []byte) (int, error) {
	n, err := t.inner.WriteAt(ctx, pos, buf)
	t.record(ActivityWrite, t.traceWrites, pos, uint64(len(buf)), n, err)
	return n, err
}

// record implements the passthrough protocol: position captured
// before the call (by the caller, above), append on success or failure,
// flush the file sink after every record.
func (t *Tracer) record(activity Activity, traceThisActivity bool, pos, count uint64, n int, err error) {
	if !t.active || !traceThisActivity {
		return
	}

	rec := Record{Seq: t.nextSeq, Activity: activity, Position: pos, Count: count}
	t.nextSeq++

	if err != nil {
		rec.Result = -1
		rec.Err = err
	} else {
		rec.Result = int64(n)
	}

	if t.captureStack {
		buf := make([]byte, 4096)
		buf = buf[:runtime.Stack(buf, false)]
		rec.Stack = buf
	}

	t.records = append(t.records, rec)

	if t.sink != nil {
		_ = writeRecordLine(t.sink, rec) // best-effort: a sink failure must not mask the real I/O result
		if s, ok := t.sink.(syncer); ok {
			_ = s.Sync()
		}
	}
}

type syncer interface {
	Sync() error
}

// writeRecordLine formats one record per the exact textual line
// format: "{seq} {activity} @pos={position:x} count={count}
// result={result} [exc={type: message}]", followed by an indented
// frame-per-line stack dump when one was captured.
func writeRecordLine(w io.Writer, rec Record) error {
	line := fmt.Sprintf("%d %s @pos=%x count=%d result=%d",
		rec.Seq, rec.Activity, rec.Position, rec.Count, rec.Result)

	if rec.Err != nil {
		line += fmt.Sprintf(" exc={%T: %s}", rec.Err, rec.Err.Error())
	}
	line += "\n"

	if _, err := io.WriteString(w, line); err != nil {
		return err
	}

	if len(rec.Stack) > 0 {
		for _, frameLine := range splitLines(rec.Stack) {
			if _, err := io.WriteString(w, "\t"+frameLine+"\n"); err != nil {
				return err
			}
		}
	}
	return nil
}

func splitLines(b []byte) []string {
	var lines []string
	start := 0
	for i, c := range b {
		if c == '\n' {
			lines = append(lines, string(b[start:i]))
			start = i + 1
		}
	}
	if start < len(b) {
		lines = append(lines, string(b[start:]))
	}
	return lines
}
