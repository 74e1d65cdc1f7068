// Package sparse implements the random-access byte stream abstraction
// every discore format module reads and writes through: a Stream that
// knows which of its byte ranges are actually stored,
// and a LayeredStream that stacks several of them into one logical
// differencing-disk view.
package sparse

import (
	"context"
	"io"

	"github.com/discore/discore/direrr"
)

////////////////////////////////////////////////////////////////////////////////

// Stream is the core sparse-stream contract. Implementations
// are not required to be safe for concurrent use — the concurrency model
// is single-threaded cooperative per session.
type Stream interface {
	// Len returns the current logical length in bytes.
	Len() uint64

	// Position returns the current cursor. The cursor is not clamped to
	// Len(): SetPosition, Seek, and a ReadAt at or past Len() can leave
	// it beyond Len().
	Position() uint64

	// SetPosition moves the cursor without performing I/O.
	SetPosition(pos uint64)

	// Seek moves the cursor relative to whence (io.SeekStart,
	// io.SeekCurrent, io.SeekEnd) and returns the resulting position.
	Seek(offset int64, whence int) (uint64, error)

	CanRead() bool
	CanWrite() bool
	CanSeek() bool

	// ReadAt reads at most len(buf) bytes starting at pos, returns the
	// number of bytes actually read, and advances Position to pos+n.
	// Short reads occur only at EOF; bytes falling in a hole are
	// returned as zero without that being treated as a short read.
	ReadAt(ctx context.Context, pos uint64, buf []byte) (int, error)

	// WriteAt writes buf at pos, extending StoredRanges as needed. It
	// never shrinks Len(); use SetLength for that. Fails with
	// direrr.ErrNotWritable if CanWrite() is false.
	WriteAt(ctx context.Context, pos uint64, buf []byte) (int, error)

	// SetLength changes Len(). Fails with direrr.ErrNotResizable if
	// unsupported.
	SetLength(ctx context.Context, length uint64) error

	// StoredRanges returns every materially-stored region within
	// [0, Len()), sorted and non-overlapping.
	StoredRanges() []Extent

	// ExtentsInRange returns StoredRanges clipped to
	// [start, start+count).
	ExtentsInRange(start, count uint64) []Extent
}

////////////////////////////////////////////////////////////////////////////////

// MemoryStream is a Stream fully materialized in memory, used for tests
// and for small overlay layers (e.g. a differencing disk's in-memory top
// layer before it is flushed). Bytes outside StoredRanges are holes and
// read as zero without occupying backing storage.
type MemoryStream struct {
	length   uint64
	pos      uint64
	data     map[uint64]byte // sparse: only stored bytes are present
	stored   []Extent
	writable bool
}

func NewMemoryStream(length uint64, writable bool) *MemoryStream {
	return &MemoryStream{
		length: length,
		data: make(map[uint64]byte),
		writable: writable,
	}
}

func (s *MemoryStream) Len() uint64 { return s.length }
func (s *MemoryStream) Position() uint64 { return s.pos }
func (s *MemoryStream) SetPosition(p uint64) { s.pos = p }
func (s *MemoryStream) CanRead() bool { return true }
func (s *MemoryStream) CanWrite() bool { return s.writable }
func (s *MemoryStream) CanSeek() bool { return true }

func (s *MemoryStream) Seek(offset int64, whence int) (uint64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = int64(s.pos)
	case io.SeekEnd:
		base = int64(s.length)
	default:
		return 0, direrr.NewNonRetriableErrorf("invalid seek whence %d", whence)
	}

	target := base + offset
	if target < 0 {
		return 0, direrr.NewNonRetriableErrorf("seek before start of stream")
	}
	s.pos = uint64(target)
	return s.pos, nil
}

func (s *MemoryStream) StoredRanges() []Extent {
	out := make([]Extent, len(s.stored))
	copy(out, s.stored)
	return out
}

func (s *MemoryStream) ExtentsInRange(start, count uint64) []Extent {
	return clipToWindow(s.stored, Extent{Offset: start, Length: count})
}

func (s *MemoryStream) ReadAt(_ context.Context, pos uint64, buf []byte) (int, error) {
	if pos >= s.length {
		s.pos = pos
		return 0, nil
	}

	n := len(buf)
	if uint64(n) > s.length-pos {
		n = int(s.length - pos)
	}

	for i := 0; i < n; i++ {
		buf[i] = s.data[pos+uint64(i)]
	}

	s.pos = pos + uint64(n)
	return n, nil
}

func (s *MemoryStream) WriteAt(_ context.Context, pos uint64, buf []byte) (int, error) {
	if !s.writable {
		return 0, direrr.ErrNotWritable
	}

	end := pos + uint64(len(buf))
	if end > s.length {
		s.length = end
	}

	for i, b := range buf {
		s.data[pos+uint64(i)] = b
	}

	if len(buf) > 0 {
		s.stored = unionRanges(s.stored, []Extent{{Offset: pos, Length: uint64(len(buf))}})
	}

	s.pos = end
	return len(buf), nil
}

func (s *MemoryStream) SetLength(_ context.Context, length uint64) error {
	if !s.writable {
		return direrr.ErrNotResizable
	}

	if length < s.length {
		s.stored = clipToWindow(s.stored, Extent{Offset: 0, Length: length})
		for k := range s.data {
			if k >= length {
				delete(s.data, k)
			}
		}
	}

	s.length = length
	if s.pos > s.length {
		s.pos = s.length
	}
	return nil
}

////////////////////////////////////////////////////////////////////////////////

// MarkStored declares [offset, offset+length) as materially stored
// without writing any bytes to it — used by tests to build a stream with
// a specific stored-range shape (e.g. TestLayeredStoredRangesIsUnion)
// without caring about the underlying byte content.
func (s *MemoryStream) MarkStored(offset, length uint64) {
	if length == 0 {
		return
	}
	s.stored = unionRanges(s.stored, []Extent{{Offset: offset, Length: length}})
	if offset+length > s.length {
		s.length = offset + length
	}
}
