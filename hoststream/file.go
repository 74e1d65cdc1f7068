package hoststream

import (
	"context"
	"io"
	"os"

	"github.com/discore/discore/direrr"
	"github.com/discore/discore/sparse"
)

////////////////////////////////////////////////////////////////////////////////

// FileStream is a sparse.Stream backed by an *os.File. The OS file
// layer has no portable hole-tracking API, so the whole current length
// is reported as one stored range: a format module that needs
// finer-grained presence tracking (a VHD BAT, a qcow2 L2 table) layers
// extent.Buffer over this instead of relying on FileStream's own
// StoredRanges.
type FileStream struct {
	f        *os.File
	pos      uint64
	length   uint64
	writable bool
}

// OpenFileStream opens path for reading, and for writing too if
// writable is set.
func OpenFileStream(path string, writable bool) (*FileStream, error) {
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, direrr.NewIOFailedError("open", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, direrr.NewIOFailedError("stat", err)
	}
	return &FileStream{f: f, length: uint64(info.Size()), writable: writable}, nil
}

////////////////////////////////////////////////////////////////////////////////

func (s *FileStream) Len() uint64          { return s.length }
func (s *FileStream) Position() uint64     { return s.pos }
func (s *FileStream) SetPosition(p uint64) { s.pos = p }
func (s *FileStream) CanRead() bool        { return true }
func (s *FileStream) CanWrite() bool       { return s.writable }
func (s *FileStream) CanSeek() bool        { return true }

func (s *FileStream) Seek(offset int64, whence int) (uint64, error) {
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

func (s *FileStream) StoredRanges() []sparse.Extent {
	if s.length == 0 {
		return nil
	}
	return []sparse.Extent{{Offset: 0, Length: s.length}}
}

func (s *FileStream) ExtentsInRange(start, count uint64) []sparse.Extent {
	end := start + count
	if end > s.length {
		end = s.length
	}
	if start >= end {
		return nil
	}
	return []sparse.Extent{{Offset: start, Length: end - start}}
}

func (s *FileStream) ReadAt(_ context.Context, pos uint64, buf []byte) (int, error) {
	n, err := s.f.ReadAt(buf, int64(pos))
	if err != nil && err != io.EOF {
		return n, direrr.NewIOFailedError("read", err)
	}
	s.pos = pos + uint64(n)
	return n, nil
}

func (s *FileStream) WriteAt(_ context.Context, pos uint64, buf []byte) (int, error) {
	if !s.writable {
		return 0, direrr.ErrNotWritable
	}
	n, err := s.f.WriteAt(buf, int64(pos))
	if err != nil {
		return n, direrr.NewIOFailedError("write", err)
	}
	if end := pos + uint64(n); end > s.length {
		s.length = end
	}
	s.pos = pos + uint64(n)
	return n, nil
}

func (s *FileStream) SetLength(_ context.Context, length uint64) error {
	if !s.writable {
		return direrr.ErrNotResizable
	}
	if err := s.f.Truncate(int64(length)); err != nil {
		return direrr.NewIOFailedError("truncate", err)
	}
	s.length = length
	if s.pos > s.length {
		s.pos = s.length
	}
	return nil
}

func (s *FileStream) Close() error {
	if err := s.f.Close(); err != nil {
		return direrr.NewIOFailedError("close", err)
	}
	return nil
}
