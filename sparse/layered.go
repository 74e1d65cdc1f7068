package sparse

import (
	"context"
	"io"

	"github.com/discore/discore/direrr"
	"github.com/discore/discore/ownership"
)

////////////////////////////////////////////////////////////////////////////////

// OwnedStream pairs a Stream layer with the ownership tag its holder
// (typically a LayeredStream or a disk-chain resolver) applies at
// teardown.
type OwnedStream struct {
	Stream Stream
	Owns   ownership.Ownership
}

////////////////////////////////////////////////////////////////////////////////

// LayeredStream stacks sparse streams top (index 0) to bottom
// : a read is served, range by range, from the topmost layer
// whose StoredRanges cover that sub-range; bytes not stored in any layer
// read as zero. Writes always target the top layer, promoting any
// sub-range not yet stored there from whichever layer below currently
// covers it — the differencing-disk copy-on-write discipline.
type LayeredStream struct {
	layers []OwnedStream
	length uint64
	pos    uint64
}

// NewLayeredStream builds a stack from layers ordered top-first. All
// layers must share the same logical length.
func NewLayeredStream(layers []OwnedStream) (*LayeredStream, error) {
	if len(layers) == 0 {
		return nil, direrr.NewNonRetriableErrorf("layered stream needs at least one layer")
	}

	length := layers[0].Stream.Len()
	for _, l := range layers[1:] {
		if l.Stream.Len() != length {
			return nil, direrr.NewNonRetriableErrorf(
				"layer length mismatch: top layer is %d bytes, another layer is %d bytes",
				length, l.Stream.Len(),
			)
		}
	}

	return &LayeredStream{layers: layers, length: length}, nil
}

func (s *LayeredStream) Len() uint64 { return s.length }
func (s *LayeredStream) Position() uint64 { return s.pos }
func (s *LayeredStream) SetPosition(p uint64) { s.pos = p }
func (s *LayeredStream) CanRead() bool { return true }
func (s *LayeredStream) CanSeek() bool { return true }

func (s *LayeredStream) CanWrite() bool {
	return len(s.layers) > 0 && s.layers[0].Stream.CanWrite()
}

func (s *LayeredStream) Seek(offset int64, whence int) (uint64, error) {
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

// StoredRanges is the union of every layer's stored ranges.
func (s *LayeredStream) StoredRanges() []Extent {
	var union []Extent
	for _, l := range s.layers {
		union = unionRanges(union, l.Stream.StoredRanges())
	}
	return union
}

func (s *LayeredStream) ExtentsInRange(start, count uint64) []Extent {
	return clipToWindow(s.StoredRanges(), Extent{Offset: start, Length: count})
}

////////////////////////////////////////////////////////////////////////////////

// ReadAt implements the range-wise top-down merge described in spec
// §4.4: it is not a byte-wise composition, it resolves whole covered
// sub-ranges per layer before moving to the next one down.
func (s *LayeredStream) ReadAt(ctx context.Context, pos uint64, buf []byte) (int, error) {
	if pos >= s.length {
		s.pos = pos
		return 0, nil
	}

	n := len(buf)
	if uint64(n) > s.length-pos {
		n = int(s.length - pos)
	}
	window := Extent{Offset: pos, Length: uint64(n)}

	remaining := []Extent{window}

	for _, layer := range s.layers {
		if len(remaining) == 0 {
			break
		}

		covered := clipToWindow(layer.Stream.StoredRanges(), window)
		var claimed []Extent

		for _, want := range remaining {
			for _, have := range clipToWindow(covered, want) {
				dst := buf[have.Offset-pos : have.End()-pos]
				if _, err := layer.Stream.ReadAt(ctx, have.Offset, dst); err != nil {
					return 0, err
				}
				claimed = append(claimed, have)
			}
		}

		remaining = subtractRanges(remaining, normalizeRanges(claimed))
	}

	// Anything still remaining is a hole in every layer: zero-fill.
	for _, hole := range remaining {
		dst := buf[hole.Offset-pos : hole.End()-pos]
		for i := range dst {
			dst[i] = 0
		}
	}

	s.pos = pos + uint64(n)
	return n, nil
}

////////////////////////////////////////////////////////////////////////////////

// WriteAt writes to the top layer, promoting any sub-range not already
// stored there first (Promote).
func (s *LayeredStream) WriteAt(ctx context.Context, pos uint64, buf []byte) (int, error) {
	if !s.CanWrite() {
		return 0, direrr.ErrNotWritable
	}
	if len(buf) == 0 {
		return 0, nil
	}

	if err := s.Promote(ctx, pos, uint64(len(buf))); err != nil {
		return 0, err
	}

	top := s.layers[0].Stream
	n, err := top.WriteAt(ctx, pos, buf)
	if err != nil {
		return n, err
	}
	if top.Len() > s.length {
		s.length = top.Len()
	}
	s.pos = pos + uint64(n)
	return n, nil
}

// Promote ensures [offset, offset+length) is materially stored in the
// top layer, pre-reading and copying up any sub-range currently served
// only by a lower layer. This is the "named operation" the second
// open question asks for: the differencing-disk copy-on-write contract,
// made explicit instead of left implicit in each format module.
func (s *LayeredStream) Promote(ctx context.Context, offset, length uint64) error {
	if !s.CanWrite() || length == 0 {
		return nil
	}

	window := Extent{Offset: offset, Length: length}
	top := s.layers[0].Stream

	alreadyStored := clipToWindow(top.StoredRanges(), window)
	missing := subtractRanges([]Extent{window}, normalizeRanges(alreadyStored))
	if len(missing) == 0 {
		return nil
	}

	for _, gap := range missing {
		merged := make([]byte, gap.Length)

		remaining := []Extent{gap}
		for _, layer := range s.layers[1:] {
			if len(remaining) == 0 {
				break
			}
			covered := clipToWindow(layer.Stream.StoredRanges(), gap)
			var claimed []Extent
			for _, want := range remaining {
				for _, have := range clipToWindow(covered, want) {
					dst := merged[have.Offset-gap.Offset : have.End()-gap.Offset]
					if _, err := layer.Stream.ReadAt(ctx, have.Offset, dst); err != nil {
						return err
					}
					claimed = append(claimed, have)
				}
			}
			remaining = subtractRanges(remaining, normalizeRanges(claimed))
		}
		// remaining sub-ranges below the bottom layer are holes: the
		// merged buffer is already zeroed for them.

		if _, err := top.WriteAt(ctx, gap.Offset, merged); err != nil {
			return err
		}
	}

	return nil
}

func (s *LayeredStream) SetLength(ctx context.Context, length uint64) error {
	if !s.CanWrite() {
		return direrr.ErrNotResizable
	}
	if err := s.layers[0].Stream.SetLength(ctx, length); err != nil {
		return err
	}
	s.length = length
	if s.pos > s.length {
		s.pos = s.length
	}
	return nil
}

////////////////////////////////////////////////////////////////////////////////

// Close releases every layer whose ownership tag is Dispose, deepest
// last-in-first-out is not required here — each edge is
// independent — but closing top-to-bottom matches acquisition order.
func (s *LayeredStream) Close() error {
	var firstErr error
	for _, l := range s.layers {
		closer, ok := l.Stream.(io.Closer)
		if !ok {
			continue
		}
		if err := ownership.Release(closer, l.Owns); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
