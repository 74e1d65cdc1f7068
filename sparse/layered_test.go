package sparse

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/discore/discore/ownership"
)

////////////////////////////////////////////////////////////////////////////////

func fillPattern(s *MemoryStream, offset, length uint64, b byte) {
	buf := make([]byte, length)
	for i := range buf {
		buf[i] = b
	}
	_, _ = s.WriteAt(context.Background(), offset, buf)
}

// TestLayeredOverlayReadsFromCorrectLayer covers this scenario: two
// same-length layers, top stores [1000,2000) only, bottom stores
// [0,4096); a read of [500,2500) must equal bottom bytes for
// [500,1000) ∪ [2000,2500) and top bytes for [1000,2000).
func TestLayeredOverlayReadsFromCorrectLayer(t *testing.T) {
	ctx := context.Background()

	bottom := NewMemoryStream(4096, true)
	fillPattern(bottom, 0, 4096, 0xBB)

	top := NewMemoryStream(4096, true)
	fillPattern(top, 1000, 1000, 0xAA) // stores [1000,2000)

	layered, err := NewLayeredStream([]OwnedStream{
		{Stream: top, Owns: ownership.None},
		{Stream: bottom, Owns: ownership.None},
	})
	require.NoError(t, err)

	buf := make([]byte, 2000)
	n, err := layered.ReadAt(ctx, 500, buf)
	require.NoError(t, err)
	require.Equal(t, 2000, n)

	expected := make([]byte, 2000)
	for i := range expected {
		pos := uint64(500 + i)
		if pos >= 1000 && pos < 2000 {
			expected[i] = 0xAA
		} else {
			expected[i] = 0xBB
		}
	}
	require.True(t, bytes.Equal(expected, buf))
}

func TestLayeredStoredRangesIsUnion(t *testing.T) {
	top := NewMemoryStream(4096, true)
	top.MarkStored(1000, 1000)

	bottom := NewMemoryStream(4096, true)
	bottom.MarkStored(3000, 500)

	layered, err := NewLayeredStream([]OwnedStream{
		{Stream: top, Owns: ownership.None},
		{Stream: bottom, Owns: ownership.None},
	})
	require.NoError(t, err)

	require.Equal(t, []Extent{
		{Offset: 1000, Length: 1000},
		{Offset: 3000, Length: 500},
	}, layered.StoredRanges())
}

func TestLayeredWritePromotesUnstoredBlockFromBelow(t *testing.T) {
	ctx := context.Background()

	bottom := NewMemoryStream(4096, true)
	fillPattern(bottom, 0, 4096, 0xCC)

	top := NewMemoryStream(4096, true) // empty top layer

	layered, err := NewLayeredStream([]OwnedStream{
		{Stream: top, Owns: ownership.None},
		{Stream: bottom, Owns: ownership.None},
	})
	require.NoError(t, err)

	// Write 5 bytes into a range the top layer does not store yet: the
	// range is promoted (copied up) from the bottom layer and then
	// overwritten, so the top layer ends up storing [1000,1005).
	_, err = layered.WriteAt(ctx, 1000, []byte{1, 2, 3, 4, 5})

	require.NoError(t, err)

	// Top layer must now store at least [1000,1005).
	topRanges := top.ExtentsInRange(1000, 5)
	require.Equal(t, []Extent{{Offset: 1000, Length: 5}}, topRanges)

	// Reading through the layered stream still sees the write.
	buf := make([]byte, 5)
	_, err = layered.ReadAt(ctx, 1000, buf)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3, 4, 5}, buf)
}

func TestLayeredCloseReleasesOnlyDisposedLayers(t *testing.T) {
	top := newClosableStream(NewMemoryStream(10, true))
	parent := newClosableStream(NewMemoryStream(10, true))

	layered, err := NewLayeredStream([]OwnedStream{
		{Stream: top, Owns: ownership.Dispose},
		{Stream: parent, Owns: ownership.None},
	})
	require.NoError(t, err)

	require.NoError(t, layered.Close())
	require.True(t, top.closed)
	require.False(t, parent.closed)
}

////////////////////////////////////////////////////////////////////////////////

type closableStream struct {
	*MemoryStream
	closed bool
}

func newClosableStream(s *MemoryStream) *closableStream {
	return &closableStream{MemoryStream: s}
}

func (c *closableStream) Close() error {
	c.closed = true
	return nil
}
