package sparse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/discore/discore/direrr"
)

////////////////////////////////////////////////////////////////////////////////

func TestMemoryStreamReadFromHoleReturnsZero(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStream(4096, true)

	_, err := s.WriteAt(ctx, 1000, []byte{1, 2, 3, 4})
	require.NoError(t, err)

	buf := make([]byte, 10)
	n, err := s.ReadAt(ctx, 0, buf)
	require.NoError(t, err)
	require.Equal(t, 10, n)
	require.Equal(t, make([]byte, 10), buf)
}

func TestMemoryStreamStoredRangesAreSortedAndNonOverlapping(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStream(4096, true)

	_, err := s.WriteAt(ctx, 2000, []byte{1, 2, 3})
	require.NoError(t, err)
	_, err = s.WriteAt(ctx, 0, []byte{1, 2, 3})
	require.NoError(t, err)
	_, err = s.WriteAt(ctx, 3, []byte{4, 5}) // touches the first write
	require.NoError(t, err)

	ranges := s.StoredRanges()
	require.Equal(t, []Extent{{Offset: 0, Length: 5}, {Offset: 2000, Length: 3}}, ranges)
}

func TestMemoryStreamShortReadAtEOF(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStream(10, true)
	_, err := s.WriteAt(ctx, 5, []byte{1, 2, 3, 4, 5})
	require.NoError(t, err)

	buf := make([]byte, 10)
	n, err := s.ReadAt(ctx, 8, buf)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestMemoryStreamNotWritable(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStream(10, false)

	_, err := s.WriteAt(ctx, 0, []byte{1})
	require.ErrorIs(t, err, direrr.ErrNotWritable)

	err = s.SetLength(ctx, 20)
	require.ErrorIs(t, err, direrr.ErrNotResizable)
}

func TestMemoryStreamSetLengthShrinksStoredRanges(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStream(100, true)
	_, err := s.WriteAt(ctx, 50, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
	require.NoError(t, err)

	require.NoError(t, s.SetLength(ctx, 55))
	require.Equal(t, []Extent{{Offset: 50, Length: 5}}, s.StoredRanges())
}

func TestExtentsInRangeClipsToWindow(t *testing.T) {
	s := NewMemoryStream(4096, true)
	s.MarkStored(0, 4096)

	got := s.ExtentsInRange(1000, 500)
	require.Equal(t, []Extent{{Offset: 1000, Length: 500}}, got)
}
