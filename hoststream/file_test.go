package hoststream

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/discore/discore/direrr"
)

////////////////////////////////////////////////////////////////////////////////

func writeTempFile(t *testing.T, contents []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "disk.img")
	require.NoError(t, os.WriteFile(path, contents, 0o644))
	return path
}

func TestFileStreamReadAtRoundTrips(t *testing.T) {
	ctx := context.Background()
	path := writeTempFile(t, []byte("0123456789"))

	s, err := OpenFileStream(path, false)
	require.NoError(t, err)
	defer s.Close()

	require.Equal(t, uint64(10), s.Len())

	buf := make([]byte, 4)
	n, err := s.ReadAt(ctx, 3, buf)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, []byte("3456"), buf)
}

func TestFileStreamWriteAtExtendsLength(t *testing.T) {
	ctx := context.Background()
	path := writeTempFile(t, []byte("hello"))

	s, err := OpenFileStream(path, true)
	require.NoError(t, err)
	defer s.Close()

	n, err := s.WriteAt(ctx, 5, []byte(" world"))
	require.NoError(t, err)
	require.Equal(t, 6, n)
	require.Equal(t, uint64(11), s.Len())
}

func TestFileStreamNotWritableRejectsWrites(t *testing.T) {
	ctx := context.Background()
	path := writeTempFile(t, []byte("hello"))

	s, err := OpenFileStream(path, false)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.WriteAt(ctx, 0, []byte("x"))
	require.ErrorIs(t, err, direrr.ErrNotWritable)

	err = s.SetLength(ctx, 100)
	require.ErrorIs(t, err, direrr.ErrNotResizable)
}

func TestFileStreamStoredRangesCoversWholeFile(t *testing.T) {
	path := writeTempFile(t, []byte("0123456789"))

	s, err := OpenFileStream(path, false)
	require.NoError(t, err)
	defer s.Close()

	ranges := s.StoredRanges()
	require.Len(t, ranges, 1)
	require.Equal(t, uint64(0), ranges[0].Offset)
	require.Equal(t, uint64(10), ranges[0].Length)
}
