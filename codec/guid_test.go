package codec

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/discore/discore/direrr"
)

////////////////////////////////////////////////////////////////////////////////

func TestGUIDBigEndianRoundTrip(t *testing.T) {
	id := uuid.MustParse("C12A7328-F81F-11D2-BA4B-00A0C93EC93B")

	b := make([]byte, 16)
	require.NoError(t, WriteGUIDBigEndian(b, id))

	got, err := ReadGUIDBigEndian(b)
	require.NoError(t, err)
	require.Equal(t, id, got)

	// Big-endian raw is a direct byte copy of the canonical form.
	require.Equal(t, id[:], b)
}

func TestGUIDMixedRoundTrip(t *testing.T) {
	id := uuid.MustParse("C12A7328-F81F-11D2-BA4B-00A0C93EC93B")

	b := make([]byte, 16)
	require.NoError(t, WriteGUIDMixed(b, id))

	got, err := ReadGUIDMixed(b)
	require.NoError(t, err)
	require.Equal(t, id, got)
}

func TestGUIDMixedByteLayout(t *testing.T) {
	// Data1=0x01020304, Data2=0x0506, Data3=0x0708, Data4=8 raw bytes.
	id := uuid.UUID{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10}

	b := make([]byte, 16)
	require.NoError(t, WriteGUIDMixed(b, id))

	// Data1 little-endian.
	require.Equal(t, []byte{0x04, 0x03, 0x02, 0x01}, b[0:4])
	// Data2 little-endian.
	require.Equal(t, []byte{0x06, 0x05}, b[4:6])
	// Data3 little-endian.
	require.Equal(t, []byte{0x08, 0x07}, b[6:8])
	// Data4 raw.
	require.Equal(t, []byte(id[8:16]), b[8:16])
}

func TestGUIDReadFailsOnShortSlice(t *testing.T) {
	tiny := make([]byte, 15)

	_, err := ReadGUIDBigEndian(tiny)
	require.True(t, errors.Is(err, direrr.ErrSliceTooShort))

	_, err = ReadGUIDMixed(tiny)
	require.True(t, errors.Is(err, direrr.ErrSliceTooShort))
}
