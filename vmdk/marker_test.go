package vmdk

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/discore/discore/direrr"
)

////////////////////////////////////////////////////////////////////////////////

func TestMarkerReadFromParsesGrainDataMarker(t *testing.T) {
	buf := make([]byte, markerHeaderSize)
	mustWrite(buf, 0, le64(7))
	mustWrite(buf, 8, le32(4096))

	var m marker
	require.NoError(t, m.readFrom(buf))
	require.Equal(t, sectors(7), m.Value)
	require.Equal(t, uint32(4096), m.DataSize)
	require.Equal(t, uint64(12), m.dataOffset())
}

func TestMarkerReadFromRejectsShortBuffer(t *testing.T) {
	var m marker
	err := m.readFrom(make([]byte, markerHeaderSize-1))
	require.ErrorIs(t, err, direrr.ErrSliceTooShort)
}

func TestMarkerReadFromParsesSpecialMarker(t *testing.T) {
	buf := make([]byte, markerHeaderSize)
	mustWrite(buf, 0, le64(0))
	mustWrite(buf, 8, le32(0))
	mustWrite(buf, 12, le32(uint32(markerFooter)))

	var m marker
	require.NoError(t, m.readFrom(buf))
	require.Equal(t, uint32(0), m.DataSize)
	require.Equal(t, markerFooter, m.Type)
}
