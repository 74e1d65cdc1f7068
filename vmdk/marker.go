package vmdk

import (
	"github.com/discore/discore/codec"
	"github.com/discore/discore/direrr"
)

////////////////////////////////////////////////////////////////////////////////

type markerType uint32

const (
	// Marker types matter only when reading a stream-optimized image
	// sequentially; discore always seeks directly to a grain marker by
	// offset, so only markerType's zero-DataSize convention is used.
	markerEOS            markerType = 0
	markerGrainTable     markerType = 1
	markerGrainDirectory markerType = 2
	markerFooter         markerType = 3
)

const markerHeaderSize = 16

// marker is the header that precedes every grain of compressed data in
// a stream-optimized image: an 8-byte sector value and a 4-byte data
// size, with the grain data starting right after them (see dataOffset).
// A "special" marker (DataSize zero) carries a 4-byte type field in
// place of data; readFrom always decodes 16 bytes to cover that field.
type marker struct {
	Value    sectors
	DataSize uint32
	Type     markerType
}

func (m *marker) readFrom(b []byte) error {
	if len(b) < markerHeaderSize {
		return direrr.ErrSliceTooShort
	}
	value, err := codec.ReadUint64LE(b[0:8])
	if err != nil {
		return err
	}
	dataSize, err := codec.ReadUint32LE(b[8:12])
	if err != nil {
		return err
	}
	typ, err := codec.ReadUint32LE(b[12:16])
	if err != nil {
		return err
	}
	m.Value = sectors(value)
	m.DataSize = dataSize
	m.Type = markerType(typ)
	return nil
}

// dataOffset is the byte offset, relative to the marker's own start,
// where its compressed grain data begins. A data marker's header ends
// after DataSize; the trailing Type field isn't stored for grain data,
// only for special markers.
func (m *marker) dataOffset() uint64 { return 12 }
