package codec

import (
	"github.com/google/uuid"
)

////////////////////////////////////////////////////////////////////////////////

const guidSize = 16

// ReadGUIDBigEndian reads a 128-bit identifier stored as sixteen raw
// bytes in RFC 4122 (network) byte order — the encoding the vhd package
// reads the footer UniqueID and header ParentUniqueID with.
func ReadGUIDBigEndian(b []byte) (uuid.UUID, error) {
	if err := need(b, guidSize); err != nil {
		return uuid.Nil, err
	}
	var id uuid.UUID
	copy(id[:], b[:guidSize])
	return id, nil
}

// WriteGUIDBigEndian is the inverse of ReadGUIDBigEndian.
func WriteGUIDBigEndian(b []byte, id uuid.UUID) error {
	if err := need(b, guidSize); err != nil {
		return err
	}
	copy(b[:guidSize], id[:])
	return nil
}

////////////////////////////////////////////////////////////////////////////////

// ReadGUIDMixed reads a 128-bit identifier stored in the "mixed"
// encoding used by Microsoft-origin formats (GPT partition and type
// GUIDs, NTFS object IDs): the first three fields
// (Data1 uint32, Data2 uint16, Data3 uint16) are little-endian, and the
// last eight bytes (Data4) are stored raw. The returned uuid.UUID is in
// canonical RFC 4122 byte order regardless of on-disk encoding, so
// callers can compare GUIDs read via either encoding directly.
func ReadGUIDMixed(b []byte) (uuid.UUID, error) {
	if err := need(b, guidSize); err != nil {
		return uuid.Nil, err
	}

	var id uuid.UUID
	id[0], id[1], id[2], id[3] = b[3], b[2], b[1], b[0]
	id[4], id[5] = b[5], b[4]
	id[6], id[7] = b[7], b[6]
	copy(id[8:16], b[8:16])
	return id, nil
}

// WriteGUIDMixed is the inverse of ReadGUIDMixed.
func WriteGUIDMixed(b []byte, id uuid.UUID) error {
	if err := need(b, guidSize); err != nil {
		return err
	}

	b[0], b[1], b[2], b[3] = id[3], id[2], id[1], id[0]
	b[4], b[5] = id[5], id[4]
	b[6], b[7] = id[7], id[6]
	copy(b[8:16], id[8:16])
	return nil
}
