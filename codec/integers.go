// Package codec implements the byte-exact (de)serialization substrate
// every on-disk structure in discore composes from: fixed-width integers
// in either byte order, GUIDs in either of the two encodings the
// industry actually uses, and the two string encodings on-disk records
// carry (UTF-16 and Latin-1). Every function here is total over a byte
// slice of sufficient length and fails with direrr.ErrSliceTooShort
// otherwise — never a panic on short input.
package codec

import (
	"encoding/binary"

	"github.com/discore/discore/direrr"
)

////////////////////////////////////////////////////////////////////////////////

func need(b []byte, n int) error {
	if len(b) < n {
		return direrr.ErrSliceTooShort
	}
	return nil
}

////////////////////////////////////////////////////////////////////////////////
// Unsigned, little-endian.

func ReadUint16LE(b []byte) (uint16, error) {
	if err := need(b, 2); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func WriteUint16LE(b []byte, v uint16) error {
	if err := need(b, 2); err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(b, v)
	return nil
}

func ReadUint32LE(b []byte) (uint32, error) {
	if err := need(b, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func WriteUint32LE(b []byte, v uint32) error {
	if err := need(b, 4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b, v)
	return nil
}

func ReadUint64LE(b []byte) (uint64, error) {
	if err := need(b, 8); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func WriteUint64LE(b []byte, v uint64) error {
	if err := need(b, 8); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(b, v)
	return nil
}

////////////////////////////////////////////////////////////////////////////////
// Unsigned, big-endian.

func ReadUint16BE(b []byte) (uint16, error) {
	if err := need(b, 2); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func WriteUint16BE(b []byte, v uint16) error {
	if err := need(b, 2); err != nil {
		return err
	}
	binary.BigEndian.PutUint16(b, v)
	return nil
}

func ReadUint32BE(b []byte) (uint32, error) {
	if err := need(b, 4); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func WriteUint32BE(b []byte, v uint32) error {
	if err := need(b, 4); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(b, v)
	return nil
}

func ReadUint64BE(b []byte) (uint64, error) {
	if err := need(b, 8); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

func WriteUint64BE(b []byte, v uint64) error {
	if err := need(b, 8); err != nil {
		return err
	}
	binary.BigEndian.PutUint64(b, v)
	return nil
}

////////////////////////////////////////////////////////////////////////////////
// Signed. Go has no signed byte-order primitives in encoding/binary, so
// these round-trip through the unsigned readers via a bit-cast — the
// idiomatic approach the standard library itself uses internally.

func ReadInt16LE(b []byte) (int16, error) {
	v, err := ReadUint16LE(b)
	return int16(v), err
}

func WriteInt16LE(b []byte, v int16) error {
	return WriteUint16LE(b, uint16(v))
}

func ReadInt32LE(b []byte) (int32, error) {
	v, err := ReadUint32LE(b)
	return int32(v), err
}

func WriteInt32LE(b []byte, v int32) error {
	return WriteUint32LE(b, uint32(v))
}

func ReadInt64LE(b []byte) (int64, error) {
	v, err := ReadUint64LE(b)
	return int64(v), err
}

func WriteInt64LE(b []byte, v int64) error {
	return WriteUint64LE(b, uint64(v))
}

func ReadInt16BE(b []byte) (int16, error) {
	v, err := ReadUint16BE(b)
	return int16(v), err
}

func WriteInt16BE(b []byte, v int16) error {
	return WriteUint16BE(b, uint16(v))
}

func ReadInt32BE(b []byte) (int32, error) {
	v, err := ReadUint32BE(b)
	return int32(v), err
}

func WriteInt32BE(b []byte, v int32) error {
	return WriteUint32BE(b, uint32(v))
}

func ReadInt64BE(b []byte) (int64, error) {
	v, err := ReadUint64BE(b)
	return int64(v), err
}

func WriteInt64BE(b []byte, v int64) error {
	return WriteUint64BE(b, uint64(v))
}
