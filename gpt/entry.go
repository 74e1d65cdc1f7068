// Package gpt implements a bit-exact decoder for one GPT partition
// table entry — the kind of small, self-contained wire-format consumer
// vhd's parent-locator record and footer/header exist to prove the
// core primitives against, generalized here to a second, independent
// format so the codec and Serializable contract aren't only exercised
// by one wire shape.
package gpt

import (
	"github.com/google/uuid"

	"github.com/discore/discore/codec"
	"github.com/discore/discore/direrr"
)

////////////////////////////////////////////////////////////////////////////////

const entrySize = 128

const nameCodeUnits = 36

// friendlyTypeNames maps well-known partition type GUIDs to the short
// human name most partitioning tools show for them. Unrecognized GUIDs
// decode fine; FriendlyType just falls back to the GUID's own string
// form.
var friendlyTypeNames = map[uuid.UUID]string{
	uuid.MustParse("C12A7328-F81F-11D2-BA4B-00A0C93EC93B"): "EFI System",
	uuid.MustParse("E3C9E316-0B5C-4DB8-817D-F92DF00215AE"): "Microsoft Reserved",
	uuid.MustParse("EBD0A0A2-B9E5-4433-87C0-68B6B72699C7"): "Basic Data",
	uuid.MustParse("0FC63DAF-8483-4772-8E79-3D69D8477DE4"): "Linux Filesystem",
	uuid.MustParse("0657FD6D-A4AB-43C4-84E5-0933C84B4F4F"): "Linux Swap",
}

////////////////////////////////////////////////////////////////////////////////

// Entry is one 128-byte GPT partition table entry.
type Entry struct {
	TypeGUID       uuid.UUID
	UniqueGUID     uuid.UUID
	FirstUsableLBA int64
	LastUsableLBA  int64
	AttributeFlags uint64
	Name           string
}

func (e *Entry) SizeBytes() int { return entrySize }

// ReadFrom parses one little-endian, mixed-GUID-encoded partition entry
// per the fixed 128-byte layout: type GUID, unique GUID, first/last
// usable LBA, attribute flags, then a name slot of up to 36 UTF-16LE
// code units, NUL-padded.
func (e *Entry) ReadFrom(b []byte) (int, error) {
	if len(b) < entrySize {
		return 0, direrr.ErrSliceTooShort
	}

	typeGUID, err := codec.ReadGUIDMixed(b[0:16])
	if err != nil {
		return 0, err
	}
	uniqueGUID, err := codec.ReadGUIDMixed(b[16:32])
	if err != nil {
		return 0, err
	}
	firstLBA, err := codec.ReadInt64LE(b[32:40])
	if err != nil {
		return 0, err
	}
	lastLBA, err := codec.ReadInt64LE(b[40:48])
	if err != nil {
		return 0, err
	}
	attrs, err := codec.ReadUint64LE(b[48:56])
	if err != nil {
		return 0, err
	}
	name, err := codec.ReadUTF16LE(b[56:56+nameCodeUnits*2], true)
	if err != nil {
		return 0, err
	}

	e.TypeGUID = typeGUID
	e.UniqueGUID = uniqueGUID
	e.FirstUsableLBA = firstLBA
	e.LastUsableLBA = lastLBA
	e.AttributeFlags = attrs
	e.Name = name
	return entrySize, nil
}

// WriteTo is the inverse of ReadFrom.
func (e *Entry) WriteTo(b []byte) error {
	if len(b) < entrySize {
		return direrr.ErrSliceTooShort
	}

	if err := codec.WriteGUIDMixed(b[0:16], e.TypeGUID); err != nil {
		return err
	}
	if err := codec.WriteGUIDMixed(b[16:32], e.UniqueGUID); err != nil {
		return err
	}
	if err := codec.WriteInt64LE(b[32:40], e.FirstUsableLBA); err != nil {
		return err
	}
	if err := codec.WriteInt64LE(b[40:48], e.LastUsableLBA); err != nil {
		return err
	}
	if err := codec.WriteUint64LE(b[48:56], e.AttributeFlags); err != nil {
		return err
	}
	if err := codec.WriteUTF16LE(b[56:56+nameCodeUnits*2], e.Name); err != nil {
		return err
	}
	return nil
}

// Empty reports whether this is an unused entry slot: the GPT spec
// marks those with an all-zero type GUID.
func (e *Entry) Empty() bool {
	return e.TypeGUID == uuid.Nil
}

// FriendlyType returns the short human name for the entry's partition
// type, falling back to the GUID's canonical string form when the type
// isn't one of the well-known ones this package recognizes.
func (e *Entry) FriendlyType() string {
	if name, ok := friendlyTypeNames[e.TypeGUID]; ok {
		return name
	}
	return e.TypeGUID.String()
}
