// Package vhd implements a diskchain.Image over the Microsoft Virtual
// Hard Disk format: footer, dynamic-disk header, and BAT parsing
// resolve a block map that exposes a diskchain.Image whose content
// stream is composed with any parent through sparse.LayeredStream.
package vhd

import (
	"github.com/google/uuid"

	"github.com/discore/discore/codec"
	"github.com/discore/discore/direrr"
)

////////////////////////////////////////////////////////////////////////////////

const (
	footerCookie        = "conectix"
	fileFormatVersion   = uint32(0x00010000)
	dynamicHardDiskType = uint32(3)
	footerSize          = 512
)

// Footer is the 512-byte structure at both the start (dynamic disks
// only) and end of every VHD file. Field layout and validation mirror
// https://learn.microsoft.com/en-us/windows/win32/vstor/about-vhd,
// stored big-endian throughout.
type Footer struct {
	Cookie             [8]byte
	Features           uint32
	FileFormatVersion  uint32
	DataOffset         uint64
	Timestamp          uint32
	CreatorApplication [4]byte
	CreatorVersion     uint32
	CreatorHostOS      uint32
	OriginalSize       uint64
	CurrentSize        uint64
	DiskGeometry       uint32
	DiskType           uint32
	Checksum           uint32
	UniqueID           uuid.UUID
	SavedState         byte
}

func (f *Footer) SizeBytes() int { return footerSize }

func (f *Footer) ReadFrom(b []byte) (int, error) {
	if err := need(b, footerSize); err != nil {
		return 0, err
	}

	copy(f.Cookie[:], b[0:8])

	var err error
	if f.Features, err = codec.ReadUint32BE(b[8:12]); err != nil {
		return 0, err
	}
	if f.FileFormatVersion, err = codec.ReadUint32BE(b[12:16]); err != nil {
		return 0, err
	}
	if f.DataOffset, err = codec.ReadUint64BE(b[16:24]); err != nil {
		return 0, err
	}
	if f.Timestamp, err = codec.ReadUint32BE(b[24:28]); err != nil {
		return 0, err
	}
	copy(f.CreatorApplication[:], b[28:32])
	if f.CreatorVersion, err = codec.ReadUint32BE(b[32:36]); err != nil {
		return 0, err
	}
	if f.CreatorHostOS, err = codec.ReadUint32BE(b[36:40]); err != nil {
		return 0, err
	}
	if f.OriginalSize, err = codec.ReadUint64BE(b[40:48]); err != nil {
		return 0, err
	}
	if f.CurrentSize, err = codec.ReadUint64BE(b[48:56]); err != nil {
		return 0, err
	}
	if f.DiskGeometry, err = codec.ReadUint32BE(b[56:60]); err != nil {
		return 0, err
	}
	if f.DiskType, err = codec.ReadUint32BE(b[60:64]); err != nil {
		return 0, err
	}
	if f.Checksum, err = codec.ReadUint32BE(b[64:68]); err != nil {
		return 0, err
	}
	if f.UniqueID, err = codec.ReadGUIDBigEndian(b[68:84]); err != nil {
		return 0, err
	}
	f.SavedState = b[84]

	return footerSize, nil
}

// Validate checks that cookie, format version, and disk type all match
// a dynamic VHD.
func (f *Footer) Validate() error {
	if string(f.Cookie[:]) != footerCookie {
		return direrr.NewCorruptError(
			"vhd footer cookie: expected %q, found %q", footerCookie, f.Cookie[:])
	}
	if f.FileFormatVersion != fileFormatVersion {
		return direrr.NewCorruptError(
			"vhd file format version: expected %#x, found %#x", fileFormatVersion, f.FileFormatVersion)
	}
	if f.DiskType != dynamicHardDiskType {
		return direrr.NewCorruptError(
			"vhd disk type: expected %d (dynamic), found %d", dynamicHardDiskType, f.DiskType)
	}
	return nil
}

func need(b []byte, n int) error {
	if len(b) < n {
		return direrr.ErrSliceTooShort
	}
	return nil
}
