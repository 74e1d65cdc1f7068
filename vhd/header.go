package vhd

import (
	"github.com/google/uuid"

	"github.com/discore/discore/codec"
	"github.com/discore/discore/direrr"
)

////////////////////////////////////////////////////////////////////////////////

const (
	headerCookie       = "cxsparse"
	headerVersion      = uint32(0x00010000)
	headerOffset       = footerSize
	headerSize         = 1024
	parentLocatorSlot  = 24
	parentLocatorSlots = 8
)

// Header is the dynamic-disk header immediately following the footer
// copy at the start of the file, carrying the BAT location, block size,
// and up to 8 parent-locator records for differencing disks.
type Header struct {
	Cookie               [8]byte
	DataOffset           uint64
	TableOffset          uint64
	HeaderVersion        uint32
	MaxTableEntries      uint32
	BlockSize            uint32
	Checksum             uint32
	ParentUniqueID       uuid.UUID
	ParentTimeStamp      uint32
	ParentUnicodeName    [512]byte
	ParentLocatorEntries [parentLocatorSlots]ParentLocator
}

func (h *Header) SizeBytes() int { return headerSize }

func (h *Header) ReadFrom(b []byte) (int, error) {
	if err := need(b, headerSize); err != nil {
		return 0, err
	}

	copy(h.Cookie[:], b[0:8])

	var err error
	if h.DataOffset, err = codec.ReadUint64BE(b[8:16]); err != nil {
		return 0, err
	}
	if h.TableOffset, err = codec.ReadUint64BE(b[16:24]); err != nil {
		return 0, err
	}
	if h.HeaderVersion, err = codec.ReadUint32BE(b[24:28]); err != nil {
		return 0, err
	}
	if h.MaxTableEntries, err = codec.ReadUint32BE(b[28:32]); err != nil {
		return 0, err
	}
	if h.BlockSize, err = codec.ReadUint32BE(b[32:36]); err != nil {
		return 0, err
	}
	if h.Checksum, err = codec.ReadUint32BE(b[36:40]); err != nil {
		return 0, err
	}
	if h.ParentUniqueID, err = codec.ReadGUIDBigEndian(b[40:56]); err != nil {
		return 0, err
	}
	if h.ParentTimeStamp, err = codec.ReadUint32BE(b[56:60]); err != nil {
		return 0, err
	}
	// b[60:64] is reserved.
	copy(h.ParentUnicodeName[:], b[64:576])

	locators := b[576:768]
	for i := 0; i < parentLocatorSlots; i++ {
		if _, err := h.ParentLocatorEntries[i].ReadFrom(locators[i*parentLocatorSlot : (i+1)*parentLocatorSlot]); err != nil {
			return 0, err
		}
	}
	// b[768:1024] is reserved.

	return headerSize, nil
}

// Validate checks that cookie and header version match the dynamic-disk
// header, and that BlockSize is a power of two (required for the BAT
// entry -> logical block arithmetic to make sense at all).
func (h *Header) Validate() error {
	if string(h.Cookie[:]) != headerCookie {
		return direrr.NewCorruptError(
			"vhd header cookie: expected %q, found %q", headerCookie, h.Cookie[:])
	}
	if h.HeaderVersion != headerVersion {
		return direrr.NewCorruptError(
			"vhd header version: expected %#x, found %#x", headerVersion, h.HeaderVersion)
	}
	if h.BlockSize == 0 || h.BlockSize&(h.BlockSize-1) != 0 {
		return direrr.NewCorruptError("vhd block size %d is not a power of two", h.BlockSize)
	}
	return nil
}

// NeedsParent reports whether this header names a differencing-disk
// parent (a non-nil ParentUniqueID).
func (h *Header) NeedsParent() bool {
	return h.ParentUniqueID != uuid.Nil
}
