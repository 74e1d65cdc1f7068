// Package vmdk implements a diskchain.Image over the monolithic sparse
// and stream-optimized VMware Virtual Disk formats: sparse extent
// header, grain directory/table, and grain marker parsing resolve a
// block map that exposes a diskchain.Image the same way vhd does.
package vmdk

import (
	"github.com/discore/discore/codec"
	"github.com/discore/discore/direrr"
)

////////////////////////////////////////////////////////////////////////////////

const sparseMagicNumber = uint32(0x564d444b) // little-endian "VMDK"

const (
	newLine     = '\n'
	space       = ' '
	caretReturn = '\r'
)

const (
	flagUseRedundantGrainDirectory = 1 << 1
	flagUseZeroedGrainTableEntries = 1 << 2
	flagDataHasMarkers             = 1 << 17
	flagDataCompressed             = 1 << 16
)

// compressionDeflate is the only compression algorithm the format
// defines: always set on stream-optimized images, always clear on
// monolithic sparse ones.
const compressionDeflate = uint16(1)

const sectorSize = uint64(512)

// gdReadFooter marks a header whose real grain-directory location is
// recorded in a footer near the end of the file instead of the header
// itself — used by stream-optimized images written sequentially, where
// the final grain-directory offset isn't known until the last grain has
// been written.
const gdReadFooter = ^uint64(0)

// headerSize is the on-disk sector a sparse extent header occupies;
// only its first 79 bytes carry meaningful fields, the remainder is
// reserved.
const headerSize = 512

////////////////////////////////////////////////////////////////////////////////

// sectors is a count of 512-byte sectors, the unit every offset/size
// field in a VMDK header is expressed in.
type sectors uint64

func (s sectors) bytes() uint64 { return uint64(s) * sectorSize }

////////////////////////////////////////////////////////////////////////////////

// header is the sparse extent header at the start of a VMDK file (or,
// for a stream-optimized image, its trailing footer copy).
type header struct {
	MagicNumber        uint32
	Version            uint32
	Flags              uint32
	Capacity           sectors
	GrainSize          sectors
	DescriptorOffset   sectors
	DescriptorSize     sectors
	NumGTEsPerGT       uint32
	RgdOffset          sectors
	GdOffset           sectors
	OverHead           sectors
	UncleanShutdown    uint8
	SingleEndLineChar  uint8
	NonEndLineChar     uint8
	DoubleEndLineChar1 uint8
	DoubleEndLineChar2 uint8
	CompressAlgorithm  uint16
}

func (h *header) SizeBytes() int { return headerSize }

func (h *header) ReadFrom(b []byte) (int, error) {
	if len(b) < headerSize {
		return 0, direrr.ErrSliceTooShort
	}

	magic, err := codec.ReadUint32LE(b[0:4])
	if err != nil {
		return 0, err
	}
	version, err := codec.ReadUint32LE(b[4:8])
	if err != nil {
		return 0, err
	}
	flags, err := codec.ReadUint32LE(b[8:12])
	if err != nil {
		return 0, err
	}
	capacity, err := codec.ReadUint64LE(b[12:20])
	if err != nil {
		return 0, err
	}
	grainSize, err := codec.ReadUint64LE(b[20:28])
	if err != nil {
		return 0, err
	}
	descOffset, err := codec.ReadUint64LE(b[28:36])
	if err != nil {
		return 0, err
	}
	descSize, err := codec.ReadUint64LE(b[36:44])
	if err != nil {
		return 0, err
	}
	numGTEsPerGT, err := codec.ReadUint32LE(b[44:48])
	if err != nil {
		return 0, err
	}
	rgdOffset, err := codec.ReadUint64LE(b[48:56])
	if err != nil {
		return 0, err
	}
	gdOffset, err := codec.ReadUint64LE(b[56:64])
	if err != nil {
		return 0, err
	}
	overHead, err := codec.ReadUint64LE(b[64:72])
	if err != nil {
		return 0, err
	}
	compressAlgorithm, err := codec.ReadUint16LE(b[77:79])
	if err != nil {
		return 0, err
	}

	h.MagicNumber = magic
	h.Version = version
	h.Flags = flags
	h.Capacity = sectors(capacity)
	h.GrainSize = sectors(grainSize)
	h.DescriptorOffset = sectors(descOffset)
	h.DescriptorSize = sectors(descSize)
	h.NumGTEsPerGT = numGTEsPerGT
	h.RgdOffset = sectors(rgdOffset)
	h.GdOffset = sectors(gdOffset)
	h.OverHead = sectors(overHead)
	h.UncleanShutdown = b[72]
	h.SingleEndLineChar = b[73]
	h.NonEndLineChar = b[74]
	h.DoubleEndLineChar1 = b[75]
	h.DoubleEndLineChar2 = b[76]
	h.CompressAlgorithm = compressAlgorithm
	return headerSize, nil
}

// validate checks the four end-of-line sentinel bytes every real VMDK
// header carries — a cheap way to reject a file that decoded structurally
// but is not actually a sparse extent header — plus the magic number and
// a supported version range.
func (h *header) validate() error {
	if h.MagicNumber != sparseMagicNumber {
		return direrr.NewCorruptError("vmdk magic: expected %#x, found %#x", sparseMagicNumber, h.MagicNumber)
	}
	if h.Version < 1 || h.Version > 3 {
		return direrr.NewCorruptError("unsupported vmdk version %d", h.Version)
	}
	if h.SingleEndLineChar != newLine || h.NonEndLineChar != space ||
		h.DoubleEndLineChar1 != caretReturn || h.DoubleEndLineChar2 != newLine {
		return direrr.NewCorruptError("vmdk header end-of-line sentinels do not match")
	}
	return nil
}

func (h *header) grainsCompressed() bool {
	return h.Flags&flagDataHasMarkers != 0 &&
		h.Flags&flagDataCompressed != 0 &&
		h.CompressAlgorithm == compressionDeflate
}

func (h *header) grainDirectoryOffset() sectors {
	if h.Flags&flagUseRedundantGrainDirectory != 0 {
		return h.RgdOffset
	}
	return h.GdOffset
}

func (h *header) usesZeroedGrainTableEntries() bool {
	return h.Flags&flagUseZeroedGrainTableEntries != 0 && h.Version >= 2
}
