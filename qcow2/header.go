// Package qcow2 implements a diskchain.Image over the QCOW2 disk-image
// format: header parsing, an L1/L2 cluster-table walk exposed as an
// extent.SpillSource, and a reader that resolves normal, zero, and
// compressed clusters into a single addressable content stream.
package qcow2

import (
	"github.com/discore/discore/codec"
	"github.com/discore/discore/direrr"
)

////////////////////////////////////////////////////////////////////////////////

var magicBytes = [4]byte{0x51, 0x46, 0x49, 0xFB} // "QFI\xfb"

const (
	// v2HeaderSize is every byte a version-2 header defines; v3 extends
	// it with the incompatible/compatible/autoclear feature bitmasks and
	// a refcount-entry width, which this package reads when present and
	// otherwise defaults to zero (a version-2 image has no encryption,
	// no feature bits, and the implicit 16-bit refcount width).
	v2HeaderSize = 72
	v3HeaderSize = 104

	maxClusterSize = uint64(2 << 20)
	maxL1Entries   = uint64(32 << 20)

	l1OffsetMask = uint64(0x00fffffffffffe00)
	l2OffsetMask = uint64(0x00fffffffffffe00)

	compressedSectorSize = uint64(512)
	flagCompressed       = uint64(1 << 62)
	flagZero             = uint64(1 << 0)

	incompatibleExternalDataFile = uint64(1 << 2)
	incompatibleCompressionType  = uint64(1 << 3)
	incompatibleExtendedL2       = uint64(1 << 4)
)

////////////////////////////////////////////////////////////////////////////////

// header is the fixed portion of a QCOW2 file's first cluster.
type header struct {
	Magic                 uint32
	Version               uint32
	BackingFileOffset     uint64
	BackingFileSize       uint32
	ClusterBits           uint32
	Size                  uint64
	CryptMethod           uint32
	L1Size                uint32
	L1TableOffset         uint64
	RefcountTableOffset   uint64
	RefcountTableClusters uint32
	NbSnapshots           uint32
	SnapshotsOffset       uint64
	IncompatibleFeatures  uint64
	CompatibleFeatures    uint64
	AutoclearFeatures     uint64
	RefcountOrder         uint32
	HeaderLength          uint32
}

func (h *header) SizeBytes() int { return v3HeaderSize }

// ReadFrom parses the big-endian header fields common to every QCOW2
// version, then the version-3 extensions when the header is version 3
// or later and b is long enough to carry them. It returns the number of
// header bytes it consumed.
func (h *header) ReadFrom(b []byte) (int, error) {
	if len(b) < v2HeaderSize {
		return 0, direrr.ErrSliceTooShort
	}

	magic, err := codec.ReadUint32BE(b[0:4])
	if err != nil {
		return 0, err
	}
	version, err := codec.ReadUint32BE(b[4:8])
	if err != nil {
		return 0, err
	}
	backingFileOffset, err := codec.ReadUint64BE(b[8:16])
	if err != nil {
		return 0, err
	}
	backingFileSize, err := codec.ReadUint32BE(b[16:20])
	if err != nil {
		return 0, err
	}
	clusterBits, err := codec.ReadUint32BE(b[20:24])
	if err != nil {
		return 0, err
	}
	size, err := codec.ReadUint64BE(b[24:32])
	if err != nil {
		return 0, err
	}
	cryptMethod, err := codec.ReadUint32BE(b[32:36])
	if err != nil {
		return 0, err
	}
	l1Size, err := codec.ReadUint32BE(b[36:40])
	if err != nil {
		return 0, err
	}
	l1TableOffset, err := codec.ReadUint64BE(b[40:48])
	if err != nil {
		return 0, err
	}
	refcountTableOffset, err := codec.ReadUint64BE(b[48:56])
	if err != nil {
		return 0, err
	}
	refcountTableClusters, err := codec.ReadUint32BE(b[56:60])
	if err != nil {
		return 0, err
	}
	nbSnapshots, err := codec.ReadUint32BE(b[60:64])
	if err != nil {
		return 0, err
	}
	snapshotsOffset, err := codec.ReadUint64BE(b[64:72])
	if err != nil {
		return 0, err
	}

	h.Magic = magic
	h.Version = version
	h.BackingFileOffset = backingFileOffset
	h.BackingFileSize = backingFileSize
	h.ClusterBits = clusterBits
	h.Size = size
	h.CryptMethod = cryptMethod
	h.L1Size = l1Size
	h.L1TableOffset = l1TableOffset
	h.RefcountTableOffset = refcountTableOffset
	h.RefcountTableClusters = refcountTableClusters
	h.NbSnapshots = nbSnapshots
	h.SnapshotsOffset = snapshotsOffset

	n := v2HeaderSize
	if version >= 3 && len(b) >= v3HeaderSize {
		incompatible, err := codec.ReadUint64BE(b[72:80])
		if err != nil {
			return 0, err
		}
		compatible, err := codec.ReadUint64BE(b[80:88])
		if err != nil {
			return 0, err
		}
		autoclear, err := codec.ReadUint64BE(b[88:96])
		if err != nil {
			return 0, err
		}
		refcountOrder, err := codec.ReadUint32BE(b[96:100])
		if err != nil {
			return 0, err
		}
		headerLength, err := codec.ReadUint32BE(b[100:104])
		if err != nil {
			return 0, err
		}
		h.IncompatibleFeatures = incompatible
		h.CompatibleFeatures = compatible
		h.AutoclearFeatures = autoclear
		h.RefcountOrder = refcountOrder
		h.HeaderLength = headerLength
		n = v3HeaderSize
	}

	return n, nil
}

func (h *header) validate() error {
	var magic [4]byte
	magic[0] = byte(h.Magic >> 24)
	magic[1] = byte(h.Magic >> 16)
	magic[2] = byte(h.Magic >> 8)
	magic[3] = byte(h.Magic)
	if magic != magicBytes {
		return direrr.NewCorruptError("qcow2 magic mismatch: found %x", magic)
	}
	if h.Version < 2 || h.Version > 3 {
		return direrr.NewCorruptError("unsupported qcow2 version %d", h.Version)
	}
	if h.CryptMethod != 0 {
		return direrr.NewCorruptError("qcow2 encryption is not supported (CryptMethod %d)", h.CryptMethod)
	}
	if h.IncompatibleFeatures&incompatibleExternalDataFile != 0 {
		return direrr.NewCorruptError("qcow2 external data files are not supported")
	}
	if h.IncompatibleFeatures&incompatibleCompressionType != 0 {
		return direrr.NewCorruptError("qcow2 custom compression types are not supported")
	}
	if h.IncompatibleFeatures&incompatibleExtendedL2 != 0 {
		return direrr.NewCorruptError("qcow2 extended L2 entries (subclusters) are not supported")
	}
	if h.Size == 0 {
		return direrr.NewCorruptError("qcow2 virtual size must not be zero")
	}
	if uint64(1)<<h.ClusterBits > maxClusterSize {
		return direrr.NewCorruptError("qcow2 cluster size 1<<%d exceeds the supported limit", h.ClusterBits)
	}
	if uint64(h.L1Size) > maxL1Entries {
		return direrr.NewCorruptError("qcow2 L1 table size %d exceeds the supported limit", h.L1Size)
	}
	return nil
}
