package qcow2

import (
	"context"
	"math/bits"

	"github.com/discore/discore/codec"
	"github.com/discore/discore/direrr"
	"github.com/discore/discore/extent"
)

////////////////////////////////////////////////////////////////////////////////

// blockHole marks an extent.Descriptor for a cluster that reads as zero
// without occupying any host cluster: unallocated, or explicitly marked
// zero with no backing offset.
const blockHole = ^uint64(0)

// blockCompressed marks an extent.Descriptor for a cluster whose bytes
// live compressed on disk. Its actual location and size, which do not
// fit a physical-offset Descriptor, are recorded in compressedCache
// under the same logical key (ExtentLogicalStart) the descriptor was
// produced at.
const blockCompressed = ^uint64(0) - 1

type clusterType int

const (
	clusterUnallocated clusterType = iota
	clusterZeroPlain
	clusterZeroAllocated
	clusterNormal
	clusterCompressed
)

func classifyCluster(l2Entry uint64) clusterType {
	if l2Entry&flagCompressed != 0 {
		return clusterCompressed
	}
	if l2Entry&flagZero != 0 {
		if l2Entry&l2OffsetMask != 0 {
			return clusterZeroAllocated
		}
		return clusterZeroPlain
	}
	if l2Entry&l2OffsetMask == 0 {
		return clusterUnallocated
	}
	return clusterNormal
}

////////////////////////////////////////////////////////////////////////////////

// compressedCluster is one compressed cluster's physical location: an
// arbitrary bit-packed byte range that does not begin or end on a
// cluster boundary, per the format's compressed-cluster encoding.
type compressedCluster struct {
	dataOffset uint64
	dataSize   uint64
}

// l2Spill walks a QCOW2 L1/L2 table pair on demand, translating a
// logical byte offset into one contiguous run of clusters at a time —
// the same shape a qcow2 image reader wants natively, and exactly the
// contract extent.SpillSource asks for: resolve whatever lies at
// blocksSeen, without needing to know the whole map up front.
type l2Spill struct {
	dev deviceReader

	clusterBits uint64
	clusterSize uint64
	l1Table     []uint64
	l2Size      uint64
	l2Bits      uint64

	clusterOffsetMask   uint64
	compressedSizeShift uint64
	compressedSizeMask  uint64

	l2Cache         map[uint64][]uint64
	compressedCache map[uint64]compressedCluster
}

func newL2Spill(dev deviceReader, h *header, l1Table []uint64) *l2Spill {
	clusterBits := uint64(h.ClusterBits)
	clusterSize := uint64(1) << clusterBits
	l2Size := clusterSize / 8

	return &l2Spill{
		dev:                 dev,
		clusterBits:         clusterBits,
		clusterSize:         clusterSize,
		l1Table:             l1Table,
		l2Size:              l2Size,
		l2Bits:              uint64(bits.TrailingZeros64(l2Size)),
		clusterOffsetMask:   (uint64(1) << (63 - clusterBits)) - 1,
		compressedSizeShift: 62 - (clusterBits - 8),
		compressedSizeMask:  (uint64(1) << (clusterBits - 8)) - 1,
		l2Cache:             make(map[uint64][]uint64),
		compressedCache:     make(map[uint64]compressedCluster),
	}
}

// Lookup resolves whatever cluster run starts at the byte offset
// blocksSeen, returning exactly one descriptor: qcow2's compressed
// clusters never merge with a neighbor (countContiguousClusters treats
// a compressed cluster as a run of one), so returning a single
// descriptor per call keeps this the same shape for every cluster type
// rather than special-casing compressed runs to length one downstream.
func (s *l2Spill) Lookup(ctx context.Context, _ any, blocksSeen uint64) ([]extent.Descriptor, error) {
	l1Index := blocksSeen >> (s.l2Bits + s.clusterBits)
	if l1Index >= uint64(len(s.l1Table)) {
		return nil, nil
	}
	l2Offset := s.l1Table[l1Index] & l1OffsetMask
	l2Index := (blocksSeen >> s.clusterBits) & (s.l2Size - 1)

	if l2Offset == 0 {
		run := (s.l2Size - l2Index) << s.clusterBits
		return []extent.Descriptor{{StartBlock: blockHole, BlockCount: run}}, nil
	}

	l2Table, err := s.readL2Table(ctx, l2Offset)
	if err != nil {
		return nil, err
	}
	if l2Index >= uint64(len(l2Table)) {
		return nil, direrr.NewCorruptError("qcow2 L2 index %d out of range for table of size %d", l2Index, len(l2Table))
	}

	l2Entry := l2Table[l2Index]
	clusterType := classifyCluster(l2Entry)

	count := s.countContiguousClusters(l2Table, l2Index)
	runBytes := count << s.clusterBits

	switch clusterType {
	case clusterCompressed:
		compressedOffset := l2Entry & s.clusterOffsetMask
		sectorCount := ((l2Entry >> s.compressedSizeShift) & s.compressedSizeMask) + 1
		dataSize := sectorCount*compressedSectorSize - compressedOffset&(compressedSectorSize-1)
		s.compressedCache[blocksSeen] = compressedCluster{dataOffset: compressedOffset, dataSize: dataSize}
		return []extent.Descriptor{{StartBlock: blockCompressed, BlockCount: s.clusterSize}}, nil

	case clusterUnallocated, clusterZeroPlain:
		return []extent.Descriptor{{StartBlock: blockHole, BlockCount: runBytes}}, nil

	case clusterZeroAllocated:
		// Explicitly zeroed but still occupies a host cluster: reads
		// the same as a hole, no need to touch the backing bytes.
		return []extent.Descriptor{{StartBlock: blockHole, BlockCount: runBytes}}, nil

	default: // clusterNormal
		hostOffset := l2Entry & l2OffsetMask
		if hostOffset&(s.clusterSize-1) != 0 {
			return nil, direrr.NewCorruptError("qcow2 cluster offset %d is not cluster-aligned", hostOffset)
		}
		return []extent.Descriptor{{StartBlock: hostOffset, BlockCount: runBytes}}, nil
	}
}

// countContiguousClusters extends a one-cluster lookup into a longer
// run wherever the following L2 entries keep the same classification
// and, for normal/zero-allocated clusters, keep advancing by exactly
// one cluster's worth of host offset — the same test buildExtentBuffer
// applies to physically adjacent VHD blocks and VMDK grains, generalized
// here to an L2 table instead of a flat array.
func (s *l2Spill) countContiguousClusters(l2Table []uint64, l2Index uint64) uint64 {
	first := classifyCluster(l2Table[l2Index])
	if first == clusterCompressed {
		return 1
	}

	checkOffset := first == clusterNormal || first == clusterZeroAllocated
	expectedOffset := l2Table[l2Index] & l2OffsetMask

	count := uint64(1)
	for i := l2Index + 1; i < uint64(len(l2Table)); i++ {
		entry := l2Table[i]
		t := classifyCluster(entry)
		if t != first {
			break
		}
		if checkOffset {
			expectedOffset += s.clusterSize
			if expectedOffset != entry&l2OffsetMask {
				break
			}
		}
		count++
	}
	return count
}

func (s *l2Spill) readL2Table(ctx context.Context, offset uint64) ([]uint64, error) {
	if cached, ok := s.l2Cache[offset]; ok {
		return cached, nil
	}

	raw := make([]byte, s.l2Size*8)
	if err := readExact(ctx, s.dev, offset, raw); err != nil {
		return nil, err
	}

	table := make([]uint64, s.l2Size)
	for i := range table {
		v, err := codec.ReadUint64BE(raw[i*8 : i*8+8])
		if err != nil {
			return nil, err
		}
		table[i] = v
	}

	s.l2Cache[offset] = table
	return table, nil
}
