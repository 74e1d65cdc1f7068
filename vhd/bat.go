package vhd

import (
	"context"
	"math"

	"github.com/discore/discore/codec"
	"github.com/discore/discore/extent"
)

////////////////////////////////////////////////////////////////////////////////

const (
	sectorLength     = uint32(512)
	unusedTableEntry = uint32(0xFFFFFFFF)
	batEntrySize     = 4

	// blockHole marks an extent.Descriptor produced from a BAT entry
	// equal to unusedTableEntry: the logical block has never been
	// written and reads as zero. No physical data address is zero for a
	// dynamic VHD (the footer/header/BAT themselves occupy the file's
	// first bytes), so this sentinel can never collide with a real
	// block-data address.
	blockHole = ^uint64(0)
)

// readBAT loads the MaxTableEntries-entry big-endian uint32 array at
// header.TableOffset.
func readBAT(ctx context.Context, dev deviceReader, h *Header) ([]uint32, error) {
	n := int(h.MaxTableEntries)
	raw := make([]byte, n*batEntrySize)
	if err := readExact(ctx, dev, h.TableOffset, raw); err != nil {
		return nil, err
	}

	bat := make([]uint32, n)
	for i := range bat {
		v, err := codec.ReadUint32BE(raw[i*batEntrySize : (i+1)*batEntrySize])
		if err != nil {
			return nil, err
		}
		bat[i] = v
	}
	return bat, nil
}

// bitmapSizeBytes counts one bit per sector in a data block, rounded
// down since BlockSize is required to be a multiple of the sector
// length.
func bitmapSizeBytes(blockSize uint32) uint32 {
	return blockSize / sectorLength / 8
}

// sectorPaddedBitmapSizeBytes is the bitmap section padded up to the
// next 512-byte sector boundary.
func sectorPaddedBitmapSizeBytes(blockSize uint32) uint64 {
	bitmapSize := float64(bitmapSizeBytes(blockSize))
	sectorSize := float64(sectorLength)
	return uint64(math.Ceil(bitmapSize/sectorSize) * sectorSize)
}

// blockDataAddress computes a block's data section: it follows its own
// sector-padded bitmap, both anchored at the sector the BAT entry
// names.
func blockDataAddress(batEntry uint32, blockSize uint32) uint64 {
	bitmapAddress := uint64(batEntry) * uint64(sectorLength)
	return bitmapAddress + sectorPaddedBitmapSizeBytes(blockSize)
}

// buildExtentBuffer turns a parsed BAT into an extent.Buffer addressing
// the disk's logical byte space one-to-one (BlockSize=1): VHD's
// allocation unit is a fixed number of logical bytes, but the bitmap
// section in front of each block's data means block N's physical
// address is never simply base+N*blockSize, so byte-granular
// descriptors are the only representation that lets extent.Buffer's
// find_extent stay format-agnostic. Runs of unallocated blocks become
// blockHole descriptors instead of being omitted, since find_extent's
// contiguous-accounting scan requires a dense partition of the address
// space to keep positional bookkeeping correct.
func buildExtentBuffer(fileID any, bat []uint32, blockSize uint32, capacity uint64) *extent.Buffer {
	descriptors := make([]extent.Descriptor, 0, len(bat))

	var logicalOffset uint64
	for _, entry := range bat {
		if logicalOffset >= capacity {
			break
		}
		length := uint64(blockSize)
		if remaining := capacity - logicalOffset; length > remaining {
			length = remaining
		}

		start := blockHole
		if entry != unusedTableEntry {
			start = blockDataAddress(entry, blockSize)
		}

		mergeable := false
		if n := len(descriptors); n > 0 {
			last := &descriptors[n-1]
			switch {
			case start == blockHole && last.StartBlock == blockHole:
				mergeable = true
			case start != blockHole && last.StartBlock != blockHole &&
				last.StartBlock+last.BlockCount == start:
				mergeable = true
			}
			if mergeable {
				last.BlockCount += length
			}
		}
		if !mergeable {
			descriptors = append(descriptors, extent.Descriptor{StartBlock: start, BlockCount: length})
		}

		logicalOffset += length
	}

	return &extent.Buffer{
		FileID:      fileID,
		BlockSize:   1,
		TotalBlocks: capacity,
		InBand:      descriptors,
	}
}
