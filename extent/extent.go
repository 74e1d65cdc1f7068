// Package extent implements the logical-offset to (device-offset,
// contiguous-length) translation used by every format module that maps
// a file onto a block-addressed backing device: an in-band extent list
// for the blocks a directory or header records directly, plus a spill
// index consulted once the in-band list runs out.
//
// The two-level shape mirrors a qcow2 image's L1/L2 table indirection:
// a short table lives inline where the caller already has it in hand,
// and everything beyond that is fetched, one packed page at a time,
// from a SpillSource keyed by how many blocks have been accounted for
// so far.
package extent

import (
	"context"
	"encoding/binary"

	"github.com/discore/discore/direrr"
)

////////////////////////////////////////////////////////////////////////////////

// Descriptor is one run of contiguous blocks: StartBlock is the first
// physical block of the run, BlockCount is how many blocks it covers.
type Descriptor struct {
	StartBlock uint64
	BlockCount uint64
}

// Located is the result of a find_extent lookup: the descriptor that
// contains the requested block, plus the logical byte offset at which
// that descriptor's run begins.
type Located struct {
	Extent             Descriptor
	ExtentLogicalStart uint64
}

////////////////////////////////////////////////////////////////////////////////

// SpillSource resolves the extent descriptors that do not fit in a
// Buffer's in-band list. Lookup is keyed by how many blocks have
// already been accounted for (blocksSeen) rather than by an index,
// matching the qcow2 L2-table-by-cluster-offset addressing scheme this
// abstraction generalizes: the caller does not need to know how many
// spill pages exist ahead of time, only where it left off.
//
// A miss (no descriptors cover blocksSeen) is reported by returning a
// nil slice with a nil error; callers must not confuse a miss with an
// I/O failure.
type SpillSource interface {
	Lookup(ctx context.Context, fileID any, blocksSeen uint64) ([]Descriptor, error)
}

////////////////////////////////////////////////////////////////////////////////

// Buffer translates a logical block index into a physical extent, first
// against the descriptors supplied directly (InBand), then — if those
// run out before TotalBlocks is reached — against a SpillSource.
type Buffer struct {
	FileID      any
	BlockSize   uint64
	TotalBlocks uint64
	InBand      []Descriptor
	Spill       SpillSource // nil if the map is fully in-band
}

// FindExtent walks the in-band list; if the target block lies beyond
// it, consult Spill starting from however many blocks the in-band list
// accounted for.
func (b *Buffer) FindExtent(ctx context.Context, logicalPos uint64) (Located, error) {
	block := logicalPos / b.BlockSize
	var blocksSeen uint64

	if loc, ok := scan(b.InBand, block, blocksSeen, b.BlockSize); ok {
		return loc, nil
	}
	for _, e := range b.InBand {
		blocksSeen += e.BlockCount
	}

	for blocksSeen < b.TotalBlocks {
		if b.Spill == nil {
			return Located{}, direrr.NewMissingExtentError(b.FileID, blocksSeen)
		}

		select {
		case <-ctx.Done():
			return Located{}, direrr.ErrCancelled
		default:
		}

		descriptors, err := b.Spill.Lookup(ctx, b.FileID, blocksSeen)
		if err != nil {
			return Located{}, err
		}
		if len(descriptors) == 0 {
			return Located{}, direrr.NewMissingExtentError(b.FileID, blocksSeen)
		}

		if loc, ok := scan(descriptors, block, blocksSeen, b.BlockSize); ok {
			return loc, nil
		}

		before := blocksSeen
		for _, e := range descriptors {
			blocksSeen += e.BlockCount
		}
		if blocksSeen == before {
			// The page advanced nothing; querying again at the same key
			// would just repeat forever, so treat it the same as a miss.
			return Located{}, direrr.NewMissingExtentError(b.FileID, blocksSeen)
		}
	}

	return Located{}, direrr.ErrBeyondEOF
}

// scan applies the containment test to one ordered list of descriptors,
// starting the block count at blocksSeenBefore.
func scan(descriptors []Descriptor, block, blocksSeenBefore, blockSize uint64) (Located, bool) {
	blocksSeen := blocksSeenBefore
	for _, e := range descriptors {
		if blocksSeen+e.BlockCount > block {
			return Located{Extent: e, ExtentLogicalStart: blocksSeen * blockSize}, true
		}
		blocksSeen += e.BlockCount
	}
	return Located{}, false
}

////////////////////////////////////////////////////////////////////////////////

// ReadPlan is one device-level read the read loop below issues:
// DeviceOffset is an absolute byte offset into the backing device,
// Length is how many bytes to transfer starting at DestOffset within
// the caller's buffer.
type ReadPlan struct {
	DeviceOffset uint64
	DestOffset   uint64
	Length       uint64
}

// PlanRead computes the device reads needed to satisfy a logical read
// of length bytes starting at logicalPos. It carries a progress guard:
// a read length of zero at some extent (the map is internally
// inconsistent but no descriptor is actually missing) breaks the loop
// rather than spinning, and returns whatever was already planned
// without an error — the caller sees a short read.
//
// deviceBase is added to every extent's start_block × BlockSize, mirroring
// the format-specific base offset (e.g. a BAT entry's sector address).
func (b *Buffer) PlanRead(ctx context.Context, deviceBase, logicalPos, length uint64) ([]ReadPlan, error) {
	var plans []ReadPlan
	var done uint64

	for done < length {
		loc, err := b.FindExtent(ctx, logicalPos+done)
		if err != nil {
			return plans, err
		}

		extentOffset := logicalPos + done - loc.ExtentLogicalStart
		extentSize := loc.Extent.BlockCount * b.BlockSize
		if extentOffset >= extentSize {
			break // progress guard: nothing left to read from this extent
		}

		remaining := length - done
		toRead := extentSize - extentOffset
		if toRead > remaining {
			toRead = remaining
		}
		if toRead == 0 {
			break // progress guard: a zero-length remainder means stop, not spin
		}

		plans = append(plans, ReadPlan{
			DeviceOffset: deviceBase + loc.Extent.StartBlock*b.BlockSize + extentOffset,
			DestOffset:   done,
			Length:       toRead,
		})
		done += toRead
	}

	return plans, nil
}

////////////////////////////////////////////////////////////////////////////////

// DecodeSpillDescriptors parses a packed spill-index page of 8-byte
// big-endian descriptors: 4 bytes StartBlock, 4 bytes BlockCount. This
// is the "one filesystem family" concrete wire format this abstraction
// leaves abstract; discore fixes it to the same 8-byte shape a qcow2 L2
// entry uses for its cluster pointer, scaled down to 32-bit fields
// since discore's spill pages are always block-addressed, not
// byte-addressed.
func DecodeSpillDescriptors(page []byte) ([]Descriptor, error) {
	if len(page)%8 != 0 {
		return nil, direrr.NewCorruptError("spill page length %d is not a multiple of 8", len(page))
	}

	out := make([]Descriptor, 0, len(page)/8)
	for i := 0; i+8 <= len(page); i += 8 {
		out = append(out, Descriptor{
			StartBlock: uint64(binary.BigEndian.Uint32(page[i : i+4])),
			BlockCount: uint64(binary.BigEndian.Uint32(page[i+4 : i+8])),
		})
	}
	return out, nil
}
