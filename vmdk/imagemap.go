package vmdk

import (
	"context"

	"github.com/discore/discore/codec"
	"github.com/discore/discore/direrr"
	"github.com/discore/discore/extent"
)

////////////////////////////////////////////////////////////////////////////////

// blockHole marks an extent.Descriptor produced from a zero grain table
// entry: the grain has never been written and reads as zero. Mirrors
// vhd's blockHole sentinel and the same "dense partition" requirement
// find_extent's positional bookkeeping depends on.
const blockHole = ^uint64(0)

// compressedGrain is one grain of a stream-optimized image: its
// physical location and size are independent of its neighbors', so
// unlike a raw grain it cannot be folded into a run-length
// extent.Descriptor — reading it always means seeking to dataOffset and
// inflating exactly dataSize compressed bytes.
type compressedGrain struct {
	logicalStart uint64
	logicalSize  uint64
	dataOffset   uint64
	dataSize     uint32
}

// grainMap is the result of walking a VMDK grain directory once: either
// a byte-granular extent.Buffer (uncompressed grains, merged wherever
// physically contiguous, exactly like vhd's BAT-derived map), or an
// ordered list of compressedGrain records read lazily, one inflate per
// grain.
type grainMap struct {
	compressed bool
	raw        *extent.Buffer
	grains     []compressedGrain
}

// buildGrainMap walks the grain directory and, for every grain table
// entry, either extends the in-band extent list (raw grains) or resolves
// the grain's marker to learn its compressed size (compressed grains).
func buildGrainMap(ctx context.Context, dev deviceReader, fileID any, h *header) (*grainMap, error) {
	capacity := h.Capacity.bytes()
	dataPerGT := uint64(h.NumGTEsPerGT) * h.GrainSize.bytes()
	if dataPerGT == 0 {
		return nil, direrr.NewCorruptError("vmdk grain table geometry is degenerate: NumGTEsPerGT=%d GrainSize=%d", h.NumGTEsPerGT, h.GrainSize)
	}
	numberOfGDEs := (capacity + dataPerGT - 1) / dataPerGT

	gd, err := readUint32s(ctx, dev, h.grainDirectoryOffset().bytes(), int(numberOfGDEs))
	if err != nil {
		return nil, err
	}

	compressed := h.grainsCompressed()
	m := &grainMap{compressed: compressed}
	descriptors := make([]extent.Descriptor, 0, len(gd))

	var itemOffset uint64
	for _, gde := range gd {
		var gt []uint32
		switch {
		case gde == 0, gde == 1 && h.usesZeroedGrainTableEntries():
			gt = make([]uint32, h.NumGTEsPerGT)
		default:
			gt, err = readUint32s(ctx, dev, sectors(gde).bytes(), int(h.NumGTEsPerGT))
			if err != nil {
				return nil, err
			}
		}

		for _, gte := range gt {
			if itemOffset >= capacity {
				break
			}
			grainLen := h.GrainSize.bytes()
			if remaining := capacity - itemOffset; grainLen > remaining {
				grainLen = remaining
			}

			if gte == 0 {
				appendMerged(&descriptors, blockHole, grainLen)
			} else if compressed {
				g, err := readCompressedGrainHeader(ctx, dev, itemOffset, grainLen, sectors(gte).bytes())
				if err != nil {
					return nil, err
				}
				m.grains = append(m.grains, g)
			} else {
				appendMerged(&descriptors, sectors(gte).bytes(), grainLen)
			}

			itemOffset += grainLen
		}
	}

	if !compressed {
		m.raw = &extent.Buffer{
			FileID:      fileID,
			BlockSize:   1,
			TotalBlocks: capacity,
			InBand:      descriptors,
		}
	}
	return m, nil
}

// appendMerged extends descriptors with one more run of length bytes
// starting physically at start (or blockHole), merging into the
// previous descriptor when it is contiguous in the same sense (both
// holes, or physically adjacent data) — mirrors vhd's buildExtentBuffer
// merge logic exactly.
func appendMerged(descriptors *[]extent.Descriptor, start, length uint64) {
	if n := len(*descriptors); n > 0 {
		last := &(*descriptors)[n-1]
		switch {
		case start == blockHole && last.StartBlock == blockHole:
			last.BlockCount += length
			return
		case start != blockHole && last.StartBlock != blockHole &&
			last.StartBlock+last.BlockCount == start:
			last.BlockCount += length
			return
		}
	}
	*descriptors = append(*descriptors, extent.Descriptor{StartBlock: start, BlockCount: length})
}

// readCompressedGrainHeader reads the 16-byte marker at grainOffset to
// learn the grain's actual compressed size — grains are read eagerly at
// map-build time (never lazily during data reads) so a corrupt marker
// surfaces during Open, not on the first Read.
func readCompressedGrainHeader(ctx context.Context, dev deviceReader, logicalStart, logicalSize, grainOffset uint64) (compressedGrain, error) {
	buf := make([]byte, markerHeaderSize)
	if err := readExact(ctx, dev, grainOffset, buf); err != nil {
		return compressedGrain{}, err
	}
	var mk marker
	if err := mk.readFrom(buf); err != nil {
		return compressedGrain{}, err
	}
	if mk.DataSize == 0 {
		return compressedGrain{}, direrr.NewCorruptError("expected a grain data marker at offset %d, found a special marker of type %d", grainOffset, mk.Type)
	}

	return compressedGrain{
		logicalStart: logicalStart,
		logicalSize:  logicalSize,
		dataOffset:   grainOffset + mk.dataOffset(),
		dataSize:     mk.DataSize,
	}, nil
}

////////////////////////////////////////////////////////////////////////////////

func readUint32s(ctx context.Context, dev deviceReader, offset uint64, count int) ([]uint32, error) {
	raw := make([]byte, count*4)
	if err := readExact(ctx, dev, offset, raw); err != nil {
		return nil, err
	}
	out := make([]uint32, count)
	for i := range out {
		v, err := codec.ReadUint32LE(raw[i*4 : i*4+4])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// findCompressedGrain returns the grain covering logicalPos, or false if
// logicalPos falls in a zero grain absent from grains (the compressed
// path only records non-zero grains, unlike the raw path's extent.Buffer
// which represents holes explicitly).
func findCompressedGrain(grains []compressedGrain, logicalPos uint64) (compressedGrain, bool) {
	for _, g := range grains {
		if logicalPos >= g.logicalStart && logicalPos < g.logicalStart+g.logicalSize {
			return g, true
		}
	}
	return compressedGrain{}, false
}
