package qcow2

import (
	"bytes"
	"compress/zlib"
	"context"
	"io"

	"github.com/discore/discore/codec"
	"github.com/discore/discore/diskchain"
	"github.com/discore/discore/direrr"
	"github.com/discore/discore/extent"
	"github.com/discore/discore/ownership"
	"github.com/discore/discore/sparse"
)

////////////////////////////////////////////////////////////////////////////////

// deviceReader is the narrow slice of sparse.Stream image parsing needs:
// random-access reads of an already-opened backing file.
type deviceReader interface {
	ReadAt(ctx context.Context, pos uint64, buf []byte) (int, error)
}

// readExact fills buf entirely or fails: every structure this package
// reads (header, L1 table, L2 table) is fixed-size, so a short read
// always means the file is truncated.
func readExact(ctx context.Context, dev deviceReader, pos uint64, buf []byte) error {
	n, err := dev.ReadAt(ctx, pos, buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return direrr.NewCorruptError("truncated read at offset %d: wanted %d bytes, got %d", pos, len(buf), n)
	}
	return nil
}

////////////////////////////////////////////////////////////////////////////////

// Image opens and parses a QCOW2 file into the header and an
// L1-table-backed extent.Buffer whose Spill resolves L2 tables lazily.
type Image struct {
	path string
	dev  deviceReader

	header header
	blocks *extent.Buffer
	spill  *l2Spill
}

// Open parses the header and the (small, wholly in-memory) L1 table from
// dev; L2 tables are read lazily by the spill source as the caller's
// content stream is walked.
func Open(ctx context.Context, path string, dev deviceReader) (*Image, error) {
	img := &Image{path: path, dev: dev}

	buf := make([]byte, v3HeaderSize)
	if err := readExact(ctx, dev, 0, buf); err != nil {
		return nil, err
	}
	if _, err := img.header.ReadFrom(buf); err != nil {
		return nil, err
	}
	if err := img.header.validate(); err != nil {
		return nil, err
	}

	l1Raw := make([]byte, uint64(img.header.L1Size)*8)
	if err := readExact(ctx, dev, img.header.L1TableOffset, l1Raw); err != nil {
		return nil, err
	}
	l1Table := make([]uint64, img.header.L1Size)
	for i := range l1Table {
		v, err := codec.ReadUint64BE(l1Raw[i*8 : i*8+8])
		if err != nil {
			return nil, err
		}
		l1Table[i] = v
	}

	img.spill = newL2Spill(dev, &img.header, l1Table)
	img.blocks = &extent.Buffer{
		FileID:      path,
		BlockSize:   1,
		TotalBlocks: img.header.Size,
		Spill:       img.spill,
	}

	return img, nil
}

////////////////////////////////////////////////////////////////////////////////

// Info reports a synthesized identity: QCOW2 carries no comparable
// binary unique-ID field, and parent linkage is a path (BackingFileName),
// not a GUID, so NeedsParent reflects whether a backing file name is
// present and the actual path is surfaced through ParentLocationHints
// instead of a ParentUniqueID.
func (img *Image) Info() diskchain.ImageInfo {
	return diskchain.ImageInfo{
		NeedsParent: img.header.BackingFileOffset != 0 && img.header.BackingFileSize != 0,
		Capacity:    img.header.Size,
	}
}

func (img *Image) FullPath() string { return img.path }

// ParentLocationHints reads the backing file name stored at
// BackingFileOffset/BackingFileSize — plain bytes, not UTF-16, unlike a
// VHD parent-locator's path text.
func (img *Image) ParentLocationHints() []string {
	if img.header.BackingFileOffset == 0 || img.header.BackingFileSize == 0 {
		return nil
	}
	text := make([]byte, img.header.BackingFileSize)
	if err := readExact(context.Background(), img.dev, img.header.BackingFileOffset, text); err != nil {
		return nil
	}
	return []string{string(text)}
}

// OpenContent returns this image's own content stream layered over
// lower, per diskchain.Image.
func (img *Image) OpenContent(_ context.Context, lower sparse.Stream, owns ownership.Ownership) (sparse.Stream, error) {
	own := &clusterStream{img: img}
	if lower == nil {
		return own, nil
	}
	return sparse.NewLayeredStream([]sparse.OwnedStream{
		{Stream: own, Owns: ownership.None},
		{Stream: lower, Owns: owns},
	})
}

// Close releases nothing on its own: the backing deviceReader's lifetime
// is the caller's responsibility.
func (img *Image) Close() error { return nil }

////////////////////////////////////////////////////////////////////////////////

// clusterStream is the sparse.Stream view of one QCOW2 extent's own
// content. Normal and zero clusters are served through img.blocks
// exactly like vhd's blockStream; compressed clusters are located via
// img.spill.compressedCache and inflated per read.
type clusterStream struct {
	img *Image
	pos uint64
}

func (c *clusterStream) Len() uint64          { return c.img.header.Size }
func (c *clusterStream) Position() uint64     { return c.pos }
func (c *clusterStream) SetPosition(p uint64) { c.pos = p }
func (c *clusterStream) CanRead() bool        { return true }
func (c *clusterStream) CanWrite() bool       { return false }
func (c *clusterStream) CanSeek() bool        { return true }

func (c *clusterStream) Seek(offset int64, whence int) (uint64, error) {
	var base int64
	switch whence {
	case 0:
		base = 0
	case 1:
		base = int64(c.pos)
	case 2:
		base = int64(c.Len())
	default:
		return 0, direrr.NewNonRetriableErrorf("invalid seek whence %d", whence)
	}
	target := base + offset
	if target < 0 {
		return 0, direrr.NewNonRetriableErrorf("seek before start of stream")
	}
	c.pos = uint64(target)
	return c.pos, nil
}

func (c *clusterStream) StoredRanges() []sparse.Extent {
	return c.ExtentsInRange(0, c.Len())
}

// ExtentsInRange walks the logical block map once via FindExtent rather
// than duplicating extent.Buffer's internal positional bookkeeping.
func (c *clusterStream) ExtentsInRange(start, count uint64) []sparse.Extent {
	var out []sparse.Extent
	var pos uint64
	for pos < c.Len() && pos < start+count {
		loc, err := c.img.blocks.FindExtent(context.Background(), pos)
		if err != nil {
			break
		}
		if loc.Extent.StartBlock != blockHole {
			out = append(out, sparse.Extent{Offset: loc.ExtentLogicalStart, Length: loc.Extent.BlockCount})
		}
		pos = loc.ExtentLogicalStart + loc.Extent.BlockCount
	}
	return clipExtents(out, start, count)
}

func clipExtents(in []sparse.Extent, start, count uint64) []sparse.Extent {
	end := start + count
	var out []sparse.Extent
	for _, e := range in {
		s, e2 := e.Offset, e.Offset+e.Length
		if s < start {
			s = start
		}
		if e2 > end {
			e2 = end
		}
		if s < e2 {
			out = append(out, sparse.Extent{Offset: s, Length: e2 - s})
		}
	}
	return out
}

func (c *clusterStream) ReadAt(ctx context.Context, pos uint64, buf []byte) (int, error) {
	length := c.Len()
	if pos >= length {
		c.pos = pos
		return 0, nil
	}
	if want := uint64(len(buf)); pos+want > length {
		buf = buf[:length-pos]
	}

	var done uint64
	for done < uint64(len(buf)) {
		loc, err := c.img.blocks.FindExtent(ctx, pos+done)
		if err != nil {
			return int(done), err
		}

		extentOffset := pos + done - loc.ExtentLogicalStart
		remaining := uint64(len(buf)) - done
		avail := loc.Extent.BlockCount - extentOffset
		n := avail
		if n > remaining {
			n = remaining
		}

		switch loc.Extent.StartBlock {
		case blockHole:
			for i := uint64(0); i < n; i++ {
				buf[done+i] = 0
			}

		case blockCompressed:
			plain, err := c.inflateCluster(ctx, loc.ExtentLogicalStart)
			if err != nil {
				return int(done), err
			}
			copy(buf[done:done+n], plain[extentOffset:extentOffset+n])

		default:
			deviceOffset := loc.Extent.StartBlock + extentOffset
			if err := readExact(ctx, c.img.dev, deviceOffset, buf[done:done+n]); err != nil {
				return int(done), err
			}
		}

		done += n
	}

	c.pos = pos + done
	return int(done), nil
}

// inflateCluster reads and zlib-inflates the compressed cluster whose
// bounds were recorded in img.spill.compressedCache the moment
// FindExtent last resolved it — that lookup always happens immediately
// before this call, on the same key, so the entry is guaranteed present.
func (c *clusterStream) inflateCluster(ctx context.Context, logicalStart uint64) ([]byte, error) {
	info, ok := c.img.spill.compressedCache[logicalStart]
	if !ok {
		return nil, direrr.NewCorruptError("compressed cluster at %d has no recorded location", logicalStart)
	}

	compressed := make([]byte, info.dataSize)
	if err := readExact(ctx, c.img.dev, info.dataOffset, compressed); err != nil {
		return nil, err
	}

	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, direrr.NewCorruptError("compressed cluster at %d is not valid zlib data: %v", logicalStart, err)
	}
	defer zr.Close()

	plain := make([]byte, c.img.spill.clusterSize)
	if _, err := io.ReadFull(zr, plain); err != nil {
		return nil, direrr.NewCorruptError("compressed cluster at %d decompressed short: %v", logicalStart, err)
	}
	return plain, nil
}

func (c *clusterStream) WriteAt(context.Context, uint64, []byte) (int, error) {
	return 0, direrr.ErrNotWritable
}

func (c *clusterStream) SetLength(context.Context, uint64) error {
	return direrr.ErrNotResizable
}
