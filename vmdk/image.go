package vmdk

import (
	"bytes"
	"compress/zlib"
	"context"
	"io"

	"github.com/discore/discore/diskchain"
	"github.com/discore/discore/direrr"
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
// reads (header, grain directory, grain table, grain marker) is
// fixed-size, so a short read always means the file is truncated.
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

// Image opens and parses a monolithic sparse or stream-optimized VMDK
// file into the header and grain-derived block map diskchain.Resolver
// needs to place it in a parent chain.
type Image struct {
	path string
	dev  deviceReader

	header header
	grains *grainMap
}

// Open reads the sparse extent header (following the footer redirect
// when GdOffset reads gdReadFooter) and walks the grain directory.
func Open(ctx context.Context, path string, dev deviceReader, fileSize uint64) (*Image, error) {
	img := &Image{path: path, dev: dev}

	buf := make([]byte, headerSize)
	if err := readExact(ctx, dev, 0, buf); err != nil {
		return nil, err
	}
	if _, err := img.header.ReadFrom(buf); err != nil {
		return nil, err
	}
	if err := img.header.validate(); err != nil {
		return nil, err
	}

	if img.header.GdOffset == sectors(gdReadFooter) {
		if fileSize < 2*sectorSize {
			return nil, direrr.NewCorruptError("vmdk file too small to hold a footer header")
		}
		footerBuf := make([]byte, headerSize)
		if err := readExact(ctx, dev, fileSize-2*sectorSize, footerBuf); err != nil {
			return nil, err
		}
		var footer header
		if _, err := footer.ReadFrom(footerBuf); err != nil {
			return nil, err
		}
		if err := footer.validate(); err != nil {
			return nil, err
		}
		img.header = footer
	}

	grains, err := buildGrainMap(ctx, dev, path, &img.header)
	if err != nil {
		return nil, err
	}
	img.grains = grains

	return img, nil
}

////////////////////////////////////////////////////////////////////////////////

// Info reports a synthesized identity: VMDK has no on-disk unique ID
// comparable to a VHD footer's UniqueID, and parent linkage lives in the
// descriptor file's "parentFileNameHint"/"parentCID" text, not a binary
// header field, so both are left to the descriptor-file layer above this
// package.
func (img *Image) Info() diskchain.ImageInfo {
	return diskchain.ImageInfo{
		Capacity: img.header.Capacity.bytes(),
	}
}

func (img *Image) FullPath() string { return img.path }

// ParentLocationHints returns nothing: a monolithic sparse extent header
// carries no parent reference of its own. VMDK's parent chain is
// recorded in the descriptor file that names this extent, which is
// outside a sparse extent header's byte layout and therefore outside
// this package's scope.
func (img *Image) ParentLocationHints() []string { return nil }

// OpenContent returns this image's own content stream layered over
// lower, per diskchain.Image.
func (img *Image) OpenContent(_ context.Context, lower sparse.Stream, owns ownership.Ownership) (sparse.Stream, error) {
	own := &grainStream{img: img}
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

// grainStream is the sparse.Stream view of one VMDK extent's own
// content. Raw grains are served through img.grains.raw exactly like
// vhd's blockStream; compressed grains are located in img.grains.grains
// and inflated per read, since their variable size rules out the
// uniform-stride extent.Buffer model raw grains use.
type grainStream struct {
	img *Image
	pos uint64
}

func (g *grainStream) Len() uint64          { return g.img.header.Capacity.bytes() }
func (g *grainStream) Position() uint64     { return g.pos }
func (g *grainStream) SetPosition(p uint64) { g.pos = p }
func (g *grainStream) CanRead() bool        { return true }
func (g *grainStream) CanWrite() bool       { return false }
func (g *grainStream) CanSeek() bool        { return true }

func (g *grainStream) Seek(offset int64, whence int) (uint64, error) {
	var base int64
	switch whence {
	case 0:
		base = 0
	case 1:
		base = int64(g.pos)
	case 2:
		base = int64(g.Len())
	default:
		return 0, direrr.NewNonRetriableErrorf("invalid seek whence %d", whence)
	}
	target := base + offset
	if target < 0 {
		return 0, direrr.NewNonRetriableErrorf("seek before start of stream")
	}
	g.pos = uint64(target)
	return g.pos, nil
}

func (g *grainStream) StoredRanges() []sparse.Extent {
	return g.ExtentsInRange(0, g.Len())
}

// ExtentsInRange reports raw-grain extents from the buffer's own walk
// when uncompressed, or the compressed grain list's logical spans when
// compressed — a compressed image's grains are, by construction, never
// physically mergeable, but they are still contiguous logical ranges of
// stored (non-zero) data worth reporting.
func (g *grainStream) ExtentsInRange(start, count uint64) []sparse.Extent {
	end := start + count
	var out []sparse.Extent

	if !g.img.grains.compressed {
		var pos uint64
		for pos < g.Len() && pos < end {
			loc, err := g.img.grains.raw.FindExtent(context.Background(), pos)
			if err != nil {
				break
			}
			if loc.Extent.StartBlock != blockHole {
				out = append(out, sparse.Extent{Offset: loc.ExtentLogicalStart, Length: loc.Extent.BlockCount})
			}
			pos = loc.ExtentLogicalStart + loc.Extent.BlockCount
		}
	} else {
		for _, gr := range g.img.grains.grains {
			out = append(out, sparse.Extent{Offset: gr.logicalStart, Length: gr.logicalSize})
		}
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

func (g *grainStream) ReadAt(ctx context.Context, pos uint64, buf []byte) (int, error) {
	length := g.Len()
	if pos >= length {
		g.pos = pos
		return 0, nil
	}
	if want := uint64(len(buf)); pos+want > length {
		buf = buf[:length-pos]
	}

	var done uint64
	var err error
	if g.img.grains.compressed {
		done, err = g.readCompressed(ctx, pos, buf)
	} else {
		done, err = g.readRaw(ctx, pos, buf)
	}
	g.pos = pos + done
	return int(done), err
}

// readRaw walks the byte-granular extent.Buffer exactly like vhd's
// blockStream.ReadAt, zero-filling holes.
func (g *grainStream) readRaw(ctx context.Context, pos uint64, buf []byte) (uint64, error) {
	var done uint64
	for done < uint64(len(buf)) {
		loc, err := g.img.grains.raw.FindExtent(ctx, pos+done)
		if err != nil {
			return done, err
		}

		extentOffset := pos + done - loc.ExtentLogicalStart
		remaining := uint64(len(buf)) - done
		avail := loc.Extent.BlockCount - extentOffset
		n := avail
		if n > remaining {
			n = remaining
		}

		if loc.Extent.StartBlock == blockHole {
			for i := uint64(0); i < n; i++ {
				buf[done+i] = 0
			}
		} else {
			deviceOffset := loc.Extent.StartBlock + extentOffset
			if err := readExact(ctx, g.img.dev, deviceOffset, buf[done:done+n]); err != nil {
				return done, err
			}
		}

		done += n
	}
	return done, nil
}

// readCompressed serves one read by inflating whichever grains overlap
// [pos, pos+len(buf)) one at a time — a grain's compressed size bears no
// relation to its neighbors', so each is decompressed independently and
// the requested slice copied out of it. Positions not covered by any
// grain fall in a zero (never-written) grain and read as zero.
func (g *grainStream) readCompressed(ctx context.Context, pos uint64, buf []byte) (uint64, error) {
	var done uint64
	for done < uint64(len(buf)) {
		cur := pos + done
		grain, ok := findCompressedGrain(g.img.grains.grains, cur)
		if !ok {
			buf[done] = 0
			done++
			continue
		}

		plain, err := g.inflateGrain(ctx, grain)
		if err != nil {
			return done, err
		}

		grainOffset := cur - grain.logicalStart
		n := uint64(len(plain)) - grainOffset
		if remaining := uint64(len(buf)) - done; n > remaining {
			n = remaining
		}
		copy(buf[done:done+n], plain[grainOffset:grainOffset+n])
		done += n
	}
	return done, nil
}

// inflateGrain reads a compressed grain's raw bytes and zlib-inflates
// them. Every VMDK compressed grain uses zlib framing (a two-byte header
// plus a raw deflate stream and Adler-32 trailer), not bare deflate.
func (g *grainStream) inflateGrain(ctx context.Context, grain compressedGrain) ([]byte, error) {
	compressed := make([]byte, grain.dataSize)
	if err := readExact(ctx, g.img.dev, grain.dataOffset, compressed); err != nil {
		return nil, err
	}

	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, direrr.NewCorruptError("grain at offset %d is not valid zlib data: %v", grain.dataOffset, err)
	}
	defer zr.Close()

	plain := make([]byte, grain.logicalSize)
	if _, err := io.ReadFull(zr, plain); err != nil {
		return nil, direrr.NewCorruptError("grain at offset %d decompressed short: %v", grain.dataOffset, err)
	}
	return plain, nil
}

func (g *grainStream) WriteAt(context.Context, uint64, []byte) (int, error) {
	return 0, direrr.ErrNotWritable
}

func (g *grainStream) SetLength(context.Context, uint64) error {
	return direrr.ErrNotResizable
}
