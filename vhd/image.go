package vhd

import (
	"context"

	"github.com/discore/discore/codec"
	"github.com/discore/discore/diskchain"
	"github.com/discore/discore/direrr"
	"github.com/discore/discore/extent"
	"github.com/discore/discore/ownership"
	"github.com/discore/discore/sparse"
)

////////////////////////////////////////////////////////////////////////////////

// deviceReader is the narrow slice of sparse.Stream image parsing
// needs: random-access reads of an already-opened backing file.
type deviceReader interface {
	ReadAt(ctx context.Context, pos uint64, buf []byte) (int, error)
}

// readExact fills buf entirely or fails, since every VHD structure read
// (footer, header, BAT, parent-locator text) is fixed-size and a short
// read always means the file is truncated.
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

// Image opens and parses a dynamic or differencing VHD file into the
// footer, header, and BAT-derived block map diskchain.Resolver needs to
// place it in a parent chain.
type Image struct {
	path string
	dev  deviceReader

	footer Footer
	header Header
	blocks *extent.Buffer
}

// Open parses footer, header, and BAT from dev. path is retained only
// for diagnostics.
func Open(ctx context.Context, path string, dev deviceReader) (*Image, error) {
	img := &Image{path: path, dev: dev}

	footerBuf := make([]byte, footerSize)
	if err := readExact(ctx, dev, 0, footerBuf); err != nil {
		return nil, err
	}
	if _, err := img.footer.ReadFrom(footerBuf); err != nil {
		return nil, err
	}
	if err := img.footer.Validate(); err != nil {
		return nil, err
	}

	headerBuf := make([]byte, headerSize)
	if err := readExact(ctx, dev, headerOffset, headerBuf); err != nil {
		return nil, err
	}
	if _, err := img.header.ReadFrom(headerBuf); err != nil {
		return nil, err
	}
	if err := img.header.Validate(); err != nil {
		return nil, err
	}

	bat, err := readBAT(ctx, dev, &img.header)
	if err != nil {
		return nil, err
	}
	img.blocks = buildExtentBuffer(path, bat, img.header.BlockSize, img.footer.CurrentSize)

	return img, nil
}

////////////////////////////////////////////////////////////////////////////////

func (img *Image) Info() diskchain.ImageInfo {
	return diskchain.ImageInfo{
		UniqueID:       img.footer.UniqueID,
		ParentUniqueID: img.header.ParentUniqueID,
		NeedsParent:    img.header.NeedsParent(),
		Capacity:       img.footer.CurrentSize,
	}
}

func (img *Image) FullPath() string { return img.path }

// ParentLocationHints reads the UTF-16LE path text named by each
// populated parent-locator slot's PlatformDataOffset/PlatformDataLength
// — the text lives in the file, not in the 24-byte locator record
// itself, so this method (unlike Header.ReadFrom) needs the device
// stream. Relative-path hints ("W2ru") are tried before absolute ones
// ("W2ku"), since a relative path survives the image being moved
// alongside its parent.
func (img *Image) ParentLocationHints() []string {
	var relative, absolute []string
	for _, loc := range img.header.ParentLocatorEntries {
		if !loc.Populated() {
			continue
		}

		code := string(loc.PlatformCode[:])
		if code != PlatformCodeRelativeCwd && code != PlatformCodeAbsoluteCwd {
			continue
		}

		text := make([]byte, loc.PlatformDataLength)
		if err := readExact(context.Background(), img.dev, uint64(loc.PlatformDataOffset), text); err != nil {
			continue // an unreadable locator slot is skipped, not fatal
		}
		path, err := codec.ReadUTF16LE(text, true)
		if err != nil {
			continue
		}

		if code == PlatformCodeRelativeCwd {
			relative = append(relative, path)
		} else {
			absolute = append(absolute, path)
		}
	}
	return append(relative, absolute...)
}

////////////////////////////////////////////////////////////////////////////////

// OpenContent returns this image's own content stream layered over
// lower, per diskchain.Image.
func (img *Image) OpenContent(_ context.Context, lower sparse.Stream, owns ownership.Ownership) (sparse.Stream, error) {
	own := &blockStream{img: img}
	if lower == nil {
		return own, nil
	}
	return sparse.NewLayeredStream([]sparse.OwnedStream{
		{Stream: own, Owns: ownership.None},
		{Stream: lower, Owns: owns},
	})
}

// Close releases nothing on its own: the backing deviceReader's
// lifetime is the caller's responsibility (it may be a shared
// hoststream.HostStream the FileLocator, not this Image, owns).
func (img *Image) Close() error { return nil }

////////////////////////////////////////////////////////////////////////////////

// blockStream is the sparse.Stream view of one VHD file's own content,
// translating logical byte offsets through img.blocks and reading holes
// as zero instead of surfacing direrr.MissingExtentError, since an
// unallocated VHD block is a legitimate hole, not a corrupt map.
type blockStream struct {
	img *Image
	pos uint64
}

func (b *blockStream) Len() uint64          { return b.img.footer.CurrentSize }
func (b *blockStream) Position() uint64     { return b.pos }
func (b *blockStream) SetPosition(p uint64) { b.pos = p }
func (b *blockStream) CanRead() bool        { return true }
func (b *blockStream) CanWrite() bool       { return false }
func (b *blockStream) CanSeek() bool        { return true }

func (b *blockStream) Seek(offset int64, whence int) (uint64, error) {
	var base int64
	switch whence {
	case 0:
		base = 0
	case 1:
		base = int64(b.pos)
	case 2:
		base = int64(b.Len())
	default:
		return 0, direrr.NewNonRetriableErrorf("invalid seek whence %d", whence)
	}
	target := base + offset
	if target < 0 {
		return 0, direrr.NewNonRetriableErrorf("seek before start of stream")
	}
	b.pos = uint64(target)
	return b.pos, nil
}

func (b *blockStream) StoredRanges() []sparse.Extent {
	return b.ExtentsInRange(0, b.Len())
}

// ExtentsInRange walks the logical block map once via FindExtent rather
// than duplicating extent.Buffer's internal positional bookkeeping,
// which would drift if that algorithm ever changed.
func (b *blockStream) ExtentsInRange(start, count uint64) []sparse.Extent {
	var out []sparse.Extent
	var pos uint64
	for pos < b.Len() && pos < start+count {
		loc, err := b.img.blocks.FindExtent(context.Background(), pos)
		if err != nil {
			break
		}
		runEnd := loc.ExtentLogicalStart + loc.Extent.BlockCount
		if loc.Extent.StartBlock != blockHole {
			out = append(out, sparse.Extent{Offset: loc.ExtentLogicalStart, Length: loc.Extent.BlockCount})
		}
		pos = runEnd
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

func (b *blockStream) ReadAt(ctx context.Context, pos uint64, buf []byte) (int, error) {
	length := b.img.footer.CurrentSize
	if pos >= length {
		b.pos = pos
		return 0, nil
	}
	if want := uint64(len(buf)); pos+want > length {
		buf = buf[:length-pos]
	}

	var done uint64
	for done < uint64(len(buf)) {
		loc, err := b.img.blocks.FindExtent(ctx, pos+done)
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

		if loc.Extent.StartBlock == blockHole {
			for i := uint64(0); i < n; i++ {
				buf[done+i] = 0
			}
		} else {
			deviceOffset := loc.Extent.StartBlock + extentOffset
			if err := readExact(ctx, b.img.dev, deviceOffset, buf[done:done+n]); err != nil {
				return int(done), err
			}
		}

		done += n
	}

	b.pos = pos + done
	return int(done), nil
}

func (b *blockStream) WriteAt(context.Context, uint64, []byte) (int, error) {
	return 0, direrr.ErrNotWritable
}

func (b *blockStream) SetLength(context.Context, uint64) error {
	return direrr.ErrNotResizable
}
