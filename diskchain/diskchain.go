// Package diskchain resolves a disk image's parent chain — a
// differencing image plus zero or more ancestor images reached through
// on-disk "parent locator" hints — into one logical content stream,
// and carries the ownership discipline that lets several children
// share the same parent image safely.
package diskchain

import (
	"context"
	"io"

	"github.com/google/uuid"

	"github.com/discore/discore/direrr"
	"github.com/discore/discore/ownership"
	"github.com/discore/discore/sparse"
)

////////////////////////////////////////////////////////////////////////////////

// Geometry is the CHS geometry a format header may record alongside a
// disk's byte capacity (grounded on the VHD footer's Cylinders/Heads/
// SectorsPerTrack fields). Purely informational to this package.
type Geometry struct {
	Cylinders       uint16
	HeadsPerCyl     uint8
	SectorsPerTrack uint8
}

// ImageInfo is the format-agnostic metadata every Image advertises about
// itself, independent of which on-disk layout produced it.
type ImageInfo struct {
	UniqueID       uuid.UUID
	ParentUniqueID uuid.UUID
	NeedsParent    bool
	Capacity       uint64
	Geometry       *Geometry
}

////////////////////////////////////////////////////////////////////////////////

// Image is one opened disk-image file, format-specific parsing already
// done, ready to take part in chain resolution.
type Image interface {
	Info() ImageInfo

	// FullPath is used only for diagnostics (error messages, trace
	// records), never for I/O.
	FullPath() string

	// ParentLocationHints returns this image's parent-locator hints in
	// the order they should be tried, empty if Info().NeedsParent is
	// false.
	ParentLocationHints() []string

	// OpenContent returns this image's own C3 stream, layered over
	// lower (nil for a root image with no parent). owns tags the edge
	// from the returned stream down to lower.
	OpenContent(ctx context.Context, lower sparse.Stream, owns ownership.Ownership) (sparse.Stream, error)

	io.Closer
}

////////////////////////////////////////////////////////////////////////////////

// HostStream is the byte-stream capability a FileLocator hands back for
// an opened path (the "byte-stream capability consumed from the
// host"): a sparse.Stream that also owns an OS-level handle.
type HostStream interface {
	sparse.Stream
	io.Closer
}

// FileLocator is the chain resolver's only way of turning a parent hint
// into bytes. Implementations live in package
// hoststream.
type FileLocator interface {
	Exists(ctx context.Context, relativePath string) bool
	Open(ctx context.Context, relativePath string) (HostStream, error)

	// ResolveAbsolute is informational, used only to build error
	// messages and trace records.
	ResolveAbsolute(relativePath string) string
}

////////////////////////////////////////////////////////////////////////////////

// OwnedImage pairs an Image with the ownership tag its holder applies
// at teardown.
type OwnedImage struct {
	Image Image
	Owns  ownership.Ownership
}

// Chain is a resolved disk chain, ordered from the leaf (index 0, the
// image a caller originally opened) to the root ancestor (last index).
type Chain []OwnedImage

// ContentStream assembles the chain's single logical C3 stream,
// building bottom-up (root first) so each image's OpenContent receives
// the stream of everything beneath it, per the closing
// paragraph.
func (c Chain) ContentStream(ctx context.Context) (sparse.Stream, error) {
	if len(c) == 0 {
		return nil, direrr.NewNonRetriableErrorf("cannot open content stream of an empty chain")
	}

	var lower sparse.Stream
	for i := len(c) - 1; i >= 0; i-- {
		s, err := c[i].Image.OpenContent(ctx, lower, ownership.Dispose)
		if err != nil {
			return nil, err
		}
		lower = s
	}
	return lower, nil
}

// Close releases every image whose ownership tag is Dispose, leaf-first
// to match the order a caller acquired them in.
func (c Chain) Close() error {
	var firstErr error
	for _, oi := range c {
		if err := ownership.Release(oi.Image, oi.Owns); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
