package vhd

import (
	"github.com/discore/discore/codec"
	"github.com/discore/discore/direrr"
)

////////////////////////////////////////////////////////////////////////////////

const parentLocatorSize = 24

// Locator platform codes recognized when resolving a differencing disk's
// parent.
const (
	PlatformCodeRelativeCwd = "W2ru"
	PlatformCodeAbsoluteCwd = "W2ku"
)

// ParentLocator is one of a header's 8 parent-locator records. It names
// where in the file the platform-specific path text lives
// (PlatformDataOffset/PlatformDataLength); the text itself is UTF-16LE
// and must be read from the device stream by the caller, since a
// ParentLocator on its own has no stream to read from.
type ParentLocator struct {
	PlatformCode       [4]byte
	PlatformDataSpace  uint32
	PlatformDataLength uint32
	PlatformDataOffset int64
}

func (l *ParentLocator) SizeBytes() int { return parentLocatorSize }

func (l *ParentLocator) ReadFrom(b []byte) (int, error) {
	if err := need(b, parentLocatorSize); err != nil {
		return 0, err
	}

	tag, err := codec.ReadLatin1Tag(b[0:4])
	if err != nil {
		return 0, direrr.NewCorruptError("vhd parent locator platform code: %s", err)
	}
	copy(l.PlatformCode[:], tag)

	if l.PlatformDataSpace, err = codec.ReadUint32BE(b[4:8]); err != nil {
		return 0, err
	}
	if l.PlatformDataLength, err = codec.ReadUint32BE(b[8:12]); err != nil {
		return 0, err
	}
	// b[12:16] is reserved.
	if l.PlatformDataOffset, err = codec.ReadInt64BE(b[16:24]); err != nil {
		return 0, err
	}

	return parentLocatorSize, nil
}

// Populated reports whether this slot names a real locator record.
func (l *ParentLocator) Populated() bool {
	return l.PlatformDataLength > 0
}
