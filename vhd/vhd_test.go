package vhd

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/discore/discore/codec"
	"github.com/discore/discore/ownership"
)

////////////////////////////////////////////////////////////////////////////////

// memDevice is a deviceReader backed by a plain byte slice, standing in
// for a hoststream.FileStream in tests that only need ReadAt.
type memDevice struct {
	data []byte
}

func (m *memDevice) ReadAt(_ context.Context, pos uint64, buf []byte) (int, error) {
	if pos >= uint64(len(m.data)) {
		return 0, nil
	}
	n := copy(buf, m.data[pos:])
	return n, nil
}

////////////////////////////////////////////////////////////////////////////////

const (
	testBlockSize   = uint32(4096)
	testCapacity    = uint64(8192)
	testTableOffset = uint64(1536)
	testBatEntry0   = uint32(4) // sector 4 -> bitmap at byte 2048
)

func mustWrite(t *testing.T, buf []byte, off int, v []byte) {
	t.Helper()
	require.LessOrEqual(t, off+len(v), len(buf))
	copy(buf[off:], v)
}

// buildDynamicVHD assembles a minimal, well-formed dynamic-disk VHD byte
// image: two logical blocks, the first allocated and pattern-filled, the
// second left unallocated (a hole). If parentID is non-nil the header is
// built as a differencing disk instead, naming one relative-path parent
// locator whose text is appended after the block data.
func buildDynamicVHD(t *testing.T, parentID *uuid.UUID, parentHintPath string) ([]byte, uuid.UUID) {
	t.Helper()

	buf := make([]byte, 16*1024)
	uniqueID := uuid.New()

	// Footer at offset 0.
	mustWrite(t, buf, 0, []byte(footerCookie))
	mustWrite(t, buf, 12, be32(fileFormatVersion))
	mustWrite(t, buf, 48, be64(testCapacity))
	mustWrite(t, buf, 56, be32(0))
	diskType := dynamicHardDiskType
	mustWrite(t, buf, 60, be32(diskType))
	gid, err := beGUID(uniqueID)
	require.NoError(t, err)
	mustWrite(t, buf, 68, gid)

	// Header at headerOffset (== footerSize).
	mustWrite(t, buf, int(headerOffset), []byte(headerCookie))
	mustWrite(t, buf, int(headerOffset)+24, be32(headerVersion))
	mustWrite(t, buf, int(headerOffset)+16, be64(testTableOffset))
	mustWrite(t, buf, int(headerOffset)+28, be32(2)) // MaxTableEntries
	mustWrite(t, buf, int(headerOffset)+32, be32(testBlockSize))

	if parentID != nil {
		pgid, err := beGUID(*parentID)
		require.NoError(t, err)
		mustWrite(t, buf, int(headerOffset)+40, pgid)

		// First parent-locator slot: "W2ru" relative path.
		locSlot := int(headerOffset) + 576
		mustWrite(t, buf, locSlot, []byte(PlatformCodeRelativeCwd))

		pathUTF16 := make([]byte, 256)
		require.NoError(t, codec.WriteUTF16LE(pathUTF16, parentHintPath))
		trimmed := trimUTF16Padding(pathUTF16)

		dataOffset := uint64(len(buf) - 512)
		mustWrite(t, buf, locSlot+4, be32(512))
		mustWrite(t, buf, locSlot+8, be32(uint32(len(trimmed))))
		mustWrite(t, buf, locSlot+16, be64(dataOffset))
		mustWrite(t, buf, int(dataOffset), trimmed)
	}

	// BAT: two entries.
	mustWrite(t, buf, int(testTableOffset), be32(testBatEntry0))
	mustWrite(t, buf, int(testTableOffset)+4, be32(unusedTableEntry))

	// Block 0's data section: bitmap at sector 4 (byte 2048), sector
	// padded bitmap size 512, so data starts at 2560.
	dataStart := 2560
	pattern := make([]byte, testBlockSize)
	for i := range pattern {
		pattern[i] = byte(i % 256)
	}
	mustWrite(t, buf, dataStart, pattern)

	return buf, uniqueID
}

func be32(v uint32) []byte {
	b := make([]byte, 4)
	_ = codec.WriteUint32BE(b, v)
	return b
}

func be64(v uint64) []byte {
	b := make([]byte, 8)
	_ = codec.WriteUint64BE(b, v)
	return b
}

func beGUID(id uuid.UUID) ([]byte, error) {
	b := make([]byte, 16)
	if err := codec.WriteGUIDBigEndian(b, id); err != nil {
		return nil, err
	}
	return b, nil
}

func trimUTF16Padding(b []byte) []byte {
	end := len(b)
	for end >= 2 && b[end-2] == 0 && b[end-1] == 0 {
		end -= 2
	}
	return b[:end]
}

////////////////////////////////////////////////////////////////////////////////

func TestOpenParsesFooterHeaderAndBAT(t *testing.T) {
	ctx := context.Background()
	raw, uniqueID := buildDynamicVHD(t, nil, "")
	dev := &memDevice{data: raw}

	img, err := Open(ctx, "disk.vhd", dev)
	require.NoError(t, err)

	info := img.Info()
	require.Equal(t, uniqueID, info.UniqueID)
	require.False(t, info.NeedsParent)
	require.Equal(t, testCapacity, info.Capacity)
}

func TestBlockStreamReadsAllocatedBlockAndZerosHole(t *testing.T) {
	ctx := context.Background()
	raw, _ := buildDynamicVHD(t, nil, "")
	dev := &memDevice{data: raw}

	img, err := Open(ctx, "disk.vhd", dev)
	require.NoError(t, err)

	content, err := img.OpenContent(ctx, nil, ownership.None)
	require.NoError(t, err)
	require.Equal(t, testCapacity, content.Len())

	block0 := make([]byte, testBlockSize)
	n, err := content.ReadAt(ctx, 0, block0)
	require.NoError(t, err)
	require.Equal(t, int(testBlockSize), n)
	for i, b := range block0 {
		require.Equal(t, byte(i%256), b)
	}

	block1 := make([]byte, testBlockSize)
	n, err = content.ReadAt(ctx, uint64(testBlockSize), block1)
	require.NoError(t, err)
	require.Equal(t, int(testBlockSize), n)
	for _, b := range block1 {
		require.Equal(t, byte(0), b)
	}
}

func TestParentLocationHintsDecodesRelativePath(t *testing.T) {
	ctx := context.Background()
	parentID := uuid.New()
	raw, _ := buildDynamicVHD(t, &parentID, "../base.vhd")
	dev := &memDevice{data: raw}

	img, err := Open(ctx, "child.vhd", dev)
	require.NoError(t, err)

	info := img.Info()
	require.True(t, info.NeedsParent)
	require.Equal(t, parentID, info.ParentUniqueID)

	hints := img.ParentLocationHints()
	require.Equal(t, []string{"../base.vhd"}, hints)
}
