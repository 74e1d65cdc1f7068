package vhd

import (
	"testing"

	"github.com/stretchr/testify/require"
)

////////////////////////////////////////////////////////////////////////////////

// TestParentLocatorDecodesRelativeWindowsRecord covers a relative
// Windows parent-locator record: platform code "W2ru", data space 512,
// data length 100, data offset 0x1800.
func TestParentLocatorDecodesRelativeWindowsRecord(t *testing.T) {
	b := []byte{
		0x57, 0x32, 0x72, 0x75, // "W2ru"
		0x00, 0x00, 0x02, 0x00, // PlatformDataSpace = 512
		0x00, 0x00, 0x00, 0x64, // PlatformDataLength = 100
		0x00, 0x00, 0x00, 0x00, // reserved
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x18, 0x00, // PlatformDataOffset = 0x1800
	}

	var loc ParentLocator
	n, err := loc.ReadFrom(b)
	require.NoError(t, err)
	require.Equal(t, parentLocatorSize, n)

	require.Equal(t, PlatformCodeRelativeCwd, string(loc.PlatformCode[:]))
	require.Equal(t, uint32(512), loc.PlatformDataSpace)
	require.Equal(t, uint32(100), loc.PlatformDataLength)
	require.Equal(t, int64(0x1800), loc.PlatformDataOffset)
	require.True(t, loc.Populated())
}

func TestParentLocatorUnpopulatedSlot(t *testing.T) {
	b := make([]byte, parentLocatorSize)
	var loc ParentLocator
	_, err := loc.ReadFrom(b)
	require.NoError(t, err)
	require.False(t, loc.Populated())
}

func TestParentLocatorRejectsShortBuffer(t *testing.T) {
	var loc ParentLocator
	_, err := loc.ReadFrom(make([]byte, 10))
	require.Error(t, err)
}
