package hoststream

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

////////////////////////////////////////////////////////////////////////////////

func TestLocalLocatorExistsAndOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "base.vhd"), []byte("parent"), 0o644))

	locator := NewLocalLocator(dir)

	require.True(t, locator.Exists(ctx, "base.vhd"))
	require.False(t, locator.Exists(ctx, "missing.vhd"))

	stream, err := locator.Open(ctx, "base.vhd")
	require.NoError(t, err)
	defer stream.Close()
	require.Equal(t, uint64(len("parent")), stream.Len())
}

func TestLocalLocatorResolveAbsolute(t *testing.T) {
	locator := NewLocalLocator("/images")

	require.Equal(t, "/images/child/base.vhd", locator.ResolveAbsolute("child/base.vhd"))
	require.Equal(t, "/elsewhere/base.vhd", locator.ResolveAbsolute("/elsewhere/base.vhd"))
}
