package hoststream

import (
	"context"
	"os"
	"path/filepath"

	"github.com/discore/discore/diskchain"
)

////////////////////////////////////////////////////////////////////////////////

// LocalLocator implements diskchain.FileLocator against a base
// directory on the local filesystem: parent-locator hints are resolved
// relative to BaseDir, matching how a VHD's "Windows relative" parent
// locator is meant to be interpreted relative to the child file's own
// directory.
type LocalLocator struct {
	BaseDir string
}

func NewLocalLocator(baseDir string) *LocalLocator {
	return &LocalLocator{BaseDir: baseDir}
}

func (l *LocalLocator) Exists(_ context.Context, relativePath string) bool {
	_, err := os.Stat(l.ResolveAbsolute(relativePath))
	return err == nil
}

func (l *LocalLocator) Open(_ context.Context, relativePath string) (diskchain.HostStream, error) {
	return OpenFileStream(l.ResolveAbsolute(relativePath), false)
}

func (l *LocalLocator) ResolveAbsolute(relativePath string) string {
	if filepath.IsAbs(relativePath) {
		return relativePath
	}
	return filepath.Join(l.BaseDir, relativePath)
}
