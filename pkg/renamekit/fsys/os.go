package fsys

import (
	"io/fs"
	"os"
)

// OSFileSystem implements FileSystem against the real operating system.
type OSFileSystem struct{}

// NewOSFileSystem creates a filesystem backed by the os package.
func NewOSFileSystem() *OSFileSystem {
	return &OSFileSystem{}
}

// Stat returns file info for the given absolute path.
func (o *OSFileSystem) Stat(name string) (fs.FileInfo, error) {
	return os.Stat(name)
}

// Rename renames (moves) oldpath to newpath.
func (o *OSFileSystem) Rename(oldpath, newpath string) error {
	return os.Rename(oldpath, newpath)
}

// Open opens the named file for reading.
func (o *OSFileSystem) Open(name string) (fs.File, error) {
	return os.Open(name)
}
