// Package fsys defines the filesystem surface the rename engine depends on.
// Everything operates on absolute paths; the engine never walks trees or
// creates directories, it only inspects, reads and renames files.
package fsys

import "io/fs"

// StatFS provides metadata lookups.
type StatFS interface {
	Stat(name string) (fs.FileInfo, error)
}

// RenameFS provides the single mutating operation the engine issues.
type RenameFS interface {
	Rename(oldpath, newpath string) error
}

// ReadFS provides content access, used by hash-computing providers only.
type ReadFS interface {
	Open(name string) (fs.File, error)
}

// FileSystem combines everything the engine and its providers need.
type FileSystem interface {
	StatFS
	RenameFS
	ReadFS
}
