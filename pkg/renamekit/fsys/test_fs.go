package fsys

import (
	"bytes"
	"io"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// TestFileSystem is an in-memory FileSystem for tests. It holds files keyed
// by absolute path and can emulate a case-insensitive target filesystem,
// which the OS running the tests may not provide.
type TestFileSystem struct {
	mu            sync.RWMutex
	caseSensitive bool
	files         map[string]*memFile // keyed by folded path
	// RenameHook, when set, runs before every rename and can inject a
	// failure. Used to exercise rollback paths.
	RenameHook func(oldpath, newpath string) error
	// Renames records every successful rename in order.
	Renames [][2]string
}

type memFile struct {
	path    string // path with original casing
	data    []byte
	modTime time.Time
}

// NewTestFileSystem creates an empty case-sensitive in-memory filesystem.
func NewTestFileSystem() *TestFileSystem {
	return &TestFileSystem{caseSensitive: true, files: map[string]*memFile{}}
}

// NewCaseInsensitiveTestFileSystem creates an empty filesystem that treats
// paths differing only by case as the same file.
func NewCaseInsensitiveTestFileSystem() *TestFileSystem {
	return &TestFileSystem{caseSensitive: false, files: map[string]*memFile{}}
}

func (t *TestFileSystem) fold(name string) string {
	if t.caseSensitive {
		return name
	}
	return strings.ToLower(name)
}

// WriteFile creates or replaces a file.
func (t *TestFileSystem) WriteFile(name string, data []byte, modTime time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.files[t.fold(name)] = &memFile{path: name, data: data, modTime: modTime}
}

// Exists reports whether a path resolves to a file.
func (t *TestFileSystem) Exists(name string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.files[t.fold(name)]
	return ok
}

// PathOf returns the stored (original-case) path for name, if present.
func (t *TestFileSystem) PathOf(name string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	f, ok := t.files[t.fold(name)]
	if !ok {
		return "", false
	}
	return f.path, true
}

// Paths returns every stored path, sorted.
func (t *TestFileSystem) Paths() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	paths := make([]string, 0, len(t.files))
	for _, f := range t.files {
		paths = append(paths, f.path)
	}
	sort.Strings(paths)
	return paths
}

// Stat implements StatFS.
func (t *TestFileSystem) Stat(name string) (fs.FileInfo, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	f, ok := t.files[t.fold(name)]
	if !ok {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
	}
	return &memFileInfo{f: f}, nil
}

// Rename implements RenameFS. A case-only rename of an existing file is
// allowed on a case-insensitive filesystem; renaming onto a different
// existing file fails with fs.ErrExist.
func (t *TestFileSystem) Rename(oldpath, newpath string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.RenameHook != nil {
		if err := t.RenameHook(oldpath, newpath); err != nil {
			return err
		}
	}

	oldKey, newKey := t.fold(oldpath), t.fold(newpath)
	f, ok := t.files[oldKey]
	if !ok {
		return &fs.PathError{Op: "rename", Path: oldpath, Err: fs.ErrNotExist}
	}
	if _, exists := t.files[newKey]; exists && oldKey != newKey {
		return &fs.PathError{Op: "rename", Path: newpath, Err: fs.ErrExist}
	}

	delete(t.files, oldKey)
	f.path = newpath
	t.files[newKey] = f
	t.Renames = append(t.Renames, [2]string{oldpath, newpath})
	return nil
}

// Open implements ReadFS.
func (t *TestFileSystem) Open(name string) (fs.File, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	f, ok := t.files[t.fold(name)]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return &memHandle{info: &memFileInfo{f: f}, r: bytes.NewReader(f.data)}, nil
}

type memFileInfo struct {
	f *memFile
}

func (i *memFileInfo) Name() string       { return filepath.Base(i.f.path) }
func (i *memFileInfo) Size() int64        { return int64(len(i.f.data)) }
func (i *memFileInfo) Mode() fs.FileMode  { return 0644 }
func (i *memFileInfo) ModTime() time.Time { return i.f.modTime }
func (i *memFileInfo) IsDir() bool        { return false }
func (i *memFileInfo) Sys() interface{}   { return nil }

type memHandle struct {
	info *memFileInfo
	r    *bytes.Reader
}

func (h *memHandle) Stat() (fs.FileInfo, error) { return h.info, nil }
func (h *memHandle) Read(p []byte) (int, error) { return h.r.Read(p) }
func (h *memHandle) Close() error               { return nil }

var _ FileSystem = (*TestFileSystem)(nil)
var _ io.Reader = (*memHandle)(nil)
