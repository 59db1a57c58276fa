// Package fsutil provides filesystem abstractions for testability.
package fsutil

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// FileSystem abstracts filesystem operations for testability.
// Use OSFileSystem for production; MemoryFileSystem for testing.
type FileSystem interface {
	// Open opens the named file for reading.
	Open(name string) (fs.File, error)

	// Create creates or truncates the named file.
	Create(name string) (io.WriteCloser, error)

	// ReadFile reads the named file and returns its contents.
	ReadFile(name string) ([]byte, error)

	// WriteFile writes data to the named file, creating it if necessary.
	WriteFile(name string, data []byte, perm os.FileMode) error

	// Stat returns a FileInfo describing the named file.
	Stat(name string) (fs.FileInfo, error)

	// MkdirAll creates a directory and all necessary parents.
	MkdirAll(path string, perm os.FileMode) error

	// Remove removes the named file or empty directory.
	Remove(name string) error

	// Rename moves oldpath to newpath. Directories are moved with their contents.
	Rename(oldpath, newpath string) error

	// WalkDir walks the tree rooted at root in lexical order, calling fn for
	// each file or directory, with the semantics of filepath.WalkDir.
	WalkDir(root string, fn fs.WalkDirFunc) error

	// Exists checks if a file or directory exists.
	Exists(name string) bool
}

// OSFileSystem implements FileSystem using the os package.
type OSFileSystem struct{}

// Open opens the named file.
func (OSFileSystem) Open(name string) (fs.File, error) {
	return os.Open(name)
}

// Create creates the named file.
func (OSFileSystem) Create(name string) (io.WriteCloser, error) {
	return os.Create(name)
}

// ReadFile reads the named file.
func (OSFileSystem) ReadFile(name string) ([]byte, error) {
	return os.ReadFile(name)
}

// WriteFile writes data to the named file.
func (OSFileSystem) WriteFile(name string, data []byte, perm os.FileMode) error {
	return os.WriteFile(name, data, perm)
}

// Stat returns file info for the named file.
func (OSFileSystem) Stat(name string) (fs.FileInfo, error) {
	return os.Stat(name)
}

// MkdirAll creates a directory path.
func (OSFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

// Remove removes the named file or directory.
func (OSFileSystem) Remove(name string) error {
	return os.Remove(name)
}

// Rename renames oldpath to newpath.
func (OSFileSystem) Rename(oldpath, newpath string) error {
	return os.Rename(oldpath, newpath)
}

// WalkDir walks the tree rooted at root.
func (OSFileSystem) WalkDir(root string, fn fs.WalkDirFunc) error {
	return filepath.WalkDir(root, fn)
}

// Exists checks if a file exists.
func (OSFileSystem) Exists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

// MemoryFileSystem provides an in-memory filesystem for testing.
type MemoryFileSystem struct {
	mu    sync.RWMutex
	files map[string]*memFile
	dirs  map[string]bool
}

type memFile struct {
	data []byte
	mode os.FileMode
}

// NewMemoryFileSystem creates a new in-memory filesystem.
func NewMemoryFileSystem() *MemoryFileSystem {
	return &MemoryFileSystem{
		files: make(map[string]*memFile),
		dirs:  make(map[string]bool),
	}
}

// Open opens a file for reading.
func (m *MemoryFileSystem) Open(name string) (fs.File, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	name = filepath.Clean(name)
	f, ok := m.files[name]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}

	return &memFileReader{
		name: name,
		data: f.data,
	}, nil
}

// Create creates or truncates a file.
func (m *MemoryFileSystem) Create(name string) (io.WriteCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name = filepath.Clean(name)
	m.files[name] = &memFile{data: []byte{}, mode: 0644}

	return &memFileWriter{
		fs:   m,
		name: name,
	}, nil
}

// ReadFile reads a file's contents.
func (m *MemoryFileSystem) ReadFile(name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	name = filepath.Clean(name)
	f, ok := m.files[name]
	if !ok {
		return nil, &fs.PathError{Op: "read", Path: name, Err: fs.ErrNotExist}
	}

	result := make([]byte, len(f.data))
	copy(result, f.data)
	return result, nil
}

// WriteFile writes data to a file.
func (m *MemoryFileSystem) WriteFile(name string, data []byte, perm os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name = filepath.Clean(name)
	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)
	m.files[name] = &memFile{data: dataCopy, mode: perm}

	return nil
}

// Stat returns file info.
func (m *MemoryFileSystem) Stat(name string) (fs.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	name = filepath.Clean(name)

	if m.isDirLocked(name) {
		return &memFileInfo{name: filepath.Base(name), mode: fs.ModeDir | 0755, isDir: true}, nil
	}

	f, ok := m.files[name]
	if !ok {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
	}

	return &memFileInfo{
		name: filepath.Base(name),
		size: int64(len(f.data)),
		mode: f.mode,
	}, nil
}

// MkdirAll creates directories.
func (m *MemoryFileSystem) MkdirAll(path string, perm os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	path = filepath.Clean(path)
	m.dirs[path] = true

	// Create parent directories
	for p := filepath.Dir(path); p != "." && p != "/" && p != path; p = filepath.Dir(p) {
		m.dirs[p] = true
	}

	return nil
}

// Remove removes a file or empty directory.
func (m *MemoryFileSystem) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name = filepath.Clean(name)

	if _, ok := m.files[name]; ok {
		delete(m.files, name)
		return nil
	}

	if m.dirs[name] {
		delete(m.dirs, name)
		return nil
	}

	return &fs.PathError{Op: "remove", Path: name, Err: fs.ErrNotExist}
}

// Rename moves a file, or a directory together with everything below it.
func (m *MemoryFileSystem) Rename(oldpath, newpath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	oldpath = filepath.Clean(oldpath)
	newpath = filepath.Clean(newpath)

	if f, ok := m.files[oldpath]; ok {
		delete(m.files, oldpath)
		m.files[newpath] = f
		return nil
	}

	if !m.isDirLocked(oldpath) {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: fs.ErrNotExist}
	}

	prefix := oldpath + string(filepath.Separator)
	movedFiles := make(map[string]*memFile)
	for name, f := range m.files {
		if strings.HasPrefix(name, prefix) {
			movedFiles[newpath+name[len(oldpath):]] = f
			delete(m.files, name)
		}
	}
	var movedDirs []string
	for name := range m.dirs {
		if name == oldpath || strings.HasPrefix(name, prefix) {
			movedDirs = append(movedDirs, newpath+name[len(oldpath):])
			delete(m.dirs, name)
		}
	}
	for name, f := range movedFiles {
		m.files[name] = f
	}
	for _, name := range movedDirs {
		m.dirs[name] = true
	}
	m.dirs[newpath] = true

	return nil
}

// WalkDir walks every file and directory under root in lexical order.
// Directories that only exist implicitly as parents of files are visited too.
func (m *MemoryFileSystem) WalkDir(root string, fn fs.WalkDirFunc) error {
	root = filepath.Clean(root)

	m.mu.RLock()
	entries := make(map[string]bool) // path -> isDir
	prefix := root + string(filepath.Separator)
	switch root {
	case ".":
		prefix = ""
	case string(filepath.Separator):
		prefix = root
	}
	for name := range m.files {
		if name == root || strings.HasPrefix(name, prefix) {
			entries[name] = false
			for p := filepath.Dir(name); p != root && strings.HasPrefix(p, prefix); p = filepath.Dir(p) {
				entries[p] = true
			}
		}
	}
	for name := range m.dirs {
		if strings.HasPrefix(name, prefix) {
			entries[name] = true
		}
	}
	rootIsDir := m.isDirLocked(root)
	_, rootIsFile := m.files[root]
	m.mu.RUnlock()

	if !rootIsDir && !rootIsFile {
		err := &fs.PathError{Op: "lstat", Path: root, Err: fs.ErrNotExist}
		return fn(root, nil, err)
	}
	entries[root] = rootIsDir

	paths := make([]string, 0, len(entries))
	for p := range entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var skipped []string
	for _, p := range paths {
		if underAny(p, skipped) {
			continue
		}
		isDir := entries[p]
		info := &memFileInfo{name: filepath.Base(p), mode: 0644}
		if isDir {
			info.mode, info.isDir = fs.ModeDir|0755, true
		}
		err := fn(p, &memDirEntry{info: info}, nil)
		switch {
		case err == fs.SkipAll:
			return nil
		case err == fs.SkipDir:
			if isDir {
				skipped = append(skipped, p)
			} else {
				skipped = append(skipped, filepath.Dir(p))
			}
		case err != nil:
			return err
		}
	}

	return nil
}

// Exists checks if a file or directory exists.
func (m *MemoryFileSystem) Exists(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	name = filepath.Clean(name)

	if _, ok := m.files[name]; ok {
		return true
	}

	return m.isDirLocked(name)
}

// isDirLocked reports whether name is an explicit directory or a parent of a
// stored file. Callers must hold m.mu.
func (m *MemoryFileSystem) isDirLocked(name string) bool {
	if m.dirs[name] {
		return true
	}
	prefix := name + string(filepath.Separator)
	for f := range m.files {
		if strings.HasPrefix(f, prefix) {
			return true
		}
	}
	return false
}

func underAny(p string, dirs []string) bool {
	for _, d := range dirs {
		if strings.HasPrefix(p, d+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// memFileReader implements fs.File for reading.
type memFileReader struct {
	name   string
	data   []byte
	offset int
}

func (f *memFileReader) Read(p []byte) (int, error) {
	if f.offset >= len(f.data) {
		return 0, io.EOF
	}

	n := copy(p, f.data[f.offset:])
	f.offset += n
	return n, nil
}

func (f *memFileReader) Close() error { return nil }

func (f *memFileReader) Stat() (fs.FileInfo, error) {
	return &memFileInfo{name: filepath.Base(f.name), size: int64(len(f.data))}, nil
}

// memFileWriter implements io.WriteCloser for writing.
type memFileWriter struct {
	fs   *MemoryFileSystem
	name string
	buf  []byte
}

func (f *memFileWriter) Write(p []byte) (int, error) {
	f.buf = append(f.buf, p...)
	return len(p), nil
}

func (f *memFileWriter) Close() error {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()

	if existing, ok := f.fs.files[f.name]; ok {
		existing.data = f.buf
	} else {
		f.fs.files[f.name] = &memFile{data: f.buf, mode: 0644}
	}

	return nil
}

// memFileInfo implements fs.FileInfo.
type memFileInfo struct {
	name  string
	size  int64
	mode  os.FileMode
	isDir bool
}

func (i *memFileInfo) Name() string       { return i.name }
func (i *memFileInfo) Size() int64        { return i.size }
func (i *memFileInfo) Mode() os.FileMode  { return i.mode }
func (i *memFileInfo) ModTime() time.Time { return time.Time{} }
func (i *memFileInfo) IsDir() bool        { return i.isDir }
func (i *memFileInfo) Sys() any           { return nil }

// memDirEntry implements fs.DirEntry.
type memDirEntry struct {
	info *memFileInfo
}

func (e *memDirEntry) Name() string               { return e.info.name }
func (e *memDirEntry) IsDir() bool                { return e.info.isDir }
func (e *memDirEntry) Type() fs.FileMode          { return e.info.Mode().Type() }
func (e *memDirEntry) Info() (fs.FileInfo, error) { return e.info, nil }
