package fsops

import (
	"io/fs"
	"path/filepath"
	"sort"
	"syscall"
	"time"
)

// FakeFS implements FS as an in-memory tree for testing.
// Records every remove call without touching the real filesystem.
type FakeFS struct {
	Calls []string

	root        string
	nodes       map[string]*fakeNode
	readDirErrs map[string]error
	lstatErrs   map[string]error
	removeErrs  map[string]error
}

type fakeNode struct {
	name    string
	mode    fs.FileMode
	size    int64
	modTime time.Time
}

// NewFakeFS creates an empty tree containing only root.
func NewFakeFS(root string, modTime time.Time) *FakeFS {
	f := &FakeFS{
		root:        filepath.Clean(root),
		nodes:       make(map[string]*fakeNode),
		readDirErrs: make(map[string]error),
		lstatErrs:   make(map[string]error),
		removeErrs:  make(map[string]error),
	}
	f.AddDir(root, modTime)
	return f
}

// AddDir creates a directory and any missing parents.
func (f *FakeFS) AddDir(path string, modTime time.Time) {
	f.add(path, fs.ModeDir|0o755, 0, modTime)
}

// AddFile creates a regular file and any missing parent directories.
func (f *FakeFS) AddFile(path string, size int64, modTime time.Time) {
	f.add(path, 0o644, size, modTime)
}

// AddSymlink creates a symlink entry. Its target is irrelevant: FS never follows links.
func (f *FakeFS) AddSymlink(path string, modTime time.Time) {
	f.add(path, fs.ModeSymlink|0o777, 0, modTime)
}

func (f *FakeFS) add(path string, mode fs.FileMode, size int64, modTime time.Time) {
	path = filepath.Clean(path)
	parent := filepath.Dir(path)
	if parent != path && path != f.root {
		if _, ok := f.nodes[parent]; !ok {
			f.AddDir(parent, modTime)
		}
	}
	f.nodes[path] = &fakeNode{
		name:    filepath.Base(path),
		mode:    mode,
		size:    size,
		modTime: modTime,
	}
}

// FailReadDir makes listing path return err.
func (f *FakeFS) FailReadDir(path string, err error) {
	f.readDirErrs[filepath.Clean(path)] = err
}

// FailLstat makes metadata reads of path return err.
func (f *FakeFS) FailLstat(path string, err error) {
	f.lstatErrs[filepath.Clean(path)] = err
}

// FailRemove makes removal of path return err.
func (f *FakeFS) FailRemove(path string, err error) {
	f.removeErrs[filepath.Clean(path)] = err
}

// Exists reports whether path is still present in the tree.
func (f *FakeFS) Exists(path string) bool {
	_, ok := f.nodes[filepath.Clean(path)]
	return ok
}

// Paths returns every path in the tree, sorted.
func (f *FakeFS) Paths() []string {
	out := make([]string, 0, len(f.nodes))
	for p := range f.nodes {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (f *FakeFS) ReadDir(path string) ([]fs.DirEntry, error) {
	path = filepath.Clean(path)
	if err := f.readDirErrs[path]; err != nil {
		return nil, &fs.PathError{Op: "open", Path: path, Err: err}
	}
	node, ok := f.nodes[path]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
	}
	if !node.mode.IsDir() {
		return nil, &fs.PathError{Op: "readdirent", Path: path, Err: syscall.ENOTDIR}
	}

	var entries []fs.DirEntry
	for _, p := range f.children(path) {
		entries = append(entries, fs.FileInfoToDirEntry(fakeInfo{f.nodes[p]}))
	}
	return entries, nil
}

func (f *FakeFS) Lstat(path string) (fs.FileInfo, error) {
	path = filepath.Clean(path)
	if err := f.lstatErrs[path]; err != nil {
		return nil, &fs.PathError{Op: "lstat", Path: path, Err: err}
	}
	node, ok := f.nodes[path]
	if !ok {
		return nil, &fs.PathError{Op: "lstat", Path: path, Err: fs.ErrNotExist}
	}
	return fakeInfo{node}, nil
}

func (f *FakeFS) RemoveFile(path string) error {
	path = filepath.Clean(path)
	f.Calls = append(f.Calls, "rm:"+path)
	if err := f.removeErrs[path]; err != nil {
		return &fs.PathError{Op: "unlink", Path: path, Err: err}
	}
	node, ok := f.nodes[path]
	if !ok {
		return &fs.PathError{Op: "unlink", Path: path, Err: fs.ErrNotExist}
	}
	if node.mode.IsDir() {
		return &fs.PathError{Op: "unlink", Path: path, Err: syscall.EISDIR}
	}
	delete(f.nodes, path)
	return nil
}

func (f *FakeFS) RemoveDir(path string) error {
	path = filepath.Clean(path)
	f.Calls = append(f.Calls, "rmdir:"+path)
	if err := f.removeErrs[path]; err != nil {
		return &fs.PathError{Op: "rmdir", Path: path, Err: err}
	}
	node, ok := f.nodes[path]
	if !ok {
		return &fs.PathError{Op: "rmdir", Path: path, Err: fs.ErrNotExist}
	}
	if !node.mode.IsDir() {
		return &fs.PathError{Op: "rmdir", Path: path, Err: syscall.ENOTDIR}
	}
	if len(f.children(path)) > 0 {
		return &fs.PathError{Op: "rmdir", Path: path, Err: syscall.ENOTEMPTY}
	}
	delete(f.nodes, path)
	return nil
}

func (f *FakeFS) children(dir string) []string {
	var out []string
	for p := range f.nodes {
		if p != dir && filepath.Dir(p) == dir {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

type fakeInfo struct {
	n *fakeNode
}

func (i fakeInfo) Name() string       { return i.n.name }
func (i fakeInfo) Size() int64        { return i.n.size }
func (i fakeInfo) Mode() fs.FileMode  { return i.n.mode }
func (i fakeInfo) ModTime() time.Time { return i.n.modTime }
func (i fakeInfo) IsDir() bool        { return i.n.mode.IsDir() }
func (i fakeInfo) Sys() any           { return nil }
