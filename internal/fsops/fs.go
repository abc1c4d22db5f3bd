package fsops

import "io/fs"

// FS is the narrow filesystem capability the purge engine needs.
// Implementations must not follow symlinks: Lstat and ReadDir entry types
// describe the link itself.
type FS interface {
	// ReadDir lists the direct children of a directory, sorted by name.
	// The listing handle is released before ReadDir returns.
	ReadDir(path string) ([]fs.DirEntry, error)
	Lstat(path string) (fs.FileInfo, error)
	RemoveFile(path string) error
	RemoveDir(path string) error
}
