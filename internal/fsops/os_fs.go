package fsops

import (
	"io/fs"
	"os"

	"golang.org/x/sys/unix"
)

// OSFS implements FS using real os package calls
type OSFS struct{}

func (OSFS) ReadDir(path string) ([]fs.DirEntry, error) {
	return os.ReadDir(path)
}

func (OSFS) Lstat(path string) (fs.FileInfo, error) {
	return os.Lstat(path)
}

// RemoveFile unlinks a non-directory entry. Symlinks are removed, never followed.
func (OSFS) RemoveFile(path string) error {
	if err := unix.Unlink(path); err != nil {
		return &fs.PathError{Op: "unlink", Path: path, Err: err}
	}
	return nil
}

// RemoveDir removes an empty directory and fails on anything else.
func (OSFS) RemoveDir(path string) error {
	if err := unix.Rmdir(path); err != nil {
		return &fs.PathError{Op: "rmdir", Path: path, Err: err}
	}
	return nil
}
