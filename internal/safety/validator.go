package safety

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"stale-purge/internal/fsops"
)

var (
	ErrInvalidPath    = errors.New("invalid path")
	ErrProtectedPath  = errors.New("protected path")
	ErrOutsideAllowed = errors.New("outside allowed roots")
	ErrTraversal      = errors.New("path traversal detected")
	ErrSymlinkEscape  = errors.New("symlink escape detected")
	ErrRootTarget     = errors.New("refusing to remove the purge root")
)

// Validator enforces the safety contract for purge roots and every removal beneath them.
type Validator struct {
	AllowedRoots   []string
	ProtectedPaths []string
}

// NewValidator creates a validator with allowed roots and optional additional
// protected paths. An empty allowed list places no restriction on roots.
func NewValidator(allowed []string, extraProtected []string) *Validator {
	return &Validator{
		AllowedRoots:   normalizeRoots(allowed),
		ProtectedPaths: defaultProtected(normalizeRoots(extraProtected)),
	}
}

// IsViolation reports whether err is one of the safety sentinels.
func IsViolation(err error) bool {
	return errors.Is(err, ErrInvalidPath) ||
		errors.Is(err, ErrProtectedPath) ||
		errors.Is(err, ErrOutsideAllowed) ||
		errors.Is(err, ErrTraversal) ||
		errors.Is(err, ErrSymlinkEscape) ||
		errors.Is(err, ErrRootTarget)
}

// ValidateRoot decides whether a tree may be purged at all. It runs once
// before the engine starts. A root that does not exist passes: the engine
// reports that as a listing failure.
func (v *Validator) ValidateRoot(root string) error {
	p, err := NormalizePath(root)
	if err != nil {
		return err
	}

	if IsProtectedPath(p, v.ProtectedPaths) {
		return fmt.Errorf("%w: %s", ErrProtectedPath, p)
	}

	if len(v.AllowedRoots) > 0 && !IsWithinAllowedRoots(p, v.AllowedRoots) {
		return fmt.Errorf("%w: %s", ErrOutsideAllowed, p)
	}

	resolved, err := resolve(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if resolved == p {
		return nil
	}
	if IsProtectedPath(resolved, v.ProtectedPaths) {
		return fmt.Errorf("%w: %s resolves to protected %s", ErrSymlinkEscape, p, resolved)
	}
	if len(v.AllowedRoots) > 0 && !IsWithinAllowedRoots(resolved, v.AllowedRoots) {
		return fmt.Errorf("%w: %s resolves to %s", ErrSymlinkEscape, p, resolved)
	}
	return nil
}

// ValidateDeleteTarget is the single-source-of-truth for removal authorization
// inside a purge of root. Targets are not resolved: the engine unlinks
// symlinks rather than following them.
func (v *Validator) ValidateDeleteTarget(root, path string) error {
	if DetectTraversal(path) {
		return ErrTraversal
	}

	p, err := NormalizePath(path)
	if err != nil {
		return err
	}
	r, err := NormalizePath(root)
	if err != nil {
		return err
	}

	if p == r {
		return ErrRootTarget
	}
	if !hasPathPrefix(p, r) {
		return ErrOutsideAllowed
	}
	if IsProtectedPath(p, v.ProtectedPaths) {
		return ErrProtectedPath
	}
	return nil
}

// Guard wraps fsys so that every removal is checked with ValidateDeleteTarget
// before it reaches the filesystem. Reads pass straight through.
func (v *Validator) Guard(fsys fsops.FS, root string) fsops.FS {
	return &guardedFS{FS: fsys, v: v, root: root}
}

type guardedFS struct {
	fsops.FS
	v    *Validator
	root string
}

func (g *guardedFS) RemoveFile(path string) error {
	if err := g.v.ValidateDeleteTarget(g.root, path); err != nil {
		return &fs.PathError{Op: "unlink", Path: path, Err: err}
	}
	return g.FS.RemoveFile(path)
}

func (g *guardedFS) RemoveDir(path string) error {
	if err := g.v.ValidateDeleteTarget(g.root, path); err != nil {
		return &fs.PathError{Op: "rmdir", Path: path, Err: err}
	}
	return g.FS.RemoveDir(path)
}

// NormalizePath converts path to absolute, cleaned form
func NormalizePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", ErrInvalidPath
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", ErrInvalidPath
	}
	return filepath.Clean(abs), nil
}

// DetectTraversal blocks any ".." segment in raw input
func DetectTraversal(raw string) bool {
	for _, p := range strings.Split(filepath.ToSlash(raw), "/") {
		if p == ".." {
			return true
		}
	}
	return false
}

// IsWithinAllowedRoots checks if path is within any allowed root
func IsWithinAllowedRoots(path string, allowedRoots []string) bool {
	p := filepath.Clean(path)
	for _, r := range allowedRoots {
		if hasPathPrefix(p, r) {
			return true
		}
	}
	return false
}

// IsProtectedPath checks if path is a protected path or lies beneath one
func IsProtectedPath(path string, protected []string) bool {
	p := filepath.Clean(path)

	// Hard block: "/" exact
	if p == string(os.PathSeparator) {
		return true
	}

	for _, prot := range protected {
		if hasPathPrefix(p, prot) {
			return true
		}
	}
	return false
}

func resolve(p string) (string, error) {
	resolved, err := filepath.EvalSymlinks(p)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(resolved)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}

// hasPathPrefix checks if path equals prefix or lies beneath it.
// "/" as a prefix only matches "/" itself.
func hasPathPrefix(path, prefix string) bool {
	path = filepath.Clean(path)
	prefix = filepath.Clean(prefix)

	if prefix == string(os.PathSeparator) {
		return path == prefix
	}
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+string(os.PathSeparator))
}

func normalizeRoots(roots []string) []string {
	out := make([]string, 0, len(roots))
	for _, r := range roots {
		if strings.TrimSpace(r) == "" {
			continue
		}
		abs, err := filepath.Abs(r)
		if err != nil {
			continue
		}
		out = append(out, filepath.Clean(abs))
	}
	return out
}

// defaultProtected returns the base set of protected paths plus any extras
func defaultProtected(extra []string) []string {
	base := []string{
		"/",
		"/etc",
		"/bin",
		"/usr",
		"/boot",
		"/lib",
		"/lib64",
		"/sbin",
		"/proc",
		"/sys",
		"/dev",
		"/var/lib/stale-purge",
		"/etc/stale-purge",
	}
	return append(base, extra...)
}
