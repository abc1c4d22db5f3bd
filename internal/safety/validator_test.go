package safety

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stale-purge/internal/fsops"
)

// TestProtectedPathBlocking verifies protected paths are blocked
func TestProtectedPathBlocking(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		expected bool
	}{
		{"root slash", "/", true},
		{"etc", "/etc", true},
		{"etc subdir", "/etc/ssh", true},
		{"bin file", "/bin/bash", true},
		{"usr local", "/usr/local", true},
		{"boot grub", "/boot/grub2", true},
		{"lib64", "/lib64", true},
		{"proc", "/proc/self", true},
		{"sys", "/sys/fs", true},
		{"dev", "/dev/shm", true},
		{"own config", "/etc/stale-purge/config.yaml", true},
		{"own history", "/var/lib/stale-purge/history.db", true},
		{"tmp allowed", "/tmp", false},
		{"tmp file", "/tmp/file.txt", false},
		{"var tmp", "/var/tmp", false},
		{"var lib sibling", "/var/lib/other", false},
		{"home user", "/home/user", false},
		{"prefix lookalike", "/etcetera", false},
	}

	protected := defaultProtected(nil)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsProtectedPath(tt.path, protected); got != tt.expected {
				t.Errorf("IsProtectedPath(%s) = %v, expected %v", tt.path, got, tt.expected)
			}
		})
	}
}

// TestAllowedRootEnforcement verifies paths are restricted to allowed roots
func TestAllowedRootEnforcement(t *testing.T) {
	allowed := []string{"/tmp/allowed", "/var/cleanup"}

	tests := []struct {
		name     string
		path     string
		expected bool
	}{
		{"inside allowed tmp", "/tmp/allowed/file.txt", true},
		{"inside allowed var", "/var/cleanup/old.log", true},
		{"allowed root exact", "/tmp/allowed", true},
		{"outside allowed", "/tmp/notallowed/file.txt", false},
		{"parent of allowed", "/tmp", false},
		{"completely different", "/home/user/file.txt", false},
		{"root", "/", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsWithinAllowedRoots(tt.path, allowed); got != tt.expected {
				t.Errorf("IsWithinAllowedRoots(%s) = %v, expected %v", tt.path, got, tt.expected)
			}
		})
	}
}

func TestPathNormalization(t *testing.T) {
	tests := []struct {
		name        string
		path        string
		expectError bool
	}{
		{"absolute path", "/tmp/file.txt", false},
		{"relative path", "file.txt", false},
		{"path with dots", "/tmp/./file.txt", false},
		{"empty path", "", true},
		{"whitespace only", "   ", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := NormalizePath(tt.path)
			if tt.expectError {
				assert.ErrorIs(t, err, ErrInvalidPath)
				return
			}
			require.NoError(t, err)
			assert.True(t, filepath.IsAbs(result), "NormalizePath(%s) = %s, expected absolute path", tt.path, result)
		})
	}
}

func TestTraversalDetection(t *testing.T) {
	tests := []struct {
		path     string
		expected bool
	}{
		{"/tmp/file.txt", false},
		{"/tmp/../etc/passwd", true},
		{"../etc/passwd", true},
		{"/tmp/..", true},
		{"/tmp/./file", false},
		{"/tmp/..hidden", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := DetectTraversal(tt.path); got != tt.expected {
				t.Errorf("DetectTraversal(%s) = %v, expected %v", tt.path, got, tt.expected)
			}
		})
	}
}

func TestHasPathPrefix(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		prefix   string
		expected bool
	}{
		{"exact match", "/tmp/allowed", "/tmp/allowed", true},
		{"subdirectory", "/tmp/allowed/sub", "/tmp/allowed", true},
		{"trailing slash prefix", "/tmp/allowed/sub", "/tmp/allowed/", true},
		{"not a prefix", "/tmp/other", "/tmp/allowed", false},
		{"partial match", "/tmp/allowedother", "/tmp/allowed", false},
		{"slash prefix only matches slash", "/tmp", "/", false},
		{"slash matches slash", "/", "/", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := hasPathPrefix(tt.path, tt.prefix); got != tt.expected {
				t.Errorf("hasPathPrefix(%s, %s) = %v, expected %v", tt.path, tt.prefix, got, tt.expected)
			}
		})
	}
}

func TestValidateRoot(t *testing.T) {
	tmpDir := t.TempDir()
	allowedDir := filepath.Join(tmpDir, "allowed")
	outsideDir := filepath.Join(tmpDir, "outside")
	require.NoError(t, os.MkdirAll(filepath.Join(allowedDir, "spool"), 0o755))
	require.NoError(t, os.MkdirAll(outsideDir, 0o755))

	escapeLink := filepath.Join(allowedDir, "escape")
	require.NoError(t, os.Symlink(outsideDir, escapeLink))
	insideLink := filepath.Join(allowedDir, "inside")
	require.NoError(t, os.Symlink(filepath.Join(allowedDir, "spool"), insideLink))
	etcLink := filepath.Join(tmpDir, "etc-link")
	require.NoError(t, os.Symlink("/etc", etcLink))

	restricted := NewValidator([]string{allowedDir}, nil)
	open := NewValidator(nil, []string{filepath.Join(tmpDir, "keep")})

	tests := []struct {
		name      string
		validator *Validator
		root      string
		wantErr   error
	}{
		{"allowed root", restricted, filepath.Join(allowedDir, "spool"), nil},
		{"allowed root itself", restricted, allowedDir, nil},
		{"outside allowed", restricted, outsideDir, ErrOutsideAllowed},
		{"symlink escapes allowed", restricted, escapeLink, ErrSymlinkEscape},
		{"symlink stays inside", restricted, insideLink, nil},
		{"missing root passes", restricted, filepath.Join(allowedDir, "missing"), nil},
		{"filesystem root", open, "/", ErrProtectedPath},
		{"system dir", open, "/usr/share", ErrProtectedPath},
		{"extra protected", open, filepath.Join(tmpDir, "keep", "sub"), ErrProtectedPath},
		{"symlink to protected", open, etcLink, ErrSymlinkEscape},
		{"unrestricted root", open, outsideDir, nil},
		{"empty root", open, "", ErrInvalidPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.validator.ValidateRoot(tt.root)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
			assert.True(t, IsViolation(err))
		})
	}
}

func TestValidateDeleteTarget(t *testing.T) {
	v := NewValidator(nil, []string{"/srv/incoming/keep"})
	root := "/srv/incoming"

	tests := []struct {
		name    string
		path    string
		wantErr error
	}{
		{"file inside root", "/srv/incoming/a.log", nil},
		{"nested dir", "/srv/incoming/x/y", nil},
		{"root itself", "/srv/incoming", ErrRootTarget},
		{"root with trailing slash", "/srv/incoming/", ErrRootTarget},
		{"sibling", "/srv/incomingother/a.log", ErrOutsideAllowed},
		{"parent", "/srv", ErrOutsideAllowed},
		{"traversal", "/srv/incoming/../etc/passwd", ErrTraversal},
		{"protected subtree", "/srv/incoming/keep/report.csv", ErrProtectedPath},
		{"protected dir", "/srv/incoming/keep", ErrProtectedPath},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateDeleteTarget(root, tt.path)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestGuardBlocksProtectedRemovals(t *testing.T) {
	old := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	fake := fsops.NewFakeFS("/srv/incoming", old)
	fake.AddFile("/srv/incoming/a.log", 1, old)
	fake.AddFile("/srv/incoming/keep/report.csv", 1, old)

	v := NewValidator(nil, []string{"/srv/incoming/keep"})
	guarded := v.Guard(fake, "/srv/incoming")

	require.NoError(t, guarded.RemoveFile("/srv/incoming/a.log"))

	err := guarded.RemoveFile("/srv/incoming/keep/report.csv")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProtectedPath)

	var pathErr *os.PathError
	require.True(t, errors.As(err, &pathErr))
	assert.Equal(t, "unlink", pathErr.Op)

	err = guarded.RemoveDir("/srv/incoming")
	assert.ErrorIs(t, err, ErrRootTarget)

	// Blocked calls never reach the wrapped filesystem.
	assert.Equal(t, []string{"rm:/srv/incoming/a.log"}, fake.Calls)
	assert.True(t, fake.Exists("/srv/incoming/keep/report.csv"))

	// Errors from the wrapped filesystem pass through unchanged.
	err = v.Guard(fake, "/srv").RemoveDir("/srv/incoming/other")
	assert.ErrorIs(t, err, os.ErrNotExist)
}
