package disk

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// ErrStaleMount is returned when the filesystem under a path does not
// answer a metadata probe in time or answers with an NFS-style error.
var ErrStaleMount = errors.New("stale or unresponsive mount")

// Usage describes the filesystem holding a path.
type Usage struct {
	TotalBytes  int64
	FreeBytes   int64
	UsedPercent float64
}

// FreePercent returns the percentage of free disk space
func (u Usage) FreePercent() float64 {
	return 100.0 - u.UsedPercent
}

// GetDiskUsage returns capacity figures for the filesystem holding path.
// Free space is what an unprivileged caller can use (f_bavail).
func GetDiskUsage(path string) (Usage, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return Usage{}, fmt.Errorf("statfs %s: %w", path, err)
	}

	u := Usage{
		TotalBytes: int64(stat.Blocks) * int64(stat.Bsize),
		FreeBytes:  int64(stat.Bavail) * int64(stat.Bsize),
	}
	if u.TotalBytes > 0 {
		u.UsedPercent = float64(u.TotalBytes-u.FreeBytes) / float64(u.TotalBytes) * 100.0
	}
	return u, nil
}

// ProbeMount stats path with a deadline. It returns ErrStaleMount when the
// stat hangs past timeout or fails with EIO, ESTALE or ENXIO. Other errors,
// including a missing path, are returned as-is.
func ProbeMount(ctx context.Context, path string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := os.Stat(path)
		done <- err
	}()

	select {
	case err := <-done:
		if err == nil {
			return nil
		}
		if os.IsTimeout(err) ||
			errors.Is(err, unix.EIO) ||
			errors.Is(err, unix.ESTALE) ||
			errors.Is(err, unix.ENXIO) {
			return fmt.Errorf("%w: %s: %w", ErrStaleMount, path, err)
		}
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s: no response within %s", ErrStaleMount, path, timeout)
		}
		return ctx.Err()
	}
}

// IsNFSStale reports whether path sits on a stale mount.
func IsNFSStale(path string, timeout time.Duration) bool {
	return errors.Is(ProbeMount(context.Background(), path, timeout), ErrStaleMount)
}
