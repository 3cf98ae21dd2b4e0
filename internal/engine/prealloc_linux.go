//go:build linux

package engine

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// preallocate reserves size bytes for a download destination so the copy
// does not fragment it. Filesystems without fallocate report
// errors.ErrUnsupported.
//
//nolint:gosec // G115: fd values are small non-negative integers
func preallocate(f *os.File, size int64) error {
	err := unix.Fallocate(int(f.Fd()), 0, 0, size)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.EOPNOTSUPP), errors.Is(err, unix.ENOSYS):
		return fmt.Errorf("fallocate %s: %w", f.Name(), errors.ErrUnsupported)
	default:
		return fmt.Errorf("fallocate %s: %w", f.Name(), err)
	}
}
