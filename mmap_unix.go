//go:build darwin || linux

package nvwal

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// mmapFile maps the whole of f (which must already be sized to length
// bytes, e.g. via preallocate) MAP_SHARED read/write, via
// golang.org/x/sys/unix rather than the deprecated syscall package.
func mmapFile(f *os.File, length int) ([]byte, error) {
	if length == 0 {
		return nil, fmt.Errorf("mmap: zero length for %s", f.Name())
	}
	b, err := unix.Mmap(int(f.Fd()), 0, length, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", f.Name(), err)
	}
	return b, nil
}

// munmapRegion unmaps a region previously returned by mmapFile. Safe to
// call with nil.
func munmapRegion(b []byte) error {
	if b == nil {
		return nil
	}
	return unix.Munmap(b)
}
