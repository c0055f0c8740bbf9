//go:build linux

package nvwal

import (
	"os"

	"golang.org/x/sys/unix"
)

func preallocExtend(f *os.File, sizeInBytes int64) error {
	// mode = 0 changes the apparent size, matching the
	// Fallocate call but routed through golang.org/x/sys/unix instead
	// of the deprecated syscall package, per the engine's domain stack.
	err := unix.Fallocate(int(f.Fd()), 0, 0, sizeInBytes)
	if err != nil {
		if err == unix.ENOTSUP || err == unix.EINTR {
			return preallocExtendTrunc(f, sizeInBytes)
		}
		return err
	}
	return nil
}
