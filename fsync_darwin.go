//go:build darwin

package nvwal

import (
	"os"

	"golang.org/x/sys/unix"
)

// Fsync on macOS flushes data onto the drive's controller, but the
// drive may buffer it before writing to persistent media out of order.
// F_FULLFSYNC forces the physical media flush the fsyncer's durability
// contract requires.
func fsync(f *os.File) error {
	_, err := unix.FcntlInt(f.Fd(), unix.F_FULLFSYNC, 0)
	return err
}
