//go:build darwin || linux

package nvwal

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

var errLocked = fmt.Errorf("file already locked")

// lockFileNonBlocking locks f via flock in non-blocking mode, so
// contention returns immediately with errLocked rather than stalling a
// background agent. Retargeted from an earlier per-segment advisory
// lock to nvwal's MDS page files, which openMDSSlot locks so that more
// than one process (or, across an unclean restart, more than one
// incarnation of this process) cannot race to write them. Disk segment
// files are not locked.
func lockFileNonBlocking(f *os.File) error {
	err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err == unix.EWOULDBLOCK {
		err = errLocked
	}
	return err
}
