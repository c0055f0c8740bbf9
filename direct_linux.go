//go:build linux

package nvwal

import (
	"os"

	"golang.org/x/sys/unix"
)

// openWithBestEffortDirect tries O_DIRECT first, bypassing the page
// cache for a segment body that is about to be immediately fsynced and
// never read back through this fd, falling back to a buffered open if
// the filesystem rejects the flag (common on tmpfs/overlay test
// harnesses).
func openWithBestEffortDirect(path string, flags int) (*os.File, error) {
	f, err := os.OpenFile(path, flags|unix.O_DIRECT, privateFileMode)
	if err != nil {
		return os.OpenFile(path, flags, privateFileMode)
	}
	return f, nil
}
