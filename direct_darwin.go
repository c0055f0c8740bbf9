//go:build darwin

package nvwal

import (
	"os"

	"golang.org/x/sys/unix"
)

// openWithBestEffortDirect has no O_DIRECT equivalent flag on macOS;
// instead F_NOCACHE is applied via fcntl after a normal open, matching
// the OS's actual mechanism for bypassing the unified buffer cache.
func openWithBestEffortDirect(path string, flags int) (*os.File, error) {
	f, err := os.OpenFile(path, flags, privateFileMode)
	if err != nil {
		return nil, err
	}
	if _, err := unix.FcntlInt(f.Fd(), unix.F_NOCACHE, 1); err != nil {
		// Best-effort only: proceed without F_NOCACHE.
		return f, nil
	}
	return f, nil
}
