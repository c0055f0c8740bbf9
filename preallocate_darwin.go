//go:build darwin

package nvwal

import (
	"os"

	"golang.org/x/sys/unix"
)

func preallocExtend(f *os.File, sizeInBytes int64) error {
	if err := preallocFixed(f, sizeInBytes); err != nil {
		return err
	}
	return preallocExtendTrunc(f, sizeInBytes)
}

func preallocFixed(f *os.File, sizeInBytes int64) error {
	fstore := &unix.Fstore_t{
		Flags:   unix.F_ALLOCATEALL,
		Posmode: unix.F_PEOFPOSMODE,
		Length:  sizeInBytes,
	}
	err := unix.FcntlFstore(f.Fd(), unix.F_PREALLOCATE, fstore)
	if err == nil || err == unix.ENOTSUP {
		return nil
	}

	if err == unix.EINVAL {
		// filesystem "st_blocks" are allocated in units of the
		// "Allocation Block Size" (`diskutil info /`).
		var stat unix.Stat_t
		unix.Fstat(int(f.Fd()), &stat)

		var statfs unix.Statfs_t
		unix.Fstatfs(int(f.Fd()), &statfs)
		blockSize := int64(statfs.Bsize)

		if stat.Blocks*blockSize >= sizeInBytes {
			return nil
		}
	}
	return err
}
