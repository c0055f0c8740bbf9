package nvwal

import (
	"io"
	"os"
)

// preallocate tries to allocate sizeInBytes for f so that later writes
// never grow the file piecemeal. Adapted from the original
// preallocate.go: same fallback discipline (platform fast path, falling
// back to seek+truncate), retargeted from WAL segment files to nvwal's
// NV ring segment files, disk segment files, and MDS buffer/page files.
func preallocate(f *os.File, sizeInBytes int64) error {
	if sizeInBytes == 0 {
		return nil
	}
	return preallocExtend(f, sizeInBytes)
}

func preallocExtendTrunc(f *os.File, sizeInBytes int64) error {
	curOff, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	size, err := f.Seek(sizeInBytes, io.SeekEnd)
	if err != nil {
		return err
	}
	if _, err := f.Seek(curOff, io.SeekStart); err != nil {
		return err
	}
	if size < sizeInBytes {
		return nil
	}
	return f.Truncate(sizeInBytes)
}
