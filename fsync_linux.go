//go:build linux

package nvwal

import "os"

// fsync flushes f's data and metadata to disk.
func fsync(f *os.File) error {
	return f.Sync()
}
