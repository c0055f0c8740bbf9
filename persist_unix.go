//go:build darwin || linux

package nvwal

import (
	"golang.org/x/sys/unix"
)

// persistRange stands in for the platform persistence
// primitive the engine assumes is available from the host platform:
// cache-line flush (clflush/clwb) plus a store fence. Go cannot issue
// those instructions directly, so the substitute used here is
// unix.Msync(MS_SYNC) over the dirtied byte range of the mmap'd NVDIMM
// file — it forces the mapping's dirty pages back through the page
// cache to the backing file, which is the closest portable
// approximation available without cgo or assembly. Call sites are
// exactly the points the engine calls "persist": CB field writes,
// MDS record writes, and epoch-conclusion range flushes.
func persistRange(region []byte, offset, length int) error {
	if length == 0 {
		return nil
	}
	pageSize := unix.Getpagesize()
	alignedOffset := (offset / pageSize) * pageSize
	end := offset + length
	if end > len(region) {
		end = len(region)
	}
	return unix.Msync(region[alignedOffset:end], unix.MS_SYNC)
}
