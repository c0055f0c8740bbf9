package nvwal

import (
	"fmt"
	"path/filepath"
)

// File and directory modes, and on-disk naming.
const (
	// privateFileMode grants owner read/write to a file.
	privateFileMode = 0600

	// privateDirMode grants owner read/write/execute, used for segment
	// directories.
	privateDirMode = 0700
)

// diskSegmentPath returns the path of the sealed on-disk copy of dsid.
func diskSegmentPath(diskRoot string, dsid uint64) string {
	return filepath.Join(diskRoot, fmt.Sprintf("nvwal_ds_%d", dsid))
}

// mdsBufferPath returns the path of the NV-resident write buffer for
// MDS page-file slot i.
func mdsBufferPath(nvRoot string, i int) string {
	return filepath.Join(nvRoot, fmt.Sprintf("mds-nvram-buf-%d", i))
}

// mdsPageFilePath returns the path of the on-disk page file for slot i.
func mdsPageFilePath(diskRoot string, i int) string {
	return filepath.Join(diskRoot, fmt.Sprintf("mds-pagefile-%d", i))
}
