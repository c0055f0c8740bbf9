package nvwal

import (
	"fmt"
	"io"
	"os"
)

// openDiskSegmentForWrite opens (creating if necessary) the sealed
// on-disk copy of dsid, best-effort direct I/O.
func openDiskSegmentForWrite(diskRoot string, dsid uint64) (*os.File, error) {
	path := diskSegmentPath(diskRoot, dsid)
	f, err := openWithBestEffortDirect(path, os.O_CREATE|os.O_RDWR)
	if err != nil {
		return nil, fmt.Errorf("open disk segment %d: %w", dsid, err)
	}
	return f, nil
}

// openDiskSegmentForRead opens the sealed on-disk copy of dsid
// read-only, for cursor materialisation of epochs whose bytes have
// already been recycled out of the NV ring.
func openDiskSegmentForRead(diskRoot string, dsid uint64) (*os.File, error) {
	path := diskSegmentPath(diskRoot, dsid)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open disk segment %d for read: %w", dsid, err)
	}
	return f, nil
}

// writeChunkSize bounds how much of a segment writeFullSegment writes
// per os.File.Write call, so a stop request is observed mid-segment
// instead of only once the whole write completes.
const writeChunkSize = 64 << 10 // 64 KiB

// writeFullSegment writes the whole segment body to f in bounded
// chunks, tolerant of short writes. Between chunks it calls
// stopRequested; if it returns true, writeFullSegment returns
// ErrCancelled immediately without closing f. On any other error it
// also returns immediately without closing f; the caller records
// fsync_error and closes.
func writeFullSegment(f *os.File, data []byte, stopRequested func() bool) error {
	written := 0
	for written < len(data) {
		if stopRequested() {
			return ErrCancelled
		}
		end := written + writeChunkSize
		if end > len(data) {
			end = len(data)
		}
		n, err := f.Write(data[written:end])
		written += n
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
	}
	return nil
}

// syncSegmentFile fsyncs f and the directory containing it, persisting
// both the data and the dentry.
func syncSegmentFile(f *os.File, dir string) error {
	if err := fsync(f); err != nil {
		return fmt.Errorf("fsync segment file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close segment file: %w", err)
	}
	dirF, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open segment dir: %w", err)
	}
	defer dirF.Close()
	if err := fsync(dirF); err != nil {
		return fmt.Errorf("fsync segment dir: %w", err)
	}
	return nil
}
