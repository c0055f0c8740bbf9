package nvwal

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

// TestCursorMaterializeSpansSegments drives Cursor.materialize directly
// against an mdsRecord whose FromSegID and ToSegID differ, with the
// earlier segment already recycled out of the NV ring (forcing the
// disk fallback in readSegmentRange) and the later segment still live
// in NV, confirming the two chunks are reassembled in order.
func TestCursorMaterializeSpansSegments(t *testing.T) {
	base, err := ioutil.TempDir("", "nvwal-cursor")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(base)
	nvRoot := filepath.Join(base, "nv")
	diskRoot := filepath.Join(base, "disk")
	if err := os.MkdirAll(nvRoot, privateDirMode); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(diskRoot, privateDirMode); err != nil {
		t.Fatal(err)
	}

	const segSize = 16
	ring, err := openNVRing(nvRoot, 2, segSize)
	if err != nil {
		t.Fatal(err)
	}
	defer ring.close()

	cb, err := openControlBlock(nvRoot, CreateIfNotExists, InvalidEpoch)
	if err != nil {
		t.Fatal(err)
	}
	defer cb.close()

	cfg := &Config{NVRoot: nvRoot, DiskRoot: diskRoot, MDSPageSize: 4096}
	mds, err := openMDS(cfg, cb, zap.NewExample())
	if err != nil {
		t.Fatal(err)
	}
	defer mds.close()

	// dsid 1 (ring slot 0) holds the first six bytes of the epoch at the
	// end of the segment, dsid 2 (ring slot 1) holds the last four at its
	// start, exactly as the flusher's copyIntoSegment would have left them.
	seg1 := ring.slotFor(1)
	seg2 := ring.slotFor(2)
	copy(seg1.region[10:16], []byte("ABCDEF"))
	copy(seg2.region[0:4], []byte("GHIJ"))

	// Seal dsid 1 to disk and move its NV slot on to a later
	// generation, so materialize must read that chunk back from the
	// sealed disk copy while the second chunk is still read live.
	f, err := openDiskSegmentForWrite(diskRoot, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := writeFullSegment(f, seg1.region, func() bool { return false }); err != nil {
		t.Fatal(err)
	}
	if err := syncSegmentFile(f, diskRoot); err != nil {
		t.Fatal(err)
	}
	seg1.dsid.Store(3) // ring slot 0 has moved on past dsid 1

	rec := mdsRecord{EpochID: 1, FromSegID: 1, FromOffset: 10, ToSegID: 2, ToOffset: 4}

	cur := newCursor(mds, ring, diskRoot, cb, zap.NewExample(), InvalidEpoch)
	got, err := cur.materialize(rec)
	if err != nil {
		t.Fatalf("materialize() = %v", err)
	}
	if want := "ABCDEFGHIJ"; string(got) != want {
		t.Fatalf("materialize() = %q, want %q", got, want)
	}
}
