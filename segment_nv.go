package nvwal

import (
	"fmt"
	"os"
	"sync/atomic"
)

// nvSegment is one slot of the fixed NV ring. Its
// contents are exclusively owned by at most one of {flusher, fsyncer,
// cursor pins} at any instant, enforced by fsyncRequested/
// fsyncCompleted and the nvReaderPins CAS rather than a mutex — mirroring
// a lock-free, single-owner-at-a-time segment discipline.
type nvSegment struct {
	dsid atomic.Uint64 // the dsid currently occupying this slot

	writtenBytes atomic.Int64

	fsyncRequested atomic.Bool
	fsyncCompleted atomic.Bool
	fsyncErr       atomic.Pointer[error]

	// nvReaderPins: -1 means exclusive to the flusher for recycling, 0
	// means idle, >0 means pinned by that many cursors.
	nvReaderPins atomic.Int32

	region []byte // mmap'd, segmentSize bytes
	f      *os.File
	size   int64
}

// nvSegmentRing is the fixed ring of N NVDIMM-backed segments, mapped at
// startup and never unmapped during the run.
type nvSegmentRing struct {
	slots []*nvSegment
	size  int64
}

func openNVRing(nvRoot string, n int, segmentSize int64) (*nvSegmentRing, error) {
	ring := &nvSegmentRing{slots: make([]*nvSegment, n), size: segmentSize}
	for i := 0; i < n; i++ {
		seg, err := createNVSegment(nvRoot, i, segmentSize)
		if err != nil {
			ring.close()
			return nil, err
		}
		ring.slots[i] = seg
	}
	return ring, nil
}

// createNVSegment opens (creating if necessary) ring slot index i's
// backing file, preallocates and zero-fills it to segmentSize, and
// mmaps it MAP_SHARED. dsid is set to slotIndex+1, the first generation
// occupying this slot.
func createNVSegment(nvRoot string, slotIndex int, segmentSize int64) (*nvSegment, error) {
	// Slot files are named by their ring index, not by dsid, since a
	// slot is reused by every dsid congruent to slotIndex mod N.
	path := fmt.Sprintf("%s/nvwal-segment-slot-%d", nvRoot, slotIndex)
	existed := fileExists(path)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, privateFileMode)
	if err != nil {
		return nil, fmt.Errorf("open nv segment slot %d: %w", slotIndex, err)
	}
	if !existed {
		if err := preallocate(f, segmentSize); err != nil {
			f.Close()
			return nil, fmt.Errorf("preallocate nv segment slot %d: %w", slotIndex, err)
		}
	}
	region, err := mmapFile(f, int(segmentSize))
	if err != nil {
		f.Close()
		return nil, err
	}
	seg := &nvSegment{region: region, f: f, size: segmentSize}
	seg.dsid.Store(uint64(slotIndex + 1))
	// A freshly assigned slot's first generation has no prior occupant
	// to wait on: mark it fsyncCompleted so rotateSegment can claim it
	// immediately during the ring's initial fill, before any dsid has
	// wrapped around to reuse this slot. recoverRingState overwrites
	// this for slots within the recovered window on restart.
	seg.fsyncCompleted.Store(true)
	return seg, nil
}

// slotFor returns the ring slot currently (or to be) occupied by dsid.
func (r *nvSegmentRing) slotFor(dsid uint64) *nvSegment {
	return r.slots[(dsid-1)%uint64(len(r.slots))]
}

func (r *nvSegmentRing) close() error {
	var first error
	for _, seg := range r.slots {
		if seg == nil {
			continue
		}
		if err := munmapRegion(seg.region); err != nil && first == nil {
			first = err
		}
		if seg.f != nil {
			if err := seg.f.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

// recycle resets a slot for next_dsid after the fsyncer has finished
// with its previous contents. Caller must have already won the
// nvReaderPins CAS (0 -> -1).
func (seg *nvSegment) recycle(nextDSID uint64) {
	seg.writtenBytes.Store(0)
	seg.fsyncRequested.Store(false)
	seg.fsyncCompleted.Store(false)
	seg.fsyncErr.Store(nil)
	seg.dsid.Store(nextDSID)
	// release-store: exposes the slot to cursors again.
	seg.nvReaderPins.Store(0)
}

// tryAcquireExclusive attempts the 0 -> -1 CAS that hands the slot
// exclusively to the flusher for recycling. Returns false if cursors
// currently hold pins.
func (seg *nvSegment) tryAcquireExclusive() bool {
	return seg.nvReaderPins.CompareAndSwap(0, -1)
}

// pin increments the reader-pin count, used by cursors materialising
// bytes directly from NVDIMM. Returns false if the slot is currently
// exclusive to the flusher (pins == -1), in which case the caller must
// retry.
func (seg *nvSegment) pin() bool {
	for {
		cur := seg.nvReaderPins.Load()
		if cur < 0 {
			return false
		}
		if seg.nvReaderPins.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// unpin releases a pin acquired by pin().
func (seg *nvSegment) unpin() {
	seg.nvReaderPins.Add(-1)
}
