package nvwal

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"
)

// cbFileName is the well-known control-block file name under nv_root.
const cbFileName = "nvwal-controlblock"

// cbLayoutSize is the on-NV footprint of the control block, rounded up
// to a cache-line-ish 64 bytes so each field's persist call touches a
// single failure-atomic unit.
const cbLayoutSize = 64

// controlBlock is the cache-aligned, NVDIMM-resident struct holding the
// three numbers recovery is built from: durable_epoch, paged_mds_epoch,
// last_synced_dsid. It is backed by a single mmap'd file; each field's
// setter pairs a
// plain store with persistRange over just that field's bytes, and an
// in-memory atomic mirror for lock-free concurrent reads.
type controlBlock struct {
	region []byte // mmap'd cbLayoutSize bytes
	f      *os.File

	// In-memory mirrors, updated immediately after the corresponding
	// persistent write (for durable_epoch, by a separate
	// publishDurableEpoch call once persistDurableEpoch has returned —
	// see flusher.go).
	durableEpoch   atomic.Uint64
	pagedMDSEpoch  atomic.Uint64
	lastSyncedDSID atomic.Uint64
}

// cb layout offsets within the mmap'd region.
const (
	cbOffDurableEpoch   = 0
	cbOffPagedMDSEpoch  = 8
	cbOffLastSyncedDSID = 16
)

func openControlBlock(nvRoot string, mode InitMode, resumingEpoch Epoch) (*controlBlock, error) {
	path := nvRoot + "/" + cbFileName
	existed := fileExists(path)
	if !existed && mode == Restart {
		return nil, fmt.Errorf("restart: control block %s does not exist", path)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, privateFileMode)
	if err != nil {
		return nil, fmt.Errorf("open control block: %w", err)
	}
	if !existed || mode == CreateTruncate {
		if err := f.Truncate(cbLayoutSize); err != nil {
			f.Close()
			return nil, fmt.Errorf("truncate control block: %w", err)
		}
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.Size() < cbLayoutSize {
		if err := f.Truncate(cbLayoutSize); err != nil {
			f.Close()
			return nil, err
		}
	}

	region, err := mmapFile(f, cbLayoutSize)
	if err != nil {
		f.Close()
		return nil, err
	}

	cb := &controlBlock{region: region, f: f}
	if !existed || mode == CreateTruncate {
		cb.durableEpoch.Store(uint64(resumingEpoch))
		cb.pagedMDSEpoch.Store(uint64(resumingEpoch))
		cb.lastSyncedDSID.Store(0)
		if err := cb.persistAll(); err != nil {
			cb.close()
			return nil, err
		}
	} else {
		cb.reload()
	}
	return cb, nil
}

// reload repopulates the in-memory mirrors from the persisted region,
// used at Restart.
func (cb *controlBlock) reload() {
	cb.durableEpoch.Store(loadUint64(cb.region, cbOffDurableEpoch))
	cb.pagedMDSEpoch.Store(loadUint64(cb.region, cbOffPagedMDSEpoch))
	cb.lastSyncedDSID.Store(loadUint64(cb.region, cbOffLastSyncedDSID))
}

func (cb *controlBlock) persistAll() error {
	storeUint64(cb.region, cbOffDurableEpoch, cb.durableEpoch.Load())
	storeUint64(cb.region, cbOffPagedMDSEpoch, cb.pagedMDSEpoch.Load())
	storeUint64(cb.region, cbOffLastSyncedDSID, cb.lastSyncedDSID.Load())
	return persistRange(cb.region, 0, cbLayoutSize)
}

// persistDurableEpoch durably writes e to the persistent durable_epoch
// field without touching the in-memory mirror. Both the MDS write path
// and the flusher's epoch conclusion call this explicitly; splitting it
// from the volatile publish below is a two-level design: readers only
// ever see the volatile mirror, which is published separately once the
// persistent write (here, or redundantly again at conclusion) is safely
// on NVDIMM.
func (cb *controlBlock) persistDurableEpoch(e Epoch) error {
	storeUint64(cb.region, cbOffDurableEpoch, uint64(e))
	return persistRange(cb.region, cbOffDurableEpoch, 8)
}

// publishDurableEpoch makes e visible to cursors via the in-memory
// mirror. Must only be called after persistDurableEpoch(e) has
// completed for the same or a later value.
func (cb *controlBlock) publishDurableEpoch(e Epoch) {
	cb.durableEpoch.Store(uint64(e))
}

// setDurableEpoch persists and publishes e as a single unit, used at
// rollback where there is no separate MDS write path to have already
// persisted the value.
func (cb *controlBlock) setDurableEpoch(e Epoch) error {
	if err := cb.persistDurableEpoch(e); err != nil {
		return err
	}
	cb.publishDurableEpoch(e)
	return nil
}

func (cb *controlBlock) setPagedMDSEpoch(e Epoch) error {
	storeUint64(cb.region, cbOffPagedMDSEpoch, uint64(e))
	if err := persistRange(cb.region, cbOffPagedMDSEpoch, 8); err != nil {
		return err
	}
	cb.pagedMDSEpoch.Store(uint64(e))
	return nil
}

func (cb *controlBlock) setLastSyncedDSID(dsid uint64) error {
	storeUint64(cb.region, cbOffLastSyncedDSID, dsid)
	if err := persistRange(cb.region, cbOffLastSyncedDSID, 8); err != nil {
		return err
	}
	cb.lastSyncedDSID.Store(dsid)
	return nil
}

func (cb *controlBlock) DurableEpoch() Epoch    { return Epoch(cb.durableEpoch.Load()) }
func (cb *controlBlock) PagedMDSEpoch() Epoch   { return Epoch(cb.pagedMDSEpoch.Load()) }
func (cb *controlBlock) LastSyncedDSID() uint64 { return cb.lastSyncedDSID.Load() }

func (cb *controlBlock) close() error {
	if cb.region != nil {
		if err := munmapRegion(cb.region); err != nil {
			cb.f.Close()
			return err
		}
		cb.region = nil
	}
	return cb.f.Close()
}

func loadUint64(region []byte, offset int) uint64 {
	return *(*uint64)(unsafe.Pointer(&region[offset]))
}

func storeUint64(region []byte, offset int, v uint64) {
	*(*uint64)(unsafe.Pointer(&region[offset])) = v
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
