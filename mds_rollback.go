package nvwal

import "go.uber.org/zap"

// RollbackToEpoch discards durability state beyond e: durable_epoch is set
// to e, and if e already had metadata paged out to disk beyond e, that
// disk state is truncated away and paged_mds_epoch is reset. The
// engine's supervisor must have the flusher stopped before calling
// this — it is destructive and not safe to run concurrently with
// optimistic readers.
func (m *MDS) RollbackToEpoch(e Epoch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.rollbackLocked(e); err != nil {
		return err
	}
	return m.cb.setDurableEpoch(e)
}

// rollbackLocked performs the MDS-side truncation only; the caller is
// responsible for the CB durable_epoch write (recovery's replay path
// calls this directly because durable_epoch is already authoritative
// on NVDIMM and must not be rewritten with a stale value).
func (m *MDS) rollbackLocked(e Epoch) error {
	pe := m.cb.PagedMDSEpoch()
	if !after(pe, e) {
		// paged_mds_epoch already at or below the rollback target:
		// nothing on disk needs truncating.
		m.latestEpoch = uint64(e)
		return nil
	}

	var boundaryPageIdx uint64
	if e == InvalidEpoch {
		boundaryPageIdx = 0
	} else {
		boundaryPageIdx = m.pageIndex(e)
	}

	for s := 0; s < m.fileCount; s++ {
		localMax := m.lastValidLocalPage(s, boundaryPageIdx)
		pf := m.pageFiles[s]
		info, err := pf.Stat()
		if err != nil {
			return err
		}
		targetSize := int64(localMax) * int64(m.pageSize)
		if info.Size() > targetSize {
			if err := pf.Truncate(targetSize); err != nil {
				return err
			}
			if err := fsync(pf); err != nil {
				return err
			}
		}
	}

	if e != InvalidEpoch {
		if err := m.reloadBoundaryPageLocked(e, boundaryPageIdx); err != nil {
			return err
		}
	}

	newPaged := Epoch((boundaryPageIdx - 1) * m.recordsPerPage)
	if boundaryPageIdx == 0 {
		newPaged = InvalidEpoch
	}
	if err := m.cb.setPagedMDSEpoch(newPaged); err != nil {
		return err
	}
	m.latestEpoch = uint64(e)
	return nil
}

// lastValidLocalPage returns, for file slot s, the highest local page
// number whose global page index is <= boundaryPageIdx, i.e. how many
// pages of s's file remain valid after rollback.
func (m *MDS) lastValidLocalPage(s int, boundaryPageIdx uint64) uint64 {
	first := uint64(s + 1) // file s's first global page index
	if boundaryPageIdx < first {
		return 0
	}
	return (boundaryPageIdx-first)/uint64(m.fileCount) + 1
}

// reloadBoundaryPageLocked ensures the buffer owning e's page reflects
// truthful content after truncation. If that buffer already holds the
// boundary page live (the common case when e is recent), it is left in
// place and just marked dirty, since its on-disk copy was just
// truncated away. Otherwise the page is read back from disk (or
// zero-filled if it was never written back).
func (m *MDS) reloadBoundaryPageLocked(e Epoch, boundaryPageIdx uint64) error {
	slot := m.fileSlot(boundaryPageIdx)
	localPageNo := m.localPageNo(boundaryPageIdx)
	buf := m.buffers[slot]

	if buf.localPageNo.Load() == localPageNo {
		buf.dirty = true
		return nil
	}

	pf := m.pageFiles[slot]
	offset := int64(localPageNo-1) * int64(m.pageSize)
	n, err := pf.ReadAt(buf.region, offset)
	if err != nil && n != len(buf.region) {
		clearRegion(buf.region)
		m.logger.Warn("mds rollback: boundary page was never written back, zero-filling",
			zap.Uint64("epoch", uint64(e)))
	}
	buf.localPageNo.Store(localPageNo)
	buf.dirty = true
	return nil
}
