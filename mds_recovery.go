package nvwal

import (
	"fmt"
	"os"

	"go.uber.org/zap"
)

// recover reconciles durable state after an open against an existing
// store. On a fresh create there is
// nothing to reconcile; otherwise every page file is checked for a
// trailing torn page, the CB's durable_epoch/paged_mds_epoch pair is
// reconciled (replaying an interrupted rollback if one was caught
// mid-flight), and the buffer for the page containing durable_epoch is
// reloaded from disk.
func (m *MDS) recover(mode InitMode) error {
	if mode == CreateTruncate {
		return nil
	}

	for i, pf := range m.pageFiles {
		if err := recoverPageFile(pf, m.pageSize, m.logger); err != nil {
			return fmt.Errorf("recover mds page file %d: %w", i, err)
		}
	}

	de := m.cb.DurableEpoch()
	pe := m.cb.PagedMDSEpoch()

	if de == InvalidEpoch && pe == InvalidEpoch {
		// Nothing was ever concluded; buffers stay empty.
		return nil
	}

	if after(pe, de) {
		// A crash occurred mid-rollback: paged_mds_epoch outran
		// durable_epoch, which can only happen if a rollback's
		// truncate-and-reset-paged_mds_epoch step completed but its
		// CB write had not yet landed, or vice versa. Replay rollback
		// to the authoritative durable_epoch.
		m.logger.Warn("mds recovery: paged_mds_epoch ahead of durable_epoch, replaying rollback",
			zap.Uint64("paged_mds_epoch", uint64(pe)), zap.Uint64("durable_epoch", uint64(de)))
		return m.rollbackLocked(de)
	}

	return m.reloadBufferForEpoch(de)
}

// reloadBufferForEpoch loads the on-disk page containing e into its
// owning NV buffer (keeping the buffer's own contents when that page
// was never written back) and opportunistically advances latestEpoch past e
// if that same page holds further non-empty records concluded in MDS
// but not yet reflected in durable_epoch.
func (m *MDS) reloadBufferForEpoch(e Epoch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pageIdx := m.pageIndex(e)
	slot := m.fileSlot(pageIdx)
	localPageNo := m.localPageNo(pageIdx)
	buf := m.buffers[slot]
	pf := m.pageFiles[slot]

	offset := int64(localPageNo-1) * int64(m.pageSize)
	n, err := pf.ReadAt(buf.region, offset)
	dirty := false
	if err != nil && n != len(buf.region) {
		// A short/absent read means this page was never written to
		// disk: its only copy is the persisted NV buffer itself, so
		// keep its contents and mark it dirty for the next writeback.
		dirty = true
	}
	buf.localPageNo.Store(localPageNo)
	buf.dirty = dirty

	m.latestEpoch = uint64(e)
	baseEpoch := (pageIdx-1)*m.recordsPerPage + 1
	for off := uint64(0); off < m.recordsPerPage; off++ {
		recOff := int(off) * mdsRecordSize
		rec := buf.region[recOff : recOff+mdsRecordSize]
		if isEmptyRecord(rec) {
			continue
		}
		candidate := decodeMDSRecord(rec).EpochID
		if candidate == baseEpoch+off && after(candidate, Epoch(m.latestEpoch)) {
			m.latestEpoch = uint64(candidate)
		}
	}
	return nil
}

// recoverPageFile truncates any trailing torn page: if the filesystem
// cannot guarantee atomic page append, stat the file, and if its size
// is not a page multiple, round down and fsync.
func recoverPageFile(f *os.File, pageSize int, logger *zap.Logger) error {
	info, err := f.Stat()
	if err != nil {
		return err
	}
	size := info.Size()
	rem := size % int64(pageSize)
	if rem == 0 {
		return nil
	}
	truncated := size - rem
	logger.Warn("mds recovery: truncating torn trailing page",
		zap.String("file", f.Name()), zap.Int64("size", size), zap.Int64("truncated_to", truncated))
	if err := f.Truncate(truncated); err != nil {
		return err
	}
	return fsync(f)
}
