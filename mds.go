package nvwal

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// kPrefetch is a record-count bound for on-disk MDS reads. No read path
// uses it: ReadOne's on-disk fallback (readFromDisk) reads exactly one
// record per pread and keeps no prefetch cache.
const kPrefetch = 64

// mdsBuffer is the single NVDIMM-resident write buffer for one of the P
// rotating page-file slots. localPageNo is
// the 1-based sequence number of the page currently buffered *within
// this file*; 0 means empty. Page addressing is split into a global
// page index (spanning all files, used to pick the file and the
// in-file sequence number) and this file-local sequence, exactly
// mirroring the buffer-manager contract stated in terms of
// "buffer.page_no".
type mdsBuffer struct {
	// localPageNo is read lock-free by cursors: copy the record out,
	// then re-read page_no; if unchanged, the read is valid. It is
	// written only by the MDS writer path under MDS.mu.
	localPageNo atomic.Uint64 // 0 = empty
	dirty       bool          // writer-only, guarded by MDS.mu

	region []byte // mmap'd, one page (pageSize bytes)
	f      *os.File

	fileSlot int
}

// MDS is the metadata store: a persistent, page-indexed catalogue of
// epoch records. It is the only on-disk structure readers
// (Cursor) must consult to locate log bytes.
type MDS struct {
	diskRoot string
	nvRoot   string

	pageSize       int
	recordsPerPage uint64 // K
	fileCount      int    // P

	buffers   []*mdsBuffer
	pageFiles []*os.File // one append-only file per slot, disk-resident

	latestEpoch uint64 // protected by mu; highest epoch_id ever written
	mu          sync.Mutex

	cb     *controlBlock
	logger *zap.Logger
}

// pageIndex returns g(e): the 1-based global page index holding epoch
// e. Page 0 is reserved as the buffer-manager's "empty" sentinel, so
// epoch 1 must not land on page 0 — hence the (e-1) form rather than
// the bare e/K the prose abbreviates, which is the reading that makes
// the MDS page-rollover behavior (epoch 65 rolling onto a fresh page
// after epochs 1..64 fill exactly one page) consistent.
func (m *MDS) pageIndex(e Epoch) uint64 {
	return (uint64(e)-1)/m.recordsPerPage + 1
}

// offsetInPage returns the record slot within its page.
func (m *MDS) offsetInPage(e Epoch) uint64 {
	return (uint64(e) - 1) % m.recordsPerPage
}

// fileSlot returns f(e): which of the P rotating page files owns e's
// page, chosen by the page index so that consecutive pages round-robin
// across files and each file's own pages stay strictly increasing.
func (m *MDS) fileSlot(pageIdx uint64) int {
	return int((pageIdx - 1) % uint64(m.fileCount))
}

// localPageNo returns the 1-based sequence number of pageIdx within its
// owning file.
func (m *MDS) localPageNo(pageIdx uint64) uint64 {
	return (pageIdx-1)/uint64(m.fileCount) + 1
}

func openMDS(cfg *Config, cb *controlBlock, logger *zap.Logger) (*MDS, error) {
	pageSize := cfg.mdsPageSize()
	m := &MDS{
		diskRoot:       cfg.DiskRoot,
		nvRoot:         cfg.NVRoot,
		pageSize:       pageSize,
		recordsPerPage: uint64(pageSize / mdsRecordSize),
		fileCount:      mdsPageFileCount,
		buffers:        make([]*mdsBuffer, mdsPageFileCount),
		pageFiles:      make([]*os.File, mdsPageFileCount),
		cb:             cb,
		logger:         logger,
	}

	for i := 0; i < m.fileCount; i++ {
		buf, pf, err := openMDSSlot(cfg.NVRoot, cfg.DiskRoot, i, pageSize, cfg.Mode)
		if err != nil {
			m.close()
			return nil, err
		}
		m.buffers[i] = buf
		m.pageFiles[i] = pf
	}

	if err := m.recover(cfg.Mode); err != nil {
		m.close()
		return nil, err
	}
	return m, nil
}

func openMDSSlot(nvRoot, diskRoot string, i, pageSize int, mode InitMode) (*mdsBuffer, *os.File, error) {
	bufPath := mdsBufferPath(nvRoot, i)
	existed := fileExists(bufPath)
	bf, err := os.OpenFile(bufPath, os.O_CREATE|os.O_RDWR, privateFileMode)
	if err != nil {
		return nil, nil, fmt.Errorf("open mds buffer %d: %w", i, err)
	}
	if !existed || mode == CreateTruncate {
		if err := bf.Truncate(int64(pageSize)); err != nil {
			bf.Close()
			return nil, nil, err
		}
	}
	region, err := mmapFile(bf, pageSize)
	if err != nil {
		bf.Close()
		return nil, nil, err
	}

	pagePath := mdsPageFilePath(diskRoot, i)
	if mode == CreateTruncate {
		os.Remove(pagePath)
	}
	pf, err := os.OpenFile(pagePath, os.O_CREATE|os.O_RDWR, privateFileMode)
	if err != nil {
		munmapRegion(region)
		bf.Close()
		return nil, nil, err
	}
	if err := lockFileNonBlocking(pf); err != nil {
		pf.Close()
		munmapRegion(region)
		bf.Close()
		return nil, nil, fmt.Errorf("lock mds page file %d: %w", i, err)
	}

	buf := &mdsBuffer{region: region, f: bf, fileSlot: i}
	return buf, pf, nil
}

func (m *MDS) close() error {
	var first error
	for _, b := range m.buffers {
		if b == nil {
			continue
		}
		if err := munmapRegion(b.region); err != nil && first == nil {
			first = err
		}
		if b.f != nil {
			if err := b.f.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	for _, f := range m.pageFiles {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// WriteEpoch persists one epoch's metadata record. It resolves the
// record's page/file/offset, acquires (retrying once across a
// writeback + paged_mds_epoch bump on ErrNoBuffers) the owning buffer,
// persistent-copies the record, advances latestEpoch, and durably
// updates CB's durable_epoch. A second ErrNoBuffers after the retry is
// a fatal configuration problem (too few page-file slots for the
// write rate) rather than something write_epoch itself can resolve,
// matching the "a second failure is fatal" policy of epoch conclusion.
func (m *MDS) WriteEpoch(r mdsRecord) error {
	if err := m.tryWriteEpoch(r); err == nil {
		return nil
	} else if err != ErrNoBuffers {
		return err
	}

	if err := m.Writeback(); err != nil {
		return err
	}
	if err := m.cb.setPagedMDSEpoch(Epoch(m.latestEpochSnapshot())); err != nil {
		return err
	}
	if err := m.tryWriteEpoch(r); err != nil {
		fatalf(m.logger, "mds write_epoch failed twice for epoch %s: %v", r.EpochID, err)
	}
	return nil
}

func (m *MDS) latestEpochSnapshot() Epoch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Epoch(m.latestEpoch)
}

func (m *MDS) tryWriteEpoch(r mdsRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pageIdx := m.pageIndex(r.EpochID)
	slot := m.fileSlot(pageIdx)
	offset := m.offsetInPage(r.EpochID)
	localPageNo := m.localPageNo(pageIdx)

	buf := m.buffers[slot]
	if err := m.acquireBufferLocked(buf, localPageNo); err != nil {
		return err
	}

	enc := encodeMDSRecord(r)
	recOff := int(offset) * mdsRecordSize
	copy(buf.region[recOff:recOff+mdsRecordSize], enc[:])
	if err := persistRange(buf.region, recOff, mdsRecordSize); err != nil {
		return err
	}
	buf.dirty = true

	if after(r.EpochID, Epoch(m.latestEpoch)) {
		m.latestEpoch = uint64(r.EpochID)
	}

	// The write path durably updates durable_epoch itself, in addition
	// to the flusher's own persist of the same value during epoch
	// conclusion. Both writes carry the same value, so the apparent
	// double-persist is idempotent.
	return m.cb.persistDurableEpoch(r.EpochID)
}

// acquireBufferLocked implements the buffer-manager allocation policy:
// an empty buffer adopts the requested page; the page already buffered
// is reused; the next local page recycles the buffer only if it is
// clean, else ErrNoBuffers; any other request is fatal. Caller holds m.mu.
func (m *MDS) acquireBufferLocked(buf *mdsBuffer, localPageNo uint64) error {
	cur := buf.localPageNo.Load()
	switch {
	case cur == 0:
		clearRegion(buf.region)
		buf.localPageNo.Store(localPageNo)
		buf.dirty = true
		return nil
	case cur == localPageNo:
		return nil
	case localPageNo == cur+1:
		if buf.dirty {
			return ErrNoBuffers
		}
		clearRegion(buf.region)
		buf.localPageNo.Store(localPageNo)
		buf.dirty = true
		return nil
	default:
		fatalf(m.logger, "mds buffer manager contract violated: file slot %d at local page %d requested page %d",
			buf.fileSlot, cur, localPageNo)
		return nil // unreachable
	}
}

func clearRegion(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Writeback appends every dirty buffer to its page file and marks it
// clean. Always called before advancing
// paged_mds_epoch. writeback-then-immediate-writeback is a no-op
// because clean buffers are skipped.
func (m *MDS) Writeback() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, buf := range m.buffers {
		if !buf.dirty {
			continue
		}
		pf := m.pageFiles[i]
		offset := int64(buf.localPageNo.Load()-1) * int64(m.pageSize)
		if err := writeAllAt(pf, buf.region, offset); err != nil {
			return fmt.Errorf("mds writeback slot %d: %w", i, err)
		}
		if err := fsync(pf); err != nil {
			return fmt.Errorf("mds writeback fsync slot %d: %w", i, err)
		}
		buf.dirty = false
	}
	return nil
}

func writeAllAt(f *os.File, data []byte, offset int64) error {
	written := 0
	for written < len(data) {
		n, err := f.WriteAt(data[written:], offset+int64(written))
		written += n
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("short write at offset %d", offset)
		}
	}
	return nil
}
