package nvwal

import (
	"runtime"
	"sync/atomic"

	"go.uber.org/zap"
)

// flusher is the single background agent that copies
// writer-buffer bytes into the current NV segment, rotates segments,
// and concludes epochs (writes MDS metadata, advances durable_epoch).
type flusher struct {
	cfg     *Config
	cb      *controlBlock
	writers []*Writer
	ring    *nvSegmentRing
	mds     *MDS
	logger  *zap.Logger

	state stateCell

	// stableEpoch mirrors the client-supplied SE: the
	// flusher may conclude any epoch <= stableEpoch.
	stableEpoch atomic.Uint64

	segSize int64

	currentDSID uint64
	curSeg      *nvSegment

	// epoch head: the (dsid, offset) of the first byte not yet
	// attributed to a concluded epoch.
	epochHeadDSID   uint64
	epochHeadOffset int64
}

func newFlusher(cfg *Config, cb *controlBlock, writers []*Writer, ring *nvSegmentRing, mds *MDS, logger *zap.Logger, resumeDSID uint64, resumeOffset int64) *flusher {
	fl := &flusher{
		cfg:         cfg,
		cb:          cb,
		writers:     writers,
		ring:        ring,
		mds:         mds,
		logger:      logger,
		segSize:     cfg.segmentSize(),
		currentDSID: resumeDSID,
		curSeg:      ring.slotFor(resumeDSID),
	}
	fl.epochHeadDSID = resumeDSID
	fl.epochHeadOffset = resumeOffset
	return fl
}

// AdvanceStableEpoch records the client's declaration that all epochs
// up to e are logically complete, unblocking the flusher to conclude
// them.
func (fl *flusher) AdvanceStableEpoch(e Epoch) {
	for {
		cur := fl.stableEpoch.Load()
		if !after(e, Epoch(cur)) {
			return
		}
		if fl.stableEpoch.CompareAndSwap(cur, uint64(e)) {
			return
		}
	}
}

func (fl *flusher) requestStop() { fl.state.requestStop() }
func (fl *flusher) lastError() error { return fl.state.lastError() }

// run is the flusher's main loop.
func (fl *flusher) run() {
	fl.state.store(stateRunning)
	for {
		if fl.state.stopRequested() {
			fl.state.finish(nil)
			return
		}

		de := fl.cb.DurableEpoch()
		target := increment(de)
		isStable := !after(target, Epoch(fl.stableEpoch.Load()))

		for _, w := range fl.writers {
			if fl.state.stopRequested() {
				fl.state.finish(nil)
				return
			}
			if err := fl.copyWriterTarget(w, target); err != nil {
				fl.logger.Error("flusher copy failed", zap.Error(err))
				fl.state.finish(err)
				return
			}
		}

		if isStable && fl.targetReady(target) {
			if err := fl.concludeEpoch(target); err != nil {
				fl.logger.Error("flusher epoch conclusion failed", zap.Error(err))
				fl.state.finish(err)
				return
			}
			fl.retireTarget(target)
		}

		runtime.Gosched()
	}
}

// targetReady reports whether every writer's copy of target's bytes (if
// any) has fully drained this round, the precondition for concluding
// target.
func (fl *flusher) targetReady(target Epoch) bool {
	for _, w := range fl.writers {
		idx := w.oldestFrame.Load()
		slot := &w.frames[idx]
		if Epoch(slot.logEpoch.Load()) == target && slot.head.Load() != slot.tail.Load() {
			return false
		}
	}
	return true
}

// retireTarget zeros and advances past every writer's frame for the
// just-concluded target epoch.
func (fl *flusher) retireTarget(target Epoch) {
	for _, w := range fl.writers {
		idx := w.oldestFrame.Load()
		slot := &w.frames[idx]
		if Epoch(slot.logEpoch.Load()) != target {
			continue
		}
		slot.logEpoch.Store(uint64(InvalidEpoch))
		slot.head.Store(0)
		slot.tail.Store(0)
		w.oldestFrame.Store((idx + 1) % int32(len(w.frames)))
	}
}

// copyWriterTarget drains all currently-available bytes of w's frame
// for target into the NV segment ring, rotating segments as they fill.
func (fl *flusher) copyWriterTarget(w *Writer, target Epoch) error {
	for {
		idx := w.oldestFrame.Load()
		slot := &w.frames[idx]
		le := Epoch(slot.logEpoch.Load())
		if le != target {
			// Either nothing written for target yet, or (per the
			// zero-byte-epoch case) this writer never will.
			return nil
		}

		head := int(slot.head.Load())
		tail := int(slot.tail.Load())
		dist := circularDistance(head, tail, w.bufSize)
		if dist == 0 {
			return nil
		}

		remaining := int(fl.segSize - fl.curSeg.writtenBytes.Load())
		n := dist
		if n > remaining {
			n = remaining
		}
		if n > 0 {
			fl.copyIntoSegment(w, head, n)
			fl.curSeg.writtenBytes.Add(int64(n))
			head = circularAdd(head, n, w.bufSize)
			slot.head.Store(uint64(head))
		}

		if fl.curSeg.writtenBytes.Load() == fl.segSize {
			if err := fl.rotateSegment(); err != nil {
				return err
			}
			continue
		}
		return nil
	}
}

// copyIntoSegment performs the non-draining persistent-memory copy of
// the per-writer copy step: n bytes from w's buffer starting at
// head (wrapping at most once) into the current segment starting at
// its current writtenBytes offset.
func (fl *flusher) copyIntoSegment(w *Writer, head, n int) {
	off := int(fl.curSeg.writtenBytes.Load())
	dst := fl.curSeg.region[off : off+n]
	circularMemcpy(dst, w.buf, w.bufSize, head, n)
}

// rotateSegment hands the current segment to the fsyncer and acquires
// the next ring slot.
func (fl *flusher) rotateSegment() error {
	cur := fl.curSeg
	cur.fsyncRequested.Store(true) // release: hands ownership to the fsyncer

	nextDSID := fl.currentDSID + 1
	next := fl.ring.slotFor(nextDSID)

	for !next.fsyncCompleted.Load() {
		if fl.state.stopRequested() {
			return ErrCancelled
		}
		if errP := next.fsyncErr.Load(); errP != nil && *errP != nil {
			return *errP
		}
		runtime.Gosched()
	}
	if errP := next.fsyncErr.Load(); errP != nil && *errP != nil {
		return *errP
	}

	for !next.tryAcquireExclusive() {
		runtime.Gosched()
	}
	next.recycle(nextDSID)

	fl.currentDSID = nextDSID
	fl.curSeg = next
	return nil
}

// concludeEpoch persists and publishes target as newly durable.
func (fl *flusher) concludeEpoch(target Epoch) error {
	rec := mdsRecord{
		EpochID:    target,
		FromSegID:  fl.epochHeadDSID,
		FromOffset: uint64(fl.epochHeadOffset),
		ToSegID:    fl.currentDSID,
		ToOffset:   uint64(fl.curSeg.writtenBytes.Load()),
	}

	if err := fl.persistEpochRange(rec); err != nil {
		return err
	}
	if err := fl.mds.WriteEpoch(rec); err != nil {
		return err
	}
	if err := fl.cb.persistDurableEpoch(target); err != nil {
		return err
	}
	fl.cb.publishDurableEpoch(target)

	fl.epochHeadDSID = fl.currentDSID
	fl.epochHeadOffset = fl.curSeg.writtenBytes.Load()
	return nil
}

// persistEpochRange flush+fences the exact byte ranges the concluding
// epoch spans, for every dsid that hasn't already been handed to the
// fsyncer and recycled out of its NV slot — one persist call per
// affected range per epoch.
func (fl *flusher) persistEpochRange(rec mdsRecord) error {
	for dsid := rec.FromSegID; dsid <= rec.ToSegID; dsid++ {
		slot := fl.ring.slotFor(dsid)
		if slot.dsid.Load() != dsid {
			// Already recycled for a later dsid: its bytes reached
			// disk via the fsyncer and don't need an NV persist.
			continue
		}
		start := int64(0)
		if dsid == rec.FromSegID {
			start = int64(rec.FromOffset)
		}
		end := fl.segSize
		if dsid == rec.ToSegID {
			end = int64(rec.ToOffset)
		}
		if end <= start {
			continue
		}
		if err := persistRange(slot.region, int(start), int(end-start)); err != nil {
			return err
		}
	}
	return nil
}
