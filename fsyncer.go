package nvwal

import (
	"errors"
	"runtime"

	"go.uber.org/zap"
)

// fsyncer is the background agent that seals each NV segment to disk
// once the flusher has finished writing it, so its NV slot can be
// recycled for a future dsid.
type fsyncer struct {
	diskRoot string
	ring     *nvSegmentRing
	cb       *controlBlock
	logger   *zap.Logger

	state stateCell

	nextDSID uint64
}

func newFsyncer(diskRoot string, ring *nvSegmentRing, cb *controlBlock, logger *zap.Logger) *fsyncer {
	return &fsyncer{diskRoot: diskRoot, ring: ring, cb: cb, logger: logger, nextDSID: 1}
}

func (fs *fsyncer) requestStop() { fs.state.requestStop() }
func (fs *fsyncer) lastError() error { return fs.state.lastError() }

// run walks dsids in order, one per NV ring slot generation, sealing
// each to disk as soon as the flusher marks it fsyncRequested.
func (fs *fsyncer) run() {
	fs.state.store(stateRunning)
	for {
		if fs.state.stopRequested() {
			fs.state.finish(nil)
			return
		}

		seg := fs.ring.slotFor(fs.nextDSID)
		if seg.dsid.Load() != fs.nextDSID || !seg.fsyncRequested.Load() {
			runtime.Gosched()
			continue
		}

		if err := fs.syncOne(seg, fs.nextDSID); err != nil {
			if errors.Is(err, ErrCancelled) {
				// Stopped mid-write: the segment is left fsyncRequested
				// and not fsyncCompleted, so a future fsyncer (this
				// process resumed, or after restart) retries it from
				// scratch rather than being told it's already sealed.
				fs.state.finish(nil)
				return
			}
			fs.logger.Error("fsyncer failed", zap.Uint64("dsid", fs.nextDSID), zap.Error(err))
			seg.fsyncErr.Store(&err)
			seg.fsyncCompleted.Store(true)
			fs.state.finish(err)
			return
		}

		seg.fsyncCompleted.Store(true)
		if err := fs.cb.setLastSyncedDSID(fs.nextDSID); err != nil {
			fs.logger.Error("fsyncer failed to persist last_synced_dsid", zap.Error(err))
			fs.state.finish(err)
			return
		}
		fs.nextDSID++
	}
}

// syncOne copies seg's full contents to its sealed on-disk file and
// fsyncs both the file and its directory. The write is chunked and
// checks fs.state.stopRequested between chunks, so a stop request
// issued mid-segment cancels promptly instead of waiting for the
// whole segment to finish writing.
func (fs *fsyncer) syncOne(seg *nvSegment, dsid uint64) error {
	f, err := openDiskSegmentForWrite(fs.diskRoot, dsid)
	if err != nil {
		return err
	}
	if err := writeFullSegment(f, seg.region, fs.state.stopRequested); err != nil {
		f.Close()
		return err
	}
	return syncSegmentFile(f, fs.diskRoot)
}
