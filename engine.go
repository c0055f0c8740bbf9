// Package nvwal implements an epoch-granularity write-ahead log engine
// over a byte-addressable NVDIMM tier backed by a block-device tier.
// Writers append bytes tagged with a client-chosen epoch; a background
// flusher batches those bytes onto NVDIMM and concludes epochs once the
// client declares them stable; a background fsyncer seals concluded
// NVDIMM segments onto disk; cursors replay epoch ranges back out.
package nvwal

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
)

// version is bumped whenever the on-disk/on-NV layout changes in a way
// that affects recovery compatibility.
const version = 1

// Engine is the top-level handle returned by Open. One Engine owns one
// nv_root/disk_root pair, its writer contexts, and the flusher/fsyncer
// background agents.
type Engine struct {
	cfg    Config
	logger *zap.Logger

	cb      *controlBlock
	ring    *nvSegmentRing
	mds     *MDS
	writers []*Writer

	fl *flusher
	fs *fsyncer

	wg sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// Version reports the engine's on-disk/on-NV layout version.
func (e *Engine) Version() int { return version }

// Open validates cfg, creates or recovers nv_root/disk_root, and starts
// the flusher and fsyncer agents. Callers must call Close to stop the
// agents and release mmap'd regions.
func Open(cfg Config, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.NVRoot, privateDirMode); err != nil {
		return nil, fmt.Errorf("create nv_root: %w", err)
	}
	if err := os.MkdirAll(cfg.DiskRoot, privateDirMode); err != nil {
		return nil, fmt.Errorf("create disk_root: %w", err)
	}

	cb, err := openControlBlock(cfg.NVRoot, cfg.Mode, cfg.ResumingEpoch)
	if err != nil {
		return nil, err
	}

	ring, err := openNVRing(cfg.NVRoot, cfg.nvSegmentCount(), cfg.segmentSize())
	if err != nil {
		cb.close()
		return nil, err
	}

	mds, err := openMDS(&cfg, cb, logger)
	if err != nil {
		ring.close()
		cb.close()
		return nil, err
	}

	writers, err := openWriters(&cfg, logger)
	if err != nil {
		mds.close()
		ring.close()
		cb.close()
		return nil, err
	}

	resumeDSID, resumeOffset, err := recoverRingState(ring, mds, cb)
	if err != nil {
		mds.close()
		ring.close()
		cb.close()
		return nil, err
	}

	fl := newFlusher(&cfg, cb, writers, ring, mds, logger, resumeDSID, resumeOffset)
	fs := newFsyncer(cfg.DiskRoot, ring, cb, logger)
	fs.nextDSID = cb.LastSyncedDSID() + 1

	e := &Engine{
		cfg:     cfg,
		logger:  logger,
		cb:      cb,
		ring:    ring,
		mds:     mds,
		writers: writers,
		fl:      fl,
		fs:      fs,
	}

	e.wg.Add(2)
	go func() { defer e.wg.Done(); fl.run() }()
	go func() { defer e.wg.Done(); fs.run() }()

	return e, nil
}

func openWriters(cfg *Config, logger *zap.Logger) ([]*Writer, error) {
	writers := make([]*Writer, cfg.WriterCount)
	frameCount := cfg.frameCount()
	for i := 0; i < cfg.WriterCount; i++ {
		var buf []byte
		if cfg.WriterBuffers != nil {
			buf = cfg.WriterBuffers[i]
			if len(buf) != cfg.WriterBufferSize {
				return nil, invalidf("writer_buffers[%d] has length %d, want %d", i, len(buf), cfg.WriterBufferSize)
			}
		} else {
			buf = make([]byte, cfg.WriterBufferSize)
		}
		writers[i] = newWriter(i, buf, frameCount, logger)
	}
	return writers, nil
}

// Writer returns the i-th writer context, 0 <= i < WriterCount.
func (e *Engine) Writer(i int) *Writer { return e.writers[i] }

// WriterCount returns the number of writer contexts.
func (e *Engine) WriterCount() int { return len(e.writers) }

// Err reports the first non-nil error raised by the flusher or the
// fsyncer, if either has died. Once a background agent dies it stops
// making progress silently; public query operations consult this so
// callers don't keep reading stale state forever instead of learning
// the engine can no longer durably advance.
func (e *Engine) Err() error {
	if err := e.fl.lastError(); err != nil {
		return fmt.Errorf("%w: flusher: %v", ErrEngineNotRunning, err)
	}
	if err := e.fs.lastError(); err != nil {
		return fmt.Errorf("%w: fsyncer: %v", ErrEngineNotRunning, err)
	}
	return nil
}

// QueryDurableEpoch returns the highest epoch known fully persisted.
func (e *Engine) QueryDurableEpoch() (Epoch, error) {
	if err := e.Err(); err != nil {
		return InvalidEpoch, err
	}
	return e.cb.DurableEpoch(), nil
}

// AdvanceStableEpoch declares every epoch up to e logically complete,
// unblocking the flusher to conclude them.
func (e *Engine) AdvanceStableEpoch(se Epoch) error {
	if err := e.Err(); err != nil {
		return err
	}
	e.fl.AdvanceStableEpoch(se)
	return nil
}

// NewCursor returns a Cursor that begins replaying at from (or the
// start of the log if from == InvalidEpoch), bounded by the durable
// epoch visible at call time.
func (e *Engine) NewCursor(from Epoch) (*Cursor, error) {
	if err := e.Err(); err != nil {
		return nil, err
	}
	return newCursor(e.mds, e.ring, e.cfg.DiskRoot, e.cb, e.logger, from), nil
}

// RollbackToEpoch discards all metadata and durability state beyond e.
// The flusher and fsyncer must be stopped first; Engine enforces this
// by requesting their stop and waiting for it before rolling back, then
// the engine is left stopped — callers needing to keep writing must
// Open a fresh Engine afterward.
func (e *Engine) RollbackToEpoch(epoch Epoch) error {
	e.fl.requestStop()
	e.fs.requestStop()
	e.wg.Wait()
	if err := e.fl.lastError(); err != nil {
		return fmt.Errorf("flusher error before rollback: %w", err)
	}
	if err := e.fs.lastError(); err != nil {
		return fmt.Errorf("fsyncer error before rollback: %w", err)
	}
	return e.mds.RollbackToEpoch(epoch)
}

// Close requests the flusher and fsyncer to stop, waits for them, and
// releases all mmap'd regions and file handles. Close is idempotent.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.fl.requestStop()
		e.fs.requestStop()
		e.wg.Wait()

		var errs []error
		if err := e.fl.lastError(); err != nil {
			errs = append(errs, fmt.Errorf("flusher: %w", err))
		}
		if err := e.fs.lastError(); err != nil {
			errs = append(errs, fmt.Errorf("fsyncer: %w", err))
		}
		if err := e.mds.close(); err != nil {
			errs = append(errs, fmt.Errorf("mds: %w", err))
		}
		if err := e.ring.close(); err != nil {
			errs = append(errs, fmt.Errorf("nv ring: %w", err))
		}
		if err := e.cb.close(); err != nil {
			errs = append(errs, fmt.Errorf("control block: %w", err))
		}
		if len(errs) > 0 {
			e.closeErr = errs[0]
		}
	})
	return e.closeErr
}
