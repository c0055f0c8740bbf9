package nvwal

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// frameSlot is one entry in a writer's frame ring. logEpoch == InvalidEpoch means the slot is unused. All three
// fields are touched across goroutines (the owning writer and the
// flusher) and are therefore atomics carrying acquire/release semantics
// rather than plain fields guarded by a mutex — the hot path described
// here is a pointer bump and two release stores, no locks.
type frameSlot struct {
	logEpoch atomic.Uint64
	head     atomic.Uint64 // offset in the writer's buffer; flusher-owned
	tail     atomic.Uint64 // offset in the writer's buffer; writer-owned
}

// Writer is a single writer's ingest context: a private circular buffer
// plus the frame ring that attributes its bytes to epochs. Exactly one goroutine may
// call HasEnoughSpace/OnWrite for a given Writer at a time; the flusher
// is the sole concurrent reader.
type Writer struct {
	id      int
	buf     []byte
	bufSize int

	frames []frameSlot // length F

	// activeFrame is writer-local: only the writer goroutine advances
	// it, so it needs no atomic — the flusher never reads it, only
	// scanning frames by logEpoch starting at oldestFrame.
	activeFrame int

	// oldestFrame is flusher-owned (release-stored on retirement) and
	// writer-read (acquire-loaded in HasEnoughSpace).
	oldestFrame atomic.Int32

	// lastTailOffset caches the active frame's tail for the fast
	// client write path.
	lastTailOffset int

	logger *zap.Logger
}

func newWriter(id int, buf []byte, frameCount int, logger *zap.Logger) *Writer {
	return &Writer{
		id:      id,
		buf:     buf,
		bufSize: len(buf),
		frames:  make([]frameSlot, frameCount),
		// activeFrame starts one slot behind frame 0 (wrapping) so the
		// first OnWrite's advanceFrame lands on frame 0 — matching
		// oldestFrame's zero-valued start rather than skipping past it,
		// which would otherwise strand the writer's first epoch in a
		// frame oldestFrame never looks at.
		activeFrame: frameCount - 1,
		logger:      logger,
	}
}

// Buffer returns the writer's private circular buffer, for the client
// to copy bytes into directly before calling OnWrite.
func (w *Writer) Buffer() []byte { return w.buf }

// TailOffset returns the offset in Buffer() where the client should
// write its next bytes.
func (w *Writer) TailOffset() int { return w.lastTailOffset }

// HasEnoughSpace reports whether the writer may safely submit more
// bytes. Consumed bytes — from the oldest frame's head to the
// cached tail, measured circularly — must be at most B/2; the
// half-buffer threshold reserves headroom for bursts and bounds the
// flusher's worst-case catch-up work.
func (w *Writer) HasEnoughSpace() bool {
	oldest := &w.frames[w.oldestFrame.Load()]
	head := int(oldest.head.Load())
	consumed := circularDistance(head, w.lastTailOffset, w.bufSize)
	return consumed <= w.bufSize/2
}

// OnWrite records that the caller has already copied bytesWritten bytes
// into w's buffer starting at the previous lastTailOffset, tagged with
// logEpoch. The caller must have checked HasEnoughSpace;
// OnWrite assumes space and only performs the internal consistency
// check required for horizon violations.
func (w *Writer) OnWrite(bytesWritten int, logEpoch Epoch) {
	active := &w.frames[w.activeFrame]
	if Epoch(active.logEpoch.Load()) != logEpoch {
		w.advanceFrame(logEpoch)
		active = &w.frames[w.activeFrame]
	}

	w.lastTailOffset = circularAdd(w.lastTailOffset, bytesWritten, w.bufSize)
	active.tail.Store(uint64(w.lastTailOffset))
}

// advanceFrame implements the frame-creation discipline for a new
// epoch (OnWrite reuses the active frame when its epoch already
// matches and calls this only otherwise): advance to the next ring
// slot, which must be unused. Advancing into an in-use
// slot means the writer has violated the upto-plus-two epoch horizon —
// it submitted a new epoch while two prior epochs still have unflushed
// bytes — a fatal programmer error.
func (w *Writer) advanceFrame(logEpoch Epoch) {
	next := (w.activeFrame + 1) % len(w.frames)
	slot := &w.frames[next]
	if Epoch(slot.logEpoch.Load()) != InvalidEpoch {
		fatalf(w.logger, "writer %d: frame horizon violated advancing to epoch %s: slot %d still holds epoch %s",
			w.id, logEpoch, next, Epoch(slot.logEpoch.Load()))
	}
	slot.head.Store(uint64(w.lastTailOffset))
	slot.tail.Store(uint64(w.lastTailOffset))
	// Release-ordered publish: any concurrent flusher observing a
	// non-zero logEpoch must see these offsets already written.
	slot.logEpoch.Store(uint64(logEpoch))
	w.activeFrame = next
}
