package nvwal

import (
	"fmt"
	"io"

	"go.uber.org/zap"
)

// kCursorPrefetch bounds how many consecutive epoch records a Cursor
// pulls from the metadata store per refill, amortising the cost of
// reads that miss the MDS buffers and fall to disk.
const kCursorPrefetch = 64

// Cursor is a forward epoch-range iterator over durable log bytes. It
// reads metadata from the MDS and materialises the underlying bytes
// either straight out of the NV ring (if the owning segment hasn't
// been recycled yet) or from its sealed on-disk copy.
type Cursor struct {
	mds      *MDS
	ring     *nvSegmentRing
	diskRoot string
	cb       *controlBlock
	logger   *zap.Logger

	next Epoch // next epoch Next() will return
	last Epoch // snapshot of the highest epoch the cursor will read

	metaCache      []mdsRecord
	metaCacheStart Epoch // epoch of metaCache[0]; InvalidEpoch means empty
}

// newCursor constructs a Cursor starting at from, bounded by the
// durable epoch visible at construction time (call Refresh to extend
// the bound as more epochs become durable).
func newCursor(mds *MDS, ring *nvSegmentRing, diskRoot string, cb *controlBlock, logger *zap.Logger, from Epoch) *Cursor {
	if from == InvalidEpoch {
		from = 1
	}
	return &Cursor{
		mds:      mds,
		ring:     ring,
		diskRoot: diskRoot,
		cb:       cb,
		logger:   logger,
		next:     from,
		last:     cb.DurableEpoch(),
	}
}

// Refresh extends the cursor's visible upper bound to the current
// durable epoch, so a long-lived cursor can keep reading as the engine
// durably appends more epochs.
func (c *Cursor) Refresh() {
	c.last = c.cb.DurableEpoch()
}

// Valid reports whether Next has more epochs to return without
// blocking.
func (c *Cursor) Valid() bool {
	return !after(c.next, c.last)
}

// Next returns the next epoch's id and its durable bytes. data is
// empty (not an error) for a zero-byte epoch. Next returns io.EOF once
// the cursor has exhausted the epochs visible as of the last Refresh
// (or construction).
func (c *Cursor) Next() (Epoch, []byte, error) {
	if !c.Valid() {
		return 0, nil, io.EOF
	}
	e := c.next
	rec, ok, err := c.recordFor(e)
	if err != nil {
		return 0, nil, err
	}
	c.next = increment(c.next)
	if !ok {
		// No metadata record was found for e: treat as present with no bytes.
		return e, nil, nil
	}
	data, err := c.materialize(rec)
	if err != nil {
		return 0, nil, err
	}
	return e, data, nil
}

// Seek repositions the cursor so the next call to Next returns e.
func (c *Cursor) Seek(e Epoch) {
	c.next = e
	c.metaCache = nil
	c.metaCacheStart = InvalidEpoch
}

// Close releases resources held by the cursor. A Cursor that only ever
// read via disk files and the lock-free MDS buffer path holds nothing
// that must be released, but Close exists so callers have a stable
// lifecycle hook if future backing stores need one.
func (c *Cursor) Close() error {
	return nil
}

// recordFor returns e's metadata record, consulting (and refilling) the
// prefetch cache before falling to the MDS directly.
func (c *Cursor) recordFor(e Epoch) (mdsRecord, bool, error) {
	if c.metaCacheStart != InvalidEpoch {
		idx := int(int64(e) - int64(c.metaCacheStart))
		if idx >= 0 && idx < len(c.metaCache) {
			return c.metaCache[idx], true, nil
		}
	}

	n := kCursorPrefetch
	cache := make([]mdsRecord, 0, n)
	cur := e
	for i := 0; i < n && !after(cur, c.last); i++ {
		rec, ok, err := c.mds.ReadOne(cur)
		if err != nil {
			return mdsRecord{}, false, err
		}
		if !ok {
			break
		}
		cache = append(cache, rec)
		cur = increment(cur)
	}
	c.metaCache = cache
	c.metaCacheStart = e

	if len(cache) == 0 {
		return mdsRecord{}, false, nil
	}
	return cache[0], true, nil
}

// materialize copies out the bytes spanned by rec, which may cross one
// or more NV-ring-slot/disk-segment generations.
func (c *Cursor) materialize(rec mdsRecord) ([]byte, error) {
	if rec.ToSegID < rec.FromSegID || (rec.ToSegID == rec.FromSegID && rec.ToOffset < rec.FromOffset) {
		return nil, fmt.Errorf("mds record for epoch %s has an invalid span", rec.EpochID)
	}

	var out []byte
	for dsid := rec.FromSegID; dsid <= rec.ToSegID; dsid++ {
		segSize := c.ring.size
		start := int64(0)
		if dsid == rec.FromSegID {
			start = int64(rec.FromOffset)
		}
		end := segSize
		if dsid == rec.ToSegID {
			end = int64(rec.ToOffset)
		}
		if end <= start {
			continue
		}
		chunk, err := c.readSegmentRange(dsid, start, end)
		if err != nil {
			return nil, err
		}
		out = append(out, chunk...)
	}
	return out, nil
}

// readSegmentRange reads [start, end) of dsid, preferring the live NV
// slot (pinned against concurrent recycling) and falling back to the
// sealed on-disk copy once the slot has moved on to a later dsid.
func (c *Cursor) readSegmentRange(dsid uint64, start, end int64) ([]byte, error) {
	slot := c.ring.slotFor(dsid)
	if slot.pin() {
		if slot.dsid.Load() == dsid {
			out := make([]byte, end-start)
			copy(out, slot.region[start:end])
			slot.unpin()
			return out, nil
		}
		slot.unpin()
	}

	f, err := openDiskSegmentForRead(c.diskRoot, dsid)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := make([]byte, end-start)
	if _, err := f.ReadAt(out, start); err != nil {
		return nil, fmt.Errorf("read disk segment %d range [%d,%d): %w", dsid, start, end, err)
	}
	return out, nil
}
