package nvwal

import "fmt"

// ReadOne looks up a single epoch's metadata record: if the owning page
// is currently buffered, read it without taking the writer's mutex at
// all, revalidating with a second load of
// localPageNo to detect a recycle that raced with the copy; otherwise
// fall back to a positioned read of the on-disk page file. The second
// return value is false if epoch has no record yet (epoch > latestEpoch
// known to this MDS instance).
func (m *MDS) ReadOne(e Epoch) (mdsRecord, bool, error) {
	if e == InvalidEpoch || after(e, Epoch(m.latestEpochSnapshot())) {
		return mdsRecord{}, false, nil
	}

	pageIdx := m.pageIndex(e)
	slot := m.fileSlot(pageIdx)
	localPageNo := m.localPageNo(pageIdx)
	offset := m.offsetInPage(e)
	buf := m.buffers[slot]

	if rec, ok := m.tryReadBuffered(buf, localPageNo, offset); ok {
		return rec, true, nil
	}

	return m.readFromDisk(slot, localPageNo, offset)
}

// tryReadBuffered is the lock-free optimistic path: copy the record,
// then re-check localPageNo. If it changed mid-copy, the buffer was
// recycled out from under the read and the caller must fall back to
// disk.
func (m *MDS) tryReadBuffered(buf *mdsBuffer, localPageNo, offset uint64) (mdsRecord, bool) {
	before := buf.localPageNo.Load()
	if before != localPageNo {
		return mdsRecord{}, false
	}
	recOff := int(offset) * mdsRecordSize
	var tmp [mdsRecordSize]byte
	copy(tmp[:], buf.region[recOff:recOff+mdsRecordSize])
	revalidated := buf.localPageNo.Load()
	if revalidated != before {
		return mdsRecord{}, false
	}
	if isEmptyRecord(tmp[:]) {
		return mdsRecord{}, false
	}
	return decodeMDSRecord(tmp[:]), true
}

func (m *MDS) readFromDisk(slot int, localPageNo, offset uint64) (mdsRecord, bool, error) {
	pf := m.pageFiles[slot]
	var tmp [mdsRecordSize]byte
	fileOffset := int64(localPageNo-1)*int64(m.pageSize) + int64(offset)*mdsRecordSize
	n, err := pf.ReadAt(tmp[:], fileOffset)
	if err != nil && n != mdsRecordSize {
		return mdsRecord{}, false, fmt.Errorf("mds read at offset %d: %w", fileOffset, err)
	}
	if isEmptyRecord(tmp[:]) {
		return mdsRecord{}, false, nil
	}
	return decodeMDSRecord(tmp[:]), true, nil
}

// mdsPredicate orders a record's user metadata relative to a search
// target: negative if the record sorts before the target, zero if it
// matches, positive if after. The engine does not verify monotonicity;
// callers must supply a predicate that is monotone over [1, latest]
// for FindLowestEpoch/FindHighestEpoch to return a meaningful result.
type mdsPredicate func(userMetadata0, userMetadata1 uint64) int

// FindLowestEpoch returns the lowest epoch in [1, latest] whose record
// satisfies pred(...) == 0, via ordinary binary search over
// ReadOne.
func (m *MDS) FindLowestEpoch(pred mdsPredicate) (Epoch, bool, error) {
	lo, hi := uint64(1), m.latestEpochSnapshot64()
	var result Epoch
	found := false
	for lo <= hi {
		mid := lo + (hi-lo)/2
		rec, ok, err := m.ReadOne(Epoch(mid))
		if err != nil {
			return 0, false, err
		}
		if !ok {
			hi = mid - 1
			continue
		}
		switch c := pred(rec.UserMetadata0, rec.UserMetadata1); {
		case c == 0:
			result, found = Epoch(mid), true
			hi = mid - 1
		case c < 0:
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}
	return result, found, nil
}

// FindHighestEpoch is the mirror of FindLowestEpoch.
func (m *MDS) FindHighestEpoch(pred mdsPredicate) (Epoch, bool, error) {
	lo, hi := uint64(1), m.latestEpochSnapshot64()
	var result Epoch
	found := false
	for lo <= hi {
		mid := lo + (hi-lo)/2
		rec, ok, err := m.ReadOne(Epoch(mid))
		if err != nil {
			return 0, false, err
		}
		if !ok {
			hi = mid - 1
			continue
		}
		switch c := pred(rec.UserMetadata0, rec.UserMetadata1); {
		case c == 0:
			result, found = Epoch(mid), true
			lo = mid + 1
		case c < 0:
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}
	return result, found, nil
}

func (m *MDS) latestEpochSnapshot64() uint64 {
	return uint64(m.latestEpochSnapshot())
}
