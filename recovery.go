package nvwal

// recoverRingState reconstructs the volatile per-segment bookkeeping
// (dsid, written_bytes, fsync_requested/completed) that a fresh process
// cannot know just from the mmap'd NV segment bytes, using the
// durable, persisted facts recorded elsewhere: the MDS record for the
// current durable epoch (which segment and offset the flusher had
// reached) and the control block's last_synced_dsid (which segments
// the fsyncer had already sealed). It returns the dsid and offset the
// flusher should resume appending at.
//
// On a fresh store (durable_epoch == InvalidEpoch) there is nothing to
// reconstruct: the ring was just created and every slot already holds
// its initial dsid with zero written_bytes.
func recoverRingState(ring *nvSegmentRing, mds *MDS, cb *controlBlock) (resumeDSID uint64, resumeOffset int64, err error) {
	de := cb.DurableEpoch()
	if de == InvalidEpoch {
		return 1, 0, nil
	}

	rec, ok, err := mds.ReadOne(de)
	if err != nil {
		return 0, 0, err
	}
	if !ok {
		fatalf(mds.logger, "recovery: durable_epoch %s has no metadata record", de)
	}

	curDSID := rec.ToSegID
	curOffset := int64(rec.ToOffset)
	lastSynced := cb.LastSyncedDSID()
	n := len(ring.slots)
	segSize := ring.size

	for k := 0; k < n && k <= int(curDSID)-1; k++ {
		dsid := curDSID - uint64(k)
		if dsid == 0 {
			break
		}
		slot := ring.slotFor(dsid)
		slot.dsid.Store(dsid)
		if dsid == curDSID {
			slot.writtenBytes.Store(curOffset)
		} else {
			slot.writtenBytes.Store(segSize)
			slot.fsyncRequested.Store(true)
		}
		slot.fsyncCompleted.Store(dsid <= lastSynced)
		slot.nvReaderPins.Store(0)
	}

	return curDSID, curOffset, nil
}
