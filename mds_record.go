package nvwal

import "encoding/binary"

// mdsRecord is the MDS epoch metadata record: exactly one
// failure-atomic unit (64 bytes). (from_seg_id, from_offset) is the
// first byte belonging to the epoch; (to_seg_id, to_off) is the first
// byte after it.
type mdsRecord struct {
	EpochID       Epoch
	FromSegID     uint64
	FromOffset    uint64
	ToSegID       uint64
	ToOffset      uint64
	UserMetadata0 uint64
	UserMetadata1 uint64
}

// mdsRecordSize bytes are laid out as seven uint64 fields (56 bytes)
// plus 8 reserved bytes rounding the record to a cache-line-friendly 64.
func encodeMDSRecord(r mdsRecord) [mdsRecordSize]byte {
	var b [mdsRecordSize]byte
	binary.LittleEndian.PutUint64(b[0:8], uint64(r.EpochID))
	binary.LittleEndian.PutUint64(b[8:16], r.FromSegID)
	binary.LittleEndian.PutUint64(b[16:24], r.FromOffset)
	binary.LittleEndian.PutUint64(b[24:32], r.ToSegID)
	binary.LittleEndian.PutUint64(b[32:40], r.ToOffset)
	binary.LittleEndian.PutUint64(b[40:48], r.UserMetadata0)
	binary.LittleEndian.PutUint64(b[48:56], r.UserMetadata1)
	return b
}

func decodeMDSRecord(b []byte) mdsRecord {
	return mdsRecord{
		EpochID:       Epoch(binary.LittleEndian.Uint64(b[0:8])),
		FromSegID:     binary.LittleEndian.Uint64(b[8:16]),
		FromOffset:    binary.LittleEndian.Uint64(b[16:24]),
		ToSegID:       binary.LittleEndian.Uint64(b[24:32]),
		ToOffset:      binary.LittleEndian.Uint64(b[32:40]),
		UserMetadata0: binary.LittleEndian.Uint64(b[40:48]),
		UserMetadata1: binary.LittleEndian.Uint64(b[48:56]),
	}
}

// isEmptyRecord reports whether b (one record-sized slice) is still
// zero-filled, i.e. never written.
func isEmptyRecord(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
