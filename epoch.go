package nvwal

import "strconv"

// Epoch is the monotonically advancing identifier for a logical batch of
// appends. It wraps modulo 2^64; comparisons use modular (circular)
// arithmetic rather than plain integer ordering so that wraparound near
// the top of the range behaves as if the range were unbounded.
type Epoch uint64

// InvalidEpoch is the reserved zero value. A frame whose log_epoch equals
// InvalidEpoch is unused.
const InvalidEpoch Epoch = 0

// after reports whether a comes strictly after b in the modular ordering:
// true when (a-b) lies in the lower half of the 64-bit range. This is the
// only ordering primitive the engine uses for epochs; plain < or >
// comparisons on the underlying uint64 are never correct across a wrap.
func after(a, b Epoch) bool {
	return int64(a-b) > 0
}

// epochLessOrEqual reports whether a is b or comes before it modularly.
func epochLessOrEqual(a, b Epoch) bool {
	return a == b || after(b, a)
}

// increment returns the next epoch after e, skipping InvalidEpoch.
func increment(e Epoch) Epoch {
	n := e + 1
	if n == InvalidEpoch {
		n++
	}
	return n
}

// String renders the epoch for logs.
func (e Epoch) String() string {
	return strconv.FormatUint(uint64(e), 10)
}
