package nvwal

import "sync/atomic"

// agentState is the cooperative lifecycle cell shared between a
// background agent (flusher, fsyncer) and its supervisor:
// init -> running -> running-requested-stop -> stopped.
// Sequentially consistent ordering is never required; relaxed
// loads on the fast path are fine since the only consumer of staleness
// is a stop check that gets rechecked every loop iteration.
type agentState int32

const (
	stateInit agentState = iota
	stateRunning
	stateStopRequested
	stateStopped
)

type stateCell struct {
	v atomic.Int32
	// err is the first non-zero error observed by the agent's main
	// loop; set once before the transition to stateStopped.
	err atomic.Pointer[error]
}

func (c *stateCell) load() agentState {
	return agentState(c.v.Load())
}

func (c *stateCell) store(s agentState) {
	c.v.Store(int32(s))
}

// requestStop transitions running -> running-requested-stop. It is a
// no-op if the agent has already stopped or was never started.
func (c *stateCell) requestStop() {
	c.v.CompareAndSwap(int32(stateRunning), int32(stateStopRequested))
}

// stopRequested reports whether the agent should return from its loop
// at the next cooperative checkpoint.
func (c *stateCell) stopRequested() bool {
	return c.load() == stateStopRequested
}

// finish records the first terminal error (nil on clean shutdown) and
// transitions to stateStopped.
func (c *stateCell) finish(err error) {
	c.err.CompareAndSwap(nil, &err)
	c.store(stateStopped)
}

// lastError returns the error recorded by finish, or nil if the agent
// hasn't stopped yet or stopped cleanly.
func (c *stateCell) lastError() error {
	p := c.err.Load()
	if p == nil {
		return nil
	}
	return *p
}
