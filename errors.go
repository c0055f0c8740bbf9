package nvwal

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Sentinel errors callers can match with errors.Is
// against these; the underlying cause, if any, is wrapped beneath them.
var (
	// ErrInvalid is returned for configuration errors detected at Open:
	// bad paths, bad sizes. The engine never starts.
	ErrInvalid = errors.New("nvwal: invalid argument")

	// ErrNoBuffers is returned by the MDS write path when the write
	// buffer owning the record's page still holds the previous page
	// dirty, so it cannot be recycled. Callers (only the flusher,
	// internally) must trigger a writeback and retry once.
	ErrNoBuffers = errors.New("nvwal: no mds buffers available")

	// ErrEngineNotRunning is returned by public operations once a
	// background agent has stopped after an I/O error.
	ErrEngineNotRunning = errors.New("nvwal: engine not running")

	// ErrCancelled is returned when a cooperative stop request was
	// observed mid-operation.
	ErrCancelled = errors.New("nvwal: cancelled")
)

// invalidf wraps a formatted message in ErrInvalid.
func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalid}, args...)...)
}

// fatalf logs a programmer-error invariant violation at Error level and
// panics. These are fatal assertions: they can only fire if calling
// code (or the engine itself) violated an invariant that holds by
// construction in correct code, so there is no error value a caller
// could usefully recover from.
func fatalf(logger *zap.Logger, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if logger != nil {
		logger.Error("fatal invariant violation", zap.String("detail", msg))
	}
	panic("nvwal: " + msg)
}
