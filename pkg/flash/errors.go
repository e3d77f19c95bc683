package flash

import (
	"errors"
)

// Error kinds for flash operations. Every failure returned by the engine
// wraps exactly one of these, with detail naming the violated constraint,
// so callers can branch with errors.Is and humans can read the message.
var (
	// ErrInvalidParameters reports bad construction parameters: a
	// granularity that is not a power of two, or a capacity that is not a
	// non-negative multiple of the erase granularity.
	ErrInvalidParameters = errors.New("invalid flash parameters")

	// ErrNotAligned reports an offset or length that is not a multiple of
	// the granularity for the attempted operation.
	ErrNotAligned = errors.New("not aligned")

	// ErrOutOfBounds reports a range extending past the flash capacity.
	ErrOutOfBounds = errors.New("out of bounds")

	// ErrNotErased reports a write targeting at least one byte that is not
	// in the erased state. The store is unchanged.
	ErrNotErased = errors.New("write to non-erased area")

	// ErrClosed reports an operation on a closed flash instance.
	ErrClosed = errors.New("flash is closed")
)
