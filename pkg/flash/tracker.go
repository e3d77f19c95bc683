package flash

import (
	"github.com/bits-and-blooms/bitset"
)

// blockTracker records, per erase block, whether the block has been
// written since its last erase. "Erased" is defined by content (a byte
// equal to ErasedByte), so the tracker is only a negative cache: a clear
// bit means the block is untouched since erase and every byte in it is
// ErasedByte; a set bit means at least one write landed in the block and
// the engine must fall back to reading the bytes to decide writability.
//
// The backing image is the only persisted state, so bits are rebuilt from
// content when the flash is opened.
type blockTracker struct {
	written bitset.BitSet
}

func newBlockTracker(blocks int64) *blockTracker {
	return &blockTracker{written: *bitset.New(uint(blocks))}
}

// markWritten flags every block in [first, last] as written
func (t *blockTracker) markWritten(first, last int64) {
	for b := first; b <= last; b++ {
		t.written.Set(uint(b))
	}
}

// markErased clears every block in [first, last]
func (t *blockTracker) markErased(first, last int64) {
	for b := first; b <= last; b++ {
		t.written.Clear(uint(b))
	}
}

// isWritten reports whether any write landed in block b since its last
// erase
func (t *blockTracker) isWritten(b int64) bool {
	return t.written.Test(uint(b))
}
