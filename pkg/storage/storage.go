// Package storage layers a plain read/write interface over a flash
// engine. Callers write anywhere without managing erase state; the
// adapter erases and reconstructs every affected erase block internally.
package storage

import (
	"fmt"

	"github.com/flashmock/flashmock/pkg/flash"
)

// Flash is the engine surface the adapter needs. *flash.Flash satisfies
// it.
type Flash interface {
	Read(off int64, p []byte) error
	Write(off int64, p []byte) error
	Erase(off, length int64) error
	Capacity() int64
	EraseGranularity() int64
}

// Storage wraps a Flash with auto-erasing writes. Reads and capacity
// queries delegate unchanged.
type Storage struct {
	flash Flash
}

// New creates a Storage over f. The adapter holds f but does not own its
// lifecycle; closing the underlying flash remains the caller's job.
func New(f Flash) *Storage {
	return &Storage{flash: f}
}

// Read delegates to the underlying flash
func (s *Storage) Read(off int64, p []byte) error {
	return s.flash.Read(off, p)
}

// Capacity delegates to the underlying flash
func (s *Storage) Capacity() int64 {
	return s.flash.Capacity()
}

// Write stores p at off without requiring the range to be erased. Each
// erase block overlapping the range is read in full, erased, and
// rewritten with p merged over the preserved bytes, so content outside
// the range but inside those blocks survives.
//
// Blocks are processed independently: a failure partway through a
// multi-block write leaves earlier blocks already rewritten and later
// ones untouched. Callers needing atomicity must keep writes within one
// erase block or layer their own transactional scheme above this.
func (s *Storage) Write(off int64, p []byte) error {
	blockSize := s.flash.EraseGranularity()
	capacity := s.flash.Capacity()

	// Compared against capacity-off so a huge offset cannot wrap the sum
	// negative and slip past the check.
	if off < 0 || off > capacity || int64(len(p)) > capacity-off {
		return fmt.Errorf("write range at offset %d with length %d exceeds capacity %d: %w",
			off, len(p), capacity, flash.ErrOutOfBounds)
	}
	if len(p) == 0 {
		return nil
	}

	end := off + int64(len(p))
	block := make([]byte, blockSize)

	for blockStart := off - off%blockSize; blockStart < end; blockStart += blockSize {
		if err := s.flash.Read(blockStart, block); err != nil {
			return fmt.Errorf("read-back of block at %d failed: %w", blockStart, err)
		}

		// Merge the slice of p that lands in this block.
		from := blockStart
		if off > from {
			from = off
		}
		to := blockStart + blockSize
		if end < to {
			to = end
		}
		copy(block[from-blockStart:to-blockStart], p[from-off:to-off])

		if err := s.flash.Erase(blockStart, blockSize); err != nil {
			return fmt.Errorf("erase of block at %d failed: %w", blockStart, err)
		}
		if err := s.flash.Write(blockStart, block); err != nil {
			return fmt.Errorf("rewrite of block at %d failed: %w", blockStart, err)
		}
	}

	return nil
}
