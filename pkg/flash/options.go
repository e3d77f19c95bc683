package flash

import (
	"fmt"
)

// ErasedByte is the value of every byte in the erased state. A freshly
// created image is entirely ErasedByte, and Erase resets bytes to it.
const ErasedByte = 0xFF

// Options contains flash construction parameters. Capacity and the three
// granularities model the geometry of the emulated chip; they are fixed
// for the lifetime of the instance.
type Options struct {
	// Capacity is the total addressable size in bytes. Must be a
	// non-negative multiple of EraseGranularity.
	Capacity int64

	// ReadGranularity, WriteGranularity and EraseGranularity are the
	// minimum alignment/size units for the respective operations. Each
	// must be a power of two; read and write granularities must divide
	// the erase granularity.
	ReadGranularity  int64
	WriteGranularity int64
	EraseGranularity int64

	// InMemory backs the flash with memory instead of a file. The image
	// does not survive the process.
	InMemory bool

	// Mmap memory-maps the image file instead of using file I/O.
	Mmap bool

	// SyncWrites flushes the backing store after every successful write
	// and erase, matching the durability of a physical chip at the cost
	// of throughput.
	SyncWrites bool
}

// DefaultOptions returns the default flash geometry: a 16MiB chip with
// 4KiB erase blocks and byte-granular reads and writes.
func DefaultOptions() *Options {
	return &Options{
		Capacity:         16 * 1024 * 1024,
		ReadGranularity:  1,
		WriteGranularity: 1,
		EraseGranularity: 4096,
		SyncWrites:       true,
	}
}

func isPowerOfTwo(v int64) bool {
	return v > 0 && v&(v-1) == 0
}

// validate checks the geometry invariants, failing with
// ErrInvalidParameters detail naming the offending parameter.
func (o *Options) validate() error {
	if !isPowerOfTwo(o.ReadGranularity) {
		return fmt.Errorf("read granularity %d is not a power of two: %w",
			o.ReadGranularity, ErrInvalidParameters)
	}
	if !isPowerOfTwo(o.WriteGranularity) {
		return fmt.Errorf("write granularity %d is not a power of two: %w",
			o.WriteGranularity, ErrInvalidParameters)
	}
	if !isPowerOfTwo(o.EraseGranularity) {
		return fmt.Errorf("erase granularity %d is not a power of two: %w",
			o.EraseGranularity, ErrInvalidParameters)
	}
	if o.ReadGranularity > o.EraseGranularity {
		return fmt.Errorf("read granularity %d exceeds erase granularity %d: %w",
			o.ReadGranularity, o.EraseGranularity, ErrInvalidParameters)
	}
	if o.WriteGranularity > o.EraseGranularity {
		return fmt.Errorf("write granularity %d exceeds erase granularity %d: %w",
			o.WriteGranularity, o.EraseGranularity, ErrInvalidParameters)
	}
	if o.Capacity < 0 || o.Capacity%o.EraseGranularity != 0 {
		return fmt.Errorf("capacity %d is not a non-negative multiple of erase granularity %d: %w",
			o.Capacity, o.EraseGranularity, ErrInvalidParameters)
	}
	return nil
}
