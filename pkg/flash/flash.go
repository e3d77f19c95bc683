package flash

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/flashmock/flashmock/pkg/backend"
)

// Flash emulates a NOR flash chip on top of a persistent byte store.
// Every byte of the image is either erased (ErasedByte) or written; Write
// requires the whole target range to be erased, Erase unconditionally
// resets whole blocks, Read has no state precondition.
//
// A Flash instance assumes exclusive ownership of its backend. Operations
// are serialized by an internal mutex; sharing one image between two
// instances (in-process or cross-process) is undefined.
type Flash struct {
	opts    Options
	backend backend.Backend
	tracker *blockTracker

	mu     sync.Mutex
	closed bool
}

// Open opens or creates a flash image at path with the given geometry.
// A missing image is created fully erased; a short image is extended with
// erased bytes; an image longer than the capacity is rejected rather than
// truncated. The backend is closed on any construction failure.
func Open(path string, opts *Options) (*Flash, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	if opts.InMemory {
		return New(backend.NewMemory(), opts)
	}

	if opts.Mmap {
		if opts.Capacity == 0 {
			return nil, fmt.Errorf("mmap-backed flash cannot have zero capacity: %w",
				ErrInvalidParameters)
		}

		// OpenMmap resizes the file to capacity before mapping, so the
		// prior size must be taken first to know which bytes are new.
		prevSize := int64(0)
		if stat, err := os.Stat(path); err == nil {
			prevSize = stat.Size()
		}
		if prevSize > opts.Capacity {
			return nil, fmt.Errorf("image is %d bytes, capacity is %d: %w",
				prevSize, opts.Capacity, ErrInvalidParameters)
		}

		b, err := backend.OpenMmap(path, opts.Capacity)
		if err != nil {
			return nil, err
		}
		return newFlash(b, opts, prevSize)
	}

	b, err := backend.OpenDisk(path)
	if err != nil {
		return nil, err
	}
	return New(b, opts)
}

// New builds a flash over a caller-supplied backend. Ownership of the
// backend transfers to the flash; it is closed if construction fails.
func New(b backend.Backend, opts *Options) (*Flash, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if err := opts.validate(); err != nil {
		b.Close()
		return nil, err
	}
	return newFlash(b, opts, b.Size())
}

// newFlash brings the backend to exactly opts.Capacity bytes, erasing the
// region past prevSize, and rebuilds the written-block tracker from the
// surviving content.
func newFlash(b backend.Backend, opts *Options, prevSize int64) (*Flash, error) {
	if prevSize > opts.Capacity {
		b.Close()
		return nil, fmt.Errorf("image is %d bytes, capacity is %d: %w",
			prevSize, opts.Capacity, ErrInvalidParameters)
	}

	f := &Flash{
		opts:    *opts,
		backend: b,
		tracker: newBlockTracker(opts.Capacity / opts.EraseGranularity),
	}

	if prevSize < opts.Capacity {
		if err := b.Truncate(opts.Capacity); err != nil {
			b.Close()
			return nil, fmt.Errorf("failed to extend image to %d bytes: %w",
				opts.Capacity, err)
		}
		if err := f.fillErased(prevSize, opts.Capacity-prevSize); err != nil {
			b.Close()
			return nil, fmt.Errorf("failed to erase new image region: %w", err)
		}
	}

	// Only content that predates this open can be non-erased.
	if err := f.scanWritten(prevSize); err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to scan image: %w", err)
	}

	return f, nil
}

const ioChunkSize = 64 * 1024

// fillErased writes ErasedByte over [off, off+length)
func (f *Flash) fillErased(off, length int64) error {
	chunk := make([]byte, ioChunkSize)
	for i := range chunk {
		chunk[i] = ErasedByte
	}

	for length > 0 {
		n := int64(len(chunk))
		if n > length {
			n = length
		}
		if _, err := f.backend.WriteAt(chunk[:n], off); err != nil {
			return err
		}
		off += n
		length -= n
	}
	return nil
}

// scanWritten marks every erase block in [0, limit) containing a
// non-erased byte
func (f *Flash) scanWritten(limit int64) error {
	if limit > f.opts.Capacity {
		limit = f.opts.Capacity
	}
	if limit == 0 {
		return nil
	}

	buf := make([]byte, f.opts.EraseGranularity)
	lastBlock := (limit - 1) / f.opts.EraseGranularity
	for b := int64(0); b <= lastBlock; b++ {
		off := b * f.opts.EraseGranularity
		if _, err := f.backend.ReadAt(buf, off); err != nil {
			return err
		}
		for _, v := range buf {
			if v != ErasedByte {
				f.tracker.markWritten(b, b)
				break
			}
		}
	}
	return nil
}

// Capacity returns the total addressable size in bytes
func (f *Flash) Capacity() int64 {
	return f.opts.Capacity
}

// ReadGranularity returns the minimum read alignment/size unit
func (f *Flash) ReadGranularity() int64 {
	return f.opts.ReadGranularity
}

// WriteGranularity returns the minimum write alignment/size unit
func (f *Flash) WriteGranularity() int64 {
	return f.opts.WriteGranularity
}

// EraseGranularity returns the erase block size
func (f *Flash) EraseGranularity() int64 {
	return f.opts.EraseGranularity
}

// checkRange validates alignment and bounds for one operation before any
// mutation. op names the operation and gran its granularity. The bounds
// comparison is written against capacity-off so a huge offset cannot wrap
// off+length negative and slip past the check.
func (f *Flash) checkRange(op string, gran, off, length int64) error {
	if off < 0 || length < 0 || off > f.opts.Capacity || length > f.opts.Capacity-off {
		return fmt.Errorf("%s range at offset %d with length %d exceeds capacity %d: %w",
			op, off, length, f.opts.Capacity, ErrOutOfBounds)
	}
	if off%gran != 0 {
		return fmt.Errorf("%s offset %d is not a multiple of %s granularity %d: %w",
			op, off, op, gran, ErrNotAligned)
	}
	if length%gran != 0 {
		return fmt.Errorf("%s length %d is not a multiple of %s granularity %d: %w",
			op, length, op, gran, ErrNotAligned)
	}
	return nil
}

// Read copies len(p) bytes at off from the image into p. The offset and
// length must be multiples of the read granularity. Reading erased and
// written bytes is identical; there is no state precondition.
func (f *Flash) Read(off int64, p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	if err := f.checkRange("read", f.opts.ReadGranularity, off, int64(len(p))); err != nil {
		return err
	}
	if len(p) == 0 {
		return nil
	}

	if _, err := f.backend.ReadAt(p, off); err != nil {
		return fmt.Errorf("backing read at %d failed: %w", off, err)
	}
	return nil
}

// Write stores p at off. The offset and length must be multiples of the
// write granularity and every byte in the range must be erased; a write
// to a non-erased byte fails with ErrNotErased and changes nothing.
// Writing ErasedByte values is legal and leaves those bytes erased under
// the content-equality definition.
func (f *Flash) Write(off int64, p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	if err := f.checkRange("write", f.opts.WriteGranularity, off, int64(len(p))); err != nil {
		return err
	}
	if len(p) == 0 {
		return nil
	}

	first := off / f.opts.EraseGranularity
	last := (off + int64(len(p)) - 1) / f.opts.EraseGranularity

	// Blocks untouched since their last erase are all ErasedByte; the
	// read-back check is only needed when a previous write landed in one
	// of the target blocks.
	needCheck := false
	for b := first; b <= last; b++ {
		if f.tracker.isWritten(b) {
			needCheck = true
			break
		}
	}
	if needCheck {
		cur := make([]byte, len(p))
		if _, err := f.backend.ReadAt(cur, off); err != nil {
			return fmt.Errorf("backing read at %d failed: %w", off, err)
		}
		for i, v := range cur {
			if v != ErasedByte {
				return fmt.Errorf("byte at offset %d is not erased: %w",
					off+int64(i), ErrNotErased)
			}
		}
	}

	if _, err := f.backend.WriteAt(p, off); err != nil {
		return fmt.Errorf("backing write at %d failed: %w", off, err)
	}
	f.tracker.markWritten(first, last)

	if f.opts.SyncWrites {
		if err := f.backend.Sync(); err != nil {
			return fmt.Errorf("backing sync failed: %w", err)
		}
	}
	return nil
}

// Erase resets every byte in [off, off+length) to ErasedByte. The offset
// and length must be multiples of the erase granularity. Erase has no
// precondition on prior content and is idempotent.
func (f *Flash) Erase(off, length int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	if err := f.checkRange("erase", f.opts.EraseGranularity, off, length); err != nil {
		return err
	}
	if length == 0 {
		return nil
	}

	if err := f.fillErased(off, length); err != nil {
		return fmt.Errorf("backing erase at %d failed: %w", off, err)
	}
	f.tracker.markErased(off/f.opts.EraseGranularity,
		(off+length-1)/f.opts.EraseGranularity)

	if f.opts.SyncWrites {
		if err := f.backend.Sync(); err != nil {
			return fmt.Errorf("backing sync failed: %w", err)
		}
	}
	return nil
}

// Sync flushes the backing store
func (f *Flash) Sync() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	return f.backend.Sync()
}

// Close flushes and closes the backing store. Closing twice is a no-op.
func (f *Flash) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true

	syncErr := f.backend.Sync()
	closeErr := f.backend.Close()
	return errors.Join(syncErr, closeErr)
}
