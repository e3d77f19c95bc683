package backend

import (
	"fmt"
	"sync"
)

// MemoryBackend implements the Backend interface over an in-memory byte
// slice. Nothing survives the process; it exists for tests and for
// throwaway engines.
type MemoryBackend struct {
	data []byte
	mu   sync.RWMutex
}

// NewMemory creates an empty in-memory backend
func NewMemory() *MemoryBackend {
	return &MemoryBackend{
		data: make([]byte, 0),
	}
}

// ReadAt reads from memory at the specified offset
func (m *MemoryBackend) ReadAt(buf []byte, offset int64) (int, error) {
	if offset < 0 {
		return 0, ErrInvalidOffset
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.data == nil {
		return 0, ErrBackendClosed
	}
	if offset >= int64(len(m.data)) {
		return 0, fmt.Errorf("offset %d beyond image size %d", offset, len(m.data))
	}

	n := copy(buf, m.data[offset:])
	return n, nil
}

// WriteAt writes to memory at the specified offset, growing the image if
// the write extends past the current end
func (m *MemoryBackend) WriteAt(buf []byte, offset int64) (int, error) {
	if offset < 0 {
		return 0, ErrInvalidOffset
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.data == nil {
		return 0, ErrBackendClosed
	}

	end := offset + int64(len(buf))
	if end > int64(len(m.data)) {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}

	copy(m.data[offset:], buf)
	return len(buf), nil
}

// Sync is a no-op for the memory backend
func (m *MemoryBackend) Sync() error {
	return nil
}

// Size returns the current image size
func (m *MemoryBackend) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.data))
}

// Truncate resizes the image
func (m *MemoryBackend) Truncate(size int64) error {
	if size < 0 {
		return ErrInvalidSize
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if size > int64(len(m.data)) {
		grown := make([]byte, size)
		copy(grown, m.data)
		m.data = grown
	} else {
		m.data = m.data[:size]
	}

	return nil
}

// Close releases the image memory
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data = nil
	return nil
}

// Data returns a copy of the image contents (for tests/snapshots)
func (m *MemoryBackend) Data() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out
}

// LoadFromData replaces the image contents with a copy of data
func (m *MemoryBackend) LoadFromData(data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data = make([]byte, len(data))
	copy(m.data, data)
}
