package backend

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/edsrzf/mmap-go"
)

// MmapBackend implements the Backend interface over a memory-mapped file.
// The mapping is fixed-size: Truncate may only be called with the size the
// backend was opened with. Use it when the image size is known up front
// and read/write latency matters more than setup cost.
type MmapBackend struct {
	mmap mmap.MMap
	file *os.File
	path string
	size int64
	mu   sync.RWMutex
}

// OpenMmap opens (or creates) the image file at path, resizes it to size
// and maps it read-write.
func OpenMmap(path string, size int64) (*MmapBackend, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open image %s: %w", path, err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat image %s: %w", path, err)
	}
	if stat.Size() > size {
		file.Close()
		return nil, fmt.Errorf("image %s is %d bytes, larger than mapping size %d",
			path, stat.Size(), size)
	}
	if stat.Size() < size {
		if err := file.Truncate(size); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to resize image %s: %w", path, err)
		}
	}

	mm, err := mmap.Map(file, mmap.RDWR, 0)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to map image %s: %w", path, err)
	}

	return &MmapBackend{
		mmap: mm,
		file: file,
		path: path,
		size: size,
	}, nil
}

// ReadAt reads from the mapping at the specified offset
func (m *MmapBackend) ReadAt(buf []byte, offset int64) (int, error) {
	if offset < 0 {
		return 0, ErrInvalidOffset
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.mmap == nil {
		return 0, ErrBackendClosed
	}
	if offset+int64(len(buf)) > m.size {
		return 0, fmt.Errorf("read [%d, %d) beyond mapping size %d",
			offset, offset+int64(len(buf)), m.size)
	}

	return copy(buf, m.mmap[offset:offset+int64(len(buf))]), nil
}

// WriteAt writes to the mapping at the specified offset
func (m *MmapBackend) WriteAt(buf []byte, offset int64) (int, error) {
	if offset < 0 {
		return 0, ErrInvalidOffset
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mmap == nil {
		return 0, ErrBackendClosed
	}
	if offset+int64(len(buf)) > m.size {
		return 0, fmt.Errorf("write [%d, %d) beyond mapping size %d",
			offset, offset+int64(len(buf)), m.size)
	}

	return copy(m.mmap[offset:offset+int64(len(buf))], buf), nil
}

// Sync flushes the mapping to disk
func (m *MmapBackend) Sync() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.mmap == nil {
		return ErrBackendClosed
	}

	return m.mmap.Flush()
}

// Size returns the mapping size
func (m *MmapBackend) Size() int64 {
	return m.size
}

// Truncate accepts only the size the mapping was created with; the
// mapping cannot be resized while live.
func (m *MmapBackend) Truncate(size int64) error {
	if size != m.size {
		return fmt.Errorf("cannot resize mapped image from %d to %d: %w",
			m.size, size, ErrInvalidSize)
	}
	return nil
}

// Close flushes, unmaps and closes the image file
func (m *MmapBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mmap == nil {
		return nil
	}

	flushErr := m.mmap.Flush()
	unmapErr := m.mmap.Unmap()
	closeErr := m.file.Close()
	m.mmap = nil
	m.file = nil

	return errors.Join(flushErr, unmapErr, closeErr)
}
