package backend

import (
	"fmt"
	"os"
	"sync"
)

// DiskBackend implements the Backend interface over a regular file. The
// file is the sole persisted state of the image; there is no header or
// sidecar metadata. A DiskBackend must be exclusively owned by one engine
// instance until Close.
type DiskBackend struct {
	file *os.File
	path string
	size int64
	mu   sync.RWMutex
}

// OpenDisk opens the image file at path, creating an empty one if it does
// not exist.
func OpenDisk(path string) (*DiskBackend, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open image %s: %w", path, err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat image %s: %w", path, err)
	}

	return &DiskBackend{
		file: file,
		path: path,
		size: stat.Size(),
	}, nil
}

// ReadAt reads len(buf) bytes from the image at the specified offset
func (d *DiskBackend) ReadAt(buf []byte, offset int64) (int, error) {
	if offset < 0 {
		return 0, ErrInvalidOffset
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.file == nil {
		return 0, ErrBackendClosed
	}

	return d.file.ReadAt(buf, offset)
}

// WriteAt writes len(buf) bytes to the image at the specified offset
func (d *DiskBackend) WriteAt(buf []byte, offset int64) (int, error) {
	if offset < 0 {
		return 0, ErrInvalidOffset
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.file == nil {
		return 0, ErrBackendClosed
	}

	n, err := d.file.WriteAt(buf, offset)
	if err != nil {
		return n, err
	}

	if end := offset + int64(n); end > d.size {
		d.size = end
	}

	return n, nil
}

// Sync flushes written data to disk
func (d *DiskBackend) Sync() error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.file == nil {
		return ErrBackendClosed
	}

	return d.file.Sync()
}

// Size returns the current image size in bytes
func (d *DiskBackend) Size() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.size
}

// Truncate resizes the image file. Growing leaves the new bytes zeroed;
// the flash layer is responsible for filling them with the erased value.
func (d *DiskBackend) Truncate(size int64) error {
	if size < 0 {
		return ErrInvalidSize
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.file == nil {
		return ErrBackendClosed
	}

	if err := d.file.Truncate(size); err != nil {
		return fmt.Errorf("failed to resize image %s: %w", d.path, err)
	}

	d.size = size
	return nil
}

// Close closes the image file. Closing twice is a no-op.
func (d *DiskBackend) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.file == nil {
		return nil
	}

	err := d.file.Close()
	d.file = nil
	return err
}
