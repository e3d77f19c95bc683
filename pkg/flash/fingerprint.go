package flash

import (
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint returns the BLAKE2b-256 digest of the full image content.
// Two images with the same fingerprint hold identical flash contents;
// useful for comparing images and verifying persistence across reopens.
func (f *Flash) Fingerprint() ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil, ErrClosed
	}

	h, err := blake2b.New256(nil)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, ioChunkSize)
	for off := int64(0); off < f.opts.Capacity; {
		n := int64(len(buf))
		if n > f.opts.Capacity-off {
			n = f.opts.Capacity - off
		}
		if _, err := f.backend.ReadAt(buf[:n], off); err != nil {
			return nil, fmt.Errorf("backing read at %d failed: %w", off, err)
		}
		h.Write(buf[:n])
		off += n
	}

	return h.Sum(nil), nil
}
