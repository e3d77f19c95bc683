package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single frame and caps the payload allocation on
// both ends. MaxDataLength is the largest byte range a single read or
// write may carry; the difference leaves room for the frame header and
// encoding overhead.
const (
	MaxFrameSize  = 64 * 1024 * 1024
	MaxDataLength = MaxFrameSize - 1024
)

// WriteFrame encodes payload and writes one complete frame: 4-byte
// little-endian length (type byte + payload), 1-byte type, payload.
// A nil payload writes an empty-body frame.
func WriteFrame(w io.Writer, msgType MsgType, payload interface{}) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = Encode(payload)
		if err != nil {
			return fmt.Errorf("failed to encode %d message: %w", msgType, err)
		}
	}

	length := uint32(1 + len(body))
	if err := binary.Write(w, binary.LittleEndian, length); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, msgType); err != nil {
		return err
	}
	if len(body) > 0 {
		if _, err := w.Write(body); err != nil {
			return err
		}
	}
	return nil
}

// ReadFrame reads one complete frame and returns its type and raw payload
func ReadFrame(r io.Reader) (MsgType, []byte, error) {
	var length uint32
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return 0, nil, err
	}
	if length < 1 || length > MaxFrameSize {
		return 0, nil, fmt.Errorf("invalid frame length %d", length)
	}

	var msgType MsgType
	if err := binary.Read(r, binary.LittleEndian, &msgType); err != nil {
		return 0, nil, err
	}

	payload := make([]byte, length-1)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return msgType, payload, nil
}
