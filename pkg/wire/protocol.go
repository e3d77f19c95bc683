// Package wire defines the message protocol for remote flash access.
// Messages travel in frames of a 4-byte little-endian length, a 1-byte
// message type, and a MessagePack-encoded payload.
package wire

import (
	"errors"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/flashmock/flashmock/pkg/flash"
)

// MsgType represents the type of a protocol message
type MsgType uint8

const (
	MsgInfo        MsgType = 0x01 // geometry query
	MsgRead        MsgType = 0x02 // read a byte range
	MsgWrite       MsgType = 0x03 // write a byte range (raw or auto-erase)
	MsgErase       MsgType = 0x04 // erase a byte range
	MsgSync        MsgType = 0x05 // flush the image
	MsgFingerprint MsgType = 0x06 // image digest query

	MsgInfoResult        MsgType = 0x10 // geometry response
	MsgData              MsgType = 0x11 // read response
	MsgOK                MsgType = 0x12 // write/erase/sync success
	MsgError             MsgType = 0x13 // error response
	MsgFingerprintResult MsgType = 0x14 // image digest response

	MsgPing MsgType = 0x20
	MsgPong MsgType = 0x21
)

// Error codes carried by ErrorMessage, mirroring the flash error kinds
const (
	CodeInvalidRequest = 1
	CodeNotAligned     = 2
	CodeOutOfBounds    = 3
	CodeNotErased      = 4
	CodeIO             = 5
)

// ReadMessage requests Length bytes at Offset
type ReadMessage struct {
	Offset int64 `msgpack:"off"`
	Length int64 `msgpack:"len"`
}

// WriteMessage writes Data at Offset. AutoErase selects the auto-erasing
// storage path; otherwise the raw engine write (erase-before-write rule)
// applies.
type WriteMessage struct {
	Offset    int64  `msgpack:"off"`
	Data      []byte `msgpack:"data"`
	AutoErase bool   `msgpack:"auto_erase,omitempty"`
}

// EraseMessage erases Length bytes at Offset
type EraseMessage struct {
	Offset int64 `msgpack:"off"`
	Length int64 `msgpack:"len"`
}

// InfoResultMessage describes the served flash geometry
type InfoResultMessage struct {
	Capacity         int64 `msgpack:"capacity"`
	ReadGranularity  int64 `msgpack:"read_gran"`
	WriteGranularity int64 `msgpack:"write_gran"`
	EraseGranularity int64 `msgpack:"erase_gran"`
}

// DataMessage carries the bytes of a successful read
type DataMessage struct {
	Data []byte `msgpack:"data"`
}

// FingerprintResultMessage carries the BLAKE2b-256 digest of the full
// image content
type FingerprintResultMessage struct {
	Fingerprint []byte `msgpack:"fingerprint"`
}

// ErrorMessage reports a failed operation
type ErrorMessage struct {
	Code    int    `msgpack:"code"`
	Message string `msgpack:"message"`
}

// Encode encodes a message payload using MessagePack
func Encode(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

// Decode decodes a message payload using MessagePack
func Decode(data []byte, v interface{}) error {
	return msgpack.Unmarshal(data, v)
}

// NewErrorMessage creates an error message
func NewErrorMessage(code int, message string) *ErrorMessage {
	return &ErrorMessage{
		Code:    code,
		Message: message,
	}
}

// ErrorCode maps an engine error to its wire code
func ErrorCode(err error) int {
	switch {
	case errors.Is(err, flash.ErrNotAligned):
		return CodeNotAligned
	case errors.Is(err, flash.ErrOutOfBounds):
		return CodeOutOfBounds
	case errors.Is(err, flash.ErrNotErased):
		return CodeNotErased
	default:
		return CodeIO
	}
}

// FlashError reconstructs an error kind from a wire error, so remote
// callers can branch with errors.Is the way local callers do.
func FlashError(e *ErrorMessage) error {
	var kind error
	switch e.Code {
	case CodeNotAligned:
		kind = flash.ErrNotAligned
	case CodeOutOfBounds:
		kind = flash.ErrOutOfBounds
	case CodeNotErased:
		kind = flash.ErrNotErased
	default:
		return errors.New(e.Message)
	}
	return &remoteError{msg: e.Message, kind: kind}
}

type remoteError struct {
	msg  string
	kind error
}

func (e *remoteError) Error() string { return e.msg }

func (e *remoteError) Unwrap() error { return e.kind }
