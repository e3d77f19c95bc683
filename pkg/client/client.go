// Package client implements the caller side of the wire protocol.
package client

import (
	"bufio"
	"fmt"
	"net"

	"github.com/flashmock/flashmock/pkg/wire"
)

// Info describes a served flash geometry
type Info struct {
	Capacity         int64
	ReadGranularity  int64
	WriteGranularity int64
	EraseGranularity int64
}

// Client is a connection to a flash server. It is not safe for concurrent
// use; requests and responses alternate on one connection.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
}

// Dial connects to a flash server at address
func Dial(address string) (*Client, error) {
	conn, err := net.Dial("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}
	return &Client{
		conn:   conn,
		reader: bufio.NewReader(conn),
	}, nil
}

// roundTrip sends one request frame and reads the response frame
func (c *Client) roundTrip(msgType wire.MsgType, req interface{}) (wire.MsgType, []byte, error) {
	if err := wire.WriteFrame(c.conn, msgType, req); err != nil {
		return 0, nil, err
	}
	return wire.ReadFrame(c.reader)
}

// decodeError turns an error response into a flash-kind error
func decodeError(payload []byte) error {
	var e wire.ErrorMessage
	if err := wire.Decode(payload, &e); err != nil {
		return fmt.Errorf("malformed error response: %w", err)
	}
	return wire.FlashError(&e)
}

// expectOK consumes a response that should be MsgOK
func expectOK(respType wire.MsgType, payload []byte) error {
	switch respType {
	case wire.MsgOK:
		return nil
	case wire.MsgError:
		return decodeError(payload)
	default:
		return fmt.Errorf("unexpected response type %d", respType)
	}
}

// Ping checks the connection
func (c *Client) Ping() error {
	respType, payload, err := c.roundTrip(wire.MsgPing, nil)
	if err != nil {
		return err
	}
	if respType == wire.MsgError {
		return decodeError(payload)
	}
	if respType != wire.MsgPong {
		return fmt.Errorf("unexpected response type %d", respType)
	}
	return nil
}

// GetInfo queries the served flash geometry
func (c *Client) GetInfo() (*Info, error) {
	respType, payload, err := c.roundTrip(wire.MsgInfo, nil)
	if err != nil {
		return nil, err
	}
	if respType == wire.MsgError {
		return nil, decodeError(payload)
	}
	if respType != wire.MsgInfoResult {
		return nil, fmt.Errorf("unexpected response type %d", respType)
	}

	var result wire.InfoResultMessage
	if err := wire.Decode(payload, &result); err != nil {
		return nil, err
	}
	return &Info{
		Capacity:         result.Capacity,
		ReadGranularity:  result.ReadGranularity,
		WriteGranularity: result.WriteGranularity,
		EraseGranularity: result.EraseGranularity,
	}, nil
}

// Read fetches length bytes at off
func (c *Client) Read(off, length int64) ([]byte, error) {
	respType, payload, err := c.roundTrip(wire.MsgRead, &wire.ReadMessage{
		Offset: off,
		Length: length,
	})
	if err != nil {
		return nil, err
	}
	if respType == wire.MsgError {
		return nil, decodeError(payload)
	}
	if respType != wire.MsgData {
		return nil, fmt.Errorf("unexpected response type %d", respType)
	}

	var data wire.DataMessage
	if err := wire.Decode(payload, &data); err != nil {
		return nil, err
	}
	return data.Data, nil
}

// Write stores p at off. With autoErase set the server uses the
// auto-erasing storage path; otherwise the target range must be erased.
func (c *Client) Write(off int64, p []byte, autoErase bool) error {
	respType, payload, err := c.roundTrip(wire.MsgWrite, &wire.WriteMessage{
		Offset:    off,
		Data:      p,
		AutoErase: autoErase,
	})
	if err != nil {
		return err
	}
	return expectOK(respType, payload)
}

// Erase erases length bytes at off
func (c *Client) Erase(off, length int64) error {
	respType, payload, err := c.roundTrip(wire.MsgErase, &wire.EraseMessage{
		Offset: off,
		Length: length,
	})
	if err != nil {
		return err
	}
	return expectOK(respType, payload)
}

// Fingerprint fetches the BLAKE2b-256 digest of the served image
func (c *Client) Fingerprint() ([]byte, error) {
	respType, payload, err := c.roundTrip(wire.MsgFingerprint, nil)
	if err != nil {
		return nil, err
	}
	if respType == wire.MsgError {
		return nil, decodeError(payload)
	}
	if respType != wire.MsgFingerprintResult {
		return nil, fmt.Errorf("unexpected response type %d", respType)
	}

	var result wire.FingerprintResultMessage
	if err := wire.Decode(payload, &result); err != nil {
		return nil, err
	}
	return result.Fingerprint, nil
}

// Sync flushes the served image
func (c *Client) Sync() error {
	respType, payload, err := c.roundTrip(wire.MsgSync, nil)
	if err != nil {
		return err
	}
	return expectOK(respType, payload)
}

// Close closes the connection
func (c *Client) Close() error {
	return c.conn.Close()
}
