// Package server exposes a flash engine over TCP using the wire protocol,
// so tools and tests can poke at an image without linking the engine.
package server

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/flashmock/flashmock/pkg/flash"
	"github.com/flashmock/flashmock/pkg/storage"
	"github.com/flashmock/flashmock/pkg/wire"
)

var (
	ErrServerClosed = errors.New("server is closed")
)

// Server serves one flash instance to any number of connections. Raw
// writes and auto-erase writes both go through here; the engine's own
// mutex serializes them.
type Server struct {
	listener net.Listener
	flash    *flash.Flash
	store    *storage.Storage
	clients  map[uint64]*clientConn
	nextID   uint64
	mu       sync.Mutex
	closed   bool
}

// New creates a server over f
func New(f *flash.Flash) *Server {
	return &Server{
		flash:   f,
		store:   storage.New(f),
		clients: make(map[uint64]*clientConn),
	}
}

// Listen binds address and serves until Close. It returns nil after a
// graceful Close.
func (s *Server) Listen(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		listener.Close()
		return ErrServerClosed
	}
	s.listener = listener
	s.mu.Unlock()

	return s.acceptLoop()
}

// Addr returns the bound listener address, or nil before Listen
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			return err
		}

		s.mu.Lock()
		s.nextID++
		client := &clientConn{
			id:     s.nextID,
			conn:   conn,
			server: s,
			reader: bufio.NewReader(conn),
		}
		s.clients[client.id] = client
		s.mu.Unlock()

		go client.handle()
	}
}

// Close stops accepting and closes every live connection. The flash
// itself is not closed; the caller opened it and the caller closes it.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	for _, client := range s.clients {
		client.conn.Close()
	}
	if s.listener != nil {
		s.listener.Close()
	}
	return nil
}

func (s *Server) removeClient(id uint64) {
	s.mu.Lock()
	delete(s.clients, id)
	s.mu.Unlock()
}

// clientConn handles one connection's request loop
type clientConn struct {
	id     uint64
	conn   net.Conn
	server *Server
	reader *bufio.Reader
}

func (c *clientConn) handle() {
	defer func() {
		c.conn.Close()
		c.server.removeClient(c.id)
	}()

	for {
		// EOF and reset are normal disconnects; framing errors are
		// unrecoverable either way, so any read error ends the loop.
		msgType, payload, err := wire.ReadFrame(c.reader)
		if err != nil {
			return
		}

		respType, resp := c.handleMessage(msgType, payload)
		if err := wire.WriteFrame(c.conn, respType, resp); err != nil {
			return
		}
	}
}

// handleMessage dispatches one request and builds the response
func (c *clientConn) handleMessage(msgType wire.MsgType, payload []byte) (wire.MsgType, interface{}) {
	switch msgType {
	case wire.MsgPing:
		return wire.MsgPong, nil

	case wire.MsgInfo:
		return wire.MsgInfoResult, &wire.InfoResultMessage{
			Capacity:         c.server.flash.Capacity(),
			ReadGranularity:  c.server.flash.ReadGranularity(),
			WriteGranularity: c.server.flash.WriteGranularity(),
			EraseGranularity: c.server.flash.EraseGranularity(),
		}

	case wire.MsgRead:
		var req wire.ReadMessage
		if err := wire.Decode(payload, &req); err != nil {
			return wire.MsgError, wire.NewErrorMessage(wire.CodeInvalidRequest, err.Error())
		}
		if req.Length < 0 || req.Length > wire.MaxDataLength {
			return wire.MsgError, wire.NewErrorMessage(wire.CodeInvalidRequest,
				fmt.Sprintf("read length %d out of range", req.Length))
		}
		buf := make([]byte, req.Length)
		if err := c.server.flash.Read(req.Offset, buf); err != nil {
			return wire.MsgError, wire.NewErrorMessage(wire.ErrorCode(err), err.Error())
		}
		return wire.MsgData, &wire.DataMessage{Data: buf}

	case wire.MsgWrite:
		var req wire.WriteMessage
		if err := wire.Decode(payload, &req); err != nil {
			return wire.MsgError, wire.NewErrorMessage(wire.CodeInvalidRequest, err.Error())
		}
		var err error
		if req.AutoErase {
			err = c.server.store.Write(req.Offset, req.Data)
		} else {
			err = c.server.flash.Write(req.Offset, req.Data)
		}
		if err != nil {
			return wire.MsgError, wire.NewErrorMessage(wire.ErrorCode(err), err.Error())
		}
		return wire.MsgOK, nil

	case wire.MsgErase:
		var req wire.EraseMessage
		if err := wire.Decode(payload, &req); err != nil {
			return wire.MsgError, wire.NewErrorMessage(wire.CodeInvalidRequest, err.Error())
		}
		if err := c.server.flash.Erase(req.Offset, req.Length); err != nil {
			return wire.MsgError, wire.NewErrorMessage(wire.ErrorCode(err), err.Error())
		}
		return wire.MsgOK, nil

	case wire.MsgSync:
		if err := c.server.flash.Sync(); err != nil {
			return wire.MsgError, wire.NewErrorMessage(wire.CodeIO, err.Error())
		}
		return wire.MsgOK, nil

	case wire.MsgFingerprint:
		fp, err := c.server.flash.Fingerprint()
		if err != nil {
			return wire.MsgError, wire.NewErrorMessage(wire.CodeIO, err.Error())
		}
		return wire.MsgFingerprintResult, &wire.FingerprintResultMessage{Fingerprint: fp}

	default:
		return wire.MsgError, wire.NewErrorMessage(wire.CodeInvalidRequest,
			fmt.Sprintf("unknown message type: %d", msgType))
	}
}
