// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"net"
	"time"
)

// TCPServer listens for Modbus TCP connections and serves Dispatch against
// a Mapping. Per spec §1/§4.5, this is not a multi-client server: Serve
// accepts one client, serves its queries one at a time until it
// disconnects, then accepts the next one. A listen backlog of more than
// one connection queuing at the OS level is fine; only one is ever being
// served at a time.
type TCPServer struct {
	Mapping *Mapping
	// UnitID is compared against each query's unit identifier; 0 (the
	// Modbus broadcast address) is always served in addition to UnitID.
	UnitID byte
	// Logger receives a line per accepted connection and per protocol
	// error. Nil disables logging.
	Logger *log.Logger

	listener net.Listener
}

func (s *TCPServer) logf(format string, v ...interface{}) {
	if s.Logger != nil {
		s.Logger.Printf(format, v...)
	}
}

// ListenAndServe binds address, then calls Serve. It blocks until Close is
// called on another goroutine or Serve returns a non-recoverable error.
func (s *TCPServer) ListenAndServe(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("%w: listening on %s: %v", ErrPortOrSocketFailure, address, err)
	}
	return s.Serve(listener)
}

// Serve accepts connections from listener one at a time, serving each to
// completion (until the client disconnects or sends an unrecoverable
// frame) before accepting the next. It returns when listener is closed.
func (s *TCPServer) Serve(listener net.Listener) error {
	s.listener = listener
	for {
		conn, err := listener.Accept()
		if err != nil {
			if isClosedConnError(err) {
				return nil
			}
			return fmt.Errorf("%w: accepting connection: %v", ErrPortOrSocketFailure, err)
		}
		s.logf("modbus: tcp server accepted %s", conn.RemoteAddr())
		s.serveConn(conn)
	}
}

// Close stops the listener; any connection currently being served runs to
// its own natural end (client disconnect or protocol error).
func (s *TCPServer) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

// serveConn reads and replies to queries on conn, in arrival order, until
// the client disconnects or a frame can't be parsed as a well-formed MBAP
// header. It never returns an error to the caller: a single misbehaving
// client must not take down the listen loop.
func (s *TCPServer) serveConn(conn net.Conn) {
	defer conn.Close()
	for {
		header := make([]byte, tcpHeaderSize)
		if _, err := io.ReadFull(conn, header); err != nil {
			if err != io.EOF {
				s.logf("modbus: tcp server reading header from %s: %v", conn.RemoteAddr(), err)
			}
			return
		}
		transactionID := binary.BigEndian.Uint16(header[0:2])
		protocolID := binary.BigEndian.Uint16(header[2:4])
		length := int(binary.BigEndian.Uint16(header[4:6]))
		unitID := header[6]
		if protocolID != tcpProtocolIdentifier || length < 2 || length > tcpMaxLength-tcpHeaderSize+1 {
			s.logf("modbus: tcp server rejecting malformed header from %s", conn.RemoteAddr())
			return
		}
		pduData := make([]byte, length-1)
		if _, err := io.ReadFull(conn, pduData); err != nil {
			s.logf("modbus: tcp server reading pdu from %s: %v", conn.RemoteAddr(), err)
			return
		}
		if unitID != s.UnitID && unitID != 0 {
			continue
		}
		req := &ProtocolDataUnit{FunctionCode: pduData[0], Data: pduData[1:]}
		resp := Dispatch(req, s.Mapping)

		respBody := make([]byte, 1+len(resp.Data))
		respBody[0] = resp.FunctionCode
		copy(respBody[1:], resp.Data)

		respHeader := make([]byte, tcpHeaderSize)
		binary.BigEndian.PutUint16(respHeader[0:2], transactionID)
		binary.BigEndian.PutUint16(respHeader[2:4], tcpProtocolIdentifier)
		binary.BigEndian.PutUint16(respHeader[4:6], uint16(len(respBody)+1))
		respHeader[6] = unitID

		if err := conn.SetWriteDeadline(time.Now().Add(tcpTimeout)); err != nil {
			s.logf("modbus: tcp server setting write deadline for %s: %v", conn.RemoteAddr(), err)
			return
		}
		if _, err := conn.Write(append(respHeader, respBody...)); err != nil {
			s.logf("modbus: tcp server writing response to %s: %v", conn.RemoteAddr(), err)
			return
		}
	}
}

func isClosedConnError(err error) bool {
	opErr, ok := err.(*net.OpError)
	return ok && opErr.Err.Error() == "use of closed network connection"
}
