// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"
)

func TestTCPServerServeConnReadHoldingRegisters(t *testing.T) {
	mapping := NewMapping(0, 0, 4, 0)
	if err := mapping.WriteHoldingRegisters(0, []uint16{0x1234, 0x5678}); err != nil {
		t.Fatalf("WriteHoldingRegisters: %v", err)
	}
	server := &TCPServer{Mapping: mapping, UnitID: 1}

	client, serverConn := net.Pipe()
	done := make(chan struct{})
	go func() {
		server.serveConn(serverConn)
		close(done)
	}()

	query := []byte{0x00, 0x05, 0x00, 0x00, 0x00, 0x06, 0x01, 0x03, 0x00, 0x00, 0x00, 0x02}
	if _, err := client.Write(query); err != nil {
		t.Fatalf("writing query: %v", err)
	}

	header := make([]byte, tcpHeaderSize)
	if _, err := io.ReadFull(client, header); err != nil {
		t.Fatalf("reading response header: %v", err)
	}
	if transactionID := binary.BigEndian.Uint16(header[0:2]); transactionID != 5 {
		t.Fatalf("transaction id = %d, want 5", transactionID)
	}
	length := binary.BigEndian.Uint16(header[4:6])
	body := make([]byte, length-1)
	if _, err := io.ReadFull(client, body); err != nil {
		t.Fatalf("reading response body: %v", err)
	}
	want := []byte{FuncCodeReadHoldingRegisters, 0x04, 0x12, 0x34, 0x56, 0x78}
	if !bytes.Equal(body, want) {
		t.Fatalf("response body = %#v, want %#v", body, want)
	}

	client.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("serveConn did not return after client closed the connection")
	}
}

func TestTCPServerIgnoresOtherUnitIDsExceptBroadcast(t *testing.T) {
	mapping := NewMapping(0, 0, 4, 0)
	server := &TCPServer{Mapping: mapping, UnitID: 7}

	client, serverConn := net.Pipe()
	go server.serveConn(serverConn)
	defer client.Close()

	mismatched := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x09, 0x03, 0x00, 0x00, 0x00, 0x01}
	broadcast := []byte{0x00, 0x02, 0x00, 0x00, 0x00, 0x06, 0x00, 0x03, 0x00, 0x00, 0x00, 0x01}

	if _, err := client.Write(mismatched); err != nil {
		t.Fatalf("writing mismatched-unit query: %v", err)
	}
	if _, err := client.Write(broadcast); err != nil {
		t.Fatalf("writing broadcast query: %v", err)
	}

	header := make([]byte, tcpHeaderSize)
	if _, err := io.ReadFull(client, header); err != nil {
		t.Fatalf("reading response header: %v", err)
	}
	if transactionID := binary.BigEndian.Uint16(header[0:2]); transactionID != 2 {
		t.Fatalf("first reply transaction id = %d, want 2 (the broadcast query, mismatched unit dropped)", transactionID)
	}
}

func TestTCPServerServeAnswersThenReturnsNilAfterClose(t *testing.T) {
	mapping := NewMapping(0, 0, 1, 0)
	server := &TCPServer{Mapping: mapping, UnitID: 1}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	serveDone := make(chan error, 1)
	go func() { serveDone <- server.Serve(listener) }()

	conn, err := net.Dial("tcp", listener.Addr().String())
	if err != nil {
		t.Fatalf("net.Dial: %v", err)
	}
	query := []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x06, 0x01, 0x06, 0x00, 0x00, 0x00, 0x2A}
	if _, err := conn.Write(query); err != nil {
		t.Fatalf("writing query: %v", err)
	}
	header := make([]byte, tcpHeaderSize)
	if _, err := io.ReadFull(conn, header); err != nil {
		t.Fatalf("reading response header: %v", err)
	}
	conn.Close()

	server.Close()
	select {
	case err := <-serveDone:
		if err != nil {
			t.Fatalf("Serve returned %v, want nil after Close", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after Close")
	}
}
