// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import (
	"fmt"
	"log"
	"time"

	"go.bug.st/serial"
)

// slaveInterCharTimeout is the per-read timeout the slave-mode receive engine
// (§4.4) uses between bytes of a frame already in progress; it plays the
// role of T_end. The "wait indefinitely for the first byte" requirement is
// approximated by the long slaveFirstByteTimeout rather than a true
// indefinite block, so a
// closed port is noticed instead of hanging a goroutine forever.
const (
	slaveFirstByteTimeout = 60 * time.Second
	slaveInterCharTimeout = 100 * time.Millisecond
)

// RTUServer serves Dispatch against a Mapping over a serial line, playing
// the slave role described in spec §4.7. Like TCPServer it serves one
// query at a time; RTU has no concept of multiple concurrent clients to
// begin with.
type RTUServer struct {
	Mapping  *Mapping
	UnitID   byte
	BaudRate int
	DataBits int
	StopBits StopBits
	Parity   Parity
	Logger   *log.Logger

	port serial.Port
}

func (s *RTUServer) logf(format string, v ...interface{}) {
	if s.Logger != nil {
		s.Logger.Printf(format, v...)
	}
}

// ListenAndServe opens the serial device at address and calls Serve. It
// blocks until Close is called on another goroutine or the port is
// unusable.
func (s *RTUServer) ListenAndServe(address string) error {
	baudRate := s.BaudRate
	if !standardBaudRates[baudRate] {
		s.logf("modbus: rtu server unsupported baud rate %d, falling back to %d", baudRate, defaultBaudRate)
		baudRate = defaultBaudRate
	}
	dataBits := s.DataBits
	if dataBits == 0 {
		dataBits = 8
	}
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: dataBits,
		StopBits: toSerialStopBits(s.StopBits),
		Parity:   toSerialParity(s.Parity),
	}
	port, err := serial.Open(address, mode)
	if err != nil {
		return fmt.Errorf("%w: opening %s: %v", ErrPortOrSocketFailure, address, err)
	}
	return s.Serve(port)
}

// Serve reads and replies to queries on port, in arrival order, until Close
// closes it or a read fails for a reason other than a timeout.
func (s *RTUServer) Serve(port serial.Port) error {
	s.port = port
	defer port.Close()
	for {
		adu, err := s.receiveQuery()
		if err != nil {
			if err == errSlaveReceiveTimeout {
				continue
			}
			return err
		}
		if len(adu) < rtuMinSize {
			continue
		}
		if checksum := crc16(adu[:len(adu)-2]); byte(checksum) != adu[len(adu)-2] || byte(checksum>>8) != adu[len(adu)-1] {
			s.logf("modbus: rtu server dropping frame with bad crc")
			continue
		}
		unitID := adu[0]
		if unitID != s.UnitID && unitID != 0 {
			continue
		}
		req := &ProtocolDataUnit{FunctionCode: adu[1], Data: adu[2 : len(adu)-2]}
		resp := Dispatch(req, s.Mapping)

		reply := make([]byte, 2+len(resp.Data)+2)
		reply[0] = unitID
		reply[1] = resp.FunctionCode
		copy(reply[2:], resp.Data)
		checksum := crc16(reply[:len(reply)-2])
		reply[len(reply)-2] = byte(checksum)
		reply[len(reply)-1] = byte(checksum >> 8)

		if err := port.SetReadTimeout(slaveInterCharTimeout); err != nil {
			return fmt.Errorf("%w: setting read timeout: %v", ErrPortOrSocketFailure, err)
		}
		if _, err := port.Write(reply); err != nil {
			return fmt.Errorf("%w: writing response: %v", ErrPortOrSocketFailure, err)
		}
	}
}

// Close closes the underlying port, unblocking a pending Serve read.
func (s *RTUServer) Close() error {
	if s.port == nil {
		return nil
	}
	return s.port.Close()
}

var errSlaveReceiveTimeout = fmt.Errorf("modbus: rtu server: no query within %s", slaveFirstByteTimeout)

// receiveQuery runs the slave-mode three-state machine from spec §4.4:
// read slave+function (state FUNCTION), grow the expected size by the
// function's fixed header (state BYTE), then by its variable byte-count
// field if it carries one (state COMPLETE), using T_end between reads
// within a frame once the first byte has arrived.
func (s *RTUServer) receiveQuery() ([]byte, error) {
	if err := s.port.SetReadTimeout(slaveFirstByteTimeout); err != nil {
		return nil, fmt.Errorf("%w: setting read timeout: %v", ErrPortOrSocketFailure, err)
	}
	var buf [rtuMaxSize]byte
	n, err := s.readAtLeast(buf[:], 1)
	if err != nil {
		return nil, err
	}
	if err := s.port.SetReadTimeout(slaveInterCharTimeout); err != nil {
		return nil, fmt.Errorf("%w: setting read timeout: %v", ErrPortOrSocketFailure, err)
	}

	n, err = s.readAtLeastFrom(buf[:], n, 2)
	if err != nil {
		return nil, err
	}
	function := buf[1]
	size, state := rtuQueryExpectedSize(buf[:n], function, stateFunction)

	n, err = s.readAtLeastFrom(buf[:], n, size)
	if err != nil {
		return nil, err
	}
	size, _ = rtuQueryExpectedSize(buf[:n], function, state)
	if size > rtuMaxSize {
		return nil, ErrTooManyData
	}

	n, err = s.readAtLeastFrom(buf[:], n, size)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// readAtLeast reads into buf until at least want bytes have arrived,
// starting from an empty buffer.
func (s *RTUServer) readAtLeast(buf []byte, want int) (int, error) {
	return s.readAtLeastFrom(buf, 0, want)
}

// readAtLeastFrom continues a read into buf, already holding have bytes,
// until at least want bytes are present. A read that times out with zero
// new bytes, whether waiting for the first byte of a query or partway
// through one, is reported as errSlaveReceiveTimeout: Serve drops whatever
// partial frame was in progress and goes back to waiting for the next
// query, rather than taking the whole server down because one master went
// silent mid-frame.
func (s *RTUServer) readAtLeastFrom(buf []byte, have, want int) (int, error) {
	n := have
	for n < want {
		nn, err := s.port.Read(buf[n:want])
		if nn == 0 && err == nil {
			return 0, errSlaveReceiveTimeout
		}
		n += nn
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrPortOrSocketFailure, err)
		}
	}
	return n, nil
}
