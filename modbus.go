// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

// Package modbus implements the Modbus RTU and TCP master/slave protocol:
// framing, CRC-16, the transport-abstracted request/response engine, and
// slave-side dispatch over a caller-supplied Mapping.
//
// ASCII framing and function codes outside the enumerated set (mask write
// register, read/write multiple registers, read FIFO queue) are out of
// scope.
package modbus

import (
	"context"
	"errors"
	"fmt"
)

// Function codes, as defined in the Modbus application protocol.
const (
	FuncCodeReadCoils              byte = 0x01
	FuncCodeReadDiscreteInputs     byte = 0x02
	FuncCodeReadHoldingRegisters   byte = 0x03
	FuncCodeReadInputRegisters     byte = 0x04
	FuncCodeWriteSingleCoil        byte = 0x05
	FuncCodeWriteSingleRegister    byte = 0x06
	FuncCodeReadExceptionStatus    byte = 0x07
	FuncCodeWriteMultipleCoils     byte = 0x0F
	FuncCodeWriteMultipleRegisters byte = 0x10
	FuncCodeReportSlaveID          byte = 0x11

	// exceptionBit is OR'd into the function code of an exception response.
	exceptionBit byte = 0x80
)

// Exception codes, returned in the single data byte of an exception
// response (function code OR'd with 0x80).
const (
	ExceptionCodeIllegalFunction            byte = 0x01
	ExceptionCodeIllegalDataAddress         byte = 0x02
	ExceptionCodeIllegalDataValue           byte = 0x03
	ExceptionCodeServerDeviceFailure        byte = 0x04
	ExceptionCodeAcknowledge                byte = 0x05
	ExceptionCodeServerDeviceBusy           byte = 0x06
	ExceptionCodeNegativeAcknowledge        byte = 0x07
	ExceptionCodeMemoryParityError          byte = 0x08
	// 0x09 is reserved by the protocol.
	ExceptionCodeGatewayPathUnavailable             byte = 0x0A
	ExceptionCodeGatewayTargetDeviceFailedToRespond byte = 0x0B
)

var exceptionMessages = map[byte]string{
	ExceptionCodeIllegalFunction:                    "illegal function",
	ExceptionCodeIllegalDataAddress:                 "illegal data address",
	ExceptionCodeIllegalDataValue:                   "illegal data value",
	ExceptionCodeServerDeviceFailure:                "server device failure",
	ExceptionCodeAcknowledge:                        "acknowledge",
	ExceptionCodeServerDeviceBusy:                   "server device busy",
	ExceptionCodeNegativeAcknowledge:                "negative acknowledge",
	ExceptionCodeMemoryParityError:                  "memory parity error",
	ExceptionCodeGatewayPathUnavailable:             "gateway path unavailable",
	ExceptionCodeGatewayTargetDeviceFailedToRespond: "gateway target device failed to respond",
}

// Sentinel errors. Transport, framing and timing errors are returned as one
// of these (optionally wrapped with fmt.Errorf("%w: ...", ...)); protocol
// exceptions are returned as a *ModbusError instead, so callers can tell the
// two apart with errors.As/errors.Is rather than a sign convention.
var (
	// ErrInvalidQuantity is returned when a read/write quantity is outside
	// the range the protocol allows for that function code.
	ErrInvalidQuantity = errors.New("modbus: invalid quantity")
	// ErrInvalidData is returned when request data fails a local sanity
	// check before being sent (e.g. a coil value that isn't 0xFF00/0x0000).
	ErrInvalidData = errors.New("modbus: invalid data")
	// ErrInvalidResponse is returned when a response PDU doesn't match
	// what the request expects (wrong byte count, echoed fields differ).
	ErrInvalidResponse = errors.New("modbus: invalid response")
	// ErrShortFrame is returned when an ADU is shorter than the minimum
	// size for its framing.
	ErrShortFrame = errors.New("modbus: short frame")
	// ErrProtocolError is returned for framing-level mismatches: bad CRC,
	// bad MBAP header fields, slave/unit id mismatch.
	ErrProtocolError = errors.New("modbus: protocol error")
	// ErrTooManyData is returned when an accumulated frame would exceed
	// the 260-byte maximum ADU size.
	ErrTooManyData = errors.New("modbus: too many data")
	// ErrInvalidExceptionCode names an exception response whose exception
	// code lies outside 0x01..0x0B. No function in this package returns
	// it: every exception response is reported as a *ModbusError.
	ErrInvalidExceptionCode = errors.New("modbus: invalid exception code")
	// ErrTimeout names a read in which no bytes (or not enough bytes)
	// arrive within the configured window. No function in this package
	// returns it: a timed-out read ends in a wrapped net, serial or
	// context error instead.
	ErrTimeout = errors.New("modbus: timeout")
	// ErrConnectionClosed names a peer closing the connection. No function
	// in this package returns it: a closed TCP connection surfaces as a
	// wrapped io.EOF.
	ErrConnectionClosed = errors.New("modbus: connection closed")
	// ErrPortOrSocketFailure is returned when opening or configuring the
	// underlying serial port or socket fails.
	ErrPortOrSocketFailure = errors.New("modbus: port or socket failure")
	// ErrIllegalDataAddress is returned by Mapping accessors when
	// address+quantity runs past the end of the table; Dispatch turns
	// this into an IllegalDataAddress exception response.
	ErrIllegalDataAddress = errors.New("modbus: illegal data address")
)

// ModbusError implements error interface. It is returned when the slave/
// server replies with an exception response (function code with the high
// bit set).
type ModbusError struct {
	FunctionCode  byte
	ExceptionCode byte
}

func (e *ModbusError) Error() string {
	msg, ok := exceptionMessages[e.ExceptionCode]
	if !ok {
		return fmt.Sprintf("modbus: function code %#x: unknown exception code %#x", e.FunctionCode, e.ExceptionCode)
	}
	return fmt.Sprintf("modbus: function code %#x: %s", e.FunctionCode&^exceptionBit, msg)
}

// ProtocolDataUnit (PDU) is independent of underlying transport/framing.
type ProtocolDataUnit struct {
	FunctionCode byte
	Data         []byte
}

// Packager specifies the behavior to encode/decode a Modbus application
// data unit (ADU), and the ability to verify the ADU of a response against
// the ADU of the corresponding request.
type Packager interface {
	Encode(pdu *ProtocolDataUnit) (adu []byte, err error)
	Decode(adu []byte) (pdu *ProtocolDataUnit, err error)
	Verify(aduRequest []byte, aduResponse []byte) (err error)
}

// Transporter specifies the behavior to send a request ADU and receive a
// response ADU over the underlying physical/network transport.
type Transporter interface {
	Send(ctx context.Context, aduRequest []byte) (aduResponse []byte, err error)
}

// ClientHandler is the interface that groups the Packager and Transporter
// methods.
type ClientHandler interface {
	Packager
	Transporter
}

// Client is the interface implementing every master-side Modbus operation
// this library supports.
type Client interface {
	// ReadCoils reads from 1 to 2000 contiguous status of coils in a
	// remote device.
	ReadCoils(ctx context.Context, address, quantity uint16) (results []byte, err error)
	// ReadDiscreteInputs reads from 1 to 2000 contiguous status of
	// discrete inputs in a remote device.
	ReadDiscreteInputs(ctx context.Context, address, quantity uint16) (results []byte, err error)
	// ReadHoldingRegisters reads the contents of a contiguous block of
	// holding registers (1 to 125) in a remote device.
	ReadHoldingRegisters(ctx context.Context, address, quantity uint16) (results []byte, err error)
	// ReadInputRegisters reads from 1 to 125 contiguous input registers
	// in a remote device.
	ReadInputRegisters(ctx context.Context, address, quantity uint16) (results []byte, err error)
	// WriteSingleCoil writes a single output to either ON or OFF in a
	// remote device (function code 0x05: value must be 0xFF00 or 0x0000).
	WriteSingleCoil(ctx context.Context, address, value uint16) (results []byte, err error)
	// WriteSingleRegister writes a single holding register in a remote
	// device.
	WriteSingleRegister(ctx context.Context, address, value uint16) (results []byte, err error)
	// WriteMultipleCoils forces each coil in a sequence of coils to
	// either ON or OFF in a remote device.
	WriteMultipleCoils(ctx context.Context, address, quantity uint16, value []byte) (results []byte, err error)
	// WriteMultipleRegisters writes a block of contiguous registers (1 to
	// 123) in a remote device.
	WriteMultipleRegisters(ctx context.Context, address, quantity uint16, value []byte) (results []byte, err error)
	// ReadExceptionStatus reads the contents of eight exception status
	// outputs in a remote device (function code 0x07, serial line only,
	// but accepted here regardless of transport).
	ReadExceptionStatus(ctx context.Context) (status byte, err error)
	// ReportSlaveID reads the description of the type, current status,
	// and other information specific to the remote device.
	ReportSlaveID(ctx context.Context) (results []byte, err error)
}

// StopBits describes the number of stop bits for a serial line.
type StopBits int

const (
	OneStopBit StopBits = iota
	TwoStopBits
)

// Parity describes the parity mode for a serial line.
type Parity int

const (
	NoParity Parity = iota
	OddParity
	EvenParity
)

// ErrorPolicy selects how a TCP transporter reacts to a transport error.
type ErrorPolicy int

const (
	// NopOnError returns the error unchanged and leaves the connection as
	// it is; the caller decides whether and when to retry.
	NopOnError ErrorPolicy = iota
	// ReconnectOnError closes the connection, reconnects and resends the
	// request once, and returns the outcome of that second attempt.
	ReconnectOnError
)
