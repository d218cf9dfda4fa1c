// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import "encoding/binary"

// rtuResponseSize is the master-side size oracle: given an RTU request ADU
// (slave | function | address_hi | address_lo | count_hi | count_lo), it
// returns the number of bytes a well-formed, non-exception response to that
// request occupies, including the trailing 2-byte CRC. It never reads past
// byte 5 of adu.
//
// ReportSlaveID has no fixed-size reply (the byte count is only known once
// the third response byte has arrived), so it is handled separately by
// reportSlaveIDResponseSize once that byte is available.
func rtuResponseSize(adu []byte) int {
	length := rtuMinSize
	switch adu[1] {
	case FuncCodeReadCoils, FuncCodeReadDiscreteInputs:
		count := int(binary.BigEndian.Uint16(adu[4:]))
		length += 1 + count/8
		if count%8 != 0 {
			length++
		}
	case FuncCodeReadHoldingRegisters, FuncCodeReadInputRegisters:
		count := int(binary.BigEndian.Uint16(adu[4:]))
		length += 1 + count*2
	case FuncCodeReadExceptionStatus:
		length += 1
	case FuncCodeWriteSingleCoil, FuncCodeWriteSingleRegister,
		FuncCodeWriteMultipleCoils, FuncCodeWriteMultipleRegisters:
		length += 4
	default:
		// FuncCodeReportSlaveID and anything unrecognized: caller falls
		// back to reportSlaveIDResponseSize or the exception-size path.
	}
	return length
}

// reportSlaveIDResponseSize computes the total RTU frame size for a
// ReportSlaveID reply once at least rtuMinSize bytes have been read. Byte
// index 2 of the response is the byte count of the identification payload
// that follows; the frame then ends with a 2-byte CRC.
func reportSlaveIDResponseSize(data []byte) int {
	return 2 + 1 + int(data[2]) + 2
}

// receiveState names the three-phase progression the slave-side incremental
// reader uses to grow its expected frame size as more of the query becomes
// visible: the function code is not known until the FUNCTION phase
// completes, and for multi-write functions the byte count is not known
// until the BYTE phase completes.
type receiveState int

const (
	stateFunction receiveState = iota
	stateByte
	stateComplete
)

// queryHeaderSize is the number of additional bytes, beyond slave+function,
// that make up the fixed part of a query for the given function code: the
// address and count/value fields. Single-write and read functions carry a
// 4-byte fixed body (address + count/value); force/preset-multiple carry a
// 5-byte fixed body (address + count + byte count) before their variable
// data. Unrecognized function codes report 0 so the reader stops growing
// the frame and lets dispatch reject it.
func queryHeaderSize(function byte) int {
	switch function {
	case FuncCodeReadCoils, FuncCodeReadDiscreteInputs,
		FuncCodeReadHoldingRegisters, FuncCodeReadInputRegisters,
		FuncCodeWriteSingleCoil, FuncCodeWriteSingleRegister:
		return 4
	case FuncCodeWriteMultipleCoils, FuncCodeWriteMultipleRegisters:
		return 5
	case FuncCodeReadExceptionStatus, FuncCodeReportSlaveID:
		return 0
	default:
		return 0
	}
}

// queryDataSize returns the number of remaining bytes expected once the
// fixed header has been read: the byte count field at offset 6 (slave,
// function, addr_hi, addr_lo, count_hi, count_lo, byte_count) worth of
// variable data for multi-write functions, zero for everything else, plus
// the trailing 2-byte CRC in both cases. msg must be at least 7 bytes long
// when function is one of the multi-write codes.
func queryDataSize(msg []byte, function byte) int {
	const checksumSize = 2
	switch function {
	case FuncCodeWriteMultipleCoils, FuncCodeWriteMultipleRegisters:
		return int(msg[6]) + checksumSize
	default:
		return checksumSize
	}
}

// rtuQueryExpectedSize drives the three-state machine described by
// queryHeaderSize/queryDataSize against a query buffer of known function
// code, returning the total frame size expected once the current state is
// reached. Called with stateFunction once 2 bytes (slave + function) have
// arrived, then with stateByte once the size that call returned has
// arrived; the second call folds in the trailing CRC and, for multi-write
// functions, the byte-count-driven payload.
func rtuQueryExpectedSize(msg []byte, function byte, state receiveState) (size int, next receiveState) {
	switch state {
	case stateFunction:
		extra := queryHeaderSize(function)
		return 2 + extra, stateByte
	case stateByte:
		extra := queryDataSize(msg, function)
		return len(msg) + extra, stateComplete
	default:
		return len(msg), stateComplete
	}
}
