// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import "encoding/binary"

// Dispatch implements the slave side of the protocol (§4.7): given a
// decoded query PDU and the Mapping it addresses, it validates the
// function code and, where applicable, the address range and request
// data, performs the read or write against mapping, and returns the
// response PDU ready for a Packager to encode. An unrecognized function
// code, an out-of-range address, or malformed request data each produce
// an exception response (function code | 0x80, one exception-code byte)
// rather than a panic or a silently wrong reply — the reference behavior
// this package is modeled on skips these checks; the protocol requires
// them (see spec §9).
//
// Dispatch does not filter by slave/unit id or apply RTU/TCP framing;
// that is the transport server's job before and after calling Dispatch.
func Dispatch(req *ProtocolDataUnit, mapping *Mapping) *ProtocolDataUnit {
	switch req.FunctionCode {
	case FuncCodeReadCoils:
		return dispatchReadBits(req, mapping.ReadCoils)
	case FuncCodeReadDiscreteInputs:
		return dispatchReadBits(req, mapping.ReadDiscreteInputs)
	case FuncCodeReadHoldingRegisters:
		return dispatchReadRegisters(req, mapping.ReadHoldingRegisters)
	case FuncCodeReadInputRegisters:
		return dispatchReadRegisters(req, mapping.ReadInputRegisters)
	case FuncCodeWriteSingleCoil:
		return dispatchWriteSingleCoil(req, mapping)
	case FuncCodeWriteSingleRegister:
		return dispatchWriteSingleRegister(req, mapping)
	case FuncCodeWriteMultipleCoils:
		return dispatchWriteMultipleCoils(req, mapping)
	case FuncCodeWriteMultipleRegisters:
		return dispatchWriteMultipleRegisters(req, mapping)
	case FuncCodeReadExceptionStatus:
		return &ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: []byte{mapping.ExceptionStatus()}}
	case FuncCodeReportSlaveID:
		return dispatchReportSlaveID(req, mapping)
	default:
		return exceptionResponse(req.FunctionCode, ExceptionCodeIllegalFunction)
	}
}

func exceptionResponse(functionCode, exceptionCode byte) *ProtocolDataUnit {
	return &ProtocolDataUnit{FunctionCode: functionCode | exceptionBit, Data: []byte{exceptionCode}}
}

func dispatchReadBits(req *ProtocolDataUnit, read func(address, quantity uint16) ([]bool, error)) *ProtocolDataUnit {
	if len(req.Data) < 4 {
		return exceptionResponse(req.FunctionCode, ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])
	if quantity < 1 || quantity > 2000 {
		return exceptionResponse(req.FunctionCode, ExceptionCodeIllegalDataValue)
	}
	values, err := read(address, quantity)
	if err != nil {
		return exceptionResponse(req.FunctionCode, ExceptionCodeIllegalDataAddress)
	}
	return &ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: packBits(values)}
}

func dispatchReadRegisters(req *ProtocolDataUnit, read func(address, quantity uint16) ([]uint16, error)) *ProtocolDataUnit {
	if len(req.Data) < 4 {
		return exceptionResponse(req.FunctionCode, ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])
	if quantity < 1 || quantity > 125 {
		return exceptionResponse(req.FunctionCode, ExceptionCodeIllegalDataValue)
	}
	values, err := read(address, quantity)
	if err != nil {
		return exceptionResponse(req.FunctionCode, ExceptionCodeIllegalDataAddress)
	}
	return &ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: packRegisters(values)}
}

func dispatchWriteSingleCoil(req *ProtocolDataUnit, mapping *Mapping) *ProtocolDataUnit {
	if len(req.Data) < 4 {
		return exceptionResponse(req.FunctionCode, ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	value := binary.BigEndian.Uint16(req.Data[2:4])
	if value != 0x0000 && value != 0xFF00 {
		return exceptionResponse(req.FunctionCode, ExceptionCodeIllegalDataValue)
	}
	if err := mapping.WriteCoil(address, value == 0xFF00); err != nil {
		return exceptionResponse(req.FunctionCode, ExceptionCodeIllegalDataAddress)
	}
	// Echo the request. Unlike the reference source (spec §9), this does
	// not echo the request's raw frame: it builds a fresh PDU from the four
	// address/value bytes and lets the packager re-encode and re-CRC it, so
	// an RTU reply never carries a stale checksum.
	return &ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: req.Data[:4]}
}

func dispatchWriteSingleRegister(req *ProtocolDataUnit, mapping *Mapping) *ProtocolDataUnit {
	if len(req.Data) < 4 {
		return exceptionResponse(req.FunctionCode, ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	value := binary.BigEndian.Uint16(req.Data[2:4])
	if err := mapping.WriteHoldingRegister(address, value); err != nil {
		return exceptionResponse(req.FunctionCode, ExceptionCodeIllegalDataAddress)
	}
	return &ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: req.Data[:4]}
}

func dispatchWriteMultipleCoils(req *ProtocolDataUnit, mapping *Mapping) *ProtocolDataUnit {
	if len(req.Data) < 5 {
		return exceptionResponse(req.FunctionCode, ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])
	byteCount := req.Data[4]
	if quantity < 1 || quantity > 1968 {
		return exceptionResponse(req.FunctionCode, ExceptionCodeIllegalDataValue)
	}
	expectedByteCount := (quantity + 7) / 8
	if uint16(byteCount) != expectedByteCount || len(req.Data) < 5+int(byteCount) {
		return exceptionResponse(req.FunctionCode, ExceptionCodeIllegalDataValue)
	}
	values := unpackBits(req.Data[5:5+int(byteCount)], quantity)
	if err := mapping.WriteCoils(address, values); err != nil {
		return exceptionResponse(req.FunctionCode, ExceptionCodeIllegalDataAddress)
	}
	return &ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: dataBlock(address, quantity)}
}

func dispatchWriteMultipleRegisters(req *ProtocolDataUnit, mapping *Mapping) *ProtocolDataUnit {
	if len(req.Data) < 5 {
		return exceptionResponse(req.FunctionCode, ExceptionCodeIllegalDataValue)
	}
	address := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])
	byteCount := req.Data[4]
	if quantity < 1 || quantity > 123 {
		return exceptionResponse(req.FunctionCode, ExceptionCodeIllegalDataValue)
	}
	if byteCount != byte(quantity*2) || len(req.Data) < 5+int(byteCount) {
		return exceptionResponse(req.FunctionCode, ExceptionCodeIllegalDataValue)
	}
	values := unpackRegisters(req.Data[5 : 5+int(byteCount)])
	if err := mapping.WriteHoldingRegisters(address, values); err != nil {
		return exceptionResponse(req.FunctionCode, ExceptionCodeIllegalDataAddress)
	}
	return &ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: dataBlock(address, quantity)}
}

func dispatchReportSlaveID(req *ProtocolDataUnit, mapping *Mapping) *ProtocolDataUnit {
	id := mapping.SlaveID()
	if len(id) == 0 {
		id = []byte{0x00}
	}
	data := make([]byte, 1+len(id))
	data[0] = byte(len(id))
	copy(data[1:], id)
	return &ProtocolDataUnit{FunctionCode: req.FunctionCode, Data: data}
}

// packBits packs values LSB-first into the byte-count-prefixed wire format
// a coil/discrete-input read response carries.
func packBits(values []bool) []byte {
	byteCount := (len(values) + 7) / 8
	out := make([]byte, 1+byteCount)
	out[0] = byte(byteCount)
	for i, v := range values {
		if v {
			out[1+i/8] |= 1 << uint(i%8)
		}
	}
	return out
}

// unpackBits is the inverse of packBits, reading quantity LSB-first bits
// out of data (no byte-count prefix: the caller has already consumed it).
func unpackBits(data []byte, quantity uint16) []bool {
	out := make([]bool, quantity)
	for i := uint16(0); i < quantity; i++ {
		out[i] = data[i/8]&(1<<uint(i%8)) != 0
	}
	return out
}

// packRegisters packs values big-endian into the byte-count-prefixed wire
// format a register read response carries.
func packRegisters(values []uint16) []byte {
	out := make([]byte, 1+2*len(values))
	out[0] = byte(2 * len(values))
	for i, v := range values {
		binary.BigEndian.PutUint16(out[1+2*i:], v)
	}
	return out
}

// unpackRegisters is the inverse of packRegisters, reading big-endian
// words out of data (no byte-count prefix: the caller has already
// consumed it).
func unpackRegisters(data []byte) []uint16 {
	out := make([]uint16, len(data)/2)
	for i := range out {
		out[i] = binary.BigEndian.Uint16(data[2*i:])
	}
	return out
}
