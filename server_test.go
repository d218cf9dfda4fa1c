// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import (
	"bytes"
	"testing"
)

func TestDispatchReadHoldingRegisters(t *testing.T) {
	m := NewMapping(0, 0, 4, 0)
	if err := m.WriteHoldingRegisters(0, []uint16{0x1234, 0x5678}); err != nil {
		t.Fatalf("WriteHoldingRegisters: %v", err)
	}

	req := &ProtocolDataUnit{
		FunctionCode: FuncCodeReadHoldingRegisters,
		Data:         []byte{0x00, 0x00, 0x00, 0x02},
	}
	resp := Dispatch(req, m)
	want := &ProtocolDataUnit{
		FunctionCode: FuncCodeReadHoldingRegisters,
		Data:         []byte{0x04, 0x12, 0x34, 0x56, 0x78},
	}
	if resp.FunctionCode != want.FunctionCode || !bytes.Equal(resp.Data, want.Data) {
		t.Fatalf("Dispatch = %+v, want %+v", resp, want)
	}
}

func TestDispatchReadCoils(t *testing.T) {
	m := NewMapping(16, 0, 0, 0)
	if err := m.WriteCoils(0, []bool{true, false, true, true, false, false, false, false, true}); err != nil {
		t.Fatalf("WriteCoils: %v", err)
	}

	req := &ProtocolDataUnit{
		FunctionCode: FuncCodeReadCoils,
		Data:         []byte{0x00, 0x00, 0x00, 0x09},
	}
	resp := Dispatch(req, m)
	want := []byte{0x02, 0x0D, 0x01}
	if !bytes.Equal(resp.Data, want) {
		t.Fatalf("Dispatch read coils Data = %#v, want %#v", resp.Data, want)
	}
}

func TestDispatchWriteSingleCoilEchoesRequest(t *testing.T) {
	m := NewMapping(16, 0, 0, 0)
	req := &ProtocolDataUnit{
		FunctionCode: FuncCodeWriteSingleCoil,
		Data:         []byte{0x00, 0x10, 0xFF, 0x00},
	}
	resp := Dispatch(req, m)
	if resp.FunctionCode != FuncCodeWriteSingleCoil || !bytes.Equal(resp.Data, req.Data) {
		t.Fatalf("Dispatch = %+v, want echo of request", resp)
	}
	coils, err := m.ReadCoils(0x10, 1)
	if err != nil || !coils[0] {
		t.Fatalf("coil 0x10 = %v, %v, want true, nil", coils, err)
	}
}

func TestDispatchWriteSingleCoilRejectsBadValue(t *testing.T) {
	m := NewMapping(16, 0, 0, 0)
	req := &ProtocolDataUnit{
		FunctionCode: FuncCodeWriteSingleCoil,
		Data:         []byte{0x00, 0x10, 0x12, 0x34},
	}
	resp := Dispatch(req, m)
	assertException(t, resp, FuncCodeWriteSingleCoil, ExceptionCodeIllegalDataValue)
}

func TestDispatchWriteMultipleRegisters(t *testing.T) {
	m := NewMapping(0, 0, 8, 0)
	req := &ProtocolDataUnit{
		FunctionCode: FuncCodeWriteMultipleRegisters,
		Data:         []byte{0x00, 0x01, 0x00, 0x02, 0x04, 0x00, 0x0A, 0x01, 0x02},
	}
	resp := Dispatch(req, m)
	want := dataBlock(1, 2)
	if !bytes.Equal(resp.Data, want) {
		t.Fatalf("Dispatch write multiple registers Data = %#v, want %#v", resp.Data, want)
	}
	got, err := m.ReadHoldingRegisters(1, 2)
	if err != nil {
		t.Fatalf("ReadHoldingRegisters: %v", err)
	}
	if got[0] != 0x000A || got[1] != 0x0102 {
		t.Fatalf("holding registers after write = %#04x, want [0x000A 0x0102]", got)
	}
}

func TestDispatchIllegalDataAddress(t *testing.T) {
	m := NewMapping(0, 0, 4, 0)
	req := &ProtocolDataUnit{
		FunctionCode: FuncCodeReadHoldingRegisters,
		Data:         []byte{0x00, 0x02, 0x00, 0x04},
	}
	resp := Dispatch(req, m)
	assertException(t, resp, FuncCodeReadHoldingRegisters, ExceptionCodeIllegalDataAddress)
}

func TestDispatchUnknownFunctionIsIllegalFunction(t *testing.T) {
	m := NewMapping(0, 0, 0, 0)
	req := &ProtocolDataUnit{FunctionCode: 0x55, Data: nil}
	resp := Dispatch(req, m)
	assertException(t, resp, 0x55, ExceptionCodeIllegalFunction)
}

func TestDispatchReadExceptionStatus(t *testing.T) {
	m := NewMapping(0, 0, 0, 0)
	m.SetExceptionStatus(0x03)
	req := &ProtocolDataUnit{FunctionCode: FuncCodeReadExceptionStatus}
	resp := Dispatch(req, m)
	if !bytes.Equal(resp.Data, []byte{0x03}) {
		t.Fatalf("Dispatch read exception status Data = %#v, want [0x03]", resp.Data)
	}
}

func TestDispatchReportSlaveIDDefaultsWhenUnset(t *testing.T) {
	m := NewMapping(0, 0, 0, 0)
	req := &ProtocolDataUnit{FunctionCode: FuncCodeReportSlaveID}
	resp := Dispatch(req, m)
	want := []byte{0x01, 0x00}
	if !bytes.Equal(resp.Data, want) {
		t.Fatalf("Dispatch report slave id Data = %#v, want %#v", resp.Data, want)
	}
}

func TestDispatchQuantityOutOfRangeIsIllegalDataValue(t *testing.T) {
	m := NewMapping(0, 0, defaultHoldingRegSizeForTest, 0)
	req := &ProtocolDataUnit{
		FunctionCode: FuncCodeReadHoldingRegisters,
		Data:         []byte{0x00, 0x00, 0x00, 0x7E}, // 126 > max of 125
	}
	resp := Dispatch(req, m)
	assertException(t, resp, FuncCodeReadHoldingRegisters, ExceptionCodeIllegalDataValue)
}

const defaultHoldingRegSizeForTest = 200

func assertException(t *testing.T, resp *ProtocolDataUnit, wantFunctionCode, wantExceptionCode byte) {
	t.Helper()
	if resp.FunctionCode != wantFunctionCode|exceptionBit {
		t.Fatalf("FunctionCode = %#02x, want %#02x", resp.FunctionCode, wantFunctionCode|exceptionBit)
	}
	if len(resp.Data) != 1 || resp.Data[0] != wantExceptionCode {
		t.Fatalf("Data = %#v, want exception code %#02x", resp.Data, wantExceptionCode)
	}
}
