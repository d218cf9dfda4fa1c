// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import (
	"errors"
	"testing"
)

func TestMappingReadWriteRoundTrip(t *testing.T) {
	m := NewMapping(16, 16, 16, 16)

	if err := m.WriteHoldingRegisters(2, []uint16{0x1234, 0x5678}); err != nil {
		t.Fatalf("WriteHoldingRegisters: %v", err)
	}
	got, err := m.ReadHoldingRegisters(2, 2)
	if err != nil {
		t.Fatalf("ReadHoldingRegisters: %v", err)
	}
	if got[0] != 0x1234 || got[1] != 0x5678 {
		t.Fatalf("ReadHoldingRegisters = %#04x, want [0x1234 0x5678]", got)
	}

	if err := m.WriteCoils(0, []bool{true, false, true}); err != nil {
		t.Fatalf("WriteCoils: %v", err)
	}
	coils, err := m.ReadCoils(0, 3)
	if err != nil {
		t.Fatalf("ReadCoils: %v", err)
	}
	if coils[0] != true || coils[1] != false || coils[2] != true {
		t.Fatalf("ReadCoils = %v, want [true false true]", coils)
	}
}

func TestMappingReadCopiesUnderlyingStorage(t *testing.T) {
	m := NewMapping(0, 0, 4, 0)
	if err := m.WriteHoldingRegisters(0, []uint16{1, 2, 3, 4}); err != nil {
		t.Fatalf("WriteHoldingRegisters: %v", err)
	}
	got, err := m.ReadHoldingRegisters(0, 4)
	if err != nil {
		t.Fatalf("ReadHoldingRegisters: %v", err)
	}
	got[0] = 0xFFFF
	again, err := m.ReadHoldingRegisters(0, 4)
	if err != nil {
		t.Fatalf("ReadHoldingRegisters: %v", err)
	}
	if again[0] != 1 {
		t.Fatalf("mutating a returned read leaked into the mapping: got %#04x, want 1", again[0])
	}
}

func TestMappingOutOfRangeIsIllegalDataAddress(t *testing.T) {
	m := NewMapping(8, 0, 8, 0)

	cases := []struct {
		name string
		err  error
	}{
		{"read coils past end", func() error { _, err := m.ReadCoils(7, 2); return err }()},
		{"read holding registers past end", func() error { _, err := m.ReadHoldingRegisters(6, 4); return err }()},
		{"write coil out of range", m.WriteCoil(8, true)},
		{"write holding register out of range", m.WriteHoldingRegister(8, 1)},
		{"write holding registers overflowing address", m.WriteHoldingRegisters(0xFFFF, []uint16{1, 2})},
	}
	for _, c := range cases {
		if !errors.Is(c.err, ErrIllegalDataAddress) {
			t.Errorf("%s: err = %v, want ErrIllegalDataAddress", c.name, c.err)
		}
	}
}

func TestMappingZeroQuantityAlwaysInRange(t *testing.T) {
	m := NewMapping(0, 0, 0, 0)
	if _, err := m.ReadHoldingRegisters(0, 0); err != nil {
		t.Fatalf("zero-quantity read on empty table: %v", err)
	}
}

func TestMappingExceptionStatusAndSlaveID(t *testing.T) {
	m := NewMapping(0, 0, 0, 0)

	if got := m.ExceptionStatus(); got != 0 {
		t.Fatalf("default ExceptionStatus = %#02x, want 0", got)
	}
	m.SetExceptionStatus(0x2A)
	if got := m.ExceptionStatus(); got != 0x2A {
		t.Fatalf("ExceptionStatus = %#02x, want 0x2A", got)
	}

	if got := m.SlaveID(); len(got) != 0 {
		t.Fatalf("default SlaveID = %v, want empty", got)
	}
	m.SetSlaveID(0xFF, []byte("gomodbus"))
	got := m.SlaveID()
	if len(got) != 1+len("gomodbus") || got[0] != 0xFF {
		t.Fatalf("SlaveID = %v, want run indicator 0xFF followed by \"gomodbus\"", got)
	}
}
