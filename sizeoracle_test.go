// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import "testing"

func TestRTUResponseSize(t *testing.T) {
	cases := []struct {
		name string
		adu  []byte
		want int
	}{
		{"read holding registers count=2", []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x02}, 9},
		{"read coils count=8", []byte{0x01, 0x01, 0x00, 0x00, 0x00, 0x08}, 6},
		{"read coils count=9", []byte{0x01, 0x01, 0x00, 0x00, 0x00, 0x09}, 7},
		{"read coils count=0", []byte{0x01, 0x01, 0x00, 0x00, 0x00, 0x00}, 5},
		{"read exception status", []byte{0x01, 0x07}, 5},
		{"write single coil", []byte{0x01, 0x05, 0x00, 0x10, 0xFF, 0x00}, 8},
		{"write multiple registers reply size", []byte{0x01, 0x10, 0x00, 0x00, 0x00, 0x02}, 8},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := rtuResponseSize(c.adu); got != c.want {
				t.Fatalf("rtuResponseSize(%v) = %d, want %d", c.adu, got, c.want)
			}
		})
	}
}

func TestReportSlaveIDResponseSize(t *testing.T) {
	// slave | function | byte_count=3 | 3 data bytes ...
	data := []byte{0x01, 0x11, 0x03}
	if got, want := reportSlaveIDResponseSize(data), 8; got != want {
		t.Fatalf("reportSlaveIDResponseSize(%v) = %d, want %d", data, got, want)
	}
}

func TestRTUQueryExpectedSizeReadFunctions(t *testing.T) {
	msg := []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x02}
	size, next := rtuQueryExpectedSize(msg, FuncCodeReadHoldingRegisters, stateFunction)
	if size != 6 || next != stateByte {
		t.Fatalf("FUNCTION phase = (%d, %v), want (6, stateByte)", size, next)
	}
	size, next = rtuQueryExpectedSize(msg, FuncCodeReadHoldingRegisters, stateByte)
	if size != 8 || next != stateComplete {
		t.Fatalf("BYTE phase = (%d, %v), want (8, stateComplete)", size, next)
	}
}

func TestRTUQueryExpectedSizeMultiWrite(t *testing.T) {
	// slave, func, addr_hi, addr_lo, count_hi, count_lo, byte_count=4
	msg := []byte{0x01, 0x10, 0x00, 0x00, 0x00, 0x02, 0x04}
	size, next := rtuQueryExpectedSize(msg, FuncCodeWriteMultipleRegisters, stateFunction)
	if size != 7 || next != stateByte {
		t.Fatalf("FUNCTION phase = (%d, %v), want (7, stateByte)", size, next)
	}
	size, next = rtuQueryExpectedSize(msg, FuncCodeWriteMultipleRegisters, stateByte)
	if size != 13 || next != stateComplete {
		t.Fatalf("BYTE phase = (%d, %v), want (13, stateComplete)", size, next)
	}
}
