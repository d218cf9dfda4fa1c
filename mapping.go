// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package modbus

import "sync"

// Mapping is a slave's addressable state (§3 of the protocol this package
// implements): four independently-sized, zero-indexed tables backing coil
// status, discrete input status, holding registers and input registers,
// plus the two single-shot diagnostic values function codes 0x07 and 0x11
// report. It is constructed once with the declared length of each table,
// owned by the caller, and must outlive every call to Dispatch that
// references it. A Mapping may be read and written concurrently from
// multiple goroutines; the transport server driving Dispatch is what isn't
// safe for concurrent use, not the Mapping itself.
type Mapping struct {
	mu sync.RWMutex

	coils          []bool
	discreteInputs []bool
	holdingRegs    []uint16
	inputRegs      []uint16

	exceptionStatus byte
	slaveID         []byte
}

// NewMapping allocates a Mapping with the given per-table lengths. Every
// table is zero-initialized. A zero length is legal for any table; every
// subsequent access of one or more values to it then fails with
// ErrIllegalDataAddress (a quantity of 0 still succeeds), exactly as
// if the table were fully populated but the request ran past its end.
func NewMapping(numCoils, numDiscreteInputs, numHoldingRegisters, numInputRegisters int) *Mapping {
	return &Mapping{
		coils:          make([]bool, numCoils),
		discreteInputs: make([]bool, numDiscreteInputs),
		holdingRegs:    make([]uint16, numHoldingRegisters),
		inputRegs:      make([]uint16, numInputRegisters),
	}
}

// validateMappingRange reports whether [address, address+quantity) fits
// within a table of the given length. quantity 0 is always in range (an
// empty read/write touches nothing). Addition is done in 32 bits so a
// request with address+quantity overflowing uint16 is rejected rather than
// wrapping back into range.
func validateMappingRange(address, quantity uint16, tableLen int) error {
	if quantity == 0 {
		return nil
	}
	if uint32(address)+uint32(quantity) > uint32(tableLen) {
		return ErrIllegalDataAddress
	}
	return nil
}

// ReadCoils returns a copy of quantity coil values starting at address.
func (m *Mapping) ReadCoils(address, quantity uint16) ([]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := validateMappingRange(address, quantity, len(m.coils)); err != nil {
		return nil, err
	}
	out := make([]bool, quantity)
	copy(out, m.coils[address:int(address)+int(quantity)])
	return out, nil
}

// ReadDiscreteInputs returns a copy of quantity discrete input values
// starting at address.
func (m *Mapping) ReadDiscreteInputs(address, quantity uint16) ([]bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := validateMappingRange(address, quantity, len(m.discreteInputs)); err != nil {
		return nil, err
	}
	out := make([]bool, quantity)
	copy(out, m.discreteInputs[address:int(address)+int(quantity)])
	return out, nil
}

// ReadHoldingRegisters returns a copy of quantity holding register values
// starting at address.
func (m *Mapping) ReadHoldingRegisters(address, quantity uint16) ([]uint16, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := validateMappingRange(address, quantity, len(m.holdingRegs)); err != nil {
		return nil, err
	}
	out := make([]uint16, quantity)
	copy(out, m.holdingRegs[address:int(address)+int(quantity)])
	return out, nil
}

// ReadInputRegisters returns a copy of quantity input register values
// starting at address.
func (m *Mapping) ReadInputRegisters(address, quantity uint16) ([]uint16, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := validateMappingRange(address, quantity, len(m.inputRegs)); err != nil {
		return nil, err
	}
	out := make([]uint16, quantity)
	copy(out, m.inputRegs[address:int(address)+int(quantity)])
	return out, nil
}

// WriteCoil sets a single coil at address.
func (m *Mapping) WriteCoil(address uint16, value bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := validateMappingRange(address, 1, len(m.coils)); err != nil {
		return err
	}
	m.coils[address] = value
	return nil
}

// WriteCoils sets len(values) coils starting at address.
func (m *Mapping) WriteCoils(address uint16, values []bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	quantity := uint16(len(values))
	if err := validateMappingRange(address, quantity, len(m.coils)); err != nil {
		return err
	}
	copy(m.coils[address:int(address)+int(quantity)], values)
	return nil
}

// WriteHoldingRegister sets a single holding register at address.
func (m *Mapping) WriteHoldingRegister(address, value uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := validateMappingRange(address, 1, len(m.holdingRegs)); err != nil {
		return err
	}
	m.holdingRegs[address] = value
	return nil
}

// WriteHoldingRegisters sets len(values) holding registers starting at
// address.
func (m *Mapping) WriteHoldingRegisters(address uint16, values []uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	quantity := uint16(len(values))
	if err := validateMappingRange(address, quantity, len(m.holdingRegs)); err != nil {
		return err
	}
	copy(m.holdingRegs[address:int(address)+int(quantity)], values)
	return nil
}

// ExceptionStatus returns the eight exception status bits function code
// 0x07 (ReadExceptionStatus) reports.
func (m *Mapping) ExceptionStatus() byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.exceptionStatus
}

// SetExceptionStatus sets the byte function code 0x07 reports. The
// application, not Dispatch, decides what the eight bits mean.
func (m *Mapping) SetExceptionStatus(status byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exceptionStatus = status
}

// SlaveID returns a copy of the run-indicator-plus-identification bytes
// function code 0x11 (ReportSlaveID) reports. Nil/empty means the
// application hasn't configured one; Dispatch then reports a single zero
// byte as the identification payload.
func (m *Mapping) SlaveID() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]byte, len(m.slaveID))
	copy(out, m.slaveID)
	return out
}

// SetSlaveID sets the run indicator byte (conventionally 0xFF when the
// device is running, 0x00 otherwise) and the vendor-specific
// identification string function code 0x11 reports.
func (m *Mapping) SetSlaveID(runIndicatorOn byte, identification []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slaveID = append([]byte{runIndicatorOn}, identification...)
}
