// Package emu provides functional RISC-V emulation.
package emu

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/sarchlab/rvemu/fault"
)

// snapshotMagic identifies a machine snapshot; the low byte carries the
// layout version.
const snapshotMagic uint32 = 0x52564D00 | 1

// SnapshotHeader is the fixed header of a serialized machine. Snapshots
// are portable across hosts of the same endianness.
type SnapshotHeader struct {
	Magic        uint32
	XLEN         uint32
	Counter      uint64
	PC           uint64
	StartAddress uint64
	StackAddress uint64
	ExitAddress  uint64
	NPages       uint32
}

// SerializeTo appends the full machine state to buf: the header, a dense
// register block, and every active page.
func (m *Machine) SerializeTo(buf *bytes.Buffer) error {
	var pages bytes.Buffer
	nPages := m.memory.SerializePages(&pages)

	header := SnapshotHeader{
		Magic:        snapshotMagic,
		XLEN:         uint32(m.xlen),
		Counter:      m.cpu.InstructionCount(),
		PC:           m.regs.PC,
		StartAddress: m.memory.StartAddress(),
		StackAddress: m.memory.StackInitial(),
		ExitAddress:  m.memory.ExitAddress(),
		NPages:       nPages,
	}
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("serializing header: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, m.regs.X); err != nil {
		return fmt.Errorf("serializing integer registers: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, m.regs.F); err != nil {
		return fmt.Errorf("serializing float registers: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, m.regs.FCSR); err != nil {
		return fmt.Errorf("serializing fcsr: %w", err)
	}
	buf.Write(pages.Bytes())
	return nil
}

// DeserializeFrom returns the machine to a previously serialized state.
// The snapshot must have been taken from a machine of the same XLEN.
func (m *Machine) DeserializeFrom(data []byte) error {
	r := bytes.NewReader(data)

	var header SnapshotHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("reading snapshot header: %w", err)
	}
	if header.Magic != snapshotMagic {
		return fault.New(fault.InvalidArgument,
			"bad snapshot magic", uint64(header.Magic))
	}
	if int(header.XLEN) != m.xlen {
		return fault.New(fault.InvalidArgument,
			"snapshot XLEN mismatch", uint64(header.XLEN))
	}

	if err := binary.Read(r, binary.LittleEndian, &m.regs.X); err != nil {
		return fmt.Errorf("reading integer registers: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &m.regs.F); err != nil {
		return fmt.Errorf("reading float registers: %w", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &m.regs.FCSR); err != nil {
		return fmt.Errorf("reading fcsr: %w", err)
	}

	if err := m.memory.DeserializePages(r, header.NPages); err != nil {
		return err
	}

	m.regs.PC = header.PC
	m.memory.SetStartAddress(header.StartAddress)
	m.memory.SetStackInitial(header.StackAddress)
	m.memory.SetExitAddress(header.ExitAddress)
	m.cpu.counter = header.Counter
	m.cpu.resValid = false
	m.stopped = false
	m.exited = false
	return nil
}
