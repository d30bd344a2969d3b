// Package emu provides functional RISC-V emulation.
package emu

import (
	"github.com/sarchlab/rvemu/fault"
	"github.com/sarchlab/rvemu/insts"
	"github.com/sarchlab/rvemu/mem"
)

// CPU executes RISC-V instructions against a register file and a guest
// address space. It is driven by the owning Machine; the syscall table
// is reached through a callback so CPU and Machine hold no cycle.
type CPU struct {
	regs    *RegFile
	memory  *mem.Memory
	decoder *insts.Decoder
	xlen    int

	counter uint64

	// LR/SC reservation, cleared by any intervening store or by SC.
	resValid bool
	resAddr  uint64

	// system dispatches a syscall number into the Machine's handler
	// table.
	system func(num uint64) error

	// noCache bypasses the decoder cache and decodes on every fetch.
	noCache bool

	// branched is set by handlers that assign PC themselves.
	branched bool
}

// NewCPU creates a CPU over the given register file and address space.
func NewCPU(regs *RegFile, memory *mem.Memory, decoder *insts.Decoder) *CPU {
	return &CPU{
		regs:    regs,
		memory:  memory,
		decoder: decoder,
		xlen:    decoder.XLEN(),
	}
}

// RegFile returns the CPU's register file.
func (c *CPU) RegFile() *RegFile {
	return c.regs
}

// InstructionCount returns the number of retired instructions.
func (c *CPU) InstructionCount() uint64 {
	return c.counter
}

// Reset zeroes the registers, clears the counter, and points PC at the
// program start address.
func (c *CPU) Reset() {
	c.regs.Reset()
	c.regs.PC = c.memory.StartAddress()
	c.counter = 0
	c.resValid = false
}

// Jump redirects execution to addr. The low bit is cleared per the
// JALR rule; RV32 targets are truncated to 32 bits.
func (c *CPU) Jump(addr uint64) {
	addr &^= 1
	if c.xlen == 32 {
		addr = uint64(uint32(addr))
	}
	c.regs.PC = addr
	c.branched = true
}

// Step fetches, decodes, and executes one instruction. On success the
// retired counter has increased by exactly one and PC points at the
// next instruction.
func (c *CPU) Step() error {
	pc := c.regs.PC

	word, err := c.memory.FetchWord(pc)
	if err != nil {
		return err
	}

	var op insts.Op
	if c.noCache {
		op = c.decoder.Decode(word)
	} else if dc := c.memory.DecoderCache(); dc != nil {
		if slot := dc.Get(pc); slot != 0 {
			op = mem.LookupOp(slot)
		} else {
			op = c.decoder.Decode(word)
			dc.Set(pc, op)
		}
	} else {
		op = c.decoder.Decode(word)
	}

	c.branched = false
	if err := c.execute(op, word); err != nil {
		return err
	}
	if !c.branched {
		c.regs.PC = pc + insts.Length(uint16(word))
	}
	c.counter++
	return nil
}

// execute dispatches a decoded instruction. The tag ranges follow the
// declaration blocks in the insts package.
func (c *CPU) execute(op insts.Op, word uint32) error {
	switch {
	case op == insts.OpInvalid:
		// Low-bit patterns 0bxx11111 announce the reserved 48-bit and
		// longer encodings, which the engine does not carry.
		if word&0x1F == 0x1F {
			return fault.New(fault.UnimplementedInstructionLength,
				"unimplemented instruction length", uint64(word))
		}
		return fault.New(fault.UnimplementedInstruction,
			"unimplemented instruction", uint64(word))
	case op >= insts.OpCADDI4SPN:
		return c.executeCompressed(op, uint16(word))
	case op >= insts.OpFLW:
		return c.executeFP(op, word)
	case op >= insts.OpLRW:
		return c.executeAtomic(op, word)
	default:
		return c.executeBase(op, word)
	}
}

// sext32 sign-extends a 32-bit value into the 64-bit register storage.
func sext32(v uint32) uint64 {
	return uint64(int64(int32(v)))
}

// writeInt writes an integer result, narrowing to the machine width.
// RV32 results are kept sign-extended so comparisons need no masking.
func (c *CPU) writeInt(rd uint8, v uint64) {
	if c.xlen == 32 {
		v = sext32(uint32(v))
	}
	c.regs.WriteReg(rd, v)
}

// shiftMask returns the mask applied to shift amounts.
func (c *CPU) shiftMask() uint64 {
	return uint64(c.xlen - 1)
}
